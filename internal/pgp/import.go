package pgp

import (
	"bytes"
	"fmt"

	"github.com/msgcore/mrcore/internal/model"
)

// ImportKey parses a PGP key from raw data (armored or binary), decrypting
// the private material if it is passphrase-protected. Returns the engine
// Key plus descriptive metadata.
func ImportKey(data []byte, passphrase string) (key *Key, info *KeyInfo, err error) {
	entities, err := ParseKeyAuto(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse key: %w", err)
	}
	if len(entities) == 0 {
		return nil, nil, fmt.Errorf("no keys found in data")
	}
	entity := entities[0]

	if entity.PrivateKey != nil && entity.PrivateKey.Encrypted {
		if passphrase == "" {
			return nil, nil, fmt.Errorf("private key is encrypted, passphrase required")
		}
		if err := entity.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
			return nil, nil, fmt.Errorf("failed to decrypt private key: %w", err)
		}
		for _, subkey := range entity.Subkeys {
			if subkey.PrivateKey != nil && subkey.PrivateKey.Encrypted {
				if err := subkey.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
					return nil, nil, fmt.Errorf("failed to decrypt subkey: %w", err)
				}
			}
		}
	}

	info = ExtractKeyMetadata(entity)

	var buf bytes.Buffer
	if entity.PrivateKey != nil {
		if err := entity.SerializePrivate(&buf, nil); err != nil {
			return nil, nil, fmt.Errorf("failed to serialize key: %w", err)
		}
		return &Key{Kind: model.KeyPrivate, Bytes: buf.Bytes()}, info, nil
	}
	if err := entity.Serialize(&buf); err != nil {
		return nil, nil, fmt.Errorf("failed to serialize key: %w", err)
	}
	return &Key{Kind: model.KeyPublic, Bytes: buf.Bytes()}, info, nil
}

// ImportPublicKey parses a public-only PGP key from raw data.
func ImportPublicKey(data []byte) (key *Key, info *KeyInfo, err error) {
	entities, err := ParseKeyAuto(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse key: %w", err)
	}
	if len(entities) == 0 {
		return nil, nil, fmt.Errorf("no keys found in data")
	}
	entity := entities[0]
	info = ExtractKeyMetadata(entity)

	var buf bytes.Buffer
	if err := entity.Serialize(&buf); err != nil {
		return nil, nil, fmt.Errorf("failed to serialize public key: %w", err)
	}
	return &Key{Kind: model.KeyPublic, Bytes: buf.Bytes()}, info, nil
}
