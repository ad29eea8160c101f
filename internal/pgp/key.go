package pgp

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// ParseArmoredKey parses an ASCII-armored PGP key (public or private).
func ParseArmoredKey(armored string) (openpgp.EntityList, error) {
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armored))
	if err != nil {
		return nil, fmt.Errorf("failed to parse armored key: %w", err)
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("no keys found in armored data")
	}
	return entities, nil
}

// ParseBinaryKey parses a binary (non-armored) PGP key.
func ParseBinaryKey(data []byte) (openpgp.EntityList, error) {
	entities, err := openpgp.ReadKeyRing(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse binary key: %w", err)
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("no keys found in binary data")
	}
	return entities, nil
}

// ParseKeyAuto auto-detects format and parses a PGP key from raw bytes.
func ParseKeyAuto(data []byte) (openpgp.EntityList, error) {
	entities, err := ParseArmoredKey(string(data))
	if err == nil {
		return entities, nil
	}
	return ParseBinaryKey(data)
}

// parseEntities is the shared entry point the engine uses for Key.Bytes,
// which are always binary (§4.B), never armored.
func parseEntities(blob []byte) (entities openpgp.EntityList, err error) {
	defer func() {
		if r := recover(); r != nil {
			entities, err = nil, fmt.Errorf("pgp: malformed key data: %v", r)
		}
	}()
	return ParseBinaryKey(blob)
}

// ExtractKeyMetadata extracts metadata from a PGP entity into a KeyInfo.
func ExtractKeyMetadata(entity *openpgp.Entity) *KeyInfo {
	pk := entity.PrimaryKey

	info := &KeyInfo{
		KeyID:       fmt.Sprintf("%016X", pk.KeyId),
		Fingerprint: fmt.Sprintf("%X", pk.Fingerprint),
		Algorithm:   algorithmName(pk.PubKeyAlgo),
		KeySize:     keyBitLength(pk),
	}

	createdAt := pk.CreationTime
	info.CreatedAtKey = &createdAt

	for _, ident := range entity.Identities {
		info.UserID = ident.Name
		if ident.UserId != nil && ident.UserId.Email != "" {
			info.Email = ident.UserId.Email
		}
		if ident.SelfSignature != nil && ident.SelfSignature.KeyLifetimeSecs != nil && *ident.SelfSignature.KeyLifetimeSecs > 0 {
			expiry := pk.CreationTime.Add(time.Duration(*ident.SelfSignature.KeyLifetimeSecs) * time.Second)
			info.ExpiresAtKey = &expiry
		}
		break
	}

	info.IsExpired = IsKeyExpired(entity)
	info.HasPrivate = entity.PrivateKey != nil

	return info
}

// KeyFingerprint returns the hex fingerprint of a PGP entity.
func KeyFingerprint(entity *openpgp.Entity) string {
	return fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint)
}

// ExtractEmailFromKey extracts the email address from the first identity.
func ExtractEmailFromKey(entity *openpgp.Entity) string {
	for _, ident := range entity.Identities {
		if ident.UserId != nil && ident.UserId.Email != "" {
			return ident.UserId.Email
		}
	}
	return ""
}

// IsKeyExpired checks if a PGP entity's primary key is expired. A
// KeyLifetimeSecs of 0 means "never expires" (§4.D.1).
func IsKeyExpired(entity *openpgp.Entity) bool {
	now := time.Now()
	for _, ident := range entity.Identities {
		if ident.SelfSignature != nil && ident.SelfSignature.KeyLifetimeSecs != nil && *ident.SelfSignature.KeyLifetimeSecs > 0 {
			expiry := entity.PrimaryKey.CreationTime.Add(
				time.Duration(*ident.SelfSignature.KeyLifetimeSecs) * time.Second,
			)
			if now.After(expiry) {
				return true
			}
		}
		break
	}
	return false
}

func algorithmName(algo packet.PublicKeyAlgorithm) string {
	switch algo {
	case packet.PubKeyAlgoRSA, packet.PubKeyAlgoRSASignOnly, packet.PubKeyAlgoRSAEncryptOnly:
		return "RSA"
	case packet.PubKeyAlgoDSA:
		return "DSA"
	case packet.PubKeyAlgoElGamal:
		return "ElGamal"
	case packet.PubKeyAlgoECDSA:
		return "ECDSA"
	case packet.PubKeyAlgoEdDSA:
		return "EdDSA"
	case packet.PubKeyAlgoECDH:
		return "ECDH"
	default:
		return fmt.Sprintf("Unknown(%d)", algo)
	}
}

func keyBitLength(pk *packet.PublicKey) int {
	bitLen, err := pk.BitLength()
	if err != nil {
		return 0
	}
	return int(bitLen)
}

// ArmorPublicKey exports a PGP entity's public key as ASCII-armored text.
func ArmorPublicKey(entity *openpgp.Entity) (string, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, "PGP PUBLIC KEY BLOCK", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create armor writer: %w", err)
	}
	if err := entity.Serialize(w); err != nil {
		return "", fmt.Errorf("failed to serialize public key: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close armor writer: %w", err)
	}
	return buf.String(), nil
}

// ArmorPrivateKey exports a PGP entity's private key as ASCII-armored text.
func ArmorPrivateKey(entity *openpgp.Entity) (string, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, "PGP PRIVATE KEY BLOCK", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create armor writer: %w", err)
	}
	if err := entity.SerializePrivate(w, nil); err != nil {
		return "", fmt.Errorf("failed to serialize private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close armor writer: %w", err)
	}
	return buf.String(), nil
}
