package pgp

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/msgcore/mrcore/internal/model"
)

// IsValidKey reports whether k.Bytes parses and the parsed material matches
// k.Kind (§4.D.2). It never panics, even on adversarial input (invariant 7).
func IsValidKey(k *Key) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if k == nil || len(k.Bytes) == 0 {
		return false
	}
	entities, err := parseEntities(k.Bytes)
	if err != nil || len(entities) != 1 {
		return false
	}
	hasPrivate := entities[0].PrivateKey != nil
	if k.Kind == model.KeyPrivate {
		return hasPrivate
	}
	return !hasPrivate
}

// CalcFingerprint returns the 20-byte V4 fingerprint of k (§4.D.3).
func CalcFingerprint(k *Key) ([]byte, error) {
	entities, err := parseEntities(k.Bytes)
	if err != nil || len(entities) == 0 {
		return nil, ErrInvalidKey
	}
	fp := entities[0].PrimaryKey.Fingerprint
	out := make([]byte, len(fp))
	copy(out, fp)
	return out, nil
}

// CalcFingerprintHex is CalcFingerprint rendered as uppercase hex.
func CalcFingerprintHex(k *Key) (string, error) {
	fp, err := CalcFingerprint(k)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%X", fp), nil
}

// KeyID returns the lower 8 bytes of the fingerprint as a uint64, used by
// Keyring.FindByKeyID.
func KeyID(k *Key) (uint64, error) {
	entities, err := parseEntities(k.Bytes)
	if err != nil || len(entities) == 0 {
		return 0, ErrInvalidKey
	}
	return entities[0].PrimaryKey.KeyId, nil
}

// SplitKey extracts the public transferable key from a private key blob
// (§4.D.4).
func SplitKey(priv *Key) (*Key, error) {
	if priv == nil || priv.Kind != model.KeyPrivate {
		return nil, ErrInvalidKey
	}
	entities, err := parseEntities(priv.Bytes)
	if err != nil || len(entities) == 0 {
		return nil, ErrInvalidKey
	}
	if entities[0].PrivateKey == nil {
		return nil, ErrInvalidKey
	}

	var buf bytes.Buffer
	if err := entities[0].Serialize(&buf); err != nil {
		return nil, fmt.Errorf("pgp: split_key: %w", err)
	}
	return &Key{Kind: model.KeyPublic, Bytes: buf.Bytes()}, nil
}

// PKEncrypt implements pk_encrypt (§4.D.5): hybrid-encrypts plain to every
// key in recipients, optionally signing with signer first. The payload is
// SEIPD (Tag 18) with MDC, PKESK (Tag 1) per recipient, never Tag 9.
func PKEncrypt(plain []byte, recipients *Keyring, signer *Key, armorOut bool) ([]byte, error) {
	if recipients == nil || recipients.Kind() != model.KeyPublic || recipients.Len() == 0 {
		return nil, ErrInvalidKey
	}

	var recipientEntities openpgp.EntityList
	for _, k := range recipients.Keys() {
		ents, err := parseEntities(k.Bytes)
		if err != nil || len(ents) == 0 {
			return nil, ErrInvalidKey
		}
		recipientEntities = append(recipientEntities, ents[0])
	}

	var signerEntity *openpgp.Entity
	if signer != nil {
		if signer.Kind != model.KeyPrivate {
			return nil, ErrInvalidKey
		}
		ents, err := parseEntities(signer.Bytes)
		if err != nil || len(ents) == 0 || ents[0].PrivateKey == nil {
			return nil, ErrInvalidKey
		}
		signerEntity = ents[0]
	}

	var out bytes.Buffer
	dest := io.Writer(&out)
	var armorCloser io.WriteCloser
	if armorOut {
		w, err := armor.Encode(&out, "PGP MESSAGE", nil)
		if err != nil {
			return nil, fmt.Errorf("pgp: pk_encrypt: %w", err)
		}
		armorCloser = w
		dest = w
	}

	cfg := &packet.Config{
		Rand:          Reader(),
		DefaultCipher: packet.CipherAES256,
	}

	plaintextWriter, err := openpgp.Encrypt(dest, recipientEntities, signerEntity, nil, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgp: pk_encrypt: %w: %w", ErrCryptoFailure, err)
	}
	if _, err := plaintextWriter.Write(plain); err != nil {
		return nil, fmt.Errorf("pgp: pk_encrypt: %w: %w", ErrCryptoFailure, err)
	}
	if err := plaintextWriter.Close(); err != nil {
		return nil, fmt.Errorf("pgp: pk_encrypt: %w: %w", ErrCryptoFailure, err)
	}
	if armorCloser != nil {
		if err := armorCloser.Close(); err != nil {
			return nil, fmt.Errorf("pgp: pk_encrypt: %w: %w", ErrCryptoFailure, err)
		}
	}
	return out.Bytes(), nil
}

// PKDecrypt implements pk_decrypt (§4.D.6). Unknown-signer or bad
// signatures are not errors; they simply do not contribute a fingerprint
// to validFingerprints.
func PKDecrypt(ctext []byte, keys *Keyring, validators *Keyring, armorIn bool) (plain []byte, validFingerprints []string, err error) {
	if keys == nil || keys.Kind() != model.KeyPrivate || keys.Len() == 0 {
		return nil, nil, ErrInvalidKey
	}

	var ring openpgp.EntityList
	for _, k := range keys.Keys() {
		ents, perr := parseEntities(k.Bytes)
		if perr != nil || len(ents) == 0 {
			continue
		}
		ring = append(ring, ents...)
	}
	if len(ring) == 0 {
		return nil, nil, ErrInvalidKey
	}
	if validators != nil {
		for _, k := range validators.Keys() {
			ents, perr := parseEntities(k.Bytes)
			if perr == nil {
				ring = append(ring, ents...)
			}
		}
	}

	r := io.Reader(bytes.NewReader(ctext))
	if armorIn {
		block, aerr := armor.Decode(bytes.NewReader(ctext))
		if aerr != nil {
			return nil, nil, fmt.Errorf("pgp: pk_decrypt: %w", ErrCryptoFailure)
		}
		r = block.Body
	}

	md, derr := openpgp.ReadMessage(r, ring, nil, nil)
	if derr != nil {
		return nil, nil, fmt.Errorf("pgp: pk_decrypt: %w", ErrCryptoFailure)
	}

	plain, err = io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, nil, fmt.Errorf("pgp: pk_decrypt: %w", ErrCryptoFailure)
	}

	// SignatureError is only populated once UnverifiedBody has been fully
	// drained, so this check must come after the ReadAll above.
	if md.IsSigned && md.SignatureError == nil && md.SignedBy != nil {
		validFingerprints = append(validFingerprints, fmt.Sprintf("%X", md.SignedBy.PublicKey.Fingerprint))
	}
	return plain, validFingerprints, nil
}
