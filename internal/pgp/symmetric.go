package pgp

import (
	"bytes"
	"crypto"
	"fmt"
	"io"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// s2kIterationCount is 65,536 iterations, which go-crypto's s2k encoder
// renders as the single iteration-count octet 96 required by §4.D.7.
const s2kIterationCount = 65536

// SymmEncrypt implements symm_encrypt (§4.D.7): produces a standalone
// Autocrypt Setup Message payload — a Tag 3 Symmetric-Key Encrypted Session
// Key packet (version 4, AES-128, iterated+salted S2K, SHA-256, 8-byte
// salt, iteration octet 96) followed by a Tag 18 SEIPD packet, armored.
// The zero-IV requirement of RFC 4880 §5.13 is satisfied by go-crypto's
// SEIPD writer, which never randomizes the IV for this packet type.
func SymmEncrypt(passphrase, plain []byte) ([]byte, error) {
	var out bytes.Buffer
	w, err := armor.Encode(&out, "PGP MESSAGE", nil)
	if err != nil {
		return nil, fmt.Errorf("pgp: symm_encrypt: %w", err)
	}

	cfg := &packet.Config{
		Rand:          Reader(),
		DefaultHash:   crypto.SHA256,
		DefaultCipher: packet.CipherAES128,
		S2KCount:      s2kIterationCount,
	}

	plaintextWriter, err := openpgp.SymmetricallyEncrypt(w, passphrase, nil, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgp: symm_encrypt: %w: %w", ErrCryptoFailure, err)
	}
	if _, err := plaintextWriter.Write(plain); err != nil {
		return nil, fmt.Errorf("pgp: symm_encrypt: %w: %w", ErrCryptoFailure, err)
	}
	if err := plaintextWriter.Close(); err != nil {
		return nil, fmt.Errorf("pgp: symm_encrypt: %w: %w", ErrCryptoFailure, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("pgp: symm_encrypt: %w: %w", ErrCryptoFailure, err)
	}
	return out.Bytes(), nil
}

// SymmDecrypt implements symm_decrypt (§4.D.8), tolerating either armored
// or binary input.
func SymmDecrypt(passphrase, ctext []byte) ([]byte, error) {
	body := io.Reader(bytes.NewReader(ctext))
	if block, err := armor.Decode(bytes.NewReader(ctext)); err == nil {
		body = block.Body
	}

	prompted := false
	prompt := func(keys []openpgp.Key, symmetric bool) ([]byte, error) {
		if prompted {
			return nil, ErrCryptoFailure
		}
		prompted = true
		return passphrase, nil
	}

	md, err := openpgp.ReadMessage(body, nil, prompt, nil)
	if err != nil {
		return nil, fmt.Errorf("pgp: symm_decrypt: %w", ErrCryptoFailure)
	}

	plain, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, fmt.Errorf("pgp: symm_decrypt: %w", ErrCryptoFailure)
	}
	return plain, nil
}
