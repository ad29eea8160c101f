package pgp

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	pgparmor "github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/msgcore/mrcore/internal/armor"
)

// SetupCode is a 9-group, 4-digit-per-group passphrase (e.g.
// "1234-5678-...-9012"), the human-typeable form Autocrypt Setup Messages
// are encrypted with. GenerateSetupCode draws each digit from crypto/rand.
func GenerateSetupCode() (string, error) {
	groups := make([]string, 9)
	for i := range groups {
		digits := make([]byte, 4)
		for j := range digits {
			n, err := rand.Int(rand.Reader, big.NewInt(10))
			if err != nil {
				return "", fmt.Errorf("pgp: generate setup code: %w", err)
			}
			digits[j] = byte('0') + byte(n.Int64())
		}
		groups[i] = string(digits)
	}
	return strings.Join(groups, "-"), nil
}

// setupCodeBytes strips the "-" separators so the code can be used directly
// as a symm_encrypt/symm_decrypt passphrase.
func setupCodeBytes(code string) []byte {
	return []byte(strings.ReplaceAll(code, "-", ""))
}

// ArmorKey renders k's binary transferable-key bytes as ASCII armor, using
// "PGP PUBLIC KEY BLOCK" or "PGP PRIVATE KEY BLOCK" per k.Kind.
func ArmorKey(k *Key) (string, error) {
	label := "PGP PUBLIC KEY BLOCK"
	if k.Kind == Private {
		label = "PGP PRIVATE KEY BLOCK"
	}
	return armorKeyBlock(k, label)
}

func armorKeyBlock(k *Key, label string) (string, error) {
	var buf bytes.Buffer
	w, err := pgparmor.Encode(&buf, label, nil)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(k.Bytes); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// MakeSetupMessage implements §6's Setup Message construction: armors
// privateKey's ASCII form, symmetrically encrypts it under code, and
// attaches the Passphrase-Begin header (the code's first two digits) so a
// receiving client can show the user which code to type without decrypting
// first.
func MakeSetupMessage(privateKey *Key, code string) ([]byte, error) {
	if privateKey.Kind != Private {
		return nil, ErrInvalidKey
	}
	armoredKey, err := armorKeyBlock(privateKey, "PGP PRIVATE KEY BLOCK")
	if err != nil {
		return nil, fmt.Errorf("pgp: make setup message: %w", err)
	}

	ctext, err := SymmEncrypt(setupCodeBytes(code), []byte(armoredKey))
	if err != nil {
		return nil, fmt.Errorf("pgp: make setup message: %w", err)
	}

	digits := strings.ReplaceAll(code, "-", "")
	passphraseBegin := digits
	if len(passphraseBegin) > 2 {
		passphraseBegin = passphraseBegin[:2]
	}

	out, err := insertArmorHeader(string(ctext), "Passphrase-Begin", passphraseBegin)
	if err != nil {
		return nil, fmt.Errorf("pgp: make setup message: %w", err)
	}
	return []byte(out), nil
}

// ReadSetupMessage reverses MakeSetupMessage: splits the outer armor,
// decrypts the body under code, and parses the recovered armored private
// key back into a Key.
func ReadSetupMessage(setupMessage []byte, code string) (*Key, error) {
	if _, err := armor.Split(string(setupMessage)); err != nil {
		return nil, fmt.Errorf("pgp: read setup message: %w", err)
	}
	plain, err := SymmDecrypt(setupCodeBytes(code), setupMessage)
	if err != nil {
		return nil, fmt.Errorf("pgp: read setup message: %w", err)
	}

	entities, err := ParseArmoredKey(string(plain))
	if err != nil {
		return nil, fmt.Errorf("pgp: read setup message: %w: %v", ErrInvalidKey, err)
	}
	if len(entities) == 0 {
		return nil, ErrInvalidKey
	}
	var buf bytes.Buffer
	if err := entities[0].SerializePrivate(&buf, nil); err != nil {
		return nil, fmt.Errorf("pgp: read setup message: %w", err)
	}
	return NewKey(Private, buf.Bytes())
}

// insertArmorHeader re-emits an armored block with an extra "Name: value"
// header line inserted right after the BEGIN line, matching the layout §6
// shows for Setup Messages (Passphrase-Begin before the blank line).
func insertArmorHeader(armored, name, value string) (string, error) {
	lines := strings.Split(strings.ReplaceAll(armored, "\r\n", "\n"), "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "-----BEGIN ") {
			header := fmt.Sprintf("%s: %s", name, value)
			out := append([]string{}, lines[:i+1]...)
			out = append(out, header)
			out = append(out, lines[i+1:]...)
			return strings.Join(out, "\r\n"), nil
		}
	}
	return "", armor.ErrNotParseable
}
