// Package pgp implements Component B (Key), Component C (Keyring) and
// Component D (the OpenPGP Engine). All operations are built on
// github.com/ProtonMail/go-crypto/openpgp; the engine never hand-rolls
// packet parsing.
package pgp

import (
	"errors"
	"time"

	"github.com/msgcore/mrcore/internal/model"
)

// Kind mirrors model.KeyKind so callers outside this package don't need to
// import it separately when talking to the engine.
type Kind = model.KeyKind

const (
	Public  = model.KeyPublic
	Private = model.KeyPrivate
)

// ErrInvalidKey is returned when a blob does not parse or its kind does not
// match the declared Kind (§7 InvalidKey).
var ErrInvalidKey = errors.New("pgp: invalid key")

// ErrCryptoFailure covers internal encrypt/decrypt/sign/verify failures
// (§7 CryptoFailure).
var ErrCryptoFailure = errors.New("pgp: crypto failure")

// Key is a binary OpenPGP key blob plus its declared kind (§4.B). Bytes is
// always the binary "transferable key" form, never armored.
type Key struct {
	Kind  Kind
	Bytes []byte
}

// NewKey validates blob against kind via IsValidKey before returning it
// (§4.B: "the constructor validates parseability... and fails otherwise").
func NewKey(kind Kind, blob []byte) (*Key, error) {
	k := &Key{Kind: kind, Bytes: blob}
	if !IsValidKey(k) {
		return nil, ErrInvalidKey
	}
	return k, nil
}

// Keyring is an ordered collection of Keys, all of the same Kind (§4.C).
// Duplicate fingerprints are permitted but discouraged.
type Keyring struct {
	kind Kind
	keys []*Key
}

// NewKeyring returns an empty Keyring of the given kind.
func NewKeyring(kind Kind) *Keyring {
	return &Keyring{kind: kind}
}

// Kind returns the kind shared by every key in the ring.
func (kr *Keyring) Kind() Kind { return kr.kind }

// Add appends k, failing if its kind disagrees with the ring's.
func (kr *Keyring) Add(k *Key) error {
	if k.Kind != kr.kind {
		return ErrInvalidKey
	}
	kr.keys = append(kr.keys, k)
	return nil
}

// Keys returns the keys in insertion order. The slice is owned by the
// caller; mutating it does not affect the ring.
func (kr *Keyring) Keys() []*Key {
	out := make([]*Key, len(kr.keys))
	copy(out, kr.keys)
	return out
}

// Len reports the number of keys in the ring.
func (kr *Keyring) Len() int { return len(kr.keys) }

// FindByKeyID returns the first key whose parsed key id (lower 8 bytes of
// the fingerprint) matches keyID.
func (kr *Keyring) FindByKeyID(keyID uint64) (*Key, bool) {
	for _, k := range kr.keys {
		id, err := KeyID(k)
		if err == nil && id == keyID {
			return k, true
		}
	}
	return nil, false
}

// FindByFingerprint returns the first key whose fingerprint equals fp
// (case-insensitive hex).
func (kr *Keyring) FindByFingerprint(fp string) (*Key, bool) {
	for _, k := range kr.keys {
		candidate, err := CalcFingerprintHex(k)
		if err == nil && equalFoldHex(candidate, fp) {
			return k, true
		}
	}
	return nil, false
}

func equalFoldHex(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if ca >= 'a' && ca <= 'z' {
			ca -= 'a' - 'A'
		}
		if cb >= 'a' && cb <= 'z' {
			cb -= 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// KeyInfo is descriptive metadata extracted from a Key, used by the store
// and by UI-facing code; it is never used inside the engine itself
// (§9: "parsed, validated representations" internally, "serialised blobs at
// the persistence boundary only").
type KeyInfo struct {
	Email        string
	KeyID        string // 16-hex short key id
	Fingerprint  string // 40-hex full fingerprint
	UserID       string
	Algorithm    string
	KeySize      int
	CreatedAtKey *time.Time
	ExpiresAtKey *time.Time
	IsExpired    bool
	HasPrivate   bool
}

// SenderKeyInfo describes a cached public key collected from a signed
// message or a WKD/HKP lookup — supplemental to spec.md, grounded on the
// teacher's sender-key cache (see DESIGN.md).
type SenderKeyInfo struct {
	ID          string
	Addr        string
	Fingerprint string
	Source      string // "message", "wkd", "hkp", "manual"
	CollectedAt time.Time
	LastSeenAt  time.Time
}
