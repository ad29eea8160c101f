package pgp

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/msgcore/mrcore/internal/logging"
	"github.com/msgcore/mrcore/internal/model"
	"github.com/rs/zerolog"
)

// KeyStore persists the local account's own keypair and a cache of sender
// public keys collected from signed messages or directory lookups. It is
// the persistence boundary named in §9: "store serialised blobs... only".
type KeyStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewKeyStore wraps db for PGP key persistence.
func NewKeyStore(db *sql.DB) *KeyStore {
	return &KeyStore{db: db, log: logging.WithComponent("pgp.store")}
}

// SaveOwnKey stores the local keypair for addr, keyed by fingerprint: saving
// the same key again updates its row, while a newly generated keypair (new
// fingerprint) is added as a further row.
func (s *KeyStore) SaveOwnKey(addr string, public, private *Key) error {
	fp, err := CalcFingerprintHex(public)
	if err != nil {
		return fmt.Errorf("pgp store: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO pgp_keys (id, addr, fingerprint, public_blob, private_blob)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			addr = excluded.addr,
			public_blob = excluded.public_blob,
			private_blob = excluded.private_blob`,
		uuid.New().String(), addr, fp, public.Bytes, private.Bytes,
	)
	if err != nil {
		return fmt.Errorf("pgp store: save own key: %w", err)
	}
	return nil
}

// LoadOwnKeypair returns the most recently stored keypair for addr.
func (s *KeyStore) LoadOwnKeypair(addr string) (public, private *Key, err error) {
	var pubBlob, privBlob []byte
	err = s.db.QueryRow(`
		SELECT public_blob, private_blob FROM pgp_keys
		WHERE addr = ? ORDER BY created_at DESC LIMIT 1`, addr,
	).Scan(&pubBlob, &privBlob)
	if err != nil {
		return nil, nil, fmt.Errorf("pgp store: load own keypair: %w", err)
	}
	return &Key{Kind: model.KeyPublic, Bytes: pubBlob}, &Key{Kind: model.KeyPrivate, Bytes: privBlob}, nil
}

// CacheSenderKey records or refreshes a public key observed for addr,
// supplemental to spec.md (see DESIGN.md, Component B/C/D).
func (s *KeyStore) CacheSenderKey(addr string, public *Key, source string) error {
	if public.Kind != model.KeyPublic {
		return ErrInvalidKey
	}
	fp, err := CalcFingerprintHex(public)
	if err != nil {
		return fmt.Errorf("pgp store: %w", err)
	}

	now := time.Now()
	_, err = s.db.Exec(`
		INSERT INTO pgp_sender_keys (id, addr, fingerprint, public_blob, source, collected_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			last_seen_at = excluded.last_seen_at`,
		uuid.New().String(), addr, fp, public.Bytes, source, now, now,
	)
	if err != nil {
		return fmt.Errorf("pgp store: cache sender key: %w", err)
	}
	return nil
}

// SenderKeys returns a Keyring of every cached public key for addr, most
// recently seen first.
func (s *KeyStore) SenderKeys(addr string) (*Keyring, error) {
	rows, err := s.db.Query(`
		SELECT public_blob FROM pgp_sender_keys
		WHERE addr = ? ORDER BY last_seen_at DESC`, addr,
	)
	if err != nil {
		return nil, fmt.Errorf("pgp store: sender keys: %w", err)
	}
	defer rows.Close()

	kr := NewKeyring(model.KeyPublic)
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("pgp store: sender keys: %w", err)
		}
		if err := kr.Add(&Key{Kind: model.KeyPublic, Bytes: blob}); err != nil {
			s.log.Warn().Err(err).Str("addr", addr).Msg("skipping malformed cached sender key")
		}
	}
	return kr, rows.Err()
}

// ListSenderKeys returns metadata for every cached sender key, newest first.
func (s *KeyStore) ListSenderKeys() ([]*SenderKeyInfo, error) {
	rows, err := s.db.Query(`
		SELECT id, addr, fingerprint, source, collected_at, last_seen_at
		FROM pgp_sender_keys ORDER BY last_seen_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("pgp store: list sender keys: %w", err)
	}
	defer rows.Close()

	var out []*SenderKeyInfo
	for rows.Next() {
		info := &SenderKeyInfo{}
		if err := rows.Scan(&info.ID, &info.Addr, &info.Fingerprint, &info.Source, &info.CollectedAt, &info.LastSeenAt); err != nil {
			return nil, fmt.Errorf("pgp store: list sender keys: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// DeleteSenderKey removes a cached sender key by id.
func (s *KeyStore) DeleteSenderKey(id string) error {
	_, err := s.db.Exec("DELETE FROM pgp_sender_keys WHERE id = ?", id)
	return err
}
