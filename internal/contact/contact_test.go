package contact

import (
	"testing"

	"github.com/msgcore/mrcore/internal/dbx"
	"github.com/msgcore/mrcore/internal/event"
	"github.com/msgcore/mrcore/internal/model"
	"github.com/msgcore/mrcore/internal/store"
)

func newTestTx(t *testing.T) store.Tx {
	t.Helper()
	db, err := dbx.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s := store.NewSQLiteStore(db, event.NewDispatcher(nil))
	tx, err := s.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	t.Cleanup(func() { tx.Rollback() })
	return tx
}

func TestResolve_SkipsSelf(t *testing.T) {
	tx := newTestTx(t)

	r, err := Resolve(tx, "Me <me@example.com>, Bob <bob@example.com>", "me@example.com", model.OriginIncomingTo)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !r.SawSelf {
		t.Error("expected SawSelf to be true")
	}
	if len(r.ContactIDs) != 1 {
		t.Fatalf("expected 1 contact id, got %d", len(r.ContactIDs))
	}
}

func TestResolve_DedupesRepeatedAddress(t *testing.T) {
	tx := newTestTx(t)

	r, err := Resolve(tx, "Bob <bob@example.com>, Bob Again <BOB@EXAMPLE.COM>", "", model.OriginIncomingCc)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(r.ContactIDs) != 1 {
		t.Fatalf("expected dedup to 1 contact id, got %d", len(r.ContactIDs))
	}
}

func TestResolve_EmptyHeader(t *testing.T) {
	tx := newTestTx(t)
	r, err := Resolve(tx, "", "me@example.com", model.OriginIncomingTo)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if r.SawSelf || len(r.ContactIDs) != 0 {
		t.Errorf("expected empty result, got %+v", r)
	}
}

func TestResolveSingle_ReturnsSelfSentinel(t *testing.T) {
	tx := newTestTx(t)
	id, isSelf, err := ResolveSingle(tx, "Me <me@example.com>", "me@example.com", model.OriginIncomingUnknownFrom)
	if err != nil {
		t.Fatalf("resolve single: %v", err)
	}
	if !isSelf || id != model.ContactIDSelf {
		t.Errorf("expected self sentinel, got id=%d isSelf=%v", id, isSelf)
	}
}

func TestResolve_OriginNeverDowngrades(t *testing.T) {
	tx := newTestTx(t)

	r1, err := Resolve(tx, "Bob <bob@example.com>", "", model.OriginAddressBook)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	r2, err := Resolve(tx, "Bob <bob@example.com>", "", model.OriginIncomingUnknownFrom)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if r1.ContactIDs[0] != r2.ContactIDs[0] {
		t.Fatalf("expected same contact id across resolves")
	}
	c, err := tx.GetContact(r2.ContactIDs[0])
	if err != nil {
		t.Fatalf("get contact: %v", err)
	}
	if c.Origin != model.OriginAddressBook {
		t.Errorf("origin regressed to %v after lower-origin resolve", c.Origin)
	}
}
