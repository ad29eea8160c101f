package store

import (
	"testing"

	"github.com/msgcore/mrcore/internal/dbx"
	"github.com/msgcore/mrcore/internal/event"
	"github.com/msgcore/mrcore/internal/model"
)

func newTestStore(t *testing.T) (*SQLiteStore, *[]event.Event) {
	t.Helper()
	db, err := dbx.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	var fired []event.Event
	disp := event.NewDispatcher(func(e event.Event) { fired = append(fired, e) })
	return NewSQLiteStore(db, disp), &fired
}

func TestUpsertContact_OriginRaisesToMax(t *testing.T) {
	s, _ := newTestStore(t)

	tx, err := s.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	id, err := tx.UpsertContact("alice@example.com", "Alice", model.OriginIncomingUnknownFrom)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	id2, err := tx.UpsertContact("alice@example.com", "Alice A", model.OriginAddressBook)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if id != id2 {
		t.Fatalf("expected same contact id, got %d and %d", id, id2)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx2, _ := s.Begin()
	c, err := tx2.GetContact(id)
	if err != nil {
		t.Fatalf("get contact: %v", err)
	}
	if c.Origin != model.OriginAddressBook {
		t.Errorf("origin = %v, want %v", c.Origin, model.OriginAddressBook)
	}
	if c.Name != "Alice A" {
		t.Errorf("name = %q, want %q (origin rose)", c.Name, "Alice A")
	}
	tx2.Rollback()

	// A lower-origin update afterwards must not downgrade the stored origin.
	tx3, _ := s.Begin()
	if _, err := tx3.UpsertContact("alice@example.com", "Ignored", model.OriginIncomingCc); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	tx3.Commit()

	tx4, _ := s.Begin()
	c2, _ := tx4.GetContact(id)
	if c2.Origin != model.OriginAddressBook {
		t.Errorf("origin regressed to %v", c2.Origin)
	}
	if c2.Name != "Alice A" {
		t.Errorf("name changed on lower-origin update: %q", c2.Name)
	}
	tx4.Rollback()
}

func TestCommit_FlushesEventsInOrder(t *testing.T) {
	s, fired := newTestStore(t)

	tx, _ := s.Begin()
	tx.EnqueueEvent(event.Event{Kind: event.IncomingMsg, ChatID: 5, MsgID: 1})
	tx.EnqueueEvent(event.Event{Kind: event.MsgsChanged, ChatID: 5})
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if len(*fired) != 2 {
		t.Fatalf("got %d fired events, want 2", len(*fired))
	}
	if (*fired)[0].Kind != event.IncomingMsg || (*fired)[1].Kind != event.MsgsChanged {
		t.Errorf("unexpected order: %+v", *fired)
	}
}

func TestRollback_DiscardsEventsAndWrites(t *testing.T) {
	s, fired := newTestStore(t)

	tx, _ := s.Begin()
	if _, err := tx.UpsertContact("bob@example.com", "Bob", model.OriginIncomingTo); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	tx.EnqueueEvent(event.Event{Kind: event.IncomingMsg})
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	if len(*fired) != 0 {
		t.Fatalf("rollback must not fire events, got %+v", *fired)
	}

	tx2, _ := s.Begin()
	known, err := tx2.IsKnownContact("bob@example.com")
	if err != nil {
		t.Fatalf("is known: %v", err)
	}
	if known {
		t.Error("rolled-back contact insert should not be visible")
	}
	tx2.Rollback()
}

func TestRfc724MidExists_DedupAcrossCommits(t *testing.T) {
	s, _ := newTestStore(t)

	tx, _ := s.Begin()
	cid, _ := tx.UpsertContact("carol@example.com", "Carol", model.OriginIncomingTo)
	chat, err := tx.FindOrCreateSingleChat(cid)
	if err != nil {
		t.Fatalf("find or create chat: %v", err)
	}
	_, err = tx.InsertMessage(&model.Message{
		Rfc724Mid: "abc@example.com",
		ChatID:    chat.ID,
		FromID:    cid,
		Timestamp: 1000,
		State:     model.StateInFresh,
	})
	if err != nil {
		t.Fatalf("insert message: %v", err)
	}
	tx.Commit()

	tx2, _ := s.Begin()
	exists, err := tx2.Rfc724MidExists("abc@example.com")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !exists {
		t.Error("expected rfc724_mid to be found after commit")
	}
	notExists, _ := tx2.Rfc724MidExists("never-seen@example.com")
	if notExists {
		t.Error("unseen rfc724_mid reported as existing")
	}
	tx2.Rollback()
}

func TestGroupMembershipAndLeftGroups(t *testing.T) {
	s, _ := newTestStore(t)

	tx, _ := s.Begin()
	cid, _ := tx.UpsertContact("dave@example.com", "Dave", model.OriginIncomingTo)
	chat, err := tx.CreateGroupChat("Friends", "grpid001")
	if err != nil {
		t.Fatalf("create group chat: %v", err)
	}
	if err := tx.AddMember(chat.ID, cid); err != nil {
		t.Fatalf("add member: %v", err)
	}
	in, err := tx.IsContactInChat(chat.ID, cid)
	if err != nil || !in {
		t.Fatalf("expected contact in chat, in=%v err=%v", in, err)
	}
	if err := tx.RemoveMember(chat.ID, cid); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	in2, _ := tx.IsContactInChat(chat.ID, cid)
	if in2 {
		t.Error("contact still reported in chat after removal")
	}

	if err := tx.MarkGroupLeft("grpid001"); err != nil {
		t.Fatalf("mark left: %v", err)
	}
	left, err := tx.IsGroupLeft("grpid001")
	if err != nil || !left {
		t.Fatalf("expected group left, left=%v err=%v", left, err)
	}
	if err := tx.MarkGroupRejoined("grpid001"); err != nil {
		t.Fatalf("mark rejoined: %v", err)
	}
	left2, _ := tx.IsGroupLeft("grpid001")
	if left2 {
		t.Error("group still marked left after rejoin")
	}
	tx.Commit()
}

func TestConfigGetSet(t *testing.T) {
	s, _ := newTestStore(t)

	tx, _ := s.Begin()
	if _, ok, err := tx.GetConfig("missing"); err != nil || ok {
		t.Fatalf("expected missing config unset, ok=%v err=%v", ok, err)
	}
	if err := tx.SetConfig(model.ConfigDisplayname, "Eve"); err != nil {
		t.Fatalf("set config: %v", err)
	}
	if err := tx.SetConfigInt("retry_count", 3); err != nil {
		t.Fatalf("set config int: %v", err)
	}
	tx.Commit()

	tx2, _ := s.Begin()
	v, ok, err := tx2.GetConfig(model.ConfigDisplayname)
	if err != nil || !ok || v != "Eve" {
		t.Fatalf("got %q, %v, %v", v, ok, err)
	}
	n, ok, err := tx2.GetConfigInt("retry_count")
	if err != nil || !ok || n != 3 {
		t.Fatalf("got %d, %v, %v", n, ok, err)
	}
	tx2.Rollback()
}
