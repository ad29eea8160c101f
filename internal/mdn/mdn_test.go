package mdn

import (
	"testing"

	"github.com/msgcore/mrcore/internal/dbx"
	"github.com/msgcore/mrcore/internal/event"
	"github.com/msgcore/mrcore/internal/model"
	"github.com/msgcore/mrcore/internal/store"
)

func TestIsReport(t *testing.T) {
	if !IsReport(`multipart/report; report-type=disposition-notification; boundary=xyz`) {
		t.Error("expected disposition-notification report to be recognized")
	}
	if IsReport(`multipart/mixed; boundary=xyz`) {
		t.Error("expected non-report content type to be rejected")
	}
	if IsReport(`not a content type at all`) {
		t.Error("expected malformed content type to be rejected")
	}
}

func TestParse_ValidReport(t *testing.T) {
	human := []byte("This is a read receipt.\r\n")
	inner := []byte("Reporting-UA: example.com\r\nDisposition: manual-action/MDN-sent-manually; displayed\r\nOriginal-Message-ID: <abc123@x>\r\n\r\n")

	rep, err := Parse([][]byte{human, inner})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rep.OriginalMessageID != "abc123@x" {
		t.Errorf("OriginalMessageID = %q, want abc123@x", rep.OriginalMessageID)
	}
	if rep.Disposition == "" {
		t.Error("expected non-empty disposition")
	}
}

func TestParse_MissingSubpartsIsIgnored(t *testing.T) {
	_, err := Parse([][]byte{[]byte("only one part")})
	if err != ErrNotAnMDN {
		t.Fatalf("expected ErrNotAnMDN, got %v", err)
	}
}

func TestParse_MalformedInnerPartIsIgnored(t *testing.T) {
	_, err := Parse([][]byte{[]byte("human readable"), []byte("Disposition: x\r\n\r\n")})
	if err != ErrNotAnMDN {
		t.Fatalf("expected ErrNotAnMDN for missing Original-Message-ID, got %v", err)
	}
}

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

func TestHandle_MarksSentMessageReadAndQueuesEvent(t *testing.T) {
	tx := newTestTx(t)
	chat, err := tx.CreateGroupChat("Friends", "abcd1234")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if _, err := tx.InsertMessage(&model.Message{
		Rfc724Mid: "sent1@x",
		ChatID:    chat.ID,
		FromID:    model.ContactIDSelf,
		Timestamp: 1000,
		State:     model.StateOutDelivered,
	}); err != nil {
		t.Fatalf("insert message: %v", err)
	}

	if err := Handle(tx, Report{OriginalMessageID: "sent1@x", Disposition: "displayed"}, true); err != nil {
		t.Fatalf("handle: %v", err)
	}

	m, found, err := tx.GetMessageByRfc724Mid("sent1@x")
	if err != nil || !found {
		t.Fatalf("get message: found=%v err=%v", found, err)
	}
	if m.State != model.StateOutRead {
		t.Errorf("state = %v, want OUT_READ", m.State)
	}
}

func TestHandle_IgnoresMessageNotSentBySelf(t *testing.T) {
	tx := newTestTx(t)
	bobID, err := tx.UpsertContact("bob@x", "Bob", model.OriginIncomingUnknownFrom)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	chat, err := tx.FindOrCreateSingleChat(bobID)
	if err != nil {
		t.Fatalf("find or create chat: %v", err)
	}
	if _, err := tx.InsertMessage(&model.Message{
		Rfc724Mid: "fromBob@x",
		ChatID:    chat.ID,
		FromID:    bobID,
		Timestamp: 1000,
		State:     model.StateInFresh,
	}); err != nil {
		t.Fatalf("insert message: %v", err)
	}

	if err := Handle(tx, Report{OriginalMessageID: "fromBob@x", Disposition: "displayed"}, true); err != nil {
		t.Fatalf("handle: %v", err)
	}

	m, _, err := tx.GetMessageByRfc724Mid("fromBob@x")
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if m.State != model.StateInFresh {
		t.Errorf("state changed for message not sent by self: %v", m.State)
	}
}

func TestHandle_DisabledIsNoop(t *testing.T) {
	tx := newTestTx(t)
	if _, err := tx.InsertMessage(&model.Message{
		Rfc724Mid: "x1@x", ChatID: model.ChatIDDeaddrop, FromID: model.ContactIDSelf, Timestamp: 1, State: model.StateOutDelivered,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := Handle(tx, Report{OriginalMessageID: "x1@x"}, false); err != nil {
		t.Fatalf("handle: %v", err)
	}
	m, _, _ := tx.GetMessageByRfc724Mid("x1@x")
	if m.State != model.StateOutDelivered {
		t.Error("expected no change when mdnsEnabled is false")
	}
}
