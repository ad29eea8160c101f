package groupchat

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

func TestExtractGrpid_PriorityOrder(t *testing.T) {
	h := Headers{
		GroupID:   "",
		MessageID: "Gr.aaaaaaaa.xyz@host",
		InReplyTo: "Gr.bbbbbbbb.xyz@host",
	}
	g, ok := ExtractGrpid(h)
	if !ok || g != "aaaaaaaa" {
		t.Fatalf("expected aaaaaaaa from Message-ID, got %q ok=%v", g, ok)
	}

	h2 := Headers{GroupID: "ccccccccc"} // 9 chars, invalid length
	h2.MessageID = "Gr.dddddddd.xyz@host"
	g2, ok2 := ExtractGrpid(h2)
	if !ok2 || g2 != "dddddddd" {
		t.Fatalf("expected fallback to Message-ID for invalid GroupID, got %q ok=%v", g2, ok2)
	}

	h3 := Headers{GroupID: "abcd1234"}
	g3, ok3 := ExtractGrpid(h3)
	if !ok3 || g3 != "abcd1234" {
		t.Fatalf("expected explicit GroupID header to win, got %q ok=%v", g3, ok3)
	}
}

func TestResolve_CreatesChatOnGroupNameHeader(t *testing.T) {
	tx := newTestTx(t)
	fromID, err := tx.UpsertContact("bob@example.com", "Bob", model.OriginIncomingUnknownFrom)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	h := Headers{
		GroupID:        "abcd1234",
		GroupName:      "Friends",
		FromContactID:  fromID,
		IsMessenger:    true,
		ToCcContactIDs: []uint32{fromID},
	}
	res, err := Resolve(tx, h)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.ChatID == 0 || res.Suppress {
		t.Fatalf("expected chat created, got %+v", res)
	}

	chat, found, err := tx.LookupChatByGrpid("abcd1234")
	if err != nil || !found {
		t.Fatalf("expected chat to exist, found=%v err=%v", found, err)
	}
	if chat.Name != "Friends" {
		t.Errorf("chat name = %q, want Friends", chat.Name)
	}
}

func TestResolve_DoesNotCreateOnMemberRemoved(t *testing.T) {
	tx := newTestTx(t)
	fromID, _ := tx.UpsertContact("bob@example.com", "Bob", model.OriginIncomingUnknownFrom)

	h := Headers{
		GroupID:       "abcd1234",
		GroupName:     "Friends",
		MemberRemoved: "carol@example.com",
		FromContactID: fromID,
	}
	res, err := Resolve(tx, h)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.ChatID != 0 {
		t.Errorf("expected no chat created, got %+v", res)
	}
	_, found, _ := tx.LookupChatByGrpid("abcd1234")
	if found {
		t.Error("chat should not have been created from a member-removed message")
	}
}

func TestResolve_AntiLeakSuppressesSingleRecipientNonMessenger(t *testing.T) {
	tx := newTestTx(t)
	fromID, _ := tx.UpsertContact("bob@example.com", "Bob", model.OriginIncomingUnknownFrom)
	chat, err := tx.CreateGroupChat("Friends", "abcd1234")
	if err != nil {
		t.Fatalf("create group chat: %v", err)
	}
	if err := tx.AddMember(chat.ID, fromID); err != nil {
		t.Fatalf("add member: %v", err)
	}

	h := Headers{
		GroupID:        "abcd1234",
		FromContactID:  fromID,
		IsMessenger:    false,
		ToCcContactIDs: []uint32{fromID},
	}
	res, err := Resolve(tx, h)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Suppress {
		t.Error("expected anti-leak suppression for single-recipient non-messenger reply")
	}
}

func TestResolve_MemberRemovedExcludesRemovedAddrFromToCc(t *testing.T) {
	tx := newTestTx(t)
	fromID, _ := tx.UpsertContact("bob@example.com", "Bob", model.OriginIncomingUnknownFrom)
	carolID, _ := tx.UpsertContact("carol@example.com", "Carol", model.OriginIncomingUnknownFrom)
	chat, err := tx.CreateGroupChat("Friends", "abcd1234")
	if err != nil {
		t.Fatalf("create group chat: %v", err)
	}
	if err := tx.AddMember(chat.ID, fromID); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := tx.AddMember(chat.ID, carolID); err != nil {
		t.Fatalf("add member: %v", err)
	}

	// Carol's own removal notification still lists her address in To/Cc so
	// her client learns she was removed; she must not be re-added.
	h := Headers{
		GroupID:        "abcd1234",
		MemberRemoved:  "carol@example.com",
		FromContactID:  fromID,
		IsMessenger:    true,
		ToCcContactIDs: []uint32{fromID, carolID},
	}
	res, err := Resolve(tx, h)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.ChatID != chat.ID {
		t.Fatalf("expected existing chat to be resolved, got %+v", res)
	}

	stillMember, err := tx.IsContactInChat(chat.ID, carolID)
	if err != nil {
		t.Fatalf("is contact in chat: %v", err)
	}
	if stillMember {
		t.Error("expected carol to remain removed, not re-added from To/Cc")
	}
	fromStillMember, err := tx.IsContactInChat(chat.ID, fromID)
	if err != nil {
		t.Fatalf("is contact in chat: %v", err)
	}
	if !fromStillMember {
		t.Error("expected bob to remain a member")
	}
}

func TestResolve_MemberAddedRemovesFromLeftGroups(t *testing.T) {
	tx := newTestTx(t)
	fromID, _ := tx.UpsertContact("bob@example.com", "Bob", model.OriginIncomingUnknownFrom)
	chat, err := tx.CreateGroupChat("Friends", "abcd1234")
	if err != nil {
		t.Fatalf("create group chat: %v", err)
	}
	if err := tx.AddMember(chat.ID, fromID); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := tx.MarkGroupLeft("abcd1234"); err != nil {
		t.Fatalf("mark left: %v", err)
	}

	h := Headers{
		GroupID:         "abcd1234",
		GroupName:       "Friends",
		MemberAdded:     "me@example.com",
		SawSelfInToOrCc: true,
		FromContactID:   fromID,
		IsMessenger:     true,
		ToCcContactIDs:  []uint32{fromID},
	}
	res, err := Resolve(tx, h)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.ChatID == 0 {
		t.Fatal("expected self-rejoin to recreate/resolve the chat")
	}
	left, err := tx.IsGroupLeft("abcd1234")
	if err != nil {
		t.Fatalf("is left: %v", err)
	}
	if left {
		t.Error("expected group to no longer be marked left after self rejoin")
	}
}

func TestResolve_LeftGroupFallsThroughUntilRejoin(t *testing.T) {
	tx := newTestTx(t)
	fromID, _ := tx.UpsertContact("bob@example.com", "Bob", model.OriginIncomingUnknownFrom)
	chat, err := tx.CreateGroupChat("Friends", "abcd1234")
	if err != nil {
		t.Fatalf("create group chat: %v", err)
	}
	if err := tx.AddMember(chat.ID, fromID); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := tx.MarkGroupLeft("abcd1234"); err != nil {
		t.Fatalf("mark left: %v", err)
	}

	// A plain follow-up message (no group commands) must not resolve to
	// the chat while SELF remains removed.
	h := Headers{GroupID: "abcd1234", FromContactID: fromID, IsMessenger: true, ToCcContactIDs: []uint32{fromID}}
	res, err := Resolve(tx, h)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.ChatID != 0 {
		t.Errorf("expected no chat while left, got %+v", res)
	}
	if !res.LeftGroup {
		t.Error("expected LeftGroup to be set so the caller can route to TRASH")
	}

	// A message re-adding SELF resumes normal delivery.
	h2 := Headers{
		GroupID:         "abcd1234",
		MemberAdded:     "me@example.com",
		SawSelfInToOrCc: true,
		FromContactID:   fromID,
		IsMessenger:     true,
		ToCcContactIDs:  []uint32{fromID},
	}
	res2, err := Resolve(tx, h2)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res2.ChatID != chat.ID {
		t.Errorf("expected rejoin to resume chat %d, got %+v", chat.ID, res2)
	}
	left, _ := tx.IsGroupLeft("abcd1234")
	if left {
		t.Error("expected group no longer marked left after rejoin")
	}
}

func TestGenerateMessageID_RoundTripsThroughExtractGrpid(t *testing.T) {
	mid, err := GenerateMessageID("abcd1234", "example.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	h := Headers{MessageID: mid}
	g, ok := ExtractGrpid(h)
	if !ok || g != "abcd1234" {
		t.Fatalf("round trip failed: got %q ok=%v from %q", g, ok, mid)
	}
}
