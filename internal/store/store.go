// Package store implements Component J: the abstract persistence contract
// the ingest pipeline depends on (§4.J), plus a SQLite-backed
// implementation built on internal/dbx. Method names follow spec.md's
// "illustrative" contract rather than the teacher's own per-feature
// stores, since the teacher has no single Store interface of this shape
// (see DESIGN.md).
package store

import (
	"github.com/msgcore/mrcore/internal/event"
	"github.com/msgcore/mrcore/internal/model"
)

// Store is the abstract contract named in §4.J. Every method that mutates
// state must be called inside a Tx opened with Begin.
type Store interface {
	Begin() (Tx, error)
}

// Tx is one atomic unit of work. All writes made through a Tx are invisible
// to other callers until Commit, and vanish entirely on Rollback (§5:
// "within one received message all DB writes are atomic").
type Tx interface {
	// Commit persists all writes made on this Tx and fires any events
	// enqueued via the associated event.Dispatcher. Commit may only be
	// called once; calling it again returns an error.
	Commit() error
	// Rollback discards all writes made on this Tx and discards any
	// enqueued events. Safe to call after Commit as a no-op, matching
	// database/sql.Tx semantics.
	Rollback() error

	// EnqueueEvent queues e for delivery immediately after a successful
	// Commit (§4.I). Calling this after Commit or Rollback has no effect.
	EnqueueEvent(e event.Event)

	// GetConfig returns the stored value for key, or ok=false if unset.
	GetConfig(key string) (value string, ok bool, err error)
	// SetConfig upserts a string config value.
	SetConfig(key, value string) error
	// GetConfigInt and SetConfigInt are GetConfig/SetConfig for integer
	// config values (§4.J: "get_config / set_config (str, int)").
	GetConfigInt(key string) (value int, ok bool, err error)
	SetConfigInt(key string, value int) error

	// UpsertContact inserts addr if unseen, or bumps an existing contact's
	// origin to max(old, new) and updates name if the new origin is at least
	// the stored one (§4.E).
	UpsertContact(addr, name string, origin model.Origin) (contactID uint32, err error)
	// IsKnownContact reports whether addr has ever been observed.
	IsKnownContact(addr string) (bool, error)
	// ScaleupContactOrigin raises a contact's stored origin to
	// max(old, origin); a no-op if origin is not higher.
	ScaleupContactOrigin(contactID uint32, origin model.Origin) error
	// GetContact returns a contact by id.
	GetContact(contactID uint32) (*model.Contact, error)
	// FindContactByAddr looks a contact up by normalized address.
	FindContactByAddr(addr string) (*model.Contact, bool, error)

	// LookupChatByGrpid returns the chat with the given group id, if any.
	LookupChatByGrpid(grpid string) (*model.Chat, bool, error)
	// CreateGroupChat creates a new group chat.
	CreateGroupChat(name, grpid string) (*model.Chat, error)
	// FindOrCreateSingleChat returns the 1:1 chat for contactID, creating
	// it if absent.
	FindOrCreateSingleChat(contactID uint32) (*model.Chat, error)
	// FindSingleChat returns the existing 1:1 chat for contactID, if any.
	FindSingleChat(contactID uint32) (*model.Chat, bool, error)
	// RenameChat updates a chat's display name.
	RenameChat(chatID uint32, name string) error

	// AddMember adds contactID to chatID's membership.
	AddMember(chatID, contactID uint32) error
	// RemoveMember removes contactID from chatID's membership.
	RemoveMember(chatID, contactID uint32) error
	// RemoveAllMembers clears chatID's membership entirely.
	RemoveAllMembers(chatID uint32) error
	// IsContactInChat reports current membership.
	IsContactInChat(chatID, contactID uint32) (bool, error)

	// IsGroupLeft reports whether grpid is in LeftGroups.
	IsGroupLeft(grpid string) (bool, error)
	// MarkGroupLeft adds grpid to LeftGroups.
	MarkGroupLeft(grpid string) error
	// MarkGroupRejoined removes grpid from LeftGroups.
	MarkGroupRejoined(grpid string) error

	// InsertMessage inserts one message row, returning its assigned id.
	InsertMessage(m *model.Message) (uint32, error)
	// Rfc724MidExists reports whether a message with this Message-ID is
	// already stored in a non-special chat (invariant 1).
	Rfc724MidExists(mid string) (bool, error)
	// GetMessageByRfc724Mid fetches a stored message by Message-ID.
	GetMessageByRfc724Mid(mid string) (*model.Message, bool, error)
	// UpdateServerUID updates a message's server_folder/server_uid
	// (§4.G step 2, S4).
	UpdateServerUID(msgID uint32, folder string, uid uint32) error
	// UpdateMessageState transitions a message's state field.
	UpdateMessageState(msgID uint32, state model.MsgState) error
	// LastFreshTimestampInChat returns the highest ts among messages in
	// chatID not sent by excludeContactID, used by the timestamp fixup
	// (§4.G step 4). ok=false if the chat has no such messages yet.
	LastFreshTimestampInChat(chatID uint32, excludeContactID uint32) (ts int64, ok bool, err error)
}
