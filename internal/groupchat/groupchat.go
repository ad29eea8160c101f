// Package groupchat implements Component F: extracting a grpid from a
// message's headers, resolving it to a chat, and applying the
// member-added/removed/renamed group commands (§4.F).
package groupchat

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"

	"github.com/msgcore/mrcore/internal/contact"
	"github.com/msgcore/mrcore/internal/event"
	"github.com/msgcore/mrcore/internal/model"
	"github.com/msgcore/mrcore/internal/store"
)

// grpidPattern matches a valid group id: 8 chars of [A-Za-z0-9_-] (§4.F, §6).
var grpidPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8}$`)

// Headers carries the subset of a message's headers the group resolver
// needs. Both legacy X-Mr* and canonical Chat-* names are accepted by the
// caller populating this struct (§6); fields here are already the
// resolved values regardless of which header name supplied them.
type Headers struct {
	GroupID         string // Chat-Group-ID / X-MrGrpId
	GroupName       string // Chat-Group-Name / X-MrGrpName
	MemberAdded     string // Chat-Group-Member-Added
	MemberRemoved   string // Chat-Group-Member-Removed
	NameChanged     bool   // Chat-Group-Name-Changed present
	MessageID       string
	InReplyTo       string
	References      string
	IsMessenger     bool
	FromContactID   uint32
	ToCcContactIDs  []uint32 // resolved contact ids of To+Cc; includes model.ContactIDSelf when SELF is addressed
	SawSelfInToOrCc bool
}

// Result describes how a message was resolved against the group model.
type Result struct {
	ChatID    uint32
	Suppress  bool // anti-leak heuristic fired; caller must not use ChatID
	LeftGroup bool // grpid matched a group SELF has left (§8 S6); route to TRASH
}

// messageIDGrpidPattern extracts grpid from a Message-ID of the form
// Gr.<grpid>.<rand>@host (§4.F, §6).
var messageIDGrpidPattern = regexp.MustCompile(`Gr\.([A-Za-z0-9_-]{8})\.`)

// ExtractGrpid finds a group id in h, trying in priority order: the
// explicit group-id header, then Message-ID, then In-Reply-To, then
// References (§4.F).
func ExtractGrpid(h Headers) (string, bool) {
	if isValidGrpid(h.GroupID) {
		return h.GroupID, true
	}
	if g, ok := grpidFromMessageID(h.MessageID); ok {
		return g, true
	}
	if g, ok := grpidFromMessageID(h.InReplyTo); ok {
		return g, true
	}
	if g, ok := grpidFromMessageID(h.References); ok {
		return g, true
	}
	return "", false
}

func isValidGrpid(s string) bool {
	return grpidPattern.MatchString(s)
}

func grpidFromMessageID(s string) (string, bool) {
	m := messageIDGrpidPattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// GenerateMessageID synthesizes a group Message-ID of the form
// Gr.<grpid>.<random>@<host> (§6).
func GenerateMessageID(grpid, host string) (string, error) {
	if !isValidGrpid(grpid) {
		return "", fmt.Errorf("groupchat: invalid grpid %q", grpid)
	}
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	buf := make([]byte, 11)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("groupchat: generate message id: %w", err)
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return fmt.Sprintf("Gr.%s.%s@%s", grpid, buf, host), nil
}

// Resolve implements §4.F's chat-assignment and group-command handling for
// one inbound message. It looks up or creates the group chat, applies any
// member-added/removed/name-changed command, and reconciles membership from
// h.ToCcContactIDs. The caller has already resolved addresses to contact
// ids via internal/contact before calling this.
func Resolve(tx store.Tx, h Headers) (Result, error) {
	grpid, ok := ExtractGrpid(h)
	if !ok {
		return Result{}, nil
	}

	chat, found, err := tx.LookupChatByGrpid(grpid)
	if err != nil {
		return Result{}, fmt.Errorf("groupchat: lookup %q: %w", grpid, err)
	}

	justCreated := false
	if !found {
		if h.MemberRemoved != "" {
			// §4.F: never create a chat off a member-removed message.
			return Result{}, nil
		}
		if h.GroupName == "" {
			return Result{}, nil
		}
		left, err := tx.IsGroupLeft(grpid)
		if err != nil {
			return Result{}, fmt.Errorf("groupchat: is left %q: %w", grpid, err)
		}
		addsSelfBack := h.MemberAdded != "" && h.SawSelfInToOrCc
		if left && !addsSelfBack {
			return Result{}, nil
		}
		chat, err = tx.CreateGroupChat(h.GroupName, grpid)
		if err != nil {
			return Result{}, fmt.Errorf("groupchat: create %q: %w", grpid, err)
		}
		justCreated = true
	} else {
		left, err := tx.IsGroupLeft(grpid)
		if err != nil {
			return Result{}, fmt.Errorf("groupchat: is left %q: %w", grpid, err)
		}
		rejoining := h.MemberAdded != "" && h.SawSelfInToOrCc
		if left && !rejoining {
			// §8 S6: SELF has left this group; until re-added, messages
			// fall through to TRASH instead of resuming the chat.
			return Result{LeftGroup: true}, nil
		}

		isMember, err := tx.IsContactInChat(chat.ID, h.FromContactID)
		if err != nil {
			return Result{}, fmt.Errorf("groupchat: membership check: %w", err)
		}
		if !isMember {
			return Result{}, nil
		}
		// §4.F anti-leak heuristic only applies to an already-existing
		// group: a freshly created chat necessarily arrived with explicit
		// group headers, not a bare "Reply".
		if suppressAntiLeak(h) {
			return Result{Suppress: true}, nil
		}
	}

	if err := applyCommands(tx, chat.ID, grpid, h, justCreated); err != nil {
		return Result{}, err
	}
	return Result{ChatID: chat.ID}, nil
}

// applyCommands handles the mutually-exclusive group commands in priority
// order (member-added, member-removed, name-changed), then rebuilds
// membership from the sender plus To+Cc and emits CHAT_MODIFIED (§4.F). A
// freshly created chat always gets its membership populated this way, even
// absent an explicit command, since it starts out with none.
func applyCommands(tx store.Tx, chatID uint32, grpid string, h Headers, justCreated bool) error {
	commanded := justCreated
	var removedID uint32

	switch {
	case h.MemberAdded != "":
		commanded = true
		if strings.EqualFold(h.MemberAdded, "SELF") || h.SawSelfInToOrCc {
			if err := tx.MarkGroupRejoined(grpid); err != nil {
				return fmt.Errorf("groupchat: mark rejoined: %w", err)
			}
		}
	case h.MemberRemoved != "":
		commanded = true
		if strings.EqualFold(h.MemberRemoved, "SELF") {
			if err := tx.MarkGroupLeft(grpid); err != nil {
				return fmt.Errorf("groupchat: mark left: %w", err)
			}
		} else {
			// §4.F: the removal notification's To/Cc commonly still lists
			// the removed address (so their own client learns they were
			// removed); it must not be re-added as a member.
			id, _, err := contact.ResolveSingle(tx, h.MemberRemoved, "", model.OriginIncomingUnknownFrom)
			if err != nil {
				return fmt.Errorf("groupchat: resolve removed member %q: %w", h.MemberRemoved, err)
			}
			removedID = id
		}
	case h.NameChanged && h.GroupName != "":
		commanded = true
		name := h.GroupName
		if len(name) > 200 {
			name = name[:200]
		}
		if err := tx.RenameChat(chatID, name); err != nil {
			return fmt.Errorf("groupchat: rename: %w", err)
		}
	}

	if !commanded {
		return nil
	}

	if err := tx.RemoveAllMembers(chatID); err != nil {
		return fmt.Errorf("groupchat: remove all members: %w", err)
	}
	members := append([]uint32{h.FromContactID}, h.ToCcContactIDs...)
	for _, id := range members {
		if id == 0 || id == removedID {
			continue
		}
		if id == model.ContactIDSelf && wasRemovedTargetingSelf(h) {
			continue
		}
		if err := tx.AddMember(chatID, id); err != nil {
			return fmt.Errorf("groupchat: add member: %w", err)
		}
	}
	if !wasRemovedTargetingSelf(h) {
		if err := tx.AddMember(chatID, model.ContactIDSelf); err != nil {
			return fmt.Errorf("groupchat: add self: %w", err)
		}
	}
	tx.EnqueueEvent(chatModifiedEvent(chatID))
	return nil
}

func wasRemovedTargetingSelf(h Headers) bool {
	return h.MemberRemoved != "" && strings.EqualFold(h.MemberRemoved, "SELF")
}

func chatModifiedEvent(chatID uint32) event.Event {
	return event.Event{Kind: event.ChatModified, ChatID: chatID}
}

// suppressAntiLeak implements §4.F's anti-leak heuristic: a group message
// addressed to a single To/Cc recipient from a non-messenger client is most
// likely a "Reply" instead of "Reply all", and must not be folded into the
// group chat.
func suppressAntiLeak(h Headers) bool {
	return len(h.ToCcContactIDs) <= 1 && !h.IsMessenger
}
