// Package classify implements Component G: per-message classification —
// direction, dedup, chat assignment, timestamp fixup, state assignment,
// per-part persistence, ghost fan-out, and event emission (§4.G).
package classify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/msgcore/mrcore/internal/contact"
	"github.com/msgcore/mrcore/internal/event"
	"github.com/msgcore/mrcore/internal/groupchat"
	"github.com/msgcore/mrcore/internal/model"
	"github.com/msgcore/mrcore/internal/store"
)

// smearMu guards smearLast, the logical clock backing nowSmeared (§4.G step
// 4, invariant 8). It is process-global because the ordering guarantee is
// over the whole pipeline's output, not one chat.
var (
	smearMu   sync.Mutex
	smearLast int64
)

// nowSmeared returns a value that tracks the wall clock but never goes
// backward and never repeats: if now has advanced past the last value
// handed out, it returns now; otherwise it returns one more than the last
// value, so two calls in the same second (or the same nanosecond) never
// compare equal.
func nowSmeared(now int64) int64 {
	smearMu.Lock()
	defer smearMu.Unlock()
	if now > smearLast {
		smearLast = now
	} else {
		smearLast++
	}
	return smearLast
}

// Part is one MIME part of an inbound message body, persisted as its own
// message row (§4.G step 6).
type Part struct {
	Type  string // e.g. "text", "image"
	Text  string
	Raw   string
	Bytes int
	Param string
}

// Input is everything the classifier needs about one inbound message,
// already stripped of transport and MIME-parsing concerns.
type Input struct {
	Rfc724Mid     string
	FromAddr      string
	ToAddrs       string // raw To header, for contact resolution
	CcAddrs       string // raw Cc header
	SelfAddr      string
	ServerFolder  string
	ServerUID     uint32
	Timestamp     int64 // seconds since epoch, as read off the Date header
	HasReturnPath bool  // Return-Path header present (§4.G step 1)
	TransportSeen bool  // transport already reported this message \Seen
	IsMessenger   bool  // carries an Autocrypt/Chat-Version header
	WantsMDN      bool
	Group         groupchat.Headers
	Parts         []Part
}

// Result summarizes what classification did, for logging/diagnostics.
type Result struct {
	ChatID       uint32
	MessageIDs   []uint32
	Deduped      bool
	GhostChatIDs []uint32
}

// Classify runs §4.G's full per-message algorithm inside tx. now is
// injected so the timestamp fixup is deterministic in tests.
func Classify(tx store.Tx, in Input, now time.Time) (Result, error) {
	var res Result

	fromID, fromIsSelf, err := resolveContact(tx, in.FromAddr, in.SelfAddr, model.OriginIncomingUnknownFrom)
	if err != nil {
		return res, fmt.Errorf("classify: resolve from: %w", err)
	}

	// §4.G step 1: incoming iff Return-Path is present, except a message
	// From SELF always counts as outgoing (a user receiving their own mail).
	incoming := in.HasReturnPath
	if fromIsSelf {
		incoming = false
	}

	mid := in.Rfc724Mid
	if mid == "" {
		mid = synthesizeRfc724Mid(in)
	}

	if existing, found, err := tx.GetMessageByRfc724Mid(mid); err != nil {
		return res, fmt.Errorf("classify: dedup lookup: %w", err)
	} else if found {
		if existing.ServerFolder != in.ServerFolder || existing.ServerUID != in.ServerUID {
			if err := tx.UpdateServerUID(existing.ID, in.ServerFolder, in.ServerUID); err != nil {
				return res, fmt.Errorf("classify: update server uid: %w", err)
			}
		}
		res.Deduped = true
		res.ChatID = existing.ChatID
		res.MessageIDs = []uint32{existing.ID}
		return res, nil
	}

	toOrigin := model.OriginIncomingTo
	if !incoming {
		toOrigin = model.OriginOutgoingTo
	}
	toIDs, err := resolveList(tx, in.ToAddrs, in.SelfAddr, toOrigin)
	if err != nil {
		return res, fmt.Errorf("classify: resolve to: %w", err)
	}
	ccOrigin := model.OriginIncomingCc
	if !incoming {
		ccOrigin = model.OriginOutgoingCc
	}
	ccIDs, err := resolveList(tx, in.CcAddrs, in.SelfAddr, ccOrigin)
	if err != nil {
		return res, fmt.Errorf("classify: resolve cc: %w", err)
	}

	in.Group.FromContactID = fromID
	in.Group.ToCcContactIDs = append(append([]uint32{}, toIDs...), ccIDs...)
	for _, id := range in.Group.ToCcContactIDs {
		if id == model.ContactIDSelf {
			in.Group.SawSelfInToOrCc = true
		}
	}

	chatID, err := assignChat(tx, in, incoming, fromID)
	if err != nil {
		return res, err
	}
	res.ChatID = chatID

	ts, err := fixupTimestamp(tx, chatID, fromID, in.Timestamp, now)
	if err != nil {
		return res, fmt.Errorf("classify: timestamp fixup: %w", err)
	}

	state := assignState(incoming, in.TransportSeen)

	parts := in.Parts
	if len(parts) == 0 {
		parts = []Part{{Type: "text"}}
	}
	for _, p := range parts {
		m := &model.Message{
			Rfc724Mid:    mid,
			ServerFolder: in.ServerFolder,
			ServerUID:    in.ServerUID,
			ChatID:       chatID,
			FromID:       fromID,
			ToID:         firstOr(toIDs, 0),
			Timestamp:    ts,
			Type:         p.Type,
			State:        state,
			IsMsgr:       in.IsMessenger,
			Text:         p.Text,
			TextRaw:      p.Raw,
			Param:        withWantsMDN(p.Param, in.WantsMDN),
			Bytes:        p.Bytes,
		}
		id, err := tx.InsertMessage(m)
		if err != nil {
			return res, fmt.Errorf("classify: insert message: %w", err)
		}
		res.MessageIDs = append(res.MessageIDs, id)
	}

	if !incoming && chatID == model.ChatIDToDeaddrop && len(in.Group.ToCcContactIDs) > 1 {
		ghosts, err := fanOutGhosts(tx, in, res.MessageIDs[0], toIDs, ccIDs)
		if err != nil {
			return res, fmt.Errorf("classify: ghost fan-out: %w", err)
		}
		res.GhostChatIDs = ghosts
	}

	if err := emitEvent(tx, chatID, res.MessageIDs[0], state, fromID); err != nil {
		return res, fmt.Errorf("classify: emit event: %w", err)
	}
	return res, nil
}

func resolveContact(tx store.Tx, addr, selfAddr string, origin model.Origin) (id uint32, isSelf bool, err error) {
	if addr == "" {
		return 0, false, fmt.Errorf("classify: empty from address")
	}
	list, err := resolveList(tx, addr, selfAddr, origin)
	if err != nil {
		return 0, false, err
	}
	if len(list) == 0 || list[0] == model.ContactIDSelf {
		// addr normalized to selfAddr; resolveList reports that as a
		// leading ContactIDSelf.
		return model.ContactIDSelf, true, nil
	}
	return list[0], false, nil
}

func resolveList(tx store.Tx, header, selfAddr string, origin model.Origin) ([]uint32, error) {
	r, err := contact.Resolve(tx, header, selfAddr, origin)
	if err != nil {
		return nil, err
	}
	if r.SawSelf {
		return append([]uint32{model.ContactIDSelf}, r.ContactIDs...), nil
	}
	return r.ContactIDs, nil
}

// assignChat implements §4.G step 3's first-match-wins priority chain.
func assignChat(tx store.Tx, in Input, incoming bool, fromID uint32) (uint32, error) {
	gres, err := groupchat.Resolve(tx, in.Group)
	if err != nil {
		return 0, fmt.Errorf("classify: group resolve: %w", err)
	}
	if gres.ChatID != 0 {
		return gres.ChatID, nil
	}
	if gres.LeftGroup {
		return model.ChatIDTrash, nil
	}

	if incoming {
		if chat, found, err := tx.FindSingleChat(fromID); err != nil {
			return 0, fmt.Errorf("classify: find single chat: %w", err)
		} else if found {
			return chat.ID, nil
		}
		known, err := tx.IsKnownContact(in.FromAddr)
		if err != nil {
			return 0, fmt.Errorf("classify: is known contact: %w", err)
		}
		repliesToKnown := false
		if in.Group.InReplyTo != "" {
			if _, found, err := tx.GetMessageByRfc724Mid(stripMessageIDBrackets(in.Group.InReplyTo)); err != nil {
				return 0, fmt.Errorf("classify: in-reply-to lookup: %w", err)
			} else {
				repliesToKnown = found
			}
		}
		if known && (in.IsMessenger || repliesToKnown) {
			chat, err := tx.FindOrCreateSingleChat(fromID)
			if err != nil {
				return 0, fmt.Errorf("classify: find or create single chat: %w", err)
			}
			return chat.ID, nil
		}
		return model.ChatIDDeaddrop, nil
	}

	return model.ChatIDToDeaddrop, nil
}

func stripMessageIDBrackets(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	return s
}

// fixupTimestamp implements §4.G step 4 / invariant 8. The lookup passes
// contact id 0, which no sender has, so every fresh message already in the
// chat counts, including earlier ones from the same sender.
func fixupTimestamp(tx store.Tx, chatID, fromID uint32, ts int64, now time.Time) (int64, error) {
	lastFresh, found, err := tx.LastFreshTimestampInChat(chatID, 0)
	if err != nil {
		return 0, err
	}
	if found && ts <= lastFresh {
		ts = lastFresh + 1
	}
	smeared := nowSmeared(now.Unix())
	if ts > smeared {
		ts = smeared
	}
	return ts, nil
}

func assignState(incoming, transportSeen bool) model.MsgState {
	if !incoming {
		return model.StateOutDelivered
	}
	if transportSeen {
		return model.StateInSeen
	}
	return model.StateInFresh
}

func withWantsMDN(param string, wantsMDN bool) string {
	if !wantsMDN {
		return param
	}
	return model.ParamSet(param, model.ParamWantsMDN, "1")
}

func firstOr(ids []uint32, def uint32) uint32 {
	if len(ids) == 0 {
		return def
	}
	return ids[0]
}

// fanOutGhosts implements §4.G step 7: for outbound, non-group messages
// with more than one recipient, create a ghost row in every additional
// recipient's 1:1 chat carrying a summary and param.G pointing back at the
// original row.
func fanOutGhosts(tx store.Tx, in Input, origID uint32, toIDs, ccIDs []uint32) ([]uint32, error) {
	recipients := append(append([]uint32{}, toIDs...), ccIDs...)
	if len(recipients) < 2 {
		return nil, nil
	}

	summary := ghostSummary(in)
	var ghostChats []uint32
	for _, id := range recipients[1:] {
		if id == model.ContactIDSelf {
			continue
		}
		chat, err := tx.FindOrCreateSingleChat(id)
		if err != nil {
			return nil, fmt.Errorf("fan out to contact %d: %w", id, err)
		}
		param := model.ParamSet("", model.ParamGhostOrigMsgID, strconv.FormatUint(uint64(origID), 10))
		ghost := &model.Message{
			Rfc724Mid: in.Rfc724Mid + ".ghost." + strconv.FormatUint(uint64(id), 10),
			ChatID:    chat.ID,
			FromID:    model.ContactIDSelf,
			Timestamp: in.Timestamp,
			Type:      "text",
			State:     model.StateOutDelivered,
			Text:      summary,
			Param:     param,
		}
		if _, err := tx.InsertMessage(ghost); err != nil {
			return nil, fmt.Errorf("insert ghost message: %w", err)
		}
		ghostChats = append(ghostChats, chat.ID)
	}
	return ghostChats, nil
}

func ghostSummary(in Input) string {
	if len(in.Parts) > 0 && in.Parts[0].Text != "" {
		return in.Parts[0].Text
	}
	return "(sent to multiple recipients)"
}

// synthesizeRfc724Mid deterministically derives a Message-ID for mail that
// arrived without one (§4.G step 2).
func synthesizeRfc724Mid(in Input) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s", in.Timestamp, in.FromAddr, in.ToAddrs, in.CcAddrs)
	return hex.EncodeToString(h.Sum(nil))[:24] + "@generated"
}

// emitEvent implements §4.G step 8: INCOMING_MSG fires only for a fresh,
// non-blocked message whose chat is not DEADDROP, unless show_deaddrop is
// configured; every other case falls back to MSGS_CHANGED.
func emitEvent(tx store.Tx, chatID, msgID uint32, state model.MsgState, fromID uint32) error {
	if state != model.StateInFresh {
		tx.EnqueueEvent(event.Event{Kind: event.MsgsChanged, ChatID: chatID, MsgID: msgID})
		return nil
	}

	from, err := tx.GetContact(fromID)
	if err != nil {
		return err
	}
	if from.Blocked {
		tx.EnqueueEvent(event.Event{Kind: event.MsgsChanged, ChatID: chatID, MsgID: msgID})
		return nil
	}

	if chatID == model.ChatIDDeaddrop {
		v, _, err := tx.GetConfig(model.ConfigShowDeaddrop)
		if err != nil {
			return err
		}
		if v != "1" {
			tx.EnqueueEvent(event.Event{Kind: event.MsgsChanged, ChatID: chatID, MsgID: msgID})
			return nil
		}
	}

	tx.EnqueueEvent(event.Event{Kind: event.IncomingMsg, ChatID: chatID, MsgID: msgID})
	return nil
}
