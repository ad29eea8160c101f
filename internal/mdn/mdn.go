// Package mdn implements Component H: detecting and handling
// multipart/report;report-type=disposition-notification messages (§4.H).
// Outer MIME parsing is the caller's job (see internal/classify's Input);
// this package only parses the disposition-notification subpart itself,
// the way the teacher's sync package parses individual multipart subparts
// with go-message.
package mdn

import (
	"errors"
	"fmt"
	"mime"
	"strings"

	gomessage "github.com/emersion/go-message"
	"github.com/msgcore/mrcore/internal/event"
	"github.com/msgcore/mrcore/internal/model"
	"github.com/msgcore/mrcore/internal/store"
)

// ErrNotAnMDN is returned by Parse when raw does not look like a
// disposition-notification report. Callers should treat it as "ignore",
// not as a hard failure (§7: missing/malformed MDNs are silently ignored).
var ErrNotAnMDN = errors.New("mdn: not a disposition-notification report")

// Report is the parsed content of an MDN's human-readable + machine
// subparts that matter to the pipeline.
type Report struct {
	Disposition       string
	OriginalMessageID string
}

// IsReport reports whether contentType is a disposition-notification
// report per §4.H ("multipart/report; report-type=disposition-notification").
func IsReport(contentType string) bool {
	mt, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.EqualFold(mt, "multipart/report") &&
		strings.EqualFold(params["report-type"], "disposition-notification")
}

// Parse reads the disposition-notification subparts of an
// already-identified MDN report body (the entity's multipart parts, in
// order). Per §4.H it requires at least 2 subparts and reads the second as
// an inner RFC 822 header block carrying Disposition and
// Original-Message-ID.
func Parse(parts [][]byte) (Report, error) {
	if len(parts) < 2 {
		return Report{}, ErrNotAnMDN
	}

	inner, err := gomessage.Read(strings.NewReader(string(parts[1])))
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrNotAnMDN, err)
	}

	disposition := inner.Header.Get("Disposition")
	origMid := stripAngleBrackets(inner.Header.Get("Original-Message-ID"))
	if disposition == "" || origMid == "" {
		return Report{}, ErrNotAnMDN
	}
	return Report{Disposition: disposition, OriginalMessageID: origMid}, nil
}

func msgReadEvent(chatID, msgID uint32) event.Event {
	return event.Event{Kind: event.MsgRead, ChatID: chatID, MsgID: msgID}
}

func stripAngleBrackets(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	return s
}

// Handle applies a parsed report to the store: if the referenced message
// was sent by SELF, marks it read and queues a MSG_READ event (§4.H).
// mdnsEnabled gates the whole feature; callers should check it before even
// calling Parse, but Handle re-checks as a safety net.
func Handle(tx store.Tx, rep Report, mdnsEnabled bool) error {
	if !mdnsEnabled {
		return nil
	}

	msg, found, err := tx.GetMessageByRfc724Mid(rep.OriginalMessageID)
	if err != nil {
		return fmt.Errorf("mdn: lookup original message: %w", err)
	}
	if !found {
		return nil
	}
	if msg.FromID != model.ContactIDSelf {
		return nil
	}

	if err := tx.UpdateMessageState(msg.ID, model.StateOutRead); err != nil {
		return fmt.Errorf("mdn: update message state: %w", err)
	}
	tx.EnqueueEvent(msgReadEvent(msg.ChatID, msg.ID))
	return nil
}
