// Package address implements the text-normalization half of Component E
// (§4.E): RFC 2047 encoded-word decoding, whitespace collapsing, and the
// address-comparison policy the contact resolver builds on. RFC 5322
// address-list parsing itself is delegated to
// github.com/emersion/go-message/mail, the same library the teacher uses.
package address

import (
	"io"
	"mime"
	"net/mail"
	"strings"

	msgcharset "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/htmlindex"
)

// Addr is a resolved participant: a decoded display name plus a normalized
// email address.
type Addr struct {
	Name string
	Addr string
}

// ParseList parses an RFC 5322 address-list header value (e.g. the raw
// value of a To/Cc/From header) into Addrs with normalized addresses and
// decoded display names.
func ParseList(header string) ([]Addr, error) {
	parsed, err := gomail.ParseAddressList(header)
	if err != nil {
		return fallbackParseList(header)
	}
	out := make([]Addr, 0, len(parsed))
	for _, a := range parsed {
		out = append(out, Addr{Name: Decode(a.Name), Addr: Normalize(a.Address)})
	}
	return out, nil
}

// fallbackParseList handles headers go-message/mail rejects outright
// (malformed input from hostile or buggy senders) by falling back to the
// standard library's more permissive parser, per §7's "recover by falling
// back to a coarser classification" policy.
func fallbackParseList(header string) ([]Addr, error) {
	parsed, err := mail.ParseAddressList(header)
	if err != nil {
		return nil, err
	}
	out := make([]Addr, 0, len(parsed))
	for _, a := range parsed {
		out = append(out, Addr{Name: Decode(a.Name), Addr: Normalize(a.Address)})
	}
	return out, nil
}

// Decode decodes RFC 2047 encoded words in a display name, then collapses
// runs of whitespace while preserving the caller's casing (§4.E).
func Decode(s string) string {
	if s == "" {
		return s
	}
	return collapseWhitespace(decodeMIMEWord(s))
}

// Normalize compares addresses "case-insensitively on the whole address
// after trimming angle brackets" (§4.E): trims surrounding whitespace and
// angle brackets, then lowercases.
func Normalize(addr string) string {
	a := strings.TrimSpace(addr)
	a = strings.TrimPrefix(a, "<")
	a = strings.TrimSuffix(a, ">")
	return strings.ToLower(strings.TrimSpace(a))
}

// collapseWhitespace replaces runs of whitespace with a single space and
// trims the ends, without altering case.
func collapseWhitespace(s string) string {
	var b strings.Builder
	inSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// decodeMIMEWord decodes RFC 2047 encoded words (e.g. =?UTF-8?B?5Lit?=),
// falling back to htmlindex for charsets go-message's charset package
// doesn't cover.
func decodeMIMEWord(s string) string {
	dec := &mime.WordDecoder{
		CharsetReader: func(charsetName string, r io.Reader) (io.Reader, error) {
			if reader, err := msgcharset.Reader(charsetName, r); err == nil {
				return reader, nil
			}
			enc, err := htmlindex.Get(charsetName)
			if err != nil {
				return nil, err
			}
			return enc.NewDecoder().Reader(r), nil
		},
	}
	decoded, err := dec.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}
