// Package contact implements Component E: resolving a MIME address-list
// header into a set of stored contact ids (§4.E). Address text normalization
// itself lives in internal/address; this package adds the self-check and
// origin-upsert policy on top of internal/store.
package contact

import (
	"fmt"

	"github.com/msgcore/mrcore/internal/address"
	"github.com/msgcore/mrcore/internal/model"
	"github.com/msgcore/mrcore/internal/store"
)

// Resolved is the outcome of resolving one address-list header.
type Resolved struct {
	// ContactIDs are the ids of every address that was not SELF, in header
	// order, deduplicated.
	ContactIDs []uint32
	// SawSelf is true if any address in the list equalled the configured
	// self address (§4.E check_self).
	SawSelf bool
}

// Resolve parses header (the raw value of a To/Cc/From/... field), upserts
// a contact for every address except selfAddr, and bumps existing contacts'
// origin to max(old, origin) (§4.E). header may be empty, producing an
// empty, non-self result.
func Resolve(tx store.Tx, header, selfAddr string, origin model.Origin) (Resolved, error) {
	var out Resolved
	if header == "" {
		return out, nil
	}

	addrs, err := address.ParseList(header)
	if err != nil {
		return out, fmt.Errorf("contact: resolve: %w", err)
	}

	self := address.Normalize(selfAddr)
	seen := make(map[uint32]bool, len(addrs))

	for _, a := range addrs {
		if a.Addr == "" {
			continue
		}
		if self != "" && a.Addr == self {
			out.SawSelf = true
			continue
		}
		id, err := tx.UpsertContact(a.Addr, a.Name, origin)
		if err != nil {
			return out, fmt.Errorf("contact: upsert %q: %w", a.Addr, err)
		}
		if !seen[id] {
			seen[id] = true
			out.ContactIDs = append(out.ContactIDs, id)
		}
	}
	return out, nil
}

// ResolveSingle resolves a single bare address (e.g. the From header, which
// carries exactly one participant), returning its contact id and whether it
// was SELF. It is a thin wrapper over Resolve for the common one-address
// case.
func ResolveSingle(tx store.Tx, rawAddr, selfAddr string, origin model.Origin) (contactID uint32, isSelf bool, err error) {
	r, err := Resolve(tx, rawAddr, selfAddr, origin)
	if err != nil {
		return 0, false, err
	}
	if r.SawSelf {
		return model.ContactIDSelf, true, nil
	}
	if len(r.ContactIDs) == 0 {
		return 0, false, fmt.Errorf("contact: resolve single: no address found in %q", rawAddr)
	}
	return r.ContactIDs[0], false, nil
}
