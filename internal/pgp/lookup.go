package pgp

import (
	"github.com/msgcore/mrcore/internal/logging"
)

// LookupKeyResult is the outcome of a cascading key lookup (§9, supplemental
// to spec.md — see DESIGN.md).
type LookupKeyResult struct {
	Armored string
	Source  string // "wkd" or "hkp"
}

// LookupKey tries WKD first, then HKP, and reports which one answered.
// internal/ingest calls this when a message's signature can't be validated
// against any cached sender key. Returns nil, nil if neither method found a
// key for email.
func LookupKey(email string, hkpServers []string) (*LookupKeyResult, error) {
	log := logging.WithComponent("pgp.lookup")

	armored, err := LookupWKD(email)
	if err != nil {
		log.Debug().Err(err).Str("addr", email).Msg("wkd lookup failed, falling back to hkp")
	}
	if armored != "" {
		return &LookupKeyResult{Armored: armored, Source: "wkd"}, nil
	}

	armored, err = LookupHKP(email, hkpServers)
	if err != nil {
		log.Debug().Err(err).Str("addr", email).Msg("hkp lookup failed")
		return nil, err
	}
	if armored != "" {
		return &LookupKeyResult{Armored: armored, Source: "hkp"}, nil
	}

	return nil, nil
}
