package pgp

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/msgcore/mrcore/internal/logging"
)

// DefaultHKPServers is queried in order when LookupHKP is called without an
// explicit server list; keys.openpgp.org is listed first since it verifies
// the email address before publishing a key.
var DefaultHKPServers = []string{
	"https://keys.openpgp.org",
	"https://keyserver.ubuntu.com",
	"https://pgp.mit.edu",
}

// LookupHKP queries HKP key servers in order for email's public key,
// supplemental to spec.md: a fallback for internal/ingest when no cached
// sender key is available to verify a signature (§9, see DESIGN.md). Returns
// "", nil if no server has the key; servers defaults to DefaultHKPServers.
func LookupHKP(email string, servers []string) (string, error) {
	if !strings.Contains(email, "@") {
		return "", fmt.Errorf("pgp: lookup hkp: invalid address %q", email)
	}
	if len(servers) == 0 {
		servers = DefaultHKPServers
	}

	log := logging.WithComponent("pgp.hkp")
	client := &http.Client{Timeout: 5 * time.Second}

	for _, server := range servers {
		armored, err := fetchHKP(client, server, email)
		if err != nil {
			log.Debug().Err(err).Str("server", server).Str("addr", email).Msg("hkp lookup failed, trying next server")
			continue
		}
		if armored != "" {
			return armored, nil
		}
	}
	return "", nil
}

// fetchHKP performs one HKP "get" lookup. A 404 means "not found", reported
// as "", nil rather than an error.
func fetchHKP(client *http.Client, serverURL, email string) (string, error) {
	u := fmt.Sprintf("%s/pks/lookup?op=get&search=%s&options=mr",
		strings.TrimRight(serverURL, "/"),
		url.QueryEscape(email),
	)

	resp, err := client.Get(u)
	if err != nil {
		return "", fmt.Errorf("pgp: fetch hkp %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pgp: fetch hkp %s: http %d", serverURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return "", fmt.Errorf("pgp: fetch hkp %s: %w", serverURL, err)
	}
	if len(data) == 0 {
		return "", nil
	}

	entities, err := ParseArmoredKey(string(data))
	if err != nil {
		return "", fmt.Errorf("pgp: fetch hkp %s: parse response: %w", serverURL, err)
	}
	if len(entities) == 0 {
		return "", nil
	}
	return ArmorPublicKey(entities[0])
}
