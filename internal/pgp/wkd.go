package pgp

import (
	"crypto/sha1"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/msgcore/mrcore/internal/logging"
)

// LookupWKD performs a Web Key Directory lookup for email, supplemental to
// spec.md (see DESIGN.md): tried before LookupHKP since a domain-hosted key
// is more authoritative than a public key server. Returns "", nil if the
// domain has no WKD entry for email.
func LookupWKD(email string) (string, error) {
	parts := strings.SplitN(email, "@", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("pgp: lookup wkd: invalid address %q", email)
	}
	localpart := strings.ToLower(parts[0])
	domain := strings.ToLower(parts[1])

	hash := sha1.Sum([]byte(localpart))
	encoded := zBase32Encode(hash[:])

	log := logging.WithComponent("pgp.wkd")
	client := &http.Client{Timeout: 5 * time.Second}

	direct := fmt.Sprintf("https://%s/.well-known/openpgpkey/hu/%s?l=%s", domain, encoded, localpart)
	if armored, err := fetchWKD(client, direct); err == nil && armored != "" {
		return armored, nil
	} else if err != nil {
		log.Debug().Err(err).Str("addr", email).Msg("wkd direct method failed, trying advanced method")
	}

	advanced := fmt.Sprintf("https://openpgpkey.%s/.well-known/openpgpkey/%s/hu/%s?l=%s", domain, domain, encoded, localpart)
	if armored, err := fetchWKD(client, advanced); err == nil && armored != "" {
		return armored, nil
	} else if err != nil {
		log.Debug().Err(err).Str("addr", email).Msg("wkd advanced method failed")
	}

	return "", nil
}

// fetchWKD fetches one WKD URL and armors whatever key it returns (WKD
// responses are binary transferable keys, not armored text).
func fetchWKD(client *http.Client, reqURL string) (string, error) {
	resp, err := client.Get(reqURL)
	if err != nil {
		return "", fmt.Errorf("pgp: fetch wkd: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pgp: fetch wkd: http %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return "", fmt.Errorf("pgp: fetch wkd: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("pgp: fetch wkd: empty response")
	}

	entities, err := ParseBinaryKey(data)
	if err != nil {
		entities, err = ParseArmoredKey(string(data))
		if err != nil {
			return "", fmt.Errorf("pgp: fetch wkd: parse response: %w", err)
		}
	}
	if len(entities) == 0 {
		return "", fmt.Errorf("pgp: fetch wkd: no keys in response")
	}
	return ArmorPublicKey(entities[0])
}

// zBase32Encode encodes data per RFC 6189's z-base-32 alphabet, the form WKD
// uses for a localpart's SHA-1 hash.
func zBase32Encode(data []byte) string {
	const alphabet = "ybndrfg8ejkmcpqxot1uwisza345h769"

	var out strings.Builder
	buffer, bitsLeft := 0, 0
	for _, b := range data {
		buffer = (buffer << 8) | int(b)
		bitsLeft += 8
		for bitsLeft >= 5 {
			bitsLeft -= 5
			out.WriteByte(alphabet[(buffer>>bitsLeft)&0x1F])
		}
	}
	if bitsLeft > 0 {
		out.WriteByte(alphabet[(buffer<<(5-bitsLeft))&0x1F])
	}
	return out.String()
}
