// Package credentials stores small per-identity secrets (the keytool keeps
// Autocrypt setup codes and key fingerprints here) outside the message
// store itself, preferring the OS keyring the way the teacher's
// credentials package does.
package credentials

import (
	"errors"
	"fmt"

	"github.com/msgcore/mrcore/internal/logging"
	"github.com/rs/zerolog"
	gokeyring "github.com/zalando/go-keyring"
)

const serviceName = "mrcore"

// ErrNotFound mirrors gokeyring.ErrNotFound so callers don't need to import
// gokeyring themselves.
var ErrNotFound = errors.New("credentials: not found")

// ErrKeyringUnavailable is returned when the OS has no usable keyring
// backend. There is no encrypted-database fallback here (unlike the
// teacher's Store, see DESIGN.md): callers must prompt the user directly.
var ErrKeyringUnavailable = errors.New("credentials: os keyring unavailable")

// Store wraps the OS credential keyring for one service namespace.
type Store struct {
	available bool
	log       zerolog.Logger
}

// NewStore probes the OS keyring once and remembers whether it works.
func NewStore() *Store {
	log := logging.WithComponent("credentials")
	s := &Store{log: log}
	s.available = probeKeyring()
	if s.available {
		log.Info().Msg("OS keyring available")
	} else {
		log.Warn().Msg("OS keyring unavailable, credential storage disabled")
	}
	return s
}

func probeKeyring() bool {
	const probeKey = "mrcore-keyring-probe"
	if err := gokeyring.Set(serviceName, probeKey, "x"); err != nil {
		return false
	}
	gokeyring.Delete(serviceName, probeKey)
	return true
}

// Available reports whether a usable OS keyring backend was found.
func (s *Store) Available() bool {
	return s.available
}

// Set stores secret under id (e.g. an account address).
func (s *Store) Set(id, secret string) error {
	if !s.available {
		return ErrKeyringUnavailable
	}
	if err := gokeyring.Set(serviceName, id, secret); err != nil {
		return fmt.Errorf("credentials: set %q: %w", id, err)
	}
	return nil
}

// Get retrieves the secret stored under id.
func (s *Store) Get(id string) (string, error) {
	if !s.available {
		return "", ErrKeyringUnavailable
	}
	secret, err := gokeyring.Get(serviceName, id)
	if errors.Is(err, gokeyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("credentials: get %q: %w", id, err)
	}
	return secret, nil
}

// Delete removes the secret stored under id, if any.
func (s *Store) Delete(id string) error {
	if !s.available {
		return ErrKeyringUnavailable
	}
	if err := gokeyring.Delete(serviceName, id); err != nil && !errors.Is(err, gokeyring.ErrNotFound) {
		return fmt.Errorf("credentials: delete %q: %w", id, err)
	}
	return nil
}
