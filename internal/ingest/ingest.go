// Package ingest orchestrates one inbound mail message through the full
// pipeline described in §2: MIME parsing (by the caller) feeds
// internal/classify, which in turn drives internal/contact and
// internal/groupchat; internal/mdn intercepts read receipts; PGP
// decryption runs before classification so the classifier sees plaintext;
// everything happens inside one internal/store transaction whose events
// fire only on commit (internal/event).
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/msgcore/mrcore/internal/classify"
	"github.com/msgcore/mrcore/internal/groupchat"
	"github.com/msgcore/mrcore/internal/logging"
	"github.com/msgcore/mrcore/internal/mdn"
	"github.com/msgcore/mrcore/internal/model"
	"github.com/msgcore/mrcore/internal/pgp"
	"github.com/msgcore/mrcore/internal/store"
	"github.com/rs/zerolog"
)

// RawMessage is one fetched message plus the subset of transport metadata
// the pipeline needs, already MIME-parsed into parts by the caller (MIME
// parsing itself is out of scope — see §1 Non-goals).
type RawMessage struct {
	ServerFolder string
	ServerUID    uint32
	Headers      Headers
	Parts        []classify.Part
	// CiphertextParts holds any parts that decoded as application/pgp-encrypted
	// payloads (or inline OpenPGP literal data), keyed by the index into
	// Parts they should replace once decrypted.
	CiphertextParts map[int][]byte
	// MDNParts holds the ordered subparts of a multipart/report body, if
	// Headers.ContentType identified one (§4.H).
	MDNParts [][]byte
}

// Headers is the subset of a message's headers the pipeline reads.
type Headers struct {
	Rfc724Mid     string
	From          string
	To            string
	Cc            string
	ContentType   string
	HasReturnPath bool
	TransportSeen bool
	IsMessenger   bool
	WantsMDN      bool
	GroupID       string
	GroupName     string
	MemberAdded   string
	MemberRemoved string
	NameChanged   bool
	MessageID     string
	InReplyTo     string
	References    string
	Timestamp     int64
}

// Pipeline wires the store, key store, and event-visible config together
// for one identity's ingest stream.
type Pipeline struct {
	Store    store.Store
	Keys     *pgp.KeyStore
	SelfAddr string
	MDNsOn   bool

	log zerolog.Logger
}

// NewPipeline builds a Pipeline for selfAddr.
func NewPipeline(s store.Store, keys *pgp.KeyStore, selfAddr string, mdnsEnabled bool) *Pipeline {
	return &Pipeline{
		Store:    s,
		Keys:     keys,
		SelfAddr: selfAddr,
		MDNsOn:   mdnsEnabled,
		log:      logging.WithComponent("ingest"),
	}
}

// IngestOne runs one message through decryption, MDN interception, and
// classification inside a single transaction. A false return with nil
// error means the message was recognized-but-ignored (e.g. a malformed
// MDN, §7); a non-nil error means the transaction was rolled back.
func (p *Pipeline) IngestOne(raw RawMessage) (bool, error) {
	tx, err := p.Store.Begin()
	if err != nil {
		return false, fmt.Errorf("ingest: begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				p.log.Warn().Err(rbErr).Msg("rollback after failed ingest")
			}
		}
	}()

	if mdn.IsReport(raw.Headers.ContentType) {
		rep, err := mdn.Parse(raw.MDNParts)
		if err != nil {
			// §7: malformed MDNs are silently ignored, not a pipeline failure.
			p.log.Warn().Err(err).Msg("ignoring malformed MDN")
			if err := tx.Commit(); err != nil {
				return false, fmt.Errorf("ingest: commit no-op mdn: %w", err)
			}
			committed = true
			return false, nil
		}
		if err := mdn.Handle(tx, rep, p.MDNsOn); err != nil {
			return false, fmt.Errorf("ingest: handle mdn: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("ingest: commit mdn: %w", err)
		}
		committed = true
		return true, nil
	}

	parts, err := p.decryptParts(raw)
	if err != nil {
		p.log.Warn().Err(err).Msg("decryption failed, persisting as undecryptable")
	}

	in := classify.Input{
		Rfc724Mid:     raw.Headers.Rfc724Mid,
		FromAddr:      raw.Headers.From,
		ToAddrs:       raw.Headers.To,
		CcAddrs:       raw.Headers.Cc,
		SelfAddr:      p.SelfAddr,
		ServerFolder:  raw.ServerFolder,
		ServerUID:     raw.ServerUID,
		Timestamp:     raw.Headers.Timestamp,
		HasReturnPath: raw.Headers.HasReturnPath,
		TransportSeen: raw.Headers.TransportSeen,
		IsMessenger:   raw.Headers.IsMessenger,
		WantsMDN:      raw.Headers.WantsMDN,
		Parts:         parts,
		Group:         groupHeaders(raw.Headers),
	}

	if _, err := classify.Classify(tx, in, time.Now()); err != nil {
		return false, fmt.Errorf("ingest: classify: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("ingest: commit: %w", err)
	}
	committed = true
	return true, nil
}

// decryptParts runs pk_decrypt over any ciphertext parts, replacing each
// with its plaintext and recording whether it was guaranteed/errorful E2EE
// via param (§6 param keys 'c'/'e'). Decryption failures are logged and the
// ciphertext is left in place rather than failing the whole ingest (§7). If
// no sender key is cached for the From address, it falls back to a WKD/HKP
// lookup (discoverSenderKey) before attempting verification.
func (p *Pipeline) decryptParts(raw RawMessage) ([]classify.Part, error) {
	out := append([]classify.Part(nil), raw.Parts...)
	if len(raw.CiphertextParts) == 0 {
		return out, nil
	}

	_, priv, err := p.Keys.LoadOwnKeypair(p.SelfAddr)
	if err != nil {
		return out, fmt.Errorf("load own keypair: %w", err)
	}
	privRing := pgp.NewKeyring(model.KeyPrivate)
	if err := privRing.Add(priv); err != nil {
		return out, fmt.Errorf("build private keyring: %w", err)
	}
	validators, err := p.Keys.SenderKeys(raw.Headers.From)
	if err != nil {
		validators = pgp.NewKeyring(model.KeyPublic)
	}
	if validators.Len() == 0 {
		p.discoverSenderKey(validators, raw.Headers.From)
	}

	var firstErr error
	for idx, ctext := range raw.CiphertextParts {
		plain, validFps, err := pgp.PKDecrypt(ctext, privRing, validators, true)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if idx < 0 || idx >= len(out) {
			continue
		}
		part := out[idx]
		part.Text = string(plain)
		if len(validFps) > 0 {
			part.Param = model.ParamSet(part.Param, model.ParamGuaranteedE2EE, "1")
		} else {
			part.Param = model.ParamSet(part.Param, model.ParamErrorfulE2EE, "1")
		}
		out[idx] = part
	}
	return out, firstErr
}

// discoverSenderKey is the fallback path for a sender with no cached public
// key: it tries WKD then HKP (§9, supplemental to spec.md — see DESIGN.md),
// adds anything found to validators, and caches it so later messages from
// the same sender skip the network round trip. Lookup failures are not
// fatal to ingest; the message is still persisted, just unverifiable.
func (p *Pipeline) discoverSenderKey(validators *pgp.Keyring, addr string) {
	found, err := pgp.LookupKey(addr, nil)
	if err != nil {
		p.log.Debug().Err(err).Str("addr", addr).Msg("sender key discovery failed")
		return
	}
	if found == nil {
		return
	}
	key, _, err := pgp.ImportPublicKey([]byte(found.Armored))
	if err != nil {
		p.log.Debug().Err(err).Str("addr", addr).Msg("discovered sender key did not parse")
		return
	}
	if err := validators.Add(key); err != nil {
		p.log.Debug().Err(err).Str("addr", addr).Msg("discovered sender key rejected")
		return
	}
	if err := p.Keys.CacheSenderKey(addr, key, found.Source); err != nil {
		p.log.Warn().Err(err).Str("addr", addr).Msg("failed to cache discovered sender key")
	}
}

func groupHeaders(h Headers) groupchat.Headers {
	return groupchat.Headers{
		GroupID:       h.GroupID,
		GroupName:     h.GroupName,
		MemberAdded:   h.MemberAdded,
		MemberRemoved: h.MemberRemoved,
		NameChanged:   h.NameChanged,
		MessageID:     h.MessageID,
		InReplyTo:     h.InReplyTo,
		References:    h.References,
		IsMessenger:   h.IsMessenger,
	}
}

// Source fetches raw messages from a transport (IMAP, a test fixture,
// etc.) and is the boundary the spec places out of scope (§1 Non-goals):
// the pipeline depends only on this interface, never on IMAP directly.
type Source interface {
	Fetch(ctx context.Context) (RawMessage, error)
}

// ErrNoMoreMessages signals Source.Fetch has drained its backlog; the run
// loop treats it as "wait for the next notification", not a failure.
var ErrNoMoreMessages = errors.New("ingest: no more messages")

// RunConfig configures Run's reconnect/backoff behavior, grounded on the
// same doubling-backoff-with-cap shape used for IMAP IDLE reconnects.
type RunConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRunConfig mirrors the transport layer's own reconnect defaults.
func DefaultRunConfig() RunConfig {
	return RunConfig{InitialBackoff: time.Second, MaxBackoff: 5 * time.Minute}
}

// Run pulls messages from src and ingests them until ctx is cancelled,
// backing off exponentially on transport errors and resetting the backoff
// after every successful fetch.
func (p *Pipeline) Run(ctx context.Context, src Source, cfg RunConfig) error {
	backoff := cfg.InitialBackoff
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		raw, err := src.Fetch(ctx)
		if errors.Is(err, ErrNoMoreMessages) {
			backoff = cfg.InitialBackoff
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}
		if err != nil {
			p.log.Warn().Err(err).Dur("backoff", backoff).Msg("fetch failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, cfg.MaxBackoff)
			continue
		}
		backoff = cfg.InitialBackoff

		if _, err := p.IngestOne(raw); err != nil {
			p.log.Warn().Err(err).Str("rfc724_mid", raw.Headers.Rfc724Mid).Msg("ingest failed")
		}
	}
}
