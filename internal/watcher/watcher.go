// Package watcher drives the per-mailbox IDLE state machine: connect,
// select, catch up on missed UIDs, idle for new mail, drain, and repeat,
// persisting every newly discovered message in state FETCHED.
package watcher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/caseywylie/y2g/internal/imapsource"
	"github.com/caseywylie/y2g/internal/store"
	"github.com/emersion/go-message"
)

// Store is the subset of internal/store.Store the watcher depends on.
type Store interface {
	MailboxCursor(accountID int64, name string) (uidvalidity uint32, lastSeenUID uint32, ok bool, err error)
	UpsertMailboxCursor(accountID int64, name string, uidvalidity, lastSeenUID uint32) error
	AdvanceLastSeenUID(accountID int64, name string, lastSeenUID uint32) error
	InsertFetched(m store.Message) error
}

// Config controls the watcher's timing.
type Config struct {
	IdleTimeout  time.Duration
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 900 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	return c
}

// SourceFactory opens a fresh, authenticated IMAP connection. The watcher
// calls it on startup and on every reconnect.
type SourceFactory func() (*imapsource.Source, error)

// Watcher owns one IMAP connection for one mailbox and keeps its
// (uidvalidity, last_seen_uid) cursor in Store up to date.
type Watcher struct {
	accountID int64
	mailbox   string
	store     Store
	dial      SourceFactory
	cfg       Config
	log       *slog.Logger

	source      *imapsource.Source
	uidvalidity uint32
	lastSeenUID uint32
}

// New builds a Watcher for one mailbox.
func New(accountID int64, mailbox string, st Store, dial SourceFactory, cfg Config, log *slog.Logger) *Watcher {
	return &Watcher{
		accountID: accountID,
		mailbox:   mailbox,
		store:     st,
		dial:      dial,
		cfg:       cfg.withDefaults(),
		log:       log.With("mailbox", mailbox),
	}
}

func (w *Watcher) correlationID() string {
	return fmt.Sprintf("%s|%d|%d", w.mailbox, w.uidvalidity, w.lastSeenUID)
}

// Run drives the watcher loop until ctx is cancelled. It never returns nil
// for a protocol/socket error — those are handled internally by
// reconnecting — but does return ctx.Err() on cancellation, and an error
// if the mailbox cannot be selected at all on first connect.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.connectAndSelect(); err != nil {
		return err
	}
	defer func() {
		if w.source != nil {
			_ = w.source.Close()
		}
	}()

	if err := w.drain(); err != nil {
		w.log.Warn("catchup drain failed", "error", err, "correlation_id", w.correlationID())
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		hasIdle, err := w.source.HasIdle()
		if err != nil {
			w.handleConnError("idle_capability", err)
			if err := w.reconnect(ctx); err != nil {
				return err
			}
			continue
		}

		if !hasIdle {
			select {
			case <-time.After(w.cfg.PollInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
			if err := w.drain(); err != nil {
				w.handleConnError("drain", err)
				if err := w.reconnect(ctx); err != nil {
					return err
				}
			}
			continue
		}

		w.log.Info("entered idle", "event", "imap_idle_enter", "correlation_id", w.correlationID())
		result, err := w.source.IdleWait(ctx, w.cfg.IdleTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.handleConnError("idle", err)
			if err := w.reconnect(ctx); err != nil {
				return err
			}
			continue
		}
		w.log.Info("exited idle", "event", "imap_idle_exit", "correlation_id", w.correlationID(), "notified", result.Notified)

		// Every IDLE exit, whether by deadline or server notification,
		// reconnects and re-selects before draining: see DESIGN.md's
		// resolution of the IDLE-policy open question.
		if err := w.reconnect(ctx); err != nil {
			return err
		}
		if err := w.drain(); err != nil {
			w.handleConnError("drain", err)
			if err := w.reconnect(ctx); err != nil {
				return err
			}
		}
	}
}

func (w *Watcher) handleConnError(op string, err error) {
	w.log.Warn("imap error, reconnecting", "event", "imap_error", "op", op, "correlation_id", w.correlationID(), "error", err)
}

func (w *Watcher) connectAndSelect() error {
	src, err := w.dial()
	if err != nil {
		return fmt.Errorf("connect mailbox watcher for %s: %w", w.mailbox, err)
	}
	w.source = src

	uidvalidity, err := w.source.Select(w.mailbox, true)
	if err != nil {
		return fmt.Errorf("select mailbox %s: %w", w.mailbox, err)
	}

	storedUIDValidity, storedLastSeen, ok, err := w.store.MailboxCursor(w.accountID, w.mailbox)
	if err != nil {
		return fmt.Errorf("load mailbox cursor: %w", err)
	}

	switch {
	case !ok:
		uids, err := w.source.SearchUIDsSince(1)
		if err != nil {
			return fmt.Errorf("initial search for %s: %w", w.mailbox, err)
		}
		lastSeen := uint32(0)
		for _, u := range uids {
			if u > lastSeen {
				lastSeen = u
			}
		}
		if err := w.store.UpsertMailboxCursor(w.accountID, w.mailbox, uidvalidity, lastSeen); err != nil {
			return fmt.Errorf("persist initial cursor: %w", err)
		}
		w.uidvalidity, w.lastSeenUID = uidvalidity, lastSeen

	case storedUIDValidity != uidvalidity:
		w.log.Warn("uidvalidity changed; resetting last_seen_uid",
			"event", "imap_uidvalidity_reset", "old_uidvalidity", storedUIDValidity, "new_uidvalidity", uidvalidity)
		if err := w.store.UpsertMailboxCursor(w.accountID, w.mailbox, uidvalidity, 0); err != nil {
			return fmt.Errorf("persist reset cursor: %w", err)
		}
		w.uidvalidity, w.lastSeenUID = uidvalidity, 0

	default:
		w.uidvalidity, w.lastSeenUID = uidvalidity, storedLastSeen
	}

	w.log.Info("imap mailbox watcher started", "event", "imap_connect", "correlation_id", w.correlationID())
	return nil
}

func (w *Watcher) reconnect(ctx context.Context) error {
	if w.source != nil {
		_ = w.source.Close()
	}
	for {
		if err := w.connectAndSelect(); err != nil {
			w.log.Warn("reconnect failed; retrying", "error", err)
			select {
			case <-time.After(w.cfg.PollInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		w.log.Info("imap reconnected", "event", "imap_reconnect", "correlation_id", w.correlationID())
		return nil
	}
}

// drain issues NOOP (best-effort) then fetches and persists every UID
// strictly greater than last_seen_uid.
func (w *Watcher) drain() error {
	_ = w.source.NOOP()

	uids, err := w.source.SearchUIDsSince(w.lastSeenUID + 1)
	if err != nil {
		return fmt.Errorf("drain search: %w", err)
	}

	maxSeen := w.lastSeenUID
	for _, uid := range uids {
		if uid <= w.lastSeenUID {
			continue
		}
		if err := w.fetchAndPersist(uid); err != nil {
			return err
		}
		if uid > maxSeen {
			maxSeen = uid
		}
	}

	if maxSeen != w.lastSeenUID {
		w.lastSeenUID = maxSeen
		if err := w.store.AdvanceLastSeenUID(w.accountID, w.mailbox, maxSeen); err != nil {
			return fmt.Errorf("advance last_seen_uid: %w", err)
		}
	}
	return nil
}

func (w *Watcher) fetchAndPersist(uid uint32) error {
	correlationID := fmt.Sprintf("%s|%d|%d", w.mailbox, w.uidvalidity, uid)
	w.log.Info("message discovered", "event", "message_discovered", "correlation_id", correlationID, "uid", uid)

	fetched, err := w.source.FetchRFC822(uid)
	if err != nil {
		return fmt.Errorf("fetch uid %d: %w", uid, err)
	}

	sum := sha256.Sum256(fetched.RFC822)
	digest := hex.EncodeToString(sum[:])
	messageID := extractMessageID(fetched.RFC822)
	flagsJSON := flagsToJSON(fetched.Flags)

	var internalDate *string
	if fetched.InternalDate != nil {
		s := fetched.InternalDate.UTC().Format(time.RFC3339)
		internalDate = &s
	}

	err = w.store.InsertFetched(store.Message{
		AccountID:        w.accountID,
		MailboxName:      w.mailbox,
		UIDValidity:      w.uidvalidity,
		UID:              uid,
		MessageID:        messageID,
		RFC822SHA256:     digest,
		IMAPInternalDate: internalDate,
		IMAPFlagsJSON:    flagsJSON,
	})
	if err != nil {
		return fmt.Errorf("persist uid %d: %w", uid, err)
	}

	w.log.Info("message fetched", "event", "message_fetched", "correlation_id", correlationID, "uid", uid, "size", len(fetched.RFC822))
	return nil
}

var angleAddr = regexp.MustCompile(`<[^>]+>`)

// extractMessageID parses the raw RFC822 bytes for a Message-ID header,
// tolerating malformed input by never failing: a parse error just yields nil.
func extractMessageID(raw []byte) *string {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil {
		return nil
	}
	value := strings.TrimSpace(entity.Header.Get("Message-Id"))
	if value == "" {
		return nil
	}
	if m := angleAddr.FindString(value); m != "" {
		return &m
	}
	return &value
}

func flagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range flags {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(strings.ReplaceAll(f, `\`, `\\`), `"`, `\"`))
		b.WriteByte('"')
	}
	b.WriteByte(']')
	return b.String()
}
