// Package imapsource is the source-mailbox adapter: it wraps a single
// authenticated IMAP connection with the handful of operations the watcher
// needs (select, search, fetch, delete, idle) and turns library-specific
// failures into a single SourceError the watcher can branch on.
package imapsource

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	idle "github.com/emersion/go-imap-idle"
)

// SourceError wraps a failure from the underlying IMAP client with the
// operation that produced it, so callers can log without inspecting
// library-specific error types.
type SourceError struct {
	Op  string
	Err error
}

func (e *SourceError) Error() string { return fmt.Sprintf("imapsource: %s: %v", e.Op, e.Err) }
func (e *SourceError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &SourceError{Op: op, Err: err}
}

// Config holds the connection parameters for a single source account.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

// Source is one authenticated IMAP connection, read-write, not safe for
// concurrent use: the watcher owns it exclusively.
type Source struct {
	cfg    Config
	client *client.Client
}

// Connect dials over TLS, logs in, and returns a ready Source. The caller
// must call Close when done with it.
func Connect(cfg Config) (*Source, error) {
	address := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	tlsConfig := &tls.Config{ServerName: cfg.Host}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	type result struct {
		c   *client.Client
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := client.DialTLS(address, tlsConfig)
		done <- result{c, err}
	}()

	var c *client.Client
	select {
	case r := <-done:
		if r.err != nil {
			return nil, wrap("dial", r.err)
		}
		c = r.c
	case <-time.After(timeout):
		return nil, wrap("dial", fmt.Errorf("timed out connecting to %s", address))
	}

	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		_ = c.Logout()
		return nil, wrap("login", err)
	}

	return &Source{cfg: cfg, client: c}, nil
}

// Close logs out of the IMAP session.
func (s *Source) Close() error {
	return wrap("logout", s.client.Logout())
}

// ListMailboxes returns every mailbox name the account exposes via LIST.
func (s *Source) ListMailboxes() ([]string, error) {
	mailboxes := make(chan *imap.MailboxInfo, 16)
	done := make(chan error, 1)
	go func() {
		done <- s.client.List("", "*", mailboxes)
	}()

	var names []string
	for m := range mailboxes {
		names = append(names, m.Name)
	}
	if err := <-done; err != nil {
		return nil, wrap("list", err)
	}
	return names, nil
}

// Select opens mailbox and returns its current UIDVALIDITY. readonly
// should be true for every caller except DeleteUID's own re-select: a
// read-only SELECT is what makes the watcher's non-PEEK FetchRFC822 safe
// to issue without the server setting \Seen as a side effect.
func (s *Source) Select(mailbox string, readonly bool) (uidvalidity uint32, err error) {
	status, err := s.client.Select(mailbox, readonly)
	if err != nil {
		return 0, wrap("select", err)
	}
	return status.UidValidity, nil
}

// SearchUIDsSince returns every UID in the selected mailbox >= sinceUID,
// ascending, matching the original "UID sinceUID:*" search. Because "*" is
// the highest UID, the result can also hold that UID when it is below
// sinceUID; callers compare against their own cursor.
func (s *Source) SearchUIDsSince(sinceUID uint32) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	seqset := &imap.SeqSet{}
	seqset.AddRange(sinceUID, 0) // 0 means "*", the highest UID
	criteria.Uid = seqset

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, wrap("search", err)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

// FetchedMessage is one RFC822 message plus the envelope metadata the
// pipeline and store need.
type FetchedMessage struct {
	UID         uint32
	RFC822      []byte
	Flags       []string
	InternalDate *time.Time
}

// FetchRFC822 retrieves the full raw message, flags, and internal date for
// a single UID.
func (s *Source) FetchRFC822(uid uint32) (*FetchedMessage, error) {
	seqset := &imap.SeqSet{}
	seqset.AddNum(uid)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{
		imap.FetchUid,
		imap.FetchFlags,
		imap.FetchInternalDate,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqset, items, messages)
	}()

	msg, ok := <-messages
	fetchErr := <-done
	if fetchErr != nil {
		return nil, wrap("fetch", fetchErr)
	}
	if !ok || msg == nil {
		return nil, wrap("fetch", fmt.Errorf("no message returned for uid %d", uid))
	}

	body := msg.GetBody(section)
	if body == nil {
		return nil, wrap("fetch", fmt.Errorf("no body section for uid %d", uid))
	}
	raw := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			raw = append(raw, buf[:n]...)
		}
		if readErr != nil {
			break
		}
	}

	var internalDate *time.Time
	if !msg.InternalDate.IsZero() {
		d := msg.InternalDate
		internalDate = &d
	}

	return &FetchedMessage{
		UID:          msg.Uid,
		RFC822:       raw,
		Flags:        msg.Flags,
		InternalDate: internalDate,
	}, nil
}

// NOOP keeps the connection alive and lets the server report pending
// EXISTS/RECENT updates ahead of a refresh.
func (s *Source) NOOP() error {
	return wrap("noop", s.client.Noop())
}

// DeleteUID refuses the delete unless the mailbox's current UIDVALIDITY
// still matches expectedUIDValidity, then flags the message \Deleted and
// expunges it.
func (s *Source) DeleteUID(mailbox string, expectedUIDValidity uint32, uid uint32) error {
	status, err := s.client.Select(mailbox, false)
	if err != nil {
		return wrap("select-for-delete", err)
	}
	if status.UidValidity != expectedUIDValidity {
		return wrap("delete", fmt.Errorf("uidvalidity changed (expected %d, got %d); refusing delete", expectedUIDValidity, status.UidValidity))
	}

	seqset := &imap.SeqSet{}
	seqset.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.DeletedFlag}
	if err := s.client.UidStore(seqset, item, flags, nil); err != nil {
		return wrap("store-deleted", err)
	}
	if err := s.client.Expunge(nil); err != nil {
		return wrap("expunge", err)
	}
	return nil
}

// HasIdle reports whether the server advertised the IDLE capability.
func (s *Source) HasIdle() (bool, error) {
	caps, err := s.client.Capability()
	if err != nil {
		return false, wrap("capability", err)
	}
	return caps["IDLE"], nil
}

// IdleResult describes why an IdleWait call returned.
type IdleResult struct {
	Notified bool // true if the server sent a mailbox update before timeout/ctx
	TimedOut bool
}

// IdleWait enters IDLE and blocks until the server pushes an update, the
// timeout elapses, or ctx is cancelled — whichever comes first.
func (s *Source) IdleWait(ctx context.Context, timeout time.Duration) (IdleResult, error) {
	idleClient := idle.NewClient(s.client)
	updates := make(chan client.Update, 1)
	s.client.Updates = updates

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idleClient.Idle(stop)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		close(stop)
		<-done
		return IdleResult{}, ctx.Err()
	case err := <-done:
		return IdleResult{}, wrap("idle", err)
	case <-timer.C:
		close(stop)
		<-done
		return IdleResult{TimedOut: true}, nil
	case u := <-updates:
		close(stop)
		<-done
		_, isMailboxUpdate := u.(*client.MailboxUpdate)
		return IdleResult{Notified: isMailboxUpdate}, nil
	}
}

// IsTransient reports whether err looks like a network-level failure worth
// reconnecting over, as opposed to a permanent configuration problem.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "timed out", "connection reset", "broken pipe", "eof", "use of closed network connection"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
