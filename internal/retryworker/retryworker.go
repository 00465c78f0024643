// Package retryworker is the single-threaded delivery and deletion loop:
// it acquires per-message leases, delivers via the destination adapter
// with exponential backoff on failure, and drives source-side deletion as
// an independently retried second step.
package retryworker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/caseywylie/y2g/internal/backoff"
	"github.com/caseywylie/y2g/internal/credential"
	"github.com/caseywylie/y2g/internal/destination"
	"github.com/caseywylie/y2g/internal/imapsource"
	"github.com/caseywylie/y2g/internal/pipeline"
	"github.com/caseywylie/y2g/internal/store"
)

// Store is the subset of internal/store.Store the worker depends on.
type Store interface {
	RecoverStuckLeases(cutoffISO string) (int64, error)
	DueDeliveries(limit int) ([]store.Message, error)
	DueDeletions(limit int) ([]store.Message, error)
	AcquireInsertLease(id int64) (bool, error)
	MarkInserted(id int64, gmailMessageID, gmailThreadID string) error
	MarkFailedRetry(id int64, lastError string, nextAttemptAt string) error
	MarkFailedPerm(id int64, lastError string) error
	MarkSourceDeleted(id int64) error
	MarkDeleteFailedRetry(id int64, lastError string, nextAttemptAt string) error
}

// Alerter sends a named, cooldown-bounded operator alert.
type Alerter interface {
	Send(kind, title, message string) error
}

// LabelResolver turns a label plan into concrete Gmail label ids, creating
// the custom label on first use and caching system label ids.
type LabelResolver interface {
	ResolveLabelIDs(ctx context.Context, plan pipeline.LabelPlan) ([]string, error)
}

// Config controls the worker's polling cadence and delivery policy.
type Config struct {
	PollInterval    time.Duration
	BatchSize       int
	GmailUserID     string
	CustomLabel     string
	DeliverToInbox  bool
	LeaseTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.GmailUserID == "" {
		c.GmailUserID = destination.UserID
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 10 * time.Minute
	}
	return c
}

// SourceFactory opens a fresh, authenticated IMAP connection for a single
// message operation; the worker never shares a watcher's connection.
type SourceFactory func() (*imapsource.Source, error)

// Worker is the delivery/deletion loop bound to one account.
type Worker struct {
	store   Store
	broker  *credential.Broker
	dial    SourceFactory
	labels  LabelResolver
	alert   Alerter
	cfg     Config
	log     *slog.Logger
}

// New builds a Worker.
func New(st Store, broker *credential.Broker, dial SourceFactory, labels LabelResolver, alerter Alerter, cfg Config, log *slog.Logger) *Worker {
	return &Worker{store: st, broker: broker, dial: dial, labels: labels, alert: alerter, cfg: cfg.withDefaults(), log: log}
}

// Run executes the loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-w.cfg.LeaseTimeout).Truncate(time.Second).Format(time.RFC3339)
	recovered, err := w.store.RecoverStuckLeases(cutoff)
	if err != nil {
		return fmt.Errorf("recover stuck leases: %w", err)
	}
	if recovered > 0 {
		w.log.Info("recovered stuck insertions", "event", "lease_recover", "recovered", recovered)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ts, err := w.broker.TokenSource(ctx)
		if err != nil {
			w.log.Warn("destination credential unavailable", "event", "oauth_unavailable", "error", err)
			if !w.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		deliveries, err := w.store.DueDeliveries(w.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("select due deliveries: %w", err)
		}
		deletions, err := w.store.DueDeletions(w.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("select due deletions: %w", err)
		}

		if len(deliveries) == 0 && len(deletions) == 0 {
			if !w.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		dest, err := destination.NewClient(ctx, ts)
		if err != nil {
			w.log.Warn("destination client unavailable", "error", err)
			if !w.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		for _, m := range deliveries {
			w.processDelivery(ctx, dest, m)
		}
		for _, m := range deletions {
			w.processDeletion(m)
		}
	}
}

func (w *Worker) sleep(ctx context.Context) bool {
	select {
	case <-time.After(w.cfg.PollInterval):
		return true
	case <-ctx.Done():
		return false
	}
}

func correlationID(m store.Message) string {
	return fmt.Sprintf("%s|%d|%d", m.MailboxName, m.UIDValidity, m.UID)
}

func (w *Worker) processDelivery(ctx context.Context, dest *destination.Client, m store.Message) {
	acquired, err := w.store.AcquireInsertLease(m.ID)
	if err != nil {
		w.log.Error("acquire lease failed", "error", err, "correlation_id", correlationID(m))
		return
	}
	if !acquired {
		return
	}

	w.log.Info("insert lease acquired", "event", "insert_attempt", "correlation_id", correlationID(m))

	src, err := w.dial()
	if err != nil {
		w.failDelivery(m, err)
		return
	}
	defer func() { _ = src.Close() }()

	if _, err := src.Select(m.MailboxName, true); err != nil {
		w.failDelivery(m, err)
		return
	}
	fetched, err := src.FetchRFC822(m.UID)
	if err != nil {
		w.failDelivery(m, err)
		return
	}

	prepared, err := pipeline.PrepareRawMessage(fetched.RFC822, m.MailboxName, m.UIDValidity, m.UID, m.RFC822SHA256)
	if err != nil {
		w.failDelivery(m, err)
		return
	}

	threadID := w.resolveThread(ctx, dest, prepared)

	plan := pipeline.ComputeLabelPlan(w.cfg.CustomLabel, w.cfg.DeliverToInbox, m.IMAPFlagsJSON)
	labelIDs, err := w.labels.ResolveLabelIDs(ctx, plan)
	if err != nil {
		w.failDelivery(m, err)
		return
	}

	gmailMessageID, gmailThreadID, err := dest.ImportRawMessage(ctx, prepared, labelIDs, threadID)
	if err != nil {
		w.failDelivery(m, err)
		return
	}

	if err := w.store.MarkInserted(m.ID, gmailMessageID, gmailThreadID); err != nil {
		w.log.Error("mark inserted failed", "error", err, "correlation_id", correlationID(m))
		return
	}
	w.log.Info("inserted into destination", "event", "insert_success", "correlation_id", correlationID(m),
		"gmail_message_id", gmailMessageID, "gmail_thread_id", gmailThreadID)
}

func (w *Worker) resolveThread(ctx context.Context, dest *destination.Client, prepared []byte) string {
	if inReplyTo := pipeline.ExtractInReplyTo(prepared); inReplyTo != "" {
		if id, err := dest.FindThreadByMessageID(ctx, inReplyTo); err == nil && id != "" {
			return id
		}
	}
	refs := pipeline.ExtractReferences(prepared)
	for i := len(refs) - 1; i >= 0; i-- {
		if id, err := dest.FindThreadByMessageID(ctx, refs[i]); err == nil && id != "" {
			return id
		}
	}
	return ""
}

func (w *Worker) failDelivery(m store.Message, cause error) {
	class := destination.Classify(cause)

	if class.OAuthAlert {
		_ = w.alert.Send("oauth_invalid", "Destination credential rejected", cause.Error())
	}
	if oerr, ok := asOAuthError(cause); ok {
		w.alertOAuthKind(oerr)
	}

	if class.Retryable {
		next := backoff.NextAttemptAt(time.Now().UTC(), m.AttemptCount).Truncate(time.Second).Format(time.RFC3339)
		if err := w.store.MarkFailedRetry(m.ID, cause.Error(), next); err != nil {
			w.log.Error("mark failed retry failed", "error", err, "correlation_id", correlationID(m))
			return
		}
		w.log.Warn("insert failed, retry scheduled", "event", "insert_failure", "correlation_id", correlationID(m), "error", cause, "next_attempt_at", next)
		return
	}

	if err := w.store.MarkFailedPerm(m.ID, cause.Error()); err != nil {
		w.log.Error("mark failed perm failed", "error", err, "correlation_id", correlationID(m))
		return
	}
	w.log.Error("insert failed permanently", "event", "insert_failure_perm", "correlation_id", correlationID(m), "error", cause)
}

func asOAuthError(err error) (*credential.OAuthError, bool) {
	oerr, ok := err.(*credential.OAuthError)
	return oerr, ok
}

func (w *Worker) alertOAuthKind(oerr *credential.OAuthError) {
	var kind, title string
	switch oerr.Kind {
	case credential.KindInvalidGrant:
		kind, title = "oauth_invalid_grant", "Destination OAuth refresh token rejected"
	case credential.KindClientMismatch:
		kind, title = "oauth_client_mismatch", "Destination OAuth client mismatch"
	case credential.KindScopeInsufficient:
		kind, title = "oauth_scope_insufficient", "Destination OAuth token missing required scopes"
	default:
		kind, title = "oauth_invalid", "Destination OAuth credential invalid"
	}
	_ = w.alert.Send(kind, title, oerr.Error())
}

func (w *Worker) processDeletion(m store.Message) {
	src, err := w.dial()
	if err != nil {
		w.failDeletion(m, err)
		return
	}
	defer func() { _ = src.Close() }()

	if err := src.DeleteUID(m.MailboxName, m.UIDValidity, m.UID); err != nil {
		w.failDeletion(m, err)
		return
	}
	if err := w.store.MarkSourceDeleted(m.ID); err != nil {
		w.log.Error("mark source deleted failed", "error", err, "correlation_id", correlationID(m))
		return
	}
	w.log.Info("source copy deleted", "event", "delete_success", "correlation_id", correlationID(m))
}

func (w *Worker) failDeletion(m store.Message, cause error) {
	next := backoff.NextAttemptAt(time.Now().UTC(), m.YahooDeleteAttemptCount).Truncate(time.Second).Format(time.RFC3339)
	if err := w.store.MarkDeleteFailedRetry(m.ID, cause.Error(), next); err != nil {
		w.log.Error("mark delete failed retry failed", "error", err, "correlation_id", correlationID(m))
		return
	}
	w.log.Warn("delete failed, retry scheduled", "event", "delete_failure", "correlation_id", correlationID(m), "error", cause, "next_attempt_at", next)
}
