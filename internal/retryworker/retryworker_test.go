package retryworker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/caseywylie/y2g/internal/credential"
	"github.com/caseywylie/y2g/internal/imapsource"
	"github.com/caseywylie/y2g/internal/secretbox"
	"github.com/caseywylie/y2g/internal/store"
	"google.golang.org/api/googleapi"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

type fakeStore struct {
	acquireResult bool
	acquireErr    error

	markFailedRetryCalls   []int64
	markFailedRetryErrs    []string
	markFailedPermCalls    []int64
	markInsertedCalls      []int64
	markSourceDeletedCalls []int64
	markDeleteRetryCalls   []int64

	recoverStuckCutoff string
	recoverStuckCount  int64
}

func (f *fakeStore) RecoverStuckLeases(cutoffISO string) (int64, error) {
	f.recoverStuckCutoff = cutoffISO
	return f.recoverStuckCount, nil
}
func (f *fakeStore) DueDeliveries(limit int) ([]store.Message, error) { return nil, nil }
func (f *fakeStore) DueDeletions(limit int) ([]store.Message, error)  { return nil, nil }
func (f *fakeStore) AcquireInsertLease(id int64) (bool, error)        { return f.acquireResult, f.acquireErr }
func (f *fakeStore) MarkInserted(id int64, gmailMessageID, gmailThreadID string) error {
	f.markInsertedCalls = append(f.markInsertedCalls, id)
	return nil
}
func (f *fakeStore) MarkFailedRetry(id int64, lastError string, nextAttemptAt string) error {
	f.markFailedRetryCalls = append(f.markFailedRetryCalls, id)
	f.markFailedRetryErrs = append(f.markFailedRetryErrs, lastError)
	return nil
}
func (f *fakeStore) MarkFailedPerm(id int64, lastError string) error {
	f.markFailedPermCalls = append(f.markFailedPermCalls, id)
	return nil
}
func (f *fakeStore) MarkSourceDeleted(id int64) error {
	f.markSourceDeletedCalls = append(f.markSourceDeletedCalls, id)
	return nil
}
func (f *fakeStore) MarkDeleteFailedRetry(id int64, lastError string, nextAttemptAt string) error {
	f.markDeleteRetryCalls = append(f.markDeleteRetryCalls, id)
	return nil
}

type fakeAlerter struct {
	calls []string
}

func (f *fakeAlerter) Send(kind, title, message string) error {
	f.calls = append(f.calls, kind)
	return nil
}

func newTestWorker(st Store, alert Alerter) *Worker {
	return New(st, nil, nil, nil, alert, Config{}, discardLogger())
}

func TestFailDelivery_RetryableGoogleAPIErrorSchedulesRetry(t *testing.T) {
	st := &fakeStore{}
	w := newTestWorker(st, &fakeAlerter{})

	w.failDelivery(store.Message{ID: 7}, &googleapi.Error{Code: http.StatusInternalServerError})

	if len(st.markFailedRetryCalls) != 1 || st.markFailedRetryCalls[0] != 7 {
		t.Fatalf("expected MarkFailedRetry(7), got %v", st.markFailedRetryCalls)
	}
	if len(st.markFailedPermCalls) != 0 {
		t.Fatalf("expected no permanent failure, got %v", st.markFailedPermCalls)
	}
}

func TestFailDelivery_NonRetryableGoogleAPIErrorMarksPermanent(t *testing.T) {
	st := &fakeStore{}
	w := newTestWorker(st, &fakeAlerter{})

	w.failDelivery(store.Message{ID: 9}, &googleapi.Error{Code: http.StatusBadRequest})

	if len(st.markFailedPermCalls) != 1 || st.markFailedPermCalls[0] != 9 {
		t.Fatalf("expected MarkFailedPerm(9), got %v", st.markFailedPermCalls)
	}
	if len(st.markFailedRetryCalls) != 0 {
		t.Fatalf("expected no retry scheduled, got %v", st.markFailedRetryCalls)
	}
}

func TestFailDelivery_UnauthorizedRaisesOAuthAlert(t *testing.T) {
	st := &fakeStore{}
	alert := &fakeAlerter{}
	w := newTestWorker(st, alert)

	w.failDelivery(store.Message{ID: 1}, &googleapi.Error{Code: http.StatusUnauthorized})

	if len(alert.calls) != 1 || alert.calls[0] != "oauth_invalid" {
		t.Fatalf("expected one oauth_invalid alert, got %v", alert.calls)
	}
	if len(st.markFailedRetryCalls) != 1 {
		t.Fatalf("expected a retry to still be scheduled for 401, got %v", st.markFailedRetryCalls)
	}
}

func TestFailDelivery_CredentialOAuthErrorAlertsSpecificKind(t *testing.T) {
	st := &fakeStore{}
	alert := &fakeAlerter{}
	w := newTestWorker(st, alert)

	cause := &credential.OAuthError{Kind: credential.KindInvalidGrant, Err: fmt.Errorf("refresh token revoked")}
	w.failDelivery(store.Message{ID: 3}, cause)

	if len(alert.calls) != 1 || alert.calls[0] != "oauth_invalid_grant" {
		t.Fatalf("expected one oauth_invalid_grant alert, got %v", alert.calls)
	}
}

func TestFailDeletion_SchedulesRetry(t *testing.T) {
	st := &fakeStore{}
	w := newTestWorker(st, &fakeAlerter{})

	w.failDeletion(store.Message{ID: 5}, fmt.Errorf("imap unreachable"))

	if len(st.markDeleteRetryCalls) != 1 || st.markDeleteRetryCalls[0] != 5 {
		t.Fatalf("expected MarkDeleteFailedRetry(5), got %v", st.markDeleteRetryCalls)
	}
}

func TestProcessDelivery_LeaseNotAcquiredSkipsDial(t *testing.T) {
	st := &fakeStore{acquireResult: false}
	w := New(st, nil, func() (*imapsource.Source, error) {
		t.Fatalf("dial should not be called when the lease is not acquired")
		return nil, nil
	}, nil, &fakeAlerter{}, Config{}, discardLogger())

	w.processDelivery(context.Background(), nil, store.Message{ID: 11})

	if len(st.markFailedRetryCalls) != 0 || len(st.markFailedPermCalls) != 0 {
		t.Fatalf("expected no failure recorded when lease was not acquired")
	}
}

func TestProcessDelivery_DialErrorSchedulesRetry(t *testing.T) {
	st := &fakeStore{acquireResult: true}
	dialErr := fmt.Errorf("connection refused")
	w := New(st, nil, func() (*imapsource.Source, error) { return nil, dialErr }, nil, &fakeAlerter{}, Config{}, discardLogger())

	w.processDelivery(context.Background(), nil, store.Message{ID: 13})

	if len(st.markFailedRetryCalls) != 1 || st.markFailedRetryCalls[0] != 13 {
		t.Fatalf("expected dial failure to schedule a retry, got retry=%v perm=%v", st.markFailedRetryCalls, st.markFailedPermCalls)
	}
}

func TestProcessDeletion_DialErrorSchedulesRetry(t *testing.T) {
	st := &fakeStore{}
	dialErr := fmt.Errorf("connection refused")
	w := New(st, nil, func() (*imapsource.Source, error) { return nil, dialErr }, nil, &fakeAlerter{}, Config{}, discardLogger())

	w.processDeletion(store.Message{ID: 21})

	if len(st.markDeleteRetryCalls) != 1 || st.markDeleteRetryCalls[0] != 21 {
		t.Fatalf("expected dial failure to schedule a delete retry, got %v", st.markDeleteRetryCalls)
	}
	if len(st.markSourceDeletedCalls) != 0 {
		t.Fatalf("expected no source-deleted mark on dial failure")
	}
}

func newIntegrationStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func testSealer(t *testing.T) secretbox.Sealer {
	t.Helper()
	key, err := secretbox.LoadMasterKey("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	if err != nil {
		t.Fatalf("load master key: %v", err)
	}
	return secretbox.Sealer{Key: key}
}

func TestRun_ReturnsErrorWhenContextCancelled(t *testing.T) {
	st := newIntegrationStore(t)
	seal := testSealer(t)
	broker := credential.New(st, seal, credential.Config{ClientID: "id", ClientSecret: "secret"})

	w := New(st, broker, func() (*imapsource.Source, error) { return nil, fmt.Errorf("unused") },
		nil, &fakeAlerter{}, Config{PollInterval: time.Millisecond}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Run(ctx)
	if err == nil {
		t.Fatalf("expected Run to return an error once the context is cancelled")
	}
}
