package credential

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type fakeSecretStore struct {
	ciphertext []byte
	present    bool
	createdAt  string
}

func (f *fakeSecretStore) GetSecret(key string) ([]byte, bool, error) {
	if !f.present {
		return nil, false, nil
	}
	return f.ciphertext, true, nil
}

func (f *fakeSecretStore) PutSecret(key string, ciphertext []byte) error {
	f.ciphertext = ciphertext
	f.present = true
	f.createdAt = time.Now().UTC().Format(time.RFC3339Nano)
	return nil
}

func (f *fakeSecretStore) SecretCreatedAt(key string) (string, bool, error) {
	if !f.present {
		return "", false, nil
	}
	return f.createdAt, true, nil
}

// identitySealer round-trips plaintext unchanged, so tests can inspect the
// stored JSON directly without wiring real AEAD sealing.
type identitySealer struct{}

func (identitySealer) Seal(plaintext []byte) ([]byte, error)   { return plaintext, nil }
func (identitySealer) Open(ciphertext []byte) ([]byte, error) { return ciphertext, nil }

func putToken(t *testing.T, store *fakeSecretStore, st storedToken) {
	t.Helper()
	payload, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal stored token: %v", err)
	}
	if err := store.PutSecret(TokenSecretKey, payload); err != nil {
		t.Fatalf("put secret: %v", err)
	}
}

func TestBroker_TokenSource_Missing(t *testing.T) {
	store := &fakeSecretStore{}
	b := New(store, identitySealer{}, Config{ClientID: "client-a"})

	_, err := b.TokenSource(context.Background())
	var oerr *OAuthError
	if !errors.As(err, &oerr) || oerr.Kind != KindMissing {
		t.Fatalf("expected KindMissing, got %v", err)
	}
}

func TestBroker_TokenSource_ValidCached(t *testing.T) {
	store := &fakeSecretStore{}
	putToken(t, store, storedToken{
		AccessToken: "access-1",
		ClientID:    "client-a",
		Scopes:      RequiredScopes,
		Expiry:      time.Now().Add(time.Hour),
	})
	b := New(store, identitySealer{}, Config{ClientID: "client-a"})

	ts, err := b.TokenSource(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tok, err := ts.Token()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok.AccessToken != "access-1" {
		t.Fatalf("got access token %q", tok.AccessToken)
	}

	// Calling again without a rotation should return the cached source.
	ts2, err := b.TokenSource(context.Background())
	if err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
	if ts2 != ts {
		t.Fatalf("expected cached token source to be reused")
	}
}

func TestBroker_TokenSource_ClientMismatch(t *testing.T) {
	store := &fakeSecretStore{}
	putToken(t, store, storedToken{
		AccessToken: "access-1",
		ClientID:    "other-client",
		Scopes:      RequiredScopes,
		Expiry:      time.Now().Add(time.Hour),
	})
	b := New(store, identitySealer{}, Config{ClientID: "client-a"})

	_, err := b.TokenSource(context.Background())
	var oerr *OAuthError
	if !errors.As(err, &oerr) || oerr.Kind != KindClientMismatch {
		t.Fatalf("expected KindClientMismatch, got %v", err)
	}
}

func TestBroker_TokenSource_ScopeInsufficient(t *testing.T) {
	store := &fakeSecretStore{}
	putToken(t, store, storedToken{
		AccessToken: "access-1",
		ClientID:    "client-a",
		Scopes:      []string{"https://www.googleapis.com/auth/gmail.readonly"},
		Expiry:      time.Now().Add(time.Hour),
	})
	b := New(store, identitySealer{}, Config{ClientID: "client-a"})

	_, err := b.TokenSource(context.Background())
	var oerr *OAuthError
	if !errors.As(err, &oerr) || oerr.Kind != KindScopeInsufficient {
		t.Fatalf("expected KindScopeInsufficient, got %v", err)
	}
}

func TestBroker_TokenSource_ExpiredNoRefreshToken(t *testing.T) {
	store := &fakeSecretStore{}
	putToken(t, store, storedToken{
		AccessToken: "access-1",
		ClientID:    "client-a",
		Scopes:      RequiredScopes,
		Expiry:      time.Now().Add(-time.Hour),
	})
	b := New(store, identitySealer{}, Config{ClientID: "client-a"})

	_, err := b.TokenSource(context.Background())
	var oerr *OAuthError
	if !errors.As(err, &oerr) || oerr.Kind != KindNotRefreshable {
		t.Fatalf("expected KindNotRefreshable, got %v", err)
	}
}

func TestHasAllScopes(t *testing.T) {
	if !hasAllScopes([]string{"a", "b", "c"}, []string{"a", "b"}) {
		t.Fatalf("expected superset to satisfy required scopes")
	}
	if hasAllScopes([]string{"a"}, []string{"a", "b"}) {
		t.Fatalf("expected missing scope to fail")
	}
}
