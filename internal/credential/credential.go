// Package credential is the destination OAuth broker: it produces a
// currently-valid oauth2.Token on demand, refreshes it when expired,
// persists refreshed tokens back to the secret store, and detects rotation
// performed outside this process.
package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// TokenSecretKey is the secrets table key under which the destination
// OAuth token JSON is stored.
const TokenSecretKey = "gmail_oauth_tokens"

// Kind classifies why a broker call failed, so callers can alert with a
// precise reason instead of a raw error string.
type Kind string

const (
	KindMissing          Kind = "missing"
	KindUnreadable       Kind = "unreadable"
	KindClientMismatch   Kind = "client_mismatch"
	KindScopeInsufficient Kind = "scope_insufficient"
	KindInvalidGrant     Kind = "invalid_grant"
	KindInvalidClient    Kind = "invalid_client"
	KindInvalid          Kind = "invalid"
	KindNotRefreshable   Kind = "not_refreshable"
)

// OAuthError reports a broker failure classified by Kind.
type OAuthError struct {
	Kind Kind
	Err  error
}

func (e *OAuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oauth: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("oauth: %s", e.Kind)
}
func (e *OAuthError) Unwrap() error { return e.Err }

// RequiredScopes are the Gmail API scopes this system needs.
var RequiredScopes = []string{
	"https://www.googleapis.com/auth/gmail.insert",
	"https://www.googleapis.com/auth/gmail.labels",
	"https://www.googleapis.com/auth/gmail.readonly",
}

// storedToken is the JSON shape persisted to the secret store, matching
// the fields needed to reconstruct an oauth2.Token and detect mismatches.
type storedToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenURI     string    `json:"token_uri"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	Scopes       []string  `json:"scopes"`
	Expiry       time.Time `json:"expiry"`

	// LastAccessTokenRefreshAt is set every time persist writes a new
	// access token, whether from the initial exchange or a refresh.
	LastAccessTokenRefreshAt time.Time `json:"last_access_token_refresh_at"`
	// RefreshTokenUpdatedAt only advances when the refresh token value
	// itself changes, so it reflects the last rotation, not every
	// access-token refresh.
	RefreshTokenUpdatedAt time.Time `json:"refresh_token_updated_at"`
}

// SecretStore is the subset of internal/store.Store the broker depends on,
// expressed as an interface so tests can substitute an in-memory fake.
type SecretStore interface {
	GetSecret(key string) ([]byte, bool, error)
	PutSecret(key string, ciphertext []byte) error
	SecretCreatedAt(key string) (string, bool, error)
}

// Sealer encrypts/decrypts secret payloads; satisfied by internal/secretbox
// bound to the process master key.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// Config is the destination OAuth client's static configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

func (c Config) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Scopes:       RequiredScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
	}
}

// Broker caches a derived oauth2.TokenSource and the secret row's created_at
// it was built from, rebuilding only when rotation is detected.
type Broker struct {
	store  SecretStore
	seal   Sealer
	cfg    Config

	cachedTokenCreatedAt string
	cachedTokenSource    oauth2.TokenSource
}

// New constructs a Broker bound to a secret store and sealer.
func New(store SecretStore, seal Sealer, cfg Config) *Broker {
	return &Broker{store: store, seal: seal, cfg: cfg}
}

// AuthorizationURL returns the URL an operator visits to grant access.
func (b *Broker) AuthorizationURL() string {
	return b.cfg.oauthConfig().AuthCodeURL("state", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode trades an authorization code for tokens and persists them.
func (b *Broker) ExchangeCode(ctx context.Context, code string) error {
	tok, err := b.cfg.oauthConfig().Exchange(ctx, code)
	if err != nil {
		return &OAuthError{Kind: KindInvalid, Err: fmt.Errorf("exchange code: %w", err)}
	}
	return b.persist(tok)
}

func (b *Broker) persist(tok *oauth2.Token) error {
	now := time.Now().UTC()
	refreshTokenUpdatedAt := now
	if prior, err := b.load(); err == nil && prior.RefreshToken == tok.RefreshToken && !prior.RefreshTokenUpdatedAt.IsZero() {
		refreshTokenUpdatedAt = prior.RefreshTokenUpdatedAt
	}

	st := storedToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenURI:     b.cfg.oauthConfig().Endpoint.TokenURL,
		ClientID:     b.cfg.ClientID,
		ClientSecret: b.cfg.ClientSecret,
		Scopes:       RequiredScopes,
		Expiry:       tok.Expiry,

		LastAccessTokenRefreshAt: now,
		RefreshTokenUpdatedAt:    refreshTokenUpdatedAt,
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal stored token: %w", err)
	}
	sealed, err := b.seal.Seal(payload)
	if err != nil {
		return fmt.Errorf("seal stored token: %w", err)
	}
	if err := b.store.PutSecret(TokenSecretKey, sealed); err != nil {
		return fmt.Errorf("persist stored token: %w", err)
	}
	return nil
}

func (b *Broker) load() (storedToken, error) {
	ciphertext, ok, err := b.store.GetSecret(TokenSecretKey)
	if err != nil {
		return storedToken{}, &OAuthError{Kind: KindUnreadable, Err: err}
	}
	if !ok {
		return storedToken{}, &OAuthError{Kind: KindMissing, Err: fmt.Errorf("no destination OAuth tokens stored; run the authorization flow")}
	}
	plaintext, err := b.seal.Open(ciphertext)
	if err != nil {
		return storedToken{}, &OAuthError{Kind: KindUnreadable, Err: err}
	}
	var st storedToken
	if err := json.Unmarshal(plaintext, &st); err != nil {
		return storedToken{}, &OAuthError{Kind: KindUnreadable, Err: err}
	}
	return st, nil
}

// hasAllScopes reports whether granted is a superset of required.
func hasAllScopes(granted, required []string) bool {
	have := make(map[string]bool, len(granted))
	for _, s := range granted {
		have[s] = true
	}
	for _, s := range required {
		if !have[s] {
			return false
		}
	}
	return true
}

// classifyRefreshError maps a token-refresh failure onto an OAuthError
// subkind by inspecting the text oauth2 returns for the OAuth2 error code.
func classifyRefreshError(err error) *OAuthError {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "invalid_grant"):
		return &OAuthError{Kind: KindInvalidGrant, Err: err}
	case strings.Contains(msg, "invalid_client"):
		return &OAuthError{Kind: KindInvalidClient, Err: err}
	default:
		return &OAuthError{Kind: KindInvalid, Err: err}
	}
}

// TokenSource returns a token source producing a currently-valid access
// token, rebuilding from the secret store whenever the stored token's
// created_at changes (external rotation), the cached token has expired, or
// no cached source exists yet.
func (b *Broker) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	createdAt, ok, err := b.store.SecretCreatedAt(TokenSecretKey)
	if err != nil {
		return nil, &OAuthError{Kind: KindUnreadable, Err: err}
	}
	if !ok {
		return nil, &OAuthError{Kind: KindMissing, Err: fmt.Errorf("no destination OAuth tokens stored; run the authorization flow")}
	}

	if b.cachedTokenSource != nil && createdAt == b.cachedTokenCreatedAt {
		if cached, err := b.cachedTokenSource.Token(); err == nil && cached.Valid() {
			return b.cachedTokenSource, nil
		}
	}

	st, err := b.load()
	if err != nil {
		return nil, err
	}
	if st.ClientID != "" && st.ClientID != b.cfg.ClientID {
		return nil, &OAuthError{Kind: KindClientMismatch, Err: fmt.Errorf("stored token client_id %q does not match configured client_id", st.ClientID)}
	}
	if !hasAllScopes(st.Scopes, RequiredScopes) {
		return nil, &OAuthError{Kind: KindScopeInsufficient, Err: fmt.Errorf("stored token scopes %v do not cover required scopes %v", st.Scopes, RequiredScopes)}
	}

	tok := &oauth2.Token{
		AccessToken:  st.AccessToken,
		RefreshToken: st.RefreshToken,
		Expiry:       st.Expiry,
	}
	if tok.Valid() {
		b.cachedTokenCreatedAt = createdAt
		b.cachedTokenSource = oauth2.StaticTokenSource(tok)
		return b.cachedTokenSource, nil
	}
	if tok.RefreshToken == "" {
		return nil, &OAuthError{Kind: KindNotRefreshable, Err: fmt.Errorf("access token expired and no refresh token stored")}
	}

	base := b.cfg.oauthConfig().TokenSource(ctx, tok)
	refreshed, err := base.Token()
	if err != nil {
		return nil, classifyRefreshError(err)
	}
	if err := b.persist(refreshed); err != nil {
		return nil, fmt.Errorf("persist refreshed token: %w", err)
	}

	newCreatedAt, _, err := b.store.SecretCreatedAt(TokenSecretKey)
	if err != nil {
		return nil, &OAuthError{Kind: KindUnreadable, Err: err}
	}
	b.cachedTokenCreatedAt = newCreatedAt
	b.cachedTokenSource = oauth2.StaticTokenSource(refreshed)
	return b.cachedTokenSource, nil
}
