package adminhttp

import (
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Session is a logged-in admin operator's cookie-backed session.
type Session struct {
	ID        string
	ExpiresAt time.Time
}

// AuthManager is a single-operator bcrypt session store, adapted from the
// teacher's web package for the one admin account this surface needs.
type AuthManager struct {
	username     string
	passwordHash string

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewAuthManager hashes password once at startup. An empty password leaves
// the surface unauthenticatable, which is intentional when no admin
// credential has been configured.
func NewAuthManager(username, password string) (*AuthManager, error) {
	// An empty hash makes every bcrypt comparison in validate fail.
	var passwordHash string
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		passwordHash = string(hash)
	}
	return &AuthManager{
		username:     username,
		passwordHash: passwordHash,
		sessions:     make(map[string]*Session),
	}, nil
}

func (a *AuthManager) validate(username, password string) bool {
	if username != a.username {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.passwordHash), []byte(password)) == nil
}

func (a *AuthManager) createSession() (*Session, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	s := &Session{
		ID:        base64.URLEncoding.EncodeToString(raw),
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	a.mu.Lock()
	a.sessions[s.ID] = s
	a.mu.Unlock()
	return s, nil
}

func (a *AuthManager) valid(sessionID string) bool {
	a.mu.RLock()
	s, ok := a.sessions[sessionID]
	a.mu.RUnlock()
	if !ok {
		return false
	}
	if time.Now().After(s.ExpiresAt) {
		a.mu.Lock()
		delete(a.sessions, sessionID)
		a.mu.Unlock()
		return false
	}
	return true
}

func (a *AuthManager) deleteSession(sessionID string) {
	a.mu.Lock()
	delete(a.sessions, sessionID)
	a.mu.Unlock()
}

func (a *AuthManager) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("admin_session")
		if err != nil || !a.valid(cookie.Value) {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next(w, r)
	}
}

func logAuthEvent(r *http.Request, event string) {
	slog.Info(event, "path", r.URL.Path, "remote", r.RemoteAddr)
}
