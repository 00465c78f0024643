// Package adminhttp is a small admin HTTP surface: a status page, an
// OAuth authorization code paste-back form, and the recent alert log,
// all reading the same database the sync engine writes. It owns no
// engine state of its own.
package adminhttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/caseywylie/y2g/internal/store"
)

// Broker is the subset of internal/credential.Broker the surface needs to
// let an operator complete the OAuth authorization flow.
type Broker interface {
	AuthorizationURL() string
	ExchangeCode(ctx context.Context, code string) error
}

// Store is the subset of internal/store.Store the surface reads.
type Store interface {
	CountByState() (map[store.MessageState]int64, error)
	RecentAlerts(limit int) ([]store.Alert, error)
}

// Config controls where the admin surface listens and who may sign in.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Server is the admin HTTP surface.
type Server struct {
	cfg    Config
	store  Store
	broker Broker
	auth   *AuthManager
	srv    *http.Server
}

// New builds a Server bound to the state store and the destination OAuth
// broker. It does not start listening until Start is called.
func New(cfg Config, st Store, broker Broker) (*Server, error) {
	auth, err := NewAuthManager(cfg.Username, cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("build admin auth manager: %w", err)
	}
	return &Server{cfg: cfg, store: st, broker: broker, auth: auth}, nil
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully within 10s.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)
	mux.HandleFunc("/", s.auth.requireAuth(s.handleStatus))
	mux.HandleFunc("/oauth", s.auth.requireAuth(s.handleOAuth))

	s.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("admin http listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
