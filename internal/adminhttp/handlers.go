package adminhttp

import (
	"net/http"
	"time"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		_ = loginTemplate.Execute(w, nil)
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if !s.auth.validate(r.FormValue("username"), r.FormValue("password")) {
			_ = loginTemplate.Execute(w, map[string]string{"Error": "invalid username or password"})
			return
		}
		session, err := s.auth.createSession()
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     "admin_session",
			Value:    session.ID,
			Path:     "/",
			Expires:  session.ExpiresAt,
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		})
		logAuthEvent(r, "admin_login")
		http.Redirect(w, r, "/", http.StatusSeeOther)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if cookie, err := r.Cookie("admin_session"); err == nil {
		s.auth.deleteSession(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "admin_session",
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
	})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	counts, err := s.store.CountByState()
	if err != nil {
		http.Error(w, "load state counts: "+err.Error(), http.StatusInternalServerError)
		return
	}
	alerts, err := s.store.RecentAlerts(20)
	if err != nil {
		http.Error(w, "load recent alerts: "+err.Error(), http.StatusInternalServerError)
		return
	}
	_ = statusTemplate.Execute(w, map[string]any{
		"StateCounts": counts,
		"Alerts":      alerts,
		"AuthURL":     s.broker.AuthorizationURL(),
	})
}

func (s *Server) handleOAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	code := r.FormValue("code")
	msg := "tokens saved"
	if err := s.broker.ExchangeCode(r.Context(), code); err != nil {
		msg = "exchange failed: " + err.Error()
	}

	counts, err := s.store.CountByState()
	if err != nil {
		http.Error(w, "load state counts: "+err.Error(), http.StatusInternalServerError)
		return
	}
	alerts, err := s.store.RecentAlerts(20)
	if err != nil {
		http.Error(w, "load recent alerts: "+err.Error(), http.StatusInternalServerError)
		return
	}
	_ = statusTemplate.Execute(w, map[string]any{
		"StateCounts":  counts,
		"Alerts":       alerts,
		"AuthURL":      s.broker.AuthorizationURL(),
		"OAuthMessage": msg,
	})
}
