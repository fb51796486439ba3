// Package identitytest runs an in-process stand-in for the identity
// service. Tokens it hands out are signed by an authtest.Issuer and verify
// against the JWKS it serves at /jwks.
package identitytest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/appadook/portfolio-website-sub001/internal/auth"
	"github.com/appadook/portfolio-website-sub001/internal/auth/authtest"
	"github.com/appadook/portfolio-website-sub001/internal/domain"
)

// RefreshCookieName is the cookie the fake uses as its refresh credential.
const RefreshCookieName = "way_refresh"

type account struct {
	user     domain.User
	password string
}

// Service is a fake identity service.
type Service struct {
	Issuer *authtest.Issuer

	guard *auth.Guard

	mu       sync.Mutex
	accounts map[string]account // by email
	refresh  map[string]string  // refresh credential -> email
	calls    map[string]int

	failMe      atomic.Bool
	failRefresh atomic.Bool
	failLogout  atomic.Bool

	server *httptest.Server
}

// NewService starts a fake identity service backed by iss. It is closed
// when the test ends.
func NewService(t testing.TB, iss *authtest.Issuer) *Service {
	t.Helper()
	s := &Service{
		Issuer:   iss,
		guard:    iss.Guard(),
		accounts: make(map[string]account),
		refresh:  make(map[string]string),
		calls:    make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /signup", s.handleSignup)
	mux.HandleFunc("POST /refresh", s.handleRefresh)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.HandleFunc("GET /me", s.handleMe)
	mux.HandleFunc("GET /jwks", s.handleJWKS)

	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

// URL is the service base URL.
func (s *Service) URL() string { return s.server.URL }

// AddUser registers an account and returns it.
func (s *Service) AddUser(email, password string) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := domain.User{ID: "user_" + uuid.NewString()[:8], Email: email}
	s.accounts[email] = account{user: u, password: password}
	return u
}

// FailMe makes GET /me answer 500 while on.
func (s *Service) FailMe(on bool) { s.failMe.Store(on) }

// FailRefresh makes POST /refresh answer 500 while on.
func (s *Service) FailRefresh(on bool) { s.failRefresh.Store(on) }

// FailLogout makes POST /logout answer 500 while on.
func (s *Service) FailLogout(on bool) { s.failLogout.Store(on) }

// Calls reports how many times an endpoint ("login", "me", ...) was hit.
func (s *Service) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

func (s *Service) count(endpoint string) {
	s.mu.Lock()
	s.calls[endpoint]++
	s.mu.Unlock()
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.count("login")
	var in struct{ Email, Password string }
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Malformed request body"})
		return
	}

	s.mu.Lock()
	acct, ok := s.accounts[in.Email]
	s.mu.Unlock()
	if !ok || acct.password != in.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid email or password"})
		return
	}
	s.issue(w, acct.user)
}

func (s *Service) handleSignup(w http.ResponseWriter, r *http.Request) {
	s.count("signup")
	var in struct{ Email, Password string }
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Malformed request body"})
		return
	}
	if len(in.Password) < 8 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{"message": "Password must be at least 8 characters"},
		})
		return
	}

	s.mu.Lock()
	_, exists := s.accounts[in.Email]
	s.mu.Unlock()
	if exists {
		writeJSON(w, http.StatusConflict, map[string]string{"message": "Email is already registered"})
		return
	}
	s.issue(w, s.AddUser(in.Email, in.Password))
}

func (s *Service) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.count("refresh")
	if s.failRefresh.Load() {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "refresh backend down"})
		return
	}
	c, err := r.Cookie(RefreshCookieName)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "No refresh session"})
		return
	}

	s.mu.Lock()
	email, ok := s.refresh[c.Value]
	acct := s.accounts[email]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Refresh session expired"})
		return
	}
	s.issue(w, acct.user)
}

func (s *Service) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.count("logout")
	if s.failLogout.Load() {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "logout backend down"})
		return
	}
	if c, err := r.Cookie(RefreshCookieName); err == nil {
		s.mu.Lock()
		delete(s.refresh, c.Value)
		s.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: RefreshCookieName, Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleMe(w http.ResponseWriter, r *http.Request) {
	s.count("me")
	if s.failMe.Load() {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "profile backend down"})
		return
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Missing bearer token"})
		return
	}
	claims, err := s.guard.Verify(context.WithoutCancel(r.Context()), token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid token"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acct := range s.accounts {
		if acct.user.ID == claims.Subject {
			writeJSON(w, http.StatusOK, map[string]any{"user": acct.user})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown user"})
}

func (s *Service) handleJWKS(w http.ResponseWriter, r *http.Request) {
	s.count("jwks")
	s.Issuer.ServeJWKS(w, r)
}

func (s *Service) issue(w http.ResponseWriter, u domain.User) {
	credential := uuid.NewString()
	s.mu.Lock()
	s.refresh[credential] = u.Email
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    credential,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	token := s.Issuer.Mint(authtest.Token{
		Subject:   u.ID,
		SessionID: "sess_" + credential[:8],
		Email:     u.Email,
	})
	writeJSON(w, http.StatusOK, map[string]any{"accessToken": token, "user": u})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
