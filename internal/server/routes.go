package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/appadook/portfolio-website-sub001/internal/cookie"
	"github.com/appadook/portfolio-website-sub001/internal/domain"
	"github.com/appadook/portfolio-website-sub001/internal/errmap"
	"github.com/appadook/portfolio-website-sub001/internal/identity"
	"github.com/appadook/portfolio-website-sub001/internal/observability"
	"github.com/appadook/portfolio-website-sub001/internal/session"
)

type handler struct {
	deps         *Deps
	name         string
	shuttingDown *atomic.Bool
}

// NewRouter builds the gateway HTTP handler. Every route sits behind the
// edge gate; paths outside the protected prefix pass it untouched.
func NewRouter(name string, d *Deps, shuttingDown *atomic.Bool) http.Handler {
	h := &handler{deps: d, name: name, shuttingDown: shuttingDown}
	prefix := d.Gate.Prefix()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)

	r.Group(func(r chi.Router) {
		r.Use(d.Gate.Middleware)

		r.Get(prefix, h.adminPage)
		r.Get(prefix+"/*", h.adminPage)
		for _, p := range d.Config.Gate.PublicPaths {
			r.Get(p, h.publicAdminPage)
		}
		r.With(d.throttle).Post(d.Config.Gate.LoginPath, h.submitCredentials("login"))
		r.With(d.throttle).Post(d.Config.Gate.SignupPath, h.submitCredentials("signup"))

		r.Route("/api/admin", func(r chi.Router) {
			r.Get("/session", h.sessionAPI)
			r.Post("/logout", h.logout)
		})

		r.NotFound(h.publicPage)
	})

	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.shuttingDown.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"status":"shutting_down","service":%q}`, h.name)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":%q}`, h.name)
}

type adminPageProps struct {
	Page      string      `json:"page"`
	User      domain.User `json:"user"`
	SessionID string      `json:"sessionId,omitempty"`
}

// adminPage renders page props from a freshly resolved session. The gate
// already ran, but the page re-verifies on its own.
func (h *handler) adminPage(w http.ResponseWriter, r *http.Request) {
	sess := h.deps.Resolver.Resolve(r.Context(), r)
	if sess == nil {
		http.Redirect(w, r, h.deps.Gate.LoginURL(r.URL.Path), http.StatusTemporaryRedirect)
		return
	}
	writeJSON(w, http.StatusOK, adminPageProps{
		Page:      r.URL.Path,
		User:      sess.User,
		SessionID: sess.Claims.SessionID,
	})
}

func (h *handler) publicAdminPage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"page": r.URL.Path,
		"next": safeNext(r.URL.Query().Get(domain.NextQueryParam), h.deps.Gate.Prefix(), h.deps.Config.Gate.LoginPath),
	})
}

func (h *handler) publicPage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"page": r.URL.Path})
}

// submitCredentials handles the login and signup forms. On success the
// token cookie is set on the response and the caller is sent to next.
func (h *handler) submitCredentials(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			errmap.WriteError(w, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err))
			return
		}
		client, _, err := h.deps.sessionFor(w, r)
		if err != nil {
			errmap.WriteError(w, err)
			return
		}

		email, password := r.PostFormValue("email"), r.PostFormValue("password")
		if op == "signup" {
			_, err = client.Signup(r.Context(), email, password)
		} else {
			_, err = client.Login(r.Context(), email, password)
		}
		if err != nil {
			writeAuthError(w, op, err)
			return
		}

		next := safeNext(r.FormValue(domain.NextQueryParam), h.deps.Gate.Prefix(), h.deps.Config.Gate.LoginPath)
		http.Redirect(w, r, next, http.StatusSeeOther)
	}
}

// sessionAPI answers whether the cookie holds a valid admin session.
func (h *handler) sessionAPI(w http.ResponseWriter, r *http.Request) {
	sess := h.deps.Resolver.Resolve(r.Context(), r)
	if sess == nil {
		errmap.WriteError(w, domain.ErrUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// logout revokes the session upstream when possible and always clears the
// token cookie.
func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	client, tokens, err := h.deps.sessionFor(w, r)
	if err != nil {
		errmap.WriteError(w, err)
		return
	}
	if token, ok := cookie.Read(r, h.deps.Config.Auth.CookieName); ok {
		_ = tokens.Set(r.Context(), token)
	}
	client.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func writeAuthError(w http.ResponseWriter, op string, err error) {
	var authErr *session.AuthError
	if !errors.As(err, &authErr) {
		errmap.WriteError(w, err)
		return
	}

	status := errmap.ToHTTPStatusCode(err)
	var apiErr *identity.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		status = apiErr.Status
	}
	writeJSON(w, status, errmap.HTTPError{
		Code:    strings.ToUpper(op) + "_FAILED",
		Message: authErr.Message,
	})
}

// safeNext keeps post-login redirects inside the protected area.
func safeNext(next, prefix, loginPath string) string {
	if next == "" || next == loginPath || strings.HasPrefix(next, "//") || strings.Contains(next, "\\") {
		return prefix
	}
	if next != prefix && !strings.HasPrefix(next, prefix+"/") {
		return prefix
	}
	return next
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			observability.WithTraceID(r.Context(), logger).LogAttrs(r.Context(), slog.LevelInfo, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
