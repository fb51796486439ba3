// Package gate is the edge filter in front of the protected admin area. It
// decides pass or redirect before any page handler runs and never mutates
// the cookie or token state.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/appadook/portfolio-website-sub001/internal/auth"
	"github.com/appadook/portfolio-website-sub001/internal/cookie"
	"github.com/appadook/portfolio-website-sub001/internal/domain"
)

var tracer = otel.Tracer("gate")

var decisionsTotal metric.Int64Counter

func init() {
	m := otel.Meter("gate")

	decisionsTotal, _ = m.Int64Counter("gate_decisions_total",
		metric.WithDescription("Gate decisions by outcome"))
}

// State is the outcome of evaluating one request.
type State int

const (
	Pass State = iota
	RedirectToLogin
	RedirectAway
)

func (s State) String() string {
	switch s {
	case Pass:
		return "pass"
	case RedirectToLogin:
		return "redirect_to_login"
	case RedirectAway:
		return "redirect_away"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// AuthState records what the gate learned about the caller. Unchecked means
// the path was outside the protected area and no auth work ran.
type AuthState int

const (
	Unchecked AuthState = iota
	Authenticated
	Unauthenticated
)

func (a AuthState) String() string {
	switch a {
	case Unchecked:
		return "unchecked"
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return fmt.Sprintf("auth(%d)", int(a))
	}
}

// Decision is the gate's verdict. Location is set for redirects.
type Decision struct {
	State    State
	Auth     AuthState
	Location string
}

// Verifier checks a token. *auth.Guard satisfies it.
type Verifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

type Config struct {
	ProtectedPrefix string
	LoginPath       string
	// PublicPaths are reachable inside the prefix without a session, and
	// bounce an authenticated caller back to the prefix root.
	PublicPaths []string
	CookieName  string
	Verifier    Verifier
	Logger      *slog.Logger
}

type Gate struct {
	prefix     string
	loginPath  string
	public     map[string]struct{}
	cookieName string
	verifier   Verifier
	logger     *slog.Logger
}

func New(cfg Config) *Gate {
	g := &Gate{
		prefix:     cleanPath(cfg.ProtectedPrefix),
		loginPath:  cfg.LoginPath,
		public:     make(map[string]struct{}, len(cfg.PublicPaths)),
		cookieName: cfg.CookieName,
		verifier:   cfg.Verifier,
		logger:     cfg.Logger,
	}
	if g.prefix == "" {
		g.prefix = domain.DefaultProtectedPrefix
	}
	if g.loginPath == "" {
		g.loginPath = domain.DefaultLoginPath
	}
	if g.cookieName == "" {
		g.cookieName = domain.DefaultCookieName
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	for _, p := range cfg.PublicPaths {
		g.public[cleanPath(p)] = struct{}{}
	}
	// The redirect target must never redirect again.
	g.public[cleanPath(g.loginPath)] = struct{}{}
	return g
}

// Evaluate decides what happens to r. Paths outside the protected prefix
// pass without reading the cookie or verifying anything.
func (g *Gate) Evaluate(ctx context.Context, r *http.Request) Decision {
	path := r.URL.Path
	if !g.protected(path) {
		d := Decision{State: Pass, Auth: Unchecked}
		g.record(ctx, d)
		return d
	}

	ctx, span := tracer.Start(ctx, "gate.evaluate")
	defer span.End()

	caller := g.authenticate(ctx, r)
	_, public := g.public[cleanPath(path)]

	var d Decision
	switch {
	case caller == Authenticated && public:
		d = Decision{State: RedirectAway, Auth: caller, Location: g.prefix}
	case caller == Unauthenticated && !public:
		d = Decision{State: RedirectToLogin, Auth: caller, Location: g.LoginURL(path)}
	default:
		d = Decision{State: Pass, Auth: caller}
	}

	span.SetAttributes(
		attribute.String("gate.decision", d.State.String()),
		attribute.String("gate.auth", d.Auth.String()),
	)
	g.record(ctx, d)
	return d
}

// Middleware applies Evaluate, answering redirects with 307 and passing
// everything else to next.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.Evaluate(r.Context(), r)
		if d.State == Pass {
			next.ServeHTTP(w, r)
			return
		}
		http.Redirect(w, r, d.Location, http.StatusTemporaryRedirect)
	})
}

// protected matches the prefix on segment boundaries: /admin and /admin/x,
// not /administrator.
func (g *Gate) protected(path string) bool {
	return path == g.prefix || strings.HasPrefix(path, g.prefix+"/")
}

func (g *Gate) authenticate(ctx context.Context, r *http.Request) (state AuthState) {
	defer func() {
		if p := recover(); p != nil {
			g.logger.ErrorContext(ctx, "verifier panicked", slog.Any("panic", p))
			state = Unauthenticated
		}
	}()

	token, ok := cookie.Read(r, g.cookieName)
	if !ok {
		return Unauthenticated
	}
	if _, err := g.verifier.Verify(ctx, token); err != nil {
		if domain.IsUnauthenticated(err) {
			g.logger.DebugContext(ctx, "gate rejected token", slog.Any("error", err))
		} else {
			g.logger.WarnContext(ctx, "token verification failed", slog.Any("error", err))
		}
		return Unauthenticated
	}
	return Authenticated
}

// LoginURL is the login redirect target that returns the caller to next.
func (g *Gate) LoginURL(next string) string {
	q := url.Values{domain.NextQueryParam: []string{next}}
	return g.loginPath + "?" + q.Encode()
}

// Prefix is the protected area root.
func (g *Gate) Prefix() string {
	return g.prefix
}

func (g *Gate) record(ctx context.Context, d Decision) {
	decisionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("decision", d.State.String()),
		attribute.String("auth", d.Auth.String()),
	))
}

func cleanPath(p string) string {
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}
