package gate_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appadook/portfolio-website-sub001/internal/auth"
	"github.com/appadook/portfolio-website-sub001/internal/auth/authtest"
	"github.com/appadook/portfolio-website-sub001/internal/cookie"
	"github.com/appadook/portfolio-website-sub001/internal/domain"
	"github.com/appadook/portfolio-website-sub001/internal/domain/domaintest"
	"github.com/appadook/portfolio-website-sub001/internal/gate"
	"github.com/appadook/portfolio-website-sub001/internal/identity"
	"github.com/appadook/portfolio-website-sub001/internal/identity/identitytest"
	"github.com/appadook/portfolio-website-sub001/internal/observability"
	"github.com/appadook/portfolio-website-sub001/internal/session"
	"github.com/appadook/portfolio-website-sub001/internal/tokenstore"
)

type countingVerifier struct {
	calls atomic.Int32
	inner gate.Verifier
}

func (v *countingVerifier) Verify(ctx context.Context, token string) (*auth.Claims, error) {
	v.calls.Add(1)
	return v.inner.Verify(ctx, token)
}

type panickingVerifier struct{}

func (panickingVerifier) Verify(context.Context, string) (*auth.Claims, error) {
	panic("key store exploded")
}

func newGate(t *testing.T) (*gate.Gate, *authtest.Issuer, *countingVerifier, *domaintest.FakeClock) {
	t.Helper()
	clock := domaintest.NewFakeClock(time.Now())
	iss := authtest.NewIssuer(t, clock)
	verifier := &countingVerifier{inner: iss.Guard()}
	g := gate.New(gate.Config{
		ProtectedPrefix: domain.DefaultProtectedPrefix,
		LoginPath:       domain.DefaultLoginPath,
		PublicPaths:     []string{domain.DefaultLoginPath, domain.DefaultSignupPath},
		Verifier:        verifier,
		Logger:          observability.Discard(),
	})
	return g, iss, verifier, clock
}

func request(path, token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		r.AddCookie(&http.Cookie{Name: domain.DefaultCookieName, Value: token})
	}
	return r
}

func TestEvaluateScenarios(t *testing.T) {
	g, iss, _, _ := newGate(t)
	valid := iss.Mint(authtest.Token{})

	tests := []struct {
		name     string
		path     string
		token    string
		want     gate.State
		wantAuth gate.AuthState
		location string
	}{
		{"unauthenticated protected page", "/admin/posts", "", gate.RedirectToLogin, gate.Unauthenticated, "/admin/login?next=%2Fadmin%2Fposts"},
		{"unauthenticated login page", "/admin/login", "", gate.Pass, gate.Unauthenticated, ""},
		{"unauthenticated signup page", "/admin/signup", "", gate.Pass, gate.Unauthenticated, ""},
		{"authenticated login page", "/admin/login", valid, gate.RedirectAway, gate.Authenticated, "/admin"},
		{"authenticated signup page", "/admin/signup", valid, gate.RedirectAway, gate.Authenticated, "/admin"},
		{"authenticated protected page", "/admin/posts", valid, gate.Pass, gate.Authenticated, ""},
		{"authenticated protected root", "/admin", valid, gate.Pass, gate.Authenticated, ""},
		{"public page", "/projects", "", gate.Pass, gate.Unchecked, ""},
		{"invalid token on protected page", "/admin", "garbage", gate.RedirectToLogin, gate.Unauthenticated, "/admin/login?next=%2Fadmin"},
		{"trailing slash on login page", "/admin/login/", "", gate.Pass, gate.Unauthenticated, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Evaluate(context.Background(), request(tt.path, tt.token))

			assert.Equal(t, tt.want, d.State)
			assert.Equal(t, tt.wantAuth, d.Auth)
			assert.Equal(t, tt.location, d.Location)
		})
	}
}

func TestLoginPathIsAlwaysPublic(t *testing.T) {
	g := gate.New(gate.Config{
		ProtectedPrefix: domain.DefaultProtectedPrefix,
		LoginPath:       "/admin/signin",
		Verifier:        &countingVerifier{},
		Logger:          observability.Discard(),
	})

	d := g.Evaluate(context.Background(), request("/admin/signin", ""))

	assert.Equal(t, gate.Pass, d.State)
	assert.Empty(t, d.Location)
}

func TestEvaluateRejectsBadTokens(t *testing.T) {
	g, iss, _, clock := newGate(t)

	tokens := map[string]string{
		"expired":        iss.Mint(authtest.Token{TTL: -time.Second}),
		"wrong issuer":   iss.Mint(authtest.Token{Issuer: "https://other.test"}),
		"wrong audience": iss.Mint(authtest.Token{Audience: "other"}),
		"bad signature":  iss.MintWithForeignKey(authtest.Token{}),
	}
	for name, token := range tokens {
		t.Run(name, func(t *testing.T) {
			d := g.Evaluate(context.Background(), request("/admin/posts", token))
			assert.Equal(t, gate.RedirectToLogin, d.State)
		})
	}

	t.Run("token expiring between requests", func(t *testing.T) {
		token := iss.Mint(authtest.Token{TTL: time.Minute})
		assert.Equal(t, gate.Pass, g.Evaluate(context.Background(), request("/admin", token)).State)

		clock.Advance(time.Minute + time.Second)
		assert.Equal(t, gate.RedirectToLogin, g.Evaluate(context.Background(), request("/admin", token)).State)
	})
}

func TestPublicPathsDoNoAuthWork(t *testing.T) {
	g, iss, verifier, _ := newGate(t)
	token := iss.Mint(authtest.Token{})

	for _, path := range []string{"/", "/projects", "/administrator", "/admins/list", "/blog/admin"} {
		d := g.Evaluate(context.Background(), request(path, token))
		assert.Equal(t, gate.Pass, d.State, path)
		assert.Equal(t, gate.Unchecked, d.Auth, path)
	}

	assert.Zero(t, verifier.calls.Load())
	assert.Zero(t, iss.FetchCount(), "key set is never fetched for public paths")
}

func TestVerifierPanicIsUnauthenticated(t *testing.T) {
	g := gate.New(gate.Config{Verifier: panickingVerifier{}, Logger: observability.Discard()})

	var d gate.Decision
	require.NotPanics(t, func() {
		d = g.Evaluate(context.Background(), request("/admin", "anything"))
	})
	assert.Equal(t, gate.RedirectToLogin, d.State)
}

type errVerifier struct{ err error }

func (v errVerifier) Verify(context.Context, string) (*auth.Claims, error) {
	return nil, v.err
}

func TestVerificationFailuresAreUnauthenticated(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantWarn bool
	}{
		{"rejected token", fmt.Errorf("%w: bad signature", domain.ErrInvalidToken), false},
		{"unexpected failure", errors.New("verifier offline"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			g := gate.New(gate.Config{
				Verifier: errVerifier{err: tt.err},
				Logger:   slog.New(slog.NewTextHandler(&buf, nil)),
			})

			d := g.Evaluate(context.Background(), request("/admin", "anything"))

			assert.Equal(t, gate.RedirectToLogin, d.State)
			assert.Equal(t, gate.Unauthenticated, d.Auth)
			assert.Equal(t, tt.wantWarn, strings.Contains(buf.String(), "level=WARN"))
		})
	}
}

func TestMiddleware(t *testing.T) {
	g, iss, _, _ := newGate(t)
	var reached atomic.Int32
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("redirects with 307 and leaves cookies alone", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, request("/admin/posts?draft=1", "garbage"))

		assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
		assert.Equal(t, "/admin/login?next=%2Fadmin%2Fposts", w.Header().Get("Location"))
		assert.Empty(t, w.Header().Values("Set-Cookie"))
		assert.Zero(t, reached.Load())
	})

	t.Run("passes authenticated callers through", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, request("/admin/posts", iss.Mint(authtest.Token{})))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int32(1), reached.Load())
		assert.Empty(t, w.Header().Values("Set-Cookie"))
	})
}

func TestLoginCookieRoundTrip(t *testing.T) {
	clock := domaintest.NewFakeClock(time.Now())
	iss := authtest.NewIssuer(t, clock)
	svc := identitytest.NewService(t, iss)
	svc.AddUser("admin@example.com", "correct-horse")

	idc, err := identity.New(identity.Config{BaseURL: svc.URL()})
	require.NoError(t, err)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	site, err := url.Parse("http://portfolio.test")
	require.NoError(t, err)

	client := session.New(session.Config{
		Identity: idc,
		Tokens:   tokenstore.New(tokenstore.Config{Refresher: idc}),
		Mirror:   cookie.NewJarMirror(jar, site, domain.DefaultCookieName),
		Logger:   observability.Discard(),
	})
	_, err = client.Login(context.Background(), "admin@example.com", "correct-horse")
	require.NoError(t, err)

	g := gate.New(gate.Config{
		PublicPaths: []string{domain.DefaultLoginPath},
		Verifier:    iss.Guard(),
		Logger:      observability.Discard(),
	})

	r := httptest.NewRequest(http.MethodGet, "http://portfolio.test/admin", nil)
	for _, c := range jar.Cookies(site) {
		r.AddCookie(c)
	}
	d := g.Evaluate(context.Background(), r)
	assert.Equal(t, gate.Authenticated, d.Auth)
	assert.Equal(t, gate.Pass, d.State)

	client.Logout(context.Background())
	r = httptest.NewRequest(http.MethodGet, "http://portfolio.test/admin", nil)
	for _, c := range jar.Cookies(site) {
		r.AddCookie(c)
	}
	d = g.Evaluate(context.Background(), r)
	assert.Equal(t, gate.Unauthenticated, d.Auth)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "redirect_to_login", gate.RedirectToLogin.String())
	assert.Equal(t, "redirect_away", gate.RedirectAway.String())
	assert.Equal(t, "unchecked", gate.Unchecked.String())
}

func TestLoginURL(t *testing.T) {
	g := gate.New(gate.Config{Verifier: panickingVerifier{}})

	assert.Equal(t, "/admin/login?next=%2Fadmin%2Fposts%2F42", g.LoginURL("/admin/posts/42"))
	assert.Equal(t, "/admin", g.Prefix())
}
