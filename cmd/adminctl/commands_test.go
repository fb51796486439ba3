package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appadook/portfolio-website-sub001/internal/auth/authtest"
	"github.com/appadook/portfolio-website-sub001/internal/config"
	"github.com/appadook/portfolio-website-sub001/internal/domain"
	"github.com/appadook/portfolio-website-sub001/internal/domain/domaintest"
	"github.com/appadook/portfolio-website-sub001/internal/identity/identitytest"
	"github.com/appadook/portfolio-website-sub001/internal/observability"
	"github.com/appadook/portfolio-website-sub001/internal/server"
)

type env struct {
	svc     *identitytest.Service
	iss     *authtest.Issuer
	redis   *miniredis.Miniredis
	gateway string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	iss := authtest.NewIssuer(t, domaintest.NewFakeClock(time.Now()))
	svc := identitytest.NewService(t, iss)
	svc.AddUser("admin@example.com", "correct-horse")
	mr := miniredis.RunT(t)

	t.Setenv("PORTFOLIO_AUTH__BASE_URL", svc.URL())
	t.Setenv("PORTFOLIO_AUTH__ISSUER", authtest.DefaultIssuer)
	t.Setenv("PORTFOLIO_REDIS__ADDR", mr.Addr())
	t.Setenv("PORTFOLIO_LOG_LEVEL", "error")

	cfg, err := config.Load(context.Background())
	require.NoError(t, err)
	deps, err := server.NewDeps(cfg, observability.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })
	gw := httptest.NewServer(server.NewRouter("admin-gateway-test", deps, new(atomic.Bool)))
	t.Cleanup(gw.Close)

	return &env{svc: svc, iss: iss, redis: mr, gateway: gw.URL}
}

// run executes one adminctl invocation, like a separate process would.
func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd, release := newRootCmd(&stdout, &stderr)
	defer release()
	cmd.SetArgs(append([]string{"--gateway", e.gateway}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestLoginPersistsTokenAcrossInvocations(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "login", "--email", "admin@example.com", "--password", "correct-horse")
	require.NoError(t, err)
	var user domain.User
	require.NoError(t, json.Unmarshal([]byte(out), &user))
	assert.Equal(t, "admin@example.com", user.Email)
	assert.True(t, e.redis.Exists("admin_token:default"))

	out, err = e.run(t, "whoami")
	require.NoError(t, err)
	var sess struct {
		User domain.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &sess))
	assert.Equal(t, user, sess.User)
}

func TestSessionsAreKeyed(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "--session", "ops", "login", "--email", "admin@example.com", "--password", "correct-horse")
	require.NoError(t, err)

	assert.True(t, e.redis.Exists("admin_token:ops"))
	_, err = e.run(t, "whoami")
	assert.ErrorIs(t, err, errNotLoggedIn, "default session is separate")
}

func TestLoginFailureMessage(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "login", "--email", "admin@example.com", "--password", "nope")

	require.Error(t, err)
	assert.Equal(t, "Invalid email or password", err.Error())
	assert.False(t, e.redis.Exists("admin_token:default"))
}

func TestVerify(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "verify", e.iss.Mint(authtest.Token{Subject: "user_cli"}))
	require.NoError(t, err)
	var claims struct {
		Subject string `json:"sub"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &claims))
	assert.Equal(t, "user_cli", claims.Subject)

	_, err = e.run(t, "verify", "garbage")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	_, err = e.run(t, "verify")
	assert.ErrorIs(t, err, errNotLoggedIn)
}

func TestProbe(t *testing.T) {
	e := newEnv(t)

	probe := func(path string) map[string]any {
		t.Helper()
		out, err := e.run(t, "probe", path)
		require.NoError(t, err)
		var result map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &result))
		return result
	}

	anon := probe("/admin/posts")
	assert.Equal(t, float64(307), anon["status"])
	assert.Equal(t, "/admin/login?next=%2Fadmin%2Fposts", anon["location"])

	_, err := e.run(t, "login", "--email", "admin@example.com", "--password", "correct-horse")
	require.NoError(t, err)

	authed := probe("admin/posts")
	assert.Equal(t, float64(200), authed["status"])
	assert.NotEmpty(t, authed["request_id"])

	away := probe("/admin/login")
	assert.Equal(t, float64(307), away["status"])
	assert.Equal(t, "/admin", away["location"])
}

func TestLogout(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "login", "--email", "admin@example.com", "--password", "correct-horse")
	require.NoError(t, err)

	out, err := e.run(t, "logout")
	require.NoError(t, err)
	assert.Equal(t, "logged out\n", out)
	assert.False(t, e.redis.Exists("admin_token:default"))
	assert.Equal(t, 1, e.svc.Calls("logout"))

	_, err = e.run(t, "whoami")
	assert.ErrorIs(t, err, errNotLoggedIn)

	_, err = e.run(t, "logout")
	assert.NoError(t, err, "logout is idempotent")
}

func TestFailedCommandReleasesRedis(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "whoami")
	require.ErrorIs(t, err, errNotLoggedIn)

	assert.Eventually(t, func() bool { return e.redis.CurrentConnectionCount() == 0 },
		2*time.Second, 10*time.Millisecond, "redis client closed even though the command failed")
}
