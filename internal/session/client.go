// Package session is the interactive side of the admin session: login,
// signup, refresh, bootstrap and logout against the identity service, with
// the resulting access token kept in a tokenstore.Adapter and mirrored into
// a cookie for server-side reads.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/appadook/portfolio-website-sub001/internal/cookie"
	"github.com/appadook/portfolio-website-sub001/internal/domain"
	"github.com/appadook/portfolio-website-sub001/internal/identity"
	"github.com/appadook/portfolio-website-sub001/internal/tokenstore"
)

var tracer = otel.Tracer("session")

// Identity is the part of the identity service the session client calls
// directly. Refresh goes through the token store.
type Identity interface {
	Login(ctx context.Context, email, password string) (*identity.AuthResult, error)
	Signup(ctx context.Context, email, password string) (*identity.AuthResult, error)
	Logout(ctx context.Context, accessToken string) error
	Me(ctx context.Context, accessToken string) (*domain.User, error)
}

// AuthError is the only error shown to a person: Message is readable as-is.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string { return e.Message }
func (e *AuthError) Unwrap() error { return e.Err }

func newAuthError(err error) *AuthError {
	return &AuthError{Message: identity.NormalizeError(err), Err: err}
}

// Config wires a Client. Mirror defaults to cookie.NoopMirror.
type Config struct {
	Identity Identity
	Tokens   *tokenstore.Adapter
	Mirror   cookie.Mirror
	Logger   *slog.Logger
}

type Client struct {
	identity Identity
	tokens   *tokenstore.Adapter
	mirror   cookie.Mirror
	logger   *slog.Logger
}

func New(cfg Config) *Client {
	mirror := cfg.Mirror
	if mirror == nil {
		mirror = cookie.NoopMirror{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		identity: cfg.Identity,
		tokens:   cfg.Tokens,
		mirror:   mirror,
		logger:   logger,
	}
}

// Login authenticates with email and password. On failure the returned
// error is an *AuthError.
func (c *Client) Login(ctx context.Context, email, password string) (*domain.User, error) {
	return c.authenticate(ctx, "login", c.identity.Login, email, password)
}

// Signup creates an account and signs it in, with the same contract as Login.
func (c *Client) Signup(ctx context.Context, email, password string) (*domain.User, error) {
	return c.authenticate(ctx, "signup", c.identity.Signup, email, password)
}

type authFunc func(ctx context.Context, email, password string) (*identity.AuthResult, error)

func (c *Client) authenticate(ctx context.Context, op string, call authFunc, email, password string) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "session."+op)
	defer span.End()

	res, err := call(ctx, email, password)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		c.logger.InfoContext(ctx, op+" rejected", slog.Any("error", err))
		return nil, newAuthError(err)
	}

	c.store(ctx, res.AccessToken)
	user := res.User
	span.SetAttributes(attribute.String("user.id", user.ID))
	return &user, nil
}

// Refresh obtains a new access token and mirrors it. On failure the token
// and the cookie are left as they were.
func (c *Client) Refresh(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "session.refresh")
	defer span.End()

	token, err := c.tokens.Refresh(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		return fmt.Errorf("refresh session: %w", err)
	}
	c.mirror.Set(token)
	return nil
}

// BootstrapSession restores a session from the refresh credential: refresh,
// mirror, then fetch the profile, in that order. Any failure rolls back to
// logged out and yields nil.
func (c *Client) BootstrapSession(ctx context.Context) *domain.User {
	ctx, span := tracer.Start(ctx, "session.bootstrap")
	defer span.End()

	user, err := c.bootstrap(ctx)
	if err != nil {
		span.SetAttributes(attribute.Bool("session.restored", false))
		c.logger.DebugContext(ctx, "no session to restore", slog.Any("error", err))
		c.clearLocal(ctx)
		return nil
	}
	span.SetAttributes(attribute.Bool("session.restored", true))
	return user
}

func (c *Client) bootstrap(ctx context.Context) (*domain.User, error) {
	token, err := c.tokens.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap refresh: %w", err)
	}
	c.mirror.Set(token)

	user, err := c.identity.Me(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("bootstrap profile: %w", err)
	}
	return user, nil
}

// Logout ends the session remotely when the service is reachable and always
// clears the local token and cookie. Safe to call repeatedly.
func (c *Client) Logout(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "session.logout")
	defer span.End()
	defer c.clearLocal(ctx)

	token, _ := c.tokens.Token()
	if err := c.identity.Logout(ctx, token); err != nil {
		span.RecordError(err)
		c.logger.DebugContext(ctx, "remote logout failed", slog.Any("error", err))
	}
}

// AccessToken returns the current token without side effects.
func (c *Client) AccessToken() (string, bool) {
	return c.tokens.Token()
}

func (c *Client) store(ctx context.Context, token string) {
	// Set logs persistence failures; memory always holds the new token.
	_ = c.tokens.Set(ctx, token)
	c.mirror.Set(token)
}

// clearLocal runs on cancelled contexts too; local state must still go.
func (c *Client) clearLocal(ctx context.Context) {
	_ = c.tokens.Clear(context.WithoutCancel(ctx))
	c.mirror.Clear()
}
