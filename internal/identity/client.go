// Package identity is the HTTP client for the external identity service:
// login, signup, refresh, logout, and profile lookup.
//
// The refresh credential is whatever the service keeps in its own cookies;
// the client holds it in a cookie jar and never inspects it.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/appadook/portfolio-website-sub001/internal/domain"
	"github.com/appadook/portfolio-website-sub001/internal/observability"
)

var tracer = otel.Tracer("identity")

// maxResponseBytes bounds every response body read from the service.
const maxResponseBytes = 1 << 20

// Config holds configuration for creating a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// HTTPClient overrides the default client. A client without a cookie
	// jar gets one, since refresh depends on it.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the identity service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// AuthResult is the body of a successful login, signup, or refresh.
type AuthResult struct {
	AccessToken string      `json:"accessToken"`
	User        domain.User `json:"user"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: identity base URL", domain.ErrConfigRequired)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = domain.IdentityRequestTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		withJar := *hc
		withJar.Jar = jar
		hc = &withJar
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observability.Discard()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    hc,
		logger:  logger,
	}, nil
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	return c.authenticate(ctx, "login", email, password)
}

// Signup creates an account and returns its first access token.
func (c *Client) Signup(ctx context.Context, email, password string) (*AuthResult, error) {
	return c.authenticate(ctx, "signup", email, password)
}

func (c *Client) authenticate(ctx context.Context, op, email, password string) (*AuthResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%s: %w: email and password are required", op, domain.ErrInvalidInput)
	}

	var result AuthResult
	if err := c.do(ctx, op, http.MethodPost, "/"+op, "", credentials{Email: email, Password: password}, &result); err != nil {
		return nil, err
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("%s: %w: response carried no access token", op, domain.ErrNetwork)
	}
	return &result, nil
}

// Refresh asks the service for a new access token using the refresh
// credential held in the cookie jar.
func (c *Client) Refresh(ctx context.Context) (*AuthResult, error) {
	var result AuthResult
	if err := c.do(ctx, "refresh", http.MethodPost, "/refresh", "", nil, &result); err != nil {
		return nil, err
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("refresh: %w: response carried no access token", domain.ErrNetwork)
	}
	return &result, nil
}

// Logout ends the session on the service side.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, "logout", http.MethodPost, "/logout", accessToken, nil, nil)
}

// Me fetches the profile of the token's owner. Responses are never served
// from a cache.
func (c *Client) Me(ctx context.Context, accessToken string) (*domain.User, error) {
	var body struct {
		domain.User
		Wrapped *domain.User `json:"user"`
	}
	if err := c.do(ctx, "me", http.MethodGet, "/me", accessToken, nil, &body); err != nil {
		return nil, err
	}
	if body.Wrapped != nil {
		return body.Wrapped, nil
	}
	return &body.User, nil
}

func (c *Client) do(ctx context.Context, op, method, path, bearer string, in, out any) error {
	ctx, span := tracer.Start(ctx, "identity."+op)
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method), attribute.String("identity.op", op))

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-store")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return fmt.Errorf("%s: %w: %w", op, domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: %w: read response: %w", op, domain.ErrNetwork, err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := newAPIError(resp.StatusCode, raw)
		span.SetStatus(codes.Error, apiErr.Error())
		observability.WithTraceID(ctx, c.logger).DebugContext(ctx, "identity request rejected",
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("%s: %w", op, apiErr)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: %w: decode response: %w", op, domain.ErrNetwork, err)
	}
	return nil
}
