package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"github.com/appadook/portfolio-website-sub001/internal/adminsession"
	"github.com/appadook/portfolio-website-sub001/internal/auth"
	"github.com/appadook/portfolio-website-sub001/internal/config"
	"github.com/appadook/portfolio-website-sub001/internal/cookie"
	"github.com/appadook/portfolio-website-sub001/internal/identity"
	"github.com/appadook/portfolio-website-sub001/internal/observability"
	"github.com/appadook/portfolio-website-sub001/internal/redis"
	"github.com/appadook/portfolio-website-sub001/internal/session"
	"github.com/appadook/portfolio-website-sub001/internal/tokenstore"
)

// app is the adminctl composition root, built once per invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	tokens   *tokenstore.Adapter
	session  *session.Client
	guard    *auth.Guard
	resolver *adminsession.Resolver

	// gatewayURL and jar back the cookie mirror that probe replays.
	gatewayURL *url.URL
	jar        http.CookieJar
	mirror     *cookie.JarMirror

	closers []io.Closer
}

type options struct {
	sessionKey string
	gatewayURL string
	stderr     io.Writer
}

// setup wires the session client the way a browser tab would be wired,
// with the token persisted in Redis when one is configured so that
// separate invocations share it.
func setup(ctx context.Context, opts options) (*app, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(opts.stderr, observability.LogConfig{
		Level:       cfg.LogLevel,
		Format:      "text",
		ServiceName: "adminctl",
		Environment: cfg.Environment,
	})

	gatewayURL, err := url.Parse(opts.gatewayURL)
	if err != nil || gatewayURL.Host == "" {
		return nil, fmt.Errorf("invalid gateway URL %q", opts.gatewayURL)
	}

	a := &app{cfg: cfg, logger: logger, gatewayURL: gatewayURL}

	var store tokenstore.Store
	if cfg.Redis.Addr != "" {
		rc := redis.NewClient(redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Timeout:  cfg.Redis.Timeout,
		})
		a.closers = append(a.closers, rc)
		if err := rc.Ping(ctx); err != nil {
			a.Close()
			return nil, err
		}
		store = tokenstore.NewRedisStore(rc.RDB, opts.sessionKey, 0)
	} else {
		logger.Warn("no redis configured, token will not outlive this command")
		store = tokenstore.NewMemoryStore()
	}

	idc, err := identity.New(identity.Config{
		BaseURL: cfg.Auth.BaseURL,
		Timeout: cfg.Auth.HTTPTimeout,
		Logger:  logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	a.jar = jar
	a.mirror = cookie.NewJarMirror(jar, gatewayURL, cfg.Auth.CookieName)

	a.tokens = tokenstore.New(tokenstore.Config{Store: store, Refresher: idc, Logger: logger})
	if err := a.tokens.Load(ctx); err != nil {
		logger.Warn("stored token unavailable", slog.Any("error", err))
	}
	if token, ok := a.tokens.Token(); ok {
		a.mirror.Set(token)
	}

	a.session = session.New(session.Config{
		Identity: idc,
		Tokens:   a.tokens,
		Mirror:   a.mirror,
		Logger:   logger,
	})

	a.guard = auth.NewGuard(auth.GuardConfig{
		Verification: cfg.Verification(),
		KeyStore: auth.NewJWKSKeyStore(auth.JWKSConfig{
			URL:        cfg.Auth.JWKSURL,
			HTTPClient: &http.Client{Timeout: cfg.Auth.HTTPTimeout},
			Logger:     logger,
		}),
	})
	a.resolver = adminsession.New(adminsession.Config{
		Verifier:   a.guard,
		Profiles:   idc,
		CookieName: cfg.Auth.CookieName,
		Logger:     logger,
	})

	return a, nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		_ = c.Close()
	}
}
