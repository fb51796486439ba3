package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/appadook/portfolio-website-sub001/internal/adminsession"
	"github.com/appadook/portfolio-website-sub001/internal/auth"
	"github.com/appadook/portfolio-website-sub001/internal/config"
	"github.com/appadook/portfolio-website-sub001/internal/cookie"
	"github.com/appadook/portfolio-website-sub001/internal/gate"
	"github.com/appadook/portfolio-website-sub001/internal/identity"
	"github.com/appadook/portfolio-website-sub001/internal/ratelimit"
	redisclient "github.com/appadook/portfolio-website-sub001/internal/redis"
	"github.com/appadook/portfolio-website-sub001/internal/session"
	"github.com/appadook/portfolio-website-sub001/internal/tokenstore"
)

// Deps are the long-lived collaborators behind the gateway routes. The
// gate and the resolver share one Guard, and so one key set cache.
type Deps struct {
	Config   *config.Config
	Logger   *slog.Logger
	Guard    *auth.Guard
	Keys     *auth.JWKSKeyStore
	Identity *identity.Client
	Resolver *adminsession.Resolver
	Gate     *gate.Gate

	// Limiter throttles credential submissions. Nil when Redis is not
	// configured.
	Limiter *ratelimit.Limiter
	redis   *redisclient.Client

	// httpClient has no cookie jar. Each form login gets its own jar via
	// identity.New so refresh credentials never mix between callers.
	httpClient *http.Client
}

// NewDeps builds the gateway collaborators from cfg. Nothing touches the
// network until the first request.
func NewDeps(cfg *config.Config, logger *slog.Logger) (*Deps, error) {
	hc := &http.Client{Timeout: cfg.Auth.HTTPTimeout}

	keys := auth.NewJWKSKeyStore(auth.JWKSConfig{
		URL:             cfg.Auth.JWKSURL,
		RefreshInterval: cfg.Auth.JWKSRefreshInterval,
		HTTPClient:      hc,
		Logger:          logger,
	})
	guard := auth.NewGuard(auth.GuardConfig{
		Verification: cfg.Verification(),
		KeyStore:     keys,
	})

	idc, err := identity.New(identity.Config{
		BaseURL:    cfg.Auth.BaseURL,
		HTTPClient: hc,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create identity client: %w", err)
	}

	d := &Deps{
		Config:   cfg,
		Logger:   logger,
		Guard:    guard,
		Keys:     keys,
		Identity: idc,
		Resolver: adminsession.New(adminsession.Config{
			Verifier:   guard,
			Profiles:   idc,
			CookieName: cfg.Auth.CookieName,
			Logger:     logger,
		}),
		Gate: gate.New(gate.Config{
			ProtectedPrefix: cfg.Gate.ProtectedPrefix,
			LoginPath:       cfg.Gate.LoginPath,
			PublicPaths:     cfg.Gate.PublicPaths,
			CookieName:      cfg.Auth.CookieName,
			Verifier:        guard,
			Logger:          logger,
		}),
		httpClient: hc,
	}

	if cfg.Redis.Addr != "" {
		d.redis = redisclient.NewClient(redisclient.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Timeout:  cfg.Redis.Timeout,
		})
		d.Limiter = ratelimit.New(d.redis.RDB, ratelimit.Config{
			Limit:  cfg.Limit.LoginAttempts,
			Window: cfg.Limit.LoginWindow,
			Logger: logger,
		})
	}

	return d, nil
}

// Ping checks the optional Redis dependency.
func (d *Deps) Ping(ctx context.Context) error {
	if d.redis == nil {
		return nil
	}
	return d.redis.Ping(ctx)
}

// Close releases the Redis connection, if any.
func (d *Deps) Close() error {
	if d.redis == nil {
		return nil
	}
	return d.redis.Close()
}

// throttle wraps credential handlers with the limiter when one is configured.
func (d *Deps) throttle(next http.Handler) http.Handler {
	if d.Limiter == nil {
		return next
	}
	return d.Limiter.Middleware(next)
}

// sessionFor builds a session client that mirrors into the response for r.
// The token store is request-scoped: the browser cookie is the only state
// the gateway keeps between requests.
func (d *Deps) sessionFor(w http.ResponseWriter, r *http.Request) (*session.Client, *tokenstore.Adapter, error) {
	idc, err := identity.New(identity.Config{
		BaseURL:    d.Config.Auth.BaseURL,
		HTTPClient: d.httpClient,
		Logger:     d.Logger,
	})
	if err != nil {
		return nil, nil, err
	}
	tokens := tokenstore.New(tokenstore.Config{Refresher: idc, Logger: d.Logger})
	mirror := cookie.NewResponseMirror(w, r, d.Config.Auth.CookieName, d.Config.Gate.TrustForwardedProto)
	if d.Config.IsProd() {
		// Production always sits behind TLS, whatever the hop to us says.
		mirror.AlwaysSecure()
	}
	client := session.New(session.Config{
		Identity: idc,
		Tokens:   tokens,
		Mirror:   mirror,
		Logger:   d.Logger,
	})
	return client, tokens, nil
}
