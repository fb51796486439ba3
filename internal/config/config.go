// Package config loads process-wide configuration using koanf.
// Precedence: environment variables, then compiled defaults. The result is
// resolved once at startup and treated as immutable afterwards.
package config

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/appadook/portfolio-website-sub001/internal/domain"
)

// EnvPrefix is stripped from every environment variable before mapping.
// A double underscore separates nested keys: PORTFOLIO_AUTH__JWKS_URL sets
// auth.jwks_url.
const EnvPrefix = "PORTFOLIO_"

// Config holds all service configuration.
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	HTTPPort int `koanf:"http_port"`

	Auth  AuthConfig  `koanf:"auth"`
	Gate  GateConfig  `koanf:"gate"`
	Redis RedisConfig `koanf:"redis"`
	Limit LimitConfig `koanf:"limit"`
	OTEL  OTELConfig  `koanf:"otel"`
}

// AuthConfig describes the identity service and how its tokens are verified.
// Empty Issuer and JWKSURL fall back to values derived from BaseURL.
type AuthConfig struct {
	BaseURL    string `koanf:"base_url"`
	Issuer     string `koanf:"issuer"`
	Audience   string `koanf:"audience"`
	JWKSURL    string `koanf:"jwks_url"`
	CookieName string `koanf:"cookie_name"`

	HTTPTimeout         time.Duration `koanf:"http_timeout"`
	JWKSRefreshInterval time.Duration `koanf:"jwks_refresh_interval"`
}

// GateConfig describes the protected area of the site.
type GateConfig struct {
	ProtectedPrefix string   `koanf:"protected_prefix"`
	LoginPath       string   `koanf:"login_path"`
	SignupPath      string   `koanf:"signup_path"`
	PublicPaths     []string `koanf:"public_paths"`

	// TrustForwardedProto lets X-Forwarded-Proto decide the cookie Secure
	// attribute. Enable only behind a proxy that sets it.
	TrustForwardedProto bool `koanf:"trust_forwarded_proto"`
}

// RedisConfig holds Redis configuration for persisted admin tokens and the
// login throttle. An empty Addr disables both.
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Timeout  time.Duration `koanf:"timeout"`
}

// LimitConfig bounds credential submissions per client address. Only
// enforced when Redis is configured.
type LimitConfig struct {
	LoginAttempts int           `koanf:"login_attempts"`
	LoginWindow   time.Duration `koanf:"login_window"`
}

// OTELConfig holds OpenTelemetry configuration.
type OTELConfig struct {
	Endpoint    string `koanf:"endpoint"` // Empty disables OTLP export
	ServiceName string `koanf:"service_name"`
}

// VerificationConfig is the immutable input to token verification, shared
// read-only by the edge gate and the page resolver.
type VerificationConfig struct {
	JWKSURL  string
	Issuer   string
	Audience string
	BaseURL  string
}

func defaults() *Config {
	return &Config{
		Environment: "local",
		LogLevel:    "info",
		LogFormat:   "json",
		HTTPPort:    8080,

		Auth: AuthConfig{
			BaseURL:             "http://localhost:8787",
			Audience:            domain.DefaultAudience,
			CookieName:          domain.DefaultCookieName,
			HTTPTimeout:         domain.IdentityRequestTimeout,
			JWKSRefreshInterval: domain.JWKSRefreshInterval,
		},
		Gate: GateConfig{
			ProtectedPrefix: domain.DefaultProtectedPrefix,
		},
		Redis: RedisConfig{
			Timeout: domain.RedisTimeout,
		},
		Limit: LimitConfig{
			LoginAttempts: domain.LoginAttemptLimit,
			LoginWindow:   domain.LoginAttemptWindow,
		},
	}
}

// Load resolves configuration from the environment over compiled defaults,
// applies fallbacks, and validates the result. Any returned error wraps
// domain.ErrConfigRequired or domain.ErrInvalidConfig and is fatal.
func Load(_ context.Context) (*Config, error) {
	k := koanf.New(".")

	cfg := defaults()

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidConfig, err)
	}

	cfg.applyFallbacks()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyFallbacks fills derived values the environment left empty.
func (c *Config) applyFallbacks() {
	c.Auth.BaseURL = strings.TrimRight(c.Auth.BaseURL, "/")
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = c.Auth.BaseURL
	}
	if c.Auth.JWKSURL == "" && c.Auth.BaseURL != "" {
		c.Auth.JWKSURL = c.Auth.BaseURL + domain.DefaultJWKSPath
	}
	if c.Auth.Audience == "" {
		c.Auth.Audience = domain.DefaultAudience
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = domain.DefaultCookieName
	}
	c.Gate.ProtectedPrefix = strings.TrimRight(c.Gate.ProtectedPrefix, "/")
	if c.Gate.LoginPath == "" {
		c.Gate.LoginPath = c.Gate.ProtectedPrefix + "/login"
	}
	if c.Gate.SignupPath == "" {
		c.Gate.SignupPath = c.Gate.ProtectedPrefix + "/signup"
	}
	// Login and signup are always reachable without a session, whatever
	// else is listed.
	c.Gate.PublicPaths = appendMissing(c.Gate.PublicPaths, c.Gate.LoginPath, c.Gate.SignupPath)
	if c.OTEL.ServiceName == "" {
		c.OTEL.ServiceName = "portfolio-admin-gateway"
	}
}

// Validate checks that required configuration is present and well formed.
func (c *Config) Validate() error {
	if c.Auth.BaseURL == "" {
		return fmt.Errorf("%w: auth.base_url", domain.ErrConfigRequired)
	}
	if err := validateURL("auth.base_url", c.Auth.BaseURL); err != nil {
		return err
	}
	if err := validateURL("auth.jwks_url", c.Auth.JWKSURL); err != nil {
		return err
	}
	if c.Auth.Issuer == "" {
		return fmt.Errorf("%w: auth.issuer", domain.ErrConfigRequired)
	}
	if c.Auth.HTTPTimeout <= 0 {
		return fmt.Errorf("%w: auth.http_timeout must be positive", domain.ErrInvalidConfig)
	}
	if !strings.HasPrefix(c.Gate.ProtectedPrefix, "/") || c.Gate.ProtectedPrefix == "/" {
		return fmt.Errorf("%w: gate.protected_prefix %q", domain.ErrInvalidConfig, c.Gate.ProtectedPrefix)
	}
	if !strings.HasPrefix(c.Gate.LoginPath, c.Gate.ProtectedPrefix+"/") {
		return fmt.Errorf("%w: gate.login_path %q outside %q", domain.ErrInvalidConfig, c.Gate.LoginPath, c.Gate.ProtectedPrefix)
	}
	if c.Limit.LoginAttempts <= 0 || c.Limit.LoginWindow < time.Second {
		return fmt.Errorf("%w: limit.login_attempts and limit.login_window must be positive", domain.ErrInvalidConfig)
	}
	return nil
}

func appendMissing(list []string, items ...string) []string {
	for _, item := range items {
		if !slices.Contains(list, item) {
			list = append(list, item)
		}
	}
	return list
}

func validateURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %s %q is not an absolute URL", domain.ErrInvalidConfig, key, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %s scheme %q", domain.ErrInvalidConfig, key, u.Scheme)
	}
	return nil
}

// Verification returns the token verification inputs.
func (c *Config) Verification() VerificationConfig {
	return VerificationConfig{
		JWKSURL:  c.Auth.JWKSURL,
		Issuer:   c.Auth.Issuer,
		Audience: c.Auth.Audience,
		BaseURL:  c.Auth.BaseURL,
	}
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
