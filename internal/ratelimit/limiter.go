// Package ratelimit throttles credential submissions with fixed-window
// counters in Redis, shared by every gateway replica.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/appadook/portfolio-website-sub001/internal/domain"
	"github.com/appadook/portfolio-website-sub001/internal/errmap"
	redisclient "github.com/appadook/portfolio-website-sub001/internal/redis"
)

var tracer = otel.Tracer("ratelimit")

// windowScript increments the counter and sets its TTL on the first write
// only, so the window is fixed from the first attempt.
const windowScript = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return count
`

// keyPrefix is the Redis key prefix. Key pattern: login_attempts:{subject}.
const keyPrefix = "login_attempts:"

type Config struct {
	Limit  int
	Window time.Duration
	Logger *slog.Logger
}

// Limiter is fail-closed: a Redis error denies the attempt.
type Limiter struct {
	cmd    redisclient.Cmdable
	limit  int
	window time.Duration
	logger *slog.Logger
}

func New(cmd redisclient.Cmdable, cfg Config) *Limiter {
	l := &Limiter{cmd: cmd, limit: cfg.Limit, window: cfg.Window, logger: cfg.Logger}
	if l.limit <= 0 {
		l.limit = domain.LoginAttemptLimit
	}
	if l.window < time.Second {
		l.window = domain.LoginAttemptWindow
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Allow counts one attempt for subject and reports whether it is within
// the limit. On Redis failure it returns false and an error wrapping
// domain.ErrUnavailable.
func (l *Limiter) Allow(ctx context.Context, subject string) (bool, error) {
	ctx, span := tracer.Start(ctx, "redis.ratelimit.allow")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "EVAL"),
	)

	key := keyPrefix + subject
	count, err := l.cmd.Eval(ctx, windowScript, []string{key}, int(l.window/time.Second)).Int64()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("rate limit check %q: %w: %w", key, domain.ErrUnavailable, err)
	}

	return count <= int64(l.limit), nil
}

// Middleware throttles by client address. Run it after chi's RealIP so
// RemoteAddr reflects the original client.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, err := l.Allow(r.Context(), clientIP(r))
		if err != nil {
			l.logger.ErrorContext(r.Context(), "rate limiter unavailable", slog.Any("error", err))
			errmap.WriteError(w, err)
			return
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(l.window/time.Second)))
			errmap.WriteError(w, domain.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
