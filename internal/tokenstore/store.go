package tokenstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/appadook/portfolio-website-sub001/internal/domain"
	redisclient "github.com/appadook/portfolio-website-sub001/internal/redis"
)

var tracer = otel.Tracer("tokenstore")

// tokenKeyPrefix is the Redis key prefix. Key pattern: admin_token:{sessionKey}.
const tokenKeyPrefix = "admin_token:"

// Store persists the current token beyond process memory. Load returns
// domain.ErrNoToken when nothing is stored.
type Store interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Delete(ctx context.Context) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu    sync.Mutex
	token string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return "", domain.ErrNoToken
	}
	return s.token, nil
}

func (s *MemoryStore) Save(_ context.Context, token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	return nil
}

// RedisStore keeps the token in Redis under a per-session key so that
// several CLI invocations or gateway replicas share one current token.
// Entries expire after ttl, which should cover the token lifetime.
type RedisStore struct {
	cmd redisclient.Cmdable
	key string
	ttl time.Duration
}

// NewRedisStore creates a RedisStore for sessionKey. A ttl of zero uses
// domain.PersistedTokenTTL.
func NewRedisStore(cmd redisclient.Cmdable, sessionKey string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = domain.PersistedTokenTTL
	}
	return &RedisStore{cmd: cmd, key: tokenKeyPrefix + sessionKey, ttl: ttl}
}

func (s *RedisStore) Load(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "redis.token.load")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "GET"),
	)

	token, err := s.cmd.Get(ctx, s.key).Result()
	if err == redisclient.Nil {
		return "", domain.ErrNoToken
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("load token %q: %w", s.key, err)
	}
	return token, nil
}

func (s *RedisStore) Save(ctx context.Context, token string) error {
	ctx, span := tracer.Start(ctx, "redis.token.save")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "SET"),
	)

	if err := s.cmd.Set(ctx, s.key, token, s.ttl).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("save token %q: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "redis.token.delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "DEL"),
	)

	if err := s.cmd.Del(ctx, s.key).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("delete token %q: %w", s.key, err)
	}
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
