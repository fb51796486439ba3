// Package tokenstore owns the current access token for one interactive
// session. Memory is authoritative; an optional Store is written through so
// the token survives process restarts.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/appadook/portfolio-website-sub001/internal/domain"
	"github.com/appadook/portfolio-website-sub001/internal/identity"
)

// Refresher obtains a new access token using whatever refresh credential it
// holds. *identity.Client satisfies it.
type Refresher interface {
	Refresh(ctx context.Context) (*identity.AuthResult, error)
}

// Config configures an Adapter. Store and Refresher are optional.
type Config struct {
	Store     Store
	Refresher Refresher
	Logger    *slog.Logger
}

// Adapter holds at most one current token. Set and Clear are atomic from the
// caller's perspective: a reader sees either the old token or the new one.
type Adapter struct {
	mu        sync.RWMutex
	token     string
	store     Store
	refresher Refresher
	logger    *slog.Logger
	group     singleflight.Group
}

func New(cfg Config) *Adapter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		store:     cfg.Store,
		refresher: cfg.Refresher,
		logger:    logger,
	}
}

// Token returns the current token without side effects.
func (a *Adapter) Token() (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token, a.token != ""
}

// Set replaces the current token. Memory is always updated; a persistence
// failure is returned but does not roll the in-memory write back.
func (a *Adapter) Set(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("set token: %w", domain.ErrInvalidInput)
	}
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()

	if a.store == nil {
		return nil
	}
	if err := a.store.Save(ctx, token); err != nil {
		a.logger.WarnContext(ctx, "token persistence failed", slog.Any("error", err))
		return err
	}
	return nil
}

// Clear drops the current token from memory and from the Store.
func (a *Adapter) Clear(ctx context.Context) error {
	a.mu.Lock()
	a.token = ""
	a.mu.Unlock()

	if a.store == nil {
		return nil
	}
	if err := a.store.Delete(ctx); err != nil {
		a.logger.WarnContext(ctx, "token persistence clear failed", slog.Any("error", err))
		return err
	}
	return nil
}

// Load hydrates memory from the Store when memory is empty. A missing
// stored token is not an error.
func (a *Adapter) Load(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	if _, ok := a.Token(); ok {
		return nil
	}
	token, err := a.store.Load(ctx)
	if errors.Is(err, domain.ErrNoToken) {
		return nil
	}
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.token == "" {
		a.token = token
	}
	a.mu.Unlock()
	return nil
}

// Refresh asks the Refresher for a new token and stores it. Concurrent
// calls share one upstream request. On failure the current token is left
// untouched.
func (a *Adapter) Refresh(ctx context.Context) (string, error) {
	if a.refresher == nil {
		return "", fmt.Errorf("refresh: %w", domain.ErrConfigRequired)
	}

	// Waiters share this call, so it must outlive the caller that started it.
	ctx = context.WithoutCancel(ctx)
	v, err, _ := a.group.Do("refresh", func() (any, error) {
		res, err := a.refresher.Refresh(ctx)
		if err != nil {
			return "", err
		}
		if res == nil || res.AccessToken == "" {
			return "", fmt.Errorf("refresh: empty access token: %w", domain.ErrNetwork)
		}
		// Persistence failure is logged by Set; memory holds the new token.
		_ = a.Set(ctx, res.AccessToken)
		return res.AccessToken, nil
	})
	if err != nil {
		level := slog.LevelDebug
		if domain.IsRetryable(err) {
			level = slog.LevelWarn
		}
		a.logger.Log(ctx, level, "token refresh failed", slog.Any("error", err))
		return "", err
	}
	return v.(string), nil
}
