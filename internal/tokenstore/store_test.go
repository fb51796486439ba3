package tokenstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appadook/portfolio-website-sub001/internal/domain"
	redisclient "github.com/appadook/portfolio-website-sub001/internal/redis"
	"github.com/appadook/portfolio-website-sub001/internal/tokenstore"
)

func newTestRedisStore(t *testing.T, sessionKey string) (*tokenstore.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redisclient.NewClient(redisclient.Config{
		Addr:    mr.Addr(),
		Timeout: 5 * time.Second,
	})
	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})

	return tokenstore.NewRedisStore(client.RDB, sessionKey, 0), mr
}

func TestRedisStore(t *testing.T) {
	t.Run("save writes the session key with TTL", func(t *testing.T) {
		store, mr := newTestRedisStore(t, "cli-default")
		ctx := context.Background()

		require.NoError(t, store.Save(ctx, "tok-1"))

		val, err := mr.Get("admin_token:cli-default")
		require.NoError(t, err)
		assert.Equal(t, "tok-1", val)
		assert.Equal(t, domain.PersistedTokenTTL, mr.TTL("admin_token:cli-default"))
	})

	t.Run("load returns the saved token", func(t *testing.T) {
		store, _ := newTestRedisStore(t, "s1")
		ctx := context.Background()

		require.NoError(t, store.Save(ctx, "tok-2"))
		got, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "tok-2", got)
	})

	t.Run("load of missing key is ErrNoToken", func(t *testing.T) {
		store, _ := newTestRedisStore(t, "s2")
		_, err := store.Load(context.Background())
		assert.ErrorIs(t, err, domain.ErrNoToken)
	})

	t.Run("expired entry reads as missing", func(t *testing.T) {
		store, mr := newTestRedisStore(t, "s3")
		ctx := context.Background()

		require.NoError(t, store.Save(ctx, "tok-3"))
		mr.FastForward(domain.PersistedTokenTTL + time.Second)

		_, err := store.Load(ctx)
		assert.ErrorIs(t, err, domain.ErrNoToken)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		store, mr := newTestRedisStore(t, "s4")
		ctx := context.Background()

		require.NoError(t, store.Save(ctx, "tok-4"))
		require.NoError(t, store.Delete(ctx))
		require.NoError(t, store.Delete(ctx))
		assert.False(t, mr.Exists("admin_token:s4"))
	})

	t.Run("errors when redis is unavailable", func(t *testing.T) {
		store, mr := newTestRedisStore(t, "s5")
		mr.Close()

		_, err := store.Load(context.Background())
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrNoToken)
	})
}

func TestAdapterWithRedisStore(t *testing.T) {
	store, _ := newTestRedisStore(t, "shared")
	ctx := context.Background()

	first := tokenstore.New(tokenstore.Config{Store: store})
	require.NoError(t, first.Set(ctx, "persisted-token"))

	second := tokenstore.New(tokenstore.Config{Store: store})
	require.NoError(t, second.Load(ctx))
	tok, ok := second.Token()
	assert.True(t, ok)
	assert.Equal(t, "persisted-token", tok)
}
