package enrichment

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, time.Hour, "test:"), mr
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()

	t.Run("miss returns nil", func(t *testing.T) {
		cache, _ := newTestRedisCache(t)
		got, err := cache.Get(ctx, "10.1000/none")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("round trip is case insensitive on DOI", func(t *testing.T) {
		cache, mr := newTestRedisCache(t)
		checked := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
		res := &Result{
			DOI:        "10.1000/ABC",
			Work:       &Work{DOI: "10.1000/ABC", Title: "T", Journal: "J"},
			OpenAccess: &OpenAccess{IsOA: true},
			CheckedAt:  &checked,
		}
		require.NoError(t, cache.Set(ctx, "10.1000/ABC", res))
		assert.True(t, mr.Exists("test:10.1000/abc"))
		assert.Equal(t, time.Hour, mr.TTL("test:10.1000/abc"))

		got, err := cache.Get(ctx, "10.1000/abc")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "T", got.Work.Title)
		assert.True(t, got.OpenAccess.IsOA)
		assert.True(t, checked.Equal(*got.CheckedAt))
	})

	t.Run("corrupt entry is a miss", func(t *testing.T) {
		cache, mr := newTestRedisCache(t)
		require.NoError(t, mr.Set("test:10.1000/bad", "{"))
		got, err := cache.Get(ctx, "10.1000/bad")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("server down surfaces an error", func(t *testing.T) {
		cache, mr := newTestRedisCache(t)
		mr.Close()
		_, err := cache.Get(ctx, "10.1000/x")
		assert.Error(t, err)
	})
}

func TestNewRedisCache_Defaults(t *testing.T) {
	cache := NewRedisCache(nil, 0, "")
	assert.Equal(t, 7*24*time.Hour, cache.ttl)
	assert.Equal(t, "feedingest:enrichment:10.1/x", cache.key("10.1/X"))
}
