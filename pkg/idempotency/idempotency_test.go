package idempotency_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/saasbilling/pkg/idempotency"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("claims once", func(t *testing.T) {
		t.Parallel()
		s := idempotency.NewMemoryStore(10, time.Hour)

		ok, err := s.Claim(ctx, "evt_1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Claim(ctx, "evt_1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("release allows reclaim", func(t *testing.T) {
		t.Parallel()
		s := idempotency.NewMemoryStore(10, time.Hour)

		_, _ = s.Claim(ctx, "evt_1")
		require.NoError(t, s.Release(ctx, "evt_1"))

		ok, err := s.Claim(ctx, "evt_1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("expired claim can be taken again", func(t *testing.T) {
		t.Parallel()
		s := idempotency.NewMemoryStore(10, time.Nanosecond)

		_, _ = s.Claim(ctx, "evt_1")
		time.Sleep(time.Millisecond)

		ok, err := s.Claim(ctx, "evt_1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("uncompleted claim lapses after the lease", func(t *testing.T) {
		t.Parallel()
		s := idempotency.NewMemoryStore(10, time.Hour, idempotency.WithLease(time.Nanosecond))

		ok, err := s.Claim(ctx, "evt_1")
		require.NoError(t, err)
		require.True(t, ok)
		time.Sleep(time.Millisecond)

		ok, err = s.Claim(ctx, "evt_1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("completed claim outlives the lease", func(t *testing.T) {
		t.Parallel()
		s := idempotency.NewMemoryStore(10, time.Hour, idempotency.WithLease(time.Nanosecond))

		_, _ = s.Claim(ctx, "evt_1")
		require.NoError(t, s.Complete(ctx, "evt_1"))
		time.Sleep(time.Millisecond)

		ok, err := s.Claim(ctx, "evt_1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("evicts oldest beyond capacity", func(t *testing.T) {
		t.Parallel()
		s := idempotency.NewMemoryStore(2, time.Hour)

		for i := range 3 {
			_, _ = s.Claim(ctx, fmt.Sprintf("evt_%d", i))
		}
		assert.Equal(t, 2, s.Len())

		ok, _ := s.Claim(ctx, "evt_0")
		assert.True(t, ok, "evicted key is claimable again")
	})

	t.Run("empty key", func(t *testing.T) {
		t.Parallel()
		s := idempotency.NewMemoryStore(1, time.Hour)
		_, err := s.Claim(ctx, "")
		assert.ErrorIs(t, err, idempotency.ErrEmptyKey)
		assert.ErrorIs(t, s.Complete(ctx, ""), idempotency.ErrEmptyKey)
	})

	t.Run("concurrent claims yield a single winner", func(t *testing.T) {
		t.Parallel()
		s := idempotency.NewMemoryStore(10, time.Hour)

		var (
			wg      sync.WaitGroup
			winners atomic.Int32
		)
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if ok, _ := s.Claim(ctx, "evt_race"); ok {
					winners.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), winners.Load())
	})
}

func TestRedisStore(t *testing.T) {
	t.Parallel()

	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	s := idempotency.NewRedisStore(client, "test:"+uuid.NewString()+":", time.Minute)

	ok, err := s.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Release(ctx, "evt_1"))
	ok, err = s.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Complete(ctx, "evt_1"))
	ok, err = s.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, ok)
}
