package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandy-echo/echo-backend/internal/models"
)

func setupTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	s := miniredis.RunT(t)
	store := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: s.Addr()}))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisStoreUnreachableIsUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	require.NoError(t, s.CreateThread(ctx, newTestThread("t1", "owner1")))

	// Every request-path operation on an unreachable store must surface
	// ErrUnavailable, never a bare transport error, so the facade can
	// answer 503 instead of 500.
	mr.Close()

	_, err := s.GetThread(ctx, "t1")
	assert.ErrorIs(t, err, ErrUnavailable)

	err = s.CreateThread(ctx, newTestThread("t2", "owner1"))
	assert.ErrorIs(t, err, ErrUnavailable)

	msg := models.Message{ID: "m2", AudioRef: "m2.webm", CreatedAt: time.Now().UTC()}
	err = s.AppendMessage(ctx, "t1", msg, AppendOptions{})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.SetRevealState(ctx, "t1", models.RevealApproved)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.ListThreadsByOwner(ctx, "owner1")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.ListExpired(ctx, time.Now().UTC())
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.ErrorIs(t, s.Ping(ctx), ErrUnavailable)
}

func TestRedisStoreCreateAndGet(t *testing.T) {
	s := setupTestRedis(t)
	ctx := context.Background()

	th := newTestThread("t1", "owner1")
	require.NoError(t, s.CreateThread(ctx, th))

	got, err := s.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, "owner1", got.OwnerID)
	assert.Equal(t, models.RevealHidden, got.RevealState)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "t1-m1.webm", got.Messages[0].AudioRef)

	_, err = s.GetThread(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreAppendMessage(t *testing.T) {
	s := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, s.CreateThread(ctx, newTestThread("t1", "owner1")))

	msg := models.Message{ID: "m2", AudioRef: "m2.webm", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.AppendMessage(ctx, "t1", msg, AppendOptions{
		SenderID: "owner1", DisplayName: "Sandy",
	}))

	got, err := s.GetThread(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "m2", got.Messages[1].ID)
	assert.Equal(t, "Sandy", got.OwnerDisplayName)

	err = s.AppendMessage(ctx, "missing", msg, AppendOptions{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreConcurrentAppendsLoseNothing(t *testing.T) {
	s := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, s.CreateThread(ctx, newTestThread("t1", "owner1")))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := models.Message{
				ID:        fmt.Sprintf("msg-%d", i),
				AudioRef:  fmt.Sprintf("msg-%d.webm", i),
				CreatedAt: time.Now().UTC(),
			}
			// Contended WATCH transactions may need more than txRetries
			// attempts under this much concurrency; retry like a caller
			// would, but bounded so a real failure fails the test.
			var err error
			for attempt := 0; attempt < 50; attempt++ {
				err = s.AppendMessage(ctx, "t1", msg, AppendOptions{})
				if err == nil {
					break
				}
			}
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, got.Messages, n+1, "no append may be lost")
}

func TestRedisStoreRevealStateIsMonotonic(t *testing.T) {
	s := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, s.CreateThread(ctx, newTestThread("t1", "owner1")))

	changed, err := s.SetRevealState(ctx, "t1", models.RevealRequestPending)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.SetRevealState(ctx, "t1", models.RevealRequestPending)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.SetRevealState(ctx, "t1", models.RevealApproved)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.SetRevealState(ctx, "t1", models.RevealHidden)
	require.NoError(t, err)
	assert.False(t, changed)

	got, _ := s.GetThread(ctx, "t1")
	assert.Equal(t, models.RevealApproved, got.RevealState)

	_, err = s.SetRevealState(ctx, "missing", models.RevealApproved)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreCounters(t *testing.T) {
	s := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, s.CreateThread(ctx, newTestThread("t1", "owner1")))

	require.NoError(t, s.IncrementOpenCount(ctx, "t1"))
	require.NoError(t, s.IncrementOpenCount(ctx, "t1"))
	require.NoError(t, s.IncrementPlayCount(ctx, "t1", "t1-m1"))
	assert.NoError(t, s.IncrementPlayCount(ctx, "t1", "unknown"))
	assert.ErrorIs(t, s.IncrementPlayCount(ctx, "missing", "m"), ErrNotFound)

	got, err := s.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.OpenCount)
	assert.Equal(t, 1, got.Messages[0].PlayCount)
}

func TestRedisStoreListThreadsByOwnerNewestFirst(t *testing.T) {
	s := setupTestRedis(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		th := newTestThread(fmt.Sprintf("t%d", i), "owner1")
		th.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.CreateThread(ctx, th))
	}
	require.NoError(t, s.CreateThread(ctx, newTestThread("other", "owner2")))

	list, err := s.ListThreadsByOwner(ctx, "owner1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "t2", list[0].ID)
	assert.Equal(t, "t0", list[2].ID)

	empty, err := s.ListThreadsByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRedisStoreExpiryIndexAndDelete(t *testing.T) {
	s := setupTestRedis(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	expired := newTestThread("old", "owner1")
	expired.Expiry = models.Expiry24h
	expired.ExpireAt = &past
	require.NoError(t, s.CreateThread(ctx, expired))

	require.NoError(t, s.CreateThread(ctx, newTestThread("perm", "owner1")))

	list, err := s.ListExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "old", list[0].ID)

	require.NoError(t, s.DeleteThread(ctx, "old"))

	_, err = s.GetThread(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err = s.ListExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, list)

	// Owner listing no longer includes the deleted thread
	owned, err := s.ListThreadsByOwner(ctx, "owner1")
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "perm", owned[0].ID)
}
