package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandy-echo/echo-backend/internal/models"
)

// Compile-time interface check
var _ ThreadStore = (*RedisStore)(nil)

// Number of optimistic-transaction retries before giving up on a contended key
const txRetries = 3

// RedisStore persists thread documents as JSON values, with a per-owner
// sorted set for dashboard listing and a global sorted set indexing advisory
// expiry times.
//
// Keys:
//
//	thread:{id}    JSON thread document
//	owner:{id}     ZSET of thread ids, scored by createdAt
//	expiring       ZSET of thread ids, scored by expireAt
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and verifies the connection before returning, so a
// constructed store is always ready; there is no background-connect window
// during which requests could observe a half-initialized client.
func NewRedisStore(options *redis.Options) (*RedisStore, error) {
	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client (used by tests).
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) CreateThread(ctx context.Context, thread *models.Thread) error {
	data, err := json.Marshal(thread)
	if err != nil {
		return fmt.Errorf("marshal thread: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, threadKey(thread.ID), data, 0)
		pipe.ZAdd(ctx, ownerKey(thread.OwnerID), redis.Z{
			Score:  float64(thread.CreatedAt.UnixNano()),
			Member: thread.ID,
		})
		if thread.ExpireAt != nil {
			pipe.ZAdd(ctx, expiringKey, redis.Z{
				Score:  float64(thread.ExpireAt.Unix()),
				Member: thread.ID,
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create thread: %w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisStore) GetThread(ctx context.Context, threadID string) (*models.Thread, error) {
	data, err := r.client.Get(ctx, threadKey(threadID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		// Anything but a clean miss means the store could not answer
		return nil, fmt.Errorf("get thread: %w: %v", ErrUnavailable, err)
	}

	var t models.Thread
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode thread: %w", err)
	}
	return &t, nil
}

func (r *RedisStore) AppendMessage(ctx context.Context, threadID string, msg models.Message, opts AppendOptions) error {
	_, err := r.mutate(ctx, threadID, func(t *models.Thread) bool {
		t.Messages = append(t.Messages, msg)
		if opts.DisplayName != "" && opts.SenderID == t.OwnerID {
			t.OwnerDisplayName = opts.DisplayName
		}
		return true
	})
	return err
}

func (r *RedisStore) SetRevealState(ctx context.Context, threadID string, next models.RevealState) (bool, error) {
	return r.mutate(ctx, threadID, func(t *models.Thread) bool {
		// Validated against the state as read inside the transaction, not
		// against whatever the caller saw earlier.
		if !revealAdvances(t.RevealState, next) {
			return false
		}
		t.RevealState = next
		return true
	})
}

func (r *RedisStore) IncrementOpenCount(ctx context.Context, threadID string) error {
	_, err := r.mutate(ctx, threadID, func(t *models.Thread) bool {
		t.OpenCount++
		return true
	})
	return err
}

func (r *RedisStore) IncrementPlayCount(ctx context.Context, threadID, messageID string) error {
	_, err := r.mutate(ctx, threadID, func(t *models.Thread) bool {
		for i := range t.Messages {
			if t.Messages[i].ID == messageID {
				t.Messages[i].PlayCount++
				return true
			}
		}
		// Unknown message within an existing thread is a tolerated no-op
		return false
	})
	return err
}

func (r *RedisStore) ListThreadsByOwner(ctx context.Context, ownerID string) ([]models.Thread, error) {
	ids, err := r.client.ZRevRange(ctx, ownerKey(ownerID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list owner threads: %w: %v", ErrUnavailable, err)
	}
	return r.fetchAll(ctx, ids)
}

func (r *RedisStore) ListExpired(ctx context.Context, now time.Time) ([]models.Thread, error) {
	ids, err := r.client.ZRangeByScore(ctx, expiringKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired threads: %w: %v", ErrUnavailable, err)
	}
	return r.fetchAll(ctx, ids)
}

func (r *RedisStore) DeleteThread(ctx context.Context, threadID string) error {
	t, err := r.GetThread(ctx, threadID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Already gone; make sure no index entry lingers
			r.client.ZRem(ctx, expiringKey, threadID)
			return nil
		}
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, threadKey(threadID))
		pipe.ZRem(ctx, ownerKey(t.OwnerID), threadID)
		pipe.ZRem(ctx, expiringKey, threadID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete thread: %w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// mutate runs fn against a freshly-read thread document inside a WATCH-based
// optimistic transaction and writes the result back if fn reports a change.
// It retries a few times on contention so concurrent appends to the same
// thread serialize instead of losing writes.
func (r *RedisStore) mutate(ctx context.Context, threadID string, fn func(*models.Thread) bool) (bool, error) {
	key := threadKey(threadID)
	var changed bool

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}

		var t models.Thread
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("decode thread: %w", err)
		}

		changed = fn(&t)
		if !changed {
			return nil
		}

		newData, err := json.Marshal(&t)
		if err != nil {
			return fmt.Errorf("marshal thread: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newData, 0)
			return nil
		})
		return err
	}

	for i := 0; i < txRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return changed, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrNotFound) {
			return false, ErrNotFound
		}
		// A write that failed for any reason other than contention or a
		// missing document means the store could not serve the request
		return false, fmt.Errorf("update thread: %w: %v", ErrUnavailable, err)
	}

	return false, fmt.Errorf("%w: %v", ErrUnavailable, ErrStaleState)
}

func (r *RedisStore) fetchAll(ctx context.Context, ids []string) ([]models.Thread, error) {
	out := make([]models.Thread, 0, len(ids))
	for _, id := range ids {
		t, err := r.GetThread(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Index entry outlived its document; skip
				continue
			}
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

// Key helpers

const expiringKey = "expiring"

func threadKey(id string) string {
	return "thread:" + id
}

func ownerKey(id string) string {
	return "owner:" + id
}
