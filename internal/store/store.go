// Package store persists thread documents. The store is the single source of
// truth for thread state: callers fetch fresh on every request and never cache
// a thread across requests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sandy-echo/echo-backend/internal/models"
)

var (
	// ErrNotFound is returned when a thread id does not resolve
	ErrNotFound = errors.New("thread not found")

	// ErrUnavailable is returned when the backing store is unreachable
	ErrUnavailable = errors.New("storage unavailable")

	// ErrStaleState is returned internally when an optimistic transaction
	// exhausts its retries; callers see it as ErrUnavailable
	ErrStaleState = errors.New("concurrent update conflict")
)

// AppendOptions carries the optional denormalized owner fields an upload may
// refresh while appending. DisplayName is applied only when the uploader is
// the thread owner; privacy is immutable after creation.
type AppendOptions struct {
	SenderID    string
	DisplayName string
}

// ThreadStore is the persistence contract for thread documents.
//
// Append and reveal-state writes are atomic read-modify-write operations:
// concurrent appends to the same thread must not lose messages, and reveal
// transitions are validated against the freshly-read state at write time.
type ThreadStore interface {
	// CreateThread persists a new thread. The thread must already carry its
	// first message.
	CreateThread(ctx context.Context, thread *models.Thread) error

	// AppendMessage atomically appends msg to the thread's message sequence
	// and optionally refreshes the owner display name (see AppendOptions).
	AppendMessage(ctx context.Context, threadID string, msg models.Message, opts AppendOptions) error

	// GetThread fetches a thread by id.
	GetThread(ctx context.Context, threadID string) (*models.Thread, error)

	// ListThreadsByOwner returns the owner's threads, newest first.
	ListThreadsByOwner(ctx context.Context, ownerID string) ([]models.Thread, error)

	// SetRevealState applies a forward-only reveal transition. It re-checks
	// monotonicity against the stored state at write time and reports whether
	// the write actually changed the state, so callers emit at most one event
	// per genuine transition even under races.
	SetRevealState(ctx context.Context, threadID string, next models.RevealState) (changed bool, err error)

	// IncrementOpenCount bumps the thread's open counter.
	IncrementOpenCount(ctx context.Context, threadID string) error

	// IncrementPlayCount bumps a message's play counter. An unknown message
	// id inside an existing thread is a no-op success; only a missing thread
	// is ErrNotFound.
	IncrementPlayCount(ctx context.Context, threadID, messageID string) error

	// ListExpired returns threads whose advisory expireAt is before now.
	ListExpired(ctx context.Context, now time.Time) ([]models.Thread, error)

	// DeleteThread removes a thread and its index entries.
	DeleteThread(ctx context.Context, threadID string) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	Close() error
}
