package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sandy-echo/echo-backend/internal/models"
)

// Compile-time interface check
var _ ThreadStore = (*MemoryStore)(nil)

// MemoryStore keeps thread documents in process memory. It backs local
// development and tests; production uses RedisStore.
type MemoryStore struct {
	threads map[string]*models.Thread
	mu      sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string]*models.Thread),
	}
}

func (s *MemoryStore) CreateThread(ctx context.Context, thread *models.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *thread
	cp.Messages = append([]models.Message(nil), thread.Messages...)
	s.threads[thread.ID] = &cp
	return nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, threadID string, msg models.Message, opts AppendOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return ErrNotFound
	}

	t.Messages = append(t.Messages, msg)
	if opts.DisplayName != "" && opts.SenderID == t.OwnerID {
		t.OwnerDisplayName = opts.DisplayName
	}
	return nil
}

func (s *MemoryStore) GetThread(ctx context.Context, threadID string) (*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[threadID]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *t
	cp.Messages = append([]models.Message(nil), t.Messages...)
	return &cp, nil
}

func (s *MemoryStore) ListThreadsByOwner(ctx context.Context, ownerID string) ([]models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Thread
	for _, t := range s.threads {
		if t.OwnerID != ownerID {
			continue
		}
		cp := *t
		cp.Messages = append([]models.Message(nil), t.Messages...)
		out = append(out, cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) SetRevealState(ctx context.Context, threadID string, next models.RevealState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return false, ErrNotFound
	}

	if !revealAdvances(t.RevealState, next) {
		return false, nil
	}
	t.RevealState = next
	return true, nil
}

func (s *MemoryStore) IncrementOpenCount(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return ErrNotFound
	}
	t.OpenCount++
	return nil
}

func (s *MemoryStore) IncrementPlayCount(ctx context.Context, threadID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return ErrNotFound
	}

	// Unknown message within an existing thread is a tolerated no-op;
	// the play counter is best-effort by contract.
	for i := range t.Messages {
		if t.Messages[i].ID == messageID {
			t.Messages[i].PlayCount++
			break
		}
	}
	return nil
}

func (s *MemoryStore) ListExpired(ctx context.Context, now time.Time) ([]models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Thread
	for _, t := range s.threads {
		if t.ExpireAt != nil && t.ExpireAt.Before(now) {
			cp := *t
			cp.Messages = append([]models.Message(nil), t.Messages...)
			out = append(out, cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.threads, threadID)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.threads = nil
	return nil
}

// revealAdvances reports whether next is strictly ahead of cur in the
// hidden -> request_pending -> approved order. Skipping request_pending is a
// valid forward move (auto-reveal, direct approval).
func revealAdvances(cur, next models.RevealState) bool {
	return revealRank(next) > revealRank(cur)
}

func revealRank(s models.RevealState) int {
	switch s {
	case models.RevealRequestPending:
		return 1
	case models.RevealApproved:
		return 2
	default:
		return 0
	}
}
