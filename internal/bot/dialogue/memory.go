package dialogue

import (
	"context"
	"sync"
	"time"

	"ozonbot/internal/domain"
)

// Store holds one dialogue per user. A missing or expired entry reads as
// idle.
type Store interface {
	Get(ctx context.Context, telegramID int64) (domain.Dialogue, error)
	Set(ctx context.Context, telegramID int64, d domain.Dialogue) error
	Clear(ctx context.Context, telegramID int64) error
}

type entry struct {
	dialogue  domain.Dialogue
	expiresAt time.Time
}

type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[int64]entry
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, entries: make(map[int64]entry), now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, telegramID int64) (domain.Dialogue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[telegramID]
	if !ok {
		return Idle(), nil
	}
	if s.ttl > 0 && !e.expiresAt.After(s.now()) {
		delete(s.entries, telegramID)
		return Idle(), nil
	}
	return e.dialogue, nil
}

func (s *MemoryStore) Set(ctx context.Context, telegramID int64, d domain.Dialogue) error {
	if d.State == domain.StateIdle || d.State == "" {
		return s.Clear(ctx, telegramID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[telegramID] = entry{dialogue: d, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, telegramID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, telegramID)
	return nil
}

func Idle() domain.Dialogue {
	return domain.Dialogue{State: domain.StateIdle}
}
