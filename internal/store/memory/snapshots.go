package memory

import (
	"context"
	"sync"

	"ozonbot/internal/domain"
	"ozonbot/internal/store"
)

// SnapshotStore keeps the latest analytics snapshots per user.
type SnapshotStore struct {
	mu    sync.RWMutex
	byUID map[int64][]domain.Snapshot
	keep  int
}

var _ store.SnapshotStore = (*SnapshotStore)(nil)

func NewSnapshotStore(keep int) *SnapshotStore {
	if keep <= 0 {
		keep = 30
	}
	return &SnapshotStore{byUID: make(map[int64][]domain.Snapshot), keep: keep}
}

func (s *SnapshotStore) SaveSnapshot(_ context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.byUID[snap.TelegramID], snap)
	if len(list) > s.keep {
		list = list[len(list)-s.keep:]
	}
	s.byUID[snap.TelegramID] = list
	return nil
}

func (s *SnapshotStore) LatestSnapshot(_ context.Context, telegramID int64) (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byUID[telegramID]
	if len(list) == 0 {
		return domain.Snapshot{}, store.ErrNotFound
	}
	return list[len(list)-1], nil
}

func (s *SnapshotStore) Close() error { return nil }
