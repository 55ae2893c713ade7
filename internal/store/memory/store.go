package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ozonbot/internal/domain"
	"ozonbot/internal/store"
)

type Store struct {
	mu sync.RWMutex

	credentials map[int64]domain.StoredCredential
	sessions    map[string]domain.APISession
	settings    map[int64]domain.NotificationSettings
	costs       map[string][]domain.ProductCost
	events      []domain.Event
}

var _ store.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		credentials: make(map[int64]domain.StoredCredential),
		sessions:    make(map[string]domain.APISession),
		settings:    make(map[int64]domain.NotificationSettings),
		costs:       make(map[string][]domain.ProductCost),
		events:      make([]domain.Event, 0, 256),
	}
}

func (s *Store) SaveCredential(_ context.Context, cred domain.StoredCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.credentials[cred.TelegramID]; ok {
		cred.CreatedAt = existing.CreatedAt
		cred.LastUsedAt = existing.LastUsedAt
	} else if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now
	s.credentials[cred.TelegramID] = cred
	return nil
}

func (s *Store) GetCredential(_ context.Context, telegramID int64) (domain.StoredCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.credentials[telegramID]
	if !ok {
		return domain.StoredCredential{}, store.ErrNotFound
	}
	return cred, nil
}

func (s *Store) DeleteCredential(_ context.Context, telegramID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.credentials, telegramID)
	return nil
}

func (s *Store) TouchCredential(_ context.Context, telegramID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.credentials[telegramID]
	if !ok {
		return store.ErrNotFound
	}
	at = at.UTC()
	cred.LastUsedAt = &at
	s.credentials[telegramID] = cred
	return nil
}

func (s *Store) ListCredentials(_ context.Context) ([]domain.StoredCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.StoredCredential, 0, len(s.credentials))
	for _, cred := range s.credentials {
		out = append(out, cred)
	}
	slices.SortFunc(out, func(a, b domain.StoredCredential) int {
		switch {
		case a.TelegramID < b.TelegramID:
			return -1
		case a.TelegramID > b.TelegramID:
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *Store) SaveSession(_ context.Context, session domain.APISession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.KeyHash] = session
	return nil
}

func (s *Store) GetSession(_ context.Context, keyHash string) (domain.APISession, error) {
	s.mu.RLock()
	session, ok := s.sessions[keyHash]
	s.mu.RUnlock()
	if !ok || !session.ExpiresAt.After(time.Now().UTC()) {
		return domain.APISession{}, store.ErrNotFound
	}
	return session, nil
}

func (s *Store) DeleteSession(_ context.Context, keyHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[keyHash]; !ok {
		return store.ErrNotFound
	}
	delete(s.sessions, keyHash)
	return nil
}

func (s *Store) PurgeExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, session := range s.sessions {
		if !session.ExpiresAt.After(now) {
			delete(s.sessions, hash)
			n++
		}
	}
	return n, nil
}

func (s *Store) GetSettings(_ context.Context, telegramID int64) (domain.NotificationSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings, ok := s.settings[telegramID]
	if !ok {
		return domain.NotificationSettings{}, store.ErrNotFound
	}
	return settings, nil
}

func (s *Store) SaveSettings(_ context.Context, settings domain.NotificationSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings.UpdatedAt = time.Now().UTC()
	s.settings[settings.TelegramID] = settings
	return nil
}

// ReplaceCosts keeps the last entry per (product_id, offer_id) and orders
// the list the way the postgres store returns it.
func (s *Store) ReplaceCosts(_ context.Context, owner string, costs []domain.ProductCost) error {
	type costKey struct {
		productID int64
		offerID   string
	}
	byKey := make(map[costKey]int, len(costs))
	out := make([]domain.ProductCost, 0, len(costs))
	for _, c := range costs {
		k := costKey{c.ProductID, c.OfferID}
		if i, ok := byKey[k]; ok {
			out[i] = c
			continue
		}
		byKey[k] = len(out)
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.ProductCost) int {
		if a.ProductID != b.ProductID {
			if a.ProductID < b.ProductID {
				return -1
			}
			return 1
		}
		return strings.Compare(a.OfferID, b.OfferID)
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.costs[owner] = out
	return nil
}

func (s *Store) ListCosts(_ context.Context, owner string) ([]domain.ProductCost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.costs[owner]), nil
}

func (s *Store) AppendEvent(_ context.Context, eventType domain.EventType, telegramID int64, payload map[string]interface{}) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event := domain.Event{
		ID:         uuid.NewString(),
		TelegramID: telegramID,
		Type:       eventType,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
	s.events = append(s.events, event)
	return event, nil
}

// ListEvents returns the newest events first.
func (s *Store) ListEvents(_ context.Context, limit int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]domain.Event, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

func (s *Store) Close() error { return nil }
