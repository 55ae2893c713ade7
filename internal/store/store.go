package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"ozonbot/internal/domain"
)

var ErrNotFound = errors.New("not found")

// CredentialStore holds at most one credential per telegram id.
type CredentialStore interface {
	// SaveCredential inserts or replaces. CreatedAt of an existing row is kept.
	SaveCredential(ctx context.Context, cred domain.StoredCredential) error
	GetCredential(ctx context.Context, telegramID int64) (domain.StoredCredential, error)
	// DeleteCredential succeeds when nothing is stored.
	DeleteCredential(ctx context.Context, telegramID int64) error
	TouchCredential(ctx context.Context, telegramID int64, at time.Time) error
	ListCredentials(ctx context.Context) ([]domain.StoredCredential, error)
}

// SessionStore treats expired sessions as absent.
type SessionStore interface {
	SaveSession(ctx context.Context, session domain.APISession) error
	GetSession(ctx context.Context, keyHash string) (domain.APISession, error)
	DeleteSession(ctx context.Context, keyHash string) error
	PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

type SettingsStore interface {
	GetSettings(ctx context.Context, telegramID int64) (domain.NotificationSettings, error)
	SaveSettings(ctx context.Context, settings domain.NotificationSettings) error
}

// CostStore keeps one cost list per owner, see CostOwner.
type CostStore interface {
	ReplaceCosts(ctx context.Context, owner string, costs []domain.ProductCost) error
	ListCosts(ctx context.Context, owner string) ([]domain.ProductCost, error)
}

type EventLog interface {
	AppendEvent(ctx context.Context, eventType domain.EventType, telegramID int64, payload map[string]interface{}) (domain.Event, error)
	ListEvents(ctx context.Context, limit int) ([]domain.Event, error)
}

// Store defines the runtime persistence contract used by the bot, jobs and
// HTTP layer.
type Store interface {
	CredentialStore
	SessionStore
	SettingsStore
	CostStore
	EventLog
	Close() error
}

// SnapshotStore is the analytics history written by the refresh job. It is
// owned separately from Store and may live in a different database.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap domain.Snapshot) error
	LatestSnapshot(ctx context.Context, telegramID int64) (domain.Snapshot, error)
	Close() error
}

// CostOwner keys product costs by telegram id, or by session hash for
// frontend sessions that were never tied to a Telegram user.
func CostOwner(telegramID *int64, sessionHash string) string {
	if telegramID != nil {
		return "tg:" + strconv.FormatInt(*telegramID, 10)
	}
	return "session:" + sessionHash
}
