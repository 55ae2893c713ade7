package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ozonbot/internal/domain"
	"ozonbot/internal/security/secretbox"
	"ozonbot/internal/store"
)

var ErrUnknownKey = errors.New("unknown or expired api key")

type blob struct {
	APIToken string `json:"api_token"`
	ClientID string `json:"client_id"`
}

// Credentials is the durable credential store consulted for sessions bound
// to a Telegram user.
type Credentials interface {
	Get(ctx context.Context, telegramID int64) (domain.Credential, bool, error)
}

// Manager issues opaque API keys for the web frontend. The key itself is
// never stored; lookups go through its sha256 hash.
type Manager struct {
	store store.SessionStore
	creds Credentials
	box   *secretbox.Box
	ttl   time.Duration
}

func NewManager(st store.SessionStore, creds Credentials, box *secretbox.Box, ttl time.Duration) *Manager {
	return &Manager{store: st, creds: creds, box: box, ttl: ttl}
}

func (m *Manager) Issue(ctx context.Context, apiToken, clientID string, telegramID *int64) (string, domain.APISession, error) {
	raw, err := json.Marshal(blob{APIToken: apiToken, ClientID: clientID})
	if err != nil {
		return "", domain.APISession{}, err
	}
	enc, err := m.box.Encrypt(string(raw))
	if err != nil {
		return "", domain.APISession{}, fmt.Errorf("encrypt session: %w", err)
	}
	key := uuid.NewString()
	now := time.Now().UTC()
	session := domain.APISession{
		KeyHash:       secretbox.HashToken(key),
		TelegramID:    telegramID,
		CredentialEnc: enc,
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.ttl),
	}
	if err := m.store.SaveSession(ctx, session); err != nil {
		return "", domain.APISession{}, err
	}
	return key, session, nil
}

// Resolve returns the credential bound to key. Sessions tied to a Telegram
// user always see that user's current stored credential; once it is deleted
// the key stops working.
func (m *Manager) Resolve(ctx context.Context, key string) (domain.Credential, domain.APISession, error) {
	if key == "" {
		return domain.Credential{}, domain.APISession{}, ErrUnknownKey
	}
	session, err := m.store.GetSession(ctx, secretbox.HashToken(key))
	if errors.Is(err, store.ErrNotFound) {
		return domain.Credential{}, domain.APISession{}, ErrUnknownKey
	}
	if err != nil {
		return domain.Credential{}, domain.APISession{}, err
	}
	if session.TelegramID != nil && m.creds != nil {
		cred, found, err := m.creds.Get(ctx, *session.TelegramID)
		if err != nil {
			return domain.Credential{}, domain.APISession{}, err
		}
		if !found {
			if err := m.store.DeleteSession(ctx, session.KeyHash); err != nil && !errors.Is(err, store.ErrNotFound) {
				return domain.Credential{}, domain.APISession{}, err
			}
			return domain.Credential{}, domain.APISession{}, ErrUnknownKey
		}
		return cred, session, nil
	}
	plain, err := m.box.Decrypt(session.CredentialEnc)
	if err != nil {
		return domain.Credential{}, domain.APISession{}, fmt.Errorf("decrypt session: %w", err)
	}
	var b blob
	if err := json.Unmarshal([]byte(plain), &b); err != nil {
		return domain.Credential{}, domain.APISession{}, fmt.Errorf("decode session: %w", err)
	}
	cred := domain.Credential{APIToken: b.APIToken, ClientID: b.ClientID, CreatedAt: session.CreatedAt}
	if session.TelegramID != nil {
		cred.TelegramID = *session.TelegramID
	}
	return cred, session, nil
}

func (m *Manager) Revoke(ctx context.Context, key string) error {
	err := m.store.DeleteSession(ctx, secretbox.HashToken(key))
	if errors.Is(err, store.ErrNotFound) {
		return ErrUnknownKey
	}
	return err
}

func (m *Manager) Purge(ctx context.Context) (int64, error) {
	return m.store.PurgeExpiredSessions(ctx, time.Now().UTC())
}
