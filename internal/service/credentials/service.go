package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ozonbot/internal/domain"
	"ozonbot/internal/security/secretbox"
	"ozonbot/internal/store"
)

// Service encrypts Ozon credentials on the way into the store and decrypts
// them on the way out.
type Service struct {
	store        store.CredentialStore
	box          *secretbox.Box
	logger       *zap.Logger
	touchTimeout time.Duration

	touches sync.WaitGroup
}

func NewService(st store.CredentialStore, box *secretbox.Box, logger *zap.Logger) *Service {
	return &Service{
		store:        st,
		box:          box,
		logger:       logger,
		touchTimeout: 5 * time.Second,
	}
}

// Save inserts or replaces the credential for telegramID. Values are stored
// as given.
func (s *Service) Save(ctx context.Context, telegramID int64, username, apiToken, clientID string) error {
	tokenEnc, err := s.box.Encrypt(apiToken)
	if err != nil {
		return fmt.Errorf("encrypt token: %w", err)
	}
	clientEnc, err := s.box.Encrypt(clientID)
	if err != nil {
		return fmt.Errorf("encrypt client id: %w", err)
	}
	return s.store.SaveCredential(ctx, domain.StoredCredential{
		TelegramID:  telegramID,
		Username:    username,
		APITokenEnc: tokenEnc,
		ClientIDEnc: clientEnc,
	})
}

// Get reports absence as ok=false with a nil error. Store and decryption
// failures are errors.
func (s *Service) Get(ctx context.Context, telegramID int64) (domain.Credential, bool, error) {
	stored, err := s.store.GetCredential(ctx, telegramID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Credential{}, false, nil
	}
	if err != nil {
		return domain.Credential{}, false, err
	}
	cred, err := s.open(stored)
	if err != nil {
		return domain.Credential{}, false, err
	}
	return cred, true, nil
}

func (s *Service) Delete(ctx context.Context, telegramID int64) error {
	return s.store.DeleteCredential(ctx, telegramID)
}

// Use is Get for outbound marketplace calls. It refreshes last_used_at in
// the background.
func (s *Service) Use(ctx context.Context, telegramID int64) (domain.Credential, bool, error) {
	cred, ok, err := s.Get(ctx, telegramID)
	if err != nil || !ok {
		return cred, ok, err
	}
	s.Touch(telegramID)
	return cred, true, nil
}

// Touch sets last_used_at to now without blocking the caller.
func (s *Service) Touch(telegramID int64) {
	s.touches.Add(1)
	go func() {
		defer s.touches.Done()
		tctx, cancel := context.WithTimeout(context.Background(), s.touchTimeout)
		defer cancel()
		if err := s.store.TouchCredential(tctx, telegramID, time.Now().UTC()); err != nil {
			s.logger.Warn("touch credential failed", zap.Int64("telegram_id", telegramID), zap.Error(err))
		}
	}()
}

// List skips records that no longer decrypt with the current key.
func (s *Service) List(ctx context.Context) ([]domain.Credential, error) {
	stored, err := s.store.ListCredentials(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Credential, 0, len(stored))
	for _, sc := range stored {
		cred, err := s.open(sc)
		if err != nil {
			s.logger.Warn("skipping undecryptable credential", zap.Int64("telegram_id", sc.TelegramID), zap.Error(err))
			continue
		}
		out = append(out, cred)
	}
	return out, nil
}

// Wait blocks until background touches have finished.
func (s *Service) Wait() {
	s.touches.Wait()
}

func (s *Service) open(sc domain.StoredCredential) (domain.Credential, error) {
	token, err := s.box.Decrypt(sc.APITokenEnc)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("decrypt token: %w", err)
	}
	clientID, err := s.box.Decrypt(sc.ClientIDEnc)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("decrypt client id: %w", err)
	}
	return domain.Credential{
		TelegramID: sc.TelegramID,
		Username:   sc.Username,
		APIToken:   token,
		ClientID:   clientID,
		CreatedAt:  sc.CreatedAt,
		UpdatedAt:  sc.UpdatedAt,
		LastUsedAt: sc.LastUsedAt,
	}, nil
}

// MaskClientID keeps the last four characters.
func MaskClientID(clientID string) string {
	if len(clientID) <= 4 {
		return "****"
	}
	return "****" + clientID[len(clientID)-4:]
}
