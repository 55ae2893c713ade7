package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ozonbot/internal/domain"
	"ozonbot/internal/store"
)

// Service reads notification settings, persisting defaults on first read.
type Service struct {
	store store.SettingsStore
}

func NewService(st store.SettingsStore) *Service {
	return &Service{store: st}
}

func (s *Service) Get(ctx context.Context, telegramID int64) (domain.NotificationSettings, error) {
	current, err := s.store.GetSettings(ctx, telegramID)
	if err == nil {
		return current, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.NotificationSettings{}, fmt.Errorf("get settings: %w", err)
	}
	defaults := domain.DefaultNotificationSettings(telegramID)
	if err := s.store.SaveSettings(ctx, defaults); err != nil {
		return domain.NotificationSettings{}, fmt.Errorf("save default settings: %w", err)
	}
	return defaults, nil
}

// Save validates and replaces the settings. A zero chat id falls back to the
// telegram id.
func (s *Service) Save(ctx context.Context, in domain.NotificationSettings) (domain.NotificationSettings, error) {
	if in.MarginThreshold < 0 || in.MarginThreshold > 100 {
		return domain.NotificationSettings{}, fmt.Errorf("%w: margin_threshold must be within 0..100", ErrInvalid)
	}
	if in.ROIThreshold < 0 {
		return domain.NotificationSettings{}, fmt.Errorf("%w: roi_threshold must not be negative", ErrInvalid)
	}
	if in.ChatID == 0 {
		in.ChatID = in.TelegramID
	}
	in.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveSettings(ctx, in); err != nil {
		return domain.NotificationSettings{}, fmt.Errorf("save settings: %w", err)
	}
	return in, nil
}

var ErrInvalid = errors.New("invalid settings")
