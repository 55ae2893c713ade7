package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ozonbot/internal/domain"
	"ozonbot/internal/store/memory"
)

func TestGet_PersistsDefaults(t *testing.T) {
	st := memory.NewStore()
	svc := NewService(st)

	got, err := svc.Get(context.Background(), 77)
	require.NoError(t, err)
	assert.Equal(t, 15.0, got.MarginThreshold)
	assert.Equal(t, 30.0, got.ROIThreshold)
	assert.True(t, got.DailyReport)
	assert.True(t, got.SalesAlerts)
	assert.False(t, got.ReturnsAlerts)
	assert.Equal(t, int64(77), got.ChatID)

	stored, err := st.GetSettings(context.Background(), 77)
	require.NoError(t, err)
	assert.Equal(t, got.MarginThreshold, stored.MarginThreshold)
}

func TestSave(t *testing.T) {
	svc := NewService(memory.NewStore())

	saved, err := svc.Save(context.Background(), domain.NotificationSettings{TelegramID: 5, MarginThreshold: 20, ROIThreshold: 50})
	require.NoError(t, err)
	assert.Equal(t, int64(5), saved.ChatID)

	got, err := svc.Get(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 20.0, got.MarginThreshold)
	assert.False(t, got.DailyReport)

	_, err = svc.Save(context.Background(), domain.NotificationSettings{TelegramID: 5, MarginThreshold: 120})
	assert.ErrorIs(t, err, ErrInvalid)
}
