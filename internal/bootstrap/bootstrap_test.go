package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ozonbot/internal/config"
	"ozonbot/internal/service/jobs"
)

func TestBuild_MemoryOnly(t *testing.T) {
	cfg := config.Config{
		StoreMode:             "memory",
		SessionTTL:            time.Hour,
		DialogueTTL:           time.Minute,
		OzonTimeout:           time.Second,
		MarketplaceFeePercent: 15,
	}
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.Store)
	assert.NotNil(t, app.Snapshots)
	assert.Nil(t, app.BotAPI)
	assert.Nil(t, app.Adapter)

	res, err := app.Jobs.Run(context.Background(), jobs.JobRefresh)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
}

func TestBuild_RejectsBadEncryptionKey(t *testing.T) {
	cfg := config.Config{StoreMode: "memory", EncryptionKey: "not-base64!", OzonTimeout: time.Second}
	_, err := Build(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
