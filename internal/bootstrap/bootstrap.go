package bootstrap

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ozonbot/internal/bot"
	"ozonbot/internal/bot/dialogue"
	"ozonbot/internal/config"
	"ozonbot/internal/integrations/events"
	"ozonbot/internal/integrations/ozon"
	"ozonbot/internal/integrations/telegram"
	"ozonbot/internal/security/secretbox"
	"ozonbot/internal/service/analytics"
	"ozonbot/internal/service/credentials"
	"ozonbot/internal/service/jobs"
	"ozonbot/internal/service/sessions"
	"ozonbot/internal/service/settings"
	"ozonbot/internal/service/thresholds"
	"ozonbot/internal/service/verifier"
	storepkg "ozonbot/internal/store"
	"ozonbot/internal/store/clickhouse"
	"ozonbot/internal/store/memory"
	"ozonbot/internal/store/postgres"
	"ozonbot/internal/tracking"
)

// App is the wired dependency graph shared by cmd/server and cmd/jobs.
type App struct {
	Config      config.Config
	Logger      *zap.Logger
	Store       storepkg.Store
	Snapshots   storepkg.SnapshotStore
	Credentials *credentials.Service
	Sessions    *sessions.Manager
	Verifier    *verifier.Verifier
	Analytics   *analytics.Service
	Settings    *settings.Service
	Events      *events.Recorder
	Notifier    *telegram.Notifier
	Jobs        *jobs.Runner
	Tracker     tracking.Tracker
	BotAPI      *tgbotapi.BotAPI
	Machine     *bot.Machine
	Adapter     *bot.Adapter

	publisher events.Publisher
	redis     *redis.Client
}

// Build connects every configured backend. Optional backends (Redis,
// ClickHouse, Kafka, Sentry, Telegram) are skipped when unset.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger, Tracker: tracking.Nop{}, publisher: events.Nop{}}

	if cfg.SentryDSN != "" {
		tracker, err := tracking.NewSentry(cfg.SentryDSN, cfg.AppEnv)
		if err != nil {
			logger.Warn("sentry disabled", zap.Error(err))
		} else {
			app.Tracker = tracker
		}
	}

	key := cfg.EncryptionKey
	if key == "" {
		generated, err := secretbox.GenerateKey()
		if err != nil {
			return nil, err
		}
		key = generated
		logger.Warn("ENCRYPTION_KEY not set, using an ephemeral key; stored tokens will not survive a restart")
	}
	box, err := secretbox.New(key)
	if err != nil {
		return nil, err
	}

	switch cfg.StoreMode {
	case "postgres":
		st, err := postgres.NewStore(ctx, cfg.DatabaseURL, logger.Named("postgres"))
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		app.Store = st
	default:
		app.Store = memory.NewStore()
	}

	if cfg.ClickHouseAddr != "" {
		snaps, err := clickhouse.NewSnapshotStore(ctx, clickhouse.Options{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDB,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		app.Snapshots = snaps
	} else {
		app.Snapshots = memory.NewSnapshotStore(30)
	}

	if brokers := cfg.Brokers(); len(brokers) > 0 {
		app.publisher = events.NewKafkaPublisher(brokers, cfg.KafkaEventsTopic, 5*time.Second)
	}
	app.Events = events.NewRecorder(app.Store, app.publisher, 5*time.Second, logger.Named("events"))

	client := ozon.NewClient(cfg.OzonBaseURL, cfg.OzonTimeout, cfg.OzonRPS)
	app.Verifier = verifier.New(client, logger.Named("verifier"))
	app.Credentials = credentials.NewService(app.Store, box, logger.Named("credentials"))
	app.Sessions = sessions.NewManager(app.Store, app.Credentials, box, cfg.SessionTTL)
	app.Analytics = analytics.NewService(analytics.NewLive(client, logger.Named("analytics")), app.Store, cfg.MarketplaceFeePercent, cfg.DemoMode, logger.Named("analytics"))
	app.Settings = settings.NewService(app.Store)

	var sender telegram.Sender
	if cfg.TelegramBotToken != "" {
		api, err := telegram.NewBotAPI(cfg.TelegramBotToken, logger.Named("tgbotapi"))
		if err != nil {
			app.Close()
			return nil, err
		}
		app.BotAPI = api
		sender = api
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN not set, bot disabled and notifications dropped")
	}
	app.Notifier = telegram.NewNotifier(sender, cfg.TelegramChatID, bot.Keyboard(), logger.Named("notifier"))

	app.Jobs = jobs.NewRunner(jobs.Deps{
		Credentials: app.Credentials,
		Verifier:    app.Verifier,
		Analytics:   app.Analytics,
		Settings:    app.Settings,
		Snapshots:   app.Snapshots,
		Thresholds:  thresholds.NewEngine(5),
		Notifier:    app.Notifier,
		Events:      app.Events,
		Tracker:     app.Tracker,
	}, logger.Named("jobs"))

	if app.BotAPI != nil {
		states, err := app.dialogueStore(ctx, box)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Machine = bot.NewMachine(app.Verifier, app.Credentials, states, app.Events, logger.Named("bot"))
		app.Adapter = bot.NewAdapter(app.Machine, app.BotAPI, app.Tracker, logger.Named("bot"))
	}
	return app, nil
}

func (a *App) dialogueStore(ctx context.Context, box *secretbox.Box) (dialogue.Store, error) {
	if a.Config.RedisURL == "" {
		return dialogue.NewMemoryStore(a.Config.DialogueTTL), nil
	}
	client, err := dialogue.NewRedisClient(ctx, a.Config.RedisURL)
	if err != nil {
		return nil, err
	}
	a.redis = client
	return dialogue.NewRedisStore(client, box, a.Config.DialogueTTL), nil
}

// Close waits for background work and releases every connection.
func (a *App) Close() {
	if a.Credentials != nil {
		a.Credentials.Wait()
	}
	if a.Events != nil {
		a.Events.Wait()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.Logger.Warn("close publisher", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Warn("close redis", zap.Error(err))
		}
	}
	if a.Snapshots != nil {
		if err := a.Snapshots.Close(); err != nil {
			a.Logger.Warn("close snapshot store", zap.Error(err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn("close store", zap.Error(err))
		}
	}
	a.Tracker.Flush(2 * time.Second)
}
