package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8000"`
	AppEnv     string `envconfig:"APP_ENV" default:"development"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`

	StoreMode     string        `envconfig:"STORE_MODE" default:"memory"`
	DatabaseURL   string        `envconfig:"DATABASE_URL"`
	EncryptionKey string        `envconfig:"ENCRYPTION_KEY"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"24h"`

	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `envconfig:"TELEGRAM_CHAT_ID"`
	PublicBaseURL    string `envconfig:"PUBLIC_BASE_URL"`
	FrontendOrigins  string `envconfig:"FRONTEND_ORIGINS" default:"*"`

	OzonBaseURL           string        `envconfig:"OZON_BASE_URL" default:"https://api-seller.ozon.ru"`
	OzonTimeout           time.Duration `envconfig:"OZON_TIMEOUT" default:"10s"`
	OzonRPS               float64       `envconfig:"OZON_RPS" default:"5"`
	DemoMode              bool          `envconfig:"DEMO_MODE" default:"false"`
	MarketplaceFeePercent float64       `envconfig:"MARKETPLACE_FEE_PERCENT" default:"15"`

	RedisURL    string        `envconfig:"REDIS_URL"`
	DialogueTTL time.Duration `envconfig:"DIALOGUE_TTL" default:"30m"`

	ClickHouseAddr     string `envconfig:"CLICKHOUSE_ADDR"`
	ClickHouseDB       string `envconfig:"CLICKHOUSE_DB" default:"ozonbot"`
	ClickHouseUser     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	ClickHousePassword string `envconfig:"CLICKHOUSE_PASSWORD"`

	KafkaBrokers     string `envconfig:"KAFKA_BROKERS"`
	KafkaEventsTopic string `envconfig:"KAFKA_EVENTS_TOPIC" default:"ozonbot.events"`

	SentryDSN string `envconfig:"SENTRY_DSN"`

	AdminUsername string `envconfig:"ADMIN_USERNAME" default:"admin"`
	AdminPassword string `envconfig:"ADMIN_PASSWORD" default:"change-me"`
	JWTSecret     string `envconfig:"JWT_SECRET" default:"change-this-secret"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects combinations that would silently lose data.
func (c Config) Validate() error {
	switch c.StoreMode {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("STORE_MODE=postgres requires DATABASE_URL")
		}
		if c.EncryptionKey == "" {
			return fmt.Errorf("STORE_MODE=postgres requires a stable ENCRYPTION_KEY")
		}
	default:
		return fmt.Errorf("unknown STORE_MODE %q", c.StoreMode)
	}
	if c.OzonTimeout <= 0 {
		return fmt.Errorf("OZON_TIMEOUT must be positive")
	}
	return nil
}

func (c Config) Origins() []string {
	return splitList(c.FrontendOrigins)
}

func (c Config) Brokers() []string {
	return splitList(c.KafkaBrokers)
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
