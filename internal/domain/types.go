package domain

import (
	"strings"
	"time"
)

type EventType string

const (
	EventCredentialsSaved   EventType = "CredentialsSaved"
	EventCredentialsDeleted EventType = "CredentialsDeleted"
	EventVerificationFailed EventType = "VerificationFailed"
	EventAlertSent          EventType = "AlertSent"
	EventReportSent         EventType = "ReportSent"
)

// Credential is a decrypted Ozon credential bound to one Telegram user.
type Credential struct {
	TelegramID int64      `json:"telegram_id"`
	Username   string     `json:"username,omitempty"`
	APIToken   string     `json:"-"`
	ClientID   string     `json:"client_id"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// StoredCredential is the at-rest form of a Credential.
type StoredCredential struct {
	TelegramID  int64      `db:"telegram_id"`
	Username    string     `db:"username"`
	APITokenEnc string     `db:"api_token_enc"`
	ClientIDEnc string     `db:"client_id_enc"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
	LastUsedAt  *time.Time `db:"last_used_at"`
}

// APISession is an opaque key handed to the web frontend. Only the hash of
// the key is persisted.
type APISession struct {
	KeyHash       string    `db:"key_hash" json:"-"`
	TelegramID    *int64    `db:"telegram_id" json:"telegram_id,omitempty"`
	CredentialEnc string    `db:"credential_enc" json:"-"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	ExpiresAt     time.Time `db:"expires_at" json:"expires_at"`
}

type NotificationSettings struct {
	TelegramID      int64     `db:"telegram_id" json:"telegram_id"`
	ChatID          int64     `db:"chat_id" json:"chat_id"`
	MarginThreshold float64   `db:"margin_threshold" json:"margin_threshold"`
	ROIThreshold    float64   `db:"roi_threshold" json:"roi_threshold"`
	DailyReport     bool      `db:"daily_report" json:"daily_report"`
	SalesAlerts     bool      `db:"sales_alerts" json:"sales_alerts"`
	ReturnsAlerts   bool      `db:"returns_alerts" json:"returns_alerts"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

func DefaultNotificationSettings(telegramID int64) NotificationSettings {
	return NotificationSettings{
		TelegramID:      telegramID,
		ChatID:          telegramID,
		MarginThreshold: 15.0,
		ROIThreshold:    30.0,
		DailyReport:     true,
		SalesAlerts:     true,
		ReturnsAlerts:   false,
		UpdatedAt:       time.Now().UTC(),
	}
}

type ProductCost struct {
	ProductID int64   `db:"product_id" json:"product_id"`
	OfferID   string  `db:"offer_id" json:"offer_id"`
	Cost      float64 `db:"cost" json:"cost"`
}

type Event struct {
	ID         string                 `json:"event_id"`
	TelegramID int64                  `json:"telegram_id,omitempty"`
	Type       EventType              `json:"event_type"`
	Payload    map[string]interface{} `json:"payload"`
	CreatedAt  time.Time              `json:"created_at"`
}

type DialogueState string

const (
	StateIdle             DialogueState = "idle"
	StateAwaitingToken    DialogueState = "awaiting_token"
	StateAwaitingClientID DialogueState = "awaiting_client_id"
)

// Dialogue is the per-user credential collection state. PendingToken is only
// set in StateAwaitingClientID.
type Dialogue struct {
	State        DialogueState `json:"state"`
	PendingToken string        `json:"pending_token,omitempty"`
}

// ProductSales is one product's sales over a period.
type ProductSales struct {
	ProductID int64   `json:"product_id"`
	OfferID   string  `json:"offer_id"`
	Name      string  `json:"name"`
	Revenue   float64 `json:"revenue"`
	Units     int64   `json:"units"`
}

type ABCClass string

const (
	ClassA ABCClass = "A"
	ClassB ABCClass = "B"
	ClassC ABCClass = "C"
)

type ProductMetrics struct {
	ProductID int64    `json:"product_id"`
	OfferID   string   `json:"offer_id"`
	Name      string   `json:"name"`
	Revenue   float64  `json:"revenue"`
	Units     int64    `json:"units"`
	Cost      float64  `json:"cost"`
	Fees      float64  `json:"fees"`
	Profit    float64  `json:"profit"`
	Margin    float64  `json:"margin"`
	ROI       float64  `json:"roi"`
	Class     ABCClass `json:"abc_class"`
}

type Summary struct {
	Period   string           `json:"period"`
	Revenue  float64          `json:"sales"`
	Fees     float64          `json:"marketplace_fees"`
	Cost     float64          `json:"cost_of_goods"`
	Profit   float64          `json:"profit"`
	Margin   float64          `json:"margin"`
	ROI      float64          `json:"roi"`
	Units    int64            `json:"orders"`
	Products []ProductMetrics `json:"products"`
}

// Snapshot is the periodic analytics record written by the refresh job.
type Snapshot struct {
	TelegramID     int64     `json:"telegram_id"`
	TakenAt        time.Time `json:"taken_at"`
	Period         string    `json:"period"`
	Revenue        float64   `json:"revenue"`
	Profit         float64   `json:"profit"`
	Margin         float64   `json:"margin"`
	ROI            float64   `json:"roi"`
	ClassA         uint32    `json:"class_a"`
	ClassB         uint32    `json:"class_b"`
	ClassC         uint32    `json:"class_c"`
	TopProductID   int64     `json:"top_product_id"`
	TopProductName string    `json:"top_product_name"`
	TopProfit      float64   `json:"top_profit"`
}

// IsPlaceholder reports demo credentials: a token or client id starting
// with "test" or "demo", in any case.
func IsPlaceholder(apiToken, clientID string) bool {
	for _, v := range []string{apiToken, clientID} {
		lv := strings.ToLower(strings.TrimSpace(v))
		if strings.HasPrefix(lv, "test") || strings.HasPrefix(lv, "demo") {
			return true
		}
	}
	return false
}

func (c Credential) IsPlaceholder() bool {
	return IsPlaceholder(c.APIToken, c.ClientID)
}
