package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"ozonbot/internal/domain"
	"ozonbot/internal/store"
)

type Store struct {
	db *sqlx.DB
}

var _ store.Store = (*Store)(nil)

// NewStore connects, pings and migrates.
func NewStore(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := Migrate(db.DB, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveCredential(ctx context.Context, cred domain.StoredCredential) error {
	_, err := s.db.NamedExecContext(ctx,
		`insert into credentials(telegram_id, username, api_token_enc, client_id_enc, created_at, updated_at)
		 values (:telegram_id, :username, :api_token_enc, :client_id_enc, now(), now())
		 on conflict (telegram_id) do update
		 set username = excluded.username,
		     api_token_enc = excluded.api_token_enc,
		     client_id_enc = excluded.client_id_enc,
		     updated_at = now()`,
		cred,
	)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (s *Store) GetCredential(ctx context.Context, telegramID int64) (domain.StoredCredential, error) {
	var cred domain.StoredCredential
	err := s.db.GetContext(ctx, &cred,
		`select telegram_id, username, api_token_enc, client_id_enc, created_at, updated_at, last_used_at
		 from credentials where telegram_id = $1`,
		telegramID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StoredCredential{}, store.ErrNotFound
	}
	if err != nil {
		return domain.StoredCredential{}, fmt.Errorf("get credential: %w", err)
	}
	return cred, nil
}

func (s *Store) DeleteCredential(ctx context.Context, telegramID int64) error {
	if _, err := s.db.ExecContext(ctx, `delete from credentials where telegram_id = $1`, telegramID); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func (s *Store) TouchCredential(ctx context.Context, telegramID int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update credentials set last_used_at = $2 where telegram_id = $1`, telegramID, at.UTC())
	if err != nil {
		return fmt.Errorf("touch credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListCredentials(ctx context.Context) ([]domain.StoredCredential, error) {
	var out []domain.StoredCredential
	err := s.db.SelectContext(ctx, &out,
		`select telegram_id, username, api_token_enc, client_id_enc, created_at, updated_at, last_used_at
		 from credentials order by telegram_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return out, nil
}

func (s *Store) SaveSession(ctx context.Context, session domain.APISession) error {
	_, err := s.db.NamedExecContext(ctx,
		`insert into api_sessions(key_hash, telegram_id, credential_enc, created_at, expires_at)
		 values (:key_hash, :telegram_id, :credential_enc, :created_at, :expires_at)
		 on conflict (key_hash) do update
		 set credential_enc = excluded.credential_enc,
		     expires_at = excluded.expires_at`,
		session,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, keyHash string) (domain.APISession, error) {
	var session domain.APISession
	err := s.db.GetContext(ctx, &session,
		`select key_hash, telegram_id, credential_enc, created_at, expires_at
		 from api_sessions where key_hash = $1 and expires_at > now()`,
		keyHash,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.APISession{}, store.ErrNotFound
	}
	if err != nil {
		return domain.APISession{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (s *Store) DeleteSession(ctx context.Context, keyHash string) error {
	res, err := s.db.ExecContext(ctx, `delete from api_sessions where key_hash = $1`, keyHash)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from api_sessions where expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) GetSettings(ctx context.Context, telegramID int64) (domain.NotificationSettings, error) {
	var settings domain.NotificationSettings
	err := s.db.GetContext(ctx, &settings,
		`select telegram_id, chat_id, margin_threshold, roi_threshold, daily_report, sales_alerts, returns_alerts, updated_at
		 from notification_settings where telegram_id = $1`,
		telegramID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotificationSettings{}, store.ErrNotFound
	}
	if err != nil {
		return domain.NotificationSettings{}, fmt.Errorf("get settings: %w", err)
	}
	return settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings domain.NotificationSettings) error {
	_, err := s.db.NamedExecContext(ctx,
		`insert into notification_settings(
			telegram_id, chat_id, margin_threshold, roi_threshold, daily_report, sales_alerts, returns_alerts, updated_at
		) values (:telegram_id, :chat_id, :margin_threshold, :roi_threshold, :daily_report, :sales_alerts, :returns_alerts, now())
		on conflict (telegram_id) do update
		set chat_id = excluded.chat_id,
		    margin_threshold = excluded.margin_threshold,
		    roi_threshold = excluded.roi_threshold,
		    daily_report = excluded.daily_report,
		    sales_alerts = excluded.sales_alerts,
		    returns_alerts = excluded.returns_alerts,
		    updated_at = now()`,
		settings,
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func (s *Store) ReplaceCosts(ctx context.Context, owner string, costs []domain.ProductCost) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from product_costs where owner = $1`, owner); err != nil {
		return fmt.Errorf("clear costs: %w", err)
	}
	for _, c := range costs {
		_, err := tx.ExecContext(ctx,
			`insert into product_costs(owner, product_id, offer_id, cost) values ($1, $2, $3, $4)
			 on conflict (owner, product_id, offer_id) do update set cost = excluded.cost`,
			owner, c.ProductID, c.OfferID, c.Cost,
		)
		if err != nil {
			return fmt.Errorf("insert cost: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListCosts(ctx context.Context, owner string) ([]domain.ProductCost, error) {
	out := []domain.ProductCost{}
	err := s.db.SelectContext(ctx, &out,
		`select product_id, offer_id, cost from product_costs where owner = $1 order by product_id, offer_id`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("list costs: %w", err)
	}
	return out, nil
}

func (s *Store) AppendEvent(ctx context.Context, eventType domain.EventType, telegramID int64, payload map[string]interface{}) (domain.Event, error) {
	event := domain.Event{
		ID:         uuid.NewString(),
		TelegramID: telegramID,
		Type:       eventType,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
	if event.Payload == nil {
		event.Payload = map[string]interface{}{}
	}
	raw, err := json.Marshal(event.Payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`insert into events(id, telegram_id, type, payload, created_at) values ($1, $2, $3, $4::jsonb, $5)`,
		event.ID, event.TelegramID, string(event.Type), string(raw), event.CreatedAt,
	)
	if err != nil {
		return domain.Event{}, fmt.Errorf("append event: %w", err)
	}
	return event, nil
}

func (s *Store) ListEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryxContext(ctx,
		`select id, telegram_id, type, payload, created_at from events order by created_at desc limit $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Event, 0, limit)
	for rows.Next() {
		var (
			event   domain.Event
			typ     string
			payload []byte
		)
		if err := rows.Scan(&event.ID, &event.TelegramID, &typ, &payload, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.Type = domain.EventType(typ)
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &event.Payload)
		}
		out = append(out, event)
	}
	return out, rows.Err()
}
