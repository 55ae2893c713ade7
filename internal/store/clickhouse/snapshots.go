package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"ozonbot/internal/domain"
	"ozonbot/internal/store"
)

const createSnapshots = `
	CREATE TABLE IF NOT EXISTS analytics_snapshots (
		telegram_id      Int64,
		taken_at         DateTime64(3, 'UTC'),
		period           LowCardinality(String),
		revenue          Float64,
		profit           Float64,
		margin           Float64,
		roi              Float64,
		class_a          UInt32,
		class_b          UInt32,
		class_c          UInt32,
		top_product_id   Int64,
		top_product_name String,
		top_profit       Float64
	) ENGINE = MergeTree
	ORDER BY (telegram_id, taken_at)
`

type Options struct {
	Addr     string
	Database string
	Username string
	Password string
}

// SnapshotStore writes analytics snapshots to ClickHouse.
type SnapshotStore struct {
	conn driver.Conn
}

var _ store.SnapshotStore = (*SnapshotStore)(nil)

func NewSnapshotStore(ctx context.Context, opts Options) (*SnapshotStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr:     []string{opts.Addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, createSnapshots); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create analytics_snapshots: %w", err)
	}
	return &SnapshotStore{conn: conn}, nil
}

func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	err := s.conn.Exec(ctx, `
		INSERT INTO analytics_snapshots (
			telegram_id, taken_at, period, revenue, profit, margin, roi,
			class_a, class_b, class_c, top_product_id, top_product_name, top_profit
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.TelegramID, snap.TakenAt, snap.Period, snap.Revenue, snap.Profit, snap.Margin, snap.ROI,
		snap.ClassA, snap.ClassB, snap.ClassC, snap.TopProductID, snap.TopProductName, snap.TopProfit,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) LatestSnapshot(ctx context.Context, telegramID int64) (domain.Snapshot, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT telegram_id, taken_at, period, revenue, profit, margin, roi,
		       class_a, class_b, class_c, top_product_id, top_product_name, top_profit
		FROM analytics_snapshots
		WHERE telegram_id = ?
		ORDER BY taken_at DESC
		LIMIT 1`,
		telegramID,
	)
	var snap domain.Snapshot
	err := row.Scan(
		&snap.TelegramID, &snap.TakenAt, &snap.Period, &snap.Revenue, &snap.Profit, &snap.Margin, &snap.ROI,
		&snap.ClassA, &snap.ClassB, &snap.ClassC, &snap.TopProductID, &snap.TopProductName, &snap.TopProfit,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Snapshot{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("latest snapshot: %w", err)
	}
	return snap, nil
}

func (s *SnapshotStore) Close() error {
	return s.conn.Close()
}
