package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// postgresStore implements EventStore over a single append-only events
// table, adapted from the teacher's trades_repo.go PostgreSQL access shape.
type postgresStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgres creates a PostgreSQL-backed EventStore.
func NewPostgres(db *sqlx.DB, timeout time.Duration) EventStore {
	return &postgresStore{db: db, timeout: timeout}
}

func (s *postgresStore) Append(ctx context.Context, event Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO engine_events (ts, symbol, side, size, price, fees, realized_pnl, event_kind, parent_order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	err := s.db.QueryRowxContext(ctx, query,
		event.Timestamp, event.Symbol, event.Side, event.Size, event.Price,
		event.Fees, event.RealizedPnL, string(event.EventKind), event.ParentOrderID,
	).Scan(&event.ID)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate event: %w", err)
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// RebuildTallies sums realized PnL across today's exit/force_close events
// and counts them, reconstructing the two DayLedger fields spec.md §6
// permits rebuilding on restart. Open managed positions are never rebuilt.
func (s *postgresStore) RebuildTallies(ctx context.Context, tradingDate string) (DailyTallies, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var tallies DailyTallies
	query := `
		SELECT COALESCE(SUM(realized_pnl), 0), COUNT(*)
		FROM engine_events
		WHERE event_kind IN ('exit', 'force_close')
		  AND ts::date = $1::date`

	row := s.db.QueryRowxContext(ctx, query, tradingDate)
	if err := row.Scan(&tallies.RealizedPnL, &tallies.FilledTradeCount); err != nil {
		return DailyTallies{}, fmt.Errorf("rebuild tallies: %w", err)
	}
	return tallies, nil
}
