package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAppendAndRebuildTallies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	pnl1, pnl2 := 42.0, -10.0
	require.NoError(t, m.Append(ctx, Event{Symbol: "AAPL", EventKind: EventExit, RealizedPnL: &pnl1, Timestamp: time.Now()}))
	require.NoError(t, m.Append(ctx, Event{Symbol: "TSLA", EventKind: EventForceClose, RealizedPnL: &pnl2, Timestamp: time.Now()}))
	require.NoError(t, m.Append(ctx, Event{Symbol: "AAPL", EventKind: EventSetupAdmitted, Timestamp: time.Now()}))

	tallies, err := m.RebuildTallies(ctx, "2026-08-03")
	require.NoError(t, err)
	assert.Equal(t, 32.0, tallies.RealizedPnL)
	assert.Equal(t, 2, tallies.FilledTradeCount)
	assert.Len(t, m.Events(), 3)
}

func TestPostgresAppendInsertsRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sqlxDB := sqlx.NewDb(db, "postgres")
	s := NewPostgres(sqlxDB, time.Second)

	mock.ExpectQuery("INSERT INTO engine_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	err = s.Append(context.Background(), Event{
		Timestamp: time.Now(), Symbol: "AAPL", Side: "long",
		Size: 50, Price: 100.00, EventKind: EventEntryFilled, ParentOrderID: "p1",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRebuildTallies(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sqlxDB := sqlx.NewDb(db, "postgres")
	s := NewPostgres(sqlxDB, time.Second)

	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce", "count"}).AddRow(125.50, 3))

	tallies, err := s.RebuildTallies(context.Background(), "2026-08-03")
	require.NoError(t, err)
	assert.Equal(t, 125.50, tallies.RealizedPnL)
	assert.Equal(t, 3, tallies.FilledTradeCount)
	require.NoError(t, mock.ExpectationsWereMet())
}
