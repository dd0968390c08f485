// Package store implements the append/update event log spec.md §6 names as
// an external collaborator: the core treats the persistent store as opaque,
// writing one Event per observable lifecycle transition and reading back
// only the two daily tallies needed to rebuild the DayLedger on restart.
package store

import (
	"context"
	"time"
)

// EventKind is a closed enumeration of the observable events spec.md §6
// requires the core to emit.
type EventKind string

const (
	EventSetupAdmitted  EventKind = "setup_admitted"
	EventEntryFilled    EventKind = "entry_filled"
	EventStopReplaced   EventKind = "stop_replaced"
	EventExit           EventKind = "exit"
	EventForceClose     EventKind = "force_close"
)

// Event is the append/update record spec.md §6 specifies: { ts, symbol,
// side, size, price, fees, realized_pnl?, event_kind, parent_order_id }.
type Event struct {
	ID            int64
	Timestamp     time.Time
	Symbol        string
	Side          string
	Size          float64
	Price         float64
	Fees          float64
	RealizedPnL   *float64
	EventKind     EventKind
	ParentOrderID string
}

// DailyTallies is the minimal rebuild read spec.md §6 permits on restart:
// today's realized PnL and filled-trade count, nothing else.
type DailyTallies struct {
	RealizedPnL      float64
	FilledTradeCount int
}

// EventStore is the narrow interface the core depends on. It never reads
// back except RebuildTallies, and never blocks a broker call.
type EventStore interface {
	Append(ctx context.Context, event Event) error
	RebuildTallies(ctx context.Context, tradingDate string) (DailyTallies, error)
}
