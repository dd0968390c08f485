// Package ledger implements the DayLedger (spec.md §3, §5, §9): the single
// shared mutable object in the system. Every method below is a narrow,
// invariant-preserving transition guarded by one mutex; the mutex is never
// held across a broker call.
package ledger

import (
	"sync"
	"time"

	"github.com/kieranlane/gapengine/internal/bars"
)

// ManagedPositionRef is the slice of a position's state the ledger needs to
// enforce invariants; internal/position owns the full record and hands the
// ledger only this view on registration.
type ManagedPositionRef struct {
	Symbol string
	Side   bars.Side
}

// DayLedger is the one shared mutable object (spec.md §5). All fields are
// private; every observable transition goes through a method below.
type DayLedger struct {
	mu sync.Mutex

	tradingDate       string
	realizedPnL       float64
	filledTradeCount  int
	stopOutTimes      map[string]time.Time
	pendingEntryLocks map[string]time.Time
	openPositions     map[string]ManagedPositionRef
}

// New creates an empty DayLedger for tradingDate (a market-local date key
// from internal/clock.DateKey).
func New(tradingDate string) *DayLedger {
	return &DayLedger{
		tradingDate:       tradingDate,
		stopOutTimes:      make(map[string]time.Time),
		pendingEntryLocks: make(map[string]time.Time),
		openPositions:     make(map[string]ManagedPositionRef),
	}
}

// TradingDate returns the market-local date this ledger was created for.
func (l *DayLedger) TradingDate() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tradingDate
}

// Snapshot is a consistent, copied view of ledger state for a single
// admission decision (Risk Gate checks 3-7) or for logging/metrics.
type Snapshot struct {
	RealizedPnL      float64
	FilledTradeCount int
	OpenPositions    int
}

// Snapshot returns a consistent read of the counters the Risk Gate consults,
// taken under the single ledger mutex.
func (l *DayLedger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		RealizedPnL:      l.realizedPnL,
		FilledTradeCount: l.filledTradeCount,
		OpenPositions:    len(l.openPositions),
	}
}

// InCooldown reports whether symbol stopped out within window of now
// (invariant I6).
func (l *DayLedger) InCooldown(symbol string, now time.Time, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.stopOutTimes[symbol]
	if !ok {
		return false
	}
	return now.Sub(t) <= window
}

// HasPendingLock reports whether symbol has an unexpired pending-entry lock
// (invariant I7).
func (l *DayLedger) HasPendingLock(symbol string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	expiry, ok := l.pendingEntryLocks[symbol]
	if !ok {
		return false
	}
	if now.After(expiry) {
		delete(l.pendingEntryLocks, symbol)
		return false
	}
	return true
}

// IsManaged reports whether symbol already has an open managed position
// (invariant I1).
func (l *DayLedger) IsManaged(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.openPositions[symbol]
	return ok
}

// TryAdmit performs the ledger-owned portion of risk-gate admission
// (open-position count, trade-count cap, realized-loss circuit, cooldown,
// pending lock) as one atomic check-and-lock: on success it sets a pending
// entry lock for symbol so a concurrent scanner tick cannot double-submit,
// and returns true. On failure it changes nothing and returns false with a
// reason string for logging.
func (l *DayLedger) TryAdmit(symbol string, now time.Time, maxConcurrent, tradeCap int, dailyLossLimit float64, cooldown, lockTTL time.Duration) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.openPositions[symbol]; ok {
		return false, "already_managed"
	}
	if len(l.openPositions) >= maxConcurrent {
		return false, "max_concurrent"
	}
	if l.filledTradeCount >= tradeCap {
		return false, "trade_cap"
	}
	if l.realizedPnL <= -dailyLossLimit {
		return false, "daily_loss_limit"
	}
	if t, ok := l.stopOutTimes[symbol]; ok && now.Sub(t) <= cooldown {
		return false, "cooldown"
	}
	if expiry, ok := l.pendingEntryLocks[symbol]; ok && now.Before(expiry) {
		return false, "pending_entry_lock"
	}

	l.pendingEntryLocks[symbol] = now.Add(lockTTL)
	return true, ""
}

// ReleasePendingLock clears a pending entry lock immediately, used when a
// broker submit is rejected so the symbol is not penalized for the full
// dedup window (spec.md §7).
func (l *DayLedger) ReleasePendingLock(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pendingEntryLocks, symbol)
}

// RegisterOpen moves symbol into the managed-positions map once the entry
// fill is observed. Clears any pending lock since the position itself now
// makes the symbol ineligible for re-entry (I1).
func (l *DayLedger) RegisterOpen(symbol string, side bars.Side) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.openPositions[symbol] = ManagedPositionRef{Symbol: symbol, Side: side}
	delete(l.pendingEntryLocks, symbol)
}

// RecordExit removes symbol from the managed map and folds realized PnL and
// the filled-trade counter. Called once per position close regardless of
// exit reason (target, stop, force-close).
func (l *DayLedger) RecordExit(symbol string, realizedPnL float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.openPositions, symbol)
	l.realizedPnL += realizedPnL
	l.filledTradeCount++
}

// RecordStopOut stamps the cooldown clock for symbol. Called only when the
// exit reason is a stop fill, never on target or force-close exits.
func (l *DayLedger) RecordStopOut(symbol string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopOutTimes[symbol] = at
}

// OpenSymbols returns the symbols currently tracked as managed. The
// Coordinator's monitor tick and cutoff sweep iterate its own positions map
// instead of calling this.
func (l *DayLedger) OpenSymbols() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.openPositions))
	for s := range l.openPositions {
		out = append(out, s)
	}
	return out
}

// Rebuild restores today's realized PnL and filled-trade count from the
// persisted event log after a process restart (spec.md §6); open managed
// positions are never rebuilt — they are reconciled as unmanaged per §1.
func (l *DayLedger) Rebuild(realizedPnL float64, filledTradeCount int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.realizedPnL = realizedPnL
	l.filledTradeCount = filledTradeCount
}
