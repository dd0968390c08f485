// Package riskgate implements the Risk Gate (spec.md §4.4): a stateless
// sequence of checks against a candidate Setup and the current DayLedger.
// Checks run in the exact order spec.md names; the first failure wins and
// no later check is evaluated.
package riskgate

import (
	"time"

	"github.com/kieranlane/gapengine/internal/clock"
	"github.com/kieranlane/gapengine/internal/config"
	"github.com/kieranlane/gapengine/internal/ledger"
	"github.com/kieranlane/gapengine/internal/strategy"
)

// Reason is a closed enumeration of the checks, in evaluation order.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonWindowClosed
	ReasonCutoffActive
	ReasonMaxConcurrent
	ReasonTradeCap
	ReasonDailyLossLimit
	ReasonCooldown
	ReasonPendingEntryLock
	ReasonNotionalCap
)

func (r Reason) String() string {
	switch r {
	case ReasonWindowClosed:
		return "window_closed"
	case ReasonCutoffActive:
		return "cutoff_active"
	case ReasonMaxConcurrent:
		return "max_concurrent"
	case ReasonTradeCap:
		return "trade_cap"
	case ReasonDailyLossLimit:
		return "daily_loss_limit"
	case ReasonCooldown:
		return "cooldown"
	case ReasonPendingEntryLock:
		return "pending_entry_lock"
	case ReasonNotionalCap:
		return "notional_cap"
	default:
		return "none"
	}
}

// Decision is the Admit/Reject{reason} result spec.md §4.4 specifies.
type Decision struct {
	Admitted bool
	Reason   Reason
}

func admit() Decision            { return Decision{Admitted: true} }
func reject(r Reason) Decision   { return Decision{Admitted: false, Reason: r} }

// Gate bundles the configuration and time-window the checks need. It holds
// no mutable state of its own; all mutable counters live in the DayLedger.
type Gate struct {
	cfg    *config.Config
	window clock.Window
}

func New(cfg *config.Config, window clock.Window) *Gate {
	return &Gate{cfg: cfg, window: window}
}

// Evaluate runs the eight ordered checks from spec.md §4.4 against setup and
// l. On admission it also consumes the ledger's pending-entry-lock slot
// (ledger.TryAdmit), so a caller that receives Admitted=true has already
// reserved the symbol against a concurrent double-submit; the caller must
// release the lock (ledger.ReleasePendingLock) if the subsequent broker
// submit fails.
func (g *Gate) Evaluate(setup strategy.Setup, l *ledger.DayLedger, now time.Time, buyingPower float64) Decision {
	if !g.window.EntryWindowOpen(now) {
		return reject(ReasonWindowClosed)
	}
	if g.window.CutoffActive(now) {
		return reject(ReasonCutoffActive)
	}

	snap := l.Snapshot()
	tradeCap := g.cfg.TradeCap(snap.RealizedPnL)

	ok, reason := l.TryAdmit(
		setup.Symbol,
		now,
		g.cfg.MaxConcurrent,
		tradeCap,
		g.cfg.DailyLossLimit,
		g.cfg.StopOutCooldown(),
		g.cfg.PendingEntryLock(),
	)
	if !ok {
		return reject(ledgerReasonToGateReason(reason))
	}

	// Notional/buying-power is check #8, evaluated last (spec.md §4.4): a
	// setup that also trips an earlier ledger check must reject with that
	// earlier reason, not notional_cap.
	estimatedNotional := setup.EntryPrice * float64(setup.SizeShares)
	if estimatedNotional > g.cfg.PerSymbolNotionalCap || estimatedNotional > buyingPower {
		l.ReleasePendingLock(setup.Symbol)
		return reject(ReasonNotionalCap)
	}
	return admit()
}

func ledgerReasonToGateReason(reason string) Reason {
	switch reason {
	case "already_managed", "max_concurrent":
		return ReasonMaxConcurrent
	case "trade_cap":
		return ReasonTradeCap
	case "daily_loss_limit":
		return ReasonDailyLossLimit
	case "cooldown":
		return ReasonCooldown
	case "pending_entry_lock":
		return ReasonPendingEntryLock
	default:
		return ReasonMaxConcurrent
	}
}
