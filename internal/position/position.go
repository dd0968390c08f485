// Package position implements the Position Manager (spec.md §4.6): the
// tiered dollar trailing-stop state machine, one instance per open managed
// position. Its precedence-ladder shape (walk conditions highest to lowest,
// first match wins) and config-struct-with-defaults idiom are carried over
// from the exit evaluator this package replaces; the actual conditions are
// the dollar-tier ladder from spec.md §4.6, not percent-trailing/time-limit
// exits.
package position

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/kieranlane/gapengine/internal/bars"
	"github.com/kieranlane/gapengine/internal/broker"
	"github.com/kieranlane/gapengine/internal/config"
	"github.com/kieranlane/gapengine/internal/strategy"
)

// State is the closed enumeration from spec.md §3.
type State int

const (
	AwaitingFill State = iota
	OpenInitial
	OpenBreakeven
	OpenTierLocked
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingFill:
		return "awaiting_fill"
	case OpenInitial:
		return "open_initial"
	case OpenBreakeven:
		return "open_breakeven"
	case OpenTierLocked:
		return "open_tier_locked"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ExitKind distinguishes why a position reached Closing, needed by the
// coordinator/ledger to decide whether to start the stop-out cooldown.
type ExitKind int

const (
	ExitNone ExitKind = iota
	ExitStopFill
	ExitTargetFill
	ExitForceClose
)

// ManagedPosition is the per-position record spec.md §3 describes. State
// transitions only occur inside its methods (OnFillObserved, Tick,
// TargetFilled, ForceClose, Confirm) — never reentrantly across ticks, per
// spec.md §3 lifecycle.
type ManagedPosition struct {
	Symbol              string
	Side                bars.Side
	SizeShares           int
	EntryPrice           float64
	EntryTime            time.Time
	StopDistanceDollars  float64
	ParentOrderID        string
	CurrentStopPrice     float64
	CurrentStopOrderID   string
	TargetOrderID        string
	TargetPrice          float64
	State                State
	LockedProfitDollars  float64
	HighestProfitSeen    float64
	LastStopReplaceTime  time.Time
	ExitReason           ExitKind

	replaceFailures int
}

// FromSetup constructs a ManagedPosition in AwaitingFill from an accepted
// Setup and the order IDs the broker returned for the bracket submit.
func FromSetup(setup strategy.Setup, parentOrderID, stopOrderID, targetOrderID string, now time.Time) *ManagedPosition {
	return &ManagedPosition{
		Symbol:              setup.Symbol,
		Side:                setup.Side,
		SizeShares:          setup.SizeShares,
		EntryPrice:          setup.EntryPrice,
		EntryTime:           now,
		StopDistanceDollars: setup.StopDistanceDollars,
		ParentOrderID:       parentOrderID,
		CurrentStopPrice:    setup.StopPrice,
		CurrentStopOrderID:  stopOrderID,
		TargetOrderID:       targetOrderID,
		TargetPrice:         setup.TargetPrice,
		State:               AwaitingFill,
	}
}

// OnFillObserved transitions AwaitingFill to Open_Initial once the entry
// fill is confirmed. The initial stop is already the bracket's stop leg.
func (p *ManagedPosition) OnFillObserved() {
	if p.State != AwaitingFill {
		return
	}
	p.State = OpenInitial
}

// dollarProfit returns (last-entry)*size for longs, negated for shorts.
func (p *ManagedPosition) dollarProfit(last float64) float64 {
	diff := (last - p.EntryPrice) * float64(p.SizeShares)
	if p.Side == bars.Short {
		return -diff
	}
	return diff
}

// DesiredLock implements the tier function from spec.md §4.6: the dollar
// amount of profit to lock in given peak profit p and elapsed time since
// entry, including the quick-profit override. The $80 literal in spec.md's
// example is not a separate constant — it is tier_buffer + tier_increment,
// the point at which the tier formula first produces a positive lock.
func DesiredLock(cfg *config.Config, peakProfit, currentProfit float64, elapsed time.Duration) (lock float64, hasLock bool) {
	if elapsed <= cfg.QuickProfitWindow() && currentProfit >= cfg.QuickProfitThreshold {
		return math.Max(0, tierLock(cfg, peakProfit)), true
	}
	if peakProfit < cfg.BreakevenThreshold {
		return 0, false
	}
	if peakProfit < tierStart(cfg) {
		return 0, true // breakeven band: breakeven_threshold <= p < tier start
	}
	return tierLock(cfg, peakProfit), true
}

// tierStart is the peak-profit threshold at which the tier formula first
// locks a positive amount (50*floor((80-30)/50) = 50 at the literal $80
// example, since tier_buffer=30 and tier_increment=50).
func tierStart(cfg *config.Config) float64 { return cfg.TierBuffer + cfg.TierIncrement }

// tierLock computes tier_increment*floor((p-tier_buffer)/tier_increment) for
// p >= tierStart, else 0.
func tierLock(cfg *config.Config, peakProfit float64) float64 {
	if peakProfit < tierStart(cfg) {
		return 0
	}
	return cfg.TierIncrement * math.Floor((peakProfit-cfg.TierBuffer)/cfg.TierIncrement)
}

func (p *ManagedPosition) candidateStop(lockedProfit float64) float64 {
	perShare := lockedProfit / float64(p.SizeShares)
	if p.Side == bars.Long {
		return p.EntryPrice + perShare
	}
	return p.EntryPrice - perShare
}

// betterStop reports whether candidate is a strict improvement over current,
// enforcing I3 (non-decreasing for longs, non-increasing for shorts).
func (p *ManagedPosition) betterStop(candidate float64) bool {
	if p.Side == bars.Long {
		return candidate > p.CurrentStopPrice
	}
	return candidate < p.CurrentStopPrice
}

// legsTriggered reports whether the current quote has crossed the resting
// stop or target leg. There is no fill-event feed in this engine (spec.md
// §1: the brokerage integration is out of scope), so a crossing of the last
// observed price through a resting order's price is treated as that leg
// having filled. The simulated broker adapter does not fill orders by price;
// its stop fills are scripted through FillStop.
func (p *ManagedPosition) legsTriggered(last float64) (stopHit, targetHit bool) {
	if p.Side == bars.Short {
		return last >= p.CurrentStopPrice, last <= p.TargetPrice
	}
	return last <= p.CurrentStopPrice, last >= p.TargetPrice
}

// checkRestingLegFill implements spec.md §4.6's "Any Open_* → on target
// fill, stop fill … → Closing" transition: it reconciles the bracket's two
// resting legs against the latest quote and, if either has been crossed,
// cancels the counterpart leg and moves the position into Closing.
func (p *ManagedPosition) checkRestingLegFill(ctx context.Context, b broker.Broker, last float64, log zerolog.Logger) (TickResult, bool) {
	stopHit, targetHit := p.legsTriggered(last)
	switch {
	case stopHit:
		if err := b.Cancel(ctx, p.TargetOrderID); err != nil && !broker.IsAlreadyTerminal(err) {
			log.Warn().Str("symbol", p.Symbol).Err(err).Msg("failed to cancel target leg after stop fill")
		}
		p.transitionToClosing(ExitStopFill)
		return TickResult{NewState: p.State, Exited: true, ExitReason: ExitStopFill}, true
	case targetHit:
		if err := b.Cancel(ctx, p.CurrentStopOrderID); err != nil && !broker.IsAlreadyTerminal(err) {
			log.Warn().Str("symbol", p.Symbol).Err(err).Msg("failed to cancel stop leg after target fill")
		}
		p.TargetFilled()
		return TickResult{NewState: p.State, Exited: true, ExitReason: ExitTargetFill}, true
	default:
		return TickResult{}, false
	}
}

// TickResult summarizes one monitor step for logging/metrics.
type TickResult struct {
	NewState      State
	StopReplaced  bool
	Exited        bool
	ExitReason    ExitKind
}

const maxReplaceRetries = 3

// Tick is the Position Manager's per-monitor-tick step (spec.md §4.6). It
// observes the current last price, updates highest-profit-seen, computes
// the desired lock tier, and — if the candidate stop is a strict
// improvement — attempts to replace the resting stop order following the
// partial-failure protocol in spec.md §4.6.
func (p *ManagedPosition) Tick(ctx context.Context, b broker.Broker, cfg *config.Config, last float64, now time.Time, log zerolog.Logger) (TickResult, error) {
	if p.State == Closing || p.State == Closed {
		return TickResult{NewState: p.State}, nil
	}

	if result, exited := p.checkRestingLegFill(ctx, b, last, log); exited {
		return result, nil
	}

	profit := p.dollarProfit(last)
	if profit > p.HighestProfitSeen {
		p.HighestProfitSeen = profit
	}

	elapsed := now.Sub(p.EntryTime)
	lock, hasLock := DesiredLock(cfg, p.HighestProfitSeen, profit, elapsed)
	if !hasLock {
		return TickResult{NewState: p.State}, nil
	}
	if lock <= p.LockedProfitDollars && p.State != OpenInitial {
		return TickResult{NewState: p.State}, nil
	}

	candidate := p.candidateStop(lock)
	if !p.betterStop(candidate) {
		return TickResult{NewState: p.State}, nil
	}

	newOrderID, err := p.replaceStopWithRetry(ctx, b, candidate, log)
	if err != nil {
		if broker.IsAlreadyTerminal(err) {
			p.transitionToClosing(ExitStopFill)
			return TickResult{NewState: p.State, Exited: true, ExitReason: ExitStopFill}, nil
		}
		// Transient exhausted or Rejected/InsufficientBuyingPower: leave the
		// prior stop in place per spec.md §4.6 step 4/5, do not error the tick.
		log.Warn().Str("symbol", p.Symbol).Err(err).Msg("stop replace failed, keeping prior stop")
		return TickResult{NewState: p.State}, nil
	}

	p.CurrentStopOrderID = newOrderID
	p.CurrentStopPrice = candidate
	p.LastStopReplaceTime = now
	p.LockedProfitDollars = lock

	switch {
	case p.State == OpenInitial && lock >= 0:
		p.State = OpenBreakeven
	case (p.State == OpenBreakeven || p.State == OpenInitial) && lock > 0:
		p.State = OpenTierLocked
	}

	return TickResult{NewState: p.State, StopReplaced: true}, nil
}

// replaceStopWithRetry implements the bounded retry on Transient from
// spec.md §4.6 step 4.
func (p *ManagedPosition) replaceStopWithRetry(ctx context.Context, b broker.Broker, candidate float64, log zerolog.Logger) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxReplaceRetries; attempt++ {
		orderID, err := b.ReplaceStop(ctx, p.CurrentStopOrderID, candidate)
		if err == nil {
			p.replaceFailures = 0
			return orderID, nil
		}
		if !broker.IsTransient(err) {
			return "", err
		}
		lastErr = err
		log.Debug().Str("symbol", p.Symbol).Int("attempt", attempt+1).Msg("transient stop replace failure, retrying")
	}
	p.replaceFailures++
	return "", lastErr
}

// TargetFilled transitions the position to Closing because the target leg
// filled (not the stop, not a force-close), so no cooldown is triggered.
func (p *ManagedPosition) TargetFilled() {
	p.transitionToClosing(ExitTargetFill)
}

func (p *ManagedPosition) transitionToClosing(reason ExitKind) {
	if p.State == Closing || p.State == Closed {
		return
	}
	p.State = Closing
	p.ExitReason = reason
}

// Confirm transitions Closing to Closed once the broker confirms the exit
// order is terminal.
func (p *ManagedPosition) Confirm() {
	if p.State == Closing {
		p.State = Closed
	}
}

// ForceClose implements spec.md §4.6's cutoff/explicit-command force-close:
// cancel both legs (ignoring AlreadyTerminal), submit a plain market order
// for the full size in the exit direction, and transition to Closing. The
// state machine may not reopen for the same day's position after this call.
func (p *ManagedPosition) ForceClose(ctx context.Context, b broker.Broker, targetOrderID string) error {
	if p.State == Closing || p.State == Closed {
		return nil
	}

	if err := b.Cancel(ctx, targetOrderID); err != nil && !broker.IsAlreadyTerminal(err) {
		return fmt.Errorf("cancel target leg: %w", err)
	}
	if err := b.Cancel(ctx, p.CurrentStopOrderID); err != nil && !broker.IsAlreadyTerminal(err) {
		return fmt.Errorf("cancel stop leg: %w", err)
	}

	exitSide := bars.Short
	if p.Side == bars.Short {
		exitSide = bars.Long
	}
	if _, err := b.SubmitMarket(ctx, p.Symbol, exitSide, float64(p.SizeShares)); err != nil {
		return fmt.Errorf("submit force-close market order: %w", err)
	}

	p.transitionToClosing(ExitForceClose)
	return nil
}
