// Package coordinator implements the global trading coordinator (spec.md
// §4.7): two periodic timers (scanner, monitor) and one wall-clock cutoff
// timer, each dispatching work onto a bounded worker pool with per-symbol
// serialization. Its run-loop shape — a single select over a ticker channel
// and ctx.Done() — is the teacher scheduler's Start loop generalized from
// one minute-ticker to three independent cadences.
package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kieranlane/gapengine/internal/bars"
	"github.com/kieranlane/gapengine/internal/broker"
	"github.com/kieranlane/gapengine/internal/clock"
	"github.com/kieranlane/gapengine/internal/config"
	"github.com/kieranlane/gapengine/internal/ledger"
	"github.com/kieranlane/gapengine/internal/marketdata"
	"github.com/kieranlane/gapengine/internal/metrics"
	"github.com/kieranlane/gapengine/internal/position"
	"github.com/kieranlane/gapengine/internal/riskgate"
	"github.com/kieranlane/gapengine/internal/store"
	"github.com/kieranlane/gapengine/internal/strategy"
)

// Watchlist supplies the externally-maintained symbol universe the scanner
// sweeps each tick (spec.md §4.7: "fetch watchlist, externally supplied").
type Watchlist interface {
	Symbols(ctx context.Context) ([]string, error)
}

// GapSource supplies today's GapObservation for a symbol, computed once per
// day from the prior session close and today's opening print.
type GapSource interface {
	Observe(ctx context.Context, symbol string, now time.Time) (bars.GapObservation, bool, error)
}

// Status is a snapshot of coordinator health, served by the status control
// command.
type Status struct {
	Running       bool
	Paused        bool
	StartTime     time.Time
	TradingDate   string
	OpenPositions int
	LastScanAt    time.Time
	LastMonitorAt time.Time
	CutoffFired   bool
}

// Coordinator owns the two logical timers and the cutoff sweep. The
// DayLedger is the one shared mutable object (spec.md §5); everything else
// here is either read-only configuration or private per-symbol state
// reachable only through the symbol mutex map.
type Coordinator struct {
	cfg        *config.Config
	window     clock.Window
	market     *marketdata.Provider
	gate       *riskgate.Gate
	brk        broker.Broker
	watchlist  Watchlist
	gapSource  GapSource
	eventStore store.EventStore
	metrics    *metrics.Collector
	log        zerolog.Logger

	workerSem chan struct{}

	symbolMu sync.Mutex
	symbolLocks map[string]*sync.Mutex

	ledgerMu sync.Mutex
	ledger   *ledger.DayLedger

	positionsMu sync.Mutex
	positions   map[string]*position.ManagedPosition

	statusMu sync.Mutex
	status   Status

	pausedMu sync.Mutex
	paused   bool
}

// New constructs a Coordinator. workerPoolSize bounds the number of
// concurrent symbol-evaluation and monitor-step goroutines in flight.
func New(cfg *config.Config, window clock.Window, market *marketdata.Provider, gate *riskgate.Gate, brk broker.Broker, watchlist Watchlist, gapSource GapSource, eventStore store.EventStore, coll *metrics.Collector, workerPoolSize int, log zerolog.Logger) *Coordinator {
	if workerPoolSize <= 0 {
		workerPoolSize = 8
	}
	return &Coordinator{
		cfg:         cfg,
		window:      window,
		market:      market,
		gate:        gate,
		brk:         brk,
		watchlist:   watchlist,
		gapSource:   gapSource,
		eventStore:  eventStore,
		metrics:     coll,
		log:         log,
		workerSem:   make(chan struct{}, workerPoolSize),
		symbolLocks: make(map[string]*sync.Mutex),
		positions:   make(map[string]*position.ManagedPosition),
	}
}

func (c *Coordinator) symbolLock(symbol string) *sync.Mutex {
	c.symbolMu.Lock()
	defer c.symbolMu.Unlock()
	m, ok := c.symbolLocks[symbol]
	if !ok {
		m = &sync.Mutex{}
		c.symbolLocks[symbol] = m
	}
	return m
}

// Run drives the coordinator until ctx is cancelled. It owns three
// timers — scanner (cfg.ScannerPeriod), monitor (cfg.MonitorPeriod), and a
// one-second cutoff check. Scanner and monitor ticks dispatch onto the
// bounded worker pool; day rollover is checked on each scanner tick; the
// cutoff sweep runs sequentially. The cutoff sweep always runs to completion
// once started, even if ctx is cancelled mid-sweep (spec.md §5).
func (c *Coordinator) Run(ctx context.Context) error {
	c.rolloverLedgerIfNeeded(ctx, time.Now())

	scannerTicker := time.NewTicker(c.cfg.ScannerPeriod())
	defer scannerTicker.Stop()
	monitorTicker := time.NewTicker(c.cfg.MonitorPeriod())
	defer monitorTicker.Stop()
	cutoffTicker := time.NewTicker(time.Second)
	defer cutoffTicker.Stop()

	c.statusMu.Lock()
	c.status.Running = true
	c.status.StartTime = time.Now()
	c.statusMu.Unlock()

	for {
		select {
		case <-ctx.Done():
			c.statusMu.Lock()
			c.status.Running = false
			c.statusMu.Unlock()
			return ctx.Err()
		case <-scannerTicker.C:
			now := time.Now()
			c.rolloverLedgerIfNeeded(ctx, now)
			if c.window.EntryWindowOpen(now) && !c.Paused() {
				c.scanTick(ctx, now)
			}
		case <-monitorTicker.C:
			c.monitorTick(ctx, time.Now())
		case now := <-cutoffTicker.C:
			if c.window.CutoffActive(now) {
				c.cutoffSweep(context.Background())
			}
		}
	}
}

func (c *Coordinator) rolloverLedgerIfNeeded(ctx context.Context, now time.Time) {
	dateKey := clock.DateKey(c.window.Location, now)

	c.ledgerMu.Lock()
	needsInit := c.ledger == nil || c.ledger.TradingDate() != dateKey
	c.ledgerMu.Unlock()
	if !needsInit {
		return
	}

	newLedger := ledger.New(dateKey)
	if c.eventStore != nil {
		if tallies, err := c.eventStore.RebuildTallies(ctx, dateKey); err == nil {
			newLedger.Rebuild(tallies.RealizedPnL, tallies.FilledTradeCount)
		} else {
			c.log.Warn().Err(err).Msg("failed to rebuild ledger tallies from event store")
		}
	}

	c.ledgerMu.Lock()
	c.ledger = newLedger
	c.ledgerMu.Unlock()

	c.statusMu.Lock()
	c.status.TradingDate = dateKey
	c.statusMu.Unlock()
}

func (c *Coordinator) currentLedger() *ledger.DayLedger {
	c.ledgerMu.Lock()
	defer c.ledgerMu.Unlock()
	return c.ledger
}

// scanTick implements spec.md §4.7's scanner cadence: fetch watchlist,
// pre-filter already-managed/cooldown/locked symbols, evaluate each
// remaining symbol, sort admitted setups by descending signal strength, and
// submit brackets until the concurrent cap is reached.
func (c *Coordinator) scanTick(ctx context.Context, now time.Time) {
	l := c.currentLedger()
	symbols, err := c.watchlist.Symbols(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("watchlist fetch failed, skipping scan tick")
		return
	}

	var wg sync.WaitGroup
	evalCh := make(chan strategy.Evaluation, len(symbols))

	for _, symbol := range symbols {
		if l.IsManaged(symbol) || l.InCooldown(symbol, now, c.cfg.StopOutCooldown()) || l.HasPendingLock(symbol, now) {
			continue
		}

		symbol := symbol
		wg.Add(1)
		c.workerSem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-c.workerSem }()

			lock := c.symbolLock(symbol)
			lock.Lock()
			defer lock.Unlock()

			eval, ok := c.evaluateSymbol(ctx, symbol, now)
			if ok && eval.Accepted {
				evalCh <- eval
			}
		}()
	}
	wg.Wait()
	close(evalCh)

	var accepted []strategy.Evaluation
	for eval := range evalCh {
		accepted = append(accepted, eval)
	}
	sort.Slice(accepted, func(i, j int) bool {
		return accepted[i].Setup.SignalStrength > accepted[j].Setup.SignalStrength
	})

	acct, err := c.brk.Account(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("account query failed, skipping submissions this tick")
		return
	}

	for _, eval := range accepted {
		if c.metrics != nil {
			c.metrics.SetupsEvaluated.Inc()
		}
		decision := c.gate.Evaluate(eval.Setup, l, now, acct.BuyingPower)
		if !decision.Admitted {
			if c.metrics != nil {
				c.metrics.SetupsRejected.WithLabelValues(decision.Reason.String()).Inc()
			}
			continue
		}
		c.submitSetup(ctx, eval.Setup, l, now)
	}

	c.statusMu.Lock()
	c.status.LastScanAt = now
	c.statusMu.Unlock()
}

func (c *Coordinator) evaluateSymbol(ctx context.Context, symbol string, now time.Time) (strategy.Evaluation, bool) {
	gap, ok, err := c.gapSource.Observe(ctx, symbol, now)
	if err != nil || !ok {
		return strategy.Evaluation{}, false
	}

	fraction := c.window.SessionFractionElapsed(now)
	sessionBars, err := c.market.Bars(ctx, symbol, bars.FiveMinute, 60)
	if err != nil {
		return strategy.Evaluation{}, false
	}
	daily, err := c.market.Bars(ctx, symbol, bars.Daily, 20)
	if err != nil {
		return strategy.Evaluation{}, false
	}
	dailyVolumes := make([]float64, len(daily))
	for i, b := range daily {
		dailyVolumes[i] = b.Volume
	}
	snap, err := c.market.Snapshot(ctx, symbol, sessionBars, dailyVolumes, fraction)
	if err != nil {
		return strategy.Evaluation{}, false
	}
	last, err := c.market.Last(ctx, symbol)
	if err != nil {
		return strategy.Evaluation{}, false
	}

	eval := strategy.Evaluate(c.cfg, gap, snap, last)
	return eval, true
}

func (c *Coordinator) submitSetup(ctx context.Context, setup strategy.Setup, l *ledger.DayLedger, now time.Time) {
	parentID, err := c.brk.SubmitBracket(ctx, setup.Symbol, setup.Side, float64(setup.SizeShares), broker.Market(), setup.StopPrice, setup.TargetPrice)
	if err != nil {
		l.ReleasePendingLock(setup.Symbol)
		c.log.Warn().Str("symbol", setup.Symbol).Err(err).Msg("bracket submit failed")
		return
	}
	if c.metrics != nil {
		c.metrics.OrdersSubmitted.WithLabelValues("bracket").Inc()
		c.metrics.SetupsAccepted.Inc()
	}

	children, err := c.brk.ChildrenOf(ctx, parentID)
	if err != nil {
		c.log.Error().Str("symbol", setup.Symbol).Err(err).Msg("could not resolve bracket children after submit")
		return
	}

	pos := position.FromSetup(setup, parentID, children.StopLegID, children.TargetLegID, now)
	pos.OnFillObserved()

	c.positionsMu.Lock()
	c.positions[setup.Symbol] = pos
	c.positionsMu.Unlock()

	l.RegisterOpen(setup.Symbol, setup.Side)

	if c.eventStore != nil {
		_ = c.eventStore.Append(ctx, store.Event{
			Timestamp: now, Symbol: setup.Symbol, Side: setup.Side.String(),
			Size: float64(setup.SizeShares), Price: setup.EntryPrice,
			EventKind: store.EventEntryFilled, ParentOrderID: parentID,
		})
	}
}

// monitorTick implements spec.md §4.7's monitor cadence: for each managed
// position, pull last price and run one state-machine step. Distinct
// symbols run concurrently; per-symbol steps are serialized by the same key
// hashed mutex the scanner uses.
func (c *Coordinator) monitorTick(ctx context.Context, now time.Time) {
	l := c.currentLedger()
	if l == nil {
		return
	}

	c.positionsMu.Lock()
	toCheck := make([]*position.ManagedPosition, 0, len(c.positions))
	for _, p := range c.positions {
		toCheck = append(toCheck, p)
	}
	c.positionsMu.Unlock()

	var wg sync.WaitGroup
	for _, p := range toCheck {
		p := p
		wg.Add(1)
		c.workerSem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-c.workerSem }()

			lock := c.symbolLock(p.Symbol)
			lock.Lock()
			defer lock.Unlock()

			c.monitorOne(ctx, p, l, now)
		}()
	}
	wg.Wait()

	c.statusMu.Lock()
	c.status.LastMonitorAt = now
	c.statusMu.Unlock()
}

func (c *Coordinator) monitorOne(ctx context.Context, p *position.ManagedPosition, l *ledger.DayLedger, now time.Time) {
	quote, err := c.market.Last(ctx, p.Symbol)
	if err != nil {
		c.log.Warn().Str("symbol", p.Symbol).Err(err).Msg("skipping monitor step, quote unavailable")
		return
	}

	result, err := p.Tick(ctx, c.brk, c.cfg, quote.Last, now, c.log)
	if err != nil {
		c.log.Error().Str("symbol", p.Symbol).Err(err).Msg("position tick error")
		return
	}
	if c.metrics != nil && result.StopReplaced {
		c.metrics.StopReplaces.WithLabelValues("ok").Inc()
	}
	if !result.Exited {
		return
	}
	c.finalizeExit(ctx, p, l, now, result.ExitReason, quote.Last)
}

// finalizeExit folds a position's realized PnL into the ledger, starts the
// stop-out cooldown when applicable, removes it from the managed map, and
// emits the mandatory exit record (spec.md §6). exitPrice is the last
// observed quote at the moment the exit was detected, since this engine has
// no fill-event feed to read an actual fill price from.
func (c *Coordinator) finalizeExit(ctx context.Context, p *position.ManagedPosition, l *ledger.DayLedger, now time.Time, reason position.ExitKind, exitPrice float64) {
	realizedPnL := (exitPrice - p.EntryPrice) * float64(p.SizeShares)
	if p.Side == bars.Short {
		realizedPnL = -realizedPnL
	}

	l.RecordExit(p.Symbol, realizedPnL)
	if reason == position.ExitStopFill {
		l.RecordStopOut(p.Symbol, now)
	}
	p.Confirm()

	c.positionsMu.Lock()
	delete(c.positions, p.Symbol)
	c.positionsMu.Unlock()

	if c.metrics != nil {
		c.metrics.DailyRealizedPnL.Set(l.Snapshot().RealizedPnL)
	}
	if c.eventStore != nil {
		eventKind := store.EventExit
		if reason == position.ExitForceClose {
			eventKind = store.EventForceClose
		}
		_ = c.eventStore.Append(ctx, store.Event{
			Timestamp: now, Symbol: p.Symbol, Side: p.Side.String(),
			Size: float64(p.SizeShares), Price: exitPrice,
			RealizedPnL: &realizedPnL, EventKind: eventKind, ParentOrderID: p.ParentOrderID,
		})
	}
}

// cutoffSweep implements spec.md §4.6/§4.7's unconditional force-close of
// every managed position at position_close_local. Run calls it on every
// cutoff-timer tick once the close time has passed; calls after the first
// firing find nothing to do, because finalized positions have already been
// removed from c.positions and ForceClose on an already-Closing position is
// itself a no-op.
func (c *Coordinator) cutoffSweep(ctx context.Context) {
	c.positionsMu.Lock()
	toClose := make([]*position.ManagedPosition, 0, len(c.positions))
	for _, p := range c.positions {
		toClose = append(toClose, p)
	}
	c.positionsMu.Unlock()

	now := time.Now()
	for _, p := range toClose {
		lock := c.symbolLock(p.Symbol)
		lock.Lock()
		if err := c.forceCloseOne(ctx, p, now); err != nil {
			c.log.Error().Str("symbol", p.Symbol).Err(err).Msg("force-close failed")
		}
		lock.Unlock()
	}

	c.statusMu.Lock()
	c.status.CutoffFired = true
	c.statusMu.Unlock()
}

// forceCloseOne force-closes p and runs it through the same finalization
// finalizeExit gives a monitor-detected exit: realized PnL folded into the
// ledger, removal from the managed map, and the mandatory exit record
// (spec.md §6). Must be called with p's symbol lock held.
func (c *Coordinator) forceCloseOne(ctx context.Context, p *position.ManagedPosition, now time.Time) error {
	exitPrice := p.EntryPrice
	if quote, err := c.market.Last(ctx, p.Symbol); err == nil {
		exitPrice = quote.Last
	} else {
		c.log.Warn().Str("symbol", p.Symbol).Err(err).Msg("quote unavailable for force-close, falling back to entry price")
	}

	if err := p.ForceClose(ctx, c.brk, p.TargetOrderID); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.ForceCloses.Inc()
	}

	l := c.currentLedger()
	if l == nil {
		return nil
	}
	c.finalizeExit(ctx, p, l, now, position.ExitForceClose, exitPrice)
	return nil
}

// ClosePosition force-closes a single managed symbol on explicit operator
// command (spec.md §6 inbound control).
func (c *Coordinator) ClosePosition(ctx context.Context, symbol string) error {
	c.positionsMu.Lock()
	p, ok := c.positions[symbol]
	c.positionsMu.Unlock()
	if !ok {
		return nil
	}

	lock := c.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()
	return c.forceCloseOne(ctx, p, time.Now())
}

// Status returns a consistent snapshot for the status inbound control
// (spec.md §6).
func (c *Coordinator) Status() Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	s := c.status
	s.Paused = c.Paused()
	c.positionsMu.Lock()
	s.OpenPositions = len(c.positions)
	c.positionsMu.Unlock()
	return s
}

// Pause suspends new scanner admissions. Positions already open keep being
// monitored and are still force-closed at cutoff; nothing new is submitted
// (spec.md §6 inbound control).
func (c *Coordinator) Pause() {
	c.pausedMu.Lock()
	c.paused = true
	c.pausedMu.Unlock()
}

// Resume lifts a prior Pause.
func (c *Coordinator) Resume() {
	c.pausedMu.Lock()
	c.paused = false
	c.pausedMu.Unlock()
}

// Paused reports whether the scanner is currently suspended.
func (c *Coordinator) Paused() bool {
	c.pausedMu.Lock()
	defer c.pausedMu.Unlock()
	return c.paused
}

// CloseAll force-closes every currently managed position, used by the
// close-all inbound control. The stop command does not call it.
func (c *Coordinator) CloseAll(ctx context.Context) {
	c.cutoffSweep(ctx)
}
