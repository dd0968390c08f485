package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kieranlane/gapengine/internal/bars"
	"github.com/kieranlane/gapengine/internal/broker"
	"github.com/kieranlane/gapengine/internal/cache"
	"github.com/kieranlane/gapengine/internal/clock"
	"github.com/kieranlane/gapengine/internal/config"
	"github.com/kieranlane/gapengine/internal/marketdata"
	"github.com/kieranlane/gapengine/internal/riskgate"
	"github.com/kieranlane/gapengine/internal/store"
	"github.com/kieranlane/gapengine/internal/strategy"
)

type staticWatchlist struct{ symbols []string }

func (w staticWatchlist) Symbols(ctx context.Context) ([]string, error) { return w.symbols, nil }

type staticGapSource struct{ gap bars.GapObservation }

func (s staticGapSource) Observe(ctx context.Context, symbol string, now time.Time) (bars.GapObservation, bool, error) {
	return s.gap, true, nil
}

type flatMarketSource struct{}

func (flatMarketSource) FetchBars(ctx context.Context, symbol string, tf bars.Timeframe, n int) ([]bars.Bar, error) {
	out := make([]bars.Bar, n)
	start := time.Date(2026, 8, 3, 9, 30, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		out[i] = bars.Bar{Timestamp: start.Add(time.Duration(i) * 5 * time.Minute), Open: 100, High: 100.5, Low: 99.5, Close: 100, Volume: 50000}
	}
	return out, nil
}

func (flatMarketSource) FetchLast(ctx context.Context, symbol string) (bars.Quote, error) {
	return bars.Quote{Symbol: symbol, Last: 100.00, Timestamp: time.Now()}, nil
}

func testWindow(t *testing.T) clock.Window {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	open, _ := clock.ParseTimeOfDay("09:30")
	cutoff, _ := clock.ParseTimeOfDay("14:00")
	closeAt, _ := clock.ParseTimeOfDay("13:50")
	return clock.Window{Location: loc, MarketOpen: open, PostOpenDelay: 30 * time.Minute, TradingCutoff: cutoff, PositionCloseTime: closeAt}
}

func newTestCoordinator(t *testing.T, window clock.Window, watchlist Watchlist, gapSource GapSource, eventStore store.EventStore) (*Coordinator, *broker.Simulated) {
	t.Helper()
	cfg := config.Default()
	market := marketdata.NewProvider(flatMarketSource{}, cache.New(), map[bars.Timeframe]time.Duration{bars.FiveMinute: time.Minute}, time.Second, zerolog.Nop())
	gate := riskgate.New(cfg, window)
	sim := broker.NewSimulated(1_000_000)
	c := New(cfg, window, market, gate, sim, watchlist, gapSource, eventStore, nil, 4, zerolog.Nop())
	return c, sim
}

// TestScanTickPrefiltersAlreadyManagedSymbol exercises the coordinator's
// prefilter (spec.md §4.7): a symbol already in the managed set is never
// re-evaluated, even though it is present on the watchlist.
func TestScanTickPrefiltersAlreadyManagedSymbol(t *testing.T) {
	window := testWindow(t)
	watchlist := staticWatchlist{symbols: []string{"AAPL"}}
	gapSource := staticGapSource{gap: bars.GapObservation{Symbol: "AAPL", GapPct: 1.0, Direction: bars.GapUp}}
	c, _ := newTestCoordinator(t, window, watchlist, gapSource, nil)

	now := time.Date(2026, 8, 3, 11, 0, 0, 0, window.Location)
	c.rolloverLedgerIfNeeded(context.Background(), now)
	c.currentLedger().RegisterOpen("AAPL", bars.Long)

	c.scanTick(context.Background(), now)

	c.positionsMu.Lock()
	_, has := c.positions["AAPL"]
	c.positionsMu.Unlock()
	assert.False(t, has, "already-managed symbol must not be resubmitted")
}

func TestSubmitSetupRegistersPositionAndEmitsEvent(t *testing.T) {
	window := testWindow(t)
	watchlist := staticWatchlist{symbols: []string{"AAPL"}}
	gapSource := staticGapSource{gap: bars.GapObservation{Symbol: "AAPL", GapPct: 1.0, Direction: bars.GapUp}}
	eventStore := store.NewMemory()
	c, _ := newTestCoordinator(t, window, watchlist, gapSource, eventStore)

	now := time.Date(2026, 8, 3, 11, 0, 0, 0, window.Location)
	c.rolloverLedgerIfNeeded(context.Background(), now)

	setup := strategy.Setup{Symbol: "AAPL", Side: bars.Long, EntryPrice: 100, StopPrice: 98.5, TargetPrice: 103.75, SizeShares: 50, SignalStrength: 8}
	c.submitSetup(context.Background(), setup, c.currentLedger(), now)

	c.positionsMu.Lock()
	_, has := c.positions["AAPL"]
	c.positionsMu.Unlock()
	assert.True(t, has)
	assert.True(t, c.currentLedger().IsManaged("AAPL"))
	assert.NotEmpty(t, eventStore.Events())
}

func TestCutoffSweepForceClosesAllManagedPositions(t *testing.T) {
	window := testWindow(t)
	watchlist := staticWatchlist{symbols: []string{"AAPL", "TSLA"}}
	gapSource := staticGapSource{gap: bars.GapObservation{Symbol: "AAPL", GapPct: 1.0, Direction: bars.GapUp}}
	c, _ := newTestCoordinator(t, window, watchlist, gapSource, nil)

	now := time.Date(2026, 8, 3, 11, 0, 0, 0, window.Location)
	c.rolloverLedgerIfNeeded(context.Background(), now)

	l := c.currentLedger()
	for _, symbol := range []string{"AAPL", "TSLA"} {
		setup := strategy.Setup{Symbol: symbol, Side: bars.Long, EntryPrice: 100, StopPrice: 98.5, TargetPrice: 103.75, SizeShares: 50}
		c.submitSetup(context.Background(), setup, l, now)
	}

	require.Equal(t, 2, len(c.positions))
	c.cutoffSweep(context.Background())

	c.positionsMu.Lock()
	remaining := len(c.positions)
	c.positionsMu.Unlock()
	assert.Equal(t, 0, remaining, "cutoff sweep should finalize and remove every managed position")

	for _, symbol := range []string{"AAPL", "TSLA"} {
		assert.False(t, l.IsManaged(symbol), "symbol %s should no longer be managed after cutoff", symbol)
	}
}

func TestClosePositionForceClosesSingleSymbol(t *testing.T) {
	window := testWindow(t)
	watchlist := staticWatchlist{symbols: []string{"AAPL"}}
	gapSource := staticGapSource{gap: bars.GapObservation{Symbol: "AAPL", GapPct: 1.0, Direction: bars.GapUp}}
	c, _ := newTestCoordinator(t, window, watchlist, gapSource, nil)

	now := time.Date(2026, 8, 3, 11, 0, 0, 0, window.Location)
	c.rolloverLedgerIfNeeded(context.Background(), now)
	setup := strategy.Setup{Symbol: "AAPL", Side: bars.Long, EntryPrice: 100, StopPrice: 98.5, TargetPrice: 103.75, SizeShares: 50}
	c.submitSetup(context.Background(), setup, c.currentLedger(), now)

	err := c.ClosePosition(context.Background(), "AAPL")
	require.NoError(t, err)

	c.positionsMu.Lock()
	_, has := c.positions["AAPL"]
	c.positionsMu.Unlock()
	assert.False(t, has, "closed position should be removed from the managed map")
	assert.False(t, c.currentLedger().IsManaged("AAPL"))
}
