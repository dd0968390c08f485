package riskgate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kieranlane/gapengine/internal/bars"
	"github.com/kieranlane/gapengine/internal/clock"
	"github.com/kieranlane/gapengine/internal/config"
	"github.com/kieranlane/gapengine/internal/ledger"
	"github.com/kieranlane/gapengine/internal/strategy"
)

func testWindow(t *testing.T) clock.Window {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	open, _ := clock.ParseTimeOfDay("09:30")
	cutoff, _ := clock.ParseTimeOfDay("14:00")
	closeAt, _ := clock.ParseTimeOfDay("13:50")
	return clock.Window{
		Location:          loc,
		MarketOpen:        open,
		PostOpenDelay:     30 * time.Minute,
		TradingCutoff:     cutoff,
		PositionCloseTime: closeAt,
	}
}

func midday(t *testing.T, window clock.Window) time.Time {
	t.Helper()
	return time.Date(2026, 8, 3, 11, 0, 0, 0, window.Location)
}

func sampleSetup(symbol string) strategy.Setup {
	return strategy.Setup{Symbol: symbol, Side: bars.Long, EntryPrice: 100, SizeShares: 50}
}

func TestEvaluateAdmitsWithinWindow(t *testing.T) {
	window := testWindow(t)
	gate := New(config.Default(), window)
	l := ledger.New("2026-08-03")

	decision := gate.Evaluate(sampleSetup("AAPL"), l, midday(t, window), 100000)
	assert.True(t, decision.Admitted)
}

func TestEvaluateRejectsBeforePostOpenDelay(t *testing.T) {
	window := testWindow(t)
	gate := New(config.Default(), window)
	l := ledger.New("2026-08-03")

	early := time.Date(2026, 8, 3, 9, 45, 0, 0, window.Location)
	decision := gate.Evaluate(sampleSetup("AAPL"), l, early, 100000)
	assert.False(t, decision.Admitted)
	assert.Equal(t, ReasonWindowClosed, decision.Reason)
}

func TestEvaluateRejectsAtCutoff(t *testing.T) {
	window := testWindow(t)
	gate := New(config.Default(), window)
	l := ledger.New("2026-08-03")

	atCutoff := time.Date(2026, 8, 3, 13, 50, 0, 0, window.Location)
	decision := gate.Evaluate(sampleSetup("AAPL"), l, atCutoff, 100000)
	assert.False(t, decision.Admitted)
	assert.Equal(t, ReasonCutoffActive, decision.Reason)
}

func TestEvaluateRejectsOverNotionalCap(t *testing.T) {
	window := testWindow(t)
	cfg := config.Default()
	cfg.PerSymbolNotionalCap = 1000
	gate := New(cfg, window)
	l := ledger.New("2026-08-03")

	decision := gate.Evaluate(sampleSetup("AAPL"), l, midday(t, window), 100000)
	assert.False(t, decision.Admitted)
	assert.Equal(t, ReasonNotionalCap, decision.Reason)
}

func TestEvaluateRejectsCooldown(t *testing.T) {
	window := testWindow(t)
	gate := New(config.Default(), window)
	l := ledger.New("2026-08-03")
	now := midday(t, window)
	l.RecordStopOut("AAPL", now.Add(-5*time.Minute))

	decision := gate.Evaluate(sampleSetup("AAPL"), l, now, 100000)
	assert.False(t, decision.Admitted)
	assert.Equal(t, ReasonCooldown, decision.Reason)
}

func TestEvaluateRejectsDailyLossLimit(t *testing.T) {
	window := testWindow(t)
	cfg := config.Default()
	gate := New(cfg, window)
	l := ledger.New("2026-08-03")
	l.Rebuild(-cfg.DailyLossLimit, 2)

	decision := gate.Evaluate(sampleSetup("AAPL"), l, midday(t, window), 100000)
	assert.False(t, decision.Admitted)
	assert.Equal(t, ReasonDailyLossLimit, decision.Reason)
}

func TestEvaluateDynamicTradeCap(t *testing.T) {
	window := testWindow(t)
	cfg := config.Default()
	gate := New(cfg, window)
	l := ledger.New("2026-08-03")
	l.Rebuild(-50, 10)

	decision := gate.Evaluate(sampleSetup("AAPL"), l, midday(t, window), 100000)
	assert.False(t, decision.Admitted)
	assert.Equal(t, ReasonTradeCap, decision.Reason)

	l.Rebuild(5, 10)
	decision = gate.Evaluate(sampleSetup("AAPL"), l, midday(t, window), 100000)
	assert.True(t, decision.Admitted)
}
