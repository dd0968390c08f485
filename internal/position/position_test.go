package position

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kieranlane/gapengine/internal/bars"
	"github.com/kieranlane/gapengine/internal/broker"
	"github.com/kieranlane/gapengine/internal/config"
	"github.com/kieranlane/gapengine/internal/strategy"
)

func newTestPosition(t *testing.T, sim *broker.Simulated, symbol string, side bars.Side, entry, stop, target float64, size int) (*ManagedPosition, string) {
	t.Helper()
	ctx := context.Background()
	parentID, err := sim.SubmitBracket(ctx, symbol, side, float64(size), broker.Market(), stop, target)
	require.NoError(t, err)
	children, err := sim.ChildrenOf(ctx, parentID)
	require.NoError(t, err)

	setup := strategy.Setup{Symbol: symbol, Side: side, EntryPrice: entry, StopPrice: stop, TargetPrice: target, SizeShares: size}
	p := FromSetup(setup, parentID, children.StopLegID, children.TargetLegID, time.Now())
	p.OnFillObserved()
	return p, children.TargetLegID
}

func TestDesiredLockTierBoundaries(t *testing.T) {
	cfg := config.Default()

	lock, has := DesiredLock(cfg, 10, 10, time.Hour)
	assert.False(t, has)
	assert.Equal(t, 0.0, lock)

	lock, has = DesiredLock(cfg, 50, 50, time.Hour)
	assert.True(t, has)
	assert.Equal(t, 0.0, lock)

	lock, has = DesiredLock(cfg, 100, 100, time.Hour)
	assert.True(t, has)
	assert.Equal(t, 50.0, lock)

	lock, has = DesiredLock(cfg, 150, 150, time.Hour)
	assert.True(t, has)
	assert.Equal(t, 100.0, lock)
}

func TestDesiredLockQuickProfitOverride(t *testing.T) {
	cfg := config.Default()
	lock, has := DesiredLock(cfg, 22, 22, 120*time.Second)
	assert.True(t, has)
	assert.Equal(t, 0.0, lock)
}

func TestTickS1CleanWinnerViaTier(t *testing.T) {
	sim := broker.NewSimulated(100000)
	cfg := config.Default()
	p, _ := newTestPosition(t, sim, "AAPL", bars.Long, 100.00, 98.50, 103.75, 50)
	assert.Equal(t, OpenInitial, p.State)

	now := p.EntryTime.Add(time.Hour)
	_, err := p.Tick(context.Background(), sim, cfg, 102.00, now, zerolog.Nop())
	require.NoError(t, err)
	assert.InDelta(t, 101.00, p.CurrentStopPrice, 0.01)

	_, err = p.Tick(context.Background(), sim, cfg, 103.00, now, zerolog.Nop())
	require.NoError(t, err)
	assert.InDelta(t, 102.00, p.CurrentStopPrice, 0.01)
	assert.Equal(t, OpenTierLocked, p.State)
}

func TestTickS2QuickProfitOverride(t *testing.T) {
	sim := broker.NewSimulated(100000)
	cfg := config.Default()
	p, _ := newTestPosition(t, sim, "TSLA", bars.Long, 250.00, 248.50, 256.25, 40)

	now := p.EntryTime.Add(120 * time.Second)
	_, err := p.Tick(context.Background(), sim, cfg, 250.55, now, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, OpenBreakeven, p.State)
	assert.InDelta(t, 250.00, p.CurrentStopPrice, 0.01)
}

func TestTickMonotonicityNeverMovesAgainstTrader(t *testing.T) {
	sim := broker.NewSimulated(100000)
	cfg := config.Default()
	p, _ := newTestPosition(t, sim, "AAPL", bars.Long, 100.00, 98.50, 103.75, 50)

	now := p.EntryTime.Add(time.Hour)
	_, err := p.Tick(context.Background(), sim, cfg, 103.00, now, zerolog.Nop())
	require.NoError(t, err)
	lockedStop := p.CurrentStopPrice

	// Price retraces; stop must never move backward.
	_, err = p.Tick(context.Background(), sim, cfg, 101.00, now.Add(time.Minute), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, lockedStop, p.CurrentStopPrice)
}

func TestTickStopFillTransitionsToClosingWithStopExitReason(t *testing.T) {
	sim := broker.NewSimulated(100000)
	cfg := config.Default()
	p, _ := newTestPosition(t, sim, "PFE", bars.Long, 24.65, 24.35, 25.40, 400)

	sim.FillStop(p.CurrentStopOrderID)

	now := p.EntryTime.Add(time.Hour)
	result, err := p.Tick(context.Background(), sim, cfg, 24.90, now, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, result.Exited)
	assert.Equal(t, ExitStopFill, result.ExitReason)
	assert.Equal(t, Closing, p.State)
}

func TestForceCloseCancelsLegsAndSubmitsMarketExit(t *testing.T) {
	sim := broker.NewSimulated(100000)
	p, targetID := newTestPosition(t, sim, "AAPL", bars.Long, 100.00, 98.50, 103.75, 50)

	err := p.ForceClose(context.Background(), sim, targetID)
	require.NoError(t, err)
	assert.Equal(t, Closing, p.State)
	assert.Equal(t, ExitForceClose, p.ExitReason)
}

func TestForceCloseIsIdempotentOnAlreadyClosing(t *testing.T) {
	sim := broker.NewSimulated(100000)
	p, targetID := newTestPosition(t, sim, "AAPL", bars.Long, 100.00, 98.50, 103.75, 50)

	require.NoError(t, p.ForceClose(context.Background(), sim, targetID))
	require.NoError(t, p.ForceClose(context.Background(), sim, targetID))
}
