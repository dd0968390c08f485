package main

import (
	"context"
	"path/filepath"
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
	"github.com/kieranlane/gapengine/internal/coordinator"
	"github.com/kieranlane/gapengine/internal/marketdata"
	"github.com/kieranlane/gapengine/internal/riskgate"
	"github.com/kieranlane/gapengine/internal/watchlist"
)

func testCoordinator(t *testing.T) *coordinator.Coordinator {
	t.Helper()
	cfg := config.Default()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	open, _ := clock.ParseTimeOfDay("09:30")
	cutoff, _ := clock.ParseTimeOfDay("14:00")
	closeAt, _ := clock.ParseTimeOfDay("13:50")
	window := clock.Window{Location: loc, MarketOpen: open, PostOpenDelay: 30 * time.Minute, TradingCutoff: cutoff, PositionCloseTime: closeAt}

	market := marketdata.NewProvider(marketdata.NewPaperSource(nil), cache.New(),
		map[bars.Timeframe]time.Duration{bars.FiveMinute: time.Minute}, time.Second, zerolog.Nop())
	gate := riskgate.New(cfg, window)
	sim := broker.NewSimulated(1_000_000)
	wl := watchlist.New([]string{"AAPL"})
	gapSource := watchlist.NewDailyGapSource(market, cfg.MinGapPct)

	return coordinator.New(cfg, window, market, gate, sim, wl, gapSource, nil, nil, 4, zerolog.Nop())
}

func TestControlStatusPauseResumeRoundTrip(t *testing.T) {
	coord := testCoordinator(t)
	socketPath := filepath.Join(t.TempDir(), "test.sock")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = serveControl(ctx, socketPath, coord, cancel, zerolog.Nop())
	}()
	waitForSocket(t, socketPath)

	resp, err := sendControlCommand(socketPath, controlRequest{Command: "status"})
	require.NoError(t, err)
	require.NotNil(t, resp.Status)
	assert.False(t, resp.Status.Paused)

	_, err = sendControlCommand(socketPath, controlRequest{Command: "pause"})
	require.NoError(t, err)

	resp, err = sendControlCommand(socketPath, controlRequest{Command: "status"})
	require.NoError(t, err)
	assert.True(t, resp.Status.Paused)

	_, err = sendControlCommand(socketPath, controlRequest{Command: "resume"})
	require.NoError(t, err)
	assert.False(t, coord.Paused())
}

func TestControlCloseAllOnEmptyCoordinatorIsNoop(t *testing.T) {
	coord := testCoordinator(t)
	socketPath := filepath.Join(t.TempDir(), "test.sock")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = serveControl(ctx, socketPath, coord, cancel, zerolog.Nop())
	}()
	waitForSocket(t, socketPath)

	_, err := sendControlCommand(socketPath, controlRequest{Command: "close-all"})
	require.NoError(t, err)
}

func TestControlRejectsUnknownCommand(t *testing.T) {
	coord := testCoordinator(t)
	socketPath := filepath.Join(t.TempDir(), "test.sock")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = serveControl(ctx, socketPath, coord, cancel, zerolog.Nop())
	}()
	waitForSocket(t, socketPath)

	_, err := sendControlCommand(socketPath, controlRequest{Command: "nonsense"})
	assert.Error(t, err)
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := sendControlCommand(path, controlRequest{Command: "status"}); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}
