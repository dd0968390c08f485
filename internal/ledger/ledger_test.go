package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kieranlane/gapengine/internal/bars"
)

func TestTryAdmitRejectsAlreadyManaged(t *testing.T) {
	l := New("2026-08-03")
	now := time.Now()
	l.RegisterOpen("AAPL", bars.Long)

	ok, reason := l.TryAdmit("AAPL", now, 5, 10, 600, 20*time.Minute, 5*time.Minute)
	assert.False(t, ok)
	assert.Equal(t, "already_managed", reason)
}

func TestTryAdmitRejectsMaxConcurrent(t *testing.T) {
	l := New("2026-08-03")
	now := time.Now()
	l.RegisterOpen("AAPL", bars.Long)
	l.RegisterOpen("TSLA", bars.Long)

	ok, reason := l.TryAdmit("NET", now, 2, 10, 600, 20*time.Minute, 5*time.Minute)
	assert.False(t, ok)
	assert.Equal(t, "max_concurrent", reason)
}

func TestTryAdmitRespectsCooldown(t *testing.T) {
	l := New("2026-08-03")
	now := time.Now()
	l.RecordStopOut("NET", now.Add(-5*time.Minute))

	ok, reason := l.TryAdmit("NET", now, 5, 10, 600, 20*time.Minute, 5*time.Minute)
	assert.False(t, ok)
	assert.Equal(t, "cooldown", reason)

	ok, _ = l.TryAdmit("NET", now.Add(16*time.Minute), 5, 10, 600, 20*time.Minute, 5*time.Minute)
	assert.True(t, ok)
}

func TestTryAdmitRespectsPendingLock(t *testing.T) {
	l := New("2026-08-03")
	now := time.Now()

	ok, _ := l.TryAdmit("NET", now, 5, 10, 600, 20*time.Minute, 5*time.Minute)
	require.True(t, ok)

	ok, reason := l.TryAdmit("NET", now.Add(time.Minute), 5, 10, 600, 20*time.Minute, 5*time.Minute)
	assert.False(t, ok)
	assert.Equal(t, "pending_entry_lock", reason)
}

func TestTryAdmitRespectsTradeCapAndLossLimit(t *testing.T) {
	l := New("2026-08-03")
	now := time.Now()
	l.Rebuild(-50, 10)

	ok, reason := l.TryAdmit("NET", now, 5, 10, 600, 20*time.Minute, 5*time.Minute)
	assert.False(t, ok)
	assert.Equal(t, "trade_cap", reason)

	l.Rebuild(-600, 5)
	ok, reason = l.TryAdmit("NET", now, 5, 10, 600, 20*time.Minute, 5*time.Minute)
	assert.False(t, ok)
	assert.Equal(t, "daily_loss_limit", reason)
}

func TestRegisterOpenClearsLockAndRecordExitUpdatesCounters(t *testing.T) {
	l := New("2026-08-03")
	now := time.Now()
	ok, _ := l.TryAdmit("AAPL", now, 5, 10, 600, 20*time.Minute, 5*time.Minute)
	require.True(t, ok)

	l.RegisterOpen("AAPL", bars.Long)
	assert.True(t, l.IsManaged("AAPL"))
	assert.False(t, l.HasPendingLock("AAPL", now))

	l.RecordExit("AAPL", 42.50)
	snap := l.Snapshot()
	assert.Equal(t, 42.50, snap.RealizedPnL)
	assert.Equal(t, 1, snap.FilledTradeCount)
	assert.Equal(t, 0, snap.OpenPositions)
	assert.False(t, l.IsManaged("AAPL"))
}

func TestRecordStopOutActivatesCooldown(t *testing.T) {
	l := New("2026-08-03")
	now := time.Now()
	l.RecordStopOut("NET", now)
	assert.True(t, l.InCooldown("NET", now.Add(time.Minute), 20*time.Minute))
	assert.False(t, l.InCooldown("NET", now.Add(21*time.Minute), 20*time.Minute))
}

func TestOpenSymbolsReflectsManagedSet(t *testing.T) {
	l := New("2026-08-03")
	l.RegisterOpen("AAPL", bars.Long)
	l.RegisterOpen("TSLA", bars.Short)
	symbols := l.OpenSymbols()
	assert.ElementsMatch(t, []string{"AAPL", "TSLA"}, symbols)
}
