package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kieranlane/gapengine/internal/bars"
	"github.com/kieranlane/gapengine/internal/cache"
)

type fakeSource struct {
	barsFn  func(ctx context.Context, symbol string, tf bars.Timeframe, n int) ([]bars.Bar, error)
	lastFn  func(ctx context.Context, symbol string) (bars.Quote, error)
	calls   int
}

func (f *fakeSource) FetchBars(ctx context.Context, symbol string, tf bars.Timeframe, n int) ([]bars.Bar, error) {
	f.calls++
	return f.barsFn(ctx, symbol, tf, n)
}

func (f *fakeSource) FetchLast(ctx context.Context, symbol string) (bars.Quote, error) {
	return f.lastFn(ctx, symbol)
}

func genSeries(n int, step time.Duration) []bars.Bar {
	out := make([]bars.Bar, n)
	start := time.Date(2026, 8, 3, 9, 30, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		out[i] = bars.Bar{
			Timestamp: start.Add(time.Duration(i) * step),
			Open:      10, High: 11, Low: 9, Close: 10.5, Volume: 1000,
		}
	}
	return out
}

func TestProviderCachesBars(t *testing.T) {
	src := &fakeSource{
		barsFn: func(ctx context.Context, symbol string, tf bars.Timeframe, n int) ([]bars.Bar, error) {
			return genSeries(n, 5*time.Minute), nil
		},
	}
	p := NewProvider(src, cache.New(), map[bars.Timeframe]time.Duration{bars.FiveMinute: time.Minute}, 5*time.Second, zerolog.Nop())

	series1, err := p.Bars(context.Background(), "AAPL", bars.FiveMinute, 20)
	require.NoError(t, err)
	assert.Len(t, series1, 20)

	series2, err := p.Bars(context.Background(), "AAPL", bars.FiveMinute, 20)
	require.NoError(t, err)
	assert.Len(t, series2, 20)
	assert.Equal(t, 1, src.calls, "second call should be served from cache")
}

func TestProviderRetriesThenFails(t *testing.T) {
	src := &fakeSource{
		barsFn: func(ctx context.Context, symbol string, tf bars.Timeframe, n int) ([]bars.Bar, error) {
			return nil, errors.New("upstream timeout")
		},
	}
	p := NewProvider(src, cache.New(), map[bars.Timeframe]time.Duration{bars.FiveMinute: time.Minute}, 5*time.Second, zerolog.Nop())
	p.retry = RetryBudget{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	_, err := p.Bars(context.Background(), "AAPL", bars.FiveMinute, 20)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataUnavailable)
	assert.Equal(t, 2, src.calls)
}

func TestProviderRejectsGappySeries(t *testing.T) {
	series := genSeries(5, 5*time.Minute)
	series = append(series[:2], series[3:]...) // drop a bar, leaving a 10-minute gap
	src := &fakeSource{
		barsFn: func(ctx context.Context, symbol string, tf bars.Timeframe, n int) ([]bars.Bar, error) {
			return series, nil
		},
	}
	p := NewProvider(src, cache.New(), map[bars.Timeframe]time.Duration{bars.FiveMinute: time.Minute}, 5*time.Second, zerolog.Nop())

	_, err := p.Bars(context.Background(), "AAPL", bars.FiveMinute, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestProviderLastQuoteCached(t *testing.T) {
	calls := 0
	src := &fakeSource{
		lastFn: func(ctx context.Context, symbol string) (bars.Quote, error) {
			calls++
			return bars.Quote{Symbol: symbol, Last: 101.5, Timestamp: time.Now()}, nil
		},
	}
	p := NewProvider(src, cache.New(), nil, time.Minute, zerolog.Nop())

	q1, err := p.Last(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 101.5, q1.Last)

	_, err = p.Last(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestProviderSnapshotFlagsInsufficientWarmup(t *testing.T) {
	src := &fakeSource{}
	p := NewProvider(src, cache.New(), nil, time.Minute, zerolog.Nop())

	_, err := p.Snapshot(context.Background(), "AAPL", genSeries(3, 5*time.Minute), nil, 0.1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataUnavailable)
}
