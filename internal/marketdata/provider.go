// Package marketdata implements the Market Data Provider (spec.md §4.1): bar
// and quote retrieval with TTL memoization, bounded-retry fetch, and the
// derived IndicatorSnapshot bundle. Transient upstream errors are retried
// with exponential backoff up to a small budget before surfacing as
// DataUnavailable; Indicator Kit functions (internal/indicators) are never
// invoked on stale or gap-containing data.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/kieranlane/gapengine/internal/bars"
	"github.com/kieranlane/gapengine/internal/cache"
	"github.com/kieranlane/gapengine/internal/indicators"
)

// ErrDataUnavailable is returned when bars/last cannot be produced after the
// retry budget is exhausted, or when the returned series would contain a
// calendar gap.
var ErrDataUnavailable = errors.New("marketdata: data unavailable")

// Source is the upstream bar/quote feed. A broker adapter (or a dedicated
// market-data vendor) implements this; the Provider adds caching and retry
// on top and never calls Source directly from strategy/position code.
type Source interface {
	FetchBars(ctx context.Context, symbol string, tf bars.Timeframe, n int) ([]bars.Bar, error)
	FetchLast(ctx context.Context, symbol string) (bars.Quote, error)
}

// RetryBudget bounds the exponential backoff applied to transient Source
// errors before a request surfaces as ErrDataUnavailable.
type RetryBudget struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryBudget() RetryBudget {
	return RetryBudget{MaxAttempts: 4, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// Provider is the Market Data Provider: TTL-cached bars/quotes plus the
// derived IndicatorSnapshot.
type Provider struct {
	source Source
	cache  cache.Cache
	retry  RetryBudget
	log    zerolog.Logger

	barTTL  map[bars.Timeframe]time.Duration
	quoteTTL time.Duration
}

// NewProvider constructs a Provider. barTTL should map each timeframe to a
// TTL matching its bar length (60s for 1-minute bars, etc); quoteTTL should
// be a few seconds at most per spec.md §4.1.
func NewProvider(source Source, c cache.Cache, barTTL map[bars.Timeframe]time.Duration, quoteTTL time.Duration, log zerolog.Logger) *Provider {
	return &Provider{
		source:   source,
		cache:    c,
		retry:    DefaultRetryBudget(),
		log:      log,
		barTTL:   barTTL,
		quoteTTL: quoteTTL,
	}
}

// Bars returns the last n bars for (symbol,timeframe) ending at or before
// now, in strict ascending timestamp order, gap-free for regular trading
// hours. A TTL cache hit avoids refetching; a miss or stale entry triggers a
// bounded-retry fetch from Source.
func (p *Provider) Bars(ctx context.Context, symbol string, tf bars.Timeframe, n int) ([]bars.Bar, error) {
	key := cacheKeyBars(symbol, tf, n)
	if cached, ok := p.cache.Get(key); ok {
		if series, err := decodeBars(cached); err == nil {
			return series, nil
		}
	}

	series, err := p.fetchBarsWithRetry(ctx, symbol, tf, n)
	if err != nil {
		return nil, err
	}
	if err := validateGapFree(series, tf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}

	ttl := p.barTTL[tf]
	if encoded, err := encodeBars(series); err == nil {
		p.cache.Set(key, encoded, ttl)
	}
	return series, nil
}

// Last returns a TTL-cached last-trade quote, refetching on expiry.
func (p *Provider) Last(ctx context.Context, symbol string) (bars.Quote, error) {
	key := "quote:" + symbol
	if cached, ok := p.cache.Get(key); ok {
		if q, err := decodeQuote(cached); err == nil {
			return q, nil
		}
	}

	q, err := p.fetchLastWithRetry(ctx, symbol)
	if err != nil {
		return bars.Quote{}, err
	}
	if encoded, err := encodeQuote(q); err == nil {
		p.cache.Set(key, encoded, p.quoteTTL)
	}
	return q, nil
}

// Snapshot computes the full IndicatorSnapshot (§3) for symbol from its
// 5-minute bars plus the daily session for VWAP and volume-ratio context.
func (p *Provider) Snapshot(ctx context.Context, symbol string, sessionBars []bars.Bar, dailyVolumes []float64, sessionFractionElapsed float64) (bars.IndicatorSnapshot, error) {
	closes := make([]float64, len(sessionBars))
	for i, b := range sessionBars {
		closes[i] = b.Close
	}

	rsi := indicators.RSI14(closes)
	atr := indicators.ATR14(sessionBars)
	macd := indicators.MACD(sessionBars)
	vwap := indicators.VWAP(sessionBars)
	support, resistance := indicators.SupportResistance20(sessionBars)

	cumVol := 0.0
	for _, b := range sessionBars {
		cumVol += b.Volume
	}
	volRatio := indicators.CumulativeVolumeRatio(cumVol, dailyVolumes, sessionFractionElapsed)

	avg20 := 0.0
	if len(dailyVolumes) > 0 {
		sum := 0.0
		for _, v := range dailyVolumes {
			sum += v
		}
		avg20 = sum / float64(len(dailyVolumes))
	}

	var asOf time.Time
	if len(sessionBars) > 0 {
		asOf = sessionBars[len(sessionBars)-1].Timestamp
	}

	snap := bars.IndicatorSnapshot{
		Symbol:                symbol,
		AsOf:                  asOf,
		RSI14:                 rsi.Value,
		ATR14:                 atr.Value,
		MACDLine:              macd.Line,
		MACDSignal:            macd.Signal,
		MACDHist:              macd.Hist,
		MACDDivergence:        macd.Divergence,
		VWAP:                  vwap.Value,
		Support20:             support.Value,
		Resistance20:          resistance.Value,
		AvgVolume20:           avg20,
		CumulativeVolumeRatio: volRatio.Value,
	}
	if !rsi.IsValid || !atr.IsValid {
		return snap, fmt.Errorf("%w: insufficient warm-up bars for %s", ErrDataUnavailable, symbol)
	}
	return snap, nil
}

func (p *Provider) fetchBarsWithRetry(ctx context.Context, symbol string, tf bars.Timeframe, n int) ([]bars.Bar, error) {
	delay := p.retry.BaseDelay
	var lastErr error
	for attempt := 0; attempt < p.retry.MaxAttempts; attempt++ {
		series, err := p.source.FetchBars(ctx, symbol, tf, n)
		if err == nil {
			return series, nil
		}
		lastErr = err
		p.log.Warn().Str("symbol", symbol).Int("attempt", attempt+1).Err(err).Msg("bar fetch failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(math.Min(float64(delay*2), float64(p.retry.MaxDelay)))
	}
	return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, lastErr)
}

func (p *Provider) fetchLastWithRetry(ctx context.Context, symbol string) (bars.Quote, error) {
	delay := p.retry.BaseDelay
	var lastErr error
	for attempt := 0; attempt < p.retry.MaxAttempts; attempt++ {
		q, err := p.source.FetchLast(ctx, symbol)
		if err == nil {
			return q, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return bars.Quote{}, ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(math.Min(float64(delay*2), float64(p.retry.MaxDelay)))
	}
	return bars.Quote{}, fmt.Errorf("%w: %v", ErrDataUnavailable, lastErr)
}

// validateGapFree rejects a series containing a missing interval rather than
// fabricating a bar, per spec.md §4.1's guarantee.
func validateGapFree(series []bars.Bar, tf bars.Timeframe) error {
	if len(series) < 2 {
		return nil
	}
	sorted := append([]bars.Bar(nil), series...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	step := timeframeStep(tf)
	if step <= 0 {
		return nil
	}
	for i := 1; i < len(sorted); i++ {
		gap := sorted[i].Timestamp.Sub(sorted[i-1].Timestamp)
		if gap > step {
			return fmt.Errorf("missing bar between %s and %s", sorted[i-1].Timestamp, sorted[i].Timestamp)
		}
	}
	return nil
}

func timeframeStep(tf bars.Timeframe) time.Duration {
	switch tf {
	case bars.OneMinute:
		return time.Minute
	case bars.FiveMinute:
		return 5 * time.Minute
	case bars.Daily:
		return 24 * time.Hour
	default:
		return 0
	}
}
