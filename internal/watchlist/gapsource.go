package watchlist

import (
	"context"
	"fmt"
	"time"

	"github.com/kieranlane/gapengine/internal/bars"
	"github.com/kieranlane/gapengine/internal/marketdata"
)

// DailyGapSource derives today's GapObservation from the Market Data
// Provider's own daily-bar and last-quote feeds: prior session close from
// the most recent daily bar, and the current last quote standing in for
// today's opening print. The observation is recomputed on every call; it is
// not fixed to the session's first trade and not cached once per day.
type DailyGapSource struct {
	market *marketdata.Provider
	minPct float64
}

// NewDailyGapSource builds a GapSource over market, rejecting observations
// below minAbsGapPct up front (the strategy evaluator re-checks the full
// band, this is just a cheap early filter).
func NewDailyGapSource(market *marketdata.Provider, minAbsGapPct float64) *DailyGapSource {
	return &DailyGapSource{market: market, minPct: minAbsGapPct}
}

// Observe implements coordinator.GapSource.
func (g *DailyGapSource) Observe(ctx context.Context, symbol string, now time.Time) (bars.GapObservation, bool, error) {
	daily, err := g.market.Bars(ctx, symbol, bars.Daily, 2)
	if err != nil {
		return bars.GapObservation{}, false, fmt.Errorf("fetch daily bars for %s: %w", symbol, err)
	}
	if len(daily) < 1 {
		return bars.GapObservation{}, false, nil
	}
	prevClose := daily[len(daily)-1].Close

	quote, err := g.market.Last(ctx, symbol)
	if err != nil {
		return bars.GapObservation{}, false, fmt.Errorf("fetch opening quote for %s: %w", symbol, err)
	}
	if prevClose <= 0 {
		return bars.GapObservation{}, false, nil
	}

	gapPct := (quote.Last - prevClose) / prevClose * 100
	direction := bars.GapUp
	if gapPct < 0 {
		direction = bars.GapDown
	}
	if abs(gapPct) < g.minPct {
		return bars.GapObservation{}, false, nil
	}

	return bars.GapObservation{
		Symbol:    symbol,
		PrevClose: prevClose,
		TodayOpen: quote.Last,
		GapPct:    gapPct,
		Direction: direction,
	}, true, nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
