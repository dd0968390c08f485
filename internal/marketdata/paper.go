package marketdata

import (
	"context"
	"math"
	"time"

	"github.com/kieranlane/gapengine/internal/bars"
)

// PaperSource is a self-contained, deterministic-per-symbol Source for
// running the engine end to end without a live vendor feed wired in — the
// vendor integration itself is out of scope (spec.md §1), same as the
// broker's in-memory Simulated adapter stands in for a real brokerage.
// It synthesizes a mild uptrend-with-noise bar series per symbol from a
// seed price, entirely in memory.
type PaperSource struct {
	seeds map[string]float64
}

// NewPaperSource builds a PaperSource. seeds maps symbol to its starting
// price; symbols absent from the map default to 100.00.
func NewPaperSource(seeds map[string]float64) *PaperSource {
	if seeds == nil {
		seeds = map[string]float64{}
	}
	return &PaperSource{seeds: seeds}
}

func (p *PaperSource) seed(symbol string) float64 {
	if v, ok := p.seeds[symbol]; ok {
		return v
	}
	return 100.00
}

// FetchBars synthesizes n bars ending now, stepping by tf's duration, with a
// small sinusoidal wobble superimposed on a linear drift so indicators see
// realistic (non-degenerate) RSI/MACD/ATR inputs.
func (p *PaperSource) FetchBars(ctx context.Context, symbol string, tf bars.Timeframe, n int) ([]bars.Bar, error) {
	base := p.seed(symbol)
	step := timeframeStep(tf)
	now := time.Now()

	out := make([]bars.Bar, n)
	for i := 0; i < n; i++ {
		t := now.Add(-time.Duration(n-1-i) * step)
		drift := base * (1 + 0.0004*float64(i))
		wobble := base * 0.01 * math.Sin(float64(i)/3.0)
		px := drift + wobble
		out[i] = bars.Bar{
			Timestamp: t,
			Open:      px - base*0.001,
			High:      px + base*0.002,
			Low:       px - base*0.002,
			Close:     px,
			Volume:    50000 + 1000*float64(i%7),
		}
	}
	return out, nil
}

// FetchLast returns the final synthesized bar's close as the last quote.
func (p *PaperSource) FetchLast(ctx context.Context, symbol string) (bars.Quote, error) {
	series, err := p.FetchBars(ctx, symbol, bars.OneMinute, 1)
	if err != nil {
		return bars.Quote{}, err
	}
	return bars.Quote{Symbol: symbol, Last: series[0].Close, Timestamp: series[0].Timestamp}, nil
}
