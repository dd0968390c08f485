// Package indicators implements pure, side-effect-free technical indicator
// math over a bar series: Wilder-smoothed RSI and ATR, MACD with divergence
// detection, session VWAP, rolling support/resistance, and a volume-surge
// ratio. No function in this package blocks or allocates shared state.
package indicators

import (
	"math"

	"github.com/kieranlane/gapengine/internal/bars"
)

// Result wraps a scalar indicator value with a validity flag, matching the
// convention used throughout this package: an indicator undefined before its
// warm-up period returns IsValid=false rather than a fabricated number.
type Result struct {
	Value   float64
	IsValid bool
}

// EMA computes the exponential moving average series for period p. The
// series is seeded with the first value (out[0] = values[0]), and the early
// warm-up entries are not flagged invalid — callers needing Wilder semantics
// use RSI/ATR directly.
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 || period <= 0 {
		return out
	}
	k := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// RSI14 computes the 14-period Wilder-smoothed relative strength index.
// The first valid value requires at least period+1 closes.
func RSI14(closes []float64) Result {
	return rsi(closes, 14)
}

func rsi(closes []float64, period int) Result {
	if len(closes) < period+1 {
		return Result{Value: 50.0, IsValid: false}
	}

	gains := make([]float64, 0, len(closes)-1)
	losses := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains = append(gains, change)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -change)
		}
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	alpha := 1.0 / float64(period)
	for i := period; i < len(gains); i++ {
		avgGain = avgGain*(1-alpha) + gains[i]*alpha
		avgLoss = avgLoss*(1-alpha) + losses[i]*alpha
	}

	if avgLoss == 0 {
		return Result{Value: 100.0, IsValid: true}
	}
	rs := avgGain / avgLoss
	return Result{Value: 100.0 - (100.0 / (1.0 + rs)), IsValid: true}
}

// ATR14 computes the 14-period Wilder-smoothed average true range. Undefined
// (IsValid=false) before index 14.
func ATR14(b []bars.Bar) Result {
	return atr(b, 14)
}

func atr(b []bars.Bar, period int) Result {
	if len(b) < period+1 {
		return Result{Value: 0, IsValid: false}
	}

	tr := make([]float64, len(b)-1)
	for i := 1; i < len(b); i++ {
		hl := b[i].High - b[i].Low
		hc := math.Abs(b[i].High - b[i-1].Close)
		lc := math.Abs(b[i].Low - b[i-1].Close)
		tr[i-1] = math.Max(hl, math.Max(hc, lc))
	}

	avg := 0.0
	for i := 0; i < period; i++ {
		avg += tr[i]
	}
	avg /= float64(period)

	alpha := 1.0 / float64(period)
	for i := period; i < len(tr); i++ {
		avg = avg*(1-alpha) + tr[i]*alpha
	}
	return Result{Value: avg, IsValid: true}
}

// MACDResult bundles the line, signal, histogram, and divergence call.
type MACDResult struct {
	Line       float64
	Signal     float64
	Hist       float64
	Divergence bars.MACDDivergence
	IsValid    bool
}

// MACD computes the standard 12/26/9 MACD and scans the last 20 bars for
// regular divergence between price extremes and the histogram.
func MACD(b []bars.Bar) MACDResult {
	const fast, slow, signalP, lookback = 12, 26, 9, 20
	if len(b) < slow+signalP {
		return MACDResult{}
	}

	closes := make([]float64, len(b))
	for i, bar := range b {
		closes[i] = bar.Close
	}

	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)
	macdLine := make([]float64, len(closes))
	for i := range closes {
		macdLine[i] = emaFast[i] - emaSlow[i]
	}
	signalLine := EMA(macdLine, signalP)

	last := len(closes) - 1
	hist := make([]float64, len(closes))
	for i := range closes {
		hist[i] = macdLine[i] - signalLine[i]
	}

	div := detectDivergence(b, hist, lookback)

	return MACDResult{
		Line:       macdLine[last],
		Signal:     signalLine[last],
		Hist:       hist[last],
		Divergence: div,
		IsValid:    true,
	}
}

// detectDivergence scans the last `lookback` bars for a price high/low that
// the MACD histogram fails to confirm: a higher price high paired with a
// lower histogram high is bearish; a lower price low paired with a higher
// histogram low is bullish. Standard regular divergence, not hidden
// divergence.
func detectDivergence(b []bars.Bar, hist []float64, lookback int) bars.MACDDivergence {
	n := len(b)
	if n < lookback+1 {
		return bars.DivergenceNone
	}
	window := b[n-lookback:]
	histWindow := hist[n-lookback:]

	hiIdx, loIdx := 0, 0
	for i := 1; i < len(window); i++ {
		if window[i].High > window[hiIdx].High {
			hiIdx = i
		}
		if window[i].Low < window[loIdx].Low {
			loIdx = i
		}
	}

	mid := len(window) / 2
	// Bearish: a later, higher price high paired with a lower histogram peak.
	if hiIdx > mid {
		priorMaxHist := maxOf(histWindow[:hiIdx])
		if histWindow[hiIdx] < priorMaxHist {
			return bars.DivergenceBearish
		}
	}
	// Bullish: a later, lower price low paired with a higher histogram trough.
	if loIdx > mid {
		priorMinHist := minOf(histWindow[:loIdx])
		if histWindow[loIdx] > priorMinHist {
			return bars.DivergenceBullish
		}
	}
	return bars.DivergenceNone
}

func maxOf(xs []float64) float64 {
	if len(xs) == 0 {
		return math.Inf(-1)
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func minOf(xs []float64) float64 {
	if len(xs) == 0 {
		return math.Inf(1)
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

// VWAP computes the session-cumulative volume-weighted average price:
// Σ(typical price × volume) / Σ(volume) since the first bar in the slice,
// which callers must have already trimmed to the current session.
func VWAP(session []bars.Bar) Result {
	if len(session) == 0 {
		return Result{IsValid: false}
	}
	var pv, v float64
	for _, b := range session {
		typical := (b.High + b.Low + b.Close) / 3.0
		pv += typical * b.Volume
		v += b.Volume
	}
	if v == 0 {
		return Result{IsValid: false}
	}
	return Result{Value: pv / v, IsValid: true}
}

// SupportResistance20 returns min(low) and max(high) over the last 20 bars.
func SupportResistance20(b []bars.Bar) (support, resistance Result) {
	const window = 20
	if len(b) < window {
		return Result{IsValid: false}, Result{IsValid: false}
	}
	recent := b[len(b)-window:]
	lo, hi := recent[0].Low, recent[0].High
	for _, bar := range recent[1:] {
		if bar.Low < lo {
			lo = bar.Low
		}
		if bar.High > hi {
			hi = bar.High
		}
	}
	return Result{Value: lo, IsValid: true}, Result{Value: hi, IsValid: true}
}

// CumulativeVolumeRatio compares today's cumulative session volume to the
// average of the previous 20 full-session volumes, scaled by the fraction of
// the session elapsed. This is the documented substitute allowed by spec §4.2
// when the provider does not retain 20 prior intraday cumulative-volume
// curves keyed by time-of-day — only daily session totals are available.
func CumulativeVolumeRatio(cumulativeVolumeToday float64, prior20DailyVolumes []float64, sessionFractionElapsed float64) Result {
	if len(prior20DailyVolumes) == 0 || sessionFractionElapsed <= 0 {
		return Result{IsValid: false}
	}
	sum := 0.0
	for _, v := range prior20DailyVolumes {
		sum += v
	}
	avgDaily := sum / float64(len(prior20DailyVolumes))
	expectedByNow := avgDaily * sessionFractionElapsed
	if expectedByNow <= 0 {
		return Result{IsValid: false}
	}
	return Result{Value: cumulativeVolumeToday / expectedByNow, IsValid: true}
}
