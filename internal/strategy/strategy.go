// Package strategy implements the Strategy Evaluator (spec.md §4.5): given a
// symbol's GapObservation and IndicatorSnapshot, it computes a weighted
// signal score and either returns an accepted Setup or a Rejection.
package strategy

import (
	"math"

	"github.com/kieranlane/gapengine/internal/bars"
	"github.com/kieranlane/gapengine/internal/config"
)

// SetupKind names the pattern a Setup was built from, carried through for
// logging/analytics; the evaluator currently produces only one kind.
type SetupKind string

const GapContinuation SetupKind = "gap_continuation"

// Setup is the immutable candidate the evaluator hands to the Risk Gate.
type Setup struct {
	Symbol               string
	Side                 bars.Side
	EntryPrice           float64
	StopPrice            float64
	TargetPrice          float64
	SizeShares           int
	RiskDollars          float64
	StopDistanceDollars  float64
	SignalStrength       int
	SetupKind            SetupKind
}

// RejectReason is a closed enumeration of why a candidate did not become a
// Setup.
type RejectReason int

const (
	RejectNone RejectReason = iota
	RejectGapOutOfBand
	RejectVolumeRatio
	RejectRSI
	RejectBelowThreshold
	RejectSizeTooSmall
)

func (r RejectReason) String() string {
	switch r {
	case RejectGapOutOfBand:
		return "gap_out_of_band"
	case RejectVolumeRatio:
		return "volume_ratio"
	case RejectRSI:
		return "rsi"
	case RejectBelowThreshold:
		return "below_threshold"
	case RejectSizeTooSmall:
		return "size_too_small"
	default:
		return "none"
	}
}

// Evaluation is the Evaluate result: exactly one of Setup or Reason is
// meaningful, selected by Accepted.
type Evaluation struct {
	Accepted bool
	Setup    Setup
	Reason   RejectReason
	Score    int
}

func rejected(reason RejectReason, score int) Evaluation {
	return Evaluation{Accepted: false, Reason: reason, Score: score}
}

const acceptThreshold = 6

// Evaluate scores a candidate gap-continuation setup per spec.md §4.5. last
// is the current quote used as the working entry price. side is determined
// by the gap direction: GapUp → Long, GapDown → Short.
func Evaluate(cfg *config.Config, gap bars.GapObservation, snap bars.IndicatorSnapshot, last bars.Quote) Evaluation {
	side := bars.Long
	if gap.Direction == bars.GapDown {
		side = bars.Short
	}

	absGap := math.Abs(gap.GapPct)
	if absGap < cfg.MinGapPct || absGap > cfg.MaxGapPct {
		return rejected(RejectGapOutOfBand, 0)
	}

	// Mandatory volume-ratio floor: below threshold rejects regardless of
	// other signal points (spec.md §9 resolves the 1.5x-vs-2x ambiguity).
	if snap.CumulativeVolumeRatio < cfg.MinVolumeRatio {
		return rejected(RejectVolumeRatio, 0)
	}

	score := 0
	score += 2 // gap in band, already confirmed above

	if pulledBackToVWAPOrSupport(side, last.Last, snap) {
		score += 2
	}

	if macdBullishOrBearishConfirms(side, snap) {
		score += 3
	}

	rsiPoints, rsiOK := rsiScore(side, snap.RSI14)
	if !rsiOK {
		return rejected(RejectRSI, score)
	}
	score += rsiPoints

	score += 1 // volume ratio floor already satisfied above

	if score < acceptThreshold {
		return rejected(RejectBelowThreshold, score)
	}

	stopDistance := stopDistance(cfg, snap.ATR14, last.Last)
	var stopPrice, targetPrice float64
	if side == bars.Long {
		stopPrice = last.Last - stopDistance
		targetPrice = last.Last + cfg.TargetMult*stopDistance
	} else {
		stopPrice = last.Last + stopDistance
		targetPrice = last.Last - cfg.TargetMult*stopDistance
	}

	size := int(math.Floor(cfg.RiskPerTrade / stopDistance))
	if size < 1 {
		return rejected(RejectSizeTooSmall, score)
	}
	notional := float64(size) * last.Last
	if notional > cfg.PerSymbolNotionalCap {
		size = int(math.Floor(cfg.PerSymbolNotionalCap / last.Last))
		if size < 1 {
			return rejected(RejectSizeTooSmall, score)
		}
	}

	return Evaluation{
		Accepted: true,
		Score:    score,
		Setup: Setup{
			Symbol:              gap.Symbol,
			Side:                side,
			EntryPrice:          last.Last,
			StopPrice:           stopPrice,
			TargetPrice:         targetPrice,
			SizeShares:          size,
			RiskDollars:         stopDistance * float64(size),
			StopDistanceDollars: stopDistance,
			SignalStrength:      score,
			SetupKind:           GapContinuation,
		},
	}
}

func stopDistance(cfg *config.Config, atr14, entryPrice float64) float64 {
	atrComponent := cfg.ATRStopMult * atr14
	minComponent := math.Max(cfg.MinStopDollars, (cfg.MinStopPct/100.0)*entryPrice)
	return math.Max(atrComponent, minComponent)
}

func pulledBackToVWAPOrSupport(side bars.Side, last float64, snap bars.IndicatorSnapshot) bool {
	if snap.VWAP > 0 && math.Abs(last-snap.VWAP)/snap.VWAP <= 0.015 {
		return true
	}
	if side == bars.Long && snap.Support20 > 0 && math.Abs(last-snap.Support20)/snap.Support20 <= 0.02 {
		return true
	}
	if side == bars.Short && snap.Resistance20 > 0 && math.Abs(last-snap.Resistance20)/snap.Resistance20 <= 0.02 {
		return true
	}
	return false
}

func macdBullishOrBearishConfirms(side bars.Side, snap bars.IndicatorSnapshot) bool {
	crossoverUp := snap.MACDLine > snap.MACDSignal && snap.MACDHist > 0
	crossoverDown := snap.MACDLine < snap.MACDSignal && snap.MACDHist < 0
	if side == bars.Long {
		return crossoverUp || snap.MACDDivergence == bars.DivergenceBullish
	}
	return crossoverDown || snap.MACDDivergence == bars.DivergenceBearish
}

// rsiScore implements the long-side ladder (RSI14<35 → +2, <50 → +1, else
// reject) mirrored for shorts per spec.md §4.5 ("RSI thresholds inverted").
func rsiScore(side bars.Side, rsi14 float64) (points int, ok bool) {
	if side == bars.Long {
		switch {
		case rsi14 < 35:
			return 2, true
		case rsi14 < 50:
			return 1, true
		default:
			return 0, false
		}
	}
	switch {
	case rsi14 > 65:
		return 2, true
	case rsi14 > 50:
		return 1, true
	default:
		return 0, false
	}
}
