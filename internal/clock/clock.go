// Package clock evaluates the time-of-day gates spec.md §4.4/§4.7 require,
// entirely in the configured market-local timezone. Persisted timestamps
// remain UTC; only these comparisons convert.
package clock

import (
	"fmt"
	"time"
)

// Window describes the market-local time-of-day gates the Risk Gate and
// Coordinator both consult.
type Window struct {
	Location          *time.Location
	MarketOpen        TimeOfDay // 09:30
	PostOpenDelay     time.Duration
	TradingCutoff     TimeOfDay // entries stop, e.g. 14:00
	PositionCloseTime TimeOfDay // force-close sweep, e.g. 13:50
}

// TimeOfDay is a wall-clock hour:minute, compared only within a single
// market-local day.
type TimeOfDay struct {
	Hour, Minute int
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var t TimeOfDay
	_, err := fmt.Sscanf(s, "%d:%d", &t.Hour, &t.Minute)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time-of-day %q: %w", s, err)
	}
	return t, nil
}

func (t TimeOfDay) onDate(loc *time.Location, ref time.Time) time.Time {
	y, m, d := ref.In(loc).Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, loc)
}

// EntryWindowOpen reports whether new entries are permitted at `now`:
// market-local time must be at or after open+post-open-delay and strictly
// before the trading cutoff.
func (w Window) EntryWindowOpen(now time.Time) bool {
	local := now.In(w.Location)
	entryStart := w.MarketOpen.onDate(w.Location, local).Add(w.PostOpenDelay)
	cutoff := w.TradingCutoff.onDate(w.Location, local)
	return !local.Before(entryStart) && local.Before(cutoff)
}

// CutoffActive reports whether the force-close time-of-day has been reached
// or passed for `now`'s market-local date.
func (w Window) CutoffActive(now time.Time) bool {
	local := now.In(w.Location)
	closeAt := w.PositionCloseTime.onDate(w.Location, local)
	return !local.Before(closeAt)
}

// SessionFractionElapsed returns the fraction of the regular session
// (open → trading cutoff) that has elapsed at `now`, clamped to [0,1].
func (w Window) SessionFractionElapsed(now time.Time) float64 {
	local := now.In(w.Location)
	open := w.MarketOpen.onDate(w.Location, local)
	cutoff := w.TradingCutoff.onDate(w.Location, local)
	total := cutoff.Sub(open).Seconds()
	if total <= 0 {
		return 0
	}
	elapsed := local.Sub(open).Seconds()
	if elapsed < 0 {
		return 0
	}
	if elapsed > total {
		return 1
	}
	return elapsed / total
}

// DateKey returns the market-local calendar date as a stable map key,
// used by the Coordinator to detect day rollover for the DayLedger.
func DateKey(loc *time.Location, t time.Time) string {
	return t.In(loc).Format("2006-01-02")
}
