package mining

import (
	"time"

	"github.com/shopspring/decimal"
)

var msPerHour = decimal.NewFromInt(3600 * 1000)

// EarnedTokens converts elapsed wall-clock time into tokens at the given
// hourly rate. Pure and deterministic: every live display, manual stop
// and sweep goes through here so the three paths can never drift.
// Negative elapsed time yields zero.
func EarnedTokens(start time.Time, rate decimal.Decimal, asOf time.Time) decimal.Decimal {
	ms := asOf.Sub(start).Milliseconds()
	if ms <= 0 {
		return decimal.Zero
	}
	hours := decimal.NewFromInt(ms).Div(msPerHour)
	return hours.Mul(rate)
}

// FinalCutoff is the instant a session finalizes at: now for an early
// stop, the scheduled end for anything at or past it. A session swept
// hours late is still credited for exactly its window.
func FinalCutoff(now, scheduledEnd time.Time) time.Time {
	if now.After(scheduledEnd) {
		return scheduledEnd
	}
	return now
}

// RemainingHours is the time left in the window, floored at zero.
func RemainingHours(now, scheduledEnd time.Time) decimal.Decimal {
	ms := scheduledEnd.Sub(now).Milliseconds()
	if ms <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(ms).Div(msPerHour)
}
