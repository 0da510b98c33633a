// Package billing computes billable duration and amount for a completed
// consultation session.
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Minutes converts elapsed wall-clock time into billable minutes.
// Partial minutes bill as a full minute, and a completed session never
// bills zero: ending one second after starting is one minute.
func Minutes(elapsed time.Duration) int {
	if elapsed <= 0 {
		return 1
	}
	ms := elapsed.Milliseconds()
	minutes := ms / 60_000
	if ms%60_000 != 0 {
		minutes++
	}
	if minutes < 1 {
		minutes = 1
	}
	return int(minutes)
}

// Amount is minutes * ratePerMinute rounded to 2 decimal places, half up.
// Computed exactly once at the completion transition and never recomputed.
func Amount(ratePerMinute decimal.Decimal, minutes int) decimal.Decimal {
	return ratePerMinute.Mul(decimal.NewFromInt(int64(minutes))).Round(2)
}
