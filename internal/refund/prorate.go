package refund

import (
	"time"

	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// Prorate returns original * remainingDays / totalDays rounded to cents.
// Used days are whole days elapsed since startsAt; a partially used day counts as unused.
func Prorate(original decimal.Decimal, startsAt, expiresAt, now time.Time) decimal.Decimal {
	totalDays := int64(expiresAt.Sub(startsAt) / day)
	if totalDays <= 0 || !original.IsPositive() {
		return decimal.Zero
	}

	usedDays := int64(0)
	if now.After(startsAt) {
		usedDays = int64(now.Sub(startsAt) / day)
	}
	remaining := totalDays - usedDays
	if remaining <= 0 {
		return decimal.Zero
	}
	if remaining > totalDays {
		remaining = totalDays
	}

	return original.
		Mul(decimal.NewFromInt(remaining)).
		Div(decimal.NewFromInt(totalDays)).
		Round(2)
}
