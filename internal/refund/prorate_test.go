package refund

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestProrate(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 30)
	twenty := decimal.NewFromInt(20)

	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{name: "ten days used", now: start.AddDate(0, 0, 10), want: "13.33"},
		{name: "partial day counts as unused", now: start.AddDate(0, 0, 10).Add(5 * time.Hour), want: "13.33"},
		{name: "unused", now: start, want: "20"},
		{name: "before start", now: start.Add(-time.Hour), want: "20"},
		{name: "fully used", now: end, want: "0"},
		{name: "after expiry", now: end.AddDate(0, 0, 3), want: "0"},
		{name: "last day", now: start.AddDate(0, 0, 29), want: "0.67"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Prorate(twenty, start, end, tt.now)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestProrate_InvalidWindow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, Prorate(decimal.NewFromInt(20), start, start, start).IsZero())
	assert.True(t, Prorate(decimal.Zero, start, start.AddDate(0, 0, 30), start).IsZero())
}
