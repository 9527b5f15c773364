// Package risk scores orders for fraud and decides whether delivery is
// instant, delayed or held for manual review.
//
// Assess is a pure function: everything it needs is passed in, so callers
// gather the buyer snapshot and the settings first.
package risk

import (
	"fmt"
	"time"

	"digital-goods-marketplace/internal/model"

	"github.com/shopspring/decimal"
)

const (
	pointsHighValue       = 30
	pointsManualThreshold = 20
	pointsNewAccount      = 20
	pointsFirstOrder      = 10
	pointsVelocity        = 15
	pointsRiskyMethod     = 5

	manualReviewScore = 51
	delayScore        = 31

	newAccountAge  = 24 * time.Hour
	velocityOrders = 3
	VelocityWindow = time.Hour
)

type Settings struct {
	HighValueThreshold    decimal.Decimal
	ManualReviewThreshold decimal.Decimal
	DeliveryDelayMinutes  int
}

type Input struct {
	BuyerID   string
	Total     decimal.Decimal
	Method    model.PaymentMethod
	ItemCount int
}

// History is the buyer snapshot read from storage at assessment time.
type History struct {
	AccountCreatedAt time.Time
	// COMPLETED orders before this one
	CompletedOrders int64
	// PENDING, PROCESSING or COMPLETED orders created within VelocityWindow
	RecentOrders int64
}

type Assessment struct {
	Score                int      `json:"score"`
	IsHighValue          bool     `json:"is_high_value"`
	RequiresManualReview bool     `json:"requires_manual_review"`
	ShouldDelay          bool     `json:"should_delay"`
	DelayMinutes         int      `json:"delay_minutes"`
	Reasons              []string `json:"reasons"`
}

// Assess applies the additive scoring rules.
func Assess(in Input, h History, s Settings, now time.Time) Assessment {
	a := Assessment{Reasons: []string{}}

	aboveManual := s.ManualReviewThreshold.IsPositive() && in.Total.GreaterThanOrEqual(s.ManualReviewThreshold)

	if s.HighValueThreshold.IsPositive() && in.Total.GreaterThanOrEqual(s.HighValueThreshold) {
		a.IsHighValue = true
		a.Score += pointsHighValue
		a.Reasons = append(a.Reasons, fmt.Sprintf("high value order: %s >= %s", in.Total.StringFixed(2), s.HighValueThreshold.StringFixed(2)))
	}
	if aboveManual {
		a.Score += pointsManualThreshold
		a.Reasons = append(a.Reasons, fmt.Sprintf("order above manual review threshold %s", s.ManualReviewThreshold.StringFixed(2)))
	}
	if now.Sub(h.AccountCreatedAt) < newAccountAge {
		a.Score += pointsNewAccount
		a.Reasons = append(a.Reasons, "account created less than 24h ago")
	}
	if h.CompletedOrders == 0 {
		a.Score += pointsFirstOrder
		a.Reasons = append(a.Reasons, "no previously completed orders")
	}
	if h.RecentOrders >= velocityOrders {
		a.Score += pointsVelocity
		a.Reasons = append(a.Reasons, fmt.Sprintf("%d orders in the last hour", h.RecentOrders))
	}
	if riskyMethod(in.Method) {
		a.Score += pointsRiskyMethod
		a.Reasons = append(a.Reasons, fmt.Sprintf("payment method %s", in.Method))
	}

	a.RequiresManualReview = a.Score >= manualReviewScore || aboveManual
	a.ShouldDelay = a.Score >= delayScore && s.DeliveryDelayMinutes > 0
	if a.ShouldDelay {
		a.DelayMinutes = s.DeliveryDelayMinutes
	}

	return a
}

// Flat premium for irreversible rails, independent of amount.
func riskyMethod(m model.PaymentMethod) bool {
	switch m {
	case model.MethodCrypto, model.MethodPeer, model.MethodDeposit:
		return true
	}
	return false
}
