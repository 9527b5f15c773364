package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Deposit is one incoming transfer as reported by the exchange deposit history.
type Deposit struct {
	Amount     string
	Coin       string
	Network    string
	Memo       string
	TxID       string
	Successful bool
	InsertedAt time.Time
}

type DepositLister interface {
	ListDeposits(ctx context.Context, coin string, since time.Time) ([]Deposit, error)
}

// directDeposit has no webhook. A payment counts as received only when a
// successful deposit carries the stored memo code and the exact expected amount.
type directDeposit struct {
	api DepositLister
}

func NewDirectDeposit(api DepositLister) Provider {
	return &directDeposit{api: api}
}

func (p *directDeposit) Name() string { return NameDeposit }

// VerifySignature always refuses: this rail is never webhook driven.
func (p *directDeposit) VerifySignature([]byte, http.Header) bool {
	return false
}

func (p *directDeposit) ExtractConfirmation([]byte) (*Confirmation, error) {
	return nil, fmt.Errorf("%w: deposits are confirmed by polling", ErrMalformed)
}

func (p *directDeposit) Poll(ctx context.Context, target PollTarget) (*PollResult, error) {
	if p.api == nil {
		return nil, ErrNotPollable
	}
	details := target.Details
	if details.MemoCode == "" || details.ExpectedAmount == "" {
		return nil, fmt.Errorf("%w: payment %s has no memo or expected amount", ErrMalformed, target.PaymentID)
	}
	expected, err := decimal.NewFromString(details.ExpectedAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: expected amount: %v", ErrMalformed, err)
	}

	deposits, err := p.api.ListDeposits(ctx, details.Coin, target.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("list deposits: %w", err)
	}

	for _, d := range deposits {
		if !d.Successful || strings.TrimSpace(d.Memo) != details.MemoCode {
			continue
		}
		if details.Coin != "" && !strings.EqualFold(d.Coin, details.Coin) {
			continue
		}
		amount, err := decimal.NewFromString(d.Amount)
		if err != nil || !amount.Equal(expected) {
			continue
		}
		return &PollResult{State: PollConfirmed, ExternalReference: d.TxID}, nil
	}
	return &PollResult{State: PollPending}, nil
}
