package provider

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const qrSignatureHeader = "X-Signature"

// QRStatusFetcher reads the current status of a QR transfer from the provider API.
type QRStatusFetcher interface {
	PaymentStatus(ctx context.Context, externalPaymentID string) (status string, reference string, err error)
}

// qr is the bank-transfer QR rail. Webhooks carry a hex HMAC-SHA256 of the
// raw body; orders are matched through the stored external payment id.
type qr struct {
	webhookSecret string
	api           QRStatusFetcher
}

func NewQR(webhookSecret string, api QRStatusFetcher) Provider {
	return &qr{webhookSecret: webhookSecret, api: api}
}

type qrEvent struct {
	ID    string `json:"id"`
	Event string `json:"event"`
	Data  struct {
		ID        string `json:"id"`
		Reference string `json:"reference"`
	} `json:"data"`
}

func (p *qr) Name() string { return NameQR }

func (p *qr) VerifySignature(body []byte, headers http.Header) bool {
	if p.webhookSecret == "" {
		return false
	}
	return equalHex(signHex(sha256.New, p.webhookSecret, body), headers.Get(qrSignatureHeader))
}

func (p *qr) ExtractConfirmation(body []byte) (*Confirmation, error) {
	var event qrEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if event.Data.ID == "" {
		return nil, fmt.Errorf("%w: missing data.id", ErrMalformed)
	}

	ref := event.Data.Reference
	if ref == "" {
		ref = event.Data.ID
	}
	return &Confirmation{
		Provider:          NameQR,
		EventID:           event.ID,
		EventType:         event.Event,
		ExternalPaymentID: event.Data.ID,
		ExternalReference: ref,
		Final:             event.Event == "payment.completed",
	}, nil
}

func (p *qr) Poll(ctx context.Context, target PollTarget) (*PollResult, error) {
	if p.api == nil {
		return nil, ErrNotPollable
	}
	id := target.ExternalPaymentID
	if id == "" {
		id = target.Details.QROrderID
	}
	if id == "" {
		return &PollResult{State: PollPending}, nil
	}

	status, ref, err := p.api.PaymentStatus(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("qr payment status: %w", err)
	}

	switch strings.ToUpper(status) {
	case "PAID", "COMPLETED":
		if ref == "" {
			ref = id
		}
		return &PollResult{State: PollConfirmed, ExternalReference: ref}, nil
	case "EXPIRED":
		return &PollResult{State: PollExpired}, nil
	case "FAILED", "CANCELLED":
		return &PollResult{State: PollFailed}, nil
	default:
		return &PollResult{State: PollPending}, nil
	}
}
