// Package provider normalizes the signals of the payment rails into one
// Confirmation shape. Each rail owns its signature scheme; none of them
// touches storage, replay safety comes from the fulfillment engine.
package provider

import (
	"context"
	"crypto/hmac"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"net/http"
	"strings"
	"time"

	"digital-goods-marketplace/internal/model"
)

const (
	NameCard    = "card"
	NameQR      = "qr"
	NameCrypto  = "crypto"
	NamePeer    = "peer"
	NameDeposit = "deposit"
)

var (
	ErrUnknownProvider = errors.New("unknown payment provider")
	ErrNotPollable     = errors.New("provider does not support polling")
	ErrMalformed       = errors.New("malformed provider payload")
)

// Confirmation is the rail independent result of a provider signal.
type Confirmation struct {
	Provider string
	// Orders named by the provider payload. Empty when the rail only
	// references ExternalPaymentID.
	OrderIDs          []string
	ExternalPaymentID string
	ExternalReference string
	EventID           string
	EventType         string
	// Only a final success may trigger fulfillment.
	Final bool
}

type Provider interface {
	Name() string
	// VerifySignature fails closed: missing headers or secret mean false.
	VerifySignature(body []byte, headers http.Header) bool
	ExtractConfirmation(body []byte) (*Confirmation, error)
}

// Acknowledger is implemented by rails that expect a specific reply body.
type Acknowledger interface {
	Ack(processed bool) (int, any)
}

type PollState string

const (
	PollPending   PollState = "pending"
	PollConfirmed PollState = "confirmed"
	PollExpired   PollState = "expired"
	PollFailed    PollState = "failed"
)

type PollTarget struct {
	PaymentID         string
	ExternalPaymentID string
	Details           model.PaymentDetails
	CreatedAt         time.Time
}

type PollResult struct {
	State             PollState
	ExternalReference string
}

// Poller actively re-verifies a payment with the provider.
type Poller interface {
	Poll(ctx context.Context, target PollTarget) (*PollResult, error)
}

type Registry struct {
	providers map[string]Provider
	pollers   map[string]Poller
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		pollers:   make(map[string]Poller),
	}
}

// Register adds p, and also registers it as a poller when it implements Poller.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
	if poller, ok := p.(Poller); ok {
		r.pollers[p.Name()] = poller
	}
}

func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

func (r *Registry) Poller(name string) (Poller, error) {
	p, ok := r.pollers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotPollable, name)
	}
	return p, nil
}

func signHex(newHash func() hash.Hash, key string, payload []byte) string {
	mac := hmac.New(newHash, []byte(key))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// equalHex compares two hex digests in constant time, ignoring case.
func equalHex(expected, got string) bool {
	if expected == "" || got == "" {
		return false
	}
	e, err := hex.DecodeString(strings.ToLower(expected))
	if err != nil {
		return false
	}
	g, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(got)))
	if err != nil {
		return false
	}
	return hmac.Equal(e, g)
}
