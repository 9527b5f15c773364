package provider

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	cardSignatureHeader = "Stripe-Signature"
	cardTolerance       = 5 * time.Minute
)

// card is the hosted checkout rail. The signature header carries
// "t=<unix>,v1=<hex hmac-sha256 of t.body>".
type card struct {
	webhookSecret string
	now           func() time.Time
}

func NewCard(webhookSecret string) Provider {
	return &card{webhookSecret: webhookSecret, now: time.Now}
}

type cardEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID            string            `json:"id"`
			PaymentStatus string            `json:"payment_status"`
			PaymentIntent string            `json:"payment_intent"`
			Metadata      map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

func (p *card) Name() string { return NameCard }

func (p *card) VerifySignature(body []byte, headers http.Header) bool {
	if p.webhookSecret == "" {
		return false
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(headers.Get(cardSignatureHeader), ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			signatures = append(signatures, v)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := p.now().Sub(time.Unix(ts, 0))
	if age > cardTolerance || age < -cardTolerance {
		return false
	}

	payload := make([]byte, 0, len(timestamp)+1+len(body))
	payload = append(payload, timestamp...)
	payload = append(payload, '.')
	payload = append(payload, body...)
	expected := signHex(sha256.New, p.webhookSecret, payload)

	for _, sig := range signatures {
		if equalHex(expected, sig) {
			return true
		}
	}
	return false
}

func (p *card) ExtractConfirmation(body []byte) (*Confirmation, error) {
	var event cardEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	session := event.Data.Object
	conf := &Confirmation{
		Provider:          NameCard,
		EventID:           event.ID,
		EventType:         event.Type,
		ExternalPaymentID: session.ID,
		ExternalReference: session.PaymentIntent,
		OrderIDs:          splitIDs(session.Metadata["order_ids"]),
	}
	if conf.ExternalReference == "" {
		conf.ExternalReference = session.ID
	}

	switch event.Type {
	case "checkout.session.completed":
		conf.Final = session.PaymentStatus == "paid"
	case "checkout.session.async_payment_succeeded":
		conf.Final = true
	}

	if conf.Final && len(conf.OrderIDs) == 0 {
		return nil, fmt.Errorf("%w: session %s has no order_ids metadata", ErrMalformed, session.ID)
	}
	return conf, nil
}

func splitIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
