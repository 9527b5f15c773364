package provider

import (
	"bytes"
	"crypto/md5"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/buger/jsonparser"
)

// cryptoInvoice signs webhooks with md5(base64(body without "sign") + key).
// The sender escapes forward slashes, so both encodings are accepted.
type cryptoInvoice struct {
	paymentKey string
}

func NewCryptoInvoice(paymentKey string) Provider {
	return &cryptoInvoice{paymentKey: paymentKey}
}

type cryptoEvent struct {
	Type           string `json:"type"`
	UUID           string `json:"uuid"`
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	IsFinal        bool   `json:"is_final"`
	TxID           string `json:"txid"`
	AdditionalData string `json:"additional_data"`
}

type cryptoMetadata struct {
	OrderIDs []string `json:"order_ids"`
}

func (p *cryptoInvoice) Name() string { return NameCrypto }

func (p *cryptoInvoice) VerifySignature(body []byte, _ http.Header) bool {
	if p.paymentKey == "" {
		return false
	}

	sign, err := jsonparser.GetString(body, "sign")
	if err != nil || sign == "" {
		return false
	}

	// Delete works in place, keep the caller's body intact.
	stripped := jsonparser.Delete(append([]byte(nil), body...), "sign")

	candidates := [][]byte{stripped}
	if escaped := bytes.ReplaceAll(stripped, []byte("/"), []byte(`\/`)); !bytes.Equal(escaped, stripped) {
		candidates = append(candidates, escaped)
	}

	for _, c := range candidates {
		if subtle.ConstantTimeCompare([]byte(p.digest(c)), []byte(sign)) == 1 {
			return true
		}
	}
	return false
}

func (p *cryptoInvoice) digest(payload []byte) string {
	sum := md5.Sum([]byte(base64.StdEncoding.EncodeToString(payload) + p.paymentKey))
	return hex.EncodeToString(sum[:])
}

func (p *cryptoInvoice) ExtractConfirmation(body []byte) (*Confirmation, error) {
	var event cryptoEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	conf := &Confirmation{
		Provider:          NameCrypto,
		EventID:           event.UUID + ":" + event.Status,
		EventType:         event.Type + "." + event.Status,
		ExternalPaymentID: event.UUID,
		ExternalReference: event.TxID,
		Final:             (event.Status == "paid" || event.Status == "paid_over") && event.IsFinal,
	}
	if conf.ExternalReference == "" {
		conf.ExternalReference = event.UUID
	}

	if event.AdditionalData != "" {
		var meta cryptoMetadata
		if err := json.Unmarshal([]byte(event.AdditionalData), &meta); err != nil {
			return nil, fmt.Errorf("%w: additional_data: %v", ErrMalformed, err)
		}
		conf.OrderIDs = meta.OrderIDs
	}
	if conf.Final && len(conf.OrderIDs) == 0 {
		return nil, fmt.Errorf("%w: invoice %s carries no order ids", ErrMalformed, event.UUID)
	}
	return conf, nil
}

func (p *cryptoInvoice) Ack(processed bool) (int, any) {
	if processed {
		return http.StatusOK, map[string]string{"status": "ok"}
	}
	return http.StatusOK, map[string]string{"status": "ignored"}
}
