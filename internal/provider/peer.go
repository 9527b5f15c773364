package provider

import (
	"crypto/sha512"
	"encoding/json"
	"fmt"
	"net/http"
)

const (
	peerTimestampHeader = "BinancePay-Timestamp"
	peerNonceHeader     = "BinancePay-Nonce"
	peerSignatureHeader = "BinancePay-Signature"
)

// peer is the wallet-to-wallet transfer rail. The signed payload is
// "timestamp\nnonce\nbody\n" under HMAC-SHA512.
type peer struct {
	secretKey string
}

func NewPeer(secretKey string) Provider {
	return &peer{secretKey: secretKey}
}

type peerEvent struct {
	BizType   string `json:"bizType"`
	BizIDStr  string `json:"bizIdStr"`
	BizStatus string `json:"bizStatus"`
	Data      string `json:"data"`
}

type peerEventData struct {
	MerchantTradeNo string `json:"merchantTradeNo"`
	TransactionID   string `json:"transactionId"`
}

func (p *peer) Name() string { return NamePeer }

func (p *peer) VerifySignature(body []byte, headers http.Header) bool {
	if p.secretKey == "" {
		return false
	}
	ts := headers.Get(peerTimestampHeader)
	nonce := headers.Get(peerNonceHeader)
	if ts == "" || nonce == "" {
		return false
	}

	payload := make([]byte, 0, len(ts)+len(nonce)+len(body)+3)
	payload = append(payload, ts...)
	payload = append(payload, '\n')
	payload = append(payload, nonce...)
	payload = append(payload, '\n')
	payload = append(payload, body...)
	payload = append(payload, '\n')

	return equalHex(signHex(sha512.New, p.secretKey, payload), headers.Get(peerSignatureHeader))
}

func (p *peer) ExtractConfirmation(body []byte) (*Confirmation, error) {
	var event peerEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var data peerEventData
	if event.Data != "" {
		if err := json.Unmarshal([]byte(event.Data), &data); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrMalformed, err)
		}
	}
	if data.MerchantTradeNo == "" {
		return nil, fmt.Errorf("%w: missing merchantTradeNo", ErrMalformed)
	}

	ref := data.TransactionID
	if ref == "" {
		ref = event.BizIDStr
	}
	return &Confirmation{
		Provider:          NamePeer,
		EventID:           event.BizIDStr + ":" + event.BizStatus,
		EventType:         event.BizType + "." + event.BizStatus,
		ExternalPaymentID: data.MerchantTradeNo,
		ExternalReference: ref,
		Final:             event.BizType == "PAY" && event.BizStatus == "PAY_SUCCESS",
	}, nil
}

func (p *peer) Ack(processed bool) (int, any) {
	if processed {
		return http.StatusOK, map[string]any{"returnCode": "SUCCESS", "returnMessage": nil}
	}
	return http.StatusOK, map[string]any{"returnCode": "FAIL", "returnMessage": "not processed"}
}
