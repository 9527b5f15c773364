package client

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"digital-goods-marketplace/internal/config"
)

const ProvisioningSignatureHeader = "X-Provisioning-Signature"

type ProvisionRequest struct {
	// IdempotencyKey is the order item id; retries of the same item never issue twice.
	IdempotencyKey string
	SKU            string
	Quantity       int
	BuyerID        string
}

// ProvisionResult carries the issued codes, or only a Reference when the
// provider will deliver them later through the callback.
type ProvisionResult struct {
	Reference string
	Codes     []string
}

type ProvisioningClient interface {
	Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResult, error)
}

type provisioningClientImpl struct {
	httpClient *http.Client
	baseApiURL string
	apiKey     string
}

type provisionPayload struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
	Customer string `json:"customer_ref"`
}

type provisionResponse struct {
	Reference string   `json:"reference"`
	Status    string   `json:"status"`
	Codes     []string `json:"codes"`
}

func NewProvisioningClient(cfg *config.Provisioning) ProvisioningClient {
	return &provisioningClientImpl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseApiURL: cfg.BaseApiURL,
		apiKey:     cfg.APIKey,
	}
}

func (c *provisioningClientImpl) Provision(ctx context.Context, in ProvisionRequest) (*ProvisionResult, error) {
	body, err := json.Marshal(provisionPayload{
		SKU:      in.SKU,
		Quantity: in.Quantity,
		Customer: in.BuyerID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal req payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseApiURL+"/v1/orders", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", in.IdempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("provision failed: status=%d body=%s", resp.StatusCode, string(b))
	}

	var res provisionResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode provision response: %w", err)
	}

	switch strings.ToUpper(res.Status) {
	case "FAILED", "REJECTED":
		return nil, fmt.Errorf("provider rejected order %s", res.Reference)
	case "PENDING", "PROCESSING":
		// codes arrive on the callback
		return &ProvisionResult{Reference: res.Reference}, nil
	}

	return &ProvisionResult{Reference: res.Reference, Codes: res.Codes}, nil
}

// VerifyProvisioningSignature checks the hex HMAC-SHA256 of a callback body.
func VerifyProvisioningSignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), got)
}
