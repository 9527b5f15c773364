package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"digital-goods-marketplace/internal/config"
)

type QRClient interface {
	PaymentStatus(ctx context.Context, externalPaymentID string) (status string, reference string, err error)
}

type qrClientImpl struct {
	httpClient *http.Client
	baseApiURL string
	apiKey     string
}

type qrPaymentResult struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
}

func NewQRClient(qrCfg *config.QR) QRClient {
	return &qrClientImpl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseApiURL: qrCfg.BaseApiURL,
		apiKey:     qrCfg.APIKey,
	}
}

func (c *qrClientImpl) PaymentStatus(ctx context.Context, externalPaymentID string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseApiURL+"/v1/payments/"+url.PathEscape(externalPaymentID), nil)
	if err != nil {
		return "", "", fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", "", fmt.Errorf("qr payment status failed: status=%d body=%s", resp.StatusCode, string(b))
	}

	var res qrPaymentResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", "", fmt.Errorf("decode qr payment: %w", err)
	}

	return res.Status, res.Reference, nil
}
