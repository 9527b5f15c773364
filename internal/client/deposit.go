package client

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"digital-goods-marketplace/internal/config"
	"digital-goods-marketplace/internal/provider"
)

// deposit history status for a credited transfer
const depositStatusSuccess = 1

type DepositClient interface {
	ListDeposits(ctx context.Context, coin string, since time.Time) ([]provider.Deposit, error)
}

type depositClientImpl struct {
	httpClient *http.Client
	baseApiURL string
	apiKey     string
	secretKey  string
	now        func() time.Time
}

type depositRecord struct {
	Amount     string `json:"amount"`
	Coin       string `json:"coin"`
	Network    string `json:"network"`
	Status     int    `json:"status"`
	AddressTag string `json:"addressTag"`
	TxID       string `json:"txId"`
	InsertTime int64  `json:"insertTime"`
}

func NewDepositClient(depositCfg *config.Deposit) DepositClient {
	return &depositClientImpl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseApiURL: depositCfg.BaseApiURL,
		apiKey:     depositCfg.APIKey,
		secretKey:  depositCfg.SecretKey,
		now:        time.Now,
	}
}

// sign appends an HMAC-SHA256 signature of the encoded query, the scheme the
// exchange uses for account endpoints.
func (c *depositClientImpl) sign(query url.Values) string {
	encoded := query.Encode()
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(encoded))
	return encoded + "&signature=" + hex.EncodeToString(mac.Sum(nil))
}

func (c *depositClientImpl) ListDeposits(ctx context.Context, coin string, since time.Time) ([]provider.Deposit, error) {
	query := url.Values{}
	if coin != "" {
		query.Set("coin", coin)
	}
	query.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	query.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseApiURL+"/sapi/v1/capital/deposit/hisrec?"+c.sign(query), nil)
	if err != nil {
		return nil, fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("deposit history failed: status=%d body=%s", resp.StatusCode, string(b))
	}

	var records []depositRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode deposit history: %w", err)
	}

	deposits := make([]provider.Deposit, 0, len(records))
	for _, r := range records {
		deposits = append(deposits, provider.Deposit{
			Amount:     r.Amount,
			Coin:       r.Coin,
			Network:    r.Network,
			Memo:       r.AddressTag,
			TxID:       r.TxID,
			Successful: r.Status == depositStatusSuccess,
			InsertedAt: time.UnixMilli(r.InsertTime).UTC(),
		})
	}
	return deposits, nil
}
