package client

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"digital-goods-marketplace/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQRClient_PaymentStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/qr-123", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":"qr-123","status":"PAID","reference":"bank-ref-9"}`))
	}))
	defer srv.Close()

	c := NewQRClient(&config.QR{BaseApiURL: srv.URL, APIKey: "key"})
	status, ref, err := c.PaymentStatus(context.Background(), "qr-123")
	require.NoError(t, err)
	assert.Equal(t, "PAID", status)
	assert.Equal(t, "bank-ref-9", ref)
}

func TestQRClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	c := NewQRClient(&config.QR{BaseApiURL: srv.URL})
	_, _, err := c.PaymentStatus(context.Background(), "qr-123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=502")
}

func TestDepositClient_SignsAndMaps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "api-key", r.Header.Get("X-MBX-APIKEY"))

		raw := r.URL.RawQuery
		sig := r.URL.Query().Get("signature")
		unsigned := raw[:len(raw)-len("&signature=")-len(sig)]
		mac := hmac.New(sha256.New, []byte("secret"))
		mac.Write([]byte(unsigned))
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig)
		assert.Equal(t, "USDT", r.URL.Query().Get("coin"))

		_, _ = w.Write([]byte(`[
			{"amount":"12.5","coin":"USDT","network":"TRX","status":1,"addressTag":"AB12CD34EF","txId":"tx-1","insertTime":1700000000000},
			{"amount":"3","coin":"USDT","network":"TRX","status":0,"addressTag":"","txId":"tx-2","insertTime":1700000001000}
		]`))
	}))
	defer srv.Close()

	c := NewDepositClient(&config.Deposit{BaseApiURL: srv.URL, APIKey: "api-key", SecretKey: "secret"})
	deposits, err := c.ListDeposits(context.Background(), "USDT", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, deposits, 2)

	assert.Equal(t, "12.5", deposits[0].Amount)
	assert.Equal(t, "AB12CD34EF", deposits[0].Memo)
	assert.Equal(t, "tx-1", deposits[0].TxID)
	assert.True(t, deposits[0].Successful)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), deposits[0].InsertedAt)
	assert.False(t, deposits[1].Successful)
}

func TestProvisioningClient_Provision(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		wantErr   bool
		wantCodes []string
		wantRef   string
	}{
		{
			name:      "sync codes",
			reply:     `{"reference":"p-1","status":"COMPLETED","codes":["AAA","BBB"]}`,
			wantCodes: []string{"AAA", "BBB"},
			wantRef:   "p-1",
		},
		{
			name:    "async pending",
			reply:   `{"reference":"p-2","status":"PENDING"}`,
			wantRef: "p-2",
		},
		{
			name:    "rejected",
			reply:   `{"reference":"p-3","status":"FAILED"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "item-1", r.Header.Get("Idempotency-Key"))

				var body map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "SKU-10", body["sku"])
				assert.EqualValues(t, 2, body["quantity"])

				_, _ = io.WriteString(w, tt.reply)
			}))
			defer srv.Close()

			c := NewProvisioningClient(&config.Provisioning{BaseApiURL: srv.URL, APIKey: "k"})
			res, err := c.Provision(context.Background(), ProvisionRequest{
				IdempotencyKey: "item-1",
				SKU:            "SKU-10",
				Quantity:       2,
				BuyerID:        "buyer-1",
			})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRef, res.Reference)
			assert.Equal(t, tt.wantCodes, res.Codes)
		})
	}
}

func TestVerifyProvisioningSignature(t *testing.T) {
	body := []byte(`{"reference":"p-2","status":"SUCCESS","codes":["X"]}`)
	mac := hmac.New(sha256.New, []byte("cb-secret"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, VerifyProvisioningSignature("cb-secret", body, sig))
	assert.False(t, VerifyProvisioningSignature("cb-secret", append(body, ' '), sig))
	assert.False(t, VerifyProvisioningSignature("other", body, sig))
	assert.False(t, VerifyProvisioningSignature("", body, sig))
	assert.False(t, VerifyProvisioningSignature("cb-secret", body, "not-hex"))
}
