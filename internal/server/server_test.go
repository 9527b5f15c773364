package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"digital-goods-marketplace/internal/config"
	"digital-goods-marketplace/internal/handler"
	"digital-goods-marketplace/internal/middleware"
	"digital-goods-marketplace/internal/model"
	"digital-goods-marketplace/internal/provider"
	"digital-goods-marketplace/internal/repository"
	"digital-goods-marketplace/internal/secret"
	"digital-goods-marketplace/internal/service"
	"digital-goods-marketplace/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	jwtSecret  = "jwt-test-secret"
	cronSecret = "cron-test-secret"
	peerSecret = "peer-test-secret"
)

type busyLocker struct{}

func (busyLocker) TryLock(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, nil
}

type testApp struct {
	handler  http.Handler
	users    repository.UserRepository
	products repository.ProductRepository
}

func newTestApp(t *testing.T, locker handler.Locker) *testApp {
	t.Helper()
	db := testutil.NewTestDB(t)
	codec, err := secret.NewCodec(base64.StdEncoding.EncodeToString([]byte(strings.Repeat("s", 32))))
	require.NoError(t, err)

	orders := repository.NewOrderRepository(db)
	payments := repository.NewPaymentRepository(db)
	products := repository.NewProductRepository(db)
	inventory := repository.NewInventoryRepository(db)
	sellers := repository.NewSellerRepository(db)
	users := repository.NewUserRepository(db)

	settings := service.NewSettingsService(repository.NewSettingsRepository(db), service.Settings{
		HighValueThreshold:    decimal.NewFromInt(100),
		ManualReviewThreshold: decimal.NewFromInt(500),
		DeliveryDelayMinutes:  30,
		CommissionRate:        decimal.RequireFromString("0.10"),
		QRWindow:              15 * time.Minute,
		DepositWindow:         time.Hour,
	})
	notifier := service.NewNotificationService(repository.NewNotificationRepository(db), nil)
	wallet := service.NewWalletService(db, repository.NewWalletRepository(db), "USD")
	fulfillment := service.NewFulfillmentService(db, orders, payments, products, inventory, repository.NewLedgerRepository(db), sellers, codec, nil, notifier)

	registry := provider.NewRegistry()
	registry.Register(provider.NewPeer(peerSecret))

	checkout := service.NewCheckoutService(db, products, orders, payments, service.NewRiskService(users, orders, settings), settings, wallet, fulfillment, notifier, config.Deposit{})
	payment := service.NewPaymentService(db, registry, payments, orders, repository.NewWebhookEventRepository(db), fulfillment)
	scheduler := service.NewSchedulerService(db, orders, payments, fulfillment)
	refunds := service.NewRefundService(db, orders, repository.NewRefundRepository(db), inventory, wallet, notifier)
	withdrawals := service.NewWithdrawalService(db, sellers, repository.NewWithdrawalRepository(db), notifier)
	inventorySvc := service.NewInventoryService(products, orders, inventory, codec)

	srv := NewServer(Handlers{
		Order:   handler.NewOrderHandler(checkout, payment, inventorySvc, refunds),
		Webhook: handler.NewWebhookHandler(payment, fulfillment, registry, "callback-secret"),
		Admin:   handler.NewAdminHandler(fulfillment, refunds, withdrawals, inventorySvc, settings),
		Account: handler.NewAccountHandler(wallet, notifier, withdrawals),
		Cron:    handler.NewCronHandler(scheduler, locker),
	}, Options{
		JWTSecret:  jwtSecret,
		CronSecret: cronSecret,
		Limiter:    middleware.NewRateLimiter(100, 100, nil),
	})

	return &testApp{handler: srv.Handler(), users: users, products: products}
}

func (a *testApp) token(t *testing.T, role model.Role) (string, string) {
	t.Helper()
	id := strings.ToLower(string(role)) + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	require.NoError(t, a.users.Create(context.Background(), &model.User{
		ID:        id,
		Email:     id + "@example.com",
		Role:      role,
		CreatedAt: time.Now().UTC().AddDate(-1, 0, 0),
	}))
	tok, err := middleware.IssueToken(jwtSecret, id, role, time.Hour)
	require.NoError(t, err)
	return id, tok
}

func (a *testApp) do(t *testing.T, method, path, token, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error.Code
}

func peerHeaders(body string) []string {
	ts, nonce := strconv.FormatInt(time.Now().UnixMilli(), 10), "nonce-1"
	mac := hmac.New(sha512.New, []byte(peerSecret))
	mac.Write([]byte(ts + "\n" + nonce + "\n" + body + "\n"))
	return []string{
		"BinancePay-Timestamp", ts,
		"BinancePay-Nonce", nonce,
		"BinancePay-Signature", strings.ToUpper(hex.EncodeToString(mac.Sum(nil))),
	}
}

func peerPaid(paymentID string) string {
	data, _ := json.Marshal(map[string]string{"merchantTradeNo": paymentID, "transactionId": "txn-" + paymentID})
	body, _ := json.Marshal(map[string]string{
		"bizType":   "PAY",
		"bizIdStr":  "biz-" + paymentID,
		"bizStatus": "PAY_SUCCESS",
		"data":      string(data),
	})
	return string(body)
}

func TestHealth(t *testing.T) {
	app := newTestApp(t, nil)

	rec := app.do(t, http.MethodGet, "/api/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestErrorResponses(t *testing.T) {
	app := newTestApp(t, nil)
	_, buyerToken := app.token(t, model.RoleBuyer)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		status int
		code   string
	}{
		{name: "no token", method: http.MethodPost, path: "/api/orders", body: `{}`, status: http.StatusUnauthorized, code: "unauthorized"},
		{name: "buyer on admin route", method: http.MethodGet, path: "/api/admin/settings", token: buyerToken, status: http.StatusForbidden, code: "forbidden"},
		{name: "buyer on seller route", method: http.MethodPost, path: "/api/seller/withdrawals", token: buyerToken, body: `{}`, status: http.StatusForbidden, code: "forbidden"},
		{name: "empty cart", method: http.MethodPost, path: "/api/orders", token: buyerToken, body: `{"items":[],"payment_method":"peer"}`, status: http.StatusBadRequest, code: "validation"},
		{name: "malformed body", method: http.MethodPost, path: "/api/orders", token: buyerToken, body: `{"items":`, status: http.StatusBadRequest, code: "validation"},
		{name: "someone else's payment", method: http.MethodGet, path: "/api/payments/nope/status", token: buyerToken, status: http.StatusNotFound, code: "not_found"},
		{name: "unknown route", method: http.MethodGet, path: "/api/nowhere", token: buyerToken, status: http.StatusNotFound, code: "not_found"},
		{name: "unsigned provisioning callback", method: http.MethodPost, path: "/api/provisioning/callback", body: `{"reference":"r"}`, status: http.StatusUnauthorized, code: "verification_failed"},
		{name: "cron without secret", method: http.MethodPost, path: "/api/cron/deliver-delayed", status: http.StatusUnauthorized, code: "unauthorized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestPeerCheckoutToDelivery(t *testing.T) {
	app := newTestApp(t, nil)
	_, adminToken := app.token(t, model.RoleAdmin)
	_, buyerToken := app.token(t, model.RoleBuyer)

	require.NoError(t, app.products.Create(context.Background(), &model.Product{
		ID:       "sku-1",
		SellerID: "seller-1",
		Name:     "Store card",
		Type:     model.ProductTypeGiftCard,
		Source:   model.SourceStock,
		Price:    decimal.RequireFromString("10.00"),
		Currency: "USD",
	}))

	rec := app.do(t, http.MethodPost, "/api/admin/products/sku-1/codes", adminToken, `{"codes":["GIFT-0001","GIFT-0002"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = app.do(t, http.MethodPost, "/api/orders", buyerToken, `{"items":[{"product_id":"sku-1","quantity":1}],"payment_method":"peer"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var checkout struct {
		PaymentID string `json:"payment_id"`
		Orders    []struct {
			OrderID string `json:"order_id"`
		} `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &checkout))
	require.Len(t, checkout.Orders, 1)
	orderID := checkout.Orders[0].OrderID

	// not paid yet
	rec = app.do(t, http.MethodGet, "/api/orders/"+orderID+"/codes", buyerToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "GIFT-")

	body := peerPaid(checkout.PaymentID)
	rec = app.do(t, http.MethodPost, "/api/webhooks/peer", "", body, peerHeaders(body)...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"returnCode":"SUCCESS","returnMessage":null}`, rec.Body.String())

	rec = app.do(t, http.MethodGet, "/api/orders/"+orderID+"/codes", buyerToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "GIFT-0001")

	// replayed notification is acknowledged without a second delivery
	rec = app.do(t, http.MethodPost, "/api/webhooks/peer", "", body, peerHeaders(body)...)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = app.do(t, http.MethodGet, "/api/admin/products/sku-1/stock", adminToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"available":1`)
}

func TestPeerWebhookAcks(t *testing.T) {
	app := newTestApp(t, nil)

	body := peerPaid("unknown-payment")

	rec := app.do(t, http.MethodPost, "/api/webhooks/peer", "", body, peerHeaders(body)...)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"returnCode":"FAIL"`)

	headers := peerHeaders(body)
	headers[5] = "00" + headers[5]
	rec = app.do(t, http.MethodPost, "/api/webhooks/peer", "", body, headers...)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "verification_failed", errorCode(t, rec))
}

func TestCronRoutes(t *testing.T) {
	app := newTestApp(t, nil)

	rec := app.do(t, http.MethodPost, "/api/cron/deliver-delayed", cronSecret, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"processed":0,"failed":0}`, rec.Body.String())

	rec = app.do(t, http.MethodPost, "/api/cron/expire-payments", cronSecret, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"expired":0,"cancelled_orders":0}`, rec.Body.String())

	busy := newTestApp(t, busyLocker{})
	rec = busy.do(t, http.MethodPost, "/api/cron/deliver-delayed", cronSecret, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", errorCode(t, rec))
}

func TestAdminSettingsRoundTrip(t *testing.T) {
	app := newTestApp(t, nil)
	_, adminToken := app.token(t, model.RoleAdmin)

	rec := app.do(t, http.MethodPut, "/api/admin/settings", adminToken, fmt.Sprintf(
		`{"high_value_threshold":"150","manual_review_threshold":"800","delivery_delay_minutes":%d,"commission_rate":"0.12","qr_window_minutes":20,"deposit_window_minutes":90}`, 45))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = app.do(t, http.MethodGet, "/api/admin/settings", adminToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"delivery_delay_minutes":45`)
	assert.Contains(t, rec.Body.String(), `"qr_window_minutes":20`)

	rec = app.do(t, http.MethodPut, "/api/admin/settings", adminToken,
		`{"high_value_threshold":"150","manual_review_threshold":"800","delivery_delay_minutes":45,"commission_rate":"2","qr_window_minutes":20,"deposit_window_minutes":90}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
