package service

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"testing"
	"time"

	"digital-goods-marketplace/internal/client"
	"digital-goods-marketplace/internal/config"
	"digital-goods-marketplace/internal/dto"
	"digital-goods-marketplace/internal/model"
	"digital-goods-marketplace/internal/provider"
	"digital-goods-marketplace/internal/repository"
	"digital-goods-marketplace/internal/secret"
	"digital-goods-marketplace/internal/testutil"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeProvisioner struct {
	mu    sync.Mutex
	async bool
	calls []client.ProvisionRequest
}

func (f *fakeProvisioner) Provision(_ context.Context, req client.ProvisionRequest) (*client.ProvisionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)

	ref := "prov-" + req.IdempotencyKey
	if f.async {
		return &client.ProvisionResult{Reference: ref}, nil
	}
	codes := make([]string, 0, req.Quantity)
	for i := 0; i < req.Quantity; i++ {
		codes = append(codes, ref+"-"+string(rune('A'+i)))
	}
	return &client.ProvisionResult{Reference: ref, Codes: codes}, nil
}

type fakePublisher struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakePublisher) Publish(_ context.Context, routingKey string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, routingKey)
	return nil
}

type fakeDeposits struct {
	deposits []provider.Deposit
}

func (f *fakeDeposits) ListDeposits(context.Context, string, time.Time) ([]provider.Deposit, error) {
	return f.deposits, nil
}

type testEngine struct {
	db    *gorm.DB
	codec secret.Codec

	orders        repository.OrderRepository
	payments      repository.PaymentRepository
	products      repository.ProductRepository
	inventory     repository.InventoryRepository
	ledger        repository.LedgerRepository
	sellers       repository.SellerRepository
	refunds       repository.RefundRepository
	withdrawals   repository.WithdrawalRepository
	notifications repository.NotificationRepository
	users         repository.UserRepository
	wallets       repository.WalletRepository

	settings     SettingsService
	notifier     NotificationService
	wallet       WalletService
	fulfillment  FulfillmentService
	checkout     CheckoutService
	payment      PaymentService
	scheduler    SchedulerService
	refund       RefundService
	withdrawal   WithdrawalService
	inventorySvc InventoryService

	provisioner *fakeProvisioner
	publisher   *fakePublisher
	deposits    *fakeDeposits
}

const testCardSecret = "whsec_test"

func defaultTestSettings() Settings {
	return Settings{
		HighValueThreshold:    decimal.NewFromInt(100),
		ManualReviewThreshold: decimal.NewFromInt(500),
		DeliveryDelayMinutes:  30,
		CommissionRate:        decimal.RequireFromString("0.10"),
		QRWindow:              15 * time.Minute,
		DepositWindow:         time.Hour,
	}
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	db := testutil.NewTestDB(t)
	codec, err := secret.NewCodec(base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32))))
	require.NoError(t, err)

	e := &testEngine{
		db:            db,
		codec:         codec,
		orders:        repository.NewOrderRepository(db),
		payments:      repository.NewPaymentRepository(db),
		products:      repository.NewProductRepository(db),
		inventory:     repository.NewInventoryRepository(db),
		ledger:        repository.NewLedgerRepository(db),
		sellers:       repository.NewSellerRepository(db),
		refunds:       repository.NewRefundRepository(db),
		withdrawals:   repository.NewWithdrawalRepository(db),
		notifications: repository.NewNotificationRepository(db),
		users:         repository.NewUserRepository(db),
		wallets:       repository.NewWalletRepository(db),
		provisioner:   &fakeProvisioner{},
		publisher:     &fakePublisher{},
		deposits:      &fakeDeposits{},
	}

	e.settings = NewSettingsService(repository.NewSettingsRepository(db), defaultTestSettings())
	e.notifier = NewNotificationService(e.notifications, e.publisher)
	e.wallet = NewWalletService(db, e.wallets, "USD")
	e.fulfillment = NewFulfillmentService(db, e.orders, e.payments, e.products, e.inventory, e.ledger, e.sellers, codec, e.provisioner, e.notifier)

	registry := provider.NewRegistry()
	registry.Register(provider.NewCard(testCardSecret))
	registry.Register(provider.NewDirectDeposit(e.deposits))

	riskSvc := NewRiskService(e.users, e.orders, e.settings)
	e.checkout = NewCheckoutService(db, e.products, e.orders, e.payments, riskSvc, e.settings, e.wallet, e.fulfillment, e.notifier,
		config.Deposit{Coin: "USDT", Network: "TRX"})
	e.payment = NewPaymentService(db, registry, e.payments, e.orders, repository.NewWebhookEventRepository(db), e.fulfillment)
	e.scheduler = NewSchedulerService(db, e.orders, e.payments, e.fulfillment)
	e.refund = NewRefundService(db, e.orders, e.refunds, e.inventory, e.wallet, e.notifier)
	e.withdrawal = NewWithdrawalService(db, e.sellers, e.withdrawals, e.notifier)
	e.inventorySvc = NewInventoryService(e.products, e.orders, e.inventory, codec)
	return e
}

// buyer seeds a buyer whose account is old enough to carry no risk.
func (e *testEngine) buyer(t *testing.T) string {
	t.Helper()
	id := "buyer-" + uuid.NewString()[:8]
	require.NoError(t, e.users.Create(context.Background(), &model.User{
		ID:        id,
		Email:     id + "@example.com",
		Role:      model.RoleBuyer,
		CreatedAt: time.Now().UTC().AddDate(-1, 0, 0),
	}))
	return id
}

func (e *testEngine) product(t *testing.T, sellerID string, typ model.ProductType, price string) *model.Product {
	t.Helper()
	p := &model.Product{
		ID:           "sku-" + uuid.NewString()[:8],
		SellerID:     sellerID,
		Name:         "Test product",
		Type:         typ,
		Source:       model.SourceStock,
		Price:        decimal.RequireFromString(price),
		Currency:     "USD",
		DurationDays: 30,
	}
	require.NoError(t, e.products.Create(context.Background(), p))
	return p
}

func (e *testEngine) stock(t *testing.T, productID string, n int) {
	t.Helper()
	codes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		codes = append(codes, productID+"-CODE-"+uuid.NewString()[:6])
	}
	_, err := e.inventorySvc.AddCodes(context.Background(), productID, codes)
	require.NoError(t, err)
}

// paidOrder places a card checkout and confirms its payment without fulfilling.
func (e *testEngine) paidOrder(t *testing.T, buyerID string, items ...*model.Product) *model.Order {
	t.Helper()
	ctx := context.Background()

	resp, err := e.checkout.CreateOrder(ctx, buyerID, cartOf(items...), model.MethodCard)
	require.NoError(t, err)
	require.Len(t, resp.Orders, 1)

	ok, err := e.payments.MarkConfirmed(ctx, nil, resp.PaymentID, "ch_test", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)

	order, err := e.orders.FindByID(ctx, nil, resp.Orders[0].OrderID)
	require.NoError(t, err)
	return order
}

func (e *testEngine) reloadOrder(t *testing.T, id string) *model.Order {
	t.Helper()
	order, err := e.orders.FindByID(context.Background(), nil, id)
	require.NoError(t, err)
	return order
}

func (e *testEngine) count(t *testing.T, m interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(m).Where(query, args...).Count(&n).Error)
	return n
}

func cartOf(products ...*model.Product) []*dto.Item {
	qty := make(map[string]int)
	var order []string
	for _, p := range products {
		if qty[p.ID] == 0 {
			order = append(order, p.ID)
		}
		qty[p.ID]++
	}
	items := make([]*dto.Item, 0, len(order))
	for _, id := range order {
		items = append(items, &dto.Item{ProductID: id, Quantity: qty[id]})
	}
	return items
}
