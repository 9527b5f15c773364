package service

import (
	"context"
	"testing"
	"time"

	"digital-goods-marketplace/internal/apperror"
	"digital-goods-marketplace/internal/dto"
	"digital-goods-marketplace/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrder_SplitsBySeller(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	a := e.product(t, "seller-a", model.ProductTypeGiftCard, "10.00")
	b := e.product(t, "seller-b", model.ProductTypeGiftCard, "5.50")

	resp, err := e.checkout.CreateOrder(ctx, e.buyer(t), cartOf(a, a, b), model.MethodCard)
	require.NoError(t, err)
	require.Len(t, resp.Orders, 2)
	assert.Equal(t, "25.50", resp.Amount.StringFixed(2))
	assert.Equal(t, string(model.PaymentStatusPending), resp.PaymentStatus)
	assert.Nil(t, resp.ExpiresAt)

	bySeller := map[string]*dto.CheckoutOrder{}
	for _, o := range resp.Orders {
		bySeller[o.SellerID] = o
	}
	assert.Equal(t, "20.00", bySeller["seller-a"].TotalAmount.StringFixed(2))
	assert.Equal(t, "5.50", bySeller["seller-b"].TotalAmount.StringFixed(2))

	order := e.reloadOrder(t, bySeller["seller-a"].OrderID)
	assert.Equal(t, resp.PaymentID, order.PaymentID)
	assert.Equal(t, "2.00", order.CommissionAmount.StringFixed(2))
	assert.Equal(t, "18.00", order.SellerEarnings.StringFixed(2))
	require.Len(t, order.Items, 1)
	assert.Equal(t, 2, order.Items[0].Quantity)

	assert.EqualValues(t, 1, e.count(t, &model.Payment{}, "id = ?", resp.PaymentID))
}

func TestCreateOrder_Validation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	buyer := e.buyer(t)
	gift := e.product(t, "seller-1", model.ProductTypeGiftCard, "10.00")

	tests := []struct {
		name   string
		items  []*dto.Item
		method model.PaymentMethod
		code   apperror.Code
	}{
		{name: "empty cart", items: nil, method: model.MethodCard, code: apperror.CodeValidation},
		{name: "unknown method", items: cartOf(gift), method: "barter", code: apperror.CodeValidation},
		{name: "zero quantity", items: []*dto.Item{{ProductID: gift.ID}}, method: model.MethodCard, code: apperror.CodeValidation},
		{name: "unknown product", items: []*dto.Item{{ProductID: "nope", Quantity: 1}}, method: model.MethodCard, code: apperror.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.checkout.CreateOrder(ctx, buyer, tt.items, tt.method)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperror.CodeOf(err))
		})
	}
	assert.EqualValues(t, 0, e.count(t, &model.Order{}, "buyer_id = ?", buyer))
}

func TestCreateOrder_RiskGates(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	small := e.product(t, "seller-1", model.ProductTypeGiftCard, "10.00")
	mid := e.product(t, "seller-1", model.ProductTypeGiftCard, "150.00")
	big := e.product(t, "seller-1", model.ProductTypeGiftCard, "600.00")

	fresh := "fresh-buyer"
	require.NoError(t, e.users.Create(ctx, &model.User{ID: fresh, Email: "fresh@example.com", Role: model.RoleBuyer, CreatedAt: time.Now().UTC()}))

	tests := []struct {
		name     string
		buyer    string
		product  *model.Product
		score    int
		review   bool
		deferred bool
	}{
		{name: "small first order", buyer: e.buyer(t), product: small, score: 10},
		{name: "high value delays", buyer: e.buyer(t), product: mid, score: 40, deferred: true},
		{name: "above review threshold", buyer: e.buyer(t), product: big, score: 60, review: true},
		{name: "new account high value", buyer: fresh, product: mid, score: 60, review: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := e.checkout.CreateOrder(ctx, tt.buyer, cartOf(tt.product), model.MethodCard)
			require.NoError(t, err)
			o := resp.Orders[0]
			assert.Equal(t, tt.score, o.RiskScore)
			assert.Equal(t, tt.review, o.RequiresManualReview)
			assert.Equal(t, tt.deferred, o.DeliveryScheduledAt != nil)
			if tt.review {
				assert.Equal(t, string(model.OrderStatusUnderReview), o.Status)
				assert.EqualValues(t, 1, e.count(t, &model.Notification{}, "user_id = ? AND type = ?", tt.buyer, model.NotifyOrderHeld))
			}
		})
	}
}

func TestCreateOrder_QRWindow(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	gift := e.product(t, "seller-1", model.ProductTypeGiftCard, "10.00")

	before := time.Now().UTC()
	resp, err := e.checkout.CreateOrder(ctx, e.buyer(t), cartOf(gift), model.MethodQR)
	require.NoError(t, err)
	require.NotNil(t, resp.ExpiresAt)
	assert.WithinDuration(t, before.Add(15*time.Minute), *resp.ExpiresAt, 5*time.Second)
	require.NotNil(t, resp.Instructions)
	assert.Equal(t, resp.PaymentID, resp.Instructions.QROrderID)
}
