package service

import (
	"context"
	"testing"
	"time"

	"digital-goods-marketplace/internal/apperror"
	"digital-goods-marketplace/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// streamingOrder delivers one profile of a 30 day $20 plan and backdates it by usedDays.
func (e *testEngine) streamingOrder(t *testing.T, buyer string, usedDays int) *model.Order {
	t.Helper()
	ctx := context.Background()

	stream := e.product(t, "seller-1", model.ProductTypeStreaming, "20.00")
	_, err := e.inventorySvc.AddStreamingAccount(ctx, stream.ID, "family@stream.tv:pw", 4)
	require.NoError(t, err)

	order := e.paidOrder(t, buyer, stream)
	res, err := e.fulfillment.FulfillOrder(ctx, FulfillRequest{OrderID: order.ID, Trigger: TriggerWebhook})
	require.NoError(t, err)
	require.True(t, res.Fulfilled)

	starts := time.Now().UTC().AddDate(0, 0, -usedDays).Add(-time.Hour)
	require.NoError(t, e.db.Model(&model.StreamingProfile{}).
		Where("order_item_id = ?", order.Items[0].ID).
		Updates(map[string]interface{}{"starts_at": starts, "expires_at": starts.AddDate(0, 0, 30)}).Error)
	return order
}

func TestRefund_ProratedStreamingRefund(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	buyer := e.buyer(t)
	order := e.streamingOrder(t, buyer, 10)

	req, err := e.refund.RequestRefund(ctx, buyer, order.ID, "  stopped working  ")
	require.NoError(t, err)
	assert.True(t, dec("13.33").Equal(req.Amount), req.Amount.String())
	assert.Equal(t, "stopped working", req.Reason)

	_, err = e.refund.RequestRefund(ctx, buyer, order.ID, "again")
	assert.ErrorIs(t, err, apperror.ErrRefundInProgress)

	approved, err := e.refund.ApproveRefund(ctx, "admin-1", req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RefundStatusProcessed, approved.Status)

	stored := e.reloadOrder(t, order.ID)
	assert.Equal(t, model.OrderStatusRefunded, stored.Status)
	assert.Equal(t, model.PaymentStatusRefunded, stored.PaymentStatus)

	wallet, err := e.wallet.Balance(ctx, buyer)
	require.NoError(t, err)
	assert.True(t, dec("13.33").Equal(wallet.Balance), wallet.Balance.String())

	assert.EqualValues(t, 1, e.count(t, &model.StreamingProfile{}, "order_item_id = ? AND status = ?", order.Items[0].ID, model.ProfileStatusExpired))
	assert.EqualValues(t, 1, e.count(t, &model.StreamingAccount{}, "product_id = ? AND used_profiles = 0", order.Items[0].ProductID))

	_, err = e.refund.ApproveRefund(ctx, "admin-1", req.ID)
	assert.ErrorIs(t, err, apperror.ErrAlreadyRefunded)

	_, err = e.refund.RequestRefund(ctx, buyer, order.ID, "one more")
	assert.ErrorIs(t, err, apperror.ErrAlreadyRefunded)

	// only the first approval credited the wallet
	wallet, err = e.wallet.Balance(ctx, buyer)
	require.NoError(t, err)
	assert.True(t, dec("13.33").Equal(wallet.Balance))
}

func TestRefund_RejectAllowsNewRequest(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	buyer := e.buyer(t)
	order := e.streamingOrder(t, buyer, 0)

	req, err := e.refund.RequestRefund(ctx, buyer, order.ID, "changed my mind")
	require.NoError(t, err)
	assert.True(t, dec("20").Equal(req.Amount), req.Amount.String())

	rejected, err := e.refund.RejectRefund(ctx, "admin-1", req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RefundStatusRejected, rejected.Status)

	_, err = e.refund.RejectRefund(ctx, "admin-1", req.ID)
	assert.Equal(t, apperror.CodeConflict, apperror.CodeOf(err))

	_, err = e.refund.RequestRefund(ctx, buyer, order.ID, "please")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, e.reloadOrder(t, order.ID).Status)
}

func TestRefund_Preconditions(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	buyer := e.buyer(t)

	gift := e.product(t, "seller-1", model.ProductTypeGiftCard, "10.00")
	e.stock(t, gift.ID, 1)
	order := e.paidOrder(t, buyer, gift)

	_, err := e.refund.RequestRefund(ctx, buyer, order.ID, "not delivered yet")
	assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))

	_, err = e.fulfillment.FulfillOrder(ctx, FulfillRequest{OrderID: order.ID, Trigger: TriggerWebhook})
	require.NoError(t, err)

	_, err = e.refund.RequestRefund(ctx, "someone-else", order.ID, "")
	assert.Equal(t, apperror.CodeNotFound, apperror.CodeOf(err))

	// delivered codes have nothing left to refund
	_, err = e.refund.RequestRefund(ctx, buyer, order.ID, "")
	assert.ErrorIs(t, err, apperror.ErrNotRefundable)
}

func TestRefund_FreedSlotGoesToNextBuyerOnly(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	stream := e.product(t, "seller-1", model.ProductTypeStreaming, "8.00")
	_, err := e.inventorySvc.AddStreamingAccount(ctx, stream.ID, "duo@stream.tv:pw", 2)
	require.NoError(t, err)

	deliver := func(buyer string) *model.Order {
		order := e.paidOrder(t, buyer, stream)
		res, err := e.fulfillment.FulfillOrder(ctx, FulfillRequest{OrderID: order.ID, Trigger: TriggerWebhook})
		require.NoError(t, err)
		require.True(t, res.Fulfilled)
		return order
	}

	buyerA, buyerB, buyerC := e.buyer(t), e.buyer(t), e.buyer(t)
	orderA := deliver(buyerA)
	deliver(buyerB)

	req, err := e.refund.RequestRefund(ctx, buyerA, orderA.ID, "")
	require.NoError(t, err)
	_, err = e.refund.ApproveRefund(ctx, "admin-1", req.ID)
	require.NoError(t, err)

	deliver(buyerC)

	var active []*model.StreamingProfile
	require.NoError(t, e.db.Where("status = ?", model.ProfileStatusActive).Order("slot_number").Find(&active).Error)
	require.Len(t, active, 2)
	assert.Equal(t, buyerC, active[0].BuyerID, "the refunded slot is handed out again")
	assert.Equal(t, 1, active[0].SlotNumber)
	assert.Equal(t, buyerB, active[1].BuyerID)
	assert.Equal(t, 2, active[1].SlotNumber)
	for _, p := range active {
		require.NotNil(t, p.ActiveSlot)
		assert.Equal(t, p.SlotNumber, *p.ActiveSlot)
	}

	var retired model.StreamingProfile
	require.NoError(t, e.db.Where("buyer_id = ?", buyerA).First(&retired).Error)
	assert.Equal(t, model.ProfileStatusExpired, retired.Status)
	assert.Nil(t, retired.ActiveSlot)

	_, err = e.fulfillment.FulfillOrder(ctx, FulfillRequest{OrderID: e.paidOrder(t, buyerA, stream).ID, Trigger: TriggerWebhook})
	assert.ErrorIs(t, err, apperror.ErrOutOfStock)
}
