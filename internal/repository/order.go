package repository

import (
	"context"
	"time"

	"digital-goods-marketplace/internal/model"

	"gorm.io/gorm"
)

type OrderRepository interface {
	Create(ctx context.Context, tx *gorm.DB, order *model.Order) error
	FindByID(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error)
	FindByPaymentID(ctx context.Context, tx *gorm.DB, paymentID string) ([]*model.Order, error)
	// ClaimFulfillment flips payment_status to COMPLETED only if it was not
	// already; false means another trigger got there first.
	ClaimFulfillment(ctx context.Context, tx *gorm.DB, orderID, fulfilledBy, ref string, now time.Time) (bool, error)
	MarkProcessing(ctx context.Context, tx *gorm.DB, orderID string) (bool, error)
	ReleaseReview(ctx context.Context, tx *gorm.DB, orderID string) (bool, error)
	MarkRefunded(ctx context.Context, tx *gorm.DB, orderID string) (bool, error)
	CancelUnpaidByPayment(ctx context.Context, tx *gorm.DB, paymentID string) (int64, error)
	FindDueDelayedIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
	CountCompletedByBuyer(ctx context.Context, buyerID string) (int64, error)
	CountRecentByBuyer(ctx context.Context, buyerID string, since time.Time) (int64, error)

	MarkItemDelivered(ctx context.Context, tx *gorm.DB, itemID string, now time.Time) (bool, error)
	SetProvisionRef(ctx context.Context, tx *gorm.DB, itemID, ref string) error
	FindItemByProvisionRef(ctx context.Context, tx *gorm.DB, ref string) (*model.OrderItem, error)
	GetOrderItems(ctx context.Context, tx *gorm.DB, orderID string) ([]*model.OrderItem, error)
}

type orderRepoImpl struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepoImpl{
		db: db,
	}
}

func (r *orderRepoImpl) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

// Create inserts the order together with its items.
func (r *orderRepoImpl) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	return r.conn(ctx, tx).Create(order).Error
}

func (r *orderRepoImpl) FindByID(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error) {
	var order model.Order
	err := r.conn(ctx, tx).
		Preload("Items").
		Where("id = ?", orderID).
		First(&order).Error

	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) FindByPaymentID(ctx context.Context, tx *gorm.DB, paymentID string) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.conn(ctx, tx).
		Where("payment_id = ?", paymentID).
		Order("created_at").
		Find(&orders).Error

	if err != nil {
		return nil, err
	}

	return orders, nil
}

func (r *orderRepoImpl) ClaimFulfillment(ctx context.Context, tx *gorm.DB, orderID, fulfilledBy, ref string, now time.Time) (bool, error) {
	result := r.conn(ctx, tx).Model(&model.Order{}).
		Where(`
			id = ?
			AND payment_status <> ?
			AND status NOT IN ?
		`,
			orderID,
			model.PaymentStatusCompleted,
			[]model.OrderStatus{model.OrderStatusCancelled, model.OrderStatusRefunded},
		).
		Updates(map[string]interface{}{
			"payment_status":  model.PaymentStatusCompleted,
			"status":          model.OrderStatusCompleted,
			"completed_at":    now,
			"fulfilled_by":    fulfilledBy,
			"fulfillment_ref": ref,
			"updated_at":      now,
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *orderRepoImpl) MarkProcessing(ctx context.Context, tx *gorm.DB, orderID string) (bool, error) {
	result := r.conn(ctx, tx).Model(&model.Order{}).
		Where("id = ? AND status = ?", orderID, model.OrderStatusPending).
		Updates(map[string]interface{}{
			"status":     model.OrderStatusProcessing,
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *orderRepoImpl) ReleaseReview(ctx context.Context, tx *gorm.DB, orderID string) (bool, error) {
	result := r.conn(ctx, tx).Model(&model.Order{}).
		Where("id = ? AND status = ?", orderID, model.OrderStatusUnderReview).
		Updates(map[string]interface{}{
			"status":                 model.OrderStatusProcessing,
			"requires_manual_review": false,
			"updated_at":             time.Now(),
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *orderRepoImpl) MarkRefunded(ctx context.Context, tx *gorm.DB, orderID string) (bool, error) {
	result := r.conn(ctx, tx).Model(&model.Order{}).
		Where("id = ? AND status = ? AND payment_status = ?",
			orderID, model.OrderStatusCompleted, model.PaymentStatusCompleted).
		Updates(map[string]interface{}{
			"status":         model.OrderStatusRefunded,
			"payment_status": model.PaymentStatusRefunded,
			"updated_at":     time.Now(),
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *orderRepoImpl) CancelUnpaidByPayment(ctx context.Context, tx *gorm.DB, paymentID string) (int64, error) {
	result := r.conn(ctx, tx).Model(&model.Order{}).
		Where(`
			payment_id = ?
			AND payment_status = ?
			AND status IN ?
		`,
			paymentID,
			model.PaymentStatusPending,
			[]model.OrderStatus{model.OrderStatusPending, model.OrderStatusProcessing, model.OrderStatusUnderReview},
		).
		Updates(map[string]interface{}{
			"status":         model.OrderStatusCancelled,
			"payment_status": model.PaymentStatusFailed,
			"updated_at":     time.Now(),
		})

	return result.RowsAffected, result.Error
}

func (r *orderRepoImpl) FindDueDelayedIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("status = ? AND delivery_scheduled_at IS NOT NULL AND delivery_scheduled_at <= ?",
			model.OrderStatusProcessing, now).
		Order("delivery_scheduled_at").
		Limit(limit).
		Pluck("id", &ids).Error

	return ids, err
}

func (r *orderRepoImpl) CountCompletedByBuyer(ctx context.Context, buyerID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("buyer_id = ? AND status = ?", buyerID, model.OrderStatusCompleted).
		Count(&count).Error

	return count, err
}

func (r *orderRepoImpl) CountRecentByBuyer(ctx context.Context, buyerID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("buyer_id = ? AND created_at >= ? AND status IN ?",
			buyerID,
			since,
			[]model.OrderStatus{model.OrderStatusPending, model.OrderStatusProcessing, model.OrderStatusCompleted},
		).
		Count(&count).Error

	return count, err
}

func (r *orderRepoImpl) MarkItemDelivered(ctx context.Context, tx *gorm.DB, itemID string, now time.Time) (bool, error) {
	result := r.conn(ctx, tx).Model(&model.OrderItem{}).
		Where("id = ? AND is_delivered = ?", itemID, false).
		Updates(map[string]interface{}{
			"is_delivered": true,
			"delivered_at": now,
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *orderRepoImpl) SetProvisionRef(ctx context.Context, tx *gorm.DB, itemID, ref string) error {
	return r.conn(ctx, tx).Model(&model.OrderItem{}).
		Where("id = ?", itemID).
		Update("provision_ref", ref).Error
}

func (r *orderRepoImpl) FindItemByProvisionRef(ctx context.Context, tx *gorm.DB, ref string) (*model.OrderItem, error) {
	var item model.OrderItem
	err := r.conn(ctx, tx).
		Where("provision_ref = ?", ref).
		First(&item).Error

	if err != nil {
		return nil, err
	}

	return &item, nil
}

func (r *orderRepoImpl) GetOrderItems(ctx context.Context, tx *gorm.DB, orderID string) ([]*model.OrderItem, error) {
	var items []*model.OrderItem
	err := r.conn(ctx, tx).Where("order_id = ?", orderID).
		Order("created_at, id").
		Find(&items).Error

	if err != nil {
		return nil, err
	}

	return items, nil
}
