package repository

import (
	"context"
	"time"

	"digital-goods-marketplace/internal/model"

	"gorm.io/gorm"
)

type RefundRepository interface {
	Create(ctx context.Context, tx *gorm.DB, req *model.RefundRequest) error
	FindByID(ctx context.Context, tx *gorm.DB, refundID string) (*model.RefundRequest, error)
	HasApproved(ctx context.Context, tx *gorm.DB, orderID string) (bool, error)
	// Close moves a PENDING request to status and frees the order for a new request.
	Close(ctx context.Context, tx *gorm.DB, refundID string, status model.RefundStatus, adminID string, now time.Time) (bool, error)
	ListPending(ctx context.Context, limit int) ([]*model.RefundRequest, error)
}

type refundRepoImpl struct {
	db *gorm.DB
}

func NewRefundRepository(db *gorm.DB) RefundRepository {
	return &refundRepoImpl{
		db: db,
	}
}

func (r *refundRepoImpl) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

func (r *refundRepoImpl) Create(ctx context.Context, tx *gorm.DB, req *model.RefundRequest) error {
	return r.conn(ctx, tx).Create(req).Error
}

func (r *refundRepoImpl) FindByID(ctx context.Context, tx *gorm.DB, refundID string) (*model.RefundRequest, error) {
	var req model.RefundRequest
	err := r.conn(ctx, tx).
		Where("id = ?", refundID).
		First(&req).Error

	if err != nil {
		return nil, err
	}

	return &req, nil
}

func (r *refundRepoImpl) HasApproved(ctx context.Context, tx *gorm.DB, orderID string) (bool, error) {
	var count int64
	err := r.conn(ctx, tx).Model(&model.RefundRequest{}).
		Where("order_id = ? AND status IN ?", orderID,
			[]model.RefundStatus{model.RefundStatusApproved, model.RefundStatusProcessed}).
		Count(&count).Error

	return count > 0, err
}

func (r *refundRepoImpl) Close(ctx context.Context, tx *gorm.DB, refundID string, status model.RefundStatus, adminID string, now time.Time) (bool, error) {
	result := r.conn(ctx, tx).Model(&model.RefundRequest{}).
		Where("id = ? AND status = ?", refundID, model.RefundStatusPending).
		Updates(map[string]interface{}{
			"status":          status,
			"active_order_id": nil,
			"processed_by":    adminID,
			"processed_at":    now,
			"updated_at":      now,
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *refundRepoImpl) ListPending(ctx context.Context, limit int) ([]*model.RefundRequest, error) {
	var reqs []*model.RefundRequest
	err := r.db.WithContext(ctx).
		Where("status = ?", model.RefundStatusPending).
		Order("created_at").
		Limit(limit).
		Find(&reqs).Error

	if err != nil {
		return nil, err
	}

	return reqs, nil
}
