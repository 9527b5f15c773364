package repository

import (
	"context"
	"time"

	"digital-goods-marketplace/internal/model"

	"gorm.io/gorm"
)

type PaymentRepository interface {
	Create(ctx context.Context, tx *gorm.DB, payment *model.Payment) error
	FindByID(ctx context.Context, tx *gorm.DB, paymentID string) (*model.Payment, error)
	FindByExternalID(ctx context.Context, tx *gorm.DB, provider, externalID string) (*model.Payment, error)
	// MarkConfirmed succeeds only for a PENDING payment whose window is still open at now.
	MarkConfirmed(ctx context.Context, tx *gorm.DB, paymentID, externalRef string, now time.Time) (bool, error)
	MarkExpired(ctx context.Context, tx *gorm.DB, paymentID string, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, tx *gorm.DB, paymentID string, now time.Time) (bool, error)
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]*model.Payment, error)
}

type paymentRepoImpl struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepoImpl{
		db: db,
	}
}

func (r *paymentRepoImpl) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

func (r *paymentRepoImpl) Create(ctx context.Context, tx *gorm.DB, payment *model.Payment) error {
	return r.conn(ctx, tx).Create(payment).Error
}

func (r *paymentRepoImpl) FindByID(ctx context.Context, tx *gorm.DB, paymentID string) (*model.Payment, error) {
	var payment model.Payment
	err := r.conn(ctx, tx).
		Where("id = ?", paymentID).
		First(&payment).Error

	if err != nil {
		return nil, err
	}

	return &payment, nil
}

func (r *paymentRepoImpl) FindByExternalID(ctx context.Context, tx *gorm.DB, provider, externalID string) (*model.Payment, error) {
	var payment model.Payment
	err := r.conn(ctx, tx).
		Where("provider = ? AND external_payment_id = ?", provider, externalID).
		First(&payment).Error

	if err != nil {
		return nil, err
	}

	return &payment, nil
}

func (r *paymentRepoImpl) MarkConfirmed(ctx context.Context, tx *gorm.DB, paymentID, externalRef string, now time.Time) (bool, error) {
	result := r.conn(ctx, tx).Model(&model.Payment{}).
		Where(`
			id = ?
			AND status = ?
			AND (expires_at IS NULL OR expires_at > ?)
		`,
			paymentID,
			model.PaymentStatusPending,
			now,
		).
		Updates(map[string]interface{}{
			"status":             model.PaymentStatusCompleted,
			"external_reference": externalRef,
			"confirmed_at":       now,
			"updated_at":         now,
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *paymentRepoImpl) MarkExpired(ctx context.Context, tx *gorm.DB, paymentID string, now time.Time) (bool, error) {
	result := r.conn(ctx, tx).Model(&model.Payment{}).
		Where("id = ? AND status = ?", paymentID, model.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":     model.PaymentStatusExpired,
			"updated_at": now,
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *paymentRepoImpl) MarkFailed(ctx context.Context, tx *gorm.DB, paymentID string, now time.Time) (bool, error) {
	result := r.conn(ctx, tx).Model(&model.Payment{}).
		Where("id = ? AND status = ?", paymentID, model.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":     model.PaymentStatusFailed,
			"updated_at": now,
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *paymentRepoImpl) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]*model.Payment, error) {
	var payments []*model.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", model.PaymentStatusPending, now).
		Order("expires_at").
		Limit(limit).
		Find(&payments).Error

	if err != nil {
		return nil, err
	}

	return payments, nil
}
