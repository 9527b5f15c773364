package repository

import (
	"context"
	"time"

	"digital-goods-marketplace/internal/model"

	"gorm.io/gorm"
)

type WithdrawalRepository interface {
	Create(ctx context.Context, tx *gorm.DB, w *model.Withdrawal) error
	FindByID(ctx context.Context, tx *gorm.DB, withdrawalID string) (*model.Withdrawal, error)
	Close(ctx context.Context, tx *gorm.DB, withdrawalID string, status model.WithdrawalStatus, adminID string, now time.Time) (bool, error)
	ListBySeller(ctx context.Context, sellerID string) ([]*model.Withdrawal, error)
}

type withdrawalRepoImpl struct {
	db *gorm.DB
}

func NewWithdrawalRepository(db *gorm.DB) WithdrawalRepository {
	return &withdrawalRepoImpl{
		db: db,
	}
}

func (r *withdrawalRepoImpl) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

func (r *withdrawalRepoImpl) Create(ctx context.Context, tx *gorm.DB, w *model.Withdrawal) error {
	return r.conn(ctx, tx).Create(w).Error
}

func (r *withdrawalRepoImpl) FindByID(ctx context.Context, tx *gorm.DB, withdrawalID string) (*model.Withdrawal, error) {
	var w model.Withdrawal
	err := r.conn(ctx, tx).
		Where("id = ?", withdrawalID).
		First(&w).Error

	if err != nil {
		return nil, err
	}

	return &w, nil
}

func (r *withdrawalRepoImpl) Close(ctx context.Context, tx *gorm.DB, withdrawalID string, status model.WithdrawalStatus, adminID string, now time.Time) (bool, error) {
	result := r.conn(ctx, tx).Model(&model.Withdrawal{}).
		Where("id = ? AND status = ?", withdrawalID, model.WithdrawalStatusPending).
		Updates(map[string]interface{}{
			"status":       status,
			"processed_by": adminID,
			"processed_at": now,
			"updated_at":   now,
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *withdrawalRepoImpl) ListBySeller(ctx context.Context, sellerID string) ([]*model.Withdrawal, error) {
	var ws []*model.Withdrawal
	err := r.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order("created_at DESC").
		Find(&ws).Error

	if err != nil {
		return nil, err
	}

	return ws, nil
}
