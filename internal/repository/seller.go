package repository

import (
	"context"
	"time"

	"digital-goods-marketplace/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SellerRepository interface {
	FindByID(ctx context.Context, tx *gorm.DB, sellerID string) (*model.Seller, error)
	// AddEarnings credits available balance and lifetime earnings, creating the row on first sale.
	AddEarnings(ctx context.Context, tx *gorm.DB, sellerID string, amount decimal.Decimal) error
	// DebitAvailable moves amount out of available balance only if it is covered.
	DebitAvailable(ctx context.Context, tx *gorm.DB, sellerID string, amount decimal.Decimal) (bool, error)
	CreditAvailable(ctx context.Context, tx *gorm.DB, sellerID string, amount decimal.Decimal) error
}

type sellerRepoImpl struct {
	db *gorm.DB
}

func NewSellerRepository(db *gorm.DB) SellerRepository {
	return &sellerRepoImpl{
		db: db,
	}
}

func (r *sellerRepoImpl) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

func (r *sellerRepoImpl) FindByID(ctx context.Context, tx *gorm.DB, sellerID string) (*model.Seller, error) {
	var seller model.Seller
	err := r.conn(ctx, tx).
		Where("id = ?", sellerID).
		First(&seller).Error

	if err != nil {
		return nil, err
	}

	return &seller, nil
}

func (r *sellerRepoImpl) AddEarnings(ctx context.Context, tx *gorm.DB, sellerID string, amount decimal.Decimal) error {
	seller := &model.Seller{
		ID:               sellerID,
		AvailableBalance: amount,
		PendingBalance:   decimal.Zero,
		TotalEarnings:    amount,
	}

	return r.conn(ctx, tx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"available_balance": gorm.Expr("sellers.available_balance + ?", amount),
			"total_earnings":    gorm.Expr("sellers.total_earnings + ?", amount),
			"updated_at":        time.Now().UTC(),
		}),
	}).Create(seller).Error
}

func (r *sellerRepoImpl) DebitAvailable(ctx context.Context, tx *gorm.DB, sellerID string, amount decimal.Decimal) (bool, error) {
	result := r.conn(ctx, tx).Model(&model.Seller{}).
		Where("id = ? AND available_balance >= ?", sellerID, amount).
		Updates(map[string]interface{}{
			"available_balance": gorm.Expr("available_balance - ?", amount),
			"updated_at":        time.Now().UTC(),
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *sellerRepoImpl) CreditAvailable(ctx context.Context, tx *gorm.DB, sellerID string, amount decimal.Decimal) error {
	return r.conn(ctx, tx).Model(&model.Seller{}).
		Where("id = ?", sellerID).
		Updates(map[string]interface{}{
			"available_balance": gorm.Expr("available_balance + ?", amount),
			"updated_at":        time.Now().UTC(),
		}).Error
}
