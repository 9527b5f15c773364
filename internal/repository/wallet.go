package repository

import (
	"context"

	"digital-goods-marketplace/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WalletRepository interface {
	// Ensure creates an empty wallet for the user unless one exists.
	Ensure(ctx context.Context, tx *gorm.DB, userID, currency string) error
	Get(ctx context.Context, tx *gorm.DB, userID string) (*model.Wallet, error)
	// CompareAndSwap writes the new balance only if the row still carries version.
	CompareAndSwap(ctx context.Context, tx *gorm.DB, userID string, version int64, balance decimal.Decimal) (bool, error)
	AppendTransaction(ctx context.Context, tx *gorm.DB, entry *model.WalletTransaction) error
	ListTransactions(ctx context.Context, userID string, limit int) ([]*model.WalletTransaction, error)
}

type walletRepoImpl struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &walletRepoImpl{
		db: db,
	}
}

func (r *walletRepoImpl) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

func (r *walletRepoImpl) Ensure(ctx context.Context, tx *gorm.DB, userID, currency string) error {
	return r.conn(ctx, tx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.Wallet{
			UserID:   userID,
			Balance:  decimal.Zero,
			Currency: currency,
		}).Error
}

func (r *walletRepoImpl) Get(ctx context.Context, tx *gorm.DB, userID string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.conn(ctx, tx).
		Where("user_id = ?", userID).
		First(&wallet).Error

	if err != nil {
		return nil, err
	}

	return &wallet, nil
}

func (r *walletRepoImpl) CompareAndSwap(ctx context.Context, tx *gorm.DB, userID string, version int64, balance decimal.Decimal) (bool, error) {
	result := r.conn(ctx, tx).Model(&model.Wallet{}).
		Where("user_id = ? AND version = ?", userID, version).
		Updates(map[string]interface{}{
			"balance": balance,
			"version": gorm.Expr("version + ?", 1),
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *walletRepoImpl) AppendTransaction(ctx context.Context, tx *gorm.DB, entry *model.WalletTransaction) error {
	return r.conn(ctx, tx).Create(entry).Error
}

func (r *walletRepoImpl) ListTransactions(ctx context.Context, userID string, limit int) ([]*model.WalletTransaction, error) {
	var entries []*model.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error

	if err != nil {
		return nil, err
	}

	return entries, nil
}
