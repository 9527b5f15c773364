package repository

import (
	"context"

	"digital-goods-marketplace/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LedgerRepository interface {
	// Record inserts the entry unless one already exists for its (order, type) pair.
	Record(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) (bool, error)
	ListByOrder(ctx context.Context, orderID string) ([]*model.LedgerEntry, error)
}

type ledgerRepoImpl struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepoImpl{
		db: db,
	}
}

func (r *ledgerRepoImpl) Record(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) (bool, error) {
	db := r.db
	if tx != nil {
		db = tx
	}

	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *ledgerRepoImpl) ListByOrder(ctx context.Context, orderID string) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("type").
		Find(&entries).Error

	if err != nil {
		return nil, err
	}

	return entries, nil
}
