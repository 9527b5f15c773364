package repository

import (
	"context"
	"fmt"
	"time"

	"digital-goods-marketplace/internal/model"

	"gorm.io/gorm"
)

type InventoryRepository interface {
	CreateCodes(ctx context.Context, tx *gorm.DB, codes []*model.GiftCardCode) error
	AvailableCodeIDs(ctx context.Context, tx *gorm.DB, productID string, limit int) ([]string, error)
	// ClaimCode flips one code AVAILABLE -> SOLD; false if someone else sold it first.
	ClaimCode(ctx context.Context, tx *gorm.DB, codeID, itemID, buyerID string, now time.Time) (bool, error)
	CountAvailable(ctx context.Context, productID string) (int64, error)
	CodesForItems(ctx context.Context, tx *gorm.DB, itemIDs []string) ([]*model.GiftCardCode, error)
	ExpireCodesForItems(ctx context.Context, tx *gorm.DB, itemIDs []string) error

	CreateAccount(ctx context.Context, tx *gorm.DB, account *model.StreamingAccount) error
	OpenAccountIDs(ctx context.Context, tx *gorm.DB, productID string, limit int) ([]string, error)
	// ClaimSlot takes one profile slot on the account if it still has room and
	// returns the lowest slot number no active profile holds.
	ClaimSlot(ctx context.Context, tx *gorm.DB, accountID string) (int, bool, error)
	ReleaseSlot(ctx context.Context, tx *gorm.DB, accountID string) error
	CreateProfile(ctx context.Context, tx *gorm.DB, profile *model.StreamingProfile) error
	ProfilesForItems(ctx context.Context, tx *gorm.DB, itemIDs []string) ([]*model.StreamingProfile, error)
	ExpireProfile(ctx context.Context, tx *gorm.DB, profileID string) (bool, error)
	AccountsByIDs(ctx context.Context, accountIDs []string) ([]*model.StreamingAccount, error)
}

type inventoryRepoImpl struct {
	db *gorm.DB
}

func NewInventoryRepository(db *gorm.DB) InventoryRepository {
	return &inventoryRepoImpl{
		db: db,
	}
}

func (r *inventoryRepoImpl) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

func (r *inventoryRepoImpl) CreateCodes(ctx context.Context, tx *gorm.DB, codes []*model.GiftCardCode) error {
	return r.conn(ctx, tx).Create(&codes).Error
}

func (r *inventoryRepoImpl) AvailableCodeIDs(ctx context.Context, tx *gorm.DB, productID string, limit int) ([]string, error) {
	var ids []string
	err := r.conn(ctx, tx).Model(&model.GiftCardCode{}).
		Where("product_id = ? AND status = ?", productID, model.CodeStatusAvailable).
		Order("created_at, id").
		Limit(limit).
		Pluck("id", &ids).Error

	return ids, err
}

func (r *inventoryRepoImpl) ClaimCode(ctx context.Context, tx *gorm.DB, codeID, itemID, buyerID string, now time.Time) (bool, error) {
	result := r.conn(ctx, tx).Model(&model.GiftCardCode{}).
		Where("id = ? AND status = ?", codeID, model.CodeStatusAvailable).
		Updates(map[string]interface{}{
			"status":        model.CodeStatusSold,
			"order_item_id": itemID,
			"buyer_id":      buyerID,
			"sold_at":       now,
			"updated_at":    now,
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *inventoryRepoImpl) CountAvailable(ctx context.Context, productID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.GiftCardCode{}).
		Where("product_id = ? AND status = ?", productID, model.CodeStatusAvailable).
		Count(&count).Error

	return count, err
}

func (r *inventoryRepoImpl) CodesForItems(ctx context.Context, tx *gorm.DB, itemIDs []string) ([]*model.GiftCardCode, error) {
	var codes []*model.GiftCardCode
	err := r.conn(ctx, tx).
		Where("order_item_id IN ?", itemIDs).
		Order("order_item_id, sold_at, id").
		Find(&codes).Error

	if err != nil {
		return nil, err
	}

	return codes, nil
}

func (r *inventoryRepoImpl) ExpireCodesForItems(ctx context.Context, tx *gorm.DB, itemIDs []string) error {
	return r.conn(ctx, tx).Model(&model.GiftCardCode{}).
		Where("order_item_id IN ? AND status = ?", itemIDs, model.CodeStatusSold).
		Updates(map[string]interface{}{
			"status":     model.CodeStatusExpired,
			"updated_at": time.Now(),
		}).Error
}

func (r *inventoryRepoImpl) CreateAccount(ctx context.Context, tx *gorm.DB, account *model.StreamingAccount) error {
	return r.conn(ctx, tx).Create(account).Error
}

func (r *inventoryRepoImpl) OpenAccountIDs(ctx context.Context, tx *gorm.DB, productID string, limit int) ([]string, error) {
	var ids []string
	err := r.conn(ctx, tx).Model(&model.StreamingAccount{}).
		Where("product_id = ? AND used_profiles < max_profiles", productID).
		Order("used_profiles DESC, id").
		Limit(limit).
		Pluck("id", &ids).Error

	return ids, err
}

func (r *inventoryRepoImpl) ClaimSlot(ctx context.Context, tx *gorm.DB, accountID string) (int, bool, error) {
	db := r.conn(ctx, tx)
	result := db.Model(&model.StreamingAccount{}).
		Where("id = ? AND used_profiles < max_profiles", accountID).
		Updates(map[string]interface{}{
			"used_profiles": gorm.Expr("used_profiles + ?", 1),
			"updated_at":    time.Now(),
		})

	if result.Error != nil {
		return 0, false, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, false, nil
	}

	var maxProfiles int
	if err := db.Model(&model.StreamingAccount{}).
		Where("id = ?", accountID).
		Pluck("max_profiles", &maxProfiles).Error; err != nil {
		return 0, false, err
	}

	var taken []int
	if err := db.Model(&model.StreamingProfile{}).
		Where("account_id = ? AND active_slot IS NOT NULL", accountID).
		Pluck("active_slot", &taken).Error; err != nil {
		return 0, false, err
	}

	slot := lowestFreeSlot(taken, maxProfiles)
	if slot == 0 {
		return 0, false, fmt.Errorf("account %s counts a free profile but every slot is active", accountID)
	}
	return slot, true, nil
}

// lowestFreeSlot returns the smallest slot in [1, maxProfiles] not in taken, or 0.
func lowestFreeSlot(taken []int, maxProfiles int) int {
	used := make(map[int]bool, len(taken))
	for _, s := range taken {
		used[s] = true
	}
	for slot := 1; slot <= maxProfiles; slot++ {
		if !used[slot] {
			return slot
		}
	}
	return 0
}

func (r *inventoryRepoImpl) ReleaseSlot(ctx context.Context, tx *gorm.DB, accountID string) error {
	return r.conn(ctx, tx).Model(&model.StreamingAccount{}).
		Where("id = ? AND used_profiles > 0", accountID).
		Updates(map[string]interface{}{
			"used_profiles": gorm.Expr("used_profiles - ?", 1),
			"updated_at":    time.Now(),
		}).Error
}

func (r *inventoryRepoImpl) CreateProfile(ctx context.Context, tx *gorm.DB, profile *model.StreamingProfile) error {
	return r.conn(ctx, tx).Create(profile).Error
}

func (r *inventoryRepoImpl) ProfilesForItems(ctx context.Context, tx *gorm.DB, itemIDs []string) ([]*model.StreamingProfile, error) {
	var profiles []*model.StreamingProfile
	err := r.conn(ctx, tx).
		Where("order_item_id IN ?", itemIDs).
		Find(&profiles).Error

	if err != nil {
		return nil, err
	}

	return profiles, nil
}

func (r *inventoryRepoImpl) ExpireProfile(ctx context.Context, tx *gorm.DB, profileID string) (bool, error) {
	result := r.conn(ctx, tx).Model(&model.StreamingProfile{}).
		Where("id = ? AND status = ?", profileID, model.ProfileStatusActive).
		Updates(map[string]interface{}{
			"status":      model.ProfileStatusExpired,
			"active_slot": nil,
			"updated_at":  time.Now(),
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *inventoryRepoImpl) AccountsByIDs(ctx context.Context, accountIDs []string) ([]*model.StreamingAccount, error) {
	var accounts []*model.StreamingAccount
	err := r.db.WithContext(ctx).
		Where("id IN ?", accountIDs).
		Find(&accounts).Error

	if err != nil {
		return nil, err
	}

	return accounts, nil
}
