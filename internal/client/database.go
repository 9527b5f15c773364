package client

import (
	"fmt"
	"time"

	"digital-goods-marketplace/internal/config"
	"digital-goods-marketplace/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the configured database, sizes the pool and migrates the schema.
// All timestamps are written in UTC so sqlite compares them consistently.
func InitDB(cfg config.Database) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql", "":
		dialector = mysql.Open(cfg.URL)
	case "sqlite":
		dialector = sqlite.Open(cfg.URL)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, GormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// webhooks, polls and the sweep all hit the pool at once
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

func GormConfig() *gorm.Config {
	return &gorm.Config{
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	}
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.User{},
		&model.Seller{},
		&model.Product{},
		&model.Order{},
		&model.OrderItem{},
		&model.Payment{},
		&model.GiftCardCode{},
		&model.StreamingAccount{},
		&model.StreamingProfile{},
		&model.Wallet{},
		&model.WalletTransaction{},
		&model.LedgerEntry{},
		&model.Withdrawal{},
		&model.RefundRequest{},
		&model.WebhookEvent{},
		&model.Notification{},
		&model.Setting{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
