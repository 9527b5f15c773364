package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"digital-goods-marketplace/internal/apperror"
	"digital-goods-marketplace/internal/config"
	"digital-goods-marketplace/internal/model"
	"digital-goods-marketplace/internal/repository"
	"digital-goods-marketplace/internal/risk"

	"github.com/shopspring/decimal"
)

// Settings is an immutable snapshot of the runtime tunables.
type Settings struct {
	HighValueThreshold    decimal.Decimal
	ManualReviewThreshold decimal.Decimal
	DeliveryDelayMinutes  int
	CommissionRate        decimal.Decimal
	QRWindow              time.Duration
	DepositWindow         time.Duration
}

func (s Settings) Risk() risk.Settings {
	return risk.Settings{
		HighValueThreshold:    s.HighValueThreshold,
		ManualReviewThreshold: s.ManualReviewThreshold,
		DeliveryDelayMinutes:  s.DeliveryDelayMinutes,
	}
}

func (s Settings) validate() error {
	if s.HighValueThreshold.IsNegative() || s.ManualReviewThreshold.IsNegative() {
		return apperror.New(apperror.CodeValidation, "thresholds must not be negative")
	}
	if s.DeliveryDelayMinutes < 0 {
		return apperror.New(apperror.CodeValidation, "delivery delay must not be negative")
	}
	if s.CommissionRate.IsNegative() || s.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return apperror.New(apperror.CodeValidation, "commission rate must be between 0 and 1")
	}
	if s.QRWindow <= 0 || s.DepositWindow <= 0 {
		return apperror.New(apperror.CodeValidation, "payment windows must be positive")
	}
	return nil
}

// DefaultSettings builds the snapshot used until an admin saves the settings row.
func DefaultSettings(cfg config.Risk) (Settings, error) {
	parse := func(name, v string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse %s %q: %w", name, v, err)
		}
		return d, nil
	}

	high, err := parse("high value threshold", cfg.HighValueThreshold)
	if err != nil {
		return Settings{}, err
	}
	manual, err := parse("manual review threshold", cfg.ManualReviewThreshold)
	if err != nil {
		return Settings{}, err
	}
	rate, err := parse("commission rate", cfg.CommissionRate)
	if err != nil {
		return Settings{}, err
	}

	s := Settings{
		HighValueThreshold:    high,
		ManualReviewThreshold: manual,
		DeliveryDelayMinutes:  cfg.DeliveryDelayMinutes,
		CommissionRate:        rate,
		QRWindow:              time.Duration(cfg.QRWindowMinutes) * time.Minute,
		DepositWindow:         time.Duration(cfg.DepositWindowMinutes) * time.Minute,
	}
	return s, s.validate()
}

type SettingsService interface {
	Current() Settings
	// Reload replaces the snapshot with the stored row, keeping defaults if none exists.
	Reload(ctx context.Context) error
	Update(ctx context.Context, adminID string, s Settings) (Settings, error)
}

type settingsServiceImpl struct {
	settingsRepo repository.SettingsRepository
	defaults     Settings
	current      atomic.Pointer[Settings]
}

func NewSettingsService(settingsRepo repository.SettingsRepository, defaults Settings) SettingsService {
	s := &settingsServiceImpl{
		settingsRepo: settingsRepo,
		defaults:     defaults,
	}
	s.current.Store(&defaults)
	return s
}

func (s *settingsServiceImpl) Current() Settings {
	return *s.current.Load()
}

func (s *settingsServiceImpl) Reload(ctx context.Context) error {
	row, err := s.settingsRepo.Get(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	snapshot := s.defaults
	if row != nil {
		snapshot = fromRow(row)
	}
	s.current.Store(&snapshot)
	slog.Info("settings loaded", "from_db", row != nil, "delay_minutes", snapshot.DeliveryDelayMinutes)
	return nil
}

func (s *settingsServiceImpl) Update(ctx context.Context, adminID string, next Settings) (Settings, error) {
	if err := next.validate(); err != nil {
		return Settings{}, err
	}

	row := &model.Setting{
		HighValueThreshold:    next.HighValueThreshold,
		ManualReviewThreshold: next.ManualReviewThreshold,
		DeliveryDelayMinutes:  next.DeliveryDelayMinutes,
		CommissionRate:        next.CommissionRate,
		QRWindowMinutes:       int(next.QRWindow / time.Minute),
		DepositWindowMinutes:  int(next.DepositWindow / time.Minute),
		UpdatedBy:             adminID,
	}
	if err := s.settingsRepo.Save(ctx, row); err != nil {
		return Settings{}, fmt.Errorf("save settings: %w", err)
	}
	if err := s.Reload(ctx); err != nil {
		return Settings{}, err
	}
	return s.Current(), nil
}

func fromRow(row *model.Setting) Settings {
	return Settings{
		HighValueThreshold:    row.HighValueThreshold,
		ManualReviewThreshold: row.ManualReviewThreshold,
		DeliveryDelayMinutes:  row.DeliveryDelayMinutes,
		CommissionRate:        row.CommissionRate,
		QRWindow:              time.Duration(row.QRWindowMinutes) * time.Minute,
		DepositWindow:         time.Duration(row.DepositWindowMinutes) * time.Minute,
	}
}
