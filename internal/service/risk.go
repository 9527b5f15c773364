package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"digital-goods-marketplace/internal/apperror"
	"digital-goods-marketplace/internal/repository"
	"digital-goods-marketplace/internal/risk"

	"gorm.io/gorm"
)

type RiskService interface {
	AssessOrder(ctx context.Context, in risk.Input) (risk.Assessment, error)
}

type riskServiceImpl struct {
	userRepo  repository.UserRepository
	orderRepo repository.OrderRepository
	settings  SettingsService
	now       func() time.Time
}

func NewRiskService(userRepo repository.UserRepository, orderRepo repository.OrderRepository, settings SettingsService) RiskService {
	return &riskServiceImpl{
		userRepo:  userRepo,
		orderRepo: orderRepo,
		settings:  settings,
		now:       utcNow,
	}
}

// AssessOrder reads the buyer snapshot and scores the order against the current settings.
func (s *riskServiceImpl) AssessOrder(ctx context.Context, in risk.Input) (risk.Assessment, error) {
	now := s.now()

	user, err := s.userRepo.FindByID(ctx, in.BuyerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return risk.Assessment{}, apperror.Wrap(apperror.CodeNotFound, err, "buyer not found")
	}
	if err != nil {
		return risk.Assessment{}, fmt.Errorf("get buyer: %w", err)
	}

	completed, err := s.orderRepo.CountCompletedByBuyer(ctx, in.BuyerID)
	if err != nil {
		return risk.Assessment{}, fmt.Errorf("count completed orders: %w", err)
	}
	recent, err := s.orderRepo.CountRecentByBuyer(ctx, in.BuyerID, now.Add(-risk.VelocityWindow))
	if err != nil {
		return risk.Assessment{}, fmt.Errorf("count recent orders: %w", err)
	}

	history := risk.History{
		AccountCreatedAt: user.CreatedAt,
		CompletedOrders:  completed,
		RecentOrders:     recent,
	}
	return risk.Assess(in, history, s.settings.Current().Risk(), now), nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}
