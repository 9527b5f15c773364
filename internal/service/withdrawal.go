package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"digital-goods-marketplace/internal/apperror"
	"digital-goods-marketplace/internal/model"
	"digital-goods-marketplace/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type WithdrawalService interface {
	RequestWithdrawal(ctx context.Context, sellerID string, amount decimal.Decimal, destination string) (*model.Withdrawal, error)
	ApproveWithdrawal(ctx context.Context, adminID, withdrawalID string) (*model.Withdrawal, error)
	// RejectWithdrawal returns the held amount to the seller's available balance.
	RejectWithdrawal(ctx context.Context, adminID, withdrawalID string) (*model.Withdrawal, error)
}

type withdrawalServiceImpl struct {
	db             *gorm.DB
	sellerRepo     repository.SellerRepository
	withdrawalRepo repository.WithdrawalRepository
	notifier       NotificationService
	logger         *slog.Logger
	now            func() time.Time
}

func NewWithdrawalService(
	db *gorm.DB,
	sellerRepo repository.SellerRepository,
	withdrawalRepo repository.WithdrawalRepository,
	notifier NotificationService,
) WithdrawalService {
	return &withdrawalServiceImpl{
		db:             db,
		sellerRepo:     sellerRepo,
		withdrawalRepo: withdrawalRepo,
		notifier:       notifier,
		logger:         slog.Default().With("component", "withdrawals"),
		now:            utcNow,
	}
}

func (s *withdrawalServiceImpl) RequestWithdrawal(ctx context.Context, sellerID string, amount decimal.Decimal, destination string) (*model.Withdrawal, error) {
	if !amount.IsPositive() {
		return nil, apperror.New(apperror.CodeValidation, "amount must be positive")
	}
	if destination == "" {
		return nil, apperror.New(apperror.CodeValidation, "destination is required")
	}

	var w *model.Withdrawal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		debited, err := s.sellerRepo.DebitAvailable(ctx, tx, sellerID, amount)
		if err != nil {
			return fmt.Errorf("debit seller balance: %w", err)
		}
		if !debited {
			return apperror.ErrInsufficientFunds
		}

		seller, err := s.sellerRepo.FindByID(ctx, tx, sellerID)
		if err != nil {
			return fmt.Errorf("get seller: %w", err)
		}

		w = &model.Withdrawal{
			ID:            uuid.NewString(),
			SellerID:      sellerID,
			Amount:        amount,
			Status:        model.WithdrawalStatusPending,
			BalanceBefore: seller.AvailableBalance.Add(amount),
			BalanceAfter:  seller.AvailableBalance,
			Destination:   destination,
		}
		return s.withdrawalRepo.Create(ctx, tx, w)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal requested", "withdrawal_id", w.ID, "seller_id", sellerID, "amount", amount.StringFixed(2))
	return w, nil
}

func (s *withdrawalServiceImpl) ApproveWithdrawal(ctx context.Context, adminID, withdrawalID string) (*model.Withdrawal, error) {
	return s.close(ctx, adminID, withdrawalID, model.WithdrawalStatusApproved)
}

func (s *withdrawalServiceImpl) RejectWithdrawal(ctx context.Context, adminID, withdrawalID string) (*model.Withdrawal, error) {
	return s.close(ctx, adminID, withdrawalID, model.WithdrawalStatusRejected)
}

func (s *withdrawalServiceImpl) close(ctx context.Context, adminID, withdrawalID string, status model.WithdrawalStatus) (*model.Withdrawal, error) {
	var w *model.Withdrawal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		w, err = s.withdrawalRepo.FindByID(ctx, tx, withdrawalID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.Wrap(apperror.CodeNotFound, err, "withdrawal not found")
		}
		if err != nil {
			return fmt.Errorf("get withdrawal: %w", err)
		}

		closed, err := s.withdrawalRepo.Close(ctx, tx, w.ID, status, adminID, s.now())
		if err != nil {
			return fmt.Errorf("close withdrawal: %w", err)
		}
		if !closed {
			return apperror.New(apperror.CodeConflict, fmt.Sprintf("withdrawal is already %s", w.Status))
		}

		if status == model.WithdrawalStatusRejected {
			if err := s.sellerRepo.CreditAvailable(ctx, tx, w.SellerID, w.Amount); err != nil {
				return fmt.Errorf("return funds: %w", err)
			}
		}
		w.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, Notice{
		UserID:  w.SellerID,
		Type:    model.NotifyWithdrawal,
		Title:   "Withdrawal " + string(status),
		Message: fmt.Sprintf("Your withdrawal of %s was %s.", w.Amount.StringFixed(2), string(status)),
		Link:    "/seller/withdrawals",
	})
	return w, nil
}
