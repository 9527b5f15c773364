package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"digital-goods-marketplace/internal/apperror"
	"digital-goods-marketplace/internal/model"
	"digital-goods-marketplace/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const walletCASAttempts = 5

var errWalletVersionConflict = apperror.New(apperror.CodeConflict, "wallet was modified concurrently, retry")

type WalletService interface {
	Credit(ctx context.Context, userID string, amount decimal.Decimal, reference, description string) (*model.WalletTransaction, error)
	Debit(ctx context.Context, userID string, amount decimal.Decimal, reference, description string) (*model.WalletTransaction, error)
	// CreditTx and DebitTx run inside the caller's transaction and do not retry.
	CreditTx(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal, reference, description string) (*model.WalletTransaction, error)
	DebitTx(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal, reference, description string) (*model.WalletTransaction, error)
	Balance(ctx context.Context, userID string) (*model.Wallet, error)
	History(ctx context.Context, userID string, limit int) ([]*model.WalletTransaction, error)
}

type walletServiceImpl struct {
	db         *gorm.DB
	walletRepo repository.WalletRepository
	currency   string
	metrics    *engineMetrics
}

func NewWalletService(db *gorm.DB, walletRepo repository.WalletRepository, currency string) WalletService {
	return &walletServiceImpl{
		db:         db,
		walletRepo: walletRepo,
		currency:   currency,
		metrics:    newEngineMetrics(),
	}
}

func (s *walletServiceImpl) Credit(ctx context.Context, userID string, amount decimal.Decimal, reference, description string) (*model.WalletTransaction, error) {
	return s.withRetry(ctx, model.WalletTxCredit, userID, amount, reference, description)
}

func (s *walletServiceImpl) Debit(ctx context.Context, userID string, amount decimal.Decimal, reference, description string) (*model.WalletTransaction, error) {
	return s.withRetry(ctx, model.WalletTxDebit, userID, amount, reference, description)
}

func (s *walletServiceImpl) CreditTx(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal, reference, description string) (*model.WalletTransaction, error) {
	return s.apply(ctx, tx, model.WalletTxCredit, userID, amount, reference, description)
}

func (s *walletServiceImpl) DebitTx(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal, reference, description string) (*model.WalletTransaction, error) {
	return s.apply(ctx, tx, model.WalletTxDebit, userID, amount, reference, description)
}

// withRetry runs each attempt in a fresh transaction so a lost version race
// re-reads the committed balance.
func (s *walletServiceImpl) withRetry(ctx context.Context, txType model.WalletTxType, userID string, amount decimal.Decimal, reference, description string) (*model.WalletTransaction, error) {
	ctx, span := tracer.Start(ctx, "Wallet."+string(txType), trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("amount", amount.String()),
	))
	defer span.End()

	var entry *model.WalletTransaction
	for attempt := 1; attempt <= walletCASAttempts; attempt++ {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			entry, err = s.apply(ctx, tx, txType, userID, amount, reference, description)
			return err
		})
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, errWalletVersionConflict) {
			span.RecordError(err)
			return nil, err
		}
		slog.Debug("wallet version conflict, retrying", "user_id", userID, "attempt", attempt)
	}
	span.RecordError(errWalletVersionConflict)
	return nil, errWalletVersionConflict
}

func (s *walletServiceImpl) apply(ctx context.Context, tx *gorm.DB, txType model.WalletTxType, userID string, amount decimal.Decimal, reference, description string) (*model.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, apperror.New(apperror.CodeValidation, "amount must be positive")
	}

	if err := s.walletRepo.Ensure(ctx, tx, userID, s.currency); err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}
	wallet, err := s.walletRepo.Get(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}

	before := wallet.Balance
	after := before.Add(amount)
	if txType == model.WalletTxDebit {
		if amount.GreaterThan(before) {
			return nil, apperror.ErrInsufficientFunds
		}
		after = before.Sub(amount)
	}

	swapped, err := s.walletRepo.CompareAndSwap(ctx, tx, userID, wallet.Version, after)
	if err != nil {
		return nil, fmt.Errorf("update wallet balance: %w", err)
	}
	if !swapped {
		return nil, errWalletVersionConflict
	}

	entry := &model.WalletTransaction{
		ID:            uuid.NewString(),
		UserID:        userID,
		Type:          txType,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reference:     reference,
		Description:   description,
	}
	if err := s.walletRepo.AppendTransaction(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("append wallet transaction: %w", err)
	}

	s.metrics.walletOps.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(txType))))
	return entry, nil
}

func (s *walletServiceImpl) Balance(ctx context.Context, userID string) (*model.Wallet, error) {
	wallet, err := s.walletRepo.Get(ctx, nil, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.Wallet{UserID: userID, Balance: decimal.Zero, Currency: s.currency}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return wallet, nil
}

func (s *walletServiceImpl) History(ctx context.Context, userID string, limit int) ([]*model.WalletTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.walletRepo.ListTransactions(ctx, userID, limit)
}
