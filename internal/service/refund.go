package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"digital-goods-marketplace/internal/apperror"
	"digital-goods-marketplace/internal/model"
	"digital-goods-marketplace/internal/refund"
	"digital-goods-marketplace/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type RefundService interface {
	RequestRefund(ctx context.Context, buyerID, orderID, reason string) (*model.RefundRequest, error)
	ApproveRefund(ctx context.Context, adminID, refundID string) (*model.RefundRequest, error)
	RejectRefund(ctx context.Context, adminID, refundID string) (*model.RefundRequest, error)
}

type refundServiceImpl struct {
	db            *gorm.DB
	orderRepo     repository.OrderRepository
	refundRepo    repository.RefundRepository
	inventoryRepo repository.InventoryRepository
	wallet        WalletService
	notifier      NotificationService
	logger        *slog.Logger
	now           func() time.Time
}

func NewRefundService(
	db *gorm.DB,
	orderRepo repository.OrderRepository,
	refundRepo repository.RefundRepository,
	inventoryRepo repository.InventoryRepository,
	wallet WalletService,
	notifier NotificationService,
) RefundService {
	return &refundServiceImpl{
		db:            db,
		orderRepo:     orderRepo,
		refundRepo:    refundRepo,
		inventoryRepo: inventoryRepo,
		wallet:        wallet,
		notifier:      notifier,
		logger:        slog.Default().With("component", "refunds"),
		now:           utcNow,
	}
}

func (s *refundServiceImpl) RequestRefund(ctx context.Context, buyerID, orderID, reason string) (*model.RefundRequest, error) {
	order, err := s.orderRepo.FindByID(ctx, nil, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && order.BuyerID != buyerID) {
		return nil, apperror.Wrap(apperror.CodeNotFound, gorm.ErrRecordNotFound, "order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}

	switch order.Status {
	case model.OrderStatusRefunded:
		return nil, apperror.ErrAlreadyRefunded
	case model.OrderStatusCompleted:
	default:
		return nil, apperror.New(apperror.CodeValidation, "only completed orders can be refunded")
	}

	approved, err := s.refundRepo.HasApproved(ctx, nil, order.ID)
	if err != nil {
		return nil, fmt.Errorf("check previous refunds: %w", err)
	}
	if approved {
		return nil, apperror.ErrAlreadyRefunded
	}

	amount, err := s.refundableAmount(ctx, order, s.now())
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, apperror.ErrNotRefundable
	}

	active := order.ID
	req := &model.RefundRequest{
		ID:            uuid.NewString(),
		OrderID:       order.ID,
		BuyerID:       buyerID,
		Amount:        amount,
		Reason:        strings.TrimSpace(reason),
		Status:        model.RefundStatusPending,
		ActiveOrderID: &active,
	}
	if err := s.refundRepo.Create(ctx, nil, req); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperror.ErrRefundInProgress
		}
		return nil, fmt.Errorf("store refund request: %w", err)
	}
	s.logger.Info("refund requested", "refund_id", req.ID, "order_id", order.ID, "amount", amount.StringFixed(2))
	return req, nil
}

// refundableAmount prorates streaming items by their unused days, refunds
// undelivered items in full and nothing for codes already revealed.
func (s *refundServiceImpl) refundableAmount(ctx context.Context, order *model.Order, now time.Time) (decimal.Decimal, error) {
	var streamingItems []string
	amount := decimal.Zero
	for _, item := range order.Items {
		switch {
		case !item.IsDelivered:
			amount = amount.Add(item.TotalPrice)
		case item.ProductType == model.ProductTypeStreaming:
			streamingItems = append(streamingItems, item.ID)
		}
	}
	if len(streamingItems) == 0 {
		return amount, nil
	}

	profiles, err := s.inventoryRepo.ProfilesForItems(ctx, nil, streamingItems)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get profiles: %w", err)
	}
	prices := make(map[string]decimal.Decimal, len(order.Items))
	for _, item := range order.Items {
		prices[item.ID] = item.TotalPrice
	}
	for _, p := range profiles {
		if p.Status != model.ProfileStatusActive {
			continue
		}
		amount = amount.Add(refund.Prorate(prices[p.OrderItemID], p.StartsAt, p.ExpiresAt, now))
	}
	return amount, nil
}

// ApproveRefund closes the request, flips the order to REFUNDED and credits
// the buyer in one transaction. A second approval finds nothing to flip.
func (s *refundServiceImpl) ApproveRefund(ctx context.Context, adminID, refundID string) (*model.RefundRequest, error) {
	now := s.now()
	var req *model.RefundRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = s.refundRepo.FindByID(ctx, tx, refundID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.Wrap(apperror.CodeNotFound, err, "refund request not found")
		}
		if err != nil {
			return fmt.Errorf("get refund request: %w", err)
		}
		if err := closedRefundError(req.Status); err != nil {
			return err
		}

		closed, err := s.refundRepo.Close(ctx, tx, req.ID, model.RefundStatusProcessed, adminID, now)
		if err != nil {
			return fmt.Errorf("close refund request: %w", err)
		}
		if !closed {
			return apperror.New(apperror.CodeConflict, "refund request was already processed")
		}

		refunded, err := s.orderRepo.MarkRefunded(ctx, tx, req.OrderID)
		if err != nil {
			return fmt.Errorf("mark order refunded: %w", err)
		}
		if !refunded {
			return apperror.ErrAlreadyRefunded
		}

		if _, err := s.wallet.CreditTx(ctx, tx, req.BuyerID, req.Amount, "refund_"+req.ID, "refund for order "+req.OrderID); err != nil {
			return fmt.Errorf("credit buyer wallet: %w", err)
		}

		return s.retireInventory(ctx, tx, req.OrderID)
	})
	if err != nil {
		return nil, err
	}

	req.Status = model.RefundStatusProcessed
	req.ActiveOrderID = nil
	s.logger.Info("refund approved", "refund_id", req.ID, "order_id", req.OrderID, "admin_id", adminID)
	s.notifier.Notify(ctx, Notice{
		UserID:  req.BuyerID,
		Type:    model.NotifyRefund,
		Title:   "Refund approved",
		Message: fmt.Sprintf("%s has been credited to your wallet.", req.Amount.StringFixed(2)),
		Link:    "/wallet",
	})
	return req, nil
}

// retireInventory expires what the order delivered and frees streaming slots.
func (s *refundServiceImpl) retireInventory(ctx context.Context, tx *gorm.DB, orderID string) error {
	items, err := s.orderRepo.GetOrderItems(ctx, tx, orderID)
	if err != nil {
		return fmt.Errorf("get order items: %w", err)
	}
	itemIDs := make([]string, 0, len(items))
	for _, item := range items {
		itemIDs = append(itemIDs, item.ID)
	}
	if len(itemIDs) == 0 {
		return nil
	}

	if err := s.inventoryRepo.ExpireCodesForItems(ctx, tx, itemIDs); err != nil {
		return fmt.Errorf("expire codes: %w", err)
	}

	profiles, err := s.inventoryRepo.ProfilesForItems(ctx, tx, itemIDs)
	if err != nil {
		return fmt.Errorf("get profiles: %w", err)
	}
	for _, p := range profiles {
		expired, err := s.inventoryRepo.ExpireProfile(ctx, tx, p.ID)
		if err != nil {
			return fmt.Errorf("expire profile: %w", err)
		}
		if !expired {
			continue
		}
		if err := s.inventoryRepo.ReleaseSlot(ctx, tx, p.AccountID); err != nil {
			return fmt.Errorf("release slot: %w", err)
		}
	}
	return nil
}

func (s *refundServiceImpl) RejectRefund(ctx context.Context, adminID, refundID string) (*model.RefundRequest, error) {
	req, err := s.refundRepo.FindByID(ctx, nil, refundID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.Wrap(apperror.CodeNotFound, err, "refund request not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get refund request: %w", err)
	}
	if err := closedRefundError(req.Status); err != nil {
		return nil, err
	}

	closed, err := s.refundRepo.Close(ctx, nil, req.ID, model.RefundStatusRejected, adminID, s.now())
	if err != nil {
		return nil, fmt.Errorf("close refund request: %w", err)
	}
	if !closed {
		return nil, apperror.New(apperror.CodeConflict, "refund request was already processed")
	}

	req.Status = model.RefundStatusRejected
	req.ActiveOrderID = nil
	s.notifier.Notify(ctx, Notice{
		UserID:  req.BuyerID,
		Type:    model.NotifyRefund,
		Title:   "Refund rejected",
		Message: "Your refund request was not approved.",
		Link:    orderLink(req.OrderID),
	})
	return req, nil
}

func closedRefundError(status model.RefundStatus) error {
	switch status {
	case model.RefundStatusPending:
		return nil
	case model.RefundStatusProcessed, model.RefundStatusApproved:
		return apperror.ErrAlreadyRefunded
	default:
		return apperror.New(apperror.CodeConflict, fmt.Sprintf("refund request is %s", status))
	}
}
