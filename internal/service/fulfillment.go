package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"digital-goods-marketplace/internal/apperror"
	"digital-goods-marketplace/internal/client"
	"digital-goods-marketplace/internal/model"
	"digital-goods-marketplace/internal/repository"
	"digital-goods-marketplace/internal/secret"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	// claim rounds per item before giving up on a contended product
	maxClaimRounds  = 5
	platformAccount = "platform"
)

type Trigger string

const (
	TriggerWebhook Trigger = "webhook"
	TriggerPoll    Trigger = "poll"
	TriggerSweep   Trigger = "sweep"
	TriggerAdmin   Trigger = "admin"
	TriggerWallet  Trigger = "wallet"
)

type FulfillRequest struct {
	OrderID           string
	TriggeredBy       string
	Trigger           Trigger
	ExternalReference string
	// Release lets an UNDER_REVIEW order through.
	Release bool
	// IgnoreDelay delivers before delivery_scheduled_at.
	IgnoreDelay bool
}

type FulfillResult struct {
	OrderID          string            `json:"order_id"`
	Status           model.OrderStatus `json:"status"`
	Fulfilled        bool              `json:"fulfilled"`
	AlreadyFulfilled bool              `json:"already_fulfilled"`
	Held             bool              `json:"held"`
	HoldReason       string            `json:"hold_reason,omitempty"`
	// items waiting for an asynchronous provisioning callback
	PendingProvisioning int `json:"pending_provisioning"`
}

type ProvisioningEvent struct {
	Reference string
	Codes     []string
	Failed    bool
	Reason    string
}

type FulfillmentService interface {
	FulfillOrder(ctx context.Context, req FulfillRequest) (*FulfillResult, error)
	CompleteProvisioning(ctx context.Context, ev ProvisioningEvent) error
	ReleaseOrder(ctx context.Context, orderID, adminID string) (*FulfillResult, error)
	AdminConfirm(ctx context.Context, orderID, adminID, reference string) (*FulfillResult, error)
}

type fulfillmentServiceImpl struct {
	db            *gorm.DB
	orderRepo     repository.OrderRepository
	paymentRepo   repository.PaymentRepository
	productRepo   repository.ProductRepository
	inventoryRepo repository.InventoryRepository
	ledgerRepo    repository.LedgerRepository
	sellerRepo    repository.SellerRepository
	codec         secret.Codec
	provisioner   client.ProvisioningClient
	notifier      NotificationService
	metrics       *engineMetrics
	logger        *slog.Logger
	now           func() time.Time
}

func NewFulfillmentService(
	db *gorm.DB,
	orderRepo repository.OrderRepository,
	paymentRepo repository.PaymentRepository,
	productRepo repository.ProductRepository,
	inventoryRepo repository.InventoryRepository,
	ledgerRepo repository.LedgerRepository,
	sellerRepo repository.SellerRepository,
	codec secret.Codec,
	provisioner client.ProvisioningClient,
	notifier NotificationService,
) FulfillmentService {
	return &fulfillmentServiceImpl{
		db:            db,
		orderRepo:     orderRepo,
		paymentRepo:   paymentRepo,
		productRepo:   productRepo,
		inventoryRepo: inventoryRepo,
		ledgerRepo:    ledgerRepo,
		sellerRepo:    sellerRepo,
		codec:         codec,
		provisioner:   provisioner,
		notifier:      notifier,
		metrics:       newEngineMetrics(),
		logger:        slog.Default().With("component", "fulfillment"),
		now:           utcNow,
	}
}

// FulfillOrder delivers a paid order exactly once. Every trigger path calls
// it; the conditional flip of payment_status inside the transaction decides
// which caller does the work, the others get AlreadyFulfilled.
func (s *fulfillmentServiceImpl) FulfillOrder(ctx context.Context, req FulfillRequest) (*FulfillResult, error) {
	ctx, span := tracer.Start(ctx, "FulfillOrder", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("trigger", string(req.Trigger)),
	))
	defer span.End()

	now := s.now()
	result := &FulfillResult{OrderID: req.OrderID}
	var notices []Notice

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orderRepo.FindByID(ctx, tx, req.OrderID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.Wrap(apperror.CodeNotFound, err, "order not found")
		}
		if err != nil {
			return fmt.Errorf("get order: %w", err)
		}
		result.Status = order.Status

		if order.PaymentStatus == model.PaymentStatusCompleted {
			result.AlreadyFulfilled = true
			return nil
		}
		if order.Status.Terminal() {
			return apperror.ErrOrderClosed
		}

		payment, err := s.paymentRepo.FindByID(ctx, tx, order.PaymentID)
		if err != nil {
			return fmt.Errorf("get payment %s: %w", order.PaymentID, err)
		}
		if payment.Status != model.PaymentStatusCompleted {
			return apperror.ErrPaymentNotConfirmed
		}

		if order.Status == model.OrderStatusUnderReview && !req.Release {
			result.Held = true
			result.HoldReason = "manual review"
			return nil
		}
		if order.DeliveryScheduledAt != nil && now.Before(*order.DeliveryScheduledAt) && !req.IgnoreDelay {
			moved, err := s.orderRepo.MarkProcessing(ctx, tx, order.ID)
			if err != nil {
				return fmt.Errorf("mark order processing: %w", err)
			}
			result.Held = true
			result.HoldReason = "delivery scheduled"
			result.Status = model.OrderStatusProcessing
			if moved {
				notices = append(notices, Notice{
					UserID:  order.BuyerID,
					Type:    model.NotifyOrderScheduled,
					Title:   "Payment received",
					Message: fmt.Sprintf("Your order will be delivered at %s.", order.DeliveryScheduledAt.Format(time.RFC3339)),
					Link:    orderLink(order.ID),
				})
			}
			return nil
		}

		ref := req.ExternalReference
		if ref == "" {
			ref = string(req.Trigger) + "_" + order.ID
		}
		claimed, err := s.orderRepo.ClaimFulfillment(ctx, tx, order.ID, req.TriggeredBy, ref, now)
		if err != nil {
			return fmt.Errorf("claim order: %w", err)
		}
		if !claimed {
			result.AlreadyFulfilled = true
			return nil
		}

		pending, err := s.deliverItems(ctx, tx, order, now)
		if err != nil {
			return err
		}

		if err := s.postEarnings(ctx, tx, order); err != nil {
			return err
		}

		result.Fulfilled = true
		result.Status = model.OrderStatusCompleted
		result.PendingProvisioning = pending

		message := "Your order is complete and your codes are ready."
		if pending > 0 {
			message = "Your order is paid. Some items are still being issued by the provider."
		}
		notices = append(notices,
			Notice{
				UserID:  order.BuyerID,
				Type:    model.NotifyOrderCompleted,
				Title:   "Order completed",
				Message: message,
				Link:    orderLink(order.ID),
			},
			Notice{
				UserID:  order.SellerID,
				Type:    model.NotifyNewSale,
				Title:   "New sale",
				Message: fmt.Sprintf("You earned %s %s.", order.SellerEarnings.StringFixed(2), order.Currency),
				Link:    "/seller/orders/" + order.ID,
			},
		)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	attrs := metric.WithAttributes(attribute.String("trigger", string(req.Trigger)))
	switch {
	case result.Fulfilled:
		s.metrics.fulfilled.Add(ctx, 1, attrs)
		s.logger.Info("order fulfilled", "order_id", req.OrderID, "trigger", req.Trigger, "pending_provisioning", result.PendingProvisioning)
	case result.AlreadyFulfilled:
		s.metrics.duplicates.Add(ctx, 1, attrs)
		s.logger.Debug("order already fulfilled", "order_id", req.OrderID, "trigger", req.Trigger)
	case result.Held:
		s.metrics.held.Add(ctx, 1, attrs)
		s.logger.Info("order held", "order_id", req.OrderID, "reason", result.HoldReason)
	}
	span.SetAttributes(attribute.Bool("fulfilled", result.Fulfilled), attribute.Bool("duplicate", result.AlreadyFulfilled))

	s.notifier.Notify(ctx, notices...)
	return result, nil
}

func (s *fulfillmentServiceImpl) deliverItems(ctx context.Context, tx *gorm.DB, order *model.Order, now time.Time) (int, error) {
	productIDs := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		productIDs = append(productIDs, item.ProductID)
	}
	products, err := s.productRepo.FindMany(ctx, tx, productIDs)
	if err != nil {
		return 0, fmt.Errorf("get products: %w", err)
	}
	productMap := make(map[string]*model.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}

	// Local stock is claimed first; the provider is only called once nothing
	// local can fail the order and discard codes it already issued.
	var provisioned []*model.OrderItem
	for _, item := range order.Items {
		product, ok := productMap[item.ProductID]
		if !ok {
			return 0, fmt.Errorf("product %s of item %s not found", item.ProductID, item.ID)
		}

		switch {
		case product.Source == model.SourceProvider:
			provisioned = append(provisioned, item)
			continue
		case product.Type == model.ProductTypeStreaming:
			err = s.claimProfile(ctx, tx, order, item, product, now)
		default:
			err = s.claimCodes(ctx, tx, order, item, now)
		}
		if err != nil {
			return 0, err
		}

		if err := s.markDelivered(ctx, tx, item.ID, now); err != nil {
			return 0, err
		}
	}

	pending := 0
	for _, item := range provisioned {
		async, err := s.provision(ctx, tx, order, item, productMap[item.ProductID], now)
		if err != nil {
			return 0, err
		}
		if async {
			pending++
		}
	}
	return pending, nil
}

func (s *fulfillmentServiceImpl) markDelivered(ctx context.Context, tx *gorm.DB, itemID string, now time.Time) error {
	ok, err := s.orderRepo.MarkItemDelivered(ctx, tx, itemID, now)
	if err != nil {
		return fmt.Errorf("mark item %s delivered: %w", itemID, err)
	}
	if !ok {
		return fmt.Errorf("item %s was already delivered", itemID)
	}
	return nil
}

// claimCodes flips item.Quantity AVAILABLE codes to SOLD, one conditional update each.
func (s *fulfillmentServiceImpl) claimCodes(ctx context.Context, tx *gorm.DB, order *model.Order, item *model.OrderItem, now time.Time) error {
	claimed := 0
	for round := 0; claimed < item.Quantity; round++ {
		if round == maxClaimRounds {
			return apperror.New(apperror.CodeConflict, "inventory is busy, retry")
		}

		ids, err := s.inventoryRepo.AvailableCodeIDs(ctx, tx, item.ProductID, item.Quantity-claimed)
		if err != nil {
			return fmt.Errorf("find available codes: %w", err)
		}
		if len(ids) == 0 {
			s.logger.Warn("out of stock", "order_id", order.ID, "product_id", item.ProductID, "needed", item.Quantity-claimed)
			return apperror.ErrOutOfStock
		}

		for _, id := range ids {
			ok, err := s.inventoryRepo.ClaimCode(ctx, tx, id, item.ID, order.BuyerID, now)
			if err != nil {
				return fmt.Errorf("claim code: %w", err)
			}
			if ok {
				claimed++
			}
		}
	}
	return nil
}

func (s *fulfillmentServiceImpl) claimProfile(ctx context.Context, tx *gorm.DB, order *model.Order, item *model.OrderItem, product *model.Product, now time.Time) error {
	if item.Quantity != 1 {
		return fmt.Errorf("streaming item %s has quantity %d", item.ID, item.Quantity)
	}

	for round := 0; round < maxClaimRounds; round++ {
		ids, err := s.inventoryRepo.OpenAccountIDs(ctx, tx, product.ID, maxClaimRounds)
		if err != nil {
			return fmt.Errorf("find open accounts: %w", err)
		}
		if len(ids) == 0 {
			s.logger.Warn("no streaming slots left", "order_id", order.ID, "product_id", product.ID)
			return apperror.ErrOutOfStock
		}

		for _, accountID := range ids {
			slot, ok, err := s.inventoryRepo.ClaimSlot(ctx, tx, accountID)
			if err != nil {
				return fmt.Errorf("claim slot: %w", err)
			}
			if !ok {
				continue
			}

			profile := &model.StreamingProfile{
				ID:          uuid.NewString(),
				AccountID:   accountID,
				OrderItemID: item.ID,
				BuyerID:     order.BuyerID,
				SlotNumber:  slot,
				ActiveSlot:  &slot,
				Status:      model.ProfileStatusActive,
				StartsAt:    now,
				ExpiresAt:   now.AddDate(0, 0, product.DurationDays),
			}
			if err := s.inventoryRepo.CreateProfile(ctx, tx, profile); err != nil {
				return fmt.Errorf("create profile: %w", err)
			}
			return nil
		}
	}
	return apperror.New(apperror.CodeConflict, "inventory is busy, retry")
}

// provision asks the code provider for the item. It reports true when the
// provider answered asynchronously and the item stays undelivered.
func (s *fulfillmentServiceImpl) provision(ctx context.Context, tx *gorm.DB, order *model.Order, item *model.OrderItem, product *model.Product, now time.Time) (bool, error) {
	if s.provisioner == nil {
		return false, fmt.Errorf("product %s needs provisioning but no provisioner is configured", product.ID)
	}

	res, err := s.provisioner.Provision(ctx, client.ProvisionRequest{
		IdempotencyKey: item.ID,
		SKU:            product.ProviderSKU,
		Quantity:       item.Quantity,
		BuyerID:        order.BuyerID,
	})
	if err != nil {
		return false, fmt.Errorf("provision item %s: %w", item.ID, err)
	}

	if len(res.Codes) == 0 {
		if res.Reference == "" {
			return false, fmt.Errorf("provision item %s: provider returned neither codes nor reference", item.ID)
		}
		if err := s.orderRepo.SetProvisionRef(ctx, tx, item.ID, res.Reference); err != nil {
			return false, fmt.Errorf("store provision ref: %w", err)
		}
		return true, nil
	}

	return false, s.deliverProvisioned(ctx, tx, order.BuyerID, item, res.Codes, now)
}

// deliverProvisioned is the claim-and-deliver step shared by the synchronous
// provisioning path and the asynchronous callback.
func (s *fulfillmentServiceImpl) deliverProvisioned(ctx context.Context, tx *gorm.DB, buyerID string, item *model.OrderItem, plain []string, now time.Time) error {
	if len(plain) < item.Quantity {
		return fmt.Errorf("provider issued %d codes for item %s, want %d", len(plain), item.ID, item.Quantity)
	}

	if err := s.markDelivered(ctx, tx, item.ID, now); err != nil {
		return err
	}

	rows := make([]*model.GiftCardCode, 0, len(plain))
	for _, code := range plain {
		encrypted, err := s.codec.Encrypt(code)
		if err != nil {
			return fmt.Errorf("encrypt provisioned code: %w", err)
		}
		itemID, buyer, soldAt := item.ID, buyerID, now
		rows = append(rows, &model.GiftCardCode{
			ID:            uuid.NewString(),
			ProductID:     item.ProductID,
			Status:        model.CodeStatusSold,
			EncryptedCode: encrypted,
			Source:        model.SourceProvider,
			OrderItemID:   &itemID,
			BuyerID:       &buyer,
			SoldAt:        &soldAt,
		})
	}
	if err := s.inventoryRepo.CreateCodes(ctx, tx, rows); err != nil {
		return fmt.Errorf("store provisioned codes: %w", err)
	}
	return nil
}

func (s *fulfillmentServiceImpl) postEarnings(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	entries := []*model.LedgerEntry{
		{ID: uuid.NewString(), OrderID: order.ID, Type: model.LedgerCommission, Account: platformAccount, Amount: order.CommissionAmount},
		{ID: uuid.NewString(), OrderID: order.ID, Type: model.LedgerSellerEarning, Account: order.SellerID, Amount: order.SellerEarnings},
	}
	for _, entry := range entries {
		inserted, err := s.ledgerRepo.Record(ctx, tx, entry)
		if err != nil {
			return fmt.Errorf("post %s: %w", entry.Type, err)
		}
		if !inserted {
			return fmt.Errorf("%s for order %s already posted", entry.Type, order.ID)
		}
	}

	if err := s.sellerRepo.AddEarnings(ctx, tx, order.SellerID, order.SellerEarnings); err != nil {
		return fmt.Errorf("credit seller earnings: %w", err)
	}
	return nil
}

// CompleteProvisioning finishes an item the provider issued asynchronously.
// Repeated callbacks for the same reference are no-ops.
func (s *fulfillmentServiceImpl) CompleteProvisioning(ctx context.Context, ev ProvisioningEvent) error {
	ctx, span := tracer.Start(ctx, "CompleteProvisioning", trace.WithAttributes(attribute.String("provision.ref", ev.Reference)))
	defer span.End()

	if ev.Reference == "" {
		return apperror.New(apperror.CodeValidation, "missing provisioning reference")
	}

	now := s.now()
	var notices []Notice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.orderRepo.FindItemByProvisionRef(ctx, tx, ev.Reference)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.Wrap(apperror.CodeNotFound, err, "unknown provisioning reference")
		}
		if err != nil {
			return fmt.Errorf("get item by provision ref: %w", err)
		}
		if item.IsDelivered {
			s.logger.Debug("provisioning callback repeated", "ref", ev.Reference, "item_id", item.ID)
			return nil
		}

		order, err := s.orderRepo.FindByID(ctx, tx, item.OrderID)
		if err != nil {
			return fmt.Errorf("get order: %w", err)
		}
		if order.Status.Terminal() {
			return apperror.ErrOrderClosed
		}

		if ev.Failed {
			s.logger.Error("provisioning failed", "ref", ev.Reference, "order_id", order.ID, "reason", ev.Reason)
			notices = append(notices, Notice{
				UserID:  order.BuyerID,
				Type:    model.NotifyOrderHeld,
				Title:   "Delivery delayed",
				Message: "The provider could not issue your code yet. Support has been notified.",
				Link:    orderLink(order.ID),
			})
			return nil
		}

		if err := s.deliverProvisioned(ctx, tx, order.BuyerID, item, ev.Codes, now); err != nil {
			return err
		}
		notices = append(notices, Notice{
			UserID:  order.BuyerID,
			Type:    model.NotifyOrderCompleted,
			Title:   "Codes ready",
			Message: "Your code has been issued.",
			Link:    orderLink(order.ID),
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	s.notifier.Notify(ctx, notices...)
	return nil
}

// ReleaseOrder clears a manual review hold and delivers the order if it is paid.
func (s *fulfillmentServiceImpl) ReleaseOrder(ctx context.Context, orderID, adminID string) (*FulfillResult, error) {
	released, err := s.orderRepo.ReleaseReview(ctx, nil, orderID)
	if err != nil {
		return nil, fmt.Errorf("release review: %w", err)
	}
	if !released {
		order, err := s.orderRepo.FindByID(ctx, nil, orderID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.Wrap(apperror.CodeNotFound, err, "order not found")
		}
		if err != nil {
			return nil, fmt.Errorf("get order: %w", err)
		}
		return nil, apperror.New(apperror.CodeConflict, fmt.Sprintf("order is %s, not under review", order.Status))
	}
	s.logger.Info("order released from review", "order_id", orderID, "admin_id", adminID)

	result, err := s.FulfillOrder(ctx, FulfillRequest{
		OrderID:           orderID,
		TriggeredBy:       adminID,
		Trigger:           TriggerAdmin,
		ExternalReference: "released_" + orderID,
		Release:           true,
		IgnoreDelay:       true,
	})
	if errors.Is(err, apperror.ErrPaymentNotConfirmed) {
		return &FulfillResult{OrderID: orderID, Status: model.OrderStatusProcessing, Held: true, HoldReason: "awaiting payment"}, nil
	}
	return result, err
}

// AdminConfirm records a manual payment confirmation and delivers the order
// regardless of review or delay. Sibling orders on the same payment go
// through the normal gates.
func (s *fulfillmentServiceImpl) AdminConfirm(ctx context.Context, orderID, adminID, reference string) (*FulfillResult, error) {
	order, err := s.orderRepo.FindByID(ctx, nil, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.Wrap(apperror.CodeNotFound, err, "order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if reference == "" {
		reference = "admin_" + adminID
	}

	now := s.now()
	confirmed, err := s.paymentRepo.MarkConfirmed(ctx, nil, order.PaymentID, reference, now)
	if err != nil {
		return nil, fmt.Errorf("confirm payment: %w", err)
	}
	if !confirmed {
		payment, err := s.paymentRepo.FindByID(ctx, nil, order.PaymentID)
		if err != nil {
			return nil, fmt.Errorf("get payment: %w", err)
		}
		switch {
		case payment.Status == model.PaymentStatusCompleted:
		case payment.Status == model.PaymentStatusExpired, payment.Expired(now):
			return nil, apperror.ErrExpired
		default:
			return nil, apperror.New(apperror.CodeConflict, fmt.Sprintf("payment is %s", payment.Status))
		}
	}
	s.logger.Info("payment confirmed by admin", "payment_id", order.PaymentID, "order_id", orderID, "admin_id", adminID)

	result, err := s.FulfillOrder(ctx, FulfillRequest{
		OrderID:           orderID,
		TriggeredBy:       adminID,
		Trigger:           TriggerAdmin,
		ExternalReference: reference,
		Release:           true,
		IgnoreDelay:       true,
	})
	if err != nil {
		return nil, err
	}

	siblings, err := s.orderRepo.FindByPaymentID(ctx, nil, order.PaymentID)
	if err != nil {
		s.logger.Error("list sibling orders", "payment_id", order.PaymentID, "error", err)
		return result, nil
	}
	for _, sibling := range siblings {
		if sibling.ID == orderID {
			continue
		}
		if _, err := s.FulfillOrder(ctx, FulfillRequest{
			OrderID:           sibling.ID,
			TriggeredBy:       adminID,
			Trigger:           TriggerAdmin,
			ExternalReference: reference,
		}); err != nil {
			s.logger.Error("fulfill sibling order", "order_id", sibling.ID, "error", err)
		}
	}
	return result, nil
}

func orderLink(orderID string) string {
	return "/orders/" + orderID
}
