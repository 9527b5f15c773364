package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"digital-goods-marketplace/internal/apperror"
	"digital-goods-marketplace/internal/config"
	"digital-goods-marketplace/internal/dto"
	"digital-goods-marketplace/internal/model"
	"digital-goods-marketplace/internal/repository"
	"digital-goods-marketplace/internal/risk"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CheckoutService interface {
	// CreateOrder splits the cart into one order per seller, all covered by a
	// single payment, and gates each order through the risk scorer.
	CreateOrder(ctx context.Context, buyerID string, items []*dto.Item, method model.PaymentMethod) (*dto.CheckoutResponse, error)
}

type checkoutServiceImpl struct {
	db          *gorm.DB
	productRepo repository.ProductRepository
	orderRepo   repository.OrderRepository
	paymentRepo repository.PaymentRepository
	riskService RiskService
	settings    SettingsService
	wallet      WalletService
	fulfillment FulfillmentService
	notifier    NotificationService
	deposit     config.Deposit
	logger      *slog.Logger
	now         func() time.Time
}

func NewCheckoutService(
	db *gorm.DB,
	productRepo repository.ProductRepository,
	orderRepo repository.OrderRepository,
	paymentRepo repository.PaymentRepository,
	riskService RiskService,
	settings SettingsService,
	wallet WalletService,
	fulfillment FulfillmentService,
	notifier NotificationService,
	deposit config.Deposit,
) CheckoutService {
	return &checkoutServiceImpl{
		db:          db,
		productRepo: productRepo,
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		riskService: riskService,
		settings:    settings,
		wallet:      wallet,
		fulfillment: fulfillment,
		notifier:    notifier,
		deposit:     deposit,
		logger:      slog.Default().With("component", "checkout"),
		now:         utcNow,
	}
}

func validMethod(m model.PaymentMethod) bool {
	switch m {
	case model.MethodCard, model.MethodQR, model.MethodCrypto, model.MethodPeer, model.MethodDeposit, model.MethodWallet:
		return true
	}
	return false
}

func (s *checkoutServiceImpl) CreateOrder(ctx context.Context, buyerID string, items []*dto.Item, method model.PaymentMethod) (*dto.CheckoutResponse, error) {
	if !validMethod(method) {
		return nil, apperror.New(apperror.CodeValidation, fmt.Sprintf("unsupported payment method %q", method))
	}
	if len(items) == 0 {
		return nil, apperror.New(apperror.CodeValidation, "cart is empty")
	}

	quantities := make(map[string]int)
	productIDs := make([]string, 0, len(items))
	for _, item := range items {
		if item == nil || item.ProductID == "" {
			return nil, apperror.New(apperror.CodeValidation, "item without product id")
		}
		if item.Quantity <= 0 {
			return nil, apperror.New(apperror.CodeValidation, "item quantity must be positive")
		}
		if _, seen := quantities[item.ProductID]; !seen {
			productIDs = append(productIDs, item.ProductID)
		}
		quantities[item.ProductID] += item.Quantity
	}

	products, err := s.productRepo.FindMany(ctx, nil, productIDs)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	if len(products) != len(productIDs) {
		return nil, apperror.New(apperror.CodeNotFound, "some products not found")
	}

	currency := products[0].Currency
	bySeller := make(map[string][]*model.Product)
	for _, p := range products {
		if p.Currency != currency {
			return nil, apperror.New(apperror.CodeValidation, "all items must share one currency")
		}
		bySeller[p.SellerID] = append(bySeller[p.SellerID], p)
	}
	sellerIDs := make([]string, 0, len(bySeller))
	for id := range bySeller {
		sellerIDs = append(sellerIDs, id)
	}
	sort.Strings(sellerIDs)

	now := s.now()
	settings := s.settings.Current()

	payment := &model.Payment{
		ID:       uuid.NewString(),
		BuyerID:  buyerID,
		Provider: string(method),
		Currency: currency,
		Status:   model.PaymentStatusPending,
	}

	orders := make([]*model.Order, 0, len(sellerIDs))
	orderIDs := make([]string, 0, len(sellerIDs))
	total := decimal.Zero
	for _, sellerID := range sellerIDs {
		order := s.buildOrder(buyerID, sellerID, payment.ID, method, currency, bySeller[sellerID], quantities, settings)

		assessment, err := s.riskService.AssessOrder(ctx, risk.Input{
			BuyerID:   buyerID,
			Total:     order.TotalAmount,
			Method:    method,
			ItemCount: len(order.Items),
		})
		if err != nil {
			return nil, err
		}
		applyAssessment(order, assessment, now)

		orders = append(orders, order)
		orderIDs = append(orderIDs, order.ID)
		total = total.Add(order.TotalAmount)
	}
	payment.Amount = total

	details := model.PaymentDetails{Provider: payment.Provider, OrderIDs: orderIDs}
	var instructions *dto.PaymentInstructions
	switch method {
	case model.MethodQR:
		details.QROrderID = payment.ID
		expiresAt := now.Add(settings.QRWindow)
		payment.ExpiresAt = &expiresAt
		instructions = &dto.PaymentInstructions{QROrderID: details.QROrderID}
	case model.MethodDeposit:
		details.MemoCode = memoCode()
		details.ExpectedAmount = total.StringFixed(2)
		details.Coin = s.deposit.Coin
		details.Network = s.deposit.Network
		expiresAt := now.Add(settings.DepositWindow)
		payment.ExpiresAt = &expiresAt
		instructions = &dto.PaymentInstructions{
			MemoCode:       details.MemoCode,
			ExpectedAmount: details.ExpectedAmount,
			Coin:           details.Coin,
			Network:        details.Network,
		}
	case model.MethodWallet:
		payment.Status = model.PaymentStatusCompleted
		payment.ExternalReference = "wallet_" + payment.ID
		payment.ConfirmedAt = &now
	}
	payment.Details = datatypes.NewJSONType(details)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if method == model.MethodWallet {
			if _, err := s.wallet.DebitTx(ctx, tx, buyerID, total, payment.ExternalReference, "order payment"); err != nil {
				return err
			}
		}
		if err := s.paymentRepo.Create(ctx, tx, payment); err != nil {
			return fmt.Errorf("store payment: %w", err)
		}
		for _, order := range orders {
			if err := s.orderRepo.Create(ctx, tx, order); err != nil {
				return fmt.Errorf("store order: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("checkout created", "payment_id", payment.ID, "method", method, "orders", len(orders), "amount", total.StringFixed(2))

	resp := &dto.CheckoutResponse{
		PaymentID:     payment.ID,
		PaymentMethod: string(method),
		PaymentStatus: string(payment.Status),
		Amount:        total,
		Currency:      currency,
		ExpiresAt:     payment.ExpiresAt,
		Instructions:  instructions,
	}

	var notices []Notice
	for _, order := range orders {
		status := order.Status
		if method == model.MethodWallet {
			res, err := s.fulfillment.FulfillOrder(ctx, FulfillRequest{
				OrderID:           order.ID,
				TriggeredBy:       buyerID,
				Trigger:           TriggerWallet,
				ExternalReference: payment.ExternalReference,
			})
			if err != nil {
				s.logger.Error("fulfill wallet order", "order_id", order.ID, "error", err)
			} else {
				status = res.Status
			}
		}
		if order.RequiresManualReview {
			notices = append(notices, Notice{
				UserID:  buyerID,
				Type:    model.NotifyOrderHeld,
				Title:   "Order under review",
				Message: "Your order needs a quick manual check before delivery.",
				Link:    orderLink(order.ID),
			})
		}

		resp.Orders = append(resp.Orders, &dto.CheckoutOrder{
			OrderID:              order.ID,
			SellerID:             order.SellerID,
			Status:               string(status),
			TotalAmount:          order.TotalAmount,
			RiskScore:            order.RiskScore,
			RequiresManualReview: order.RequiresManualReview,
			DeliveryScheduledAt:  order.DeliveryScheduledAt,
		})
	}
	s.notifier.Notify(ctx, notices...)
	return resp, nil
}

func (s *checkoutServiceImpl) buildOrder(buyerID, sellerID, paymentID string, method model.PaymentMethod, currency string, products []*model.Product, quantities map[string]int, settings Settings) *model.Order {
	order := &model.Order{
		ID:             uuid.NewString(),
		BuyerID:        buyerID,
		SellerID:       sellerID,
		PaymentID:      paymentID,
		PaymentMethod:  method,
		Currency:       currency,
		CommissionRate: settings.CommissionRate,
		PaymentStatus:  model.PaymentStatusPending,
		Status:         model.OrderStatusPending,
	}

	total := decimal.Zero
	for _, p := range products {
		qty := quantities[p.ID]
		lineTotal := p.Price.Mul(decimal.NewFromInt(int64(qty)))
		total = total.Add(lineTotal)

		// one streaming profile per item
		lines, perLine := 1, qty
		if p.Type == model.ProductTypeStreaming {
			lines, perLine = qty, 1
		}
		for i := 0; i < lines; i++ {
			order.Items = append(order.Items, &model.OrderItem{
				ID:          uuid.NewString(),
				OrderID:     order.ID,
				ProductID:   p.ID,
				ProductType: p.Type,
				Quantity:    perLine,
				UnitPrice:   p.Price,
				TotalPrice:  p.Price.Mul(decimal.NewFromInt(int64(perLine))),
			})
		}
	}

	order.TotalAmount = total
	order.CommissionAmount = total.Mul(settings.CommissionRate).Round(2)
	order.SellerEarnings = total.Sub(order.CommissionAmount)
	return order
}

func applyAssessment(order *model.Order, a risk.Assessment, now time.Time) {
	order.RiskScore = a.Score
	order.RiskReasons = datatypes.JSONSlice[string](a.Reasons)
	if a.RequiresManualReview {
		order.RequiresManualReview = true
		order.Status = model.OrderStatusUnderReview
		return
	}
	if a.ShouldDelay && a.DelayMinutes > 0 {
		at := now.Add(time.Duration(a.DelayMinutes) * time.Minute)
		order.DeliveryScheduledAt = &at
	}
}

// memoCode is the reference the buyer must put on a direct deposit.
func memoCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}
