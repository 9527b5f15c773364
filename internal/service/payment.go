package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"digital-goods-marketplace/internal/apperror"
	"digital-goods-marketplace/internal/dto"
	"digital-goods-marketplace/internal/model"
	"digital-goods-marketplace/internal/provider"
	"digital-goods-marketplace/internal/repository"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const (
	PollStatusPending   = "pending"
	PollStatusCompleted = "completed"
	PollStatusExpired   = "expired"
	PollStatusFailed    = "failed"
)

type WebhookOutcome struct {
	Provider  string
	Verified  bool
	Final     bool
	Duplicate bool
	Results   []*FulfillResult
}

type PaymentService interface {
	HandleWebhook(ctx context.Context, providerName string, headers http.Header, body []byte) (*WebhookOutcome, error)
	ConfirmPayment(ctx context.Context, conf *provider.Confirmation) ([]*FulfillResult, error)
	PollPayment(ctx context.Context, buyerID, paymentID string) (*dto.PaymentStatusResponse, error)
}

type paymentServiceImpl struct {
	db               *gorm.DB
	registry         *provider.Registry
	paymentRepo      repository.PaymentRepository
	orderRepo        repository.OrderRepository
	webhookEventRepo repository.WebhookEventRepository
	fulfillment      FulfillmentService
	polls            singleflight.Group
	logger           *slog.Logger
	now              func() time.Time
}

func NewPaymentService(
	db *gorm.DB,
	registry *provider.Registry,
	paymentRepo repository.PaymentRepository,
	orderRepo repository.OrderRepository,
	webhookEventRepo repository.WebhookEventRepository,
	fulfillment FulfillmentService,
) PaymentService {
	return &paymentServiceImpl{
		db:               db,
		registry:         registry,
		paymentRepo:      paymentRepo,
		orderRepo:        orderRepo,
		webhookEventRepo: webhookEventRepo,
		fulfillment:      fulfillment,
		logger:           slog.Default().With("component", "payments"),
		now:              utcNow,
	}
}

// HandleWebhook verifies a provider notification before anything else is
// read from it. An unverifiable body changes nothing.
func (s *paymentServiceImpl) HandleWebhook(ctx context.Context, providerName string, headers http.Header, body []byte) (*WebhookOutcome, error) {
	p, err := s.registry.Get(providerName)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeNotFound, err, "unknown payment provider")
	}

	outcome := &WebhookOutcome{Provider: providerName}
	if !p.VerifySignature(body, headers) {
		s.logger.Warn("webhook signature rejected", "provider", providerName)
		return outcome, apperror.ErrVerificationFailed
	}
	outcome.Verified = true

	conf, err := p.ExtractConfirmation(body)
	if err != nil {
		return outcome, apperror.Wrap(apperror.CodeValidation, err, "malformed webhook payload")
	}

	if conf.EventID != "" {
		first, err := s.webhookEventRepo.MarkProcessed(ctx, nil, providerName, conf.EventID, conf.EventType)
		if err != nil {
			s.logger.Error("record webhook event", "provider", providerName, "event_id", conf.EventID, "error", err)
		}
		outcome.Duplicate = err == nil && !first
	}

	if !conf.Final {
		s.logger.Info("webhook ignored", "provider", providerName, "event_type", conf.EventType)
		return outcome, nil
	}
	outcome.Final = true

	results, err := s.ConfirmPayment(ctx, conf)
	outcome.Results = results
	return outcome, err
}

// ConfirmPayment records the provider confirmation on the payment and then
// fulfills every order it covers.
func (s *paymentServiceImpl) ConfirmPayment(ctx context.Context, conf *provider.Confirmation) ([]*FulfillResult, error) {
	ctx, span := tracer.Start(ctx, "ConfirmPayment", trace.WithAttributes(attribute.String("provider", conf.Provider)))
	defer span.End()

	payment, err := s.resolvePayment(ctx, conf)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("payment.id", payment.ID))

	if err := s.markConfirmed(ctx, payment, conf.ExternalReference); err != nil {
		return nil, err
	}
	return s.fulfillPayment(ctx, payment.ID, TriggerWebhook, "provider:"+conf.Provider, conf.ExternalReference)
}

func (s *paymentServiceImpl) resolvePayment(ctx context.Context, conf *provider.Confirmation) (*model.Payment, error) {
	if conf.ExternalPaymentID != "" {
		payment, err := s.paymentRepo.FindByExternalID(ctx, nil, conf.Provider, conf.ExternalPaymentID)
		if err == nil {
			return payment, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("get payment by external id: %w", err)
		}

		// rails that echo our own payment id back
		payment, err = s.paymentRepo.FindByID(ctx, nil, conf.ExternalPaymentID)
		if err == nil && payment.Provider == conf.Provider {
			return payment, nil
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("get payment: %w", err)
		}
	}

	for _, orderID := range conf.OrderIDs {
		order, err := s.orderRepo.FindByID(ctx, nil, orderID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get order: %w", err)
		}
		payment, err := s.paymentRepo.FindByID(ctx, nil, order.PaymentID)
		if err != nil {
			return nil, fmt.Errorf("get payment of order %s: %w", orderID, err)
		}
		if payment.Provider != conf.Provider {
			return nil, apperror.New(apperror.CodeValidation, "order was not paid with this provider")
		}
		return payment, nil
	}

	return nil, apperror.New(apperror.CodeNotFound, "no payment matches the confirmation")
}

// markConfirmed flips the payment to COMPLETED unless its window has closed.
// An already confirmed payment is fine, callers re-run fulfillment.
func (s *paymentServiceImpl) markConfirmed(ctx context.Context, payment *model.Payment, reference string) error {
	now := s.now()
	if payment.Status == model.PaymentStatusPending {
		ok, err := s.paymentRepo.MarkConfirmed(ctx, nil, payment.ID, reference, now)
		if err != nil {
			return fmt.Errorf("confirm payment: %w", err)
		}
		if ok {
			s.logger.Info("payment confirmed", "payment_id", payment.ID, "provider", payment.Provider)
			return nil
		}

		payment, err = s.paymentRepo.FindByID(ctx, nil, payment.ID)
		if err != nil {
			return fmt.Errorf("reload payment: %w", err)
		}
		if payment.Status == model.PaymentStatusPending && payment.Expired(now) {
			if _, _, err := expirePayment(ctx, s.db, s.paymentRepo, s.orderRepo, payment.ID, now); err != nil {
				s.logger.Error("expire payment", "payment_id", payment.ID, "error", err)
			}
			s.logger.Warn("confirmation after expiry", "payment_id", payment.ID)
			return apperror.ErrExpired
		}
	}

	switch payment.Status {
	case model.PaymentStatusCompleted:
		return nil
	case model.PaymentStatusExpired:
		return apperror.ErrExpired
	default:
		return apperror.New(apperror.CodeConflict, fmt.Sprintf("payment is %s", payment.Status))
	}
}

func (s *paymentServiceImpl) fulfillPayment(ctx context.Context, paymentID string, trigger Trigger, triggeredBy, reference string) ([]*FulfillResult, error) {
	orders, err := s.orderRepo.FindByPaymentID(ctx, nil, paymentID)
	if err != nil {
		return nil, fmt.Errorf("list orders of payment: %w", err)
	}

	var results []*FulfillResult
	var firstErr error
	for _, order := range orders {
		res, err := s.fulfillment.FulfillOrder(ctx, FulfillRequest{
			OrderID:           order.ID,
			TriggeredBy:       triggeredBy,
			Trigger:           trigger,
			ExternalReference: reference,
		})
		if err != nil {
			s.logger.Error("fulfill order", "order_id", order.ID, "payment_id", paymentID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		results = append(results, res)
	}
	return results, firstErr
}

// PollPayment re-checks a payment with its provider on behalf of the buyer.
// Concurrent polls of one payment share a single provider round trip.
func (s *paymentServiceImpl) PollPayment(ctx context.Context, buyerID, paymentID string) (*dto.PaymentStatusResponse, error) {
	payment, err := s.paymentRepo.FindByID(ctx, nil, paymentID)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && payment.BuyerID != buyerID) {
		return nil, apperror.Wrap(apperror.CodeNotFound, gorm.ErrRecordNotFound, "payment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}

	v, err, shared := s.polls.Do(paymentID, func() (interface{}, error) {
		return s.poll(ctx, payment)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("poll coalesced", "payment_id", paymentID)
	}

	status := v.(string)
	return &dto.PaymentStatusResponse{
		PaymentID: payment.ID,
		Status:    status,
		ExpiresAt: payment.ExpiresAt,
	}, nil
}

func (s *paymentServiceImpl) poll(ctx context.Context, payment *model.Payment) (string, error) {
	switch payment.Status {
	case model.PaymentStatusCompleted, model.PaymentStatusRefunded:
		// a previous trigger may have confirmed without delivering
		if _, err := s.fulfillPayment(ctx, payment.ID, TriggerPoll, payment.BuyerID, payment.ExternalReference); err != nil {
			s.logger.Warn("fulfill on poll", "payment_id", payment.ID, "error", err)
		}
		return PollStatusCompleted, nil
	case model.PaymentStatusExpired:
		return PollStatusExpired, nil
	case model.PaymentStatusFailed:
		return PollStatusFailed, nil
	}

	if payment.Expired(s.now()) {
		if _, _, err := expirePayment(ctx, s.db, s.paymentRepo, s.orderRepo, payment.ID, s.now()); err != nil {
			return "", fmt.Errorf("expire payment: %w", err)
		}
		return PollStatusExpired, nil
	}

	poller, err := s.registry.Poller(payment.Provider)
	if err != nil {
		// webhook driven rail
		return PollStatusPending, nil
	}

	var externalID string
	if payment.ExternalPaymentID != nil {
		externalID = *payment.ExternalPaymentID
	}
	res, err := poller.Poll(ctx, provider.PollTarget{
		PaymentID:         payment.ID,
		ExternalPaymentID: externalID,
		Details:           payment.Details.Data(),
		CreatedAt:         payment.CreatedAt,
	})
	if err != nil {
		s.logger.Warn("provider poll failed, reporting pending", "payment_id", payment.ID, "provider", payment.Provider, "error", err)
		return PollStatusPending, nil
	}

	switch res.State {
	case provider.PollConfirmed:
		err := s.markConfirmed(ctx, payment, res.ExternalReference)
		if errors.Is(err, apperror.ErrExpired) {
			return PollStatusExpired, nil
		}
		if err != nil {
			return "", err
		}
		if _, err := s.fulfillPayment(ctx, payment.ID, TriggerPoll, payment.BuyerID, res.ExternalReference); err != nil {
			s.logger.Warn("fulfill on poll", "payment_id", payment.ID, "error", err)
		}
		return PollStatusCompleted, nil
	case provider.PollExpired:
		if _, _, err := expirePayment(ctx, s.db, s.paymentRepo, s.orderRepo, payment.ID, s.now()); err != nil {
			s.logger.Error("expire payment", "payment_id", payment.ID, "error", err)
		}
		return PollStatusExpired, nil
	case provider.PollFailed:
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			failed, err := s.paymentRepo.MarkFailed(ctx, tx, payment.ID, s.now())
			if err != nil || !failed {
				return err
			}
			_, err = s.orderRepo.CancelUnpaidByPayment(ctx, tx, payment.ID)
			return err
		})
		if err != nil {
			s.logger.Error("mark payment failed", "payment_id", payment.ID, "error", err)
		}
		return PollStatusFailed, nil
	default:
		return PollStatusPending, nil
	}
}
