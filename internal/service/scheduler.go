package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"digital-goods-marketplace/internal/repository"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

const sweepBatchSize = 100

type SweepResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

type ExpireResult struct {
	Expired         int   `json:"expired"`
	CancelledOrders int64 `json:"cancelled_orders"`
}

type SchedulerService interface {
	// SweepDelayed fulfills PROCESSING orders whose delivery time has passed.
	// One order failing never aborts the batch.
	SweepDelayed(ctx context.Context) (*SweepResult, error)
	ExpireStalePayments(ctx context.Context) (*ExpireResult, error)
}

type schedulerServiceImpl struct {
	db          *gorm.DB
	orderRepo   repository.OrderRepository
	paymentRepo repository.PaymentRepository
	fulfillment FulfillmentService
	metrics     *engineMetrics
	logger      *slog.Logger
	now         func() time.Time
}

func NewSchedulerService(
	db *gorm.DB,
	orderRepo repository.OrderRepository,
	paymentRepo repository.PaymentRepository,
	fulfillment FulfillmentService,
) SchedulerService {
	return &schedulerServiceImpl{
		db:          db,
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		fulfillment: fulfillment,
		metrics:     newEngineMetrics(),
		logger:      slog.Default().With("component", "scheduler"),
		now:         utcNow,
	}
}

func (s *schedulerServiceImpl) SweepDelayed(ctx context.Context) (*SweepResult, error) {
	ctx, span := tracer.Start(ctx, "SweepDelayed")
	defer span.End()

	ids, err := s.orderRepo.FindDueDelayedIDs(ctx, s.now(), sweepBatchSize)
	if err != nil {
		return nil, fmt.Errorf("find due orders: %w", err)
	}

	result := &SweepResult{}
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}

		_, err := s.fulfillment.FulfillOrder(ctx, FulfillRequest{
			OrderID:           id,
			TriggeredBy:       "system",
			Trigger:           TriggerSweep,
			ExternalReference: "delayed_" + id,
		})
		if err != nil {
			result.Failed++
			s.metrics.sweepFailures.Add(ctx, 1)
			s.logger.Error("delayed fulfillment failed", "order_id", id, "error", err)
			continue
		}
		result.Processed++
	}

	span.SetAttributes(attribute.Int("processed", result.Processed), attribute.Int("failed", result.Failed))
	if len(ids) > 0 {
		s.logger.Info("delayed sweep done", "due", len(ids), "processed", result.Processed, "failed", result.Failed)
	}
	return result, nil
}

// ExpireStalePayments closes payments whose confirmation window elapsed and
// cancels the orders still waiting on them.
func (s *schedulerServiceImpl) ExpireStalePayments(ctx context.Context) (*ExpireResult, error) {
	now := s.now()
	payments, err := s.paymentRepo.FindExpiredPending(ctx, now, sweepBatchSize)
	if err != nil {
		return nil, fmt.Errorf("find expired payments: %w", err)
	}

	result := &ExpireResult{}
	for _, payment := range payments {
		cancelled, expired, err := expirePayment(ctx, s.db, s.paymentRepo, s.orderRepo, payment.ID, now)
		if err != nil {
			s.logger.Error("expire payment", "payment_id", payment.ID, "error", err)
			continue
		}
		if expired {
			result.Expired++
			result.CancelledOrders += cancelled
		}
	}
	return result, nil
}

func expirePayment(ctx context.Context, db *gorm.DB, paymentRepo repository.PaymentRepository, orderRepo repository.OrderRepository, paymentID string, now time.Time) (int64, bool, error) {
	var cancelled int64
	var expired bool
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		expired, err = paymentRepo.MarkExpired(ctx, tx, paymentID, now)
		if err != nil || !expired {
			return err
		}
		cancelled, err = orderRepo.CancelUnpaidByPayment(ctx, tx, paymentID)
		return err
	})
	return cancelled, expired, err
}
