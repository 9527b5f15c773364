package handler

import (
	"context"
	"net/http"
	"time"

	"digital-goods-marketplace/internal/apperror"
	"digital-goods-marketplace/internal/dto"
	"digital-goods-marketplace/internal/service"

	"github.com/labstack/echo/v4"
)

const cronLease = 5 * time.Minute

// Locker keeps two replicas from running the same job at once.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

type CronHandler struct {
	schedulerService service.SchedulerService
	locker           Locker
}

// NewCronHandler accepts a nil locker for single instance deployments.
func NewCronHandler(schedulerService service.SchedulerService, locker Locker) *CronHandler {
	return &CronHandler{
		schedulerService: schedulerService,
		locker:           locker,
	}
}

func (h *CronHandler) lock(ctx context.Context, job string) (func(), error) {
	if h.locker == nil {
		return func() {}, nil
	}
	release, ok, err := h.locker.TryLock(ctx, "cron:"+job, cronLease)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.New(apperror.CodeConflict, "job is already running")
	}
	return release, nil
}

func (h *CronHandler) DeliverDelayed(c echo.Context) error {
	ctx := c.Request().Context()

	release, err := h.lock(ctx, "deliver-delayed")
	if err != nil {
		return err
	}
	defer release()

	result, err := h.schedulerService.SweepDelayed(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, &dto.SweepResponse{
		Processed: result.Processed,
		Failed:    result.Failed,
	})
}

func (h *CronHandler) ExpirePayments(c echo.Context) error {
	ctx := c.Request().Context()

	release, err := h.lock(ctx, "expire-payments")
	if err != nil {
		return err
	}
	defer release()

	result, err := h.schedulerService.ExpireStalePayments(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, &dto.ExpireResponse{
		Expired:         result.Expired,
		CancelledOrders: result.CancelledOrders,
	})
}
