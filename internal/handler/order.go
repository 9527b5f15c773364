package handler

import (
	"net/http"

	"digital-goods-marketplace/internal/dto"
	"digital-goods-marketplace/internal/middleware"
	"digital-goods-marketplace/internal/model"
	"digital-goods-marketplace/internal/service"

	"github.com/labstack/echo/v4"
)

type OrderHandler struct {
	checkoutService  service.CheckoutService
	paymentService   service.PaymentService
	inventoryService service.InventoryService
	refundService    service.RefundService
}

func NewOrderHandler(
	checkoutService service.CheckoutService,
	paymentService service.PaymentService,
	inventoryService service.InventoryService,
	refundService service.RefundService,
) *OrderHandler {
	return &OrderHandler{
		checkoutService:  checkoutService,
		paymentService:   paymentService,
		inventoryService: inventoryService,
		refundService:    refundService,
	}
}

func (h *OrderHandler) Checkout(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	result, err := h.checkoutService.CreateOrder(ctx, middleware.UserID(c), req.Items, model.PaymentMethod(req.PaymentMethod))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, result)
}

func (h *OrderHandler) GetCodes(c echo.Context) error {
	ctx := c.Request().Context()

	result, err := h.inventoryService.RevealCodes(ctx, middleware.UserID(c), c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

func (h *OrderHandler) PaymentStatus(c echo.Context) error {
	ctx := c.Request().Context()

	result, err := h.paymentService.PollPayment(ctx, middleware.UserID(c), c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

func (h *OrderHandler) RequestRefund(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.RefundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	refund, err := h.refundService.RequestRefund(ctx, middleware.UserID(c), c.Param("id"), req.Reason)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, refund)
}
