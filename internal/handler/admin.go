package handler

import (
	"net/http"
	"time"

	"digital-goods-marketplace/internal/dto"
	"digital-goods-marketplace/internal/middleware"
	"digital-goods-marketplace/internal/service"

	"github.com/labstack/echo/v4"
)

type AdminHandler struct {
	fulfillmentService service.FulfillmentService
	refundService      service.RefundService
	withdrawalService  service.WithdrawalService
	inventoryService   service.InventoryService
	settingsService    service.SettingsService
}

func NewAdminHandler(
	fulfillmentService service.FulfillmentService,
	refundService service.RefundService,
	withdrawalService service.WithdrawalService,
	inventoryService service.InventoryService,
	settingsService service.SettingsService,
) *AdminHandler {
	return &AdminHandler{
		fulfillmentService: fulfillmentService,
		refundService:      refundService,
		withdrawalService:  withdrawalService,
		inventoryService:   inventoryService,
		settingsService:    settingsService,
	}
}

// ConfirmOrder is the manual payment confirmation for rails without a usable webhook.
func (h *AdminHandler) ConfirmOrder(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.AdminConfirmRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	result, err := h.fulfillmentService.AdminConfirm(ctx, c.Param("id"), middleware.UserID(c), req.Reference)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

func (h *AdminHandler) ReleaseOrder(c echo.Context) error {
	ctx := c.Request().Context()

	result, err := h.fulfillmentService.ReleaseOrder(ctx, c.Param("id"), middleware.UserID(c))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

func (h *AdminHandler) ApproveRefund(c echo.Context) error {
	refund, err := h.refundService.ApproveRefund(c.Request().Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, refund)
}

func (h *AdminHandler) RejectRefund(c echo.Context) error {
	refund, err := h.refundService.RejectRefund(c.Request().Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, refund)
}

func (h *AdminHandler) ApproveWithdrawal(c echo.Context) error {
	withdrawal, err := h.withdrawalService.ApproveWithdrawal(c.Request().Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, withdrawal)
}

func (h *AdminHandler) RejectWithdrawal(c echo.Context) error {
	withdrawal, err := h.withdrawalService.RejectWithdrawal(c.Request().Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, withdrawal)
}

func (h *AdminHandler) AddCodes(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.AddCodesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	result, err := h.inventoryService.AddCodes(ctx, c.Param("id"), req.Codes)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, result)
}

func (h *AdminHandler) AddStreamingAccount(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.AddStreamingAccountRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	account, err := h.inventoryService.AddStreamingAccount(ctx, c.Param("id"), req.Credentials, req.MaxProfiles)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"account_id":   account.ID,
		"max_profiles": account.MaxProfiles,
	})
}

func (h *AdminHandler) StockLevel(c echo.Context) error {
	available, err := h.inventoryService.StockLevel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"product_id": c.Param("id"),
		"available":  available,
	})
}

func (h *AdminHandler) GetSettings(c echo.Context) error {
	return c.JSON(http.StatusOK, settingsResponse(h.settingsService.Current()))
}

func (h *AdminHandler) UpdateSettings(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.UpdateSettingsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	saved, err := h.settingsService.Update(ctx, middleware.UserID(c), service.Settings{
		HighValueThreshold:    req.HighValueThreshold,
		ManualReviewThreshold: req.ManualReviewThreshold,
		DeliveryDelayMinutes:  req.DeliveryDelayMinutes,
		CommissionRate:        req.CommissionRate,
		QRWindow:              time.Duration(req.QRWindowMinutes) * time.Minute,
		DepositWindow:         time.Duration(req.DepositWindowMinutes) * time.Minute,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, settingsResponse(saved))
}

func settingsResponse(s service.Settings) *dto.SettingsResponse {
	return &dto.SettingsResponse{
		HighValueThreshold:    s.HighValueThreshold,
		ManualReviewThreshold: s.ManualReviewThreshold,
		DeliveryDelayMinutes:  s.DeliveryDelayMinutes,
		CommissionRate:        s.CommissionRate,
		QRWindowMinutes:       int(s.QRWindow / time.Minute),
		DepositWindowMinutes:  int(s.DepositWindow / time.Minute),
	}
}
