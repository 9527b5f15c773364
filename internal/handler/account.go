package handler

import (
	"net/http"
	"strconv"

	"digital-goods-marketplace/internal/dto"
	"digital-goods-marketplace/internal/middleware"
	"digital-goods-marketplace/internal/service"

	"github.com/labstack/echo/v4"
)

// AccountHandler serves the caller's own wallet, notifications and, for
// sellers, withdrawals.
type AccountHandler struct {
	walletService       service.WalletService
	notificationService service.NotificationService
	withdrawalService   service.WithdrawalService
}

func NewAccountHandler(
	walletService service.WalletService,
	notificationService service.NotificationService,
	withdrawalService service.WithdrawalService,
) *AccountHandler {
	return &AccountHandler{
		walletService:       walletService,
		notificationService: notificationService,
		withdrawalService:   withdrawalService,
	}
}

func limitParam(c echo.Context) int {
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}

func (h *AccountHandler) GetWallet(c echo.Context) error {
	ctx := c.Request().Context()
	userID := middleware.UserID(c)

	wallet, err := h.walletService.Balance(ctx, userID)
	if err != nil {
		return err
	}
	history, err := h.walletService.History(ctx, userID, limitParam(c))
	if err != nil {
		return err
	}

	resp := &dto.WalletResponse{
		Balance:      wallet.Balance,
		Currency:     wallet.Currency,
		Transactions: make([]*dto.WalletTransaction, 0, len(history)),
	}
	for _, tx := range history {
		resp.Transactions = append(resp.Transactions, &dto.WalletTransaction{
			ID:            tx.ID,
			Type:          string(tx.Type),
			Amount:        tx.Amount,
			BalanceBefore: tx.BalanceBefore,
			BalanceAfter:  tx.BalanceAfter,
			Reference:     tx.Reference,
			Description:   tx.Description,
			CreatedAt:     tx.CreatedAt,
		})
	}

	return c.JSON(http.StatusOK, resp)
}

func (h *AccountHandler) ListNotifications(c echo.Context) error {
	notifications, err := h.notificationService.List(c.Request().Context(), middleware.UserID(c), limitParam(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, notifications)
}

func (h *AccountHandler) RequestWithdrawal(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.WithdrawalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	withdrawal, err := h.withdrawalService.RequestWithdrawal(ctx, middleware.UserID(c), req.Amount, req.Destination)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, withdrawal)
}
