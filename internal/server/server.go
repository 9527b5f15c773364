package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"digital-goods-marketplace/internal/apperror"
	"digital-goods-marketplace/internal/handler"
	"digital-goods-marketplace/internal/middleware"
	"digital-goods-marketplace/internal/model"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

type Handlers struct {
	Order   *handler.OrderHandler
	Webhook *handler.WebhookHandler
	Admin   *handler.AdminHandler
	Account *handler.AccountHandler
	Cron    *handler.CronHandler
}

type Options struct {
	JWTSecret  string
	CronSecret string
	// applied to the buyer poll and the public webhook routes
	Limiter *middleware.RateLimiter
}

type Server struct {
	echo     *echo.Echo
	handlers Handlers
	opts     Options
}

func NewServer(handlers Handlers, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = errorHandler

	logger := slog.Default().With("component", "http")
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
			}
			if v.Error != nil {
				logger.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Info("request", attrs...)
			return nil
		},
	}))
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())

	s := &Server{
		echo:     e,
		handlers: handlers,
		opts:     opts,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})

	limited := []echo.MiddlewareFunc{}
	if s.opts.Limiter != nil {
		limited = append(limited, s.opts.Limiter.Middleware())
	}

	// -------- provider callbacks --------
	api.POST("/webhooks/:provider", s.handlers.Webhook.PaymentWebhook, limited...)
	api.POST("/provisioning/callback", s.handlers.Webhook.ProvisioningCallback)

	// -------- cron --------
	cron := api.Group("/cron", middleware.CronAuth(s.opts.CronSecret))
	cron.POST("/deliver-delayed", s.handlers.Cron.DeliverDelayed)
	cron.POST("/expire-payments", s.handlers.Cron.ExpirePayments)

	// -------- signed in --------
	authed := api.Group("", middleware.AuthMiddleware(s.opts.JWTSecret))

	authed.POST("/orders", s.handlers.Order.Checkout)
	authed.GET("/orders/:id/codes", s.handlers.Order.GetCodes)
	authed.POST("/orders/:id/refund", s.handlers.Order.RequestRefund)
	authed.GET("/payments/:id/status", s.handlers.Order.PaymentStatus, limited...)
	authed.GET("/wallet", s.handlers.Account.GetWallet)
	authed.GET("/notifications", s.handlers.Account.ListNotifications)

	seller := authed.Group("/seller", middleware.RequireRole(model.RoleSeller))
	seller.POST("/withdrawals", s.handlers.Account.RequestWithdrawal)

	admin := authed.Group("/admin", middleware.RequireRole(model.RoleAdmin))
	admin.POST("/orders/:id/confirm", s.handlers.Admin.ConfirmOrder)
	admin.POST("/orders/:id/release", s.handlers.Admin.ReleaseOrder)
	admin.POST("/refunds/:id/approve", s.handlers.Admin.ApproveRefund)
	admin.POST("/refunds/:id/reject", s.handlers.Admin.RejectRefund)
	admin.POST("/withdrawals/:id/approve", s.handlers.Admin.ApproveWithdrawal)
	admin.POST("/withdrawals/:id/reject", s.handlers.Admin.RejectWithdrawal)
	admin.POST("/products/:id/codes", s.handlers.Admin.AddCodes)
	admin.POST("/products/:id/accounts", s.handlers.Admin.AddStreamingAccount)
	admin.GET("/products/:id/stock", s.handlers.Admin.StockLevel)
	admin.GET("/settings", s.handlers.Admin.GetSettings)
	admin.PUT("/settings", s.handlers.Admin.UpdateSettings)
}

// errorHandler renders domain errors with their code; anything unknown is
// logged and answered with a generic 500.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	code := apperror.CodeInternal
	message := "internal server error"

	var appErr *apperror.Error
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &appErr):
		code = appErr.Code
		status = apperror.HTTPStatus(code)
		message = appErr.Message
	case errors.As(err, &httpErr):
		status = httpErr.Code
		code = codeForStatus(status)
		if m, ok := httpErr.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(status)
		}
	}

	if status >= http.StatusInternalServerError {
		slog.Error("unhandled error", "method", c.Request().Method, "uri", c.Request().RequestURI, "error", err)
	}

	body := map[string]interface{}{
		"error": map[string]string{
			"code":    string(code),
			"message": message,
		},
	}
	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(status)
	} else {
		writeErr = c.JSON(status, body)
	}
	if writeErr != nil {
		slog.Error("write error response", "error", writeErr)
	}
}

func codeForStatus(status int) apperror.Code {
	switch status {
	case http.StatusBadRequest:
		return apperror.CodeValidation
	case http.StatusUnauthorized:
		return apperror.CodeUnauthorized
	case http.StatusForbidden:
		return apperror.CodeForbidden
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return apperror.CodeNotFound
	case http.StatusConflict:
		return apperror.CodeConflict
	default:
		return apperror.CodeInternal
	}
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
