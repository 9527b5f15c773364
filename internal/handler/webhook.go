package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"digital-goods-marketplace/internal/apperror"
	"digital-goods-marketplace/internal/client"
	"digital-goods-marketplace/internal/dto"
	"digital-goods-marketplace/internal/provider"
	"digital-goods-marketplace/internal/service"

	"github.com/labstack/echo/v4"
)

// webhook bodies are small JSON documents
const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	paymentService     service.PaymentService
	fulfillmentService service.FulfillmentService
	registry           *provider.Registry
	callbackSecret     string
	logger             *slog.Logger
}

func NewWebhookHandler(
	paymentService service.PaymentService,
	fulfillmentService service.FulfillmentService,
	registry *provider.Registry,
	callbackSecret string,
) *WebhookHandler {
	return &WebhookHandler{
		paymentService:     paymentService,
		fulfillmentService: fulfillmentService,
		registry:           registry,
		callbackSecret:     callbackSecret,
		logger:             slog.Default().With("component", "webhooks"),
	}
}

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	return body, nil
}

// PaymentWebhook answers providers the way each expects. Rails that need a
// specific acknowledgement get it whether or not fulfillment went through;
// others see the mapped error status so they retry.
func (h *WebhookHandler) PaymentWebhook(c echo.Context) error {
	ctx := c.Request().Context()
	name := c.Param("provider")

	body, err := readBody(c)
	if err != nil {
		return err
	}

	outcome, err := h.paymentService.HandleWebhook(ctx, name, c.Request().Header, body)
	if errors.Is(err, apperror.ErrVerificationFailed) {
		return err
	}

	if p, lookupErr := h.registry.Get(name); lookupErr == nil {
		if ack, ok := p.(provider.Acknowledger); ok {
			if err != nil {
				h.logger.Error("webhook processing failed", "provider", name, "error", err)
			}
			status, payload := ack.Ack(err == nil)
			return c.JSON(status, payload)
		}
	}

	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"received":  true,
		"duplicate": outcome.Duplicate,
		"results":   outcome.Results,
	})
}

// ProvisioningCallback receives the codes of an asynchronous provider order.
func (h *WebhookHandler) ProvisioningCallback(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := readBody(c)
	if err != nil {
		return err
	}
	if !client.VerifyProvisioningSignature(h.callbackSecret, body, c.Request().Header.Get(client.ProvisioningSignatureHeader)) {
		return apperror.ErrVerificationFailed
	}

	if err := h.HandleProvisioningMessage(ctx, body); err != nil {
		return err
	}

	return c.NoContent(http.StatusOK)
}

// HandleProvisioningMessage is shared by the HTTP callback and the queue consumer.
func (h *WebhookHandler) HandleProvisioningMessage(ctx context.Context, body []byte) error {
	ev, err := parseProvisioningEvent(body)
	if err != nil {
		return err
	}
	return h.fulfillmentService.CompleteProvisioning(ctx, ev)
}

func parseProvisioningEvent(body []byte) (service.ProvisioningEvent, error) {
	var cb dto.ProvisioningCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return service.ProvisioningEvent{}, apperror.Wrap(apperror.CodeValidation, err, "malformed callback")
	}
	if cb.Reference == "" {
		return service.ProvisioningEvent{}, apperror.New(apperror.CodeValidation, "callback without reference")
	}
	return service.ProvisioningEvent{
		Reference: cb.Reference,
		Codes:     cb.Codes,
		Failed:    strings.EqualFold(cb.Status, "FAILED"),
		Reason:    cb.Reason,
	}, nil
}
