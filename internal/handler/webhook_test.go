package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"digital-goods-marketplace/internal/apperror"
	"digital-goods-marketplace/internal/client"
	"digital-goods-marketplace/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingFulfillment struct {
	service.FulfillmentService
	events []service.ProvisioningEvent
	err    error
}

func (r *recordingFulfillment) CompleteProvisioning(_ context.Context, ev service.ProvisioningEvent) error {
	r.events = append(r.events, ev)
	return r.err
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func callbackContext(body, signature string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/api/provisioning/callback", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(client.ProvisioningSignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func TestProvisioningCallback(t *testing.T) {
	const secret = "cb-secret"

	t.Run("signed success", func(t *testing.T) {
		fulfillment := &recordingFulfillment{}
		h := NewWebhookHandler(nil, fulfillment, nil, secret)

		body := `{"reference":"prov-1","status":"SUCCESS","codes":["A","B"]}`
		c, rec := callbackContext(body, sign(secret, body))
		require.NoError(t, h.ProvisioningCallback(c))
		assert.Equal(t, http.StatusOK, rec.Code)

		require.Len(t, fulfillment.events, 1)
		assert.Equal(t, "prov-1", fulfillment.events[0].Reference)
		assert.Equal(t, []string{"A", "B"}, fulfillment.events[0].Codes)
		assert.False(t, fulfillment.events[0].Failed)
	})

	t.Run("signed failure", func(t *testing.T) {
		fulfillment := &recordingFulfillment{}
		h := NewWebhookHandler(nil, fulfillment, nil, secret)

		body := `{"reference":"prov-2","status":"failed","reason":"sku retired"}`
		c, _ := callbackContext(body, sign(secret, body))
		require.NoError(t, h.ProvisioningCallback(c))

		require.Len(t, fulfillment.events, 1)
		assert.True(t, fulfillment.events[0].Failed)
		assert.Equal(t, "sku retired", fulfillment.events[0].Reason)
	})

	t.Run("bad signature", func(t *testing.T) {
		fulfillment := &recordingFulfillment{}
		h := NewWebhookHandler(nil, fulfillment, nil, secret)

		body := `{"reference":"prov-3","status":"SUCCESS","codes":["A"]}`
		c, _ := callbackContext(body, sign("other", body))
		err := h.ProvisioningCallback(c)
		assert.ErrorIs(t, err, apperror.ErrVerificationFailed)
		assert.Empty(t, fulfillment.events)
	})

	t.Run("missing reference", func(t *testing.T) {
		fulfillment := &recordingFulfillment{}
		h := NewWebhookHandler(nil, fulfillment, nil, secret)

		body := `{"status":"SUCCESS"}`
		c, _ := callbackContext(body, sign(secret, body))
		err := h.ProvisioningCallback(c)
		assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))
		assert.Empty(t, fulfillment.events)
	})
}

func TestHandleProvisioningMessage_Queue(t *testing.T) {
	fulfillment := &recordingFulfillment{err: apperror.New(apperror.CodeNotFound, "unknown provisioning reference")}
	h := NewWebhookHandler(nil, fulfillment, nil, "")

	err := h.HandleProvisioningMessage(context.Background(), []byte(`{"reference":"prov-9","status":"SUCCESS","codes":["Z"]}`))
	assert.Equal(t, apperror.CodeNotFound, apperror.CodeOf(err))
	require.Len(t, fulfillment.events, 1)

	err = h.HandleProvisioningMessage(context.Background(), []byte(`not json`))
	assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))
}
