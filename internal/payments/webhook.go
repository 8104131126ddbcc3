// Package payments receives settlement callbacks from the card payment
// gateway and turns them into payment confirmations or cancellations.
//
// Route:
//   - POST /v1/webhooks/stripe
//
// The route is public; callers are authenticated by the Stripe-Signature
// header. Redelivered events are harmless because confirmation and
// cancellation are idempotent per order.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/jobads/internal/ads"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

// MetadataOrderID is the PaymentIntent metadata key carrying our order id.
const MetadataOrderID = "order_id"

const maxBodyBytes = 64 * 1024

// Gateway event types we act on.
const (
	eventSucceeded = "payment_intent.succeeded"
	eventFailed    = "payment_intent.payment_failed"
	eventCanceled  = "payment_intent.canceled"
)

// Settler is the slice of the ads service the webhook drives.
type Settler interface {
	GetPayment(ctx context.Context, orderID string) (*ads.Payment, error)
	ConfirmPayment(ctx context.Context, orderID string) (*ads.Advertisement, error)
	CancelPayment(ctx context.Context, orderID string, failed bool) (*ads.Advertisement, error)
}

// WebhookHandler verifies and applies gateway events.
type WebhookHandler struct {
	settler Settler
	secret  string
	logger  *slog.Logger
}

// NewWebhookHandler creates a handler. An empty secret disables the route.
func NewWebhookHandler(settler Settler, secret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{settler: settler, secret: secret, logger: logger}
}

// RegisterRoutes mounts the public webhook route.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/stripe", h.HandleStripe)
}

// HandleStripe handles POST /v1/webhooks/stripe.
// Only transient failures return 5xx so the gateway retries them.
func (h *WebhookHandler) HandleStripe(c *gin.Context) {
	if h.secret == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "card payments are not configured"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "failed to read body"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(body, c.GetHeader("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.logger.Warn("stripe signature verification failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature", "message": "signature verification failed"})
		return
	}

	switch string(event.Type) {
	case eventSucceeded, eventFailed, eventCanceled:
	default:
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
		return
	}

	var intent stripe.PaymentIntent
	if event.Data == nil || json.Unmarshal(event.Data.Raw, &intent) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed payment intent"})
		return
	}
	orderID := intent.Metadata[MetadataOrderID]
	if orderID == "" {
		h.logger.Warn("stripe event without order id", "event_id", event.ID, "intent_id", intent.ID)
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
		return
	}

	ctx := c.Request.Context()
	switch string(event.Type) {
	case eventSucceeded:
		err = h.succeeded(ctx, orderID, &intent)
	case eventFailed:
		_, err = h.settler.CancelPayment(ctx, orderID, true)
	case eventCanceled:
		_, err = h.settler.CancelPayment(ctx, orderID, false)
	}

	if err != nil {
		if _, status := ads.Classify(err); status >= 500 && !errors.Is(err, ErrAmountMismatch) {
			h.logger.Error("stripe event failed", "event_id", event.ID, "order_id", orderID, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "transient_error", "message": err.Error()})
			return
		}
		// Unknown orders, closed payments and mismatches are acknowledged so
		// the gateway stops redelivering; an operator reconciles them.
		h.logger.Warn("stripe event not applied",
			"event_id", event.ID, "type", event.Type, "order_id", orderID, "error", err)
		c.JSON(http.StatusOK, gin.H{"received": true, "applied": false})
		return
	}

	h.logger.Info("stripe event applied", "event_id", event.ID, "type", event.Type, "order_id", orderID)
	c.JSON(http.StatusOK, gin.H{"received": true, "applied": true})
}

// ErrAmountMismatch is returned when the gateway settled a different
// amount than the order.
var ErrAmountMismatch = errors.New("payments: settled amount does not match order")

func (h *WebhookHandler) succeeded(ctx context.Context, orderID string, intent *stripe.PaymentIntent) error {
	p, err := h.settler.GetPayment(ctx, orderID)
	if err != nil {
		return err
	}
	if intent.Amount != p.Amount {
		return ErrAmountMismatch
	}
	_, err = h.settler.ConfirmPayment(ctx, orderID)
	return err
}
