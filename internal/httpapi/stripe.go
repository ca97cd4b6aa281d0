package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"github.com/diamondstd/cycles/pkg/provision"
)

const stripeSessionMetadataKey = "user_key"

func (handler *httpHandler) handleStripeWebhook(ctx *gin.Context) {
	if handler.cfg.StripeWebhookSecret == "" {
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("not_configured", "stripe webhook secret not configured"))
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "unable to read body"))
		return
	}

	event, err := webhook.ConstructEvent(payload, ctx.GetHeader("Stripe-Signature"), handler.cfg.StripeWebhookSecret)
	if err != nil {
		handler.logger.Warn("stripe signature rejected", zap.Error(err))
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_signature", "webhook signature verification failed"))
		return
	}

	if event.Type != "checkout.session.completed" {
		ctx.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "malformed checkout session"))
		return
	}

	paid := session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
		session.Status == stripe.CheckoutSessionStatusComplete
	if !paid {
		ctx.JSON(http.StatusOK, gin.H{"status": "payment_pending"})
		return
	}

	email := ""
	if session.CustomerDetails != nil {
		email = session.CustomerDetails.Email
	}
	result, ok := handler.provisionEvent(ctx, provision.PaymentEvent{
		TransactionID: session.ID,
		Email:         email,
		Amount:        float64(session.AmountTotal) / 100,
		Currency:      string(session.Currency),
		Origin:        originStripe,
	})
	if !ok || result.Outcome != provision.OutcomeProvisioned {
		return
	}
	handler.attachSessionMetadata(session.ID, result.AccountID)
}

// attachSessionMetadata writes the provisioned account key back onto the
// checkout session. Best effort: the account is already committed, so a
// metadata failure must not turn the webhook response into an error.
func (handler *httpHandler) attachSessionMetadata(sessionID string, accountID string) {
	if handler.stripeClient == nil {
		return
	}
	params := &stripe.CheckoutSessionParams{}
	params.AddMetadata(stripeSessionMetadataKey, accountID)
	if _, err := handler.stripeClient.CheckoutSessions.Update(sessionID, params); err != nil {
		handler.logger.Warn("stripe metadata update failed",
			zap.String("session_id", sessionID),
			zap.String("user_id", accountID),
			zap.Error(err))
	}
}
