package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/diamondstd/cycles/pkg/provision"
)

const hotmartTokenHeader = "X-Hotmart-Hottok"

type hotmartPayload struct {
	Event  string `json:"event"`
	Token  string `json:"token"`
	Hottok string `json:"hottok"`
	ID     string `json:"id"`
	Email  string `json:"email"`
	Data   struct {
		Purchase struct {
			ID            string `json:"id"`
			TransactionID string `json:"transactionId"`
			Buyer         struct {
				Email string `json:"email"`
			} `json:"buyer"`
			Product struct {
				Name string `json:"name"`
			} `json:"product"`
			Payment struct {
				Value    float64 `json:"value"`
				Currency string  `json:"currency"`
			} `json:"payment"`
		} `json:"purchase"`
	} `json:"data"`
}

func (handler *httpHandler) handleHotmartWebhook(ctx *gin.Context) {
	var payload hotmartPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}

	if handler.cfg.HotmartToken != "" {
		received := ctx.GetHeader(hotmartTokenHeader)
		if received == "" {
			received = firstNonEmpty(payload.Token, payload.Hottok)
		}
		if received != handler.cfg.HotmartToken {
			handler.logger.Warn("hotmart token mismatch")
			ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "invalid hottok"))
			return
		}
	}

	if !strings.EqualFold(payload.Event, "purchase_complete") {
		ctx.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	purchase := payload.Data.Purchase
	transactionID := firstNonEmpty(purchase.ID, purchase.TransactionID, payload.ID)
	email := firstNonEmpty(purchase.Buyer.Email, payload.Email)
	if transactionID == "" || email == "" {
		handler.logger.Warn("hotmart payload missing identifiers",
			zap.String("transaction_id", transactionID))
		ctx.JSON(http.StatusBadRequest, errorResponse("bad_payload", "transaction id and email are required"))
		return
	}

	handler.provisionEvent(ctx, provision.PaymentEvent{
		TransactionID: transactionID,
		Email:         email,
		Product:       purchase.Product.Name,
		Amount:        purchase.Payment.Value,
		Currency:      purchase.Payment.Currency,
		Origin:        originHotmart,
	})
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
