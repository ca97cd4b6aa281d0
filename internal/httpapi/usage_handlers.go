package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/diamondstd/cycles/internal/usage"
)

type usageRequest struct {
	Secret string `json:"secret"`
	UserID string `json:"userId"`
}

func (handler *httpHandler) handleConsume(ctx *gin.Context) {
	request, ok := handler.bindUsageRequest(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.StoreTimeout)
	defer cancel()

	receipt, err := handler.usage.Consume(requestCtx, request.UserID)
	switch {
	case errors.Is(err, usage.ErrUnknownUser):
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_user", "user not found"))
	case errors.Is(err, usage.ErrInsufficientCycles):
		ctx.JSON(http.StatusOK, gin.H{
			"success": false,
			"message": "no cycles left, please purchase more",
		})
	case err != nil:
		handler.logger.Error("consume failed", zap.String("user_id", request.UserID), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("store_error", "consume failed"))
	default:
		ctx.JSON(http.StatusOK, gin.H{
			"success":         true,
			"userId":          receipt.UserID,
			"cyclesRemaining": receipt.Remaining,
			"logId":           receipt.LogID,
		})
	}
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	request, ok := handler.bindUsageRequest(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.StoreTimeout)
	defer cancel()

	view, err := handler.usage.Balance(requestCtx, request.UserID)
	switch {
	case errors.Is(err, usage.ErrUnknownUser):
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_user", "user not found"))
	case err != nil:
		handler.logger.Error("balance failed", zap.String("user_id", request.UserID), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("store_error", "balance failed"))
	default:
		ctx.JSON(http.StatusOK, gin.H{
			"success":         true,
			"userId":          view.UserID,
			"cyclesRemaining": view.Cycles,
			"active":          view.Active,
			"lastUsedAt":      view.LastUsedAt,
		})
	}
}

func (handler *httpHandler) bindUsageRequest(ctx *gin.Context) (usageRequest, bool) {
	var request usageRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return usageRequest{}, false
	}
	if !handler.secretMatches(request.Secret) {
		ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "access denied"))
		return usageRequest{}, false
	}
	if strings.TrimSpace(request.UserID) == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("missing_user_id", "userId is required"))
		return usageRequest{}, false
	}
	return request, true
}
