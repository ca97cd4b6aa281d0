// Package httpapi exposes the usage endpoints and the payment-provider
// webhooks over HTTP. Provider signature checks live here; by the time an
// event reaches the provisioning service it is trusted.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	stripeclient "github.com/stripe/stripe-go/v82/client"
	"go.uber.org/zap"

	"github.com/diamondstd/cycles/internal/usage"
	"github.com/diamondstd/cycles/pkg/kv"
	"github.com/diamondstd/cycles/pkg/provision"
)

const (
	originStripe  = "stripe"
	originHotmart = "hotmart"

	maxWebhookBodyBytes = 1 << 20
)

// Run boots the HTTP API over the supplied store and blocks until ctx is done
// or the server fails.
func Run(ctx context.Context, cfg Config, store kv.Store, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	provisioner, err := provision.NewService(store, time.Now,
		provision.WithOperationLogger(&operationLogger{logger: logger}),
		provision.WithMaxAllocationAttempts(cfg.MaxAllocationAttempts),
	)
	if err != nil {
		return fmt.Errorf("provision service init: %w", err)
	}
	usageService, err := usage.NewService(store, time.Now)
	if err != nil {
		return fmt.Errorf("usage service init: %w", err)
	}

	handler := &httpHandler{
		logger:      logger,
		provisioner: provisioner,
		usage:       usageService,
		cfg:         cfg,
	}
	if cfg.StripeAPIKey != "" {
		api := &stripeclient.API{}
		api.Init(cfg.StripeAPIKey, nil)
		handler.stripeClient = api
	}

	router := setupRouter(cfg, handler)
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/consume", handler.handleConsume)
	router.POST("/balance", handler.handleBalance)

	webhooks := router.Group("/webhooks")
	webhooks.POST("/stripe", handler.handleStripeWebhook)
	webhooks.POST("/hotmart", handler.handleHotmartWebhook)

	return router
}

type httpHandler struct {
	logger       *zap.Logger
	provisioner  *provision.Service
	usage        *usage.Service
	cfg          Config
	stripeClient *stripeclient.API
}

// provisionEvent runs the provisioning flow and writes the HTTP response.
// Accepted outcomes (provisioned, already processed, lost concurrent race)
// return 2xx so the provider stops redelivering; everything else returns an
// error status to trigger redelivery.
func (handler *httpHandler) provisionEvent(ctx *gin.Context, event provision.PaymentEvent) (provision.Result, bool) {
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.StoreTimeout)
	defer cancel()

	result, err := handler.provisioner.Provision(requestCtx, event)
	if err != nil {
		if errors.Is(err, provision.ErrMalformedEvent) {
			ctx.JSON(http.StatusBadRequest, errorResponse("bad_payload", "transaction id and email are required"))
			return provision.Result{}, false
		}
		handler.logger.Error("provisioning failed",
			zap.String("transaction_id", event.TransactionID),
			zap.String("origin", event.Origin),
			zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("provisioning_error", "provisioning failed"))
		return provision.Result{}, false
	}

	switch result.Outcome {
	case provision.OutcomeProvisioned:
		ctx.JSON(http.StatusOK, gin.H{"status": string(result.Outcome), "userId": result.AccountID})
	default:
		ctx.JSON(http.StatusOK, gin.H{"status": string(result.Outcome)})
	}
	return result, true
}

func (handler *httpHandler) secretMatches(received string) bool {
	expected := strings.TrimSpace(handler.cfg.AppSecret)
	return expected != "" && strings.TrimSpace(received) == expected
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type operationLogger struct {
	logger *zap.Logger
}

func (adapter *operationLogger) LogOperation(_ context.Context, entry provision.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("transaction_id", entry.TransactionID),
		zap.String("origin", entry.Origin),
		zap.String("outcome", string(entry.Outcome)),
		zap.String("status", entry.Status),
	}
	if entry.AccountID != "" {
		fields = append(fields, zap.String("user_id", entry.AccountID))
	}
	if entry.Error != nil {
		adapter.logger.Error("provision operation", append(fields, zap.Error(entry.Error))...)
		return
	}
	adapter.logger.Info("provision operation", fields...)
}
