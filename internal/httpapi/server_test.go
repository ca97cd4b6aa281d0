package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/diamondstd/cycles/internal/store/memkv"
	"github.com/diamondstd/cycles/internal/usage"
	"github.com/diamondstd/cycles/pkg/provision"
)

const testAppSecret = "test-app-secret"

func newTestHandler(test *testing.T, store *memkv.Store) *httpHandler {
	test.Helper()
	cfg := Config{
		ListenAddr:            ":0",
		AppSecret:             testAppSecret,
		HotmartToken:          "hottok-123",
		StripeWebhookSecret:   "whsec_test",
		StoreTimeout:          2 * time.Second,
		MaxAllocationAttempts: provision.DefaultMaxAllocationAttempts,
	}
	provisioner, err := provision.NewService(store, time.Now)
	if err != nil {
		test.Fatalf("provision service init: %v", err)
	}
	usageService, err := usage.NewService(store, time.Now)
	if err != nil {
		test.Fatalf("usage service init: %v", err)
	}
	return &httpHandler{
		logger:      zap.NewNop(),
		provisioner: provisioner,
		usage:       usageService,
		cfg:         cfg,
	}
}

func newTestContext(test *testing.T, method string, path string, body any) (*gin.Context, *httptest.ResponseRecorder) {
	test.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			test.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	request, err := http.NewRequest(method, path, reader)
	if err != nil {
		test.Fatalf("new request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	ctx.Request = request
	return ctx, recorder
}

func seedAccount(test *testing.T, store *memkv.Store, userID string, cycles int64) {
	test.Helper()
	account := provision.Account{Active: true, Cycles: cycles, Email: "a@b.com", CreatedAt: time.Now().UTC()}
	if err := store.AtomicUpdate(context.Background(), map[string]any{provision.AccountPath(userID): account}); err != nil {
		test.Fatalf("seed account: %v", err)
	}
}

func decodeBody(test *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	test.Helper()
	var decoded map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		test.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return decoded
}

func TestConsumeEndpointBurnsOneCycle(test *testing.T) {
	store := memkv.New()
	seedAccount(test, store, "diam-aaaa-bbbb-cccc", 3)
	handler := newTestHandler(test, store)

	ctx, recorder := newTestContext(test, http.MethodPost, "/consume", map[string]any{
		"secret": testAppSecret,
		"userId": "diam-aaaa-bbbb-cccc",
	})
	handler.handleConsume(ctx)

	if recorder.Code != http.StatusOK {
		test.Fatalf("status=%d body=%s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(test, recorder)
	if body["success"] != true {
		test.Fatalf("expected success, got %v", body)
	}
	if body["cyclesRemaining"] != float64(2) {
		test.Fatalf("expected 2 cycles remaining, got %v", body["cyclesRemaining"])
	}
}

func TestConsumeEndpointRejectsBadSecret(test *testing.T) {
	store := memkv.New()
	seedAccount(test, store, "diam-aaaa-bbbb-cccc", 3)
	handler := newTestHandler(test, store)

	ctx, recorder := newTestContext(test, http.MethodPost, "/consume", map[string]any{
		"secret": "wrong",
		"userId": "diam-aaaa-bbbb-cccc",
	})
	handler.handleConsume(ctx)

	if recorder.Code != http.StatusForbidden {
		test.Fatalf("expected 403, got %d", recorder.Code)
	}
}

func TestConsumeEndpointUnknownUser(test *testing.T) {
	handler := newTestHandler(test, memkv.New())
	ctx, recorder := newTestContext(test, http.MethodPost, "/consume", map[string]any{
		"secret": testAppSecret,
		"userId": "diam-0000-0000-0000",
	})
	handler.handleConsume(ctx)

	if recorder.Code != http.StatusNotFound {
		test.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestConsumeEndpointEmptyBalanceIsNotAnError(test *testing.T) {
	store := memkv.New()
	seedAccount(test, store, "diam-aaaa-bbbb-cccc", 0)
	handler := newTestHandler(test, store)

	ctx, recorder := newTestContext(test, http.MethodPost, "/consume", map[string]any{
		"secret": testAppSecret,
		"userId": "diam-aaaa-bbbb-cccc",
	})
	handler.handleConsume(ctx)

	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", recorder.Code)
	}
	body := decodeBody(test, recorder)
	if body["success"] != false {
		test.Fatalf("expected success=false, got %v", body)
	}
}

func TestBalanceEndpointReturnsView(test *testing.T) {
	store := memkv.New()
	seedAccount(test, store, "diam-aaaa-bbbb-cccc", 17)
	handler := newTestHandler(test, store)

	ctx, recorder := newTestContext(test, http.MethodPost, "/balance", map[string]any{
		"secret": testAppSecret,
		"userId": "diam-aaaa-bbbb-cccc",
	})
	handler.handleBalance(ctx)

	if recorder.Code != http.StatusOK {
		test.Fatalf("status=%d body=%s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(test, recorder)
	if body["cyclesRemaining"] != float64(17) || body["active"] != true {
		test.Fatalf("unexpected view: %v", body)
	}
}

func TestBalanceEndpointRequiresUserID(test *testing.T) {
	handler := newTestHandler(test, memkv.New())
	ctx, recorder := newTestContext(test, http.MethodPost, "/balance", map[string]any{
		"secret": testAppSecret,
	})
	handler.handleBalance(ctx)

	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d", recorder.Code)
	}
}
