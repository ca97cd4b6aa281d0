package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"

	"github.com/diamondstd/cycles/internal/store/memkv"
	"github.com/diamondstd/cycles/pkg/provision"
)

const testStripeSecret = "whsec_test"

func stripeCheckoutEvent(test *testing.T, sessionID string, paymentStatus string) []byte {
	test.Helper()
	event := map[string]any{
		"id":          "evt_" + sessionID,
		"type":        "checkout.session.completed",
		"api_version": stripe.APIVersion,
		"data": map[string]any{
			"object": map[string]any{
				"id":             sessionID,
				"payment_status": paymentStatus,
				"status":         "complete",
				"amount_total":   4990,
				"currency":       "brl",
				"customer_details": map[string]any{
					"email": "buyer@example.com",
				},
			},
		},
	}
	raw, err := json.Marshal(event)
	if err != nil {
		test.Fatalf("marshal event: %v", err)
	}
	return raw
}

// signedStripeHeader reproduces the Stripe-Signature scheme: an HMAC-SHA256
// of "<timestamp>.<payload>" keyed with the endpoint secret.
func signedStripeHeader(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func newStripeContext(test *testing.T, payload []byte, signature string) (*gin.Context, *httptest.ResponseRecorder) {
	test.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request, err := http.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	if err != nil {
		test.Fatalf("new request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Stripe-Signature", signature)
	ctx.Request = request
	return ctx, recorder
}

func TestStripeWebhookProvisionsPaidSession(test *testing.T) {
	store := memkv.New()
	handler := newTestHandler(test, store)

	payload := stripeCheckoutEvent(test, "cs_test_1", "paid")
	ctx, recorder := newStripeContext(test, payload, signedStripeHeader(payload, testStripeSecret, time.Now()))
	handler.handleStripeWebhook(ctx)

	if recorder.Code != http.StatusOK {
		test.Fatalf("status=%d body=%s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(test, recorder)
	accountID, ok := body["userId"].(string)
	if !ok || accountID == "" {
		test.Fatalf("expected userId in response, got %v", body)
	}

	var record provision.TransactionRecord
	if err := store.Read(context.Background(), provision.TransactionPath("cs_test_1"), &record); err != nil {
		test.Fatalf("read transaction record: %v", err)
	}
	if record.Email != "buyer@example.com" || record.Amount != 49.9 {
		test.Fatalf("unexpected transaction record: %+v", record)
	}
}

func TestStripeWebhookRejectsForgedSignature(test *testing.T) {
	store := memkv.New()
	handler := newTestHandler(test, store)

	payload := stripeCheckoutEvent(test, "cs_test_2", "paid")
	ctx, recorder := newStripeContext(test, payload, signedStripeHeader(payload, "whsec_wrong", time.Now()))
	handler.handleStripeWebhook(ctx)

	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d", recorder.Code)
	}
	if err := store.Read(context.Background(), provision.TransactionPath("cs_test_2"), &provision.TransactionRecord{}); err == nil {
		test.Fatal("forged delivery must not create a transaction record")
	}
}

func TestStripeWebhookRejectsStaleSignature(test *testing.T) {
	handler := newTestHandler(test, memkv.New())

	payload := stripeCheckoutEvent(test, "cs_test_3", "paid")
	stale := time.Now().Add(-time.Hour)
	ctx, recorder := newStripeContext(test, payload, signedStripeHeader(payload, testStripeSecret, stale))
	handler.handleStripeWebhook(ctx)

	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestStripeWebhookRequiresConfiguredSecret(test *testing.T) {
	handler := newTestHandler(test, memkv.New())
	handler.cfg.StripeWebhookSecret = ""

	payload := stripeCheckoutEvent(test, "cs_test_4", "paid")
	ctx, recorder := newStripeContext(test, payload, signedStripeHeader(payload, testStripeSecret, time.Now()))
	handler.handleStripeWebhook(ctx)

	if recorder.Code != http.StatusServiceUnavailable {
		test.Fatalf("expected 503, got %d", recorder.Code)
	}
}
