package routes

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/coolbits-dm/stripe-billing/internal/config"
	"github.com/coolbits-dm/stripe-billing/internal/logging"
	"github.com/coolbits-dm/stripe-billing/internal/stripe"
)

const webhookSecret = "whsec_test"

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	app := fiber.New()
	cfg := config.Config{
		AppName:             "StripeBilling",
		AppEnv:              "development",
		StripeWebhookSecret: webhookSecret,
	}
	if err := Setup(app, Deps{Cfg: cfg, Logger: logging.Discard()}); err != nil {
		t.Fatalf("setup routes: %v", err)
	}
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, payload string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(payload))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	// Error responses from the default fiber handler are plain text.
	var body map[string]any
	if len(raw) > 0 && json.Unmarshal(raw, &body) != nil {
		body = nil
	}
	return resp.StatusCode, body
}

const intentPayload = `{
    "id": "evt_1",
    "type": "payment_intent.succeeded",
    "data": {"object": {"id": "pi_1", "amount_received": 2500, "currency": "eur", "metadata": {"user_id": "w1"}}}
}`

func signedHeader(payload string) map[string]string {
	header := stripe.NewVerifier(webhookSecret).SignPayload([]byte(payload), time.Now())
	return map[string]string{"Stripe-Signature": header}
}

func TestWebhookTopUpThenUsageThenBalance(t *testing.T) {
	app := newTestApp(t)

	status, body := doJSON(t, app, fiber.MethodPost, "/webhook/stripe", intentPayload, signedHeader(intentPayload))
	if status != fiber.StatusOK {
		t.Fatalf("webhook: expected 200, got %d (%v)", status, body)
	}
	result, _ := body["result"].(map[string]any)
	if result["status"] != "top_up_recorded" || result["wallet_id"] != "w1" {
		t.Fatalf("unexpected webhook result: %v", body)
	}

	status, body = doJSON(t, app, fiber.MethodGet, "/api/v1/wallet/balance/w1", "", nil)
	if status != fiber.StatusOK {
		t.Fatalf("balance: expected 200, got %d", status)
	}
	if body["balance_cbT"] != "25" {
		t.Fatalf("expected balance 25, got %v", body["balance_cbT"])
	}

	usage := `{"wallet_id":"w1","amount_credits":2.14,"reason":"synthesis"}`
	status, body = doJSON(t, app, fiber.MethodPost, "/api/v1/wallet/usage", usage, nil)
	if status != fiber.StatusOK {
		t.Fatalf("usage: expected 200, got %d (%v)", status, body)
	}

	status, body = doJSON(t, app, fiber.MethodGet, "/api/v1/wallet/balance/w1", "", nil)
	if status != fiber.StatusOK {
		t.Fatalf("balance: expected 200, got %d", status)
	}
	if body["balance_cbT"] != "22.86" {
		t.Fatalf("expected balance 22.86, got %v", body["balance_cbT"])
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	app := newTestApp(t)

	status, _ := doJSON(t, app, fiber.MethodPost, "/webhook/stripe", intentPayload,
		map[string]string{"Stripe-Signature": "t=1,v1=deadbeef"})
	if status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}

	status, _ = doJSON(t, app, fiber.MethodPost, "/webhook/stripe", intentPayload, nil)
	if status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 for missing header, got %d", status)
	}
}

func TestWebhookIgnoresUnknownEventTypes(t *testing.T) {
	app := newTestApp(t)

	payload := `{"id":"evt_9","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`
	status, body := doJSON(t, app, fiber.MethodPost, "/webhook/stripe", payload, signedHeader(payload))
	if status != fiber.StatusOK {
		t.Fatalf("ignored event: expected 200, got %d", status)
	}
	result, _ := body["result"].(map[string]any)
	if result["status"] != "ignored" || result["type"] != "invoice.paid" {
		t.Fatalf("unexpected result: %v", body)
	}
}

func TestUsageValidationFailsFast(t *testing.T) {
	app := newTestApp(t)

	status, _ := doJSON(t, app, fiber.MethodPost, "/api/v1/wallet/usage", `{"amount_credits":1.0}`, nil)
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for missing wallet_id, got %d", status)
	}

	status, _ = doJSON(t, app, fiber.MethodPost, "/api/v1/wallet/usage", `{"wallet_id":"w1"}`, nil)
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for missing amount, got %d", status)
	}
}

func TestUnknownWalletBalanceIsZero(t *testing.T) {
	app := newTestApp(t)

	status, body := doJSON(t, app, fiber.MethodGet, "/api/v1/wallet/balance/ghost", "", nil)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body["balance_cbT"] != "0" {
		t.Fatalf("expected zero balance, got %v", body["balance_cbT"])
	}
}
