package billing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coolbits-dm/stripe-billing/internal/ledger"
	"github.com/coolbits-dm/stripe-billing/internal/logging"
	"github.com/coolbits-dm/stripe-billing/internal/stripe"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func paymentIntentEvent(t *testing.T, object string) stripe.Event {
	t.Helper()
	return stripe.Event{
		ID:   "evt_1",
		Type: stripe.EventTypePaymentIntentSucceeded,
		Data: stripe.EventData{Object: json.RawMessage(object)},
	}
}

const succeededIntent = `{"id":"pi_1","amount_received":2500,"currency":"eur","metadata":{"user_id":"w1"}}`

func TestHandleStripeEventRecordsTopUp(t *testing.T) {
	store := ledger.NewInMemory()
	svc := NewService(store, nil, logging.Discard())
	ctx := context.Background()

	outcome, err := svc.HandleStripeEvent(ctx, paymentIntentEvent(t, succeededIntent))
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if outcome.Status != StatusTopUpRecorded {
		t.Fatalf("unexpected status: %s", outcome.Status)
	}
	if outcome.WalletID != "w1" || !outcome.Credits.Equal(dec(t, "25.00")) {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	entries := ledger.EntriesFor(store, "w1")
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if !entries[0].Delta.Equal(dec(t, "25.00")) {
		t.Fatalf("expected delta +25.00, got %s", entries[0].Delta)
	}
	if entries[0].Reason != ledger.ReasonStripeTopUp {
		t.Fatalf("unexpected reason: %s", entries[0].Reason)
	}

	balance, err := svc.Balance(ctx, "w1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(dec(t, "25.00")) {
		t.Fatalf("expected balance 25.00, got %s", balance)
	}
}

func TestUsageAfterTopUp(t *testing.T) {
	store := ledger.NewInMemory()
	svc := NewService(store, nil, logging.Discard())
	ctx := context.Background()

	if _, err := svc.HandleStripeEvent(ctx, paymentIntentEvent(t, succeededIntent)); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if _, err := svc.RecordUsage(ctx, UsageInput{
		WalletID: "w1",
		Amount:   dec(t, "2.14"),
		Reason:   "synthesis",
	}); err != nil {
		t.Fatalf("record usage: %v", err)
	}

	balance, err := svc.Balance(ctx, "w1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(dec(t, "22.86")) {
		t.Fatalf("expected balance 22.86, got %s", balance)
	}
}

func TestHandleStripeEventIgnoresUnknownTypes(t *testing.T) {
	store := ledger.NewInMemory()
	svc := NewService(store, nil, logging.Discard())

	event := stripe.Event{
		ID:   "evt_2",
		Type: "invoice.paid",
		Data: stripe.EventData{Object: json.RawMessage(`{"id":"in_1"}`)},
	}
	outcome, err := svc.HandleStripeEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("ignored event must not error: %v", err)
	}
	if outcome.Status != StatusIgnored || outcome.IgnoredType != "invoice.paid" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

// Replaying a delivery double-credits the wallet. This pins the current
// behavior: there is no dedup on the processor event id, so retries at
// the ledger level are not safe. Known correctness risk.
func TestHandleStripeEventReplayDoubleCredits(t *testing.T) {
	store := ledger.NewInMemory()
	svc := NewService(store, nil, logging.Discard())
	ctx := context.Background()

	event := paymentIntentEvent(t, succeededIntent)
	for i := 0; i < 2; i++ {
		if _, err := svc.HandleStripeEvent(ctx, event); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	balance, err := svc.Balance(ctx, "w1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(dec(t, "50.00")) {
		t.Fatalf("expected replay to double-credit to 50.00, got %s", balance)
	}
	if got := len(ledger.EntriesFor(store, "w1")); got != 2 {
		t.Fatalf("expected 2 entries after replay, got %d", got)
	}
}

func TestHandleStripeEventWithoutUserIDCreditsFallback(t *testing.T) {
	store := ledger.NewInMemory()
	svc := NewService(store, nil, logging.Discard())

	outcome, err := svc.HandleStripeEvent(context.Background(), paymentIntentEvent(t,
		`{"id":"pi_2","amount_received":100,"currency":"eur"}`))
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if outcome.WalletID != "anonymous" {
		t.Fatalf("expected fallback wallet, got %s", outcome.WalletID)
	}
}

func TestRecordUsageValidation(t *testing.T) {
	store := ledger.NewInMemory()
	svc := NewService(store, nil, logging.Discard())
	ctx := context.Background()

	if _, err := svc.RecordUsage(ctx, UsageInput{Amount: dec(t, "1.00")}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing wallet, got %v", err)
	}
	if _, err := svc.RecordUsage(ctx, UsageInput{WalletID: "w1"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing amount, got %v", err)
	}

	// Rejected requests must leave no trace in the ledger.
	if got := len(ledger.EntriesFor(store, "w1")); got != 0 {
		t.Fatalf("validation failure wrote %d entries", got)
	}
	if got := len(ledger.EntriesFor(store, ledger.FailureRef(SourceUsage))); got != 0 {
		t.Fatalf("validation failure wrote %d diagnostic entries", got)
	}
}

// failingStore wraps the in-memory store and rejects primary writes while
// letting diagnostic writes and reads through.
type failingStore struct {
	ledger.Store
	err error
}

func (f *failingStore) RecordTopUp(context.Context, string, decimal.Decimal, string, map[string]any) (uuid.UUID, error) {
	return uuid.Nil, f.err
}

func (f *failingStore) RecordUsage(context.Context, string, decimal.Decimal, string, map[string]any) (uuid.UUID, error) {
	return uuid.Nil, f.err
}

func TestTopUpPersistenceFailureIsRecordedAndPropagated(t *testing.T) {
	inner := ledger.NewInMemory()
	cause := errors.New("connection refused")
	store := &failingStore{Store: inner, err: cause}
	svc := NewService(store, nil, logging.Discard())
	ctx := context.Background()

	before, _ := inner.Balance(ctx, "w1")

	_, err := svc.HandleStripeEvent(ctx, paymentIntentEvent(t, succeededIntent))
	if !errors.Is(err, cause) {
		t.Fatalf("expected the persistence error to propagate, got %v", err)
	}

	diag := ledger.EntriesFor(inner, ledger.FailureRef(SourceWebhook))
	if len(diag) != 1 {
		t.Fatalf("expected exactly 1 failure entry, got %d", len(diag))
	}
	payload, ok := diag[0].Metadata["payload"].(map[string]any)
	if !ok {
		t.Fatalf("failure entry lost the original payload: %#v", diag[0].Metadata)
	}
	if payload["id"] != "pi_1" {
		t.Fatalf("failure payload does not embed the original event: %#v", payload)
	}

	after, _ := inner.Balance(ctx, "w1")
	if !before.Equal(after) {
		t.Fatalf("failed top-up changed balance: %s -> %s", before, after)
	}
}

// brokenStore fails every operation, including the failure log itself.
type brokenStore struct{ err error }

func (b *brokenStore) RecordTopUp(context.Context, string, decimal.Decimal, string, map[string]any) (uuid.UUID, error) {
	return uuid.Nil, b.err
}

func (b *brokenStore) RecordUsage(context.Context, string, decimal.Decimal, string, map[string]any) (uuid.UUID, error) {
	return uuid.Nil, b.err
}

func (b *brokenStore) RecordFailure(context.Context, string, map[string]any, error) (uuid.UUID, error) {
	return uuid.Nil, b.err
}

func (b *brokenStore) Balance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, b.err
}

func TestFailureLogLossDoesNotMaskPrimaryError(t *testing.T) {
	cause := errors.New("storage down")
	svc := NewService(&brokenStore{err: cause}, nil, logging.Discard())

	_, err := svc.RecordUsage(context.Background(), UsageInput{
		WalletID: "w1",
		Amount:   dec(t, "1.00"),
	})
	if !errors.Is(err, cause) {
		t.Fatalf("expected primary error, got %v", err)
	}
}

func TestBalanceReadErrorIsNotZero(t *testing.T) {
	cause := errors.New("storage down")
	svc := NewService(&brokenStore{err: cause}, nil, logging.Discard())

	if _, err := svc.Balance(context.Background(), "w1"); !errors.Is(err, cause) {
		t.Fatalf("expected read error to surface, got %v", err)
	}
}
