// Package billing routes verified payment events and internal usage
// charges into the ledger and answers wallet balance queries.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coolbits-dm/stripe-billing/internal/credits"
	"github.com/coolbits-dm/stripe-billing/internal/events"
	"github.com/coolbits-dm/stripe-billing/internal/ledger"
	"github.com/coolbits-dm/stripe-billing/internal/stripe"
)

// ErrValidation indicates a malformed or incomplete request that was
// rejected before any ledger write.
var ErrValidation = errors.New("invalid billing request")

// Outcome statuses reported to the transport layer.
const (
	StatusTopUpRecorded = "top_up_recorded"
	StatusIgnored       = "ignored"
)

// Failure-log sources, matching the point in the chain where the original
// payload was still available.
const (
	SourceWebhook = "stripe_webhook"
	SourceUsage   = "usage"
	SourceTopUp   = "topup"
)

// fallbackWalletID receives top-ups whose payment intent carries no
// user_id. A deliberately lenient default: the money is still recorded,
// under a wallet operators can sweep later.
const fallbackWalletID = "anonymous"

// Outcome describes how an inbound processor event was handled.
type Outcome struct {
	Status      string
	WalletID    string
	Credits     decimal.Decimal
	AmountMajor decimal.Decimal
	IgnoredType string
}

// Service is the core boundary consumed by the transport layer. It owns
// no state beyond its injected collaborators and never retries; retries
// are the caller's concern.
type Service struct {
	ledger    ledger.Store
	publisher events.Publisher
	logger    *slog.Logger
}

// NewService wires the billing router over a ledger store. The publisher
// may be nil, in which case recorded entries are not announced.
func NewService(store ledger.Store, publisher events.Publisher, logger *slog.Logger) *Service {
	return &Service{ledger: store, publisher: publisher, logger: logger}
}

// HandleStripeEvent dispatches a verified processor event. Recognized
// top-up signals credit the ledger; every other type is acknowledged and
// ignored, which is an outcome, not an error.
func (s *Service) HandleStripeEvent(ctx context.Context, event stripe.Event) (Outcome, error) {
	s.logger.Info("received stripe event", "type", event.Type, "event_id", event.ID)

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		return s.handlePaymentIntentSucceeded(ctx, event)
	default:
		s.logger.Info("ignored stripe event", "type", event.Type)
		return Outcome{Status: StatusIgnored, IgnoredType: event.Type}, nil
	}
}

func (s *Service) handlePaymentIntentSucceeded(ctx context.Context, event stripe.Event) (Outcome, error) {
	intent, err := event.PaymentIntent()
	if err != nil {
		s.recordFailure(ctx, SourceWebhook, event.ObjectMap(), err)
		return Outcome{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	walletID := intent.Metadata["user_id"]
	if walletID == "" {
		s.logger.Warn("payment intent without user_id, crediting fallback wallet", "payment_intent_id", intent.ID)
		walletID = fallbackWalletID
	}

	amount, err := credits.Normalize(intent.AmountReceived)
	if err != nil {
		s.recordFailure(ctx, SourceWebhook, event.ObjectMap(), err)
		return Outcome{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	amountMajor := credits.MajorUnits(intent.AmountReceived)

	// The original event rides along for audit and replay; the store never
	// interprets it.
	metadata := map[string]any{
		"wallet_id":         walletID,
		"amount_credits":    amount.String(),
		"amount_eur":        amountMajor.String(),
		"source":            "stripe_payment_intent",
		"payment_intent_id": intent.ID,
		"metadata":          event.ObjectMap(),
	}

	entryID, err := s.ledger.RecordTopUp(ctx, walletID, amount, ledger.ReasonStripeTopUp, metadata)
	if err != nil {
		s.logger.Error("top-up write failed", "wallet_id", walletID, "error", err)
		s.recordFailure(ctx, SourceWebhook, event.ObjectMap(), err)
		return Outcome{}, err
	}

	s.logger.Info("top-up recorded", "wallet_id", walletID, "credits", amount.String(), "entry_id", entryID)
	s.announce(ctx, entryID, walletID, amount, ledger.ReasonStripeTopUp)

	return Outcome{
		Status:      StatusTopUpRecorded,
		WalletID:    walletID,
		Credits:     amount,
		AmountMajor: amountMajor,
	}, nil
}

// UsageInput captures an internal usage charge against a wallet.
type UsageInput struct {
	WalletID string
	Amount   decimal.Decimal
	Reason   string
	Metadata map[string]any
}

// RecordUsage debits a wallet for internal consumption. Missing fields are
// caller errors rejected before any store write.
func (s *Service) RecordUsage(ctx context.Context, input UsageInput) (uuid.UUID, error) {
	if input.WalletID == "" {
		return uuid.Nil, fmt.Errorf("%w: wallet_id is required", ErrValidation)
	}
	if input.Amount.Sign() <= 0 {
		return uuid.Nil, fmt.Errorf("%w: amount_credits must be positive", ErrValidation)
	}
	reason := input.Reason
	if reason == "" {
		reason = ledger.ReasonUsageDefault
	}

	entryID, err := s.ledger.RecordUsage(ctx, input.WalletID, input.Amount, reason, input.Metadata)
	if err != nil {
		s.logger.Error("usage write failed", "wallet_id", input.WalletID, "error", err)
		s.recordFailure(ctx, SourceUsage, usagePayload(input), err)
		return uuid.Nil, err
	}

	s.logger.Info("usage recorded", "wallet_id", input.WalletID, "credits", input.Amount.String(), "reason", reason)
	s.announce(ctx, entryID, input.WalletID, input.Amount.Neg(), reason)
	return entryID, nil
}

// TopUpInput captures a manual credit posted by an internal caller, e.g.
// an operator adjustment outside the webhook flow.
type TopUpInput struct {
	WalletID string
	Amount   decimal.Decimal
	Reason   string
	Metadata map[string]any
}

// RecordTopUp credits a wallet directly, bypassing the processor webhook.
func (s *Service) RecordTopUp(ctx context.Context, input TopUpInput) (uuid.UUID, error) {
	if input.WalletID == "" {
		return uuid.Nil, fmt.Errorf("%w: wallet_id is required", ErrValidation)
	}
	if input.Amount.Sign() <= 0 {
		return uuid.Nil, fmt.Errorf("%w: amount_credits must be positive", ErrValidation)
	}
	reason := input.Reason
	if reason == "" {
		reason = ledger.ReasonStripeTopUp
	}

	entryID, err := s.ledger.RecordTopUp(ctx, input.WalletID, input.Amount, reason, input.Metadata)
	if err != nil {
		s.logger.Error("top-up write failed", "wallet_id", input.WalletID, "error", err)
		s.recordFailure(ctx, SourceTopUp, topUpPayload(input), err)
		return uuid.Nil, err
	}

	s.logger.Info("top-up recorded", "wallet_id", input.WalletID, "credits", input.Amount.String(), "reason", reason)
	s.announce(ctx, entryID, input.WalletID, input.Amount, reason)
	return entryID, nil
}

// Balance reports the wallet's current credit balance. An unknown wallet
// has balance zero; a ledger read failure is returned, not masked.
func (s *Service) Balance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	balance, err := s.ledger.Balance(ctx, walletID)
	if err != nil {
		s.logger.Error("balance read failed", "wallet_id", walletID, "error", err)
		return decimal.Zero, err
	}
	return balance, nil
}

// recordFailure is the last line of audit defense: best-effort, and its
// own failure must never mask the error that triggered it.
func (s *Service) recordFailure(ctx context.Context, source string, payload map[string]any, cause error) {
	if _, err := s.ledger.RecordFailure(ctx, source, payload, cause); err != nil {
		s.logger.Error("failure log write lost", "source", source, "original_error", cause, "error", err)
		return
	}
	s.logger.Warn("failure logged to ledger", "source", source, "error", cause)
}

func (s *Service) announce(ctx context.Context, entryID uuid.UUID, ref string, delta decimal.Decimal, reason string) {
	if s.publisher == nil {
		return
	}
	event := events.EntryRecorded{
		EntryID:    entryID.String(),
		Ref:        ref,
		Delta:      delta,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, events.TopicEntryRecorded, event); err != nil {
		s.logger.Warn("entry event publish failed", "entry_id", entryID, "error", err)
	}
}

func usagePayload(input UsageInput) map[string]any {
	return map[string]any{
		"wallet_id":      input.WalletID,
		"amount_credits": input.Amount.String(),
		"reason":         input.Reason,
		"meta":           input.Metadata,
	}
}

func topUpPayload(input TopUpInput) map[string]any {
	return map[string]any{
		"wallet_id":      input.WalletID,
		"amount_credits": input.Amount.String(),
		"reason":         input.Reason,
		"meta":           input.Metadata,
	}
}
