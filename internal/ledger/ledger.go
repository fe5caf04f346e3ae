package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrPersistence indicates the underlying storage could not durably record
// or read an entry. Callers must not assume the write happened.
var ErrPersistence = errors.New("ledger persistence failure")

const (
	// ReasonStripeTopUp labels entries credited from a confirmed Stripe payment.
	ReasonStripeTopUp = "Stripe top-up"
	// ReasonUsageDefault labels usage entries that carry no reason of their own.
	ReasonUsageDefault = "usage"

	failedRefPrefix    = "failed::"
	failedReasonPrefix = "FAILED::"
)

// FailureRef builds the synthetic account that collects diagnostic entries
// for events originating from source (e.g. "stripe_webhook", "usage").
func FailureRef(source string) string {
	return failedRefPrefix + source
}

// FailureReason builds the reason string recorded on diagnostic entries.
func FailureReason(source string) string {
	return failedReasonPrefix + source
}

// Entry is a single immutable record in the append-only log. Entries are
// created by exactly one of the store's write operations and never mutated
// or deleted afterwards.
type Entry struct {
	ID        uuid.UUID
	Timestamp time.Time
	Ref       string
	Delta     decimal.Decimal
	Reason    string
	Metadata  map[string]any
}

// Store is the contract implemented by ledger backends (e.g. Postgres).
// Write operations take a non-negative magnitude; the store applies the
// sign so that top-ups always credit and usage always debits.
type Store interface {
	// RecordTopUp appends a positive-delta entry and returns its id.
	RecordTopUp(ctx context.Context, ref string, amount decimal.Decimal, reason string, metadata map[string]any) (uuid.UUID, error)
	// RecordUsage appends a negative-delta entry and returns its id.
	RecordUsage(ctx context.Context, ref string, amount decimal.Decimal, reason string, metadata map[string]any) (uuid.UUID, error)
	// RecordFailure appends a zero-delta diagnostic entry under the
	// failed::<source> account, embedding the original payload and error
	// text alongside a capture timestamp. It never alters any balance.
	RecordFailure(ctx context.Context, source string, payload map[string]any, cause error) (uuid.UUID, error)
	// Balance returns the exact decimal sum of deltas for ref. An account
	// with no entries has balance zero; that is not an error.
	Balance(ctx context.Context, ref string) (decimal.Decimal, error)
}

// failureMetadata assembles the audit payload stored on diagnostic entries.
func failureMetadata(payload map[string]any, cause error) map[string]any {
	return map[string]any{
		"payload": payload,
		"error":   fmt.Sprint(cause),
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
	}
}
