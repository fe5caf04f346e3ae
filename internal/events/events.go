// Package events announces recorded ledger entries to downstream
// consumers. Publishing is fire-and-forget from the router's point of
// view: a lost announcement never fails or retries the ledger write.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// TopicEntryRecorded carries one message per successfully appended entry.
const TopicEntryRecorded = "ledger.entry_recorded"

// EntryRecorded is the published view of a new ledger entry.
type EntryRecorded struct {
	EntryID    string          `json:"entry_id"`
	Ref        string          `json:"ref"`
	Delta      decimal.Decimal `json:"delta"`
	Reason     string          `json:"reason"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Publisher delivers ledger events to downstream systems.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
}

// LogPublisher writes events to the structured logger. It is the default
// when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher constructs a logging publisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the event instead of delivering it anywhere.
func (p *LogPublisher) Publish(_ context.Context, topic string, event any) error {
	if p == nil || p.logger == nil {
		return nil
	}
	p.logger.Info("ledger event", "topic", topic, "event", event)
	return nil
}
