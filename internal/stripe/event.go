// Package stripe verifies inbound Stripe webhook deliveries and exposes a
// typed view over the event payloads the billing router dispatches on.
package stripe

import (
	"encoding/json"
	"fmt"
)

// EventTypePaymentIntentSucceeded is the only event type the router
// credits from; everything else is acknowledged and ignored.
const EventTypePaymentIntentSucceeded = "payment_intent.succeeded"

// Event is the structured form of a verified webhook delivery. Data.Object
// stays raw so unknown event shapes pass through untouched; known shapes
// are decoded on demand.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

// EventData wraps the event's primary object.
type EventData struct {
	Object json.RawMessage `json:"object"`
}

// PaymentIntent is the decoded object of a payment_intent.succeeded event.
// AmountReceived is in integer minor currency units.
type PaymentIntent struct {
	ID             string            `json:"id"`
	AmountReceived int64             `json:"amount_received"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
}

// PaymentIntent decodes the event object as a payment intent.
func (e Event) PaymentIntent() (PaymentIntent, error) {
	var intent PaymentIntent
	if err := json.Unmarshal(e.Data.Object, &intent); err != nil {
		return PaymentIntent{}, fmt.Errorf("decode payment intent: %w", err)
	}
	return intent, nil
}

// ObjectMap returns the raw event object as a generic map for audit
// metadata and failure records. Undecodable objects degrade to the raw
// text rather than dropping the payload.
func (e Event) ObjectMap() map[string]any {
	var obj map[string]any
	if err := json.Unmarshal(e.Data.Object, &obj); err != nil {
		return map[string]any{"raw": string(e.Data.Object)}
	}
	return obj
}
