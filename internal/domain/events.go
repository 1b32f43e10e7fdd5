/**
 * @description
 * Wire-level payloads for the ledger-service: the internal PaymentOutcome that
 * every provider webhook is normalized into, the provider-specific webhook
 * shapes, and the notification records published for the push-delivery
 * collaborator.
 */

package domain

import "encoding/json"

// OutcomeState is the normalized result of a provider payment event.
type OutcomeState string

const (
	OutcomeSucceeded OutcomeState = "succeeded"
	OutcomeFailed    OutcomeState = "failed"
	// OutcomeIgnored marks event subtypes we do not handle. The webhook is
	// still acknowledged with success so the provider stops retrying.
	OutcomeIgnored OutcomeState = "ignored"
)

// PaymentOutcome is the single internal representation of an asynchronous
// payment event, whichever provider it came from.
type PaymentOutcome struct {
	CorrelationKey string       `json:"correlation_key"`
	State          OutcomeState `json:"state"`
	Provider       string       `json:"provider"` // 'stripe', 'wave', 'orange_money'
	Amount         *int64       `json:"amount,omitempty"`
	Currency       string       `json:"currency,omitempty"`
}

// StripeWebhookEvent mirrors the envelope Stripe posts to our webhook endpoint.
// Only the fields the ledger cares about are decoded.
type StripeWebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object StripePaymentIntent `json:"object"`
	} `json:"data"`
}

// StripePaymentIntent is the nested payment-intent object inside a Stripe event.
type StripePaymentIntent struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// MomoWebhookEvent is the flat payload posted by the Wave / Orange Money
// aggregator: `{ "reference": ..., "status": ..., "provider": ... }`.
type MomoWebhookEvent struct {
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Provider  string          `json:"provider"`
	Amount    json.RawMessage `json:"amount,omitempty"`
	Currency  string          `json:"currency,omitempty"`
}

// Notification is the append-only record published to the notification sink
// and consumed by the external push-delivery collaborator.
type Notification struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Type   string `json:"type"`
}
