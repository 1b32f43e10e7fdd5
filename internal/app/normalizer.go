/**
 * @description
 * The event normalizer maps provider-specific payment webhooks into the single
 * internal `domain.PaymentOutcome` record the ledger applier consumes. Each
 * provider has its own wire shape and signing scheme, so authenticity
 * verification lives here too: a payload that cannot be verified is rejected
 * with ErrSignatureInvalid before any parsing result reaches shared logic.
 *
 * Unknown or unhandled event subtypes normalize to an ignored outcome: the
 * provider still receives a success acknowledgment, which is what stops retry
 * storms for event types we simply do not care about.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/hex: Signature verification.
 * - encoding/json: Payload decoding.
 * - internal/domain: The PaymentOutcome record and wire shapes.
 */

package app

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/circlepay/ledger-service/internal/domain"
)

const (
	ProviderStripe = "stripe"
	ProviderMomo   = "momo"

	// stripeSignatureTolerance bounds how stale a signed timestamp may be.
	// Replays older than this are rejected even with a valid signature.
	stripeSignatureTolerance = 5 * time.Minute
)

// Normalizer verifies and parses provider webhooks into PaymentOutcome records.
type Normalizer struct {
	stripeSecret string
	momoSecret   string
	now          func() time.Time
}

// NewNormalizer creates a normalizer with the providers' shared webhook secrets.
// An empty momoSecret disables signature verification for the mobile-money
// aggregator, which does not sign payloads on all plans.
func NewNormalizer(stripeSecret, momoSecret string) *Normalizer {
	return &Normalizer{
		stripeSecret: stripeSecret,
		momoSecret:   momoSecret,
		now:          time.Now,
	}
}

// Normalize verifies and parses a raw webhook body for the given provider.
func (n *Normalizer) Normalize(providerID, signatureHeader string, body []byte) (domain.PaymentOutcome, error) {
	switch providerID {
	case ProviderStripe:
		return n.normalizeStripe(signatureHeader, body)
	case ProviderMomo:
		return n.normalizeMomo(signatureHeader, body)
	default:
		return domain.PaymentOutcome{}, fmt.Errorf("%w: unknown provider %q", ErrInvalidArgument, providerID)
	}
}

// normalizeStripe verifies the `Stripe-Signature` header (`t=<ts>,v1=<hex>`;
// HMAC-SHA256 of "<ts>.<body>" under the endpoint secret) and maps
// payment_intent events onto outcome states.
func (n *Normalizer) normalizeStripe(signatureHeader string, body []byte) (domain.PaymentOutcome, error) {
	if err := n.verifyStripeSignature(signatureHeader, body); err != nil {
		return domain.PaymentOutcome{}, err
	}

	var event domain.StripeWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return domain.PaymentOutcome{}, fmt.Errorf("%w: malformed stripe payload: %v", ErrInvalidArgument, err)
	}

	intent := event.Data.Object
	outcome := domain.PaymentOutcome{
		CorrelationKey: intent.ID,
		Provider:       ProviderStripe,
		Currency:       intent.Currency,
	}
	if intent.Amount > 0 {
		amount := intent.Amount
		outcome.Amount = &amount
	}

	switch event.Type {
	case "payment_intent.succeeded":
		outcome.State = domain.OutcomeSucceeded
	case "payment_intent.payment_failed":
		outcome.State = domain.OutcomeFailed
	default:
		outcome.State = domain.OutcomeIgnored
	}
	return outcome, nil
}

func (n *Normalizer) verifyStripeSignature(signatureHeader string, body []byte) error {
	if n.stripeSecret == "" {
		return fmt.Errorf("%w: stripe webhook secret not configured", ErrSignatureInvalid)
	}

	var timestamp string
	var candidates []string
	for _, part := range strings.Split(signatureHeader, ",") {
		pair := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(pair) != 2 {
			continue
		}
		switch pair[0] {
		case "t":
			timestamp = pair[1]
		case "v1":
			candidates = append(candidates, pair[1])
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return fmt.Errorf("%w: missing timestamp or v1 signature", ErrSignatureInvalid)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid signature timestamp", ErrSignatureInvalid)
	}
	age := n.now().Sub(time.Unix(ts, 0))
	if age > stripeSignatureTolerance || age < -stripeSignatureTolerance {
		return fmt.Errorf("%w: signature timestamp outside tolerance", ErrSignatureInvalid)
	}

	mac := hmac.New(sha256.New, []byte(n.stripeSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := mac.Sum(nil)

	for _, candidate := range candidates {
		decoded, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching v1 signature", ErrSignatureInvalid)
}

// normalizeMomo parses the flat Wave / Orange Money payload. When a shared
// secret is configured the aggregator's HMAC-SHA256 hex signature header is
// required; otherwise the payload is accepted as-is.
func (n *Normalizer) normalizeMomo(signatureHeader string, body []byte) (domain.PaymentOutcome, error) {
	if n.momoSecret != "" {
		mac := hmac.New(sha256.New, []byte(n.momoSecret))
		mac.Write(body)
		expected := mac.Sum(nil)

		decoded, err := hex.DecodeString(strings.TrimSpace(signatureHeader))
		if err != nil || !hmac.Equal(decoded, expected) {
			return domain.PaymentOutcome{}, fmt.Errorf("%w: mobile money signature mismatch", ErrSignatureInvalid)
		}
	}

	var event domain.MomoWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return domain.PaymentOutcome{}, fmt.Errorf("%w: malformed mobile money payload: %v", ErrInvalidArgument, err)
	}

	provider := strings.TrimSpace(strings.ToLower(event.Provider))
	if provider == "" {
		provider = ProviderMomo
	}
	outcome := domain.PaymentOutcome{
		CorrelationKey: event.Reference,
		Provider:       provider,
		Currency:       event.Currency,
	}

	switch event.Status {
	case "SUCCEEDED", "complete":
		outcome.State = domain.OutcomeSucceeded
	case "FAILED", "failed":
		outcome.State = domain.OutcomeFailed
	default:
		outcome.State = domain.OutcomeIgnored
	}
	return outcome, nil
}
