/**
 * @description
 * Typed errors for the ledger-service application layer. Handlers map these to
 * HTTP statuses with errors.Is; webhook business-logic rejections never become
 * server errors so provider retry behavior stays under control.
 */

package app

import "errors"

var (
	// ErrSignatureInvalid means a webhook payload failed authenticity
	// verification. The event must be rejected without touching the store.
	ErrSignatureInvalid = errors.New("webhook signature verification failed")

	// ErrInvalidArgument covers synchronous request validation failures.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoPaymentMethod means the member has no linked provider customer,
	// so an off-session guarantee charge cannot be attempted.
	ErrNoPaymentMethod = errors.New("user has no linked payment account")
)
