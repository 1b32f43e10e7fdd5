/**
 * @description
 * This file defines the core domain models for the ledger-service. These structs
 * represent the main entities used throughout the service's business logic,
 * database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (cents), which
 *   avoids floating-point inaccuracies with financial data.
 * - Transaction status is a closed enumerated type. Whether a status is terminal
 *   is the single authority for whether a balance mutation has already happened,
 *   which is what makes webhook application idempotent.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionStatus enumerates the lifecycle states of a ledger transaction.
type TransactionStatus string

const (
	StatusPending            TransactionStatus = "pending"
	StatusCompleted          TransactionStatus = "completed"
	StatusFailed             TransactionStatus = "failed"
	StatusGuaranteeTriggered TransactionStatus = "guarantee_triggered"
)

// IsTerminal reports whether a transaction in this status may never transition
// again. A terminal transaction has already had its balance effect (or has been
// handed to the guarantee workflow), so later webhook deliveries must no-op.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusGuaranteeTriggered
}

// TransactionType enumerates the kinds of money movement the ledger records.
type TransactionType string

const (
	TypeDeposit      TransactionType = "deposit"
	TypeWithdrawal   TransactionType = "withdrawal"
	TypeSubscription TransactionType = "subscription"
	TypeGuarantee    TransactionType = "guarantee"
)

// CreditsBalanceOnCompletion reports whether completing a transaction of this
// type credits the owning user's wallet. Withdrawals were already debited at
// reservation time; subscription and guarantee charges move funds outside the
// wallet entirely.
func (t TransactionType) CreditsBalanceOnCompletion() bool {
	return t == TypeDeposit
}

// User represents a member of the platform together with their wallet balance
// and reliability score. Mutated only through ledger transactions.
type User struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email,omitempty"`
	Balance            int64      `json:"balance"` // in cents, never negative
	HonorScore         float64    `json:"honor_score"`
	LastScoreUpdate    *time.Time `json:"last_score_update,omitempty"`
	StripeCustomerID   *string    `json:"stripe_customer_id,omitempty"`
	MomoCustomerID     *string    `json:"momo_customer_id,omitempty"`
	SubscriptionActive bool       `json:"subscription_active"`
	Deleted            bool       `json:"deleted"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Transaction is the central ledger record for any money movement. It maps
// directly to the `transactions` table.
type Transaction struct {
	ID          uuid.UUID         `json:"id"`
	UserID      string            `json:"user_id"`
	CircleID    *string           `json:"circle_id,omitempty"`
	Type        TransactionType   `json:"type"`
	Status      TransactionStatus `json:"status"`
	Amount      int64             `json:"amount"` // in cents, unsigned
	Currency    string            `json:"currency"`
	Method      *string           `json:"method,omitempty"`
	ProviderRef *string           `json:"provider_ref,omitempty"` // provider payment-intent id or opaque reference
	DueDate     *time.Time        `json:"due_date,omitempty"`     // set for circle obligations
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// Circle represents a rotating-savings group ("tontine"). The ledger-service
// reads circles; membership and lifecycle are managed elsewhere.
type Circle struct {
	ID              string    `json:"id"`
	Status          string    `json:"status"` // 'active', 'closed'
	GracePeriodDays int       `json:"grace_period_days"`
	MemberIDs       []string  `json:"member_ids"`
	CreatedAt       time.Time `json:"created_at"`
}

// GuaranteeEvent is the immutable record of a triggered guarantee payout.
type GuaranteeEvent struct {
	ID                    uuid.UUID `json:"id"`
	CircleID              string    `json:"circle_id"`
	MemberID              string    `json:"member_id"`
	EventID               string    `json:"event_id,omitempty"`
	Amount                int64     `json:"amount"` // in cents
	Currency              string    `json:"currency"`
	Status                string    `json:"status"`
	Details               string    `json:"details,omitempty"`
	StripePaymentIntentID *string   `json:"stripe_payment_intent_id,omitempty"`
	TriggeredBy           string    `json:"triggered_by"`
	TriggeredAt           time.Time `json:"triggered_at"`
}

// AuditLogEntry is an immutable, append-only record of a sensitive state change.
type AuditLogEntry struct {
	ID          uuid.UUID         `json:"id"`
	Action      string            `json:"action"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	PerformedBy string            `json:"performed_by"`
	Timestamp   time.Time         `json:"timestamp"`
}

// WithdrawalRequest is the DTO for incoming withdrawal reservation API requests.
type WithdrawalRequest struct {
	Amount  int64             `json:"amount"` // in cents
	Method  string            `json:"method"` // e.g. 'bank', 'wave', 'orange_money'
	Details map[string]string `json:"details,omitempty"`
}

// WithdrawalResult is returned after a successful withdrawal reservation.
type WithdrawalResult struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	NewBalance    int64     `json:"new_balance"`
}

// ExecuteGuaranteeRequest is the DTO for the manual guarantee execution call.
type ExecuteGuaranteeRequest struct {
	CircleID string `json:"circle_id"`
	MemberID string `json:"member_id"`
	EventID  string `json:"event_id"`
	Amount   int64  `json:"amount"` // in cents
}

// ExecuteGuaranteeResult reports the outcome of a guarantee execution. When the
// provider demands strong customer authentication, Success is false, Status is
// "requires_action" and ClientSecret lets the app drive the 3DS challenge.
type ExecuteGuaranteeResult struct {
	Success         bool    `json:"success"`
	Status          string  `json:"status"`
	Message         string  `json:"message"`
	PaymentIntentID string  `json:"payment_intent_id,omitempty"`
	ClientSecret    *string `json:"client_secret,omitempty"`
}
