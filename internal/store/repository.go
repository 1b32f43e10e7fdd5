/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * all data access operations required by the ledger-service. By defining an
 * interface, we decouple the application's business logic from the specific
 * database implementation (e.g., PostgreSQL), making the code more modular and
 * easier to test.
 *
 * The central primitive is `RunAtomic`: it executes a function inside one
 * all-or-nothing, conflict-detecting transaction and retries it a bounded
 * number of times when the store detects a concurrent conflicting write. All
 * cross-entity mutations (balance + transaction status, status + audit entry)
 * must go through it.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/circlepay/ledger-service/internal/domain"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrCircleNotFound      = errors.New("circle not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	// ErrTransientConflict is returned by RunAtomic after the bounded retry
	// budget is exhausted. Callers should surface it as a retryable failure.
	ErrTransientConflict = errors.New("transient store conflict")
)

// AtomicOps is the set of operations available inside a RunAtomic callback.
// Every read observes the transaction's snapshot; every write commits or rolls
// back together with the rest of the callback.
type AtomicOps interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	UpdateUserBalance(ctx context.Context, userID string, balance int64) error

	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetTransactionByProviderRef(ctx context.Context, providerRef string) (*domain.Transaction, error)
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	UpdateTransactionStatus(ctx context.Context, id uuid.UUID, status domain.TransactionStatus, completedAt *time.Time) error

	AppendAuditLog(ctx context.Context, entry domain.AuditLogEntry) error
	CreateGuaranteeEvent(ctx context.Context, event domain.GuaranteeEvent) error
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// RunAtomic executes fn inside a single serializable transaction,
	// retrying on conflict up to the configured bound before surfacing
	// ErrTransientConflict.
	RunAtomic(ctx context.Context, fn func(ctx context.Context, ops AtomicOps) error) error

	// Point reads outside of any transaction.
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)

	// Sweep queries. Each overdue transaction is processed independently,
	// so these reads deliberately run outside RunAtomic.
	ListActiveCircles(ctx context.Context) ([]domain.Circle, error)
	ListOverduePendingTransactions(ctx context.Context, circleID string, before time.Time) ([]domain.Transaction, error)

	// Honor score batch. Read-many/write-one per user, no cross-user atomicity.
	ListUserIDs(ctx context.Context) ([]string, error)
	CountTransactionOutcomes(ctx context.Context, userID string) (completed int64, failed int64, err error)
	UpdateUserHonorScore(ctx context.Context, userID string, score float64, updatedAt time.Time) error

	// Account deletion cleanup. Financial records are retained but anonymized.
	DeleteUser(ctx context.Context, userID string) error
	AnonymizeUserTransactions(ctx context.Context, userID string) (int64, error)
}
