/**
 * @description
 * The idempotent ledger applier: applies a normalized PaymentOutcome to exactly
 * one transaction and its owning user, exactly once, despite at-least-once
 * webhook delivery, provider retries, and concurrent invocations.
 *
 * The whole sequence runs inside Repository.RunAtomic, so the terminal-status
 * check and the balance write commit or abort together. Under concurrent
 * duplicate deliveries for the same correlation key, serializable isolation
 * guarantees at most one invocation performs the credit; every other one
 * re-runs, observes a terminal status, and no-ops.
 */

package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/circlepay/ledger-service/internal/domain"
	"github.com/circlepay/ledger-service/internal/store"
)

// ApplyDisposition describes what the applier did with an outcome.
type ApplyDisposition string

const (
	// Applied: the transaction transitioned and any balance effect was made.
	Applied ApplyDisposition = "applied"
	// AlreadyApplied: the transaction was already terminal; duplicate delivery.
	AlreadyApplied ApplyDisposition = "already_applied"
	// NotFound: no transaction matches the correlation key. Acknowledged so
	// the provider does not retry forever for a record that will never appear.
	NotFound ApplyDisposition = "not_found"
	// Ignored: the outcome was a no-op subtype; nothing to apply.
	Ignored ApplyDisposition = "ignored"
)

// ApplyResult reports the disposition and, when applied, the final state.
type ApplyResult struct {
	Disposition ApplyDisposition
	Status      domain.TransactionStatus
}

// Applier transitions ledger transactions from payment outcomes.
type Applier struct {
	repo   store.Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewApplier creates a ledger applier.
func NewApplier(repo store.Repository, logger *slog.Logger) *Applier {
	return &Applier{repo: repo, logger: logger, now: time.Now}
}

// ApplyOutcome applies one PaymentOutcome to the ledger. A transient store
// conflict that survives the store's own retry budget is returned as
// store.ErrTransientConflict so the caller can signal the provider to retry.
func (a *Applier) ApplyOutcome(ctx context.Context, outcome domain.PaymentOutcome) (ApplyResult, error) {
	if outcome.State == domain.OutcomeIgnored {
		return ApplyResult{Disposition: Ignored}, nil
	}
	if outcome.CorrelationKey == "" {
		a.logger.Warn("payment outcome missing correlation key", "provider", outcome.Provider)
		return ApplyResult{Disposition: NotFound}, nil
	}

	var result ApplyResult
	err := a.repo.RunAtomic(ctx, func(ctx context.Context, ops store.AtomicOps) error {
		tx, err := ops.GetTransactionByProviderRef(ctx, outcome.CorrelationKey)
		if err != nil {
			if errors.Is(err, store.ErrTransactionNotFound) {
				result = ApplyResult{Disposition: NotFound}
				return nil
			}
			return err
		}

		// Idempotency guard: a terminal transaction has already had its
		// balance effect, so later deliveries no-op regardless of order.
		if tx.Status.IsTerminal() {
			result = ApplyResult{Disposition: AlreadyApplied, Status: tx.Status}
			return nil
		}

		switch outcome.State {
		case domain.OutcomeSucceeded:
			completedAt := a.now()
			if err := ops.UpdateTransactionStatus(ctx, tx.ID, domain.StatusCompleted, &completedAt); err != nil {
				return err
			}
			if tx.Type.CreditsBalanceOnCompletion() {
				user, err := ops.GetUser(ctx, tx.UserID)
				if err != nil {
					return err
				}
				if err := ops.UpdateUserBalance(ctx, user.ID, user.Balance+tx.Amount); err != nil {
					return err
				}
			}
			result = ApplyResult{Disposition: Applied, Status: domain.StatusCompleted}
			return nil

		case domain.OutcomeFailed:
			if err := ops.UpdateTransactionStatus(ctx, tx.ID, domain.StatusFailed, nil); err != nil {
				return err
			}
			result = ApplyResult{Disposition: Applied, Status: domain.StatusFailed}
			return nil

		default:
			result = ApplyResult{Disposition: Ignored}
			return nil
		}
	})
	if err != nil {
		return ApplyResult{}, err
	}

	switch result.Disposition {
	case NotFound:
		a.logger.Info("no transaction for correlation key; acknowledging",
			"provider", outcome.Provider, "correlation_key", outcome.CorrelationKey)
	case AlreadyApplied:
		a.logger.Info("duplicate delivery ignored",
			"provider", outcome.Provider, "correlation_key", outcome.CorrelationKey, "status", result.Status)
	}
	return result, nil
}
