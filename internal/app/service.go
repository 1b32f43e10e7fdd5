/**
 * @description
 * This file contains the synchronous business operations of the ledger-service:
 * withdrawal reservation and deleted-user cleanup. The `Service` struct
 * coordinates between the database repository, the card-provider client, the
 * notification sink, and the optional distributed rate limiter.
 *
 * Key features:
 * - Withdrawal reservation debits the wallet and creates the pending payout
 *   record inside one atomic transaction, so the same funds can never be
 *   requested twice while a payout is in flight.
 * - Cleanup retains financial records but severs their link to the person.
 *
 * @dependencies
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/stripeclient: Off-session card charges (guarantee execution).
 */

package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/circlepay/ledger-service/internal/domain"
	"github.com/circlepay/ledger-service/internal/store"
	"github.com/circlepay/ledger-service/pkg/stripeclient"
)

// ProviderCharger is the slice of the card-provider API the service needs.
type ProviderCharger interface {
	CreatePaymentIntent(ctx context.Context, params stripeclient.PaymentIntentParams) (*stripeclient.PaymentIntent, error)
}

// RateLimiter consults a distributed counter before admitting a request.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// ErrRateLimited is returned when a caller exceeds the withdrawal rate limit.
type ErrRateLimited struct {
	RetryAfterSeconds int
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limited; retry after %d seconds", e.RetryAfterSeconds)
}

// Service provides the synchronous business operations of the ledger-service.
type Service struct {
	repo          store.Repository
	charger       ProviderCharger
	notifications NotificationSink
	rateLimiter   RateLimiter
	logger        *slog.Logger

	defaultCurrency          string
	withdrawalLimitPerMinute int
	now                      func() time.Time
}

// NewService creates the application service. rateLimiter may be nil, in which
// case withdrawal rate limiting is disabled.
func NewService(
	repo store.Repository,
	charger ProviderCharger,
	notifications NotificationSink,
	rateLimiter RateLimiter,
	logger *slog.Logger,
	defaultCurrency string,
	withdrawalLimitPerMinute int,
) *Service {
	if defaultCurrency == "" {
		defaultCurrency = "eur"
	}
	return &Service{
		repo:                     repo,
		charger:                  charger,
		notifications:            notifications,
		rateLimiter:              rateLimiter,
		logger:                   logger,
		defaultCurrency:          defaultCurrency,
		withdrawalLimitPerMinute: withdrawalLimitPerMinute,
		now:                      time.Now,
	}
}

// ReserveWithdrawal debits the caller's balance and queues a pending payout in
// one atomic transaction. Funds are locked at request time, before any external
// payout is confirmed. Returns store.ErrInsufficientFunds without mutation when
// the balance does not cover the amount.
func (s *Service) ReserveWithdrawal(ctx context.Context, userID string, req domain.WithdrawalRequest) (*domain.WithdrawalResult, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", ErrInvalidArgument)
	}
	if req.Method == "" {
		return nil, fmt.Errorf("%w: withdrawal method is required", ErrInvalidArgument)
	}

	if s.rateLimiter != nil && s.withdrawalLimitPerMinute > 0 {
		count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, "withdrawal", userID, s.withdrawalLimitPerMinute, time.Minute)
		if err != nil {
			// A limiter outage must not block withdrawals.
			s.logger.Warn("withdrawal rate limiter unavailable", "user_id", userID, "error", err)
		} else if count > s.withdrawalLimitPerMinute {
			return nil, &ErrRateLimited{RetryAfterSeconds: retryAfter}
		}
	}

	var result domain.WithdrawalResult
	err := s.repo.RunAtomic(ctx, func(ctx context.Context, ops store.AtomicOps) error {
		user, err := ops.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if user.Balance < req.Amount {
			return store.ErrInsufficientFunds
		}

		newBalance := user.Balance - req.Amount
		if err := ops.UpdateUserBalance(ctx, userID, newBalance); err != nil {
			return err
		}

		method := req.Method
		tx := &domain.Transaction{
			ID:       uuid.New(),
			UserID:   userID,
			Type:     domain.TypeWithdrawal,
			Status:   domain.StatusPending,
			Amount:   req.Amount,
			Currency: s.defaultCurrency,
			Method:   &method,
		}
		if err := ops.CreateTransaction(ctx, tx); err != nil {
			return err
		}

		result = domain.WithdrawalResult{TransactionID: tx.ID, NewBalance: newBalance}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal reserved",
		"user_id", userID, "transaction_id", result.TransactionID, "amount", req.Amount, "method", req.Method)
	return &result, nil
}

// CleanupDeletedUser removes the user profile and anonymizes their transaction
// history. Financial records are kept for the retention window; only the
// linkage back to the person is removed.
func (s *Service) CleanupDeletedUser(ctx context.Context, userID, performedBy string) error {
	if err := s.repo.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user profile: %w", err)
	}

	anonymized, err := s.repo.AnonymizeUserTransactions(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to anonymize transactions: %w", err)
	}

	err = s.repo.RunAtomic(ctx, func(ctx context.Context, ops store.AtomicOps) error {
		return ops.AppendAuditLog(ctx, domain.AuditLogEntry{
			ID:     uuid.New(),
			Action: "user_deleted",
			Metadata: map[string]string{
				"user_id":                 userID,
				"transactions_anonymized": fmt.Sprintf("%d", anonymized),
			},
			PerformedBy: performedBy,
			Timestamp:   s.now(),
		})
	})
	if err != nil {
		s.logger.Error("failed to audit user deletion", "user_id", userID, "error", err)
	}

	s.logger.Info("user cleanup complete", "user_id", userID, "transactions_anonymized", anonymized)
	return nil
}
