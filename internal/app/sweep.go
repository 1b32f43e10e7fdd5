/**
 * @description
 * The overdue guarantee sweep. Runs daily: for every active circle it finds
 * pending obligations whose due date has passed the circle's grace period and
 * drives the default flow for each one.
 *
 * The sweep is deliberately not one global transaction. Each overdue
 * transaction is triggered in its own atomic unit (status transition + audit
 * entry commit together) so a failure on one obligation never blocks the rest.
 * The actual fund transfer to the collective payout is a downstream step owned
 * by an external payout workflow; triggering here only marks the default and
 * records it.
 */

package app

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/circlepay/ledger-service/internal/domain"
	"github.com/circlepay/ledger-service/internal/store"
)

const sweepActor = "guarantee-sweep"

// NotificationSink enqueues user-facing notification records for the external
// push-delivery collaborator.
type NotificationSink interface {
	PublishNotification(ctx context.Context, n domain.Notification) error
}

// GuaranteeSweep scans circles for defaulted obligations.
type GuaranteeSweep struct {
	repo             store.Repository
	notifications    NotificationSink
	logger           *slog.Logger
	defaultGraceDays int
	now              func() time.Time
}

// NewGuaranteeSweep creates a sweep. defaultGraceDays applies to circles that
// have no grace period configured; values below 1 fall back to 7.
func NewGuaranteeSweep(repo store.Repository, notifications NotificationSink, logger *slog.Logger, defaultGraceDays int) *GuaranteeSweep {
	if defaultGraceDays < 1 {
		defaultGraceDays = 7
	}
	return &GuaranteeSweep{
		repo:             repo,
		notifications:    notifications,
		logger:           logger,
		defaultGraceDays: defaultGraceDays,
		now:              time.Now,
	}
}

// Run executes one sweep pass. Errors on individual circles or transactions
// are logged and skipped; the pass itself only fails if the circle listing does.
func (s *GuaranteeSweep) Run(ctx context.Context) error {
	now := s.now()

	circles, err := s.repo.ListActiveCircles(ctx)
	if err != nil {
		s.logger.Error("failed to list active circles", "error", err)
		return err
	}

	var triggered int
	for _, circle := range circles {
		grace := circle.GracePeriodDays
		if grace <= 0 {
			grace = s.defaultGraceDays
		}

		overdue, err := s.repo.ListOverduePendingTransactions(ctx, circle.ID, now)
		if err != nil {
			s.logger.Error("failed to list overdue obligations", "circle_id", circle.ID, "error", err)
			continue
		}

		for _, tx := range overdue {
			if tx.DueDate == nil {
				continue
			}
			daysOverdue := int(now.Sub(*tx.DueDate).Hours() / 24)
			// Strictly greater: exactly at the grace period does not default.
			if daysOverdue <= grace {
				continue
			}

			if err := s.trigger(ctx, circle.ID, tx, daysOverdue); err != nil {
				s.logger.Error("failed to trigger guarantee",
					"circle_id", circle.ID, "transaction_id", tx.ID, "user_id", tx.UserID, "error", err)
				continue
			}
			triggered++

			s.notify(ctx, circle.ID, tx, daysOverdue)
		}
	}

	s.logger.Info("guarantee sweep finished", "circles", len(circles), "triggered", triggered)
	return nil
}

// trigger atomically re-checks the obligation and marks it defaulted. The
// re-check matters: a payment webhook may have completed the transaction
// between the sweep query and this transaction.
func (s *GuaranteeSweep) trigger(ctx context.Context, circleID string, tx domain.Transaction, daysOverdue int) error {
	return s.repo.RunAtomic(ctx, func(ctx context.Context, ops store.AtomicOps) error {
		current, err := ops.GetTransaction(ctx, tx.ID)
		if err != nil {
			return err
		}
		if current.Status != domain.StatusPending {
			return nil
		}

		if err := ops.UpdateTransactionStatus(ctx, tx.ID, domain.StatusGuaranteeTriggered, nil); err != nil {
			return err
		}

		return ops.AppendAuditLog(ctx, domain.AuditLogEntry{
			ID:     uuid.New(),
			Action: "guarantee_triggered",
			Metadata: map[string]string{
				"circle_id":      circleID,
				"user_id":        tx.UserID,
				"transaction_id": tx.ID.String(),
				"days_overdue":   strconv.Itoa(daysOverdue),
			},
			PerformedBy: sweepActor,
			Timestamp:   s.now(),
		})
	})
}

// notify enqueues the user-facing record after the trigger has committed.
// Publishing failures are logged only; the default has already been recorded.
func (s *GuaranteeSweep) notify(ctx context.Context, circleID string, tx domain.Transaction, daysOverdue int) {
	if s.notifications == nil {
		return
	}
	err := s.notifications.PublishNotification(ctx, domain.Notification{
		UserID: tx.UserID,
		Title:  "Guarantee triggered",
		Body:   "Your circle contribution is " + strconv.Itoa(daysOverdue) + " days overdue; the collective guarantee has been activated.",
		Type:   "guarantee_triggered",
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("failed to enqueue guarantee notification",
			"circle_id", circleID, "user_id", tx.UserID, "error", err)
	}
}
