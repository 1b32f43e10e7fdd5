package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/circlepay/ledger-service/internal/domain"
)

func circleObligation(circleID, userID string, due time.Time) domain.Transaction {
	return domain.Transaction{
		ID:       uuid.New(),
		UserID:   userID,
		CircleID: strPtr(circleID),
		Type:     domain.TypeSubscription,
		Status:   domain.StatusPending,
		Amount:   10000,
		Currency: "eur",
		DueDate:  timePtr(due),
	}
}

func fixedSweep(repo *fakeRepository, sink NotificationSink, graceDays int, now time.Time) *GuaranteeSweep {
	s := NewGuaranteeSweep(repo, sink, testLogger(), graceDays)
	s.now = func() time.Time { return now }
	return s
}

func TestSweepTriggersBeyondGracePeriod(t *testing.T) {
	now := time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC)
	repo := newFakeRepository()
	repo.circles = []domain.Circle{{ID: "circle_1", Status: "active", GracePeriodDays: 7}}

	overdue := circleObligation("circle_1", "user_late", now.AddDate(0, 0, -8))
	repo.addTransaction(overdue)

	sink := &fakeSink{}
	sweep := fixedSweep(repo, sink, 7, now)
	if err := sweep.Run(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	stored, err := repo.GetTransaction(context.Background(), overdue.ID)
	if err != nil {
		t.Fatalf("failed to fetch transaction: %v", err)
	}
	if stored.Status != domain.StatusGuaranteeTriggered {
		t.Fatalf("expected guarantee_triggered, got %q", stored.Status)
	}

	if len(repo.auditLog) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(repo.auditLog))
	}
	entry := repo.auditLog[0]
	if entry.Action != "guarantee_triggered" {
		t.Fatalf("expected audit action guarantee_triggered, got %q", entry.Action)
	}
	if entry.Metadata["days_overdue"] != "8" {
		t.Fatalf("expected 8 days overdue in audit metadata, got %q", entry.Metadata["days_overdue"])
	}

	if len(sink.notifications) != 1 {
		t.Fatalf("expected one notification, got %d", len(sink.notifications))
	}
	if sink.notifications[0].UserID != "user_late" {
		t.Fatalf("notification went to %q, want user_late", sink.notifications[0].UserID)
	}
}

func TestSweepExactlyAtGracePeriodDoesNotTrigger(t *testing.T) {
	now := time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC)
	repo := newFakeRepository()
	repo.circles = []domain.Circle{{ID: "circle_1", Status: "active", GracePeriodDays: 7}}

	// Exactly 7 days overdue: inside the grace window, nothing defaults.
	atGrace := circleObligation("circle_1", "user_on_edge", now.AddDate(0, 0, -7))
	repo.addTransaction(atGrace)

	sweep := fixedSweep(repo, &fakeSink{}, 7, now)
	if err := sweep.Run(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	stored, _ := repo.GetTransaction(context.Background(), atGrace.ID)
	if stored.Status != domain.StatusPending {
		t.Fatalf("obligation at grace boundary must stay pending, got %q", stored.Status)
	}
	if len(repo.auditLog) != 0 {
		t.Fatalf("expected no audit entries, got %d", len(repo.auditLog))
	}
}

func TestSweepUsesDefaultGraceWhenCircleHasNone(t *testing.T) {
	now := time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC)
	repo := newFakeRepository()
	repo.circles = []domain.Circle{{ID: "circle_1", Status: "active"}}

	overdue := circleObligation("circle_1", "user_late", now.AddDate(0, 0, -8))
	repo.addTransaction(overdue)

	sweep := fixedSweep(repo, &fakeSink{}, 7, now)
	if err := sweep.Run(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	stored, _ := repo.GetTransaction(context.Background(), overdue.ID)
	if stored.Status != domain.StatusGuaranteeTriggered {
		t.Fatalf("expected default grace period applied, got status %q", stored.Status)
	}
}

func TestSweepSkipsObligationCompletedSinceQuery(t *testing.T) {
	// The atomic re-check: if a payment webhook completes the obligation between
	// the sweep listing and the trigger transaction, the sweep must back off.
	now := time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC)
	repo := newFakeRepository()

	completed := circleObligation("circle_1", "user_paid", now.AddDate(0, 0, -10))
	completed.Status = domain.StatusCompleted
	repo.addTransaction(completed)

	stale := completed
	stale.Status = domain.StatusPending

	sweep := fixedSweep(repo, &fakeSink{}, 7, now)
	if err := sweep.trigger(context.Background(), "circle_1", stale, 10); err != nil {
		t.Fatalf("trigger errored: %v", err)
	}

	stored, _ := repo.GetTransaction(context.Background(), completed.ID)
	if stored.Status != domain.StatusCompleted {
		t.Fatalf("completed obligation must not be re-triggered, got %q", stored.Status)
	}
	if len(repo.auditLog) != 0 {
		t.Fatalf("expected no audit entries, got %d", len(repo.auditLog))
	}
}

func TestSweepFailureOnOneObligationDoesNotBlockOthers(t *testing.T) {
	now := time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC)
	repo := newFakeRepository()
	repo.circles = []domain.Circle{{ID: "circle_1", Status: "active", GracePeriodDays: 7}}

	broken := circleObligation("circle_1", "user_a", now.AddDate(0, 0, -9))
	healthy := circleObligation("circle_1", "user_b", now.AddDate(0, 0, -9))
	repo.addTransaction(broken)
	repo.addTransaction(healthy)
	repo.runAtomicErrFor[broken.ID] = errors.New("row corrupted")

	sweep := fixedSweep(repo, &fakeSink{}, 7, now)
	if err := sweep.Run(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	stored, _ := repo.GetTransaction(context.Background(), healthy.ID)
	if stored.Status != domain.StatusGuaranteeTriggered {
		t.Fatalf("healthy obligation should still trigger, got %q", stored.Status)
	}
}

func TestSweepNotificationFailureDoesNotUndoTrigger(t *testing.T) {
	now := time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC)
	repo := newFakeRepository()
	repo.circles = []domain.Circle{{ID: "circle_1", Status: "active", GracePeriodDays: 7}}

	overdue := circleObligation("circle_1", "user_late", now.AddDate(0, 0, -8))
	repo.addTransaction(overdue)

	sink := &fakeSink{publishErr: errors.New("broker down")}
	sweep := fixedSweep(repo, sink, 7, now)
	if err := sweep.Run(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	stored, _ := repo.GetTransaction(context.Background(), overdue.ID)
	if stored.Status != domain.StatusGuaranteeTriggered {
		t.Fatalf("trigger must survive a notification failure, got %q", stored.Status)
	}
}

func TestSweepReturnsErrorWhenCircleListingFails(t *testing.T) {
	repo := newFakeRepository()
	repo.listCirclesErr = errors.New("store unavailable")

	sweep := NewGuaranteeSweep(repo, &fakeSink{}, testLogger(), 7)
	if err := sweep.Run(context.Background()); err == nil {
		t.Fatal("expected error when circle listing fails")
	}
}
