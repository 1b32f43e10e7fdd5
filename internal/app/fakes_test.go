package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/circlepay/ledger-service/internal/domain"
	"github.com/circlepay/ledger-service/internal/store"
	"github.com/circlepay/ledger-service/pkg/stripeclient"
)

// fakeRepository is an in-memory store.Repository. RunAtomic callbacks are
// serialized by a mutex, which mirrors the serializable-isolation contract of
// the real implementation: two concurrent callbacks can never interleave.
type fakeRepository struct {
	mu sync.Mutex

	users        map[string]*domain.User
	transactions map[uuid.UUID]*domain.Transaction
	circles      []domain.Circle
	auditLog     []domain.AuditLogEntry
	guarantees   []domain.GuaranteeEvent
	honorScores  map[string]float64

	// outcomes maps userID to (completed, failed) counts for the honor pass.
	outcomes map[string][2]int64

	deletedUsers    []string
	anonymizedUsers []string

	// error injection hooks
	listCirclesErr  error
	listOverdueErr  error
	countErr        map[string]error
	updateScoreErr  map[string]error
	runAtomicErr    error
	runAtomicErrFor map[uuid.UUID]error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		users:           make(map[string]*domain.User),
		transactions:    make(map[uuid.UUID]*domain.Transaction),
		honorScores:     make(map[string]float64),
		outcomes:        make(map[string][2]int64),
		countErr:        make(map[string]error),
		updateScoreErr:  make(map[string]error),
		runAtomicErrFor: make(map[uuid.UUID]error),
	}
}

func (r *fakeRepository) addUser(u domain.User) {
	r.users[u.ID] = &u
}

func (r *fakeRepository) addTransaction(tx domain.Transaction) {
	copied := tx
	r.transactions[tx.ID] = &copied
}

func (r *fakeRepository) RunAtomic(ctx context.Context, fn func(ctx context.Context, ops store.AtomicOps) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runAtomicErr != nil {
		return r.runAtomicErr
	}
	return fn(ctx, &fakeOps{repo: r})
}

func (r *fakeRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return (&fakeOps{repo: r}).GetUser(ctx, userID)
}

func (r *fakeRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return (&fakeOps{repo: r}).GetTransaction(ctx, id)
}

func (r *fakeRepository) ListActiveCircles(ctx context.Context) ([]domain.Circle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listCirclesErr != nil {
		return nil, r.listCirclesErr
	}
	return append([]domain.Circle(nil), r.circles...), nil
}

func (r *fakeRepository) ListOverduePendingTransactions(ctx context.Context, circleID string, before time.Time) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listOverdueErr != nil {
		return nil, r.listOverdueErr
	}
	var out []domain.Transaction
	for _, tx := range r.transactions {
		if tx.Status != domain.StatusPending || tx.CircleID == nil || *tx.CircleID != circleID {
			continue
		}
		if tx.DueDate == nil || !tx.DueDate.Before(before) {
			continue
		}
		out = append(out, *tx)
	}
	return out, nil
}

func (r *fakeRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.outcomes))
	for id := range r.outcomes {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *fakeRepository) CountTransactionOutcomes(ctx context.Context, userID string) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.countErr[userID]; err != nil {
		return 0, 0, err
	}
	counts := r.outcomes[userID]
	return counts[0], counts[1], nil
}

func (r *fakeRepository) UpdateUserHonorScore(ctx context.Context, userID string, score float64, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.updateScoreErr[userID]; err != nil {
		return err
	}
	r.honorScores[userID] = score
	return nil
}

func (r *fakeRepository) DeleteUser(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[userID]; !ok {
		return store.ErrUserNotFound
	}
	delete(r.users, userID)
	r.deletedUsers = append(r.deletedUsers, userID)
	return nil
}

func (r *fakeRepository) AnonymizeUserTransactions(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, tx := range r.transactions {
		if tx.UserID == userID {
			tx.UserID = "deleted"
			n++
		}
	}
	r.anonymizedUsers = append(r.anonymizedUsers, userID)
	return n, nil
}

// fakeOps operates directly on the repository maps. The caller already holds
// the repository mutex.
type fakeOps struct {
	repo *fakeRepository
}

func (o *fakeOps) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	u, ok := o.repo.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (o *fakeOps) UpdateUserBalance(ctx context.Context, userID string, balance int64) error {
	u, ok := o.repo.users[userID]
	if !ok {
		return store.ErrUserNotFound
	}
	u.Balance = balance
	return nil
}

func (o *fakeOps) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	if err := o.repo.runAtomicErrFor[id]; err != nil {
		return nil, err
	}
	tx, ok := o.repo.transactions[id]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	copied := *tx
	return &copied, nil
}

func (o *fakeOps) GetTransactionByProviderRef(ctx context.Context, providerRef string) (*domain.Transaction, error) {
	for _, tx := range o.repo.transactions {
		if tx.ProviderRef != nil && *tx.ProviderRef == providerRef {
			copied := *tx
			return &copied, nil
		}
	}
	return nil, store.ErrTransactionNotFound
}

func (o *fakeOps) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	copied := *tx
	o.repo.transactions[tx.ID] = &copied
	return nil
}

func (o *fakeOps) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, status domain.TransactionStatus, completedAt *time.Time) error {
	tx, ok := o.repo.transactions[id]
	if !ok {
		return store.ErrTransactionNotFound
	}
	tx.Status = status
	tx.CompletedAt = completedAt
	return nil
}

func (o *fakeOps) AppendAuditLog(ctx context.Context, entry domain.AuditLogEntry) error {
	o.repo.auditLog = append(o.repo.auditLog, entry)
	return nil
}

func (o *fakeOps) CreateGuaranteeEvent(ctx context.Context, event domain.GuaranteeEvent) error {
	o.repo.guarantees = append(o.repo.guarantees, event)
	return nil
}

// fakeSink records published notifications.
type fakeSink struct {
	mu            sync.Mutex
	notifications []domain.Notification
	publishErr    error
}

func (s *fakeSink) PublishNotification(ctx context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publishErr != nil {
		return s.publishErr
	}
	s.notifications = append(s.notifications, n)
	return nil
}

// fakeCharger records payment intent requests and returns a canned response.
type fakeCharger struct {
	params []stripeclient.PaymentIntentParams
	intent *stripeclient.PaymentIntent
	err    error
}

func (c *fakeCharger) CreatePaymentIntent(ctx context.Context, params stripeclient.PaymentIntentParams) (*stripeclient.PaymentIntent, error) {
	c.params = append(c.params, params)
	if c.err != nil {
		return nil, c.err
	}
	if c.intent == nil {
		return nil, errors.New("charger not configured")
	}
	return c.intent, nil
}

// fakeRateLimiter returns a scripted count and retry hint.
type fakeRateLimiter struct {
	count      int
	retryAfter int
	err        error
	calls      int
}

func (l *fakeRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	l.calls++
	if l.err != nil {
		return 0, 0, l.err
	}
	return l.count, l.retryAfter, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }
