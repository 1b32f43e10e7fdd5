/**
 * @description
 * PostgreSQL implementation of the `Repository` interface using the pgx driver.
 * It handles all SQL query execution, data mapping between database rows and
 * domain structs, and the transactional discipline the ledger relies on.
 *
 * Key features:
 * - `RunAtomic` wraps a callback in a SERIALIZABLE transaction and retries it
 *   with jittered backoff when Postgres aborts it for a serialization failure
 *   or deadlock. This is the retry-on-conflict primitive every cross-entity
 *   mutation goes through; first successful commit wins.
 * - Sentinel errors (ErrUserNotFound, ErrTransactionNotFound, ...) let the
 *   application layer branch on outcomes with errors.Is.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pooling.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/circlepay/ledger-service/internal/domain"
)

const defaultMaxTxAttempts = 5

// PostgresRepository provides methods for interacting with the PostgreSQL database.
type PostgresRepository struct {
	db          *pgxpool.Pool
	maxAttempts int
}

// NewPostgresRepository creates a new repository with a database connection pool.
// maxTxAttempts bounds how often RunAtomic retries a conflicting transaction;
// values below 1 fall back to the default of 5.
func NewPostgresRepository(db *pgxpool.Pool, maxTxAttempts int) *PostgresRepository {
	if maxTxAttempts < 1 {
		maxTxAttempts = defaultMaxTxAttempts
	}
	return &PostgresRepository{db: db, maxAttempts: maxTxAttempts}
}

// RunAtomic executes fn inside a serializable transaction. Serialization
// failures (SQLSTATE 40001) and deadlocks (40P01) abort the transaction and
// rerun fn from scratch, so fn must be safe to call multiple times. After the
// retry budget is exhausted the last conflict is surfaced as ErrTransientConflict.
func (r *PostgresRepository) RunAtomic(ctx context.Context, fn func(ctx context.Context, ops AtomicOps) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		err = fn(ctx, &txOps{tx: tx})
		if err == nil {
			err = tx.Commit(ctx)
			if err == nil {
				return nil
			}
		}
		_ = tx.Rollback(ctx)

		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(conflictBackoff(attempt)):
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrTransientConflict, r.maxAttempts, lastErr)
}

// isSerializationFailure reports whether the error is a conflict Postgres asks
// the client to retry: serialization_failure or deadlock_detected.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// conflictBackoff returns a jittered, exponentially growing delay per attempt.
func conflictBackoff(attempt int) time.Duration {
	base := time.Duration(attempt) * 25 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(20 * time.Millisecond)))
	return base + jitter
}

// txOps implements AtomicOps on top of an open pgx transaction.
type txOps struct {
	tx pgx.Tx
}

const userColumns = `id, COALESCE(email, ''), balance, honor_score, last_score_update,
	stripe_customer_id, momo_customer_id, subscription_active, deleted, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID, &user.Email, &user.Balance, &user.HonorScore, &user.LastScoreUpdate,
		&user.StripeCustomerID, &user.MomoCustomerID, &user.SubscriptionActive,
		&user.Deleted, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &user, nil
}

func (o *txOps) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	return scanUser(o.tx.QueryRow(ctx, query, userID))
}

func (o *txOps) UpdateUserBalance(ctx context.Context, userID string, balance int64) error {
	tag, err := o.tx.Exec(ctx,
		`UPDATE users SET balance = $1, updated_at = NOW() WHERE id = $2`,
		balance, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance for user %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

const transactionColumns = `id, user_id, circle_id, type, status, amount, currency,
	method, provider_ref, due_date, created_at, completed_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := row.Scan(
		&tx.ID, &tx.UserID, &tx.CircleID, &tx.Type, &tx.Status, &tx.Amount,
		&tx.Currency, &tx.Method, &tx.ProviderRef, &tx.DueDate, &tx.CreatedAt, &tx.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	return &tx, nil
}

func (o *txOps) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE id = $1`, transactionColumns)
	return scanTransaction(o.tx.QueryRow(ctx, query, id))
}

func (o *txOps) GetTransactionByProviderRef(ctx context.Context, providerRef string) (*domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE provider_ref = $1 LIMIT 1`, transactionColumns)
	return scanTransaction(o.tx.QueryRow(ctx, query, providerRef))
}

func (o *txOps) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, user_id, circle_id, type, status, amount, currency, method, provider_ref, due_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	`
	_, err := o.tx.Exec(ctx, query,
		tx.ID, tx.UserID, tx.CircleID, tx.Type, tx.Status, tx.Amount,
		tx.Currency, tx.Method, tx.ProviderRef, tx.DueDate,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (o *txOps) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, status domain.TransactionStatus, completedAt *time.Time) error {
	tag, err := o.tx.Exec(ctx,
		`UPDATE transactions SET status = $1, completed_at = $2 WHERE id = $3`,
		status, completedAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (o *txOps) AppendAuditLog(ctx context.Context, entry domain.AuditLogEntry) error {
	query := `
		INSERT INTO audit_log (id, action, metadata, performed_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := o.tx.Exec(ctx, query, entry.ID, entry.Action, entry.Metadata, entry.PerformedBy, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append audit log entry: %w", err)
	}
	return nil
}

func (o *txOps) CreateGuaranteeEvent(ctx context.Context, event domain.GuaranteeEvent) error {
	query := `
		INSERT INTO guarantee_events (id, circle_id, member_id, event_id, amount, currency, status, details, stripe_payment_intent_id, triggered_by, triggered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := o.tx.Exec(ctx, query,
		event.ID, event.CircleID, event.MemberID, event.EventID, event.Amount, event.Currency,
		event.Status, event.Details, event.StripePaymentIntentID, event.TriggeredBy, event.TriggeredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert guarantee event: %w", err)
	}
	return nil
}

// --- Non-transactional reads and batch writes ---

func (r *PostgresRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	return scanUser(r.db.QueryRow(ctx, query, userID))
}

func (r *PostgresRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE id = $1`, transactionColumns)
	return scanTransaction(r.db.QueryRow(ctx, query, id))
}

func (r *PostgresRepository) ListActiveCircles(ctx context.Context) ([]domain.Circle, error) {
	query := `
		SELECT c.id, c.status, c.grace_period_days, c.created_at,
			COALESCE(ARRAY_AGG(m.user_id) FILTER (WHERE m.user_id IS NOT NULL), '{}')
		FROM circles c
		LEFT JOIN circle_members m ON m.circle_id = c.id
		WHERE c.status = 'active'
		GROUP BY c.id, c.status, c.grace_period_days, c.created_at
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active circles: %w", err)
	}
	defer rows.Close()

	var circles []domain.Circle
	for rows.Next() {
		var c domain.Circle
		if err := rows.Scan(&c.ID, &c.Status, &c.GracePeriodDays, &c.CreatedAt, &c.MemberIDs); err != nil {
			return nil, fmt.Errorf("failed to scan circle: %w", err)
		}
		circles = append(circles, c)
	}
	return circles, rows.Err()
}

func (r *PostgresRepository) ListOverduePendingTransactions(ctx context.Context, circleID string, before time.Time) ([]domain.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE circle_id = $1 AND status = 'pending' AND due_date IS NOT NULL AND due_date < $2
		ORDER BY due_date ASC
	`, transactionColumns)
	rows, err := r.db.Query(ctx, query, circleID, before)
	if err != nil {
		return nil, fmt.Errorf("failed to query overdue transactions for circle %s: %w", circleID, err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

func (r *PostgresRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM users WHERE deleted = FALSE ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresRepository) CountTransactionOutcomes(ctx context.Context, userID string) (int64, int64, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM transactions
		WHERE user_id = $1 AND status IN ('completed', 'failed')
	`
	var completed, failed int64
	if err := r.db.QueryRow(ctx, query, userID).Scan(&completed, &failed); err != nil {
		return 0, 0, fmt.Errorf("failed to count outcomes for user %s: %w", userID, err)
	}
	return completed, failed, nil
}

func (r *PostgresRepository) UpdateUserHonorScore(ctx context.Context, userID string, score float64, updatedAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET honor_score = $1, last_score_update = $2, updated_at = NOW() WHERE id = $3`,
		score, updatedAt, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to update honor score for user %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteUser(ctx context.Context, userID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET deleted = TRUE, email = NULL, stripe_customer_id = NULL, momo_customer_id = NULL, updated_at = NOW() WHERE id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PostgresRepository) AnonymizeUserTransactions(ctx context.Context, userID string) (int64, error) {
	// Financial records must be retained; we only strip the provider linkage
	// back to the person.
	tag, err := r.db.Exec(ctx,
		`UPDATE transactions SET method = NULL WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to anonymize transactions for user %s: %w", userID, err)
	}
	return tag.RowsAffected(), nil
}
