package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderflow/orderflow/internal/payment/domain"
	"github.com/orderflow/orderflow/pkg/apperrors"
	"github.com/orderflow/orderflow/pkg/outbox"
	"github.com/orderflow/orderflow/pkg/tracing"
)

const uniqueViolation = "23505"

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

const paymentColumns = `id, order_id, customer_id, amount, currency, method, status,
	COALESCE(transaction_ref,''), retry_count, next_retry_at,
	COALESCE(failure_reason,''), COALESCE(failure_message,''), processed_at, created_at, updated_at`

func scanPayment(row pgx.Row) (domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.CustomerID, &p.Amount, &p.Currency, &p.Method, &p.Status,
		&p.TransactionRef, &p.RetryCount, &p.NextRetryAt,
		&p.FailureReason, &p.FailureMessage, &p.ProcessedAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Payment{}, fmt.Errorf("%w: payment", apperrors.ErrNotFound)
	}
	return p, err
}

func (r *Repository) GetByOrder(ctx context.Context, orderID uuid.UUID) (domain.Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id=$1`, orderID))
}

func (r *Repository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]domain.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE customer_id=$1 ORDER BY created_at DESC`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]domain.Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE status=$1 AND next_retry_at <= $2
		ORDER BY next_retry_at LIMIT $3`, domain.StatusPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ClaimRetry flips a PENDING payment to PROCESSING. The status predicate
// makes overlapping sweeps race for the row; the loser sees zero rows.
func (r *Repository) ClaimRetry(ctx context.Context, id uuid.UUID) (bool, error) {
	ct, err := r.pool.Exec(ctx, `UPDATE payments
		SET status=$2, updated_at=now()
		WHERE id=$1 AND status=$3`,
		id, domain.StatusProcessing, domain.StatusPending)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (r *Repository) Create(ctx context.Context, p domain.Payment) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO payments
		(id, order_id, customer_id, amount, currency, method, status, retry_count, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,0,$8,$8)`,
		p.ID, p.OrderID, p.CustomerID, p.Amount, p.Currency, p.Method, p.Status, p.CreatedAt)
	if isUnique(err) {
		return fmt.Errorf("%w: payment for order %s already exists", apperrors.ErrConflict, p.OrderID)
	}
	return err
}

// SaveWithOutcome writes the settled payment row and, when an outcome is
// given, its announcement event to the outbox in one transaction.
func (r *Repository) SaveWithOutcome(ctx context.Context, p domain.Payment, outcome *domain.PaymentCompletedEvent) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `UPDATE payments
		SET status=$2, transaction_ref=NULLIF($3,''), retry_count=$4, next_retry_at=$5,
			failure_reason=NULLIF($6,''), failure_message=NULLIF($7,''), processed_at=$8, updated_at=$9
		WHERE id=$1`,
		p.ID, p.Status, p.TransactionRef, p.RetryCount, p.NextRetryAt,
		p.FailureReason, p.FailureMessage, p.ProcessedAt, p.UpdatedAt)
	if err != nil {
		return err
	}

	if outcome != nil {
		if err := outbox.Record(ctx, tx, "PAYMENT", p.OrderID.String(), domain.TopicPaymentCompleted, outcome, tracing.Traceparent(ctx)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func isUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
