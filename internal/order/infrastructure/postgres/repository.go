package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderflow/orderflow/internal/order/application"
	"github.com/orderflow/orderflow/internal/order/domain"
	"github.com/orderflow/orderflow/pkg/apperrors"
	"github.com/orderflow/orderflow/pkg/outbox"
	"github.com/orderflow/orderflow/pkg/tracing"
)

const aggregateType = "ORDER"

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

const orderColumns = `id, order_number, customer_id, customer_email, COALESCE(customer_phone,''), status,
	subtotal, tax_amount, total_amount, currency,
	COALESCE(cancellation_reason,''), COALESCE(cancelled_by,''), COALESCE(failure_reason,''), created_at, updated_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.CustomerID, &o.CustomerEmail, &o.CustomerPhone, &o.Status,
		&o.Subtotal, &o.TaxAmount, &o.TotalAmount, &o.Currency,
		&o.CancellationReason, &o.CancelledBy, &o.FailureReason, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("%w: order", apperrors.ErrNotFound)
	}
	return o, err
}

func (r *Repository) GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return domain.Order{}, err
	}
	return r.withItems(ctx, o)
}

func (r *Repository) GetOrderByNumber(ctx context.Context, number string) (domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number=$1`, number))
	if err != nil {
		return domain.Order{}, err
	}
	return r.withItems(ctx, o)
}

func (r *Repository) withItems(ctx context.Context, o domain.Order) (domain.Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT product_id, product_name, product_sku, quantity, unit_price, total_price
		FROM order_items WHERE order_id=$1 ORDER BY id`, o.ID)
	if err != nil {
		return domain.Order{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.ProductSKU, &it.Quantity, &it.UnitPrice, &it.TotalPrice); err != nil {
			return domain.Order{}, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

func (r *Repository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE customer_id=$1 ORDER BY created_at DESC`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repository) ListOrders(ctx context.Context, limit, offset int) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repository) History(ctx context.Context, orderID uuid.UUID) ([]domain.StatusHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, old_status, new_status, COALESCE(reason,''), created_at
		FROM order_status_history WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StatusHistory
	for rows.Next() {
		var h domain.StatusHistory
		if err := rows.Scan(&h.ID, &h.OrderID, &h.OldStatus, &h.NewStatus, &h.Reason, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *Repository) GetSaga(ctx context.Context, orderID uuid.UUID) (domain.SagaState, error) {
	var s domain.SagaState
	err := r.pool.QueryRow(ctx, `
		SELECT id, order_id, status, current_step, payload, started_at, completed_at, updated_at
		FROM saga_states WHERE order_id=$1`, orderID).
		Scan(&s.ID, &s.OrderID, &s.Status, &s.CurrentStep, &s.Payload, &s.StartedAt, &s.CompletedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SagaState{}, fmt.Errorf("%w: saga for order %s", apperrors.ErrNotFound, orderID)
	}
	return s, err
}

// CreateOrder persists the order, its items, the saga row, the first history
// entry and the initial events in one transaction.
func (r *Repository) CreateOrder(ctx context.Context, o domain.Order, saga domain.SagaState, events []application.Message) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `INSERT INTO orders
		(id, order_number, customer_id, customer_email, customer_phone, status,
		 subtotal, tax_amount, total_amount, currency, created_at, updated_at)
		VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8,$9,$10,$11,$11)`,
		o.ID, o.OrderNumber, o.CustomerID, o.CustomerEmail, o.CustomerPhone, o.Status,
		o.Subtotal, o.TaxAmount, o.TotalAmount, o.Currency, o.CreatedAt)
	if err != nil {
		return err
	}

	for _, it := range o.Items {
		_, err = tx.Exec(ctx, `INSERT INTO order_items
			(order_id, product_id, product_name, product_sku, quantity, unit_price, total_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			o.ID, it.ProductID, it.ProductName, it.ProductSKU, it.Quantity, it.UnitPrice, it.TotalPrice)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `INSERT INTO saga_states (id, order_id, status, current_step, started_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		saga.ID, saga.OrderID, saga.Status, saga.CurrentStep, saga.StartedAt, saga.UpdatedAt)
	if err != nil {
		return err
	}

	if err := insertHistory(ctx, tx, o.ID, nil, o.Status, "order created"); err != nil {
		return err
	}
	if err := recordEvents(ctx, tx, o.ID, events); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ApplyTransition commits one saga step. The order status update carries the
// expected current status as a predicate; losing that race rolls everything
// back and reports a conflict.
func (r *Repository) ApplyTransition(ctx context.Context, t application.Transition) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `UPDATE orders
		SET status=$2, failure_reason=COALESCE(NULLIF($3,''), failure_reason),
			cancellation_reason=NULLIF($4,''), cancelled_by=NULLIF($5,''), updated_at=now()
		WHERE id=$1 AND status=$6`,
		t.OrderID, t.Status, t.FailureReason, t.CancellationReason, t.CancelledBy, t.Expect)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: order %s no longer %s", apperrors.ErrConflict, t.OrderID, t.Expect)
	}

	_, err = tx.Exec(ctx, `UPDATE saga_states
		SET status=$2, current_step=$3, completed_at=$4, updated_at=$5
		WHERE order_id=$1`,
		t.OrderID, t.Saga.Status, t.Saga.CurrentStep, t.Saga.CompletedAt, t.Saga.UpdatedAt)
	if err != nil {
		return err
	}

	for _, h := range t.History {
		if err := insertHistory(ctx, tx, t.OrderID, h.From, h.To, h.Reason); err != nil {
			return err
		}
	}
	if err := recordEvents(ctx, tx, t.OrderID, t.Events); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SaveEvents queues events with no accompanying state change.
func (r *Repository) SaveEvents(ctx context.Context, orderID uuid.UUID, events []application.Message) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := recordEvents(ctx, tx, orderID, events); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertHistory(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, from *domain.OrderStatus, to domain.OrderStatus, reason string) error {
	_, err := tx.Exec(ctx, `INSERT INTO order_status_history (order_id, old_status, new_status, reason)
		VALUES ($1,$2,$3,NULLIF($4,''))`, orderID, from, to, reason)
	return err
}

func recordEvents(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, events []application.Message) error {
	for _, ev := range events {
		if err := outbox.Record(ctx, tx, aggregateType, orderID.String(), ev.Type, ev.Payload, tracing.Traceparent(ctx)); err != nil {
			return err
		}
	}
	return nil
}
