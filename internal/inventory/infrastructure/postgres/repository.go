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

	"github.com/orderflow/orderflow/internal/inventory/application"
	"github.com/orderflow/orderflow/internal/inventory/domain"
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

const inventoryColumns = `id, product_id, product_name, sku, total_quantity, reserved_quantity, min_stock_level, is_active, version, created_at, updated_at`

func scanInventory(row pgx.Row) (domain.Inventory, error) {
	var inv domain.Inventory
	err := row.Scan(&inv.ID, &inv.ProductID, &inv.ProductName, &inv.SKU, &inv.TotalQuantity,
		&inv.ReservedQuantity, &inv.MinStockLevel, &inv.Active, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Inventory{}, fmt.Errorf("%w: inventory", apperrors.ErrNotFound)
	}
	return inv, err
}

func (r *Repository) GetInventory(ctx context.Context, productID uuid.UUID) (domain.Inventory, error) {
	return scanInventory(r.pool.QueryRow(ctx,
		`SELECT `+inventoryColumns+` FROM inventories WHERE product_id=$1`, productID))
}

func (r *Repository) GetInventoryBySKU(ctx context.Context, sku string) (domain.Inventory, error) {
	return scanInventory(r.pool.QueryRow(ctx,
		`SELECT `+inventoryColumns+` FROM inventories WHERE sku=$1`, sku))
}

func (r *Repository) ListActive(ctx context.Context) ([]domain.Inventory, error) {
	return r.listInventories(ctx, `SELECT `+inventoryColumns+` FROM inventories WHERE is_active ORDER BY sku`)
}

func (r *Repository) ListLowStock(ctx context.Context) ([]domain.Inventory, error) {
	return r.listInventories(ctx, `SELECT `+inventoryColumns+` FROM inventories
		WHERE is_active AND total_quantity - reserved_quantity <= min_stock_level ORDER BY sku`)
}

func (r *Repository) listInventories(ctx context.Context, query string) ([]domain.Inventory, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Inventory
	for rows.Next() {
		inv, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *Repository) CreateInventory(ctx context.Context, inv domain.Inventory, movement *domain.Movement) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `INSERT INTO inventories
		(id, product_id, product_name, sku, total_quantity, reserved_quantity, min_stock_level, is_active, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,0,$6,$7,0,$8,$8)`,
		inv.ID, inv.ProductID, inv.ProductName, inv.SKU, inv.TotalQuantity, inv.MinStockLevel, inv.Active, inv.CreatedAt)
	if err != nil {
		if isUnique(err) {
			return fmt.Errorf("%w: inventory for product %s already exists", apperrors.ErrConflict, inv.ProductID)
		}
		return err
	}

	if movement != nil {
		if err := insertMovement(ctx, tx, *movement); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// UpdateInventory writes a single stock row under its version check and
// appends the movement in the same transaction.
func (r *Repository) UpdateInventory(ctx context.Context, inv domain.Inventory, movement domain.Movement) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := casInventory(ctx, tx, inv); err != nil {
		return err
	}
	if err := insertMovement(ctx, tx, movement); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) GetReservation(ctx context.Context, orderID uuid.UUID) (domain.Reservation, error) {
	var res domain.Reservation
	err := r.pool.QueryRow(ctx, `
		SELECT id, order_id, status, expires_at, confirmed_at, released_at, COALESCE(release_reason,''), created_at, updated_at
		FROM reservations WHERE order_id=$1`, orderID).
		Scan(&res.ID, &res.OrderID, &res.Status, &res.ExpiresAt, &res.ConfirmedAt, &res.ReleasedAt,
			&res.ReleaseReason, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, fmt.Errorf("%w: reservation for order %s", apperrors.ErrNotFound, orderID)
	}
	if err != nil {
		return domain.Reservation{}, err
	}

	rows, err := r.pool.Query(ctx, `SELECT product_id, quantity FROM reservation_items WHERE reservation_id=$1 ORDER BY id`, res.ID)
	if err != nil {
		return domain.Reservation{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.ReservationItem
		if err := rows.Scan(&item.ProductID, &item.Quantity); err != nil {
			return domain.Reservation{}, err
		}
		res.Items = append(res.Items, item)
	}
	return res, rows.Err()
}

func (r *Repository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, expires_at FROM reservations
		WHERE status=$1 AND expires_at < $2
		ORDER BY expires_at LIMIT $3`, domain.ReservationPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		res := domain.Reservation{Status: domain.ReservationPending}
		if err := rows.Scan(&res.ID, &res.OrderID, &res.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// ApplyReservation commits the reservation, the stock increments, the
// movements and the success outcome event as one unit. Any version miss
// rolls the whole thing back.
func (r *Repository) ApplyReservation(ctx context.Context, res domain.Reservation, updates []domain.Inventory, movements []domain.Movement, outcome domain.InventoryReservedEvent) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `INSERT INTO reservations (id, order_id, status, expires_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)`,
		res.ID, res.OrderID, res.Status, res.ExpiresAt, res.CreatedAt)
	if err != nil {
		if isUnique(err) {
			return fmt.Errorf("%w: reservation for order %s already exists", apperrors.ErrConflict, res.OrderID)
		}
		return err
	}

	for _, item := range res.Items {
		_, err = tx.Exec(ctx, `INSERT INTO reservation_items (reservation_id, product_id, quantity) VALUES ($1,$2,$3)`,
			res.ID, item.ProductID, item.Quantity)
		if err != nil {
			return err
		}
	}

	for _, inv := range updates {
		if err := casInventory(ctx, tx, inv); err != nil {
			return err
		}
	}
	for _, m := range movements {
		if err := insertMovement(ctx, tx, m); err != nil {
			return err
		}
	}

	if err := outbox.Record(ctx, tx, "INVENTORY", res.OrderID.String(), domain.TopicInventoryReserved, outcome, tracing.Traceparent(ctx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FinalizeReservation moves a PENDING reservation to CONFIRMED or RELEASED.
// The status predicate doubles as a guard against concurrent finalizers.
func (r *Repository) FinalizeReservation(ctx context.Context, res domain.Reservation, updates []domain.Inventory, movements []domain.Movement) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `UPDATE reservations
		SET status=$2, confirmed_at=$3, released_at=$4, release_reason=NULLIF($5,''), updated_at=$6
		WHERE id=$1 AND status=$7`,
		res.ID, res.Status, res.ConfirmedAt, res.ReleasedAt, res.ReleaseReason, res.UpdatedAt, domain.ReservationPending)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: reservation %s no longer pending", apperrors.ErrConflict, res.ID)
	}

	for _, inv := range updates {
		if err := casInventory(ctx, tx, inv); err != nil {
			return err
		}
	}
	for _, m := range movements {
		if err := insertMovement(ctx, tx, m); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// SaveReservationOutcome records a failure outcome when no state changed.
// Still goes through the outbox so the reply obeys the same ordering and
// delivery guarantees as everything else.
func (r *Repository) SaveReservationOutcome(ctx context.Context, orderID uuid.UUID, outcome domain.InventoryReservedEvent) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := outbox.Record(ctx, tx, "INVENTORY", orderID.String(), domain.TopicInventoryReserved, outcome, tracing.Traceparent(ctx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) MovementsByProduct(ctx context.Context, productID uuid.UUID) ([]domain.Movement, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, product_id, movement_type, quantity, reference_id, COALESCE(reference_type,''), COALESCE(notes,''), created_at
		FROM inventory_movements WHERE product_id=$1 ORDER BY created_at DESC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Movement
	for rows.Next() {
		var m domain.Movement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Type, &m.Quantity, &m.ReferenceID, &m.ReferenceType, &m.Notes, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func casInventory(ctx context.Context, tx pgx.Tx, inv domain.Inventory) error {
	ct, err := tx.Exec(ctx, `UPDATE inventories
		SET total_quantity=$2, reserved_quantity=$3, min_stock_level=$4, is_active=$5, version=version+1, updated_at=now()
		WHERE product_id=$1 AND version=$6`,
		inv.ProductID, inv.TotalQuantity, inv.ReservedQuantity, inv.MinStockLevel, inv.Active, inv.Version)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("product %s at version %d: %w", inv.ProductID, inv.Version, application.ErrVersionConflict)
	}
	return nil
}

func insertMovement(ctx context.Context, tx pgx.Tx, m domain.Movement) error {
	_, err := tx.Exec(ctx, `INSERT INTO inventory_movements
		(product_id, movement_type, quantity, reference_id, reference_type, notes)
		VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''))`,
		m.ProductID, m.Type, m.Quantity, m.ReferenceID, m.ReferenceType, m.Notes)
	return err
}

func isUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
