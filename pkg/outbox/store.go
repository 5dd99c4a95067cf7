package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the relay's view of the outbox table.
type Store interface {
	LoadPending(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, id int64) error
	PurgePublished(ctx context.Context, olderThan time.Time) (int64, error)
}

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// LoadPending returns unpublished events oldest first. Creation order is the
// delivery order; the relay never reorders within a batch.
func (s *PgStore) LoadPending(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, traceparent, created_at
		FROM outbox_events
		WHERE published = false
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.AggregateType, &ev.AggregateID, &ev.EventType, &ev.Payload, &ev.Traceparent, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *PgStore) MarkPublished(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_events SET published = true, published_at = now()
		WHERE id = $1`, id)
	return err
}

func (s *PgStore) PurgePublished(ctx context.Context, olderThan time.Time) (int64, error) {
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM outbox_events
		WHERE published = true AND published_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
