package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Record serializes payload and inserts the event inside tx. It must only
// ever run in the same transaction as the business write it announces;
// that is the whole point of the pattern.
func Record(ctx context.Context, tx pgx.Tx, aggregateType, aggregateID, eventType string, payload any, traceparent string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, traceparent, published)
		VALUES ($1, $2, $3, $4, $5, false)`,
		aggregateType, aggregateID, eventType, body, traceparent)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}
