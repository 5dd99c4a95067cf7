// Package outbox implements the transactional-outbox pattern shared by all
// services. A state change and the event announcing it commit in one
// database transaction; a background relay then publishes pending events to
// Kafka in creation order, keyed by aggregate id. Delivery is at-least-once;
// consumers deduplicate.
package outbox

import "time"

// Event is a durable, not-yet-delivered message. EventType doubles as the
// Kafka topic it is published to.
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Published     bool
	CreatedAt     time.Time
	PublishedAt   *time.Time
}
