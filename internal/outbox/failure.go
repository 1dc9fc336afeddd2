package outbox

import (
	"context"

	"example.com/devicesync/internal/persistence/postgres"
)

// DLQWriter persists failed events for investigation and replay.
type DLQWriter struct {
	pool postgres.PgxPool
}

// NewDLQWriter initialises a writer backed by the provided connection pool.
func NewDLQWriter(pool postgres.PgxPool) *DLQWriter {
	return &DLQWriter{pool: pool}
}

// Write records a failed outbox message in the DLQ alongside the supplied reason. The
// entry is eligible for replay immediately.
func (w *DLQWriter) Write(ctx context.Context, msg Message, reason string) error {
	_, err := w.pool.Exec(ctx,
		`INSERT INTO outbox_dlq (event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, next_retry_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, NOW())`,
		msg.EventID, msg.EventType, msg.Topic, string(msg.Payload), reason, msg.AggregateType, msg.AggregateID, msg.SchemaSubject, msg.PartitionKey,
	)
	return err
}
