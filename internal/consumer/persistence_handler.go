package consumer

import (
	"context"
	"time"

	"example.com/devicesync/internal/persistence/postgres"
)

// PersistenceHandler writes consumed events into the device_event_log audit table.
type PersistenceHandler struct {
	pool postgres.PgxPool
	now  func() time.Time
}

// NewPersistenceHandler constructs a handler backed by the provided pool.
func NewPersistenceHandler(pool postgres.PgxPool) *PersistenceHandler {
	return &PersistenceHandler{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Handle stores the event. Redelivered records are ignored by their Kafka position.
func (h *PersistenceHandler) Handle(ctx context.Context, msg Message) error {
	receivedAt := msg.Timestamp
	if receivedAt.IsZero() {
		receivedAt = h.now()
	}

	_, err := h.pool.Exec(ctx,
		`INSERT INTO device_event_log (event_type, user_id, schema_id, schema_subject, topic, partition, record_offset, event_key, payload, received_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
         ON CONFLICT (topic, partition, record_offset) DO NOTHING`,
		msg.EventType,
		nullIfEmpty(msg.UserID),
		msg.SchemaID,
		msg.SchemaSubject,
		msg.Topic,
		msg.Partition,
		msg.Offset,
		nullIfEmpty(msg.Key),
		string(msg.Payload),
		receivedAt,
	)
	return err
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
