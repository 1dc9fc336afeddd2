package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/events"
)

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
	AggregateType string
	// Once marks events that may be recorded at most once per aggregate.
	Once bool
}

var eventCatalog = map[string]EventMetadata{
	events.TypeDeviceActivityIngested: {
		Topic:         "device_activity_events",
		SchemaSubject: "device_activity_events-value",
		AggregateType: "device_activity",
	},
	events.TypeXPAwarded: {
		Topic:         "gamification_events",
		SchemaSubject: "gamification_events-value",
		AggregateType: "strength_log",
		Once:          true,
	},
}

// TopicSpec describes how an outbox topic is provisioned and written.
type TopicSpec struct {
	Name       string
	Partitions int
	// Critical topics feed other services' state; writes wait for every in-sync replica.
	Critical bool
}

var topicSpecs = map[string]TopicSpec{
	"device_activity_events": {Name: "device_activity_events", Partitions: 6},
	"gamification_events":    {Name: "gamification_events", Partitions: 3, Critical: true},
}

// TopicSpecs lists the topics the outbox publishes to, sorted by name.
func TopicSpecs() []TopicSpec {
	specs := make([]TopicSpec, 0, len(topicSpecs))
	for _, spec := range topicSpecs {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Topics lists every topic the outbox publishes to.
func Topics() []string {
	specs := TopicSpecs()
	topics := make([]string, 0, len(specs))
	for _, spec := range specs {
		topics = append(topics, spec.Name)
	}
	return topics
}

func insertOutbox(ctx context.Context, tx pgx.Tx, event domain.OutboxEvent) error {
	meta, ok := eventCatalog[event.Type]
	if !ok {
		return fmt.Errorf("unknown event type: %s", event.Type)
	}

	body, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}

	partitionKey := event.PartitionKey
	if partitionKey == "" {
		partitionKey = event.AggregateID
	}

	var dedupeKey any
	if meta.Once {
		dedupeKey = fmt.Sprintf("%s:%s", event.AggregateID, event.Type)
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		meta.AggregateType,
		event.AggregateID,
		event.Type,
		meta.Topic,
		meta.SchemaSubject,
		partitionKey,
		string(body),
		dedupeKey,
	)
	return err
}
