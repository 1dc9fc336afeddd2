package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/devicesync/internal/persistence/postgres"
)

// KafkaProducer lazily manages writers per topic. Messages are balanced by key so all
// events of one user land on the same partition in order.
type KafkaProducer struct {
	brokers []string
	specs   map[string]postgres.TopicSpec
	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewKafkaProducer creates a KafkaProducer. Topics without a spec are written as critical.
func NewKafkaProducer(brokers []string, specs ...postgres.TopicSpec) *KafkaProducer {
	bySpec := make(map[string]postgres.TopicSpec, len(specs))
	for _, spec := range specs {
		bySpec[spec.Name] = spec
	}
	return &KafkaProducer{
		brokers: brokers,
		specs:   bySpec,
		writers: make(map[string]*kafka.Writer),
	}
}

// WriteMessages writes messages to the given topic, creating a writer if necessary.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	writer := p.writerForTopic(topic)
	return writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaProducer) writerForTopic(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if writer, ok := p.writers[topic]; ok {
		return writer
	}

	// Ingestion notices tolerate a leader-only ack and larger batches; XP awards do not.
	acks, batchTimeout := kafka.RequireOne, 50*time.Millisecond
	if spec, ok := p.specs[topic]; !ok || spec.Critical {
		acks, batchTimeout = kafka.RequireAll, 10*time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: acks,
		Compression:  kafka.Snappy,
		BatchTimeout: batchTimeout,
	}
	p.writers[topic] = writer
	return writer
}

// Close releases all writers.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.writers, topic)
	}
	return firstErr
}
