package outbox

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/devicesync/internal/persistence/postgres"
)

func TestProducerWritersFollowTopicSpecs(t *testing.T) {
	producer := NewKafkaProducer([]string{"localhost:9092"}, postgres.TopicSpecs()...)
	t.Cleanup(func() { _ = producer.Close() })

	xp := producer.writerForTopic("gamification_events")
	require.Equal(t, kafka.RequireAll, xp.RequiredAcks)
	require.Equal(t, 10*time.Millisecond, xp.BatchTimeout)
	require.IsType(t, &kafka.Hash{}, xp.Balancer)

	ingested := producer.writerForTopic("device_activity_events")
	require.Equal(t, kafka.RequireOne, ingested.RequiredAcks)
	require.Equal(t, 50*time.Millisecond, ingested.BatchTimeout)

	unknown := producer.writerForTopic("legacy")
	require.Equal(t, kafka.RequireAll, unknown.RequiredAcks)

	require.Same(t, xp, producer.writerForTopic("gamification_events"))
}
