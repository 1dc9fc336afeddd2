package outbox

import "github.com/prometheus/client_golang/prometheus"

var (
	deliveredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "device_sync",
		Subsystem: "outbox",
		Name:      "events_delivered_total",
		Help:      "Outbox events published to Kafka, by topic and event type.",
	}, []string{"topic", "event_type"})

	failedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "device_sync",
		Subsystem: "outbox",
		Name:      "events_failed_total",
		Help:      "Outbox events whose batch failed to publish, by topic and event type.",
	}, []string{"topic", "event_type"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "device_sync",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent fetching, delivering and marking one outbox batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	dlqCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "device_sync",
		Subsystem: "outbox",
		Name:      "events_dlq_total",
		Help:      "Outbox events routed to the dead-letter queue, by topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter, batchDuration, dlqCounter)
}

func recordBatch(counter *prometheus.CounterVec, messages []Message) {
	for _, msg := range messages {
		counter.WithLabelValues(msg.Topic, msg.EventType).Inc()
	}
}
