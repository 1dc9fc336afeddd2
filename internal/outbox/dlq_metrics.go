package outbox

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"example.com/devicesync/internal/persistence/postgres"
)

var (
	dlqProcessedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "device_sync",
		Subsystem: "dlq",
		Name:      "messages_processed_total",
		Help:      "Number of DLQ entries handled (requeued, rescheduled or quarantined).",
	}, []string{"topic", "event_type"})

	dlqRequeuedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "device_sync",
		Subsystem: "dlq",
		Name:      "messages_requeued_total",
		Help:      "Number of DLQ entries reinserted into the primary outbox.",
	}, []string{"topic", "event_type"})

	dlqQuarantinedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "device_sync",
		Subsystem: "dlq",
		Name:      "messages_quarantined_total",
		Help:      "Number of DLQ entries quarantined after exhausting retries.",
	}, []string{"topic", "event_type"})

	dlqRetryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "device_sync",
		Subsystem: "dlq",
		Name:      "retry_scheduled_total",
		Help:      "Number of times a DLQ entry was scheduled for a future retry.",
	}, []string{"topic", "event_type"})

	dlqBacklogGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "device_sync",
		Subsystem: "dlq",
		Name:      "queued_messages",
		Help:      "Entries waiting for replay in the DLQ, by topic.",
	}, []string{"topic"})

	dlqQuarantinedGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "device_sync",
		Subsystem: "dlq",
		Name:      "quarantined_messages",
		Help:      "Entries parked in quarantine, by topic. Quarantined XP awards need a manual replay.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(dlqProcessedCounter, dlqRequeuedCounter, dlqQuarantinedCounter, dlqRetryCounter, dlqBacklogGauge, dlqQuarantinedGauge)
}

func recordDLQProcessed(entry dlqEntry) {
	dlqProcessedCounter.WithLabelValues(entry.Topic, entry.EventType).Inc()
}

func recordDLQRequeued(entry dlqEntry) {
	dlqRequeuedCounter.WithLabelValues(entry.Topic, entry.EventType).Inc()
}

func recordDLQQuarantined(entry dlqEntry) {
	dlqQuarantinedCounter.WithLabelValues(entry.Topic, entry.EventType).Inc()
}

func recordDLQRetry(entry dlqEntry) {
	dlqRetryCounter.WithLabelValues(entry.Topic, entry.EventType).Inc()
}

// updateBacklogGauge refreshes the per-topic DLQ gauges. Publishing topics with no rows
// report zero.
func updateBacklogGauge(ctx context.Context, pool postgres.PgxPool) {
	rows, err := pool.Query(ctx, `SELECT topic,
            COUNT(*) FILTER (WHERE quarantined_at IS NULL),
            COUNT(*) FILTER (WHERE quarantined_at IS NOT NULL)
        FROM outbox_dlq
        GROUP BY topic`)
	if err != nil {
		return
	}
	defer rows.Close()

	queued := make(map[string]float64)
	quarantined := make(map[string]float64)
	for _, topic := range postgres.Topics() {
		queued[topic], quarantined[topic] = 0, 0
	}
	for rows.Next() {
		var topic string
		var waiting, parked int
		if err := rows.Scan(&topic, &waiting, &parked); err != nil {
			return
		}
		queued[topic], quarantined[topic] = float64(waiting), float64(parked)
	}
	if rows.Err() != nil {
		return
	}

	for topic, count := range queued {
		dlqBacklogGauge.WithLabelValues(topic).Set(count)
	}
	for topic, count := range quarantined {
		dlqQuarantinedGauge.WithLabelValues(topic).Set(count)
	}
}
