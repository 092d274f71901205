package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dlqProcessedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wearable_sync",
		Subsystem: "dlq",
		Name:      "entries_processed_total",
		Help:      "Total DLQ entries handled by the manager.",
	}, []string{"event_type"})

	dlqRequeuedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wearable_sync",
		Subsystem: "dlq",
		Name:      "entries_requeued_total",
		Help:      "Total DLQ entries re-queued into the outbox.",
	}, []string{"event_type"})

	dlqRetryCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wearable_sync",
		Subsystem: "dlq",
		Name:      "entries_retry_scheduled_total",
		Help:      "Total DLQ entries scheduled for a later retry.",
	}, []string{"event_type"})

	dlqQuarantinedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wearable_sync",
		Subsystem: "dlq",
		Name:      "entries_quarantined_total",
		Help:      "Total DLQ entries quarantined after exhausting retries.",
	}, []string{"event_type"})

	dlqBacklogGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wearable_sync",
		Subsystem: "dlq",
		Name:      "backlog_size",
		Help:      "Current number of non-quarantined DLQ entries.",
	})
)

func recordDLQProcessed(entry dlqEntry) {
	dlqProcessedCounter.WithLabelValues(entry.EventType).Inc()
}

func recordDLQRequeued(entry dlqEntry) {
	dlqRequeuedCounter.WithLabelValues(entry.EventType).Inc()
}

func recordDLQRetry(entry dlqEntry) {
	dlqRetryCounter.WithLabelValues(entry.EventType).Inc()
}

func recordDLQQuarantined(entry dlqEntry) {
	dlqQuarantinedCounter.WithLabelValues(entry.EventType).Inc()
}

func updateBacklogGauge(ctx context.Context, pool *pgxpool.Pool) {
	var backlog int64
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL`).Scan(&backlog); err != nil {
		return
	}
	dlqBacklogGauge.Set(float64(backlog))
}
