package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"example.com/wearable/internal/domain"
)

var (
	mergeTimestampGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "wearable_sync",
		Subsystem: "persistence",
		Name:      "last_merge_timestamp_seconds",
		Help:      "Unix timestamp of the most recent merge committed to Postgres, per record kind.",
	}, []string{"kind"})

	mergedRecordsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wearable_sync",
		Subsystem: "persistence",
		Name:      "records_merged_total",
		Help:      "Number of records merged, labeled by kind and whether the row was inserted or updated.",
	}, []string{"kind", "op"})
)

func init() {
	prometheus.MustRegister(mergeTimestampGauge, mergedRecordsCounter)
}

// RecordMerge updates the merge watermark gauge for a kind.
func RecordMerge(kind domain.RecordKind, ts time.Time) {
	if ts.IsZero() {
		return
	}
	mergeTimestampGauge.WithLabelValues(string(kind)).Set(float64(ts.Unix()))
}

// RecordMergedRecords tracks insert/update counts from a committed merge.
func RecordMergedRecords(kind domain.RecordKind, stats domain.MergeStats) {
	if stats.Inserted > 0 {
		mergedRecordsCounter.WithLabelValues(string(kind), "insert").Add(float64(stats.Inserted))
	}
	if stats.Updated > 0 {
		mergedRecordsCounter.WithLabelValues(string(kind), "update").Add(float64(stats.Updated))
	}
}
