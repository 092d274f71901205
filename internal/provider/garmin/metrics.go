package garmin

import "github.com/prometheus/client_golang/prometheus"

var requestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wearable_sync",
	Subsystem: "provider",
	Name:      "requests_total",
	Help:      "Number of provider API requests grouped by operation and outcome.",
}, []string{"operation", "outcome"})

func init() {
	prometheus.MustRegister(requestCounter)
}

func recordRequest(operation, outcome string) {
	requestCounter.WithLabelValues(operation, outcome).Inc()
}
