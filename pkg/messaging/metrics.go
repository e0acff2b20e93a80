package messaging

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	publishedTotal *prometheus.CounterVec
	consumedTotal  *prometheus.CounterVec

	handlerLatency *prometheus.HistogramVec

	reconnectsTotal prometheus.Counter
	connected       prometheus.Gauge
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		publishedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "messaging",
			Name:      "published_total",
			Help:      "Total number of publish attempts.",
		}, []string{"exchange", "routing_key", "result"}),
		consumedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "messaging",
			Name:      "consumed_total",
			Help:      "Total number of consumed deliveries by terminal outcome.",
		}, []string{"queue", "result"}),
		handlerLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "messaging",
			Name:      "handler_duration_seconds",
			Help:      "Latency distribution for event handlers.",
			Buckets: []float64{
				0.001, 0.005, 0.01,
				0.05, 0.1, 0.5,
				1, 5, 10, 30,
			},
		}, []string{"queue", "result"}),
		reconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "messaging",
			Name:      "reconnects_total",
			Help:      "Total number of lost broker connections.",
		}),
		connected: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "messaging",
			Name:      "connected",
			Help:      "Whether the broker connection is currently open (1/0).",
		}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}

const (
	resultOK        = "ok"
	resultError     = "error"
	resultAcked     = "acked"
	resultRejected  = "rejected"
	resultMalformed = "malformed"
)
