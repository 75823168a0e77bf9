package web

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/orthanc/postcleaner/cleaner"
)

type Metrics struct {
	Registry        *prometheus.Registry
	OutcomesTotal   *prometheus.CounterVec
	RejectedBusy    prometheus.Counter
	DurationSeconds prometheus.Histogram
	InFlight        prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		Registry: registry,
		OutcomesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "postcleaner_outcomes_total",
			Help: "Clean attempts by outcome and failing stage",
		}, []string{"outcome", "stage"}),
		RejectedBusy: factory.NewCounter(prometheus.CounterOpts{
			Name: "postcleaner_rejected_busy_total",
			Help: "Submissions refused because a clean was already in flight",
		}),
		DurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "postcleaner_clean_duration_seconds",
			Help:    "Duration of clean attempts in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "postcleaner_in_flight",
			Help: "1 while a clean sequence is running",
		}),
	}
}

func (m *Metrics) Observe(outcome cleaner.Outcome, elapsed time.Duration) {
	m.OutcomesTotal.WithLabelValues(string(outcome.Kind), string(outcome.Stage)).Inc()
	m.DurationSeconds.Observe(elapsed.Seconds())
}
