// Package metrics exposes Prometheus collectors for batch verification.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zkledger/anondeposit/internal/deposit"
	"github.com/zkledger/anondeposit/internal/gateway"
)

const namespace = "anondeposit"

// Message results.
const (
	ResultVerified = "verified"
	ResultReplayed = "replayed"
	ResultInvalid  = "invalid"
	ResultError    = "error"
)

type Metrics struct {
	batches  *prometheus.CounterVec
	requests prometheus.Counter
	gas      prometheus.Counter
	duration prometheus.Histogram
	messages *prometheus.CounterVec
}

// New registers the collectors on reg. Every status series starts at zero.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		batches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Verified batches by outcome status.",
		}, []string{"status"}),
		requests: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Deposit requests in successfully decoded batches.",
		}),
		gas: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gas_charged_total",
			Help:      "Gas charged across all batches.",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_verify_seconds",
			Help:      "Wall time to decode and verify one batch.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_messages_total",
			Help:      "Queue messages handled by result.",
		}, []string{"result"}),
	}
	for k := deposit.KindOK; k.Valid(); k++ {
		m.batches.WithLabelValues(k.String())
	}
	return m
}

// ObserveBatch records one gateway outcome and its verification time.
func (m *Metrics) ObserveBatch(o gateway.Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(o.Kind.String()).Inc()
	m.requests.Add(float64(o.Requests))
	m.gas.Add(float64(o.Gas))
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) Message(result string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
