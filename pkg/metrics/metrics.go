// Package metrics exposes exchange counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stoxbook"

// Metrics owns a private registry so several exchanges can coexist in one process (tests).
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	orders      *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	fills       prometheus.Counter
	fillQty     prometheus.Counter
	cancels     prometheus.Counter
	withdrawals *prometheus.CounterVec
	depth       *prometheus.GaugeVec
	paused      prometheus.Gauge
	opDuration  *prometheus.HistogramVec
	apiRequests *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_placed_total",
			Help: "Orders accepted by the matching engine",
		}, []string{"side"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "operations_rejected_total",
			Help: "Operations refused, by operation and reason",
		}, []string{"op", "reason"}),
		fills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "fills_total",
			Help: "Fills produced by crossing",
		}),
		fillQty: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "fill_quantity_total",
			Help: "Security units traded (whole units, float approximation)",
		}),
		cancels: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_cancelled_total",
			Help: "Resting orders cancelled",
		}),
		withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "withdrawals_total",
			Help: "Successful non-zero withdrawals",
		}, []string{"asset"}),
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "book_depth",
			Help: "Resting orders per side",
		}, []string{"side"}),
		paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "paused",
			Help: "1 while the circuit breaker is paused",
		}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "operation_duration_seconds",
			Help:    "Time spent inside the exchange lock",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		}, []string{"op"}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "api_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}
	m.registry.MustRegister(
		m.orders, m.rejected, m.fills, m.fillQty, m.cancels, m.withdrawals,
		m.depth, m.paused, m.opDuration, m.apiRequests,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) OrderPlaced(side string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(side).Inc()
}

func (m *Metrics) Rejected(op, reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(op, reason).Inc()
}

func (m *Metrics) Fill(qty float64) {
	if m == nil {
		return
	}
	m.fills.Inc()
	m.fillQty.Add(qty)
}

func (m *Metrics) Cancelled() {
	if m == nil {
		return
	}
	m.cancels.Inc()
}

func (m *Metrics) Withdrawn(asset string) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(asset).Inc()
}

func (m *Metrics) Depth(buy, sell int) {
	if m == nil {
		return
	}
	m.depth.WithLabelValues("buy").Set(float64(buy))
	m.depth.WithLabelValues("sell").Set(float64(sell))
}

func (m *Metrics) Paused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.paused.Set(1)
	} else {
		m.paused.Set(0)
	}
}

// Observe records how long op took since start.
func (m *Metrics) Observe(op string, start time.Time) {
	if m == nil {
		return
	}
	m.opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) APIRequest(route string, code int) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(route, http.StatusText(code)).Inc()
}
