package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
)

const namespace = "marketwatch"

// Metrics holds the collectors of one process on a private registry. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	cycles           *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	lastCycle        prometheus.Gauge
	fetchErrors      *prometheus.CounterVec
	events           *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	lastPrice        *prometheus.GaugeVec
}

// New registers all collectors, plus the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_cycles_total",
			Help:      "Price-check cycles by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "price_cycle_duration_seconds",
			Help:      "Wall time of one price-check cycle including fetch and delivery.",
			Buckets:   prometheus.DefBuckets,
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_successful_cycle_timestamp_seconds",
			Help:      "Unix time of the last price-check cycle that evaluated prices.",
		}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Price source failures by operation.",
		}, []string{"operation"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_events_total",
			Help:      "Alert events emitted by kind.",
		}, []string{"kind"}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_delivery_failures_total",
			Help:      "Alert deliveries that failed by kind.",
		}, []string{"kind"}),
		lastPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "asset_price_usd",
			Help:      "Last observed USD price per asset.",
		}, []string{"asset"}),
	}

	m.Registry.MustRegister(
		m.cycles,
		m.cycleDuration,
		m.lastCycle,
		m.fetchErrors,
		m.events,
		m.deliveryFailures,
		m.lastPrice,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveCycle records a finished cycle. result is "ok", "error" or "skipped".
func (m *Metrics) ObserveCycle(result string, took time.Duration, at time.Time) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(took.Seconds())
	if result == "ok" {
		m.lastCycle.Set(float64(at.Unix()))
	}
}

// FetchFailed counts a price source failure.
func (m *Metrics) FetchFailed(operation string) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(operation).Inc()
}

// EventEmitted counts one emitted event.
func (m *Metrics) EventEmitted(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

// DeliveryFailed counts one failed delivery.
func (m *Metrics) DeliveryFailed(kind string) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(kind).Inc()
}

// ObservePrice exports the last price of an asset.
func (m *Metrics) ObservePrice(asset string, price decimal.Decimal) {
	if m == nil {
		return
	}
	m.lastPrice.WithLabelValues(asset).Set(price.InexactFloat64())
}
