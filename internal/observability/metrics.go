package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveCalls       prometheus.Gauge
	CallEvents        *prometheus.CounterVec
	VendorMessages    *prometheus.CounterVec
	VendorErrors      *prometheus.CounterVec
	SegmenterOutcomes *prometheus.CounterVec
	TurnLatency       prometheus.Histogram

	turnStages *turnStageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of outbound calls currently in flight.",
		}),
		CallEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_events_total",
			Help:      "Call lifecycle events by type.",
		}, []string{"event"}),
		VendorMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vendor_messages_total",
			Help:      "Vendor media stream messages by vendor, direction and event.",
		}, []string{"vendor", "direction", "event"}),
		VendorErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vendor_errors_total",
			Help:      "Vendor API and stream errors by vendor and code.",
		}, []string{"vendor", "code"}),
		SegmenterOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segmenter_outcomes_total",
			Help:      "Utterance capture outcomes by type.",
		}, []string{"outcome"}),
		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "End-to-end latency of one conversation turn in milliseconds.",
			Buckets:   []float64{1000, 2000, 3000, 5000, 8000, 12000, 20000, 45000},
		}),
		turnStages: newTurnStageWindow(256),
	}
}

func (m *Metrics) ObserveTurnLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.TurnLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveCallEvent(event string) {
	if m == nil {
		return
	}
	m.CallEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveVendorMessage(vendor, direction, event string) {
	if m == nil {
		return
	}
	m.VendorMessages.WithLabelValues(vendor, direction, event).Inc()
}

func (m *Metrics) ObserveVendorError(vendor, code string) {
	if m == nil {
		return
	}
	m.VendorErrors.WithLabelValues(vendor, code).Inc()
}

func (m *Metrics) ObserveSegmenterOutcome(outcome string) {
	if m == nil {
		return
	}
	m.SegmenterOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveTurnStage records one stage duration into the rolling perf window.
func (m *Metrics) ObserveTurnStage(stage string, d time.Duration) {
	if m == nil || m.turnStages == nil {
		return
	}
	m.turnStages.Observe(stage, float64(d)/float64(time.Millisecond))
}

func (m *Metrics) ObserveTurnIndicator(name string) {
	if m == nil {
		return
	}
	m.turnStages.ObserveIndicator(name)
}

func (m *Metrics) SnapshotTurnStages() TurnStageSnapshot {
	if m == nil || m.turnStages == nil {
		return TurnStageSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.turnStages.Snapshot()
}

func (m *Metrics) ResetTurnStages() {
	if m == nil {
		return
	}
	m.turnStages.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
