package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "todoless"
	metricsSubsystem = "notify"
)

// Metrics holds the fan-out counters. A nil *Metrics records nothing.
type Metrics struct {
	OpenChannels    prometheus.Gauge
	PublishedTotal  *prometheus.CounterVec
	DeliveredTotal  prometheus.Counter
	DroppedTotal    *prometheus.CounterVec
	ForwardFailures prometheus.Counter
}

// NewMetrics registers the fan-out metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OpenChannels: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "open_channels",
			Help:      "Number of registered server-push channels.",
		}),
		PublishedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "published_total",
			Help:      "Events published, by event name.",
		}, []string{"event"}),
		DeliveredTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "delivered_total",
			Help:      "Frames handed to an open channel.",
		}),
		DroppedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "dropped_total",
			Help:      "Frames dropped, by reason.",
		}, []string{"reason"}),
		ForwardFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "forward_failures_total",
			Help:      "Envelopes that could not be handed to a forwarder.",
		}),
	}
}

func (m *Metrics) channelOpened() {
	if m != nil {
		m.OpenChannels.Inc()
	}
}

func (m *Metrics) channelClosed() {
	if m != nil {
		m.OpenChannels.Dec()
	}
}

func (m *Metrics) published(event string) {
	if m != nil {
		m.PublishedTotal.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) delivered(n int) {
	if m != nil && n > 0 {
		m.DeliveredTotal.Add(float64(n))
	}
}

func (m *Metrics) dropped(reason string) {
	if m != nil {
		m.DroppedTotal.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) forwardFailed() {
	if m != nil {
		m.ForwardFailures.Inc()
	}
}
