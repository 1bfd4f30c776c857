package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	registry        *prometheus.Registry
	EventsAppended  prometheus.Counter
	EntriesCaptured *prometheus.CounterVec
	SessionsSwept   prometheus.Counter
	UploadsTotal    *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
}

func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		EventsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "web_reel",
			Name:      "events_appended_total",
			Help:      "Render events persisted to the store",
		}),
		EntriesCaptured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "web_reel",
			Name:      "trace_entries_total",
			Help:      "Captured trace entries by transport kind",
		}, []string{"transport"}),
		SessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "web_reel",
			Name:      "sessions_swept_total",
			Help:      "Sessions dropped by retention sweeps",
		}),
		UploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "web_reel",
			Name:      "uploads_total",
			Help:      "Archive uploads by outcome",
		}, []string{"outcome"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "web_reel",
			Name:      "active_sessions",
			Help:      "Sessions currently buffered in the store",
		}),
	}
	r.MustRegister(m.EventsAppended, m.EntriesCaptured, m.SessionsSwept, m.UploadsTotal, m.ActiveSessions)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
