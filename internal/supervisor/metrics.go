package supervisor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects sidecar lifecycle metrics.
type Metrics struct {
	launches      *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
	kills         *prometheus.CounterVec
	running       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "sidecar"
	}

	m := &Metrics{
		launches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "launches_total",
				Help:      "Sidecar launch attempts by result",
			},
			[]string{"result"},
		),
		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "readiness_probe_duration_seconds",
				Help:      "Time from probe start until ready or timeout",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
			},
			[]string{"result"},
		),
		kills: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kills_total",
				Help:      "Sidecar processes terminated by the supervisor",
			},
			[]string{"reason"},
		),
		running: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "running",
				Help:      "1 while the supervisor holds a sidecar process",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.launches, m.probeDuration, m.kills, m.running)
	}
	return m
}

func (m *Metrics) recordLaunch(result string) {
	if m == nil {
		return
	}
	m.launches.WithLabelValues(result).Inc()
}

func (m *Metrics) recordProbe(ready bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "ready"
	if !ready {
		result = "timeout"
	}
	m.probeDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) recordKill(reason string) {
	if m == nil {
		return
	}
	m.kills.WithLabelValues(reason).Inc()
}

func (m *Metrics) setRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.running.Set(1)
	} else {
		m.running.Set(0)
	}
}
