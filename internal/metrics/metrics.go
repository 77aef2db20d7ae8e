// Package metrics exposes bridge and HTTP observations to Prometheus.
package metrics

import (
	"time"

	"github.com/dkeye/callbridge/internal/app/bridge"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements bridge.Metrics on top of a Prometheus registry.
type Metrics struct {
	SessionsActive   prometheus.Gauge
	SessionsTotal    *prometheus.CounterVec
	JoinSeconds      prometheus.Histogram
	FramesPublished  prometheus.Counter
	FramesEmitted    prometheus.Counter
	FramesDropped    *prometheus.CounterVec
	StateTransitions *prometheus.CounterVec

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "callbridge_sessions_active",
			Help: "Bridge sessions currently running",
		}),
		SessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callbridge_sessions_total",
			Help: "Closed bridge sessions by close reason",
		}, []string{"reason"}),
		JoinSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "callbridge_join_duration_seconds",
			Help:    "Time from join request to room presence",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		}),
		FramesPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_frames_published_total",
			Help: "Caller frames published into rooms",
		}),
		FramesEmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_frames_emitted_total",
			Help: "Room frames sent to phone legs",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callbridge_frames_dropped_total",
			Help: "Frames dropped by reason",
		}, []string{"reason"}),
		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callbridge_state_transitions_total",
			Help: "Bridge session state transitions",
		}, []string{"from", "to"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callbridge_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "callbridge_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) SessionStarted() { m.SessionsActive.Inc() }

func (m *Metrics) SessionClosed(reason bridge.CloseReason) {
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) StateChanged(from, to bridge.State) {
	m.StateTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *Metrics) JoinDuration(d time.Duration) { m.JoinSeconds.Observe(d.Seconds()) }

func (m *Metrics) FramePublished() { m.FramesPublished.Inc() }

func (m *Metrics) FrameEmitted() { m.FramesEmitted.Inc() }

func (m *Metrics) FrameDropped(reason bridge.DropReason, n int) {
	m.FramesDropped.WithLabelValues(string(reason)).Add(float64(n))
}
