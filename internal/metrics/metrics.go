// Package metrics registers the Prometheus instruments for the streaming
// pipeline. All methods are safe to call on a nil *Metrics so components can
// run without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters and gauges shared by sender and receiver roles.
// A process usually only drives one side; the unused instruments stay zero.
type Metrics struct {
	registry *prometheus.Registry

	framesCaptured  prometheus.Counter
	captureFailures prometheus.Counter
	framesSent      prometheus.Counter
	chunksSent      prometheus.Counter
	sendErrors      prometheus.Counter
	targetFPS       prometheus.Gauge

	chunksReceived  prometheus.Counter
	duplicateChunks prometheus.Counter
	framesCompleted prometheus.Counter
	framesDiscarded prometheus.Counter
	framesTimedOut  prometheus.Counter
}

// New creates and registers the beamcast metric set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		framesCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beamcast_frames_captured_total",
			Help: "Raw frames successfully captured",
		}),
		captureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beamcast_capture_failures_total",
			Help: "Capture attempts that returned an error",
		}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beamcast_frames_sent_total",
			Help: "Encoded frames fully transmitted",
		}),
		chunksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beamcast_chunks_sent_total",
			Help: "Datagrams written to the multicast group, including redundant resends",
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beamcast_send_errors_total",
			Help: "Frames that failed to transmit",
		}),
		targetFPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "beamcast_target_fps",
			Help: "Current pacer target frame rate",
		}),
		chunksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beamcast_chunks_received_total",
			Help: "Valid chunks received from the multicast group",
		}),
		duplicateChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beamcast_duplicate_chunks_total",
			Help: "Chunks received more than once for the same frame",
		}),
		framesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beamcast_frames_completed_total",
			Help: "Frames reassembled completely and validated",
		}),
		framesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beamcast_frames_discarded_total",
			Help: "Frames reassembled completely but failing the validity check",
		}),
		framesTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beamcast_frames_timed_out_total",
			Help: "Pending frames evicted before completion",
		}),
	}

	registry.MustRegister(
		m.framesCaptured,
		m.captureFailures,
		m.framesSent,
		m.chunksSent,
		m.sendErrors,
		m.targetFPS,
		m.chunksReceived,
		m.duplicateChunks,
		m.framesCompleted,
		m.framesDiscarded,
		m.framesTimedOut,
	)

	return m
}

// Handler returns the HTTP handler serving the registry in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncFramesCaptured() {
	if m != nil {
		m.framesCaptured.Inc()
	}
}

func (m *Metrics) IncCaptureFailures() {
	if m != nil {
		m.captureFailures.Inc()
	}
}

func (m *Metrics) IncFramesSent() {
	if m != nil {
		m.framesSent.Inc()
	}
}

func (m *Metrics) AddChunksSent(n int) {
	if m != nil {
		m.chunksSent.Add(float64(n))
	}
}

func (m *Metrics) IncSendErrors() {
	if m != nil {
		m.sendErrors.Inc()
	}
}

func (m *Metrics) SetTargetFPS(fps int) {
	if m != nil {
		m.targetFPS.Set(float64(fps))
	}
}

func (m *Metrics) IncChunksReceived() {
	if m != nil {
		m.chunksReceived.Inc()
	}
}

func (m *Metrics) IncDuplicateChunks() {
	if m != nil {
		m.duplicateChunks.Inc()
	}
}

func (m *Metrics) IncFramesCompleted() {
	if m != nil {
		m.framesCompleted.Inc()
	}
}

func (m *Metrics) IncFramesDiscarded() {
	if m != nil {
		m.framesDiscarded.Inc()
	}
}

func (m *Metrics) AddFramesTimedOut(n int) {
	if m != nil {
		m.framesTimedOut.Add(float64(n))
	}
}
