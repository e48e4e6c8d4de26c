// Package metrics provides camera HAL metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CameraMetrics contains Prometheus metrics for session, buffer and
// pipeline activity.
type CameraMetrics struct {
	registry *prometheus.Registry

	// Session metrics
	commandsTotal   *prometheus.CounterVec
	sessionState    *prometheus.GaugeVec
	captureDuration prometheus.Histogram

	// Buffer metrics
	framesDequeuedTotal *prometheus.CounterVec
	buffersQueuedGauge  prometheus.Gauge
	buffersHeldGauge    prometheus.Gauge
	staleBuffersTotal   prometheus.Counter

	// Pipeline metrics
	pipelineQueueDepth  *prometheus.GaugeVec
	pipelineDropsTotal  *prometheus.CounterVec
	framesEncodedTotal  *prometheus.CounterVec
	encodeDuration      *prometheus.HistogramVec
}

// NewCameraMetrics creates and registers new camera metrics
func NewCameraMetrics(registry *prometheus.Registry) (*CameraMetrics, error) {
	m := &CameraMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *CameraMetrics) initMetrics() {
	m.commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_commands_total",
			Help: "Total number of control commands processed",
		},
		[]string{"command", "status"}, // status: success, error
	)

	m.sessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "camhal_session_state",
			Help: "Current session state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	m.captureDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "camhal_still_capture_duration_seconds",
			Help:    "Time from take-picture command to picture done",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
	)

	m.framesDequeuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_frames_dequeued_total",
			Help: "Total frames dequeued from the device per stream",
		},
		[]string{"stream"}, // preview, recording, snapshot
	)

	m.buffersQueuedGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "camhal_buffers_queued",
			Help: "Buffers currently held by the device",
		},
	)

	m.buffersHeldGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "camhal_buffers_held",
			Help: "Buffers currently lent to consumers",
		},
	)

	m.staleBuffersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "camhal_stale_buffers_total",
			Help: "Buffer returns rejected because their session ended",
		},
	)

	m.pipelineQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "camhal_pipeline_queue_depth",
			Help: "Messages waiting in each pipeline queue",
		},
		[]string{"pipeline"},
	)

	m.pipelineDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_pipeline_drops_total",
			Help: "Frames a pipeline rejected or dropped",
		},
		[]string{"pipeline", "reason"},
	)

	m.framesEncodedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_frames_encoded_total",
			Help: "Frames encoded per pipeline",
		},
		[]string{"pipeline", "status"},
	)

	m.encodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "camhal_encode_duration_seconds",
			Help:    "Time spent encoding one frame",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"pipeline"},
	)
}

// Describe implements prometheus.Collector
func (m *CameraMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.commandsTotal.Describe(ch)
	m.sessionState.Describe(ch)
	m.captureDuration.Describe(ch)
	m.framesDequeuedTotal.Describe(ch)
	m.buffersQueuedGauge.Describe(ch)
	m.buffersHeldGauge.Describe(ch)
	m.staleBuffersTotal.Describe(ch)
	m.pipelineQueueDepth.Describe(ch)
	m.pipelineDropsTotal.Describe(ch)
	m.framesEncodedTotal.Describe(ch)
	m.encodeDuration.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *CameraMetrics) Collect(ch chan<- prometheus.Metric) {
	m.commandsTotal.Collect(ch)
	m.sessionState.Collect(ch)
	m.captureDuration.Collect(ch)
	m.framesDequeuedTotal.Collect(ch)
	m.buffersQueuedGauge.Collect(ch)
	m.buffersHeldGauge.Collect(ch)
	m.staleBuffersTotal.Collect(ch)
	m.pipelineQueueDepth.Collect(ch)
	m.pipelineDropsTotal.Collect(ch)
	m.framesEncodedTotal.Collect(ch)
	m.encodeDuration.Collect(ch)
}

// IncCommand records one processed command with its outcome.
func (m *CameraMetrics) IncCommand(command, status string) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(command, status).Inc()
}

// SetSessionState marks the active state.
func (m *CameraMetrics) SetSessionState(active string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == active {
			v = 1.0
		}
		m.sessionState.WithLabelValues(s).Set(v)
	}
}

// ObserveCaptureDuration records one still capture round trip.
func (m *CameraMetrics) ObserveCaptureDuration(seconds float64) {
	if m == nil {
		return
	}
	m.captureDuration.Observe(seconds)
}

// IncFramesDequeued counts a dequeued frame per stream.
func (m *CameraMetrics) IncFramesDequeued(stream string) {
	if m == nil {
		return
	}
	m.framesDequeuedTotal.WithLabelValues(stream).Inc()
}

// UpdateBufferCounts publishes the pool occupancy split.
func (m *CameraMetrics) UpdateBufferCounts(queued, held int) {
	if m == nil {
		return
	}
	m.buffersQueuedGauge.Set(float64(queued))
	m.buffersHeldGauge.Set(float64(held))
}

// IncStaleBuffers counts one rejected stale return.
func (m *CameraMetrics) IncStaleBuffers() {
	if m == nil {
		return
	}
	m.staleBuffersTotal.Inc()
}

// SetPipelineQueueDepth publishes one pipeline's queue depth.
func (m *CameraMetrics) SetPipelineQueueDepth(pipeline string, depth int) {
	if m == nil {
		return
	}
	m.pipelineQueueDepth.WithLabelValues(pipeline).Set(float64(depth))
}

// IncPipelineDrops counts a rejected or dropped frame.
func (m *CameraMetrics) IncPipelineDrops(pipeline, reason string) {
	if m == nil {
		return
	}
	m.pipelineDropsTotal.WithLabelValues(pipeline, reason).Inc()
}

// IncFramesEncoded counts one encode attempt.
func (m *CameraMetrics) IncFramesEncoded(pipeline, status string) {
	if m == nil {
		return
	}
	m.framesEncodedTotal.WithLabelValues(pipeline, status).Inc()
}

// ObserveEncodeDuration records one encode.
func (m *CameraMetrics) ObserveEncodeDuration(pipeline string, seconds float64) {
	if m == nil {
		return
	}
	m.encodeDuration.WithLabelValues(pipeline).Observe(seconds)
}
