package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the transcription pipeline
type Metrics struct {
	// Frame ingest metrics
	FramesReceived prometheus.Counter
	FrameErrors    prometheus.Counter
	BytesTrimmed   prometheus.Counter
	AudioLevel     prometheus.Gauge

	// Session metrics
	SessionActive   prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionDuration prometheus.Histogram

	// Chunking and VAD metrics
	ChunksGenerated prometheus.Counter
	ChunksSkipped   prometheus.Counter
	ChunkDuration   prometheus.Histogram
	ChunkSize       prometheus.Histogram

	// Queue metrics
	QueueSize     prometheus.Gauge
	ChunksDropped prometheus.Counter
	BatchSize     prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests   prometheus.Counter
	TranscriptionSuccesses  prometheus.Counter
	TranscriptionFailures   *prometheus.CounterVec
	TranscriptionDuration   prometheus.Histogram
	TranscriptionConfidence prometheus.Histogram
	BreakerState            prometheus.Gauge

	// Post-processing and emission metrics
	StageDuration     *prometheus.HistogramVec
	ResultsEmitted    prometheus.Counter
	ResultsSuppressed prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
	EventClients        prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// Frame ingest metrics
		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "overlay_frames_received_total",
			Help: "Total number of PCM frames received from the capture source",
		}),
		FrameErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "overlay_frame_errors_total",
			Help: "Total number of frames rejected by the decoder or chunker",
		}),
		BytesTrimmed: f.NewCounter(prometheus.CounterOpts{
			Name: "overlay_buffer_trimmed_bytes_total",
			Help: "Total number of buffered bytes dropped on overflow",
		}),
		AudioLevel: f.NewGauge(prometheus.GaugeOpts{
			Name: "overlay_audio_level",
			Help: "Mean absolute level of the last captured frame",
		}),

		// Session metrics
		SessionActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "overlay_session_active",
			Help: "1 while a transcription session is running",
		}),
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "overlay_sessions_started_total",
			Help: "Total number of sessions started",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "overlay_session_duration_seconds",
			Help:    "Duration of finished sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		// Chunking and VAD metrics
		ChunksGenerated: f.NewCounter(prometheus.CounterOpts{
			Name: "overlay_chunks_generated_total",
			Help: "Total number of chunks forwarded to the queue",
		}),
		ChunksSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "overlay_chunks_skipped_total",
			Help: "Total number of chunks rejected by voice activity detection",
		}),
		ChunkDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "overlay_chunk_duration_seconds",
			Help:    "Duration of generated audio chunks",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 6), // 0.5s to 16s
		}),
		ChunkSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "overlay_chunk_size_bytes",
			Help:    "Size of generated audio chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(8192, 2, 8), // 8KB to 1MB
		}),

		// Queue metrics
		QueueSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "overlay_queue_size",
			Help: "Current number of chunks waiting for transcription",
		}),
		ChunksDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "overlay_chunks_dropped_total",
			Help: "Total number of chunks evicted from a full queue",
		}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "overlay_batch_size",
			Help:    "Number of chunks per scheduler batch",
			Buckets: prometheus.LinearBuckets(1, 1, 4),
		}),

		// Transcription metrics
		TranscriptionRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "overlay_transcription_requests_total",
			Help: "Total number of chunks sent to the engine",
		}),
		TranscriptionSuccesses: f.NewCounter(prometheus.CounterOpts{
			Name: "overlay_transcription_successes_total",
			Help: "Total number of successful transcriptions",
		}),
		TranscriptionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "overlay_transcription_failures_total",
			Help: "Total number of failed transcriptions",
		}, []string{"kind"}),
		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "overlay_transcription_duration_seconds",
			Help:    "Duration of transcription calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}),
		TranscriptionConfidence: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "overlay_transcription_confidence",
			Help:    "Estimated confidence of transcription results",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),
		BreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "overlay_engine_breaker_state",
			Help: "Engine circuit breaker state (0 closed, 1 open, 2 half-open)",
		}),

		// Post-processing and emission metrics
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "overlay_postprocess_stage_duration_seconds",
			Help:    "Time spent in each post-processing stage",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8), // 10us to ~160ms
		}, []string{"stage"}),
		ResultsEmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "overlay_results_emitted_total",
			Help: "Total number of results published to observers",
		}),
		ResultsSuppressed: f.NewCounter(prometheus.CounterOpts{
			Name: "overlay_results_suppressed_total",
			Help: "Total number of results below the confidence threshold",
		}),

		// HTTP API metrics
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "overlay_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "overlay_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "overlay_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
		EventClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "overlay_event_clients",
			Help: "Current number of connected websocket event clients",
		}),
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordFrame records one captured frame and its level
func (m *Metrics) RecordFrame(level float64, trimmedBytes int) {
	m.FramesReceived.Inc()
	m.AudioLevel.Set(level)
	if trimmedBytes > 0 {
		m.BytesTrimmed.Add(float64(trimmedBytes))
	}
}

// RecordFrameError increments the rejected frames counter
func (m *Metrics) RecordFrameError() {
	m.FrameErrors.Inc()
}

// RecordSessionStarted marks a session as running
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.SessionActive.Set(1)
}

// RecordSessionStopped marks the session as stopped and records its duration
func (m *Metrics) RecordSessionStopped(duration time.Duration) {
	m.SessionActive.Set(0)
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordChunkGenerated records a chunk forwarded to the queue
func (m *Metrics) RecordChunkGenerated(duration time.Duration, sizeBytes int) {
	m.ChunksGenerated.Inc()
	m.ChunkDuration.Observe(duration.Seconds())
	m.ChunkSize.Observe(float64(sizeBytes))
}

// RecordChunkSkipped increments the VAD rejection counter
func (m *Metrics) RecordChunkSkipped() {
	m.ChunksSkipped.Inc()
}

// RecordChunkDropped increments the backpressure counter
func (m *Metrics) RecordChunkDropped() {
	m.ChunksDropped.Inc()
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// RecordBatch records the size of a scheduler batch
func (m *Metrics) RecordBatch(size int) {
	m.BatchSize.Observe(float64(size))
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(duration time.Duration, confidence float64) {
	m.TranscriptionRequests.Inc()
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(duration.Seconds())
	m.TranscriptionConfidence.Observe(confidence)
}

// RecordTranscriptionFailure records a failed transcription by error kind
func (m *Metrics) RecordTranscriptionFailure(duration time.Duration, kind string) {
	m.TranscriptionRequests.Inc()
	m.TranscriptionFailures.WithLabelValues(kind).Inc()
	m.TranscriptionDuration.Observe(duration.Seconds())
}

// SetBreakerState records the engine circuit breaker state
func (m *Metrics) SetBreakerState(state int) {
	m.BreakerState.Set(float64(state))
}

// RecordStage records the duration of one post-processing stage
func (m *Metrics) RecordStage(stage string, elapsed time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// RecordResult records the emitter decision for one result
func (m *Metrics) RecordResult(emitted bool) {
	if emitted {
		m.ResultsEmitted.Inc()
		return
	}
	m.ResultsSuppressed.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

// SetEventClients sets the number of connected websocket clients
func (m *Metrics) SetEventClients(n int) {
	m.EventClients.Set(float64(n))
}
