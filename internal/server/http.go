package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/overlay-transcriber/internal/audio"
	"github.com/skypro1111/overlay-transcriber/internal/config"
	apperrors "github.com/skypro1111/overlay-transcriber/internal/errors"
	"github.com/skypro1111/overlay-transcriber/internal/events"
	"github.com/skypro1111/overlay-transcriber/internal/metrics"
	"github.com/skypro1111/overlay-transcriber/internal/postprocess"
	"github.com/skypro1111/overlay-transcriber/internal/session"
)

const maxBodyBytes = 1 << 20

// SourceFactory creates a fresh capture source for every session start.
type SourceFactory func() (session.Source, error)

// Deps are the collaborators the control API serves.
type Deps struct {
	Config    *config.Config
	Session   *session.Session
	Hub       *events.Hub
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	NewSource SourceFactory
	// BaseContext outlives requests; sessions started over HTTP run on it.
	BaseContext context.Context
	// OriginPatterns are the websocket origins accepted besides same-host.
	OriginPatterns []string
}

// HTTPServer provides the control API, the event stream and metrics.
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	session  *session.Session
	hub      *events.Hub
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	newSource SourceFactory
	baseCtx   context.Context
	origins   []string

	startTime time.Time

	mu     sync.Mutex
	source session.Source

	clientsMu sync.Mutex
	clients   int
}

// NewHTTPServer creates the API server. The server is not listening until
// Start is called.
func NewHTTPServer(cfg config.HTTPConfig, deps Deps, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}
	if deps.Metrics == nil {
		reg := prometheus.NewRegistry()
		deps.Metrics = metrics.NewMetrics(reg)
		if deps.Gatherer == nil {
			deps.Gatherer = reg
		}
	}

	h := &HTTPServer{
		logger:    logger,
		config:    deps.Config,
		session:   deps.Session,
		hub:       deps.Hub,
		metrics:   deps.Metrics,
		gatherer:  deps.Gatherer,
		newSource: deps.NewSource,
		baseCtx:   deps.BaseContext,
		origins:   deps.OriginPatterns,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = withSentryRecovery(mux)

	h.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:           h.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return h
}

// Handler returns the routed handler, for tests and embedding.
func (h *HTTPServer) Handler() http.Handler { return h.handler }

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("GET /stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("GET /config", h.withMetrics("/config", h.handleConfig))

	mux.HandleFunc("GET /params", h.withMetrics("/params", h.handleParams))
	mux.HandleFunc("PUT /params/{name}", h.withMetrics("/params/{name}", h.handleUpdateParam))
	mux.HandleFunc("PUT /queue", h.withMetrics("/queue", h.handleQueueMode))
	mux.HandleFunc("PUT /language", h.withMetrics("/language", h.handleLanguage))
	mux.HandleFunc("PUT /postprocess/{stage}", h.withMetrics("/postprocess/{stage}", h.handleStage))

	mux.HandleFunc("POST /session/{action}", h.withMetrics("/session/{action}", h.handleSession))

	mux.HandleFunc("GET /chunks/{id}", h.withMetrics("/chunks/{id}", h.handleChunk))
	mux.HandleFunc("GET /chunks/{id}/audio", h.withMetrics("/chunks/{id}/audio", h.handleChunkAudio))

	mux.HandleFunc("GET /history", h.withMetrics("/history", h.handleHistory))
	mux.HandleFunc("GET /export.srt", h.withMetrics("/export.srt", h.handleExportSRT))

	mux.HandleFunc("GET /vocabulary", h.withMetrics("/vocabulary", h.handleVocabulary))
	mux.HandleFunc("PUT /vocabulary", h.withMetrics("/vocabulary", h.handleImportVocabulary))

	mux.HandleFunc("GET /events", h.withMetrics("/events", h.handleEvents))

	// The metrics endpoint is not instrumented itself.
	mux.Handle("GET /metrics", metrics.Handler(h.gatherer))

	mux.HandleFunc("GET /{$}", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), duration)
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// Hijack is required for websocket upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error kind to a status code. Server-side failures
// are reported to Sentry.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	kind := apperrors.KindOf(err)
	switch kind {
	case apperrors.KindValidation:
		status = http.StatusBadRequest
	case apperrors.KindQueueOverflow:
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		captureError(r, err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": kind.String()})
}

func captureError(req *http.Request, err error) {
	hub := sentry.CurrentHub().Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetTag("kind", apperrors.KindOf(err).String())
		hub.CaptureException(err)
	})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return apperrors.Wrap(err, apperrors.KindValidation, "invalid request body")
	}
	return nil
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}
	h.logger.Info("Starting HTTP API server", slog.String("address", ln.Addr().String()))

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")
	return h.server.Shutdown(ctx)
}

// StartSession starts the session on a fresh source from the factory.
func (h *HTTPServer) StartSession() error {
	if h.newSource == nil {
		return apperrors.New(apperrors.KindValidation, "no capture source configured")
	}
	src, err := h.newSource()
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInitialization, "failed to create capture source")
	}
	if err := h.session.Start(h.baseCtx, src); err != nil {
		return err
	}
	h.mu.Lock()
	h.source = src
	h.mu.Unlock()
	return nil
}

// statisticsProvider is implemented by sources that expose receive stats.
type statisticsProvider interface {
	GetStatistics() SourceStatistics
}

func (h *HTTPServer) sourceStats() *SourceStatistics {
	h.mu.Lock()
	src := h.source
	h.mu.Unlock()
	if p, ok := src.(statisticsProvider); ok {
		st := p.GetStatistics()
		return &st
	}
	return nil
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.session.GetStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).Round(time.Second).String(),
		"service": map[string]any{
			"name":    "overlay-transcriber",
			"version": "1.0.0",
		},
		"components": map[string]any{
			"session": map[string]any{
				"id":    stats.SessionID,
				"state": stats.State,
			},
			"transcription": map[string]any{
				"engine":        stats.Transcription.Engine,
				"breaker_state": stats.Transcription.Breaker.State,
				"processed":     stats.Transcription.TotalProcessed,
				"errors":        stats.Transcription.TotalErrors,
			},
			"queue": map[string]any{
				"state":  stats.Queue.State,
				"length": stats.Queue.QueueLength,
			},
		},
	})
}

func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"uptime":        time.Since(h.startTime).Round(time.Second).String(),
		"timestamp":     time.Now().UTC(),
		"session":       h.session.GetStats(),
		"event_clients": h.eventClients(),
	}
	if h.hub != nil {
		resp["events_published"] = h.hub.Published()
	}
	if st := h.sourceStats(); st != nil {
		resp["source"] = st
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleConfig returns the configuration without credentials.
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	sanitized := *h.config
	if sanitized.Transcription.APIKey != "" {
		sanitized.Transcription.APIKey = "[redacted]"
	}
	if sanitized.Sentry.DSN != "" {
		sanitized.Sentry.DSN = "[redacted]"
	}
	if sanitized.Store.DatabaseURL != "" {
		sanitized.Store.DatabaseURL = "[redacted]"
	}
	writeJSON(w, http.StatusOK, sanitized)
}

func (h *HTTPServer) handleParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"parameters": h.session.Parameters(),
		"ranges":     config.ParameterRanges,
	})
}

type valueRequest struct {
	Value any `json:"value"`
}

func (h *HTTPServer) handleUpdateParam(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	update, err := h.session.UpdateParameter(r.PathValue("name"), req.Value)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, update)
}

func (h *HTTPServer) handleQueueMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Parallel *bool `json:"parallel"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Parallel == nil {
		writeError(w, r, apperrors.New(apperrors.KindValidation, "parallel is required"))
		return
	}
	if err := h.session.SetQueueMode(*req.Parallel); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"parallel": *req.Parallel})
}

func (h *HTTPServer) handleLanguage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Language string `json:"language"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.session.SetLanguage(req.Language); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"language": req.Language})
}

func (h *HTTPServer) handleStage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Enabled == nil {
		writeError(w, r, apperrors.New(apperrors.KindValidation, "enabled is required"))
		return
	}
	pipeline := h.session.Pipeline()
	if err := pipeline.SetEnabled(postprocess.Stage(r.PathValue("stage")), *req.Enabled); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pipeline.Enabled())
}

func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	var err error
	switch action := r.PathValue("action"); action {
	case "start":
		err = h.StartSession()
	case "stop":
		err = h.session.Stop()
	case "pause":
		err = h.session.Pause()
	case "resume":
		err = h.session.Resume()
	case "reset":
		err = h.session.Reset()
	default:
		err = apperrors.Newf(apperrors.KindValidation, "unknown session action: %s", action)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": h.session.ID(),
		"state":      h.session.State(),
	})
}

func (h *HTTPServer) lookupChunk(w http.ResponseWriter, r *http.Request) (*audio.Chunk, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.KindValidation, "invalid chunk id"))
		return nil, false
	}
	chunk, ok := h.session.Chunk(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "chunk not found"})
		return nil, false
	}
	return chunk, true
}

func (h *HTTPServer) handleChunk(w http.ResponseWriter, r *http.Request) {
	chunk, ok := h.lookupChunk(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chunk":          chunk,
		"duration":       chunk.Duration().String(),
		"voice_segments": h.session.VoiceSegments(chunk),
	})
}

func (h *HTTPServer) handleChunkAudio(w http.ResponseWriter, r *http.Request) {
	chunk, ok := h.lookupChunk(w, r)
	if !ok {
		return
	}
	data, err := audio.EncodeWAV(chunk.Data, chunk.SampleRate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (h *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": h.session.ID(),
		"entries":    h.session.History(),
	})
}

func (h *HTTPServer) handleExportSRT(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-subrip")
	w.Header().Set("Content-Disposition", `attachment; filename="transcript.srt"`)
	if err := h.session.ExportSRT(w); err != nil {
		h.logger.Error("SRT export failed", slog.String("error", err.Error()))
	}
}

func (h *HTTPServer) handleVocabulary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Pipeline().Vocabulary().Export())
}

func (h *HTTPServer) handleImportVocabulary(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.KindValidation, "failed to read body"))
		return
	}
	n, err := h.session.Pipeline().Vocabulary().ImportJSON(data)
	if err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.KindValidation, "invalid vocabulary"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "Overlay Transcriber",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"GET /":                    "API documentation",
			"GET /health":              "Service health check",
			"GET /stats":               "Session, queue and receiver statistics",
			"GET /config":              "Service configuration without credentials",
			"GET /params":              "Runtime parameters and their ranges",
			"PUT /params/{name}":       "Update a runtime parameter: {\"value\": n}",
			"PUT /queue":               "Switch queue mode: {\"parallel\": bool}",
			"PUT /language":            "Set the transcription language: {\"language\": code}",
			"PUT /postprocess/{stage}": "Toggle a post-processing stage: {\"enabled\": bool}",
			"POST /session/{action}":   "start, stop, pause, resume or reset the session",
			"GET /chunks/{id}":         "Retained chunk with its voice segments",
			"GET /chunks/{id}/audio":   "Retained chunk as WAV",
			"GET /history":             "Emitted results of the current transcript",
			"GET /export.srt":          "Current transcript as SubRip",
			"GET /vocabulary":          "Export the vocabulary",
			"PUT /vocabulary":          "Import a vocabulary document",
			"GET /events":              "Websocket event stream",
			"GET /metrics":             "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
