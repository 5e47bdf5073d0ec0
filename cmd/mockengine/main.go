// Command mockengine is a stand-in transcription server for local runs of
// the "http" engine. It accepts the same multipart upload and answers with
// canned structured output.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/skypro1111/overlay-transcriber/internal/audio"
)

var phrases = []string{
	"this is a test transcription of the audio chunk",
	"the quick brown fox jumps over the lazy dog",
	"we are testing the overlay transcriber",
	"",
	"thank you for listening",
}

type segment struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

type response struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []segment `json:"segments"`
}

type mockEngine struct {
	latency  time.Duration
	failRate float64
	logger   *slog.Logger
	served   atomic.Uint64
}

func (m *mockEngine) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}
	duration, err := audio.GetWAVDuration(data)
	if err != nil {
		http.Error(w, "Invalid WAV: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}

	chunkID, _ := strconv.ParseUint(r.FormValue("chunk_id"), 10, 64)
	language := r.FormValue("language")
	if language == "" {
		language = "en"
	}

	m.logger.Info("Transcription request",
		slog.Uint64("chunk_id", chunkID),
		slog.String("request_id", r.FormValue("request_id")),
		slog.String("model", r.FormValue("model")),
		slog.String("language", language),
		slog.String("filename", header.Filename),
		slog.Int("size", len(data)),
		slog.Float64("duration", duration),
	)

	if m.latency > 0 {
		select {
		case <-time.After(m.latency):
		case <-r.Context().Done():
			return
		}
	}
	if m.failRate > 0 && rand.Float64() < m.failRate {
		http.Error(w, "engine overloaded", http.StatusServiceUnavailable)
		return
	}

	n := m.served.Add(1)
	text := phrases[int(chunkID)%len(phrases)]
	resp := response{Text: text, Language: language}
	if text != "" {
		resp.Segments = []segment{{Text: text, Start: 0, End: duration, Confidence: 0.9}}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)

	m.logger.Debug("Transcription response sent", slog.Uint64("served", n), slog.String("text", text))
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	latency := flag.Duration("latency", 200*time.Millisecond, "Simulated processing time")
	failRate := flag.Float64("fail-rate", 0, "Fraction of requests answered with 503")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	m := &mockEngine{latency: *latency, failRate: *failRate, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /transcribe", m.handleTranscribe)

	logger.Info("Mock transcription engine starting",
		slog.String("addr", *addr),
		slog.String("endpoint", "http://localhost"+*addr+"/transcribe"),
	)
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
