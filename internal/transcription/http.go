package transcription

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// HTTPConfig contains the HTTP engine configuration
type HTTPConfig struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxConcurrent int
	OutputFormat  string // "json" or "text"
}

// HTTPEngine uploads each chunk as multipart/form-data to a transcription
// endpoint and parses the response body.
type HTTPEngine struct {
	config     HTTPConfig
	httpClient *http.Client
	semaphore  chan struct{}
}

// NewHTTPEngine creates a new HTTP transcription engine
func NewHTTPEngine(cfg HTTPConfig) (*HTTPEngine, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "json"
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        16,
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &HTTPEngine{
		config:     cfg,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, cfg.MaxConcurrent),
	}, nil
}

// Name returns "http".
func (e *HTTPEngine) Name() string { return "http" }

// Transcribe uploads the WAV file at req.AudioPath.
func (e *HTTPEngine) Transcribe(ctx context.Context, req Request) (Output, error) {
	select {
	case e.semaphore <- struct{}{}:
		defer func() { <-e.semaphore }()
	case <-ctx.Done():
		return Output{}, &EngineError{Engine: e.Name(), Err: ctx.Err()}
	}

	body, contentType, err := e.createMultipartRequest(req)
	if err != nil {
		return Output{}, &EngineError{Engine: e.Name(), Permanent: true, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Endpoint, body)
	if err != nil {
		return Output{}, &EngineError{Engine: e.Name(), Permanent: true, Err: fmt.Errorf("failed to create HTTP request: %w", err)}
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "overlay-transcriber/1.0")
	if e.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return Output{}, &EngineError{Engine: e.Name(), Err: fmt.Errorf("HTTP request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Output{}, &EngineError{Engine: e.Name(), Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Output{}, &EngineError{
			Engine:     e.Name(),
			StatusCode: resp.StatusCode,
			Permanent:  permanentStatus(resp.StatusCode),
			Err:        fmt.Errorf("%s", bytes.TrimSpace(respBody)),
		}
	}

	return ParseOutput(respBody), nil
}

// createMultipartRequest builds the form: the WAV file plus request fields.
func (e *HTTPEngine) createMultipartRequest(req Request) (io.Reader, string, error) {
	f, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", filepath.Base(req.AudioPath))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(fileWriter, f); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"chunk_id":        strconv.FormatUint(req.ChunkID, 10),
		"sample_rate":     strconv.Itoa(req.SampleRate),
		"request_id":      uuid.NewString(),
		"response_format": e.config.OutputFormat,
	}
	if req.Model != "" {
		fields["model"] = req.Model
	}
	if req.Language != "" {
		fields["language"] = req.Language
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}
