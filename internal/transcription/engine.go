package transcription

import (
	"context"
	"errors"
	"fmt"

	"github.com/skypro1111/overlay-transcriber/internal/config"
)

// Request describes one engine call. AudioPath points at a mono PCM16 WAV file.
type Request struct {
	AudioPath  string
	Model      string
	Language   string
	SampleRate int
	ChunkID    uint64
}

// Engine is a speech-to-text backend.
type Engine interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (Output, error)
}

// EngineError is a failed engine call. Permanent failures (bad request,
// missing binary, rejected credentials) are not retried.
type EngineError struct {
	Engine     string
	StatusCode int
	Permanent  bool
	Err        error
}

func (e *EngineError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s engine: status %d: %v", e.Engine, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s engine: %v", e.Engine, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is an engine failure that retrying cannot fix.
func IsPermanent(err error) bool {
	var engineErr *EngineError
	return errors.As(err, &engineErr) && engineErr.Permanent
}

// permanentStatus classifies HTTP status codes: 429 and 5xx are transient.
func permanentStatus(code int) bool {
	return code >= 400 && code < 500 && code != 429
}

// NewEngine builds the engine selected in the configuration.
func NewEngine(cfg config.TranscriptionConfig) (Engine, error) {
	switch cfg.Engine {
	case "exec":
		return NewExecEngine(ExecConfig{
			BinaryPath: cfg.BinaryPath,
			Args:       cfg.Args,
		})
	case "http":
		return NewHTTPEngine(HTTPConfig{
			Endpoint:     cfg.Endpoint,
			APIKey:       cfg.APIKey,
			Timeout:      cfg.GetTimeoutDuration(),
			OutputFormat: cfg.OutputFormat,
		})
	case "openai":
		return NewOpenAIEngine(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.Endpoint,
		})
	default:
		return nil, fmt.Errorf("unknown transcription engine: %s", cfg.Engine)
	}
}
