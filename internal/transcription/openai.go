package transcription

import (
	"context"
	"errors"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI transcription engine. BaseURL is
// optional and points the client at a compatible server.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

// OpenAIEngine transcribes through the OpenAI audio API in verbose JSON
// mode so that per-segment log probabilities are available.
type OpenAIEngine struct {
	client *openai.Client
}

// NewOpenAIEngine creates the engine.
func NewOpenAIEngine(cfg OpenAIConfig) (*OpenAIEngine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIEngine{client: openai.NewClientWithConfig(clientCfg)}, nil
}

// Name returns "openai".
func (e *OpenAIEngine) Name() string { return "openai" }

// Transcribe uploads the WAV file and converts the response to segments
// whose confidence is exp(avg_logprob).
func (e *OpenAIEngine) Transcribe(ctx context.Context, req Request) (Output, error) {
	model := req.Model
	if model == "" {
		model = openai.Whisper1
	}

	resp, err := e.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    model,
		FilePath: req.AudioPath,
		Language: req.Language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return Output{}, e.classify(ctx, err)
	}

	out := Output{Kind: OutputStructured, Text: resp.Text, Language: resp.Language}
	for _, s := range resp.Segments {
		conf := math.Max(0, math.Min(1, math.Exp(s.AvgLogprob)))
		out.Segments = append(out.Segments, Segment{
			Start:      s.Start,
			End:        s.End,
			Text:       s.Text,
			Confidence: &conf,
		})
	}
	return out, nil
}

func (e *OpenAIEngine) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &EngineError{Engine: e.Name(), Err: ctxErr}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &EngineError{
			Engine:     e.Name(),
			StatusCode: apiErr.HTTPStatusCode,
			Permanent:  permanentStatus(apiErr.HTTPStatusCode),
			Err:        err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &EngineError{
			Engine:     e.Name(),
			StatusCode: reqErr.HTTPStatusCode,
			Permanent:  permanentStatus(reqErr.HTTPStatusCode),
			Err:        err,
		}
	}
	return &EngineError{Engine: e.Name(), Err: err}
}
