package transcription

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// DefaultExecArgs invoke a whisper.cpp style CLI that prints the
// transcript to stdout.
var DefaultExecArgs = []string{"-m", "{model}", "-f", "{audio}", "-l", "{language}", "-nt", "-np"}

// ExecConfig configures the external command engine. Args may contain the
// placeholders {audio}, {model}, {language} and {sample_rate}.
type ExecConfig struct {
	BinaryPath string
	Args       []string
	Env        []string
}

// ExecEngine runs an external transcription command per chunk and parses
// its stdout as plain text or JSON.
type ExecEngine struct {
	config ExecConfig
}

// NewExecEngine creates the engine. The binary is resolved lazily so that
// a missing binary surfaces as a permanent invocation failure.
func NewExecEngine(cfg ExecConfig) (*ExecEngine, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("binary path cannot be empty")
	}
	if len(cfg.Args) == 0 {
		cfg.Args = DefaultExecArgs
	}
	return &ExecEngine{config: cfg}, nil
}

// Name returns "exec".
func (e *ExecEngine) Name() string { return "exec" }

func (e *ExecEngine) expandArgs(req Request) []string {
	r := strings.NewReplacer(
		"{audio}", req.AudioPath,
		"{model}", req.Model,
		"{language}", req.Language,
		"{sample_rate}", strconv.Itoa(req.SampleRate),
	)
	args := make([]string, len(e.config.Args))
	for i, a := range e.config.Args {
		args[i] = r.Replace(a)
	}
	return args
}

// Transcribe runs the command and parses its output.
func (e *ExecEngine) Transcribe(ctx context.Context, req Request) (Output, error) {
	cmd := exec.CommandContext(ctx, e.config.BinaryPath, e.expandArgs(req)...)
	cmd.Env = append(os.Environ(), e.config.Env...)

	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Output{}, &EngineError{Engine: e.Name(), Err: ctxErr}
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return Output{}, &EngineError{Engine: e.Name(), Permanent: true, Err: err}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Output{}, &EngineError{
				Engine: e.Name(),
				Err:    fmt.Errorf("exit code %d: %s", exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr))),
			}
		}
		return Output{}, &EngineError{Engine: e.Name(), Err: fmt.Errorf("run command: %w", err)}
	}

	return ParseOutput(out), nil
}
