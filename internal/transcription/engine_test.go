package transcription

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skypro1111/overlay-transcriber/internal/audio"
	"github.com/skypro1111/overlay-transcriber/internal/config"
)

func writeTestWAV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunk_1.wav")
	if err := audio.WriteWAVFile(path, make([]byte, 3200), 16000); err != nil {
		t.Fatalf("WriteWAVFile failed: %v", err)
	}
	return path
}

func TestExecEngine(t *testing.T) {
	tests := []struct {
		name          string
		args          []string
		wantText      string
		wantErr       bool
		wantPermanent bool
	}{
		{
			name:     "plain text stdout",
			args:     []string{"-c", "echo ' hello from {model}'"},
			wantText: "hello from tiny",
		},
		{
			name:     "json stdout",
			args:     []string{"-c", `echo '{"text":"json text","language":"en"}'`},
			wantText: "json text",
		},
		{
			name:    "non-zero exit",
			args:    []string{"-c", "echo boom >&2; exit 3"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, err := NewExecEngine(ExecConfig{BinaryPath: "sh", Args: tt.args})
			if err != nil {
				t.Fatalf("NewExecEngine failed: %v", err)
			}

			out, err := engine.Transcribe(context.Background(), Request{AudioPath: "/tmp/x.wav", Model: "tiny"})
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				if !strings.Contains(err.Error(), "boom") {
					t.Errorf("error should carry stderr, got %v", err)
				}
				if IsPermanent(err) != tt.wantPermanent {
					t.Errorf("IsPermanent = %v, want %v", IsPermanent(err), tt.wantPermanent)
				}
				return
			}
			if err != nil {
				t.Fatalf("Transcribe failed: %v", err)
			}
			if text, _ := out.Normalize(); text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
		})
	}
}

func TestExecEngineMissingBinary(t *testing.T) {
	engine, _ := NewExecEngine(ExecConfig{BinaryPath: "definitely-not-a-real-whisper-binary"})
	_, err := engine.Transcribe(context.Background(), Request{AudioPath: "x.wav"})
	if !IsPermanent(err) {
		t.Errorf("missing binary should be permanent, got %v", err)
	}
}

func TestExecEngineDefaultArgs(t *testing.T) {
	engine, _ := NewExecEngine(ExecConfig{BinaryPath: "whisper-cli"})
	args := engine.expandArgs(Request{AudioPath: "/tmp/a.wav", Model: "models/base.en.bin", Language: "en"})
	joined := strings.Join(args, " ")
	if joined != "-m models/base.en.bin -f /tmp/a.wav -l en -nt -np" {
		t.Errorf("args = %q", joined)
	}
}

func TestHTTPEngine(t *testing.T) {
	var gotFields map[string]string
	var gotFile []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotFields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			gotFields[k] = v[0]
		}
		f, _, err := r.FormFile("file")
		if err == nil {
			gotFile, _ = io.ReadAll(f)
			f.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"text":     "over the http wire",
			"segments": []map[string]any{{"text": "over the http wire", "confidence": 0.85}},
		})
	}))
	defer server.Close()

	engine, err := NewHTTPEngine(HTTPConfig{Endpoint: server.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("NewHTTPEngine failed: %v", err)
	}

	out, err := engine.Transcribe(context.Background(), Request{
		AudioPath: writeTestWAV(t), Model: "base.en", Language: "en", SampleRate: 16000, ChunkID: 12,
	})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if text, confs := out.Normalize(); text != "over the http wire" || len(confs) != 1 {
		t.Errorf("output = %q %v", text, confs)
	}
	if gotFields["chunk_id"] != "12" || gotFields["model"] != "base.en" || gotFields["language"] != "en" {
		t.Errorf("fields = %v", gotFields)
	}
	if gotFields["request_id"] == "" {
		t.Error("request_id should be set")
	}
	if err := audio.ValidateWAV(gotFile); err != nil {
		t.Errorf("uploaded file is not a valid WAV: %v", err)
	}
}

func TestHTTPEngineStatusClassification(t *testing.T) {
	tests := []struct {
		status        int
		wantPermanent bool
	}{
		{http.StatusInternalServerError, false},
		{http.StatusServiceUnavailable, false},
		{http.StatusTooManyRequests, false},
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
	}

	path := writeTestWAV(t)
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			engine, _ := NewHTTPEngine(HTTPConfig{Endpoint: server.URL})
			_, err := engine.Transcribe(context.Background(), Request{AudioPath: path})
			if err == nil {
				t.Fatal("Expected error but got none")
			}
			if IsPermanent(err) != tt.wantPermanent {
				t.Errorf("IsPermanent = %v, want %v (%v)", IsPermanent(err), tt.wantPermanent, err)
			}
		})
	}
}

func TestOpenAIEngine(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"task": "transcribe",
			"language": "english",
			"duration": 2.0,
			"text": "Testing the cloud engine.",
			"segments": [
				{"id": 0, "start": 0.0, "end": 2.0, "text": "Testing the cloud engine.", "avg_logprob": 0}
			]
		}`)
	}))
	defer server.Close()

	engine, err := NewOpenAIEngine(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewOpenAIEngine failed: %v", err)
	}

	out, err := engine.Transcribe(context.Background(), Request{AudioPath: writeTestWAV(t), Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	text, confs := out.Normalize()
	if text != "Testing the cloud engine." {
		t.Errorf("text = %q", text)
	}
	if len(confs) != 1 || confs[0] != 1 {
		t.Errorf("confidences = %v, want [1]", confs)
	}
	if out.Language != "english" {
		t.Errorf("language = %q", out.Language)
	}
}

func TestNewEngine(t *testing.T) {
	tests := []struct {
		name     string
		modify   func(c *config.TranscriptionConfig)
		wantName string
		wantErr  bool
	}{
		{"exec", func(c *config.TranscriptionConfig) {}, "exec", false},
		{"http", func(c *config.TranscriptionConfig) { c.Engine = "http"; c.Endpoint = "http://localhost:9000" }, "http", false},
		{"openai", func(c *config.TranscriptionConfig) { c.Engine = "openai"; c.APIKey = "sk" }, "openai", false},
		{"unknown", func(c *config.TranscriptionConfig) { c.Engine = "vosk" }, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default().Transcription
			tt.modify(&cfg)
			engine, err := NewEngine(cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEngine failed: %v", err)
			}
			if engine.Name() != tt.wantName {
				t.Errorf("Name() = %s, want %s", engine.Name(), tt.wantName)
			}
		})
	}
}
