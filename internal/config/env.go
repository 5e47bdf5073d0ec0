package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables that override file settings. Secrets belong here
// rather than in the YAML file.
const (
	EnvOpenAIKey   = "OPENAI_API_KEY"
	EnvEngineKey   = "ENGINE_API_KEY"
	EnvDatabaseURL = "DATABASE_URL"
	EnvSentryDSN   = "SENTRY_DSN"
	EnvEnvironment = "ENVIRONMENT"
	EnvLogLevel    = "LOG_LEVEL"
)

// LoadEnv loads .env style files into the process environment. Missing
// files are not an error; existing variables are never overwritten.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// ApplyEnv overlays environment variables on top of the file settings.
func (c *Config) ApplyEnv() {
	switch c.Transcription.Engine {
	case "openai":
		c.Transcription.APIKey = getenv(EnvOpenAIKey, c.Transcription.APIKey)
	default:
		c.Transcription.APIKey = getenv(EnvEngineKey, c.Transcription.APIKey)
	}

	if url := os.Getenv(EnvDatabaseURL); url != "" {
		c.Store.DatabaseURL = url
		c.Store.Enabled = true
	}

	c.Sentry.DSN = getenv(EnvSentryDSN, c.Sentry.DSN)
	c.Sentry.Environment = getenv(EnvEnvironment, c.Sentry.Environment)
	c.Logging.Level = getenv(EnvLogLevel, c.Logging.Level)
}
