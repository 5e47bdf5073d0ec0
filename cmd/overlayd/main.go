package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/skypro1111/overlay-transcriber/internal/capture"
	"github.com/skypro1111/overlay-transcriber/internal/config"
	"github.com/skypro1111/overlay-transcriber/internal/events"
	"github.com/skypro1111/overlay-transcriber/internal/metrics"
	"github.com/skypro1111/overlay-transcriber/internal/protocol"
	"github.com/skypro1111/overlay-transcriber/internal/server"
	"github.com/skypro1111/overlay-transcriber/internal/session"
	"github.com/skypro1111/overlay-transcriber/internal/store"
	"github.com/skypro1111/overlay-transcriber/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "overlay-transcriber"
	serviceVersion    = "1.0.0"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file, empty for built-in defaults")
	envFile := flag.String("env", ".env", "Path to an optional .env file")
	input := flag.String("input", "", "Transcribe a WAV file and exit instead of serving")
	realtime := flag.Bool("realtime", false, "Pace -input at its sample rate")
	output := flag.String("output", "", "Write the -input transcript as SRT to this file instead of stdout")
	source := flag.String("source", "", "Override capture.source: device, udp or none")
	flag.Parse()

	if err := config.LoadEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if *source != "" {
		cfg.Capture.Source = *source
	}

	var file *capture.FileSource
	if *input != "" {
		file, err = capture.NewFileSource(*input, cfg.Capture.FramesPerBuffer, *realtime)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open input: %v\n", err)
			return 1
		}
		// The chunker runs at the file's rate.
		cfg.Audio.SampleRate = file.SampleRate()
		// Keep stdout for the transcript.
		if *output == "" && (cfg.Logging.Output == "" || cfg.Logging.Output == "stdout") {
			cfg.Logging.Output = "stderr"
		}
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	logger := initLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)
	logger.Info("Configuration loaded",
		slog.String("capture_source", cfg.Capture.Source),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("chunk_duration_ms", cfg.Audio.ChunkDurationMs),
		slog.Int("overlap_ms", cfg.Audio.OverlapMs),
		slog.String("engine", cfg.Transcription.Engine),
		slog.String("model", cfg.Transcription.Model),
		slog.Bool("parallel", cfg.Queue.ParallelProcessing),
		slog.Bool("store", cfg.Store.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	if cfg.Sentry.DSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.Sentry.Environment,
			Release:          serviceName + "@" + serviceVersion,
		})
		if err != nil {
			logger.Warn("Sentry init failed", slog.String("error", err.Error()))
		} else {
			logger.Info("Sentry initialized", slog.String("environment", cfg.Sentry.Environment))
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(reg)
	hub := events.NewHub()

	engine, err := transcription.NewEngine(cfg.Transcription)
	if err != nil {
		logger.Error("Failed to create transcription engine", slog.String("error", err.Error()))
		sentry.CaptureException(err)
		return 1
	}

	sess, err := session.New(cfg, engine, session.Options{Hub: hub, Metrics: appMetrics, Logger: logger})
	if err != nil {
		logger.Error("Failed to create session", slog.String("error", err.Error()))
		return 1
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn("Session cleanup failed", slog.String("error", err.Error()))
		}
	}()

	if cfg.Store.Enabled {
		st, err := openStore(ctx, cfg.Store, logger)
		if err != nil {
			logger.Error("Failed to open store", slog.String("error", err.Error()))
			sentry.CaptureException(err)
			return 1
		}
		defer st.Close()

		obs := events.NewChannelObserver(1024)
		unsubscribe := hub.Subscribe(obs)
		defer unsubscribe()
		storeCtx, cancelStore := context.WithCancel(context.WithoutCancel(ctx))
		defer cancelStore()
		go st.Consume(storeCtx, obs.C, sess.ID)
	}

	if file != nil {
		return transcribeFile(ctx, sess, file, *output, logger)
	}
	return serve(ctx, cfg, sess, hub, appMetrics, reg, logger)
}

// loadConfig reads path on top of the defaults. A missing file at the
// default path is not an error.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	return cfg, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*store.Store, error) {
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := store.Open(openCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	st := store.New(db, logger)
	if err := st.Migrate(openCtx); err != nil {
		st.Close()
		return nil, err
	}
	logger.Info("Store connected")
	return st, nil
}

// transcribeFile runs one session over a WAV file, waits for every chunk
// and writes the transcript as SRT.
func transcribeFile(ctx context.Context, sess *session.Session, file *capture.FileSource, output string, logger *slog.Logger) int {
	logger.Info("Transcribing file", slog.Duration("duration", file.Duration()))

	if err := sess.Start(ctx, file); err != nil {
		logger.Error("Failed to start session", slog.String("error", err.Error()))
		return 1
	}
	if err := sess.Wait(ctx); err != nil {
		logger.Warn("Interrupted before the input was consumed", slog.String("error", err.Error()))
	}
	if err := sess.Drain(ctx); err != nil {
		logger.Warn("Interrupted before the queue drained", slog.String("error", err.Error()))
	}
	if err := sess.Stop(); err != nil {
		logger.Error("Failed to stop session", slog.String("error", err.Error()))
	}

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			logger.Error("Failed to create output", slog.String("error", err.Error()))
			return 1
		}
		defer f.Close()
		w = f
	}
	if err := sess.ExportSRT(w); err != nil {
		logger.Error("Failed to write transcript", slog.String("error", err.Error()))
		return 1
	}

	stats := sess.GetStats()
	logger.Info("File transcribed",
		slog.Uint64("chunks", stats.Chunker.ChunksCreated),
		slog.Uint64("skipped", stats.Chunker.ChunksSkipped),
		slog.Uint64("emitted", stats.Emitter.Emitted),
		slog.Uint64("failed", stats.Queue.Failed),
	)
	return 0
}

// serve runs the capture source and the control API until a signal
// arrives.
func serve(ctx context.Context, cfg *config.Config, sess *session.Session, hub *events.Hub,
	m *metrics.Metrics, reg *prometheus.Registry, logger *slog.Logger) int {

	newSource, closeSource, err := sourceFactory(cfg, sess, m, logger)
	if err != nil {
		logger.Error("Failed to configure capture", slog.String("error", err.Error()))
		return 1
	}
	defer func() {
		if err := closeSource(); err != nil {
			logger.Warn("Failed to release capture device", slog.String("error", err.Error()))
		}
	}()

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, server.Deps{
			Config:      cfg,
			Session:     sess,
			Hub:         hub,
			Metrics:     m,
			Gatherer:    reg,
			NewSource:   newSource,
			BaseContext: ctx,
		}, logger)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			return 1
		}
	}

	if newSource != nil {
		var startErr error
		if httpServer != nil {
			startErr = httpServer.StartSession()
		} else {
			src, err := newSource()
			if err == nil {
				err = sess.Start(ctx, src)
			}
			startErr = err
		}
		if startErr != nil {
			logger.Error("Failed to start session", slog.String("error", startErr.Error()))
			sentry.CaptureException(startErr)
			return 1
		}
	}

	logger.Info("Service started successfully, waiting for signals...")
	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if state := sess.State(); state == session.StateRunning || state == session.StatePaused {
		if err := sess.Stop(); err != nil {
			logger.Error("Error stopping session", slog.String("error", err.Error()))
		}
	}

	stats := sess.GetStats()
	logger.Info("Final session statistics",
		slog.Uint64("frames_received", stats.FramesReceived),
		slog.Uint64("chunks_created", stats.Chunker.ChunksCreated),
		slog.Uint64("transcribed", stats.Transcription.TotalProcessed),
		slog.Uint64("transcription_errors", stats.Transcription.TotalErrors),
		slog.Uint64("emitted", stats.Emitter.Emitted),
	)
	logger.Info("Service stopped")
	return 0
}

// sourceFactory returns a constructor for the configured capture source,
// or nil when the service only serves the API. The device is opened once
// and reused across sessions; UDP listeners are bound per session.
func sourceFactory(cfg *config.Config, sess *session.Session, m *metrics.Metrics, logger *slog.Logger) (server.SourceFactory, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Capture.Source {
	case "device":
		dev, err := capture.NewDeviceCapturer(capture.DeviceConfig{
			Device:          cfg.Capture.Device,
			SampleRate:      cfg.Audio.SampleRate,
			FramesPerBuffer: cfg.Capture.FramesPerBuffer,
			ChannelBuffer:   cfg.Capture.ChannelBuffer,
		}, logger)
		if err != nil {
			return nil, noop, err
		}
		return func() (session.Source, error) { return dev, nil }, dev.Close, nil
	case "udp":
		return func() (session.Source, error) {
			src := server.NewUDPSource(server.UDPConfig(cfg), logger, m)
			src.OnControl = controlHandler(sess, logger)
			return src, nil
		}, noop, nil
	case "none":
		return nil, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown capture source: %s", cfg.Capture.Source)
	}
}

// controlHandler lets remote agents pause and resume the session. Start
// and stop only mark stream boundaries; the session keeps running so one
// agent cannot end another's transcript.
func controlHandler(sess *session.Session, logger *slog.Logger) server.ControlFunc {
	return func(cmd protocol.Command, sourceID uint32, name string) {
		var err error
		switch cmd {
		case protocol.CommandPause:
			err = sess.Pause()
		case protocol.CommandResume:
			err = sess.Resume()
		default:
			return
		}
		if err != nil {
			logger.Warn("Remote control command rejected",
				slog.String("command", cmd.String()),
				slog.Uint64("source_id", uint64(sourceID)),
				slog.String("source_name", name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output io.Writer
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(output, opts))
	}
	return slog.New(slog.NewTextHandler(output, opts))
}
