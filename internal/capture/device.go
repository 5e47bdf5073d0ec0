// Package capture produces PCM16LE mono frames from an input device or a
// WAV file. Frames are delivered on a buffered channel; when the consumer
// falls behind new frames are dropped and counted rather than blocking the
// device callback.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/skypro1111/overlay-transcriber/internal/audio"
)

// DeviceConfig contains input device settings
type DeviceConfig struct {
	Device          string // case-insensitive substring of the device name, empty for the default input
	SampleRate      int
	FramesPerBuffer int
	ChannelBuffer   int
}

// DeviceStats represents capture statistics
type DeviceStats struct {
	Device         string `json:"device"`
	Running        bool   `json:"running"`
	FramesCaptured uint64 `json:"frames_captured"`
	FramesDropped  uint64 `json:"frames_dropped"`
}

// DeviceCapturer reads one mono input stream through PortAudio.
type DeviceCapturer struct {
	config DeviceConfig
	logger *slog.Logger
	outCh  chan audio.Frame

	mu       sync.Mutex
	stream   *portaudio.Stream
	cancel   context.CancelFunc
	done     chan struct{}
	device   string
	running  bool
	captured atomic.Uint64
	dropped  atomic.Uint64
}

// NewDeviceCapturer initializes PortAudio. Close releases it.
func NewDeviceCapturer(cfg DeviceConfig, logger *slog.Logger) (*DeviceCapturer, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = 1024
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	return &DeviceCapturer{
		config: cfg,
		logger: logger,
		outCh:  make(chan audio.Frame, cfg.ChannelBuffer),
	}, nil
}

// Frames returns the channel frames are delivered on.
func (c *DeviceCapturer) Frames() <-chan audio.Frame { return c.outCh }

// selectDevice picks the first input device whose name contains want, or
// def when want is empty.
func selectDevice(devices []*portaudio.DeviceInfo, want string, def *portaudio.DeviceInfo) (*portaudio.DeviceInfo, error) {
	if want == "" {
		if def == nil || def.MaxInputChannels < 1 {
			return nil, fmt.Errorf("no default input device")
		}
		return def, nil
	}
	want = strings.ToLower(want)
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 {
			continue
		}
		if strings.Contains(strings.ToLower(dev.Name), want) {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("no input device matching %q", want)
}

// Start opens the device and begins delivering frames.
func (c *DeviceCapturer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()
	dev, err := selectDevice(devices, c.config.Device, def)
	if err != nil {
		return err
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(c.config.SampleRate),
		FramesPerBuffer: c.config.FramesPerBuffer,
	}

	buf := make([]float32, c.config.FramesPerBuffer)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start %s: %w", dev.Name, err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	c.stream = stream
	c.cancel = cancel
	c.done = make(chan struct{})
	c.device = dev.Name
	c.running = true

	c.logger.Info("Started audio capture",
		slog.String("device", dev.Name),
		slog.Int("sample_rate", c.config.SampleRate),
		slog.Int("frames_per_buffer", c.config.FramesPerBuffer))

	go c.readLoop(readCtx, stream, buf, c.done)
	return nil
}

func (c *DeviceCapturer) readLoop(ctx context.Context, stream *portaudio.Stream, buf []float32, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := stream.Read(); err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("Audio read failed", slog.String("error", err.Error()))
			}
			return
		}

		frame := audio.Frame{
			PCM:        audio.Float32ToPCM16(buf),
			Timestamp:  time.Now(),
			SampleRate: c.config.SampleRate,
		}
		c.captured.Add(1)

		select {
		case c.outCh <- frame:
		default:
			if c.dropped.Add(1)%100 == 1 {
				c.logger.Debug("Frame channel full, dropping frames", slog.Uint64("dropped", c.dropped.Load()))
			}
		}
	}
}

// Stop halts capture and waits for the read loop to exit. The device can
// be started again.
func (c *DeviceCapturer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}

	c.cancel()
	if err := c.stream.Stop(); err != nil {
		c.logger.Warn("Failed to stop audio stream", slog.String("error", err.Error()))
	}
	<-c.done
	if err := c.stream.Close(); err != nil {
		c.logger.Warn("Failed to close audio stream", slog.String("error", err.Error()))
	}
	c.stream = nil
	c.running = false
	c.logger.Info("Stopped audio capture", slog.String("device", c.device))
}

// Close stops capture and terminates PortAudio.
func (c *DeviceCapturer) Close() error {
	c.Stop()
	return portaudio.Terminate()
}

// GetStats returns capture statistics.
func (c *DeviceCapturer) GetStats() DeviceStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return DeviceStats{
		Device:         c.device,
		Running:        c.running,
		FramesCaptured: c.captured.Load(),
		FramesDropped:  c.dropped.Load(),
	}
}
