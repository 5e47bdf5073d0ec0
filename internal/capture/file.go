package capture

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/skypro1111/overlay-transcriber/internal/audio"
	"github.com/skypro1111/overlay-transcriber/internal/dsp"
)

// FileSource replays a mono 16-bit WAV file as frames. The frame channel
// is closed when the file is exhausted or the source is stopped.
type FileSource struct {
	pcm             []byte
	sampleRate      int
	framesPerBuffer int
	realtime        bool
	outCh           chan audio.Frame

	once   sync.Once
	cancel context.CancelFunc
}

// NewFileSource loads path. With realtime set, frames are paced at the
// file's sample rate; otherwise they are delivered as fast as consumed.
func NewFileSource(path string, framesPerBuffer int, realtime bool) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	pcm, sampleRate, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if framesPerBuffer <= 0 {
		framesPerBuffer = 1024
	}
	return &FileSource{
		pcm:             pcm,
		sampleRate:      sampleRate,
		framesPerBuffer: framesPerBuffer,
		realtime:        realtime,
		outCh:           make(chan audio.Frame),
	}, nil
}

// SampleRate returns the rate of the loaded file.
func (f *FileSource) SampleRate() int { return f.sampleRate }

// Duration returns the playback length of the loaded file.
func (f *FileSource) Duration() time.Duration {
	return time.Duration(dsp.NumSamples(f.pcm)) * time.Second / time.Duration(f.sampleRate)
}

// Frames returns the channel frames are delivered on.
func (f *FileSource) Frames() <-chan audio.Frame { return f.outCh }

// Start begins replay. It may be called once.
func (f *FileSource) Start(ctx context.Context) error {
	started := false
	f.once.Do(func() {
		started = true
		ctx, f.cancel = context.WithCancel(ctx)
		go f.replay(ctx)
	})
	if !started {
		return fmt.Errorf("file source already started")
	}
	return nil
}

func (f *FileSource) replay(ctx context.Context) {
	defer close(f.outCh)

	step := f.framesPerBuffer * 2
	frameDur := time.Duration(f.framesPerBuffer) * time.Second / time.Duration(f.sampleRate)
	start := time.Now()

	var ticker *time.Ticker
	if f.realtime {
		ticker = time.NewTicker(frameDur)
		defer ticker.Stop()
	}

	for i, off := 0, 0; off < len(f.pcm); i, off = i+1, off+step {
		end := off + step
		if end > len(f.pcm) {
			end = len(f.pcm)
		}
		frame := audio.Frame{
			PCM:        append([]byte(nil), f.pcm[off:end]...),
			Timestamp:  start.Add(time.Duration(i) * frameDur),
			SampleRate: f.sampleRate,
		}

		if ticker != nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
		select {
		case <-ctx.Done():
			return
		case f.outCh <- frame:
		}
	}
}

// Stop ends replay early.
func (f *FileSource) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
}
