package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/skypro1111/overlay-transcriber/internal/audio"
	"github.com/skypro1111/overlay-transcriber/internal/config"
	"github.com/skypro1111/overlay-transcriber/internal/metrics"
	"github.com/skypro1111/overlay-transcriber/internal/protocol"
)

// ControlFunc receives control datagrams. It runs on its own goroutine so
// it may stop the session that owns the source.
type ControlFunc func(cmd protocol.Command, sourceID uint32, name string)

// UDPSourceConfig contains the listener settings.
type UDPSourceConfig struct {
	BindAddress   string
	Port          int
	BufferSize    int
	Workers       int
	SampleRate    int // used until a start command announces another rate
	ChannelBuffer int
}

// UDPConfig derives the listener settings from the service configuration.
func UDPConfig(cfg *config.Config) UDPSourceConfig {
	return UDPSourceConfig{
		BindAddress:   cfg.Server.BindAddress,
		Port:          cfg.Server.UDPPort,
		BufferSize:    cfg.Server.BufferSize,
		Workers:       cfg.Server.Workers,
		SampleRate:    cfg.Audio.SampleRate,
		ChannelBuffer: cfg.Capture.ChannelBuffer,
	}
}

// UDPSource receives audio datagrams from remote capture agents and
// delivers them as frames. Packets are sharded to workers by source id, so
// frames of one agent keep their order.
type UDPSource struct {
	conn    *net.UDPConn
	config  UDPSourceConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	// OnControl, when set, is called for every control datagram.
	OnControl ControlFunc

	cancel    context.CancelFunc
	recvWG    sync.WaitGroup
	workerWG  sync.WaitGroup
	queues    []chan *incomingPacket
	outCh     chan audio.Frame
	startOnce sync.Once
	stopOnce  sync.Once

	mu               sync.RWMutex
	sources          map[uint32]*remoteSource
	packetsReceived  uint64
	packetsProcessed uint64
	parseErrors      uint64
	packetsDropped   uint64
	outOfOrder       uint64
	packetsLost      uint64
}

// incomingPacket represents a received UDP packet with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

type remoteSource struct {
	name       string
	addr       string
	sampleRate int
	lastSeq    uint32
	seen       bool
	packets    uint64
	lost       uint64
	lastSeen   time.Time
}

// RemoteSourceInfo describes one capture agent.
type RemoteSourceInfo struct {
	SourceID   uint32    `json:"source_id"`
	Name       string    `json:"name"`
	Address    string    `json:"address"`
	SampleRate int       `json:"sample_rate"`
	Packets    uint64    `json:"packets"`
	Lost       uint64    `json:"lost"`
	LastSeen   time.Time `json:"last_seen"`
}

// SourceStatistics represents receiver performance metrics
type SourceStatistics struct {
	PacketsReceived  uint64             `json:"packets_received"`
	PacketsProcessed uint64             `json:"packets_processed"`
	ParseErrors      uint64             `json:"parse_errors"`
	PacketsDropped   uint64             `json:"packets_dropped"`
	PacketsLost      uint64             `json:"packets_lost"`
	OutOfOrder       uint64             `json:"out_of_order"`
	QueueSize        int                `json:"queue_size"`
	QueueCapacity    int                `json:"queue_capacity"`
	Sources          []RemoteSourceInfo `json:"sources"`
}

// NewUDPSource creates a receiver. m may be nil.
func NewUDPSource(cfg UDPSourceConfig, logger *slog.Logger, m *metrics.Metrics) *UDPSource {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = protocol.MaxPacketSize
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}

	queues := make([]chan *incomingPacket, cfg.Workers)
	for i := range queues {
		queues[i] = make(chan *incomingPacket, 256)
	}
	return &UDPSource{
		config:  cfg,
		logger:  logger,
		metrics: m,
		queues:  queues,
		outCh:   make(chan audio.Frame, cfg.ChannelBuffer),
		sources: make(map[uint32]*remoteSource),
	}
}

// Frames delivers decoded audio. It is closed by Stop.
func (s *UDPSource) Frames() <-chan audio.Frame { return s.outCh }

// Addr returns the bound address, or nil before Start.
func (s *UDPSource) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Start binds the socket and begins receiving. A source can be started
// once.
func (s *UDPSource) Start(ctx context.Context) error {
	err := errors.New("udp source already started")
	s.startOnce.Do(func() {
		err = s.start(ctx)
	})
	return err
}

func (s *UDPSource) start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	if err := conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("UDP source started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("workers", len(s.queues)),
	)

	for i, q := range s.queues {
		s.workerWG.Add(1)
		go s.packetProcessor(ctx, i, q)
	}
	s.recvWG.Add(1)
	go s.receiveLoop(ctx, conn)
	return nil
}

// Stop closes the socket, waits for the workers and closes Frames.
func (s *UDPSource) Stop() {
	s.stopOnce.Do(func() {
		s.mu.RLock()
		conn, cancel := s.conn, s.cancel
		s.mu.RUnlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			if err := conn.Close(); err != nil {
				s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
			}
		}
		s.recvWG.Wait()
		for _, q := range s.queues {
			close(q)
		}
		s.workerWG.Wait()
		close(s.outCh)

		stats := s.GetStatistics()
		s.logger.Info("UDP source stopped",
			slog.Uint64("packets_received", stats.PacketsReceived),
			slog.Uint64("packets_processed", stats.PacketsProcessed),
			slog.Uint64("parse_errors", stats.ParseErrors),
			slog.Uint64("packets_lost", stats.PacketsLost),
		)
	})
}

// receiveLoop is the main packet receiving loop
func (s *UDPSource) receiveLoop(ctx context.Context, conn *net.UDPConn) {
	defer s.recvWG.Done()

	buffer := make([]byte, protocol.MaxPacketSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// The deadline bounds how long a cancelled context goes unnoticed.
		if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
			continue
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()

		data := make([]byte, n)
		copy(data, buffer[:n])
		packet := &incomingPacket{data: data, remoteAddr: remoteAddr, timestamp: time.Now()}

		q := s.queues[s.shard(data)]
		select {
		case q <- packet:
		default:
			s.mu.Lock()
			s.packetsDropped++
			s.mu.Unlock()
			s.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// shard picks the worker for a datagram by its source id. Datagrams too
// short to carry one go to worker 0, which rejects them.
func (s *UDPSource) shard(data []byte) int {
	h, err := protocol.ParseHeader(data)
	if err != nil {
		return 0
	}
	return int(h.SourceID % uint32(len(s.queues)))
}

func (s *UDPSource) packetProcessor(ctx context.Context, workerID int, q <-chan *incomingPacket) {
	defer s.workerWG.Done()

	for packet := range q {
		s.handlePacket(ctx, packet, workerID)
	}
}

func (s *UDPSource) handlePacket(ctx context.Context, packet *incomingPacket, workerID int) {
	parsed, err := protocol.ParsePacket(packet.data)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordFrameError()
		}
		s.logger.Warn("Failed to parse packet",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		return
	}

	s.mu.Lock()
	s.packetsProcessed++
	s.mu.Unlock()

	switch parsed.Header.PacketType {
	case protocol.PacketTypeControl:
		s.processControl(parsed.Header, parsed.Control, packet)
	case protocol.PacketTypeAudio:
		s.processAudio(ctx, parsed.Header, parsed.Audio, packet)
	}
}

func (s *UDPSource) processControl(h protocol.Header, p *protocol.ControlPayload, packet *incomingPacket) {
	name := p.Name()

	s.mu.Lock()
	src := s.sourceLocked(h.SourceID, packet)
	if name != "" {
		src.name = name
	}
	if p.Command == protocol.CommandStart {
		if p.SampleRate > 0 {
			src.sampleRate = int(p.SampleRate)
		}
		src.seen = false
	}
	s.mu.Unlock()

	s.logger.Info("Control packet received",
		slog.Uint64("source_id", uint64(h.SourceID)),
		slog.String("command", p.Command.String()),
		slog.String("source_name", name),
		slog.Uint64("sample_rate", uint64(p.SampleRate)),
	)

	if s.OnControl != nil {
		go s.OnControl(p.Command, h.SourceID, name)
	}
}

func (s *UDPSource) processAudio(ctx context.Context, h protocol.Header, p *protocol.AudioPayload, packet *incomingPacket) {
	s.mu.Lock()
	src := s.sourceLocked(h.SourceID, packet)
	if src.seen && int32(p.Sequence-src.lastSeq) <= 0 {
		s.outOfOrder++
		s.mu.Unlock()
		s.logger.Debug("Dropping late audio packet",
			slog.Uint64("source_id", uint64(h.SourceID)),
			slog.Uint64("sequence", uint64(p.Sequence)),
		)
		return
	}
	if src.seen {
		if gap := p.Sequence - src.lastSeq - 1; gap > 0 {
			src.lost += uint64(gap)
			s.packetsLost += uint64(gap)
		}
	}
	src.seen = true
	src.lastSeq = p.Sequence
	src.packets++
	sampleRate := src.sampleRate
	s.mu.Unlock()

	ts := packet.timestamp
	if p.CaptureTime != 0 {
		ts = p.Time()
	}

	frame := audio.Frame{PCM: p.PCM, Timestamp: ts, SampleRate: sampleRate}
	select {
	case s.outCh <- frame:
	case <-ctx.Done():
	}
}

// sourceLocked returns the tracking entry for id, creating it on first
// sight. s.mu must be held.
func (s *UDPSource) sourceLocked(id uint32, packet *incomingPacket) *remoteSource {
	src, ok := s.sources[id]
	if !ok {
		src = &remoteSource{sampleRate: s.config.SampleRate}
		s.sources[id] = src
	}
	src.addr = packet.remoteAddr.String()
	src.lastSeen = packet.timestamp
	return src
}

// GetStatistics returns current receiver statistics
func (s *UDPSource) GetStatistics() SourceStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := SourceStatistics{
		PacketsReceived:  s.packetsReceived,
		PacketsProcessed: s.packetsProcessed,
		ParseErrors:      s.parseErrors,
		PacketsDropped:   s.packetsDropped,
		PacketsLost:      s.packetsLost,
		OutOfOrder:       s.outOfOrder,
		Sources:          make([]RemoteSourceInfo, 0, len(s.sources)),
	}
	for _, q := range s.queues {
		stats.QueueSize += len(q)
		stats.QueueCapacity += cap(q)
	}
	for id, src := range s.sources {
		stats.Sources = append(stats.Sources, RemoteSourceInfo{
			SourceID:   id,
			Name:       src.name,
			Address:    src.addr,
			SampleRate: src.sampleRate,
			Packets:    src.packets,
			Lost:       src.lost,
			LastSeen:   src.lastSeen,
		})
	}
	sort.Slice(stats.Sources, func(i, j int) bool {
		return stats.Sources[i].SourceID < stats.Sources[j].SourceID
	})
	return stats
}
