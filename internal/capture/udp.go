package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Koot5958/translation-live/internal/audio"
	"github.com/Koot5958/translation-live/internal/metrics"
	"github.com/Koot5958/translation-live/internal/protocol"
)

// UDPConfig configures the UDP packet source
type UDPConfig struct {
	BindAddress string
	Port        int
	BufferSize  int

	// SampleRate is the pipeline rate; streams at other rates are resampled.
	SampleRate int
	MaxGap     int
}

// UDPSource receives protocol packets and pushes the audio of every
// stream, in sequence order, into the sink.
type UDPSource struct {
	config  UDPConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	conn       *net.UDPConn
	packetChan chan *incomingPacket

	mu               sync.RWMutex
	streams          map[uint32]*udpStream
	packetsReceived  uint64
	packetsProcessed uint64
	packetsDropped   uint64
	parseErrors      uint64
	lostPackets      uint64
}

type udpStream struct {
	reorderer  *Reorderer
	sampleRate int
	started    time.Time
}

// incomingPacket represents a received UDP packet with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
}

// UDPStats represents UDP source statistics
type UDPStats struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	ParseErrors      uint64 `json:"parse_errors"`
	LostPackets      uint64 `json:"lost_packets"`
	ActiveStreams    int    `json:"active_streams"`
	QueueSize        int    `json:"queue_size"`
	QueueCapacity    int    `json:"queue_capacity"`
}

const packetQueueSize = 1000

// NewUDPSource creates a UDP source. The socket is bound by Listen or Run.
func NewUDPSource(config UDPConfig, m *metrics.Metrics, logger *slog.Logger) (*UDPSource, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 65536
	}
	if config.MaxGap <= 0 {
		config.MaxGap = DefaultMaxGap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UDPSource{
		config:     config,
		metrics:    m,
		logger:     logger.With(slog.String("component", "udp_source")),
		packetChan: make(chan *incomingPacket, packetQueueSize),
		streams:    make(map[uint32]*udpStream),
	}, nil
}

// Listen binds the UDP socket.
func (s *UDPSource) Listen() error {
	if s.conn != nil {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(s.config.BindAddress, fmt.Sprint(s.config.Port)))
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
			slog.String("error", err.Error()))
	}

	s.conn = conn
	s.logger.Info("UDP source listening", slog.String("address", conn.LocalAddr().String()))
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *UDPSource) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Run receives packets until ctx is cancelled. The socket is closed on
// return; a later Run binds it again.
func (s *UDPSource) Run(ctx context.Context, sink Sink) error {
	if err := s.Listen(); err != nil {
		return err
	}
	conn := s.conn
	defer func() { s.conn = nil }()

	packets := make(chan *incomingPacket, packetQueueSize)
	s.mu.Lock()
	s.packetChan = packets
	s.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for packet := range packets {
			s.handlePacket(packet, sink)
		}
	}()

	// closing the socket unblocks the receive loop
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.receiveLoop(ctx, conn, packets)
	conn.Close()

	close(packets)
	wg.Wait()

	s.mu.RLock()
	s.logger.Info("UDP source stopped",
		slog.Uint64("packets_received", s.packetsReceived),
		slog.Uint64("packets_processed", s.packetsProcessed),
		slog.Uint64("parse_errors", s.parseErrors),
		slog.Uint64("lost_packets", s.lostPackets))
	s.mu.RUnlock()
	return nil
}

func (s *UDPSource) receiveLoop(ctx context.Context, conn *net.UDPConn, packets chan<- *incomingPacket) {
	buffer := make([]byte, protocol.MaxPacketSize)

	for {
		n, remoteAddr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
			continue
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()
		s.metrics.RecordPacketReceived()

		// buffer is reused
		data := make([]byte, n)
		copy(data, buffer[:n])

		select {
		case packets <- &incomingPacket{data: data, remoteAddr: remoteAddr}:
		default:
			s.mu.Lock()
			s.packetsDropped++
			s.mu.Unlock()
			s.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n))
		}
	}
}

// handlePacket processes a single incoming packet
func (s *UDPSource) handlePacket(packet *incomingPacket, sink Sink) {
	parsed, err := protocol.ParsePacket(packet.data)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		s.metrics.RecordParseError()

		s.logger.Warn("Failed to parse packet",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	s.packetsProcessed++
	s.mu.Unlock()

	header := parsed.Header
	switch header.PacketType {
	case protocol.PacketTypeControl:
		s.processControl(header, parsed.Control, sink)
	case protocol.PacketTypeAudio:
		s.processAudio(header, parsed.Audio, sink)
	}
}

func (s *UDPSource) processControl(header *protocol.Header, payload *protocol.ControlPayload, sink Sink) {
	switch payload.Command {
	case protocol.CommandStart:
		rate := int(payload.SampleRate)
		if rate <= 0 {
			rate = s.config.SampleRate
		}
		s.mu.Lock()
		s.streams[header.StreamID] = s.newStream(rate)
		s.mu.Unlock()

		s.logger.Info("Audio stream started",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Int("sample_rate", rate))

	case protocol.CommandStop:
		s.endStream(header.StreamID, sink)
	}
}

func (s *UDPSource) processAudio(header *protocol.Header, payload *protocol.AudioPayload, sink Sink) {
	s.mu.Lock()
	st, ok := s.streams[header.StreamID]
	if !ok {
		// senders may skip the start packet when they use the pipeline rate
		st = s.newStream(s.config.SampleRate)
		s.streams[header.StreamID] = st
	}
	ready, lost, err := st.reorderer.Add(payload.Sequence, payload.AudioData)
	s.lostPackets += uint64(lost)
	s.mu.Unlock()

	if !ok {
		s.logger.Info("Audio stream started without control packet",
			slog.Uint64("stream_id", uint64(header.StreamID)))
	}
	if err != nil {
		s.logger.Debug("Dropping packet",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.String("error", err.Error()))
		return
	}
	if lost > 0 {
		s.metrics.RecordPacketsLost(lost)
		s.logger.Warn("Packets lost",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Int("count", lost))
	}

	s.push(st, ready, sink)

	if header.EndOfStream() {
		s.endStream(header.StreamID, sink)
	}
}

func (s *UDPSource) newStream(rate int) *udpStream {
	return &udpStream{
		reorderer:  NewReorderer(s.config.MaxGap),
		sampleRate: rate,
		started:    time.Now(),
	}
}

// endStream flushes what the stream still buffers and forgets it.
func (s *UDPSource) endStream(streamID uint32, sink Sink) {
	s.mu.Lock()
	st, ok := s.streams[streamID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.streams, streamID)
	ready, lost := st.reorderer.Flush()
	s.lostPackets += uint64(lost)
	stats := st.reorderer.GetStats()
	s.mu.Unlock()

	s.metrics.RecordPacketsLost(lost)
	s.push(st, ready, sink)

	s.logger.Info("Audio stream ended",
		slog.Uint64("stream_id", uint64(streamID)),
		slog.Duration("duration", time.Since(st.started)),
		slog.Uint64("packets", stats.TotalPackets),
		slog.Float64("loss_rate", stats.LossRate))
}

func (s *UDPSource) push(st *udpStream, payloads [][]byte, sink Sink) {
	for _, pcm := range payloads {
		if len(pcm) == 0 {
			continue
		}
		samples := audio.Resample(audio.PCM16ToFloat(pcm), st.sampleRate, s.config.SampleRate)
		sink.Push(samples)
		s.metrics.RecordChunkCaptured(len(samples))
	}
}

// GetStatistics returns current source statistics
func (s *UDPSource) GetStatistics() UDPStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return UDPStats{
		PacketsReceived:  s.packetsReceived,
		PacketsProcessed: s.packetsProcessed,
		PacketsDropped:   s.packetsDropped,
		ParseErrors:      s.parseErrors,
		LostPackets:      s.lostPackets,
		ActiveStreams:    len(s.streams),
		QueueSize:        len(s.packetChan),
		QueueCapacity:    cap(s.packetChan),
	}
}
