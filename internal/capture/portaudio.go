package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gordonklaus/portaudio"

	"github.com/Koot5958/translation-live/internal/metrics"
)

// DefaultFramesPerBuffer is 100 ms at 16 kHz.
const DefaultFramesPerBuffer = 1600

// PortAudioConfig configures microphone capture
type PortAudioConfig struct {
	SampleRate      int
	FramesPerBuffer int
}

// PortAudioSource captures the default input device as mono float32.
type PortAudioSource struct {
	config  PortAudioConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPortAudioSource creates a microphone source. The device is opened by Run.
func NewPortAudioSource(config PortAudioConfig, m *metrics.Metrics, logger *slog.Logger) (*PortAudioSource, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.FramesPerBuffer <= 0 {
		config.FramesPerBuffer = DefaultFramesPerBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PortAudioSource{
		config:  config,
		metrics: m,
		logger:  logger.With(slog.String("component", "portaudio_source")),
	}, nil
}

// Run opens the default input stream and pushes every buffer read.
func (p *PortAudioSource) Run(ctx context.Context, sink Sink) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	buffer := make([]float32, p.config.FramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(p.config.SampleRate), len(buffer), buffer)
	if err != nil {
		return fmt.Errorf("failed to open input stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	defer stream.Stop()

	p.logger.Info("Microphone capture started",
		slog.Int("sample_rate", p.config.SampleRate),
		slog.Int("frames_per_buffer", p.config.FramesPerBuffer))

	for {
		if ctx.Err() != nil {
			p.logger.Info("Microphone capture stopped")
			return nil
		}

		if err := stream.Read(); err != nil {
			// an overflow only loses the audio the callback could not queue
			if errors.Is(err, portaudio.InputOverflowed) {
				p.logger.Debug("Input overflowed")
			} else {
				p.logger.Warn("Error reading audio", slog.String("error", err.Error()))
				continue
			}
		}

		chunk := make([]float32, len(buffer))
		copy(chunk, buffer)
		sink.Push(chunk)
		p.metrics.RecordChunkCaptured(len(chunk))
	}
}
