package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hajimehoshi/go-mp3"

	"github.com/Koot5958/translation-live/internal/audio"
	"github.com/Koot5958/translation-live/internal/metrics"
)

// FileConfig configures file replay
type FileConfig struct {
	Path       string
	SampleRate int

	// Realtime paces chunks at the rate they would have been captured.
	Realtime bool
	Loop     bool
}

// FileSource replays a WAV or MP3 file as if it were captured live.
type FileSource struct {
	config  FileConfig
	samples []float32
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewFileSource decodes the whole file, down-mixes it to mono and resamples
// it to the pipeline rate.
func NewFileSource(config FileConfig, m *metrics.Metrics, logger *slog.Logger) (*FileSource, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}

	data, err := os.ReadFile(config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}

	var (
		samples []float32
		rate    int
	)
	switch strings.ToLower(filepath.Ext(config.Path)) {
	case ".mp3":
		samples, rate, err = DecodeMP3(bytes.NewReader(data))
	case ".wav":
		samples, rate, err = audio.DecodeWAV(data)
	default:
		return nil, fmt.Errorf("unsupported audio file type %q", filepath.Ext(config.Path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", config.Path, err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "file_source"))
	logger.Info("Audio file loaded",
		slog.String("path", config.Path),
		slog.Int("source_rate", rate),
		slog.Float64("duration_seconds", float64(len(samples))/float64(rate)))

	return &FileSource{
		config:  config,
		samples: audio.Resample(samples, rate, config.SampleRate),
		metrics: m,
		logger:  logger,
	}, nil
}

// DecodeMP3 decodes an MP3 stream to mono float32 samples and returns them
// with the stream's sample rate.
func DecodeMP3(r io.Reader) ([]float32, int, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}

	// go-mp3 always produces 16-bit little-endian stereo
	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode mp3: %w", err)
	}
	pcm = pcm[:len(pcm)/4*4]

	return audio.DownmixInterleaved(audio.PCM16ToFloat(pcm), 2), decoder.SampleRate(), nil
}

// Duration returns the length of the decoded audio.
func (f *FileSource) Duration() time.Duration {
	return time.Duration(len(f.samples)) * time.Second / time.Duration(f.config.SampleRate)
}

// Run pushes the file in ChunkDuration chunks. Without Loop it returns nil
// after the last chunk.
func (f *FileSource) Run(ctx context.Context, sink Sink) error {
	size := chunkSamples(f.config.SampleRate)

	var ticker *time.Ticker
	if f.config.Realtime {
		ticker = time.NewTicker(ChunkDuration)
		defer ticker.Stop()
	}

	for pass := 1; ; pass++ {
		for start := 0; start < len(f.samples); start += size {
			if ticker != nil {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			} else if ctx.Err() != nil {
				return nil
			}

			end := min(start+size, len(f.samples))
			chunk := make([]float32, end-start)
			copy(chunk, f.samples[start:end])
			sink.Push(chunk)
			f.metrics.RecordChunkCaptured(len(chunk))
		}

		if !f.config.Loop || len(f.samples) == 0 {
			f.logger.Info("Audio file replay finished", slog.Int("passes", pass))
			return nil
		}
	}
}
