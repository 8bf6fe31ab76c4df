package translate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Koot5958/translation-live/internal/caption"
	"github.com/Koot5958/translation-live/internal/metrics"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultMaxInFlight  = 2
	DefaultMinChars     = 4

	// DefaultCallTimeout bounds a single translation call.
	DefaultCallTimeout = 10 * time.Second
)

// WorkerConfig configures the translation stage
type WorkerConfig struct {
	Source caption.Language
	Target caption.Language

	PollInterval time.Duration
	MaxInFlight  int

	// MinChars is the shortest transcription worth translating.
	MinChars    int
	CallTimeout time.Duration
}

// Worker polls the transcription cell and publishes translations. Only the
// Run loop writes to the stabilizer and the output cell.
type Worker struct {
	config     WorkerConfig
	translator Translator
	input      *caption.Cell
	stabilizer *caption.Stabilizer
	output     *caption.Cell
	metrics    *metrics.Metrics
	logger     *slog.Logger

	mu    sync.RWMutex
	stats WorkerStats
}

// WorkerStats represents translation stage statistics
type WorkerStats struct {
	Requests  uint64 `json:"requests"`
	Committed uint64 `json:"committed"`
	Stale     uint64 `json:"stale"`
	Failures  uint64 `json:"failures"`
	Resets    uint64 `json:"resets"`
	InFlight  int    `json:"in_flight"`
	LastError string `json:"last_error,omitempty"`
}

// outcome is the result of one translation call, returned to the Run loop.
type outcome struct {
	seq      uint64
	epoch    uint64
	input    string
	text     string
	err      error
	duration time.Duration
}

// NewWorker creates a translation worker. stabilizer must tokenize for the
// target language.
func NewWorker(config WorkerConfig, translator Translator, input *caption.Cell, stabilizer *caption.Stabilizer,
	output *caption.Cell, m *metrics.Metrics, logger *slog.Logger) (*Worker, error) {
	if translator == nil || input == nil || stabilizer == nil || output == nil {
		return nil, fmt.Errorf("worker requires a translator, input and output cells and a stabilizer")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = DefaultMaxInFlight
	}
	if config.MinChars < 0 {
		config.MinChars = 0
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		config:     config,
		translator: translator,
		input:      input,
		stabilizer: stabilizer,
		output:     output,
		metrics:    m,
		logger:     logger.With(slog.String("component", "translation_worker")),
	}, nil
}

// Run translates until ctx is cancelled. Outstanding calls are cancelled
// and awaited before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	callCtx, cancelCalls := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancelCalls()
		wg.Wait()
	}()

	results := make(chan outcome, w.config.MaxInFlight)

	var (
		seq       uint64
		committed uint64
		inFlight  int
		lastInput string
		epoch     = w.input.Load().Epoch
	)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.logger.Info("Translation worker started",
		slog.String("source", w.config.Source.Code()),
		slog.String("target", w.config.Target.Code()),
		slog.Duration("poll_interval", w.config.PollInterval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Translation worker stopping")
			return nil

		case r := <-results:
			inFlight--
			w.setInFlight(inFlight)
			w.metrics.RecordTranslationDone(r.duration.Seconds(), r.err)

			if r.err != nil {
				if ctx.Err() != nil {
					continue
				}
				w.recordFailure(r.err)
				w.logger.Warn("Translation failed",
					slog.Uint64("seq", r.seq),
					slog.Int("chars", len(r.input)),
					slog.String("error", r.err.Error()))
				// poll again with the same input
				if r.input == lastInput {
					lastInput = ""
				}
				continue
			}

			current := w.input.Load()
			if r.seq <= committed || r.epoch != epoch || r.input != current.Text {
				w.recordStale()
				w.metrics.RecordTranslationStale()
				w.logger.Debug("Discarding stale translation",
					slog.Uint64("seq", r.seq),
					slog.Uint64("committed", committed))
				continue
			}

			committed = r.seq
			w.recordCommit()
			w.publish(w.stabilizer.Update(r.text, false))

		case <-ticker.C:
			snapshot := w.input.Load()

			if snapshot.Epoch != epoch {
				epoch = snapshot.Epoch
				lastInput = ""
				// anything in flight belongs to the previous sentence
				committed = seq
				w.reset()
			}

			text := snapshot.Text
			if text == lastInput || utf8.RuneCountInString(text) < w.config.MinChars || inFlight >= w.config.MaxInFlight {
				continue
			}

			seq++
			inFlight++
			lastInput = text
			w.setInFlight(inFlight)
			w.recordRequest()
			w.metrics.RecordTranslationStarted()

			wg.Add(1)
			go func(seq, epoch uint64, text string) {
				defer wg.Done()
				results <- w.translate(callCtx, seq, epoch, text)
			}(seq, epoch, text)
		}
	}
}

func (w *Worker) translate(ctx context.Context, seq, epoch uint64, text string) outcome {
	ctx, cancel := context.WithTimeout(ctx, w.config.CallTimeout)
	defer cancel()

	start := time.Now()
	translated, err := w.translator.Translate(ctx, text, w.config.Source, w.config.Target)
	if err != nil {
		err = fmt.Errorf("failed to translate %d chars: %w", len(text), err)
	}
	return outcome{
		seq:      seq,
		epoch:    epoch,
		input:    text,
		text:     translated,
		err:      err,
		duration: time.Since(start),
	}
}

func (w *Worker) reset() {
	w.mu.Lock()
	w.stats.Resets++
	w.mu.Unlock()

	// the old line stays up until the first translation of the new
	// sentence replaces it
	w.stabilizer.Reset()
	w.metrics.RecordCaptionReset("translation")
	w.logger.Debug("Translation reset for new sentence")
}

func (w *Worker) publish(snapshot caption.Caption) {
	stored := w.output.Store(snapshot)
	w.metrics.RecordCaption("translation", stored.Len())
	w.logger.Debug("Translation updated",
		slog.Uint64("version", stored.Version),
		slog.Int("tokens", stored.Len()))
}

func (w *Worker) recordRequest() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Requests++
}

func (w *Worker) recordCommit() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Committed++
}

func (w *Worker) recordStale() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Stale++
}

func (w *Worker) recordFailure(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Failures++
	w.stats.LastError = err.Error()
}

func (w *Worker) setInFlight(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.InFlight = n
}

// GetStats returns current worker statistics
func (w *Worker) GetStats() WorkerStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}
