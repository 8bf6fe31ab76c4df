package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Koot5958/translation-live/internal/audio"
	"github.com/Koot5958/translation-live/internal/capture"
	"github.com/Koot5958/translation-live/internal/caption"
	"github.com/Koot5958/translation-live/internal/config"
	"github.com/Koot5958/translation-live/internal/metrics"
	"github.com/Koot5958/translation-live/internal/recognize"
	"github.com/Koot5958/translation-live/internal/segment"
	"github.com/Koot5958/translation-live/internal/translate"
)

// DefaultStopTimeout bounds how long Stop waits for the stages.
const DefaultStopTimeout = 2 * time.Second

var (
	// ErrStopTimeout is returned by Stop when a stage did not exit in time.
	ErrStopTimeout = errors.New("pipeline stages did not stop in time")

	// ErrStopping is returned by Start while stages of the previous run
	// are still shutting down.
	ErrStopping = errors.New("pipeline is still stopping")
)

// Stage names.
const (
	StageCapture     = "capture"
	StageRecognition = "recognition"
	StageTranslation = "translation"
)

// Config holds the resolved engine parameters.
type Config struct {
	SampleRate         int
	RingCapacity       int // samples
	LevelWindow        int // samples
	SilenceThresholdDB float64

	Source caption.Language
	Target caption.Language

	Segment    segment.Options
	Stabilizer caption.StabilizerOptions
	Driver     recognize.DriverConfig
	Worker     translate.WorkerConfig

	StopTimeout time.Duration
}

// ConfigFrom resolves a validated service configuration.
func ConfigFrom(cfg *config.Config) Config {
	source := cfg.Languages.GetSource()
	target := cfg.Languages.GetTarget()

	return Config{
		SampleRate:         cfg.Audio.SampleRate,
		RingCapacity:       cfg.Audio.GetRingCapacitySamples(),
		LevelWindow:        cfg.Audio.GetLevelWindowSamples(),
		SilenceThresholdDB: cfg.Audio.SilenceThresholdDB,
		Source:             source,
		Target:             target,
		Segment: segment.Options{
			OverlapPast:   cfg.Segment.OverlapPast,
			OverlapFuture: cfg.Segment.OverlapFuture,
			SampleRate:    cfg.Audio.SampleRate,
			MinDuration:   cfg.Segment.GetMinDuration(),
		},
		Stabilizer: caption.StabilizerOptions{
			Margin:      cfg.Caption.StabilityMargin,
			SentenceGap: cfg.Caption.GetSentenceGapDuration(),
			PrefixTTL:   cfg.Caption.GetPrefixTTLDuration(),
		},
		Driver: recognize.DriverConfig{
			Language:           source,
			SampleRate:         cfg.Audio.SampleRate,
			Step:               cfg.Segment.GetStepDuration(),
			SilenceThresholdDB: cfg.Audio.SilenceThresholdDB,
			TimeLimit:          cfg.Session.GetTimeLimitDuration(),
			RestartBackoff:     cfg.Session.GetRestartBackoffDuration(),
			DrainTimeout:       cfg.Session.GetDrainTimeoutDuration(),
		},
		Worker: translate.WorkerConfig{
			Source:       source,
			Target:       target,
			PollInterval: cfg.Translation.GetPollIntervalDuration(),
			MaxInFlight:  cfg.Translation.MaxInFlight,
			MinChars:     cfg.Translation.MinChars,
			CallTimeout:  cfg.Translation.GetTimeoutDuration(),
		},
		StopTimeout: cfg.Session.GetStopTimeoutDuration(),
	}
}

// Deps are the collaborators the pipeline drives. Source may be nil when
// audio is fed through Push; Translator may be nil to disable translation.
type Deps struct {
	Source     capture.Source
	Recognizer recognize.Recognizer
	Translator translate.Translator
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Pipeline owns the capture, recognition and translation stages. The two
// caption cells are its only outputs and survive restarts.
type Pipeline struct {
	config  Config
	deps    Deps
	logger  *slog.Logger
	stt     *caption.Cell
	transl  *caption.Cell
	running atomic.Bool

	mu  sync.Mutex
	run *run

	runs uint64
}

// run is one Start..Stop cycle with its own ring and stage state.
type run struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc

	ring   *audio.Ring
	driver *recognize.Driver
	worker *translate.Worker
	stages []*stage
}

type stage struct {
	name   string
	fn     func(ctx context.Context) error
	done   chan struct{}
	starts int
	err    error
}

func (s *stage) alive() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// StageStats describes one stage
type StageStats struct {
	Running   bool   `json:"running"`
	Starts    int    `json:"starts"`
	LastError string `json:"last_error,omitempty"`
}

// Stats represents pipeline statistics for monitoring
type Stats struct {
	Running            bool                   `json:"running"`
	Runs               uint64                 `json:"runs"`
	Stages             map[string]StageStats  `json:"stages"`
	Ring               *audio.RingStats       `json:"ring,omitempty"`
	Driver             *recognize.DriverStats `json:"driver,omitempty"`
	Translation        *translate.WorkerStats `json:"translation,omitempty"`
	Recognizer         *recognize.HTTPStats   `json:"recognizer,omitempty"`
	STTVersion         uint64                 `json:"stt_version"`
	TranslationVersion uint64                 `json:"translation_version"`
}

// New validates cfg and creates a stopped pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Recognizer == nil {
		return nil, fmt.Errorf("pipeline requires a recognizer")
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.RingCapacity <= 0 {
		return nil, fmt.Errorf("ring capacity must be positive, got %d", cfg.RingCapacity)
	}
	if cfg.Source.Tag.IsRoot() || cfg.Target.Tag.IsRoot() {
		return nil, fmt.Errorf("source and target languages are required")
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}

	cfg.Segment.SampleRate = cfg.SampleRate
	cfg.Driver.SampleRate = cfg.SampleRate
	cfg.Driver.Language = cfg.Source
	cfg.Driver.SilenceThresholdDB = cfg.SilenceThresholdDB
	cfg.Worker.Source = cfg.Source
	cfg.Worker.Target = cfg.Target

	// fail on bad parameters now rather than on the first Start
	if _, err := segment.New(cfg.Segment); err != nil {
		return nil, fmt.Errorf("invalid segment options: %w", err)
	}
	if _, err := caption.NewStabilizer(cfg.Source, cfg.Stabilizer); err != nil {
		return nil, fmt.Errorf("invalid caption options: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		config: cfg,
		deps:   deps,
		logger: logger.With(slog.String("component", "pipeline")),
		stt:    caption.NewCell(),
		transl: caption.NewCell(),
	}, nil
}

// STT returns the transcription caption cell.
func (p *Pipeline) STT() *caption.Cell {
	return p.stt
}

// Translation returns the translation caption cell.
func (p *Pipeline) Translation() *caption.Cell {
	return p.transl
}

// Running reports whether the pipeline was started and not stopped.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Start launches every stage that is not already running. Calling it on a
// running pipeline never duplicates a stage; a capture stage that failed is
// relaunched while the ring is still open.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.run != nil && !p.running.Load() {
		if p.anyAliveLocked() {
			return ErrStopping
		}
		p.run = nil
	}

	if p.run == nil {
		r, err := p.newRun()
		if err != nil {
			return err
		}
		p.run = r
		p.logger.Info("Pipeline starting",
			slog.Uint64("run", r.id),
			slog.String("source", p.config.Source.Code()),
			slog.String("target", p.config.Target.Code()),
			slog.Bool("translation", r.worker != nil))
	}

	p.running.Store(true)

	launched := 0
	for _, s := range p.run.stages {
		if s.alive() {
			continue
		}
		if s.starts > 0 && p.run.ring.InputClosed() {
			continue
		}
		p.launch(p.run, s)
		launched++
	}

	if launched > 0 {
		p.logger.Debug("Pipeline stages launched", slog.Int("count", launched))
	}
	return nil
}

// newRun builds a fresh ring, driver and worker. The stage context is
// detached from the caller's so that a request-scoped ctx cannot stop the
// pipeline; Stop does.
func (p *Pipeline) newRun() (*run, error) {
	ring, err := audio.NewRing(p.config.RingCapacity, audio.RingOptions{LevelWindow: p.config.LevelWindow})
	if err != nil {
		return nil, fmt.Errorf("failed to create audio ring: %w", err)
	}

	segmenter, err := segment.New(p.config.Segment)
	if err != nil {
		return nil, fmt.Errorf("failed to create segmenter: %w", err)
	}

	sttStabilizer, err := caption.NewStabilizer(p.config.Source, p.config.Stabilizer)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcription stabilizer: %w", err)
	}

	driver, err := recognize.NewDriver(p.config.Driver, p.deps.Recognizer, ring, segmenter,
		sttStabilizer, p.stt, p.deps.Metrics, p.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create session driver: %w", err)
	}

	p.runs++
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:     p.runs,
		ctx:    ctx,
		cancel: cancel,
		ring:   ring,
		driver: driver,
	}

	if p.deps.Source != nil {
		source := p.deps.Source
		r.stages = append(r.stages, &stage{
			name: StageCapture,
			fn: func(ctx context.Context) error {
				err := source.Run(ctx, ring)
				if err == nil && ctx.Err() == nil {
					// end of input: recognition finishes what is buffered
					ring.CloseInput()
				}
				return err
			},
		})
	}

	r.stages = append(r.stages, &stage{name: StageRecognition, fn: driver.Run})

	if p.deps.Translator != nil {
		translStabilizer, err := caption.NewStabilizer(p.config.Target, p.config.Stabilizer)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create translation stabilizer: %w", err)
		}

		worker, err := translate.NewWorker(p.config.Worker, p.deps.Translator, p.stt,
			translStabilizer, p.transl, p.deps.Metrics, p.logger)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create translation worker: %w", err)
		}
		r.worker = worker
		r.stages = append(r.stages, &stage{name: StageTranslation, fn: worker.Run})
	}

	return r, nil
}

// launch starts s in its own goroutine. Caller holds p.mu.
func (p *Pipeline) launch(r *run, s *stage) {
	done := make(chan struct{})
	s.done = done
	s.starts++
	s.err = nil

	go func() {
		defer close(done)

		err := s.fn(r.ctx)

		p.mu.Lock()
		s.err = err
		p.mu.Unlock()

		if err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("Pipeline stage failed",
				slog.Uint64("run", r.id),
				slog.String("stage", s.name),
				slog.String("error", err.Error()))
			return
		}
		p.logger.Debug("Pipeline stage exited",
			slog.Uint64("run", r.id),
			slog.String("stage", s.name))
	}()
}

// Push feeds audio to the running pipeline. It makes the pipeline usable
// without a capture Source and is a no-op while stopped.
func (p *Pipeline) Push(samples []float32) {
	p.mu.Lock()
	r := p.run
	p.mu.Unlock()

	if r == nil || !p.running.Load() {
		return
	}
	r.ring.Push(samples)
}

// Stop clears the running flag, closes the ring so blocked stages wake up,
// cancels in-flight calls and waits up to StopTimeout for the stages.
// Stopping a stopped pipeline is a no-op.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	r := p.run
	if r == nil || !p.running.Load() {
		p.mu.Unlock()
		return nil
	}
	p.running.Store(false)

	var waits []chan struct{}
	for _, s := range r.stages {
		if s.done != nil {
			waits = append(waits, s.done)
		}
	}
	p.mu.Unlock()

	p.logger.Info("Pipeline stopping", slog.Uint64("run", r.id))

	r.ring.Close()
	r.cancel()

	timer := time.NewTimer(p.config.StopTimeout)
	defer timer.Stop()

	for _, done := range waits {
		select {
		case <-done:
		case <-timer.C:
			p.logger.Warn("Pipeline stages did not stop in time",
				slog.Uint64("run", r.id),
				slog.Duration("timeout", p.config.StopTimeout))
			return ErrStopTimeout
		}
	}

	p.logger.Info("Pipeline stopped",
		slog.Uint64("run", r.id),
		slog.Uint64("stt_version", p.stt.Version()),
		slog.Uint64("translation_version", p.transl.Version()))
	return nil
}

func (p *Pipeline) anyAliveLocked() bool {
	for _, s := range p.run.stages {
		if s.alive() {
			return true
		}
	}
	return false
}

// httpStatsReporter is implemented by recognizers that keep request
// statistics.
type httpStatsReporter interface {
	GetStats() recognize.HTTPStats
}

// Stats returns current pipeline statistics
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := Stats{
		Running:            p.running.Load(),
		Runs:               p.runs,
		Stages:             make(map[string]StageStats),
		STTVersion:         p.stt.Version(),
		TranslationVersion: p.transl.Version(),
	}

	if reporter, ok := p.deps.Recognizer.(httpStatsReporter); ok {
		recognizerStats := reporter.GetStats()
		stats.Recognizer = &recognizerStats
	}

	r := p.run
	if r == nil {
		return stats
	}

	for _, s := range r.stages {
		st := StageStats{Running: s.alive(), Starts: s.starts}
		if s.err != nil {
			st.LastError = s.err.Error()
		}
		stats.Stages[s.name] = st
	}

	ringStats := r.ring.GetStats()
	stats.Ring = &ringStats
	driverStats := r.driver.GetStats()
	stats.Driver = &driverStats
	if r.worker != nil {
		workerStats := r.worker.GetStats()
		stats.Translation = &workerStats
	}

	return stats
}
