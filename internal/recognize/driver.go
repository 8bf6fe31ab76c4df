package recognize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Koot5958/translation-live/internal/audio"
	"github.com/Koot5958/translation-live/internal/caption"
	"github.com/Koot5958/translation-live/internal/metrics"
	"github.com/Koot5958/translation-live/internal/segment"
)

// State is the session driver state.
type State int32

const (
	StateIdle State = iota
	StateStreaming
	StateRestarting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateRestarting:
		return "restarting"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	// DefaultTimeLimit keeps sessions under the usual 5 minute streaming quota.
	DefaultTimeLimit = 290 * time.Second

	DefaultRestartBackoff = 250 * time.Millisecond
	DefaultDrainTimeout   = 2 * time.Second
	DefaultStep           = time.Second
	DefaultSilenceDB      = -40.0
)

// Restart reasons reported in logs and metrics.
const (
	reasonTimeLimit = "time_limit"
	reasonEOF       = "eof"
	reasonError     = "error"
	reasonResend    = "resend"
)

// DriverConfig configures a Driver.
type DriverConfig struct {
	Language   caption.Language
	SampleRate int

	// Step is the drain cadence.
	Step               time.Duration
	SilenceThresholdDB float64

	TimeLimit      time.Duration
	RestartBackoff time.Duration

	// DrainTimeout bounds how long results of already sent audio are
	// awaited when a session reaches its time limit.
	DrainTimeout time.Duration
}

// Driver runs recognition sessions back to back: it drains the ring on a
// fixed cadence, segments the audio, streams windows to the recognizer and
// folds results into the transcription caption.
type Driver struct {
	config     DriverConfig
	recognizer Recognizer
	ring       *audio.Ring
	segmenter  *segment.Segmenter
	stabilizer *caption.Stabilizer
	output     *caption.Cell
	metrics    *metrics.Metrics
	logger     *slog.Logger

	state atomic.Int32

	// pending holds windows the last session never got results for, oldest
	// first; the next session sends them before draining the ring
	pending []*segment.Window

	// Statistics
	sessions     atomic.Uint64
	restarts     atomic.Uint64
	windowsSent  atomic.Uint64
	results      atomic.Uint64
	finalResults atomic.Uint64
	resent       atomic.Uint64
	prefixLen    atomic.Int64

	mu           sync.RWMutex
	sessionID    string
	sessionStart time.Time
	lastError    string
}

// DriverStats represents driver statistics for monitoring
type DriverStats struct {
	State        string    `json:"state"`
	SessionID    string    `json:"session_id,omitempty"`
	SessionStart time.Time `json:"session_start,omitempty"`
	Sessions     uint64    `json:"sessions"`
	Restarts     uint64    `json:"restarts"`
	WindowsSent  uint64    `json:"windows_sent"`
	Results      uint64    `json:"results"`
	FinalResults uint64    `json:"final_results"`
	Resent       uint64    `json:"resent_windows"`
	PrefixLen    int       `json:"prefix_entries"`
	LastError    string    `json:"last_error,omitempty"`
}

// NewDriver creates a session driver. The stabilizer and segmenter are owned
// by the driver from now on and survive session restarts.
func NewDriver(config DriverConfig, recognizer Recognizer, ring *audio.Ring, segmenter *segment.Segmenter,
	stabilizer *caption.Stabilizer, output *caption.Cell, m *metrics.Metrics, logger *slog.Logger) (*Driver, error) {
	if recognizer == nil || ring == nil || segmenter == nil || stabilizer == nil || output == nil {
		return nil, fmt.Errorf("driver requires a recognizer, ring, segmenter, stabilizer and output cell")
	}
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.Step <= 0 {
		config.Step = DefaultStep
	}
	if config.TimeLimit <= 0 {
		config.TimeLimit = DefaultTimeLimit
	}
	if config.RestartBackoff < 0 {
		config.RestartBackoff = 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Driver{
		config:     config,
		recognizer: recognizer,
		ring:       ring,
		segmenter:  segmenter,
		stabilizer: stabilizer,
		output:     output,
		metrics:    m,
		logger:     logger.With(slog.String("component", "session_driver")),
	}, nil
}

// Run opens sessions until ctx is cancelled or the ring is closed. Session
// failures never end Run; they trigger a restart. Once the ring's input has
// ended Run returns after every buffered window has been recognized.
func (d *Driver) Run(ctx context.Context) error {
	defer d.setState(StateStopped)

	for {
		if ctx.Err() != nil || d.ring.Closed() || (d.ring.Ended() && len(d.pending) == 0) {
			return nil
		}

		started := time.Now()
		err := d.runSession(ctx)

		endOfInput := errors.Is(err, audio.ErrEndOfInput)
		if ctx.Err() != nil || (errors.Is(err, audio.ErrClosed) && (!endOfInput || len(d.pending) == 0)) {
			d.metrics.RecordSessionEnded(time.Since(started).Seconds(), "")
			if endOfInput {
				if snapshot, ok := d.stabilizer.Commit(); ok {
					d.publish(snapshot)
				}
			}
			d.logger.Info("Session driver stopping",
				slog.String("session_id", d.currentSession()),
				slog.Bool("end_of_input", endOfInput))
			return nil
		}

		reason := restartReason(err)
		d.restarts.Add(1)
		d.metrics.RecordSessionEnded(time.Since(started).Seconds(), reason)
		d.setState(StateRestarting)

		attrs := []any{
			slog.String("session_id", d.currentSession()),
			slog.String("reason", reason),
			slog.Duration("session_age", time.Since(started)),
		}
		if reason == reasonTimeLimit || reason == reasonResend {
			d.logger.Info("Restarting recognition session", append(attrs, slog.Int("pending", len(d.pending)))...)
		} else {
			d.setLastError(err)
			d.logger.Warn("Recognition session failed, restarting", append(attrs, slog.String("error", err.Error()))...)
		}

		// the next session's text must not be merged into this one's interim
		if snapshot, ok := d.stabilizer.Commit(); ok {
			d.publish(snapshot)
		}

		if d.config.RestartBackoff > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d.config.RestartBackoff):
			}
		}
	}
}

// runSession runs one session to completion and returns why it ended.
func (d *Driver) runSession(ctx context.Context) error {
	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	id := uuid.NewString()
	stream, err := d.recognizer.Open(streamCtx, SessionConfig{
		ID:         id,
		Language:   d.stabilizer.Language(),
		SampleRate: d.config.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to open recognition session: %w", err)
	}

	d.sessions.Add(1)
	d.metrics.RecordSessionStarted()
	d.mu.Lock()
	d.sessionID = id
	d.sessionStart = time.Now()
	d.mu.Unlock()
	d.setState(StateStreaming)

	d.logger.Info("Recognition session started",
		slog.String("session_id", id),
		slog.String("language", d.stabilizer.Language().Code()),
		slog.Duration("time_limit", d.config.TimeLimit))

	sendCtx, cancelSend := context.WithTimeout(streamCtx, d.config.TimeLimit)
	defer cancelSend()

	sendErr := make(chan error, 1)
	recvErr := make(chan error, 1)
	go func() { sendErr <- d.sendLoop(sendCtx, stream) }()
	go func() { recvErr <- d.receiveLoop(stream) }()

	var result error
	receiverDone := false

	select {
	case result = <-sendErr:
		switch {
		case ctx.Err() != nil:
		case errors.Is(result, context.DeadlineExceeded):
			result = errTimeLimit
			if d.config.DrainTimeout > 0 {
				receiverDone = d.drain(ctx, stream, recvErr, d.config.DrainTimeout)
			}
		case errors.Is(result, audio.ErrEndOfInput):
			// nothing follows this session's audio: wait for all of it
			receiverDone = d.drain(ctx, stream, recvErr, 0)
		}
	case result = <-recvErr:
		receiverDone = true
		cancelSend()
		<-sendErr
	}

	cancelStream()
	if err := stream.Close(); err != nil {
		d.logger.Debug("Error closing recognition stream",
			slog.String("session_id", id),
			slog.String("error", err.Error()))
	}
	if !receiverDone {
		<-recvErr
	}

	if u, ok := stream.(unsentReporter); ok {
		if unsent := u.Unsent(); len(unsent) > 0 {
			d.pending = append(unsent, d.pending...)
			d.logger.Debug("Requeued windows without results",
				slog.String("session_id", id),
				slog.Int("windows", len(unsent)))
		}
	}

	return result
}

var errTimeLimit = errors.New("session time limit reached")

// unsentReporter is implemented by streams that accept windows before
// transcribing them. Unsent is only called after Close and the receiver
// finished; it returns the accepted windows that produced no result.
type unsentReporter interface {
	Unsent() []*segment.Window
}

// halfCloser is implemented by streams that can stop accepting audio while
// still delivering the results of audio already sent.
type halfCloser interface {
	CloseSend() error
}

// drain half-closes stream and waits for its remaining results, at most
// timeout unless timeout is zero. It reports whether the receiver finished.
func (d *Driver) drain(ctx context.Context, stream Stream, recvErr <-chan error, timeout time.Duration) bool {
	hc, ok := stream.(halfCloser)
	if !ok {
		return false
	}
	if err := hc.CloseSend(); err != nil {
		return false
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-recvErr:
		return true
	case <-expired:
		return false
	case <-ctx.Done():
		return false
	}
}

// sendLoop drains the ring on the configured cadence and sends windows.
func (d *Driver) sendLoop(ctx context.Context, stream Stream) error {
	for len(d.pending) > 0 {
		window := d.pending[0]
		if err := stream.Send(ctx, window); err != nil {
			return fmt.Errorf("failed to resend window %d: %w", window.Seq, err)
		}
		d.pending = d.pending[1:]
		d.windowsSent.Add(1)
		d.resent.Add(1)
	}
	d.pending = nil

	ticker := time.NewTicker(d.config.Step)
	defer ticker.Stop()

	for {
		if err := d.ring.Wait(ctx); err != nil {
			if errors.Is(err, audio.ErrEndOfInput) {
				return d.sendTail(ctx, stream, err)
			}
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		d.metrics.SetRing(d.ring.Len(), d.ring.Level())
		buf := d.ring.Drain(true, d.config.SilenceThresholdDB)

		window := d.segmenter.Next(buf)
		if window == nil {
			d.metrics.RecordSilentDrain()
			continue
		}

		if err := stream.Send(ctx, window); err != nil {
			d.pending = append(d.pending, window)
			return fmt.Errorf("failed to send window %d: %w", window.Seq, err)
		}
		d.windowsSent.Add(1)
		d.metrics.RecordWindow(window.Duration())
	}
}

// sendTail sends the audio the segmenter held back as too short once input
// has ended, then returns end.
func (d *Driver) sendTail(ctx context.Context, stream Stream, end error) error {
	window := d.segmenter.Flush()
	if window == nil {
		return end
	}
	if err := stream.Send(ctx, window); err != nil {
		d.pending = append(d.pending, window)
		return fmt.Errorf("failed to send final window %d: %w", window.Seq, err)
	}
	d.windowsSent.Add(1)
	d.metrics.RecordWindow(window.Duration())
	return end
}

// receiveLoop folds results into the caption in arrival order.
func (d *Driver) receiveLoop(stream Stream) error {
	lang := d.stabilizer.Language()
	epoch := d.stabilizer.Epoch()

	for {
		result, err := stream.Recv()
		if err != nil {
			return err
		}

		d.results.Add(1)
		if result.Final {
			d.finalResults.Add(1)
		}
		d.metrics.RecordRecognizerResult(result.Final)

		text := result.ConfidentText(lang)

		var snapshot caption.Caption
		switch {
		case text != "":
			snapshot = d.stabilizer.Update(text, result.Final)
		case result.Final:
			var ok bool
			if snapshot, ok = d.stabilizer.Commit(); !ok {
				continue
			}
		default:
			continue
		}

		if snapshot.Epoch != epoch {
			epoch = snapshot.Epoch
			d.metrics.RecordCaptionReset("stt")
		}
		d.publish(snapshot)
	}
}

func (d *Driver) publish(snapshot caption.Caption) {
	d.prefixLen.Store(int64(d.stabilizer.PrefixLen()))
	stored := d.output.Store(snapshot)
	d.metrics.RecordCaption("stt", stored.Len())
	d.logger.Debug("Transcription updated",
		slog.Uint64("version", stored.Version),
		slog.Int("tokens", stored.Len()),
		slog.Int("finalized", stored.Finalized))
}

func restartReason(err error) string {
	switch {
	case errors.Is(err, errTimeLimit):
		return reasonTimeLimit
	case errors.Is(err, audio.ErrEndOfInput):
		return reasonResend
	case errors.Is(err, io.EOF):
		return reasonEOF
	default:
		return reasonError
	}
}

func (d *Driver) setState(s State) {
	d.state.Store(int32(s))
	d.metrics.SetDriverState(int(s))
}

func (d *Driver) setLastError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastError = err.Error()
}

func (d *Driver) currentSession() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sessionID
}

// State returns the current driver state.
func (d *Driver) State() State {
	return State(d.state.Load())
}

// GetStats returns current driver statistics
func (d *Driver) GetStats() DriverStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return DriverStats{
		State:        d.State().String(),
		SessionID:    d.sessionID,
		SessionStart: d.sessionStart,
		Sessions:     d.sessions.Load(),
		Restarts:     d.restarts.Load(),
		WindowsSent:  d.windowsSent.Load(),
		Results:      d.results.Load(),
		FinalResults: d.finalResults.Load(),
		Resent:       d.resent.Load(),
		PrefixLen:    int(d.prefixLen.Load()),
		LastError:    d.lastError,
	}
}
