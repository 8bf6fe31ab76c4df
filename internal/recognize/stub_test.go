package recognize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Koot5958/translation-live/internal/segment"
)

// stubRecognizer hands out stubStreams and records every window sent.
type stubRecognizer struct {
	mu       sync.Mutex
	streams  []*stubStream
	openErrs []error

	// respond produces the results for a window
	respond func(w *segment.Window) []Result

	// failSend makes Send fail for the given (session index, send index)
	failSend func(session, send int) error
}

func (r *stubRecognizer) Open(ctx context.Context, cfg SessionConfig) (Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.openErrs) > 0 {
		err := r.openErrs[0]
		r.openErrs = r.openErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	s := &stubStream{
		index:      len(r.streams),
		config:     cfg,
		recognizer: r,
		results:    make(chan Result, 256),
		halfClosed: make(chan struct{}),
		closed:     make(chan struct{}),
	}
	r.streams = append(r.streams, s)
	return s, nil
}

func (r *stubRecognizer) sessions() []*stubStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*stubStream, len(r.streams))
	copy(out, r.streams)
	return out
}

func (r *stubRecognizer) allWindows() []*segment.Window {
	var out []*segment.Window
	for _, s := range r.sessions() {
		out = append(out, s.sent()...)
	}
	return out
}

type stubStream struct {
	index      int
	config     SessionConfig
	recognizer *stubRecognizer

	mu      sync.Mutex
	windows []*segment.Window
	sends   int

	results    chan Result
	halfOnce   sync.Once
	halfClosed chan struct{}
	closeOnce  sync.Once
	closed     chan struct{}
}

func (s *stubStream) Send(ctx context.Context, w *segment.Window) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	send := s.sends
	s.sends++
	s.mu.Unlock()

	if s.recognizer.failSend != nil {
		if err := s.recognizer.failSend(s.index, send); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.windows = append(s.windows, w)
	s.mu.Unlock()

	if s.recognizer.respond != nil {
		for _, r := range s.recognizer.respond(w) {
			s.results <- r
		}
	}
	return nil
}

func (s *stubStream) Recv() (Result, error) {
	select {
	case r := <-s.results:
		return r, nil
	default:
	}

	select {
	case r := <-s.results:
		return r, nil
	case <-s.halfClosed:
	case <-s.closed:
	}

	// deliver what is queued before reporting the end
	select {
	case r := <-s.results:
		return r, nil
	default:
		return Result{}, io.EOF
	}
}

func (s *stubStream) CloseSend() error {
	s.halfOnce.Do(func() { close(s.halfClosed) })
	return nil
}

func (s *stubStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *stubStream) sent() []*segment.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*segment.Window, len(s.windows))
	copy(out, s.windows)
	return out
}

func finalPerWindow(w *segment.Window) []Result {
	return []Result{{Text: fmt.Sprintf("w%d", w.Seq), Final: true}}
}

var errInjected = errors.New("injected failure")

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
