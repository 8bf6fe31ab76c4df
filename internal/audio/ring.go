package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Wait once the ring has been closed.
var ErrClosed = errors.New("audio ring closed")

// ErrEndOfInput is returned by Wait once input has ended and everything
// buffered has been drained. It matches ErrClosed.
var ErrEndOfInput = fmt.Errorf("%w: end of input", ErrClosed)

const (
	// DefaultSampleRate is the rate every stage works at (mono float32).
	DefaultSampleRate = 16000

	// DefaultLevelWindow is the sub-window used for loudness estimation, in samples.
	DefaultLevelWindow = DefaultSampleRate / 2
)

// RingOptions configures a Ring beyond its capacity.
type RingOptions struct {
	// LevelWindow is the sub-window length (samples) for the sliding
	// max-RMS loudness estimate. Buffers no longer than this are measured
	// as a whole.
	LevelWindow int
}

// Ring is a bounded, thread-safe accumulator of mono float samples.
// Chunks keep their arrival order and are evicted whole from the front when
// the capacity is exceeded.
type Ring struct {
	capacity    int
	levelWindow int

	chunks [][]float32
	total  int
	closed bool

	// inputClosed rejects further pushes but keeps buffered audio waitable
	inputClosed bool

	// signal is closed and replaced whenever data arrives or the ring closes
	signal chan struct{}

	// Statistics
	pushedSamples  uint64
	evictedSamples uint64
	evictedChunks  uint64
	drains         uint64
	gatedDrains    uint64
	gatedSamples   uint64

	mu sync.Mutex
}

// RingStats represents ring statistics for monitoring
type RingStats struct {
	Capacity       int    `json:"capacity_samples"`
	Buffered       int    `json:"buffered_samples"`
	Chunks         int    `json:"chunks"`
	PushedSamples  uint64 `json:"pushed_samples"`
	EvictedSamples uint64 `json:"evicted_samples"`
	EvictedChunks  uint64 `json:"evicted_chunks"`
	Drains         uint64 `json:"drains"`
	GatedDrains    uint64 `json:"gated_drains"`
	GatedSamples   uint64 `json:"gated_samples"`
}

// NewRing creates a ring holding at most capacity samples.
func NewRing(capacity int, opts RingOptions) (*Ring, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring capacity must be positive, got %d", capacity)
	}
	if opts.LevelWindow <= 0 {
		opts.LevelWindow = DefaultLevelWindow
	}

	return &Ring{
		capacity:    capacity,
		levelWindow: opts.LevelWindow,
		signal:      make(chan struct{}),
	}, nil
}

// Push appends a chunk, evicting the oldest chunks until the ring is back
// under capacity. Pushing to a closed ring, or after CloseInput, is a no-op.
func (r *Ring) Push(samples []float32) {
	if len(samples) == 0 {
		return
	}

	chunk := make([]float32, len(samples))
	copy(chunk, samples)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.inputClosed {
		return
	}

	r.chunks = append(r.chunks, chunk)
	r.total += len(chunk)
	r.pushedSamples += uint64(len(chunk))

	for r.total > r.capacity && len(r.chunks) > 0 {
		evicted := r.chunks[0]
		r.chunks[0] = nil
		r.chunks = r.chunks[1:]
		r.total -= len(evicted)
		r.evictedSamples += uint64(len(evicted))
		r.evictedChunks++
	}

	r.notifyLocked()
}

// Drain concatenates everything buffered into one contiguous slice and, if
// clear is set, empties the ring. When the loudness of the result is below
// silenceThresholdDB (or the audio is exact silence) an empty slice is
// returned: the caller treats that as nothing to transcribe.
func (r *Ring) Drain(clear bool, silenceThresholdDB float64) []float32 {
	r.mu.Lock()
	r.drains++
	if r.total == 0 {
		r.mu.Unlock()
		return []float32{}
	}

	out := make([]float32, 0, r.total)
	for _, chunk := range r.chunks {
		out = append(out, chunk...)
	}
	if clear {
		r.chunks = nil
		r.total = 0
	}
	levelWindow := r.levelWindow
	r.mu.Unlock()

	level := PeakLevelDB(out, levelWindow)
	if level <= SilenceFloorDB || level < silenceThresholdDB {
		r.mu.Lock()
		r.gatedDrains++
		r.gatedSamples += uint64(len(out))
		r.mu.Unlock()
		return []float32{}
	}

	return out
}

// Level returns the current loudness of the buffered audio without draining it.
func (r *Ring) Level() float64 {
	r.mu.Lock()
	chunks := make([][]float32, len(r.chunks))
	copy(chunks, r.chunks)
	levelWindow := r.levelWindow
	r.mu.Unlock()

	var samples []float32
	for _, chunk := range chunks {
		samples = append(samples, chunk...)
	}
	return PeakLevelDB(samples, levelWindow)
}

// Wait blocks until audio is buffered, the ring is closed or ctx is done.
// After CloseInput it keeps returning nil while audio is buffered, then
// ErrEndOfInput.
func (r *Ring) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return ErrClosed
		}
		if r.total > 0 {
			r.mu.Unlock()
			return nil
		}
		if r.inputClosed {
			r.mu.Unlock()
			return ErrEndOfInput
		}
		signal := r.signal
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-signal:
		}
	}
}

// CloseInput marks the end of the input. Audio already buffered is still
// handed out by Wait and Drain.
func (r *Ring) CloseInput() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inputClosed || r.closed {
		return
	}
	r.inputClosed = true
	r.notifyLocked()
}

// Close stops the ring and wakes every waiter. Wait returns ErrClosed even
// if audio is buffered; Drain still works.
func (r *Ring) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	r.notifyLocked()
}

// Closed reports whether Close has been called.
func (r *Ring) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// InputClosed reports whether the ring accepts no more audio.
func (r *Ring) InputClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed || r.inputClosed
}

// Ended reports whether Wait can only return an error from now on.
func (r *Ring) Ended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed || (r.inputClosed && r.total == 0)
}

// Len returns the number of buffered samples.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Capacity returns the ring capacity in samples.
func (r *Ring) Capacity() int {
	return r.capacity
}

// GetStats returns current ring statistics
func (r *Ring) GetStats() RingStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RingStats{
		Capacity:       r.capacity,
		Buffered:       r.total,
		Chunks:         len(r.chunks),
		PushedSamples:  r.pushedSamples,
		EvictedSamples: r.evictedSamples,
		EvictedChunks:  r.evictedChunks,
		Drains:         r.drains,
		GatedDrains:    r.gatedDrains,
		GatedSamples:   r.gatedSamples,
	}
}

func (r *Ring) notifyLocked() {
	close(r.signal)
	r.signal = make(chan struct{})
}
