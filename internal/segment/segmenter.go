package segment

import (
	"fmt"
	"time"

	"github.com/Koot5958/translation-live/internal/audio"
)

const (
	// DefaultOverlapPast is the share of the previous buffer fed again for context.
	DefaultOverlapPast = 0.5

	// DefaultOverlapFuture is the share of new audio left for the next window.
	DefaultOverlapFuture = 0.2

	// DefaultMinDuration is the shortest input worth sending to a recognizer.
	DefaultMinDuration = 100 * time.Millisecond
)

// Window is one analysis window handed to a recognizer.
type Window struct {
	// Seq numbers windows from 1 in production order.
	Seq uint64

	// Samples is the normalized window audio.
	Samples []float32

	// Fresh is the normalized tail of Samples that no earlier window contained.
	Fresh []float32

	SampleRate int

	// StartSubt and EndSubt bound the confident region, in seconds
	// relative to Samples[0].
	StartSubt float64
	EndSubt   float64

	// Offset is the position of Samples[0] in seconds since the first
	// audio the segmenter accepted.
	Offset float64
}

// Duration returns the window length in seconds.
func (w *Window) Duration() float64 {
	if w.SampleRate <= 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// Contains reports whether t (seconds from Samples[0]) lies in the confident region.
func (w *Window) Contains(t float64) bool {
	return t >= w.StartSubt && t <= w.EndSubt
}

// Options configures a Segmenter.
type Options struct {
	OverlapPast   float64
	OverlapFuture float64
	SampleRate    int
	MinDuration   time.Duration
	TargetRMS     float64
}

// Segmenter builds windows from consecutive drained buffers. It keeps the
// previous buffer between calls and is not safe for concurrent use.
type Segmenter struct {
	overlapPast   float64
	overlapFuture float64
	sampleRate    int
	minSamples    int
	targetRMS     float64

	prev     []float32
	pending  []float32
	lastStep int
	consumed int64
	seq      uint64
}

// New validates opts and creates a Segmenter.
func New(opts Options) (*Segmenter, error) {
	if opts.OverlapPast < 0 || opts.OverlapPast > 1 {
		return nil, fmt.Errorf("overlap_past must be within [0, 1], got %f", opts.OverlapPast)
	}
	if opts.OverlapFuture < 0 || opts.OverlapFuture >= 1 {
		return nil, fmt.Errorf("overlap_future must be within [0, 1), got %f", opts.OverlapFuture)
	}
	if opts.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", opts.SampleRate)
	}
	if opts.MinDuration < 0 {
		return nil, fmt.Errorf("min duration cannot be negative, got %v", opts.MinDuration)
	}
	if opts.TargetRMS <= 0 {
		opts.TargetRMS = audio.DefaultTargetRMS
	}

	return &Segmenter{
		overlapPast:   opts.OverlapPast,
		overlapFuture: opts.OverlapFuture,
		sampleRate:    opts.SampleRate,
		minSamples:    int(opts.MinDuration.Seconds() * float64(opts.SampleRate)),
		targetRMS:     opts.TargetRMS,
	}, nil
}

// Next consumes a freshly drained buffer and returns the next window, or
// nil when there is nothing worth recognizing. An empty buffer (silence)
// changes nothing; a buffer shorter than the minimum duration is held back
// and prepended to the next one.
func (s *Segmenter) Next(buf []float32) *Window {
	if len(buf) == 0 {
		return nil
	}

	fresh := make([]float32, 0, len(s.pending)+len(buf))
	fresh = append(fresh, s.pending...)
	fresh = append(fresh, buf...)
	s.pending = nil

	if len(fresh) < s.minSamples {
		s.pending = fresh
		return nil
	}
	return s.window(fresh)
}

// Flush returns a window for audio held back as too short, or nil. It is
// called once input has ended.
func (s *Segmenter) Flush() *Window {
	if len(s.pending) == 0 {
		return nil
	}
	fresh := s.pending
	s.pending = nil
	return s.window(fresh)
}

func (s *Segmenter) window(fresh []float32) *Window {
	origin := s.consumed
	s.consumed += int64(len(fresh))
	s.seq++

	if len(s.prev) == 0 {
		s.prev = fresh
		s.lastStep = len(fresh)

		end := (1 - s.overlapFuture) * float64(len(fresh))
		if end <= 0 {
			return nil
		}
		samples := audio.Normalize(fresh, s.targetRMS)
		return &Window{
			Seq:        s.seq,
			Samples:    samples,
			Fresh:      samples,
			SampleRate: s.sampleRate,
			StartSubt:  0,
			EndSubt:    end / float64(s.sampleRate),
			Offset:     float64(origin) / float64(s.sampleRate),
		}
	}

	concat := make([]float32, 0, len(s.prev)+len(fresh))
	concat = append(concat, s.prev...)
	concat = append(concat, fresh...)
	concat = audio.Normalize(concat, s.targetRMS)

	mid := len(concat) / 2
	cropStart := int((1 - s.overlapPast) * float64(mid))
	samples := concat[cropStart:]

	// Region bounds are measured on the concatenation and shifted into
	// window coordinates.
	start := s.overlapPast*float64(mid) - s.overlapFuture*float64(s.lastStep)
	if start < 0 {
		start = 0
	}
	end := (2-s.overlapFuture)*float64(mid) - float64(cropStart)
	if limit := float64(len(samples)); end > limit {
		end = limit
	}

	prevLen := len(s.prev)
	s.prev = fresh
	s.lastStep = mid

	if start >= end {
		return nil
	}

	return &Window{
		Seq:        s.seq,
		Samples:    samples,
		Fresh:      concat[len(concat)-len(fresh):],
		SampleRate: s.sampleRate,
		StartSubt:  start / float64(s.sampleRate),
		EndSubt:    end / float64(s.sampleRate),
		Offset:     float64(origin-int64(prevLen)+int64(cropStart)) / float64(s.sampleRate),
	}
}

// Reset forgets the previous buffer so the next call starts a fresh series.
func (s *Segmenter) Reset() {
	s.prev = nil
	s.pending = nil
	s.lastStep = 0
}
