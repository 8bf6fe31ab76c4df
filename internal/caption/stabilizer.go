package caption

import (
	"fmt"
	"time"
)

const (
	// DefaultMargin is how many trailing tokens a later result may rewrite.
	DefaultMargin = 3

	// DefaultSentenceGap is the pause after which a new sentence starts.
	DefaultSentenceGap = 4 * time.Second
)

// Caption is an immutable caption snapshot.
type Caption struct {
	Tokens []string `json:"tokens"`

	// Finalized is how many leading tokens come from finalized results.
	Finalized int `json:"finalized"`

	// Epoch changes whenever text was dropped from the front of the
	// caption (sentence gap or prefix expiry). Within one epoch Tokens
	// only grows, apart from the trailing margin.
	Epoch uint64 `json:"epoch"`

	Text      string    `json:"text"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Len returns the number of tokens.
func (c Caption) Len() int {
	return len(c.Tokens)
}

// StabilizerOptions configures a Stabilizer.
type StabilizerOptions struct {
	// Margin is the number of trailing tokens of the previous candidate a
	// new result may overwrite.
	Margin int

	// SentenceGap clears all state when no result arrived for longer.
	SentenceGap time.Duration

	// PrefixTTL is how long finalized results stay in the caption.
	// Defaults to SentenceGap.
	PrefixTTL time.Duration

	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// Stabilizer merges successive interim and final results into a caption
// that does not flicker. It is not safe for concurrent use.
type Stabilizer struct {
	lang   Language
	margin int
	gap    time.Duration
	ttl    time.Duration
	now    func() time.Time

	candidate []string
	prefix    TimedQueue[[]string]
	base      []string
	epoch     uint64
	last      time.Time

	current Caption
}

// NewStabilizer creates a Stabilizer for lang.
func NewStabilizer(lang Language, opts StabilizerOptions) (*Stabilizer, error) {
	if opts.Margin < 0 {
		return nil, fmt.Errorf("stability margin cannot be negative, got %d", opts.Margin)
	}
	if opts.SentenceGap < 0 || opts.PrefixTTL < 0 {
		return nil, fmt.Errorf("sentence gap and prefix ttl cannot be negative")
	}
	if opts.SentenceGap == 0 {
		opts.SentenceGap = DefaultSentenceGap
	}
	if opts.PrefixTTL == 0 {
		opts.PrefixTTL = opts.SentenceGap
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Stabilizer{
		lang:   lang,
		margin: opts.Margin,
		gap:    opts.SentenceGap,
		ttl:    opts.PrefixTTL,
		now:    opts.Now,
	}, nil
}

// Language returns the language the stabilizer tokenizes for.
func (s *Stabilizer) Language() Language {
	return s.lang
}

// Update folds one recognizer or translator result into the caption and
// returns the new snapshot.
func (s *Stabilizer) Update(raw string, final bool) Caption {
	now := s.now()

	if !s.last.IsZero() && now.Sub(s.last) > s.gap {
		s.clear()
	}
	s.last = now

	out := s.merge(s.lang.Split(raw))

	if final {
		s.prefix.Push(out, now)
		if s.prefix.PruneOlderThan(now, s.ttl) > 0 {
			s.epoch++
		}
		s.base = s.base[:0]
		for _, entry := range s.prefix.Values() {
			s.base = append(s.base, entry...)
		}
		s.candidate = nil
	} else {
		s.candidate = out
	}

	return s.publish(now)
}

// Commit finalizes the pending candidate as if a final result repeating it
// had arrived. It reports false, leaving state untouched, when there is no
// candidate.
func (s *Stabilizer) Commit() (Caption, bool) {
	if len(s.candidate) == 0 {
		return s.current, false
	}
	return s.Update(s.lang.Join(s.candidate), true), true
}

// merge bounds how far back new can rewrite the previous candidate.
func (s *Stabilizer) merge(tokens []string) []string {
	prev := s.candidate

	// a shorter result is usually a truncated partial, not a retraction
	if len(prev) > len(tokens) {
		return prev
	}

	out := make([]string, 0, len(tokens))
	if len(prev) > s.margin {
		keep := len(prev) - s.margin
		out = append(out, prev[:keep]...)
		out = append(out, tokens[keep:]...)
		return out
	}
	return append(out, tokens...)
}

func (s *Stabilizer) publish(now time.Time) Caption {
	tokens := make([]string, 0, len(s.base)+len(s.candidate))
	tokens = append(tokens, s.base...)
	tokens = append(tokens, s.candidate...)

	s.current = Caption{
		Tokens:    tokens,
		Finalized: len(s.base),
		Epoch:     s.epoch,
		Text:      s.lang.Join(tokens),
		UpdatedAt: now,
	}
	return s.current
}

func (s *Stabilizer) clear() {
	s.candidate = nil
	s.prefix.Clear()
	s.base = nil
	s.epoch++
}

// Epoch returns the current epoch.
func (s *Stabilizer) Epoch() uint64 {
	return s.epoch
}

// PrefixLen returns the number of finalized results still in the caption.
func (s *Stabilizer) PrefixLen() int {
	return s.prefix.Len()
}

// Reset drops all state and starts a new epoch.
func (s *Stabilizer) Reset() Caption {
	s.clear()
	s.last = time.Time{}
	return s.publish(s.now())
}
