package recognize

import (
	"context"
	"strings"

	"github.com/Koot5958/translation-live/internal/caption"
	"github.com/Koot5958/translation-live/internal/segment"
)

// SessionConfig describes one recognition session.
type SessionConfig struct {
	ID         string
	Language   caption.Language
	SampleRate int
}

// Recognizer opens streaming recognition sessions.
type Recognizer interface {
	Open(ctx context.Context, cfg SessionConfig) (Stream, error)
}

// Stream is one recognition session. Send and Recv may be called from
// different goroutines; neither may be called concurrently with itself.
// After Close or ctx cancellation Recv returns an error (io.EOF on a clean
// end of stream).
type Stream interface {
	Send(ctx context.Context, w *segment.Window) error
	Recv() (Result, error)
	Close() error
}

// Word is a recognized word with its timing in seconds. For results that
// carry a Window, times are relative to the window's first sample.
type Word struct {
	Text  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Result is one interim or final recognizer output.
type Result struct {
	Text  string
	Words []Word
	Final bool

	// Window is the window the result was computed from, when the
	// recognizer works per window.
	Window *segment.Window
}

// ConfidentText returns the text to keep from r. When r has word timings
// relative to a window, only words starting inside the window's confident
// region are kept and joined per lang.
func (r Result) ConfidentText(lang caption.Language) string {
	if r.Window == nil || len(r.Words) == 0 {
		return strings.TrimSpace(r.Text)
	}

	kept := make([]string, 0, len(r.Words))
	for _, w := range r.Words {
		if !r.Window.Contains(w.Start) {
			continue
		}
		if text := strings.TrimSpace(w.Text); text != "" {
			kept = append(kept, text)
		}
	}
	return lang.Join(kept)
}
