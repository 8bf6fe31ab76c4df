package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Koot5958/translation-live/internal/caption"
)

// consoleView prints the lines of one caption cell as they complete.
type consoleView struct {
	label string
	lang  caption.Language
	cell  *caption.Cell

	version  uint64
	last     caption.Caption
	previous []string
}

func newConsoleView(label string, lang caption.Language, cell *caption.Cell) *consoleView {
	return &consoleView{label: label, lang: lang, cell: cell}
}

// update prints the line that scrolled off since the last call. When the
// caption starts a new sentence the unfinished line is printed as well.
func (v *consoleView) update(w io.Writer, lineLength int) {
	c := v.cell.Load()
	if c.Version == v.version {
		return
	}
	v.version = c.Version

	if c.Epoch != v.last.Epoch && v.last.Len() > 0 {
		lines := caption.Page(v.last.Tokens, v.previous, lineLength)
		if len(lines.Current) > 0 {
			fmt.Fprintf(w, "%s %s\n", v.label, v.lang.Join(lines.Current))
		}
		v.previous = nil
	}

	lines := caption.Page(c.Tokens, v.previous, lineLength)
	if lines.NewLine {
		fmt.Fprintf(w, "%s %s\n", v.label, v.lang.Join(lines.Previous))
		v.previous = lines.Previous
	}
	v.last = c
}

func renderConsole(ctx context.Context, w io.Writer, lineLength int, interval time.Duration, views ...*consoleView) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, v := range views {
				v.update(w, lineLength)
			}
		}
	}
}
