package caption

import "slices"

// DefaultLineLength is the number of tokens per displayed caption line.
const DefaultLineLength = 10

// Lines is a two-line caption view: the last complete line and the line
// currently being written.
type Lines struct {
	Previous []string
	Current  []string

	// NewLine is set when Previous changed, i.e. the display scrolled.
	NewLine bool
}

// Page cuts tokens into fixed-length lines and returns the last two.
// prev is the Previous line of the last page shown and is used to detect
// scrolling.
func Page(tokens, prev []string, maxLen int) Lines {
	if maxLen <= 0 {
		maxLen = DefaultLineLength
	}

	if len(tokens) <= maxLen {
		return Lines{Current: tokens}
	}

	start := (len(tokens) / maxLen) * maxLen
	previous := tokens[:start]
	if len(previous) > maxLen {
		previous = previous[len(previous)-maxLen:]
	}

	return Lines{
		Previous: previous,
		Current:  tokens[start:],
		NewLine:  !slices.Equal(prev, previous),
	}
}

