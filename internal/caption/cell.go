package caption

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Cell publishes Caption snapshots from a single writer to any number of
// readers. Load never blocks; Changed and Wait let readers block for the
// next Store instead of polling.
type Cell struct {
	snapshot atomic.Pointer[Caption]

	mu      sync.Mutex
	changed chan struct{}
}

// NewCell creates a cell holding an empty caption at version 0.
func NewCell() *Cell {
	c := &Cell{changed: make(chan struct{})}
	c.snapshot.Store(&Caption{})
	return c
}

// Store publishes a copy of caption with the next version number and
// returns what was stored.
func (c *Cell) Store(caption Caption) Caption {
	tokens := make([]string, len(caption.Tokens))
	copy(tokens, caption.Tokens)
	caption.Tokens = tokens
	if caption.UpdatedAt.IsZero() {
		caption.UpdatedAt = time.Now()
	}

	c.mu.Lock()
	caption.Version = c.snapshot.Load().Version + 1
	c.snapshot.Store(&caption)
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()

	return caption
}

// Load returns the latest snapshot. Its Tokens must not be modified.
func (c *Cell) Load() Caption {
	return *c.snapshot.Load()
}

// Version returns the version of the latest snapshot.
func (c *Cell) Version() uint64 {
	return c.snapshot.Load().Version
}

// Changed returns a channel closed by the next Store.
func (c *Cell) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// Wait blocks until a snapshot newer than since is published or ctx is
// done, and returns the latest snapshot either way.
func (c *Cell) Wait(ctx context.Context, since uint64) (Caption, error) {
	for {
		changed := c.Changed()
		current := c.Load()
		if current.Version > since {
			return current, nil
		}

		select {
		case <-ctx.Done():
			return c.Load(), ctx.Err()
		case <-changed:
		}
	}
}
