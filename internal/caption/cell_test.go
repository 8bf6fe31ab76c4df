package caption

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCellStoreLoad(t *testing.T) {
	c := NewCell()

	if got := c.Load(); got.Version != 0 || got.Len() != 0 {
		t.Errorf("Expected empty caption at version 0, got %+v", got)
	}

	tokens := []string{"hello", "world"}
	stored := c.Store(Caption{Tokens: tokens, Text: "hello world"})
	if stored.Version != 1 {
		t.Errorf("Expected version 1, got %d", stored.Version)
	}

	tokens[0] = "changed"
	if got := c.Load(); got.Tokens[0] != "hello" {
		t.Error("Store must copy tokens")
	}

	c.Store(Caption{Text: "again"})
	if c.Version() != 2 {
		t.Errorf("Expected version 2, got %d", c.Version())
	}
}

func TestCellChanged(t *testing.T) {
	c := NewCell()
	changed := c.Changed()

	select {
	case <-changed:
		t.Fatal("Changed fired before Store")
	default:
	}

	c.Store(Caption{Text: "x"})

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("Changed did not fire after Store")
	}
}

func TestCellWait(t *testing.T) {
	c := NewCell()
	c.Store(Caption{Text: "first"})

	// already newer than since
	got, err := c.Wait(context.Background(), 0)
	if err != nil || got.Text != "first" {
		t.Fatalf("Wait(0) = %+v, %v", got, err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Store(Caption{Text: "second"})
	}()

	got, err = c.Wait(context.Background(), 1)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if got.Text != "second" || got.Version != 2 {
		t.Errorf("Unexpected caption: %+v", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	got, err = c.Wait(ctx, 2)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if got.Version != 2 {
		t.Errorf("Expected latest snapshot on timeout, got version %d", got.Version)
	}
}

func TestCellConcurrentReaders(t *testing.T) {
	c := NewCell()
	var wg sync.WaitGroup

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for i := 0; i < 1000; i++ {
				snap := c.Load()
				if snap.Version < last {
					t.Errorf("version went backwards: %d < %d", snap.Version, last)
					return
				}
				if len(snap.Tokens) != int(snap.Version) {
					t.Errorf("inconsistent snapshot: %d tokens at version %d", len(snap.Tokens), snap.Version)
					return
				}
				last = snap.Version
			}
		}()
	}

	tokens := []string{}
	for i := 0; i < 200; i++ {
		tokens = append(tokens, "w")
		c.Store(Caption{Tokens: tokens})
	}
	wg.Wait()
}
