package translate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Koot5958/translation-live/internal/caption"
)

// upperTranslator "translates" by upper-casing. Inputs with a gate block
// until the gate is closed; inputs listed in fail fail that many times.
type upperTranslator struct {
	mu    sync.Mutex
	calls []string
	gates map[string]chan struct{}
	fail  map[string]int
}

func newUpperTranslator() *upperTranslator {
	return &upperTranslator{
		gates: make(map[string]chan struct{}),
		fail:  make(map[string]int),
	}
}

func (u *upperTranslator) Translate(ctx context.Context, text string, source, target caption.Language) (string, error) {
	u.mu.Lock()
	u.calls = append(u.calls, text)
	gate := u.gates[text]
	failing := u.fail[text] > 0
	if failing {
		u.fail[text]--
	}
	u.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if failing {
		return "", errors.New("service unavailable")
	}
	return strings.ToUpper(text), nil
}

func (u *upperTranslator) gate(text string) chan struct{} {
	u.mu.Lock()
	defer u.mu.Unlock()
	ch := make(chan struct{})
	u.gates[text] = ch
	return ch
}

func (u *upperTranslator) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.calls)
}

type workerFixture struct {
	input  *caption.Cell
	output *caption.Cell
	worker *Worker
	done   chan error
	cancel context.CancelFunc
}

func startWorker(t *testing.T, tr Translator, maxInFlight int) *workerFixture {
	t.Helper()

	target := caption.MustLookup("en-US")
	stab, err := caption.NewStabilizer(target, caption.StabilizerOptions{
		Margin:      caption.DefaultMargin,
		SentenceGap: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewStabilizer failed: %v", err)
	}

	f := &workerFixture{
		input:  caption.NewCell(),
		output: caption.NewCell(),
		done:   make(chan error, 1),
	}
	f.worker, err = NewWorker(WorkerConfig{
		Source:       caption.MustLookup("fr-FR"),
		Target:       target,
		PollInterval: 5 * time.Millisecond,
		MaxInFlight:  maxInFlight,
		MinChars:     DefaultMinChars,
	}, tr, f.input, stab, f.output, nil, nil)
	if err != nil {
		t.Fatalf("NewWorker failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.done <- f.worker.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-f.done:
		case <-time.After(time.Second):
			t.Error("Worker did not stop")
		}
	})
	return f
}

func (f *workerFixture) transcribe(text string, epoch uint64) {
	f.input.Store(caption.Caption{
		Tokens: strings.Fields(text),
		Text:   text,
		Epoch:  epoch,
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestNewWorkerValidation(t *testing.T) {
	if _, err := NewWorker(WorkerConfig{}, nil, nil, nil, nil, nil, nil); err == nil {
		t.Error("Expected error for missing dependencies")
	}
}

func TestWorkerDiscardsOlderResult(t *testing.T) {
	tr := newUpperTranslator()
	release := tr.gate("un deux trois")
	f := startWorker(t, tr, 2)

	f.transcribe("un deux trois", 0)
	waitFor(t, "first call", func() bool { return tr.callCount() == 1 })

	// a newer input overtakes the first call
	f.transcribe("un deux trois quatre", 0)
	waitFor(t, "second translation", func() bool {
		return f.output.Load().Text == "UN DEUX TROIS QUATRE"
	})

	close(release)
	waitFor(t, "first result to be discarded", func() bool {
		return f.worker.GetStats().Stale == 1
	})

	if got := f.output.Load().Text; got != "UN DEUX TROIS QUATRE" {
		t.Errorf("Older result overwrote the newer one: %q", got)
	}
	if committed := f.worker.GetStats().Committed; committed != 1 {
		t.Errorf("Expected one committed translation, got %d", committed)
	}
}

func TestWorkerDiscardsResultForChangedInput(t *testing.T) {
	tr := newUpperTranslator()
	release := tr.gate("alpha beta")
	f := startWorker(t, tr, 1)

	f.transcribe("alpha beta", 0)
	waitFor(t, "first call", func() bool { return tr.callCount() == 1 })

	f.transcribe("gamma delta", 0)
	close(release)

	waitFor(t, "translation of the current input", func() bool {
		return f.output.Load().Text == "GAMMA DELTA"
	})

	stats := f.worker.GetStats()
	if stats.Stale != 1 || stats.Committed != 1 {
		t.Errorf("Expected one stale and one committed result, got %+v", stats)
	}
}

func TestWorkerSkipsShortAndUnchangedInput(t *testing.T) {
	tr := newUpperTranslator()
	f := startWorker(t, tr, 2)

	f.transcribe("oui", 0)
	time.Sleep(50 * time.Millisecond)
	if n := tr.callCount(); n != 0 {
		t.Fatalf("Expected no call for short input, got %d", n)
	}

	f.transcribe("bonjour", 0)
	waitFor(t, "translation", func() bool { return f.output.Load().Text == "BONJOUR" })

	// storing the same text again is not a change
	f.transcribe("bonjour", 0)
	time.Sleep(50 * time.Millisecond)
	if n := tr.callCount(); n != 1 {
		t.Errorf("Expected a single call, got %d", n)
	}
}

func TestWorkerRetriesFailedTranslation(t *testing.T) {
	tr := newUpperTranslator()
	tr.fail["salut tout le monde"] = 2
	f := startWorker(t, tr, 2)

	f.transcribe("salut tout le monde", 0)
	waitFor(t, "translation after failures", func() bool {
		return f.output.Load().Text == "SALUT TOUT LE MONDE"
	})

	stats := f.worker.GetStats()
	if stats.Failures != 2 || !strings.Contains(stats.LastError, "service unavailable") {
		t.Errorf("Unexpected failure stats: %+v", stats)
	}
	if n := tr.callCount(); n != 3 {
		t.Errorf("Expected 3 calls, got %d", n)
	}
}

func TestWorkerResetsOnNewSentence(t *testing.T) {
	tr := newUpperTranslator()
	f := startWorker(t, tr, 2)

	f.transcribe("première phrase", 0)
	waitFor(t, "first sentence", func() bool { return f.output.Load().Text == "PREMIÈRE PHRASE" })
	firstEpoch := f.output.Load().Epoch

	f.transcribe("seconde", 1)
	waitFor(t, "second sentence", func() bool { return f.output.Load().Text == "SECONDE" })

	if f.output.Load().Epoch == firstEpoch {
		t.Error("Expected the translation epoch to change with the transcription epoch")
	}
	if resets := f.worker.GetStats().Resets; resets != 1 {
		t.Errorf("Expected one reset, got %d", resets)
	}
}

func TestWorkerKeepsTranslationAcrossReset(t *testing.T) {
	tr := newUpperTranslator()
	gate := tr.gate("seconde")
	f := startWorker(t, tr, 2)

	f.transcribe("première phrase", 0)
	waitFor(t, "first sentence", func() bool { return f.output.Load().Text == "PREMIÈRE PHRASE" })
	version := f.output.Load().Version

	f.transcribe("seconde", 1)
	waitFor(t, "second call", func() bool { return tr.callCount() == 2 })

	if got := f.output.Load(); got.Text != "PREMIÈRE PHRASE" || got.Version != version {
		t.Errorf("Expected the previous translation to stay up, got %q (version %d)", got.Text, got.Version)
	}
	if resets := f.worker.GetStats().Resets; resets != 1 {
		t.Errorf("Expected one reset, got %d", resets)
	}

	close(gate)
	waitFor(t, "second sentence", func() bool { return f.output.Load().Text == "SECONDE" })
	if got := f.output.Load(); got.Version != version+1 {
		t.Errorf("Expected the new sentence in one update, got version %d after %d", got.Version, version)
	}
}

func TestWorkerStopCancelsCalls(t *testing.T) {
	tr := newUpperTranslator()
	tr.gate("jamais fini")
	f := startWorker(t, tr, 2)

	f.transcribe("jamais fini", 0)
	waitFor(t, "call", func() bool { return tr.callCount() == 1 })

	f.cancel()
	select {
	case err := <-f.done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
		f.done <- nil
	case <-time.After(time.Second):
		t.Fatal("Run blocked on an outstanding call")
	}
}

func TestTranslatorFunc(t *testing.T) {
	var tr Translator = TranslatorFunc(func(ctx context.Context, text string, source, target caption.Language) (string, error) {
		return source.Base() + ">" + target.Base() + ":" + text, nil
	})
	got, err := tr.Translate(context.Background(), "x", caption.MustLookup("fr-FR"), caption.MustLookup("en-US"))
	if err != nil || got != "fr>en:x" {
		t.Errorf("TranslatorFunc = %q, %v", got, err)
	}
}
