package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Koot5958/translation-live/internal/caption"
	"github.com/Koot5958/translation-live/internal/config"
	"github.com/Koot5958/translation-live/internal/metrics"
	"github.com/Koot5958/translation-live/internal/pipeline"
	"github.com/Koot5958/translation-live/internal/recognize"
	"github.com/Koot5958/translation-live/internal/segment"
)

// idleRecognizer opens sessions that never produce results.
type idleRecognizer struct{}

func (idleRecognizer) Open(ctx context.Context, cfg recognize.SessionConfig) (recognize.Stream, error) {
	return &idleStream{ctx: ctx}, nil
}

type idleStream struct {
	ctx context.Context
}

func (s *idleStream) Send(ctx context.Context, w *segment.Window) error { return nil }

func (s *idleStream) Recv() (recognize.Result, error) {
	<-s.ctx.Done()
	return recognize.Result{}, io.EOF
}

func (s *idleStream) Close() error { return nil }

func newTestServer(t *testing.T) (*HTTPServer, *pipeline.Pipeline, *config.Config) {
	t.Helper()

	cfg := config.Default()
	cfg.Credentials = config.Credentials{APIKey: "super-secret", FolderID: "folder"}

	p, err := pipeline.New(pipeline.ConfigFrom(&cfg), pipeline.Deps{Recognizer: idleRecognizer{}})
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}
	t.Cleanup(func() { p.Stop() })

	h := NewHTTPServer(cfg.HTTP, nil, &cfg, p, metrics.NewMetrics())
	return h, p, &cfg
}

func do(t *testing.T, h *HTTPServer, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHandleHealth(t *testing.T) {
	h, _, _ := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	decode(t, rec, &body)
	if body["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", body["status"])
	}
	if body["running"] != false {
		t.Errorf("Expected stopped pipeline, got %v", body["running"])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, _, _ := newTestServer(t)

	tests := []struct {
		method string
		target string
	}{
		{http.MethodPost, "/health"},
		{http.MethodPost, "/captions"},
		{http.MethodGet, "/start"},
		{http.MethodGet, "/stop"},
		{http.MethodDelete, "/config"},
		{http.MethodPut, "/stats"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			if rec := do(t, h, tt.method, tt.target); rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("Expected 405, got %d", rec.Code)
			}
		})
	}
}

func TestHandleCaptions(t *testing.T) {
	h, p, _ := newTestServer(t)

	var empty CaptionsResponse
	decode(t, do(t, h, http.MethodGet, "/captions"), &empty)
	if empty.Version != 0 || len(empty.STT.Tokens) != 0 {
		t.Errorf("Expected empty captions, got %+v", empty)
	}

	tokens := strings.Fields("un deux trois quatre cinq six sept huit neuf dix onze douze")
	p.STT().Store(caption.Caption{Tokens: tokens, Finalized: 12, Text: strings.Join(tokens, " ")})

	var resp CaptionsResponse
	decode(t, do(t, h, http.MethodGet, "/captions"), &resp)
	if resp.Version != 1 {
		t.Errorf("Expected version 1, got %d", resp.Version)
	}
	if resp.STT.Text != strings.Join(tokens, " ") {
		t.Errorf("Unexpected text %q", resp.STT.Text)
	}
	if len(resp.STT.Previous) != 10 || len(resp.STT.Current) != 2 {
		t.Errorf("Expected lines of 10 and 2 tokens, got %d and %d", len(resp.STT.Previous), len(resp.STT.Current))
	}
}

func TestHandleCaptionsLongPoll(t *testing.T) {
	h, p, _ := newTestServer(t)

	done := make(chan *httptest.ResponseRecorder, 1)
	started := time.Now()
	go func() {
		done <- do(t, h, http.MethodGet, "/captions?since=0&wait=5s")
	}()

	time.Sleep(50 * time.Millisecond)
	p.Translation().Store(caption.Caption{Tokens: []string{"hello"}, Text: "hello"})

	select {
	case rec := <-done:
		var resp CaptionsResponse
		decode(t, rec, &resp)
		if resp.Version != 1 || resp.Translation.Text != "hello" {
			t.Errorf("Expected the new translation, got %+v", resp)
		}
		if time.Since(started) > 2*time.Second {
			t.Errorf("Long poll returned late")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Long poll did not return after an update")
	}

	// nothing newer: returns after wait
	started = time.Now()
	rec := do(t, h, http.MethodGet, "/captions?since=1&wait=50ms")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if elapsed := time.Since(started); elapsed < 50*time.Millisecond {
		t.Errorf("Expected to wait, returned after %v", elapsed)
	}
}

func TestHandleCaptionsBadParameters(t *testing.T) {
	h, _, _ := newTestServer(t)

	for _, target := range []string{"/captions?since=abc", "/captions?wait=soon", "/captions?wait=-1s"} {
		if rec := do(t, h, http.MethodGet, target); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestStartStop(t *testing.T) {
	h, p, _ := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/start")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /start, got %d: %s", rec.Code, rec.Body.String())
	}
	if !p.Running() {
		t.Errorf("Expected pipeline to be running")
	}

	// starting twice is harmless
	if rec := do(t, h, http.MethodPost, "/start"); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 from second /start, got %d", rec.Code)
	}
	if runs := p.Stats().Runs; runs != 1 {
		t.Errorf("Expected 1 run, got %d", runs)
	}

	rec = do(t, h, http.MethodPost, "/stop")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /stop, got %d: %s", rec.Code, rec.Body.String())
	}

	var body map[string]bool
	decode(t, rec, &body)
	if body["running"] || p.Running() {
		t.Errorf("Expected pipeline to be stopped")
	}
}

func TestHandleConfigHidesCredentials(t *testing.T) {
	h, _, _ := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/config")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "super-secret") {
		t.Errorf("Config response leaks credentials")
	}
	if !strings.Contains(rec.Body.String(), `"api_key":true`) {
		t.Errorf("Expected credential presence flags, got %s", rec.Body.String())
	}
}

func TestHandleStatsAndMetrics(t *testing.T) {
	h, _, _ := newTestServer(t)

	if rec := do(t, h, http.MethodGet, "/stats"); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /stats, got %d", rec.Code)
	}
	do(t, h, http.MethodGet, "/nope")

	rec := do(t, h, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /metrics, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"captiond_http_requests_total", "captiond_http_errors_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("Expected %s in metrics output", name)
		}
	}
}

func TestHandleRoot(t *testing.T) {
	h, _, _ := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/captions") {
		t.Errorf("Expected endpoint index to list /captions")
	}
}
