package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /metrics, got %d", rec.Code)
	}
	return rec.Body.String()
}

func TestNewMetricsIndependentRegistries(t *testing.T) {
	// two instances must not collide on registration
	a := NewMetrics()
	b := NewMetrics()

	a.RecordWindow(1.5)

	if !strings.Contains(scrape(t, a), "captiond_windows_produced_total 1") {
		t.Error("Expected one window on the first registry")
	}
	if !strings.Contains(scrape(t, b), "captiond_windows_produced_total 0") {
		t.Error("Expected no windows on the second registry")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordWindow(1)
	m.RecordCaption("stt", 3)
	m.RecordTranslationDone(0.1, errors.New("boom"))
	m.SetDriverState(1)
}

func TestRecordTranslation(t *testing.T) {
	m := NewMetrics()

	m.RecordTranslationStarted()
	m.RecordTranslationStarted()
	m.RecordTranslationDone(0.2, nil)
	m.RecordTranslationDone(0.3, errors.New("unavailable"))

	body := scrape(t, m)
	for _, want := range []string{
		"captiond_translation_in_flight 0",
		"captiond_translation_failures_total 1",
		"captiond_translation_requests_total 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected %q in metrics output", want)
		}
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.RecordCaption("stt", 7)
	m.RecordSessionEnded(12, "time_limit")

	body := scrape(t, m)
	for _, want := range []string{
		`captiond_caption_tokens{output="stt"} 7`,
		`captiond_session_restarts_total{reason="time_limit"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected %q in metrics output", want)
		}
	}
}
