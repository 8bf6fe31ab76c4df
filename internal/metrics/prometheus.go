package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the captioning service.
// Every Record/Set method is safe to call on a nil *Metrics.
type Metrics struct {
	Registry *prometheus.Registry

	// Capture metrics
	ChunksCaptured  prometheus.Counter
	SamplesCaptured prometheus.Counter
	PacketsReceived prometheus.Counter
	PacketsLost     prometheus.Counter
	ParseErrors     prometheus.Counter
	RingLevel       prometheus.Gauge
	RingBuffered    prometheus.Gauge

	// Segmentation metrics
	WindowsProduced prometheus.Counter
	SilentDrains    prometheus.Counter
	WindowDuration  prometheus.Histogram

	// Recognition metrics
	SessionsStarted    prometheus.Counter
	SessionRestarts    *prometheus.CounterVec
	SessionDuration    prometheus.Histogram
	RecognizerResults  *prometheus.CounterVec
	RecognizerRequests prometheus.Counter
	RecognizerFailures prometheus.Counter
	RecognizerRetries  prometheus.Counter
	RecognizerDuration prometheus.Histogram
	DriverState        prometheus.Gauge

	// Caption metrics
	CaptionUpdates *prometheus.CounterVec
	CaptionTokens  *prometheus.GaugeVec
	CaptionResets  *prometheus.CounterVec

	// Translation metrics
	TranslationRequests prometheus.Counter
	TranslationFailures prometheus.Counter
	TranslationStale    prometheus.Counter
	TranslationDuration prometheus.Histogram
	TranslationInFlight prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics on a fresh registry, together with the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		// Capture metrics
		ChunksCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "captiond_capture_chunks_total",
			Help: "Total number of audio chunks pushed into the ring",
		}),
		SamplesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "captiond_capture_samples_total",
			Help: "Total number of audio samples pushed into the ring",
		}),
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "captiond_udp_packets_received_total",
			Help: "Total number of UDP audio packets received",
		}),
		PacketsLost: factory.NewCounter(prometheus.CounterOpts{
			Name: "captiond_udp_packets_lost_total",
			Help: "Total number of UDP audio packets skipped as lost",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "captiond_udp_parse_errors_total",
			Help: "Total number of packet parsing errors",
		}),
		RingLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "captiond_ring_level_db",
			Help: "Loudness of the last drained ring contents in dB",
		}),
		RingBuffered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "captiond_ring_buffered_samples",
			Help: "Number of samples currently buffered in the ring",
		}),

		// Segmentation metrics
		WindowsProduced: factory.NewCounter(prometheus.CounterOpts{
			Name: "captiond_windows_produced_total",
			Help: "Total number of analysis windows sent to the recognizer",
		}),
		SilentDrains: factory.NewCounter(prometheus.CounterOpts{
			Name: "captiond_silent_drains_total",
			Help: "Total number of ring drains gated as silence or too short",
		}),
		WindowDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "captiond_window_duration_seconds",
			Help:    "Duration of analysis windows",
			Buckets: prometheus.LinearBuckets(0.25, 0.25, 16), // 250ms to 4s
		}),

		// Recognition metrics
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "captiond_sessions_started_total",
			Help: "Total number of recognition sessions opened",
		}),
		SessionRestarts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "captiond_session_restarts_total",
			Help: "Total number of recognition session restarts",
		}, []string{"reason"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "captiond_session_duration_seconds",
			Help:    "Lifetime of recognition sessions",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~8.5 minutes
		}),
		RecognizerResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "captiond_recognizer_results_total",
			Help: "Total number of recognizer results by kind",
		}, []string{"kind"}),
		RecognizerRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "captiond_recognizer_requests_total",
			Help: "Total number of per-window recognizer requests",
		}),
		RecognizerFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "captiond_recognizer_failures_total",
			Help: "Total number of failed per-window recognizer requests",
		}),
		RecognizerRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "captiond_recognizer_retries_total",
			Help: "Total number of per-window recognizer retries",
		}),
		RecognizerDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "captiond_recognizer_duration_seconds",
			Help:    "Duration of per-window recognizer requests",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		DriverState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "captiond_driver_state",
			Help: "Session driver state (0 idle, 1 streaming, 2 restarting, 3 stopped)",
		}),

		// Caption metrics
		CaptionUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "captiond_caption_updates_total",
			Help: "Total number of published caption snapshots",
		}, []string{"output"}),
		CaptionTokens: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "captiond_caption_tokens",
			Help: "Number of tokens in the latest caption",
		}, []string{"output"}),
		CaptionResets: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "captiond_caption_resets_total",
			Help: "Total number of caption epochs started",
		}, []string{"output"}),

		// Translation metrics
		TranslationRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "captiond_translation_requests_total",
			Help: "Total number of translation calls",
		}),
		TranslationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "captiond_translation_failures_total",
			Help: "Total number of failed translation calls",
		}),
		TranslationStale: factory.NewCounter(prometheus.CounterOpts{
			Name: "captiond_translation_stale_total",
			Help: "Total number of translation results discarded as stale",
		}),
		TranslationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "captiond_translation_duration_seconds",
			Help:    "Duration of translation calls",
			Buckets: prometheus.ExponentialBuckets(0.025, 2, 10), // 25ms to ~13s
		}),
		TranslationInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "captiond_translation_in_flight",
			Help: "Number of translation calls currently in flight",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "captiond_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "captiond_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "captiond_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Handler returns the /metrics handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// RecordChunkCaptured records one chunk pushed into the ring
func (m *Metrics) RecordChunkCaptured(samples int) {
	if m == nil {
		return
	}
	m.ChunksCaptured.Inc()
	m.SamplesCaptured.Add(float64(samples))
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	if m == nil {
		return
	}
	m.PacketsReceived.Inc()
}

// RecordPacketsLost adds skipped sequence numbers to the loss counter
func (m *Metrics) RecordPacketsLost(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.PacketsLost.Add(float64(count))
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	if m == nil {
		return
	}
	m.ParseErrors.Inc()
}

// SetRing records the ring fill and the loudness of the last drain
func (m *Metrics) SetRing(buffered int, levelDB float64) {
	if m == nil {
		return
	}
	m.RingBuffered.Set(float64(buffered))
	m.RingLevel.Set(levelDB)
}

// RecordWindow records a window sent to the recognizer
func (m *Metrics) RecordWindow(durationSeconds float64) {
	if m == nil {
		return
	}
	m.WindowsProduced.Inc()
	m.WindowDuration.Observe(durationSeconds)
}

// RecordSilentDrain increments the gated drain counter
func (m *Metrics) RecordSilentDrain() {
	if m == nil {
		return
	}
	m.SilentDrains.Inc()
}

// RecordSessionStarted increments the sessions counter
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

// RecordSessionEnded records a session lifetime and, if it restarts, why
func (m *Metrics) RecordSessionEnded(durationSeconds float64, restartReason string) {
	if m == nil {
		return
	}
	m.SessionDuration.Observe(durationSeconds)
	if restartReason != "" {
		m.SessionRestarts.WithLabelValues(restartReason).Inc()
	}
}

// RecordRecognizerResult counts an interim or final result
func (m *Metrics) RecordRecognizerResult(final bool) {
	if m == nil {
		return
	}
	kind := "interim"
	if final {
		kind = "final"
	}
	m.RecognizerResults.WithLabelValues(kind).Inc()
}

// RecordRecognizerRequest increments per-window recognizer requests
func (m *Metrics) RecordRecognizerRequest() {
	if m == nil {
		return
	}
	m.RecognizerRequests.Inc()
}

// RecordRecognizerDone records the outcome of a per-window request
func (m *Metrics) RecordRecognizerDone(durationSeconds float64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.RecognizerFailures.Inc()
	}
	m.RecognizerDuration.Observe(durationSeconds)
}

// RecordRecognizerRetry increments the retry counter
func (m *Metrics) RecordRecognizerRetry() {
	if m == nil {
		return
	}
	m.RecognizerRetries.Inc()
}

// SetDriverState exports the session driver state
func (m *Metrics) SetDriverState(state int) {
	if m == nil {
		return
	}
	m.DriverState.Set(float64(state))
}

// RecordCaption records a published caption for output "stt" or "translation"
func (m *Metrics) RecordCaption(output string, tokens int) {
	if m == nil {
		return
	}
	m.CaptionUpdates.WithLabelValues(output).Inc()
	m.CaptionTokens.WithLabelValues(output).Set(float64(tokens))
}

// RecordCaptionReset increments the epoch counter for an output
func (m *Metrics) RecordCaptionReset(output string) {
	if m == nil {
		return
	}
	m.CaptionResets.WithLabelValues(output).Inc()
}

// RecordTranslationStarted records a translation call leaving
func (m *Metrics) RecordTranslationStarted() {
	if m == nil {
		return
	}
	m.TranslationRequests.Inc()
	m.TranslationInFlight.Inc()
}

// RecordTranslationDone records a translation call returning
func (m *Metrics) RecordTranslationDone(durationSeconds float64, err error) {
	if m == nil {
		return
	}
	m.TranslationInFlight.Dec()
	m.TranslationDuration.Observe(durationSeconds)
	if err != nil {
		m.TranslationFailures.Inc()
	}
}

// RecordTranslationStale increments the stale discard counter
func (m *Metrics) RecordTranslationStale() {
	if m == nil {
		return
	}
	m.TranslationStale.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
