package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Koot5958/translation-live/internal/caption"
	"github.com/Koot5958/translation-live/internal/config"
	"github.com/Koot5958/translation-live/internal/metrics"
	"github.com/Koot5958/translation-live/internal/pipeline"
)

// MaxLongPoll caps the wait parameter of /captions.
const MaxLongPoll = 25 * time.Second

// HTTPServer provides HTTP API endpoints for renderers, monitoring and control
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	pipeline *pipeline.Pipeline
	metrics  *metrics.Metrics

	startTime time.Time
}

// CaptionView is one caption cell as served to renderers
type CaptionView struct {
	caption.Caption
	Previous []string `json:"previous_line"`
	Current  []string `json:"current_line"`
}

// CaptionsResponse is the /captions payload. Version grows with every
// update of either caption and is the value to pass as since.
type CaptionsResponse struct {
	Running     bool        `json:"running"`
	Version     uint64      `json:"version"`
	STT         CaptionView `json:"stt"`
	Translation CaptionView `json:"translation"`
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, p *pipeline.Pipeline, m *metrics.Metrics) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}

	h := &HTTPServer{
		logger:    logger.With(slog.String("component", "http_server")),
		config:    appConfig,
		pipeline:  p,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: MaxLongPoll + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/captions", h.withMetrics("/captions", h.handleCaptions))
	mux.HandleFunc("/start", h.withMetrics("/start", h.handleStart))
	mux.HandleFunc("/stop", h.withMetrics("/stop", h.handleStop))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// no request metrics for the metrics endpoint
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics.Handler())
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the routed handler, for embedding and tests.
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := h.pipeline.Stats()

	components := map[string]interface{}{}
	for name, st := range stats.Stages {
		status := "stopped"
		if st.Running {
			status = "running"
		}
		components[name] = map[string]interface{}{
			"status":     status,
			"starts":     st.Starts,
			"last_error": st.LastError,
		}
	}

	status := "healthy"
	if stats.Running {
		for _, st := range stats.Stages {
			if !st.Running {
				status = "degraded"
			}
		}
	}

	health := map[string]interface{}{
		"status":    status,
		"running":   stats.Running,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "captiond",
			"version": "1.0.0",
		},
		"components": components,
	}

	writeJSON(w, http.StatusOK, health)
}

// handleCaptions implements /captions. With since and wait it blocks until
// either caption is newer than since or wait elapses.
func (h *HTTPServer) handleCaptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()

	var since uint64
	if s := query.Get("since"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			http.Error(w, "Invalid since", http.StatusBadRequest)
			return
		}
		since = v
	}

	var wait time.Duration
	if s := query.Get("wait"); s != "" {
		v, err := time.ParseDuration(s)
		if err != nil || v < 0 {
			http.Error(w, "Invalid wait", http.StatusBadRequest)
			return
		}
		wait = min(v, MaxLongPoll)
	}

	if wait > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		defer cancel()
		h.waitForCaptions(ctx, since)
	}

	writeJSON(w, http.StatusOK, h.captions())
}

func (h *HTTPServer) version() uint64 {
	return h.pipeline.STT().Version() + h.pipeline.Translation().Version()
}

func (h *HTTPServer) waitForCaptions(ctx context.Context, since uint64) {
	stt := h.pipeline.STT()
	transl := h.pipeline.Translation()

	for {
		sttChanged := stt.Changed()
		translChanged := transl.Changed()
		if h.version() > since {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-sttChanged:
		case <-translChanged:
		}
	}
}

func (h *HTTPServer) captions() CaptionsResponse {
	lineLength := h.config.Caption.LineLength

	view := func(c caption.Caption) CaptionView {
		lines := caption.Page(c.Tokens, nil, lineLength)
		v := CaptionView{Caption: c, Previous: lines.Previous, Current: lines.Current}
		if v.Tokens == nil {
			v.Tokens = []string{}
		}
		if v.Previous == nil {
			v.Previous = []string{}
		}
		if v.Current == nil {
			v.Current = []string{}
		}
		return v
	}

	stt := h.pipeline.STT().Load()
	transl := h.pipeline.Translation().Load()

	return CaptionsResponse{
		Running:     h.pipeline.Running(),
		Version:     stt.Version + transl.Version,
		STT:         view(stt),
		Translation: view(transl),
	}
}

// handleStart implements POST /start
func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.pipeline.Start(context.Background()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrStopping) {
			status = http.StatusConflict
		}
		h.logger.Warn("Failed to start pipeline", slog.String("error", err.Error()))
		writeError(w, status, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"running": h.pipeline.Running()})
}

// handleStop implements POST /stop
func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.pipeline.Stop(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrStopTimeout) {
			status = http.StatusGatewayTimeout
		}
		h.logger.Warn("Failed to stop pipeline", slog.String("error", err.Error()))
		writeError(w, status, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"running": h.pipeline.Running()})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// credentials are reported as present or not, never echoed
	creds := h.config.Credentials
	sanitizedConfig := map[string]interface{}{
		"languages":   h.config.Languages,
		"audio":       h.config.Audio,
		"capture":     h.config.Capture,
		"segment":     h.config.Segment,
		"caption":     h.config.Caption,
		"session":     h.config.Session,
		"recognizer":  h.config.Recognizer,
		"translation": h.config.Translation,
		"logging":     h.config.Logging,
		"credentials": map[string]bool{
			"iam_token":             creds.IAMToken != "",
			"api_key":               creds.APIKey != "",
			"folder_id":             creds.FolderID != "",
			"transcription_api_key": creds.TranscriptionAPIKey != "",
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"pipeline":  h.pipeline.Stats(),
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Live Caption Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                              "API documentation",
			"GET /health":                        "Service health check",
			"GET /captions?since={v}&wait={dur}": "Transcription and translation captions, long-polled",
			"POST /start":                        "Start the pipeline",
			"POST /stop":                         "Stop the pipeline",
			"GET /config":                        "Get service configuration",
			"GET /stats":                         "Get pipeline statistics",
			"GET /metrics":                       "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
