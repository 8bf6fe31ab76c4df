package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Koot5958/translation-live/internal/audio"
	"github.com/Koot5958/translation-live/internal/metrics"
	"github.com/Koot5958/translation-live/internal/segment"
)

// HTTPConfig contains per-window transcription API configuration
type HTTPConfig struct {
	Endpoint      string
	APIKey        string
	Model         string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int

	// RetryBackoff is the first retry delay; it doubles on every attempt.
	RetryBackoff time.Duration
}

// HTTPRecognizer transcribes each window with one multipart POST carrying
// the window as a WAV file. It expects an OpenAI-compatible verbose_json
// response with word timestamps.
type HTTPRecognizer struct {
	config     HTTPConfig
	httpClient *http.Client
	semaphore  chan struct{} // bounds concurrent requests across sessions
	metrics    *metrics.Metrics
	logger     *slog.Logger

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// TranscriptionResponse is the verbose_json transcription payload
type TranscriptionResponse struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration"`
	Words    []Word    `json:"words,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
}

// Segment represents a segment of transcribed text
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// HTTPStats represents per-window recognizer statistics
type HTTPStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// statusError is returned for non-2xx responses
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.Code, e.Body)
}

// NewHTTPRecognizer creates a per-window recognizer
func NewHTTPRecognizer(config HTTPConfig, m *metrics.Metrics, logger *slog.Logger) (*HTTPRecognizer, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}

	if config.Model == "" {
		config.Model = "whisper-1"
	}

	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &HTTPRecognizer{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		metrics:    m,
		logger:     logger.With(slog.String("component", "http_recognizer")),
	}, nil
}

// Open starts a session. Windows are transcribed one at a time in the
// order they were sent, so results keep window order.
func (r *HTTPRecognizer) Open(ctx context.Context, cfg SessionConfig) (Stream, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &httpStream{
		recognizer: r,
		config:     cfg,
		ctx:        streamCtx,
		cancel:     cancel,
		windows:    make(chan *segment.Window, 4),
		results:    make(chan Result, 4),
		sendDone:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Transcribe sends one window for transcription
func (r *HTTPRecognizer) Transcribe(ctx context.Context, cfg SessionConfig, w *segment.Window) (*TranscriptionResponse, error) {
	// Acquire semaphore for rate limiting
	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	wav, err := audio.EncodeWAV(w.Samples, w.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode window %d: %w", w.Seq, err)
	}

	startTime := time.Now()
	r.incrementTotalRequests()
	r.metrics.RecordRecognizerRequest()

	requestID := uuid.NewString()
	var lastErr error

	// Retry loop with exponential backoff
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			r.incrementTotalRetries()
			r.metrics.RecordRecognizerRetry()

			backoffTime := r.config.RetryBackoff << (attempt - 1)
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				r.incrementFailedRequests()
				r.metrics.RecordRecognizerDone(time.Since(startTime).Seconds(), ctx.Err())
				return nil, ctx.Err()
			}
		}

		response, err := r.doRequest(ctx, cfg, w, wav, requestID)
		if err == nil {
			r.incrementSuccessRequests()
			r.updateAvgResponseTime(time.Since(startTime))
			r.metrics.RecordRecognizerDone(time.Since(startTime).Seconds(), nil)
			return response, nil
		}

		lastErr = err
		r.logger.Debug("Transcription attempt failed",
			slog.String("request_id", requestID),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))

		if !isRetryableError(err) || ctx.Err() != nil {
			break
		}
	}

	r.incrementFailedRequests()
	r.metrics.RecordRecognizerDone(time.Since(startTime).Seconds(), lastErr)
	return nil, fmt.Errorf("transcription failed after %d attempts: %w", r.config.MaxRetries+1, lastErr)
}

// doRequest performs a single HTTP request to the transcription API
func (r *HTTPRecognizer) doRequest(ctx context.Context, cfg SessionConfig, w *segment.Window, wav []byte, requestID string) (*TranscriptionResponse, error) {
	body, contentType, err := r.createMultipartRequest(cfg, w, wav, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	if r.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.config.APIKey)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "captiond/1.0")
	httpReq.Header.Set("X-Request-ID", requestID)

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	var transcription TranscriptionResponse
	if err := json.Unmarshal(respBody, &transcription); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return &transcription, nil
}

// createMultipartRequest creates a multipart/form-data request body
func (r *HTTPRecognizer) createMultipartRequest(cfg SessionConfig, w *segment.Window, wav []byte, requestID string) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	filename := fmt.Sprintf("%s-%06d.wav", cfg.ID, w.Seq)
	fileWriter, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := [][2]string{
		{"model", r.config.Model},
		{"language", cfg.Language.Base()},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "word"},
		{"timestamp_granularities[]", "segment"},

		// Window metadata
		{"request_id", requestID},
		{"session_id", cfg.ID},
		{"window_seq", strconv.FormatUint(w.Seq, 10)},
		{"window_offset", fmt.Sprintf("%.3f", w.Offset)},
		{"window_duration", fmt.Sprintf("%.3f", w.Duration())},
		{"confident_start", fmt.Sprintf("%.3f", w.StartSubt)},
		{"confident_end", fmt.Sprintf("%.3f", w.EndSubt)},
		{"sample_rate", strconv.Itoa(w.SampleRate)},
	}

	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", field[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryableError reports whether a failed request is worth repeating:
// server errors, rate limiting and network timeouts.
func isRetryableError(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}

// Statistics methods
func (r *HTTPRecognizer) incrementTotalRequests() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalRequests++
}

func (r *HTTPRecognizer) incrementSuccessRequests() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successRequests++
}

func (r *HTTPRecognizer) incrementFailedRequests() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failedRequests++
}

func (r *HTTPRecognizer) incrementTotalRetries() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalRetries++
}

func (r *HTTPRecognizer) updateAvgResponseTime(responseTime time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Simple moving average
	if r.avgResponseTime == 0 {
		r.avgResponseTime = responseTime
	} else {
		r.avgResponseTime = (r.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current recognizer statistics
func (r *HTTPRecognizer) GetStats() HTTPStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	successRate := float64(0)
	if r.totalRequests > 0 {
		successRate = float64(r.successRequests) / float64(r.totalRequests) * 100
	}

	return HTTPStats{
		TotalRequests:   r.totalRequests,
		SuccessRequests: r.successRequests,
		FailedRequests:  r.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    r.totalRetries,
		AvgResponseTime: r.avgResponseTime,
		ActiveRequests:  len(r.semaphore),
	}
}

// httpStream serializes the windows of one session through Transcribe.
type httpStream struct {
	recognizer *HTTPRecognizer
	config     SessionConfig

	ctx    context.Context
	cancel context.CancelFunc

	windows chan *segment.Window
	results chan Result

	sendOnce sync.Once
	sendDone chan struct{}

	closeOnce sync.Once

	mu  sync.Mutex
	err error

	// accepted holds windows taken by Send whose result has not been
	// delivered yet, oldest first
	accepted []*segment.Window
}

func (s *httpStream) Send(ctx context.Context, w *segment.Window) error {
	select {
	case <-s.sendDone:
		return fmt.Errorf("send on half-closed stream: %w", io.ErrClosedPipe)
	default:
	}

	s.mu.Lock()
	s.accepted = append(s.accepted, w)
	s.mu.Unlock()

	var err error
	select {
	case s.windows <- w:
		return nil
	case <-s.sendDone:
		err = fmt.Errorf("send on half-closed stream: %w", io.ErrClosedPipe)
	case <-ctx.Done():
		err = ctx.Err()
	case <-s.ctx.Done():
		err = s.ctx.Err()
	}

	s.mu.Lock()
	s.accepted = s.accepted[:len(s.accepted)-1]
	s.mu.Unlock()
	return err
}

// Unsent returns the windows Send accepted that never produced a result:
// still queued, in flight when the stream was closed, or failed.
func (s *httpStream) Unsent() []*segment.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*segment.Window(nil), s.accepted...)
}

func (s *httpStream) delivered(w *segment.Window) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.accepted {
		if a == w {
			s.accepted = append(s.accepted[:i], s.accepted[i+1:]...)
			return
		}
	}
}

func (s *httpStream) Recv() (Result, error) {
	result, ok := <-s.results
	if !ok {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err != nil {
			return Result{}, s.err
		}
		return Result{}, io.EOF
	}
	return result, nil
}

// CloseSend stops accepting windows; queued windows are still transcribed
// and Recv returns io.EOF after the last result.
func (s *httpStream) CloseSend() error {
	s.sendOnce.Do(func() { close(s.sendDone) })
	return nil
}

func (s *httpStream) Close() error {
	s.closeOnce.Do(func() {
		s.CloseSend()
		s.cancel()
	})
	return nil
}

func (s *httpStream) run() {
	defer close(s.results)

	for {
		var w *segment.Window
		select {
		case w = <-s.windows:
		case <-s.ctx.Done():
			s.fail(s.ctx.Err())
			return
		case <-s.sendDone:
			// flush what was queued before the half-close
			select {
			case w = <-s.windows:
			default:
				return
			}
		}

		resp, err := s.recognizer.Transcribe(s.ctx, s.config, w)
		if err != nil {
			s.fail(err)
			return
		}

		result := Result{
			Text:   resp.Text,
			Words:  resp.Words,
			Final:  true,
			Window: w,
		}
		select {
		case s.results <- result:
			s.delivered(w)
		case <-s.ctx.Done():
			s.fail(s.ctx.Err())
			return
		}
	}
}

func (s *httpStream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
