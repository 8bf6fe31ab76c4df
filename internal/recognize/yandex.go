package recognize

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/grpc"

	speechkit "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/stt/v3"

	"github.com/Koot5958/translation-live/internal/audio"
	"github.com/Koot5958/translation-live/internal/segment"
	"github.com/Koot5958/translation-live/internal/yandex"
)

const (
	// DefaultYandexSTTEndpoint is the SpeechKit v3 gRPC endpoint.
	DefaultYandexSTTEndpoint = "stt.api.cloud.yandex.net:443"

	// primerDuration of silence is sent before the first audio of a
	// session; some recognizers drop the first syllable otherwise.
	primerDuration = 0.2
)

// YandexConfig contains SpeechKit credentials and model options
type YandexConfig struct {
	Endpoint        string
	Credentials     yandex.Credentials
	Model           string
	ProfanityFilter bool
}

// YandexRecognizer streams audio to SpeechKit STT v3.
type YandexRecognizer struct {
	client speechkit.RecognizerClient
	conn   *grpc.ClientConn
	config YandexConfig
	logger *slog.Logger
}

// NewYandexRecognizer dials the SpeechKit endpoint. Either an IAM token or an
// API key is required.
func NewYandexRecognizer(config YandexConfig, logger *slog.Logger) (*YandexRecognizer, error) {
	if err := config.Credentials.Validate(); err != nil {
		return nil, err
	}
	if config.Endpoint == "" {
		config.Endpoint = DefaultYandexSTTEndpoint
	}

	conn, err := yandex.Dial(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("yandex stt: %w", err)
	}

	return newYandexRecognizer(speechkit.NewRecognizerClient(conn), conn, config, logger), nil
}

func newYandexRecognizer(client speechkit.RecognizerClient, conn *grpc.ClientConn, config YandexConfig, logger *slog.Logger) *YandexRecognizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &YandexRecognizer{
		client: client,
		conn:   conn,
		config: config,
		logger: logger.With(slog.String("component", "yandex_recognizer")),
	}
}

// Close closes the gRPC connection.
func (y *YandexRecognizer) Close() error {
	if y.conn == nil {
		return nil
	}
	return y.conn.Close()
}

// Open starts a RecognizeStreaming call and sends the session options.
func (y *YandexRecognizer) Open(ctx context.Context, cfg SessionConfig) (Stream, error) {
	streamCtx, cancel := context.WithCancel(y.config.Credentials.Outgoing(ctx))

	stream, err := y.client.RecognizeStreaming(streamCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create streaming client: %w", err)
	}

	if err := stream.Send(y.sessionOptions(cfg)); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to send session options: %w", err)
	}

	y.logger.Debug("SpeechKit stream opened",
		slog.String("session_id", cfg.ID),
		slog.String("language", cfg.Language.Code()))

	return &yandexStream{
		stream:     stream,
		cancel:     cancel,
		sampleRate: cfg.SampleRate,
	}, nil
}

func (y *YandexRecognizer) sessionOptions(cfg SessionConfig) *speechkit.StreamingRequest {
	model := &speechkit.RecognitionModelOptions{
		AudioFormat: &speechkit.AudioFormatOptions{
			AudioFormat: &speechkit.AudioFormatOptions_RawAudio{
				RawAudio: &speechkit.RawAudio{
					AudioEncoding:     speechkit.RawAudio_LINEAR16_PCM,
					SampleRateHertz:   int64(cfg.SampleRate),
					AudioChannelCount: 1,
				},
			},
		},
		TextNormalization: &speechkit.TextNormalizationOptions{
			TextNormalization: speechkit.TextNormalizationOptions_TEXT_NORMALIZATION_ENABLED,
			ProfanityFilter:   y.config.ProfanityFilter,
			LiteratureText:    false,
		},
		LanguageRestriction: &speechkit.LanguageRestrictionOptions{
			RestrictionType: speechkit.LanguageRestrictionOptions_WHITELIST,
			LanguageCode:    []string{cfg.Language.Code()},
		},
		AudioProcessingType: speechkit.RecognitionModelOptions_REAL_TIME,
	}
	if y.config.Model != "" {
		model.Model = y.config.Model
	}

	return &speechkit.StreamingRequest{
		Event: &speechkit.StreamingRequest_SessionOptions{
			SessionOptions: &speechkit.StreamingOptions{
				RecognitionModel: model,
			},
		},
	}
}

// sttStream is the part of the generated bidi stream client that is used.
type sttStream interface {
	Send(*speechkit.StreamingRequest) error
	Recv() (*speechkit.StreamingResponse, error)
	CloseSend() error
}

type yandexStream struct {
	stream     sttStream
	cancel     context.CancelFunc
	sampleRate int

	// Send is only called from one goroutine; primed needs no lock
	primed bool

	closeOnce sync.Once
}

// Send streams the part of the window no earlier window contained. Each
// request carries at most audio.MaxRequestBytes of PCM. Once the first
// chunk is out the rest of the window follows even if ctx ends, so the
// stream never holds half a window.
func (s *yandexStream) Send(ctx context.Context, w *segment.Window) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	pcm := audio.FloatToPCM16(w.Fresh)
	if !s.primed {
		silence := make([]byte, int(primerDuration*float64(s.sampleRate))*2)
		pcm = append(silence, pcm...)
		s.primed = true
	}

	for _, chunk := range audio.SplitBytes(pcm, audio.MaxRequestBytes) {
		req := &speechkit.StreamingRequest{
			Event: &speechkit.StreamingRequest_Chunk{
				Chunk: &speechkit.AudioChunk{Data: chunk},
			},
		}
		if err := s.stream.Send(req); err != nil {
			return fmt.Errorf("failed to send audio chunk: %w", err)
		}
	}
	return nil
}

// Recv returns the next partial or final hypothesis. Other events
// (end of utterance, refinements, status) are skipped.
func (s *yandexStream) Recv() (Result, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			return Result{}, err
		}

		if update := resp.GetFinal(); update != nil {
			if result, ok := resultFromAlternatives(update.GetAlternatives(), true); ok {
				return result, nil
			}
			continue
		}
		if update := resp.GetPartial(); update != nil {
			if result, ok := resultFromAlternatives(update.GetAlternatives(), false); ok {
				return result, nil
			}
		}
	}
}

func resultFromAlternatives(alternatives []*speechkit.Alternative, final bool) (Result, bool) {
	if len(alternatives) == 0 {
		return Result{}, false
	}
	best := alternatives[0]

	words := make([]Word, 0, len(best.GetWords()))
	for _, w := range best.GetWords() {
		words = append(words, Word{
			Text:  w.GetText(),
			Start: float64(w.GetStartTimeMs()) / 1000,
			End:   float64(w.GetEndTimeMs()) / 1000,
		})
	}

	// an empty final still closes the utterance
	if best.GetText() == "" && !final {
		return Result{}, false
	}
	return Result{Text: best.GetText(), Words: words, Final: final}, true
}

// CloseSend half-closes the call so the server flushes its last results.
func (s *yandexStream) CloseSend() error {
	return s.stream.CloseSend()
}

func (s *yandexStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.stream.CloseSend()
		s.cancel()
	})
	return err
}
