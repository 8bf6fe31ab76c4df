package translate

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"

	translatepb "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/translate/v2"

	"github.com/Koot5958/translation-live/internal/caption"
	"github.com/Koot5958/translation-live/internal/yandex"
)

// DefaultYandexEndpoint is the Translate v2 gRPC endpoint.
const DefaultYandexEndpoint = "translate.api.cloud.yandex.net:443"

// YandexConfig contains Yandex Translate settings
type YandexConfig struct {
	Endpoint    string
	Credentials yandex.Credentials
}

// YandexTranslator translates plain text with Yandex Translate v2.
type YandexTranslator struct {
	client translatepb.TranslationServiceClient
	conn   *grpc.ClientConn
	config YandexConfig
	logger *slog.Logger
}

// NewYandexTranslator dials the Translate endpoint.
func NewYandexTranslator(config YandexConfig, logger *slog.Logger) (*YandexTranslator, error) {
	if err := config.Credentials.Validate(); err != nil {
		return nil, err
	}
	if config.Endpoint == "" {
		config.Endpoint = DefaultYandexEndpoint
	}

	conn, err := yandex.Dial(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("yandex translate: %w", err)
	}

	return newYandexTranslator(translatepb.NewTranslationServiceClient(conn), conn, config, logger), nil
}

func newYandexTranslator(client translatepb.TranslationServiceClient, conn *grpc.ClientConn, config YandexConfig, logger *slog.Logger) *YandexTranslator {
	if logger == nil {
		logger = slog.Default()
	}
	return &YandexTranslator{
		client: client,
		conn:   conn,
		config: config,
		logger: logger.With(slog.String("component", "yandex_translator")),
	}
}

// Translate implements Translator.
func (y *YandexTranslator) Translate(ctx context.Context, text string, source, target caption.Language) (string, error) {
	resp, err := y.client.Translate(y.config.Credentials.Outgoing(ctx), &translatepb.TranslateRequest{
		SourceLanguageCode: source.Base(),
		TargetLanguageCode: target.Base(),
		Format:             translatepb.TranslateRequest_PLAIN_TEXT,
		Texts:              []string{text},
		FolderId:           y.config.Credentials.FolderID,
	})
	if err != nil {
		return "", fmt.Errorf("translate request failed: %w", err)
	}

	translations := resp.GetTranslations()
	if len(translations) == 0 {
		return "", fmt.Errorf("translate response has no translations")
	}
	return translations[0].GetText(), nil
}

// Close closes the gRPC connection.
func (y *YandexTranslator) Close() error {
	if y.conn == nil {
		return nil
	}
	return y.conn.Close()
}
