package translate

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	translatepb "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/translate/v2"

	"github.com/Koot5958/translation-live/internal/caption"
	"github.com/Koot5958/translation-live/internal/yandex"
)

// fakeTranslationClient implements only Translate; other methods panic.
type fakeTranslationClient struct {
	translatepb.TranslationServiceClient

	request  *translatepb.TranslateRequest
	metadata metadata.MD
	response *translatepb.TranslateResponse
	err      error
}

func (f *fakeTranslationClient) Translate(ctx context.Context, in *translatepb.TranslateRequest, opts ...grpc.CallOption) (*translatepb.TranslateResponse, error) {
	f.request = in
	f.metadata, _ = metadata.FromOutgoingContext(ctx)
	return f.response, f.err
}

func TestYandexTranslator(t *testing.T) {
	fake := &fakeTranslationClient{
		response: &translatepb.TranslateResponse{
			Translations: []*translatepb.TranslatedText{{Text: "hello everyone"}},
		},
	}
	tr := newYandexTranslator(fake, nil, YandexConfig{
		Credentials: yandex.Credentials{APIKey: "key", FolderID: "folder"},
	}, nil)

	got, err := tr.Translate(context.Background(), "bonjour à tous",
		caption.MustLookup("fr-FR"), caption.MustLookup("en-US"))
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if got != "hello everyone" {
		t.Errorf("Expected translated text, got %q", got)
	}

	req := fake.request
	if req.GetSourceLanguageCode() != "fr" || req.GetTargetLanguageCode() != "en" {
		t.Errorf("Unexpected languages %q -> %q", req.GetSourceLanguageCode(), req.GetTargetLanguageCode())
	}
	if req.GetFormat() != translatepb.TranslateRequest_PLAIN_TEXT {
		t.Errorf("Expected plain text format, got %v", req.GetFormat())
	}
	if len(req.GetTexts()) != 1 || req.GetTexts()[0] != "bonjour à tous" {
		t.Errorf("Unexpected texts %v", req.GetTexts())
	}
	if req.GetFolderId() != "folder" {
		t.Errorf("Expected folder id, got %q", req.GetFolderId())
	}
	if auth := fake.metadata.Get("authorization"); len(auth) != 1 || auth[0] != "Api-Key key" {
		t.Errorf("Expected API key authorization, got %v", auth)
	}

	if err := tr.Close(); err != nil {
		t.Errorf("Close without connection failed: %v", err)
	}
}

func TestYandexTranslatorErrors(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeTranslationClient
	}{
		{"call error", &fakeTranslationClient{err: errors.New("unavailable")}},
		{"empty response", &fakeTranslationClient{response: &translatepb.TranslateResponse{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newYandexTranslator(tt.fake, nil, YandexConfig{
				Credentials: yandex.Credentials{IAMToken: "token"},
			}, nil)
			if _, err := tr.Translate(context.Background(), "text",
				caption.MustLookup("fr"), caption.MustLookup("en")); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestNewYandexTranslatorRequiresCredentials(t *testing.T) {
	if _, err := NewYandexTranslator(YandexConfig{}, nil); err == nil {
		t.Error("Expected error without credentials")
	}
}
