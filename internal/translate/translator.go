package translate

import (
	"context"

	"github.com/Koot5958/translation-live/internal/caption"
)

// Translator translates one text. Calls may overlap; the worker discards
// results whose input is no longer current.
type Translator interface {
	Translate(ctx context.Context, text string, source, target caption.Language) (string, error)
}

// TranslatorFunc adapts a function to the Translator interface.
type TranslatorFunc func(ctx context.Context, text string, source, target caption.Language) (string, error)

func (f TranslatorFunc) Translate(ctx context.Context, text string, source, target caption.Language) (string, error) {
	return f(ctx, text, source, target)
}
