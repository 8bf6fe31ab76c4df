package caption

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// spacelessBases lists base languages written without spaces between words.
// Their captions are split into normalization segments and joined with "".
var spacelessBases = map[string]bool{
	"ja":  true,
	"zh":  true,
	"yue": true,
	"th":  true,
	"lo":  true,
	"km":  true,
	"my":  true,
	"bo":  true,
}

// Language describes how caption text is cut into tokens and glued back.
type Language struct {
	Tag       language.Tag
	UsesSpace bool
}

// Lookup parses a BCP 47 tag such as "fr-FR" and returns its capabilities.
func Lookup(code string) (Language, error) {
	if strings.TrimSpace(code) == "" {
		return Language{}, fmt.Errorf("language tag cannot be empty")
	}

	tag, err := language.Parse(code)
	if err != nil {
		return Language{}, fmt.Errorf("invalid language tag %q: %w", code, err)
	}
	if tag == language.Und {
		return Language{}, fmt.Errorf("undetermined language tag %q", code)
	}

	base, _ := tag.Base()
	return Language{
		Tag:       tag,
		UsesSpace: !spacelessBases[base.String()],
	}, nil
}

// MustLookup is like Lookup but panics on error. Intended for tests and
// package-level defaults.
func MustLookup(code string) Language {
	lang, err := Lookup(code)
	if err != nil {
		panic(err)
	}
	return lang
}

// Code returns the canonical tag string, e.g. "fr-FR".
func (l Language) Code() string {
	return l.Tag.String()
}

// Base returns the base language subtag, e.g. "fr".
func (l Language) Base() string {
	base, _ := l.Tag.Base()
	return base.String()
}

// Split cuts text into caption tokens: words for space-separated scripts,
// normalization segments (base + combining marks) otherwise. Segments
// approximate grapheme clusters; a spacing vowel starts its own segment.
func (l Language) Split(text string) []string {
	if l.UsesSpace {
		return strings.Fields(text)
	}

	var tokens []string
	var it norm.Iter
	it.InitString(norm.NFC, text)
	for !it.Done() {
		seg := string(it.Next())
		if strings.TrimFunc(seg, unicode.IsSpace) == "" {
			continue
		}
		tokens = append(tokens, seg)
	}
	return tokens
}

// Join glues tokens back into display text.
func (l Language) Join(tokens []string) string {
	if l.UsesSpace {
		return strings.Join(tokens, " ")
	}
	return strings.Join(tokens, "")
}
