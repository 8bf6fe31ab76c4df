package caption

import (
	"reflect"
	"testing"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		code      string
		wantBase  string
		wantSpace bool
	}{
		{"fr-FR", "fr", true},
		{"en-US", "en", true},
		{"ja-JP", "ja", false},
		{"zh-Hans", "zh", false},
		{"th", "th", false},
		{"de", "de", true},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			lang, err := Lookup(tt.code)
			if err != nil {
				t.Fatalf("Lookup(%q) failed: %v", tt.code, err)
			}
			if lang.Base() != tt.wantBase {
				t.Errorf("Expected base %q, got %q", tt.wantBase, lang.Base())
			}
			if lang.UsesSpace != tt.wantSpace {
				t.Errorf("Expected UsesSpace=%v, got %v", tt.wantSpace, lang.UsesSpace)
			}
		})
	}
}

func TestLookupInvalid(t *testing.T) {
	for _, code := range []string{"", "   ", "not a tag!", "und"} {
		if _, err := Lookup(code); err == nil {
			t.Errorf("Expected error for %q", code)
		}
	}
}

func TestSplitJoinSpaced(t *testing.T) {
	lang := MustLookup("fr-FR")

	tokens := lang.Split("  bonjour   tout le  monde ")
	want := []string{"bonjour", "tout", "le", "monde"}
	if !reflect.DeepEqual(tokens, want) {
		t.Errorf("Split() = %q, want %q", tokens, want)
	}
	if got := lang.Join(tokens); got != "bonjour tout le monde" {
		t.Errorf("Join() = %q", got)
	}
	if got := lang.Split(""); len(got) != 0 {
		t.Errorf("Expected no tokens for empty text, got %q", got)
	}
}

func TestSplitJoinSpaceless(t *testing.T) {
	lang := MustLookup("ja-JP")

	tokens := lang.Split("こんにちは 世界")
	if len(tokens) != 7 {
		t.Fatalf("Expected 7 tokens, got %d: %q", len(tokens), tokens)
	}
	if got := lang.Join(tokens); got != "こんにちは世界" {
		t.Errorf("Join() = %q", got)
	}

	// a base letter and its combining mark stay together
	clusters := MustLookup("th").Split("e\u0301a")
	if len(clusters) != 2 {
		t.Errorf("Expected 2 clusters, got %d: %q", len(clusters), clusters)
	}
}

func TestSplitNormalizationSegments(t *testing.T) {
	tests := []struct {
		name string
		lang string
		text string
		want []string
	}{
		{"decomposed kana composes", "ja", "\u304b\u3099", []string{"\u304c"}},
		{"tone mark stays on its consonant", "th", "\u0e01\u0e48\u0e32", []string{"\u0e01\u0e48", "\u0e32"}},
		{"spacing vowel is its own segment", "th", "\u0e01\u0e33", []string{"\u0e01", "\u0e33"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MustLookup(tt.lang).Split(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Split(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}
