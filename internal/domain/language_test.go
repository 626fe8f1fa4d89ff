package domain

import "testing"

func TestNormalizeLanguage(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"english", "en"},
		{"English", "en"},
		{"de-DE", "de"},
		{"ger", "de"},
		{"Français", "fr"},
		{"klingon", ""},
		{"", ""},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			if got := NormalizeLanguage(tc.input); got != tc.want {
				t.Errorf("NormalizeLanguage(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestFeedOptions_LanguageTag(t *testing.T) {
	if got := (FeedOptions{Country: "JP"}).LanguageTag(); got != "ja" {
		t.Errorf("expected language derived from country, got %q", got)
	}
	if got := (FeedOptions{Country: "jp", Language: "english"}).LanguageTag(); got != "en" {
		t.Errorf("expected explicit language to win, got %q", got)
	}
	if got := (FeedOptions{}).CountryCode(); got != "us" {
		t.Errorf("expected default country 'us', got %q", got)
	}
}

func TestDetectLanguage(t *testing.T) {
	if got := DetectLanguage(Record{Language: "german"}, "en"); got != "de" {
		t.Errorf("expected 'de', got %q", got)
	}
	if got := DetectLanguage(Record{}, "fr"); got != "fr" {
		t.Errorf("expected fallback 'fr', got %q", got)
	}
}
