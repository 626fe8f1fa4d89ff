package domain

import "strings"

type language struct {
	tag   string   // ISO 639-1
	words []string // names used by the catalogs
}

var languages = []language{
	{"en", []string{"english", "eng"}},
	{"fr", []string{"french", "français", "francais", "fra", "fre"}},
	{"de", []string{"german", "deutsch", "deu", "ger"}},
	{"es", []string{"spanish", "español", "espanol", "spa"}},
	{"it", []string{"italian", "italiano", "ita"}},
	{"pt", []string{"portuguese", "português", "portugues", "por"}},
	{"ru", []string{"russian", "rus"}},
	{"ko", []string{"korean", "kor"}},
	{"ja", []string{"japanese", "jpn"}},
	{"zh", []string{"chinese", "mandarin", "zho", "chi"}},
	{"hi", []string{"hindi", "hin"}},
}

var countryLanguages = map[string]string{
	"us": "en",
	"uk": "en",
	"gb": "en",
	"au": "en",
	"ca": "en",
	"fr": "fr",
	"de": "de",
	"es": "es",
	"it": "it",
	"kr": "ko",
	"jp": "ja",
	"cn": "zh",
	"in": "hi",
	"br": "pt",
	"ru": "ru",
}

var byWord map[string]string

func init() {
	byWord = make(map[string]string)
	for _, l := range languages {
		byWord[l.tag] = l.tag
		for _, w := range l.words {
			byWord[w] = l.tag
		}
	}
}

// NormalizeLanguage maps a tag, ISO 639-2 code or language name to a
// two-letter tag. Unknown values yield "".
func NormalizeLanguage(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	if i := strings.IndexAny(value, "-_"); i > 0 {
		value = value[:i]
	}
	return byWord[value]
}

// LanguageForCountry returns the default language of a country, "en" when unknown.
func LanguageForCountry(country string) string {
	if tag, ok := countryLanguages[strings.ToLower(strings.TrimSpace(country))]; ok {
		return tag
	}
	return "en"
}

// DetectLanguage returns the language tag of a record, or fallback when the
// record does not declare a recognizable one.
func DetectLanguage(r Record, fallback string) string {
	if tag := NormalizeLanguage(r.Language); tag != "" {
		return tag
	}
	return fallback
}
