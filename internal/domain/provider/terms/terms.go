// Package terms supplies the random search terms used to sample the catalogs.
package terms

import (
	"embed"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"audiobook-feed/internal/domain"
)

//go:embed wordlists/*.json
var wordlists embed.FS

const defaultLanguage = "en"

var lists = mustLoad()

func mustLoad() map[string][]string {
	entries, err := wordlists.ReadDir("wordlists")
	if err != nil {
		panic(err)
	}
	out := make(map[string][]string, len(entries))
	for _, e := range entries {
		lang := strings.TrimSuffix(e.Name(), ".json")
		data, err := wordlists.ReadFile("wordlists/" + e.Name())
		if err != nil {
			panic(err)
		}
		var words []string
		if err := json.Unmarshal(data, &words); err != nil {
			panic(fmt.Sprintf("decode word list %q: %v", lang, err))
		}
		if len(words) > 0 {
			out[lang] = words
		}
	}
	if len(out[defaultLanguage]) == 0 {
		panic("missing default word list")
	}
	return out
}

// Words returns the searchable word list for a language tag, falling back to
// English when the language has no list.
func Words(lang string) []string {
	if words, ok := lists[domain.NormalizeLanguage(lang)]; ok {
		return words
	}
	return lists[defaultLanguage]
}

// Languages reports the tags that have a word list.
func Languages() []string {
	out := make([]string, 0, len(lists))
	for lang := range lists {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// Pick returns the explicit term or author hint of opts when present,
// otherwise a random word in the requested language.
func Pick(opts domain.SearchOptions, rnd *rand.Rand) string {
	if t := strings.TrimSpace(opts.Term); t != "" {
		return t
	}
	if a := strings.TrimSpace(opts.AuthorHint); a != "" {
		return a
	}
	words := Words(opts.Language)
	return words[intn(rnd, len(words))]
}

// Prune shortens a search term that produced no results. Terms of three or
// more runes lose their first and last rune; two-rune terms keep one of
// them at random; shorter terms are returned unchanged.
func Prune(term string, rnd *rand.Rand) string {
	r := []rune(term)
	switch {
	case len(r) >= 3:
		return string(r[1 : len(r)-1])
	case len(r) == 2:
		return string(r[intn(rnd, 2)])
	default:
		return term
	}
}

func intn(rnd *rand.Rand, n int) int {
	if rnd == nil {
		return rand.IntN(n)
	}
	return rnd.IntN(n)
}
