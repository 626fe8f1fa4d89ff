package store

import (
	"math/rand/v2"
	"strings"
	"time"
)

// Tier names, in preference order.
const (
	TierGenreLanguage = "genre_language"
	TierGenre         = "genre"
	TierLanguage      = "language"
	TierAny           = "any"
)

// Partition names.
const (
	PartitionFresh  = "fresh"
	PartitionReused = "reused"
)

// candidate is the selection view of a row.
type candidate struct {
	id         string
	genre      string
	lastUsedAt *time.Time
	languages  map[string]LanguageIDs
}

func (c candidate) hasLanguage(lang string) bool {
	_, ok := c.languages[lang]
	return ok
}

func (c candidate) inGenres(genres []string) bool {
	g := strings.ToLower(strings.TrimSpace(c.genre))
	if g == "" {
		return false
	}
	for _, want := range genres {
		if strings.ToLower(strings.TrimSpace(want)) == g {
			return true
		}
	}
	return false
}

type tier struct {
	name  string
	match func(candidate) bool
}

func tiers(lang string, genres []string) []tier {
	return []tier{
		{TierGenreLanguage, func(c candidate) bool { return c.inGenres(genres) && c.hasLanguage(lang) }},
		{TierGenre, func(c candidate) bool { return c.inGenres(genres) }},
		{TierLanguage, func(c candidate) bool { return c.hasLanguage(lang) }},
		{TierAny, func(candidate) bool { return true }},
	}
}

// choose picks one candidate from a partition. The first non-empty tier
// wins; within it, reused entries go least recently used first and fresh
// entries prefer one with a mapping for lang, otherwise a random one.
// Candidates must be ordered by creation time.
func choose(cands []candidate, lang string, genres []string, reused bool, rnd *rand.Rand) (candidate, string, bool) {
	for _, t := range tiers(lang, genres) {
		var pool []candidate
		for _, c := range cands {
			if t.match(c) {
				pool = append(pool, c)
			}
		}
		if len(pool) == 0 {
			continue
		}
		if reused {
			return leastRecentlyUsed(pool), t.name, true
		}
		for _, c := range pool {
			if c.hasLanguage(lang) {
				return c, t.name, true
			}
		}
		return pool[rnd.IntN(len(pool))], t.name, true
	}
	return candidate{}, "", false
}

// leastRecentlyUsed returns the entry with the oldest last use; never-used
// entries come first and ties keep creation order.
func leastRecentlyUsed(pool []candidate) candidate {
	best := pool[0]
	for _, c := range pool[1:] {
		switch {
		case best.lastUsedAt == nil:
			return best
		case c.lastUsedAt == nil:
			best = c
		case c.lastUsedAt.Before(*best.lastUsedAt):
			best = c
		}
	}
	return best
}
