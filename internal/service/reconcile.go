package service

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"audiobook-feed/internal/domain"
)

// MissPolicy decides what Reconcile returns when the other catalog has no match.
type MissPolicy int

const (
	// KeepUnmatched returns the primary unchanged. Used for catalog A and
	// fallback primaries, where partial data is acceptable.
	KeepUnmatched MissPolicy = iota
	// RequireMatch rejects the primary. Used for catalog B primaries, which
	// are only usable once enriched.
	RequireMatch
)

func (p MissPolicy) String() string {
	if p == RequireMatch {
		return "require_match"
	}
	return "keep_unmatched"
}

// Reconciler matches a record against the other catalog and merges the pair.
type Reconciler struct {
	search *Service
}

// NewReconciler creates a reconciler that looks candidates up through s.
func NewReconciler(s *Service) *Reconciler {
	return &Reconciler{search: s}
}

// Reconcile searches other for primary's title and first author and merges
// the first matching result into primary, primary winning every field it
// has. On a miss the policy decides: KeepUnmatched returns primary,
// RequireMatch reports false.
func (r *Reconciler) Reconcile(ctx context.Context, primary domain.Record, other domain.Catalog, policy MissPolicy) (domain.Record, bool) {
	query := strings.TrimSpace(primary.Title + " " + primary.Authors.First())

	var candidates []domain.Record
	if other != nil && query != "" {
		candidates = r.search.SearchCatalog(ctx, other, query)
	}

	if match, ok := FindMatch(primary, candidates); ok {
		return domain.Merge(primary, match), true
	}

	if policy == RequireMatch {
		return domain.Record{}, false
	}
	return primary, true
}

// FindMatch returns the first candidate that matches primary.
func FindMatch(primary domain.Record, candidates []domain.Record) (domain.Record, bool) {
	title := Normalize(primary.Title)
	author := Normalize(primary.Authors.First())
	if title == "" {
		return domain.Record{}, false
	}

	for _, c := range candidates {
		if Matches(title, author, Normalize(c.Title), Normalize(c.Authors.First())) {
			return c, true
		}
	}
	return domain.Record{}, false
}

// Matches reports whether two normalized title/author pairs describe the same
// work: one title contains the other, or both titles and both first authors
// are equal. Empty titles never match.
func Matches(titleA, authorA, titleB, authorB string) bool {
	if titleA == "" || titleB == "" {
		return false
	}
	if strings.Contains(titleA, titleB) || strings.Contains(titleB, titleA) {
		return true
	}
	return titleA == titleB && authorA == authorB
}

// Normalize lowercases s, strips diacritics and drops everything that is
// not a letter or a digit.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	decomposed, _, err := transform.String(t, s)
	if err != nil {
		decomposed = s
	}

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range strings.ToLower(decomposed) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
