package domain

import (
	"context"
	"strings"
	"time"
)

// SearchResponse represents the top-level JSON response of the search endpoints.
type SearchResponse struct {
	Matches []Record `json:"matches"`
}

// Catalog defines the contract shared by every external audiobook catalog.
// Implementations fail soft: network and parse errors are absorbed at the
// catalog boundary and surface only as empty results.
type Catalog interface {
	// ID returns the unique identifier of the catalog (e.g., "itunes").
	ID() string

	// FetchBatch returns a batch of random playable candidates.
	FetchBatch(ctx context.Context, opts SearchOptions) []Record

	// Search runs a keyword search, used for reconciliation lookups.
	Search(ctx context.Context, query string) []Record

	// FetchByID resolves a single record by the catalog's own identifier.
	FetchByID(ctx context.Context, id string) *Record

	// Available reports whether the catalog's circuit breaker is closed.
	Available() bool

	// CacheTTL returns the duration for which search results may be cached.
	CacheTTL() time.Duration
}

// SearchOptions narrows a random batch request.
type SearchOptions struct {
	Term          string
	AuthorHint    string
	Genres        []string
	Language      string
	Country       string
	AllowExplicit bool
	AllowFallback bool
}

// FeedOptions are the user-facing options supplied by the options collaborator.
type FeedOptions struct {
	EnabledGenres        []string `json:"enabledGenres,omitempty"`
	AllowExplicit        bool     `json:"allowExplicit"`
	AllowFallback        bool     `json:"allowFallback"`
	MustHavePurchaseLink bool     `json:"mustHavePurchaseLink"`
	PreloadAhead         int      `json:"preloadAhead"`
	Language             string   `json:"language,omitempty"`
	Country              string   `json:"country,omitempty"`

	// Exclude lists canonical keys the caller already holds. It is set by
	// the buffer per call and never read from requests.
	Exclude []string `json:"-"`
}

// SearchOptions derives the catalog request options.
func (o FeedOptions) SearchOptions() SearchOptions {
	return SearchOptions{
		Genres:        o.EnabledGenres,
		Language:      o.LanguageTag(),
		Country:       o.CountryCode(),
		AllowExplicit: o.AllowExplicit,
		AllowFallback: o.AllowFallback,
	}
}

// CountryCode returns the lowercase country, defaulting to "us".
func (o FeedOptions) CountryCode() string {
	c := strings.ToLower(strings.TrimSpace(o.Country))
	if c == "" {
		return "us"
	}
	return c
}

// LanguageTag returns the preferred language, derived from the country when unset.
func (o FeedOptions) LanguageTag() string {
	if tag := NormalizeLanguage(o.Language); tag != "" {
		return tag
	}
	return LanguageForCountry(o.CountryCode())
}
