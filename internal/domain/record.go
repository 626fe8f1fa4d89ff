package domain

import (
	"strconv"
	"strings"
)

// Record is the canonical, source-agnostic representation of one audiobook.
type Record struct {
	CatalogAID int64  `json:"catalogIdA,omitempty"`
	CatalogBID string `json:"catalogIdB,omitempty"`

	Title     string    `json:"title"`
	Subtitle  string    `json:"subtitle,omitempty"`
	Authors   StringSet `json:"authors,omitempty"`
	Narrators StringSet `json:"narrators,omitempty"`
	Publisher string    `json:"publisher,omitempty"`
	Genre     string    `json:"genre,omitempty"`
	Genres    StringSet `json:"genres,omitempty"`
	Series    SeriesSet `json:"series,omitempty"`

	CoverURL    string `json:"coverUrl,omitempty"`
	SampleURL   string `json:"sampleUrl,omitempty"`
	PurchaseURL string `json:"purchaseUrl,omitempty"`
	CatalogAURL string `json:"catalogAUrl,omitempty"`

	Description string `json:"description,omitempty"`
	Summary     string `json:"summary,omitempty"`
	ReleaseDate string `json:"releaseDate,omitempty"`
	Language    string `json:"language,omitempty"`
	Region      string `json:"region,omitempty"`
	Explicit    bool   `json:"explicit,omitempty"`
	Source      string `json:"source,omitempty"`

	IsFallback    bool `json:"isFallback,omitempty"`
	IsFromCache   bool `json:"isFromCache,omitempty"`
	IsPlaceholder bool `json:"isPlaceholder,omitempty"`
}

// Key returns the canonical identity string: the catalog B id when present,
// otherwise the catalog A id. Empty when the record has no identity.
func (r Record) Key() string {
	if r.CatalogBID != "" {
		return r.CatalogBID
	}
	if r.CatalogAID != 0 {
		return strconv.FormatInt(r.CatalogAID, 10)
	}
	return ""
}

// Valid reports whether the record carries an identity and a title.
func (r Record) Valid() bool {
	return r.Key() != "" && strings.TrimSpace(r.Title) != ""
}

// Placeholder returns the transient loading stand-in shown while the feed is empty.
func Placeholder() Record {
	return Record{
		Title:         "Loading…",
		IsPlaceholder: true,
	}
}

// Merge combines two records describing the same work. The a side wins every
// scalar it has a value for; sets are unioned with a's items first.
func Merge(a, b Record) Record {
	if a.IsPlaceholder && !b.IsPlaceholder {
		b.IsPlaceholder = false
		return b
	}
	if b.IsPlaceholder && !a.IsPlaceholder {
		a.IsPlaceholder = false
		return a
	}

	catalogAID := a.CatalogAID
	if catalogAID == 0 {
		catalogAID = b.CatalogAID
	}

	return Record{
		CatalogAID: catalogAID,
		CatalogBID: first(a.CatalogBID, b.CatalogBID),

		Title:     first(a.Title, b.Title),
		Subtitle:  first(a.Subtitle, b.Subtitle),
		Authors:   a.Authors.Union(b.Authors),
		Narrators: a.Narrators.Union(b.Narrators),
		Publisher: first(a.Publisher, b.Publisher),
		Genre:     first(a.Genre, b.Genre),
		Genres:    a.Genres.Union(b.Genres),
		Series:    a.Series.Union(b.Series),

		CoverURL:    first(a.CoverURL, b.CoverURL),
		SampleURL:   first(a.SampleURL, b.SampleURL),
		PurchaseURL: first(a.PurchaseURL, b.PurchaseURL),
		CatalogAURL: first(a.CatalogAURL, b.CatalogAURL),

		Description: first(a.Description, b.Description),
		Summary:     first(a.Summary, b.Summary),
		ReleaseDate: first(a.ReleaseDate, b.ReleaseDate),
		Language:    first(a.Language, b.Language),
		Region:      first(a.Region, b.Region),
		Explicit:    a.Explicit || b.Explicit,
		Source:      first(a.Source, b.Source),

		IsFallback:    a.IsFallback && b.IsFallback,
		IsFromCache:   a.IsFromCache || b.IsFromCache,
		IsPlaceholder: a.IsPlaceholder && b.IsPlaceholder,
	}
}

func first(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}
