// Package fallback bundles the static dataset served when both catalogs come
// up empty and used to seed an empty overflow cache.
package fallback

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"audiobook-feed/internal/domain"
)

// Source is the Record.Source of every fallback record.
const Source = "fallback"

//go:embed books.json
var bundled []byte

// Dataset is an immutable set of records keyed by genre.
type Dataset struct {
	byGenre map[string][]domain.Record
	genres  []string
}

// Load parses the bundled dataset.
func Load() (*Dataset, error) {
	return Parse(bundled)
}

// Parse builds a dataset from a JSON object mapping genre names to record
// arrays. Records without identity or title are dropped.
func Parse(data []byte) (*Dataset, error) {
	var raw map[string][]domain.Record
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode fallback dataset: %w", err)
	}

	d := &Dataset{byGenre: make(map[string][]domain.Record, len(raw))}
	for genre, records := range raw {
		kept := make([]domain.Record, 0, len(records))
		for _, r := range records {
			if !r.Valid() {
				slog.Warn("Skipping invalid fallback record", "genre", genre, "title", r.Title)
				continue
			}
			if r.Genre == "" {
				r.Genre = genre
			}
			r.Genres = r.Genres.Union(domain.NewStringSet(genre))
			r.IsFallback = true
			r.Source = Source
			kept = append(kept, r)
		}
		if len(kept) > 0 {
			key := normalizeGenre(genre)
			if _, seen := d.byGenre[key]; !seen {
				d.genres = append(d.genres, genre)
			}
			d.byGenre[key] = append(d.byGenre[key], kept...)
		}
	}
	sort.Strings(d.genres)
	return d, nil
}

// Genres lists the genres that have at least one record.
func (d *Dataset) Genres() []string {
	return append([]string(nil), d.genres...)
}

// Batch returns the records of the requested genres, or of every genre when
// none is requested or none of the requested genres is known. Purchase links
// are filled in for the requested country.
func (d *Dataset) Batch(opts domain.SearchOptions) []domain.Record {
	var out []domain.Record
	for _, g := range opts.Genres {
		out = append(out, d.byGenre[normalizeGenre(g)]...)
	}
	if len(out) == 0 {
		out = d.All()
	} else {
		out = append([]domain.Record(nil), out...)
	}

	for i := range out {
		if out[i].PurchaseURL == "" {
			out[i].PurchaseURL = domain.PurchaseLink(out[i].CatalogBID, opts.Country, "")
		}
	}
	return out
}

// All returns every record, ordered by genre.
func (d *Dataset) All() []domain.Record {
	var out []domain.Record
	for _, g := range d.genres {
		out = append(out, d.byGenre[normalizeGenre(g)]...)
	}
	return out
}

func normalizeGenre(g string) string {
	return strings.ToLower(strings.TrimSpace(g))
}
