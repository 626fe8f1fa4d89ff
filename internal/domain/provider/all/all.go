// Package all aggregates several catalogs behind one domain.Catalog.
package all

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"audiobook-feed/internal/domain"
)

// Catalog fans requests out to its members concurrently.
type Catalog struct {
	catalogs []domain.Catalog
}

// NewCatalog creates an aggregating catalog over the given members.
func NewCatalog(catalogs ...domain.Catalog) *Catalog {
	return &Catalog{
		catalogs: catalogs,
	}
}

// ID returns the unique identifier for this catalog.
func (c *Catalog) ID() string {
	return "all"
}

// Search queries every available member in parallel and returns the
// matches in member order, duplicates by canonical key removed.
func (c *Catalog) Search(ctx context.Context, query string) []domain.Record {
	slog.Info("Starting aggregated search", "query", query, "catalogs_count", len(c.catalogs))

	results := make([][]domain.Record, len(c.catalogs))
	g, ctx := errgroup.WithContext(ctx)
	for i, cat := range c.catalogs {
		if !cat.Available() {
			continue
		}
		g.Go(func() error {
			results[i] = cat.Search(ctx, query)
			return nil
		})
	}
	_ = g.Wait()

	return flatten(results)
}

// FetchBatch asks every available member for a batch and concatenates them.
func (c *Catalog) FetchBatch(ctx context.Context, opts domain.SearchOptions) []domain.Record {
	results := make([][]domain.Record, len(c.catalogs))
	var g errgroup.Group
	for i, cat := range c.catalogs {
		if !cat.Available() {
			continue
		}
		g.Go(func() error {
			results[i] = cat.FetchBatch(ctx, opts)
			return nil
		})
	}
	_ = g.Wait()

	return flatten(results)
}

// FetchByID returns the first member's resolution of id.
func (c *Catalog) FetchByID(ctx context.Context, id string) *domain.Record {
	for _, cat := range c.catalogs {
		if r := cat.FetchByID(ctx, id); r != nil {
			return r
		}
	}
	return nil
}

// Available reports whether any member is available.
func (c *Catalog) Available() bool {
	for _, cat := range c.catalogs {
		if cat.Available() {
			return true
		}
	}
	return false
}

// CacheTTL returns the duration for which results should be cached.
func (c *Catalog) CacheTTL() time.Duration {
	return 1 * time.Hour
}

func flatten(results [][]domain.Record) []domain.Record {
	var out []domain.Record
	seen := make(map[string]bool)
	for _, rs := range results {
		for _, r := range rs {
			key := r.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, r)
		}
	}
	return out
}
