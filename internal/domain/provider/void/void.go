// Package void provides a catalog that never returns anything. It stands in
// for a catalog disabled in configuration.
package void

import (
	"context"
	"time"

	"audiobook-feed/internal/domain"
)

// Catalog is a no-op domain.Catalog.
type Catalog struct {
	id string
}

// NewCatalog creates a void catalog reporting the given id, "void" when empty.
func NewCatalog(id string) *Catalog {
	if id == "" {
		id = "void"
	}
	return &Catalog{id: id}
}

// ID returns the unique identifier for this catalog.
func (c *Catalog) ID() string {
	return c.id
}

// FetchBatch returns no candidates.
func (c *Catalog) FetchBatch(_ context.Context, _ domain.SearchOptions) []domain.Record {
	return nil
}

// Search returns no matches.
func (c *Catalog) Search(_ context.Context, _ string) []domain.Record {
	return []domain.Record{}
}

// FetchByID resolves nothing.
func (c *Catalog) FetchByID(_ context.Context, _ string) *domain.Record {
	return nil
}

// Available reports false so callers treat the catalog as down.
func (c *Catalog) Available() bool {
	return false
}

// CacheTTL returns the duration for which results should be cached.
func (c *Catalog) CacheTTL() time.Duration {
	return 24 * time.Hour
}
