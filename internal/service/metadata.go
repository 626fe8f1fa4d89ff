package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"audiobook-feed/internal/domain"
	"audiobook-feed/internal/domain/cache"
)

// Service runs catalog keyword searches with result caching. Concurrent
// identical searches share a single catalog request.
type Service struct {
	catalogs []domain.Catalog
	cache    *cache.MemoryCache
	group    singleflight.Group
}

// NewService creates a new search service over the given catalogs.
func NewService(catalogs ...domain.Catalog) *Service {
	return &Service{
		catalogs: catalogs,
		cache:    cache.NewMemoryCache(1 * time.Hour),
	}
}

// Catalogs returns the list of registered catalogs.
func (s *Service) Catalogs() []domain.Catalog {
	return s.catalogs
}

// Search queries all registered catalogs and returns aggregated results,
// deduplicated by canonical key.
func (s *Service) Search(ctx context.Context, query string) *domain.SearchResponse {
	var allMatches []domain.Record
	for _, c := range s.catalogs {
		allMatches = append(allMatches, s.SearchCatalog(ctx, c, query)...)
	}
	return &domain.SearchResponse{Matches: dedupe(allMatches)}
}

// SearchByCatalogID queries a specific catalog by its ID.
func (s *Service) SearchByCatalogID(ctx context.Context, catalogID, query string) (*domain.SearchResponse, error) {
	c := s.getCatalog(catalogID)
	if c == nil {
		return nil, fmt.Errorf("catalog not found: %s", catalogID)
	}
	return &domain.SearchResponse{Matches: s.SearchCatalog(ctx, c, query)}, nil
}

// getCatalog helper to find a catalog by ID.
func (s *Service) getCatalog(id string) domain.Catalog {
	for _, c := range s.catalogs {
		if c.ID() == id {
			return c
		}
	}
	return nil
}

// SearchCatalog searches one catalog through the cache. Results are cached
// only while the catalog is healthy, so an outage never pins an empty answer.
// The shared request runs detached from any single caller's cancellation; a
// caller that gives up gets nil and the request still completes for the rest.
func (s *Service) SearchCatalog(ctx context.Context, c domain.Catalog, query string) []domain.Record {
	cacheKey := c.ID() + ":" + query

	if data, ok := s.cache.Get(cacheKey); ok {
		return data
	}

	ch := s.group.DoChan(cacheKey, func() (any, error) {
		searchCtx := context.WithoutCancel(ctx)
		matches := c.Search(searchCtx, query)
		if c.Available() {
			ttl := c.CacheTTL()
			if ttl == 0 {
				ttl = 1 * time.Hour
			}
			s.cache.Put(cacheKey, matches, ttl)
		}
		return matches, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			slog.Debug("Shared in-flight catalog search", "catalog", c.ID(), "query", query)
		}
		matches, _ := res.Val.([]domain.Record)
		return matches
	case <-ctx.Done():
		slog.Debug("Catalog search abandoned by caller", "catalog", c.ID(), "query", query, "error", ctx.Err())
		return nil
	}
}
