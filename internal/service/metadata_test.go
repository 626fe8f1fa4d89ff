package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"audiobook-feed/internal/domain"
)

// mockCatalog implements domain.Catalog for testing.
type mockCatalog struct {
	id  string
	ttl time.Duration

	mu        sync.Mutex
	batch     []domain.Record
	results   []domain.Record
	down      bool
	searches  int
	batches   int
	lastBatch domain.SearchOptions
}

func newMockCatalog(id string) *mockCatalog {
	return &mockCatalog{id: id, ttl: time.Hour}
}

func (m *mockCatalog) ID() string              { return m.id }
func (m *mockCatalog) CacheTTL() time.Duration { return m.ttl }

func (m *mockCatalog) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.down
}

func (m *mockCatalog) setDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// Search fails soft on a cancelled context without tripping the catalog, the
// way the HTTP clients do.
func (m *mockCatalog) Search(ctx context.Context, _ string) []domain.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches++
	if m.down || ctx.Err() != nil {
		return nil
	}
	return m.results
}

func (m *mockCatalog) FetchBatch(_ context.Context, opts domain.SearchOptions) []domain.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	m.lastBatch = opts
	if m.down {
		return nil
	}
	return m.batch
}

func (m *mockCatalog) FetchByID(_ context.Context, _ string) *domain.Record { return nil }

func (m *mockCatalog) searchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searches
}

func TestService_Search(t *testing.T) {
	catalog := newMockCatalog("test_catalog")
	catalog.results = []domain.Record{{CatalogBID: "B1", Title: "Test Book"}}

	svc := NewService(catalog)

	// 1. Initial search calls the catalog
	resp := svc.Search(context.Background(), "dune")
	if len(resp.Matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(resp.Matches))
	}
	if resp.Matches[0].Title != "Test Book" {
		t.Errorf("Expected title 'Test Book', got '%s'", resp.Matches[0].Title)
	}

	// 2. Cached search is served even if the catalog goes down
	catalog.setDown(true)
	resp = svc.Search(context.Background(), "dune")
	if len(resp.Matches) != 1 {
		t.Errorf("Expected 1 match from cache, got %d", len(resp.Matches))
	}
	if catalog.searchCount() != 1 {
		t.Errorf("Expected 1 catalog search, got %d", catalog.searchCount())
	}
}

func TestService_SearchByCatalogID(t *testing.T) {
	catalog := newMockCatalog("catalog_a")
	catalog.results = []domain.Record{{CatalogAID: 1, Title: "A"}}
	svc := NewService(catalog)

	resp, err := svc.SearchByCatalogID(context.Background(), "catalog_a", "query")
	if err != nil {
		t.Fatalf("SearchByCatalogID failed: %v", err)
	}
	if len(resp.Matches) != 1 {
		t.Errorf("Expected 1 match, got %d", len(resp.Matches))
	}

	if _, err := svc.SearchByCatalogID(context.Background(), "catalog_b", "query"); err == nil {
		t.Error("Expected error for non-existent catalog, got nil")
	}
}

func TestService_Catalogs(t *testing.T) {
	svc := NewService(newMockCatalog("a"), newMockCatalog("b"))

	catalogs := svc.Catalogs()
	if len(catalogs) != 2 {
		t.Fatalf("expected 2 catalogs, got %d", len(catalogs))
	}
	if catalogs[0].ID() != "a" || catalogs[1].ID() != "b" {
		t.Errorf("unexpected catalog IDs: %s, %s", catalogs[0].ID(), catalogs[1].ID())
	}
}

func TestService_Search_UnavailableCatalogIsNotCached(t *testing.T) {
	catalog := newMockCatalog("flaky")
	catalog.results = []domain.Record{{CatalogAID: 7, Title: "Later"}}
	catalog.setDown(true)
	svc := NewService(catalog)

	if resp := svc.Search(context.Background(), "q"); len(resp.Matches) != 0 {
		t.Fatalf("expected no matches while down, got %d", len(resp.Matches))
	}

	catalog.setDown(false)
	resp := svc.Search(context.Background(), "q")
	if len(resp.Matches) != 1 {
		t.Errorf("expected recovery to reach the catalog, got %d matches", len(resp.Matches))
	}
	if catalog.searchCount() != 2 {
		t.Errorf("expected 2 catalog searches, got %d", catalog.searchCount())
	}
}

func TestService_SearchCatalog_ZeroTTL(t *testing.T) {
	catalog := newMockCatalog("zero_ttl")
	catalog.ttl = 0
	catalog.results = []domain.Record{{CatalogAID: 3, Title: "Cached"}}
	svc := NewService(catalog)

	svc.SearchCatalog(context.Background(), catalog, "q")
	svc.SearchCatalog(context.Background(), catalog, "q")

	if catalog.searchCount() != 1 {
		t.Errorf("expected default TTL to cache the result, got %d searches", catalog.searchCount())
	}
}

func TestService_SearchDeduplicatesAcrossCatalogs(t *testing.T) {
	a := newMockCatalog("catalog_a")
	a.results = []domain.Record{{CatalogBID: "B1", Title: "Shared"}, {CatalogAID: 7, Title: "Only A"}}
	agg := newMockCatalog("all")
	agg.results = []domain.Record{{CatalogBID: "B1", Title: "Shared"}}

	resp := NewService(a, agg).Search(context.Background(), "q")
	if len(resp.Matches) != 2 {
		t.Fatalf("expected 2 unique matches, got %d: %+v", len(resp.Matches), resp.Matches)
	}
}

func TestService_SearchCatalog_CancelledCallerDoesNotPinEmptyResult(t *testing.T) {
	catalog := newMockCatalog("itunes")
	catalog.results = []domain.Record{{CatalogAID: 9, Title: "Dune"}}
	svc := NewService(catalog)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.SearchCatalog(ctx, catalog, "dune frank herbert")

	got := svc.SearchCatalog(context.Background(), catalog, "dune frank herbert")
	if len(got) != 1 || got[0].CatalogAID != 9 {
		t.Fatalf("expected the real result after a cancelled caller, got %+v", got)
	}
	if n := catalog.searchCount(); n != 1 {
		t.Errorf("expected the detached search to be reused, got %d catalog searches", n)
	}
}
