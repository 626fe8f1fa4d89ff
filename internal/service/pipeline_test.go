package service

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"

	"audiobook-feed/internal/domain"
)

type insert struct {
	rec  domain.Record
	lang string
}

type fakeCacheWriter struct {
	mu      sync.Mutex
	inserts []insert
}

func (f *fakeCacheWriter) InsertIfAbsent(_ context.Context, rec domain.Record, lang string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts = append(f.inserts, insert{rec: rec, lang: lang})
	return true, nil
}

func (f *fakeCacheWriter) all() []insert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]insert(nil), f.inserts...)
}

type pipelineFixture struct {
	b, a     *mockCatalog
	cache    *fakeCacheWriter
	tasks    *TaskQueue
	pipeline *Pipeline
}

func newPipelineFixture(t *testing.T, opts ...PipelineOption) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		b:     newMockCatalog("audimeta"),
		a:     newMockCatalog("itunes"),
		cache: &fakeCacheWriter{},
		tasks: NewTaskQueue(2, nil, nil),
	}
	t.Cleanup(f.tasks.Close)

	reconciler := NewReconciler(NewService(f.b, f.a))
	opts = append([]PipelineOption{WithPipelineRand(rand.New(rand.NewPCG(3, 4)))}, opts...)
	f.pipeline = NewPipeline(f.b, f.a, reconciler, f.cache, f.tasks, opts...)
	return f
}

func bRecord(id, title, author string) domain.Record {
	return domain.Record{
		CatalogBID:  id,
		Title:       title,
		Authors:     domain.NewStringSet(author),
		PurchaseURL: "https://www.audible.com/pd/" + id,
		Source:      "audimeta",
	}
}

func aRecord(id int64, title, author string) domain.Record {
	return domain.Record{
		CatalogAID: id,
		Title:      title,
		Authors:    domain.NewStringSet(author),
		SampleURL:  "https://audio.example/sample.m4a",
		Source:     "itunes",
	}
}

func TestPipeline_MergeBias(t *testing.T) {
	f := newPipelineFixture(t, WithBackgroundEnrich(0))
	f.b.batch = []domain.Record{bRecord("B0DUNE0001", "Dune", "X")}
	f.a.results = []domain.Record{aRecord(42, "Dune (Unabridged)", "Y")}

	got := f.pipeline.FetchOne(context.Background(), domain.FeedOptions{})
	if got == nil {
		t.Fatal("expected a record")
	}
	if got.Title != "Dune" || got.CatalogBID != "B0DUNE0001" || got.CatalogAID != 42 {
		t.Errorf("unexpected merge result %+v", got)
	}
	if !got.Authors.Equal(domain.NewStringSet("X", "Y")) {
		t.Errorf("expected author union, got %v", got.Authors)
	}
	if f.a.batches != 0 {
		t.Errorf("expected catalog A batch not to be requested, got %d", f.a.batches)
	}
}

func TestPipeline_GatingCatalogSkipsUnmatched(t *testing.T) {
	f := newPipelineFixture(t, WithBackgroundEnrich(0))
	f.b.batch = []domain.Record{
		bRecord("B0UNKNOWN1", "Unknown Title", "Nobody"),
		bRecord("B0DUNE0001", "Dune", "Frank Herbert"),
	}
	f.a.results = []domain.Record{aRecord(42, "Dune", "Frank Herbert")}

	got := f.pipeline.FetchOne(context.Background(), domain.FeedOptions{})
	if got == nil || got.CatalogBID != "B0DUNE0001" {
		t.Fatalf("expected the matched candidate, got %+v", got)
	}
}

func TestPipeline_FallsBackToSecondary(t *testing.T) {
	f := newPipelineFixture(t, WithBackgroundEnrich(0))
	f.a.batch = []domain.Record{aRecord(7, "Emma", "Jane Austen")}

	opts := domain.FeedOptions{AllowFallback: true}
	got := f.pipeline.FetchOne(context.Background(), opts)
	if got == nil || got.CatalogAID != 7 {
		t.Fatalf("expected the catalog A record, got %+v", got)
	}
	if f.b.lastBatch.AllowFallback {
		t.Error("expected the gating catalog to be queried without fallback")
	}
	if !f.a.lastBatch.AllowFallback {
		t.Error("expected the secondary catalog to receive the caller's fallback option")
	}
}

func TestPipeline_RelaxesPurchaseLinkWhileGatingDown(t *testing.T) {
	f := newPipelineFixture(t, WithBackgroundEnrich(0))
	f.a.batch = []domain.Record{aRecord(7, "Emma", "Jane Austen")}
	opts := domain.FeedOptions{MustHavePurchaseLink: true}

	// Catalog B is up but returns nothing: the requirement holds.
	if got := f.pipeline.FetchOne(context.Background(), opts); got != nil {
		t.Fatalf("expected rejection without purchase link, got %+v", got)
	}

	// Catalog B is down: the requirement is waived.
	f.b.setDown(true)
	got := f.pipeline.FetchOne(context.Background(), opts)
	if got == nil || got.CatalogAID != 7 {
		t.Fatalf("expected a record while catalog B is down, got %+v", got)
	}
	if got.PurchaseURL != "" {
		t.Errorf("expected no purchase link, got %q", got.PurchaseURL)
	}
}

func TestPipeline_FallbackRecordKeptUnmatched(t *testing.T) {
	f := newPipelineFixture(t, WithBackgroundEnrich(0))
	f.b.setDown(true)
	f.a.batch = []domain.Record{{
		CatalogBID: "B0FALLBACK",
		Title:      "Pride and Prejudice",
		Authors:    domain.NewStringSet("Jane Austen"),
		Source:     "fallback",
		IsFallback: true,
	}}

	got := f.pipeline.FetchOne(context.Background(), domain.FeedOptions{AllowFallback: true})
	if got == nil || !got.IsFallback {
		t.Fatalf("expected the fallback record, got %+v", got)
	}
	if f.a.searchCount() != 1 || f.b.searchCount() != 0 {
		t.Errorf("expected fallback to reconcile against catalog A only (a=%d, b=%d)", f.a.searchCount(), f.b.searchCount())
	}
}

func TestPipeline_BackgroundEnrichment(t *testing.T) {
	f := newPipelineFixture(t)
	f.b.batch = []domain.Record{
		bRecord("B0DUNE0001", "Dune", "Frank Herbert"),
		bRecord("B0EMMA0001", "Emma", "Jane Austen"),
	}
	f.a.results = []domain.Record{
		aRecord(1, "Dune", "Frank Herbert"),
		aRecord(2, "Emma", "Jane Austen"),
	}

	got := f.pipeline.FetchOne(context.Background(), domain.FeedOptions{Country: "de"})
	if got == nil {
		t.Fatal("expected a record")
	}
	f.tasks.Wait()

	inserts := f.cache.all()
	if len(inserts) != 1 {
		t.Fatalf("expected 1 background insert, got %d", len(inserts))
	}
	if inserts[0].rec.Key() == got.Key() {
		t.Errorf("expected the primary not to be cached, got %s", got.Key())
	}
	if inserts[0].rec.CatalogAID == 0 {
		t.Errorf("expected the cached record to be reconciled, got %+v", inserts[0].rec)
	}
	if inserts[0].lang != "de" {
		t.Errorf("expected language derived from the country, got %q", inserts[0].lang)
	}
}

func TestPipeline_Exhausted(t *testing.T) {
	f := newPipelineFixture(t)

	if got := f.pipeline.FetchOne(context.Background(), domain.FeedOptions{}); got != nil {
		t.Errorf("expected nil from empty catalogs, got %+v", got)
	}
	if f.b.batches != 1 || f.a.batches != 1 {
		t.Errorf("expected one batch per catalog, got b=%d a=%d", f.b.batches, f.a.batches)
	}
}

func TestDedupe(t *testing.T) {
	got := dedupe([]domain.Record{
		{CatalogBID: "B1", Title: "One"},
		{CatalogBID: "B1", Title: "Dup"},
		{Title: "No identity"},
		{CatalogAID: 2, Title: "Two"},
	})
	if len(got) != 2 || got[0].Title != "One" || got[1].Title != "Two" {
		t.Errorf("unexpected dedupe result %+v", got)
	}
}

func TestPipeline_SkipsExcludedKeys(t *testing.T) {
	f := newPipelineFixture(t, WithBackgroundEnrich(0))
	f.a.batch = []domain.Record{aRecord(1, "Emma", "Jane Austen"), aRecord(2, "Persuasion", "Jane Austen")}

	got := f.pipeline.FetchOne(context.Background(), domain.FeedOptions{Exclude: []string{"1"}})
	if got == nil || got.CatalogAID != 2 {
		t.Fatalf("expected the record not yet held, got %+v", got)
	}

	if got := f.pipeline.FetchOne(context.Background(), domain.FeedOptions{Exclude: []string{"1", "2"}}); got != nil {
		t.Errorf("expected nil when every candidate is excluded, got %+v", got)
	}
}
