package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"

	"audiobook-feed/internal/domain"
	"audiobook-feed/internal/metrics"
)

// DefaultBackgroundEnrich is the number of extra batch members reconciled
// into the overflow cache per pipeline call.
const DefaultBackgroundEnrich = 1

// CacheWriter receives enriched records the feed did not show.
type CacheWriter interface {
	InsertIfAbsent(ctx context.Context, rec domain.Record, lang string) (bool, error)
}

// Pipeline acquires one reconciled record per call. Catalog B gates: its
// batches are tried first and its records must reconcile; catalog A is the
// availability fallback.
type Pipeline struct {
	gating     domain.Catalog
	secondary  domain.Catalog
	reconciler *Reconciler
	cache      CacheWriter
	tasks      *TaskQueue
	metrics    *metrics.Metrics

	backgroundEnrich int

	mu  sync.Mutex
	rnd *rand.Rand
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithBackgroundEnrich sets how many extra candidates are enriched per call.
// Negative values disable background enrichment.
func WithBackgroundEnrich(n int) PipelineOption {
	return func(p *Pipeline) {
		if n < 0 {
			n = 0
		}
		p.backgroundEnrich = n
	}
}

// WithPipelineRand fixes the random source used to pick candidates.
func WithPipelineRand(r *rand.Rand) PipelineOption {
	return func(p *Pipeline) { p.rnd = r }
}

// WithPipelineMetrics records pipeline outcomes.
func WithPipelineMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline creates a pipeline over the gating catalog b and the
// secondary catalog a. cache may be nil.
func NewPipeline(b, a domain.Catalog, reconciler *Reconciler, cache CacheWriter, tasks *TaskQueue, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		gating:           b,
		secondary:        a,
		reconciler:       reconciler,
		cache:            cache,
		tasks:            tasks,
		backgroundEnrich: DefaultBackgroundEnrich,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rnd == nil {
		p.rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return p
}

// FetchOne returns one usable record, or nil when every source is exhausted.
// Up to backgroundEnrich remaining candidates are reconciled into the cache
// after the primary is chosen; FetchOne does not wait for them.
func (p *Pipeline) FetchOne(ctx context.Context, opts domain.FeedOptions) *domain.Record {
	searchOpts := opts.SearchOptions()

	// The fallback dataset is only reached once both catalogs are empty.
	gatingOpts := searchOpts
	gatingOpts.AllowFallback = false

	batch := p.gating.FetchBatch(ctx, gatingOpts)
	if len(batch) == 0 {
		batch = p.secondary.FetchBatch(ctx, searchOpts)
	}
	if len(batch) == 0 {
		slog.Warn("No candidates from any catalog")
		p.metrics.PipelineFetch("empty")
		return nil
	}

	candidates := without(dedupe(batch), opts.Exclude)
	if len(candidates) == 0 {
		slog.Info("Batch holds only records the caller already has", "batch_size", len(batch))
		p.metrics.PipelineFetch("exhausted")
		return nil
	}
	for len(candidates) > 0 {
		var cand domain.Record
		cand, candidates = p.take(candidates)

		rec, ok := p.resolve(ctx, cand, opts)
		if !ok {
			continue
		}

		p.enqueue(candidates, opts)
		p.metrics.PipelineFetch("ok")
		return &rec
	}

	slog.Info("Batch exhausted without a usable candidate", "batch_size", len(batch))
	p.metrics.PipelineFetch("exhausted")
	return nil
}

// resolve reconciles one candidate and applies the purchase-link requirement.
func (p *Pipeline) resolve(ctx context.Context, cand domain.Record, opts domain.FeedOptions) (domain.Record, bool) {
	other, policy := p.counterpart(cand)

	rec, ok := p.reconciler.Reconcile(ctx, cand, other, policy)
	if !ok {
		slog.Debug("Candidate rejected without match", "key", cand.Key(), "title", cand.Title)
		return domain.Record{}, false
	}

	// The requirement is waived while catalog B, the only source of
	// purchase links, is down. Availability is checked per candidate.
	if opts.MustHavePurchaseLink && rec.PurchaseURL == "" && p.gating.Available() {
		slog.Debug("Candidate rejected without purchase link", "key", rec.Key(), "title", rec.Title)
		return domain.Record{}, false
	}
	return rec, true
}

// counterpart returns the catalog to reconcile against and the miss policy
// for a candidate's origin.
func (p *Pipeline) counterpart(cand domain.Record) (domain.Catalog, MissPolicy) {
	switch {
	case cand.IsFallback:
		return p.secondary, KeepUnmatched
	case cand.Source == p.gating.ID():
		return p.secondary, RequireMatch
	default:
		return p.gating, KeepUnmatched
	}
}

// enqueue submits background enrichment for the first remaining candidates.
func (p *Pipeline) enqueue(remaining []domain.Record, opts domain.FeedOptions) {
	if p.cache == nil || p.tasks == nil || p.backgroundEnrich == 0 {
		return
	}

	n := min(p.backgroundEnrich, len(remaining))
	fallbackLang := opts.LanguageTag()
	for _, cand := range remaining[:n] {
		p.tasks.Submit("enrich", func(ctx context.Context) error {
			rec, ok := p.resolve(ctx, cand, opts)
			if !ok {
				return nil
			}
			lang := domain.DetectLanguage(rec, fallbackLang)
			inserted, err := p.cache.InsertIfAbsent(ctx, rec, lang)
			if err != nil {
				return fmt.Errorf("cache %s: %w", rec.Key(), err)
			}
			if inserted {
				slog.Debug("Cached enriched candidate", "key", rec.Key(), "language", lang)
			}
			return nil
		})
	}
}

// take removes and returns a random candidate.
func (p *Pipeline) take(candidates []domain.Record) (domain.Record, []domain.Record) {
	p.mu.Lock()
	i := p.rnd.IntN(len(candidates))
	p.mu.Unlock()

	cand := candidates[i]
	rest := make([]domain.Record, 0, len(candidates)-1)
	rest = append(rest, candidates[:i]...)
	rest = append(rest, candidates[i+1:]...)
	return cand, rest
}

// without drops records whose canonical key is in exclude.
func without(records []domain.Record, exclude []string) []domain.Record {
	if len(exclude) == 0 {
		return records
	}
	out := records[:0:0]
	for _, r := range records {
		if !slices.Contains(exclude, r.Key()) {
			out = append(out, r)
		}
	}
	return out
}

// dedupe drops records whose canonical key was already seen.
func dedupe(records []domain.Record) []domain.Record {
	seen := make(map[string]bool, len(records))
	out := make([]domain.Record, 0, len(records))
	for _, r := range records {
		key := r.Key()
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}
