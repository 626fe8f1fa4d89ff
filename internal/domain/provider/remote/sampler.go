package remote

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"

	"audiobook-feed/internal/domain"
	"audiobook-feed/internal/domain/provider/fallback"
	"audiobook-feed/internal/domain/provider/terms"
)

// DefaultMaxAttempts bounds the random-term retry loop of FetchBatch.
const DefaultMaxAttempts = 6

// pruneFrom is the first attempt that shortens the previous term instead of
// drawing a new one.
const pruneFrom = 3

// QueryFunc runs one catalog query for term and returns the qualifying records.
type QueryFunc func(ctx context.Context, term string) ([]domain.Record, error)

// Sampler runs the bounded random-term retry loop shared by the catalog
// clients and falls back to the bundled dataset when it is exhausted.
type Sampler struct {
	Name        string
	Health      *Health
	MaxAttempts int
	Fallback    *fallback.Dataset

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSampler creates a sampler. A nil rnd uses a randomly seeded source.
func NewSampler(name string, health *Health, fb *fallback.Dataset, rnd *rand.Rand) *Sampler {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Sampler{
		Name:        name,
		Health:      health,
		MaxAttempts: DefaultMaxAttempts,
		Fallback:    fb,
		rnd:         rnd,
	}
}

// IntN returns a random int in [0, n).
func (s *Sampler) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.IntN(n)
}

func (s *Sampler) pick(opts domain.SearchOptions) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return terms.Pick(opts, s.rnd)
}

func (s *Sampler) prune(term string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return terms.Prune(term, s.rnd)
}

// Sample queries until a non-empty batch comes back, the attempts run out,
// the breaker opens or ctx is done. Early attempts draw a term from opts;
// later ones prune the previous term. An exhausted loop yields the fallback
// batch when opts allow it.
func (s *Sampler) Sample(ctx context.Context, opts domain.SearchOptions, query QueryFunc) []domain.Record {
	maxAttempts := s.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var term string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil || !s.Health.Available() {
			break
		}

		if attempt >= pruneFrom && term != "" {
			pruned := s.prune(term)
			if pruned == term {
				pruned = s.pick(opts)
			}
			term = pruned
		} else {
			term = s.pick(opts)
		}

		records, err := query(ctx, term)
		if err != nil {
			slog.Debug("Catalog batch attempt failed", "catalog", s.Name, "term", term, "attempt", attempt, "error", err)
			continue
		}
		if len(records) > 0 {
			return records
		}
		slog.Debug("Catalog batch attempt empty", "catalog", s.Name, "term", term, "attempt", attempt)
	}

	if opts.AllowFallback && s.Fallback != nil {
		slog.Info("Serving fallback batch", "catalog", s.Name, "genres", opts.Genres)
		return s.Fallback.Batch(opts)
	}
	return nil
}
