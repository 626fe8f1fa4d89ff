// Package provider assembles the catalog set used by the pipeline.
package provider

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"audiobook-feed/internal/domain"
	"audiobook-feed/internal/domain/provider/all"
	"audiobook-feed/internal/domain/provider/audimeta"
	"audiobook-feed/internal/domain/provider/fallback"
	"audiobook-feed/internal/domain/provider/itunes"
	"audiobook-feed/internal/domain/provider/void"
	"audiobook-feed/internal/metrics"
)

// Options selects and tunes the catalogs.
type Options struct {
	DisableA bool
	DisableB bool

	Region       string
	AffiliateTag string
	Timeout      time.Duration
	MaxAttempts  int
	// RequestsPerMinute paces each catalog; zero disables pacing.
	RequestsPerMinuteA float64
	RequestsPerMinuteB float64

	HTTPClient *http.Client
	Fallback   *fallback.Dataset
	Metrics    *metrics.Metrics
}

// Set is the catalog pair plus the aggregate used for keyword search.
type Set struct {
	// A is the availability authority.
	A domain.Catalog
	// B is the completeness authority and the gating catalog.
	B domain.Catalog
	// All searches both.
	All domain.Catalog
}

// NewAll instantiates the catalogs. A disabled catalog is replaced by a
// void catalog with the same id.
func NewAll(opts Options) Set {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	var a domain.Catalog = void.NewCatalog(itunes.ID)
	if !opts.DisableA {
		a = itunes.NewClient(
			itunes.WithHTTPClient(httpClient),
			itunes.WithTimeout(opts.Timeout),
			itunes.WithMaxAttempts(opts.MaxAttempts),
			itunes.WithLimiter(limiter(opts.RequestsPerMinuteA)),
			itunes.WithFallback(opts.Fallback),
			itunes.WithMetrics(opts.Metrics),
		)
	}

	var b domain.Catalog = void.NewCatalog(audimeta.ID)
	if !opts.DisableB {
		b = audimeta.NewClient(
			audimeta.WithHTTPClient(httpClient),
			audimeta.WithTimeout(opts.Timeout),
			audimeta.WithMaxAttempts(opts.MaxAttempts),
			audimeta.WithLimiter(limiter(opts.RequestsPerMinuteB)),
			audimeta.WithFallback(opts.Fallback),
			audimeta.WithMetrics(opts.Metrics),
			audimeta.WithRegion(opts.Region),
			audimeta.WithAffiliateTag(opts.AffiliateTag),
		)
	}

	return Set{
		A:   a,
		B:   b,
		All: all.NewCatalog(b, a),
	}
}

// List returns every catalog, the aggregate last.
func (s Set) List() []domain.Catalog {
	return []domain.Catalog{s.A, s.B, s.All}
}

// ByID looks a catalog up by its id.
func (s Set) ByID(id string) (domain.Catalog, bool) {
	for _, c := range s.List() {
		if c.ID() == id {
			return c, true
		}
	}
	return nil, false
}

func limiter(perMinute float64) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	burst := int(perMinute / 10)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perMinute/60), burst)
}
