// Package itunes implements the catalog A client on the iTunes Search API.
// It is the availability authority: every record it returns has a playable
// sample, even when reconciliation later finds nothing to enrich it with.
package itunes

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"audiobook-feed/internal/domain"
	"audiobook-feed/internal/domain/provider/fallback"
	"audiobook-feed/internal/domain/provider/remote"
	"audiobook-feed/internal/metrics"
)

// ID is the catalog identifier.
const ID = "itunes"

const (
	defaultBaseURL  = "https://itunes.apple.com"
	defaultPageSize = 25
	maxOffset       = 200
)

// Client queries the iTunes Search API.
type Client struct {
	baseURL  string
	pageSize int
	fetcher  *remote.Fetcher
	sampler  *remote.Sampler
}

type options struct {
	baseURL     string
	httpClient  *http.Client
	health      *remote.Health
	limiter     *rate.Limiter
	timeout     time.Duration
	maxAttempts int
	fallback    *fallback.Dataset
	metrics     *metrics.Metrics
	rnd         *rand.Rand
}

// Option configures a Client.
type Option func(*options)

// WithBaseURL points the client at another host.
func WithBaseURL(u string) Option { return func(o *options) { o.baseURL = strings.TrimRight(u, "/") } }

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// WithHealth shares a circuit breaker with the caller.
func WithHealth(h *remote.Health) Option { return func(o *options) { o.health = h } }

// WithLimiter paces outgoing requests.
func WithLimiter(l *rate.Limiter) Option { return func(o *options) { o.limiter = l } }

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// WithMaxAttempts bounds the FetchBatch retry loop.
func WithMaxAttempts(n int) Option { return func(o *options) { o.maxAttempts = n } }

// WithFallback enables the bundled dataset for exhausted batches.
func WithFallback(d *fallback.Dataset) Option { return func(o *options) { o.fallback = d } }

// WithMetrics records request outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithRand fixes the random source.
func WithRand(r *rand.Rand) Option { return func(o *options) { o.rnd = r } }

// NewClient creates a catalog A client.
func NewClient(opts ...Option) *Client {
	o := options{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{},
		timeout:     remote.DefaultTimeout,
		maxAttempts: remote.DefaultMaxAttempts,
		limiter:     rate.NewLimiter(rate.Limit(20.0/60.0), 5),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.health == nil {
		o.health = remote.NewHealth(ID, remote.WithMetrics(o.metrics))
	}

	sampler := remote.NewSampler(ID, o.health, o.fallback, o.rnd)
	sampler.MaxAttempts = o.maxAttempts

	return &Client{
		baseURL:  o.baseURL,
		pageSize: defaultPageSize,
		fetcher: &remote.Fetcher{
			Name:    ID,
			Client:  o.httpClient,
			Health:  o.health,
			Limiter: o.limiter,
			Timeout: o.timeout,
			Metrics: o.metrics,
		},
		sampler: sampler,
	}
}

// ID returns the unique identifier for this catalog.
func (c *Client) ID() string {
	return ID
}

// CacheTTL returns the duration for which search results may be cached.
func (c *Client) CacheTTL() time.Duration {
	return 6 * time.Hour
}

// Available reports whether the circuit breaker is closed.
func (c *Client) Available() bool {
	return c.fetcher.Health.Available()
}

// Health exposes the circuit breaker.
func (c *Client) Health() *remote.Health {
	return c.fetcher.Health
}

// FetchBatch returns playable candidates for a random term at a random offset.
func (c *Client) FetchBatch(ctx context.Context, opts domain.SearchOptions) []domain.Record {
	if !c.Available() {
		if opts.AllowFallback && c.sampler.Fallback != nil {
			return c.sampler.Fallback.Batch(opts)
		}
		return nil
	}

	return c.sampler.Sample(ctx, opts, func(ctx context.Context, term string) ([]domain.Record, error) {
		offset := c.sampler.IntN(maxOffset)
		resp, err := c.search(ctx, term, opts.Country, offset)
		if err != nil {
			return nil, err
		}
		return filter(resp.Results, opts.AllowExplicit), nil
	})
}

// Search runs a keyword search.
func (c *Client) Search(ctx context.Context, query string) []domain.Record {
	if !c.Available() || strings.TrimSpace(query) == "" {
		return nil
	}
	resp, err := c.search(ctx, query, "", 0)
	if err != nil {
		slog.Error("Catalog search failed", "catalog", ID, "query", query, "error", err)
		return nil
	}
	return filter(resp.Results, true)
}

// FetchByID resolves a collection id.
func (c *Client) FetchByID(ctx context.Context, id string) *domain.Record {
	if !c.Available() {
		return nil
	}
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return nil
	}

	var resp searchResponse
	if err := c.fetcher.GetJSON(ctx, c.baseURL+"/lookup?"+url.Values{"id": {id}, "entity": {"audiobook"}}.Encode(), &resp); err != nil {
		slog.Error("Catalog lookup failed", "catalog", ID, "id", id, "error", err)
		return nil
	}
	for _, e := range resp.Results {
		if r := e.toRecord(); r.Valid() {
			return &r
		}
	}
	return nil
}

func (c *Client) search(ctx context.Context, term, country string, offset int) (*searchResponse, error) {
	q := url.Values{
		"term":   {term},
		"media":  {"audiobook"},
		"entity": {"audiobook"},
		"limit":  {strconv.Itoa(c.pageSize)},
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	if country != "" {
		q.Set("country", storeCountry(country))
	}

	var resp searchResponse
	if err := c.fetcher.GetJSON(ctx, c.baseURL+"/search?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// filter keeps records with a sample and a title, dropping explicit ones
// unless allowed.
func filter(entries []entry, allowExplicit bool) []domain.Record {
	out := make([]domain.Record, 0, len(entries))
	for _, e := range entries {
		if e.PreviewURL == "" {
			continue
		}
		r := e.toRecord()
		if !r.Valid() {
			continue
		}
		if r.Explicit && !allowExplicit {
			continue
		}
		out = append(out, r)
	}
	return out
}

// storeCountry maps a country code to the iTunes storefront code.
func storeCountry(country string) string {
	c := strings.ToLower(country)
	if c == "uk" {
		return "gb"
	}
	return c
}
