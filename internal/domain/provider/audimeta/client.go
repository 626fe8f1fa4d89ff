// Package audimeta implements the catalog B client on the Audimeta mirror of
// the Audible catalog. It is the completeness authority and the source of
// purchase links.
package audimeta

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"regexp"
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
const ID = "audimeta"

const (
	defaultBaseURL  = "https://audimeta.de"
	defaultPageSize = 25
	maxOffset       = 200
)

var asinPattern = regexp.MustCompile(`^[A-Z0-9]{10}$`)

// supportedRegions are the storefronts the mirror indexes.
var supportedRegions = map[string]bool{
	"us": true, "ca": true, "uk": true, "au": true, "fr": true,
	"de": true, "jp": true, "it": true, "in": true, "es": true,
}

// Client queries the Audimeta API.
type Client struct {
	baseURL       string
	pageSize      int
	defaultRegion string
	affiliateTag  string
	fetcher       *remote.Fetcher
	sampler       *remote.Sampler
}

type options struct {
	baseURL      string
	httpClient   *http.Client
	health       *remote.Health
	limiter      *rate.Limiter
	timeout      time.Duration
	maxAttempts  int
	fallback     *fallback.Dataset
	metrics      *metrics.Metrics
	rnd          *rand.Rand
	region       string
	affiliateTag string
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

// WithRegion sets the region used when a request carries no country.
func WithRegion(region string) Option { return func(o *options) { o.region = region } }

// WithAffiliateTag appends a tag to purchase links built from an ASIN.
func WithAffiliateTag(tag string) Option { return func(o *options) { o.affiliateTag = tag } }

// NewClient creates a catalog B client.
func NewClient(opts ...Option) *Client {
	o := options{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{},
		timeout:     remote.DefaultTimeout,
		maxAttempts: remote.DefaultMaxAttempts,
		limiter:     rate.NewLimiter(rate.Limit(1), 3),
		region:      "us",
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
		baseURL:       o.baseURL,
		pageSize:      defaultPageSize,
		defaultRegion: regionFor(o.region, "us"),
		affiliateTag:  o.affiliateTag,
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
	return 24 * time.Hour
}

// Available reports whether the circuit breaker is closed.
func (c *Client) Available() bool {
	return c.fetcher.Health.Available()
}

// Health exposes the circuit breaker.
func (c *Client) Health() *remote.Health {
	return c.fetcher.Health
}

// FetchBatch returns listenable candidates for a random term at a random page.
func (c *Client) FetchBatch(ctx context.Context, opts domain.SearchOptions) []domain.Record {
	if !c.Available() {
		if opts.AllowFallback && c.sampler.Fallback != nil {
			return c.sampler.Fallback.Batch(opts)
		}
		return nil
	}

	region := regionFor(opts.Country, c.defaultRegion)
	return c.sampler.Sample(ctx, opts, func(ctx context.Context, term string) ([]domain.Record, error) {
		page := c.sampler.IntN(maxOffset) / c.pageSize
		books, err := c.search(ctx, term, region, page)
		if err != nil {
			return nil, err
		}
		return c.filter(books, region, opts.AllowExplicit), nil
	})
}

// Search runs a keyword search in the default region.
func (c *Client) Search(ctx context.Context, query string) []domain.Record {
	if !c.Available() || strings.TrimSpace(query) == "" {
		return nil
	}
	books, err := c.search(ctx, query, c.defaultRegion, 0)
	if err != nil {
		slog.Error("Catalog search failed", "catalog", ID, "query", query, "error", err)
		return nil
	}
	return c.filter(books, c.defaultRegion, true)
}

// FetchByID resolves an ASIN.
func (c *Client) FetchByID(ctx context.Context, id string) *domain.Record {
	if !c.Available() {
		return nil
	}
	asin := strings.ToUpper(strings.TrimSpace(id))
	if !asinPattern.MatchString(asin) {
		return nil
	}

	var b book
	target := c.baseURL + "/book/" + url.PathEscape(asin) + "?" + url.Values{"region": {c.defaultRegion}}.Encode()
	if err := c.fetcher.GetJSON(ctx, target, &b); err != nil {
		slog.Error("Catalog lookup failed", "catalog", ID, "id", asin, "error", err)
		return nil
	}
	r := b.toRecord(c.defaultRegion, c.affiliateTag)
	if !r.Valid() {
		return nil
	}
	return &r
}

func (c *Client) search(ctx context.Context, keywords, region string, page int) (searchResponse, error) {
	q := url.Values{
		"keywords":         {keywords},
		"region":           {region},
		"limit":            {strconv.Itoa(c.pageSize)},
		"page":             {strconv.Itoa(page)},
		"products_sort_by": {"Relevance"},
		"cache":            {"true"},
	}

	var resp searchResponse
	if err := c.fetcher.GetJSON(ctx, c.baseURL+"/search?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// filter keeps listenable products with a cover and a title, dropping
// explicit ones unless allowed.
func (c *Client) filter(books []book, region string, allowExplicit bool) []domain.Record {
	out := make([]domain.Record, 0, len(books))
	for _, b := range books {
		if !b.playable() {
			continue
		}
		if b.Explicit && !allowExplicit {
			continue
		}
		r := b.toRecord(region, c.affiliateTag)
		if !r.Valid() {
			continue
		}
		out = append(out, r)
	}
	return out
}

// regionFor maps a country code to a supported region.
func regionFor(country, def string) string {
	c := strings.ToLower(strings.TrimSpace(country))
	if c == "gb" {
		c = "uk"
	}
	if supportedRegions[c] {
		return c
	}
	return def
}
