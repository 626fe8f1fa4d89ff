package audimeta

import (
	"context"
	"math/rand/v2"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"audiobook-feed/internal/domain"
	"audiobook-feed/internal/domain/provider/remote"
)

const searchPattern = `=~^https://audimeta\.de/search`

func searchBody() string {
	return `[
  {
    "asin": "B002V1A0WE",
    "title": "Dune",
    "subtitle": "Dune, Book 1",
    "authors": [{"asin": "B000AQ0842", "name": "Frank Herbert"}],
    "narrators": [{"name": "Scott Brick"}, {"name": "Orlagh Cassidy"}],
    "publisher": "Macmillan Audio",
    "description": "<p>Set on the desert planet <b>Arrakis</b>.</p><p>A classic.</p>",
    "imageUrl": "https://m.media-amazon.com/images/I/dune.jpg",
    "genres": [{"name": "Science Fiction & Fantasy", "type": "Genres"}, {"name": "Science Fiction", "type": "Tags"}],
    "series": [{"name": "Dune", "position": "1"}],
    "releaseDate": "2007-01-01T00:00:00.000Z",
    "language": "english",
    "region": "us",
    "explicit": false,
    "isListenable": true
  },
  {
    "asin": "B000000002",
    "title": "Not Listenable",
    "imageUrl": "https://m.media-amazon.com/images/I/x.jpg",
    "isListenable": false
  },
  {
    "asin": "B000000003",
    "title": "No Cover",
    "isListenable": true
  },
  {
    "asin": "B000000004",
    "title": "Explicit",
    "imageUrl": "https://m.media-amazon.com/images/I/e.jpg",
    "link": "https://www.audible.com/pd/B000000004",
    "explicit": true,
    "isListenable": true
  }
]`
}

func newTestClient(t *testing.T, opts ...Option) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	base := []Option{
		WithHTTPClient(&http.Client{Transport: transport}),
		WithLimiter(nil),
		WithRand(rand.New(rand.NewPCG(7, 7))),
	}
	return NewClient(append(base, opts...)...), transport
}

func TestClient_FetchBatch(t *testing.T) {
	c, transport := newTestClient(t)

	var gotQuery string
	transport.RegisterResponder("GET", searchPattern, func(req *http.Request) (*http.Response, error) {
		gotQuery = req.URL.RawQuery
		return httpmock.NewStringResponse(http.StatusOK, searchBody()), nil
	})

	got := c.FetchBatch(context.Background(), domain.SearchOptions{Term: "dune", Country: "de"})
	if len(got) != 1 {
		t.Fatalf("expected 1 listenable non-explicit record, got %d", len(got))
	}
	if !strings.Contains(gotQuery, "region=de") || !strings.Contains(gotQuery, "keywords=dune") {
		t.Errorf("unexpected query %q", gotQuery)
	}

	r := got[0]
	if r.CatalogBID != "B002V1A0WE" || r.Key() != "B002V1A0WE" {
		t.Errorf("unexpected identity %q", r.Key())
	}
	if !r.Narrators.Equal(domain.NewStringSet("Scott Brick", "Orlagh Cassidy")) {
		t.Errorf("unexpected narrators %v", r.Narrators)
	}
	if r.Genre != "Science Fiction & Fantasy" || len(r.Genres) != 2 {
		t.Errorf("unexpected genres %q %v", r.Genre, r.Genres)
	}
	if len(r.Series) != 1 || r.Series[0].Position != "1" {
		t.Errorf("unexpected series %v", r.Series)
	}
	if r.Description != "Set on the desert planet Arrakis.\nA classic." {
		t.Errorf("unexpected description %q", r.Description)
	}
	if r.PurchaseURL != "https://www.audible.com/pd/B002V1A0WE" {
		t.Errorf("expected purchase link built from ASIN and region, got %q", r.PurchaseURL)
	}
}

func TestClient_FetchBatch_AllowExplicit(t *testing.T) {
	c, transport := newTestClient(t)
	transport.RegisterResponder("GET", searchPattern, httpmock.NewStringResponder(http.StatusOK, searchBody()))

	got := c.FetchBatch(context.Background(), domain.SearchOptions{Term: "dune", AllowExplicit: true})
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[1].PurchaseURL != "https://www.audible.com/pd/B000000004" {
		t.Errorf("expected catalog link to be kept, got %q", got[1].PurchaseURL)
	}
}

func TestClient_CircuitBreaker(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	health := remote.NewHealth(ID, remote.WithClock(func() time.Time { return now }))

	c, transport := newTestClient(t, WithHealth(health))
	transport.RegisterResponder("GET", searchPattern, httpmock.NewStringResponder(http.StatusInternalServerError, ""))

	if got := c.Search(context.Background(), "dune"); got != nil {
		t.Fatal("expected no results on server error")
	}
	if c.Available() {
		t.Fatal("expected breaker to open after failure")
	}

	transport.RegisterResponder("GET", searchPattern, httpmock.NewStringResponder(http.StatusOK, searchBody()))
	transport.ZeroCallCounters()

	now = now.Add(remote.DefaultFailureBackoff - time.Second)
	if got := c.FetchBatch(context.Background(), domain.SearchOptions{Term: "dune"}); got != nil {
		t.Error("expected empty batch during cool-down")
	}
	if n := transport.GetTotalCallCount(); n != 0 {
		t.Fatalf("expected no network calls during cool-down, got %d", n)
	}

	now = now.Add(time.Second)
	if got := c.Search(context.Background(), "dune"); len(got) == 0 {
		t.Error("expected results after cool-down")
	}
}

func TestClient_StrictParse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"object instead of array", `{"asin": "B002V1A0WE"}`},
		{"null", `null`},
		{"not json", `<html></html>`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, transport := newTestClient(t)
			transport.RegisterResponder("GET", searchPattern, httpmock.NewStringResponder(http.StatusOK, tc.body))

			if got := c.Search(context.Background(), "dune"); got != nil {
				t.Errorf("expected nil, got %v", got)
			}
			if c.Available() {
				t.Error("expected breaker to open on unexpected shape")
			}
		})
	}
}

func TestClient_FetchByID(t *testing.T) {
	c, transport := newTestClient(t, WithRegion("uk"), WithAffiliateTag("feed-21"))
	transport.RegisterResponder("GET", `=~^https://audimeta\.de/book/B002V1A0WE`,
		httpmock.NewStringResponder(http.StatusOK, `{
			"asin": "B002V1A0WE",
			"title": "Dune",
			"authors": [{"name": "Frank Herbert"}],
			"imageUrl": "https://m.media-amazon.com/images/I/dune.jpg",
			"isListenable": true
		}`))

	got := c.FetchByID(context.Background(), "b002v1a0we")
	if got == nil {
		t.Fatal("expected a record")
	}
	if got.PurchaseURL != "https://www.audible.co.uk/pd/B002V1A0WE?tag=feed-21" {
		t.Errorf("unexpected purchase link %q", got.PurchaseURL)
	}

	if got := c.FetchByID(context.Background(), "1001"); got != nil {
		t.Error("expected nil for a non-ASIN id")
	}
}

func TestRegionFor(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"DE", "de"},
		{"gb", "uk"},
		{"br", "us"},
		{"", "us"},
	}
	for _, tc := range tests {
		if got := regionFor(tc.in, "us"); got != tc.want {
			t.Errorf("regionFor(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
