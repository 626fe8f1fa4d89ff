package itunes

import (
	"context"
	"math/rand/v2"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"audiobook-feed/internal/domain"
	"audiobook-feed/internal/domain/provider/fallback"
	"audiobook-feed/internal/domain/provider/remote"
)

const searchPattern = `=~^https://itunes\.apple\.com/search`

func searchBody() string {
	return `{
  "resultCount": 3,
  "results": [
    {
      "wrapperType": "audiobook",
      "collectionId": 1001,
      "collectionName": "Dune: Book One (Unabridged)",
      "artistName": "Frank Herbert",
      "collectionViewUrl": "https://books.apple.com/us/audiobook/dune/id1001",
      "previewUrl": "https://audio.example/dune.m4a",
      "artworkUrl100": "https://is1.mzstatic.com/image/thumb/dune/100x100bb.jpg",
      "primaryGenreName": "Sci-Fi & Fantasy",
      "description": "Set on the desert planet Arrakis.<br />A classic.",
      "collectionExplicitness": "notExplicit"
    },
    {
      "wrapperType": "audiobook",
      "collectionId": 1002,
      "collectionName": "No Sample",
      "artistName": "Someone"
    },
    {
      "wrapperType": "audiobook",
      "collectionId": 1003,
      "collectionName": "Explicit Tale",
      "artistName": "Someone Else",
      "previewUrl": "https://audio.example/explicit.m4a",
      "collectionExplicitness": "explicit"
    }
  ]
}`
}

func newTestClient(t *testing.T, opts ...Option) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	base := []Option{
		WithHTTPClient(&http.Client{Transport: transport}),
		WithLimiter(nil),
		WithRand(rand.New(rand.NewPCG(1, 1))),
	}
	return NewClient(append(base, opts...)...), transport
}

func TestClient_FetchBatch(t *testing.T) {
	c, transport := newTestClient(t)
	transport.RegisterResponder("GET", searchPattern, httpmock.NewStringResponder(http.StatusOK, searchBody()))

	got := c.FetchBatch(context.Background(), domain.SearchOptions{Term: "dune", Country: "us"})
	if len(got) != 1 {
		t.Fatalf("expected 1 playable non-explicit record, got %d", len(got))
	}

	r := got[0]
	if r.CatalogAID != 1001 || r.Key() != "1001" {
		t.Errorf("unexpected identity: %d %q", r.CatalogAID, r.Key())
	}
	if r.Title != "Dune" || r.Subtitle != "Book One" {
		t.Errorf("expected split title, got %q / %q", r.Title, r.Subtitle)
	}
	if r.CoverURL != "https://is1.mzstatic.com/image/thumb/dune/600x600bb.jpg" {
		t.Errorf("expected upgraded artwork, got %q", r.CoverURL)
	}
	if r.Description != "Set on the desert planet Arrakis.\nA classic." {
		t.Errorf("unexpected description %q", r.Description)
	}
	if r.Source != ID || !r.Authors.Contains("Frank Herbert") {
		t.Errorf("unexpected record: %+v", r)
	}
}

func TestClient_FetchBatch_AllowExplicit(t *testing.T) {
	c, transport := newTestClient(t)
	transport.RegisterResponder("GET", searchPattern, httpmock.NewStringResponder(http.StatusOK, searchBody()))

	got := c.FetchBatch(context.Background(), domain.SearchOptions{Term: "dune", AllowExplicit: true})
	if len(got) != 2 {
		t.Errorf("expected 2 records with explicit allowed, got %d", len(got))
	}
}

func TestClient_FetchBatch_RetriesThenFallback(t *testing.T) {
	fb, err := fallback.Parse([]byte(`{"Fiction": [{"catalogIdB": "B1", "title": "One"}]}`))
	if err != nil {
		t.Fatalf("fallback.Parse failed: %v", err)
	}

	c, transport := newTestClient(t, WithFallback(fb), WithMaxAttempts(4))
	transport.RegisterResponder("GET", searchPattern,
		httpmock.NewStringResponder(http.StatusOK, `{"resultCount": 0, "results": []}`))

	t.Run("no fallback", func(t *testing.T) {
		transport.ZeroCallCounters()
		if got := c.FetchBatch(context.Background(), domain.SearchOptions{Term: "zzzz"}); got != nil {
			t.Errorf("expected nil batch, got %d records", len(got))
		}
		if n := transport.GetTotalCallCount(); n != 4 {
			t.Errorf("expected 4 attempts, got %d", n)
		}
	})

	t.Run("fallback allowed", func(t *testing.T) {
		got := c.FetchBatch(context.Background(), domain.SearchOptions{Term: "zzzz", AllowFallback: true})
		if len(got) != 1 || !got[0].IsFallback {
			t.Fatalf("expected fallback batch, got %+v", got)
		}
	})
}

func TestClient_CircuitBreaker(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	health := remote.NewHealth(ID, remote.WithClock(clock))

	c, transport := newTestClient(t, WithHealth(health))
	transport.RegisterResponder("GET", searchPattern, func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusTooManyRequests, "")
		resp.Header.Set("Retry-After", "60")
		return resp, nil
	})

	if got := c.Search(context.Background(), "dune"); got != nil {
		t.Fatalf("expected no results on rate limit, got %d", len(got))
	}
	if c.Available() {
		t.Fatal("expected breaker to open after 429")
	}

	transport.RegisterResponder("GET", searchPattern, httpmock.NewStringResponder(http.StatusOK, searchBody()))
	transport.ZeroCallCounters()

	if got := c.Search(context.Background(), "dune"); got != nil {
		t.Error("expected empty search during cool-down")
	}
	if got := c.FetchBatch(context.Background(), domain.SearchOptions{Term: "dune"}); got != nil {
		t.Error("expected empty batch during cool-down")
	}
	if got := c.FetchByID(context.Background(), "1001"); got != nil {
		t.Error("expected nil lookup during cool-down")
	}
	if n := transport.GetTotalCallCount(); n != 0 {
		t.Fatalf("expected no network calls during cool-down, got %d", n)
	}

	now = now.Add(61 * time.Second)

	if got := c.Search(context.Background(), "dune"); len(got) == 0 {
		t.Error("expected results after cool-down")
	}
	if n := transport.GetTotalCallCount(); n != 1 {
		t.Errorf("expected 1 network call after cool-down, got %d", n)
	}
}

func TestClient_StrictParse(t *testing.T) {
	c, transport := newTestClient(t)
	transport.RegisterResponder("GET", searchPattern, httpmock.NewStringResponder(http.StatusOK, `{"error": "nope"}`))

	if got := c.Search(context.Background(), "dune"); got != nil {
		t.Errorf("expected nil on malformed body, got %v", got)
	}
	if c.Available() {
		t.Error("expected malformed body to open the breaker")
	}
}

func TestClient_FetchByID(t *testing.T) {
	c, transport := newTestClient(t)
	transport.RegisterResponder("GET", `=~^https://itunes\.apple\.com/lookup`,
		httpmock.NewStringResponder(http.StatusOK, searchBody()))

	got := c.FetchByID(context.Background(), "1001")
	if got == nil || got.CatalogAID != 1001 {
		t.Fatalf("unexpected lookup result: %+v", got)
	}

	if got := c.FetchByID(context.Background(), "not-a-number"); got != nil {
		t.Error("expected nil for a non-numeric id")
	}
}

func TestSplitTitle(t *testing.T) {
	tests := []struct {
		in, title, subtitle string
	}{
		{"Dune (Unabridged)", "Dune", ""},
		{"Dune: Messiah [Unabridged]", "Dune", "Messiah"},
		{"Plain Title", "Plain Title", ""},
		{": Odd", ": Odd", ""},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			title, subtitle := splitTitle(tc.in)
			if title != tc.title || subtitle != tc.subtitle {
				t.Errorf("splitTitle(%q) = %q, %q; want %q, %q", tc.in, title, subtitle, tc.title, tc.subtitle)
			}
		})
	}
}

func TestClient_IDAndTTL(t *testing.T) {
	c := NewClient()
	if c.ID() != "itunes" {
		t.Errorf("expected ID 'itunes', got %q", c.ID())
	}
	if c.CacheTTL() != 6*time.Hour {
		t.Errorf("expected 6h TTL, got %v", c.CacheTTL())
	}
}
