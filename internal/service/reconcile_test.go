package service

import (
	"context"
	"testing"

	"audiobook-feed/internal/domain"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Dune", "dune"},
		{"Dune (Unabridged)", "duneunabridged"},
		{"Les Misérables", "lesmiserables"},
		{"  Émile Zola ", "emilezola"},
		{"1984: A Novel", "1984anovel"},
		{"", ""},
		{"!!!", ""},
	}
	for _, tc := range tests {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name                               string
		titleA, authorA, titleB, authorB string
		want                               bool
	}{
		{"substring", "dune", "frankherbert", "duneunabridged", "other", true},
		{"reverse substring", "duneunabridged", "", "dune", "", true},
		{"equal titles and authors", "emma", "janeausten", "emma", "janeausten", true},
		{"different titles", "emma", "janeausten", "persuasion", "janeausten", false},
		{"empty title", "", "x", "dune", "x", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Matches(tc.titleA, tc.authorA, tc.titleB, tc.authorB); got != tc.want {
				t.Errorf("Matches() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestReconciler_MergesMatch(t *testing.T) {
	other := newMockCatalog("itunes")
	other.results = []domain.Record{
		{CatalogAID: 99, Title: "Something Else", Authors: domain.NewStringSet("Nobody")},
		{
			CatalogAID: 42,
			Title:      "Dune (Unabridged)",
			Authors:    domain.NewStringSet("Frank Herbert", "Scott Brick"),
			SampleURL:  "https://audio.example/dune.m4a",
			Source:     "itunes",
		},
	}
	r := NewReconciler(NewService(other))

	primary := domain.Record{
		CatalogBID:  "B0DUNE0001",
		Title:       "Dune",
		Authors:     domain.NewStringSet("Frank Herbert"),
		PurchaseURL: "https://www.audible.com/pd/B0DUNE0001",
		Source:      "audimeta",
	}

	got, ok := r.Reconcile(context.Background(), primary, other, RequireMatch)
	if !ok {
		t.Fatal("expected a match")
	}
	if got.Title != "Dune" || got.CatalogBID != "B0DUNE0001" || got.Source != "audimeta" {
		t.Errorf("expected primary fields to win, got %+v", got)
	}
	if got.CatalogAID != 42 || got.SampleURL == "" {
		t.Errorf("expected counterpart fields to fill gaps, got %+v", got)
	}
	if !got.Authors.Equal(domain.NewStringSet("Frank Herbert", "Scott Brick")) {
		t.Errorf("expected author union, got %v", got.Authors)
	}
}

func TestReconciler_Diacritics(t *testing.T) {
	other := newMockCatalog("audimeta")
	other.results = []domain.Record{{CatalogBID: "B0MISERAB1", Title: "Les Miserables", Authors: domain.NewStringSet("Victor Hugo")}}
	r := NewReconciler(NewService(other))

	primary := domain.Record{CatalogAID: 5, Title: "Les Misérables", Authors: domain.NewStringSet("Victor Hugo")}
	got, ok := r.Reconcile(context.Background(), primary, other, KeepUnmatched)
	if !ok || got.CatalogBID != "B0MISERAB1" {
		t.Errorf("expected diacritic-insensitive match, got %+v", got)
	}
}

func TestReconciler_MissPolicy(t *testing.T) {
	other := newMockCatalog("itunes")
	other.results = []domain.Record{{CatalogAID: 1, Title: "Unrelated"}}
	r := NewReconciler(NewService(other))
	primary := domain.Record{CatalogBID: "B1", Title: "Dune"}

	if _, ok := r.Reconcile(context.Background(), primary, other, RequireMatch); ok {
		t.Error("expected RequireMatch to reject an unmatched primary")
	}

	got, ok := r.Reconcile(context.Background(), primary, other, KeepUnmatched)
	if !ok || got.CatalogBID != "B1" || got.CatalogAID != 0 {
		t.Errorf("expected KeepUnmatched to return the primary unchanged, got %+v", got)
	}
}

func TestReconciler_NilCatalog(t *testing.T) {
	r := NewReconciler(NewService())
	primary := domain.Record{CatalogAID: 1, Title: "Dune"}

	if got, ok := r.Reconcile(context.Background(), primary, nil, KeepUnmatched); !ok || got.Title != "Dune" {
		t.Errorf("expected primary back, got %+v", got)
	}
}

func TestMissPolicy_String(t *testing.T) {
	if KeepUnmatched.String() != "keep_unmatched" || RequireMatch.String() != "require_match" {
		t.Errorf("unexpected names %s, %s", KeepUnmatched, RequireMatch)
	}
}
