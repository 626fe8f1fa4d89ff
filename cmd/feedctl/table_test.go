package main

import (
	"strings"
	"testing"

	"audiobook-feed/internal/domain"
)

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"Key", "Count"}, [][]string{{"B0001", "3"}, {"B0002"}}, []columnAlignment{alignLeft, alignRight})
	for _, want := range []string{"Key", "Count", "B0001", "B0002"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if renderTable(nil, nil, nil) != "" {
		t.Error("expected empty output without headers")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"longer title", 6, "longe…"},
		{"Grüße aus", 4, "Grü…"},
		{"x", 0, "x"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestRecordRow(t *testing.T) {
	row := recordRow(domain.Record{
		CatalogBID:  "B0001",
		Title:       "Dune",
		Authors:     domain.NewStringSet("Frank Herbert"),
		Genre:       "Science Fiction",
		Source:      "audimeta",
		PurchaseURL: "https://example.com/pd/B0001",
		IsFallback:  true,
	})
	if len(row) != len(recordHeaders) {
		t.Fatalf("expected %d columns, got %d", len(recordHeaders), len(row))
	}
	if row[2] != "Frank Herbert" || row[4] != "audimeta (fallback)" || row[5] != "yes" {
		t.Errorf("unexpected row: %v", row)
	}
}
