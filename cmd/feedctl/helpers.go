package main

import (
	"context"
	"fmt"
	"strings"

	"audiobook-feed/internal/config"
	"audiobook-feed/internal/domain"
	"audiobook-feed/internal/domain/provider"
	"audiobook-feed/internal/domain/provider/fallback"
	"audiobook-feed/internal/store"
)

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(ctx, cfg.Cache.Path, store.WithReuseThreshold(cfg.Cache.ReuseThreshold))
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", cfg.Cache.Path, err)
	}
	return st, nil
}

func newCatalogs(cfg *config.Config, dataset *fallback.Dataset) provider.Set {
	return provider.NewAll(provider.Options{
		DisableA:           cfg.Catalogs.DisableITunes,
		DisableB:           cfg.Catalogs.DisableAudimeta,
		Region:             cfg.Catalogs.Region,
		AffiliateTag:       cfg.Catalogs.AffiliateTag,
		Timeout:            cfg.CatalogTimeout(),
		MaxAttempts:        cfg.Catalogs.MaxAttempts,
		RequestsPerMinuteA: cfg.Catalogs.ITunesRequestsPerMinute,
		RequestsPerMinuteB: cfg.Catalogs.AudimetaRequestsPerMinute,
		Fallback:           dataset,
	})
}

var recordHeaders = []string{"Key", "Title", "Authors", "Genre", "Source", "Purchase"}

func recordRow(rec domain.Record) []string {
	purchase := "no"
	if rec.PurchaseURL != "" {
		purchase = "yes"
	}
	source := rec.Source
	switch {
	case rec.IsFallback:
		source += " (fallback)"
	case rec.IsFromCache:
		source += " (cache)"
	}
	return []string{
		rec.Key(),
		truncate(rec.Title, 48),
		truncate(strings.Join(rec.Authors, ", "), 32),
		rec.Genre,
		strings.TrimSpace(source),
		purchase,
	}
}
