package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"audiobook-feed/internal/domain"
	"audiobook-feed/internal/domain/provider/fallback"
	"audiobook-feed/internal/service"
)

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var (
		count   int
		genres  []string
		asJSON  bool
		noCache bool
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Run the acquisition pipeline and print the records it produces",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			dataset, err := fallback.Load()
			if err != nil {
				return err
			}
			catalogs := newCatalogs(cfg, dataset)
			svc := service.NewService(catalogs.List()...)

			tasks := service.NewTaskQueue(int64(cfg.Feed.TaskConcurrency), nil, nil)
			var cache service.CacheWriter
			if !noCache {
				st, err := openStore(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				defer st.Close()
				cache = st
			}
			// Closed before the store so background enrichment can finish.
			defer tasks.Close()

			enrich := cfg.Feed.BackgroundEnrich
			if noCache {
				enrich = 0
			}
			pipeline := service.NewPipeline(catalogs.B, catalogs.A, service.NewReconciler(svc), cache, tasks,
				service.WithBackgroundEnrich(enrich),
			)

			opts := cfg.FeedOptions()
			if len(genres) > 0 {
				opts.EnabledGenres = genres
			}

			var records []domain.Record
			seen := make(map[string]bool)
			for range count {
				rec := pipeline.FetchOne(cmd.Context(), opts)
				if rec == nil {
					break
				}
				if seen[rec.Key()] {
					continue
				}
				seen[rec.Key()] = true
				records = append(records, *rec)
			}
			return printRecords(cmd, records, asJSON)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of pipeline runs")
	cmd.Flags().StringSliceVarP(&genres, "genre", "g", nil, "Restrict to genres (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Do not write enrichment results to the overflow cache")
	return cmd
}

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var (
		catalogID string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the catalogs by keyword",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			dataset, err := fallback.Load()
			if err != nil {
				return err
			}
			catalogs := newCatalogs(cfg, dataset)
			svc := service.NewService(catalogs.List()...)

			query := strings.Join(args, " ")
			if catalogID == "" {
				return printRecords(cmd, svc.Search(cmd.Context(), query).Matches, asJSON)
			}
			c, ok := catalogs.ByID(catalogID)
			if !ok {
				return fmt.Errorf("unknown catalog %q", catalogID)
			}
			return printRecords(cmd, svc.SearchCatalog(cmd.Context(), c, query), asJSON)
		},
	}
	cmd.Flags().StringVar(&catalogID, "catalog", "", "Search only this catalog")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	return cmd
}

func printRecords(cmd *cobra.Command, records []domain.Record, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if records == nil {
			records = []domain.Record{}
		}
		return enc.Encode(records)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No records")
		return nil
	}
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, recordRow(rec))
	}
	fmt.Fprintln(out, renderTable(recordHeaders, rows, nil))
	return nil
}
