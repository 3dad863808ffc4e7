package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hazyhaar/kreuzberg/cache"
	"github.com/hazyhaar/kreuzberg/dbopen"
	"github.com/hazyhaar/kreuzberg/observability"
)

// openMetrics opens the metrics database. Losing the last rows on a crash
// is acceptable, so writes skip fsync.
func openMetrics(path string, logger *slog.Logger) (*observability.Metrics, func(), error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSynchronous("OFF"))
	if err != nil {
		return nil, nil, fmt.Errorf("metrics db: %w", err)
	}
	m, err := observability.NewMetrics(db, observability.Options{Logger: logger})
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return m, func() {
		m.Close()
		db.Close()
	}, nil
}

func cachePrune(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cache prune", flag.ContinueOnError)
	days := fs.Int("days", 30, "remove entries not read for this many days")
	if err := fs.Parse(args); err != nil {
		return err
	}
	store, err := cache.OpenSQLiteStore(os.Getenv("CACHE_DB"))
	if err != nil {
		return err
	}
	defer store.Close()

	removed, remaining, err := store.Prune(ctx, time.Now().AddDate(0, 0, -*days))
	if err != nil {
		return err
	}
	return printJSON(map[string]int64{"removed": removed, "remaining": remaining})
}

func cmdMetrics(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("metrics requires summary, recent or cleanup")
	}
	path := os.Getenv("METRICS_DB")
	if path == "" {
		return errors.New("METRICS_DB is not set")
	}
	m, closeFn, err := openMetrics(path, slog.Default())
	if err != nil {
		return err
	}
	defer closeFn()

	fs := flag.NewFlagSet("metrics "+args[0], flag.ContinueOnError)
	switch args[0] {
	case "summary":
		since := fs.Duration("since", 24*time.Hour, "window; 0 means all runs")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		var from time.Time
		if *since > 0 {
			from = time.Now().Add(-*since)
		}
		sums, err := m.Summarize(ctx, from)
		if err != nil {
			return err
		}
		return printJSON(sums)
	case "recent":
		n := fs.Int("n", 20, "number of runs")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		runs, err := m.Recent(ctx, *n)
		if err != nil {
			return err
		}
		return printJSON(runs)
	case "cleanup":
		days := fs.Int("days", 30, "retention in days")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		n, err := m.Cleanup(ctx, *days)
		if err != nil {
			return err
		}
		return printJSON(map[string]int64{"removed": n})
	}
	return fmt.Errorf("unknown metrics command: %s", args[0])
}
