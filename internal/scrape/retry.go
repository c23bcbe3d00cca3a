package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"thread-archiver/internal/ledger"
)

type RetryOptions struct {
	OutputRoot    string
	SkipNormalize bool
	Workers       int
	FetchDelay    time.Duration
	Fetcher       Fetcher
	Ledger        *ledger.Store
	Logger        *slog.Logger
}

type RetryThreadResult struct {
	URL       string
	Pages     []int
	Remaining int // failed assets still recorded after the retry
	Skipped   string
	Err       string
}

type RetryResult struct {
	Retried      int
	Skipped      int
	Failed       int
	StillFailing int
	Threads      []RetryThreadResult
}

// RetryFailed re-runs the page pipeline for every page that logged failed
// assets, across all tracked threads. Only the previously-failed URLs are
// forced to download again; everything else on those pages is a cache hit.
func RetryFailed(ctx context.Context, opts RetryOptions) (RetryResult, error) {
	if opts.Ledger == nil {
		return RetryResult{}, fmt.Errorf("progress ledger not configured")
	}

	var result RetryResult
	for _, rec := range opts.Ledger.Threads() {
		pages := rec.FailedPages()
		if len(pages) == 0 {
			continue
		}
		row := RetryThreadResult{URL: rec.URL, Pages: pages}

		if !dirExists(rec.BackupPath) {
			row.Skipped = fmt.Sprintf("backup directory missing: %s", rec.BackupPath)
			result.Skipped++
			result.Threads = append(result.Threads, row)
			continue
		}

		fmt.Printf("retrying %d failed asset(s) on %s (pages %v)\n", len(rec.FailedAssets), rec.URL, pages)
		_, err := Run(ctx, Options{
			URL:           rec.URL,
			OutputRoot:    opts.OutputRoot,
			SkipNormalize: opts.SkipNormalize,
			Workers:       opts.Workers,
			FetchDelay:    opts.FetchDelay,
			Fetcher:       opts.Fetcher,
			Ledger:        opts.Ledger,
			Logger:        opts.Logger,
			retryPages:    pages,
		})
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			row.Err = err.Error()
			result.Failed++
			result.Threads = append(result.Threads, row)
			continue
		}

		result.Retried++
		if after, ok := opts.Ledger.Get(rec.URL); ok {
			row.Remaining = len(after.FailedAssets)
			result.StillFailing += row.Remaining
		}
		result.Threads = append(result.Threads, row)
	}
	return result, nil
}
