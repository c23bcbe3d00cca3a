package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"thread-archiver/internal/backup"
	"thread-archiver/internal/ledger"
)

type UpdateOptions struct {
	URL           string // empty = every tracked thread
	OutputRoot    string
	SkipNormalize bool
	Workers       int
	FetchDelay    time.Duration
	Fetcher       Fetcher
	Ledger        *ledger.Store
	Logger        *slog.Logger
}

type UpdateThreadResult struct {
	URL      string
	NewPages int
	NoChange bool
	Skipped  string // reason, empty when the thread was checked
	Err      string
}

type UpdateResult struct {
	Checked  int
	Updated  int
	NoChange int
	Skipped  int
	Failed   int
	Threads  []UpdateThreadResult
}

// CheckUpdates re-checks tracked threads against the live site. Only pages
// past the previously-known last page are fetched; the old last page itself
// is included because it may have gained posts since it was saved. Edits to
// earlier pages are not detected.
func CheckUpdates(ctx context.Context, opts UpdateOptions) (UpdateResult, error) {
	if opts.Ledger == nil {
		return UpdateResult{}, fmt.Errorf("progress ledger not configured")
	}

	fleet := strings.TrimSpace(opts.URL) == ""
	var targets []ledger.ThreadRecord
	if fleet {
		targets = opts.Ledger.Threads()
	} else {
		identity := backup.CanonicalURL(opts.URL)
		rec, known := opts.Ledger.Get(identity)
		if !known {
			// Never archived before: checking for updates is a full scrape.
			rec = ledger.ThreadRecord{URL: identity}
		}
		targets = []ledger.ThreadRecord{rec}
	}

	var result UpdateResult
	for _, rec := range targets {
		row := UpdateThreadResult{URL: rec.URL}

		if rec.Status == ledger.StatusFailed {
			row.Skipped = "last run failed; re-run archive to resume it first"
			result.Skipped++
			result.Threads = append(result.Threads, row)
			continue
		}
		// A fleet sweep only touches backups that are still on disk; a
		// thread named explicitly gets its directory recreated if needed.
		if fleet && !dirExists(rec.BackupPath) {
			row.Skipped = fmt.Sprintf("backup directory missing: %s", rec.BackupPath)
			result.Skipped++
			result.Threads = append(result.Threads, row)
			continue
		}

		result.Checked++
		fmt.Printf("checking %s (known pages: %d)\n", rec.URL, rec.TotalPages)
		res, err := Run(ctx, Options{
			URL:           rec.URL,
			OutputRoot:    opts.OutputRoot,
			SkipNormalize: opts.SkipNormalize,
			Workers:       opts.Workers,
			FetchDelay:    opts.FetchDelay,
			Fetcher:       opts.Fetcher,
			Ledger:        opts.Ledger,
			Logger:        opts.Logger,
			checkUpdates:  true,
			prevTotal:     rec.TotalPages,
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
		if res.NoNewPages {
			row.NoChange = true
			result.NoChange++
			fmt.Printf("  no new pages\n")
		} else {
			row.NewPages = len(res.PagesScraped)
			result.Updated++
			fmt.Printf("  %d page(s) scraped, total now %d\n", len(res.PagesScraped), res.TotalPages)
		}
		result.Threads = append(result.Threads, row)
	}
	return result, nil
}
