package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"thread-archiver/internal/config"
	"thread-archiver/internal/fetch"
	"thread-archiver/internal/ledger"
	"thread-archiver/internal/scrape"
)

// newPageFetcher builds the default Page Fetcher. Tests swap it for an
// in-memory fake; nothing in the orchestration below knows the difference.
var newPageFetcher = func(opts fetch.Options) scrape.Fetcher {
	return fetch.NewClient(opts)
}

func runArchive(args []string) error {
	fs := flag.NewFlagSet("archive", flag.ContinueOnError)
	output := fs.String("output", "", "output root directory (default: settings output_root)")
	from := fs.Int("from", 0, "first page to force re-scrape (0 = resume)")
	to := fs.Int("to", 0, "last page to force re-scrape (0 = resume)")
	v1 := fs.Bool("v1", false, "skip normalization; keep the backup at format version 1")
	workers := fs.Int("workers", 0, "asset download workers (0 = settings/default)")
	delayMS := fs.Int("delay-ms", -1, "delay between page fetches in ms (-1 = settings/default)")
	configPath := fs.String("config", config.DefaultConfigPath, "settings file path")
	checkUpdates := fs.Bool("check-updates", false, "re-check tracked threads for new pages")
	retryFailed := fs.Bool("retry-failed", false, "re-attempt previously failed assets across all threads")
	verbose := fs.Bool("verbose", false, "log fetch and asset diagnostics to stderr")
	jsonOut := fs.Bool("json", false, "print JSON output")

	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *checkUpdates && *retryFailed {
		return errors.New("--check-updates and --retry-failed are mutually exclusive")
	}

	url := strings.TrimSpace(fs.Arg(0))
	if url == "" && !*checkUpdates && !*retryFailed {
		fs.Usage()
		return errors.New("thread URL is required (or use --check-updates / --retry-failed)")
	}
	if url != "" && *retryFailed {
		return errors.New("--retry-failed operates on all tracked threads; drop the URL")
	}

	settings, err := config.Read(*configPath)
	if err != nil {
		return err
	}
	outputRoot := firstNonEmpty(strings.TrimSpace(*output), settings.OutputRoot)
	effectiveWorkers := firstPositive(*workers, settings.Workers)
	delay := time.Duration(settings.FetchDelayMS) * time.Millisecond
	if *delayMS >= 0 {
		delay = time.Duration(*delayMS) * time.Millisecond
	}

	logger := newLogger(*verbose)
	fetcher := newPageFetcher(fetch.Options{
		UserAgent:   settings.UserAgent,
		Proxy:       settings.Proxy,
		SessionsDir: fetch.SessionsDirIn(outputRoot),
		Logger:      logger,
	})

	led, err := ledger.Load(ledger.PathIn(outputRoot))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *retryFailed:
		res, err := scrape.RetryFailed(ctx, scrape.RetryOptions{
			OutputRoot:    outputRoot,
			SkipNormalize: *v1,
			Workers:       effectiveWorkers,
			FetchDelay:    delay,
			Fetcher:       fetcher,
			Ledger:        led,
			Logger:        logger,
		})
		if err != nil {
			return authHint(err)
		}
		if *jsonOut {
			return printJSON(res)
		}
		fmt.Println("retry summary")
		fmt.Printf("threads_retried: %d\n", res.Retried)
		fmt.Printf("threads_skipped: %d\n", res.Skipped)
		fmt.Printf("threads_failed: %d\n", res.Failed)
		fmt.Printf("assets_still_failing: %d\n", res.StillFailing)
		return nil

	case *checkUpdates:
		res, err := scrape.CheckUpdates(ctx, scrape.UpdateOptions{
			URL:           url,
			OutputRoot:    outputRoot,
			SkipNormalize: *v1,
			Workers:       effectiveWorkers,
			FetchDelay:    delay,
			Fetcher:       fetcher,
			Ledger:        led,
			Logger:        logger,
		})
		if err != nil {
			return authHint(err)
		}
		if *jsonOut {
			return printJSON(res)
		}
		fmt.Println("update summary")
		fmt.Printf("threads_checked: %d\n", res.Checked)
		fmt.Printf("threads_updated: %d\n", res.Updated)
		fmt.Printf("threads_unchanged: %d\n", res.NoChange)
		fmt.Printf("threads_skipped: %d\n", res.Skipped)
		fmt.Printf("threads_failed: %d\n", res.Failed)
		if res.Failed > 0 {
			return errors.New("one or more threads failed to update")
		}
		return nil

	default:
		res, err := scrape.Run(ctx, scrape.Options{
			URL:           url,
			OutputRoot:    outputRoot,
			From:          *from,
			To:            *to,
			SkipNormalize: *v1,
			Workers:       effectiveWorkers,
			FetchDelay:    delay,
			Fetcher:       fetcher,
			Ledger:        led,
			Logger:        logger,
		})
		if err != nil {
			return authHint(err)
		}
		if *jsonOut {
			return printJSON(res)
		}
		fmt.Println("archive summary")
		fmt.Printf("url: %s\n", res.URL)
		fmt.Printf("backup_dir: %s\n", res.BackupDir)
		fmt.Printf("title: %s\n", res.Title)
		fmt.Printf("total_pages: %d\n", res.TotalPages)
		fmt.Printf("pages_scraped: %d\n", len(res.PagesScraped))
		fmt.Printf("status: %s\n", res.Status)
		fmt.Printf("normalized: %t\n", res.Normalized)
		if res.NothingToDo {
			fmt.Println("nothing to do: every page is already complete")
		}
		if res.FailedAssets > 0 {
			fmt.Printf("failed_assets: %d\n", res.FailedAssets)
			fmt.Println("next: rerun with `thread-archiver archive --retry-failed` to re-attempt them")
		}
		return nil
	}
}

// authHint attaches the operator fix to an auth-wall abort; the core only
// detects the wall, acquiring a session is a manual cookie import.
func authHint(err error) error {
	if errors.Is(err, fetch.ErrAuthRequired) {
		return fmt.Errorf("%w\nnext: log in with a browser, export cookies.txt, then run `thread-archiver settings set --cookies-file <path>`", err)
	}
	return err
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
