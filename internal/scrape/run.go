package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"thread-archiver/internal/assets"
	"thread-archiver/internal/backup"
	"thread-archiver/internal/backupfs"
	"thread-archiver/internal/ledger"
	"thread-archiver/internal/normalize"
)

type Options struct {
	URL           string
	OutputRoot    string
	From          int // 0 = unset
	To            int // 0 = unset
	SkipNormalize bool
	Workers       int
	FetchDelay    time.Duration
	Fetcher       Fetcher
	Ledger        *ledger.Store
	Logger        *slog.Logger

	// set by the CheckUpdates and RetryFailed drivers
	checkUpdates bool
	prevTotal    int
	retryPages   []int
}

type Result struct {
	URL          string
	BackupDir    string
	Title        string
	TotalPages   int
	PagesScraped []int
	FailedAssets int
	Status       string
	Normalized   bool
	NoNewPages   bool
	NothingToDo  bool
}

// Run archives one thread: resolve the target page range, then fetch,
// rewrite, write and ledger-commit each page strictly in order, then
// finalize. Already-complete pages are skipped unless a range forces them.
func Run(ctx context.Context, opts Options) (Result, error) {
	identity := backup.CanonicalURL(opts.URL)
	if err := validateIdentity(identity); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(opts.OutputRoot) == "" {
		return Result{}, fmt.Errorf("output root not configured")
	}
	led := opts.Ledger
	if led == nil {
		return Result{}, fmt.Errorf("progress ledger not configured")
	}
	if opts.Fetcher == nil {
		return Result{}, fmt.Errorf("page fetcher not configured")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}

	rec, known := led.Get(identity)

	// An existing backup is matched by identity only, never by folder name:
	// the ledger's recorded path first, then a metadata scan.
	backupDir := ""
	if known && dirExists(rec.BackupPath) {
		backupDir = rec.BackupPath
	}
	if backupDir == "" {
		dir, found, err := backup.FindExisting(opts.OutputRoot, identity)
		if err != nil {
			return Result{}, err
		}
		if found {
			backupDir = dir
		}
	}

	existingVersion := 0
	if backupDir != "" {
		if meta, err := backup.ReadMetadata(backupDir); err == nil {
			existingVersion = meta.Version
		}
		if opts.SkipNormalize && existingVersion == backup.FormatV2 {
			return Result{}, fmt.Errorf("backup %s is already format version 2; refusing --v1 to avoid a downgrade", backupDir)
		}
	}

	var lock backupfs.BackupLock
	locked := false
	acquire := func(dir string) error {
		l, err := backupfs.AcquireBackupLock(dir)
		if err != nil {
			return err
		}
		lock = l
		locked = true
		return nil
	}
	defer func() {
		if locked {
			_ = lock.Release()
		}
	}()
	if backupDir != "" {
		if err := acquire(backupDir); err != nil {
			return Result{}, err
		}
	}

	// Discovery: the base URL is page 1 and carries the title plus the
	// pagination nav the page count comes from.
	firstPage, err := opts.Fetcher.FetchPage(ctx, identity)
	if err != nil {
		markFailed(led, identity)
		return Result{}, fmt.Errorf("fetch page 1: %w", err)
	}
	doc, err := parseDoc(firstPage)
	if err != nil {
		return Result{}, err
	}
	total := discoverTotalPages(doc)
	title := backup.SanitizeTitle(pageTitle(doc))

	if backupDir == "" {
		backupDir = filepath.Join(opts.OutputRoot, backup.DirName(title, backup.ThreadID(identity)))
		if err := acquire(backupDir); err != nil {
			return Result{}, err
		}
	}

	rec.URL = identity
	rec.BackupPath = backupDir
	rec.TotalPages = total
	if err := led.Upsert(rec); err != nil {
		return Result{}, err
	}

	healed, err := reconcilePagesWithDisk(led, identity, backupDir)
	if err != nil {
		return Result{}, err
	}
	if len(healed) > 0 {
		fmt.Printf("pages missing on disk, marked for re-scrape: %v\n", healed)
	}
	rec, _ = led.Get(identity)

	store, err := assets.Open(backup.AssetsDir(backupDir))
	if err != nil {
		return Result{}, err
	}

	var plan []int
	switch {
	case len(opts.retryPages) > 0:
		plan = append(plan, opts.retryPages...)
		sort.Ints(plan)
		// Only the URLs that failed before download again; every other
		// asset on those pages is a cache hit.
		for _, page := range plan {
			for _, u := range rec.FailedURLsForPage(page) {
				if err := store.Forget(u); err != nil {
					return Result{}, err
				}
			}
		}
		if err := led.ResetPages(identity, plan...); err != nil {
			return Result{}, err
		}

	case opts.checkUpdates:
		if total <= opts.prevTotal {
			return Result{
				URL: identity, BackupDir: backupDir, Title: title,
				TotalPages: total, FailedAssets: len(rec.FailedAssets),
				Status: rec.Status, NoNewPages: true,
			}, nil
		}
		// The previously-last page may have grown since it was saved, so it
		// is re-scraped along with the new pages. Edits to earlier pages are
		// not detected.
		from := opts.prevTotal
		if from < 1 {
			from = 1
		}
		plan = rangePlan(from, total)
		if err := forceRange(led, store, rec, identity, from, total, plan); err != nil {
			return Result{}, err
		}

	case opts.From > 0 || opts.To > 0:
		from, to := clampRange(opts.From, opts.To, total)
		plan = rangePlan(from, to)
		if err := forceRange(led, store, rec, identity, from, to, plan); err != nil {
			return Result{}, err
		}

	default:
		for p := 1; p <= total; p++ {
			if !rec.IsPageComplete(p) {
				plan = append(plan, p)
			}
		}
		if len(plan) == 0 {
			return Result{
				URL: identity, BackupDir: backupDir, Title: title,
				TotalPages: total, FailedAssets: len(rec.FailedAssets),
				Status: rec.Status, NothingToDo: true,
			}, nil
		}
		if plan[0] > 1 {
			fmt.Printf("resuming from page %d (%d already complete)\n", plan[0], rec.CompletedCount())
		}
	}

	if cur, _ := led.Get(identity); cur.Status != ledger.StatusInProgress {
		if err := led.SetStatus(identity, ledger.StatusInProgress); err != nil {
			return Result{}, err
		}
	}

	proc := &pageProcessor{
		identity: identity,
		store:    store,
		fetcher:  opts.Fetcher,
		css:      &cssResolver{store: store, fetcher: opts.Fetcher, log: logger},
		workers:  workers,
		log:      logger,
	}

	scraped := make([]int, 0, len(plan))
	for i, page := range plan {
		if i > 0 && opts.FetchDelay > 0 {
			select {
			case <-ctx.Done():
				markFailed(led, identity)
				return Result{}, ctx.Err()
			case <-time.After(opts.FetchDelay):
			}
		}

		rendered := firstPage
		if page != 1 {
			rendered, err = opts.Fetcher.FetchPage(ctx, backup.PageURL(identity, page))
			if err != nil {
				markFailed(led, identity)
				return Result{}, fmt.Errorf("fetch page %d: %w", page, err)
			}
		}

		out, err := proc.process(ctx, backup.PageURL(identity, page), rendered)
		if err != nil {
			markFailed(led, identity)
			return Result{}, fmt.Errorf("page %d: %w", page, err)
		}
		if err := backupfs.WriteBytes(backup.PagePath(backupDir, page), out.HTML); err != nil {
			markFailed(led, identity)
			return Result{}, err
		}

		failed := make([]ledger.FailedAsset, 0, len(out.Failed))
		for _, u := range out.Failed {
			failed = append(failed, ledger.FailedAsset{Page: page, URL: u})
		}
		if err := led.MarkPageComplete(identity, page, failed); err != nil {
			return Result{}, err
		}
		scraped = append(scraped, page)
		fmt.Printf("[%d/%d] page %d saved (%d assets, %d failed)\n", i+1, len(plan), page, out.Assets, len(out.Failed))
	}

	if err := writeIndexCopy(backupDir); err != nil {
		return Result{}, err
	}

	version := existingVersion
	if version == 0 {
		version = backup.FormatV1
	}
	if err := backup.WriteMetadata(backupDir, backup.Metadata{
		URL:          identity,
		FriendlyName: title,
		Version:      version,
		TotalPages:   total,
	}); err != nil {
		return Result{}, err
	}

	rec, _ = led.Get(identity)
	status := ledger.StatusComplete
	for p := 1; p <= total; p++ {
		if !rec.IsPageComplete(p) {
			status = ledger.StatusInProgress
			break
		}
	}
	if err := led.SetStatus(identity, status); err != nil {
		return Result{}, err
	}

	res := Result{
		URL:          identity,
		BackupDir:    backupDir,
		Title:        title,
		TotalPages:   total,
		PagesScraped: scraped,
		FailedAssets: len(rec.FailedAssets),
		Status:       status,
	}

	if !opts.SkipNormalize {
		if _, err := normalize.Run(backupDir, false); err != nil {
			return res, fmt.Errorf("normalize backup: %w", err)
		}
		res.Normalized = true
	}
	return res, nil
}

// forceRange is the explicit-range discipline: the pages go back to
// not_started, their failure records are cleared, and their failed URLs
// download again instead of resolving to the placeholder.
func forceRange(led *ledger.Store, store *assets.Store, rec ledger.ThreadRecord, identity string, from, to int, plan []int) error {
	for _, fa := range rec.FailedAssets {
		if fa.Page >= from && fa.Page <= to {
			if err := store.Forget(fa.URL); err != nil {
				return err
			}
		}
	}
	if err := led.ClearFailuresForRange(identity, from, to); err != nil {
		return err
	}
	return led.ResetPages(identity, plan...)
}

// reconcilePagesWithDisk demotes complete pages whose rendered file is gone;
// the ledger entry was stale and the page is redone.
func reconcilePagesWithDisk(led *ledger.Store, identity, backupDir string) ([]int, error) {
	rec, ok := led.Get(identity)
	if !ok {
		return nil, nil
	}
	var stale []int
	for page := range rec.Pages {
		if !rec.IsPageComplete(page) {
			continue
		}
		if _, err := os.Stat(backup.PagePath(backupDir, page)); err != nil {
			stale = append(stale, page)
		}
	}
	if len(stale) == 0 {
		return nil, nil
	}
	sort.Ints(stale)
	if err := led.ResetPages(identity, stale...); err != nil {
		return nil, err
	}
	return stale, nil
}

func writeIndexCopy(backupDir string) error {
	data, err := os.ReadFile(backup.PagePath(backupDir, 1))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return backupfs.WriteBytes(filepath.Join(backupDir, backup.IndexFileName), data)
}

// markFailed flags an aborted run. A thread archived complete earlier keeps
// that status; only an in-progress run degrades to failed.
func markFailed(led *ledger.Store, identity string) {
	rec, ok := led.Get(identity)
	if !ok || rec.Status != ledger.StatusInProgress {
		return
	}
	_ = led.SetStatus(identity, ledger.StatusFailed)
}

func validateIdentity(identity string) error {
	u, err := url.Parse(identity)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid thread url %q", identity)
	}
	return nil
}

func clampRange(from, to, total int) (int, int) {
	if from < 1 {
		from = 1
	}
	if from > total {
		from = total
	}
	if to < 1 || to > total {
		to = total
	}
	if to < from {
		to = from
	}
	return from, to
}

func rangePlan(from, to int) []int {
	plan := make([]int, 0, to-from+1)
	for p := from; p <= to; p++ {
		plan = append(plan, p)
	}
	return plan
}

func dirExists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
