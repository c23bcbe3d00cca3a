package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"thread-archiver/internal/backup"
	"thread-archiver/internal/fetch"
	"thread-archiver/internal/ledger"
	"thread-archiver/internal/scrape"
)

const cliFixtureIdentity = "https://forum.example.com/threads/cli-talk.7"

var cliPNG = append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, []byte("body")...)

type cliFakeFetcher struct {
	mu         sync.Mutex
	pages      map[string][]byte
	assets     map[string][]byte
	assetCalls map[string]int
}

func (f *cliFakeFetcher) FetchPage(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.pages[url]
	if !ok {
		return nil, fmt.Errorf("no page fixture for %s", url)
	}
	return append([]byte(nil), body...), nil
}

func (f *cliFakeFetcher) FetchAsset(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assetCalls[url]++
	body, ok := f.assets[url]
	if !ok {
		return nil, fmt.Errorf("no asset fixture for %s", url)
	}
	return append([]byte(nil), body...), nil
}

// installCLIFetcher routes the archive command's fetcher construction to the
// fake for the duration of one test.
func installCLIFetcher(t *testing.T, f *cliFakeFetcher) {
	t.Helper()
	prev := newPageFetcher
	newPageFetcher = func(fetch.Options) scrape.Fetcher { return f }
	t.Cleanup(func() { newPageFetcher = prev })
}

func cliThreadFixture(totalPages int) *cliFakeFetcher {
	f := &cliFakeFetcher{
		pages:      map[string][]byte{},
		assets:     map[string][]byte{},
		assetCalls: map[string]int{},
	}
	for p := 1; p <= totalPages; p++ {
		nav := ""
		if totalPages > 1 {
			nav = fmt.Sprintf(`<nav><a href="%s/page-%d">last</a></nav>`, cliFixtureIdentity, totalPages)
		}
		f.pages[backup.PageURL(cliFixtureIdentity, p)] = []byte(fmt.Sprintf(
			`<html><head><title>CLI Talk | Example Forum</title></head><body>%s<img class="bbImage" src="https://cdn.example.com/pic-%d.png"></body></html>`,
			nav, p))
		f.assets[fmt.Sprintf("https://cdn.example.com/pic-%d.png", p)] = cliPNG
	}
	return f
}

func TestArchiveCommandEndToEnd(t *testing.T) {
	tmp := t.TempDir()
	output := filepath.Join(tmp, "archive")
	configPath := filepath.Join(tmp, "config", "archiver.json")

	f := cliThreadFixture(2)
	installCLIFetcher(t, f)

	err := Run([]string{"archive", cliFixtureIdentity,
		"--output", output, "--config", configPath, "--delay-ms", "0", "--v1"})
	if err != nil {
		t.Fatalf("archive: %v", err)
	}

	led, err := ledger.Load(ledger.PathIn(output))
	if err != nil {
		t.Fatal(err)
	}
	rec, ok := led.Get(cliFixtureIdentity)
	if !ok {
		t.Fatal("expected a ledger record")
	}
	if rec.Status != ledger.StatusComplete || rec.TotalPages != 2 {
		t.Fatalf("record = %+v", rec)
	}
	for p := 1; p <= 2; p++ {
		if _, err := os.Stat(backup.PagePath(rec.BackupPath, p)); err != nil {
			t.Fatalf("page %d missing: %v", p, err)
		}
	}
	if _, err := os.Stat(filepath.Join(rec.BackupPath, backup.IndexFileName)); err != nil {
		t.Fatalf("index.html missing: %v", err)
	}

	// A second identical invocation is a no-op resume; no asset is fetched
	// twice through the CLI either.
	if err := Run([]string{"archive", cliFixtureIdentity,
		"--output", output, "--config", configPath, "--delay-ms", "0", "--v1"}); err != nil {
		t.Fatalf("resume archive: %v", err)
	}
	for url, n := range f.assetCalls {
		if n != 1 {
			t.Errorf("asset %s fetched %d times, want 1", url, n)
		}
	}
}

func TestArchiveCommandCheckUpdatesAll(t *testing.T) {
	tmp := t.TempDir()
	output := filepath.Join(tmp, "archive")
	configPath := filepath.Join(tmp, "config", "archiver.json")

	f := cliThreadFixture(2)
	installCLIFetcher(t, f)
	if err := Run([]string{"archive", cliFixtureIdentity,
		"--output", output, "--config", configPath, "--delay-ms", "0", "--v1"}); err != nil {
		t.Fatalf("seed archive: %v", err)
	}

	// Upstream grows to 3 pages; the fleet sweep re-scrapes page 2 and
	// fetches page 3.
	grown := cliThreadFixture(3)
	installCLIFetcher(t, grown)
	if err := Run([]string{"archive", "--check-updates",
		"--output", output, "--config", configPath, "--delay-ms", "0", "--v1"}); err != nil {
		t.Fatalf("check-updates: %v", err)
	}

	led, err := ledger.Load(ledger.PathIn(output))
	if err != nil {
		t.Fatal(err)
	}
	rec, _ := led.Get(cliFixtureIdentity)
	if rec.TotalPages != 3 || rec.CompletedCount() != 3 {
		t.Fatalf("after update: total=%d complete=%d", rec.TotalPages, rec.CompletedCount())
	}
}

func TestArchiveCommandUsageErrors(t *testing.T) {
	if err := Run([]string{"archive"}); err == nil {
		t.Fatal("expected an error without a URL")
	}
	if err := Run([]string{"archive", "--check-updates", "--retry-failed"}); err == nil {
		t.Fatal("expected an error for conflicting modes")
	}
	if err := Run([]string{"archive", "--retry-failed", "https://x.example/threads/a.1"}); err == nil {
		t.Fatal("expected an error for retry-failed with a URL")
	}
	if err := Run([]string{"nonsense"}); err == nil {
		t.Fatal("expected an error for an unknown command")
	}
}
