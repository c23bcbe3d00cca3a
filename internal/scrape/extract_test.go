package scrape

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"thread-archiver/internal/assets"
)

func newTestProcessor(t *testing.T, f *fakeFetcher) *pageProcessor {
	t.Helper()
	store, err := assets.Open(filepath.Join(t.TempDir(), "assets"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return &pageProcessor{
		identity: fixtureIdentity,
		store:    store,
		fetcher:  f,
		css:      &cssResolver{store: store, fetcher: f, log: quietLogger()},
		workers:  2,
		log:      quietLogger(),
	}
}

func TestProcessRewritesEveryReferenceKind(t *testing.T) {
	f := newFakeFetcher()
	f.assets["https://forum.example.com/css.php?css=public"] = []byte(
		`body { background: url("/styles/bg2.png"); } @import "extra.css";`)
	f.assets["https://forum.example.com/extra.css"] = []byte(`.x { color: red; }`)
	for _, u := range []string{
		"https://forum.example.com/styles/bg.png",
		"https://forum.example.com/styles/bg2.png",
		"https://forum.example.com/avatars/u1.jpg",
		"https://forum.example.com/attachments/diagram-png.100/",
		"https://cdn.example.com/lazy.png",
		"https://cdn.example.com/sunset.jpg",
		"https://cdn.example.com/w480.png",
		"https://cdn.example.com/w960.png",
		"https://cdn.example.com/tile.png",
	} {
		f.assets[u] = pngFixture
	}

	rendered := []byte(`<html><head>
<title>Widget Talk | Example Forum</title>
<link rel="stylesheet" href="/css.php?css=public">
<script src="/js/xf/core.js"></script>
<style>.hero { background: url(/styles/bg.png); }</style>
</head><body>
<nav><a href="` + fixtureIdentity + `/page-2">2</a>
<a href="https://forum.example.com/threads/other-thread.7/page-3">elsewhere</a></nav>
<img class="avatar" src="/avatars/u1.jpg">
<div class="message-cell--main">
<img class="bbImage" data-src="https://cdn.example.com/lazy.png" src="data:image/svg+xml;base64,ZHVtbXk=">
<a href="/attachments/diagram-png.100/">diagram</a>
<a href="/index.php?media/sunset.55/full"><img src="https://cdn.example.com/sunset.jpg"></a>
<img srcset="https://cdn.example.com/w480.png 480w, https://cdn.example.com/w960.png 960w" src="https://cdn.example.com/w480.png">
<div style="background-image: url('https://cdn.example.com/tile.png')">styled</div>
</div>
</body></html>`)

	proc := newTestProcessor(t, f)
	out, err := proc.process(context.Background(), fixtureIdentity, rendered)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(out.Failed) != 0 {
		t.Fatalf("unexpected failures: %v", out.Failed)
	}
	content := string(out.HTML)

	if strings.Contains(content, "<script") {
		t.Errorf("scripts should be stripped:\n%s", content)
	}
	if got := f.assetFetches("https://forum.example.com/js/xf/core.js"); got != 0 {
		t.Errorf("script source fetched %d times, want 0", got)
	}

	if !strings.Contains(content, `href="assets/css.php.css"`) {
		t.Errorf("stylesheet link not localized with forced .css suffix:\n%s", content)
	}
	css, err := os.ReadFile(filepath.Join(proc.store.Dir(), "css.php.css"))
	if err != nil {
		t.Fatalf("committed stylesheet missing: %v", err)
	}
	if !strings.Contains(string(css), `url("bg2.png")`) {
		t.Errorf("url() inside a committed sheet must be relative to the sheet:\n%s", css)
	}
	if !strings.Contains(string(css), `@import url("extra.css");`) {
		t.Errorf("@import not localized:\n%s", css)
	}
	if _, err := os.Stat(filepath.Join(proc.store.Dir(), "extra.css")); err != nil {
		t.Errorf("imported sheet not committed: %v", err)
	}

	if !strings.Contains(content, "url(assets/bg.png)") {
		t.Errorf("style block url() should point into assets/:\n%s", content)
	}

	if !strings.Contains(content, `src="assets/lazy.png"`) {
		t.Errorf("data-src image not localized:\n%s", content)
	}
	if strings.Contains(content, "data-src") {
		t.Errorf("data-src attribute should be dropped after localization:\n%s", content)
	}
	if !strings.Contains(content, `href="assets/diagram-png.100"`) {
		t.Errorf("attachment link not localized:\n%s", content)
	}
	if !strings.Contains(content, `href="assets/sunset.jpg"`) {
		t.Errorf("media embed should link the image, not the gallery wrapper:\n%s", content)
	}
	if !strings.Contains(content, `srcset="assets/w480.png 480w, assets/w960.png 960w"`) {
		t.Errorf("srcset not localized with descriptors intact:\n%s", content)
	}
	if !strings.Contains(content, `url('assets/tile.png')`) {
		t.Errorf("inline style url() not localized:\n%s", content)
	}

	if !strings.Contains(content, `href="page-2.html"`) {
		t.Errorf("own pagination should point at local files:\n%s", content)
	}
	if !strings.Contains(content, "threads/other-thread.7/page-3") {
		t.Errorf("links to other threads must be left alone:\n%s", content)
	}

	if !strings.Contains(content, `<a href="assets/lazy.png" target="_blank"`) {
		t.Errorf("post image should be wrapped in a direct-view anchor:\n%s", content)
	}
	if strings.Contains(content, `<a href="assets/u1.jpg"`) {
		t.Errorf("avatars must not be wrapped:\n%s", content)
	}

	if !strings.Contains(content, offlineStyleID) {
		t.Errorf("offline style block missing:\n%s", content)
	}
	if !strings.Contains(content, `name="viewport"`) {
		t.Errorf("viewport meta missing:\n%s", content)
	}
}

func TestProcessFailedAssetGetsPlaceholder(t *testing.T) {
	const broken = "https://cdn.example.com/broken.png"
	f := newFakeFetcher()
	f.assetErrs[broken] = errors.New("403 forbidden")

	proc := newTestProcessor(t, f)
	out, err := proc.process(context.Background(), fixtureIdentity,
		[]byte(fmt.Sprintf(`<html><body><img src="%s"></body></html>`, broken)))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(out.Failed) != 1 || out.Failed[0] != broken {
		t.Fatalf("failed = %v, want [%s]", out.Failed, broken)
	}
	if !strings.Contains(string(out.HTML), "assets/"+assets.PlaceholderFileName) {
		t.Errorf("page should link the placeholder:\n%s", out.HTML)
	}
	if _, err := os.Stat(filepath.Join(proc.store.Dir(), assets.PlaceholderFileName)); err != nil {
		t.Errorf("placeholder not committed: %v", err)
	}
}

func TestProcessRecordsStickyFailureOnReScrape(t *testing.T) {
	const broken = "https://cdn.example.com/broken.png"
	f := newFakeFetcher()
	f.assetErrs[broken] = errors.New("403 forbidden")
	page := []byte(fmt.Sprintf(`<html><body><img src="%s"></body></html>`, broken))

	proc := newTestProcessor(t, f)
	if _, err := proc.process(context.Background(), fixtureIdentity, page); err != nil {
		t.Fatalf("first process: %v", err)
	}
	out, err := proc.process(context.Background(), fixtureIdentity, page)
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if len(out.Failed) != 1 {
		t.Fatalf("a still-failed URL must be re-reported, got %v", out.Failed)
	}
	if got := f.assetFetches(broken); got != 1 {
		t.Errorf("failed URL fetched %d times, want 1 (no retry without forget)", got)
	}
}

func TestCSSFailureKeepsRemoteReference(t *testing.T) {
	f := newFakeFetcher()
	f.assets["https://forum.example.com/css.php?css=public"] = []byte(
		`body { background: url(https://cdn.example.com/gone.png); }`)
	f.assetErrs["https://cdn.example.com/gone.png"] = errors.New("404")

	rendered := []byte(`<html><head>` +
		`<link rel="stylesheet" href="/css.php?css=public">` +
		`</head><body>hello</body></html>`)

	proc := newTestProcessor(t, f)
	out, err := proc.process(context.Background(), fixtureIdentity, rendered)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(out.Failed) != 0 {
		t.Fatalf("css asset failures must not be recorded: %v", out.Failed)
	}

	css, err := os.ReadFile(filepath.Join(proc.store.Dir(), "css.php.css"))
	if err != nil {
		t.Fatalf("committed stylesheet missing: %v", err)
	}
	if !strings.Contains(string(css), "url(https://cdn.example.com/gone.png)") {
		t.Errorf("failed css asset should keep its remote URL:\n%s", css)
	}
	if _, ok := proc.store.Resolve("https://cdn.example.com/gone.png"); ok {
		t.Errorf("failed css asset must not enter the store")
	}
}

func TestUnfetchableStylesheetStaysRemote(t *testing.T) {
	f := newFakeFetcher()
	f.assetErrs["https://forum.example.com/css.php?css=public"] = errors.New("500")

	rendered := []byte(`<html><head>` +
		`<link rel="stylesheet" href="/css.php?css=public">` +
		`</head><body>hello</body></html>`)

	proc := newTestProcessor(t, f)
	out, err := proc.process(context.Background(), fixtureIdentity, rendered)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(out.Failed) != 0 {
		t.Fatalf("stylesheet failures must not be recorded: %v", out.Failed)
	}
	if !strings.Contains(string(out.HTML), `href="/css.php?css=public"`) {
		t.Errorf("unfetchable stylesheet should keep its original href:\n%s", out.HTML)
	}
}

func TestCSSImportCycleTerminates(t *testing.T) {
	f := newFakeFetcher()
	f.assets["https://forum.example.com/a.css"] = []byte(`@import "b.css"; .a{}`)
	f.assets["https://forum.example.com/b.css"] = []byte(`@import "a.css"; .b{}`)

	rendered := []byte(`<html><head>` +
		`<link rel="stylesheet" href="/a.css">` +
		`</head><body>x</body></html>`)

	proc := newTestProcessor(t, f)
	if _, err := proc.process(context.Background(), fixtureIdentity, rendered); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := f.assetFetches("https://forum.example.com/a.css"); got != 1 {
		t.Errorf("a.css fetched %d times, want 1", got)
	}
	if got := f.assetFetches("https://forum.example.com/b.css"); got != 1 {
		t.Errorf("b.css fetched %d times, want 1", got)
	}
	if _, err := os.Stat(filepath.Join(proc.store.Dir(), "a.css")); err != nil {
		t.Errorf("a.css not committed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(proc.store.Dir(), "b.css")); err != nil {
		t.Errorf("b.css not committed: %v", err)
	}
}

func TestSplitSrcsetKeepsDescriptors(t *testing.T) {
	cands := splitSrcset(" /a.png 480w, /b.png 2x ,/c.png ")
	if len(cands) != 3 {
		t.Fatalf("candidates = %v", cands)
	}
	if cands[0].url != "/a.png" || cands[0].desc != "480w" {
		t.Errorf("first = %+v", cands[0])
	}
	if cands[1].url != "/b.png" || cands[1].desc != "2x" {
		t.Errorf("second = %+v", cands[1])
	}
	if cands[2].url != "/c.png" || cands[2].desc != "" {
		t.Errorf("third = %+v", cands[2])
	}
}
