package scrape

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"

	"thread-archiver/internal/assets"
	"thread-archiver/internal/backup"
)

// pageProcessor turns one rendered page into its offline form: every asset
// reference routed through the store, pagination rewritten to local files,
// post images wrapped for direct viewing.
type pageProcessor struct {
	identity string
	store    *assets.Store
	fetcher  Fetcher
	css      *cssResolver
	workers  int
	log      *slog.Logger
}

type processedPage struct {
	HTML   []byte
	Failed []string // asset URLs that resolved to the placeholder, sorted
	Assets int
}

type lookupFunc func(absURL string) (string, bool)

// assetRefs is the result of the collection pass: the set of absolute URLs
// to resolve and the delayed DOM edits to apply once they are.
type assetRefs struct {
	urls  map[string]bool
	edits []func(lookup lookupFunc)
}

func (c *assetRefs) need(abs string) { c.urls[abs] = true }

func (p *pageProcessor) process(ctx context.Context, pageURL string, rendered []byte) (processedPage, error) {
	doc, err := parseDoc(rendered)
	if err != nil {
		return processedPage{}, err
	}

	// Scripts are dead weight offline; the injected style sheet takes over
	// what they did (spoiler reveal, layout).
	doc.Find("script").Remove()

	if err := p.localizeStylesheets(ctx, doc, pageURL); err != nil {
		return processedPage{}, err
	}
	if err := p.localizeStyleBlocks(ctx, doc, pageURL); err != nil {
		return processedPage{}, err
	}

	refs := p.collect(doc, pageURL)
	resolved, failed, err := p.resolveAll(ctx, refs.urls)
	if err != nil {
		return processedPage{}, err
	}

	lookup := func(abs string) (string, bool) {
		ref, ok := resolved[abs]
		if !ok {
			return "", false
		}
		return backup.AssetsDirName + "/" + ref.Local, true
	}
	for _, edit := range refs.edits {
		edit(lookup)
	}

	p.rewritePagination(doc, pageURL)
	wrapPostImages(doc)
	injectOfflineStyle(doc)

	out, err := doc.Html()
	if err != nil {
		return processedPage{}, err
	}
	return processedPage{HTML: []byte(out), Failed: failed, Assets: len(refs.urls)}, nil
}

// localizeStylesheets fetches and commits every linked stylesheet, with its
// own url()/@import references resolved recursively. A sheet that cannot be
// fetched keeps its remote href.
func (p *pageProcessor) localizeStylesheets(ctx context.Context, doc *goquery.Document, pageURL string) error {
	type sheet struct {
		sel *goquery.Selection
		abs string
	}
	var sheets []sheet
	doc.Find("link[href]").Each(func(_ int, link *goquery.Selection) {
		rel, _ := link.Attr("rel")
		if !strings.Contains(strings.ToLower(rel), "stylesheet") {
			return
		}
		href, _ := link.Attr("href")
		if isSkippableRef(href) {
			return
		}
		if abs, ok := resolveAgainst(pageURL, href); ok {
			sheets = append(sheets, sheet{sel: link, abs: abs})
		}
	})

	for _, s := range sheets {
		local, ok, err := p.css.resolveStylesheet(ctx, s.abs, map[string]bool{})
		if err != nil {
			return err
		}
		if ok {
			s.sel.SetAttr("href", backup.AssetsDirName+"/"+local)
		}
	}
	return nil
}

func (p *pageProcessor) localizeStyleBlocks(ctx context.Context, doc *goquery.Document, pageURL string) error {
	var blocks []*goquery.Selection
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		if strings.Contains(text, "url(") || strings.Contains(text, "@import") {
			blocks = append(blocks, s)
		}
	})
	for _, s := range blocks {
		out, err := p.css.rewriteText(ctx, s.Text(), pageURL, backup.AssetsDirName+"/", map[string]bool{})
		if err != nil {
			return err
		}
		s.SetText(out)
	}
	return nil
}

// collect walks the DOM for asset references without touching it. Edits are
// applied after the download pool resolves the URL set, so the page is
// mutated exactly once and the collection order never depends on resolution
// order.
func (p *pageProcessor) collect(doc *goquery.Document, pageURL string) *assetRefs {
	c := &assetRefs{urls: map[string]bool{}}

	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("data-src")
		if src == "" {
			src, _ = img.Attr("src")
		}
		if !isSkippableRef(src) {
			if abs, ok := resolveAgainst(pageURL, src); ok {
				c.need(abs)
				c.edits = append(c.edits, func(lookup lookupFunc) {
					if local, ok := lookup(abs); ok {
						img.SetAttr("src", local)
						img.RemoveAttr("data-src")
					}
				})
			}
		}

		if srcset, ok := img.Attr("srcset"); ok && strings.TrimSpace(srcset) != "" {
			cands := splitSrcset(srcset)
			for i := range cands {
				if isSkippableRef(cands[i].url) {
					continue
				}
				if abs, ok := resolveAgainst(pageURL, cands[i].url); ok {
					cands[i].abs = abs
					c.need(abs)
				}
			}
			c.edits = append(c.edits, func(lookup lookupFunc) {
				img.SetAttr("srcset", joinSrcset(cands, lookup))
			})
		}
	})

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if isSkippableRef(href) {
			return
		}
		switch {
		case strings.Contains(strings.ToLower(href), "attachment"):
			if abs, ok := resolveAgainst(pageURL, href); ok {
				c.need(abs)
				c.edits = append(c.edits, func(lookup lookupFunc) {
					if local, ok := lookup(abs); ok {
						a.SetAttr("href", local)
					}
				})
			}
		case strings.Contains(href, "index.php?media/"):
			// Media embeds link to a gallery wrapper page; the direct image
			// in the child img is the target worth keeping.
			img := a.Find("img").First()
			imgSrc, _ := img.Attr("src")
			target := href
			if img.Length() > 0 && !isSkippableRef(imgSrc) {
				target = imgSrc
			}
			if abs, ok := resolveAgainst(pageURL, target); ok {
				c.need(abs)
				c.edits = append(c.edits, func(lookup lookupFunc) {
					if local, ok := lookup(abs); ok {
						a.SetAttr("href", local)
					}
				})
			}
		}
	})

	doc.Find("video, audio, source").Each(func(_ int, media *goquery.Selection) {
		src, _ := media.Attr("data-src")
		if src == "" {
			src, _ = media.Attr("src")
		}
		if isSkippableRef(src) {
			return
		}
		if abs, ok := resolveAgainst(pageURL, src); ok {
			c.need(abs)
			c.edits = append(c.edits, func(lookup lookupFunc) {
				if local, ok := lookup(abs); ok {
					media.SetAttr("src", local)
					media.RemoveAttr("data-src")
				}
			})
		}
	})

	doc.Find("[style]").Each(func(_ int, el *goquery.Selection) {
		style, _ := el.Attr("style")
		if !strings.Contains(style, "url(") {
			return
		}
		for _, m := range cssURLRe.FindAllStringSubmatch(style, -1) {
			ref := strings.TrimSpace(m[2])
			if isSkippableRef(ref) {
				continue
			}
			if abs, ok := resolveAgainst(pageURL, ref); ok {
				c.need(abs)
			}
		}
		c.edits = append(c.edits, func(lookup lookupFunc) {
			el.SetAttr("style", rewriteInlineStyle(style, pageURL, lookup))
		})
	})

	return c
}

// resolveAll funnels the page's URL set through the store on a bounded
// worker pool. Same-URL concurrency collapses to one download inside the
// store; a download failure becomes a placeholder, never an abort.
func (p *pageProcessor) resolveAll(ctx context.Context, urls map[string]bool) (map[string]assets.Ref, []string, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	var mu sync.Mutex
	resolved := make(map[string]assets.Ref, len(urls))
	failed := []string{}

	for u := range urls {
		u := u
		g.Go(func() error {
			ref, err := p.store.Fetch(u, func() ([]byte, error) {
				data, ferr := p.fetcher.FetchAsset(gctx, u)
				if ferr != nil && gctx.Err() != nil {
					return nil, assets.ErrFetchAborted
				}
				return data, ferr
			})
			if err != nil && !ref.Failed {
				return err
			}
			if err != nil {
				p.log.Warn("asset failed, placeholder substituted", "url", u, "error", err)
			}
			mu.Lock()
			resolved[u] = ref
			if ref.Failed {
				failed = append(failed, u)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	sort.Strings(failed)
	return resolved, failed, nil
}

func rewriteInlineStyle(style, baseURL string, lookup lookupFunc) string {
	return cssURLRe.ReplaceAllStringFunc(style, func(m string) string {
		parts := cssURLRe.FindStringSubmatch(m)
		ref := strings.TrimSpace(parts[2])
		if isSkippableRef(ref) {
			return m
		}
		abs, ok := resolveAgainst(baseURL, ref)
		if !ok {
			return m
		}
		local, ok := lookup(abs)
		if !ok {
			return m
		}
		return "url(" + parts[1] + local + parts[3] + ")"
	})
}

// rewritePagination points this thread's own page links at the local files.
// Links to other threads are left alone.
func (p *pageProcessor) rewritePagination(doc *goquery.Document, pageURL string) {
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if isSkippableRef(href) || strings.HasPrefix(href, backup.AssetsDirName+"/") {
			return
		}
		abs, ok := resolveAgainst(pageURL, href)
		if !ok {
			return
		}
		if backup.CanonicalURL(abs) != p.identity {
			return
		}
		if m := pageHrefRe.FindStringSubmatch(abs); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				a.SetAttr("href", backup.PageFileName(n))
				return
			}
		}
		a.SetAttr("href", backup.PageFileName(1))
	})
}

// wrapPostImages puts bare post images inside direct-view anchors so a click
// opens the full file. Images already inside a link keep it.
func wrapPostImages(doc *goquery.Document) {
	seen := map[*html.Node]bool{}
	wrap := func(_ int, img *goquery.Selection) {
		if len(img.Nodes) == 0 || seen[img.Nodes[0]] {
			return
		}
		seen[img.Nodes[0]] = true
		if class, _ := img.Attr("class"); strings.Contains(class, "avatar") {
			return
		}
		if goquery.NodeName(img.Parent()) == "a" {
			return
		}
		src, _ := img.Attr("src")
		if isSkippableRef(src) {
			return
		}
		img.WrapNode(&html.Node{
			Type:     html.ElementNode,
			Data:     "a",
			DataAtom: atom.A,
			Attr: []html.Attribute{
				{Key: "href", Val: src},
				{Key: "target", Val: "_blank"},
				{Key: "rel", Val: "noopener noreferrer"},
				{Key: "style", Val: "display:inline-block;cursor:zoom-in;"},
			},
		})
	}
	doc.Find("img.bbImage, img.bbCodeImage").Each(wrap)
	doc.Find(".message-cell--main img").Each(wrap)
}

type srcsetCandidate struct {
	url  string
	desc string
	abs  string
}

func splitSrcset(val string) []srcsetCandidate {
	var cands []srcsetCandidate
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Fields(part)
		c := srcsetCandidate{url: fields[0]}
		if len(fields) > 1 {
			c.desc = strings.Join(fields[1:], " ")
		}
		cands = append(cands, c)
	}
	return cands
}

func joinSrcset(cands []srcsetCandidate, lookup lookupFunc) string {
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		u := c.url
		if c.abs != "" {
			if local, ok := lookup(c.abs); ok {
				u = local
			}
		}
		if c.desc != "" {
			u += " " + c.desc
		}
		out = append(out, u)
	}
	return strings.Join(out, ", ")
}
