package scrape

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"thread-archiver/internal/assets"
)

var (
	cssURLRe    = regexp.MustCompile(`(?i)url\s*\(\s*(['"]?)([^'")]+?)(['"]?)\s*\)`)
	cssImportRe = regexp.MustCompile(`(?i)@import\s+(?:url\s*\(\s*)?(['"]?)([^'";)]+?)(['"]?)\s*\)?\s*;`)
)

// cssResolver downloads stylesheets, pulls their url() and @import
// references into the asset store, and rewrites the text so the committed
// copy works offline. CSS failures degrade differently from page assets: a
// sheet or url() reference that cannot be fetched keeps its remote URL, it
// never becomes a placeholder and is never recorded as failed.
type cssResolver struct {
	store   *assets.Store
	fetcher Fetcher
	log     *slog.Logger
}

// resolveStylesheet fetches, rewrites and commits one stylesheet, returning
// its local filename. ok=false leaves the caller's reference remote. The
// visiting set breaks @import cycles.
func (r *cssResolver) resolveStylesheet(ctx context.Context, cssURL string, visiting map[string]bool) (string, bool, error) {
	if visiting[cssURL] {
		return "", false, nil
	}
	if ref, ok := r.store.Resolve(cssURL); ok && !ref.Failed {
		return ref.Local, true, nil
	}

	visiting[cssURL] = true
	defer delete(visiting, cssURL)

	data, err := r.fetcher.FetchAsset(ctx, cssURL)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		r.log.Warn("stylesheet fetch failed, keeping remote reference", "url", cssURL, "error", err)
		return "", false, nil
	}

	rewritten, err := r.rewriteText(ctx, string(data), cssURL, "", visiting)
	if err != nil {
		return "", false, err
	}
	ref, err := r.store.CommitNamed(cssURL, []byte(rewritten), cssFileName(cssURL))
	if err != nil {
		return "", false, err
	}
	return ref.Local, true, nil
}

// rewriteText localizes every url() and @import in a block of CSS. prefix is
// the path from the CSS text's location to the assets directory: "assets/"
// for <style> blocks and inline styles living in a page, "" for text
// committed into the assets directory itself.
func (r *cssResolver) rewriteText(ctx context.Context, cssText, baseURL, prefix string, visiting map[string]bool) (string, error) {
	var firstErr error

	out := cssImportRe.ReplaceAllStringFunc(cssText, func(m string) string {
		if firstErr != nil {
			return m
		}
		parts := cssImportRe.FindStringSubmatch(m)
		ref := strings.TrimSpace(parts[2])
		if isSkippableRef(ref) {
			return m
		}
		abs, ok := resolveAgainst(baseURL, ref)
		if !ok {
			return m
		}
		local, ok, err := r.resolveStylesheet(ctx, abs, visiting)
		if err != nil {
			firstErr = err
			return m
		}
		if !ok {
			return m
		}
		return "@import url(" + parts[1] + prefix + local + parts[3] + ");"
	})
	if firstErr != nil {
		return "", firstErr
	}

	out = cssURLRe.ReplaceAllStringFunc(out, func(m string) string {
		if firstErr != nil {
			return m
		}
		parts := cssURLRe.FindStringSubmatch(m)
		ref := strings.TrimSpace(parts[2])
		if isSkippableRef(ref) {
			return m
		}
		abs, ok := resolveAgainst(baseURL, ref)
		if !ok {
			return m
		}
		if cached, hit := r.store.Resolve(abs); hit {
			if cached.Failed {
				return m
			}
			return "url(" + parts[1] + prefix + cached.Local + parts[3] + ")"
		}
		data, err := r.fetcher.FetchAsset(ctx, abs)
		if err != nil {
			if ctx.Err() != nil {
				firstErr = ctx.Err()
				return m
			}
			// Unlike page assets, a css asset keeps its remote URL on
			// failure: no placeholder, no failure record.
			r.log.Warn("css asset failed, keeping remote reference", "url", abs, "error", err)
			return m
		}
		committed, err := r.store.Commit(abs, data)
		if err != nil {
			firstErr = err
			return m
		}
		return "url(" + parts[1] + prefix + committed.Local + parts[3] + ")"
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// cssFileName forces a .css suffix onto the derived name so renamed dynamic
// endpoints (css.php) stay recognizable.
func cssFileName(rawURL string) string {
	name := assets.FileNameForURL(rawURL)
	if !strings.HasSuffix(strings.ToLower(name), ".css") {
		name += ".css"
	}
	return name
}

func isSkippableRef(ref string) bool {
	if ref == "" {
		return true
	}
	for _, p := range []string{"data:", "#", "javascript:", "tel:", "mailto:"} {
		if strings.HasPrefix(ref, p) {
			return true
		}
	}
	return false
}

func resolveAgainst(baseURL, ref string) (string, bool) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", false
	}
	u, err := base.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return u.String(), true
}
