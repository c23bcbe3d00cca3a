package ledger

import "sort"

const (
	PageNotStarted = "not_started"
	PageComplete   = "complete"
)

// ThreadRecord is the per-thread resumption state. The pages map only ever
// holds complete pages; an absent key means not_started. No partial-page
// state exists: a page is complete or it is redone entirely.
type ThreadRecord struct {
	URL          string         `json:"url"`
	BackupPath   string         `json:"backup_path"`
	TotalPages   int            `json:"total_pages"`
	Pages        map[int]string `json:"pages"`
	FailedAssets []FailedAsset  `json:"failed_assets,omitempty"`
	Status       string         `json:"status"`
	LastRun      string         `json:"last_run,omitempty"`
}

type FailedAsset struct {
	Page int    `json:"page"`
	URL  string `json:"url"`
}

func (r ThreadRecord) IsPageComplete(page int) bool {
	return r.Pages[page] == PageComplete
}

func (r ThreadRecord) CompletedCount() int {
	n := 0
	for _, status := range r.Pages {
		if status == PageComplete {
			n++
		}
	}
	return n
}

// FailedPages returns the distinct page numbers that have failed assets,
// ascending.
func (r ThreadRecord) FailedPages() []int {
	seen := make(map[int]bool, len(r.FailedAssets))
	pages := make([]int, 0, len(r.FailedAssets))
	for _, fa := range r.FailedAssets {
		if fa.Page < 1 || seen[fa.Page] {
			continue
		}
		seen[fa.Page] = true
		pages = append(pages, fa.Page)
	}
	sort.Ints(pages)
	return pages
}

// FailedURLsForPage returns the asset URLs recorded as failed on page.
func (r ThreadRecord) FailedURLsForPage(page int) []string {
	urls := make([]string, 0, 4)
	for _, fa := range r.FailedAssets {
		if fa.Page == page {
			urls = append(urls, fa.URL)
		}
	}
	return urls
}

func (r ThreadRecord) Clone() ThreadRecord {
	out := r
	out.Pages = make(map[int]string, len(r.Pages))
	for k, v := range r.Pages {
		out.Pages[k] = v
	}
	out.FailedAssets = append([]FailedAsset(nil), r.FailedAssets...)
	return out
}

// normalize applies load-time defaults so records written by older versions
// or edited by hand come back into the documented shape.
func (r *ThreadRecord) normalize(identity string) {
	if r.URL == "" {
		r.URL = identity
	}
	if r.Pages == nil {
		r.Pages = map[int]string{}
	}
	for page, status := range r.Pages {
		if page < 1 || status != PageComplete {
			delete(r.Pages, page)
		}
	}
	if r.TotalPages < 0 {
		r.TotalPages = 0
	}
	kept := r.FailedAssets[:0]
	for _, fa := range r.FailedAssets {
		if fa.Page >= 1 && fa.URL != "" {
			kept = append(kept, fa)
		}
	}
	r.FailedAssets = kept
	if !IsKnownStatus(r.Status) {
		r.Status = StatusInProgress
	}
}
