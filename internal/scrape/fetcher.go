package scrape

import "context"

// Fetcher is the Page Fetcher collaborator. The orchestrator never knows how
// pages are rendered or sessions acquired; the default implementation is
// internal/fetch, tests plug in an in-memory fake.
type Fetcher interface {
	// FetchPage returns the rendered HTML of a thread page. Page errors are
	// fatal for the run.
	FetchPage(ctx context.Context, url string) ([]byte, error)

	// FetchAsset returns the bytes of one asset. Errors degrade to a
	// placeholder, never abort the run.
	FetchAsset(ctx context.Context, url string) ([]byte, error)
}
