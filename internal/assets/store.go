package assets

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"thread-archiver/internal/backupfs"
)

const IndexFileName = "index.json"

// ErrFetchAborted tells Fetch the download callback was cancelled rather
// than failed: the URL is not marked failed and no placeholder is committed,
// so a later run retries it cleanly.
var ErrFetchAborted = errors.New("fetch aborted")

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Ref is the resolution result for one remote URL: the local filename inside
// the assets directory and whether it is a placeholder for a failed download.
type Ref struct {
	Local  string
	Failed bool
}

type indexEntry struct {
	File   string `json:"file"`
	Failed bool   `json:"failed,omitempty"`
}

type indexFile struct {
	Assets map[string]indexEntry `json:"assets"`
}

// Store owns the deduplicated asset files of one backup. Identity is the
// remote URL: one URL maps to exactly one local file, shared by every page
// that references it. Entries persist in index.json until the backup is
// deleted.
type Store struct {
	dir       string
	indexPath string

	mu      sync.Mutex
	entries map[string]indexEntry
	used    map[string]string // filename -> owning URL
	group   singleflight.Group
}

func Open(assetsDir string) (*Store, error) {
	if err := backupfs.Mkdir(assetsDir); err != nil {
		return nil, err
	}
	s := &Store{
		dir:       assetsDir,
		indexPath: filepath.Join(assetsDir, IndexFileName),
		entries:   map[string]indexEntry{},
		used:      map[string]string{},
	}
	// The placeholder name is reserved even before the first failure.
	s.used[PlaceholderFileName] = ""

	if _, err := os.Stat(s.indexPath); err == nil {
		var idx indexFile
		if err := backupfs.ReadJSON(s.indexPath, &idx); err != nil {
			return nil, fmt.Errorf("asset index is unreadable: %w", err)
		}
		for u, entry := range idx.Assets {
			if u == "" || entry.File == "" {
				continue
			}
			s.entries[u] = entry
			s.used[entry.File] = u
		}
	}
	return s, nil
}

func (s *Store) Dir() string { return s.dir }

// Resolve is a pure lookup: no remote I/O ever. A committed entry whose file
// has been deleted from disk counts as a miss so the next fetch restores it.
func (s *Store) Resolve(rawURL string) (Ref, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(rawURL)
}

func (s *Store) resolveLocked(rawURL string) (Ref, bool) {
	entry, ok := s.entries[rawURL]
	if !ok {
		return Ref{}, false
	}
	if _, err := os.Stat(filepath.Join(s.dir, entry.File)); err != nil {
		delete(s.entries, rawURL)
		delete(s.used, entry.File)
		return Ref{}, false
	}
	return Ref{Local: entry.File, Failed: entry.Failed}, true
}

// Commit writes the downloaded bytes once under a stable, collision-free
// name. A URL that already committed successfully is returned as-is; files
// are never overwritten after first commit.
func (s *Store) Commit(rawURL string, data []byte) (Ref, error) {
	return s.CommitNamed(rawURL, data, FileNameForURL(rawURL))
}

// CommitNamed is Commit with a preferred filename, still collision-
// disambiguated. Stylesheets use it to force a .css suffix.
func (s *Store) CommitNamed(rawURL string, data []byte, preferred string) (Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[rawURL]; ok && !entry.Failed {
		if _, err := os.Stat(filepath.Join(s.dir, entry.File)); err == nil {
			return Ref{Local: entry.File}, nil
		}
	}

	if preferred == "" {
		preferred = FileNameForURL(rawURL)
	}
	name := s.claimNameLocked(preferred, rawURL)
	if err := backupfs.WriteBytes(filepath.Join(s.dir, name), data); err != nil {
		return Ref{}, err
	}
	s.entries[rawURL] = indexEntry{File: name}
	s.used[name] = rawURL
	if err := s.saveIndexLocked(); err != nil {
		return Ref{}, err
	}
	return Ref{Local: name}, nil
}

// MarkFailed substitutes the shared placeholder for the URL and records the
// failure, so pages keep a valid local link and the backup stays structurally
// complete.
func (s *Store) MarkFailed(rawURL string) (Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensurePlaceholderLocked(); err != nil {
		return Ref{}, err
	}
	s.entries[rawURL] = indexEntry{File: PlaceholderFileName, Failed: true}
	if err := s.saveIndexLocked(); err != nil {
		return Ref{}, err
	}
	return Ref{Local: PlaceholderFileName, Failed: true}, nil
}

// Forget drops the record for a URL so the next Fetch downloads it again.
// Used when a failed asset is explicitly retried.
func (s *Store) Forget(rawURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[rawURL]
	if !ok {
		return nil
	}
	delete(s.entries, rawURL)
	if entry.File != PlaceholderFileName {
		delete(s.used, entry.File)
	}
	return s.saveIndexLocked()
}

// Fetch is the orchestrator's front door: at most one download per URL is in
// flight at a time, concurrent callers for the same URL share the winner's
// result. On download failure the returned Ref is the committed placeholder
// (Failed=true) and the error describes the failure; a Ref with Failed=false
// alongside an error means the store itself broke (or the download was
// aborted) and the run must stop.
func (s *Store) Fetch(rawURL string, download func() ([]byte, error)) (Ref, error) {
	v, _, _ := s.group.Do(rawURL, func() (any, error) {
		if ref, ok := s.Resolve(rawURL); ok {
			return fetchResult{ref: ref}, nil
		}
		data, err := download()
		if err != nil {
			if errors.Is(err, ErrFetchAborted) {
				return fetchResult{err: err}, nil
			}
			ref, markErr := s.MarkFailed(rawURL)
			if markErr != nil {
				return fetchResult{err: markErr}, nil
			}
			return fetchResult{ref: ref, err: fmt.Errorf("download %s: %w", rawURL, err)}, nil
		}
		ref, err := s.Commit(rawURL, data)
		if err != nil {
			return fetchResult{err: err}, nil
		}
		return fetchResult{ref: ref}, nil
	})
	res := v.(fetchResult)
	return res.ref, res.err
}

type fetchResult struct {
	ref Ref
	err error
}

func (s *Store) saveIndexLocked() error {
	return backupfs.WriteJSON(s.indexPath, indexFile{Assets: s.entries})
}

// claimNameLocked disambiguates against names owned by other URLs and stray
// files already on disk: photo.jpg, photo_1.jpg, photo_2.jpg, ...
func (s *Store) claimNameLocked(name, rawURL string) string {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 1; ; i++ {
		owner, taken := s.used[candidate]
		if taken && owner == rawURL {
			return candidate
		}
		if !taken {
			if _, err := os.Stat(filepath.Join(s.dir, candidate)); err != nil {
				return candidate
			}
		}
		candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
}

// FileNameForURL derives the stable local filename for a remote URL: the
// path basename with the query dropped and unsafe characters replaced.
func FileNameForURL(rawURL string) string {
	base := ""
	if u, err := url.Parse(rawURL); err == nil {
		base = path.Base(u.Path)
	}
	if base == "." || base == "/" {
		base = ""
	}
	base = unsafeNameChars.ReplaceAllString(base, "_")
	if base == "" {
		base = "asset.bin"
	}
	return base
}

// UpdateIndexNames rewrites index entries after the normalizer renames files
// on disk. Backups that predate the index are left alone.
func UpdateIndexNames(assetsDir string, renames map[string]string) error {
	indexPath := filepath.Join(assetsDir, IndexFileName)
	if _, err := os.Stat(indexPath); err != nil {
		return nil
	}
	var idx indexFile
	if err := backupfs.ReadJSON(indexPath, &idx); err != nil {
		return fmt.Errorf("asset index is unreadable: %w", err)
	}
	changed := false
	for u, entry := range idx.Assets {
		if newName, ok := renames[entry.File]; ok {
			entry.File = newName
			idx.Assets[u] = entry
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return backupfs.WriteJSON(indexPath, idx)
}
