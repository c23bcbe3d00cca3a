package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"thread-archiver/internal/backupfs"
)

const FileName = "progress.json"

// CorruptError is fatal: an existing ledger that cannot be read or parsed is
// never silently replaced, the operator has to fix or remove it.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("progress ledger %s is unreadable: %v (fix or remove the file before re-running)", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Store owns the progress ledger file. Every mutation rewrites the whole file
// atomically and is serialized on the store mutex, so concurrent thread runs
// in one process share it safely.
type Store struct {
	path string

	mu      sync.Mutex
	threads map[string]ThreadRecord
}

func PathIn(outputRoot string) string {
	return filepath.Join(outputRoot, FileName)
}

// Load reads the ledger once. A missing file is an empty ledger; anything
// else that prevents a full parse is a *CorruptError.
func Load(path string) (*Store, error) {
	s := &Store{path: path, threads: map[string]ThreadRecord{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, &CorruptError{Path: path, Err: err}
	}

	raw := map[string]ThreadRecord{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	for identity, rec := range raw {
		rec.normalize(identity)
		s.threads[identity] = rec
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Get(identity string) (ThreadRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.threads[identity]
	if !ok {
		return ThreadRecord{}, false
	}
	return rec.Clone(), true
}

// Threads returns all records sorted by identity.
func (s *Store) Threads() []ThreadRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ThreadRecord, 0, len(s.threads))
	for _, rec := range s.threads {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

func (s *Store) Upsert(rec ThreadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.normalize(rec.URL)
	rec.LastRun = time.Now().UTC().Format(time.RFC3339)
	s.threads[rec.URL] = rec.Clone()
	return s.saveLocked()
}

func (s *Store) Delete(identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[identity]; !ok {
		return fmt.Errorf("unknown thread %s", identity)
	}
	delete(s.threads, identity)
	return s.saveLocked()
}

// MarkPageComplete records the page as done and replaces that page's failure
// entries with the set observed by this scrape. Called only after the page
// file is durably on disk.
func (s *Store) MarkPageComplete(identity string, page int, failed []FailedAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.threads[identity]
	if !ok {
		return fmt.Errorf("unknown thread %s", identity)
	}
	if page < 1 {
		return fmt.Errorf("page number must be >= 1, got %d", page)
	}

	rec.Pages[page] = PageComplete

	kept := make([]FailedAsset, 0, len(rec.FailedAssets)+len(failed))
	for _, fa := range rec.FailedAssets {
		if fa.Page != page {
			kept = append(kept, fa)
		}
	}
	seen := make(map[string]bool, len(failed))
	for _, fa := range failed {
		if fa.URL == "" || seen[fa.URL] {
			continue
		}
		seen[fa.URL] = true
		kept = append(kept, FailedAsset{Page: page, URL: fa.URL})
	}
	rec.FailedAssets = kept
	rec.LastRun = time.Now().UTC().Format(time.RFC3339)

	s.threads[identity] = rec
	return s.saveLocked()
}

// ResetPages forces the given pages back to not_started. A complete thread
// with a reset page is in_progress again.
func (s *Store) ResetPages(identity string, pages ...int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.threads[identity]
	if !ok {
		return fmt.Errorf("unknown thread %s", identity)
	}

	changed := false
	for _, page := range pages {
		if _, exists := rec.Pages[page]; exists {
			delete(rec.Pages, page)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if rec.Status == StatusComplete {
		rec.Status = StatusInProgress
	}
	s.threads[identity] = rec
	return s.saveLocked()
}

func (s *Store) ClearFailuresForRange(identity string, from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.threads[identity]
	if !ok {
		return fmt.Errorf("unknown thread %s", identity)
	}

	kept := rec.FailedAssets[:0]
	for _, fa := range rec.FailedAssets {
		if fa.Page < from || fa.Page > to {
			kept = append(kept, fa)
		}
	}
	if len(kept) == len(rec.FailedAssets) {
		return nil
	}
	rec.FailedAssets = kept
	s.threads[identity] = rec
	return s.saveLocked()
}

func (s *Store) SetTotalPages(identity string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.threads[identity]
	if !ok {
		return fmt.Errorf("unknown thread %s", identity)
	}
	if total < 0 {
		return fmt.Errorf("total pages must be >= 0, got %d", total)
	}
	if rec.TotalPages == total {
		return nil
	}
	rec.TotalPages = total
	s.threads[identity] = rec
	return s.saveLocked()
}

func (s *Store) SetStatus(identity string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.threads[identity]
	if !ok {
		return fmt.Errorf("unknown thread %s", identity)
	}
	if rec.Status == status {
		return nil
	}
	if err := TransitionThreadStatus(&rec, status); err != nil {
		return err
	}
	rec.LastRun = time.Now().UTC().Format(time.RFC3339)
	s.threads[identity] = rec
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	return backupfs.WriteJSON(s.path, s.threads)
}
