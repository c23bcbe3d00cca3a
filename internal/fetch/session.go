package fetch

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"thread-archiver/internal/backupfs"
)

var unsafeDomainChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// SessionsDirIn returns the per-domain session directory under an output
// root. It is a dotted name so backup listings skip it.
func SessionsDirIn(outputRoot string) string {
	return filepath.Join(outputRoot, ".sessions")
}

// SessionStore persists one cookie set per domain so a login survives across
// runs. The files are plain JSON an operator may inspect or replace.
type SessionStore struct {
	dir string
	mu  sync.Mutex
}

type sessionCookie struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	Domain  string `json:"domain,omitempty"`
	Path    string `json:"path,omitempty"`
	Expires string `json:"expires,omitempty"`
}

type sessionFile struct {
	Domain  string          `json:"domain"`
	SavedAt string          `json:"saved_at"`
	Cookies []sessionCookie `json:"cookies"`
}

func NewSessionStore(dir string) *SessionStore {
	return &SessionStore{dir: strings.TrimSpace(dir)}
}

func (s *SessionStore) path(domain string) string {
	name := unsafeDomainChars.ReplaceAllString(strings.ToLower(domain), "_")
	return filepath.Join(s.dir, name+".json")
}

// Load returns the persisted cookies for a domain, expired ones dropped.
// No session file means no cookies, not an error.
func (s *SessionStore) Load(domain string) ([]*http.Cookie, error) {
	if s.dir == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(domain)
}

func (s *SessionStore) loadLocked(domain string) ([]*http.Cookie, error) {
	var file sessionFile
	err := backupfs.ReadJSON(s.path(domain), &file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session for %s: %w", domain, err)
	}

	now := time.Now()
	cookies := make([]*http.Cookie, 0, len(file.Cookies))
	for _, sc := range file.Cookies {
		if sc.Name == "" {
			continue
		}
		c := &http.Cookie{Name: sc.Name, Value: sc.Value, Domain: sc.Domain, Path: sc.Path}
		if sc.Expires != "" {
			exp, parseErr := time.Parse(time.RFC3339, sc.Expires)
			if parseErr == nil {
				if exp.Before(now) {
					continue
				}
				c.Expires = exp
			}
		}
		cookies = append(cookies, c)
	}
	return cookies, nil
}

// Merge folds freshly received cookies into the stored session, newest value
// per name winning, and rewrites the file atomically.
func (s *SessionStore) Merge(domain string, fresh []*http.Cookie) error {
	if s.dir == "" || len(fresh) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.loadLocked(domain)
	if err != nil {
		return err
	}
	byName := make(map[string]*http.Cookie, len(existing)+len(fresh))
	order := make([]string, 0, len(existing)+len(fresh))
	for _, c := range existing {
		if _, ok := byName[c.Name]; !ok {
			order = append(order, c.Name)
		}
		byName[c.Name] = c
	}
	for _, c := range fresh {
		if c == nil || c.Name == "" {
			continue
		}
		if _, ok := byName[c.Name]; !ok {
			order = append(order, c.Name)
		}
		byName[c.Name] = c
	}

	return s.saveLocked(domain, order, byName)
}

// Replace drops whatever session existed and stores exactly these cookies.
// Used by the cookie import path.
func (s *SessionStore) Replace(domain string, cookies []*http.Cookie) error {
	if s.dir == "" {
		return fmt.Errorf("sessions directory is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byName := make(map[string]*http.Cookie, len(cookies))
	order := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		if _, ok := byName[c.Name]; !ok {
			order = append(order, c.Name)
		}
		byName[c.Name] = c
	}
	return s.saveLocked(domain, order, byName)
}

func (s *SessionStore) saveLocked(domain string, order []string, byName map[string]*http.Cookie) error {
	file := sessionFile{
		Domain:  strings.ToLower(domain),
		SavedAt: time.Now().UTC().Format(time.RFC3339),
	}
	for _, name := range order {
		c := byName[name]
		sc := sessionCookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path}
		if !c.Expires.IsZero() {
			sc.Expires = c.Expires.UTC().Format(time.RFC3339)
		}
		file.Cookies = append(file.Cookies, sc)
	}
	return backupfs.WriteJSON(s.path(domain), file)
}

// ParseNetscapeCookies reads the cookies.txt format browser exporters and
// yt-dlp-style tooling produce: seven tab-separated fields per line,
// comments and blanks skipped.
func ParseNetscapeCookies(data []byte) []*http.Cookie {
	var cookies []*http.Cookie
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			continue
		}
		c := &http.Cookie{
			Domain: strings.TrimPrefix(strings.TrimSpace(fields[0]), "."),
			Path:   strings.TrimSpace(fields[2]),
			Name:   strings.TrimSpace(fields[5]),
			Value:  strings.TrimSpace(fields[6]),
		}
		if c.Name == "" {
			continue
		}
		if epoch, err := strconv.ParseInt(strings.TrimSpace(fields[4]), 10, 64); err == nil && epoch > 0 {
			c.Expires = time.Unix(epoch, 0).UTC()
		}
		cookies = append(cookies, c)
	}
	return cookies
}

// ImportCookieFile stores a Netscape cookies.txt export as per-domain
// sessions, replacing whatever was saved for those domains before. It
// returns the number of cookies imported.
func ImportCookieFile(sessionsDir string, data []byte) (int, error) {
	cookies := ParseNetscapeCookies(data)
	if len(cookies) == 0 {
		return 0, fmt.Errorf("no cookies found in file (expected Netscape cookies.txt format)")
	}

	byDomain := make(map[string][]*http.Cookie)
	for _, c := range cookies {
		domain := strings.ToLower(c.Domain)
		if domain == "" {
			continue
		}
		byDomain[domain] = append(byDomain[domain], c)
	}

	store := NewSessionStore(sessionsDir)
	total := 0
	for domain, set := range byDomain {
		if err := store.Replace(domain, set); err != nil {
			return total, err
		}
		total += len(set)
	}
	return total, nil
}
