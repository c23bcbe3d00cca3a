package backup

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	MetadataFileName  = "thread_info.json"
	AssetsDirName     = "assets"
	IndexFileName     = "index.html"
	LegacyURLFileName = "thread_url.txt"
)

var (
	pageSuffixRe   = regexp.MustCompile(`/page-\d+$`)
	threadIDRe     = regexp.MustCompile(`\.(\d+)`)
	unreadPrefixRe = regexp.MustCompile(`^\(\d+\)\s+`)
	invalidNameRe  = regexp.MustCompile(`[\\/*?:"<>|]+`)
)

// CanonicalURL reduces a thread URL to its identity form: fragment dropped,
// host lowercased, trailing slash and trailing /page-N trimmed. Identity
// matching uses this form only, never folder names or titles.
func CanonicalURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	if strings.HasSuffix(u.Path, "/") && u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	u.Path = pageSuffixRe.ReplaceAllString(u.Path, "")
	return u.String()
}

// PageURL builds the fetch URL for a page of the thread.
func PageURL(identity string, page int) string {
	if page <= 1 {
		return identity
	}
	return fmt.Sprintf("%s/page-%d", identity, page)
}

// ThreadID extracts the numeric thread id embedded in the URL path
// (threads/some-title.12345). Empty when the URL carries none.
func ThreadID(identity string) string {
	u, err := url.Parse(identity)
	path := identity
	if err == nil {
		path = u.Path
	}
	m := threadIDRe.FindStringSubmatch(path)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// SanitizeTitle turns a page <title> into a filesystem-safe friendly name:
// the unread-count prefix "(N) " goes, reserved characters become '_', and
// the result is capped at 80 runes.
func SanitizeTitle(title string) string {
	s := strings.TrimSpace(title)
	s = unreadPrefixRe.ReplaceAllString(s, "")
	s = invalidNameRe.ReplaceAllString(s, "_")
	s = strings.TrimSpace(s)
	if s == "" {
		s = "thread"
	}
	r := []rune(s)
	if len(r) > 80 {
		s = strings.TrimSpace(string(r[:80]))
	}
	return s
}

// DirName is <friendly_name>_<id> with spaces collapsed to underscores; an
// id-less thread uses the sanitized name alone.
func DirName(friendlyName, threadID string) string {
	name := strings.Join(strings.Fields(SanitizeTitle(friendlyName)), "_")
	if threadID == "" {
		return name
	}
	return name + "_" + threadID
}

func PageFileName(page int) string {
	return fmt.Sprintf("page-%d.html", page)
}

func PagePath(backupDir string, page int) string {
	return filepath.Join(backupDir, PageFileName(page))
}

func AssetsDir(backupDir string) string {
	return filepath.Join(backupDir, AssetsDirName)
}
