package normalize

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"thread-archiver/internal/assets"
	"thread-archiver/internal/backup"
	"thread-archiver/internal/backupfs"
)

// grayPixelPrefix is the inline fallback older archives embedded for assets
// that failed to download. Links carrying it point nowhere useful.
const grayPixelPrefix = "data:image/png;base64,iVBOR"

// Report is what a normalization pass changed, or would change under dry
// run. A second pass over the same backup reports nothing.
type Report struct {
	BackupDir       string            `json:"backup_dir"`
	DryRun          bool              `json:"dry_run"`
	Renamed         map[string]string `json:"renamed,omitempty"`
	RewrittenPages  []string          `json:"rewritten_pages,omitempty"`
	GalleryLinks    int               `json:"gallery_links_fixed"`
	MetadataCreated bool              `json:"metadata_created"`
	MetadataUpdated bool              `json:"metadata_updated"`
	IdentityMissing bool              `json:"identity_missing"`
}

// Changed reports whether the pass found anything to do.
func (r Report) Changed() bool {
	return len(r.Renamed) > 0 || len(r.RewrittenPages) > 0 || r.MetadataCreated || r.MetadataUpdated
}

// Run converts a backup to format version 2: asset files saved under dynamic
// endpoint names (.php or no extension) are classified by content signature
// and renamed to their true type, every page reference follows the rename,
// and gallery wrapper links are redirected to the asset itself. Under dry
// run nothing is written; the report is the same one a real run would give.
func Run(backupDir string, dryRun bool) (Report, error) {
	report := Report{BackupDir: backupDir, DryRun: dryRun, Renamed: map[string]string{}}

	if !isDir(backupDir) {
		return report, fmt.Errorf("backup directory not found: %s", backupDir)
	}
	assetsDir := backup.AssetsDir(backupDir)
	if !isDir(assetsDir) {
		return report, fmt.Errorf("no %s directory in %s", backup.AssetsDirName, backupDir)
	}

	renames, wrappers, err := classifyAssets(assetsDir)
	if err != nil {
		return report, err
	}
	report.Renamed = renames

	if !dryRun {
		for _, old := range sortedKeys(renames) {
			if err := os.Rename(filepath.Join(assetsDir, old), filepath.Join(assetsDir, renames[old])); err != nil {
				return report, err
			}
		}
		// The asset index follows the files so later runs still dedupe.
		if err := assets.UpdateIndexNames(assetsDir, renames); err != nil {
			return report, err
		}
	}

	pages, err := listPageFiles(backupDir)
	if err != nil {
		return report, err
	}
	for _, name := range pages {
		pagePath := filepath.Join(backupDir, name)
		data, err := os.ReadFile(pagePath)
		if err != nil {
			return report, err
		}
		content := string(data)
		modified := false

		for _, old := range replacementOrder(renames) {
			oldRef := backup.AssetsDirName + "/" + old
			newRef := backup.AssetsDirName + "/" + renames[old]
			if strings.Contains(content, oldRef) {
				content = strings.ReplaceAll(content, oldRef, newRef)
				modified = true
			}
		}

		fixed, rewritten, err := fixGalleryLinks(content, wrappers)
		if err != nil {
			return report, fmt.Errorf("%s: %w", name, err)
		}
		if fixed > 0 {
			content = rewritten
			modified = true
			report.GalleryLinks += fixed
		}

		if !modified {
			continue
		}
		report.RewrittenPages = append(report.RewrittenPages, name)
		if !dryRun {
			if err := backupfs.WriteBytes(pagePath, []byte(content)); err != nil {
				return report, err
			}
		}
	}

	if err := stampMetadata(backupDir, dryRun, &report); err != nil {
		return report, err
	}
	return report, nil
}

// classifyAssets splits the unreliable-extension files into images to rename
// and HTML wrapper pages to leave alone. Rename targets are disambiguated
// against both other targets and files already on disk.
func classifyAssets(assetsDir string) (map[string]string, map[string]bool, error) {
	entries, err := os.ReadDir(assetsDir)
	if err != nil {
		return nil, nil, err
	}

	renames := map[string]string{}
	wrappers := map[string]bool{}
	taken := map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == assets.IndexFileName {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".php" && ext != "" {
			continue
		}

		sniffed, err := sniffFile(filepath.Join(assetsDir, name))
		if err != nil {
			return nil, nil, err
		}
		if sniffed == "" {
			if ext == ".php" {
				wrappers[name] = true
			}
			continue
		}

		base := strings.TrimSuffix(name, filepath.Ext(name))
		candidate := base + sniffed
		for n := 1; taken[candidate] || (candidate != name && fileExists(filepath.Join(assetsDir, candidate))); n++ {
			candidate = fmt.Sprintf("%s_%d%s", base, n, sniffed)
		}
		taken[candidate] = true
		renames[name] = candidate
	}
	return renames, wrappers, nil
}

// fixGalleryLinks retargets anchors that point at a gallery wrapper page or
// the inline gray pixel to the image they actually show. The child img src
// already carries the renamed path by the time this runs.
func fixGalleryLinks(content string, wrappers map[string]bool) (int, string, error) {
	if len(wrappers) == 0 && !strings.Contains(content, grayPixelPrefix) {
		return 0, content, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return 0, content, err
	}

	fixed := 0
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !isGalleryHref(href, wrappers) {
			return
		}
		img := a.Find("img").First()
		if img.Length() == 0 {
			return
		}
		src, _ := img.Attr("src")
		if src == "" || strings.HasPrefix(src, "data:") || href == src {
			return
		}
		a.SetAttr("href", src)
		fixed++
	})
	if fixed == 0 {
		return 0, content, nil
	}
	out, err := doc.Html()
	if err != nil {
		return 0, content, err
	}
	return fixed, out, nil
}

func isGalleryHref(href string, wrappers map[string]bool) bool {
	if href == "" {
		return false
	}
	if strings.HasPrefix(href, grayPixelPrefix) {
		return true
	}
	name := path.Base(strings.SplitN(href, "?", 2)[0])
	return wrappers[name]
}

func stampMetadata(backupDir string, dryRun bool, report *Report) error {
	meta, err := backup.ReadMetadata(backupDir)
	if err == nil {
		if meta.Version == backup.FormatV2 {
			return nil
		}
		report.MetadataUpdated = true
		if dryRun {
			return nil
		}
		meta.Version = backup.FormatV2
		return backup.WriteMetadata(backupDir, meta)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		// Present but unreadable metadata is never clobbered.
		return err
	}

	report.MetadataCreated = true
	inferred := backup.InferLegacyURL(backupDir)
	if inferred == "" {
		report.IdentityMissing = true
	}
	if dryRun {
		return nil
	}
	return backup.WriteMetadata(backupDir, backup.Metadata{
		URL:          inferred,
		FriendlyName: filepath.Base(backupDir),
		Version:      backup.FormatV2,
	})
}

func sniffFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	header := make([]byte, headerLen)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return SniffImageExt(header[:n]), nil
}

func listPageFiles(backupDir string) ([]string, error) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return nil, err
	}
	var pages []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".html") {
			continue
		}
		pages = append(pages, entry.Name())
	}
	sort.Strings(pages)
	return pages, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// replacementOrder sorts longest name first so an old name that is a prefix
// of another ("chart" vs "chart2") cannot mangle the longer reference.
func replacementOrder(m map[string]string) []string {
	keys := sortedKeys(m)
	sort.SliceStable(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	return keys
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
