package normalize

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"thread-archiver/internal/assets"
	"thread-archiver/internal/backup"
)

var (
	jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, []byte("....JFIF....")...)
	pngBytes  = append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, []byte("....")...)
	htmlBytes = []byte("<html><body>gallery viewer</body></html>")
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newBackupFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "assets", "index.php"), jpegBytes)
	writeFile(t, filepath.Join(dir, "assets", "chart"), pngBytes)
	writeFile(t, filepath.Join(dir, "assets", "viewer.php"), htmlBytes)
	writeFile(t, filepath.Join(dir, "assets", "photo.jpg"), jpegBytes)
	writeFile(t, filepath.Join(dir, "page-1.html"), []byte(
		`<html><body>`+
			`<img src="assets/index.php">`+
			`<img src="assets/chart">`+
			`<a href="assets/viewer.php?g=1"><img src="assets/photo.jpg"></a>`+
			`</body></html>`))
	if err := backup.WriteMetadata(dir, backup.Metadata{
		URL:          "https://forum.example.com/threads/fixture.1/",
		FriendlyName: "fixture",
		Version:      backup.FormatV1,
		TotalPages:   1,
	}); err != nil {
		t.Fatalf("write metadata: %v", err)
	}
	return dir
}

func TestRunRenamesDynamicEndpointImages(t *testing.T) {
	dir := newBackupFixture(t)

	report, err := Run(dir, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantRenames := map[string]string{
		"index.php": "index.jpg",
		"chart":     "chart.png",
	}
	if !reflect.DeepEqual(report.Renamed, wantRenames) {
		t.Fatalf("renamed = %v, want %v", report.Renamed, wantRenames)
	}

	for old, renamed := range wantRenames {
		if _, err := os.Stat(filepath.Join(dir, "assets", old)); !os.IsNotExist(err) {
			t.Errorf("old file %s still present", old)
		}
		if _, err := os.Stat(filepath.Join(dir, "assets", renamed)); err != nil {
			t.Errorf("renamed file %s missing: %v", renamed, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "assets", "viewer.php")); err != nil {
		t.Errorf("html wrapper viewer.php should be left alone: %v", err)
	}

	page, err := os.ReadFile(filepath.Join(dir, "page-1.html"))
	if err != nil {
		t.Fatalf("read page: %v", err)
	}
	content := string(page)
	if strings.Contains(content, "assets/index.php") || strings.Contains(content, `"assets/chart"`) {
		t.Errorf("page still references old asset names:\n%s", content)
	}
	if !strings.Contains(content, "assets/index.jpg") || !strings.Contains(content, "assets/chart.png") {
		t.Errorf("page missing renamed references:\n%s", content)
	}

	meta, err := backup.ReadMetadata(dir)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if meta.Version != backup.FormatV2 {
		t.Errorf("metadata version = %d, want %d", meta.Version, backup.FormatV2)
	}
	if meta.URL != "https://forum.example.com/threads/fixture.1/" {
		t.Errorf("metadata url changed: %q", meta.URL)
	}
}

func TestRunRedirectsGalleryLinks(t *testing.T) {
	dir := newBackupFixture(t)

	report, err := Run(dir, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.GalleryLinks != 1 {
		t.Fatalf("gallery links fixed = %d, want 1", report.GalleryLinks)
	}

	page, _ := os.ReadFile(filepath.Join(dir, "page-1.html"))
	content := string(page)
	if strings.Contains(content, `href="assets/viewer.php?g=1"`) {
		t.Errorf("gallery href not rewritten:\n%s", content)
	}
	if !strings.Contains(content, `href="assets/photo.jpg"`) {
		t.Errorf("gallery href should point at the image:\n%s", content)
	}
}

func TestRunRedirectsGrayPixelLinks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "assets", "keep.jpg"), jpegBytes)
	writeFile(t, filepath.Join(dir, "page-1.html"), []byte(
		`<html><body>`+
			`<a href="data:image/png;base64,iVBORw0KGgoAAAANSUhEUg=="><img src="assets/keep.jpg"></a>`+
			`</body></html>`))

	report, err := Run(dir, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.GalleryLinks != 1 {
		t.Fatalf("gallery links fixed = %d, want 1", report.GalleryLinks)
	}
	page, _ := os.ReadFile(filepath.Join(dir, "page-1.html"))
	if !strings.Contains(string(page), `href="assets/keep.jpg"`) {
		t.Errorf("gray pixel href should point at the image:\n%s", page)
	}
}

func TestRunRenameCollisionGetsSuffix(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "assets", "index.php"), jpegBytes)
	writeFile(t, filepath.Join(dir, "assets", "index.jpg"), jpegBytes)
	writeFile(t, filepath.Join(dir, "page-1.html"), []byte(`<html><body><img src="assets/index.php"></body></html>`))

	report, err := Run(dir, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := map[string]string{"index.php": "index_1.jpg"}
	if !reflect.DeepEqual(report.Renamed, want) {
		t.Fatalf("renamed = %v, want %v", report.Renamed, want)
	}
	if _, err := os.Stat(filepath.Join(dir, "assets", "index_1.jpg")); err != nil {
		t.Errorf("collision target missing: %v", err)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	dir := newBackupFixture(t)

	if _, err := Run(dir, false); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	firstPage, _ := os.ReadFile(filepath.Join(dir, "page-1.html"))

	second, err := Run(dir, false)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.Changed() {
		t.Fatalf("second run reported changes: %+v", second)
	}
	secondPage, _ := os.ReadFile(filepath.Join(dir, "page-1.html"))
	if string(firstPage) != string(secondPage) {
		t.Errorf("second run altered page content")
	}
}

func TestDryRunReportMatchesRealRun(t *testing.T) {
	dir := newBackupFixture(t)

	dry, err := Run(dir, true)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "assets", "index.php")); err != nil {
		t.Fatalf("dry run touched the assets directory: %v", err)
	}
	meta, err := backup.ReadMetadata(dir)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if meta.Version != backup.FormatV1 {
		t.Fatalf("dry run stamped metadata: version %d", meta.Version)
	}

	real, err := Run(dir, false)
	if err != nil {
		t.Fatalf("real run: %v", err)
	}

	if !reflect.DeepEqual(dry.Renamed, real.Renamed) {
		t.Errorf("renames differ: dry %v, real %v", dry.Renamed, real.Renamed)
	}
	if !reflect.DeepEqual(dry.RewrittenPages, real.RewrittenPages) {
		t.Errorf("rewritten pages differ: dry %v, real %v", dry.RewrittenPages, real.RewrittenPages)
	}
	if dry.GalleryLinks != real.GalleryLinks {
		t.Errorf("gallery counts differ: dry %d, real %d", dry.GalleryLinks, real.GalleryLinks)
	}
	if dry.MetadataUpdated != real.MetadataUpdated {
		t.Errorf("metadata flags differ: dry %v, real %v", dry.MetadataUpdated, real.MetadataUpdated)
	}
}

func TestRunUpdatesAssetIndex(t *testing.T) {
	dir := t.TempDir()
	store, err := assets.Open(filepath.Join(dir, "assets"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ref, err := store.Commit("https://forum.example.com/index.php?attachment=9", jpegBytes)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if ref.Local != "index.php" {
		t.Fatalf("committed name = %q, want index.php", ref.Local)
	}
	writeFile(t, filepath.Join(dir, "page-1.html"), []byte(`<html><body><img src="assets/index.php"></body></html>`))

	if _, err := Run(dir, false); err != nil {
		t.Fatalf("Run: %v", err)
	}

	reopened, err := assets.Open(filepath.Join(dir, "assets"))
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	got, ok := reopened.Resolve("https://forum.example.com/index.php?attachment=9")
	if !ok {
		t.Fatalf("url no longer resolves after rename")
	}
	if got.Local != "index.jpg" {
		t.Errorf("resolved local = %q, want index.jpg", got.Local)
	}
}

func TestRunCreatesMetadataFromLegacyURLFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "assets", "photo.jpg"), jpegBytes)
	writeFile(t, filepath.Join(dir, "page-1.html"), []byte(`<html><body></body></html>`))
	writeFile(t, filepath.Join(dir, backup.LegacyURLFileName), []byte("https://forum.example.com/threads/old.7/\n"))

	report, err := Run(dir, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.MetadataCreated || report.IdentityMissing {
		t.Fatalf("report = %+v, want created with identity", report)
	}
	meta, err := backup.ReadMetadata(dir)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if meta.URL != "https://forum.example.com/threads/old.7/" {
		t.Errorf("url = %q", meta.URL)
	}
	if meta.Version != backup.FormatV2 {
		t.Errorf("version = %d, want %d", meta.Version, backup.FormatV2)
	}
}

func TestRunFlagsMissingIdentity(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "assets", "photo.jpg"), jpegBytes)
	writeFile(t, filepath.Join(dir, "page-1.html"), []byte(`<html><body></body></html>`))

	report, err := Run(dir, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.MetadataCreated || !report.IdentityMissing {
		t.Fatalf("report = %+v, want created with missing identity", report)
	}
	meta, err := backup.ReadMetadata(dir)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if meta.URL != "" {
		t.Errorf("url = %q, want blank", meta.URL)
	}
	if meta.FriendlyName != filepath.Base(dir) {
		t.Errorf("friendly name = %q, want %q", meta.FriendlyName, filepath.Base(dir))
	}
}

func TestRunErrorsWithoutAssetsDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "page-1.html"), []byte(`<html></html>`))
	if _, err := Run(dir, false); err == nil {
		t.Fatal("expected an error for a backup without an assets directory")
	}
}

func TestSniffImageExt(t *testing.T) {
	webp := append([]byte("RIFF"), 0x10, 0x00, 0x00, 0x00)
	webp = append(webp, []byte("WEBPVP8 ")...)
	wav := append([]byte("RIFF"), 0x10, 0x00, 0x00, 0x00)
	wav = append(wav, []byte("WAVEfmt ")...)

	cases := []struct {
		name   string
		header []byte
		want   string
	}{
		{"jpeg", jpegBytes, ".jpg"},
		{"png", pngBytes, ".png"},
		{"gif87a", []byte("GIF87a..."), ".gif"},
		{"gif89a", []byte("GIF89a..."), ".gif"},
		{"webp", webp, ".webp"},
		{"riff but not webp", wav, ""},
		{"jp2", []byte{0x00, 0x00, 0x00, 0x0C, 0x6A, 0x50, 0x20, 0x20, 0x0D, 0x0A}, ".jp2"},
		{"bmp", []byte("BM......"), ".bmp"},
		{"ico", []byte{0x00, 0x00, 0x01, 0x00, 0x01, 0x00}, ".ico"},
		{"html", []byte("<html><body>"), ""},
		{"empty", nil, ""},
	}
	for _, tc := range cases {
		if got := SniffImageExt(tc.header); got != tc.want {
			t.Errorf("%s: SniffImageExt = %q, want %q", tc.name, got, tc.want)
		}
	}
}
