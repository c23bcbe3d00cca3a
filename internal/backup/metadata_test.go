package backup

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMetadata_RoundTripAndDefaults(t *testing.T) {
	dir := t.TempDir()

	err := WriteMetadata(dir, Metadata{
		URL:          "https://forum.example.com/threads/demo.1/",
		FriendlyName: "Demo",
		TotalPages:   3,
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	meta, err := ReadMetadata(dir)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if meta.Version != FormatV1 {
		t.Fatalf("version default: got %d want %d", meta.Version, FormatV1)
	}
	if meta.URL != "https://forum.example.com/threads/demo.1" {
		t.Fatalf("url should canonicalize on read, got %q", meta.URL)
	}
	if meta.LastUpdated == "" {
		t.Fatalf("last_updated should be stamped on write")
	}
}

func TestFindExisting_MatchesByIdentityOnly(t *testing.T) {
	root := t.TempDir()

	makeBackup := func(dirName, url string) {
		t.Helper()
		dir := filepath.Join(root, dirName)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := WriteMetadata(dir, Metadata{URL: url, FriendlyName: dirName, Version: FormatV1}); err != nil {
			t.Fatalf("metadata: %v", err)
		}
	}
	makeBackup("Renamed_By_Hand_99", "https://forum.example.com/threads/demo.1")
	makeBackup("Other_Thread_2", "https://forum.example.com/threads/other.2")

	dir, found, err := FindExisting(root, "https://FORUM.example.com/threads/demo.1/page-3")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !found {
		t.Fatalf("expected a match")
	}
	if filepath.Base(dir) != "Renamed_By_Hand_99" {
		t.Fatalf("matched dir: got %q", dir)
	}

	_, found, err = FindExisting(root, "https://forum.example.com/threads/absent.3")
	if err != nil {
		t.Fatalf("find absent: %v", err)
	}
	if found {
		t.Fatalf("unexpected match for unknown identity")
	}
}

func TestFindExisting_FallsBackToLegacyURLFile(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Old_Backup")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	legacy := "https://forum.example.com/threads/old.5/\n"
	if err := os.WriteFile(filepath.Join(dir, LegacyURLFileName), []byte(legacy), 0o644); err != nil {
		t.Fatalf("seed legacy file: %v", err)
	}

	got, found, err := FindExisting(root, "https://forum.example.com/threads/old.5")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !found || filepath.Base(got) != "Old_Backup" {
		t.Fatalf("legacy match failed: found=%v dir=%q", found, got)
	}
}
