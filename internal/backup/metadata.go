package backup

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"thread-archiver/internal/backupfs"
)

const (
	FormatV1 = 1
	FormatV2 = 2
)

// Metadata is the user-facing identity card of a backup (thread_info.json).
// It is distinct from the ledger record: metadata may be hand-edited, the
// ledger is machine-owned. friendly_name is cosmetic; only URL is identity.
type Metadata struct {
	URL          string `json:"url"`
	FriendlyName string `json:"friendly_name"`
	Version      int    `json:"version"`
	TotalPages   int    `json:"total_pages"`
	LastUpdated  string `json:"last_updated"`
}

func MetadataPath(backupDir string) string {
	return filepath.Join(backupDir, MetadataFileName)
}

func ReadMetadata(backupDir string) (Metadata, error) {
	var meta Metadata
	if err := backupfs.ReadJSON(MetadataPath(backupDir), &meta); err != nil {
		return Metadata{}, err
	}
	if meta.Version == 0 {
		meta.Version = FormatV1
	}
	meta.URL = CanonicalURL(meta.URL)
	return meta, nil
}

func WriteMetadata(backupDir string, meta Metadata) error {
	if meta.Version == 0 {
		meta.Version = FormatV1
	}
	if strings.TrimSpace(meta.LastUpdated) == "" {
		meta.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	}
	return backupfs.WriteJSON(MetadataPath(backupDir), meta)
}

// InferLegacyURL recovers the thread URL from the thread_url.txt file that
// pre-metadata backups carried. Empty when no usable source exists.
func InferLegacyURL(backupDir string) string {
	data, err := os.ReadFile(filepath.Join(backupDir, LegacyURLFileName))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return CanonicalURL(line)
		}
	}
	return ""
}

// FindExisting scans the backup directories under outputRoot for one whose
// metadata matches the identity. Folder names never participate in matching.
func FindExisting(outputRoot, identity string) (string, bool, error) {
	dirs, err := backupfs.ListBackupDirs(outputRoot)
	if err != nil {
		return "", false, err
	}
	want := CanonicalURL(identity)
	for _, dir := range dirs {
		meta, err := ReadMetadata(dir)
		if err != nil {
			// Unreadable or absent metadata: try the legacy URL file.
			if legacy := InferLegacyURL(dir); legacy != "" && legacy == want {
				return dir, true, nil
			}
			continue
		}
		if meta.URL != "" && meta.URL == want {
			return dir, true, nil
		}
	}
	return "", false, nil
}
