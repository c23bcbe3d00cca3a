package assets

import (
	"encoding/base64"
	"os"
	"path/filepath"

	"thread-archiver/internal/backupfs"
)

const PlaceholderFileName = "placeholder.png"

// 1x1 gray pixel, served in place of assets the forum refused to hand out.
const placeholderBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk+M9QDwADhgGAWjR9awAAAABJRU5ErkJggg=="

var placeholderPNG, _ = base64.StdEncoding.DecodeString(placeholderBase64)

func (s *Store) ensurePlaceholderLocked() error {
	target := filepath.Join(s.dir, PlaceholderFileName)
	if _, err := os.Stat(target); err == nil {
		return nil
	}
	return backupfs.WriteBytes(target, placeholderPNG)
}
