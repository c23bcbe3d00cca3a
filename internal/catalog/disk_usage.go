package catalog

import (
	"io/fs"
	"path/filepath"
)

// DirSize is the summed size of every regular file under dir. Unreadable
// entries count as zero; the rollup never fails on a permission hole.
func DirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}
