package workspace

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Usage reports disk consumption of the workspace tree.
type Usage struct {
	ScriptsBytes int64
	JobsBytes    int64
	TotalBytes   int64
	ScriptsCount int
	JobsCount    int
}

// DiskUsage walks the workspace tree summing regular-file sizes.
// Entries that vanish mid-walk are skipped rather than failing the
// report.
func (s *Store) DiskUsage() Usage {
	var u Usage

	u.ScriptsBytes = dirSize(s.ScriptsDir())
	u.JobsBytes = dirSize(s.JobsDir())
	u.TotalBytes = u.ScriptsBytes + u.JobsBytes

	if entries, err := os.ReadDir(s.ScriptsDir()); err == nil {
		for _, e := range entries {
			if !e.IsDir() && s.scriptExts[filepath.Ext(e.Name())] {
				u.ScriptsCount++
			}
		}
	}

	if entries, err := os.ReadDir(s.JobsDir()); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				u.JobsCount++
			}
		}
	}

	return u
}

func dirSize(dir string) int64 {
	var total int64
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
