package workspace

import (
	"os"
	"path/filepath"
	"time"
)

// PruneOlderThan removes job directories last modified more than the
// given number of days ago. Failures on individual directories are
// logged and the scan continues. Returns how many were removed.
func (s *Store) PruneOlderThan(days int) int {
	if days <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)

	entries, err := os.ReadDir(s.JobsDir())
	if err != nil {
		s.log.Error("failed to scan jobs directory", "error", err)
		return 0
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.RemoveAll(filepath.Join(s.JobsDir(), e.Name())); err != nil {
			s.log.Error("failed to remove job directory", "job_id", e.Name(), "error", err)
			continue
		}
		s.log.Info("pruned job directory", "job_id", e.Name(), "age_days", days)
		removed++
	}

	return removed
}
