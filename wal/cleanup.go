package wal

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// CleanupStats describes the files a cleanup removed
type CleanupStats struct {
	FilesRemoved  int
	BytesFreed    int64
	OldestRemoved time.Time
	NewestRemoved time.Time
}

// Cleanup removes files past the retention period
func Cleanup(dir string, config Config) error {
	_, err := CleanupWithStats(dir, config)
	return err
}

// CleanupWithStats removes files whose last write is older than
// RetentionDays. The newest file is always kept since it may still be the
// one being appended to. RetentionDays <= 0 keeps everything.
func CleanupWithStats(dir string, config Config) (CleanupStats, error) {
	return cleanupBefore(dir, config, time.Now())
}

func cleanupBefore(dir string, config Config, now time.Time) (CleanupStats, error) {
	var stats CleanupStats
	if config.RetentionDays <= 0 {
		return stats, nil
	}
	if config.FilePrefix == "" {
		config.FilePrefix = DefaultConfig().FilePrefix
	}

	files := listJournalFiles(dir, config.FilePrefix)
	if len(files) < 2 {
		return stats, nil
	}

	cutoff := now.AddDate(0, 0, -config.RetentionDays)
	var expired []journalFile
	for _, f := range files[:len(files)-1] {
		if f.modTime.Before(cutoff) {
			expired = append(expired, f)
		}
	}
	if len(expired) == 0 {
		return stats, nil
	}

	var errs []error
	for _, f := range expired {
		if err := os.Remove(f.path); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", f.path, err))
			continue
		}
		stats.FilesRemoved++
		stats.BytesFreed += f.size
		if stats.OldestRemoved.IsZero() || f.modTime.Before(stats.OldestRemoved) {
			stats.OldestRemoved = f.modTime
		}
		if f.modTime.After(stats.NewestRemoved) {
			stats.NewestRemoved = f.modTime
		}
	}
	return stats, errors.Join(errs...)
}
