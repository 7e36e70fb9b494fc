package wal

import (
	"path/filepath"
	"time"
)

// Stats summarizes a journal directory
type Stats struct {
	TotalFiles      int
	TotalSizeBytes  int64
	OldestFile      time.Time
	NewestFile      time.Time
	CurrentFileSize int64

	FirstSequence int64
	LastSequence  int64
	SequenceCount int64

	WritesPerFile map[string]int
	EntriesByType map[EntryType]int
	Failures      int
}

// GetStats summarizes this journal including the unflushed file size
func (w *WAL) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	stats := GetStatsFromDir(w.dir, w.config)
	stats.CurrentFileSize = w.size
	return stats
}

// GetStatsFromDir reads every file under dir. No open WAL is needed, so the
// CLI can inspect a journal while the daemon holds it.
func GetStatsFromDir(dir string, config Config) Stats {
	if config.FilePrefix == "" {
		config.FilePrefix = DefaultConfig().FilePrefix
	}

	stats := Stats{
		WritesPerFile: make(map[string]int),
		EntriesByType: make(map[EntryType]int),
	}

	files := listJournalFiles(dir, config.FilePrefix)
	stats.TotalFiles = len(files)
	stats.TotalSizeBytes, stats.OldestFile, stats.NewestFile = span(files)

	for _, f := range files {
		name := filepath.Base(f.path)
		eachEntry(f.path, func(e *Entry) {
			stats.WritesPerFile[name]++
			stats.EntriesByType[e.Type]++
			if e.Error != "" {
				stats.Failures++
			}
			if stats.FirstSequence == 0 || e.Sequence < stats.FirstSequence {
				stats.FirstSequence = e.Sequence
			}
			if e.Sequence > stats.LastSequence {
				stats.LastSequence = e.Sequence
			}
		})
	}
	if stats.LastSequence > 0 {
		stats.SequenceCount = stats.LastSequence - stats.FirstSequence + 1
	}
	return stats
}

// HealthStatus flags journal conditions worth surfacing on /health
type HealthStatus struct {
	Healthy          bool
	DiskUsagePercent float64
	OldestFileAge    time.Duration
	NeedsRotation    bool
	NeedsCleanup     bool
	Issues           []string
}

// GetHealth checks the current file size against the rotation limit and
// the oldest file against retention.
func (w *WAL) GetHealth() HealthStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	health := HealthStatus{Issues: []string{}}

	health.DiskUsagePercent = float64(w.size) / float64(w.config.MaxFileSize) * 100
	if health.DiskUsagePercent > 90 {
		health.Issues = append(health.Issues, "current file >90% of max size")
	}

	if files := listJournalFiles(w.dir, w.config.FilePrefix); len(files) > 0 {
		_, oldest, _ := span(files)
		health.OldestFileAge = time.Since(oldest)
		if w.config.RetentionDays > 0 && health.OldestFileAge > time.Duration(w.config.RetentionDays)*24*time.Hour {
			health.NeedsCleanup = true
			health.Issues = append(health.Issues, "old files exceed retention period")
		}
	}

	if w.shouldRotate() {
		health.NeedsRotation = true
		health.Issues = append(health.Issues, "file rotation needed")
	}

	health.Healthy = len(health.Issues) == 0
	return health
}
