package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func touch(t *testing.T, path string, age time.Duration) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
	_ = f.Close()
	mod := time.Now().Add(-age)
	_ = os.Chtimes(path, mod, mod)
}

func TestCleanup_NoFiles(t *testing.T) {
	if err := Cleanup(t.TempDir(), DefaultConfig()); err != nil {
		t.Errorf("Cleanup failed on empty directory: %v", err)
	}
}

func TestCleanup_MixedAges(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "vigil-20200101-120000-000000000001.wal"), 60*24*time.Hour)
	touch(t, filepath.Join(dir, "vigil-20200301-120000-000000000050.wal"), 10*24*time.Hour)
	touch(t, filepath.Join(dir, "other-20200101-120000-000000000001.wal"), 60*24*time.Hour)

	config := DefaultConfig()
	config.RetentionDays = 30

	stats, err := CleanupWithStats(dir, config)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if stats.FilesRemoved != 1 {
		t.Errorf("Expected 1 file removed, got %d", stats.FilesRemoved)
	}

	remaining, _ := filepath.Glob(filepath.Join(dir, "*.wal"))
	if len(remaining) != 2 {
		t.Errorf("Expected recent and foreign files to remain, got %v", remaining)
	}
}

func TestCleanup_ActiveWALSurvives(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}
	_ = w.Append(EntryProcessed, "evt", nil)
	_ = w.Close()

	if err := Cleanup(dir, DefaultConfig()); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	files, _ := filepath.Glob(filepath.Join(dir, "vigil-*.wal"))
	if len(files) != 1 {
		t.Errorf("Expected fresh file to remain, got %d", len(files))
	}
}

func TestCleanup_KeepsNewestEvenWhenExpired(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "vigil-20200101-120000-000000000001.wal"), 90*24*time.Hour)
	touch(t, filepath.Join(dir, "vigil-20200102-120000-000000000020.wal"), 89*24*time.Hour)

	stats, err := CleanupWithStats(dir, DefaultConfig())
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if stats.FilesRemoved != 1 {
		t.Errorf("Expected only the older file removed, got %d", stats.FilesRemoved)
	}
	if _, err := os.Stat(filepath.Join(dir, "vigil-20200102-120000-000000000020.wal")); err != nil {
		t.Errorf("Newest file should survive: %v", err)
	}
}

func TestCleanup_ZeroRetentionKeepsAll(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "vigil-20200101-120000-000000000001.wal"), 400*24*time.Hour)
	touch(t, filepath.Join(dir, "vigil-20200102-120000-000000000020.wal"), 399*24*time.Hour)

	config := DefaultConfig()
	config.RetentionDays = 0

	stats, err := CleanupWithStats(dir, config)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if stats.FilesRemoved != 0 {
		t.Errorf("Expected nothing removed, got %d", stats.FilesRemoved)
	}
}

func TestCleanupBefore_ReportsRange(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	touch(t, filepath.Join(dir, "vigil-20200101-120000-000000000001.wal"), 50*24*time.Hour)
	touch(t, filepath.Join(dir, "vigil-20200110-120000-000000000010.wal"), 40*24*time.Hour)
	touch(t, filepath.Join(dir, "vigil-20200301-120000-000000000050.wal"), time.Hour)

	stats, err := cleanupBefore(dir, DefaultConfig(), now)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if stats.FilesRemoved != 2 {
		t.Fatalf("Expected 2 files removed, got %d", stats.FilesRemoved)
	}
	if !stats.OldestRemoved.Before(stats.NewestRemoved) {
		t.Errorf("Expected oldest %v before newest %v", stats.OldestRemoved, stats.NewestRemoved)
	}
}
