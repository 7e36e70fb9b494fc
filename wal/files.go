package wal

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// journalFile is one rotated file with its size and mtime read once
type journalFile struct {
	path    string
	size    int64
	modTime time.Time
}

// listJournalFiles returns the files for prefix in write order. File names
// embed a timestamp and the first sequence, so name order is write order.
func listJournalFiles(dir, prefix string) []journalFile {
	paths, err := filepath.Glob(filepath.Join(dir, prefix+"-*.wal"))
	if err != nil {
		return nil
	}
	sort.Strings(paths)

	files := make([]journalFile, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		files = append(files, journalFile{path: p, size: info.Size(), modTime: info.ModTime()})
	}
	return files
}

// eachEntry calls fn for every decodable entry in path. Corrupt lines are
// skipped; an unreadable file yields nothing.
func eachEntry(path string, fn func(*Entry)) {
	reader, err := NewReader(path)
	if err != nil {
		return
	}
	defer func() { _ = reader.Close() }()

	for {
		entry, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if reader.scanner.Err() != nil {
				return
			}
			continue
		}
		fn(entry)
	}
}

// span returns the total size and the mtime range of files
func span(files []journalFile) (size int64, oldest, newest time.Time) {
	for _, f := range files {
		size += f.size
		if oldest.IsZero() || f.modTime.Before(oldest) {
			oldest = f.modTime
		}
		if f.modTime.After(newest) {
			newest = f.modTime
		}
	}
	return size, oldest, newest
}
