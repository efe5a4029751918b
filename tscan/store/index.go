package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Index maps canonical directory paths to record offsets in the data log and
// carries the scan metadata the freshness policy reads. It is the only part
// of the cache loaded eagerly at startup.
type Index struct {
	Offsets         map[string]uint64 `json:"offsets"`
	LastScan        time.Time         `json:"last_scan"`
	Root            string            `json:"root"`
	LastScannedRoot string            `json:"last_scanned_root"`
	SkipStats       map[string]int    `json:"skip_stats,omitempty"`
	ChangeCursor    string            `json:"change_cursor,omitempty"`
	ScanID          string            `json:"scan_id,omitempty"`
}

func newIndex() *Index {
	return &Index{Offsets: make(map[string]uint64)}
}

// LoadIndex reads the index file at path. A missing or unreadable file yields
// an empty index rather than an error; the caller treats that as a cold start
// and rebuilds by scanning.
func LoadIndex(path string) *Index {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("index unreadable, starting cold", "path", path, "error", err)
		}
		return newIndex()
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		slog.Warn("index corrupt, starting cold", "path", path, "error", err)
		return newIndex()
	}
	if idx.Offsets == nil {
		idx.Offsets = make(map[string]uint64)
	}
	return &idx
}

// Save writes the index atomically: serialize to a temp sibling, fsync, then
// rename over the old file. A crash at any point leaves either the old or the
// new index on disk, never a torn one.
func (idx *Index) Save(path string) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("failed to serialize index: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temp index: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write temp index: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync temp index: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close temp index: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace index: %w", err)
	}
	return nil
}
