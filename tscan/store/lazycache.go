package store

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/armon/go-radix"

	"github.com/ZanzyTHEbar/treescan/tscan/entry"
)

const (
	indexSuffix = ".idx"
	dataSuffix  = ".dat"
)

// LazyCache is the cache-first store for scanned directory trees. Opening it
// loads only the index; entry payloads stay on disk behind the memory map and
// are decoded on demand, with a bounded hot window absorbing repeat lookups.
type LazyCache struct {
	indexPath string

	mu    sync.RWMutex
	index *Index
	log   *AppendLog
	hot   *HotWindow
	keys  *radix.Tree // path -> offset, for subtree removal
}

// Open loads the cache rooted at base; the index lives at base.idx and the
// data log at base.dat. A missing or corrupt index yields an empty cache, so
// Open only fails when the data log itself cannot be opened or mapped.
func Open(base string, hotEntries int) (*LazyCache, error) {
	log, err := OpenAppendLog(base + dataSuffix)
	if err != nil {
		return nil, err
	}

	hot, err := NewHotWindow(hotEntries)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to build hot window: %w", err)
	}

	c := &LazyCache{
		indexPath: base + indexSuffix,
		index:     LoadIndex(base + indexSuffix),
		log:       log,
		hot:       hot,
		keys:      radix.New(),
	}
	for path, off := range c.index.Offsets {
		c.keys.Insert(path, off)
	}
	return c, nil
}

// GetEntry returns the entry for a canonical path, or (nil, nil) when the
// path is not indexed. Decode failures surface as errors; the caller decides
// whether to rescan.
func (c *LazyCache) GetEntry(path string) (*entry.DirEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if e, ok := c.hot.Get(path); ok {
		return &e, nil
	}

	off, ok := c.index.Offsets[path]
	if !ok {
		return nil, nil
	}

	// A stale index over a missing or empty data file is a valid cold
	// state: every path reads as absent, not as an error.
	if c.log.Size() == 0 {
		return nil, nil
	}

	payload, err := c.log.ReadAt(off)
	if err != nil {
		return nil, fmt.Errorf("failed to read entry %q: %w", path, err)
	}
	e, err := entry.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode entry %q: %w", path, err)
	}

	c.hot.Put(path, e)
	return &e, nil
}

// GetAll decodes every indexed entry. Corrupt records are skipped with a
// warning so one bad record cannot hide the rest of the tree.
func (c *LazyCache) GetAll() map[string]entry.DirEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]entry.DirEntry, len(c.index.Offsets))
	for path, off := range c.index.Offsets {
		payload, err := c.log.ReadAt(off)
		if err != nil {
			slog.Warn("skipping unreadable entry", "path", path, "error", err)
			continue
		}
		e, err := entry.Decode(payload)
		if err != nil {
			slog.Warn("skipping corrupt entry", "path", path, "error", err)
			continue
		}
		out[path] = e
	}
	return out
}

// AppendEntry writes one entry to the data log and returns its offset. The
// index is not touched; staged offsets become visible only through Update, so
// a crashed scan leaves the old index pointing at old, still-valid records.
func (c *LazyCache) AppendEntry(e *entry.DirEntry) (uint64, error) {
	return c.log.Append(entry.Encode(e))
}

// Update replaces the offset map wholesale and records the scan metadata.
// The hot window is purged since old decoded entries may now be stale.
func (c *LazyCache) Update(offsets map[string]uint64, root, scannedRoot string, when time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.index.Offsets = offsets
	c.index.Root = root
	c.index.LastScannedRoot = scannedRoot
	c.index.LastScan = when

	c.keys = radix.New()
	for path, off := range offsets {
		c.keys.Insert(path, off)
	}
	c.hot.Purge()
}

// RemoveSubtree deletes root and everything under it from the offset map and
// returns the surviving offsets as a fresh map. Data log records are left in
// place; the log is append-only and unreferenced records are simply dead.
func (c *LazyCache) RemoveSubtree(root string) map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	boundary := strings.TrimSuffix(root, "/") + "/"
	var doomed []string
	c.keys.WalkPrefix(root, func(k string, _ interface{}) bool {
		if k == root || strings.HasPrefix(k, boundary) {
			doomed = append(doomed, k)
		}
		return false
	})
	for _, k := range doomed {
		delete(c.index.Offsets, k)
		c.keys.Delete(k)
	}

	out := make(map[string]uint64, len(c.index.Offsets))
	for path, off := range c.index.Offsets {
		out[path] = off
	}
	return out
}

// PathsUnder returns root and every indexed path below it in lexicographic
// order, for export and diagnostics.
func (c *LazyCache) PathsUnder(root string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	boundary := strings.TrimSuffix(root, "/") + "/"
	var paths []string
	c.keys.WalkPrefix(root, func(k string, _ interface{}) bool {
		if k == root || strings.HasPrefix(k, boundary) {
			paths = append(paths, k)
		}
		return false
	})
	return paths
}

// SetSkipStats records per-rule skip counts from the last scan.
func (c *LazyCache) SetSkipStats(stats map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index.SkipStats = stats
}

// SetChangeCursor persists the opaque change-source cursor.
func (c *LazyCache) SetChangeCursor(cursor string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index.ChangeCursor = cursor
}

// ChangeCursor returns the persisted change-source cursor, empty on cold start.
func (c *LazyCache) ChangeCursor() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.ChangeCursor
}

// SetScanID records the identifier of the scan that produced the index.
func (c *LazyCache) SetScanID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index.ScanID = id
}

// SaveIndex persists the index atomically.
func (c *LazyCache) SaveIndex() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.Save(c.indexPath)
}

// EntryCount returns the number of indexed paths.
func (c *LazyCache) EntryCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index.Offsets)
}

// IsEmpty reports whether the cache holds no entries.
func (c *LazyCache) IsEmpty() bool {
	return c.EntryCount() == 0
}

// LastScan returns when the cache was last refreshed; zero on cold start.
func (c *LazyCache) LastScan() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.LastScan
}

// Root returns the tree root the cache was built for.
func (c *LazyCache) Root() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.Root
}

// SkipStats returns per-rule skip counts from the last scan.
func (c *LazyCache) SkipStats() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int, len(c.index.SkipStats))
	for rule, n := range c.index.SkipStats {
		out[rule] = n
	}
	return out
}

// Remap refreshes the data log view so freshly appended records are readable.
func (c *LazyCache) Remap() error {
	return c.log.Remap()
}

// Close releases the memory map.
func (c *LazyCache) Close() error {
	return c.log.Close()
}
