package store

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ZanzyTHEbar/treescan/tscan/entry"
)

// HotWindow keeps the most recently touched decoded entries in memory so
// repeated lookups skip the decode step. Capacity is fixed at construction;
// the least recently used entry is evicted on overflow.
type HotWindow struct {
	cache *lru.Cache[string, entry.DirEntry]
}

// NewHotWindow builds a window holding at most capacity entries. Capacity
// must be positive.
func NewHotWindow(capacity int) (*HotWindow, error) {
	cache, err := lru.New[string, entry.DirEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &HotWindow{cache: cache}, nil
}

// Get returns a copy of the cached entry and promotes it to most recent.
func (w *HotWindow) Get(path string) (entry.DirEntry, bool) {
	e, ok := w.cache.Get(path)
	if !ok {
		return entry.DirEntry{}, false
	}
	return e.Clone(), true
}

// Put inserts or refreshes an entry, evicting the least recently used one if
// the window is full.
func (w *HotWindow) Put(path string, e entry.DirEntry) {
	w.cache.Add(path, e.Clone())
}

// Len returns the number of resident entries.
func (w *HotWindow) Len() int {
	return w.cache.Len()
}

// Purge drops every resident entry. Used after a rescan invalidates offsets.
func (w *HotWindow) Purge() {
	w.cache.Purge()
}
