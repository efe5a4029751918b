// Package policy decides how much of the tree a run must rescan and drives
// the scan-stitch-save cycle against the cache.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/treescan/tscan/changes"
	"github.com/ZanzyTHEbar/treescan/tscan/store"
	"github.com/ZanzyTHEbar/treescan/tscan/traverse"
)

// Scope is how much of the tree a run rescans.
type Scope int

const (
	// ScopeSkip serves the run entirely from the cache.
	ScopeSkip Scope = iota
	// ScopeWorkingDir rescans only the working directory subtree and
	// stitches it into the cached tree.
	ScopeWorkingDir
	// ScopeFull rescans from the root.
	ScopeFull
)

func (s Scope) String() string {
	switch s {
	case ScopeSkip:
		return "skip"
	case ScopeWorkingDir:
		return "working-dir"
	case ScopeFull:
		return "full"
	default:
		return "unknown"
	}
}

// Decide picks the scan scope. An empty cache always forces a full scan; a
// cache younger than the freshness window is served as-is unless forced; an
// aged cache gets a working-directory rescan rather than a full one.
func Decide(cache *store.LazyCache, force bool, window time.Duration, now time.Time) Scope {
	if cache.IsEmpty() {
		return ScopeFull
	}
	if !force && now.Sub(cache.LastScan()) < window {
		return ScopeSkip
	}
	return ScopeWorkingDir
}

// Report describes what one refresh did.
type Report struct {
	ScanID        string
	Scope         Scope
	ScanRoot      string
	FirstRun      bool
	CacheUsed     bool
	TotalDirs     int
	WorkersUsed   int
	TraversalTime time.Duration
	SaveTime      time.Duration
	Skipped       map[string]int
	Errors        map[string]error
}

// Refresher runs the freshness cycle: decide the scope, scan it, stitch the
// staged offsets into the index, and persist the index atomically.
type Refresher struct {
	Cache  *store.LazyCache
	Source changes.ChangeSource
	Window time.Duration

	Workers       int
	SortThreshold int
	Rules         *traverse.SkipRules
}

// Refresh brings the cache up to date for a query rooted at root with the
// given working directory, then leaves the cache readable. The returned
// report reflects whatever scanning actually happened, possibly none.
func (r *Refresher) Refresh(ctx context.Context, root, workingDir string, force bool) (*Report, error) {
	now := time.Now()
	firstRun := r.Cache.IsEmpty()

	scope := Decide(r.Cache, force, r.Window, now)
	if scope == ScopeSkip {
		scope = r.upgradeIfChanged(scope)
	}

	if scope == ScopeSkip {
		return &Report{
			Scope:     ScopeSkip,
			CacheUsed: true,
			TotalDirs: r.Cache.EntryCount(),
			Skipped:   r.Cache.SkipStats(),
		}, nil
	}

	scanRoot := root
	if scope == ScopeWorkingDir {
		scanRoot = workingDir
	}
	absScanRoot, err := filepath.Abs(scanRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve scan root %q: %w", scanRoot, err)
	}

	eng := traverse.NewEngine(r.Cache, traverse.Options{
		Workers:       r.Workers,
		SortThreshold: r.SortThreshold,
		Rules:         r.Rules,
	})
	res, err := eng.Run(ctx, absScanRoot)
	if err != nil {
		return nil, fmt.Errorf("scan of %q failed: %w", absScanRoot, err)
	}

	// Stitch: a partial scan keeps every cached offset outside the scanned
	// subtree and replaces the subtree with the staged offsets. A full scan
	// replaces the index outright.
	var offsets map[string]uint64
	if scope == ScopeWorkingDir {
		offsets = r.Cache.RemoveSubtree(absScanRoot)
		for path, off := range res.Offsets {
			offsets[path] = off
		}
	} else {
		offsets = res.Offsets
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %q: %w", root, err)
	}
	scanID := uuid.NewString()
	r.Cache.Update(offsets, absRoot, absScanRoot, now)
	r.Cache.SetSkipStats(res.Skipped)
	r.Cache.SetScanID(scanID)
	r.advanceCursor()

	saveStart := time.Now()
	if err := r.Cache.SaveIndex(); err != nil {
		return nil, fmt.Errorf("failed to persist index: %w", err)
	}
	if err := r.Cache.Remap(); err != nil {
		return nil, fmt.Errorf("failed to refresh data view: %w", err)
	}

	return &Report{
		ScanID:        scanID,
		Scope:         scope,
		ScanRoot:      absScanRoot,
		FirstRun:      firstRun,
		CacheUsed:     !firstRun,
		TotalDirs:     r.Cache.EntryCount(),
		WorkersUsed:   res.Workers,
		TraversalTime: res.Elapsed,
		SaveTime:      time.Since(saveStart),
		Skipped:       res.Skipped,
		Errors:        res.Errors,
	}, nil
}

// upgradeIfChanged consults the change feed when the age policy would skip
// scanning. Any reported change inside the cached root upgrades the scope to
// a working-directory rescan. An unsupported feed leaves the decision alone.
func (r *Refresher) upgradeIfChanged(scope Scope) Scope {
	if r.Source == nil {
		return scope
	}
	dirs, _, err := r.Source.ChangedDirectories(r.Cache.ChangeCursor())
	if err != nil {
		if !errors.Is(err, changes.ErrUnsupported) {
			slog.Debug("change feed query failed, keeping age-based decision", "error", err)
		}
		return scope
	}
	root := r.Cache.Root()
	for _, d := range dirs {
		if d == root || isUnder(d, root) {
			return ScopeWorkingDir
		}
	}
	return scope
}

// advanceCursor persists the change-feed position reached by this scan so
// the next run only sees changes made after it.
func (r *Refresher) advanceCursor() {
	if r.Source == nil {
		return
	}
	_, next, err := r.Source.ChangedDirectories(r.Cache.ChangeCursor())
	if err != nil {
		return
	}
	r.Cache.SetChangeCursor(next)
}

// isUnder reports whether path is a strict descendant of root.
func isUnder(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
