package traverse

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	assert "github.com/ZanzyTHEbar/assert-lib"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/atomic"

	internal "github.com/ZanzyTHEbar/treescan/tscan"
	"github.com/ZanzyTHEbar/treescan/tscan/entry"
)

// idleBackoff is how long an idle worker waits before re-checking the
// termination condition. The re-check closes the race where another worker
// is still expanding a directory when the queue momentarily drains.
const idleBackoff = 2 * time.Millisecond

// EntrySink stages encoded directory entries and returns their log offsets.
type EntrySink interface {
	AppendEntry(e *entry.DirEntry) (uint64, error)
}

// Options configures a traversal run.
type Options struct {
	// Workers is the pool size; zero or negative means twice the logical
	// core count.
	Workers int
	// SortThreshold is the child count above which sorting goes parallel;
	// zero or negative means the default threshold.
	SortThreshold int
	// Rules filters directories out of the scan. Required.
	Rules *SkipRules
}

// Result is what one traversal produced. Offsets are staged: they point at
// records already in the data log, but no index has been updated with them.
type Result struct {
	Offsets map[string]uint64
	Dirs    int
	Errors  map[string]error
	Skipped map[string]int
	Elapsed time.Duration
	Workers int
}

// Engine drains a shared work queue of directories with a fixed pool of
// workers. Each directory is claimed exactly once; workers exit only when the
// queue is empty and no worker is mid-expansion.
type Engine struct {
	opts Options
	sink EntrySink

	mu      sync.Mutex
	queue   []string
	claimed map[string]struct{}

	inFlight atomic.Int64

	resMu   sync.Mutex
	offsets map[string]uint64
	errs    map[string]error

	asserts *assert.AssertHandler
}

// NewEngine builds an engine that stages entries into sink.
func NewEngine(sink EntrySink, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU() * 2
	}
	if opts.SortThreshold <= 0 {
		opts.SortThreshold = internal.DefaultSortThreshold
	}
	if opts.Rules == nil {
		opts.Rules = NewSkipRules(DefaultSkipNames(false))
	}
	return &Engine{
		opts:    opts,
		sink:    sink,
		claimed: make(map[string]struct{}),
		offsets: make(map[string]uint64),
		errs:    make(map[string]error),
		asserts: assert.NewAssertHandler(),
	}
}

// Run scans the tree rooted at root and returns the staged offsets. Roots are
// resolved to absolute paths so queue claims and cache keys agree.
func (e *Engine) Run(ctx context.Context, root string) (*Result, error) {
	start := time.Now()

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve scan root %q: %w", root, err)
	}
	info, err := os.Lstat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat scan root %q: %w", absRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan root %q is not a directory", absRoot)
	}

	e.enqueue(absRoot)

	p := pool.New().WithMaxGoroutines(e.opts.Workers).WithContext(ctx)
	for i := 0; i < e.opts.Workers; i++ {
		p.Go(e.work)
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	e.resMu.Lock()
	defer e.resMu.Unlock()
	return &Result{
		Offsets: e.offsets,
		Dirs:    len(e.offsets),
		Errors:  e.errs,
		Skipped: e.opts.Rules.Stats(),
		Elapsed: time.Since(start),
		Workers: e.opts.Workers,
	}, nil
}

// enqueue claims a path and pushes it, or does nothing if some worker already
// claimed it. Claim and push happen under one lock so duplicate seeds from
// concurrent expansions collapse to a single unit of work.
func (e *Engine) enqueue(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.claimed[path]; ok {
		return
	}
	e.claimed[path] = struct{}{}
	e.queue = append(e.queue, path)
}

// pop dequeues one path and marks it in flight. The in-flight increment is
// inside the queue lock so no worker can observe "queue empty, nothing in
// flight" while a unit of work is between dequeue and increment.
func (e *Engine) pop() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return "", false
	}
	path := e.queue[0]
	e.queue = e.queue[1:]
	e.inFlight.Inc()
	return path, true
}

func (e *Engine) queueEmpty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue) == 0
}

func (e *Engine) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		path, ok := e.pop()
		if !ok {
			if e.inFlight.Load() == 0 {
				// Re-check after a pause: a worker that was mid-expansion
				// may have pushed children in the meantime.
				time.Sleep(idleBackoff)
				if e.queueEmpty() && e.inFlight.Load() == 0 {
					return nil
				}
				continue
			}
			time.Sleep(idleBackoff)
			continue
		}

		e.expand(ctx, path)
		remaining := e.inFlight.Dec()
		e.asserts.Assert(ctx, remaining >= 0, "in-flight counter went negative")
	}
}

// expand reads one directory, stages its entry, and queues its subdirectories.
// Enumeration failures are recorded and skip just this directory; the rest of
// the tree proceeds.
func (e *Engine) expand(ctx context.Context, path string) {
	dirents, err := os.ReadDir(path)
	if err != nil {
		slog.Debug("directory unreadable, skipping", "path", path, "error", err)
		e.resMu.Lock()
		e.errs[path] = err
		e.resMu.Unlock()
		return
	}

	children := make([]string, 0, len(dirents))
	for _, de := range dirents {
		full := filepath.Join(path, de.Name())
		// Skipped directories vanish from the tree entirely: neither listed
		// as children nor descended into.
		if de.IsDir() && e.opts.Rules.ShouldSkip(de.Name(), full) {
			continue
		}
		children = append(children, de.Name())
		// ReadDir reports the entry's own type, so a symlink to a directory
		// is not IsDir and is never followed.
		if de.IsDir() {
			e.enqueue(full)
		}
	}
	sortChildren(children, e.opts.SortThreshold)

	name := filepath.Base(path)
	ent := entry.DirEntry{
		Path:        path,
		Name:        name,
		Modified:    time.Now(),
		ContentHash: entry.ContentHash(children),
		Children:    children,
		IsHidden:    entry.IsHiddenName(name),
		IsDir:       true,
	}
	if info, err := os.Lstat(path); err == nil {
		ent.Modified = info.ModTime()
	}

	off, err := e.sink.AppendEntry(&ent)
	if err != nil {
		e.resMu.Lock()
		e.errs[path] = err
		e.resMu.Unlock()
		return
	}

	e.resMu.Lock()
	e.offsets[path] = off
	e.resMu.Unlock()
}
