package traverse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal "github.com/ZanzyTHEbar/treescan/tscan"
	"github.com/ZanzyTHEbar/treescan/tscan/entry"
)

// countingSink stages nothing to disk; it records each staged entry and how
// often its path was appended so exactly-once processing is observable.
type countingSink struct {
	mu      sync.Mutex
	next    uint64
	appends map[string]int
	entries map[string]entry.DirEntry
}

func newCountingSink() *countingSink {
	return &countingSink{
		appends: make(map[string]int),
		entries: make(map[string]entry.DirEntry),
	}
}

func (s *countingSink) AppendEntry(e *entry.DirEntry) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends[e.Path]++
	s.entries[e.Path] = e.Clone()
	s.next++
	return s.next, nil
}

func (s *countingSink) children(t *testing.T, path string) []string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[path]
	require.True(t, ok, "entry for %s was never staged", path)
	return e.Children
}

// buildTree creates depth levels of branching directories under root and
// returns the total directory count including root.
func buildTree(t *testing.T, root string, depth, branching int) int {
	t.Helper()
	total := 1
	level := []string{root}
	for d := 0; d < depth; d++ {
		var next []string
		for _, parent := range level {
			for b := 0; b < branching; b++ {
				dir := filepath.Join(parent, fmt.Sprintf("d%d_%d", d, b))
				require.NoError(t, os.Mkdir(dir, 0o755))
				next = append(next, dir)
				total++
			}
		}
		level = next
	}
	return total
}

func TestNewEngineDefaults(t *testing.T) {
	eng := NewEngine(newCountingSink(), Options{})

	assert.Positive(t, eng.opts.Workers)
	assert.Equal(t, internal.DefaultSortThreshold, eng.opts.SortThreshold,
		"zero-valued options must not disable parallel sorting")
	assert.NotNil(t, eng.opts.Rules)
}

func TestEngineVisitsEveryDirectoryOnce(t *testing.T) {
	root := t.TempDir()
	total := buildTree(t, root, 3, 3)

	sink := newCountingSink()
	eng := NewEngine(sink, Options{Workers: 8, Rules: NewSkipRules(nil)})

	res, err := eng.Run(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, total, res.Dirs)
	assert.Empty(t, res.Errors)
	for path, n := range sink.appends {
		assert.Equal(t, 1, n, "path %s appended more than once", path)
	}
	assert.Len(t, res.Offsets, total)
	assert.True(t, sort.StringsAreSorted(sink.children(t, root)), "child names are sorted")
}

func TestEngineTerminatesWithSingleWorker(t *testing.T) {
	root := t.TempDir()
	total := buildTree(t, root, 2, 2)

	sink := newCountingSink()
	eng := NewEngine(sink, Options{Workers: 1, Rules: NewSkipRules(nil)})

	res, err := eng.Run(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, total, res.Dirs)
}

func TestEngineTerminatesOnWideShallowTree(t *testing.T) {
	// Many leaves and few levels keeps the queue oscillating between empty
	// and full, which is where a naive exit condition quits early.
	root := t.TempDir()
	total := buildTree(t, root, 1, 40)

	sink := newCountingSink()
	eng := NewEngine(sink, Options{Workers: 16, Rules: NewSkipRules(nil)})

	res, err := eng.Run(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, total, res.Dirs)
}

func TestEngineDuplicateSeedsCollapse(t *testing.T) {
	sink := newCountingSink()
	eng := NewEngine(sink, Options{Workers: 2, Rules: NewSkipRules(nil)})

	eng.enqueue("/same/path")
	eng.enqueue("/same/path")
	eng.enqueue("/same/path")

	eng.mu.Lock()
	defer eng.mu.Unlock()
	assert.Len(t, eng.queue, 1)
}

func TestEngineSkipsRuledDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git", "objects"), 0o755))

	sink := newCountingSink()
	eng := NewEngine(sink, Options{Workers: 2, Rules: NewSkipRules(DefaultSkipNames(false))})

	res, err := eng.Run(context.Background(), root)
	require.NoError(t, err)

	assert.Contains(t, res.Offsets, filepath.Join(root, "src"))
	assert.NotContains(t, res.Offsets, filepath.Join(root, ".git"))
	assert.NotContains(t, res.Offsets, filepath.Join(root, ".git", "objects"))
	assert.Equal(t, 1, res.Skipped[".git"])

	// Skipped directories vanish from the parent's child list too.
	children := sink.children(t, root)
	assert.Contains(t, children, "src")
	assert.NotContains(t, children, ".git")
}

func TestEngineDoesNotFollowSymlinks(t *testing.T) {
	root := t.TempDir()
	real := filepath.Join(root, "real")
	require.NoError(t, os.Mkdir(real, 0o755))
	link := filepath.Join(root, "link")
	require.NoError(t, os.Symlink(real, link))

	sink := newCountingSink()
	eng := NewEngine(sink, Options{Workers: 2, Rules: NewSkipRules(nil)})

	res, err := eng.Run(context.Background(), root)
	require.NoError(t, err)

	assert.Contains(t, res.Offsets, real)
	assert.NotContains(t, res.Offsets, link, "symlink target must not be scanned via the link")
	assert.Contains(t, sink.children(t, root), "link", "the link itself is still listed")
}

func TestEngineUnreadableDirIsSkippedNotFatal(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits do not bind for root")
	}

	root := t.TempDir()
	sealed := filepath.Join(root, "sealed")
	open := filepath.Join(root, "open")
	require.NoError(t, os.Mkdir(sealed, 0o000))
	require.NoError(t, os.Mkdir(open, 0o755))
	t.Cleanup(func() { os.Chmod(sealed, 0o755) })

	sink := newCountingSink()
	eng := NewEngine(sink, Options{Workers: 2, Rules: NewSkipRules(nil)})

	res, err := eng.Run(context.Background(), root)
	require.NoError(t, err)

	assert.Contains(t, res.Offsets, open)
	assert.Contains(t, res.Errors, sealed)
	assert.NotContains(t, res.Offsets, sealed)
}

func TestEngineRejectsNonDirectoryRoot(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	eng := NewEngine(newCountingSink(), Options{Workers: 2, Rules: NewSkipRules(nil)})
	_, err := eng.Run(context.Background(), file)
	assert.Error(t, err)
}

func TestEngineHonorsContextCancellation(t *testing.T) {
	root := t.TempDir()
	buildTree(t, root, 2, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := NewEngine(newCountingSink(), Options{Workers: 2, Rules: NewSkipRules(nil)})
	_, err := eng.Run(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
}
