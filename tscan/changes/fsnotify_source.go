package changes

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// WatchSource is a ChangeSource backed by inotify-style filesystem events.
// It watches a root recursively and accumulates the set of directories whose
// contents changed, each stamped with a monotonic sequence number. The cursor
// is that sequence number rendered as a decimal string.
type WatchSource struct {
	watcher *fsnotify.Watcher
	root    string

	mu      sync.Mutex
	seq     uint64
	changed map[string]uint64 // dir -> sequence of its latest change

	done      chan struct{}
	closeOnce sync.Once
}

// NewWatchSource starts watching root and every directory under it. New
// directories created while watching are added to the watch set as they
// appear.
func NewWatchSource(root string) (*WatchSource, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	s := &WatchSource{
		watcher: w,
		root:    root,
		changed: make(map[string]uint64),
		done:    make(chan struct{}),
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are silently unwatched; a later scan of
			// them is still driven by the age policy.
			return fs.SkipDir
		}
		if d.IsDir() {
			if err := w.Add(path); err != nil {
				slog.Debug("failed to watch directory", "path", path, "error", err)
			}
		}
		return nil
	})
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to walk watch root %q: %w", root, err)
	}

	go s.run()
	return s, nil
}

func (s *WatchSource) run() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.record(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Debug("watch error", "error", err)
		}
	}
}

// record marks the directory containing the event as changed. A created
// directory is added to the watch set so its own future events are seen.
func (s *WatchSource) record(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			if err := s.watcher.Add(event.Name); err != nil {
				slog.Debug("failed to watch created directory", "path", event.Name, "error", err)
			}
		}
	}

	dir := filepath.Dir(event.Name)
	s.mu.Lock()
	s.seq++
	s.changed[dir] = s.seq
	s.mu.Unlock()
}

// ChangedDirectories returns the directories changed since cursor and the
// cursor covering everything seen so far. An empty or malformed cursor means
// "report everything".
func (s *WatchSource) ChangedDirectories(cursor string) ([]string, string, error) {
	since, _ := strconv.ParseUint(cursor, 10, 64)

	s.mu.Lock()
	defer s.mu.Unlock()

	var dirs []string
	for dir, seq := range s.changed {
		if seq > since {
			dirs = append(dirs, dir)
		}
	}
	return dirs, strconv.FormatUint(s.seq, 10), nil
}

// Close stops the event loop and releases the watches. Safe to call more
// than once.
func (s *WatchSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.watcher.Close()
	})
	return err
}
