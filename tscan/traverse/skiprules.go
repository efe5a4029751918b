// Package traverse walks directory trees with a fixed worker pool, staging
// encoded entries into the cache data log as it goes.
package traverse

import (
	"fmt"
	"strings"
	"sync"

	ignore "github.com/sabhiram/go-gitignore"
)

// SkipRules decides which directory names a scan never descends into and
// counts how often each rule fires. Name matching is case-insensitive so the
// same rule set works on case-preserving filesystems.
type SkipRules struct {
	names map[string]string // lowercased name -> canonical rule label

	ignores *ignore.GitIgnore

	mu    sync.Mutex
	stats map[string]int
}

// DefaultSkipNames returns the built-in skip list. System directories that
// need elevated rights to read are skipped unless the process runs elevated;
// junk directories are skipped unconditionally.
func DefaultSkipNames(elevated bool) []string {
	names := []string{
		"System Volume Information",
		"$Recycle.Bin",
		".git",
	}
	if !elevated {
		names = append(names,
			"System32",
			"WinSxS",
			"Temp",
			"Temporary Internet Files",
		)
	}
	return names
}

// NewSkipRules builds a rule set from directory names.
func NewSkipRules(names []string) *SkipRules {
	r := &SkipRules{
		names: make(map[string]string, len(names)),
		stats: make(map[string]int),
	}
	for _, n := range names {
		r.names[strings.ToLower(n)] = n
	}
	return r
}

// WithIgnoreFile adds gitignore-style patterns from path. A missing file is
// not an error; the name rules apply alone.
func (r *SkipRules) WithIgnoreFile(path string) error {
	ign, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		return fmt.Errorf("failed to compile ignore file %q: %w", path, err)
	}
	r.ignores = ign
	return nil
}

// ShouldSkip reports whether a directory is excluded from the scan and, when
// it is, records the hit against the rule that matched.
func (r *SkipRules) ShouldSkip(name, fullPath string) bool {
	if rule, ok := r.names[strings.ToLower(name)]; ok {
		r.count(rule)
		return true
	}
	if r.ignores != nil && r.ignores.MatchesPath(fullPath) {
		r.count("ignore-file")
		return true
	}
	return false
}

func (r *SkipRules) count(rule string) {
	r.mu.Lock()
	r.stats[rule]++
	r.mu.Unlock()
}

// Stats returns a copy of the per-rule hit counts.
func (r *SkipRules) Stats() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.stats))
	for rule, n := range r.stats {
		out[rule] = n
	}
	return out
}
