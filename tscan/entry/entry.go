// Package entry defines the per-directory record model and its on-disk codec.
package entry

import (
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DirEntry is one scanned directory. Path is the absolute, canonical key;
// Children holds immediate child names only (not full paths) in sorted order,
// so the tree is reconstructed by joining Path with each name.
type DirEntry struct {
	Path          string
	Name          string
	Modified      time.Time
	ContentHash   uint64
	Children      []string
	SymlinkTarget string
	IsHidden      bool
	IsDir         bool
}

// Clone returns a deep copy; callers that hand entries out of a shared cache
// must not alias the Children slice.
func (e *DirEntry) Clone() DirEntry {
	out := *e
	if e.Children != nil {
		out.Children = make([]string, len(e.Children))
		copy(out.Children, e.Children)
	}
	return out
}

// ContentHash computes the change-detection fingerprint of a sorted child-name
// set. Zero means "unknown", so an empty child set hashes the empty separator
// string rather than returning 0.
func ContentHash(children []string) uint64 {
	h := xxhash.New()
	for _, name := range children {
		_, _ = h.WriteString(name)
		_, _ = h.WriteString("\x00")
	}
	sum := h.Sum64()
	if sum == 0 {
		sum = 1
	}
	return sum
}

// IsHiddenName reports whether a file name is hidden by the dot convention.
func IsHiddenName(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}
