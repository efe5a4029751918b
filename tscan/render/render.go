// Package render turns a cached directory tree into terminal or JSON output.
// Both renderers are iterative with an explicit frame stack and a visited
// set, so corrupt caches whose edges form a cycle terminate instead of
// recursing forever.
package render

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/treescan/tscan/entry"
)

const (
	branchMid  = "├── "
	branchLast = "└── "
	pipePrefix = "│   "
	gapPrefix  = "    "
)

// Options bound what the renderers emit.
type Options struct {
	// MaxDepth limits how deep below the root output goes; zero or negative
	// means unlimited.
	MaxDepth int
}

type frame struct {
	path   string
	name   string
	prefix string
	last   bool
	depth  int
}

// Tree writes the subtree rooted at root in the classic tree(1) layout.
// Entries missing from the map render as bare names with no children, so a
// partially scanned cache still produces output.
func Tree(sb *strings.Builder, entries map[string]entry.DirEntry, root string, opts Options) {
	visited := make(map[string]struct{})
	stack := []frame{{path: root, name: displayName(root), depth: 0}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.depth == 0 {
			sb.WriteString(f.name)
		} else {
			sb.WriteString(f.prefix)
			if f.last {
				sb.WriteString(branchLast)
			} else {
				sb.WriteString(branchMid)
			}
			sb.WriteString(f.name)
		}
		sb.WriteByte('\n')

		if _, seen := visited[f.path]; seen {
			continue
		}
		visited[f.path] = struct{}{}

		if opts.MaxDepth > 0 && f.depth >= opts.MaxDepth {
			continue
		}
		e, ok := entries[f.path]
		if !ok {
			continue
		}

		childPrefix := f.prefix
		if f.depth > 0 {
			if f.last {
				childPrefix += gapPrefix
			} else {
				childPrefix += pipePrefix
			}
		}

		// Children are pushed in reverse so the stack pops them in sorted
		// order.
		for i := len(e.Children) - 1; i >= 0; i-- {
			name := e.Children[i]
			stack = append(stack, frame{
				path:   filepath.Join(f.path, name),
				name:   name,
				prefix: childPrefix,
				last:   i == len(e.Children)-1,
				depth:  f.depth + 1,
			})
		}
	}
}

// jsonNode is the JSON shape of one directory.
type jsonNode struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Children []*jsonNode `json:"children,omitempty"`
}

// JSON renders the subtree rooted at root as indented JSON.
func JSON(entries map[string]entry.DirEntry, root string, opts Options) ([]byte, error) {
	rootNode := &jsonNode{Name: displayName(root), Path: root}

	visited := map[string]struct{}{}
	type jframe struct {
		node  *jsonNode
		depth int
	}
	stack := []jframe{{node: rootNode, depth: 0}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, seen := visited[f.node.Path]; seen {
			continue
		}
		visited[f.node.Path] = struct{}{}

		if opts.MaxDepth > 0 && f.depth >= opts.MaxDepth {
			continue
		}
		e, ok := entries[f.node.Path]
		if !ok {
			continue
		}

		for _, name := range e.Children {
			child := &jsonNode{Name: name, Path: filepath.Join(f.node.Path, name)}
			f.node.Children = append(f.node.Children, child)
			stack = append(stack, jframe{node: child, depth: f.depth + 1})
		}
	}

	out, err := json.MarshalIndent(rootNode, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize tree: %w", err)
	}
	return out, nil
}

func displayName(root string) string {
	if name := filepath.Base(root); name != string(filepath.Separator) {
		return name
	}
	return root
}
