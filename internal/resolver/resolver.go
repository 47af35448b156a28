// Package resolver performs the breadth-first expansion of a root package
// into a levelled dependency tree, the central recursion of the planner
// (grounded on the C implementation's full_dep_tree).
package resolver

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/opkg-go/opkg/internal/catalog"
)

// Direction selects which relation the BFS follows.
type Direction int

const (
	// Forward follows DEPS edges (what does this package need).
	Forward Direction = iota
	// Reverse follows installed reverse-dependency edges (what needs
	// this package). Always scoped to the installed universe: a remote
	// repository does not record who depends on a package, only what a
	// package depends on.
	Reverse
)

// Node is one entry in the expanded tree. Pattern is the DEPS pattern this
// node was reached through (empty for the root, and for Reverse-direction
// nodes, which are installed packages reached by name rather than
// pattern). Full is populated whenever the node corresponds to a concrete,
// already-known package — always true for Reverse nodes (they are
// installed rows) and for a root the caller already resolved to a
// fullname; it is left empty for Forward non-root nodes, whose concrete
// version is chosen later by the impact analyzer's preferred-version
// filter.
type Node struct {
	Name    string
	Pattern string
	Full    string
	Keep    bool
	Level   int
}

// UniqueLevel is the sentinel level assigned to a root the caller knows to
// be a one-off request: it signals "do not level-truncate" to the
// topological orderer, which treats it as level 0.
const UniqueLevel = -1

// Expand runs the levelled BFS described by spec.md §4.5: the worklist
// starts at the root (level 1, or UniqueLevel if unique is true); while
// unvisited nodes remain at the smallest level, their direct edges are
// fetched and new nodes are created one level deeper. Deduplication is by
// normalized name, keeping the shallowest level a name is first observed
// at.
func Expand(ctx context.Context, store *catalog.Store, universe catalog.Universe, direction Direction, root string, unique bool) ([]Node, error) {
	rootLevel := 1
	if unique {
		rootLevel = UniqueLevel
	}

	rootName, rootFull := splitRootIdentity(root)
	visited := map[string]*Node{
		rootName: {Name: rootName, Full: rootFull, Level: rootLevel},
	}
	frontier := []string{rootName}

	level := rootLevel
	if level < 0 {
		level = 0
	}

	for len(frontier) > 0 {
		childLevel := level + 1
		var next []string

		for _, name := range frontier {
			switch direction {
			case Reverse:
				refs, err := store.ReverseDepsOf(ctx, name)
				if err != nil {
					return nil, errors.Wrapf(err, "resolver: reverse expand %s", name)
				}
				for _, r := range refs {
					if _, seen := visited[r.Name]; seen {
						continue
					}
					visited[r.Name] = &Node{Name: r.Name, Full: r.Full, Keep: r.Keep, Level: childLevel}
					next = append(next, r.Name)
				}
			default:
				var deps []catalog.Dependency
				var err error
				if rootFull != "" && name == rootName && universe == catalog.Remote {
					deps, err = store.DepsOf(ctx, universe, rootFull)
				} else {
					deps, err = store.DepsOfName(ctx, universe, name)
				}
				if err != nil {
					return nil, errors.Wrapf(err, "resolver: forward expand %s", name)
				}
				for _, d := range deps {
					if _, seen := visited[d.Name]; seen {
						continue
					}
					visited[d.Name] = &Node{Name: d.Name, Pattern: d.Pattern, Level: childLevel}
					next = append(next, d.Name)
				}
			}
		}

		frontier = next
		level = childLevel
	}

	nodes := make([]Node, 0, len(visited))
	for _, n := range visited {
		nodes = append(nodes, *n)
	}
	return nodes, nil
}

// splitRootIdentity reports the normalized name and, if root already looks
// like an exact "name-version" fullname, the fullname itself. A bare stem
// request (no version suffix) returns an empty full.
func splitRootIdentity(root string) (name, full string) {
	idx := strings.LastIndexByte(root, '-')
	if idx < 0 || idx == len(root)-1 {
		return root, ""
	}
	c := root[idx+1]
	if c < '0' || c > '9' {
		return root, ""
	}
	return root[:idx], root
}
