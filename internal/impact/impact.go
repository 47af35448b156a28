// Package impact turns a resolved dependency tree (internal/resolver) into
// a concrete transaction: for every node it decides whether the installed
// state already satisfies it, needs installing, needs upgrading, or pulls a
// dependent down with it when a replacement no longer satisfies what it
// used to provide. Grounded on the C implementation's impact.c
// (deps_impact/break_depends/pkg_impact).
package impact

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/opkg-go/opkg/internal/catalog"
	"github.com/opkg-go/opkg/internal/pattern"
	"github.com/opkg-go/opkg/internal/preferred"
	"github.com/opkg-go/opkg/internal/resolver"
	"github.com/opkg-go/opkg/internal/version"
)

// Action classifies what a transaction entry does to the installed system.
type Action int

const (
	None Action = iota
	Install
	Upgrade
	Remove
)

func (a Action) String() string {
	switch a {
	case Install:
		return "install"
	case Upgrade:
		return "upgrade"
	case Remove:
		return "remove"
	default:
		return "none"
	}
}

// Entry is one line of the transaction: install/upgrade Full, or remove Old
// (Full is then the fullname being removed, for display).
type Entry struct {
	Depend   string
	Full     string
	Old      string
	Action   Action
	Level    int
	FileSize int64
	SizePkg  int64
}

// Result is the complete, pruned transaction plan plus any non-fatal
// warnings collected along the way (unavailable dependencies, declined
// downgrades, non-strict REQUIRES misses).
type Result struct {
	Entries  []Entry
	Warnings []string
}

// Sentinel errors. Conflicts and (strict) unmet REQUIRES abort the whole
// analysis before any entry is returned, since acting on a partial plan
// would leave the system in a state nothing asked for. A declined downgrade
// never reaches these — see classify.go.
var (
	ErrConflict      = errors.New("impact: candidate conflicts with an installed package")
	ErrRequiresUnmet = errors.New("impact: candidate requires something not provided")
	ErrDowngrade     = errors.New("impact: candidate is not newer than the installed package")
)

// Options tunes how ambiguous or risky decisions are resolved.
type Options struct {
	// ForceReinstallNames lists node names that must be (re)planned even
	// when the installed package already matches, mirroring the original's
	// per-request "keep = -1" force-reinstall sentinel.
	ForceReinstallNames map[string]bool

	// StrictRequires, when true (the default the planner wires in),
	// promotes an unmet REQUIRES entry to ErrRequiresUnmet; when false it
	// is recorded as a warning instead.
	StrictRequires bool

	// ConfirmConflict is asked before a declared CONFLICTS match aborts
	// the transaction. Returning true proceeds anyway.
	ConfirmConflict func(installed, candidate string) bool

	// ConfirmDowngrade is asked whenever the selected remote candidate is
	// not newer than the installed package. Returning true forces the
	// downgrade through as an ordinary upgrade entry; the default (nil,
	// or a false return) drops the entry and records a warning rather
	// than aborting the whole analysis.
	ConfirmDowngrade func(name, installed, candidate string) bool

	// FileExists backs absolute-path REQUIRES checks; defaults to
	// os.Stat. Overridable for tests.
	FileExists func(path string) bool
}

func (o Options) fileExists(path string) bool {
	if o.FileExists != nil {
		return o.FileExists(path)
	}
	return defaultFileExists(path)
}

func defaultFileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Analyze classifies every node of a resolved forward dependency tree
// (root included — the C implementation runs the same deps_impact logic
// over the requested package itself as its final step) and returns the
// pruned, conflict- and REQUIRES-checked transaction plan.
func Analyze(ctx context.Context, store *catalog.Store, prefs preferred.Rules, nodes []resolver.Node, opts Options) (Result, error) {
	var result Result
	byName := map[string]Entry{}

	for _, n := range nodes {
		entry, ok, warn, err := classify(ctx, store, prefs, n, opts)
		if err != nil {
			return Result{}, err
		}
		if warn != "" {
			result.Warnings = append(result.Warnings, warn)
		}
		if !ok {
			continue
		}
		byName[entry.Depend] = entry

		if entry.Action == Upgrade {
			if err := breakDependents(ctx, store, byName, entry); err != nil {
				return Result{}, err
			}
		}
	}

	entries := make([]Entry, 0, len(byName))
	for _, e := range byName {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Depend < entries[j].Depend })

	if err := checkConflicts(ctx, store, entries, opts); err != nil {
		return Result{}, err
	}
	warnings, err := checkRequires(ctx, store, entries, opts)
	if err != nil {
		return Result{}, err
	}
	result.Warnings = append(result.Warnings, warnings...)
	result.Entries = entries
	return result, nil
}

// resolveCandidate picks the remote package to install for name, optionally
// constrained by a DEPS pattern. Candidates are narrowed to the preferred-
// version pins first (internal/preferred), then the greatest remaining
// version wins by version.Compare, with the greater fullname string
// breaking an exact version tie. The original aborts outright when
// more than one version of a requested package is available
// (count_samepkg > 1 in pkg_impact); this resolves the ambiguity
// deterministically instead, and only surfaces
// "nothing available" rather than "too many available".
func resolveCandidate(ctx context.Context, store *catalog.Store, prefs preferred.Rules, name, pat string) (catalog.Package, bool, error) {
	candidates, err := store.RemoteByName(ctx, name)
	if err != nil {
		return catalog.Package{}, false, errors.Wrapf(err, "impact: remote candidates for %s", name)
	}

	var matching []catalog.Package
	for _, c := range candidates {
		if pat != "" && !pattern.Match(pat, c.Full) {
			continue
		}
		matching = append(matching, c)
	}
	if len(matching) == 0 {
		return catalog.Package{}, false, nil
	}

	fulls := make([]string, len(matching))
	for i, c := range matching {
		fulls[i] = c.Full
	}
	filtered := prefs.Filter(fulls)
	if len(filtered) == 0 {
		filtered = fulls
	}
	byFull := make(map[string]catalog.Package, len(matching))
	for _, c := range matching {
		byFull[c.Full] = c
	}
	best := filtered[0]
	for _, f := range filtered[1:] {
		cmp := version.Compare(byFull[f].Version, byFull[best].Version)
		if cmp > 0 || (cmp == 0 && f > best) {
			best = f
		}
	}
	return byFull[best], true, nil
}

// satisfiedByAlternateLocal reports whether some installed package, under a
// different name than the one being requested, already satisfies pat. This
// covers the case where a dependency is expressed as a pattern rather than
// a bare name and an already-installed package of another name happens to
// match it.
func satisfiedByAlternateLocal(ctx context.Context, store *catalog.Store, pat string) (bool, error) {
	if pat == "" {
		return false, nil
	}
	pkgs, err := store.ListPackages(ctx, catalog.Local, true)
	if err != nil {
		return false, errors.Wrap(err, "impact: list installed packages")
	}
	for _, p := range pkgs {
		if pattern.Match(pat, p.Full) {
			return true, nil
		}
	}
	return false, nil
}

func downgradeWarning(name, installed, candidate string) string {
	return fmt.Sprintf("%s: declined downgrade from %s to %s", name, installed, candidate)
}
