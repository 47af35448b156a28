package impact

import (
	"context"

	"github.com/pkg/errors"

	"github.com/opkg-go/opkg/internal/catalog"
	"github.com/opkg-go/opkg/internal/pattern"
	"github.com/opkg-go/opkg/internal/preferred"
	"github.com/opkg-go/opkg/internal/resolver"
	"github.com/opkg-go/opkg/internal/version"
)

// classify is the per-node decision, grounded on deps_impact: is the
// dependency already satisfied, missing, or installed at a version that no
// longer matches what was asked for. It never touches another node's
// entry — break-dependency fallout is handled by breakDependents once the
// caller has recorded this one.
func classify(ctx context.Context, store *catalog.Store, prefs preferred.Rules, n resolver.Node, opts Options) (Entry, bool, string, error) {
	installed, isInstalled, err := store.InstalledByName(ctx, n.Name)
	if err != nil {
		return Entry{}, false, "", errors.Wrapf(err, "impact: installed lookup for %s", n.Name)
	}

	remote, haveRemote, err := resolveRemote(ctx, store, prefs, n)
	if err != nil {
		return Entry{}, false, "", err
	}

	if !isInstalled {
		if !haveRemote {
			return Entry{}, false, n.Name + ": no remote candidate available", nil
		}
		satisfied, err := satisfiedByAlternateLocal(ctx, store, n.Pattern)
		if err != nil {
			return Entry{}, false, "", err
		}
		if satisfied {
			return Entry{}, false, "", nil
		}
		return Entry{
			Depend:   n.Name,
			Full:     remote.Full,
			Action:   Install,
			Level:    n.Level,
			FileSize: remote.FileSize,
			SizePkg:  remote.SizePkg,
		}, true, "", nil
	}

	force := opts.ForceReinstallNames[n.Name]
	var matches bool
	if n.Pattern == "" {
		// A request by name alone is satisfied by the installed package
		// unless the catalog offers a newer version of it.
		matches = !haveRemote || version.Compare(remote.Version, installed.Version) <= 0
	} else {
		matches = pattern.Match(n.Pattern, installed.Full)
	}
	if matches && !force {
		return Entry{}, false, "", nil
	}

	if !haveRemote {
		return Entry{}, false, n.Name + ": installed version no longer satisfies request and no replacement is available", nil
	}

	if version.Compare(remote.Version, installed.Version) <= 0 {
		proceed := false
		if opts.ConfirmDowngrade != nil {
			proceed = opts.ConfirmDowngrade(n.Name, installed.Full, remote.Full)
		}
		if !proceed {
			return Entry{}, false, downgradeWarning(n.Name, installed.Full, remote.Full), nil
		}
	}

	return Entry{
		Depend:   n.Name,
		Full:     remote.Full,
		Old:      installed.Full,
		Action:   Upgrade,
		Level:    n.Level,
		FileSize: remote.FileSize,
		SizePkg:  remote.SizePkg,
	}, true, "", nil
}

// resolveRemote honors a node that already carries a concrete fullname
// (the BFS root, or a Reverse node) before falling back to pattern-
// constrained candidate selection.
func resolveRemote(ctx context.Context, store *catalog.Store, prefs preferred.Rules, n resolver.Node) (catalog.Package, bool, error) {
	if n.Full != "" {
		candidates, err := store.RemoteByName(ctx, n.Name)
		if err != nil {
			return catalog.Package{}, false, errors.Wrapf(err, "impact: remote lookup for %s", n.Name)
		}
		for _, c := range candidates {
			if c.Full == n.Full {
				return c, true, nil
			}
		}
		return catalog.Package{}, false, nil
	}
	return resolveCandidate(ctx, store, prefs, n.Name, n.Pattern)
}

// breakDependents implements break_depends: when old's name is replaced by
// a different fullname, every installed package that directly depended on
// the old one is re-checked against the replacement. If none of its own
// DEPS patterns for that name still match the new fullname, the dependent
// can no longer be satisfied and is scheduled for removal alongside the
// upgrade — a collateral removal, not a request the user made directly.
func breakDependents(ctx context.Context, store *catalog.Store, byName map[string]Entry, upgraded Entry) error {
	dependents, err := store.ReverseDepsOf(ctx, upgraded.Depend)
	if err != nil {
		return errors.Wrapf(err, "impact: reverse deps of %s", upgraded.Depend)
	}

	for _, dep := range dependents {
		if _, already := byName[dep.Name]; already {
			continue
		}

		theirDeps, err := store.DepsOfName(ctx, catalog.Remote, dep.Name)
		if err != nil {
			return errors.Wrapf(err, "impact: remote deps of %s", dep.Name)
		}
		if len(theirDeps) == 0 {
			theirDeps, err = store.DepsOfName(ctx, catalog.Local, dep.Name)
			if err != nil {
				return errors.Wrapf(err, "impact: local deps of %s", dep.Name)
			}
		}

		stillSatisfied := false
		for _, d := range theirDeps {
			if d.Name != upgraded.Depend {
				continue
			}
			if pattern.Match(d.Pattern, upgraded.Full) {
				stillSatisfied = true
				break
			}
		}
		if stillSatisfied {
			continue
		}

		byName[dep.Name] = Entry{
			Depend: dep.Name,
			Full:   dep.Full,
			Old:    dep.Full,
			Action: Remove,
			Level:  0,
		}
	}
	return nil
}
