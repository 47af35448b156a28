package planner

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/opkg-go/opkg/internal/catalog"
	"github.com/opkg-go/opkg/internal/fetch"
	"github.com/opkg-go/opkg/internal/impact"
	"github.com/opkg-go/opkg/internal/logging"
	"github.com/opkg-go/opkg/internal/order"
	"github.com/opkg-go/opkg/internal/pattern"
	"github.com/opkg-go/opkg/internal/resolver"
)

const archiveExt = ".tgz"

// Plan resolves names against the remote catalog and returns the impact
// analysis without touching anything installed — the dry-run / "what would
// happen" step behind the CLI's plan verb.
func (p *Planner) Plan(ctx context.Context, names []string, force bool) (impact.Result, error) {
	return p.planInstall(ctx, names, force)
}

func (p *Planner) planInstall(ctx context.Context, names []string, force bool) (impact.Result, error) {
	var nodes []resolver.Node
	for _, name := range names {
		rootNodes, err := resolver.Expand(ctx, p.store, catalog.Remote, resolver.Forward, name, false)
		if err != nil {
			return impact.Result{}, errors.Wrapf(err, "planner: expand %s", name)
		}
		nodes = append(nodes, rootNodes...)
	}

	forceNames := map[string]bool{}
	if force {
		for _, name := range names {
			forceNames[pattern.Stem(name)] = true
		}
	}

	opts := impact.Options{
		ForceReinstallNames: forceNames,
		StrictRequires:      p.strictRequires,
		ConfirmConflict:     p.confirm.Conflict,
		ConfirmDowngrade:    p.confirm.Downgrade,
	}
	return impact.Analyze(ctx, p.store, p.prefs, nodes, opts)
}

// Install resolves names, plans the transaction and executes it: fetches
// every install/upgrade archive, removes whatever the plan displaces, then
// installs, in the order internal/order produces. force re-plans a node
// even when the installed package already satisfies it (the per-request
// "keep = -1" force-reinstall the original supports).
func (p *Planner) Install(ctx context.Context, names []string, force bool) (impact.Result, error) {
	result, err := p.planInstall(ctx, names, force)
	if err != nil {
		p.metrics.transaction("install", "plan_error")
		return result, err
	}
	if err := p.execute(ctx, result); err != nil {
		p.metrics.transaction("install", "error")
		return result, err
	}
	for _, e := range result.Entries {
		if e.Level == 1 && (e.Action == impact.Install || e.Action == impact.Upgrade) {
			if err := p.store.SetKeep(ctx, e.Depend, true); err != nil {
				p.metrics.transaction("install", "error")
				return result, err
			}
		}
	}
	p.metrics.transaction("install", "ok")
	return result, nil
}

// Upgrade plans and executes a transaction rooted at every currently
// installed package matching names (or every installed package, if names
// is empty), the same "full system upgrade" sweep original_source/
// actions.c's pkgin_upgrade performs.
func (p *Planner) Upgrade(ctx context.Context, names []string) (impact.Result, error) {
	installed, err := p.store.ListPackages(ctx, catalog.Local, true)
	if err != nil {
		return impact.Result{}, errors.Wrap(err, "planner: list installed for upgrade")
	}
	var targets []string
	for _, pkg := range installed {
		if matchesAny(pkg.Name, names) {
			targets = append(targets, pkg.Name)
		}
	}

	result, err := p.planInstall(ctx, targets, false)
	if err != nil {
		p.metrics.transaction("upgrade", "plan_error")
		return result, err
	}
	if err := p.execute(ctx, result); err != nil {
		p.metrics.transaction("upgrade", "error")
		return result, err
	}
	p.metrics.transaction("upgrade", "ok")
	return result, nil
}

// Remove expands every name's installed reverse-dependency closure and
// removes it deepest-dependent-first, refusing nothing the executor itself
// doesn't already refuse (pkg_install).
func (p *Planner) Remove(ctx context.Context, names []string) ([]string, error) {
	byName := map[string]impact.Entry{}
	for _, name := range names {
		nodes, err := resolver.Expand(ctx, p.store, catalog.Local, resolver.Reverse, name, false)
		if err != nil {
			p.metrics.transaction("remove", "plan_error")
			return nil, errors.Wrapf(err, "planner: reverse expand %s", name)
		}
		for _, n := range nodes {
			if _, seen := byName[n.Name]; seen {
				continue
			}
			full := n.Full
			if full == "" {
				// Reverse expansion only resolves a bare-name root's
				// fullname through the installed catalog directly; its
				// reverse dependents already carry Full from
				// ReverseDepsOf's InstalledRef.
				pkg, ok, err := p.store.InstalledByName(ctx, n.Name)
				if err != nil {
					return nil, errors.Wrapf(err, "planner: resolve installed %s", n.Name)
				}
				if !ok {
					continue
				}
				full = pkg.Full
			}
			byName[n.Name] = impact.Entry{Depend: n.Name, Full: full, Action: impact.Remove, Level: n.Level}
		}
	}

	entries := make([]impact.Entry, 0, len(byName))
	for _, e := range byName {
		entries = append(entries, e)
	}

	steps, err := order.RemoveOrder(ctx, p.store, entries)
	if err != nil {
		p.metrics.transaction("remove", "plan_error")
		return nil, err
	}
	fullnames := fullnamesOf(steps)
	if err := p.runner.Remove(ctx, fullnames); err != nil {
		p.metrics.subprocessFailure()
		p.metrics.transaction("remove", "error")
		return fullnames, err
	}
	if err := p.updateLocal(ctx); err != nil {
		return fullnames, err
	}
	p.metrics.transaction("remove", "ok")
	return fullnames, nil
}

// Autoremove removes every installed package that is neither pinned
// (PKG_KEEP) nor a DEPS target of anything else installed, the orphan
// sweep original_source/autoremove.c performs.
func (p *Planner) Autoremove(ctx context.Context) ([]string, error) {
	orphans, err := p.store.Orphans(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "planner: list orphans")
	}
	if len(orphans) == 0 {
		return nil, nil
	}

	names := make([]string, len(orphans))
	for i, full := range orphans {
		names[i] = pattern.Stem(full)
	}
	return p.Remove(ctx, names)
}

// execute fetches every install/upgrade archive, removes what the plan
// displaces, installs what it adds, then re-imports the local database so
// the catalog reflects the new installed state — partial subprocess
// failure still leaves the re-import to run, per spec.md §7's propagation
// policy.
func (p *Planner) execute(ctx context.Context, result impact.Result) error {
	for _, w := range result.Warnings {
		logging.Warnf(ctx, "planner: %s", w)
	}

	installSteps := order.InstallOrder(result.Entries)
	if err := p.checkDiskSpace(ctx, installSteps); err != nil {
		return err
	}

	skipped := map[string]bool{}
	for _, step := range installSteps {
		skip, err := p.fetchArchive(ctx, step)
		if err != nil {
			return err
		}
		if skip {
			skipped[step.Full] = true
		}
	}

	removeSteps, err := order.RemoveOrder(ctx, p.store, result.Entries)
	if err != nil {
		return err
	}
	if removals := fullnamesOf(removeSteps); len(removals) > 0 {
		if err := p.runner.Remove(ctx, removals); err != nil {
			p.metrics.subprocessFailure()
			return errors.Wrap(err, "planner: remove phase")
		}
	}

	if installs := fullnamesOf(withoutSkipped(installSteps, skipped)); len(installs) > 0 {
		if err := p.runner.Install(ctx, installs); err != nil {
			p.metrics.subprocessFailure()
			return errors.Wrap(err, "planner: install phase")
		}
	}

	return p.updateLocal(ctx)
}

// checkDiskSpace sums the bytes this transaction still needs to download
// against the cache filesystem, and the bytes it needs to unpack against
// the install-prefix filesystem, aborting before any fetch starts if
// either is short — original_source/actions.c's pair of fs_has_room calls
// ahead of its download loop (pkgin_cache against file_size,
// LOCALBASE against size_pkg).
func (p *Planner) checkDiskSpace(ctx context.Context, installSteps []impact.Entry) error {
	var needFetch, needInstall int64
	for _, step := range installSteps {
		archiveURL, err := p.archiveURL(ctx, step.Full)
		if err != nil {
			return err
		}
		if !p.fetcher.Cached(archiveURL, step.FileSize) {
			needFetch += step.FileSize
		}
		needInstall += step.SizePkg
	}

	if needFetch > 0 {
		ok, err := fetch.HasRoom(p.fetcher.CacheDir(), needFetch)
		if err != nil {
			return errors.Wrap(err, "planner: check cache disk space")
		}
		if !ok {
			return errors.Errorf("planner: not enough free space in cache directory %s for %d bytes", p.fetcher.CacheDir(), needFetch)
		}
	}
	if needInstall > 0 {
		ok, err := fetch.HasRoom(p.installPrefix, needInstall)
		if err != nil {
			return errors.Wrap(err, "planner: check install prefix disk space")
		}
		if !ok {
			return errors.Errorf("planner: not enough free space in install prefix %s for %d bytes", p.installPrefix, needInstall)
		}
	}
	return nil
}

func (p *Planner) archiveURL(ctx context.Context, full string) (string, error) {
	repoURL, err := p.store.URLOf(ctx, full)
	if err != nil {
		return "", errors.Wrapf(err, "planner: locate repository for %s", full)
	}
	return strings.TrimSuffix(repoURL, "/") + "/" + full + archiveExt, nil
}

// fetchArchive downloads one install/upgrade step's archive. On failure it
// asks Confirm.FetchFailure: declining aborts the whole transaction the way
// a fatal error always does; accepting invalidates any partial cache entry
// and reports skip=true so the caller leaves this fullname out of the
// install phase, original_source/actions.c's download_pkgs setting
// file_size = -1 and do_pkg_install/do_pkg_remove skipping it.
func (p *Planner) fetchArchive(ctx context.Context, step impact.Entry) (skip bool, err error) {
	archiveURL, err := p.archiveURL(ctx, step.Full)
	if err != nil {
		return false, err
	}
	if _, ferr := p.fetcher.Fetch(ctx, archiveURL, step.FileSize); ferr != nil {
		cause := errors.Wrapf(ferr, "planner: fetch %s", step.Full)
		if p.confirm.FetchFailure == nil || !p.confirm.FetchFailure(step.Full, cause) {
			return false, cause
		}
		if err := p.fetcher.Invalidate(archiveURL); err != nil {
			return false, errors.Wrapf(err, "planner: invalidate failed fetch for %s", step.Full)
		}
		logging.Warnf(ctx, "planner: skipping %s after fetch failure (user accepted): %v", step.Full, ferr)
		return true, nil
	}
	p.metrics.fetchedBytes(step.FileSize)
	return false, nil
}

func withoutSkipped(entries []impact.Entry, skipped map[string]bool) []impact.Entry {
	if len(skipped) == 0 {
		return entries
	}
	out := make([]impact.Entry, 0, len(entries))
	for _, e := range entries {
		if !skipped[e.Full] {
			out = append(out, e)
		}
	}
	return out
}

func fullnamesOf(entries []impact.Entry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Full)
	}
	return names
}
