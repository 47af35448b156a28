package planner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/opkg-go/opkg/internal/catalog"
	"github.com/opkg-go/opkg/internal/impact"
	"github.com/opkg-go/opkg/internal/pattern"
	"github.com/opkg-go/opkg/internal/resolver"
	"github.com/opkg-go/opkg/internal/version"
)

// ListOptions controls List's output, kept from pkgmgr.ListOptions and
// widened to the two universes this planner actually has.
type ListOptions struct {
	InstalledOnly bool
	Patterns      []string
	IncludeSize   bool
}

// List renders one line per matching package, "name-version comment
// [installed]", the same shape pkgmgr.List produced.
func (p *Planner) List(ctx context.Context, opts ListOptions) ([]string, error) {
	universe := catalog.Remote
	if opts.InstalledOnly {
		universe = catalog.Local
	}
	pkgs, err := p.store.ListPackages(ctx, universe, true)
	if err != nil {
		return nil, errors.Wrap(err, "planner: list packages")
	}

	var installed map[string]bool
	if !opts.InstalledOnly {
		installed, err = p.installedNames(ctx)
		if err != nil {
			return nil, err
		}
	}

	var lines []string
	for _, pkg := range pkgs {
		if !matchesAny(pkg.Name, opts.Patterns) {
			continue
		}
		comment := pkg.Comment
		if comment == "" {
			comment = "(no description)"
		}
		status := ""
		if installed != nil && installed[pkg.Name] {
			status = " [installed]"
		}
		if opts.IncludeSize && pkg.SizePkg > 0 {
			lines = append(lines, fmt.Sprintf("%s-%s %s%s (%d bytes)", pkg.Name, pkg.Version, comment, status, pkg.SizePkg))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s-%s %s%s", pkg.Name, pkg.Version, comment, status))
	}
	return lines, nil
}

func (p *Planner) installedNames(ctx context.Context) (map[string]bool, error) {
	local, err := p.store.ListPackages(ctx, catalog.Local, true)
	if err != nil {
		return nil, errors.Wrap(err, "planner: list installed")
	}
	out := make(map[string]bool, len(local))
	for _, pkg := range local {
		out[pkg.Name] = true
	}
	return out, nil
}

// Info returns a formatted description of a single package, preferring the
// installed record (it carries the installed size) and falling back to
// the remote one.
func (p *Planner) Info(ctx context.Context, name string) (string, error) {
	if pkg, ok, err := p.store.InstalledByName(ctx, name); err != nil {
		return "", err
	} else if ok {
		return formatPackage(pkg, true), nil
	}

	candidates, err := p.store.RemoteByName(ctx, name)
	if err != nil {
		return "", errors.Wrapf(err, "planner: remote info for %s", name)
	}
	if len(candidates) == 0 {
		return "", errors.Errorf("planner: package %s not found", name)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Full < candidates[j].Full })
	return formatPackage(candidates[len(candidates)-1], false), nil
}

func formatPackage(pkg catalog.Package, installed bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", pkg.Name)
	fmt.Fprintf(&b, "Version: %s\n", pkg.Version)
	if pkg.Comment != "" {
		fmt.Fprintf(&b, "Comment: %s\n", pkg.Comment)
	}
	if pkg.Category != "" {
		fmt.Fprintf(&b, "Categories: %s\n", pkg.Category)
	}
	if pkg.PkgPath != "" {
		fmt.Fprintf(&b, "Pkgpath: %s\n", pkg.PkgPath)
	}
	if pkg.SizePkg > 0 {
		fmt.Fprintf(&b, "Size: %d\n", pkg.SizePkg)
	}
	if !installed && pkg.Repository != "" {
		fmt.Fprintf(&b, "Repository: %s\n", pkg.Repository)
	}
	return strings.TrimRight(b.String(), "\n")
}

// UpgradeCandidate is an installed package whose remote counterpart is
// strictly newer, kept from pkgmgr.UpgradeCandidate.
type UpgradeCandidate struct {
	Name      string
	Installed string
	Available string
	Comment   string
}

// ListUpgradable reports every installed package with a newer remote
// version available.
func (p *Planner) ListUpgradable(ctx context.Context, patterns []string) ([]UpgradeCandidate, error) {
	installed, err := p.store.ListPackages(ctx, catalog.Local, true)
	if err != nil {
		return nil, errors.Wrap(err, "planner: list installed")
	}

	var candidates []UpgradeCandidate
	for _, pkg := range installed {
		if !matchesAny(pkg.Name, patterns) {
			continue
		}
		remotes, err := p.store.RemoteByName(ctx, pkg.Name)
		if err != nil {
			return nil, err
		}
		best, ok := greatestVersion(remotes)
		if !ok || version.Compare(pkg.Version, best.Version) >= 0 {
			continue
		}
		candidates = append(candidates, UpgradeCandidate{
			Name:      pkg.Name,
			Installed: pkg.Version,
			Available: best.Version,
			Comment:   best.Comment,
		})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })
	return candidates, nil
}

func greatestVersion(pkgs []catalog.Package) (catalog.Package, bool) {
	if len(pkgs) == 0 {
		return catalog.Package{}, false
	}
	best := pkgs[0]
	for _, pkg := range pkgs[1:] {
		if version.Compare(pkg.Version, best.Version) > 0 {
			best = pkg
		}
	}
	return best, true
}

// Search performs a case-insensitive substring search over remote package
// names and comments, kept from pkgmgr.FindPackages.
func (p *Planner) Search(ctx context.Context, needle string) ([]catalog.Package, error) {
	pkgs, err := p.store.ListPackages(ctx, catalog.Remote, true)
	if err != nil {
		return nil, errors.Wrap(err, "planner: search")
	}
	needle = strings.ToLower(needle)
	var matches []catalog.Package
	for _, pkg := range pkgs {
		if strings.Contains(strings.ToLower(pkg.Name), needle) || strings.Contains(strings.ToLower(pkg.Comment), needle) {
			matches = append(matches, pkg)
		}
	}
	return matches, nil
}

// Dependencies returns the DEPS/REQUIRES/PROVIDES relations declared by a
// remote package, keyed the way pkgmgr.Dependencies grouped Debian-style
// relation fields. CONFLICTS is omitted here: the catalog only exposes the
// installed universe's conflict table as a whole (internal/impact's
// checkConflicts consumes it), not a per-package declared list.
func (p *Planner) Dependencies(ctx context.Context, full string) (map[string][]string, error) {
	deps, err := p.store.DepsOf(ctx, catalog.Remote, full)
	if err != nil {
		return nil, err
	}
	requires, err := p.store.RequiresOf(ctx, full)
	if err != nil {
		return nil, err
	}
	provides, err := p.store.ProvidesOf(ctx, full)
	if err != nil {
		return nil, err
	}

	out := map[string][]string{}
	if len(deps) > 0 {
		patterns := make([]string, len(deps))
		for i, d := range deps {
			patterns[i] = d.Pattern
		}
		out["DEPENDS"] = patterns
	}
	if len(requires) > 0 {
		out["REQUIRES"] = requires
	}
	if len(provides) > 0 {
		out["PROVIDES"] = provides
	}
	return out, nil
}

// ReverseDependencies returns the installed packages depending on name,
// optionally walking the closure instead of just the direct dependents.
func (p *Planner) ReverseDependencies(ctx context.Context, name string, recursive bool) ([]string, error) {
	nodes, err := resolver.Expand(ctx, p.store, catalog.Local, resolver.Reverse, name, false)
	if err != nil {
		return nil, errors.Wrapf(err, "planner: reverse dependencies of %s", name)
	}
	var names []string
	for _, n := range nodes {
		if n.Name == name {
			continue
		}
		if !recursive && n.Level != 2 {
			continue
		}
		names = append(names, n.Name)
	}
	sort.Strings(names)
	return names, nil
}

// ShowKeep lists every installed package currently marked keep=true,
// sorted by fullname. Grounded on original_source/selection.c's
// export_keep, minus the actual file write.
func (p *Planner) ShowKeep(ctx context.Context) ([]string, error) {
	installed, err := p.store.ListPackages(ctx, catalog.Local, true)
	if err != nil {
		return nil, errors.Wrap(err, "planner: list installed for show-keep")
	}
	var out []string
	for _, pkg := range installed {
		if pkg.Keep {
			out = append(out, pkg.Full)
		}
	}
	return out, nil
}

// SetKeep marks name keep=true (a manual install the autoremove sweep
// must never touch) or keep=false (eligible for autoremove once orphaned),
// the `keep`/`unkeep` verbs.
func (p *Planner) SetKeep(ctx context.Context, name string, keep bool) error {
	return p.store.SetKeep(ctx, name, keep)
}

// ExportKeep writes one fullname per line for every keep=true installed
// package, the plain-text format original_source/selection.c's
// export_keep prints to stdout.
func (p *Planner) ExportKeep(ctx context.Context, w io.Writer) error {
	names, err := p.ShowKeep(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, err := fmt.Fprintln(w, name); err != nil {
			return errors.Wrap(err, "planner: write keep list")
		}
	}
	return nil
}

// ImportKeep reads one package name or fullname per line from r and
// installs each as a fresh root request, the same "install everything named
// in the file" behavior as original_source/selection.c's import_keep (a
// pkgpath line is passed to Install as a name and is not resolved) — a manually
// requested install always lands with keep=true, so a round trip through
// ExportKeep/ImportKeep into an empty local database reproduces the same
// keep set. Blank lines and lines not starting with an alphanumeric are
// skipped, matching import_keep's isalnum guard.
func (p *Planner) ImportKeep(ctx context.Context, r io.Reader) (impact.Result, error) {
	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !isAlnum(line[0]) {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return impact.Result{}, errors.Wrap(err, "planner: read keep list")
	}
	if len(names) == 0 {
		return impact.Result{}, errors.New("planner: keep list is empty")
	}
	return p.Install(ctx, names, false)
}

func isAlnum(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// Clean removes every cached package archive, kept from pkgmgr.Clean.
func (p *Planner) Clean() error {
	entries, err := os.ReadDir(p.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "planner: read cache dir")
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(p.cacheDir, entry.Name())); err != nil {
			return errors.Wrapf(err, "planner: remove cached %s", entry.Name())
		}
	}
	return nil
}

func matchesAny(name string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if pattern.Match(p, name) || p == name {
			return true
		}
	}
	return false
}
