// Package exec sequentially invokes the external pkg_install tools
// (pkg_add, pkg_delete, pkg_info, pkg_admin) that actually touch the
// installed system — this planner only ever decides what to run and in
// what order (internal/impact, internal/order), never extracts an archive
// itself. Grounded on original_source/actions.c's do_pkg_install/
// do_pkg_remove and pkg_install.c's pkg_admin/pkg_info invocation.
package exec

import (
	"bytes"
	"context"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/opkg-go/opkg/internal/logging"
)

const (
	addBinary    = "pkg_add"
	deleteBinary = "pkg_delete"
	infoBinary   = "pkg_info"
	adminBinary  = "pkg_admin"
	archiveExt   = ".tgz"

	// pkgInstallStem is PKG_INSTALL: pkg_install cannot remove itself, and
	// upgrading it is the one operation forced through regardless of the
	// ordinary flag set.
	pkgInstallStem = "pkg_install"
)

// Runner sequentially shells out to the installer toolchain. A Runner is
// not safe for concurrent use — transactions are inherently sequential,
// since pkg_add/pkg_delete serialize on the installed package database
// themselves.
type Runner struct {
	cacheDir string
	verbose  bool
	errLog   *lumberjack.Logger

	// Add/Delete/InfoBin/AdminBin default to the bare tool names, resolved
	// against PATH; overridable so tests can point at a stand-in script.
	AddBin    string
	DeleteBin string
	InfoBin   string
	AdminBin  string

	// ConfirmSelfUpgrade is asked before pkg_install is allowed to
	// upgrade itself mid-transaction. A nil callback proceeds without
	// asking, matching the original's unconditional force; supply one to
	// require a confirmation first.
	ConfirmSelfUpgrade func(fullname string) bool
}

// New creates a Runner. errLogPath receives every pkg_add/pkg_delete
// stderr stream, rotated by lumberjack. binDir, when non-empty, resolves
// the four tools
// against that directory instead of PATH — pkg_install.c's
// "PKG_INSTALL_DIR environment variable or the default compiled-in
// location" for pkg_add/pkg_admin/pkg_info/pkg_delete.
func New(cacheDir string, verbose bool, errLogPath string, binDir ...string) *Runner {
	add, del, info, admin := addBinary, deleteBinary, infoBinary, adminBinary
	if len(binDir) > 0 && binDir[0] != "" {
		add = filepath.Join(binDir[0], addBinary)
		del = filepath.Join(binDir[0], deleteBinary)
		info = filepath.Join(binDir[0], infoBinary)
		admin = filepath.Join(binDir[0], adminBinary)
	}
	return &Runner{
		cacheDir:  cacheDir,
		verbose:   verbose,
		AddBin:    add,
		DeleteBin: del,
		InfoBin:   info,
		AdminBin:  admin,
		errLog: &lumberjack.Logger{
			Filename:   errLogPath,
			MaxSize:    10,
			MaxBackups: 3,
		},
	}
}

func (r *Runner) flags() string {
	if r.verbose {
		return "-fv"
	}
	return "-f"
}

// Remove runs pkg_delete against every fullname, in the order given —
// internal/order.RemoveOrder already arranged that order so a package is
// never removed while something depending on it still is.
func (r *Runner) Remove(ctx context.Context, fullnames []string) error {
	for _, name := range fullnames {
		if name == "" {
			continue
		}
		if strings.HasPrefix(name, pkgInstallStem) {
			logging.Warnf(ctx, "exec: refusing to remove %s", name)
			continue
		}
		logging.Infof(ctx, "exec: removing %s", name)
		if err := r.run(ctx, r.DeleteBin, r.flags(), name); err != nil {
			return errors.Wrapf(err, "exec: remove %s", name)
		}
	}
	return nil
}

// Install runs pkg_add against every fullname's cached archive, in the
// order internal/order.InstallOrder produced. An upgrade of pkg_install
// itself is forced through with "-ffu" (plus "v" when verbose) rather
// than the ordinary flag set, matching the original's special case for
// replacing the tool that is doing the installing.
func (r *Runner) Install(ctx context.Context, fullnames []string) error {
	for _, name := range fullnames {
		if name == "" {
			continue
		}
		path := filepath.Join(r.cacheDir, name+archiveExt)

		if strings.HasPrefix(name, pkgInstallStem) {
			proceed := true
			if r.ConfirmSelfUpgrade != nil {
				proceed = r.ConfirmSelfUpgrade(name)
			}
			if !proceed {
				logging.Warnf(ctx, "exec: declined self-upgrade of %s", name)
				continue
			}
			forced := "-ffu"
			if r.verbose {
				forced += "v"
			}
			logging.Infof(ctx, "exec: force-upgrading %s", name)
			if err := r.run(ctx, r.AddBin, forced, path); err != nil {
				return errors.Wrapf(err, "exec: self-upgrade %s", name)
			}
			continue
		}

		logging.Infof(ctx, "exec: installing %s", name)
		if err := r.run(ctx, r.AddBin, r.flags(), path); err != nil {
			return errors.Wrapf(err, "exec: install %s", name)
		}
	}
	return nil
}

// Info runs "pkg_info -<flag> fullname" and returns its stdout, used for
// the planner's info/show verbs (flag is one of pkg_info's single-letter
// report selectors, e.g. 'L' for file list, 'd' for description).
func (r *Runner) Info(ctx context.Context, flag byte, fullname string) (string, error) {
	out, err := r.capture(ctx, r.InfoBin, "-"+string(flag), fullname)
	if err != nil {
		return "", errors.Wrapf(err, "exec: info %s", fullname)
	}
	return out, nil
}

// LocalSummary runs "pkg_info -Xa" and returns its raw pkg_summary-format
// output, the same way original_source/summary.c's update_db streams the
// locally installed set into a summary-shaped buffer before parsing it.
func (r *Runner) LocalSummary(ctx context.Context) (string, error) {
	out, err := r.capture(ctx, r.InfoBin, "-Xa")
	if err != nil {
		return "", errors.Wrap(err, "exec: local summary")
	}
	return out, nil
}

// AdminConfigVar runs "pkg_admin config-var <key>" and returns the
// trimmed value, used to discover PKG_DBDIR the same way
// original_source/pkg_install.c does at startup.
func (r *Runner) AdminConfigVar(ctx context.Context, key string) (string, error) {
	out, err := r.capture(ctx, r.AdminBin, "config-var", key)
	if err != nil {
		return "", errors.Wrapf(err, "exec: admin config-var %s", key)
	}
	return strings.TrimSpace(out), nil
}

func (r *Runner) run(ctx context.Context, bin string, args ...string) error {
	cmd := osexec.CommandContext(ctx, bin, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = r.errLog
	return cmd.Run()
}

func (r *Runner) capture(ctx context.Context, bin string, args ...string) (string, error) {
	cmd := osexec.CommandContext(ctx, bin, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = r.errLog
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return out.String(), nil
}
