// Package planner wires the catalog, resolver, impact analyzer, topological
// orderer, fetcher and executor into the verb set a front-end actually
// calls: update, install, upgrade, remove, autoremove and the read-only
// queries (list, info, search). It was the teacher's internal/pkgmgr;
// grounded on that package's Manager for the shape of the API (one struct,
// one constructor, one method per verb) even though every method body is
// new — pkgmgr had no catalog, resolver, impact or order stage to call.
package planner

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/opkg-go/opkg/internal/catalog"
	"github.com/opkg-go/opkg/internal/config"
	execrunner "github.com/opkg-go/opkg/internal/exec"
	"github.com/opkg-go/opkg/internal/fetch"
	"github.com/opkg-go/opkg/internal/logging"
	"github.com/opkg-go/opkg/internal/preferred"
)

// Confirmations bundles every interactive yes/no decision a transaction can
// need. A front-end supplies these; a nil field means "always decline",
// the same conservative default original_source/actions.c's check_yesno()
// callers fall back to when running non-interactively.
type Confirmations struct {
	// Conflict is asked before a declared CONFLICTS match aborts a
	// transaction.
	Conflict func(installed, candidate string) bool
	// Downgrade is asked whenever the selected remote candidate is not
	// newer than what is installed.
	Downgrade func(name, installed, candidate string) bool
	// SelfUpgrade is asked before pkg_install is allowed to replace
	// itself mid-transaction.
	SelfUpgrade func(fullname string) bool
	// ArchMismatch is asked once per repository if its MACHINE_ARCH
	// disagrees with the local one.
	ArchMismatch func(got, want string) bool
	// FetchFailure is asked after a package archive fails to download,
	// original_source/actions.c's download_pkgs loop calling check_yesno()
	// on a failed download_file(). Accepting skips the package for the
	// rest of this transaction; declining aborts.
	FetchFailure func(full string, cause error) bool
}

// Planner is the single entry point a CLI or other front-end drives. It
// owns the catalog handle, the fetcher's cache directory and the executor's
// subprocess wiring; none of that is safe for concurrent use, since a
// transaction is inherently sequential once resolution starts (spec.md §5).
type Planner struct {
	cfg           *config.Config
	store         *catalog.Store
	fetcher       *fetch.Fetcher
	runner        *execrunner.Runner
	prefs         preferred.Rules
	cacheDir      string
	installPrefix string

	strictRequires bool
	confirm        Confirmations
	metrics        *Metrics
}

// Options configures a Planner beyond what the config file carries.
type Options struct {
	Verbose        bool
	StrictRequires bool
	FetchTimeout   time.Duration
	ShowProgress   bool
	Confirm        Confirmations

	// ConfigOverrides is merged over the loaded config's Options map,
	// letting a front-end's environment/flag precedence layer (PKG_REPOS
	// per spec.md §6) win over the file without this package knowing
	// viper exists.
	ConfigOverrides map[string]string
	// ExtraRepositories is appended to the config file's repository list,
	// the PKG_REPOS env var's contribution.
	ExtraRepositories []string
	// BinDir overrides the directory pkg_add/pkg_delete/pkg_info/pkg_admin
	// resolve against, the PKG_INSTALL_DIR env var per spec.md §6.
	BinDir string
}

// Open loads the repository config at cfgPath, opens the sqlite catalog it
// names, and wires a fetcher and executor against the same cache directory.
// Grounded on pkgmgr.New's load-then-wire shape, generalized to the fuller
// stack this planner drives.
func Open(ctx context.Context, cfgPath string, opts Options) (*Planner, error) {
	cfg, err := config.Load(ctx, cfgPath, config.DefaultSubstituter())
	if err != nil {
		return nil, errors.Wrap(err, "planner: load config")
	}
	for key, value := range opts.ConfigOverrides {
		cfg.Options[key] = value
	}
	for _, url := range opts.ExtraRepositories {
		cfg.Repositories = append(cfg.Repositories, config.Repository{URL: url})
	}

	cacheDir, err := config.EnsureCacheDir(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "planner: ensure cache dir")
	}

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return nil, errors.Wrap(err, "planner: database path")
	}
	store, err := catalog.Open(ctx, dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "planner: open catalog")
	}

	prefs := preferred.Rules{}
	if prefPath := cfg.FindOption("preferred_pkgs", ""); prefPath != "" {
		rules, err := config.LoadPreferred(ctx, prefPath)
		if err != nil {
			store.Close()
			return nil, errors.Wrap(err, "planner: load preferred versions")
		}
		prefs = preferred.Rules(rules)
	}

	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	errLogPath := cfg.FindOption("error_log", "")
	if errLogPath == "" {
		errLogPath = cacheDir + "/opkg-errors.log"
	}

	p := &Planner{
		cfg:            cfg,
		store:          store,
		fetcher:        fetch.New(cacheDir, timeout, opts.ShowProgress),
		runner:         execrunner.New(cacheDir, opts.Verbose, errLogPath, opts.BinDir),
		prefs:          prefs,
		cacheDir:       cacheDir,
		installPrefix:  cfg.InstallPrefix(),
		strictRequires: opts.StrictRequires,
		confirm:        opts.Confirm,
		metrics:        newMetrics(),
	}
	p.runner.ConfirmSelfUpgrade = func(fullname string) bool {
		return opts.Confirm.SelfUpgrade != nil && opts.Confirm.SelfUpgrade(fullname)
	}
	logging.Debugf(ctx, "planner: opened catalog at %s, cache at %s", dbPath, cacheDir)
	return p, nil
}

// Close releases the catalog handle.
func (p *Planner) Close() error {
	return p.store.Close()
}

// Metrics exposes the planner's private prometheus registry. Nothing
// serves it over HTTP from inside this module — an embedding binary may
// choose to (spec.md §8's ambient-metrics note).
func (p *Planner) Metrics() *Metrics {
	return p.metrics
}

// Substituter is kept from pkgmgr.Architectures for front-ends that want
// to display what a repository config was substituted against; this
// planner only ever substitutes a single live arch/osrelease pair, so it
// reports that pair rather than a configured list.
func (p *Planner) Substituter() config.Substituter {
	return config.DefaultSubstituter()
}
