package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opkg-go/opkg/internal/impact"
	"github.com/opkg-go/opkg/internal/logging"
	"github.com/opkg-go/opkg/internal/planner"
	"github.com/opkg-go/opkg/internal/version"
)

var (
	buildVersion = "dev"
	buildTime    = ""
)

var (
	confPath       string
	verbose        bool
	strictRequires bool
	assumeYes      bool
	forceReinstall bool
	recursive      bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "opkg",
		Short:         "opkg transaction planner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&confPath, "conf", defaultConfig(), "path to the repository config")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose subprocess and debug logging")
	root.PersistentFlags().BoolVar(&strictRequires, "strict-requires", true, "treat unmet REQUIRES as fatal instead of a warning")
	root.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "answer every confirmation prompt affirmatively")

	viper.SetEnvPrefix("pkg")
	viper.AutomaticEnv()
	_ = viper.BindEnv("repos", "PKG_REPOS")
	_ = viper.BindEnv("install_dir", "PKG_INSTALL_DIR")
	_ = viper.BindPFlag("conf", root.PersistentFlags().Lookup("conf"))

	root.AddCommand(
		newVersionCmd(),
		newUpdateCmd(),
		newCleanCmd(),
		newInstallCmd(),
		newUpgradeCmd(),
		newRemoveCmd(),
		newAutoremoveCmd(),
		newListCmd(),
		newListUpgradableCmd(),
		newInfoCmd(),
		newSearchCmd(),
		newDependsCmd(),
		newWhatDependsCmd(),
		newPlanCmd(),
		newCompareVersionsCmd(),
		newKeepCmd(),
		newUnkeepCmd(),
		newShowKeepCmd(),
		newExportCmd(),
		newImportCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			ts := buildTime
			if ts == "" {
				ts = time.Now().UTC().Format(time.RFC3339)
			}
			fmt.Printf("opkg-go %s (%s)\n", buildVersion, ts)
			return nil
		},
	}
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "refresh the local and remote package catalogs",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPlanner(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()
			if err := p.Update(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Package lists updated.")
			return nil
		},
	}
}

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "remove every cached package archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPlanner(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()
			return p.Clean()
		},
	}
}

func newInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install <pkg>...",
		Short: "install one or more packages, pulling in dependencies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPlanner(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()
			result, err := p.Install(cmd.Context(), args, forceReinstall)
			if err != nil {
				return err
			}
			printTransaction(result.Entries)
			return nil
		},
	}
	cmd.Flags().BoolVar(&forceReinstall, "force", false, "re-plan a name even if an installed package already satisfies it")
	return cmd
}

func newUpgradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade [pkg]...",
		Short: "upgrade the named packages, or every installed package if none are given",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPlanner(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()
			result, err := p.Upgrade(cmd.Context(), args)
			if err != nil {
				return err
			}
			if len(result.Entries) == 0 {
				fmt.Println("Nothing to upgrade.")
				return nil
			}
			printTransaction(result.Entries)
			return nil
		},
	}
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <pkg>...",
		Short: "remove the named packages and whatever still depends on them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPlanner(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()
			removed, err := p.Remove(cmd.Context(), args)
			if err != nil {
				return err
			}
			for _, full := range removed {
				fmt.Println(full)
			}
			return nil
		},
	}
}

func newAutoremoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "autoremove",
		Short: "remove every installed package that is neither kept nor depended on",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPlanner(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()
			removed, err := p.Autoremove(cmd.Context())
			if err != nil {
				return err
			}
			if len(removed) == 0 {
				fmt.Println("Nothing to autoremove.")
				return nil
			}
			for _, full := range removed {
				fmt.Println(full)
			}
			return nil
		},
	}
}

func newKeepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keep <pkg>...",
		Short: "mark installed packages keep=true so autoremove never touches them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPlanner(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()
			for _, name := range args {
				if err := p.SetKeep(cmd.Context(), name, true); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newUnkeepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unkeep <pkg>...",
		Short: "mark installed packages keep=false, eligible for autoremove",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPlanner(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()
			for _, name := range args {
				if err := p.SetKeep(cmd.Context(), name, false); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newShowKeepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show-keep",
		Short: "list every installed package marked keep=true",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPlanner(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()
			names, err := p.ShowKeep(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "print the keep-list to stdout, one fullname per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPlanner(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()
			return p.ExportKeep(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "install every package named in file, reproducing an exported keep-list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPlanner(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			result, err := p.ImportKeep(cmd.Context(), f)
			if err != nil {
				return err
			}
			printTransaction(result.Entries)
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	var installedOnly bool
	var includeSize bool
	cmd := &cobra.Command{
		Use:   "list [glob]...",
		Short: "list available (or installed) packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPlanner(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()
			lines, err := p.List(cmd.Context(), planner.ListOptions{
				InstalledOnly: installedOnly,
				Patterns:      args,
				IncludeSize:   includeSize,
			})
			if err != nil {
				return err
			}
			for _, line := range lines {
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&installedOnly, "installed", false, "list only installed packages")
	cmd.Flags().BoolVar(&includeSize, "size", false, "show package size")
	return cmd
}

func newListUpgradableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-upgradable [glob]...",
		Short: "list installed packages with a newer remote version",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPlanner(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()
			candidates, err := p.ListUpgradable(cmd.Context(), args)
			if err != nil {
				return err
			}
			for _, c := range candidates {
				fmt.Printf("%s %s -> %s %s\n", c.Name, c.Installed, c.Available, c.Comment)
			}
			return nil
		},
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <pkg>",
		Short: "display package metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPlanner(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()
			info, err := p.Info(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(info)
			return nil
		},
	}
}

func newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <substring>",
		Short: "search remote package names and comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPlanner(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()
			matches, err := p.Search(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			sort.Slice(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })
			for _, pkg := range matches {
				fmt.Printf("%s-%s %s\n", pkg.Name, pkg.Version, pkg.Comment)
			}
			return nil
		},
	}
}

func newDependsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "depends <fullname>",
		Short: "show DEPENDS/REQUIRES/PROVIDES declared by a remote package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPlanner(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()
			relations, err := p.Dependencies(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, field := range []string{"DEPENDS", "REQUIRES", "PROVIDES"} {
				values, ok := relations[field]
				if !ok {
					continue
				}
				fmt.Printf("%s:\n", field)
				for _, v := range values {
					fmt.Printf("  %s\n", v)
				}
			}
			return nil
		},
	}
}

func newWhatDependsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whatdepends <pkg>",
		Short: "list installed packages depending on pkg",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPlanner(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()
			names, err := p.ReverseDependencies(cmd.Context(), args[0], recursive)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&recursive, "recursive", false, "walk the full reverse-dependency closure instead of direct dependents only")
	return cmd
}

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <pkg>...",
		Short: "show what install would do without doing it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openPlanner(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()
			result, err := p.Plan(cmd.Context(), args, forceReinstall)
			if err != nil {
				return err
			}
			printTransaction(result.Entries)
			return nil
		},
	}
	cmd.Flags().BoolVar(&forceReinstall, "force", false, "re-plan a name even if an installed package already satisfies it")
	return cmd
}

func newCompareVersionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare-versions <v1> <op> <v2>",
		Short: "compare two version strings",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := version.CompareOp(args[0], version.Op(args[1]), args[2])
			if err != nil {
				return err
			}
			if ok {
				fmt.Println("true")
			} else {
				fmt.Println("false")
			}
			return nil
		},
	}
}

// openPlanner wires a logger into the context and opens a Planner using the
// resolved --conf path plus the viper-bound PKG_REPOS/PKG_INSTALL_DIR
// overrides, per SPEC_FULL.md §6's env/flag precedence rule. PKG_INSTALL_DIR
// feeds opts.BinDir (the pkg_install tools' own directory), not the catalog
// config — see internal/exec.New and original_source/pkg_install.c.
func openPlanner(ctx context.Context) (*planner.Planner, error) {
	logger := logging.New(os.Stderr, verbose)
	ctx = logging.WithLogger(ctx, logger)

	overrides := map[string]string{}
	var extraRepos []string
	if repos := viper.GetString("repos"); repos != "" {
		extraRepos = append(extraRepos, repos)
	}

	opts := planner.Options{
		Verbose:           verbose,
		StrictRequires:    strictRequires,
		ShowProgress:      !assumeYes,
		ConfigOverrides:   overrides,
		ExtraRepositories: extraRepos,
		BinDir:            viper.GetString("install_dir"),
		Confirm:           confirmations(),
	}
	return planner.Open(ctx, confPath, opts)
}

// confirmations wires every interactive prompt to the --yes flag: accept
// everything when set, decline everything (the conservative non-interactive
// default original_source/actions.c's check_yesno() falls back to) when not.
func confirmations() planner.Confirmations {
	accept := func(...string) bool { return assumeYes }
	return planner.Confirmations{
		Conflict:     func(installed, candidate string) bool { return accept(installed, candidate) },
		Downgrade:    func(name, installed, candidate string) bool { return accept(name, installed, candidate) },
		SelfUpgrade:  func(fullname string) bool { return accept(fullname) },
		ArchMismatch: func(got, want string) bool { return accept(got, want) },
		FetchFailure: func(full string, cause error) bool { return accept(full, cause.Error()) },
	}
}

// printTransaction renders one line per transaction entry in the order
// internal/order already sorted them, "<verb> name-version" or, for an
// upgrade, "upgrade old-version -> new-version".
func printTransaction(entries []impact.Entry) {
	if len(entries) == 0 {
		fmt.Println("Nothing to do.")
		return
	}
	for _, e := range entries {
		switch e.Action {
		case impact.Upgrade:
			fmt.Printf("upgrade %s -> %s\n", e.Old, e.Full)
		case impact.Remove:
			fmt.Printf("remove %s\n", e.Full)
		default:
			fmt.Printf("%s %s\n", e.Action, e.Full)
		}
	}
}

func defaultConfig() string {
	if env := os.Getenv("OPKG_CONF"); env != "" {
		return env
	}
	return "/etc/opkg/opkg.conf"
}
