package impact

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opkg-go/opkg/internal/catalog"
	"github.com/opkg-go/opkg/internal/preferred"
	"github.com/opkg-go/opkg/internal/resolver"
)

func openTestStore(t *testing.T) *catalog.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	s, err := catalog.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedRemote(t *testing.T, s *catalog.Store, pkgs ...catalog.Package) {
	t.Helper()
	ctx := context.Background()
	im, err := s.BeginImport(ctx, catalog.Remote, "http://repo.invalid/All")
	require.NoError(t, err)
	for _, pkg := range pkgs {
		pkg.Repository = "http://repo.invalid/All"
		_, err := im.InsertPackage(ctx, pkg)
		require.NoError(t, err)
	}
	require.NoError(t, im.Commit())
}

func seedLocal(t *testing.T, s *catalog.Store, pkgs ...catalog.Package) *catalog.Import {
	t.Helper()
	ctx := context.Background()
	im, err := s.BeginImport(ctx, catalog.Local, "")
	require.NoError(t, err)
	for _, pkg := range pkgs {
		_, err := im.InsertPackage(ctx, pkg)
		require.NoError(t, err)
	}
	return im
}

func TestAnalyzeInstallsMissingDependency(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedRemote(t, s, catalog.Package{Full: "foo-1.0", Name: "foo", Version: "1.0"})

	nodes := []resolver.Node{{Name: "foo", Pattern: "foo>=1.0", Level: 2}}
	result, err := Analyze(ctx, s, nil, nodes, Options{})
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	require.Equal(t, Install, result.Entries[0].Action)
	require.Equal(t, "foo-1.0", result.Entries[0].Full)
}

func TestAnalyzeNoneWhenInstalledSatisfiesPattern(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	im := seedLocal(t, s, catalog.Package{Full: "foo-1.0", Name: "foo", Version: "1.0"})
	require.NoError(t, im.Commit())
	seedRemote(t, s, catalog.Package{Full: "foo-1.0", Name: "foo", Version: "1.0"})

	nodes := []resolver.Node{{Name: "foo", Pattern: "foo>=1.0", Level: 2}}
	result, err := Analyze(ctx, s, nil, nodes, Options{})
	require.NoError(t, err)
	require.Empty(t, result.Entries)
}

func TestAnalyzeUpgradesWhenPatternNoLongerMatches(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	im := seedLocal(t, s, catalog.Package{Full: "foo-1.0", Name: "foo", Version: "1.0"})
	require.NoError(t, im.Commit())
	seedRemote(t, s, catalog.Package{Full: "foo-2.0", Name: "foo", Version: "2.0"})

	nodes := []resolver.Node{{Name: "foo", Pattern: "foo>=2.0", Level: 1}}
	result, err := Analyze(ctx, s, nil, nodes, Options{})
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	require.Equal(t, Upgrade, result.Entries[0].Action)
	require.Equal(t, "foo-1.0", result.Entries[0].Old)
	require.Equal(t, "foo-2.0", result.Entries[0].Full)
}

func TestAnalyzeDowngradeDeclinedByDefaultProducesWarningNotEntry(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	im := seedLocal(t, s, catalog.Package{Full: "foo-2.0", Name: "foo", Version: "2.0"})
	require.NoError(t, im.Commit())
	seedRemote(t, s, catalog.Package{Full: "foo-1.0", Name: "foo", Version: "1.0"})

	nodes := []resolver.Node{{Name: "foo", Level: resolver.UniqueLevel}}
	opts := Options{ForceReinstallNames: map[string]bool{"foo": true}}
	result, err := Analyze(ctx, s, nil, nodes, opts)
	require.NoError(t, err)
	require.Empty(t, result.Entries)
	require.Len(t, result.Warnings, 1)
	require.Contains(t, result.Warnings[0], "declined downgrade")
}

func TestAnalyzeDowngradeConfirmedProceeds(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	im := seedLocal(t, s, catalog.Package{Full: "foo-2.0", Name: "foo", Version: "2.0"})
	require.NoError(t, im.Commit())
	seedRemote(t, s, catalog.Package{Full: "foo-1.0", Name: "foo", Version: "1.0"})

	nodes := []resolver.Node{{Name: "foo", Level: resolver.UniqueLevel}}
	opts := Options{
		ForceReinstallNames: map[string]bool{"foo": true},
		ConfirmDowngrade:    func(name, installed, candidate string) bool { return true },
	}
	result, err := Analyze(ctx, s, nil, nodes, opts)
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	require.Equal(t, Upgrade, result.Entries[0].Action)
	require.Equal(t, "foo-1.0", result.Entries[0].Full)
}

func TestAnalyzeBreakDependentRemovesWhenReplacementNoLongerSatisfies(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	im := seedLocal(t, s, catalog.Package{Full: "foo-1.0", Name: "foo", Version: "1.0"})
	barID, err := im.InsertPackage(ctx, catalog.Package{Full: "bar-1.0", Name: "bar", Version: "1.0"})
	require.NoError(t, err)
	require.NoError(t, im.InsertDependency(ctx, barID, catalog.Dependency{Pattern: "foo<2.0", Name: "foo"}))
	require.NoError(t, im.Commit())

	seedRemote(t, s, catalog.Package{Full: "foo-2.0", Name: "foo", Version: "2.0"})

	nodes := []resolver.Node{{Name: "foo", Pattern: "foo>=2.0", Level: 1}}
	result, err := Analyze(ctx, s, nil, nodes, Options{})
	require.NoError(t, err)

	byName := map[string]Entry{}
	for _, e := range result.Entries {
		byName[e.Depend] = e
	}
	require.Equal(t, Upgrade, byName["foo"].Action)
	require.Equal(t, Remove, byName["bar"].Action)
	require.Equal(t, "bar-1.0", byName["bar"].Full)
}

func TestAnalyzeConflictAbortsByDefault(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	im, err := s.BeginImport(ctx, catalog.Local, "")
	require.NoError(t, err)
	bazID, err := im.InsertPackage(ctx, catalog.Package{Full: "baz-1.0", Name: "baz", Version: "1.0"})
	require.NoError(t, err)
	require.NoError(t, im.InsertConflict(ctx, bazID, "foo-*"))
	require.NoError(t, im.Commit())

	seedRemote(t, s, catalog.Package{Full: "foo-1.0", Name: "foo", Version: "1.0"})

	nodes := []resolver.Node{{Name: "foo", Level: 1}}
	_, err = Analyze(ctx, s, nil, nodes, Options{})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrConflict)
}

func TestAnalyzeRequiresStrictAbortsAndNonStrictWarns(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	im, err := s.BeginImport(ctx, catalog.Remote, "http://repo.invalid/All")
	require.NoError(t, err)
	fooID, err := im.InsertPackage(ctx, catalog.Package{Full: "foo-1.0", Name: "foo", Version: "1.0", Repository: "http://repo.invalid/All"})
	require.NoError(t, err)
	require.NoError(t, im.InsertRequires(ctx, fooID, "some-capability"))
	require.NoError(t, im.Commit())

	nodes := []resolver.Node{{Name: "foo", Level: 1}}

	_, err = Analyze(ctx, s, nil, nodes, Options{StrictRequires: true})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrRequiresUnmet)

	result, err := Analyze(ctx, s, nil, nodes, Options{StrictRequires: false})
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	require.Len(t, result.Warnings, 1)
	require.Contains(t, result.Warnings[0], "requires")
}

func TestResolveCandidateHonorsPreferredPin(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedRemote(t, s,
		catalog.Package{Full: "foo-1.0", Name: "foo", Version: "1.0"},
		catalog.Package{Full: "foo-2.0", Name: "foo", Version: "2.0"},
	)

	prefs := preferred.Rules{"foo": "foo-1.*"}
	pkg, ok, err := resolveCandidate(ctx, s, prefs, "foo", "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "foo-1.0", pkg.Full)
}
