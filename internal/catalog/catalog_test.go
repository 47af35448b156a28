package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestImportAndQueryRemotePackage(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	im, err := s.BeginImport(ctx, Remote, "http://repo.invalid/All")
	require.NoError(t, err)

	pkgID, err := im.InsertPackage(ctx, Package{
		Full: "foo-1.0", Name: "foo", Version: "1.0",
		FileSize: 100, Repository: "http://repo.invalid/All",
	})
	require.NoError(t, err)
	require.NoError(t, im.InsertDependency(ctx, pkgID, Dependency{Pattern: "bar>=1.0", Name: "bar"}))
	require.NoError(t, im.InsertProvides(ctx, pkgID, "/usr/bin/foo"))
	require.NoError(t, im.Commit())

	deps, err := s.DepsOf(ctx, Remote, "foo-1.0")
	require.NoError(t, err)
	require.Len(t, deps, 1)
	require.Equal(t, "bar", deps[0].Name)
	require.Equal(t, "bar>=1.0", deps[0].Pattern)

	provides, err := s.ProvidesOf(ctx, "foo-1.0")
	require.NoError(t, err)
	require.Equal(t, []string{"/usr/bin/foo"}, provides)

	url, err := s.URLOf(ctx, "foo-1.0")
	require.NoError(t, err)
	require.Equal(t, "http://repo.invalid/All", url)
}

func TestRepositoryImportIsIsolatedByURL(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	im1, err := s.BeginImport(ctx, Remote, "http://a.invalid/All")
	require.NoError(t, err)
	_, err = im1.InsertPackage(ctx, Package{Full: "foo-1.0", Name: "foo", Version: "1.0", Repository: "http://a.invalid/All"})
	require.NoError(t, err)
	require.NoError(t, im1.Commit())

	im2, err := s.BeginImport(ctx, Remote, "http://b.invalid/All")
	require.NoError(t, err)
	_, err = im2.InsertPackage(ctx, Package{Full: "bar-1.0", Name: "bar", Version: "1.0", Repository: "http://b.invalid/All"})
	require.NoError(t, err)
	require.NoError(t, im2.Commit())

	pkgs, err := s.ListPackages(ctx, Remote, true)
	require.NoError(t, err)
	require.Len(t, pkgs, 2)

	// Re-importing repository a must not disturb repository b's rows.
	im3, err := s.BeginImport(ctx, Remote, "http://a.invalid/All")
	require.NoError(t, err)
	_, err = im3.InsertPackage(ctx, Package{Full: "foo-2.0", Name: "foo", Version: "2.0", Repository: "http://a.invalid/All"})
	require.NoError(t, err)
	require.NoError(t, im3.Commit())

	pkgs, err = s.ListPackages(ctx, Remote, true)
	require.NoError(t, err)
	require.Len(t, pkgs, 2)

	byName, err := s.RemoteByName(ctx, "bar")
	require.NoError(t, err)
	require.Len(t, byName, 1)
	require.Equal(t, "bar-1.0", byName[0].Full)
}

func TestDeleteRepositoryCascades(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	im, err := s.BeginImport(ctx, Remote, "http://repo.invalid/All")
	require.NoError(t, err)
	pkgID, err := im.InsertPackage(ctx, Package{Full: "foo-1.0", Name: "foo", Version: "1.0", Repository: "http://repo.invalid/All"})
	require.NoError(t, err)
	require.NoError(t, im.InsertDependency(ctx, pkgID, Dependency{Pattern: "bar>=1.0", Name: "bar"}))
	require.NoError(t, im.InsertConflict(ctx, pkgID, "baz-*"))
	require.NoError(t, im.Commit())

	require.NoError(t, s.DeleteRepository(ctx, "http://repo.invalid/All"))

	pkgs, err := s.ListPackages(ctx, Remote, true)
	require.NoError(t, err)
	require.Empty(t, pkgs)

	deps, err := s.DepsOf(ctx, Remote, "foo-1.0")
	require.NoError(t, err)
	require.Empty(t, deps)
}

func TestReverseDepsAndKeep(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	im, err := s.BeginImport(ctx, Local, "")
	require.NoError(t, err)
	pkgID, err := im.InsertPackage(ctx, Package{Full: "bar-1.0", Name: "bar", Version: "1.0"})
	require.NoError(t, err)
	require.NoError(t, im.InsertDependency(ctx, pkgID, Dependency{Pattern: "foo>=1.0", Name: "foo"}))
	_, err = im.InsertPackage(ctx, Package{Full: "foo-1.0", Name: "foo", Version: "1.0", Keep: true})
	require.NoError(t, err)
	require.NoError(t, im.Commit())

	refs, err := s.ReverseDepsOf(ctx, "foo")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, "bar-1.0", refs[0].Full)

	require.NoError(t, s.SetKeep(ctx, "bar", true))
	pkg, ok, err := s.InstalledByName(ctx, "bar")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, pkg.Keep)
}

func TestOrphans(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	im, err := s.BeginImport(ctx, Local, "")
	require.NoError(t, err)
	_, err = im.InsertPackage(ctx, Package{Full: "foo-1.0", Name: "foo", Version: "1.0", Keep: false})
	require.NoError(t, err)
	_, err = im.InsertPackage(ctx, Package{Full: "bar-1.0", Name: "bar", Version: "1.0", Keep: true})
	require.NoError(t, err)
	require.NoError(t, im.Commit())

	orphans, err := s.Orphans(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"foo-1.0"}, orphans)
}

func TestPkgdbMtimeRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, ok, err := s.PkgdbMtime(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetPkgdbMtime(ctx, 12345))
	mtime, ok, err := s.PkgdbMtime(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 12345, mtime)
}

func TestRefreshAllRunsRepositoriesConcurrentlyAndCommitsIndependently(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	urls := []string{"http://a.invalid/All", "http://b.invalid/All", "http://c.invalid/All"}
	names := map[string]string{urls[0]: "a", urls[1]: "b", urls[2]: "c"}
	err := s.RefreshAll(ctx, urls, func(ctx context.Context, store *Store, url string) error {
		im, err := store.BeginImport(ctx, Remote, url)
		if err != nil {
			return err
		}
		name := names[url]
		if _, err := im.InsertPackage(ctx, Package{Full: name + "-1.0", Name: name, Version: "1.0", Repository: url}); err != nil {
			im.Rollback()
			return err
		}
		return im.Commit()
	})
	require.NoError(t, err)

	pkgs, err := s.ListPackages(ctx, Remote, true)
	require.NoError(t, err)
	require.Len(t, pkgs, 3)
}
