package resolver

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opkg-go/opkg/internal/catalog"
)

func openTestStore(t *testing.T) *catalog.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	s, err := catalog.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedRemoteChain(t *testing.T, s *catalog.Store) {
	t.Helper()
	ctx := context.Background()
	im, err := s.BeginImport(ctx, catalog.Remote, "http://repo.invalid/All")
	require.NoError(t, err)

	fooID, err := im.InsertPackage(ctx, catalog.Package{Full: "foo-1.0", Name: "foo", Version: "1.0", Repository: "http://repo.invalid/All"})
	require.NoError(t, err)
	require.NoError(t, im.InsertDependency(ctx, fooID, catalog.Dependency{Pattern: "bar>=1.0", Name: "bar"}))

	barID, err := im.InsertPackage(ctx, catalog.Package{Full: "bar-1.0", Name: "bar", Version: "1.0", Repository: "http://repo.invalid/All"})
	require.NoError(t, err)
	require.NoError(t, im.InsertDependency(ctx, barID, catalog.Dependency{Pattern: "baz-[0-9]*", Name: "baz"}))

	_, err = im.InsertPackage(ctx, catalog.Package{Full: "baz-2.0", Name: "baz", Version: "2.0", Repository: "http://repo.invalid/All"})
	require.NoError(t, err)

	require.NoError(t, im.Commit())
}

func TestExpandForwardLevelsShallowestWins(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedRemoteChain(t, s)

	nodes, err := Expand(ctx, s, catalog.Remote, Forward, "foo-1.0", false)
	require.NoError(t, err)

	byName := map[string]Node{}
	for _, n := range nodes {
		byName[n.Name] = n
	}
	require.Contains(t, byName, "foo")
	require.Contains(t, byName, "bar")
	require.Contains(t, byName, "baz")
	require.Equal(t, 1, byName["foo"].Level)
	require.Equal(t, 2, byName["bar"].Level)
	require.Equal(t, 3, byName["baz"].Level)
	require.Equal(t, "bar>=1.0", byName["bar"].Pattern)
}

func TestExpandForwardUniqueRootSentinel(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedRemoteChain(t, s)

	nodes, err := Expand(ctx, s, catalog.Remote, Forward, "foo-1.0", true)
	require.NoError(t, err)

	for _, n := range nodes {
		if n.Name == "foo" {
			require.Equal(t, UniqueLevel, n.Level)
		}
	}
}

func TestExpandReverseWalksInstalledClosure(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	im, err := s.BeginImport(ctx, catalog.Local, "")
	require.NoError(t, err)
	fooID, err := im.InsertPackage(ctx, catalog.Package{Full: "foo-1.0", Name: "foo", Version: "1.0"})
	require.NoError(t, err)
	_ = fooID
	barID, err := im.InsertPackage(ctx, catalog.Package{Full: "bar-1.0", Name: "bar", Version: "1.0"})
	require.NoError(t, err)
	require.NoError(t, im.InsertDependency(ctx, barID, catalog.Dependency{Pattern: "foo>=1.0", Name: "foo"}))
	bazID, err := im.InsertPackage(ctx, catalog.Package{Full: "baz-1.0", Name: "baz", Version: "1.0"})
	require.NoError(t, err)
	require.NoError(t, im.InsertDependency(ctx, bazID, catalog.Dependency{Pattern: "bar>=1.0", Name: "bar"}))
	require.NoError(t, im.Commit())

	nodes, err := Expand(ctx, s, catalog.Local, Reverse, "foo", false)
	require.NoError(t, err)

	byName := map[string]Node{}
	for _, n := range nodes {
		byName[n.Name] = n
	}
	require.Equal(t, 2, byName["bar"].Level)
	require.Equal(t, 3, byName["baz"].Level)
	require.Equal(t, "bar-1.0", byName["bar"].Full)
}
