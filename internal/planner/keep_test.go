package planner

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opkg-go/opkg/internal/catalog"
)

func TestPlannerShowKeepListsOnlyKeptPackages(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	im, err := store.BeginImport(ctx, catalog.Local, "")
	require.NoError(t, err)
	_, err = im.InsertPackage(ctx, catalog.Package{Full: "foo-1.0", Name: "foo", Version: "1.0", Keep: true})
	require.NoError(t, err)
	_, err = im.InsertPackage(ctx, catalog.Package{Full: "bar-1.0", Name: "bar", Version: "1.0", Keep: false})
	require.NoError(t, err)
	require.NoError(t, im.Commit())

	p, _ := newTestPlanner(t, store, t.TempDir())

	kept, err := p.ShowKeep(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"foo-1.0"}, kept)
}

func TestPlannerSetKeepTogglesFlag(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	im, err := store.BeginImport(ctx, catalog.Local, "")
	require.NoError(t, err)
	_, err = im.InsertPackage(ctx, catalog.Package{Full: "foo-1.0", Name: "foo", Version: "1.0", Keep: false})
	require.NoError(t, err)
	require.NoError(t, im.Commit())

	p, _ := newTestPlanner(t, store, t.TempDir())

	require.NoError(t, p.SetKeep(ctx, "foo", true))
	kept, err := p.ShowKeep(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"foo-1.0"}, kept)

	require.NoError(t, p.SetKeep(ctx, "foo", false))
	kept, err = p.ShowKeep(ctx)
	require.NoError(t, err)
	require.Empty(t, kept)
}

// TestPlannerExportImportKeepRoundTrips exercises the keep-list round trip:
// the export holds exactly the kept fullnames, and importing it into a
// fresh catalog plans and fetches each listed package through Install.
func TestPlannerExportImportKeepRoundTrips(t *testing.T) {
	ctx := context.Background()
	srcStore := openTestStore(t)

	im, err := srcStore.BeginImport(ctx, catalog.Local, "")
	require.NoError(t, err)
	_, err = im.InsertPackage(ctx, catalog.Package{Full: "foo-1.0", Name: "foo", Version: "1.0", Keep: true})
	require.NoError(t, err)
	_, err = im.InsertPackage(ctx, catalog.Package{Full: "bar-1.0", Name: "bar", Version: "1.0", Keep: false})
	require.NoError(t, err)
	require.NoError(t, im.Commit())

	src, _ := newTestPlanner(t, srcStore, t.TempDir())

	var buf bytes.Buffer
	require.NoError(t, src.ExportKeep(ctx, &buf))
	require.Equal(t, "foo-1.0\n", buf.String())

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("archive-bytes"))
	}))
	defer srv.Close()

	dstStore := openTestStore(t)
	rim, err := dstStore.BeginImport(ctx, catalog.Remote, srv.URL)
	require.NoError(t, err)
	_, err = rim.InsertPackage(ctx, catalog.Package{Full: "foo-1.0", Name: "foo", Version: "1.0", Repository: srv.URL})
	require.NoError(t, err)
	require.NoError(t, rim.Commit())

	cacheDir := t.TempDir()
	dst, _ := newTestPlanner(t, dstStore, cacheDir)

	result, err := dst.ImportKeep(ctx, strings.NewReader(buf.String()))
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)

	require.FileExists(t, filepath.Join(cacheDir, "foo-1.0.tgz"))
	require.Equal(t, 1, hits)
}
