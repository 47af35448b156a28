package planner

import (
	"bytes"
	"context"
	"runtime"
	"strings"

	"github.com/pkg/errors"

	"github.com/opkg-go/opkg/internal/catalog"
	"github.com/opkg-go/opkg/internal/logging"
	"github.com/opkg-go/opkg/internal/summary"
)

// summaryExtensions mirrors original_source/summary.c's sumexts: bz2 is
// tried before gz, the first one that exists (and is out of date) wins.
var summaryExtensions = []string{"bz2", "gz"}

// Update refreshes both universes: the locally installed set (rebuilt
// wholesale from "pkg_info -Xa" every time, since there is no cheap mtime
// to check it against; every name still installed keeps its keep flag
// across the rebuild) and every configured repository (refreshed
// concurrently, each in its own commit, via catalog.RefreshAll).
func (p *Planner) Update(ctx context.Context) error {
	if err := p.updateLocal(ctx); err != nil {
		return errors.Wrap(err, "planner: update local database")
	}

	urls := p.cfg.RepositoryURLs()
	if len(urls) == 0 {
		logging.Warnf(ctx, "planner: no repositories configured")
		return nil
	}
	for _, url := range urls {
		if err := p.store.EnsureRepo(ctx, url); err != nil {
			return err
		}
	}
	if err := p.store.RefreshAll(ctx, urls, p.refreshRemote); err != nil {
		p.metrics.transaction("update", "error")
		return errors.Wrap(err, "planner: refresh repositories")
	}
	p.metrics.transaction("update", "ok")
	return nil
}

func (p *Planner) updateLocal(ctx context.Context) error {
	raw, err := p.runner.LocalSummary(ctx)
	if err != nil {
		return err
	}
	result, err := summary.Parse(ctx, strings.NewReader(raw), summary.Options{})
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		logging.Warnf(ctx, "planner: %s", w)
	}
	previous, err := p.store.ListPackages(ctx, catalog.Local, true)
	if err != nil {
		return errors.Wrap(err, "planner: list installed before rebuild")
	}
	kept := map[string]bool{}
	for _, pkg := range previous {
		kept[pkg.Name] = pkg.Keep
	}
	for i := range result.Records {
		if kept[result.Records[i].Package.Name] {
			result.Records[i].Package.Keep = true
		}
	}
	return p.importRecords(ctx, catalog.Local, "", result.Records)
}

// refreshRemote is the catalog.RefreshFunc passed to RefreshAll: it tries
// each summary extension in turn, skips the import entirely when the
// server reports nothing newer than what was last recorded, and otherwise
// parses and commits the new snapshot.
func (p *Planner) refreshRemote(ctx context.Context, store *catalog.Store, url string) error {
	since, _, err := store.RepoMtime(ctx, url)
	if err != nil {
		return err
	}

	var body []byte
	var newMtime int64
	var unchanged bool
	var fetchErr error
	for _, ext := range summaryExtensions {
		body, newMtime, unchanged, fetchErr = p.fetcher.FetchSummary(ctx, url+"/pkg_summary."+ext, since)
		if fetchErr == nil {
			break
		}
	}
	if fetchErr != nil {
		return errors.Wrapf(fetchErr, "planner: fetch summary for %s", url)
	}
	if unchanged {
		logging.Debugf(ctx, "planner: %s pkg_summary unchanged", url)
		return nil
	}
	p.metrics.fetchedBytes(int64(len(body)))

	decompressed, err := summary.Decompress(bytes.NewReader(body))
	if err != nil {
		return err
	}
	result, err := summary.Parse(ctx, decompressed, summary.Options{
		Repository:          url,
		ExpectedArch:        runtime.GOARCH,
		ConfirmArchMismatch: p.confirm.ArchMismatch,
	})
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		logging.Warnf(ctx, "planner: %s: %s", url, w)
	}

	if err := p.importRecords(ctx, catalog.Remote, url, result.Records); err != nil {
		return err
	}
	return store.SetRepoMtime(ctx, url, newMtime)
}

func (p *Planner) importRecords(ctx context.Context, universe catalog.Universe, repository string, records []summary.Record) error {
	im, err := p.store.BeginImport(ctx, universe, repository)
	if err != nil {
		return err
	}
	for _, rec := range records {
		id, err := im.InsertPackage(ctx, rec.Package)
		if err != nil {
			im.Rollback()
			return err
		}
		for _, dep := range rec.Deps {
			if err := im.InsertDependency(ctx, id, dep); err != nil {
				im.Rollback()
				return err
			}
		}
		for _, c := range rec.Conflicts {
			if err := im.InsertConflict(ctx, id, c); err != nil {
				im.Rollback()
				return err
			}
		}
		for _, r := range rec.Requires {
			if err := im.InsertRequires(ctx, id, r); err != nil {
				im.Rollback()
				return err
			}
		}
		for _, pr := range rec.Provides {
			if err := im.InsertProvides(ctx, id, pr); err != nil {
				im.Rollback()
				return err
			}
		}
	}
	return im.Commit()
}
