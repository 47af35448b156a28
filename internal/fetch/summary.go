package fetch

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/opkg-go/opkg/internal/logging"
)

// FetchSummary retrieves a repository's pkg_summary, conditional on
// sinceMtime — the catalog's cached REPO_MTIME. A server reporting
// Last-Modified at or before sinceMtime means the local snapshot is
// already current and the body is never read, grounded on
// original_source/download.c's db_mtime in/out parameter ("-1 used to
// identify return type, local summary up-to-date").
func (f *Fetcher) FetchSummary(ctx context.Context, url string, sinceMtime int64) ([]byte, int64, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, false, errors.Wrapf(err, "fetch: build request for %s", url)
	}
	if sinceMtime > 0 {
		req.Header.Set("If-Modified-Since", time.Unix(sinceMtime, 0).UTC().Format(http.TimeFormat))
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, 0, false, errors.Wrapf(err, "fetch: get %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		logging.Debugf(ctx, "fetch: %s unchanged since %d", url, sinceMtime)
		return nil, sinceMtime, true, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, false, errors.Errorf("fetch: unexpected status %s for %s", resp.Status, url)
	}

	mtime := time.Now().Unix()
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			mtime = t.Unix()
		}
	}
	if sinceMtime > 0 && mtime <= sinceMtime {
		return nil, sinceMtime, true, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, false, errors.Wrapf(err, "fetch: read body of %s", url)
	}
	if len(body) == 0 {
		return nil, 0, false, errors.Wrapf(ErrEmptyDownload, "%s", url)
	}

	logging.Debugf(ctx, "fetch: %s updated, mtime=%d size=%d", url, mtime, len(body))
	return body, mtime, false, nil
}
