// Package catalog is the exclusive owner of the planner's persistent state:
// two package universes (installed and remote), their four relation tables,
// the repository list, and the installed-database mtime cache. Every other
// package reaches this state through the query methods here, never through
// direct file access.
package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	_ "modernc.org/sqlite"

	"github.com/opkg-go/opkg/internal/logging"
)

// Universe selects which of the two package tables a query or import
// targets.
type Universe int

const (
	Local Universe = iota
	Remote
)

func (u Universe) prefix() string {
	if u == Remote {
		return "REMOTE"
	}
	return "LOCAL"
}

// Package is a catalog record, present in either universe. Repository and
// Keep are meaningful only in their respective universe: Repository is
// empty for installed packages, Keep is always false for remote ones.
type Package struct {
	Full       string
	Name       string
	Version    string
	FileSize   int64
	SizePkg    int64
	Comment    string
	Category   string
	PkgPath    string
	Repository string
	Keep       bool
}

// Dependency is a single DEPS (pattern, normalized name) relation row.
// CONFLICTS/REQUIRES/PROVIDES rows do not use it: they are inserted and
// returned as plain strings.
type Dependency struct {
	Pattern string
	Name    string
}

// InstalledRef identifies an installed package by name, returned from
// reverse-dependency queries.
type InstalledRef struct {
	Full string
	Name string
	Keep bool
}

// Store wraps the sqlite database holding the catalog.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "catalog: open database")
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY under our own errgroup fan-out.

	s := &Store{db: db}
	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS REPOS (
			REPO_URL TEXT PRIMARY KEY,
			REPO_MTIME INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS PKGDB (
			PKGDB_MTIME INTEGER NOT NULL
		)`,
	}
	for _, u := range []Universe{Local, Remote} {
		p := u.prefix()
		stmts = append(stmts,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_PKG (
				PKG_ID INTEGER PRIMARY KEY AUTOINCREMENT,
				FULLPKGNAME TEXT NOT NULL UNIQUE,
				PKGNAME TEXT NOT NULL,
				PKGVERS TEXT NOT NULL,
				COMMENT TEXT,
				FILE_SIZE INTEGER NOT NULL DEFAULT 0,
				SIZE_PKG INTEGER NOT NULL DEFAULT 0,
				CATEGORIES TEXT,
				PKGPATH TEXT,
				REPOSITORY TEXT,
				PKG_KEEP INTEGER NOT NULL DEFAULT 0
			)`, p),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_PKG_NAME_IDX ON %s_PKG (PKGNAME)`, p, p),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_DEPS (
				PKG_ID INTEGER NOT NULL,
				%s_DEPS_PKGNAME TEXT NOT NULL,
				%s_DEPS_DEWEY TEXT NOT NULL
			)`, p, p, p),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_DEPS_NAME_IDX ON %s_DEPS (%s_DEPS_PKGNAME)`, p, p, p),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_CONFLICTS (
				PKG_ID INTEGER NOT NULL,
				%s_CONFLICTS_PKGNAME TEXT NOT NULL
			)`, p, p),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_REQUIRES (
				PKG_ID INTEGER NOT NULL,
				%s_REQUIRES_PKGNAME TEXT NOT NULL
			)`, p, p),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_PROVIDES (
				PKG_ID INTEGER NOT NULL,
				%s_PROVIDES_PKGNAME TEXT NOT NULL
			)`, p, p),
		)
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "catalog: create schema (%s)", stmt)
		}
	}
	return nil
}

// Import is a single batch load into one universe, scoped to one
// transaction. For the remote universe it is further scoped to one
// repository: BeginImport deletes that repository's existing rows (and
// only that repository's) before the caller inserts the new snapshot, so a
// crash mid-import leaves either the old or the new snapshot intact, never
// a mix.
type Import struct {
	tx         *sql.Tx
	universe   Universe
	repository string
}

// BeginImport starts a transactional batch load. repository is ignored for
// the Local universe (the installed summary is always rebuilt wholesale).
func (s *Store) BeginImport(ctx context.Context, universe Universe, repository string) (*Import, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "catalog: begin import")
	}

	im := &Import{tx: tx, universe: universe, repository: repository}
	if err := im.clear(ctx); err != nil {
		tx.Rollback()
		return nil, err
	}
	return im, nil
}

func (im *Import) clear(ctx context.Context) error {
	p := im.universe.prefix()
	if im.universe == Local {
		for _, table := range []string{"DEPS", "CONFLICTS", "REQUIRES", "PROVIDES", "PKG"} {
			if _, err := im.tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s_%s", p, table)); err != nil {
				return errors.Wrapf(err, "catalog: clear %s_%s", p, table)
			}
		}
		return nil
	}

	for _, table := range []string{"DEPS", "CONFLICTS", "REQUIRES", "PROVIDES"} {
		q := fmt.Sprintf(
			`DELETE FROM %s_%s WHERE PKG_ID IN (SELECT PKG_ID FROM %s_PKG WHERE REPOSITORY = ?)`,
			p, table, p,
		)
		if _, err := im.tx.ExecContext(ctx, q, im.repository); err != nil {
			return errors.Wrapf(err, "catalog: clear %s_%s for %s", p, table, im.repository)
		}
	}
	if _, err := im.tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s_PKG WHERE REPOSITORY = ?`, p), im.repository); err != nil {
		return errors.Wrapf(err, "catalog: clear %s_PKG for %s", p, im.repository)
	}
	return nil
}

// InsertPackage inserts a package row and returns its PKG_ID for subsequent
// relation inserts.
func (im *Import) InsertPackage(ctx context.Context, pkg Package) (int64, error) {
	p := im.universe.prefix()
	repo := pkg.Repository
	if im.universe == Local {
		repo = ""
	}
	keep := 0
	if pkg.Keep {
		keep = 1
	}
	q := fmt.Sprintf(
		`INSERT INTO %s_PKG (FULLPKGNAME, PKGNAME, PKGVERS, COMMENT, FILE_SIZE, SIZE_PKG, CATEGORIES, PKGPATH, REPOSITORY, PKG_KEEP)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, p)
	res, err := im.tx.ExecContext(ctx, q, pkg.Full, pkg.Name, pkg.Version, pkg.Comment, pkg.FileSize, pkg.SizePkg, pkg.Category, pkg.PkgPath, repo, keep)
	if err != nil {
		return 0, errors.Wrapf(err, "catalog: insert package %s", pkg.Full)
	}
	return res.LastInsertId()
}

// InsertDependency appends a DEPS relation row for pkgID.
func (im *Import) InsertDependency(ctx context.Context, pkgID int64, dep Dependency) error {
	p := im.universe.prefix()
	q := fmt.Sprintf(`INSERT INTO %s_DEPS (PKG_ID, %s_DEPS_PKGNAME, %s_DEPS_DEWEY) VALUES (?, ?, ?)`, p, p, p)
	if _, err := im.tx.ExecContext(ctx, q, pkgID, dep.Name, dep.Pattern); err != nil {
		return errors.Wrap(err, "catalog: insert dependency")
	}
	return nil
}

// InsertConflict appends a CONFLICTS relation row for pkgID.
func (im *Import) InsertConflict(ctx context.Context, pkgID int64, pattern string) error {
	return im.insertSingle(ctx, "CONFLICTS", pkgID, pattern)
}

// InsertRequires appends a REQUIRES relation row for pkgID.
func (im *Import) InsertRequires(ctx context.Context, pkgID int64, requirement string) error {
	return im.insertSingle(ctx, "REQUIRES", pkgID, requirement)
}

// InsertProvides appends a PROVIDES relation row for pkgID.
func (im *Import) InsertProvides(ctx context.Context, pkgID int64, provide string) error {
	return im.insertSingle(ctx, "PROVIDES", pkgID, provide)
}

func (im *Import) insertSingle(ctx context.Context, table string, pkgID int64, value string) error {
	p := im.universe.prefix()
	q := fmt.Sprintf(`INSERT INTO %s_%s (PKG_ID, %s_%s_PKGNAME) VALUES (?, ?)`, p, table, p, table)
	if _, err := im.tx.ExecContext(ctx, q, pkgID, value); err != nil {
		return errors.Wrapf(err, "catalog: insert %s", table)
	}
	return nil
}

// Commit finalizes the batch load.
func (im *Import) Commit() error {
	return errors.Wrap(im.tx.Commit(), "catalog: commit import")
}

// Rollback discards the batch load, leaving whatever snapshot existed
// before BeginImport untouched.
func (im *Import) Rollback() error {
	return im.tx.Rollback()
}

// DepsOfName returns the direct dependency patterns of the package named
// name in universe (DIRECT_DEPS/LOCAL_DIRECT_DEPS: when more than one
// version of a dependency root is present, the fullname that sorts last as
// a plain string wins; versions are not compared numerically).
func (s *Store) DepsOfName(ctx context.Context, universe Universe, name string) ([]Dependency, error) {
	p := universe.prefix()
	q := fmt.Sprintf(
		`SELECT %s_DEPS_DEWEY, %s_DEPS_PKGNAME FROM %s_DEPS WHERE PKG_ID = (
			SELECT PKG_ID FROM %s_PKG WHERE PKGNAME = ? ORDER BY FULLPKGNAME DESC LIMIT 1
		)`, p, p, p, p,
	)
	rows, err := s.db.QueryContext(ctx, q, name)
	if err != nil {
		return nil, errors.Wrapf(err, "catalog: deps of name %s", name)
	}
	defer rows.Close()

	var deps []Dependency
	for rows.Next() {
		var d Dependency
		if err := rows.Scan(&d.Pattern, &d.Name); err != nil {
			return nil, errors.Wrap(err, "catalog: scan dependency")
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// DepsOf returns the direct dependency patterns of full in universe.
func (s *Store) DepsOf(ctx context.Context, universe Universe, full string) ([]Dependency, error) {
	p := universe.prefix()
	q := fmt.Sprintf(
		`SELECT %s_DEPS.%s_DEPS_DEWEY, %s_DEPS.%s_DEPS_PKGNAME
		 FROM %s_DEPS, %s_PKG
		 WHERE %s_PKG.FULLPKGNAME = ? AND %s_DEPS.PKG_ID = %s_PKG.PKG_ID`,
		p, p, p, p, p, p, p, p, p,
	)
	rows, err := s.db.QueryContext(ctx, q, full)
	if err != nil {
		return nil, errors.Wrapf(err, "catalog: deps of %s", full)
	}
	defer rows.Close()

	var deps []Dependency
	for rows.Next() {
		var d Dependency
		if err := rows.Scan(&d.Pattern, &d.Name); err != nil {
			return nil, errors.Wrap(err, "catalog: scan dependency")
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// ReverseDepsOf returns installed packages whose DEPS reference name.
func (s *Store) ReverseDepsOf(ctx context.Context, name string) ([]InstalledRef, error) {
	q := `SELECT LOCAL_PKG.FULLPKGNAME, LOCAL_PKG.PKGNAME, LOCAL_PKG.PKG_KEEP
	      FROM LOCAL_PKG, LOCAL_DEPS
	      WHERE LOCAL_DEPS.LOCAL_DEPS_PKGNAME = ? AND LOCAL_PKG.PKG_ID = LOCAL_DEPS.PKG_ID`
	rows, err := s.db.QueryContext(ctx, q, name)
	if err != nil {
		return nil, errors.Wrapf(err, "catalog: reverse deps of %s", name)
	}
	defer rows.Close()

	var refs []InstalledRef
	for rows.Next() {
		var r InstalledRef
		var keep int
		if err := rows.Scan(&r.Full, &r.Name, &keep); err != nil {
			return nil, errors.Wrap(err, "catalog: scan reverse dep")
		}
		r.Keep = keep != 0
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// ConflictsList returns every pattern declared in the installed universe's
// CONFLICTS table.
func (s *Store) ConflictsList(ctx context.Context) ([]string, error) {
	return s.stringColumn(ctx, `SELECT LOCAL_CONFLICTS_PKGNAME FROM LOCAL_CONFLICTS`)
}

// LocalProvides returns every name or path declared in the installed
// universe's PROVIDES table.
func (s *Store) LocalProvides(ctx context.Context) ([]string, error) {
	return s.stringColumn(ctx, `SELECT LOCAL_PROVIDES_PKGNAME FROM LOCAL_PROVIDES`)
}

// RequiresOf returns the REQUIRES entries of a remote package.
func (s *Store) RequiresOf(ctx context.Context, full string) ([]string, error) {
	q := `SELECT REMOTE_REQUIRES.REMOTE_REQUIRES_PKGNAME
	      FROM REMOTE_REQUIRES, REMOTE_PKG
	      WHERE REMOTE_PKG.FULLPKGNAME = ? AND REMOTE_REQUIRES.PKG_ID = REMOTE_PKG.PKG_ID`
	return s.stringColumn(ctx, q, full)
}

// ProvidesOf returns the PROVIDES entries of a remote package.
func (s *Store) ProvidesOf(ctx context.Context, full string) ([]string, error) {
	q := `SELECT REMOTE_PROVIDES.REMOTE_PROVIDES_PKGNAME
	      FROM REMOTE_PROVIDES, REMOTE_PKG
	      WHERE REMOTE_PKG.FULLPKGNAME = ? AND REMOTE_PROVIDES.PKG_ID = REMOTE_PKG.PKG_ID`
	return s.stringColumn(ctx, q, full)
}

func (s *Store) stringColumn(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "catalog: query")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "catalog: scan column")
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// FindConflictingInstalled returns an installed package whose fullname
// satisfies pattern as a declared conflict, if any.
func (s *Store) FindConflictingInstalled(ctx context.Context, pattern string) (string, bool, error) {
	q := `SELECT LOCAL_PKG.FULLPKGNAME FROM LOCAL_CONFLICTS, LOCAL_PKG
	      WHERE LOCAL_CONFLICTS.LOCAL_CONFLICTS_PKGNAME = ? AND LOCAL_CONFLICTS.PKG_ID = LOCAL_PKG.PKG_ID`
	row := s.db.QueryRowContext(ctx, q, pattern)
	var full string
	if err := row.Scan(&full); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, errors.Wrap(err, "catalog: find conflicting installed")
	}
	return full, true, nil
}

// URLOf returns the repository URL a remote package was imported from.
func (s *Store) URLOf(ctx context.Context, full string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT REPOSITORY FROM REMOTE_PKG WHERE FULLPKGNAME = ?`, full)
	var url string
	if err := row.Scan(&url); err != nil {
		return "", errors.Wrapf(err, "catalog: url of %s", full)
	}
	return url, nil
}

// UniqueByStem returns every package in universe sharing the given
// (version-stripped) name, ordered by fullname as a plain string
// (ascending); versions are not compared numerically.
func (s *Store) UniqueByStem(ctx context.Context, universe Universe, stem string) ([]Package, error) {
	p := universe.prefix()
	q := fmt.Sprintf(
		`SELECT FULLPKGNAME, PKGNAME, PKGVERS, COMMENT, FILE_SIZE, SIZE_PKG, CATEGORIES, PKGPATH, REPOSITORY, PKG_KEEP
		 FROM %s_PKG WHERE PKGNAME = ? ORDER BY FULLPKGNAME ASC`, p)
	rows, err := s.db.QueryContext(ctx, q, stem)
	if err != nil {
		return nil, errors.Wrapf(err, "catalog: unique by stem %s", stem)
	}
	defer rows.Close()
	return scanPackages(rows)
}

// InstalledByName returns the single installed package with the given
// normalized name, if present. "full" is unique within a universe, but
// PKGNAME is unique among installed packages too: the installer refuses to
// have two versions of the same name resident at once.
func (s *Store) InstalledByName(ctx context.Context, name string) (Package, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT FULLPKGNAME, PKGNAME, PKGVERS, COMMENT, FILE_SIZE, SIZE_PKG, CATEGORIES, PKGPATH, REPOSITORY, PKG_KEEP
		 FROM LOCAL_PKG WHERE PKGNAME = ?`, name)
	if err != nil {
		return Package{}, false, errors.Wrapf(err, "catalog: installed by name %s", name)
	}
	defer rows.Close()
	pkgs, err := scanPackages(rows)
	if err != nil {
		return Package{}, false, err
	}
	if len(pkgs) == 0 {
		return Package{}, false, nil
	}
	return pkgs[0], true, nil
}

// RemoteByName returns every remote package sharing the given normalized
// name, across all repositories.
func (s *Store) RemoteByName(ctx context.Context, name string) ([]Package, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT FULLPKGNAME, PKGNAME, PKGVERS, COMMENT, FILE_SIZE, SIZE_PKG, CATEGORIES, PKGPATH, REPOSITORY, PKG_KEEP
		 FROM REMOTE_PKG WHERE PKGNAME = ?`, name)
	if err != nil {
		return nil, errors.Wrapf(err, "catalog: remote by name %s", name)
	}
	defer rows.Close()
	return scanPackages(rows)
}

// ListPackages returns every package row in universe, ordered by fullname.
// ascending selects install-display order; remove-display prefers
// descending, matching the C implementation's two pre-sorted query forms.
func (s *Store) ListPackages(ctx context.Context, universe Universe, ascending bool) ([]Package, error) {
	p := universe.prefix()
	order := "ASC"
	if !ascending {
		order = "DESC"
	}
	q := fmt.Sprintf(
		`SELECT FULLPKGNAME, PKGNAME, PKGVERS, COMMENT, FILE_SIZE, SIZE_PKG, CATEGORIES, PKGPATH, REPOSITORY, PKG_KEEP
		 FROM %s_PKG ORDER BY FULLPKGNAME %s`, p, order)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "catalog: list packages")
	}
	defer rows.Close()
	return scanPackages(rows)
}

func scanPackages(rows *sql.Rows) ([]Package, error) {
	var out []Package
	for rows.Next() {
		var pkg Package
		var repo sql.NullString
		var keep int
		if err := rows.Scan(&pkg.Full, &pkg.Name, &pkg.Version, &pkg.Comment, &pkg.FileSize, &pkg.SizePkg, &pkg.Category, &pkg.PkgPath, &repo, &keep); err != nil {
			return nil, errors.Wrap(err, "catalog: scan package")
		}
		pkg.Repository = repo.String
		pkg.Keep = keep != 0
		out = append(out, pkg)
	}
	return out, rows.Err()
}

// SetKeep updates the installed universe's keep flag for name.
func (s *Store) SetKeep(ctx context.Context, name string, keep bool) error {
	v := 0
	if keep {
		v = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE LOCAL_PKG SET PKG_KEEP = ? WHERE PKGNAME = ?`, v, name)
	return errors.Wrapf(err, "catalog: set keep for %s", name)
}

// Orphans returns installed packages that are not kept and are not a
// DEPS target of any other installed package.
func (s *Store) Orphans(ctx context.Context) ([]string, error) {
	return s.stringColumn(ctx,
		`SELECT FULLPKGNAME FROM LOCAL_PKG WHERE PKG_KEEP = 0 AND
		 PKGNAME NOT IN (SELECT LOCAL_DEPS_PKGNAME FROM LOCAL_DEPS)`)
}

// PkgdbMtime returns the cached installed-database directory mtime, or
// (0, false) if never recorded.
func (s *Store) PkgdbMtime(ctx context.Context) (int64, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT PKGDB_MTIME FROM PKGDB`)
	var mtime int64
	if err := row.Scan(&mtime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, errors.Wrap(err, "catalog: pkgdb mtime")
	}
	return mtime, true, nil
}

// SetPkgdbMtime replaces the cached installed-database directory mtime.
func (s *Store) SetPkgdbMtime(ctx context.Context, mtime int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM PKGDB`); err != nil {
		return errors.Wrap(err, "catalog: clear pkgdb mtime")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO PKGDB (PKGDB_MTIME) VALUES (?)`, mtime)
	return errors.Wrap(err, "catalog: set pkgdb mtime")
}

// EnsureRepo registers url with mtime 0 if it is not already known.
func (s *Store) EnsureRepo(ctx context.Context, url string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO REPOS (REPO_URL, REPO_MTIME) VALUES (?, 0) ON CONFLICT(REPO_URL) DO NOTHING`, url)
	return errors.Wrapf(err, "catalog: ensure repo %s", url)
}

// RepoMtime returns the stored mtime for url, or (0, false) if the
// repository is unknown.
func (s *Store) RepoMtime(ctx context.Context, url string) (int64, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT REPO_MTIME FROM REPOS WHERE REPO_URL = ?`, url)
	var mtime int64
	if err := row.Scan(&mtime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, errors.Wrapf(err, "catalog: repo mtime %s", url)
	}
	return mtime, true, nil
}

// SetRepoMtime records the server-reported mtime seen at the last
// successful import of url.
func (s *Store) SetRepoMtime(ctx context.Context, url string, mtime int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE REPOS SET REPO_MTIME = ? WHERE REPO_URL = ?`, mtime, url)
	return errors.Wrapf(err, "catalog: set repo mtime %s", url)
}

// DeleteRepository removes a repository and cascades the delete across all
// four remote relation tables, in its own transaction.
func (s *Store) DeleteRepository(ctx context.Context, url string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "catalog: begin delete repository")
	}
	defer tx.Rollback()

	for _, table := range []string{"DEPS", "CONFLICTS", "REQUIRES", "PROVIDES"} {
		q := fmt.Sprintf(
			`DELETE FROM REMOTE_%s WHERE PKG_ID IN (SELECT PKG_ID FROM REMOTE_PKG WHERE REPOSITORY = ?)`, table)
		if _, err := tx.ExecContext(ctx, q, url); err != nil {
			return errors.Wrapf(err, "catalog: cascade delete REMOTE_%s for %s", table, url)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM REMOTE_PKG WHERE REPOSITORY = ?`, url); err != nil {
		return errors.Wrapf(err, "catalog: delete packages for %s", url)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM REPOS WHERE REPO_URL = ?`, url); err != nil {
		return errors.Wrapf(err, "catalog: delete repos row for %s", url)
	}
	return errors.Wrap(tx.Commit(), "catalog: commit delete repository")
}

// RefreshFunc imports a single repository's snapshot, using its own
// BeginImport/Commit transaction so interrupted imports never leave a
// mixed snapshot.
type RefreshFunc func(ctx context.Context, store *Store, url string) error

// RefreshAll fetches and imports every repository concurrently: refreshing
// a catalog is I/O-bound and each repository is independent until its own
// transaction commits, so this is the one place the planner fans out
// goroutines. Once RefreshAll returns, every subsequent planning step is
// single-threaded.
func (s *Store) RefreshAll(ctx context.Context, urls []string, refresh RefreshFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, url := range urls {
		url := url
		g.Go(func() error {
			logging.Debugf(gctx, "catalog: refreshing %s", url)
			if err := refresh(gctx, s, url); err != nil {
				return errors.Wrapf(err, "catalog: refresh %s", url)
			}
			return nil
		})
	}
	return g.Wait()
}
