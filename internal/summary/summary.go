// Package summary parses pkg_summary-style KEY=VALUE package records (the
// local installer's control format and the remote repository's compressed
// catalog) into catalog rows.
package summary

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/opkg-go/opkg/internal/catalog"
	"github.com/opkg-go/opkg/internal/logging"
)

// Record is one fully parsed package block: the package row plus its four
// relation lists.
type Record struct {
	Package   catalog.Package
	Deps      []catalog.Dependency
	Conflicts []string
	Requires  []string
	Provides  []string
}

// Result is the outcome of parsing a whole summary stream.
type Result struct {
	Records  []Record
	Warnings []string
}

// Options controls how a stream is parsed.
type Options struct {
	Repository string // tagged onto every Record.Package.Repository; remote only
	// ExpectedArch is compared against a leading MACHINE_ARCH key. Empty
	// disables the check (used for local summaries, which carry no
	// MACHINE_ARCH key).
	ExpectedArch string
	// ConfirmArchMismatch is asked once, only if a MACHINE_ARCH mismatch is
	// seen; returning false aborts the parse.
	ConfirmArchMismatch func(got, want string) bool
}

// ErrArchMismatch is returned when the archive's MACHINE_ARCH does not
// match Options.ExpectedArch and ConfirmArchMismatch refused to continue.
var ErrArchMismatch = errors.New("summary: machine architecture mismatch")

// Parse reads blank-line-delimited KEY=VALUE blocks from r (already
// decompressed) and returns one Record per block.
func Parse(ctx context.Context, r io.Reader, opts Options) (Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var result Result
	var cur *builder
	archChecked := false

	flush := func() {
		if cur != nil && cur.pkg.Name != "" {
			result.Records = append(result.Records, cur.record(opts.Repository))
		}
		cur = nil
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			flush()
			continue
		}
		if cur == nil {
			cur = &builder{}
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			result.Warnings = append(result.Warnings, "summary: malformed entry: "+line)
			continue
		}

		if key == "MACHINE_ARCH" {
			if !archChecked && opts.ExpectedArch != "" {
				archChecked = true
				if value != opts.ExpectedArch {
					logging.Warnf(ctx, "summary: MACHINE_ARCH %s does not match local %s", value, opts.ExpectedArch)
					if opts.ConfirmArchMismatch == nil || !opts.ConfirmArchMismatch(value, opts.ExpectedArch) {
						return result, ErrArchMismatch
					}
				}
			}
			continue
		}

		cur.apply(key, value)
	}
	flush()

	if err := scanner.Err(); err != nil {
		return result, errors.Wrap(err, "summary: read stream")
	}
	return result, nil
}

// Decompress wraps r in a gzip or bzip2 reader based on its magic bytes, or
// returns r unchanged if neither magic is present.
func Decompress(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(3)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "summary: peek magic bytes")
	}
	switch {
	case len(magic) >= 2 && magic[0] == 0x1f && magic[1] == 0x8b:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "summary: open gzip stream")
		}
		return gz, nil
	case len(magic) >= 3 && magic[0] == 'B' && magic[1] == 'Z' && magic[2] == 'h':
		return bzip2.NewReader(br), nil
	default:
		return br, nil
	}
}

// builder accumulates one package block's fields, since DEPENDS/CONFLICTS/
// REQUIRES/PROVIDES may repeat within a block.
type builder struct {
	pkg       catalog.Package
	deps      []catalog.Dependency
	conflicts []string
	requires  []string
	provides  []string
}

func (b *builder) apply(key, value string) {
	value = strings.ReplaceAll(value, `"`, "`")

	switch key {
	case "CONFLICTS":
		b.conflicts = append(b.conflicts, value)
	case "DEPENDS":
		b.deps = append(b.deps, catalog.Dependency{Pattern: value, Name: normalizeDependencyName(value)})
	case "REQUIRES":
		b.requires = append(b.requires, value)
	case "PROVIDES":
		b.provides = append(b.provides, value)
	case "DESCRIPTION":
		// Multi-line, not modeled.
	case "PKGNAME":
		full := value
		if !looksVersioned(full) {
			full += "-0.0"
		}
		b.pkg.Full = full
		idx := strings.LastIndexByte(full, '-')
		if idx < 0 {
			b.pkg.Name = full
			b.pkg.Version = ""
		} else {
			b.pkg.Name = full[:idx]
			b.pkg.Version = full[idx+1:]
		}
	case "COMMENT":
		b.pkg.Comment = value
	case "CATEGORIES":
		b.pkg.Category = value
	case "PKGPATH":
		b.pkg.PkgPath = value
	case "FILE_SIZE":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			b.pkg.FileSize = n
		}
	case "SIZE_PKG":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			b.pkg.SizePkg = n
		}
	}
}

func (b *builder) record(repository string) Record {
	b.pkg.Repository = repository
	return Record{
		Package:   b.pkg,
		Deps:      b.deps,
		Conflicts: b.conflicts,
		Requires:  b.requires,
		Provides:  b.provides,
	}
}

// looksVersioned reports whether value already ends in "-<digit...>", i.e.
// whether it needs no synthetic "-0.0" suffix.
func looksVersioned(value string) bool {
	idx := strings.LastIndexByte(value, '-')
	if idx < 0 || idx == len(value)-1 {
		return false
	}
	c := value[idx+1]
	return c >= '0' && c <= '9'
}

// normalizeDependencyName extracts the bare package name a dependency
// pattern targets: the first brace alternative (if any), truncated at the
// first glob/relational metacharacter, with any trailing "-VERSION" or bare
// "-" removed.
func normalizeDependencyName(pattern string) string {
	p := pattern
	if strings.HasPrefix(p, "{") {
		rest := p[1:]
		if idx := strings.IndexAny(rest, ",}"); idx >= 0 {
			p = rest[:idx]
		} else {
			p = rest
		}
	}
	if idx := strings.IndexAny(p, "<>{}[]?*"); idx >= 0 {
		p = p[:idx]
	}
	p = strings.TrimSuffix(p, "-")

	idx := strings.LastIndexByte(p, '-')
	if idx < 0 {
		return p
	}
	rest := p[idx+1:]
	if rest == "" {
		return p[:idx]
	}
	if c := rest[0]; c >= '0' && c <= '9' {
		return p[:idx]
	}
	return p
}
