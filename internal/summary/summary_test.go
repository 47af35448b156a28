package summary

import (
	"bytes"
	"compress/gzip"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSplitsPkgnameAndCollectsRelations(t *testing.T) {
	input := "" +
		"PKGNAME=foo-1.2.3\n" +
		"COMMENT=a test package\n" +
		"CATEGORIES=sysutils\n" +
		"PKGPATH=sysutils/foo\n" +
		"FILE_SIZE=1024\n" +
		"SIZE_PKG=2048\n" +
		"DEPENDS=bar>=1.0\n" +
		"DEPENDS={baz>=1.0,qux-[0-9]*}\n" +
		"CONFLICTS=oldfoo-[0-9]*\n" +
		"REQUIRES=/usr/lib/libc.so\n" +
		"PROVIDES=/usr/bin/foo\n" +
		"\n"

	result, err := Parse(context.Background(), bytes.NewBufferString(input), Options{Repository: "http://repo.invalid/All"})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)

	rec := result.Records[0]
	require.Equal(t, "foo-1.2.3", rec.Package.Full)
	require.Equal(t, "foo", rec.Package.Name)
	require.Equal(t, "1.2.3", rec.Package.Version)
	require.Equal(t, int64(1024), rec.Package.FileSize)
	require.Equal(t, "http://repo.invalid/All", rec.Package.Repository)

	require.Len(t, rec.Deps, 2)
	require.Equal(t, "bar", rec.Deps[0].Name)
	require.Equal(t, "baz", rec.Deps[1].Name)
	require.Equal(t, []string{"oldfoo-[0-9]*"}, rec.Conflicts)
	require.Equal(t, []string{"/usr/lib/libc.so"}, rec.Requires)
	require.Equal(t, []string{"/usr/bin/foo"}, rec.Provides)
}

func TestParseSynthesizesVersionForUnversionedPackage(t *testing.T) {
	input := "PKGNAME=digest\nCOMMENT=no version here\n\n"
	result, err := Parse(context.Background(), bytes.NewBufferString(input), Options{})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	require.Equal(t, "digest-0.0", result.Records[0].Package.Full)
	require.Equal(t, "digest", result.Records[0].Package.Name)
}

func TestParseMultipleRecords(t *testing.T) {
	input := "PKGNAME=foo-1.0\n\nPKGNAME=bar-2.0\n\n"
	result, err := Parse(context.Background(), bytes.NewBufferString(input), Options{})
	require.NoError(t, err)
	require.Len(t, result.Records, 2)
}

func TestParseArchMismatchAborted(t *testing.T) {
	input := "MACHINE_ARCH=arm64\nPKGNAME=foo-1.0\n\n"
	_, err := Parse(context.Background(), bytes.NewBufferString(input), Options{
		ExpectedArch:        "amd64",
		ConfirmArchMismatch: func(got, want string) bool { return false },
	})
	require.ErrorIs(t, err, ErrArchMismatch)
}

func TestParseArchMismatchConfirmedContinues(t *testing.T) {
	input := "MACHINE_ARCH=arm64\nPKGNAME=foo-1.0\n\n"
	result, err := Parse(context.Background(), bytes.NewBufferString(input), Options{
		ExpectedArch:        "amd64",
		ConfirmArchMismatch: func(got, want string) bool { return true },
	})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
}

func TestDecompressDetectsGzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("PKGNAME=foo-1.0\n\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	r, err := Decompress(&buf)
	require.NoError(t, err)
	result, err := Parse(context.Background(), r, Options{})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
}

func TestDecompressPassesThroughPlainText(t *testing.T) {
	r, err := Decompress(bytes.NewBufferString("PKGNAME=foo-1.0\n\n"))
	require.NoError(t, err)
	result, err := Parse(context.Background(), r, Options{})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
}

func TestNormalizeDependencyName(t *testing.T) {
	cases := map[string]string{
		"bar>=1.0":             "bar",
		"foo>=1.0<2.0":         "foo",
		"{baz>=1.0,qux-[0-9]*}": "baz",
		"bar-[0-9]*":           "bar",
		"foo-1.0":              "foo",
		"foo-1.0{,nb[0-9]*}":   "foo",
		"digest":               "digest",
	}
	for pattern, want := range cases {
		got := normalizeDependencyName(pattern)
		require.Equalf(t, want, got, "pattern %q", pattern)
	}
}
