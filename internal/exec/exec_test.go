package exec

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeRecorder creates a shell script that appends its arguments to a log
// file, standing in for pkg_add/pkg_delete/pkg_info/pkg_admin in tests.
func writeRecorder(t *testing.T, logPath string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("recorder script is a POSIX shell script")
	}
	script := filepath.Join(t.TempDir(), "recorder.sh")
	contents := "#!/bin/sh\necho \"$@\" >> " + logPath + "\necho ok\n"
	require.NoError(t, os.WriteFile(script, []byte(contents), 0o755))
	require.NoError(t, os.WriteFile(logPath, nil, 0o644))
	return script
}

func newTestRunner(t *testing.T) (*Runner, string, string) {
	t.Helper()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "calls.log")
	recorder := writeRecorder(t, logPath)

	r := New(dir, false, filepath.Join(dir, "errors.log"))
	r.AddBin = recorder
	r.DeleteBin = recorder
	r.InfoBin = recorder
	r.AdminBin = recorder
	return r, dir, logPath
}

func TestInstallUsesOrdinaryFlagsForNormalPackage(t *testing.T) {
	r, dir, logPath := newTestRunner(t)
	err := r.Install(context.Background(), []string{"foo-1.0"})
	require.NoError(t, err)

	log, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(log), "-f "+filepath.Join(dir, "foo-1.0.tgz"))
}

func TestInstallForcesSelfUpgradeWithConfirmation(t *testing.T) {
	r, dir, logPath := newTestRunner(t)
	asked := false
	r.ConfirmSelfUpgrade = func(fullname string) bool {
		asked = true
		require.Equal(t, "pkg_install-20240101", fullname)
		return true
	}

	err := r.Install(context.Background(), []string{"pkg_install-20240101"})
	require.NoError(t, err)
	require.True(t, asked)

	log, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(log), "-ffu "+filepath.Join(dir, "pkg_install-20240101.tgz"))
}

func TestInstallSkipsSelfUpgradeWhenDeclined(t *testing.T) {
	r, _, logPath := newTestRunner(t)
	r.ConfirmSelfUpgrade = func(fullname string) bool { return false }

	err := r.Install(context.Background(), []string{"pkg_install-20240101"})
	require.NoError(t, err)

	log, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Empty(t, string(log))
}

func TestRemoveRefusesToDeletePkgInstall(t *testing.T) {
	r, _, logPath := newTestRunner(t)
	err := r.Remove(context.Background(), []string{"pkg_install-20240101", "foo-1.0"})
	require.NoError(t, err)

	log, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.NotContains(t, string(log), "pkg_install-20240101")
	require.Contains(t, string(log), "foo-1.0")
}

func TestInfoCapturesStdout(t *testing.T) {
	r, _, _ := newTestRunner(t)
	out, err := r.Info(context.Background(), 'L', "foo-1.0")
	require.NoError(t, err)
	require.Contains(t, out, "ok")
}

func TestLocalSummaryCapturesStdout(t *testing.T) {
	r, _, _ := newTestRunner(t)
	out, err := r.LocalSummary(context.Background())
	require.NoError(t, err)
	require.Contains(t, out, "ok")
}

func TestAdminConfigVarTrimsOutput(t *testing.T) {
	r, _, _ := newTestRunner(t)
	out, err := r.AdminConfigVar(context.Background(), "PKG_DBDIR")
	require.NoError(t, err)
	require.Equal(t, "ok", out)
}
