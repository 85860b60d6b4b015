package helper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPIDPath(t *testing.T) {
	assert.Equal(t, "/tmp/x.pid", GetPIDPath("/tmp/x.pid"))
	assert.Equal(t, DefaultPIDPath, GetPIDPath(""))
	assert.Equal(t, DefaultPIDPath, GetPIDPath("missing-dir/x.pid"))

	old, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(old) })
	tmp := t.TempDir()
	require.NoError(t, os.Chdir(tmp))

	got := GetPIDPath("wuhost.pid")
	want, _ := filepath.EvalSymlinks(tmp)
	gotDir, _ := filepath.EvalSymlinks(filepath.Dir(got))
	assert.Equal(t, want, gotDir)
	assert.Equal(t, "wuhost.pid", filepath.Base(got))
}

func TestWriteReadPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wuhost.pid")
	require.NoError(t, WritePID(path))

	pid, err := ReadPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, os.WriteFile(path, []byte("nope"), 0o644))
	_, err = ReadPID(path)
	assert.Error(t, err)

	_, err = ReadPID(filepath.Join(t.TempDir(), "absent.pid"))
	assert.Error(t, err)
}
