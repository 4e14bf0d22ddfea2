package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSFileSystem_RenameReplaces(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	osfs := OSFileSystem{}
	dst := filepath.Join(dir, "log.csv")
	tmp := dst + ".tmp"

	require.NoError(t, osfs.WriteFile(dst, []byte("old"), 0o644))
	require.NoError(t, osfs.WriteFile(tmp, []byte("new"), 0o644))
	require.NoError(t, osfs.Rename(tmp, dst))

	data, err := osfs.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
	assert.False(t, osfs.Exists(tmp))
}

func TestOSFileSystem_CreateAndOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	osfs := OSFileSystem{}
	require.NoError(t, osfs.MkdirAll(filepath.Join(dir, "a", "b"), 0o755))

	name := filepath.Join(dir, "a", "b", "frames.jsonl")
	w, err := osfs.Create(name)
	require.NoError(t, err)
	_, err = io.WriteString(w, "{}\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := osfs.Open(name)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(data))

	require.NoError(t, osfs.Remove(name))
	assert.False(t, osfs.Exists(name))
}

func TestMemoryFileSystem_CreateVisibleOnClose(t *testing.T) {
	t.Parallel()

	mfs := NewMemoryFileSystem()
	w, err := mfs.Create("/out/log.csv")
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)

	data, err := mfs.ReadFile("/out/log.csv")
	require.NoError(t, err)
	assert.Empty(t, data, "unclosed writer must not publish data")

	require.NoError(t, w.Close())
	data, err = mfs.ReadFile("/out/log.csv")
	require.NoError(t, err)
	assert.Equal(t, "partial", string(data))
}

func TestMemoryFileSystem_Rename(t *testing.T) {
	t.Parallel()

	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("/a.tmp", []byte("x"), 0o644))
	require.NoError(t, mfs.Rename("/a.tmp", "/a"))
	assert.Equal(t, []string{"/a"}, mfs.Files())
	assert.Equal(t, 1, mfs.Renames())

	err := mfs.Rename("/missing", "/a")
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	boom := errors.New("disk full")
	mfs.FailRenames(boom)
	require.NoError(t, mfs.WriteFile("/a.tmp", []byte("y"), 0o644))
	assert.ErrorIs(t, mfs.Rename("/a.tmp", "/a"), boom)

	data, err := mfs.ReadFile("/a")
	require.NoError(t, err)
	assert.Equal(t, "x", string(data), "failed rename leaves the target untouched")
}

func TestMemoryFileSystem_OpenAndRemove(t *testing.T) {
	t.Parallel()

	mfs := NewMemoryFileSystem()
	_, err := mfs.Open("/none")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	require.NoError(t, mfs.WriteFile("/f", []byte("hello"), 0o644))
	f, err := mfs.Open("/f")
	require.NoError(t, err)
	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())
	assert.Equal(t, "f", info.Name())

	require.NoError(t, mfs.Remove("/f"))
	assert.False(t, mfs.Exists("/f"))
	assert.ErrorIs(t, mfs.Remove("/f"), fs.ErrNotExist)
}

func TestMemoryFileSystem_MkdirAll(t *testing.T) {
	t.Parallel()

	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.MkdirAll("/var/lib/footfall", 0o755))
	assert.True(t, mfs.Exists("/var/lib/footfall"))
	assert.True(t, mfs.Exists("/var/lib"))
	assert.True(t, mfs.Exists("/var"))
}
