package fsutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSFileSystemWriteFileAtomic(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	fs := OSFileSystem{}
	target := filepath.Join(dir, "artifact.json")

	require.NoError(t, fs.WriteFileAtomic(target, []byte(`{"ok":true}`), 0644))

	data, err := fs.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))

	// No temp residue under the final directory.
	names, err := fs.ReadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"artifact.json"}, names)

	// Overwrite through the same path keeps the file whole.
	require.NoError(t, fs.WriteFileAtomic(target, []byte(`{"ok":false}`), 0644))
	data, err = fs.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":false}`, string(data))
}

func TestOSFileSystemWriteFileAtomicMissingDir(t *testing.T) {
	t.Parallel()
	fs := OSFileSystem{}
	err := fs.WriteFileAtomic(filepath.Join(t.TempDir(), "missing", "a.json"), []byte("x"), 0644)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "create temp file"))
}

func TestOSFileSystemReadDirListsOnlyFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	fs := OSFileSystem{}
	require.NoError(t, fs.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, fs.WriteFile(filepath.Join(dir, "b.json"), []byte("b"), 0644))
	require.NoError(t, fs.WriteFile(filepath.Join(dir, "a.json"), []byte("a"), 0644))

	names, err := fs.ReadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json", "b.json"}, names)
}

func TestMemoryFileSystemRoundTrip(t *testing.T) {
	t.Parallel()
	fs := NewMemoryFileSystem()

	require.NoError(t, fs.MkdirAll("/data/artifacts", 0755))
	assert.True(t, fs.Exists("/data/artifacts"))
	assert.True(t, fs.Exists("/data"))

	require.NoError(t, fs.WriteFileAtomic("/data/artifacts/r1.json", []byte("one"), 0644))
	data, err := fs.ReadFile("/data/artifacts/r1.json")
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))

	info, err := fs.Stat("/data/artifacts/r1.json")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Size())
	assert.False(t, info.IsDir())

	_, err = fs.ReadFile("/data/artifacts/nope.json")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMemoryFileSystemReadDir(t *testing.T) {
	t.Parallel()
	fs := NewMemoryFileSystem()
	require.NoError(t, fs.MkdirAll("/a", 0755))
	require.NoError(t, fs.WriteFile("/a/z.json", []byte("z"), 0644))
	require.NoError(t, fs.WriteFile("/a/b.json", []byte("b"), 0644))
	require.NoError(t, fs.WriteFile("/a/deep/c.json", []byte("c"), 0644))

	names, err := fs.ReadDir("/a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.json", "z.json"}, names)

	_, err = fs.ReadDir("/missing")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMemoryFileSystemFailAtomicWrites(t *testing.T) {
	t.Parallel()
	fs := NewMemoryFileSystem()
	fs.FailAtomicWrites = 1

	err := fs.WriteFileAtomic("/a/r.json", []byte("x"), 0644)
	require.Error(t, err)
	assert.False(t, fs.Exists("/a/r.json"))

	// Next write succeeds once the injected failures run out.
	require.NoError(t, fs.WriteFileAtomic("/a/r.json", []byte("x"), 0644))
	assert.True(t, fs.Exists("/a/r.json"))
}
