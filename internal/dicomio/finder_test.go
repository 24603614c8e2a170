package dicomio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string, content []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, content, 0644))
}

// magicFile is a file body carrying "DICM" at byte offset 128.
func magicFile() []byte {
	body := make([]byte, 200)
	copy(body[128:], "DICM")
	return body
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.dcm"), []byte("x"))
	touch(t, filepath.Join(dir, "b.DICOM"), []byte("x"))
	touch(t, filepath.Join(dir, "noext"), magicFile())
	touch(t, filepath.Join(dir, "notes.txt"), []byte("not dicom"))
	touch(t, filepath.Join(dir, "DICOMDIR"), magicFile())
	touch(t, filepath.Join(dir, "nested", "c.dcm"), []byte("x"))

	files, err := Find(dir, true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.dcm"),
		filepath.Join(dir, "b.DICOM"),
		filepath.Join(dir, "nested", "c.dcm"),
		filepath.Join(dir, "noext"),
	}, files)
}

func TestFindNonRecursive(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.dcm"), []byte("x"))
	touch(t, filepath.Join(dir, "nested", "b.dcm"), []byte("x"))

	files, err := Find(dir, false)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.dcm")}, files)
}

func TestHasDicomMagicBytes(t *testing.T) {
	dir := t.TempDir()

	magic := filepath.Join(dir, "magic")
	touch(t, magic, magicFile())
	assert.True(t, hasDicomMagicBytes(magic))

	short := filepath.Join(dir, "short")
	touch(t, short, []byte("DICM"))
	assert.False(t, hasDicomMagicBytes(short))

	wrong := filepath.Join(dir, "wrong")
	touch(t, wrong, make([]byte, 200))
	assert.False(t, hasDicomMagicBytes(wrong))
}
