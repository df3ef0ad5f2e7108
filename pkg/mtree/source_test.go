package mtree

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readManifestFile(t *testing.T, name string) []Entry {
	t.Helper()
	rc, err := Open(name)
	require.NoError(t, err)
	defer rc.Close()

	entries, err := ReadAll(NewReader(rc))
	require.NoError(t, err)
	return entries
}

func TestOpenPlain(t *testing.T) {
	name := filepath.Join(t.TempDir(), "rootfs.mtree")
	require.NoError(t, os.WriteFile(name, []byte(sampleManifest), 0644))

	assert.Len(t, readManifestFile(t, name), 3)
}

func TestOpenGzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := io.WriteString(gw, sampleManifest)
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	name := filepath.Join(t.TempDir(), "rootfs.mtree.gz")
	require.NoError(t, os.WriteFile(name, buf.Bytes(), 0644))

	assert.Len(t, readManifestFile(t, name), 3)
}

func TestOpenZstd(t *testing.T) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = io.WriteString(zw, sampleManifest)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	name := filepath.Join(t.TempDir(), "rootfs.mtree.zst")
	require.NoError(t, os.WriteFile(name, buf.Bytes(), 0644))

	assert.Len(t, readManifestFile(t, name), 3)
}

func TestOpenEmptyFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(name, nil, 0644))

	assert.Empty(t, readManifestFile(t, name))
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenCorruptGzip(t *testing.T) {
	name := filepath.Join(t.TempDir(), "bad.gz")
	require.NoError(t, os.WriteFile(
		name, []byte{0x1f, 0x8b, 0x00, 0x00}, 0644,
	))
	_, err := Open(name)
	assert.Error(t, err)
}
