package mtree

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(dir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
		require.NoError(t, os.Chmod(full, 0644))
	}
}

func TestGenerate(t *testing.T) {
	dir := t.TempDir()
	makeTree(t, dir, map[string]string{
		"etc/motd":       "hello",
		"usr/bin/tool":   "#!/bin/sh\n",
		"var/cache/junk": "x",
	})
	require.NoError(t, os.Chmod(filepath.Join(dir, "etc"), 0755))
	require.NoError(t, os.Symlink("usr/bin", filepath.Join(dir, "bin")))

	entries, err := Generate(dir, GenerateOptions{
		Excludes: []string{"cache"},
		Workers:  2,
	})
	require.NoError(t, err)

	byPath := index(entries)
	assert.NotContains(t, byPath, "/var/cache")
	assert.NotContains(t, byPath, "/var/cache/junk")
	assert.Contains(t, byPath, "/var")

	motd := byPath["/etc/motd"]
	assert.Equal(t, KindFile, motd.Kind)
	assert.Equal(t, "644", motd.Mode)
	assert.Equal(t, int64(5), motd.Size)
	assert.Equal(t, helloSHA256, motd.Digest.Encoded())
	assert.Equal(t, uint32(os.Getuid()), motd.UID)
	assert.Equal(t, uint32(os.Getgid()), motd.GID)

	etc := byPath["/etc"]
	assert.Equal(t, KindDir, etc.Kind)
	assert.Equal(t, "755", etc.Mode)

	bin := byPath["/bin"]
	assert.Equal(t, KindLink, bin.Kind)
	assert.Equal(t, "usr/bin", bin.Link)

	var order []string
	for _, e := range entries {
		order = append(order, e.Path)
	}
	assert.IsNonDecreasing(t, order)
}

func TestGenerateEmpty(t *testing.T) {
	entries, err := Generate(t.TempDir(), GenerateOptions{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGenerateMissingDir(t *testing.T) {
	_, err := Generate(
		filepath.Join(t.TempDir(), "missing"), GenerateOptions{},
	)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	makeTree(t, dir, map[string]string{
		"a.txt":     "hello",
		"sub/b.txt": "world",
	})

	entries, err := Generate(dir, GenerateOptions{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, entries))

	again, err := ReadAll(NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, entries, again)
}
