package fsview

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func names(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestListRejectsRelativePath(t *testing.T) {
	_, err := List("relative/dir", false, false)
	assert.Error(t, err)
	_, err = Read("relative/file.txt")
	assert.Error(t, err)
}

func TestListShallow(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.go":        "package main",
		"docs/guide.md":  "# guide",
		"docs/api.md":    "# api",
		".git/HEAD":      "ref: refs/heads/main",
		".git/config":    "[core]",
		"internal/x.go":  "package x",
		"internal/y.go":  "package y",
	})

	entries, err := List(root, false, false)
	require.NoError(t, err)

	// Directories first, .git always hidden, no recursion.
	assert.Equal(t, []string{"docs", "internal", "main.go"}, names(entries))
	assert.True(t, entries[0].IsDir)
	assert.False(t, entries[2].ModTime.IsZero())
}

func TestListRecursive(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a/b/deep.txt": "x",
		"top.txt":      "y",
	})

	entries, err := List(root, true, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "deep.txt", "top.txt"}, names(entries))
}

func TestListRespectsGitignore(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore":          "node_modules/\n*.log\n!keep.log\n/dist\n",
		"app.log":             "log",
		"keep.log":            "kept",
		"src/app.log":         "nested log",
		"src/main.go":         "package main",
		"node_modules/x/y.js": "js",
		"dist/bundle.js":      "js",
		"docs/dist.md":        "not the dist dir",
	})

	entries, err := List(root, true, true)
	require.NoError(t, err)
	got := names(entries)

	assert.NotContains(t, got, "node_modules")
	assert.NotContains(t, got, "y.js")
	assert.NotContains(t, got, "app.log")
	assert.NotContains(t, got, "bundle.js")
	assert.Contains(t, got, "keep.log")
	assert.Contains(t, got, "main.go")
	assert.Contains(t, got, "dist.md")
	assert.Contains(t, got, ".gitignore")
}

func TestReadCapsSize(t *testing.T) {
	root := t.TempDir()
	small := filepath.Join(root, "small.txt")
	require.NoError(t, os.WriteFile(small, []byte("hello"), 0o644))

	data, err := Read(small)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	big := filepath.Join(root, "big.bin")
	require.NoError(t, os.WriteFile(big, make([]byte, MaxReadSize+1), 0o644))
	_, err = Read(big)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestReadDirectoryFails(t *testing.T) {
	_, err := Read(t.TempDir())
	assert.Error(t, err)
}
