package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScan_WalksPlainDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "docs/guide.md", "# Guide\n")
	writeFile(t, root, "sub/util.py", "x = 1\n")

	files, err := Scan(context.Background(), root, ScanOptions{})

	require.NoError(t, err)
	require.Len(t, files, 3)
	// Sorted by path.
	assert.Equal(t, "docs/guide.md", files[0].Path)
	assert.Equal(t, "main.go", files[1].Path)
	assert.Equal(t, "go", files[1].Language)
	assert.Equal(t, "sub/util.py", files[2].Path)
	assert.Equal(t, "python", files[2].Language)
}

func TestScan_ExcludedDirsSkipped(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "node_modules/dep/index.js", "x\n")
	writeFile(t, root, "vendor/lib.go", "package lib\n")

	files, err := Scan(context.Background(), root, ScanOptions{
		ExcludeDirs: []string{"node_modules", "vendor"},
	})

	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "main.go", files[0].Path)
}

func TestScan_ExtensionAllowlist(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "image.svg", "<svg/>\n")

	files, err := Scan(context.Background(), root, ScanOptions{IncludeExts: []string{".go"}})

	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "main.go", files[0].Path)
}

func TestScan_BinaryAndOversizedSkipped(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "ok.txt", "plain text\n")
	writeFile(t, root, "blob.txt", "bin\x00ary")
	writeFile(t, root, "huge.txt", strings.Repeat("a", 100))

	files, err := Scan(context.Background(), root, ScanOptions{MaxFileSize: 50})

	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "ok.txt", files[0].Path)
}

func TestScan_MissingRoot(t *testing.T) {
	_, err := Scan(context.Background(), filepath.Join(t.TempDir(), "nope"), ScanOptions{})
	assert.Error(t, err)
}

func TestScan_TooManyFiles(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		writeFile(t, root, name, "x\n")
	}

	_, err := Scan(context.Background(), root, ScanOptions{MaxFiles: 2})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than 2")
}
