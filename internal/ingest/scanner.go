// Package ingest turns a repository into an installed index snapshot:
// fetch the source, scan and chunk its files, embed the chunks, build the
// lexical and vector indexes, persist everything and swap the registry
// pointer. A failed build never replaces a ready index.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/repoqa/repoqa/internal/chunk"
)

// DefaultMaxFileSize skips files larger than this many bytes.
const DefaultMaxFileSize = 2 * 1024 * 1024

// DefaultMaxFiles aborts scans of absurdly large trees.
const DefaultMaxFiles = 50000

// binarySniffLen is how many leading bytes are checked for NUL.
const binarySniffLen = 512

// SourceFile is one scannable file found under a repository root.
type SourceFile struct {
	Path     string // relative to the root, forward slashes
	AbsPath  string
	Size     int64
	ModTime  time.Time
	Language string // by extension, may be empty
}

// ScanOptions filters the files a scan reports.
type ScanOptions struct {
	// IncludeExts is the extension allowlist, with leading dots. Empty
	// means accept every extension.
	IncludeExts []string

	// ExcludeDirs are directory names skipped wholesale.
	ExcludeDirs []string

	// MaxFileSize skips larger files. Zero means DefaultMaxFileSize.
	MaxFileSize int64

	// MaxFiles aborts the scan with an error when exceeded. Zero means
	// DefaultMaxFiles.
	MaxFiles int
}

// Scan lists the indexable files under root, sorted by path. Git work trees
// are listed through git so ignore rules apply; plain directories are
// walked. Binary files, oversized files and excluded extensions are
// filtered either way.
func Scan(ctx context.Context, root string, opts ScanOptions) ([]*SourceFile, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan root is not a directory: %s", absRoot)
	}

	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = DefaultMaxFiles
	}

	var paths []string
	if isGitWorkTree(absRoot) {
		paths, err = gitListFiles(ctx, absRoot)
		if err != nil {
			slog.Warn("git_ls_files_failed_falling_back_to_walk",
				slog.String("root", absRoot),
				slog.String("error", err.Error()))
			paths = nil
		}
	}
	if paths == nil {
		paths, err = walkFiles(ctx, absRoot, opts)
		if err != nil {
			return nil, err
		}
	}

	allowed := buildExtSet(opts.IncludeExts)
	excluded := buildDirSet(opts.ExcludeDirs)

	files := make([]*SourceFile, 0, len(paths))
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if inExcludedDir(rel, excluded) {
			continue
		}
		ext := strings.ToLower(filepath.Ext(rel))
		if allowed != nil {
			if _, ok := allowed[ext]; !ok {
				continue
			}
		}

		abs := filepath.Join(absRoot, filepath.FromSlash(rel))
		fi, err := os.Stat(abs)
		if err != nil || fi.IsDir() {
			continue
		}
		if fi.Size() > opts.MaxFileSize {
			slog.Debug("file_skipped_too_large",
				slog.String("path", rel),
				slog.Int64("size", fi.Size()))
			continue
		}
		if looksBinary(abs) {
			continue
		}

		files = append(files, &SourceFile{
			Path:     rel,
			AbsPath:  abs,
			Size:     fi.Size(),
			ModTime:  fi.ModTime(),
			Language: chunk.LanguageForExtension(ext),
		})
		if len(files) > opts.MaxFiles {
			return nil, fmt.Errorf("repository has more than %d indexable files, refusing to ingest", opts.MaxFiles)
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func isGitWorkTree(root string) bool {
	_, err := os.Stat(filepath.Join(root, ".git"))
	return err == nil
}

// gitListFiles lists tracked and untracked-but-not-ignored files, so a
// checkout's .gitignore is honoured without a matcher of our own.
func gitListFiles(ctx context.Context, root string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", root, "ls-files", "-co", "--exclude-standard")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	paths := make([]string, 0, len(lines))
	for _, line := range lines {
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

func walkFiles(ctx context.Context, root string, opts ScanOptions) ([]string, error) {
	excluded := buildDirSet(opts.ExcludeDirs)

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			if _, skip := excluded[d.Name()]; skip && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return nil
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

func looksBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()

	buf := make([]byte, binarySniffLen)
	n, _ := f.Read(buf)
	return bytes.IndexByte(buf[:n], 0) >= 0
}

func buildExtSet(exts []string) map[string]struct{} {
	if len(exts) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = struct{}{}
	}
	return set
}

func buildDirSet(dirs []string) map[string]struct{} {
	set := make(map[string]struct{}, len(dirs))
	for _, d := range dirs {
		set[d] = struct{}{}
	}
	return set
}

func inExcludedDir(rel string, excluded map[string]struct{}) bool {
	for _, part := range strings.Split(rel, "/") {
		if _, skip := excluded[part]; skip {
			return true
		}
	}
	return false
}
