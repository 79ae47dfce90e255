package store

import (
	"fmt"
	"log/slog"
)

// Lexical backend names accepted in configuration.
const (
	LexicalBackendMemory = "memory"
	LexicalBackendBleve  = "bleve"
)

// BuildLexicalIndex builds a lexical index over the full chunk set using
// the configured backend. The memory backend implements the exact BM25
// formula and is the default; bleve trades that for a disk-backed index.
func BuildLexicalIndex(backend, path, repositoryID string, chunks []*Chunk, config BM25Config) (LexicalIndex, error) {
	switch backend {
	case "", LexicalBackendMemory:
		return NewMemoryBM25Index(repositoryID, chunks, config)
	case LexicalBackendBleve:
		return NewBleveBM25Index(path, repositoryID, chunks, config)
	default:
		return nil, fmt.Errorf("unknown lexical backend %q (expected %q or %q)", backend, LexicalBackendMemory, LexicalBackendBleve)
	}
}

// OpenLexicalIndex restores a lexical index for chunks already persisted
// in the metadata store. The memory backend rebuilds in process; bleve
// reopens its directory and falls back to a rebuild when the on-disk
// index is missing or damaged.
func OpenLexicalIndex(backend, path, repositoryID string, chunks []*Chunk, config BM25Config) (LexicalIndex, error) {
	switch backend {
	case "", LexicalBackendMemory:
		return NewMemoryBM25Index(repositoryID, chunks, config)
	case LexicalBackendBleve:
		idx, err := OpenBleveBM25Index(path, config)
		if err == nil {
			return idx, nil
		}
		slog.Warn("bleve_reopen_failed_rebuilding",
			slog.String("repository", repositoryID),
			slog.String("path", path),
			slog.String("error", err.Error()))
		return NewBleveBM25Index(path, repositoryID, chunks, config)
	default:
		return nil, fmt.Errorf("unknown lexical backend %q (expected %q or %q)", backend, LexicalBackendMemory, LexicalBackendBleve)
	}
}
