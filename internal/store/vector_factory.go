package store

import (
	"fmt"
	"time"
)

// Vector backend names accepted in configuration.
const (
	VectorBackendHNSW   = "hnsw"
	VectorBackendQdrant = "qdrant"
)

// VectorBackendConfig selects and parameterizes a vector backend.
type VectorBackendConfig struct {
	Backend string // "hnsw" (default) or "qdrant"
	Index   VectorIndexConfig

	// Qdrant backend only.
	QdrantURL     string
	QdrantAPIKey  string
	QdrantTimeout time.Duration
	Collection    string
}

// NewVectorIndex creates a vector index for the configured backend.
func NewVectorIndex(opts VectorBackendConfig) (VectorIndex, error) {
	switch opts.Backend {
	case "", VectorBackendHNSW:
		return NewHNSWIndex(opts.Index)
	case VectorBackendQdrant:
		return NewQdrantIndex(opts.QdrantURL, opts.QdrantAPIKey, opts.Collection, opts.Index, opts.QdrantTimeout)
	default:
		return nil, fmt.Errorf("unknown vector backend %q (expected %q or %q)", opts.Backend, VectorBackendHNSW, VectorBackendQdrant)
	}
}
