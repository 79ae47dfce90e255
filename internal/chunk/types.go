// Package chunk splits source files into retrievable pieces. Code files are
// chunked along AST boundaries (tree-sitter), markdown along heading
// sections, and everything else by lines with overlap. Chunkers emit Pieces;
// the ingest pipeline assigns chunk IDs and persists them.
package chunk

import "context"

// Sizing defaults, in characters.
const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200

	// MinPieceSize is the smallest piece worth emitting on its own;
	// smaller units are merged with their neighbours.
	MinPieceSize = 100
)

// ContentType classifies what a piece holds.
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
)

// Piece kinds, recorded in piece metadata.
const (
	KindFunction = "function"
	KindMethod   = "method"
	KindType     = "type"
	KindClass    = "class"
	KindSection  = "section"
	KindLines    = "lines"
)

// FileInput is one file handed to a chunker.
type FileInput struct {
	Path     string // relative to the repository root
	Content  []byte
	Language string // go, python, typescript, ...
}

// Piece is one chunk of a file before it gets an identity. StartLine and
// EndLine are 1-indexed and inclusive.
type Piece struct {
	Content     string
	ContentType ContentType
	Language    string
	StartLine   int
	EndLine     int

	// Symbol is the declaration or heading the piece came from, when the
	// chunker could name one.
	Symbol string

	// Kind says how the piece was cut: function, method, type, class,
	// section or lines.
	Kind string
}

// Options tunes piece sizing.
type Options struct {
	// ChunkSize is the target piece size in characters.
	ChunkSize int

	// Overlap is how many trailing characters of one piece reappear at the
	// start of the next when a unit is split by lines.
	Overlap int
}

func (o Options) normalize() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Overlap < 0 || o.Overlap >= o.ChunkSize {
		o.Overlap = DefaultOverlap
		if o.Overlap >= o.ChunkSize {
			o.Overlap = o.ChunkSize / 5
		}
	}
	return o
}

// Chunker splits one file into pieces.
type Chunker interface {
	Chunk(ctx context.Context, file *FileInput) ([]*Piece, error)
}
