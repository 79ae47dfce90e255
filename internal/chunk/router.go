package chunk

import (
	"context"
	"path/filepath"
	"strings"
)

// Router dispatches each file to the chunker that understands it: markdown
// to the heading chunker, parseable code to the AST chunker, everything
// else to the line chunker.
type Router struct {
	code     *CodeChunker
	markdown *MarkdownChunker
	line     *LineChunker
}

// NewRouter creates a router with all three chunkers sharing one sizing
// configuration.
func NewRouter(opts Options) *Router {
	opts = opts.normalize()
	return &Router{
		code:     NewCodeChunker(opts),
		markdown: NewMarkdownChunker(opts),
		line:     NewLineChunker(opts),
	}
}

var _ Chunker = (*Router)(nil)

// Chunk implements Chunker. A FileInput with an empty Language gets one
// inferred from its extension.
func (r *Router) Chunk(ctx context.Context, file *FileInput) ([]*Piece, error) {
	if file.Language == "" {
		file.Language = LanguageForExtension(filepath.Ext(file.Path))
	}

	switch {
	case file.Language == "markdown" || isMarkdownPath(file.Path):
		return r.markdown.Chunk(ctx, file)
	default:
		// The code chunker falls back to lines for grammars it does
		// not carry.
		return r.code.Chunk(ctx, file)
	}
}

// Close releases parser resources.
func (r *Router) Close() {
	r.code.Close()
}

func isMarkdownPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".mdx":
		return true
	}
	return false
}
