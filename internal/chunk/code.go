package chunk

import (
	"context"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// CodeChunker cuts source files along top-level declarations. Each parsed
// file becomes a sequence of units (functions, methods, types, classes plus
// whatever sits between them); small adjacent units are merged up to the
// chunk size and oversized units are split by lines. Files in languages
// without a grammar fall back to plain line chunking.
type CodeChunker struct {
	mu     sync.Mutex
	parser *sitter.Parser
	line   *LineChunker
	opts   Options
}

// NewCodeChunker creates a code chunker.
func NewCodeChunker(opts Options) *CodeChunker {
	opts = opts.normalize()
	return &CodeChunker{
		parser: sitter.NewParser(),
		line:   NewLineChunker(opts),
		opts:   opts,
	}
}

var _ Chunker = (*CodeChunker)(nil)

// Close releases the parser.
func (c *CodeChunker) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.parser != nil {
		c.parser.Close()
		c.parser = nil
	}
}

// unit is one top-level region of a parsed file.
type unit struct {
	startByte uint32
	endByte   uint32
	startLine int
	endLine   int
	kind      string
	symbol    string
}

// Chunk implements Chunker.
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Piece, error) {
	if strings.TrimSpace(string(file.Content)) == "" {
		return nil, nil
	}

	spec, ok := specFor(file.Language)
	if !ok {
		return c.line.Chunk(ctx, file)
	}

	root, err := c.parse(ctx, spec, file.Content)
	if err != nil || root == nil {
		// Unparseable files still get indexed, just without structure.
		return c.line.Chunk(ctx, file)
	}

	units := topLevelUnits(root, spec, file.Content)
	if len(units) == 0 {
		return c.line.Chunk(ctx, file)
	}

	return c.assemble(units, file), nil
}

func (c *CodeChunker) parse(ctx context.Context, spec *languageSpec, source []byte) (*sitter.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.parser == nil {
		c.parser = sitter.NewParser()
	}
	c.parser.SetLanguage(spec.sitter)
	tree, err := c.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, err
	}
	return tree.RootNode(), nil
}

// topLevelUnits classifies every named child of the root node. Nodes the
// grammar spec does not name (comments, package clauses, imports) become
// line units so they merge into their neighbours.
func topLevelUnits(root *sitter.Node, spec *languageSpec, source []byte) []unit {
	count := int(root.NamedChildCount())
	units := make([]unit, 0, count)
	for i := 0; i < count; i++ {
		node := root.NamedChild(i)
		kind, isDecl := spec.unitKinds[node.Type()]
		u := unit{
			startByte: node.StartByte(),
			endByte:   node.EndByte(),
			startLine: int(node.StartPoint().Row) + 1,
			endLine:   int(node.EndPoint().Row) + 1,
			kind:      KindLines,
		}
		if isDecl {
			u.kind = kind
			u.symbol = nameOf(node, source)
		}
		units = append(units, u)
	}
	return units
}

// assemble merges adjacent units up to the chunk size and splits oversized
// ones by lines.
func (c *CodeChunker) assemble(units []unit, file *FileInput) []*Piece {
	var pieces []*Piece

	flushGroup := func(group []unit) {
		if len(group) == 0 {
			return
		}
		first, last := group[0], group[len(group)-1]
		content := string(file.Content[first.startByte:last.endByte])
		symbol, kind := groupIdentity(group)

		if len(content) <= c.opts.ChunkSize {
			pieces = append(pieces, &Piece{
				Content:     content,
				ContentType: ContentTypeCode,
				Language:    file.Language,
				StartLine:   first.startLine,
				EndLine:     last.endLine,
				Symbol:      symbol,
				Kind:        kind,
			})
			return
		}

		// A single declaration bigger than the budget is cut by lines;
		// every slice keeps the declaration's name so retrieval can
		// still say where it came from.
		for _, p := range splitByLines(content, first.startLine, c.opts) {
			p.ContentType = ContentTypeCode
			p.Language = file.Language
			p.Symbol = symbol
			p.Kind = kind
			pieces = append(pieces, p)
		}
	}

	// Groups below this size keep absorbing neighbours even when the next
	// unit would overflow, so tiny preambles never become pieces of their
	// own.
	minGroup := MinPieceSize
	if half := c.opts.ChunkSize / 2; half < minGroup {
		minGroup = half
	}

	var group []unit
	groupSize := 0
	for _, u := range units {
		size := int(u.endByte - u.startByte)
		if len(group) > 0 && groupSize+size > c.opts.ChunkSize && groupSize >= minGroup {
			flushGroup(group)
			group = nil
			groupSize = 0
		}
		group = append(group, u)
		groupSize += size
	}
	flushGroup(group)

	return pieces
}

// groupIdentity picks the name and kind a merged group is known by: the
// first named declaration wins, preamble-only groups stay anonymous lines.
func groupIdentity(group []unit) (symbol, kind string) {
	for _, u := range group {
		if u.symbol != "" {
			return u.symbol, u.kind
		}
	}
	for _, u := range group {
		if u.kind != KindLines {
			return "", u.kind
		}
	}
	return "", KindLines
}
