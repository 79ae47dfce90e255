package chunk

import (
	"context"
	"regexp"
	"strings"
)

var headingPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

// MarkdownChunker cuts markdown files into heading sections. Sections
// smaller than the chunk size are merged with the following ones under the
// earliest heading; oversized sections are split by lines.
type MarkdownChunker struct {
	opts Options
}

// NewMarkdownChunker creates a markdown chunker.
func NewMarkdownChunker(opts Options) *MarkdownChunker {
	return &MarkdownChunker{opts: opts.normalize()}
}

var _ Chunker = (*MarkdownChunker)(nil)

// section is one heading-delimited region of a markdown file.
type section struct {
	heading   string
	startLine int
	content   string
}

// Chunk implements Chunker.
func (c *MarkdownChunker) Chunk(_ context.Context, file *FileInput) ([]*Piece, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	sections := splitSections(content)

	var pieces []*Piece
	flush := func(group []section) {
		if len(group) == 0 {
			return
		}
		// Sections are contiguous slices of the file, so concatenation
		// reconstructs the original text.
		var sb strings.Builder
		for _, s := range group {
			sb.WriteString(s.content)
		}
		text := sb.String()
		heading := group[0].heading

		if len(text) <= c.opts.ChunkSize {
			if strings.TrimSpace(text) == "" {
				return
			}
			pieces = append(pieces, &Piece{
				Content:     text,
				ContentType: ContentTypeMarkdown,
				Language:    file.Language,
				StartLine:   group[0].startLine,
				EndLine:     group[0].startLine + strings.Count(text, "\n"),
				Symbol:      heading,
				Kind:        KindSection,
			})
			return
		}
		for _, p := range splitByLines(text, group[0].startLine, c.opts) {
			p.ContentType = ContentTypeMarkdown
			p.Language = file.Language
			p.Symbol = heading
			p.Kind = KindSection
			pieces = append(pieces, p)
		}
	}

	var group []section
	groupSize := 0
	for _, s := range sections {
		if len(group) > 0 && groupSize+len(s.content) > c.opts.ChunkSize {
			flush(group)
			group = nil
			groupSize = 0
		}
		group = append(group, s)
		groupSize += len(s.content)
	}
	flush(group)

	return pieces, nil
}

// splitSections cuts content at heading lines. Text before the first
// heading becomes an untitled leading section.
func splitSections(content string) []section {
	matches := headingPattern.FindAllStringIndex(content, -1)
	if len(matches) == 0 {
		return []section{{content: content, startLine: 1}}
	}

	var sections []section
	if matches[0][0] > 0 {
		lead := content[:matches[0][0]]
		if strings.TrimSpace(lead) != "" {
			sections = append(sections, section{content: lead, startLine: 1})
		}
	}

	for i, m := range matches {
		end := len(content)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		body := content[m[0]:end]
		headingLine := content[m[0]:m[1]]
		heading := strings.TrimSpace(strings.TrimLeft(headingLine, "# "))
		sections = append(sections, section{
			heading:   heading,
			startLine: strings.Count(content[:m[0]], "\n") + 1,
			content:   body,
		})
	}
	return sections
}
