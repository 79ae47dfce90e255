package chunk

import (
	"context"
	"strings"
)

// LineChunker cuts a file into fixed-size pieces along line boundaries,
// carrying Overlap characters of trailing lines into the next piece so a
// statement cut at a boundary still appears whole somewhere.
type LineChunker struct {
	opts Options
}

// NewLineChunker creates a line chunker.
func NewLineChunker(opts Options) *LineChunker {
	return &LineChunker{opts: opts.normalize()}
}

var _ Chunker = (*LineChunker)(nil)

// Chunk implements Chunker.
func (c *LineChunker) Chunk(_ context.Context, file *FileInput) ([]*Piece, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	contentType := ContentTypeText
	if file.Language != "" {
		contentType = ContentTypeCode
	}

	pieces := splitByLines(content, 1, c.opts)
	for _, p := range pieces {
		p.ContentType = contentType
		p.Language = file.Language
	}
	return pieces, nil
}

// splitByLines cuts content into pieces of at most opts.ChunkSize
// characters, breaking only at line boundaries. firstLine is the 1-indexed
// line number of the content's first line in the original file. A single
// line longer than the chunk size becomes a piece of its own rather than
// being cut mid-line.
func splitByLines(content string, firstLine int, opts Options) []*Piece {
	lines := strings.Split(content, "\n")

	var pieces []*Piece
	var buf []string
	bufSize := 0
	bufStart := 0 // index into lines

	flush := func(end int) {
		if bufSize == 0 {
			return
		}
		text := strings.Join(buf, "\n")
		if strings.TrimSpace(text) != "" {
			pieces = append(pieces, &Piece{
				Content:   text,
				StartLine: firstLine + bufStart,
				EndLine:   firstLine + end - 1,
				Kind:      KindLines,
			})
		}
		buf = nil
		bufSize = 0
	}

	for i, line := range lines {
		lineSize := len(line) + 1
		if bufSize > 0 && bufSize+lineSize > opts.ChunkSize {
			flush(i)

			// Seed the next piece with the overlap tail of this one.
			back := i
			overlap := 0
			for back > bufStart && overlap < opts.Overlap {
				overlap += len(lines[back-1]) + 1
				back--
			}
			bufStart = back
			for j := back; j < i; j++ {
				buf = append(buf, lines[j])
				bufSize += len(lines[j]) + 1
			}
		}
		if bufSize == 0 {
			bufStart = i
		}
		buf = append(buf, line)
		bufSize += lineSize
	}
	flush(len(lines))

	return pieces
}
