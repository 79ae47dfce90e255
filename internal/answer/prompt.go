package answer

import (
	"fmt"
	"strings"

	"github.com/repoqa/repoqa/internal/search"
)

const instructionTemplate = `You are answering a question about a source repository. Use only the numbered documents below. Cite documents as [Doc N] next to the statements they support. If the documents do not contain the answer, say so instead of guessing.`

// BuildPrompt renders the retrieval context into a generation prompt:
// an instruction block, the numbered documents, then the question.
// Plugin-mode callers receive this string verbatim.
func BuildPrompt(question string, rc *search.RetrievalContext) string {
	var b strings.Builder
	b.WriteString(instructionTemplate)
	b.WriteString("\n\n")

	for i, cc := range rc.Chunks {
		fmt.Fprintf(&b, "[Doc %d] %s:%d\n", i+1, cc.Chunk.FilePath, cc.Chunk.StartLine)
		b.WriteString(cc.Chunk.Content)
		if !strings.HasSuffix(cc.Chunk.Content, "\n") {
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n\nAnswer:")
	return b.String()
}
