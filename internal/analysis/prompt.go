package analysis

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxPromptContent caps the source bytes sent to a remote provider
const MaxPromptContent = 48 * 1024

const systemPrompt = `You maintain a knowledge base describing a source tree.
Answer with plain markdown, no preamble. Describe purpose and responsibilities,
not line-by-line behavior. Keep the first line a one-sentence summary.`

func filePrompt(req FileRequest) string {
	content := req.Content
	truncated := false
	if len(content) > MaxPromptContent {
		content = content[:MaxPromptContent]
		for len(content) > 0 && !utf8.Valid(content) {
			content = content[:len(content)-1]
		}
		truncated = true
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Summarize the file %s.\n\n", req.RelPath)
	if truncated {
		fmt.Fprintf(&sb, "The file is %d bytes; only the first %d are shown.\n\n", len(req.Content), len(content))
	}
	sb.WriteString("<file>\n")
	sb.Write(content)
	if len(content) > 0 && content[len(content)-1] != '\n' {
		sb.WriteByte('\n')
	}
	sb.WriteString("</file>\n")
	return sb.String()
}

func directoryPrompt(req DirectoryRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write the knowledge entry for the directory %s from the summaries of its entries.\n\n", req.RelPath)
	for _, c := range req.Children {
		name := c.Name
		if c.IsDir {
			name += "/"
		}
		fmt.Fprintf(&sb, "<entry name=%q>\n%s\n</entry>\n", name, strings.TrimSpace(c.Summary))
	}
	return sb.String()
}
