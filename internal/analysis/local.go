package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/dshills/gocontext-kb/internal/parser"
)

// kindOrder fixes the order kinds are listed in summaries
var kindOrder = []parser.Kind{
	parser.KindClass,
	parser.KindStruct,
	parser.KindInterface,
	parser.KindType,
	parser.KindFunction,
	parser.KindMethod,
	parser.KindConst,
	parser.KindVar,
}

// maxListed caps the exported names and notes written per file
const maxListed = 12

// LocalProvider produces deterministic summaries offline from source outlines
type LocalProvider struct {
	model    string
	outlines *parser.Registry
	cache    *Cache
}

// NewLocalProvider creates a local analysis service
func NewLocalProvider(cache *Cache) (*LocalProvider, error) {
	return &LocalProvider{
		model:    DefaultLocalModel,
		outlines: parser.NewRegistry(),
		cache:    cache,
	}, nil
}

func (l *LocalProvider) AnalyzeFile(ctx context.Context, req FileRequest) (*Summary, error) {
	if err := ValidateFileRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash := FileRequestHash(ProviderLocal, l.model, req)
	if l.cache != nil {
		if s, ok := l.cache.Get(hash); ok {
			return s, nil
		}
	}

	text, err := l.describeFile(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProviderFailed, ProviderLocal, err)
	}
	return l.store(hash, text), nil
}

func (l *LocalProvider) BuildDirectoryKnowledge(ctx context.Context, req DirectoryRequest) (*Summary, error) {
	if err := ValidateDirectoryRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash := DirectoryRequestHash(ProviderLocal, l.model, req)
	if l.cache != nil {
		if s, ok := l.cache.Get(hash); ok {
			return s, nil
		}
	}
	return l.store(hash, describeDirectory(req)), nil
}

func (l *LocalProvider) store(hash, text string) *Summary {
	s := &Summary{Text: text, Provider: ProviderLocal, Model: l.model, Hash: hash}
	if l.cache != nil {
		l.cache.Set(hash, s)
	}
	return s
}

func (l *LocalProvider) Provider() string { return ProviderLocal }

func (l *LocalProvider) Model() string { return l.model }

func (l *LocalProvider) Close() error { return nil }

func (l *LocalProvider) describeFile(req FileRequest) (string, error) {
	content := req.Content
	switch {
	case len(content) == 0:
		return "Empty file.", nil
	case isBinary(content):
		return fmt.Sprintf("Binary file, %d bytes.", len(content)), nil
	}

	outline, err := l.outlines.Outline(req.RelPath, content)
	if errors.Is(err, parser.ErrUnsupportedLanguage) {
		return describeText(req.RelPath, content), nil
	}
	if err != nil {
		return "", err
	}
	return describeOutline(outline), nil
}

func describeOutline(o *parser.Outline) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s source, %d lines", languageLabel(o.Language), o.Lines)
	if o.Package != "" {
		fmt.Fprintf(&sb, ", package %s", o.Package)
	}
	sb.WriteString(".\n")

	counts := o.CountByKind()
	var parts []string
	for _, k := range kindOrder {
		if n := counts[k]; n > 0 {
			parts = append(parts, plural(n, string(k)))
		}
	}
	if len(parts) > 0 {
		fmt.Fprintf(&sb, "Defines %s.\n", strings.Join(parts, ", "))
	} else {
		sb.WriteString("Defines no top-level symbols.\n")
	}

	if exported := o.Exported(); len(exported) > 0 {
		names := make([]string, 0, len(exported))
		for _, s := range exported {
			if s.Receiver != "" {
				names = append(names, s.Receiver+"."+s.Name)
			} else {
				names = append(names, s.Name)
			}
		}
		fmt.Fprintf(&sb, "Exported: %s.\n", truncateList(names))
	}

	if roles := o.Roles(); len(roles) > 0 {
		rs := make([]string, len(roles))
		for i, r := range roles {
			rs[i] = string(r)
		}
		fmt.Fprintf(&sb, "Roles: %s.\n", strings.Join(rs, ", "))
	}

	if len(o.Imports) > 0 {
		imports := append([]string(nil), o.Imports...)
		sort.Strings(imports)
		fmt.Fprintf(&sb, "Imports: %s.\n", truncateList(imports))
	}

	if len(o.Errors) > 0 {
		sb.WriteString("Contains syntax errors; the outline may be partial.\n")
	}

	var notes []string
	for _, s := range o.Symbols {
		if s.Doc != "" && s.Exported {
			notes = append(notes, fmt.Sprintf("- %s: %s", s.Name, s.Doc))
		}
		if len(notes) == maxListed {
			break
		}
	}
	if len(notes) > 0 {
		sb.WriteString("\n")
		sb.WriteString(strings.Join(notes, "\n"))
		sb.WriteString("\n")
	}

	return strings.TrimRight(sb.String(), "\n")
}

// describeText summarizes files no outliner understands
func describeText(relPath string, content []byte) string {
	lines := bytes.Count(content, []byte("\n"))
	if content[len(content)-1] != '\n' {
		lines++
	}
	words := len(bytes.Fields(content))

	kind := "Text"
	if ext := strings.TrimPrefix(strings.ToLower(path.Ext(relPath)), "."); ext != "" {
		kind = strings.ToUpper(ext)
	}

	summary := fmt.Sprintf("%s file, %s, %s.", kind, plural(lines, "line"), plural(words, "word"))
	if first := firstLine(content); first != "" {
		summary += "\nBegins with: " + first
	}
	return summary
}

func describeDirectory(req DirectoryRequest) string {
	var files, dirs int
	for _, c := range req.Children {
		if c.IsDir {
			dirs++
		} else {
			files++
		}
	}

	subject := "Directory " + req.RelPath
	if req.RelPath == "." {
		subject = "Project root"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s containing %s and %s.\n\n", subject, plural(files, "file"), plural(dirs, "subdirectory"))
	for _, c := range req.Children {
		name := c.Name
		if c.IsDir {
			name += "/"
		}
		fmt.Fprintf(&sb, "- %s: %s\n", name, firstLine([]byte(c.Summary)))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func languageLabel(lang string) string {
	switch lang {
	case "go":
		return "Go"
	case "javascript":
		return "JavaScript"
	case "typescript":
		return "TypeScript"
	case "":
		return "Unknown"
	}
	return strings.ToUpper(lang[:1]) + lang[1:]
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	switch {
	case strings.HasSuffix(noun, "y"):
		noun = noun[:len(noun)-1] + "ies"
	case strings.HasSuffix(noun, "s"):
		noun += "es"
	default:
		noun += "s"
	}
	return fmt.Sprintf("%d %s", n, noun)
}

func truncateList(items []string) string {
	if len(items) <= maxListed {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(items[:maxListed], ", "), len(items)-maxListed)
}

func firstLine(content []byte) string {
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if r := []rune(line); len(r) > 120 {
			line = strings.TrimSpace(string(r[:117])) + "..."
		}
		return line
	}
	return ""
}

func isBinary(content []byte) bool {
	probe := content
	if len(probe) > 8000 {
		probe = probe[:8000]
	}
	return bytes.IndexByte(probe, 0) >= 0
}
