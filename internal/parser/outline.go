package parser

import (
	"errors"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnsupportedLanguage is returned for files no outliner understands
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Kind classifies an outlined declaration
type Kind string

const (
	KindFunction  Kind = "function"
	KindMethod    Kind = "method"
	KindStruct    Kind = "struct"
	KindInterface Kind = "interface"
	KindType      Kind = "type"
	KindClass     Kind = "class"
	KindConst     Kind = "const"
	KindVar       Kind = "var"
)

// Symbol is one top-level declaration (or class member)
type Symbol struct {
	Name      string
	Kind      Kind
	Signature string
	Receiver  string // Method receiver or enclosing class
	Doc       string // First sentence of the doc comment or docstring
	Line      int
	Exported  bool
	Role      Role
}

// Outline is the structural summary of one source file
type Outline struct {
	Path     string
	Language string
	Package  string
	Imports  []string
	Symbols  []Symbol
	Lines    int
	Errors   []string // Syntax errors; the outline is partial when set
}

// Exported returns the exported symbols in source order
func (o *Outline) Exported() []Symbol {
	var out []Symbol
	for _, s := range o.Symbols {
		if s.Exported {
			out = append(out, s)
		}
	}
	return out
}

// CountByKind tallies symbols per kind
func (o *Outline) CountByKind() map[Kind]int {
	counts := make(map[Kind]int)
	for _, s := range o.Symbols {
		counts[s.Kind]++
	}
	return counts
}

// Roles lists the distinct roles detected in the file, sorted
func (o *Outline) Roles() []Role {
	seen := make(map[Role]struct{})
	for _, s := range o.Symbols {
		if s.Role != RoleNone {
			seen[s.Role] = struct{}{}
		}
	}
	roles := make([]Role, 0, len(seen))
	for r := range seen {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// Outliner extracts an outline for one language family
type Outliner interface {
	Language(path string) string
	Extensions() []string
	Outline(path string, content []byte) (*Outline, error)
}

// Registry dispatches files to outliners by extension
type Registry struct {
	byExt map[string]Outliner
}

// NewRegistry creates a registry with the Go, Python and TypeScript/JavaScript outliners
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Outliner)}
	r.Register(New())
	r.Register(NewPythonOutliner())
	r.Register(NewTypeScriptOutliner())
	return r
}

// Register adds an outliner; later registrations win on extension clashes
func (r *Registry) Register(o Outliner) {
	for _, ext := range o.Extensions() {
		r.byExt[strings.ToLower(ext)] = o
	}
}

// Supports reports whether a file extension has an outliner
func (r *Registry) Supports(path string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Outline parses content with the outliner registered for the file extension
func (r *Registry) Outline(path string, content []byte) (*Outline, error) {
	o, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, ErrUnsupportedLanguage
	}
	return o.Outline(path, content)
}

func countLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := strings.Count(string(content), "\n")
	if content[len(content)-1] != '\n' {
		n++
	}
	return n
}

func firstSentence(doc string) string {
	doc = strings.TrimSpace(doc)
	if i := strings.Index(doc, "\n\n"); i >= 0 {
		doc = doc[:i]
	}
	doc = strings.Join(strings.Fields(doc), " ")
	if i := strings.Index(doc, ". "); i >= 0 {
		return doc[:i+1]
	}
	return doc
}
