// Package parser builds structural outlines of source files for offline analysis.
//
// Go files are parsed with the standard go/ast packages. Python, TypeScript and
// JavaScript files are parsed with tree-sitter grammars.
//
// # Basic Usage
//
//	reg := parser.NewRegistry()
//	outline, err := reg.Outline("pkg/user.go", content)
//	if errors.Is(err, parser.ErrUnsupportedLanguage) {
//	    // fall back to plain-text statistics
//	}
//
//	for _, sym := range outline.Exported() {
//	    fmt.Printf("%s %s (line %d)\n", sym.Kind, sym.Name, sym.Line)
//	}
//
// # Roles
//
// Type-like declarations are tagged with an architectural role inferred from
// their names ("*Repository", "*Service", "*Handler", "*Command", ...), and test
// functions are tagged as tests. Roles feed the one-line file summaries produced
// by the local analysis provider.
//
// # Error Handling
//
// Syntax errors never fail an outline: they are recorded in Outline.Errors and
// whatever declarations could be recovered are still returned.
package parser
