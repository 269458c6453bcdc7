package parser

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
)

// Parser outlines Go source files using the standard go/ast packages
type Parser struct{}

// New creates a Go outliner
func New() *Parser {
	return &Parser{}
}

func (p *Parser) Language(string) string { return "go" }

func (p *Parser) Extensions() []string { return []string{".go"} }

// Outline parses Go source and extracts package, imports, and top-level declarations.
// Syntax errors are recorded on the outline; whatever partial AST exists is still used.
func (p *Parser) Outline(path string, content []byte) (*Outline, error) {
	result := &Outline{
		Path:     path,
		Language: "go",
		Lines:    countLines(content),
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, content, parser.ParseComments)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("syntax error: %v", err))
	}
	if file == nil {
		return result, nil
	}

	if file.Name != nil {
		result.Package = file.Name.Name
	}
	for _, imp := range file.Imports {
		result.Imports = append(result.Imports, strings.Trim(imp.Path.Value, `"`))
	}

	extractor := &symbolExtractor{fset: fset}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			extractor.extractFunction(d)
		case *ast.GenDecl:
			extractor.extractGenDecl(d)
		}
	}
	result.Symbols = extractor.symbols
	return result, nil
}

// symbolExtractor collects top-level declarations from a Go AST
type symbolExtractor struct {
	fset    *token.FileSet
	symbols []Symbol
}

// extractFunction extracts function and method declarations
func (e *symbolExtractor) extractFunction(funcDecl *ast.FuncDecl) {
	sym := Symbol{
		Name:     funcDecl.Name.Name,
		Kind:     KindFunction,
		Doc:      extractDocComment(funcDecl.Doc),
		Line:     e.line(funcDecl.Pos()),
		Exported: token.IsExported(funcDecl.Name.Name),
	}

	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		sym.Kind = KindMethod
		sym.Receiver = receiverType(funcDecl.Recv.List[0].Type)
	}
	sym.Signature = functionSignature(funcDecl)

	classifyRole(&sym)
	e.symbols = append(e.symbols, sym)
}

// extractGenDecl extracts type, const, and var declarations
func (e *symbolExtractor) extractGenDecl(genDecl *ast.GenDecl) {
	for _, spec := range genDecl.Specs {
		switch s := spec.(type) {
		case *ast.TypeSpec:
			doc := s.Doc
			if doc == nil {
				doc = genDecl.Doc
			}
			e.extractTypeSpec(s, doc)
		case *ast.ValueSpec:
			e.extractValueSpec(s, genDecl.Doc, genDecl.Tok)
		}
	}
}

// extractTypeSpec extracts struct, interface, and named type declarations
func (e *symbolExtractor) extractTypeSpec(typeSpec *ast.TypeSpec, doc *ast.CommentGroup) {
	name := typeSpec.Name.Name
	sym := Symbol{
		Name:     name,
		Doc:      extractDocComment(doc),
		Line:     e.line(typeSpec.Pos()),
		Exported: token.IsExported(name),
	}

	switch t := typeSpec.Type.(type) {
	case *ast.StructType:
		sym.Kind = KindStruct
		sym.Signature = fmt.Sprintf("type %s struct { ... } // %d fields", name, t.Fields.NumFields())
	case *ast.InterfaceType:
		sym.Kind = KindInterface
		sym.Signature = fmt.Sprintf("type %s interface { ... } // %d methods", name, t.Methods.NumFields())
	default:
		sym.Kind = KindType
		sym.Signature = fmt.Sprintf("type %s %s", name, exprToString(typeSpec.Type))
	}

	classifyRole(&sym)
	e.symbols = append(e.symbols, sym)
}

// extractValueSpec extracts const and var declarations
func (e *symbolExtractor) extractValueSpec(valueSpec *ast.ValueSpec, doc *ast.CommentGroup, tok token.Token) {
	kind := KindVar
	if tok == token.CONST {
		kind = KindConst
	}
	if valueSpec.Doc != nil {
		doc = valueSpec.Doc
	}

	for _, name := range valueSpec.Names {
		if name.Name == "_" {
			continue
		}
		sym := Symbol{
			Name:     name.Name,
			Kind:     kind,
			Doc:      extractDocComment(doc),
			Line:     e.line(valueSpec.Pos()),
			Exported: token.IsExported(name.Name),
		}

		switch {
		case valueSpec.Type != nil:
			sym.Signature = fmt.Sprintf("%s %s", name.Name, exprToString(valueSpec.Type))
		case len(valueSpec.Values) > 0:
			sym.Signature = fmt.Sprintf("%s = ...", name.Name)
		default:
			sym.Signature = name.Name
		}
		e.symbols = append(e.symbols, sym)
	}
}

func (e *symbolExtractor) line(pos token.Pos) int {
	return e.fset.Position(pos).Line
}

// receiverType extracts the receiver type name from a method, dropping pointers and type parameters
func receiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverType(t.X)
	case *ast.IndexExpr:
		return receiverType(t.X)
	case *ast.IndexListExpr:
		return receiverType(t.X)
	case *ast.Ident:
		return t.Name
	}
	return ""
}

// functionSignature builds a function signature string
func functionSignature(funcDecl *ast.FuncDecl) string {
	var sig strings.Builder

	sig.WriteString("func ")
	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		sig.WriteString("(")
		sig.WriteString(exprToString(funcDecl.Recv.List[0].Type))
		sig.WriteString(") ")
	}
	sig.WriteString(funcDecl.Name.Name)

	sig.WriteString("(")
	sig.WriteString(fieldListToString(funcDecl.Type.Params))
	sig.WriteString(")")

	if results := fieldListToString(funcDecl.Type.Results); results != "" {
		if funcDecl.Type.Results.NumFields() > 1 || len(funcDecl.Type.Results.List[0].Names) > 0 {
			sig.WriteString(" (" + results + ")")
		} else {
			sig.WriteString(" " + results)
		}
	}
	return sig.String()
}

// fieldListToString converts a field list to a string representation
func fieldListToString(fieldList *ast.FieldList) string {
	if fieldList == nil || len(fieldList.List) == 0 {
		return ""
	}

	var parts []string
	for _, field := range fieldList.List {
		typeStr := exprToString(field.Type)
		if len(field.Names) == 0 {
			parts = append(parts, typeStr)
			continue
		}
		for _, name := range field.Names {
			parts = append(parts, name.Name+" "+typeStr)
		}
	}
	return strings.Join(parts, ", ")
}

// exprToString renders a type expression compactly
func exprToString(expr ast.Expr) string {
	if expr == nil {
		return ""
	}

	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + exprToString(t.X)
	case *ast.ArrayType:
		return "[]" + exprToString(t.Elt)
	case *ast.MapType:
		return fmt.Sprintf("map[%s]%s", exprToString(t.Key), exprToString(t.Value))
	case *ast.ChanType:
		return "chan " + exprToString(t.Value)
	case *ast.FuncType:
		return "func(...)"
	case *ast.InterfaceType:
		return "interface{}"
	case *ast.StructType:
		return "struct{...}"
	case *ast.SelectorExpr:
		return exprToString(t.X) + "." + t.Sel.Name
	case *ast.Ellipsis:
		return "..." + exprToString(t.Elt)
	case *ast.IndexExpr:
		return exprToString(t.X) + "[" + exprToString(t.Index) + "]"
	default:
		return "..."
	}
}

// extractDocComment returns the first sentence of a comment group
func extractDocComment(doc *ast.CommentGroup) string {
	if doc == nil {
		return ""
	}
	return firstSentence(doc.Text())
}
