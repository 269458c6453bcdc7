package parser

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// tree-sitter parsers are not safe for concurrent use, so each call builds its own.
func parseTree(lang *sitter.Language, content []byte) (*sitter.Tree, error) {
	p := sitter.NewParser()
	defer p.Close()
	p.SetLanguage(lang)
	return p.ParseCtx(context.Background(), nil, content)
}

// PythonOutliner outlines Python modules
type PythonOutliner struct{}

// NewPythonOutliner creates a Python outliner
func NewPythonOutliner() *PythonOutliner {
	return &PythonOutliner{}
}

func (p *PythonOutliner) Language(string) string { return "python" }

func (p *PythonOutliner) Extensions() []string { return []string{".py", ".pyi"} }

func (p *PythonOutliner) Outline(path string, content []byte) (*Outline, error) {
	tree, err := parseTree(python.GetLanguage(), content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	result := &Outline{Path: path, Language: "python", Lines: countLines(content)}
	root := tree.RootNode()
	if root.HasError() {
		result.Errors = append(result.Errors, "syntax error")
	}
	p.walk(root, content, result, "")
	return result, nil
}

func (p *PythonOutliner) walk(node *sitter.Node, content []byte, result *Outline, className string) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "import_statement":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				name := child.NamedChild(j)
				if name.Type() == "aliased_import" {
					name = name.ChildByFieldName("name")
				}
				if name != nil {
					result.Imports = append(result.Imports, name.Content(content))
				}
			}

		case "import_from_statement":
			if mod := child.ChildByFieldName("module_name"); mod != nil {
				result.Imports = append(result.Imports, mod.Content(content))
			}

		case "decorated_definition":
			if def := child.ChildByFieldName("definition"); def != nil {
				p.definition(def, content, result, className)
			}

		case "function_definition", "class_definition":
			p.definition(child, content, result, className)
		}
	}
}

func (p *PythonOutliner) definition(node *sitter.Node, content []byte, result *Outline, className string) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := nameNode.Content(content)
	body := node.ChildByFieldName("body")

	sym := Symbol{
		Name:     name,
		Line:     int(node.StartPoint().Row) + 1,
		Exported: !strings.HasPrefix(name, "_") || (strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")),
		Doc:      pythonDocstring(body, content),
	}

	if node.Type() == "class_definition" {
		sym.Kind = KindClass
		sym.Signature = "class " + name
		if supers := node.ChildByFieldName("superclasses"); supers != nil {
			sym.Signature += supers.Content(content)
		}
		classifyRole(&sym)
		result.Symbols = append(result.Symbols, sym)
		if body != nil {
			p.walk(body, content, result, name)
		}
		return
	}

	sym.Kind = KindFunction
	if className != "" {
		sym.Kind = KindMethod
		sym.Receiver = className
	}
	sig := "def " + name
	if params := node.ChildByFieldName("parameters"); params != nil {
		sig += params.Content(content)
	}
	if ret := node.ChildByFieldName("return_type"); ret != nil {
		sig += " -> " + ret.Content(content)
	}
	sym.Signature = sig
	classifyRole(&sym)
	result.Symbols = append(result.Symbols, sym)
}

func pythonDocstring(body *sitter.Node, content []byte) string {
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}
	text := str.Content(content)
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(text, q) && strings.HasSuffix(text, q) && len(text) >= 2*len(q) {
			text = text[len(q) : len(text)-len(q)]
			break
		}
	}
	return firstSentence(text)
}

// TypeScriptOutliner outlines TypeScript and JavaScript modules
type TypeScriptOutliner struct{}

// NewTypeScriptOutliner creates a TypeScript/JavaScript outliner
func NewTypeScriptOutliner() *TypeScriptOutliner {
	return &TypeScriptOutliner{}
}

func (t *TypeScriptOutliner) Language(path string) string {
	if isJavaScript(path) {
		return "javascript"
	}
	return "typescript"
}

func (t *TypeScriptOutliner) Extensions() []string {
	return []string{".ts", ".mts", ".cts", ".js", ".mjs", ".cjs", ".jsx"}
}

func isJavaScript(path string) bool {
	for _, ext := range []string{".js", ".mjs", ".cjs", ".jsx"} {
		if strings.HasSuffix(strings.ToLower(path), ext) {
			return true
		}
	}
	return false
}

func (t *TypeScriptOutliner) Outline(path string, content []byte) (*Outline, error) {
	lang := typescript.GetLanguage()
	if isJavaScript(path) {
		lang = javascript.GetLanguage()
	}
	tree, err := parseTree(lang, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	result := &Outline{Path: path, Language: t.Language(path), Lines: countLines(content)}
	root := tree.RootNode()
	if root.HasError() {
		result.Errors = append(result.Errors, "syntax error")
	}
	t.walk(root, content, result, "", false)
	return result, nil
}

func (t *TypeScriptOutliner) walk(node *sitter.Node, content []byte, result *Outline, className string, exported bool) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		line := int(child.StartPoint().Row) + 1

		switch child.Type() {
		case "import_statement":
			if src := child.ChildByFieldName("source"); src != nil {
				result.Imports = append(result.Imports, strings.Trim(src.Content(content), `"'`+"`"))
			}

		case "export_statement":
			t.walk(child, content, result, className, true)

		case "function_declaration", "generator_function_declaration":
			if sym := namedSymbol(child, content, KindFunction, line, exported); sym != nil {
				sym.Signature = "function " + sym.Name + fieldContent(child, "parameters", content)
				classifyRole(sym)
				result.Symbols = append(result.Symbols, *sym)
			}

		case "class_declaration", "abstract_class_declaration":
			if sym := namedSymbol(child, content, KindClass, line, exported); sym != nil {
				sym.Signature = "class " + sym.Name
				classifyRole(sym)
				result.Symbols = append(result.Symbols, *sym)
				if body := child.ChildByFieldName("body"); body != nil {
					t.walk(body, content, result, sym.Name, exported)
				}
			}

		case "method_definition":
			if sym := namedSymbol(child, content, KindMethod, line, exported); sym != nil {
				sym.Receiver = className
				sym.Signature = sym.Name + fieldContent(child, "parameters", content)
				classifyRole(sym)
				result.Symbols = append(result.Symbols, *sym)
			}

		case "interface_declaration":
			if sym := namedSymbol(child, content, KindInterface, line, exported); sym != nil {
				sym.Signature = "interface " + sym.Name
				classifyRole(sym)
				result.Symbols = append(result.Symbols, *sym)
			}

		case "type_alias_declaration", "enum_declaration":
			if sym := namedSymbol(child, content, KindType, line, exported); sym != nil {
				sym.Signature = "type " + sym.Name
				classifyRole(sym)
				result.Symbols = append(result.Symbols, *sym)
			}

		case "lexical_declaration", "variable_declaration":
			t.variables(child, content, result, exported)
		}
	}
}

// variables records arrow functions and function expressions bound to names
func (t *TypeScriptOutliner) variables(node *sitter.Node, content []byte, result *Outline, exported bool) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		decl := node.NamedChild(i)
		if decl.Type() != "variable_declarator" {
			continue
		}
		nameNode := decl.ChildByFieldName("name")
		value := decl.ChildByFieldName("value")
		if nameNode == nil || value == nil {
			continue
		}
		switch value.Type() {
		case "arrow_function", "function", "function_expression":
		default:
			continue
		}
		name := nameNode.Content(content)
		result.Symbols = append(result.Symbols, Symbol{
			Name:      name,
			Kind:      KindFunction,
			Signature: "const " + name + " = " + fieldContent(value, "parameters", content) + " => ...",
			Line:      int(decl.StartPoint().Row) + 1,
			Exported:  exported,
		})
	}
}

func namedSymbol(node *sitter.Node, content []byte, kind Kind, line int, exported bool) *Symbol {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	return &Symbol{
		Name:     nameNode.Content(content),
		Kind:     kind,
		Line:     line,
		Exported: exported,
	}
}

func fieldContent(node *sitter.Node, field string, content []byte) string {
	if n := node.ChildByFieldName(field); n != nil {
		return n.Content(content)
	}
	return "()"
}
