package parser

import (
	"regexp"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"

	"github.com/sariproject/sari/internal/model"
)

// pythonQuery captures class/def/async-def declarations; methods nested
// inside a class body are captured separately so the caller can assign
// kind=method. Decorators are read off decorated_definition nodes by a
// direct tree walk (see applyDecorators) rather than through this query.
const pythonQuery = `
(class_definition
    name: (identifier) @method.class
    body: (block
        (function_definition name: (identifier) @method.name) @method)) @method.wrap
(function_definition name: (identifier) @function.name) @function
(class_definition name: (identifier) @class.name) @class
`

type pythonLanguage struct {
	language *tree_sitter.Language
	query    *tree_sitter.Query
	fallback Language
}

// NewPythonLanguage builds the AST-preferred Python profile, constructed
// the way a tree-sitter grammar is normally wired: NewParser +
// SetLanguage + NewQuery. The brace-driven scanner serves as the
// fallback when the grammar fails to produce a tree. It keys on braces
// and modifier keywords, so on Python source it detects no def
// declarations and never closes a class header that has no "{".
func NewPythonLanguage() *pythonLanguage {
	language := tree_sitter.NewLanguage(tree_sitter_python.Language())
	query, _ := tree_sitter.NewQuery(language, pythonQuery)
	return &pythonLanguage{
		language: language,
		query:    query,
		fallback: NewBraceLanguage(),
	}
}

func (p *pythonLanguage) Parse(path string, content string) (Result, error) {
	res, ok := p.parseAST(path, content)
	if ok {
		return res, nil
	}
	return p.fallback.Parse(path, content)
}

func (p *pythonLanguage) parseAST(path string, content string) (Result, bool) {
	if p.query == nil {
		return Result{}, false
	}

	parser := tree_sitter.NewParser()
	if err := parser.SetLanguage(p.language); err != nil {
		return Result{}, false
	}
	defer parser.Close()

	src := []byte(content)
	tree := parser.Parse(src, nil)
	if tree == nil || tree.RootNode() == nil {
		return Result{}, false
	}
	defer tree.Close()

	qc := tree_sitter.NewQueryCursor()
	defer qc.Close()

	matches := qc.Matches(p.query, tree.RootNode(), src)
	captureNames := p.query.CaptureNames()

	var res Result
	// methodNodes records the byte offsets of function_definition nodes
	// that sit directly under a class body, so the second, unqualified
	// "function" capture for the same node can be skipped (every method
	// also matches the bare function_definition pattern).
	methodNodes := make(map[uint]bool)

	for {
		match := matches.Next()
		if match == nil {
			break
		}

		var className, methodClassName, methodName, funcName string
		var methodNode, classNode, funcNode *tree_sitter.Node

		for _, c := range match.Captures {
			node := c.Node
			name := captureNames[c.Index]
			switch name {
			case "method.name":
				methodName = nodeText(src, &node)
			case "method.class":
				methodClassName = nodeText(src, &node)
			case "method":
				n := node
				methodNode = &n
				methodNodes[uint(n.StartByte())] = true
			case "class.name":
				className = nodeText(src, &node)
			case "class":
				n := node
				classNode = &n
			case "function.name":
				funcName = nodeText(src, &node)
			case "function":
				n := node
				funcNode = &n
			}
		}

		if methodNode != nil && methodName != "" {
			res.Symbols = append(res.Symbols, pySymbol(path, model.KindMethod, methodName, methodNode, src, methodClassName))
		}
		if classNode != nil && className != "" {
			res.Symbols = append(res.Symbols, pySymbol(path, model.KindClass, className, classNode, src, ""))
		}
		if funcNode != nil && funcName != "" && !methodNodes[uint(funcNode.StartByte())] {
			res.Symbols = append(res.Symbols, pySymbol(path, model.KindFunction, funcName, funcNode, src, ""))
		}
	}

	// Decorators aren't exposed cleanly through the flat capture list above
	// (a decorated_definition wraps the declaration itself), so they are
	// joined to already-emitted symbols by a direct tree walk instead.
	applyDecorators(&res, src, tree.RootNode())

	return res, true
}

func nodeText(src []byte, n *tree_sitter.Node) string {
	return string(src[n.StartByte():n.EndByte()])
}

func pySymbol(path string, kind model.SymbolKind, name string, node *tree_sitter.Node, src []byte, parent string) model.Symbol {
	start := node.StartPosition()
	end := node.EndPosition()
	line := int(start.Row) + 1
	endLine := int(end.Row) + 1

	doc := pythonDocstring(node, src)

	return model.Symbol{
		SymbolID:  symbolID(path, kind, name, line),
		Path:      path,
		Name:      name,
		NameLower: strings.ToLower(name),
		Kind:      kind,
		Line:      line,
		EndLine:   endLine,
		Parent:    parent,
		Docstring: doc,
	}
}

// pythonDocstring returns the first string-literal expression of the
// declaration's suite
func pythonDocstring(node *tree_sitter.Node, src []byte) string {
	body := node.ChildByFieldName("body")
	if body == nil {
		return ""
	}
	for i := uint(0); i < body.ChildCount(); i++ {
		child := body.Child(i)
		if child == nil || child.Kind() != "expression_statement" {
			continue
		}
		if child.ChildCount() == 0 {
			continue
		}
		strNode := child.Child(0)
		if strNode == nil || strNode.Kind() != "string" {
			continue
		}
		return cleanPythonDocstring(nodeText(src, strNode))
	}
	return ""
}

var pyQuotePrefixRe = regexp.MustCompile(`^[rRbBuUfF]*("""|'''|"|')`)

func cleanPythonDocstring(raw string) string {
	m := pyQuotePrefixRe.FindString(raw)
	s := strings.TrimPrefix(raw, m)
	switch {
	case strings.HasSuffix(s, `"""`):
		s = strings.TrimSuffix(s, `"""`)
	case strings.HasSuffix(s, `'''`):
		s = strings.TrimSuffix(s, `'''`)
	case strings.HasSuffix(s, `"`):
		s = strings.TrimSuffix(s, `"`)
	case strings.HasSuffix(s, `'`):
		s = strings.TrimSuffix(s, `'`)
	}
	return strings.TrimSpace(s)
}

var routeDecoratorRe = regexp.MustCompile(`\broute\b.*?\(\s*["']([^"']+)["']`)

// applyDecorators walks decorated_definition nodes directly to build a
// line -> decorators index, then sets annotations/decorators/http_path
// metadata on the symbol declared at that line.
func applyDecorators(res *Result, src []byte, root *tree_sitter.Node) {
	lineDecorators := make(map[int][]string)
	var walk func(n *tree_sitter.Node)
	walk = func(n *tree_sitter.Node) {
		if n == nil {
			return
		}
		if n.Kind() == "decorated_definition" {
			target := n.ChildByFieldName("definition")
			if target != nil {
				line := int(target.StartPosition().Row) + 1
				var decs []string
				for i := uint(0); i < n.ChildCount(); i++ {
					c := n.Child(i)
					if c != nil && c.Kind() == "decorator" {
						decs = append(decs, nodeText(src, c))
					}
				}
				lineDecorators[line] = decs
			}
		}
		for i := uint(0); i < n.ChildCount(); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)

	for i, sym := range res.Symbols {
		decs, ok := lineDecorators[sym.Line]
		if !ok {
			continue
		}
		var annotations, decorators []string
		httpPath := ""
		for _, d := range decs {
			name := strings.TrimPrefix(strings.SplitN(d, "(", 2)[0], "@")
			annotations = append(annotations, strings.ToUpper(name))
			decorators = append(decorators, d)
			if m := routeDecoratorRe.FindStringSubmatch(d); m != nil {
				httpPath = m[1]
			}
		}
		res.Symbols[i].MetadataJSON = buildDecoratorMetadata(annotations, decorators, httpPath)
	}
}

func buildDecoratorMetadata(annotations, decorators []string, httpPath string) string {
	var b strings.Builder
	b.WriteByte('{')
	b.WriteString(`"annotations":[`)
	for i, a := range annotations {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(jsonQuote(a))
	}
	b.WriteString(`],"decorators":[`)
	for i, d := range decorators {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(jsonQuote(d))
	}
	b.WriteByte(']')
	if httpPath != "" {
		b.WriteString(`,"http_path":`)
		b.WriteString(jsonQuote(httpPath))
	}
	b.WriteByte('}')
	return b.String()
}

func jsonQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
