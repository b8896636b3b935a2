package parser

import (
	"regexp"
	"strings"

	"github.com/sariproject/sari/internal/model"
)

// braceLanguage implements the brace-driven contract  for
// Java, Kotlin, TypeScript, JavaScript, C, C++, Go and Rust: a line-wise
// sanitize pass followed by a brace-balance stack, rather than a
// tree-sitter grammar per language. A grammar per language would parse
// more correctly, but it would not reproduce the literal invariants this
// scanner is built to satisfy (end-line pinned to EOF on an unclosed
// block, multi-line pending extends/implements clauses resolving to one
// relation per base) — see DESIGN.md.
type braceLanguage struct{}

func NewBraceLanguage() *braceLanguage { return &braceLanguage{} }

var (
	dqStringRe    = regexp.MustCompile(`"(?:\\.|[^"\\])*"`)
	sqStringRe    = regexp.MustCompile(`'(?:\\.|[^'\\])*'`)
	lineCommentRe = regexp.MustCompile(`//.*$`)

	typeKeywordRe   = regexp.MustCompile(`\b(class|interface|enum|record|struct|trait|impl)\b`)
	modifierRe      = regexp.MustCompile(`\b(public|private|protected|internal|static|override|virtual|async|export|default|abstract|final|sealed|data|open|func|function|fn)\b`)
	identParenRe    = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	nameAfterKindRe = regexp.MustCompile(`\b(class|interface|enum|record|struct|trait)\s+([A-Za-z_][A-Za-z0-9_]*)`)
	extendsRe       = regexp.MustCompile(`\b(extends|implements|:)\s+([A-Za-z_][A-Za-z0-9_.<>,\s]*)`)

	controlFlowBlacklist = map[string]bool{
		"if": true, "for": true, "while": true, "switch": true, "catch": true,
		"return": true, "new": true, "throw": true, "else": true, "do": true,
		"try": true, "finally": true, "case": true, "with": true,
	}
)

// normalizeKind normalizes a brace-language keyword to this store's kind
// vocabulary, per extension quirk (record/interface collapse to class in
// Java-family languages; there is no separate "record" or "trait" kind).
func normalizeKind(keyword, path string) model.SymbolKind {
	switch keyword {
	case "interface", "trait":
		lower := strings.ToLower(path)
		if keyword == "interface" && (strings.HasSuffix(lower, ".java") ||
			strings.HasSuffix(lower, ".kt") || strings.HasSuffix(lower, ".kts")) {
			return model.KindClass
		}
		return model.KindInterface
	case "enum":
		return model.KindEnum
	case "record":
		return model.KindClass
	default: // class, struct, impl
		return model.KindClass
	}
}

// sanitize replaces string-literal bodies with empty literals and strips
// line comments, so brace-counting and keyword matching never trip over
// braces or keywords quoted inside string data.
func sanitize(line string) string {
	line = dqStringRe.ReplaceAllString(line, `""`)
	line = sqStringRe.ReplaceAllString(line, `''`)
	line = lineCommentRe.ReplaceAllString(line, "")
	return line
}

type openSymbol struct {
	name          string
	kind          model.SymbolKind
	parent        string
	startLine     int
	balanceAtOpen int
	docstring     string
}

type pendingType struct {
	name        string
	kind        model.SymbolKind
	startLine   int
	docstring   string
	bases       []baseRef
	lastRelType model.RelationType // keyword of the most recently seen clause, for bare continuation lines
}

// baseRef is one accumulated extends/implements base, tagged with which
// keyword introduced it so the emitted relation carries the right type.
type baseRef struct {
	name    string
	relType model.RelationType
}

func (braceLanguage) Parse(path string, content string) (Result, error) {
	lines := splitLines(content)

	var res Result
	var stack []openSymbol
	var pending *pendingType
	var docBuf []string
	inBlockComment := false
	balance := 0

	flushDoc := func() string {
		if len(docBuf) == 0 {
			return ""
		}
		doc := strings.Join(docBuf, "\n")
		docBuf = nil
		return doc
	}

	parentName := func() string {
		if len(stack) == 0 {
			return ""
		}
		return stack[len(stack)-1].name
	}

	closeDownTo := func(endLine int) {
		for len(stack) > 0 && balance <= stack[len(stack)-1].balanceAtOpen {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			res.Symbols = append(res.Symbols, model.Symbol{
				SymbolID:  symbolID(path, top.kind, top.name, top.startLine),
				Path:      path,
				Name:      top.name,
				NameLower: strings.ToLower(top.name),
				Kind:      top.kind,
				Line:      top.startLine,
				EndLine:   endLine,
				Parent:    top.parent,
				Docstring: top.docstring,
			})
		}
	}

	for i, raw := range lines {
		lineNo := i + 1

		// Block comment handling (/** ... */) feeds a pending-doc buffer,
		// tracked at line granularity.
		trimmed := strings.TrimSpace(raw)
		if inBlockComment {
			if idx := strings.Index(raw, "*/"); idx >= 0 {
				inBlockComment = false
				body := strings.TrimSpace(strings.TrimSuffix(trimmed, "*/"))
				body = strings.TrimPrefix(body, "*")
				docBuf = append(docBuf, strings.TrimSpace(body))
			} else {
				body := strings.TrimPrefix(trimmed, "*")
				docBuf = append(docBuf, strings.TrimSpace(body))
			}
			continue
		}
		if strings.HasPrefix(trimmed, "/**") || strings.HasPrefix(trimmed, "/*") {
			docBuf = nil
			if !strings.Contains(trimmed, "*/") {
				inBlockComment = true
				continue
			}
		}

		line := sanitize(raw)

		// Accumulate a pending type declaration's extends/implements
		// clause across lines until the opening brace is seen. A
		// continuation line with no keyword (more comma-separated bases
		// wrapped onto the next line) is treated as more base names too.
		if pending != nil {
			matched := false
			for _, m := range extendsRe.FindAllStringSubmatch(line, -1) {
				rt := relTypeFor(m[1])
				pending.bases = append(pending.bases, splitBases(m[2], rt)...)
				pending.lastRelType = rt
				matched = true
			}
			if !matched && !strings.Contains(line, "{") {
				if cont := strings.TrimSpace(line); cont != "" {
					pending.bases = append(pending.bases, splitBases(cont, pending.lastRelType)...)
				}
			}
		} else if m := nameAfterKindRe.FindStringSubmatch(line); m != nil && looksLikeDeclaration(line) {
			pending = &pendingType{
				name:        m[2],
				kind:        normalizeKind(m[1], path),
				startLine:   lineNo,
				docstring:   flushDoc(),
				lastRelType: model.RelationExtends,
			}
			for _, em := range extendsRe.FindAllStringSubmatch(line, -1) {
				rt := relTypeFor(em[1])
				pending.bases = append(pending.bases, splitBases(em[2], rt)...)
				pending.lastRelType = rt
			}
		}

		// Method/function detection: an identifier-paren call shape gated
		// by a modifier keyword (func/function/fn count as modifiers, which
		// covers Go receiver methods), while excluding control-flow
		// keywords. A declaration with no modifier keyword (e.g. a Java
		// package-private "void run()") is not detected, and a type prefix
		// alone is not accepted as a signal.
		if pending == nil {
			if name, ok := detectMethodOpen(line); ok {
				doc := flushDoc()
				kind := model.KindFunction
				if len(stack) > 0 {
					kind = model.KindMethod
				}
				stack = append(stack, openSymbol{
					name:          name,
					kind:          kind,
					parent:        parentName(),
					startLine:     lineNo,
					balanceAtOpen: balance,
					docstring:     doc,
				})
			}
		}

		// Emit call relations for identifiers followed by "(" while inside
		// an open function/method, skipping declaration lines themselves.
		if len(stack) > 0 {
			caller := stack[len(stack)-1]
			if caller.kind == model.KindFunction || caller.kind == model.KindMethod {
				for _, m := range identParenRe.FindAllStringSubmatch(line, -1) {
					name := m[1]
					if controlFlowBlacklist[name] {
						continue
					}
					if lineNo == caller.startLine && name == caller.name {
						continue // the declaration's own name, not a call
					}
					res.Relations = append(res.Relations, model.Relation{
						FromPath:     path,
						FromSymbol:   caller.name,
						FromSymbolID: symbolID(path, caller.kind, caller.name, caller.startLine),
						ToSymbol:     name,
						RelType:      model.RelationCalls,
						Line:         lineNo,
					})
				}
			}
		}

		open := strings.Count(line, "{")
		closeCount := strings.Count(line, "}")

		if pending != nil && open > 0 {
			stack = append(stack, openSymbol{
				name:          pending.name,
				kind:          pending.kind,
				parent:        parentName(),
				startLine:     pending.startLine,
				balanceAtOpen: balance,
				docstring:     pending.docstring,
			})
			for _, base := range dedupeBases(pending.bases) {
				res.Relations = append(res.Relations, model.Relation{
					FromPath:     path,
					FromSymbol:   pending.name,
					FromSymbolID: symbolID(path, pending.kind, pending.name, pending.startLine),
					ToSymbol:     base.name,
					RelType:      base.relType,
					Line:         lineNo,
				})
			}
			pending = nil
		}

		balance += open - closeCount
		closeDownTo(lineNo)
	}

	// Unclosed blocks are closed at the file's last line: lowering the
	// balance to the outermost open symbol's value lets closeDownTo pop
	// every symbol still on the stack.
	if len(stack) > 0 {
		balance = stack[0].balanceAtOpen
	}
	closeDownTo(len(lines))

	return res, nil
}

// looksLikeDeclaration reports whether the trimmed line contains a type
// keyword (class, interface, enum, record, struct, trait, impl) anywhere
// on it. It does not check for a modifier or for the keyword's position
// on the line.
func looksLikeDeclaration(line string) bool {
	trimmed := strings.TrimSpace(line)
	if typeKeywordRe.MatchString(trimmed) {
		return true
	}
	return false
}

// detectMethodOpen looks for a function/method declaration: a modifier
// keyword (including "func" for Go-style receiver funcs) followed
// eventually by identifier(...). A line carrying a type keyword is
// treated as a type declaration and rejected.
func detectMethodOpen(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", false
	}
	hasSignal := modifierRe.MatchString(trimmed) || typeKeywordRe.MatchString(trimmed)
	if !hasSignal {
		return "", false
	}
	if typeKeywordRe.MatchString(trimmed) {
		// This line declares a type, not a function.
		return "", false
	}
	matches := identParenRe.FindAllStringSubmatch(trimmed, -1)
	if len(matches) == 0 {
		return "", false
	}
	name := matches[len(matches)-1][1]
	if controlFlowBlacklist[name] {
		return "", false
	}
	return name, true
}

func splitBases(clause string, relType model.RelationType) []baseRef {
	parts := strings.Split(clause, ",")
	var out []baseRef
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.TrimSuffix(p, "{")
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		// Drop generic type arguments: Foo<Bar> -> Foo.
		if idx := strings.IndexByte(p, '<'); idx >= 0 {
			p = p[:idx]
		}
		if p == "" {
			continue
		}
		out = append(out, baseRef{name: p, relType: relType})
	}
	return out
}

func dedupeBases(in []baseRef) []baseRef {
	seen := make(map[baseRef]bool, len(in))
	var out []baseRef
	for _, b := range in {
		if seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, b)
	}
	return out
}

// relTypeFor maps the keyword extendsRe matched to a relation type:
// "implements" is always KindInterface-ish implements; "extends" and the
// bare ":" inheritance shorthand (Kotlin/TS/Rust) are extends.
func relTypeFor(keyword string) model.RelationType {
	if keyword == "implements" {
		return model.RelationImplements
	}
	return model.RelationExtends
}
