package parser

import (
	"regexp"
	"strings"

	"github.com/sariproject/sari/internal/model"
)

// genericLanguage is the data-driven fallback: parameterized by two
// compiled regexes and a kind-normalization table, rather than a
// language-specific grammar. It is used for any extension with no
// dedicated profile.
type genericLanguage struct {
	declRe   *regexp.Regexp
	funcRe   *regexp.Regexp
	kindWord map[string]model.SymbolKind
}

// NewGenericLanguage builds the fallback parser. The declaration regex
// recognizes a broad C-family/keyword-based type declaration shape; the
// function regex recognizes a name introduced by function, func, def, fn
// or sub, with or without a following parameter list. Both are
// intentionally permissive since this profile only runs when nothing
// more specific is registered for the extension.
func NewGenericLanguage() *genericLanguage {
	return &genericLanguage{
		declRe: regexp.MustCompile(`\b(class|interface|struct|enum|module|trait)\s+([A-Za-z_][A-Za-z0-9_]*)`),
		funcRe: regexp.MustCompile(`\b(?:function|func|def|fn|sub)\s+([A-Za-z_][A-Za-z0-9_]*)`),
		kindWord: map[string]model.SymbolKind{
			"class":     model.KindClass,
			"interface": model.KindInterface,
			"struct":    model.KindClass,
			"enum":      model.KindEnum,
			"module":    model.KindClass,
			"trait":     model.KindInterface,
		},
	}
}

func (g *genericLanguage) Parse(path string, content string) (Result, error) {
	lines := splitLines(content)
	var res Result

	for i, raw := range lines {
		lineNo := i + 1
		line := sanitize(raw)

		if m := g.declRe.FindStringSubmatch(line); m != nil {
			kind := g.kindWord[m[1]]
			res.Symbols = append(res.Symbols, model.Symbol{
				SymbolID:  symbolID(path, kind, m[2], lineNo),
				Path:      path,
				Name:      m[2],
				NameLower: strings.ToLower(m[2]),
				Kind:      kind,
				Line:      lineNo,
				EndLine:   lineNo, // no brace tracking in the generic profile
			})
			continue
		}

		if m := g.funcRe.FindStringSubmatch(line); m != nil {
			res.Symbols = append(res.Symbols, model.Symbol{
				SymbolID:  symbolID(path, model.KindFunction, m[1], lineNo),
				Path:      path,
				Name:      m[1],
				NameLower: strings.ToLower(m[1]),
				Kind:      model.KindFunction,
				Line:      lineNo,
				EndLine:   lineNo,
			})
		}
	}

	return res, nil
}
