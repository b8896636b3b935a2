// Package search implements the Search/Ranking Engine (C11): query
// normalization, a layered retrieval fallback (external engine, SQL FTS,
// LIKE, regex), hybrid symbol/body merge, deterministic ranking, snippet
// generation, and the per-tool output caps.
package search

import (
	"regexp"
	"strings"
	"unicode"
)

// Query is a normalized, parsed search request.
type Query struct {
	Raw      string
	Phrases  []string // quoted substrings, order preserved
	Tokens   []string // bare, lowercased tokens
	SkipFTS  bool     // true for CJK or length<3 queries: go straight to LIKE
	UseRegex bool
	Pattern  *regexp.Regexp // set iff UseRegex and the pattern compiled
	RegexErr string         // set iff UseRegex and the pattern failed to compile
}

// Parse normalizes raw per the documented rules: NFKC-equivalent
// case-folding + whitespace collapse, quoted-phrase/bare-token split,
// and a CJK/short-query carve-out that skips FTS tokenization entirely.
//
// Unicode NFKC normalization itself has no stdlib equivalent and no
// normalization library is wired into this module (see DESIGN.md); this
// uses unicode.ToLower case-folding plus whitespace collapse, which
// covers the queries this tool actually sees (identifiers, paths,
// natural-language fragments) without pulling in a dependency only this
// one normalization step would exercise.
func Parse(raw string, useRegex bool) Query {
	q := Query{Raw: raw, UseRegex: useRegex}

	if useRegex {
		pat, err := regexp.Compile(raw)
		if err != nil {
			q.RegexErr = err.Error()
			return q
		}
		q.Pattern = pat
		return q
	}

	normalized := normalize(raw)
	q.Phrases, q.Tokens = splitPhrasesAndTokens(normalized)

	if isShortOrCJK(normalized) {
		q.SkipFTS = true
	}
	return q
}

func normalize(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
			}
			lastSpace = true
			continue
		}
		b.WriteRune(unicode.ToLower(r))
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

// splitPhrasesAndTokens pulls out "quoted phrases" and leaves the rest
// as bare whitespace-separated tokens.
func splitPhrasesAndTokens(s string) (phrases, tokens []string) {
	var rest strings.Builder
	inQuote := false
	var cur strings.Builder
	for _, r := range s {
		switch {
		case r == '"':
			if inQuote {
				if cur.Len() > 0 {
					phrases = append(phrases, cur.String())
				}
				cur.Reset()
			}
			inQuote = !inQuote
		case inQuote:
			cur.WriteRune(r)
		default:
			rest.WriteRune(r)
		}
	}
	for _, tok := range strings.Fields(rest.String()) {
		tokens = append(tokens, tok)
	}
	return phrases, tokens
}

// isShortOrCJK reports whether s should bypass FTS tokenization: it
// contains a CJK code point, or its stripped length is under 3.
func isShortOrCJK(s string) bool {
	stripped := strings.ReplaceAll(s, " ", "")
	if len([]rune(stripped)) < 3 {
		return true
	}
	for _, r := range s {
		if isCJK(r) {
			return true
		}
	}
	return false
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// FTSMatchExpr renders q as a conjunctive FTS5 MATCH expression: every
// phrase and token is ANDed together, matching the documented
// "AND between all terms" retrieval rule.
func (q Query) FTSMatchExpr() string {
	var parts []string
	for _, p := range q.Phrases {
		p = strings.ReplaceAll(p, `"`, `""`)
		parts = append(parts, `"`+p+`"`)
	}
	for _, t := range q.Tokens {
		t = strings.ReplaceAll(t, `"`, `""`)
		parts = append(parts, `"`+t+`"`)
	}
	return strings.Join(parts, " AND ")
}

// LikePattern renders q as a single `%term%`-escaped LIKE pattern over
// its first phrase or token — the LIKE path matches on one substring,
// not a conjunction.
func (q Query) LikePattern() string {
	term := q.primaryTerm()
	if term == "" {
		return "%"
	}
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
	return "%" + escaped + "%"
}

// primaryTerm is the first phrase, or else the first token, used by the
// single-substring LIKE and symbol-name lookups.
func (q Query) primaryTerm() string {
	if len(q.Phrases) > 0 {
		return q.Phrases[0]
	}
	if len(q.Tokens) > 0 {
		return q.Tokens[0]
	}
	return ""
}

// AllTerms returns every phrase and token, for highlighting and for
// symbol-name matching against each one.
func (q Query) AllTerms() []string {
	out := make([]string, 0, len(q.Phrases)+len(q.Tokens))
	out = append(out, q.Phrases...)
	out = append(out, q.Tokens...)
	return out
}

// Empty reports whether the query carries no terms to search for.
func (q Query) Empty() bool {
	return !q.UseRegex && len(q.Phrases) == 0 && len(q.Tokens) == 0
}
