package search

import (
	"fmt"
	"strings"
)

const (
	defaultSnippetLines = 5
	maxSnippetLines     = 20
	maxSnippetLineChars = 120
	highlightOpen       = "«"
	highlightClose      = "»"
)

// Snippet builds the displayed excerpt for one hit: at most
// snippetLines lines (clamped to [1, 20], default 5) of at most ~120
// characters each, numbered "L<N>:", with every term in terms wrapped in
// highlight delimiters.
func Snippet(content string, terms []string, snippetLines int) string {
	if snippetLines <= 0 {
		snippetLines = defaultSnippetLines
	}
	if snippetLines > maxSnippetLines {
		snippetLines = maxSnippetLines
	}

	lines := strings.Split(content, "\n")
	start := firstMatchingLine(lines, terms)
	end := start + snippetLines
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		line := truncateLine(lines[i], maxSnippetLineChars)
		line = highlight(line, terms)
		fmt.Fprintf(&b, "L%d: %s\n", i+1, line)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// firstMatchingLine returns the 0-based index of the first line
// containing any term, or 0 if none match (the snippet then just opens
// at the top of the file).
func firstMatchingLine(lines []string, terms []string) int {
	if len(terms) == 0 {
		return 0
	}
	for i, line := range lines {
		lower := strings.ToLower(line)
		for _, t := range terms {
			if t != "" && strings.Contains(lower, strings.ToLower(t)) {
				return i
			}
		}
	}
	return 0
}

func truncateLine(line string, maxChars int) string {
	r := []rune(line)
	if len(r) <= maxChars {
		return line
	}
	return string(r[:maxChars]) + "…"
}

func highlight(line string, terms []string) string {
	for _, t := range terms {
		if t == "" {
			continue
		}
		line = caseInsensitiveWrap(line, t)
	}
	return line
}

// caseInsensitiveWrap wraps every occurrence of term in line with
// highlight delimiters, matching case-insensitively but preserving the
// original casing of the matched text.
func caseInsensitiveWrap(line, term string) string {
	lowerLine := strings.ToLower(line)
	lowerTerm := strings.ToLower(term)
	if lowerTerm == "" {
		return line
	}
	var b strings.Builder
	i := 0
	for {
		idx := strings.Index(lowerLine[i:], lowerTerm)
		if idx < 0 {
			b.WriteString(line[i:])
			break
		}
		abs := i + idx
		b.WriteString(line[i:abs])
		b.WriteString(highlightOpen)
		b.WriteString(line[abs : abs+len(term)])
		b.WriteString(highlightClose)
		i = abs + len(term)
	}
	return b.String()
}
