package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSplitsPhrasesAndTokens(t *testing.T) {
	q := Parse(`foo "bar baz" qux`, false)
	assert.Equal(t, []string{"bar baz"}, q.Phrases)
	assert.Equal(t, []string{"foo", "qux"}, q.Tokens)
	assert.False(t, q.SkipFTS)
}

func TestParseLowercasesAndCollapsesWhitespace(t *testing.T) {
	q := Parse("  FOO   Bar\tBaz ", false)
	assert.Equal(t, []string{"foo", "bar", "baz"}, q.Tokens)
}

func TestParseShortQuerySkipsFTS(t *testing.T) {
	q := Parse("ab", false)
	assert.True(t, q.SkipFTS)
}

func TestParseCJKQuerySkipsFTS(t *testing.T) {
	q := Parse("你好世界", false)
	assert.True(t, q.SkipFTS)
}

func TestParseRegexCompilesPattern(t *testing.T) {
	q := Parse(`foo.*bar`, true)
	assert.Empty(t, q.RegexErr)
	assert.NotNil(t, q.Pattern)
	assert.True(t, q.Pattern.MatchString("fooXXbar"))
}

func TestParseRegexInvalidPatternSetsError(t *testing.T) {
	q := Parse(`(unclosed`, true)
	assert.NotEmpty(t, q.RegexErr)
	assert.Nil(t, q.Pattern)
}

func TestFTSMatchExprANDsPhrasesAndTokens(t *testing.T) {
	q := Parse(`foo "bar baz"`, false)
	expr := q.FTSMatchExpr()
	assert.Equal(t, `"bar baz" AND "foo"`, expr)
}

func TestLikePatternEscapesWildcards(t *testing.T) {
	q := Parse("50%_off", false)
	assert.Equal(t, `%50\%\_off%`, q.LikePattern())
}

func TestLikePatternEmptyQueryMatchesAll(t *testing.T) {
	q := Query{}
	assert.Equal(t, "%", q.LikePattern())
}

func TestQueryEmpty(t *testing.T) {
	assert.True(t, Query{}.Empty())
	assert.False(t, Parse("x", false).Empty())
	assert.False(t, Query{UseRegex: true}.Empty())
}

func TestAllTermsOrdersPhrasesBeforeTokens(t *testing.T) {
	q := Parse(`foo "bar baz"`, false)
	assert.Equal(t, []string{"bar baz", "foo"}, q.AllTerms())
}
