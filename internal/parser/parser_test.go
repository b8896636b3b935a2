package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sariproject/sari/internal/model"
)

func TestRegistryDispatchesByExtension(t *testing.T) {
	r := NewDefault()
	assert.IsType(t, &pythonLanguage{}, r.ForPath("a/b.py"))
	assert.IsType(t, &braceLanguage{}, r.ForPath("a/b.java"))
	assert.IsType(t, &genericLanguage{}, r.ForPath("a/b.rb"))
}

func findSymbol(symbols []model.Symbol, name string) (model.Symbol, bool) {
	for _, s := range symbols {
		if s.Name == name {
			return s, true
		}
	}
	return model.Symbol{}, false
}

func TestBraceLanguageClassMethodAndCalls(t *testing.T) {
	src := `public class Greeter implements Runnable {
    public void run() {
        helper();
    }

    private void helper() {
        System.out.println("hi");
    }
}
`
	res, err := NewBraceLanguage().Parse("r/Greeter.java", src)
	require.NoError(t, err)

	class, ok := findSymbol(res.Symbols, "Greeter")
	require.True(t, ok)
	assert.Equal(t, model.KindClass, class.Kind)
	assert.Equal(t, 1, class.Line)
	assert.Equal(t, 9, class.EndLine)

	run, ok := findSymbol(res.Symbols, "run")
	require.True(t, ok)
	assert.Equal(t, model.KindMethod, run.Kind)

	var sawImplements, sawCall bool
	for _, rel := range res.Relations {
		if rel.RelType == model.RelationImplements && rel.ToSymbol == "Runnable" {
			sawImplements = true
		}
		if rel.RelType == model.RelationCalls && rel.FromSymbol == "run" && rel.ToSymbol == "helper" {
			sawCall = true
		}
	}
	assert.True(t, sawImplements, "implements clause should emit an implements relation")
	assert.True(t, sawCall, "call inside run() should be recorded")
}

func TestBraceLanguageUnclosedBlockPinnedToEOF(t *testing.T) {
	src := `class Broken {
    void run() {
`
	res, err := NewBraceLanguage().Parse("r/Broken.java", src)
	require.NoError(t, err)

	class, ok := findSymbol(res.Symbols, "Broken")
	require.True(t, ok)
	assert.Equal(t, 2, class.EndLine, "unclosed symbol closes at the last line of the file")
}

func TestBraceLanguagePendingExtendsAcrossLines(t *testing.T) {
	src := `class Wide
    extends Base1,
    Base2
{
}
`
	res, err := NewBraceLanguage().Parse("r/Wide.java", src)
	require.NoError(t, err)

	bases := map[string]bool{}
	for _, rel := range res.Relations {
		if rel.RelType == model.RelationExtends {
			bases[rel.ToSymbol] = true
		}
	}
	assert.True(t, bases["Base1"])
	assert.True(t, bases["Base2"])
}

func TestGenericLanguageFallback(t *testing.T) {
	src := "module Foo\n  def bar\n  end\nend\n"
	res, err := NewGenericLanguage().Parse("r/foo.rb", src)
	require.NoError(t, err)

	_, ok := findSymbol(res.Symbols, "Foo")
	assert.True(t, ok)
	_, ok = findSymbol(res.Symbols, "bar")
	assert.True(t, ok)
}

func TestPythonASTClassAndMethod(t *testing.T) {
	src := `class User:
    """A user."""
    def greet(self):
        return "hi"


def standalone():
    return 1
`
	res, err := NewPythonLanguage().Parse("r/models.py", src)
	require.NoError(t, err)

	class, ok := findSymbol(res.Symbols, "User")
	require.True(t, ok)
	assert.Equal(t, model.KindClass, class.Kind)
	assert.Equal(t, "A user.", class.Docstring)

	greet, ok := findSymbol(res.Symbols, "greet")
	require.True(t, ok)
	assert.Equal(t, model.KindMethod, greet.Kind)

	standalone, ok := findSymbol(res.Symbols, "standalone")
	require.True(t, ok)
	assert.Equal(t, model.KindFunction, standalone.Kind)
}

func TestPythonDecoratorsCaptureHTTPPath(t *testing.T) {
	src := `@app.route("/users")
def list_users():
    pass
`
	res, err := NewPythonLanguage().Parse("r/api.py", src)
	require.NoError(t, err)

	sym, ok := findSymbol(res.Symbols, "list_users")
	require.True(t, ok)
	assert.Contains(t, sym.MetadataJSON, `"http_path":"/users"`)
}

func TestPythonEmptySourceYieldsNoSymbols(t *testing.T) {
	// Empty source parses to an empty module (no fallback is involved):
	// an input with no declarations yields no symbols.
	res, err := NewPythonLanguage().Parse("r/empty.py", "")
	require.NoError(t, err)
	assert.Empty(t, res.Symbols)
}
