package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsManifestPath(t *testing.T) {
	assert.True(t, IsManifestPath("package.json"))
	assert.True(t, IsManifestPath("web/app/package.json"))
	assert.False(t, IsManifestPath("package.lock.json"))
}

func TestParseExtractsDescriptionAndKeywords(t *testing.T) {
	u := Parse(`{"name":"sari","description":"a search daemon","keywords":["search","daemon",""]}`)
	assert.Equal(t, "a search daemon", u.Description)
	assert.Equal(t, []string{"search", "daemon"}, u.Tags)
	assert.False(t, u.IsZero())
}

func TestParseMalformedYieldsZero(t *testing.T) {
	u := Parse("{not json")
	assert.True(t, u.IsZero())
}

func TestParseEmptyManifestYieldsZero(t *testing.T) {
	u := Parse(`{"name":"sari"}`)
	assert.True(t, u.IsZero())
}

func TestMergeReplacesDescriptionAndDedupesTags(t *testing.T) {
	desc, tags := Merge("old desc", []string{"Search", "cli"}, Update{
		Description: "new desc",
		Tags:        []string{"search", "daemon"},
	})
	assert.Equal(t, "new desc", desc)
	assert.Equal(t, []string{"Search", "cli", "daemon"}, tags)
}

func TestMergeKeepsExistingWhenUpdateEmpty(t *testing.T) {
	desc, tags := Merge("old desc", []string{"cli"}, Update{})
	assert.Equal(t, "old desc", desc)
	assert.Equal(t, []string{"cli"}, tags)
}
