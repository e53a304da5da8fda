package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/toolrouter/internal/core/catalog"
)

func sampleTool(id string) catalog.ToolCard {
	return catalog.ToolCard{
		ToolID:      id,
		ToolName:    "post_message",
		ServerID:    "slack",
		Title:       "Post Message",
		Description: "Send a message to a Slack channel",
		Tags:        []string{"slack", "chat"},
		Synonyms:    []string{"send message"},
		Args: []catalog.Arg{
			{Name: "channel", Description: "target channel"},
		},
		Examples: []catalog.Example{
			{Query: "post to #general"},
		},
		SideEffect: catalog.SideEffectWrite,
	}
}

func TestUpsertTools_AssignsVersionAndDocs(t *testing.T) {
	c := catalog.New()
	initial := c.GetSnapshot().Version

	n, err := c.UpsertTools([]catalog.ToolCard{sampleTool("slack.post_message")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap := c.GetSnapshot()
	assert.Greater(t, snap.Version, initial)
	assert.Contains(t, snap.Tools, "slack.post_message")
	assert.Contains(t, snap.Docs, "slack.post_message")
	assert.Equal(t, "post_message", snap.Docs["slack.post_message"].Name)
	assert.Equal(t, "channel", snap.Docs["slack.post_message"].ArgNames)
}

func TestUpsertTools_MissingToolIDFails(t *testing.T) {
	c := catalog.New()
	_, err := c.UpsertTools([]catalog.ToolCard{{ToolName: "x"}})
	assert.ErrorIs(t, err, catalog.ErrMissingToolID)
}

func TestUpsertTools_NoOpDoesNotBumpVersion(t *testing.T) {
	c := catalog.New()
	_, err := c.UpsertTools([]catalog.ToolCard{sampleTool("a")})
	require.NoError(t, err)
	v1 := c.GetSnapshot().Version

	n, err := c.UpsertTools([]catalog.ToolCard{sampleTool("a")})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, v1, c.GetSnapshot().Version)
}

func TestUpsertTools_EmptyDoesNotBumpVersion(t *testing.T) {
	c := catalog.New()
	v0 := c.GetSnapshot().Version

	n, err := c.UpsertTools(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, v0, c.GetSnapshot().Version)
}

func TestRemoveTools_EmptyOrMissingDoesNotBumpVersion(t *testing.T) {
	c := catalog.New()
	v0 := c.GetSnapshot().Version

	removed := c.RemoveTools(nil)
	assert.Equal(t, 0, removed)
	assert.Equal(t, v0, c.GetSnapshot().Version)

	removed = c.RemoveTools([]string{"does.not.exist"})
	assert.Equal(t, 0, removed)
	assert.Equal(t, v0, c.GetSnapshot().Version)
}

func TestRemoveTools_RemovesFromBothMaps(t *testing.T) {
	c := catalog.New()
	_, err := c.UpsertTools([]catalog.ToolCard{sampleTool("a"), sampleTool("b")})
	require.NoError(t, err)

	removed := c.RemoveTools([]string{"a"})
	assert.Equal(t, 1, removed)

	snap := c.GetSnapshot()
	assert.NotContains(t, snap.Tools, "a")
	assert.NotContains(t, snap.Docs, "a")
	assert.Contains(t, snap.Tools, "b")
}

func TestReset_OnEmptyStoreDoesNotBumpVersion(t *testing.T) {
	c := catalog.New()
	v0 := c.GetSnapshot().Version
	c.Reset()
	assert.Equal(t, v0, c.GetSnapshot().Version)
}

func TestReset_ClearsStoreAndBumpsVersion(t *testing.T) {
	c := catalog.New()
	_, err := c.UpsertTools([]catalog.ToolCard{sampleTool("a")})
	require.NoError(t, err)
	v1 := c.GetSnapshot().Version

	c.Reset()
	snap := c.GetSnapshot()
	assert.Greater(t, snap.Version, v1)
	assert.Empty(t, snap.Tools)
	assert.Empty(t, snap.Docs)
}

func TestStats_ToolsAlwaysMatchesIndexSize(t *testing.T) {
	c := catalog.New()
	assert.Equal(t, c.Stats().Tools, c.Stats().IndexSize)

	_, err := c.UpsertTools([]catalog.ToolCard{sampleTool("a"), sampleTool("b")})
	require.NoError(t, err)
	stats := c.Stats()
	assert.Equal(t, 2, stats.Tools)
	assert.Equal(t, stats.Tools, stats.IndexSize)

	c.RemoveTools([]string{"a"})
	stats = c.Stats()
	assert.Equal(t, 1, stats.Tools)
	assert.Equal(t, stats.Tools, stats.IndexSize)
}

func TestGetSnapshot_ToolsAndDocsKeysAlwaysMatch(t *testing.T) {
	c := catalog.New()
	_, err := c.UpsertTools([]catalog.ToolCard{sampleTool("a"), sampleTool("b"), sampleTool("c")})
	require.NoError(t, err)
	c.RemoveTools([]string{"b"})

	snap := c.GetSnapshot()
	require.Equal(t, len(snap.Tools), len(snap.Docs))
	for id := range snap.Tools {
		_, ok := snap.Docs[id]
		assert.True(t, ok, "doc missing for tool %s", id)
	}
}

func TestGetTool_NotFound(t *testing.T) {
	c := catalog.New()
	_, err := c.GetTool("nope")
	assert.ErrorIs(t, err, catalog.ErrToolNotFound)
}

func TestGetTool_Found(t *testing.T) {
	c := catalog.New()
	_, err := c.UpsertTools([]catalog.ToolCard{sampleTool("a")})
	require.NoError(t, err)

	tool, err := c.GetTool("a")
	require.NoError(t, err)
	assert.Equal(t, "post_message", tool.ToolName)
}

func TestSnapshot_IsImmutableUnderLaterMutation(t *testing.T) {
	c := catalog.New()
	_, err := c.UpsertTools([]catalog.ToolCard{sampleTool("a")})
	require.NoError(t, err)

	snap := c.GetSnapshot()
	_, err = c.UpsertTools([]catalog.ToolCard{sampleTool("b")})
	require.NoError(t, err)

	assert.NotContains(t, snap.Tools, "b")
}

func TestDeriveSearchDoc_FallsBackToRawWhenTitleAndDescriptionBlank(t *testing.T) {
	c := catalog.New()
	card := catalog.ToolCard{
		ToolID:   "slack:search_messages",
		ToolName: "search_messages",
		ServerID: "slack",
		Raw:      []byte(`{"title":"Search Messages","description":"Full-text search over channel history"}`),
	}

	_, err := c.UpsertTools([]catalog.ToolCard{card})
	require.NoError(t, err)

	doc := c.GetSnapshot().Docs["slack:search_messages"]
	assert.Equal(t, "Search Messages", doc.Title)
	assert.Equal(t, "Full-text search over channel history", doc.Description)
}
