package search_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/toolrouter/internal/core/catalog"
	"github.com/compresr/toolrouter/internal/core/search"
)

func seedCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c := catalog.New()
	_, err := c.UpsertTools([]catalog.ToolCard{
		{
			ToolID:      "slack:post_message",
			ToolName:    "post_message",
			ServerID:    "slack",
			Title:       "Post a message",
			Description: "Send a message to a Slack channel",
			Tags:        []string{"chat"},
		},
		{
			ToolID:      "slack:search_messages",
			ToolName:    "search_messages",
			ServerID:    "slack",
			Title:       "Search messages",
			Description: "Search messages across channels",
			Tags:        []string{"search"},
		},
		{
			ToolID:      "other:ping",
			ToolName:    "ping",
			ServerID:    "other",
			Title:       "Ping",
			Description: "Health check",
		},
	})
	require.NoError(t, err)
	return c
}

func topK(n int) *int { return &n }

func TestBM25_ExactNameBoostWins(t *testing.T) {
	c := seedCatalog(t)
	e := search.New(c, search.DefaultParams())

	res, err := e.Query(search.Query{Text: "post_message", TopK: topK(2)})
	require.NoError(t, err)
	require.NotEmpty(t, res.Hits)
	assert.Equal(t, "slack:post_message", res.Hits[0].ToolID)

	if len(res.Hits) > 1 {
		margin := res.Hits[0].Score - res.Hits[1].Score
		assert.GreaterOrEqual(t, margin, 1.1)
	}
}

func TestBM25_FilterByServerID(t *testing.T) {
	c := seedCatalog(t)
	e := search.New(c, search.DefaultParams())

	res, err := e.Query(search.Query{
		Text:    "message",
		TopK:    topK(10),
		Filters: search.Filters{ServerIDs: []string{"other"}},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Equal(t, 3, res.Candidates.Before)
	assert.Equal(t, 0, res.Candidates.After)
}

func TestBM25_TopKZeroReturnsEmptyButReportsCandidates(t *testing.T) {
	c := seedCatalog(t)
	e := search.New(c, search.DefaultParams())

	res, err := e.Query(search.Query{Text: "message", TopK: topK(0)})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Greater(t, res.Candidates.After, 0)
}

func TestBM25_StableAcrossRepeatedQueries(t *testing.T) {
	c := seedCatalog(t)
	e := search.New(c, search.DefaultParams())

	q := search.Query{Text: "message", TopK: topK(10)}
	r1, err := e.Query(q)
	require.NoError(t, err)
	r2, err := e.Query(q)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}

func TestBM25_TieBreakByToolIDAscending(t *testing.T) {
	c := catalog.New()
	_, err := c.UpsertTools([]catalog.ToolCard{
		{ToolID: "b:tool", ToolName: "alpha", Description: "alpha"},
		{ToolID: "a:tool", ToolName: "alpha", Description: "alpha"},
	})
	require.NoError(t, err)
	e := search.New(c, search.DefaultParams())

	res, err := e.Query(search.Query{Text: "alpha", TopK: topK(10)})
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, "a:tool", res.Hits[0].ToolID)
	assert.Equal(t, "b:tool", res.Hits[1].ToolID)
}

func TestRegex_FallsBackToLiteralOnInvalidPattern(t *testing.T) {
	c := seedCatalog(t)
	e := search.New(c, search.DefaultParams())

	res, err := e.Query(search.Query{Text: "post(", Mode: search.ModeRegex, TopK: topK(10)})
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestRegex_MatchesAcrossNameTitleDescription(t *testing.T) {
	c := seedCatalog(t)
	e := search.New(c, search.DefaultParams())

	res, err := e.Query(search.Query{Text: "^search", Mode: search.ModeRegex, TopK: topK(10)})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "slack:search_messages", res.Hits[0].ToolID)
}

func TestExplain_SumsToTotalScore(t *testing.T) {
	c := seedCatalog(t)
	e := search.New(c, search.DefaultParams())

	exp, err := e.Explain("post_message", "slack:post_message")
	require.NoError(t, err)
	assert.Greater(t, exp.TotalScore, 0.0)
	assert.Equal(t, exp.ExactBoost, search.DefaultParams().ExactMatchBoost)

	sum := exp.ExactBoost + exp.PrefixBoost + exp.PopularityBoost
	for _, f := range exp.Fields {
		sum += f.Contribution
	}
	assert.InDelta(t, exp.TotalScore, sum, 1e-9)
}

func TestExplain_UnknownToolIDErrors(t *testing.T) {
	c := seedCatalog(t)
	e := search.New(c, search.DefaultParams())

	_, err := e.Explain("x", "does-not-exist")
	assert.Error(t, err)
}
