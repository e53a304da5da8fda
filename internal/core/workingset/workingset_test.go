package workingset_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/toolrouter/internal/core/catalog"
	"github.com/compresr/toolrouter/internal/core/search"
	"github.com/compresr/toolrouter/internal/core/workingset"
)

type fakeSearcher struct {
	hits []search.Hit
	err  error
}

func (f fakeSearcher) Query(q search.Query) (search.Result, error) {
	if f.err != nil {
		return search.Result{}, f.err
	}
	return search.Result{Hits: f.hits, Candidates: search.Candidates{Before: len(f.hits), After: len(f.hits)}}, nil
}

func seedCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c := catalog.New()
	_, err := c.UpsertTools([]catalog.ToolCard{
		{ToolID: "a", ToolName: "alpha", Description: "alpha tool"},
		{ToolID: "b", ToolName: "beta", Description: "beta tool"},
		{ToolID: "c", ToolName: "gamma", Description: "gamma tool"},
	})
	require.NoError(t, err)
	return c
}

func clockAt(ms int64) workingset.Clock {
	return func() int64 { return ms }
}

func TestGet_CreatesEmptyStateWithDefaultBudget(t *testing.T) {
	c := seedCatalog(t)
	cfg := workingset.DefaultConfig()
	m := workingset.New(c, fakeSearcher{}, cfg, clockAt(1000))

	state := m.Get("s1")
	assert.Equal(t, "s1", state.SessionID)
	assert.Empty(t, state.Entries)
	assert.Equal(t, cfg.DefaultBudgetTokens, state.BudgetTokens)
}

func TestGet_ReturnsDefensiveCopy(t *testing.T) {
	c := seedCatalog(t)
	m := workingset.New(c, fakeSearcher{}, workingset.DefaultConfig(), clockAt(1000))

	_, err := m.Update(workingset.UpdateInput{SessionID: "s1", BudgetTokens: 1000, Pin: []string{"a"}})
	require.NoError(t, err)

	state := m.Get("s1")
	state.Entries["a"] = workingset.Entry{ToolID: "mutated"}

	state2 := m.Get("s1")
	assert.NotEqual(t, "mutated", state2.Entries["a"].ToolID)
}

func TestUpdate_PinCreatesEntry(t *testing.T) {
	c := seedCatalog(t)
	m := workingset.New(c, fakeSearcher{}, workingset.DefaultConfig(), clockAt(1000))

	res, err := m.Update(workingset.UpdateInput{SessionID: "s1", BudgetTokens: 1000, Pin: []string{"a"}})
	require.NoError(t, err)
	assert.Contains(t, res.SelectedToolIDs, "a")
	assert.Contains(t, res.AddedToolIDs, "a")
}

func TestUpdate_UnpinDoesNotRemove(t *testing.T) {
	c := seedCatalog(t)
	m := workingset.New(c, fakeSearcher{}, workingset.DefaultConfig(), clockAt(1000))

	_, err := m.Update(workingset.UpdateInput{SessionID: "s1", BudgetTokens: 1000, Pin: []string{"a"}})
	require.NoError(t, err)
	res, err := m.Update(workingset.UpdateInput{SessionID: "s1", BudgetTokens: 1000, Unpin: []string{"a"}})
	require.NoError(t, err)
	assert.Contains(t, res.SelectedToolIDs, "a")
}

func TestUpdate_ExpiresByTTL(t *testing.T) {
	c := seedCatalog(t)
	cfg := workingset.DefaultConfig()
	cfg.DefaultTTLMs = 100

	clockVal := int64(1000)
	clock := func() int64 { return clockVal }
	m := workingset.New(c, fakeSearcher{}, cfg, clock)

	_, err := m.Update(workingset.UpdateInput{SessionID: "ttl", BudgetTokens: 1000, Pin: []string{"a"}})
	require.NoError(t, err)
	_, err = m.Update(workingset.UpdateInput{SessionID: "ttl", BudgetTokens: 1000, Unpin: []string{"a"}})
	require.NoError(t, err)

	clockVal = 1000 + cfg.DefaultTTLMs + 1
	res, err := m.Update(workingset.UpdateInput{SessionID: "ttl", BudgetTokens: 1000})
	require.NoError(t, err)
	assert.Contains(t, res.RemovedToolIDs, "a")
	assert.NotContains(t, res.SelectedToolIDs, "a")
}

func TestUpdate_SearchHitsCreateEntries(t *testing.T) {
	c := seedCatalog(t)
	searcher := fakeSearcher{hits: []search.Hit{{ToolID: "b", Score: 5}}}
	m := workingset.New(c, searcher, workingset.DefaultConfig(), clockAt(1000))

	res, err := m.Update(workingset.UpdateInput{SessionID: "s1", BudgetTokens: 1000, Query: "beta"})
	require.NoError(t, err)
	assert.Contains(t, res.SelectedToolIDs, "b")
}

func TestUpdate_MaxEntriesCapEvictsLowestRank(t *testing.T) {
	c := seedCatalog(t)
	cfg := workingset.DefaultConfig()
	cfg.MaxEntries = 1
	m := workingset.New(c, fakeSearcher{}, cfg, clockAt(1000))

	res, err := m.Update(workingset.UpdateInput{SessionID: "s1", BudgetTokens: 10000, Pin: []string{"a"}})
	require.NoError(t, err)
	assert.Contains(t, res.SelectedToolIDs, "a")

	searcher := fakeSearcher{hits: []search.Hit{{ToolID: "b", Score: 5}}}
	m2 := workingset.New(c, searcher, cfg, clockAt(1001))
	res2, err := m2.Update(workingset.UpdateInput{SessionID: "s1", BudgetTokens: 10000, Pin: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res2.SelectedToolIDs)
	assert.Equal(t, []string{"b"}, res2.RemovedToolIDs)
	assert.Equal(t, []string{"a"}, res2.AddedToolIDs)
}

func TestUpdate_BudgetEnforcementEvictsNonPinnedOnly(t *testing.T) {
	c := seedCatalog(t)
	cfg := workingset.DefaultConfig()
	m := workingset.New(c, fakeSearcher{}, cfg, clockAt(1000))

	res, err := m.Update(workingset.UpdateInput{SessionID: "s1", BudgetTokens: 1, Pin: []string{"a"}})
	require.NoError(t, err)
	assert.Contains(t, res.SelectedToolIDs, "a")
	assert.Greater(t, res.BudgetUsed, res.BudgetTotal)
}

func TestUpdate_UsedTokensEqualsSumOfEntries(t *testing.T) {
	c := seedCatalog(t)
	m := workingset.New(c, fakeSearcher{}, workingset.DefaultConfig(), clockAt(1000))

	res, err := m.Update(workingset.UpdateInput{SessionID: "s1", BudgetTokens: 10000, Pin: []string{"a", "b"}})
	require.NoError(t, err)

	state := m.Get("s1")
	sum := 0
	for _, e := range state.Entries {
		sum += e.TokenCost
	}
	assert.Equal(t, sum, res.BudgetUsed)
}

func TestMarkUsed_CreatesEntryIfAbsent(t *testing.T) {
	c := seedCatalog(t)
	m := workingset.New(c, fakeSearcher{}, workingset.DefaultConfig(), clockAt(1000))

	m.MarkUsed("s1", "a")
	state := m.Get("s1")
	require.Contains(t, state.Entries, "a")
	assert.Equal(t, int64(1000), state.Entries["a"].LastUsedAt)
}

func TestReset_ClearsSession(t *testing.T) {
	c := seedCatalog(t)
	m := workingset.New(c, fakeSearcher{}, workingset.DefaultConfig(), clockAt(1000))

	_, err := m.Update(workingset.UpdateInput{SessionID: "s1", BudgetTokens: 1000, Pin: []string{"a"}})
	require.NoError(t, err)
	m.Reset("s1")

	state := m.Get("s1")
	assert.Empty(t, state.Entries)
}

func TestEstimateToolTokens_UnknownToolUsesDefault(t *testing.T) {
	c := seedCatalog(t)
	cfg := workingset.DefaultConfig()
	m := workingset.New(c, fakeSearcher{}, cfg, clockAt(1000))

	assert.Equal(t, cfg.UnknownToolTokens, m.EstimateToolTokens("does-not-exist"))
}

func TestEstimateToolTokens_FloorIsEight(t *testing.T) {
	c := catalog.New()
	_, err := c.UpsertTools([]catalog.ToolCard{{ToolID: "x", ToolName: "x"}})
	require.NoError(t, err)
	m := workingset.New(c, fakeSearcher{}, workingset.DefaultConfig(), clockAt(1000))

	assert.GreaterOrEqual(t, m.EstimateToolTokens("x"), 8)
}
