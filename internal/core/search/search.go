// Package search implements the two query modes over a catalog
// snapshot: field-weighted BM25 and a regex scanner. Both are exposed
// behind a single Engine.Query method, dispatched by Mode — the same
// "one interface, two lexical strategies" shape as the teacher's
// relevance/API/tool-search dispatch in tool_discovery.go, and the
// polymorphic Searcher interface in jonwraymond-toolindex/index.go.
package search

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/compresr/toolrouter/internal/core/catalog"
	"github.com/compresr/toolrouter/internal/core/tokenize"
)

// Mode selects the query strategy.
type Mode string

const (
	ModeBM25  Mode = "bm25"
	ModeRegex Mode = "regex"
)

// Weights are the per-field BM25 weights, in the spec's default order.
type Weights struct {
	Name        float64
	Title       float64
	Synonyms    float64
	Description float64
	ArgNames    float64
	ArgDescs    float64
	Tags        float64
	Examples    float64
	ServerID    float64
}

// DefaultWeights returns the spec-pinned default field weights.
func DefaultWeights() Weights {
	return Weights{
		Name:        4.0,
		Title:       2.0,
		Synonyms:    2.5,
		Description: 1.8,
		ArgNames:    1.4,
		ArgDescs:    1.2,
		Tags:        1.2,
		Examples:    0.9,
		ServerID:    0.2,
	}
}

func (w Weights) forField(field string) float64 {
	switch field {
	case "name":
		return w.Name
	case "title":
		return w.Title
	case "synonyms":
		return w.Synonyms
	case "description":
		return w.Description
	case "argNames":
		return w.ArgNames
	case "argDescs":
		return w.ArgDescs
	case "tags":
		return w.Tags
	case "examples":
		return w.Examples
	case "serverId":
		return w.ServerID
	default:
		return 0
	}
}

// Params are the configurable BM25 parameters, all with spec defaults.
type Params struct {
	K1              float64
	B               float64
	ExactMatchBoost float64
	PrefixMatchBoost float64
	PopularityBoost float64
	MinScore        float64
	DefaultTopK     int
	Weights         Weights
}

// DefaultParams returns the spec-pinned default BM25 parameters.
func DefaultParams() Params {
	return Params{
		K1:               1.2,
		B:                0.75,
		ExactMatchBoost:  1.5,
		PrefixMatchBoost: 0.4,
		PopularityBoost:  0.05,
		MinScore:         0,
		DefaultTopK:      20,
		Weights:          DefaultWeights(),
	}
}

// Filters narrow the candidate set before scoring.
type Filters struct {
	ServerIDs   []string
	SideEffects []catalog.SideEffect
	Tags        []string
}

func (f Filters) empty() bool {
	return len(f.ServerIDs) == 0 && len(f.SideEffects) == 0 && len(f.Tags) == 0
}

func lowerSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[strings.ToLower(it)] = true
	}
	return set
}

func (f Filters) passes(doc catalog.ToolSearchDoc) bool {
	if len(f.ServerIDs) > 0 {
		set := lowerSet(f.ServerIDs)
		if !set[strings.ToLower(doc.ServerID)] {
			return false
		}
	}
	if len(f.SideEffects) > 0 {
		ok := false
		for _, se := range f.SideEffects {
			if se == doc.SideEffect {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Tags) > 0 {
		set := lowerSet(f.Tags)
		ok := false
		for _, t := range strings.Fields(doc.Tags) {
			if set[strings.ToLower(t)] {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Query is a single search request.
type Query struct {
	Text    string
	Mode    Mode
	TopK    *int
	Filters Filters
}

// Hit is a single ranked result.
type Hit struct {
	ToolID string  `json:"toolId"`
	Score  float64 `json:"score"`
}

// Candidates reports how many documents were considered.
type Candidates struct {
	Before int `json:"before"`
	After  int `json:"after"`
}

// Result is the outcome of a Query.
type Result struct {
	Hits       []Hit      `json:"hits"`
	Candidates Candidates `json:"candidates"`
}

// fieldIndex is the per-document, per-field term-frequency table used
// by BM25 scoring.
type fieldIndex struct {
	termFreq map[string]int
	length   int
}

// index is the rebuildable BM25 index over a catalog snapshot.
type index struct {
	version     uint64
	docFreq     map[string]int
	avgLen      map[string]float64
	docCount    int
	byTool      map[string]map[string]fieldIndex
	toolOrder   []string
}

// Engine answers search queries against a catalog, lazily rebuilding
// its BM25 index when the catalog's snapshot version advances — the
// fast-path-under-RLock / slow-path-rebuild-under-Lock structure
// mirrors InMemoryIndex.snapshotSearchDocs in jonwraymond-toolindex.
type Engine struct {
	cat    *catalog.Catalog
	params Params

	mu  sync.RWMutex
	idx *index
}

// New creates a search engine bound to a catalog, using the given
// BM25 parameters (defaults if zero-valued fields are acceptable,
// pass DefaultParams() otherwise).
func New(cat *catalog.Catalog, params Params) *Engine {
	return &Engine{cat: cat, params: params}
}

// ensureIndex returns a BM25 index current with the catalog's latest
// snapshot, rebuilding only when the version advanced.
func (e *Engine) ensureIndex() (*index, *catalog.Snapshot) {
	snap := e.cat.GetSnapshot()

	e.mu.RLock()
	if e.idx != nil && e.idx.version == snap.Version {
		idx := e.idx
		e.mu.RUnlock()
		return idx, snap
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.idx != nil && e.idx.version == snap.Version {
		return e.idx, snap
	}
	idx := buildIndex(snap)
	e.idx = idx
	return idx, snap
}

func buildIndex(snap *catalog.Snapshot) *index {
	idx := &index{
		version:  snap.Version,
		docFreq:  make(map[string]int),
		avgLen:   make(map[string]float64),
		byTool:   make(map[string]map[string]fieldIndex),
		toolOrder: make([]string, 0, len(snap.Docs)),
	}

	fieldLenSums := make(map[string]int)
	fieldDocCounts := make(map[string]int)

	for toolID, doc := range snap.Docs {
		idx.toolOrder = append(idx.toolOrder, toolID)
		fields := doc.Fields()
		perField := make(map[string]fieldIndex, len(fields))
		uniqueTokens := make(map[string]bool)

		for fieldName, text := range fields {
			counts, length := tokenize.TokenCounts(text, tokenize.Options{})
			perField[fieldName] = fieldIndex{termFreq: counts, length: length}
			fieldLenSums[fieldName] += length
			fieldDocCounts[fieldName]++
			for tok := range counts {
				uniqueTokens[tok] = true
			}
		}

		idx.byTool[toolID] = perField
		for tok := range uniqueTokens {
			idx.docFreq[tok]++
		}
	}

	idx.docCount = len(snap.Docs)
	for _, f := range catalog.FieldNames {
		if fieldDocCounts[f] == 0 {
			idx.avgLen[f] = 0
			continue
		}
		idx.avgLen[f] = float64(fieldLenSums[f]) / float64(fieldDocCounts[f])
	}

	sort.Strings(idx.toolOrder)
	return idx
}

// Query executes a search request against the current snapshot.
func (e *Engine) Query(q Query) (Result, error) {
	switch q.Mode {
	case ModeRegex:
		return e.queryRegex(q)
	default:
		return e.queryBM25(q)
	}
}

func (e *Engine) resolveTopK(q Query) int {
	if q.TopK != nil {
		return *q.TopK
	}
	if e.params.DefaultTopK > 0 {
		return e.params.DefaultTopK
	}
	return DefaultParams().DefaultTopK
}

func (e *Engine) queryBM25(q Query) (Result, error) {
	idx, snap := e.ensureIndex()
	params := e.params
	if params.Weights == (Weights{}) {
		params.Weights = DefaultWeights()
	}

	queryTokens := tokenize.Tokenize(q.Text, tokenize.Options{})
	queryCounts := make(map[string]int, len(queryTokens))
	for _, t := range queryTokens {
		queryCounts[t]++
	}

	before := idx.docCount
	type scored struct {
		toolID string
		score  float64
	}
	var candidates []scored

	normalizedQuery := tokenize.NormalizeForMatch(strings.TrimSpace(q.Text))

	for _, toolID := range idx.toolOrder {
		doc := snap.Docs[toolID]
		if !q.Filters.passes(doc) {
			continue
		}

		var score float64
		for token, qtf := range queryCounts {
			df := idx.docFreq[token]
			if df == 0 {
				continue
			}
			idf := math.Log(1 + (float64(idx.docCount)-float64(df)+0.5)/(float64(df)+0.5))
			qtfFactor := 1 + math.Log(float64(qtf))

			for _, field := range catalog.FieldNames {
				weight := params.Weights.forField(field)
				if weight == 0 {
					continue
				}
				fi := idx.byTool[toolID][field]
				tf := fi.termFreq[token]
				if tf == 0 {
					continue
				}
				avgLen := idx.avgLen[field]
				if avgLen == 0 {
					avgLen = 1
				}
				bm25tf := bm25TermFreq(float64(tf), float64(fi.length), avgLen, params.K1, params.B)
				score += weight * idf * qtfFactor * bm25tf
			}
		}

		if normalizedQuery != "" {
			normalizedName := tokenize.NormalizeForMatch(doc.Name)
			if normalizedQuery == normalizedName {
				score += params.ExactMatchBoost
			} else if strings.HasPrefix(normalizedName, normalizedQuery) {
				score += params.PrefixMatchBoost
			}
		}
		if doc.Popularity != nil {
			p := *doc.Popularity
			if p < 0 {
				p = 0
			}
			score += math.Log(1+p) * params.PopularityBoost
		}

		candidates = append(candidates, scored{toolID: toolID, score: score})
	}

	var after []scored
	for _, c := range candidates {
		if c.score > params.MinScore {
			after = append(after, c)
		}
	}

	sort.Slice(after, func(i, j int) bool {
		if after[i].score != after[j].score {
			return after[i].score > after[j].score
		}
		return after[i].toolID < after[j].toolID
	})

	topK := e.resolveTopK(q)
	hits := make([]Hit, 0)
	if topK > 0 {
		n := topK
		if n > len(after) {
			n = len(after)
		}
		for _, c := range after[:n] {
			hits = append(hits, Hit{ToolID: c.toolID, Score: c.score})
		}
	}

	return Result{
		Hits: hits,
		Candidates: Candidates{
			Before: before,
			After:  len(after),
		},
	}, nil
}

func bm25TermFreq(tf, length, avgLen, k1, b float64) float64 {
	if tf <= 0 {
		return 0
	}
	return tf * (k1 + 1) / (tf + k1*(1-b+b*length/avgLen))
}

func (e *Engine) queryRegex(q Query) (Result, error) {
	_, snap := e.ensureIndex()

	re, err := regexp.Compile("(?i)" + q.Text)
	if err != nil {
		re, err = regexp.Compile("(?i)" + regexp.QuoteMeta(q.Text))
		if err != nil {
			return Result{}, fmt.Errorf("search: regex compile failed for literal fallback: %w", err)
		}
	}

	before := 0
	type scored struct {
		toolID string
		score  float64
	}
	var matches []scored

	ids := make([]string, 0, len(snap.Docs))
	for id := range snap.Docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, toolID := range ids {
		doc := snap.Docs[toolID]
		if !q.Filters.passes(doc) {
			continue
		}
		before++

		var score float64
		matched := false
		if re.MatchString(doc.Name) {
			score += 2.0
			matched = true
		}
		if re.MatchString(doc.Title) {
			score += 1.5
			matched = true
		}
		if re.MatchString(doc.Description) {
			score += 1.0
			matched = true
		}
		if !matched {
			continue
		}
		matches = append(matches, scored{toolID: toolID, score: score})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].toolID < matches[j].toolID
	})

	topK := e.resolveTopK(q)
	hits := make([]Hit, 0)
	if topK > 0 {
		n := topK
		if n > len(matches) {
			n = len(matches)
		}
		for _, m := range matches[:n] {
			hits = append(hits, Hit{ToolID: m.toolID, Score: m.score})
		}
	}

	return Result{
		Hits: hits,
		Candidates: Candidates{
			Before: before,
			After:  len(matches),
		},
	}, nil
}

// Explain returns the per-field BM25 score contribution for a single
// query against a single tool, for operator debugging — not part of
// the original scoring path, wired into package rpc as search.explain.
type FieldContribution struct {
	Field               string  `json:"field"`
	Weight              float64 `json:"weight"`
	IDF                 float64 `json:"idf"`
	QueryTermFreqFactor float64 `json:"queryTermFreqFactor"`
	BM25Tf              float64 `json:"bm25Tf"`
	Contribution        float64 `json:"contribution"`
}

type Explanation struct {
	ToolID          string              `json:"toolId"`
	TotalScore      float64             `json:"totalScore"`
	Fields          []FieldContribution `json:"fields"`
	ExactBoost      float64             `json:"exactBoost,omitempty"`
	PrefixBoost     float64             `json:"prefixBoost,omitempty"`
	PopularityBoost float64             `json:"popularityBoost,omitempty"`
}

// Explain recomputes the BM25 score for one (query, toolId) pair,
// breaking the contribution down per field and per boost.
func (e *Engine) Explain(queryText, toolID string) (Explanation, error) {
	idx, snap := e.ensureIndex()
	params := e.params
	if params.Weights == (Weights{}) {
		params.Weights = DefaultWeights()
	}

	doc, ok := snap.Docs[toolID]
	if !ok {
		return Explanation{}, fmt.Errorf("search: unknown toolId %q", toolID)
	}

	queryTokens := tokenize.Tokenize(queryText, tokenize.Options{})
	queryCounts := make(map[string]int, len(queryTokens))
	for _, t := range queryTokens {
		queryCounts[t]++
	}

	exp := Explanation{ToolID: toolID}
	fieldContribs := make(map[string]*FieldContribution)

	for token, qtf := range queryCounts {
		df := idx.docFreq[token]
		if df == 0 {
			continue
		}
		idfVal := math.Log(1 + (float64(idx.docCount)-float64(df)+0.5)/(float64(df)+0.5))
		qtfFactor := 1 + math.Log(float64(qtf))

		for _, field := range catalog.FieldNames {
			weight := params.Weights.forField(field)
			if weight == 0 {
				continue
			}
			fi := idx.byTool[toolID][field]
			tf := fi.termFreq[token]
			if tf == 0 {
				continue
			}
			avgLen := idx.avgLen[field]
			if avgLen == 0 {
				avgLen = 1
			}
			bm25tf := bm25TermFreq(float64(tf), float64(fi.length), avgLen, params.K1, params.B)
			contribution := weight * idfVal * qtfFactor * bm25tf

			fc, ok := fieldContribs[field]
			if !ok {
				fc = &FieldContribution{Field: field, Weight: weight, IDF: idfVal, QueryTermFreqFactor: qtfFactor}
				fieldContribs[field] = fc
			}
			fc.BM25Tf += bm25tf
			fc.Contribution += contribution
			exp.TotalScore += contribution
		}
	}

	for _, field := range catalog.FieldNames {
		if fc, ok := fieldContribs[field]; ok {
			exp.Fields = append(exp.Fields, *fc)
		}
	}

	normalizedQuery := tokenize.NormalizeForMatch(strings.TrimSpace(queryText))
	if normalizedQuery != "" {
		normalizedName := tokenize.NormalizeForMatch(doc.Name)
		if normalizedQuery == normalizedName {
			exp.ExactBoost = params.ExactMatchBoost
			exp.TotalScore += exp.ExactBoost
		} else if strings.HasPrefix(normalizedName, normalizedQuery) {
			exp.PrefixBoost = params.PrefixMatchBoost
			exp.TotalScore += exp.PrefixBoost
		}
	}
	if doc.Popularity != nil {
		p := *doc.Popularity
		if p < 0 {
			p = 0
		}
		exp.PopularityBoost = math.Log(1+p) * params.PopularityBoost
		exp.TotalScore += exp.PopularityBoost
	}

	return exp, nil
}
