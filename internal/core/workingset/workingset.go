// Package workingset implements the per-session working-set policy:
// pinning, TTL expiry, search-driven selection, a max-entries cap, and
// token-budget enforcement with a deterministic eviction order.
//
// DESIGN: grounded directly on the teacher's ToolSessionStore
// (internal/gateway/tool_session.go) — a sync.RWMutex-guarded map
// keyed by sessionId, lazy per-session creation, defensive copies
// returned to callers. The working set generalizes the teacher's
// binary deferred/expanded split into the full pinned/TTL/budget/LRU
// policy below, but keeps the same "never leak across sessions, never
// mutate what you hand back" discipline.
package workingset

import (
	"sort"
	"sync"

	"github.com/compresr/toolrouter/internal/core/catalog"
	"github.com/compresr/toolrouter/internal/core/search"
)

// Clock returns the current time as milliseconds since the epoch.
// Injected for testability — see the teacher's own preference for
// injecting collaborators rather than calling time.Now() inline.
type Clock func() int64

// Searcher is the minimal capability the working set needs from the
// search engine: query in, ranked hits out. Satisfied by
// *search.Engine; kept as an interface so tests can substitute a
// stub without standing up a catalog.
type Searcher interface {
	Query(q search.Query) (search.Result, error)
}

// TokenCounter is an advisory, non-budget-affecting precise token
// counter. Budget enforcement always uses the spec-pinned heuristic;
// a TokenCounter, when configured, only annotates Get results with a
// preciseTokenEstimate field for operator comparison.
type TokenCounter interface {
	Count(text string) (int, error)
}

// Config carries the tunables the spec leaves to the operator.
type Config struct {
	DefaultBudgetTokens int
	DefaultTTLMs        int64
	MaxEntries          int // 0 means unlimited
	UnknownToolTokens   int // default token cost for an unrecognized toolId
}

// DefaultConfig returns reasonable defaults for an unconfigured router.
func DefaultConfig() Config {
	return Config{
		DefaultBudgetTokens: 4000,
		DefaultTTLMs:        15 * 60 * 1000,
		MaxEntries:          50,
		UnknownToolTokens:   120,
	}
}

// Entry is one tool's standing in a session's working set.
type Entry struct {
	ToolID         string  `json:"toolId"`
	Pinned         bool    `json:"pinned"`
	LastSelectedAt int64   `json:"lastSelectedAt"`
	LastUsedAt     int64   `json:"lastUsedAt"`
	ScoreHint      float64 `json:"scoreHint,omitempty"`
	TokenCost      int     `json:"tokenCost"`
	TTLMs          int64   `json:"ttlMs,omitempty"`
}

// State is a per-session snapshot handed back to callers. It is
// always a defensive copy — mutating it never affects stored state.
type State struct {
	SessionID            string           `json:"sessionId"`
	Entries              map[string]Entry `json:"entries"`
	BudgetTokens         int              `json:"budgetTokens"`
	UsedTokens           int              `json:"usedTokens"`
	PreciseTokenEstimate *int             `json:"preciseTokenEstimate,omitempty"`
}

type session struct {
	entries      map[string]*Entry
	budgetTokens int
}

// Manager owns all per-session working-set state.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session
	cfg      Config
	clock    Clock
	search   Searcher
	cat      *catalog.Catalog
	counter  TokenCounter
}

// New creates a working-set manager bound to a catalog and search
// engine. clock defaults to a wall-clock-milliseconds source if nil.
func New(cat *catalog.Catalog, searcher Searcher, cfg Config, clock Clock) *Manager {
	if clock == nil {
		clock = defaultClock
	}
	return &Manager{
		sessions: make(map[string]*session),
		cfg:      cfg,
		clock:    clock,
		search:   searcher,
		cat:      cat,
	}
}

// WithTokenCounter attaches an advisory precise token counter.
func (m *Manager) WithTokenCounter(c TokenCounter) *Manager {
	m.counter = c
	return m
}

func defaultClock() int64 {
	return nowMillis()
}

func (m *Manager) resolveLocked(sessionID string) *session {
	s, ok := m.sessions[sessionID]
	if !ok {
		s = &session{
			entries:      make(map[string]*Entry),
			budgetTokens: m.cfg.DefaultBudgetTokens,
		}
		m.sessions[sessionID] = s
	}
	return s
}

func copyState(sessionID string, s *session) State {
	entries := make(map[string]Entry, len(s.entries))
	used := 0
	for id, e := range s.entries {
		entries[id] = *e
		used += e.TokenCost
	}
	return State{
		SessionID:    sessionID,
		Entries:      entries,
		BudgetTokens: s.budgetTokens,
		UsedTokens:   used,
	}
}

// Get returns a defensive copy of a session's state, creating an
// empty one on first access.
func (m *Manager) Get(sessionID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.resolveLocked(sessionID)
	state := copyState(sessionID, s)
	m.attachPrecise(&state)
	return state
}

func (m *Manager) attachPrecise(state *State) {
	if m.counter == nil {
		return
	}
	var text string
	for id := range state.Entries {
		text += id + " "
	}
	if n, err := m.counter.Count(text); err == nil {
		state.PreciseTokenEstimate = &n
	}
}

// EstimateToolTokens implements the spec's token-cost-estimate
// formula: concatenate the tool's identifying/textual fields, compute
// ceil(utf8ByteLength/4), add 12 for serialization overhead, floor the
// sum at 8. Unknown toolIds receive cfg.UnknownToolTokens.
func (m *Manager) EstimateToolTokens(toolID string) int {
	tool, err := m.cat.GetTool(toolID)
	if err != nil {
		return m.cfg.UnknownToolTokens
	}
	return estimateToolTokens(tool)
}

func estimateToolTokens(t catalog.ToolCard) int {
	var parts []string
	parts = append(parts, t.ToolID, t.ToolName, t.Title, t.Description)
	parts = append(parts, t.Tags...)
	parts = append(parts, t.Synonyms...)
	for _, a := range t.Args {
		parts = append(parts, a.Name, a.Description)
	}
	for _, ex := range t.Examples {
		parts = append(parts, ex.Query, ex.CallHint)
	}
	parts = append(parts, t.AuthHint...)
	parts = append(parts, string(t.EffectiveSideEffect()), string(t.CostHint))

	joined := joinNonEmpty(parts, " ")
	byteLen := len([]byte(joined))
	estimate := ceilDiv(byteLen, 4)
	cost := estimate + 12
	if cost < 8 {
		cost = 8
	}
	return cost
}

func joinNonEmpty(parts []string, sep string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	s := ""
	for i, p := range out {
		if i > 0 {
			s += sep
		}
		s += p
	}
	return s
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// UpdateInput is the input to Update.
type UpdateInput struct {
	SessionID    string
	Query        string
	BudgetTokens int
	TopK         *int
	Pin          []string
	Unpin        []string
	Mode         search.Mode
}

// UpdateResult is the outcome of Update.
type UpdateResult struct {
	SelectedToolIDs []string `json:"selectedToolIds"`
	AddedToolIDs    []string `json:"addedToolIds"`
	RemovedToolIDs  []string `json:"removedToolIds"`
	BudgetUsed      int      `json:"budgetUsed"`
	BudgetTotal     int      `json:"budgetTotal"`
}

// Update runs the nine-step working-set algorithm described in the
// component design: resolve session, apply pins, apply unpins, expire
// by TTL, query the search engine, enforce the max-entries cap,
// enforce the budget, compute selection order, finalize.
func (m *Manager) Update(in UpdateInput) (UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	s := m.resolveLocked(in.SessionID)
	s.budgetTokens = in.BudgetTokens

	added := make(map[string]bool)
	removed := make(map[string]bool)

	// 2. Apply pins.
	for _, id := range in.Pin {
		if e, ok := s.entries[id]; ok {
			e.Pinned = true
			e.LastSelectedAt = now
			continue
		}
		e := &Entry{
			ToolID:         id,
			Pinned:         true,
			LastSelectedAt: now,
			LastUsedAt:     0,
			TokenCost:      m.estimateToolTokensLocked(id),
			TTLMs:          m.cfg.DefaultTTLMs,
		}
		s.entries[id] = e
		added[id] = true
	}

	// 3. Apply unpins.
	for _, id := range in.Unpin {
		if e, ok := s.entries[id]; ok {
			e.Pinned = false
		}
	}

	// 4. Expire by TTL.
	for id, e := range s.entries {
		if e.Pinned || e.TTLMs <= 0 {
			continue
		}
		last := e.LastUsedAt
		if e.LastSelectedAt > last {
			last = e.LastSelectedAt
		}
		if now-last > e.TTLMs {
			delete(s.entries, id)
			removed[id] = true
		}
	}

	// 5. Query the search engine (no filters at this layer).
	if m.search != nil {
		result, err := m.search.Query(search.Query{Text: in.Query, Mode: in.Mode, TopK: in.TopK})
		if err != nil {
			return UpdateResult{}, err
		}
		for _, hit := range result.Hits {
			if e, ok := s.entries[hit.ToolID]; ok {
				e.LastSelectedAt = now
				e.ScoreHint = hit.Score
				continue
			}
			e := &Entry{
				ToolID:         hit.ToolID,
				Pinned:         false,
				LastSelectedAt: now,
				LastUsedAt:     0,
				ScoreHint:      hit.Score,
				TokenCost:      m.estimateToolTokensLocked(hit.ToolID),
				TTLMs:          m.cfg.DefaultTTLMs,
			}
			s.entries[hit.ToolID] = e
			added[hit.ToolID] = true
		}
	}

	// 6. Enforce max-entries cap.
	if m.cfg.MaxEntries > 0 {
		for len(s.entries) > m.cfg.MaxEntries {
			victim := lowestRankEvictionCandidate(s.entries)
			if victim == "" {
				break
			}
			delete(s.entries, victim)
			removed[victim] = true
		}
	}

	// 7. Enforce budget.
	used := sumTokenCost(s.entries)
	for used > s.budgetTokens {
		victim := lowestRankEvictionCandidate(s.entries)
		if victim == "" {
			break
		}
		used -= s.entries[victim].TokenCost
		delete(s.entries, victim)
		removed[victim] = true
	}

	// 8. Compute selectedToolIds in selection order.
	selected := selectionOrder(s.entries)

	// 9. Finalize.
	addedIDs := make([]string, 0, len(added))
	for id := range added {
		if removed[id] {
			continue
		}
		addedIDs = append(addedIDs, id)
	}
	removedIDs := make([]string, 0, len(removed))
	for id := range removed {
		removedIDs = append(removedIDs, id)
	}
	sort.Strings(addedIDs)
	sort.Strings(removedIDs)

	return UpdateResult{
		SelectedToolIDs: selected,
		AddedToolIDs:    addedIDs,
		RemovedToolIDs:  removedIDs,
		BudgetUsed:      used,
		BudgetTotal:     s.budgetTokens,
	}, nil
}

func (m *Manager) estimateToolTokensLocked(toolID string) int {
	tool, err := m.cat.GetTool(toolID)
	if err != nil {
		return m.cfg.UnknownToolTokens
	}
	return estimateToolTokens(tool)
}

func sumTokenCost(entries map[string]*Entry) int {
	total := 0
	for _, e := range entries {
		total += e.TokenCost
	}
	return total
}

// lowestRankEvictionCandidate returns the non-pinned entry with the
// lowest eviction-candidate rank: lastSelectedAt asc, lastUsedAt asc,
// scoreHint asc, toolId asc. Returns "" if no evictable entry exists.
func lowestRankEvictionCandidate(entries map[string]*Entry) string {
	var best *Entry
	for _, e := range entries {
		if e.Pinned {
			continue
		}
		if best == nil || evictionLess(e, best) {
			best = e
		}
	}
	if best == nil {
		return ""
	}
	return best.ToolID
}

func evictionLess(a, b *Entry) bool {
	if a.LastSelectedAt != b.LastSelectedAt {
		return a.LastSelectedAt < b.LastSelectedAt
	}
	if a.LastUsedAt != b.LastUsedAt {
		return a.LastUsedAt < b.LastUsedAt
	}
	if a.ScoreHint != b.ScoreHint {
		return a.ScoreHint < b.ScoreHint
	}
	return a.ToolID < b.ToolID
}

// selectionOrder sorts entries for the caller-facing selectedToolIds
// list: pinned first, then lastSelectedAt desc, lastUsedAt desc,
// scoreHint desc, toolId asc.
func selectionOrder(entries map[string]*Entry) []string {
	list := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if a.LastSelectedAt != b.LastSelectedAt {
			return a.LastSelectedAt > b.LastSelectedAt
		}
		if a.LastUsedAt != b.LastUsedAt {
			return a.LastUsedAt > b.LastUsedAt
		}
		if a.ScoreHint != b.ScoreHint {
			return a.ScoreHint > b.ScoreHint
		}
		return a.ToolID < b.ToolID
	})
	ids := make([]string, len(list))
	for i, e := range list {
		ids[i] = e.ToolID
	}
	return ids
}

// MarkUsed sets lastUsedAt and lastSelectedAt to now for toolId,
// creating a non-pinned entry if absent. Does not re-run eviction or
// budget enforcement.
func (m *Manager) MarkUsed(sessionID, toolID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	s := m.resolveLocked(sessionID)
	if e, ok := s.entries[toolID]; ok {
		e.LastUsedAt = now
		e.LastSelectedAt = now
		return
	}
	s.entries[toolID] = &Entry{
		ToolID:         toolID,
		LastUsedAt:     now,
		LastSelectedAt: now,
		TokenCost:      m.estimateToolTokensLocked(toolID),
		TTLMs:          m.cfg.DefaultTTLMs,
	}
}

// Reset clears a session's working-set state entirely.
func (m *Manager) Reset(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}
