// Package catalog stores ToolCards keyed by toolId, derives a
// per-tool search document on every upsert, and publishes versioned,
// torn-read-free snapshots to the search engine.
//
// DESIGN: Single-writer, many-reader. Mutations are serialized by the
// caller (see package rpc); getSnapshot reads an atomically-swapped
// pointer so readers never observe a map whose tools/docs keys
// disagree, matching the teacher's ToolSessionStore copy-on-read
// style and jonwraymond-toolindex's version-stamped cache.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// Sentinel errors surfaced to callers (see §7 caller-error category).
var (
	ErrMissingToolID = errors.New("catalog: tool missing toolId")
	ErrToolNotFound  = errors.New("catalog: tool not found")
)

// SideEffect classifies how invasive a tool invocation is.
type SideEffect string

const (
	SideEffectNone        SideEffect = "none"
	SideEffectRead        SideEffect = "read"
	SideEffectWrite       SideEffect = "write"
	SideEffectDestructive SideEffect = "destructive"
)

// CostHint is an advisory relative cost bucket for a tool call.
type CostHint string

const (
	CostLow    CostHint = "low"
	CostMedium CostHint = "medium"
	CostHigh   CostHint = "high"
)

// Arg describes one parameter accepted by a tool.
type Arg struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	TypeHint    string `json:"typeHint,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Example     string `json:"example,omitempty"`
}

// Example pairs a sample query with an optional call hint.
type Example struct {
	Query    string `json:"query"`
	CallHint string `json:"callHint,omitempty"`
}

// ToolCard is the catalog's entry for a single tool.
type ToolCard struct {
	ToolID   string `json:"toolId"`
	ToolName string `json:"toolName"`
	ServerID string `json:"serverId"`

	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	Tags       []string `json:"tags,omitempty"`
	Synonyms   []string `json:"synonyms,omitempty"`
	AuthHint   []string `json:"authHint,omitempty"`

	Args     []Arg     `json:"args,omitempty"`
	Examples []Example `json:"examples,omitempty"`

	SideEffect     SideEffect `json:"sideEffect,omitempty"`
	OpenWorldHint  *bool      `json:"openWorldHint,omitempty"`
	IdempotentHint *bool      `json:"idempotentHint,omitempty"`
	CostHint       CostHint   `json:"costHint,omitempty"`
	Popularity     *float64   `json:"popularity,omitempty"`

	// Raw is the original wire-format tool definition, round-tripped
	// verbatim so a JSON-RPC caller never loses provider-specific
	// fields the core doesn't model (annotations, icons, ...). When
	// Title or Description is blank, deriveSearchDoc falls back to a
	// gjson path lookup against Raw, mirroring the way the teacher's
	// search_tool_handler.go re-parses a stashed raw_json blob rather
	// than requiring every field to be duplicated onto the card.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// EffectiveSideEffect returns SideEffect, defaulting to "none".
func (t ToolCard) EffectiveSideEffect() SideEffect {
	if t.SideEffect == "" {
		return SideEffectNone
	}
	return t.SideEffect
}

// ToolSearchDoc is the derived, per-field textual view of a ToolCard
// used by the search engine. It is a pure function of the ToolCard.
type ToolSearchDoc struct {
	ToolID string `json:"toolId"`

	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Tags        string `json:"tags"`
	Synonyms    string `json:"synonyms"`
	ArgNames    string `json:"argNames"`
	ArgDescs    string `json:"argDescs"`
	Examples    string `json:"examples"`
	ServerID    string `json:"serverId"`

	SideEffect SideEffect `json:"sideEffect"`
	Popularity *float64   `json:"popularity,omitempty"`
}

// Fields returns the nine textual fields keyed by field name (a map,
// so unordered; FieldNames gives the stable order) — used by the
// search engine to build its per-field inverted index.
func (d ToolSearchDoc) Fields() map[string]string {
	return map[string]string{
		"name":        d.Name,
		"title":       d.Title,
		"description": d.Description,
		"tags":        d.Tags,
		"synonyms":    d.Synonyms,
		"argNames":    d.ArgNames,
		"argDescs":    d.ArgDescs,
		"examples":    d.Examples,
		"serverId":    d.ServerID,
	}
}

// FieldNames enumerates the nine searchable fields in the spec's order.
var FieldNames = []string{
	"name", "title", "description", "tags", "synonyms",
	"argNames", "argDescs", "examples", "serverId",
}

// deriveSearchDoc is a pure function building a ToolSearchDoc from a
// ToolCard. Re-derivation on every upsert is mandatory per spec.
func deriveSearchDoc(t ToolCard) ToolSearchDoc {
	title := t.Title
	description := t.Description
	if len(t.Raw) > 0 {
		if title == "" {
			title = gjson.GetBytes(t.Raw, "title").String()
		}
		if description == "" {
			description = gjson.GetBytes(t.Raw, "description").String()
		}
	}

	argNames := make([]string, 0, len(t.Args))
	argDescs := make([]string, 0, len(t.Args))
	for _, a := range t.Args {
		argNames = append(argNames, a.Name)
		if a.Description != "" {
			argDescs = append(argDescs, a.Description)
		}
	}

	examples := make([]string, 0, len(t.Examples)*2)
	for _, ex := range t.Examples {
		if ex.Query != "" {
			examples = append(examples, ex.Query)
		}
		if ex.CallHint != "" {
			examples = append(examples, ex.CallHint)
		}
	}

	var popularity *float64
	if t.Popularity != nil {
		v := *t.Popularity
		popularity = &v
	}

	return ToolSearchDoc{
		ToolID:      t.ToolID,
		Name:        t.ToolName,
		Title:       title,
		Description: description,
		Tags:        strings.Join(t.Tags, " "),
		Synonyms:    strings.Join(t.Synonyms, " "),
		ArgNames:    strings.Join(argNames, " "),
		ArgDescs:    strings.Join(argDescs, " "),
		Examples:    strings.Join(examples, " "),
		ServerID:    t.ServerID,
		SideEffect:  t.EffectiveSideEffect(),
		Popularity:  popularity,
	}
}

// Snapshot is an immutable view of the catalog at a point in time.
// The set of keys in Tools and Docs is always identical.
type Snapshot struct {
	Version   uint64                   `json:"version"`
	UpdatedAt time.Time                `json:"updatedAt"`
	Tools     map[string]ToolCard      `json:"tools"`
	Docs      map[string]ToolSearchDoc `json:"docs"`
}

// Stats summarizes catalog size. Tools and IndexSize are always equal
// — a derived invariant kept testable on purpose.
type Stats struct {
	Tools     int       `json:"tools"`
	IndexSize int       `json:"indexSize"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Catalog is the authoritative, versioned store of ToolCards.
type Catalog struct {
	mu       sync.Mutex
	tools    map[string]ToolCard
	docs     map[string]ToolSearchDoc
	version  uint64
	updated  time.Time
	snapshot atomic.Pointer[Snapshot]
}

// New creates an empty catalog and publishes its initial (empty) snapshot.
func New() *Catalog {
	c := &Catalog{
		tools: make(map[string]ToolCard),
		docs:  make(map[string]ToolSearchDoc),
	}
	c.publishLocked()
	return c
}

// publishLocked rebuilds and atomically swaps in the public snapshot.
// Must be called with mu held.
func (c *Catalog) publishLocked() {
	toolsCopy := make(map[string]ToolCard, len(c.tools))
	for k, v := range c.tools {
		toolsCopy[k] = v
	}
	docsCopy := make(map[string]ToolSearchDoc, len(c.docs))
	for k, v := range c.docs {
		docsCopy[k] = v
	}
	snap := &Snapshot{
		Version:   c.version,
		UpdatedAt: c.updated,
		Tools:     toolsCopy,
		Docs:      docsCopy,
	}
	c.snapshot.Store(snap)
}

// UpsertTools inserts or overwrites entries by ToolID, rebuilding the
// derived ToolSearchDoc for each. Version bumps only if at least one
// entry actually changed state.
func (c *Catalog) UpsertTools(tools []ToolCard) (count int, err error) {
	for _, t := range tools {
		if t.ToolID == "" {
			return 0, fmt.Errorf("%w", ErrMissingToolID)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	for _, t := range tools {
		existing, ok := c.tools[t.ToolID]
		if ok && toolCardEqual(existing, t) {
			continue
		}
		c.tools[t.ToolID] = t
		c.docs[t.ToolID] = deriveSearchDoc(t)
		changed = true
		count++
	}

	if changed {
		c.version++
		c.updated = time.Now()
		c.publishLocked()
	}

	log.Debug().Int("count", count).Bool("changed", changed).Msg("catalog: upsertTools")
	return count, nil
}

// RemoveTools deletes matching entries. Version bumps only when at
// least one key was actually present.
func (c *Catalog) RemoveTools(toolIDs []string) (removed int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range toolIDs {
		if _, ok := c.tools[id]; ok {
			delete(c.tools, id)
			delete(c.docs, id)
			removed++
		}
	}

	if removed > 0 {
		c.version++
		c.updated = time.Now()
		c.publishLocked()
	}

	log.Debug().Int("removed", removed).Msg("catalog: removeTools")
	return removed
}

// Reset clears the catalog. Version bumps only if the store was
// non-empty.
func (c *Catalog) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.tools) == 0 {
		return
	}

	c.tools = make(map[string]ToolCard)
	c.docs = make(map[string]ToolSearchDoc)
	c.version++
	c.updated = time.Now()
	c.publishLocked()

	log.Debug().Msg("catalog: reset")
}

// Stats returns the current catalog size summary.
func (c *Catalog) Stats() Stats {
	snap := c.GetSnapshot()
	return Stats{
		Tools:     len(snap.Tools),
		IndexSize: len(snap.Docs),
		UpdatedAt: snap.UpdatedAt,
	}
}

// GetSnapshot returns the current immutable snapshot. Safe for
// concurrent readers; never observed in a torn state.
func (c *Catalog) GetSnapshot() *Snapshot {
	return c.snapshot.Load()
}

// GetTool returns a single ToolCard by ID.
func (c *Catalog) GetTool(toolID string) (ToolCard, error) {
	snap := c.GetSnapshot()
	t, ok := snap.Tools[toolID]
	if !ok {
		return ToolCard{}, fmt.Errorf("%w: %s", ErrToolNotFound, toolID)
	}
	return t, nil
}

// toolCardEqual reports whether two ToolCards are field-for-field
// identical, used so a no-op upsert never bumps the version.
func toolCardEqual(a, b ToolCard) bool {
	if a.ToolID != b.ToolID || a.ToolName != b.ToolName || a.ServerID != b.ServerID ||
		a.Title != b.Title || a.Description != b.Description ||
		a.SideEffect != b.SideEffect || a.CostHint != b.CostHint {
		return false
	}
	if !stringSliceEqual(a.Tags, b.Tags) || !stringSliceEqual(a.Synonyms, b.Synonyms) ||
		!stringSliceEqual(a.AuthHint, b.AuthHint) {
		return false
	}
	if len(a.Args) != len(b.Args) {
		return false
	}
	for i := range a.Args {
		if a.Args[i] != b.Args[i] {
			return false
		}
	}
	if len(a.Examples) != len(b.Examples) {
		return false
	}
	for i := range a.Examples {
		if a.Examples[i] != b.Examples[i] {
			return false
		}
	}
	if !boolPtrEqual(a.OpenWorldHint, b.OpenWorldHint) || !boolPtrEqual(a.IdempotentHint, b.IdempotentHint) {
		return false
	}
	if !float64PtrEqual(a.Popularity, b.Popularity) {
		return false
	}
	return string(a.Raw) == string(b.Raw)
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

func float64PtrEqual(a, b *float64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
