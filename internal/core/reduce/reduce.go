// Package reduce turns an arbitrary tool result (string, object, or
// anything else a downstream MCP server returns) into a byte-capped
// {text, structured} pair, trimming and truncating deterministically
// so two runs over the same input always produce the same output.
//
// DESIGN: shaped like the teacher's tool_output.Pipe (reconstructed
// from the sibling snapshot in other_examples that still carried its
// types.go): a Metrics struct tallying drops/truncations behind a
// mutex, a Policy with config-driven defaults overridable per call,
// and a New(policy) constructor.
package reduce

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Policy carries the size caps, all overridable per call.
type Policy struct {
	MaxTextBytes       int
	MaxStructuredBytes int
	MaxStructuredKeys  int
	MaxStructuredItems int
	MaxDepth           int
}

// DefaultPolicy returns the spec-pinned default caps.
func DefaultPolicy() Policy {
	return Policy{
		MaxTextBytes:       12000,
		MaxStructuredBytes: 24000,
		MaxStructuredKeys:  200,
		MaxStructuredItems: 200,
		MaxDepth:           6,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxTextBytes <= 0 {
		p.MaxTextBytes = d.MaxTextBytes
	}
	if p.MaxStructuredBytes <= 0 {
		p.MaxStructuredBytes = d.MaxStructuredBytes
	}
	if p.MaxStructuredKeys <= 0 {
		p.MaxStructuredKeys = d.MaxStructuredKeys
	}
	if p.MaxStructuredItems <= 0 {
		p.MaxStructuredItems = d.MaxStructuredItems
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = d.MaxDepth
	}
	return p
}

// Metrics tallies reducer activity across calls.
type Metrics struct {
	mu                sync.Mutex
	Reduced           int64
	StructuredDropped int64
	StructuredTrimmed int64
	TextTruncated     int64
	ParsedJSON        int64
}

func (m *Metrics) record(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f()
}

// Result is the reduced output. Structured is omitted from the wire
// payload entirely when HasStructured is false (it is not emitted as
// null) — MarshalJSON below decides that from HasStructured rather
// than from whatever value the Structured field happens to hold.
type Result struct {
	Text                  string `json:"text"`
	Structured            any    `json:"structured,omitempty"`
	HasStructured         bool   `json:"-"`
	DroppedBytes          int    `json:"droppedBytes"`
	DroppedTokensEstimate int    `json:"droppedTokensEstimate"`
	Notes                 []string `json:"notes"`
}

// MarshalJSON drops the structured field from the wire payload when
// HasStructured is false, rather than emitting a literal JSON null.
func (r Result) MarshalJSON() ([]byte, error) {
	type wire struct {
		Text                  string   `json:"text"`
		Structured            any      `json:"structured,omitempty"`
		DroppedBytes          int      `json:"droppedBytes"`
		DroppedTokensEstimate int      `json:"droppedTokensEstimate"`
		Notes                 []string `json:"notes"`
	}
	w := wire{
		Text:                  r.Text,
		DroppedBytes:          r.DroppedBytes,
		DroppedTokensEstimate: r.DroppedTokensEstimate,
		Notes:                 r.Notes,
	}
	if r.HasStructured {
		w.Structured = r.Structured
	}
	return json.Marshal(w)
}

// Reducer reduces raw tool results per a Policy.
type Reducer struct {
	policy  Policy
	metrics *Metrics
}

// New creates a Reducer with the given default policy.
func New(policy Policy) *Reducer {
	return &Reducer{policy: policy.withDefaults(), metrics: &Metrics{}}
}

// Metrics returns the reducer's running counters.
func (r *Reducer) Metrics() *Metrics {
	return r.metrics
}

// Reduce reduces a raw tool result, optionally overriding the
// reducer's default policy for this call.
func (r *Reducer) Reduce(toolID string, raw any, override *Policy) Result {
	policy := r.policy
	if override != nil {
		policy = override.withDefaults()
	}

	text, structured, hasStructured, notes := normalize(raw)

	var droppedBytes int

	if hasStructured {
		trimmed, trimNotes, dropped := trimStructured(structured, policy)
		notes = append(notes, trimNotes...)
		droppedBytes += dropped
		if trimNotes.contains("structured_dropped") {
			hasStructured = false
			structured = nil
		} else {
			structured = trimmed
		}
	}

	truncatedText, textDropped, textTruncated := truncateUTF8(text, policy.MaxTextBytes)
	text = truncatedText
	droppedBytes += textDropped
	if textTruncated {
		notes = append(notes, "text_truncated")
	}

	droppedTokens := 0
	if droppedBytes > 0 {
		droppedTokens = ceilDiv(droppedBytes, 4)
	}

	r.metrics.record(func() {
		r.metrics.Reduced++
		if textTruncated {
			r.metrics.TextTruncated++
		}
		if notesContain(notes, "structured_dropped") {
			r.metrics.StructuredDropped++
		}
		if notesContain(notes, "structured_trimmed") {
			r.metrics.StructuredTrimmed++
		}
		if notesContain(notes, "parsed_json") {
			r.metrics.ParsedJSON++
		}
	})

	return Result{
		Text:                  text,
		Structured:            structured,
		HasStructured:         hasStructured,
		DroppedBytes:          droppedBytes,
		DroppedTokensEstimate: droppedTokens,
		Notes:                 dedupeNotes(notes),
	}
}

func notesContain(notes []string, n string) bool {
	for _, x := range notes {
		if x == n {
			return true
		}
	}
	return false
}

func dedupeNotes(notes []string) []string {
	seen := make(map[string]bool, len(notes))
	out := make([]string, 0, len(notes))
	for _, n := range notes {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

type noteList []string

func (n noteList) contains(s string) bool {
	return notesContain([]string(n), s)
}

// normalize implements step 1 of the algorithm: turn raw into a
// (text, structured) pair following the object/string/null rules.
func normalize(raw any) (text string, structured any, hasStructured bool, notes []string) {
	isError := false

	switch v := raw.(type) {
	case nil:
		text = ""

	case string:
		text = v
		trimmed := strings.TrimSpace(v)
		if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
			var parsed any
			if json.Unmarshal([]byte(trimmed), &parsed) == nil {
				structured = parsed
				hasStructured = true
				notes = append(notes, "parsed_json")
			}
		}

	case map[string]any:
		if se, ok := v["isError"].(bool); ok && se {
			isError = true
		}
		if s, ok := v["structured"].(map[string]any); ok {
			structured = s
			hasStructured = true
			notes = append(notes, "structured_preferred")
		} else if s, ok := v["structuredContent"].(map[string]any); ok {
			structured = s
			hasStructured = true
			notes = append(notes, "structured_preferred")
		}

		if t, ok := v["text"].(string); ok {
			text = t
		} else if content, ok := v["content"].([]any); ok {
			text = joinContentText(content)
		}

		if !hasStructured {
			structured = v
			hasStructured = true
		}
		if text == "" {
			text = serializeDeterministic(raw)
		}

	default:
		text = fmt.Sprintf("%v", raw)
	}

	if isError {
		if text == "" {
			text = "[error]"
		} else {
			text = "[error] " + text
		}
		notes = append(notes, "is_error")
	}

	return text, structured, hasStructured, notes
}

func joinContentText(content []any) string {
	var parts []string
	for _, item := range content {
		switch v := item.(type) {
		case string:
			parts = append(parts, v)
		case map[string]any:
			if t, ok := v["text"].(string); ok {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// trimStructured implements step 2: recursive depth/keys/items
// bounded trim, re-serialize, and fall back to dropping the field
// entirely if the trimmed serialization still exceeds the byte cap.
func trimStructured(v any, policy Policy) (any, noteList, int) {
	preSize := len(serializeDeterministic(v))

	trimmed := trimValue(v, policy, 0)
	serialized := serializeDeterministic(trimmed)

	var notes noteList
	if len(serialized) > policy.MaxStructuredBytes {
		notes = append(notes, "structured_dropped")
		return nil, notes, preSize
	}
	if len(serialized) < preSize {
		notes = append(notes, "structured_trimmed")
	}
	return trimmed, notes, preSize - len(serialized)
}

func trimValue(v any, policy Policy, depth int) any {
	if depth >= policy.MaxDepth {
		return "[Truncated]"
	}

	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > policy.MaxStructuredKeys {
			keys = keys[:policy.MaxStructuredKeys]
		}
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			out[k] = trimValue(val[k], policy, depth+1)
		}
		return out

	case []any:
		items := val
		if len(items) > policy.MaxStructuredItems {
			items = items[:policy.MaxStructuredItems]
		}
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = trimValue(item, policy, depth+1)
		}
		return out

	default:
		return val
	}
}

// truncateUTF8 trims text to maxBytes by binary-searching the largest
// rune-prefix whose UTF-8 encoding fits within the cap.
func truncateUTF8(text string, maxBytes int) (truncated string, droppedBytes int, didTruncate bool) {
	if len(text) <= maxBytes {
		return text, 0, false
	}

	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if len(string(runes[:mid])) <= maxBytes {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	kept := string(runes[:lo])
	return kept, len(text) - len(kept), true
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// serializeDeterministic encodes v with object keys sorted
// lexicographically at every depth and cycles replaced by
// "[Circular]". Non-serializable values fall back to
// "[Unserializable]".
//
// This stays on encoding/json plus hand-written recursion rather than
// gjson/sjson: gjson operates on raw JSON text and paths, not decoded
// any-trees with an ancestor set, and cycle detection needs exactly
// that ancestor-set walk over live Go values.
func serializeDeterministic(v any) string {
	var b strings.Builder
	encodeDeterministic(&b, v, make(map[uintptr]bool))
	return b.String()
}

func encodeDeterministic(b *strings.Builder, v any, ancestors map[uintptr]bool) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")

	case map[string]any:
		ptr := mapIdentity(val)
		if ptr != 0 {
			if ancestors[ptr] {
				b.WriteString(`"[Circular]"`)
				return
			}
			ancestors[ptr] = true
			defer delete(ancestors, ptr)
		}

		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			encodeJSONString(b, k)
			b.WriteByte(':')
			encodeDeterministic(b, val[k], ancestors)
		}
		b.WriteByte('}')

	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			encodeDeterministic(b, item, ancestors)
		}
		b.WriteByte(']')

	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			b.WriteString(`"[Unserializable]"`)
			return
		}
		b.Write(encoded)
	}
}

func encodeJSONString(b *strings.Builder, s string) {
	encoded, err := json.Marshal(s)
	if err != nil {
		b.WriteString(`"[Unserializable]"`)
		return
	}
	b.Write(encoded)
}

// mapIdentity returns the map's underlying data pointer, used as the
// ancestor-set key for cycle detection. Values decoded straight off
// the wire via encoding/json can never be cyclic, but a caller that
// hand-constructs a ReducedToolResult input from live Go values can
// produce one, and the ancestor set must catch it.
func mapIdentity(m map[string]any) uintptr {
	return reflect.ValueOf(m).Pointer()
}

// StructuredToJSON re-serializes a structured field with gjson/sjson
// path-based helpers, used by callers that need the final wire bytes
// for a ReducedToolResult rather than the deterministic debug string.
func StructuredToJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(raw) {
		return raw, nil
	}
	result := gjson.ParseBytes(raw)
	out := raw
	if result.IsObject() {
		keys := make([]string, 0)
		result.ForEach(func(key, value gjson.Result) bool {
			keys = append(keys, key.String())
			return true
		})
		sort.Strings(keys)
		var err error
		rebuilt := "{}"
		for _, k := range keys {
			rebuilt, err = sjson.SetRaw(rebuilt, k, result.Get(k).Raw)
			if err != nil {
				return raw, nil
			}
		}
		out = []byte(rebuilt)
	}
	return out, nil
}
