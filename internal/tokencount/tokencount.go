// Package tokencount provides an advisory, precise token counter
// backed by a real BPE tokenizer, used only for reporting — never for
// working-set budget enforcement, which stays on the spec-pinned
// byte-length heuristic for cross-platform determinism.
//
// DESIGN: github.com/pkoukk/tiktoken-go was already a teacher
// dependency (go.mod) unwired in the retrieved snapshot; this package
// gives it a concrete home, the same way the teacher wires
// rs/zerolog and tidwall/gjson into real call sites rather than
// carrying them as unused requires.
package tokencount

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used for the advisory count.
// cl100k_base is the encoding most modern chat-completion models use;
// picking a fixed encoding keeps the advisory number reproducible
// even though it is never authoritative.
const DefaultEncoding = "cl100k_base"

// Counter is an advisory token counter for arbitrary text.
type Counter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// New builds a Counter for the given encoding name. An empty name
// selects DefaultEncoding.
func New(encodingName string) (*Counter, error) {
	if encodingName == "" {
		encodingName = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("tokencount: load encoding %q: %w", encodingName, err)
	}
	return &Counter{enc: enc}, nil
}

// Count returns the number of BPE tokens text encodes to. Safe for
// concurrent use — the underlying encoder is stateless per call but
// not documented as goroutine-safe, so access is serialized.
func (c *Counter) Count(text string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tokens := c.enc.Encode(text, nil, nil)
	return len(tokens), nil
}
