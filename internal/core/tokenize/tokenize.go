// Package tokenize provides the deterministic text normalization shared
// by the catalog's search documents and the search engine's query path.
//
// DESIGN: A pure function, no package-level state beyond the stopword
// table. Normalization and tokenization are split so callers that only
// need name-boost comparisons (NormalizeForMatch) don't pay for the
// stopword/length filtering pass.
package tokenize

import "strings"

// DefaultMinTokenLength is the shortest token kept by Tokenize.
const DefaultMinTokenLength = 2

// Options configures tokenization behavior.
type Options struct {
	// MinTokenLength is the shortest token kept after normalization.
	// Zero means DefaultMinTokenLength.
	MinTokenLength int

	// StopWords overrides the default stopword set. Nil means
	// DefaultStopWords.
	StopWords map[string]bool
}

func (o Options) minLength() int {
	if o.MinTokenLength > 0 {
		return o.MinTokenLength
	}
	return DefaultMinTokenLength
}

func (o Options) stopWords() map[string]bool {
	if o.StopWords != nil {
		return o.StopWords
	}
	return DefaultStopWords
}

// Normalize applies the ordered normalization steps described in the
// tokenizer spec:
//
//  1. replace '_'/'-' runs with a single space
//  2. split camelCase boundaries (lower/digit -> upper)
//  3. split letter<->digit boundaries, both directions
//  4. lowercase
//  5. replace runs of anything outside [a-z0-9] with a single space
//  6. trim
//
// Known limitation (preserved intentionally, not a bug): step 5 strips
// every non-ASCII character, including CJK, so input made only of such
// characters normalizes to an empty string.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	text = collapseSeparators(text)
	text = splitCamelAndDigitBoundaries(text)
	text = strings.ToLower(text)
	text = collapseNonAlnum(text)
	return strings.TrimSpace(text)
}

// collapseSeparators replaces runs of '_' and '-' with a single space.
func collapseSeparators(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inRun := false
	for _, r := range s {
		if r == '_' || r == '-' {
			if !inRun {
				b.WriteByte(' ')
				inRun = true
			}
			continue
		}
		inRun = false
		b.WriteRune(r)
	}
	return b.String()
}

// splitCamelAndDigitBoundaries inserts a space between a lowercase
// letter or digit and a following uppercase letter (camelCase split),
// and between a letter and a digit in either direction.
func splitCamelAndDigitBoundaries(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 8)

	for i, r := range runes {
		if i > 0 {
			prev := runes[i-1]
			if isLowerOrDigit(prev) && isUpper(r) {
				b.WriteByte(' ')
			} else if isLetterBoundary(prev, r) {
				b.WriteByte(' ')
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isLetterBoundary(prev, cur rune) bool {
	prevIsLetter := isLetter(prev)
	curIsLetter := isLetter(cur)
	prevIsDigit := isDigit(prev)
	curIsDigit := isDigit(cur)
	return (prevIsLetter && curIsDigit) || (prevIsDigit && curIsLetter)
}

func isLower(r rune) bool      { return r >= 'a' && r <= 'z' }
func isUpper(r rune) bool      { return r >= 'A' && r <= 'Z' }
func isDigit(r rune) bool      { return r >= '0' && r <= '9' }
func isLetter(r rune) bool     { return isLower(r) || isUpper(r) }
func isLowerOrDigit(r rune) bool { return isLower(r) || isDigit(r) }

// collapseNonAlnum replaces any run of characters outside [a-z0-9] with
// a single space. Input is assumed already lowercased.
func collapseNonAlnum(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inRun := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			inRun = false
			continue
		}
		if !inRun {
			b.WriteByte(' ')
			inRun = true
		}
	}
	return b.String()
}

// NormalizeForMatch returns the normalized text with all internal
// spaces removed. Used only for exact/prefix name-boost comparisons,
// never for tokenization.
func NormalizeForMatch(text string) string {
	return strings.ReplaceAll(Normalize(text), " ", "")
}

// Tokenize normalizes text and splits it into a token sequence,
// dropping tokens shorter than MinTokenLength and tokens in the
// stopword set.
func Tokenize(text string, opts Options) []string {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}

	minLen := opts.minLength()
	stop := opts.stopWords()

	fields := strings.Fields(normalized)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < minLen {
			continue
		}
		if stop[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// TokenCounts tokenizes text and returns a token -> frequency map
// alongside the total token count (field length).
func TokenCounts(text string, opts Options) (counts map[string]int, length int) {
	tokens := Tokenize(text, opts)
	counts = make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	return counts, len(tokens)
}
