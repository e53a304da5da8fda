// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// TOKEN ESTIMATION
// =============================================================================

// TokenEstimateRatio is the approximate number of UTF-8 bytes per
// token used by the working-set token-cost-estimate formula.
const TokenEstimateRatio = 4

// TokenEstimateOverhead is added to every token-cost estimate to
// model serialization overhead.
const TokenEstimateOverhead = 12

// MinTokenCost is the floor applied to every token-cost estimate.
const MinTokenCost = 8

// =============================================================================
// WORKING SET DEFAULTS
// =============================================================================

// DefaultBudgetTokens is the working-set budget used when a session
// has not supplied one yet.
const DefaultBudgetTokens = 4000

// DefaultEntryTTL is how long a non-pinned working-set entry survives
// without being selected or used again.
const DefaultEntryTTL = 15 * time.Minute

// DefaultMaxEntries caps the number of tools a single session's
// working set may hold at once.
const DefaultMaxEntries = 50

// DefaultUnknownToolTokens is the token-cost estimate used for a
// toolId the catalog does not recognize.
const DefaultUnknownToolTokens = 120

// =============================================================================
// SEARCH DEFAULTS
// =============================================================================

// DefaultTopK is the number of hits returned when a query does not
// specify one.
const DefaultTopK = 20

// DefaultK1 and DefaultB are the BM25 saturation/length-normalization
// parameters.
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// DefaultExactMatchBoost, DefaultPrefixMatchBoost, and
// DefaultPopularityBoost are additive post-score adjustments.
const (
	DefaultExactMatchBoost  = 1.5
	DefaultPrefixMatchBoost = 0.4
	DefaultPopularityBoost  = 0.05
)

// =============================================================================
// RESULT REDUCER DEFAULTS
// =============================================================================

const (
	DefaultMaxTextBytes       = 12000
	DefaultMaxStructuredBytes = 24000
	DefaultMaxStructuredKeys  = 200
	DefaultMaxStructuredItems = 200
	DefaultMaxDepth           = 6
)

// =============================================================================
// SESSION CLEANUP
// =============================================================================

// DefaultSessionCleanupInterval is unused by the core itself — TTL
// expiry is evaluated lazily inside ws.update per the concurrency
// model — but is exposed for a host process that wants a periodic
// sweep of long-idle sessions purely to bound memory.
const DefaultSessionCleanupInterval = 5 * time.Minute

// =============================================================================
// RPC / TRANSPORT DEFAULTS
// =============================================================================

// DefaultLogLevel is the zerolog level name used when --log-level is
// not passed on the command line.
const DefaultLogLevel = "info"

// MaxRPCLineBytes bounds a single newline-delimited JSON-RPC message,
// guarding against an unbounded read from a misbehaving client.
const MaxRPCLineBytes = 10 * 1024 * 1024
