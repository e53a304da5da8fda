package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the toolrouter
// daemon. Fields map directly onto the per-package Config structs so
// a single file configures search, working-set, reducer, and
// token-count defaults together.
type Config struct {
	LogLevel string `yaml:"log_level"`

	WorkingSet WorkingSetConfig `yaml:"working_set"`
	Search     SearchConfig     `yaml:"search"`
	Reducer    ReducerConfig    `yaml:"reducer"`
	TokenCount TokenCountConfig `yaml:"token_count"`
}

// WorkingSetConfig mirrors workingset.Config in YAML-friendly form.
type WorkingSetConfig struct {
	DefaultBudgetTokens int           `yaml:"default_budget_tokens"`
	DefaultTTL          time.Duration `yaml:"default_ttl"`
	MaxEntries          int           `yaml:"max_entries"`
	UnknownToolTokens   int           `yaml:"unknown_tool_tokens"`
}

// SearchConfig mirrors search.Params in YAML-friendly form.
type SearchConfig struct {
	K1               float64 `yaml:"k1"`
	B                float64 `yaml:"b"`
	ExactMatchBoost  float64 `yaml:"exact_match_boost"`
	PrefixMatchBoost float64 `yaml:"prefix_match_boost"`
	PopularityBoost  float64 `yaml:"popularity_boost"`
	MinScore         float64 `yaml:"min_score"`
	DefaultTopK      int     `yaml:"default_top_k"`
}

// ReducerConfig mirrors reduce.Policy in YAML-friendly form.
type ReducerConfig struct {
	MaxTextBytes       int `yaml:"max_text_bytes"`
	MaxStructuredBytes int `yaml:"max_structured_bytes"`
	MaxStructuredKeys  int `yaml:"max_structured_keys"`
	MaxStructuredItems int `yaml:"max_structured_items"`
	MaxDepth           int `yaml:"max_depth"`
}

// TokenCountConfig configures the advisory precise-token-count sidecar.
type TokenCountConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Encoding string `yaml:"encoding"`
}

// Default returns a Config populated entirely from this package's
// constants — the zero-config starting point.
func Default() Config {
	return Config{
		LogLevel: DefaultLogLevel,
		WorkingSet: WorkingSetConfig{
			DefaultBudgetTokens: DefaultBudgetTokens,
			DefaultTTL:          DefaultEntryTTL,
			MaxEntries:          DefaultMaxEntries,
			UnknownToolTokens:   DefaultUnknownToolTokens,
		},
		Search: SearchConfig{
			K1:               DefaultK1,
			B:                DefaultB,
			ExactMatchBoost:  DefaultExactMatchBoost,
			PrefixMatchBoost: DefaultPrefixMatchBoost,
			PopularityBoost:  DefaultPopularityBoost,
			MinScore:         0,
			DefaultTopK:      DefaultTopK,
		},
		Reducer: ReducerConfig{
			MaxTextBytes:       DefaultMaxTextBytes,
			MaxStructuredBytes: DefaultMaxStructuredBytes,
			MaxStructuredKeys:  DefaultMaxStructuredKeys,
			MaxStructuredItems: DefaultMaxStructuredItems,
			MaxDepth:           DefaultMaxDepth,
		},
		TokenCount: TokenCountConfig{
			Enabled:  false,
			Encoding: "cl100k_base",
		},
	}
}

// Load reads a YAML config file (if path is non-empty and exists),
// overlays a .env file in the same directory via godotenv (matching
// the teacher's own test-setup pattern of loading a sibling .env),
// and returns a fully-defaulted Config.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	_ = godotenv.Load(envSibling(path))
	cfg.applyEnvOverrides()

	return cfg, nil
}

func envSibling(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ".env"
	}
	return path[:idx+1] + ".env"
}

// applyEnvOverrides lets a small number of operational knobs be set
// without editing the YAML file — matching the teacher's
// ApplySessionEnvOverrides pass-through pattern.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TOOLROUTER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("TOOLROUTER_DEFAULT_BUDGET_TOKENS"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			c.WorkingSet.DefaultBudgetTokens = n
		}
	}
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("config: %q is not a positive integer", s)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

// InitLogger configures the global zerolog logger per the configured
// level, writing to out (typically stderr, so stdout stays clean for
// JSON-RPC responses on stdio).
func InitLogger(levelName string, out *os.File) error {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		return fmt.Errorf("config: invalid log level %q: %w", levelName, err)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}
