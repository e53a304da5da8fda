// Command toolrouterd is the thin JSON-RPC stdio daemon that exposes
// the core catalog/search/working-set/reducer engine per §6. It owns
// nothing the core doesn't already own: it reads newline-delimited
// JSON-RPC requests from stdin, hands them to internal/rpc.Dispatcher,
// and writes responses to stdout, one line per response.
//
// DESIGN: manual flag parsing over os.Args, no CLI framework, matching
// the teacher's cmd/agent.go runAgentCommand idiom.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/compresr/toolrouter/internal/config"
	"github.com/compresr/toolrouter/internal/core/catalog"
	"github.com/compresr/toolrouter/internal/core/reduce"
	"github.com/compresr/toolrouter/internal/core/search"
	"github.com/compresr/toolrouter/internal/core/workingset"
	"github.com/compresr/toolrouter/internal/rpc"
	"github.com/compresr/toolrouter/internal/tokencount"
)

func main() {
	runDaemon(os.Args[1:])
}

func printHelp() {
	fmt.Fprintln(os.Stderr, `toolrouterd - MCP tool catalog, search, working-set and reducer engine

Usage: toolrouterd [options]

Options:
  -c, --config <path>     YAML config file (optional)
  -l, --log-level <level> Override the configured log level
      --stdio             Serve JSON-RPC over stdio (default, only mode supported)
  -h, --help              Show this help`)
}

func runDaemon(args []string) {
	var (
		configFlag   string
		logLevelFlag string
	)

	i := 0
	for i < len(args) {
		switch args[i] {
		case "-h", "--help":
			printHelp()
			return
		case "-c", "--config":
			if i+1 < len(args) {
				configFlag = args[i+1]
				i += 2
			} else {
				fmt.Fprintln(os.Stderr, "Error: --config requires a value")
				os.Exit(1)
			}
		case "-l", "--log-level":
			if i+1 < len(args) {
				logLevelFlag = args[i+1]
				i += 2
			} else {
				fmt.Fprintln(os.Stderr, "Error: --log-level requires a value")
				os.Exit(1)
			}
		case "--stdio":
			i++
		default:
			if strings.HasPrefix(args[i], "-") {
				fmt.Fprintf(os.Stderr, "Error: unknown flag %q\n", args[i])
				os.Exit(1)
			}
			i++
		}
	}

	cfg, err := config.Load(configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "toolrouterd: %v\n", err)
		os.Exit(1)
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}

	// Logging goes to stderr so stdout stays a clean JSON-RPC stream.
	if err := config.InitLogger(cfg.LogLevel, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "toolrouterd: %v\n", err)
		os.Exit(1)
	}

	dispatcher := buildDispatcher(cfg)
	log.Info().Str("instance", uuid.NewString()).Msg("toolrouterd: ready, reading JSON-RPC from stdin")

	serveStdio(dispatcher, os.Stdin, os.Stdout)
}

func buildDispatcher(cfg config.Config) *rpc.Dispatcher {
	cat := catalog.New()

	searchParams := search.Params{
		K1:               cfg.Search.K1,
		B:                cfg.Search.B,
		ExactMatchBoost:  cfg.Search.ExactMatchBoost,
		PrefixMatchBoost: cfg.Search.PrefixMatchBoost,
		PopularityBoost:  cfg.Search.PopularityBoost,
		MinScore:         cfg.Search.MinScore,
		DefaultTopK:      cfg.Search.DefaultTopK,
		Weights:          search.DefaultWeights(),
	}
	engine := search.New(cat, searchParams)

	wsConfig := workingset.Config{
		DefaultBudgetTokens: cfg.WorkingSet.DefaultBudgetTokens,
		DefaultTTLMs:        cfg.WorkingSet.DefaultTTL.Milliseconds(),
		MaxEntries:          cfg.WorkingSet.MaxEntries,
		UnknownToolTokens:   cfg.WorkingSet.UnknownToolTokens,
	}
	manager := workingset.New(cat, engine, wsConfig, nil)

	if cfg.TokenCount.Enabled {
		if counter, err := tokencount.New(cfg.TokenCount.Encoding); err != nil {
			log.Warn().Err(err).Msg("toolrouterd: precise token counter disabled")
		} else {
			manager = manager.WithTokenCounter(counter)
		}
	}

	reducer := reduce.New(reduce.Policy{
		MaxTextBytes:       cfg.Reducer.MaxTextBytes,
		MaxStructuredBytes: cfg.Reducer.MaxStructuredBytes,
		MaxStructuredKeys:  cfg.Reducer.MaxStructuredKeys,
		MaxStructuredItems: cfg.Reducer.MaxStructuredItems,
		MaxDepth:           cfg.Reducer.MaxDepth,
	})

	return &rpc.Dispatcher{
		Catalog:    cat,
		Search:     engine,
		WorkingSet: manager,
		Reducer:    reducer,
	}
}

// serveStdio reads one JSON value per line from in and writes the
// dispatcher's response(s) to out, one JSON-RPC response object per
// line (batches are flattened to one line per member, matching the
// newline-delimited framing the transport design calls for).
func serveStdio(dispatcher *rpc.Dispatcher, in *os.File, out *os.File) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), config.MaxRPCLineBytes)
	writer := bufio.NewWriter(out)
	defer writer.Flush()

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		reqID := uuid.NewString()
		responses := dispatcher.HandleBatch(line)
		for _, resp := range responses {
			encoded, err := json.Marshal(resp)
			if err != nil {
				log.Error().Str("requestId", reqID).Err(err).Msg("toolrouterd: failed to encode response")
				continue
			}
			writer.Write(encoded)
			writer.WriteByte('\n')
		}
		writer.Flush()
	}

	if err := scanner.Err(); err != nil {
		log.Error().Err(err).Msg("toolrouterd: stdin read error")
	}
}
