// hypnos is the memory engine CLI.
//
// Examples:
//
//	hypnos -store postgres -dsn "$DATABASE_URL" store -text "prefers dark mode" -importance 0.6
//	hypnos recall -query "what does the user prefer" -limit 5 -graph
//	hypnos forget -target 4f1c2d...
//	hypnos sleep
//	hypnos reindex -batch 100
//	hypnos stats
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hadron-labs/hypnos/src/memory/embed"
	"github.com/hadron-labs/hypnos/src/memory/engine"
	"github.com/hadron-labs/hypnos/src/memory/extract"
	"github.com/hadron-labs/hypnos/src/memory/model"
	"github.com/hadron-labs/hypnos/src/memory/sleep"
	"github.com/hadron-labs/hypnos/src/memory/store"
)

var (
	flagStore   = flag.String("store", envOr("HYPNOS_STORE", "memory"), "Backing store: memory|postgres|neo4j|mongo")
	flagDSN     = flag.String("dsn", os.Getenv("HYPNOS_DSN"), "Connection string for the selected store")
	flagAgent   = flag.String("agent", envOr("HYPNOS_AGENT", "default"), "Agent ID scoping every operation")
	flagLLM     = flag.String("llm", os.Getenv("HYPNOS_LLM_MODEL"), "Anthropic model for extraction; empty uses the heuristic extractor")
	flagTimeout = flag.Duration("timeout", 2*time.Minute, "Overall operation timeout")
)

func main() {
	_ = godotenv.Load()
	flag.Parse()

	if flag.NArg() == 0 {
		fail(fmt.Errorf("usage: hypnos [flags] store|recall|forget|sleep|reindex|stats [command flags]"))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *flagTimeout)
	defer cancelTimeout()

	eng, err := buildEngine(ctx)
	if err != nil {
		fail(err)
	}
	defer eng.Close()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "store":
		err = runStore(ctx, eng, args)
	case "recall":
		err = runRecall(ctx, eng, args)
	case "forget":
		err = runForget(ctx, eng, args)
	case "sleep":
		err = runSleep(ctx, eng, args)
	case "reindex":
		err = runReindex(ctx, eng, args)
	case "stats":
		err = runStats(ctx, eng)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		fail(err)
	}
}

func buildEngine(ctx context.Context) (*engine.Engine, error) {
	embedder := embed.AutoEmbedder()

	var backing store.MemoryStore
	switch *flagStore {
	case "memory":
		backing = store.NewInMemoryStore(embedder.Dimension())
	case "postgres":
		pg, err := store.NewPostgresStore(ctx, *flagDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := pg.CreateSchema(ctx); err != nil {
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		backing = pg
	case "mongo":
		mg, err := store.NewMongoStore(ctx, *flagDSN, "hypnos", "memories")
		if err != nil {
			return nil, fmt.Errorf("mongo: %w", err)
		}
		if err := mg.CreateSchema(ctx); err != nil {
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		backing = mg
	case "neo4j":
		return nil, fmt.Errorf("the neo4j store decorates a base store and needs the neo4j build tag; wire it programmatically")
	default:
		return nil, fmt.Errorf("unknown store %q", *flagStore)
	}

	var extractor extract.Extractor
	if *flagLLM != "" {
		extractor = extract.NewAnthropicExtractor(*flagLLM)
	}

	return engine.New(engine.Options{
		Store:     backing,
		Embedder:  embedder,
		Extractor: extractor,
		AgentID:   *flagAgent,
	})
}

func runStore(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("store", flag.ExitOnError)
	text := fs.String("text", "", "Memory text to persist")
	importance := fs.Float64("importance", -1, "Importance in [0,1]; -1 rates automatically")
	category := fs.String("category", "", "Category: preference|fact|decision|task|relationship|skill|event|other")
	source := fs.String("source", model.SourceUser, "Provenance label")
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := eng.Store(ctx, *text, *importance, model.NormalizeCategory(*category), *source, "")
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runRecall(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("recall", flag.ExitOnError)
	query := fs.String("query", "", "Search query")
	limit := fs.Int("limit", 5, "Maximum results")
	graph := fs.Bool("graph", false, "Include the graph expansion signal")
	if err := fs.Parse(args); err != nil {
		return err
	}

	memories, err := eng.Recall(ctx, *query, *limit, *graph)
	if err != nil {
		return err
	}
	return printJSON(memories)
}

func runForget(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("forget", flag.ExitOnError)
	target := fs.String("target", "", "Memory ID or search text")
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := eng.Forget(ctx, *target)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runSleep(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("sleep", flag.ExitOnError)
	dedup := fs.Float64("dedup", 0.95, "Dedup similarity threshold")
	conflict := fs.Float64("conflict", 0.80, "Conflict similarity floor")
	percentile := fs.Float64("percentile", 0.20, "Core tier share")
	retention := fs.Float64("retention", 0.10, "Decay score below which memories are pruned")
	if err := fs.Parse(args); err != nil {
		return err
	}

	params := sleep.DefaultParams()
	params.DedupThreshold = *dedup
	params.ConflictThreshold = *conflict
	params.ParetoPercentile = *percentile
	params.DecayRetention = *retention
	params.Progress = func(p sleep.Phase) { fmt.Fprintf(os.Stderr, "phase: %s\n", p) }

	stats, err := eng.RunSleepCycle(ctx, params)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func runReindex(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	batch := fs.Int("batch", 100, "Embedding batch size")
	if err := fs.Parse(args); err != nil {
		return err
	}

	updated, err := eng.Reindex(ctx, *batch)
	if err != nil {
		return err
	}
	return printJSON(map[string]int{"reindexed": updated})
}

func runStats(_ context.Context, eng *engine.Engine) error {
	return printJSON(eng.Metrics())
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
