package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	"github.com/marrowlane/loreweave/internal/config"
	"github.com/marrowlane/loreweave/internal/consolidate"
	"github.com/marrowlane/loreweave/internal/contradict"
	"github.com/marrowlane/loreweave/internal/dedupe"
	"github.com/marrowlane/loreweave/internal/judge"
	"github.com/marrowlane/loreweave/internal/lifecycle"
	"github.com/marrowlane/loreweave/internal/llm"
	mcpserver "github.com/marrowlane/loreweave/internal/mcp"
	"github.com/marrowlane/loreweave/internal/relevance"
	"github.com/marrowlane/loreweave/internal/reliability"
	"github.com/marrowlane/loreweave/internal/store"
	"go.uber.org/zap"
)

const version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "scan":
		err = runScan(args)
	case "reconstruct":
		err = runReconstruct(args)
	case "dedup":
		err = runDedup(args)
	case "relevance":
		err = runRelevance(args)
	case "reliability":
		err = runReliability(args)
	case "resolve":
		err = runResolve(args)
	case "boost":
		err = runBoost(args)
	case "protect":
		err = runProtect(args)
	case "deprecate":
		err = runDeprecate(args)
	case "clean":
		err = runClean(args)
	case "stats":
		err = runStats(args)
	case "serve":
		err = runServe(args)
	case "version", "--version", "-v":
		fmt.Printf("loreweave %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cmdOpts holds flags shared across subcommands.
type cmdOpts struct {
	dbPath     string
	configPath string
	llmFlag    string
	dryRun     bool
	apply      bool
	context    string
	positional []string
}

// parseArgs walks a subcommand's arguments by hand: value flags consume the
// next argument, everything else is positional.
func parseArgs(args []string) (cmdOpts, error) {
	var opts cmdOpts
	valueFlags := map[string]*string{
		"--db":      &opts.dbPath,
		"--config":  &opts.configPath,
		"--llm":     &opts.llmFlag,
		"--context": &opts.context,
	}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if dst, ok := valueFlags[arg]; ok {
			if i+1 >= len(args) {
				return opts, fmt.Errorf("flag %s requires a value", arg)
			}
			i++
			*dst = args[i]
			continue
		}
		switch {
		case arg == "--dry-run" || arg == "-n":
			opts.dryRun = true
		case arg == "--apply":
			opts.apply = true
		case strings.HasPrefix(arg, "-"):
			return opts, fmt.Errorf("unknown flag: %s", arg)
		default:
			opts.positional = append(opts.positional, arg)
		}
	}
	return opts, nil
}

// newLogger writes structured logs to stderr so stdout stays clean for
// report JSON. LOREWEAVE_DEBUG enables development output.
func newLogger() *zap.Logger {
	var cfg zap.Config
	if os.Getenv("LOREWEAVE_DEBUG") != "" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// openStore resolves configuration and opens the fact store.
func openStore(opts cmdOpts) (store.Store, config.ResolvedConfig, error) {
	resolved, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath: opts.configPath,
		CLILLM:     opts.llmFlag,
		CLIDBPath:  opts.dbPath,
	})
	if err != nil {
		return nil, resolved, err
	}
	st, err := store.NewStore(store.Config{DBPath: resolved.DBPath.Value})
	if err != nil {
		return nil, resolved, fmt.Errorf("opening store: %w", err)
	}
	return st, resolved, nil
}

// buildJudge constructs the LLM-backed judge from resolved config, or
// returns nil when no provider is configured.
func buildJudge(resolved config.ResolvedConfig) (judge.Judge, error) {
	if strings.TrimSpace(resolved.LLMProvider.Value) == "" {
		return nil, nil
	}
	cfg, err := llm.ParseProviderFlag(resolved.LLMProvider.Value)
	if err != nil {
		return nil, err
	}
	if key := resolved.APIKeyForProvider(cfg.Provider); key.Value != "" {
		cfg.APIKey = key.Value
	}
	provider, err := llm.NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	return judge.NewLLMJudge(provider), nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runScan(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	st, resolved, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	j, err := buildJudge(resolved)
	if err != nil {
		return err
	}
	if j == nil {
		return fmt.Errorf("contradiction scan needs an LLM provider: set llm.provider in %s, LOREWEAVE_LLM, or --llm", resolved.ConfigPath)
	}

	detector, err := contradict.New(st, j, newLogger())
	if err != nil {
		return err
	}
	report, err := detector.Scan(context.Background(), contradict.Options{
		PairThreshold: resolved.PairThreshold.FloatOr(contradict.DefaultPairThreshold),
		DryRun:        opts.dryRun,
	})
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runReconstruct(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	st, resolved, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	// Reconstruction works without a judge; outlines then come from the
	// deterministic fallback.
	j, err := buildJudge(resolved)
	if err != nil {
		return err
	}

	consolidator := consolidate.New(st, j, newLogger())
	report, err := consolidator.Run(context.Background(), consolidate.Options{
		AttachThreshold: resolved.AttachThreshold.FloatOr(consolidate.DefaultAttachThreshold),
		EdgeThreshold:   resolved.EdgeThreshold.FloatOr(consolidate.DefaultEdgeThreshold),
		MaxOrphans:      resolved.MaxOrphans.IntOr(consolidate.DefaultMaxOrphans),
		DryRun:          opts.dryRun,
	})
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runDedup(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	st, resolved, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	deduplicator := dedupe.New(st, newLogger())
	report, err := deduplicator.Run(context.Background(), dedupe.Options{
		AutoMergeThreshold: resolved.MergeThreshold.FloatOr(dedupe.DefaultAutoMergeThreshold),
		DryRun:             opts.dryRun,
	})
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runRelevance(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	st, _, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	scorer := relevance.New(st, newLogger())
	report, err := scorer.Run(context.Background(), relevance.Options{
		ContextQuery: opts.context,
		Apply:        opts.apply,
		DryRun:       opts.dryRun,
	})
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runReliability(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	st, _, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	scorer := reliability.New(st, newLogger())
	report, err := scorer.Run(context.Background(), reliability.Options{})
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runResolve(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	if len(opts.positional) != 2 {
		return fmt.Errorf("usage: loreweave resolve <winner-id> <loser-id>")
	}
	st, resolved, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	j, err := buildJudge(resolved)
	if err != nil {
		return err
	}
	if j == nil {
		// Resolution itself needs no LLM but the detector owns the
		// operation; a no-op judge would complicate construction more than
		// requiring a provider here.
		return fmt.Errorf("resolve needs an LLM provider configured (same as scan)")
	}
	detector, err := contradict.New(st, j, newLogger())
	if err != nil {
		return err
	}
	resolution, err := detector.Resolve(context.Background(), opts.positional[0], opts.positional[1])
	if err != nil {
		return err
	}
	return printJSON(resolution)
}

func runBoost(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	if len(opts.positional) != 1 {
		return fmt.Errorf("usage: loreweave boost <fact-id>")
	}
	st, _, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	manager := lifecycle.New(st, newLogger())
	confidence, err := manager.Boost(context.Background(), opts.positional[0])
	if err != nil {
		return err
	}
	fmt.Printf("Fact %s boosted to confidence %d\n", opts.positional[0], confidence)
	return nil
}

func runProtect(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	if len(opts.positional) != 1 {
		return fmt.Errorf("usage: loreweave protect <fact-id>")
	}
	st, _, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	manager := lifecycle.New(st, newLogger())
	if err := manager.Protect(context.Background(), opts.positional[0]); err != nil {
		return err
	}
	fmt.Printf("Fact %s is now protected\n", opts.positional[0])
	return nil
}

func runDeprecate(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	if len(opts.positional) != 1 {
		return fmt.Errorf("usage: loreweave deprecate <fact-id>")
	}
	st, _, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	manager := lifecycle.New(st, newLogger())
	if err := manager.Deprecate(context.Background(), opts.positional[0]); err != nil {
		return err
	}
	fmt.Printf("Fact %s deprecated\n", opts.positional[0])
	return nil
}

func runClean(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	if len(opts.positional) != 1 {
		return fmt.Errorf("usage: loreweave clean <fact-id> [--dry-run]")
	}
	st, _, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	manager := lifecycle.New(st, newLogger())
	report, err := manager.Clean(context.Background(), opts.positional[0], opts.dryRun)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runStats(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	st, _, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats(context.Background())
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func runServe(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	st, resolved, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	j, err := buildJudge(resolved)
	if err != nil {
		return err
	}

	srv, err := mcpserver.NewServer(mcpserver.ServerConfig{
		Store:   st,
		Judge:   j,
		Logger:  newLogger(),
		Version: version,
	})
	if err != nil {
		return err
	}
	return server.ServeStdio(srv)
}

func printUsage() {
	fmt.Printf(`loreweave %s - memory consolidation and knowledge-graph maintenance

Usage:
  loreweave <command> [arguments]

Maintenance commands:
  scan                Run a contradiction scan (groups conflicts, never auto-deprecates)
  reconstruct         Attach orphan facts to anchors, cluster the rest into stories
  dedup               Merge near-duplicate facts
  relevance           Score facts for retention; --apply hides stale unused ones
  reliability         Grade fact sources by track record

Fact commands:
  resolve <w> <l>     Resolve a contradiction: winner kept, loser deprecated
  boost <id>          Raise confidence one step (85, 90, 95, 100)
  protect <id>        Permanently protect a fact (one-way)
  deprecate <id>      Deprecate a fact (reversible, protected facts refused)
  clean <id>          Split a wall-of-text fact into atomic children
  stats               Show knowledge-base statistics

Server:
  serve               Run as an MCP server on stdio

Flags:
  --db <path>         Database path (default ~/.loreweave/loreweave.db)
  --config <path>     Config file (default ~/.loreweave/config.yaml)
  --llm <prov/model>  LLM for judgment calls, e.g. google/gemini-2.5-flash
  --context <query>   Context query for relevance scoring
  --apply             Apply relevance hiding instead of only reporting
  -n, --dry-run       Report without writing
  -h, --help          Show this help message
  -v, --version       Print version
`, version)
}
