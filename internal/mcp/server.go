// Package mcp provides a Model Context Protocol server for Loreweave.
//
// It exposes the maintenance engines (contradiction scan, orphan
// reconstruction, deduplication, relevance and reliability reports,
// lifecycle transitions) as MCP tools over stdio, plus a stats resource.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/marrowlane/loreweave/internal/consolidate"
	"github.com/marrowlane/loreweave/internal/contradict"
	"github.com/marrowlane/loreweave/internal/dedupe"
	"github.com/marrowlane/loreweave/internal/judge"
	"github.com/marrowlane/loreweave/internal/lifecycle"
	"github.com/marrowlane/loreweave/internal/relevance"
	"github.com/marrowlane/loreweave/internal/reliability"
	"github.com/marrowlane/loreweave/internal/store"
	"go.uber.org/zap"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Store   store.Store
	Judge   judge.Judge // nil disables scan and enables fallback-only outlines
	Logger  *zap.Logger
	Version string
}

// dbMu serializes all MCP tool calls that touch the database.
// The mcp-go library dispatches handlers concurrently via goroutines, but
// the engines assume single-worker batch execution per knowledge base, and
// SQLite supports one writer at a time.
var dbMu sync.Mutex

// NewServer creates a configured MCP server with all Loreweave tools.
func NewServer(cfg ServerConfig) (*server.MCPServer, error) {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := server.NewMCPServer(
		"Loreweave",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	consolidator := consolidate.New(cfg.Store, cfg.Judge, logger)
	deduplicator := dedupe.New(cfg.Store, logger)
	relevanceScorer := relevance.New(cfg.Store, logger)
	reliabilityScorer := reliability.New(cfg.Store, logger)
	manager := lifecycle.New(cfg.Store, logger)

	var detector *contradict.Detector
	if cfg.Judge != nil {
		var err error
		detector, err = contradict.New(cfg.Store, cfg.Judge, logger)
		if err != nil {
			return nil, fmt.Errorf("creating contradiction detector: %w", err)
		}
		registerScanTool(s, detector)
		registerResolveTool(s, detector)
	}

	registerReconstructTool(s, consolidator)
	registerDedupTool(s, deduplicator)
	registerRelevanceTool(s, relevanceScorer)
	registerReliabilityTool(s, reliabilityScorer)
	registerBoostTool(s, manager)
	registerProtectTool(s, manager)
	registerStatsTool(s, cfg.Store)

	registerStatsResource(s, cfg.Store)

	return s, nil
}

func jsonResult(v any) *mcp.CallToolResult {
	data, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(data))
}

// --- Tools ---

func registerScanTool(s *server.MCPServer, detector *contradict.Detector) {
	tool := mcp.NewTool("loreweave_scan",
		mcp.WithDescription("Run a contradiction scan over active facts. Confirmed contradictions are grouped for manual resolution; nothing is deprecated automatically. Only one scan runs at a time; a concurrent request returns the cached last report."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithBoolean("dry_run",
			mcp.Description("Judge pairs but do not write contradiction groups (default: false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		dryRun := false
		if v, err := req.RequireBool("dry_run"); err == nil {
			dryRun = v
		}

		report, err := detector.Scan(ctx, contradict.Options{DryRun: dryRun})
		if errors.Is(err, contradict.ErrScanInProgress) {
			if last := detector.LastReport(); last != nil {
				return jsonResult(last), nil
			}
			return mcp.NewToolResultError("scan already in progress, no report available yet"), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("scan error: %v", err)), nil
		}
		return jsonResult(report), nil
	})
}

func registerResolveTool(s *server.MCPServer, detector *contradict.Detector) {
	tool := mcp.NewTool("loreweave_resolve",
		mcp.WithDescription("Resolve a contradiction group in favor of one fact: the winner's confidence is raised to 100, the loser is deprecated. Both facts must share a contradiction group."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("winner_id",
			mcp.Required(),
			mcp.Description("ID of the fact to keep"),
		),
		mcp.WithString("loser_id",
			mcp.Required(),
			mcp.Description("ID of the fact to deprecate"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		winnerID, err := req.RequireString("winner_id")
		if err != nil {
			return mcp.NewToolResultError("winner_id is required"), nil
		}
		loserID, err := req.RequireString("loser_id")
		if err != nil {
			return mcp.NewToolResultError("loser_id is required"), nil
		}

		resolution, err := detector.Resolve(ctx, winnerID, loserID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("resolve error: %v", err)), nil
		}
		return jsonResult(resolution), nil
	})
}

func registerReconstructTool(s *server.MCPServer, consolidator *consolidate.Consolidator) {
	tool := mcp.NewTool("loreweave_reconstruct",
		mcp.WithDescription("Run orphan reconstruction: attach low-confidence disconnected facts to high-confidence anchors, then cluster the remainder into new story containers."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithBoolean("dry_run",
			mcp.Description("Report attachments and clusters without writing (default: false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		dryRun := false
		if v, err := req.RequireBool("dry_run"); err == nil {
			dryRun = v
		}

		report, err := consolidator.Run(ctx, consolidate.Options{DryRun: dryRun})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("reconstruction error: %v", err)), nil
		}
		return jsonResult(report), nil
	})
}

func registerDedupTool(s *server.MCPServer, deduplicator *dedupe.Deduplicator) {
	tool := mcp.NewTool("loreweave_dedup",
		mcp.WithDescription("Find near-duplicate facts and merge groups above the auto-merge threshold into a single master fact. Groups between the discovery and auto-merge thresholds are surfaced for review."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithBoolean("dry_run",
			mcp.Description("Report duplicate groups without merging (default: false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		dryRun := false
		if v, err := req.RequireBool("dry_run"); err == nil {
			dryRun = v
		}

		report, err := deduplicator.Run(ctx, dedupe.Options{DryRun: dryRun})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("dedup error: %v", err)), nil
		}
		return jsonResult(report), nil
	})
}

func registerRelevanceTool(s *server.MCPServer, scorer *relevance.Scorer) {
	tool := mcp.NewTool("loreweave_relevance",
		mcp.WithDescription("Compute relevance scores for active facts and flag stale, unused ones as safe to hide. Hiding deprecates (reversible), never deletes."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("context",
			mcp.Description("Optional context query; overlap with fact content is blended into the score"),
		),
		mcp.WithBoolean("apply",
			mcp.Description("Deprecate hide-flagged facts instead of only reporting them (default: false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		opts := relevance.Options{}
		if v, err := req.RequireString("context"); err == nil {
			opts.ContextQuery = v
		}
		if v, err := req.RequireBool("apply"); err == nil {
			opts.Apply = v
		}

		report, err := scorer.Run(ctx, opts)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("relevance error: %v", err)), nil
		}
		return jsonResult(report), nil
	})
}

func registerReliabilityTool(s *server.MCPServer, scorer *reliability.Scorer) {
	tool := mcp.NewTool("loreweave_reliability",
		mcp.WithDescription("Grade fact sources by the track record of their facts: average confidence, contradiction rate, and support density. Read-only."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		report, err := scorer.Run(ctx, reliability.Options{})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("reliability error: %v", err)), nil
		}
		return jsonResult(report), nil
	})
}

func registerBoostTool(s *server.MCPServer, manager *lifecycle.Manager) {
	tool := mcp.NewTool("loreweave_boost",
		mcp.WithDescription("Boost a fact's confidence one staircase step (85, 90, 95, 100). Never decreases."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("fact_id",
			mcp.Required(),
			mcp.Description("ID of the fact to boost"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		id, err := req.RequireString("fact_id")
		if err != nil {
			return mcp.NewToolResultError("fact_id is required"), nil
		}
		confidence, err := manager.Boost(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("boost error: %v", err)), nil
		}
		return jsonResult(map[string]any{"fact_id": id, "confidence": confidence}), nil
	})
}

func registerProtectTool(s *server.MCPServer, manager *lifecycle.Manager) {
	tool := mcp.NewTool("loreweave_protect",
		mcp.WithDescription("Permanently protect a fact: confidence 100, immune to deprecation and automated confidence changes. One-way."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("fact_id",
			mcp.Required(),
			mcp.Description("ID of the fact to protect"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		id, err := req.RequireString("fact_id")
		if err != nil {
			return mcp.NewToolResultError("fact_id is required"), nil
		}
		if err := manager.Protect(ctx, id); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("protect error: %v", err)), nil
		}
		return jsonResult(map[string]any{"fact_id": id, "protected": true}), nil
	})
}

func registerStatsTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("loreweave_stats",
		mcp.WithDescription("Knowledge-base statistics: fact counts by status, kind, protection, and contradiction grouping."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := st.Stats(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats error: %v", err)), nil
		}
		return jsonResult(stats), nil
	})
}

// --- Resources ---

func registerStatsResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		"loreweave://stats",
		"Knowledge-base statistics",
		mcp.WithResourceDescription("Fact counts by status, kind, protection, and contradiction grouping"),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := st.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading stats: %w", err)
		}
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "loreweave://stats",
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}
