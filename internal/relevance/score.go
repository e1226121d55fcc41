// Package relevance scores facts for retention and flags stale, unused ones
// as safe to hide. Hiding deprecates, never deletes, so it is always
// reversible.
package relevance

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/marrowlane/loreweave/internal/store"
	"go.uber.org/zap"
)

const (
	// hideScoreCeiling: a fact scoring below this is hide-eligible.
	hideScoreCeiling = 25.0

	// hideMinAgeDays: only facts older than this are hide-eligible.
	hideMinAgeDays = 30
)

// FactScore is one fact's relevance breakdown.
type FactScore struct {
	FactID        string  `json:"fact_id"`
	BaseScore     float64 `json:"base_score"`
	FinalScore    float64 `json:"final_score"`
	DaysOld       int     `json:"days_old"`
	RetrievalCnt  int     `json:"retrieval_count"`
	ShouldHide    bool    `json:"should_hide"`
	Hidden        bool    `json:"hidden"`
	ContextScore  float64 `json:"context_score,omitempty"`
	ContentPrefix string  `json:"content_prefix"`
}

// Report lists scored facts, lowest relevance first so hide candidates
// surface at the top.
type Report struct {
	DryRun       bool        `json:"dry_run"`
	Scored       int         `json:"scored"`
	HideFlagged  int         `json:"hide_flagged"`
	Hidden       int         `json:"hidden"`
	Failed       int         `json:"failed"`
	ContextQuery string      `json:"context_query,omitempty"`
	Facts        []FactScore `json:"facts"`
}

// Options controls a relevance run.
type Options struct {
	// ContextQuery, if set, blends query-word overlap into the score.
	ContextQuery string
	// Apply deprecates hide-flagged facts instead of only reporting them.
	Apply  bool
	DryRun bool
	// Now overrides the clock, for tests. Zero means time.Now.
	Now time.Time
}

// Scorer computes relevance over active facts.
type Scorer struct {
	store  store.Store
	logger *zap.Logger
}

// New creates a Scorer.
func New(st store.Store, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{store: st, logger: logger}
}

// Run scores every ACTIVE fact and flags hide candidates: final score under
// the ceiling, older than the age floor, and never retrieved. With Apply
// set, flagged facts are deprecated; protected facts are never touched.
func (s *Scorer) Run(ctx context.Context, opts Options) (*Report, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	facts, err := s.store.ListFacts(ctx, store.ListOpts{
		Status:        store.StatusActive,
		MinConfidence: -1,
		MaxConfidence: -1,
	})
	if err != nil {
		return nil, fmt.Errorf("listing active facts: %w", err)
	}

	report := &Report{DryRun: opts.DryRun, ContextQuery: opts.ContextQuery}
	queryWords := splitWords(opts.ContextQuery)

	for _, f := range facts {
		fs := scoreFact(f, now, queryWords)
		report.Scored++

		if fs.ShouldHide && f.IsProtected {
			// Protected facts are retention-exempt whatever they score.
			fs.ShouldHide = false
		}
		if fs.ShouldHide {
			report.HideFlagged++
			if opts.Apply && !opts.DryRun {
				if err := s.store.SetStatus(ctx, f.ID, store.StatusDeprecated); err != nil {
					s.logger.Warn("hiding fact failed",
						zap.String("fact_id", f.ID), zap.Error(err))
					report.Failed++
				} else {
					fs.Hidden = true
					report.Hidden++
				}
			}
		}
		report.Facts = append(report.Facts, fs)
	}

	sort.Slice(report.Facts, func(i, j int) bool {
		if report.Facts[i].FinalScore != report.Facts[j].FinalScore {
			return report.Facts[i].FinalScore < report.Facts[j].FinalScore
		}
		return report.Facts[i].FactID < report.Facts[j].FactID
	})

	s.logger.Info("relevance run complete",
		zap.Int("scored", report.Scored),
		zap.Int("hide_flagged", report.HideFlagged),
		zap.Int("hidden", report.Hidden),
		zap.Bool("dry_run", opts.DryRun))
	return report, nil
}

// scoreFact computes the recency/usage/importance/confidence blend, plus the
// optional context blend when query words are supplied.
func scoreFact(f *store.Fact, now time.Time, queryWords []string) FactScore {
	days := int(now.Sub(f.CreatedAt).Hours() / 24)
	recency := math.Max(0, 100-2*float64(days))
	frequency := float64(f.RetrievalCount) * 10

	base := 0.3*recency + 0.3*frequency + 0.2*float64(f.Importance)*10 + 0.2*float64(f.Confidence)
	final := base

	var contextScore float64
	if len(queryWords) > 0 {
		contextScore = wordOverlap(queryWords, f.Content)
		final = 0.7*base + 0.3*contextScore*100
	}

	return FactScore{
		FactID:        f.ID,
		BaseScore:     base,
		FinalScore:    final,
		DaysOld:       days,
		RetrievalCnt:  f.RetrievalCount,
		ShouldHide:    final < hideScoreCeiling && days > hideMinAgeDays && f.RetrievalCount == 0,
		ContextScore:  contextScore,
		ContentPrefix: prefix(f.Content, 60),
	}
}

// wordOverlap is the fraction of query words also present in the content.
func wordOverlap(queryWords []string, content string) float64 {
	contentWords := make(map[string]bool)
	for _, w := range splitWords(content) {
		contentWords[w] = true
	}
	matched := 0
	for _, w := range queryWords {
		if contentWords[w] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryWords))
}

func splitWords(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
