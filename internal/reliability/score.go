// Package reliability grades fact sources by the track record of the facts
// they produced. Pure arithmetic over store aggregates; no LLM involved.
package reliability

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/marrowlane/loreweave/internal/store"
	"go.uber.org/zap"
)

// Tier labels for source trust levels.
const (
	TierTrust    = "TRUST"
	TierVerify   = "VERIFY"
	TierDistrust = "DISTRUST"
)

// Tier score cutoffs.
const (
	trustFloor  = 80
	verifyFloor = 60
)

// DefaultMinFacts is the minimum fact count for a source to be graded at
// all; fewer facts is too small a sample for a meaningful rate.
const DefaultMinFacts = 3

// SourceScore is one graded source.
type SourceScore struct {
	SourceID          string  `json:"source_id"`
	Score             int     `json:"score"`
	Tier              string  `json:"tier"`
	FactCount         int     `json:"fact_count"`
	AvgConfidence     float64 `json:"avg_confidence"`
	ContradictionRate float64 `json:"contradiction_rate"`
	SupportRate       float64 `json:"support_rate"`
}

// Report lists graded sources, highest score first.
type Report struct {
	Sources []SourceScore `json:"sources"`
	Skipped int           `json:"skipped"` // below the minimum fact count
}

// Scorer grades sources from store aggregates.
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

// Options controls a reliability run.
type Options struct {
	MinFacts int
}

// Run grades every source with enough facts and returns them sorted by
// score descending. Read-only: grading never mutates facts.
func (s *Scorer) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.MinFacts <= 0 {
		opts.MinFacts = DefaultMinFacts
	}

	aggs, err := s.store.SourceAggregates(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("loading source aggregates: %w", err)
	}

	report := &Report{}
	for _, agg := range aggs {
		if agg.FactCount < opts.MinFacts {
			report.Skipped++
			continue
		}
		report.Sources = append(report.Sources, grade(agg))
	}

	sort.Slice(report.Sources, func(i, j int) bool {
		if report.Sources[i].Score != report.Sources[j].Score {
			return report.Sources[i].Score > report.Sources[j].Score
		}
		return report.Sources[i].SourceID < report.Sources[j].SourceID
	})

	s.logger.Info("reliability run complete",
		zap.Int("graded", len(report.Sources)),
		zap.Int("skipped", report.Skipped))
	return report, nil
}

// grade converts one source's aggregates into a score and tier.
//
// The score blends average confidence (40%), the share of facts never
// contradicted (30%), and support density capped at 3 supports per fact
// (30%), scaled to 0-100.
func grade(agg store.SourceAggregate) SourceScore {
	contrRate := float64(agg.ContradictingFacts) / float64(agg.FactCount)
	supportRate := float64(agg.SupportSum) / float64(agg.FactCount)

	score := 0.4*(agg.AvgConfidence/100) +
		0.3*(1-contrRate) +
		0.3*math.Min(supportRate/3, 1)

	return SourceScore{
		SourceID:          agg.SourceID,
		Score:             int(math.Round(score * 100)),
		Tier:              tierFor(int(math.Round(score * 100))),
		FactCount:         agg.FactCount,
		AvgConfidence:     agg.AvgConfidence,
		ContradictionRate: contrRate,
		SupportRate:       supportRate,
	}
}

func tierFor(score int) string {
	switch {
	case score >= trustFloor:
		return TierTrust
	case score >= verifyFloor:
		return TierVerify
	default:
		return TierDistrust
	}
}
