// Package consolidate reconnects orphaned facts to the knowledge base.
//
// Orphans (old, low-confidence, disconnected facts) are swept in two
// passes. The attachment pass matches each orphan against existing
// high-confidence anchors and records a belongsTo relationship for strong
// matches. The clustering pass builds a similarity graph over the remaining
// orphans and reconstructs new story containers from its connected
// components.
package consolidate

import (
	"context"
	"fmt"
	"math"

	"github.com/marrowlane/loreweave/internal/judge"
	"github.com/marrowlane/loreweave/internal/signal"
	"github.com/marrowlane/loreweave/internal/store"
	"go.uber.org/zap"
)

const (
	// DefaultAttachThreshold is the minimum best-candidate score for the
	// attachment pass to record an attachment.
	DefaultAttachThreshold = 0.7

	// DefaultCandidateThreshold is the floor below which an anchor isn't
	// considered a candidate at all.
	DefaultCandidateThreshold = 0.4

	// DefaultEdgeThreshold is the clustering graph edge cutoff. Looser than
	// attachment: orphan-to-orphan matches are expected to be weaker.
	DefaultEdgeThreshold = 0.3

	// DefaultMaxOrphans bounds one run's orphan population; graph building
	// is the O(n²) cost. Overflow is reported as deferred, not dropped.
	DefaultMaxOrphans = 500

	// orphanConfidenceCeiling: orphans are facts below this confidence.
	orphanConfidenceCeiling = 60

	// attachConfidenceCap: attachment raises confidence proportionally to
	// the match score but never past this.
	attachConfidenceCap = 90
)

// Options controls a consolidation run.
type Options struct {
	AttachThreshold    float64
	CandidateThreshold float64
	EdgeThreshold      float64
	MaxOrphans         int
	DryRun             bool
}

func (o *Options) fillDefaults() {
	if o.AttachThreshold <= 0 {
		o.AttachThreshold = DefaultAttachThreshold
	}
	if o.CandidateThreshold <= 0 {
		o.CandidateThreshold = DefaultCandidateThreshold
	}
	if o.EdgeThreshold <= 0 {
		o.EdgeThreshold = DefaultEdgeThreshold
	}
	if o.MaxOrphans <= 0 {
		o.MaxOrphans = DefaultMaxOrphans
	}
}

// Attachment records one orphan-to-anchor match.
type Attachment struct {
	OrphanID      string  `json:"orphan_id"`
	AnchorID      string  `json:"anchor_id"`
	Score         float64 `json:"score"`
	NewConfidence int     `json:"new_confidence"`
	Applied       bool    `json:"applied"`
}

// Report summarizes one consolidation run with explicit partial-success
// counts: no single-item failure aborts the batch.
type Report struct {
	DryRun          bool         `json:"dry_run"`
	Orphans         int          `json:"orphans"`
	Deferred        int          `json:"deferred"` // over the per-run bound
	Attachments     []Attachment `json:"attachments"`
	Attached        int          `json:"attached"`
	AlreadyAttached int          `json:"already_attached"`
	Clusters        []Cluster    `json:"clusters"`
	StoriesCreated  int          `json:"stories_created"`
	Singletons      int          `json:"singletons"`
	Skipped         int          `json:"skipped"` // low-confidence but not orphan-shaped
	Failed          int          `json:"failed"`
}

// Consolidator runs the two-pass orphan sweep.
type Consolidator struct {
	store  store.Store
	judge  judge.Judge // nil = fallback outlines only
	logger *zap.Logger
}

// New creates a Consolidator. The judge may be nil; story synthesis then
// always uses the deterministic fallback outline.
func New(st store.Store, j judge.Judge, logger *zap.Logger) *Consolidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consolidator{store: st, judge: j, logger: logger}
}

// Run executes the attachment pass then the clustering pass over the
// current orphan population.
// Idempotent: results are derived fresh from current data each run.
func (c *Consolidator) Run(ctx context.Context, opts Options) (*Report, error) {
	opts.fillDefaults()
	report := &Report{DryRun: opts.DryRun}

	orphans, skipped, err := c.listOrphans(ctx)
	if err != nil {
		return nil, err
	}
	report.Skipped = skipped
	if len(orphans) > opts.MaxOrphans {
		report.Deferred = len(orphans) - opts.MaxOrphans
		orphans = orphans[:opts.MaxOrphans]
	}
	report.Orphans = len(orphans)

	anchors, err := c.listAnchors(ctx)
	if err != nil {
		return nil, err
	}

	cache := signal.NewCache()
	remaining := c.attachOrphans(ctx, orphans, anchors, cache, opts, report)
	c.clusterOrphans(ctx, remaining, cache, opts, report)

	c.logger.Info("consolidation run complete",
		zap.Int("orphans", report.Orphans),
		zap.Int("attached", report.Attached),
		zap.Int("stories_created", report.StoriesCreated),
		zap.Int("deferred", report.Deferred),
		zap.Int("failed", report.Failed),
		zap.Bool("dry_run", opts.DryRun))
	return report, nil
}

// listOrphans selects ACTIVE, unprotected facts with confidence below the
// orphan ceiling, at most one relationship, no parent, and no container kind.
// The second return is the count of low-confidence facts that failed the
// shape filters.
func (c *Consolidator) listOrphans(ctx context.Context) ([]*store.Fact, int, error) {
	facts, err := c.store.ListFacts(ctx, store.ListOpts{
		Status:        store.StatusActive,
		Unprotected:   true,
		MinConfidence: -1,
		MaxConfidence: orphanConfidenceCeiling - 1,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("listing orphan candidates: %w", err)
	}

	skipped := 0
	orphans := make([]*store.Fact, 0, len(facts))
	for _, f := range facts {
		if f.Kind == store.KindStory || f.Kind == store.KindLore ||
			f.ParentFactID != "" || len(f.Relationships) > 1 {
			skipped++
			continue
		}
		orphans = append(orphans, f)
	}
	return orphans, skipped, nil
}

// listAnchors selects ACTIVE facts with high confidence plus every STORY
// container regardless of confidence.
func (c *Consolidator) listAnchors(ctx context.Context) ([]*store.Fact, error) {
	anchors, err := c.store.ListActiveByConfidenceRange(ctx, orphanConfidenceCeiling, 100)
	if err != nil {
		return nil, fmt.Errorf("listing anchors: %w", err)
	}

	stories, err := c.store.ListFacts(ctx, store.ListOpts{
		Status:        store.StatusActive,
		Kind:          store.KindStory,
		MinConfidence: -1,
		MaxConfidence: orphanConfidenceCeiling - 1,
	})
	if err != nil {
		return nil, fmt.Errorf("listing story anchors: %w", err)
	}
	return append(anchors, stories...), nil
}

// attachOrphans runs the attachment pass. Returns the orphans that did not
// attach and therefore proceed to clustering untouched.
func (c *Consolidator) attachOrphans(ctx context.Context, orphans, anchors []*store.Fact,
	cache *signal.Cache, opts Options, report *Report) []*store.Fact {

	remaining := make([]*store.Fact, 0, len(orphans))
	for _, orphan := range orphans {
		orphanSig := cache.Get(orphan.ID, orphan.Content)

		var best *store.Fact
		bestScore := 0.0
		for _, anchor := range anchors {
			if anchor.ID == orphan.ID {
				continue
			}
			score := signal.Score(orphanSig, cache.Get(anchor.ID, anchor.Content))
			if score < opts.CandidateThreshold {
				continue
			}
			if score > bestScore {
				bestScore = score
				best = anchor
			}
		}

		if best == nil || bestScore < opts.AttachThreshold {
			remaining = append(remaining, orphan)
			continue
		}

		rel := "belongsTo:" + best.ID
		if orphan.HasRelationship(rel) {
			// Re-run over unchanged content lands on the same anchor; nothing
			// to rewrite.
			report.AlreadyAttached++
			continue
		}

		att := Attachment{
			OrphanID:      orphan.ID,
			AnchorID:      best.ID,
			Score:         bestScore,
			NewConfidence: attachedConfidence(orphan.Confidence, bestScore),
		}
		if !opts.DryRun {
			if err := c.applyAttachment(ctx, orphan, rel, att.NewConfidence); err != nil {
				c.logger.Warn("attachment failed",
					zap.String("orphan_id", orphan.ID), zap.Error(err))
				report.Failed++
				remaining = append(remaining, orphan)
				continue
			}
			att.Applied = true
		}
		report.Attachments = append(report.Attachments, att)
		report.Attached++
	}
	return remaining
}

func (c *Consolidator) applyAttachment(ctx context.Context, orphan *store.Fact, rel string, newConfidence int) error {
	if err := c.store.AddRelationship(ctx, orphan.ID, rel); err != nil {
		return fmt.Errorf("adding relationship: %w", err)
	}
	if newConfidence > orphan.Confidence {
		if err := c.store.SetConfidence(ctx, orphan.ID, newConfidence); err != nil {
			return fmt.Errorf("raising confidence: %w", err)
		}
	}
	return nil
}

// attachedConfidence raises an orphan's confidence toward a value
// proportional to the match score, capped, and never lowered.
func attachedConfidence(current int, score float64) int {
	proposed := int(math.Round(score * 100))
	if proposed > attachConfidenceCap {
		proposed = attachConfidenceCap
	}
	if proposed < current {
		return current
	}
	return proposed
}
