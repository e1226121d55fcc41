// Package dedupe finds and merges near-duplicate facts.
//
// Duplicate detection uses plain Jaccard overlap of normalized content words
// rather than the full signal pipeline: duplicates are near-verbatim
// restatements, so the simpler measure is sufficient and cheaper to audit.
package dedupe

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/marrowlane/loreweave/internal/store"
	"go.uber.org/zap"
)

// Default thresholds. Discovery surfaces candidate groups for manual review;
// auto-merge is conservative enough to run unattended.
const (
	DefaultDiscoveryThreshold = 0.7
	DefaultAutoMergeThreshold = 0.9
)

// Options controls a deduplication run.
type Options struct {
	DiscoveryThreshold float64
	AutoMergeThreshold float64
	DryRun             bool
}

// Group is one set of mutually similar facts surfaced for review or merging.
type Group struct {
	MasterID   string   `json:"master_id"`
	MemberIDs  []string `json:"member_ids"` // duplicates absorbed by the master
	Similarity float64  `json:"similarity"` // lowest member-to-master score in the group
	AutoMerged bool     `json:"auto_merged"`
}

// Report summarizes one deduplication run.
type Report struct {
	DryRun        bool    `json:"dry_run"`
	Scanned       int     `json:"scanned"`
	PairsCompared int     `json:"pairs_compared"`
	Groups        []Group `json:"groups"`
	Merged        int     `json:"merged"`
	Skipped       int     `json:"skipped"`
	Failed        int     `json:"failed"`
}

// Deduplicator merges near-duplicate facts through the store contract.
type Deduplicator struct {
	store  store.Store
	logger *zap.Logger
}

// New creates a Deduplicator.
func New(st store.Store, logger *zap.Logger) *Deduplicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduplicator{store: st, logger: logger}
}

// Run scans ACTIVE facts for near-duplicates. Groups at or above the
// auto-merge threshold are merged (unless DryRun); groups at or above the
// discovery threshold are reported for manual review. Store failures on
// individual merges are counted, never fatal to the batch.
func (d *Deduplicator) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.DiscoveryThreshold <= 0 {
		opts.DiscoveryThreshold = DefaultDiscoveryThreshold
	}
	if opts.AutoMergeThreshold <= 0 {
		opts.AutoMergeThreshold = DefaultAutoMergeThreshold
	}

	facts, err := d.store.ListFacts(ctx, store.ListOpts{
		Status:        store.StatusActive,
		MinConfidence: -1,
		MaxConfidence: -1,
	})
	if err != nil {
		return nil, fmt.Errorf("listing active facts: %w", err)
	}

	// Container records are not duplicate candidates.
	candidates := make([]*store.Fact, 0, len(facts))
	for _, f := range facts {
		if f.Kind == store.KindStory || f.Kind == store.KindLore {
			continue
		}
		candidates = append(candidates, f)
	}

	report := &Report{DryRun: opts.DryRun, Scanned: len(candidates)}

	words := make(map[string]map[string]struct{}, len(candidates))
	for _, f := range candidates {
		words[f.ID] = contentWords(f.Content)
	}

	// Deterministic master precedence: highest confidence first, then oldest.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	assigned := make(map[string]bool, len(candidates))
	for i, master := range candidates {
		if assigned[master.ID] {
			continue
		}
		group := Group{MasterID: master.ID, Similarity: 1}
		for _, other := range candidates[i+1:] {
			if assigned[other.ID] {
				continue
			}
			sim := wordJaccard(words[master.ID], words[other.ID])
			report.PairsCompared++
			if sim < opts.DiscoveryThreshold {
				continue
			}
			group.MemberIDs = append(group.MemberIDs, other.ID)
			if sim < group.Similarity {
				group.Similarity = sim
			}
		}
		if len(group.MemberIDs) == 0 {
			continue
		}

		group.AutoMerged = group.Similarity >= opts.AutoMergeThreshold
		if group.AutoMerged && !opts.DryRun {
			if err := d.merge(ctx, master, group.MemberIDs); err != nil {
				d.logger.Warn("dedupe merge failed",
					zap.String("master_id", master.ID), zap.Error(err))
				report.Failed++
				group.AutoMerged = false
			} else {
				report.Merged += len(group.MemberIDs)
				assigned[master.ID] = true
				for _, id := range group.MemberIDs {
					assigned[id] = true
				}
			}
		} else {
			report.Skipped += len(group.MemberIDs)
		}
		report.Groups = append(report.Groups, group)
	}

	d.logger.Info("dedup run complete",
		zap.Int("scanned", report.Scanned),
		zap.Int("groups", len(report.Groups)),
		zap.Int("merged", report.Merged),
		zap.Bool("dry_run", opts.DryRun))
	return report, nil
}

// merge absorbs the duplicates into the master: union keywords and
// relationships, keep the max importance, add up support, then deprecate the
// absorbed members so their content stays recoverable.
func (d *Deduplicator) merge(ctx context.Context, master *store.Fact, dupIDs []string) error {
	merged := *master
	for _, id := range dupIDs {
		dup, err := d.store.GetFact(ctx, id)
		if err != nil {
			return fmt.Errorf("loading duplicate %s: %w", id, err)
		}
		if dup == nil {
			continue
		}
		merged.Keywords = unionStrings(merged.Keywords, dup.Keywords)
		merged.Relationships = unionStrings(merged.Relationships, dup.Relationships)
		if dup.Importance > merged.Importance {
			merged.Importance = dup.Importance
		}
		merged.SupportCount += dup.SupportCount
	}

	if err := d.store.UpdateFact(ctx, &merged); err != nil {
		return fmt.Errorf("updating master %s: %w", master.ID, err)
	}
	for _, id := range dupIDs {
		if err := d.store.SetStatus(ctx, id, store.StatusDeprecated); err != nil {
			return fmt.Errorf("deprecating duplicate %s: %w", id, err)
		}
	}
	return nil
}

// contentWords lowercases and strips punctuation, returning the word set.
func contentWords(content string) map[string]struct{} {
	set := make(map[string]struct{})
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			set[b.String()] = struct{}{}
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(content) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return set
}

func wordJaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, v := range a {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	for _, v := range b {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
