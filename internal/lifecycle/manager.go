// Package lifecycle implements the per-fact state machine: confidence
// boosts, one-way protection, deprecation, and wall-of-text cleaning.
package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/marrowlane/loreweave/internal/store"
	"go.uber.org/zap"
)

// ProtectedSupportSentinel is the support count stamped on protected facts.
// Large enough that no organic support accumulation reaches it, so
// downstream scoring treats protected facts as maximally supported.
const ProtectedSupportSentinel = 1000

// boostSteps is the confidence staircase. A boost lands on the first step
// above the current value; at the top it is a no-op.
var boostSteps = []int{85, 90, 95, 100}

// Manager applies lifecycle transitions to facts.
type Manager struct {
	store  store.Store
	logger *zap.Logger
}

// New creates a Manager.
func New(st store.Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: st, logger: logger}
}

// Boost raises a fact's confidence to the next staircase step and returns
// the new value. Monotonic: confidence never decreases, and a fact already
// at 100 is left unchanged.
func (m *Manager) Boost(ctx context.Context, id string) (int, error) {
	f, err := m.store.GetFact(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("loading fact: %w", err)
	}
	if f == nil {
		return 0, fmt.Errorf("fact not found: %s", id)
	}
	if f.IsProtected {
		return 0, fmt.Errorf("cannot boost protected fact %s", id)
	}

	next := NextBoost(f.Confidence)
	if next == f.Confidence {
		return f.Confidence, nil
	}
	if err := m.store.SetConfidence(ctx, id, next); err != nil {
		return 0, fmt.Errorf("boosting fact %s: %w", id, err)
	}
	m.logger.Info("fact boosted",
		zap.String("fact_id", id),
		zap.Int("from", f.Confidence),
		zap.Int("to", next))
	return next, nil
}

// NextBoost returns the staircase step one boost reaches from the given
// confidence.
func NextBoost(confidence int) int {
	for _, step := range boostSteps {
		if confidence < step {
			return step
		}
	}
	return confidence
}

// Protect makes a fact immune to deprecation and confidence changes:
// confidence 100, support sentinel, protected flag. One-way and only valid
// from the ACTIVE, unprotected state; anything else is rejected.
func (m *Manager) Protect(ctx context.Context, id string) error {
	f, err := m.store.GetFact(ctx, id)
	if err != nil {
		return fmt.Errorf("loading fact: %w", err)
	}
	if f == nil {
		return fmt.Errorf("fact not found: %s", id)
	}
	if f.IsProtected {
		return fmt.Errorf("fact %s is already protected", id)
	}
	if f.Status != store.StatusActive {
		return fmt.Errorf("cannot protect %s fact %s", f.Status, id)
	}

	if err := m.store.Protect(ctx, id, ProtectedSupportSentinel); err != nil {
		return fmt.Errorf("protecting fact %s: %w", id, err)
	}
	m.logger.Info("fact protected", zap.String("fact_id", id))
	return nil
}

// Deprecate transitions a fact to DEPRECATED. Rejected for protected facts.
func (m *Manager) Deprecate(ctx context.Context, id string) error {
	if err := m.store.SetStatus(ctx, id, store.StatusDeprecated); err != nil {
		return fmt.Errorf("deprecating fact %s: %w", id, err)
	}
	m.logger.Info("fact deprecated", zap.String("fact_id", id))
	return nil
}

// CleanReport records one wall-of-text split.
type CleanReport struct {
	FactID    string   `json:"fact_id"`
	ChildIDs  []string `json:"child_ids"`
	Sentences int      `json:"sentences"`
	Applied   bool     `json:"applied"`
}

// wallOfTextMinLen is the content length below which a fact is never
// treated as a wall of text.
const wallOfTextMinLen = 400

// conversational markers typical of raw multi-turn excerpts.
var excerptMarkers = []string{"\n\n", "User:", "Assistant:", "Q:", "A:", "- "}

// IsWallOfText reports whether content looks like an unedited multi-turn
// excerpt rather than a single curated fact.
func IsWallOfText(content string) bool {
	if len(content) < wallOfTextMinLen {
		return false
	}
	for _, marker := range excerptMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return len(splitSentences(content)) >= 4
}

// Clean splits a wall-of-text fact into atomic children, one per sentence,
// each inheriting importance, confidence, and source from the original. The
// original becomes a DEPRECATED story container so context survives without
// double-counting in atomic retrieval.
func (m *Manager) Clean(ctx context.Context, id string, dryRun bool) (*CleanReport, error) {
	f, err := m.store.GetFact(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading fact: %w", err)
	}
	if f == nil {
		return nil, fmt.Errorf("fact not found: %s", id)
	}
	if f.IsProtected {
		return nil, fmt.Errorf("cannot clean protected fact %s", id)
	}
	if !IsWallOfText(f.Content) {
		return nil, fmt.Errorf("fact %s does not look like a wall of text", id)
	}

	sentences := splitSentences(f.Content)
	if len(sentences) < 2 {
		return nil, fmt.Errorf("fact %s yields only %d sentence(s), nothing to split", id, len(sentences))
	}

	report := &CleanReport{FactID: id, Sentences: len(sentences)}
	if dryRun {
		return report, nil
	}

	for _, sentence := range sentences {
		child := &store.Fact{
			Content:      sentence,
			Kind:         store.KindAtomic,
			Confidence:   f.Confidence,
			Importance:   f.Importance,
			IsAtomic:     true,
			ParentFactID: f.ID,
			Source:       f.Source,
			SourceID:     f.SourceID,
		}
		if err := m.store.AddFact(ctx, child); err != nil {
			return report, fmt.Errorf("creating atomic child of %s: %w", id, err)
		}
		report.ChildIDs = append(report.ChildIDs, child.ID)
	}

	f.Kind = store.KindStory
	f.Status = store.StatusDeprecated
	if err := m.store.UpdateFact(ctx, f); err != nil {
		return report, fmt.Errorf("converting original %s to story: %w", id, err)
	}
	report.Applied = true

	m.logger.Info("wall-of-text fact cleaned",
		zap.String("fact_id", id),
		zap.Int("children", len(report.ChildIDs)))
	return report, nil
}

// sentence terminators for the splitter.
var sentenceEnders = ".!?"

// splitSentences breaks content into trimmed sentences, dropping fragments
// too short to stand alone as facts.
func splitSentences(content string) []string {
	var sentences []string
	var sb strings.Builder
	flush := func() {
		s := strings.TrimSpace(sb.String())
		sb.Reset()
		if len(s) >= 15 {
			sentences = append(sentences, s)
		}
	}
	for _, r := range content {
		if r == '\n' {
			flush()
			continue
		}
		sb.WriteRune(r)
		if strings.ContainsRune(sentenceEnders, r) {
			flush()
		}
	}
	flush()
	return sentences
}
