package reliability

import (
	"context"
	"fmt"
	"testing"

	"github.com/marrowlane/loreweave/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewStore(store.Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedSource(t *testing.T, s store.Store, sourceID string, n, confidence, support int, grouped bool) {
	t.Helper()
	ctx := context.Background()
	var ids []string
	for i := 0; i < n; i++ {
		f := &store.Fact{
			Content:      fmt.Sprintf("%s fact %d", sourceID, i),
			Confidence:   confidence,
			SourceID:     sourceID,
			SupportCount: support,
		}
		if err := s.AddFact(ctx, f); err != nil {
			t.Fatalf("AddFact: %v", err)
		}
		ids = append(ids, f.ID)
	}
	if grouped {
		if err := s.BulkMarkContradicting(ctx, ids, sourceID+"-group"); err != nil {
			t.Fatalf("BulkMarkContradicting: %v", err)
		}
	}
}

func TestRunPerfectSourceScoresHundred(t *testing.T) {
	s := newTestStore(t)
	// Full confidence, no contradictions, saturated support.
	seedSource(t, s, "canon", 4, 100, 3, false)

	report, err := New(s, nil).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Sources) != 1 {
		t.Fatalf("sources = %d, want 1", len(report.Sources))
	}
	src := report.Sources[0]
	if src.Score != 100 {
		t.Errorf("score = %d, want 100", src.Score)
	}
	if src.Tier != TierTrust {
		t.Errorf("tier = %q, want TRUST", src.Tier)
	}
}

func TestRunTiers(t *testing.T) {
	s := newTestStore(t)
	seedSource(t, s, "canon", 3, 100, 3, false)  // score 100 -> TRUST
	seedSource(t, s, "gossip", 3, 20, 0, true)   // every fact contradicted -> low
	seedSource(t, s, "archive", 3, 80, 1, false) // solid but light support

	report, err := New(s, nil).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Sources) != 3 {
		t.Fatalf("sources = %d, want 3", len(report.Sources))
	}

	// Sorted descending by score.
	for i := 1; i < len(report.Sources); i++ {
		if report.Sources[i-1].Score < report.Sources[i].Score {
			t.Errorf("sources not sorted: %+v", report.Sources)
		}
	}

	byID := map[string]SourceScore{}
	for _, src := range report.Sources {
		byID[src.SourceID] = src
	}
	if byID["canon"].Tier != TierTrust {
		t.Errorf("canon tier = %q", byID["canon"].Tier)
	}
	// 0.4*0.2 + 0.3*0 + 0.3*0 = 8 -> DISTRUST
	if byID["gossip"].Tier != TierDistrust {
		t.Errorf("gossip tier = %q (score %d)", byID["gossip"].Tier, byID["gossip"].Score)
	}
	// 0.4*0.8 + 0.3*1 + 0.3*(1/3) = 72 -> VERIFY
	if byID["archive"].Tier != TierVerify {
		t.Errorf("archive tier = %q (score %d)", byID["archive"].Tier, byID["archive"].Score)
	}
}

func TestRunSkipsThinSources(t *testing.T) {
	s := newTestStore(t)
	seedSource(t, s, "thin", 2, 90, 0, false)
	seedSource(t, s, "thick", 3, 90, 0, false)

	report, err := New(s, nil).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Sources) != 1 || report.Sources[0].SourceID != "thick" {
		t.Errorf("sources = %+v, want only thick", report.Sources)
	}
	if report.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", report.Skipped)
	}
}

func TestGradeFormula(t *testing.T) {
	score := grade(store.SourceAggregate{
		SourceID:           "mixed",
		FactCount:          4,
		AvgConfidence:      50,
		ContradictingFacts: 2,
		SupportSum:         6,
	})
	// 0.4*0.5 + 0.3*0.5 + 0.3*min(1.5/3, 1) = 0.2+0.15+0.15 = 0.5
	if score.Score != 50 {
		t.Errorf("score = %d, want 50", score.Score)
	}
	if score.ContradictionRate != 0.5 {
		t.Errorf("contradiction rate = %v, want 0.5", score.ContradictionRate)
	}
}
