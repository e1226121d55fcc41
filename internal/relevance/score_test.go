package relevance

import (
	"context"
	"testing"
	"time"

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

func addFact(t *testing.T, s store.Store, f *store.Fact) *store.Fact {
	t.Helper()
	if err := s.AddFact(context.Background(), f); err != nil {
		t.Fatalf("AddFact: %v", err)
	}
	return f
}

var now = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func TestRunFlagsStaleUnusedFact(t *testing.T) {
	s := newTestStore(t)

	// 40 days old, never retrieved, weak: base = 0.3*20 + 0 + 0.2*10 + 0.2*20
	// = 12, under the ceiling.
	stale := addFact(t, s, &store.Fact{
		Content:    "Marlowe once mentioned disliking fennel",
		Confidence: 20,
		Importance: 1,
		CreatedAt:  now.Add(-40 * 24 * time.Hour),
	})

	report, err := New(s, nil).Run(context.Background(), Options{Now: now})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.HideFlagged != 1 {
		t.Fatalf("hide flagged = %d, want 1 (report: %+v)", report.HideFlagged, report.Facts)
	}
	if !report.Facts[0].ShouldHide || report.Facts[0].FactID != stale.ID {
		t.Errorf("facts = %+v", report.Facts)
	}

	// Report-only by default.
	got, _ := s.GetFact(context.Background(), stale.ID)
	if got.Status != store.StatusActive {
		t.Error("fact hidden without --apply")
	}
}

func TestRunSingleRetrievalPreventsHiding(t *testing.T) {
	s := newTestStore(t)

	addFact(t, s, &store.Fact{
		Content:        "Marlowe once mentioned disliking fennel",
		Confidence:     20,
		Importance:     1,
		RetrievalCount: 1,
		CreatedAt:      now.Add(-40 * 24 * time.Hour),
	})

	report, err := New(s, nil).Run(context.Background(), Options{Now: now})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.HideFlagged != 0 {
		t.Errorf("hide flagged = %d, want 0 for a retrieved fact", report.HideFlagged)
	}
}

func TestRunRecentFactNotFlagged(t *testing.T) {
	s := newTestStore(t)

	addFact(t, s, &store.Fact{
		Content:    "Marlowe once mentioned disliking fennel",
		Confidence: 20,
		Importance: 1,
		CreatedAt:  now.Add(-10 * 24 * time.Hour),
	})

	report, err := New(s, nil).Run(context.Background(), Options{Now: now})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.HideFlagged != 0 {
		t.Errorf("hide flagged = %d, want 0 under the age floor", report.HideFlagged)
	}
}

func TestRunApplyHidesFlaggedFacts(t *testing.T) {
	s := newTestStore(t)

	stale := addFact(t, s, &store.Fact{
		Content:    "Marlowe once mentioned disliking fennel",
		Confidence: 20,
		Importance: 1,
		CreatedAt:  now.Add(-40 * 24 * time.Hour),
	})

	report, err := New(s, nil).Run(context.Background(), Options{Now: now, Apply: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Hidden != 1 {
		t.Fatalf("hidden = %d, want 1", report.Hidden)
	}
	got, _ := s.GetFact(context.Background(), stale.ID)
	if got.Status != store.StatusDeprecated {
		t.Errorf("status = %q, want DEPRECATED", got.Status)
	}

	// Reversible: reactivating restores retrieval eligibility.
	if err := s.SetStatus(context.Background(), stale.ID, store.StatusActive); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
}

func TestRunNeverHidesProtectedFacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := addFact(t, s, &store.Fact{
		Content:    "Marlowe once mentioned disliking fennel",
		Confidence: 20,
		Importance: 1,
		CreatedAt:  now.Add(-400 * 24 * time.Hour),
	})
	if err := s.Protect(ctx, f.ID, 1000); err != nil {
		t.Fatalf("Protect: %v", err)
	}

	report, err := New(s, nil).Run(ctx, Options{Now: now, Apply: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.HideFlagged != 0 || report.Hidden != 0 {
		t.Errorf("report = %+v, protected facts must never be flagged", report)
	}
	got, _ := s.GetFact(ctx, f.ID)
	if got.Status != store.StatusActive {
		t.Error("protected fact hidden")
	}
}

func TestRunContextBlend(t *testing.T) {
	s := newTestStore(t)

	matching := addFact(t, s, &store.Fact{
		Content:    "Marlowe repairs diesel engines on weekends",
		Confidence: 50,
		Importance: 1,
		CreatedAt:  now.Add(-5 * 24 * time.Hour),
	})
	other := addFact(t, s, &store.Fact{
		Content:    "Harbor taxes doubled across Flanders last spring",
		Confidence: 50,
		Importance: 1,
		CreatedAt:  now.Add(-5 * 24 * time.Hour),
	})

	report, err := New(s, nil).Run(context.Background(), Options{
		Now:          now,
		ContextQuery: "diesel engines",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	scores := map[string]float64{}
	for _, fs := range report.Facts {
		scores[fs.FactID] = fs.FinalScore
	}
	if scores[matching.ID] <= scores[other.ID] {
		t.Errorf("context-matching fact scored %v, other %v; want matching higher",
			scores[matching.ID], scores[other.ID])
	}
}

func TestScoreFactFormula(t *testing.T) {
	f := &store.Fact{
		ID:             "f1",
		Content:        "whatever",
		Confidence:     20,
		Importance:     1,
		RetrievalCount: 0,
		CreatedAt:      now.Add(-40 * 24 * time.Hour),
	}
	fs := scoreFact(f, now, nil)
	// recency = max(0, 100-80) = 20; base = 0.3*20 + 0 + 0.2*10 + 0.2*20 = 12.
	if fs.BaseScore != 12 {
		t.Errorf("base score = %v, want 12", fs.BaseScore)
	}
	if !fs.ShouldHide {
		t.Error("expected shouldHide for 40-day-old unretrieved fact scoring 12")
	}
}
