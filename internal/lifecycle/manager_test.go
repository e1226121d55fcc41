package lifecycle

import (
	"context"
	"strings"
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

func addFact(t *testing.T, s store.Store, f *store.Fact) *store.Fact {
	t.Helper()
	if err := s.AddFact(context.Background(), f); err != nil {
		t.Fatalf("AddFact: %v", err)
	}
	return f
}

func TestNextBoostStaircase(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 85},
		{50, 85},
		{84, 85},
		{85, 90},
		{88, 90},
		{90, 95},
		{92, 95},
		{95, 100},
		{99, 100},
		{100, 100},
	}
	for _, c := range cases {
		if got := NextBoost(c.in); got != c.want {
			t.Errorf("NextBoost(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestBoost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := New(s, nil)

	f := addFact(t, s, &store.Fact{Content: "Marlowe hums sea shanties while welding", Confidence: 92})

	got, err := m.Boost(ctx, f.ID)
	if err != nil {
		t.Fatalf("Boost: %v", err)
	}
	if got != 95 {
		t.Errorf("boost from 92 = %d, want 95", got)
	}

	// Walk the rest of the staircase.
	if got, _ = m.Boost(ctx, f.ID); got != 100 {
		t.Errorf("boost from 95 = %d, want 100", got)
	}
	if got, _ = m.Boost(ctx, f.ID); got != 100 {
		t.Errorf("boost at 100 = %d, want unchanged 100", got)
	}
}

func TestBoostRejectsProtectedAndMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := New(s, nil)

	f := addFact(t, s, &store.Fact{Content: "protected fact", Confidence: 90})
	if err := m.Protect(ctx, f.ID); err != nil {
		t.Fatalf("Protect: %v", err)
	}
	if _, err := m.Boost(ctx, f.ID); err == nil {
		t.Error("boosting a protected fact should fail")
	}
	if _, err := m.Boost(ctx, "missing-id"); err == nil {
		t.Error("boosting a missing fact should fail")
	}
}

func TestProtectIsOneWay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := New(s, nil)

	f := addFact(t, s, &store.Fact{Content: "Marlowe never lies to close friends", Confidence: 60})

	if err := m.Protect(ctx, f.ID); err != nil {
		t.Fatalf("Protect: %v", err)
	}
	got, _ := s.GetFact(ctx, f.ID)
	if !got.IsProtected || got.Confidence != 100 || got.SupportCount != ProtectedSupportSentinel {
		t.Errorf("after Protect: %+v", got)
	}

	if err := m.Protect(ctx, f.ID); err == nil {
		t.Error("re-protecting should fail")
	}
	if err := m.Deprecate(ctx, f.ID); err == nil {
		t.Error("deprecating a protected fact should fail")
	}
}

func TestProtectRequiresActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := New(s, nil)

	f := addFact(t, s, &store.Fact{Content: "retired", Status: store.StatusDeprecated})
	if err := m.Protect(ctx, f.ID); err == nil {
		t.Error("protecting a deprecated fact should fail")
	}
}

func TestDeprecate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := New(s, nil)

	f := addFact(t, s, &store.Fact{Content: "outdated detail"})
	if err := m.Deprecate(ctx, f.ID); err != nil {
		t.Fatalf("Deprecate: %v", err)
	}
	got, _ := s.GetFact(ctx, f.ID)
	if got.Status != store.StatusDeprecated {
		t.Errorf("status = %q, want DEPRECATED", got.Status)
	}
}

const wallOfText = `User: tell me about your childhood.
Assistant: Marlowe grew up on a canal barge outside Bruges with an aunt who smuggled tulip bulbs.
The barge was called the Gildenster and leaked every winter without fail.
Marlowe learned to sail before turning ten and never trusted dry land since.
The aunt sold the barge in 1999 to pay off a harbor fine.
The heron Oslo arrived two springs later and refused to leave the wheelhouse.
Marlowe still keeps the harbor fine receipt pinned above the galley stove.`

func TestIsWallOfText(t *testing.T) {
	if !IsWallOfText(wallOfText) {
		t.Error("multi-turn excerpt not detected")
	}
	if IsWallOfText("Marlowe keeps a pet heron named Oslo.") {
		t.Error("short single fact misdetected")
	}
}

func TestCleanSplitsWallOfText(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := New(s, nil)

	f := addFact(t, s, &store.Fact{
		Content:    wallOfText,
		Confidence: 55,
		Importance: 4,
		Source:     "chat",
		SourceID:   "session-3",
	})

	report, err := m.Clean(ctx, f.ID, false)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if !report.Applied || len(report.ChildIDs) < 3 {
		t.Fatalf("report = %+v", report)
	}

	for _, id := range report.ChildIDs {
		child, _ := s.GetFact(ctx, id)
		if child == nil {
			t.Fatalf("child %s missing", id)
		}
		if !child.IsAtomic || child.ParentFactID != f.ID {
			t.Errorf("child %s = atomic %v parent %q", id, child.IsAtomic, child.ParentFactID)
		}
		if child.Confidence != 55 || child.Importance != 4 || child.SourceID != "session-3" {
			t.Errorf("child %s did not inherit provenance: %+v", id, child)
		}
	}

	original, _ := s.GetFact(ctx, f.ID)
	if original.Kind != store.KindStory || original.Status != store.StatusDeprecated {
		t.Errorf("original = kind %q status %q, want STORY/DEPRECATED", original.Kind, original.Status)
	}
	if original.Content != wallOfText {
		t.Error("original content must be preserved")
	}
}

func TestCleanDryRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := New(s, nil)

	f := addFact(t, s, &store.Fact{Content: wallOfText, Confidence: 55})
	report, err := m.Clean(ctx, f.ID, true)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if report.Applied || len(report.ChildIDs) != 0 {
		t.Errorf("dry run report = %+v", report)
	}
	got, _ := s.GetFact(ctx, f.ID)
	if got.Kind != store.KindFact || got.Status != store.StatusActive {
		t.Error("dry run mutated the fact")
	}
}

func TestCleanRejectsOrdinaryFacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := New(s, nil)

	f := addFact(t, s, &store.Fact{Content: "Marlowe keeps a pet heron named Oslo."})
	if _, err := m.Clean(ctx, f.ID, false); err == nil {
		t.Error("cleaning a normal fact should fail")
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("First sentence is long enough. Second one also qualifies here! Tiny. A third sentence rounds it out?")
	if len(got) != 3 {
		t.Fatalf("sentences = %v, want 3 (short fragment dropped)", got)
	}
	if !strings.HasPrefix(got[0], "First sentence") {
		t.Errorf("first = %q", got[0])
	}
}
