package consolidate

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/marrowlane/loreweave/internal/judge"
	"github.com/marrowlane/loreweave/internal/signal"
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

// stubJudge returns a fixed outline or error.
type stubJudge struct {
	title string
	fail  bool
	calls int
}

func (j *stubJudge) JudgeContradiction(ctx context.Context, a, b judge.Candidate) (*judge.Verdict, error) {
	return nil, fmt.Errorf("not used here")
}

func (j *stubJudge) ProposeOutline(ctx context.Context, facts []judge.Candidate) (*judge.Outline, error) {
	j.calls++
	if j.fail {
		return nil, fmt.Errorf("outline backend down")
	}
	outline := &judge.Outline{Title: j.title, Synopsis: "stub synopsis"}
	for i, f := range facts {
		outline.Events = append(outline.Events, judge.OutlineEvent{
			FactID:      f.ID,
			Position:    i + 1,
			Description: "event " + f.ID,
		})
	}
	return outline, nil
}

func TestRunAttachesOrphanToAnchor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	anchor := addFact(t, s, &store.Fact{
		Content:    "Marlowe grew up on a canal barge outside Bruges",
		Confidence: 90,
	})
	orphan := addFact(t, s, &store.Fact{
		Content:    "Marlowe grew up on a canal barge outside Bruges",
		Confidence: 30,
	})

	report, err := New(s, nil, nil).Run(ctx, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Attached != 1 {
		t.Fatalf("attached = %d, want 1 (report: %+v)", report.Attached, report)
	}
	att := report.Attachments[0]
	if att.OrphanID != orphan.ID || att.AnchorID != anchor.ID {
		t.Errorf("attachment = %+v", att)
	}

	got, _ := s.GetFact(ctx, orphan.ID)
	if !got.HasRelationship("belongsTo:" + anchor.ID) {
		t.Errorf("orphan relationships = %v, want belongsTo anchor", got.Relationships)
	}
	// Perfect match proposes 100, capped at 90.
	if got.Confidence != 90 {
		t.Errorf("orphan confidence = %d, want capped 90", got.Confidence)
	}
}

func TestRunBelowThresholdBestMatchStaysUnattached(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	anchor := addFact(t, s, &store.Fact{
		Content:    "Marlowe guards the lighthouse ledger during storms",
		Confidence: 80,
	})
	near := addFact(t, s, &store.Fact{
		Content:    "Marlowe keeps the lighthouse ledger hidden beneath spare rope coils",
		Confidence: 30,
	})
	companion := addFact(t, s, &store.Fact{
		Content:    "Marlowe checks the hidden ledger whenever the rope coils shift",
		Confidence: 30,
	})

	// The fixture must sit in candidate territory without reaching the
	// attachment bar.
	score := signal.Score(signal.Extract(near.Content), signal.Extract(anchor.Content))
	if score < DefaultCandidateThreshold || score >= DefaultAttachThreshold {
		t.Fatalf("fixture score = %v, want in [%v, %v)",
			score, DefaultCandidateThreshold, DefaultAttachThreshold)
	}

	report, err := New(s, nil, nil).Run(ctx, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Attached != 0 || len(report.Attachments) != 0 {
		t.Fatalf("attached = %d, want 0 (report: %+v)", report.Attached, report)
	}
	gotNear, _ := s.GetFact(ctx, near.ID)
	if len(gotNear.Relationships) != 0 {
		t.Errorf("near-match relationships = %v, want none below the attach bar", gotNear.Relationships)
	}

	// Unattached orphans flow into clustering instead.
	if report.StoriesCreated != 1 {
		t.Fatalf("stories = %d, want 1 (report: %+v)", report.StoriesCreated, report)
	}
	for _, id := range []string{near.ID, companion.ID} {
		got, _ := s.GetFact(ctx, id)
		if got.ParentFactID != report.Clusters[0].StoryID {
			t.Errorf("orphan %s parent = %q, want story %s", id, got.ParentFactID, report.Clusters[0].StoryID)
		}
	}
	gotAnchor, _ := s.GetFact(ctx, anchor.ID)
	if gotAnchor.ParentFactID != "" {
		t.Error("anchor must not join the orphan cluster")
	}
}

func TestRunAttachIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addFact(t, s, &store.Fact{
		Content:    "Marlowe grew up on a canal barge outside Bruges",
		Confidence: 90,
	})
	addFact(t, s, &store.Fact{
		Content:    "Marlowe grew up on a canal barge outside Bruges",
		Confidence: 30,
	})

	c := New(s, nil, nil)
	if _, err := c.Run(ctx, Options{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := c.Run(ctx, Options{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	// The attached fact now carries high confidence and a relationship, so it
	// no longer qualifies as an orphan.
	if second.Attached != 0 || second.StoriesCreated != 0 {
		t.Errorf("second run changed things: %+v", second)
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addFact(t, s, &store.Fact{
		Content:    "Marlowe grew up on a canal barge outside Bruges",
		Confidence: 90,
	})
	orphan := addFact(t, s, &store.Fact{
		Content:    "Marlowe grew up on a canal barge outside Bruges",
		Confidence: 30,
	})

	report, err := New(s, nil, nil).Run(ctx, Options{DryRun: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Attached != 1 || report.Attachments[0].Applied {
		t.Fatalf("dry run report = %+v", report)
	}
	got, _ := s.GetFact(ctx, orphan.ID)
	if len(got.Relationships) != 0 || got.Confidence != 30 {
		t.Errorf("dry run mutated orphan: %+v", got)
	}
}

func TestRunClustersUnattachedOrphansIntoStory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	members := []*store.Fact{
		addFact(t, s, &store.Fact{
			Content:    "Marlowe hid the brass compass in the engine room",
			Confidence: 30,
		}),
		addFact(t, s, &store.Fact{
			Content:    "The brass compass vanished from the engine room",
			Confidence: 25,
		}),
		addFact(t, s, &store.Fact{
			Content:    "Marlowe later found the compass under the engine room floor",
			Confidence: 35,
		}),
	}
	loner := addFact(t, s, &store.Fact{
		Content:    "Quantum cryptography lectures bored everyone in Geneva",
		Confidence: 20,
	})

	j := &stubJudge{title: "The Compass Affair"}
	report, err := New(s, j, nil).Run(ctx, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.StoriesCreated != 1 {
		t.Fatalf("stories = %d, want 1 (report: %+v)", report.StoriesCreated, report)
	}
	if report.Singletons != 1 {
		t.Errorf("singletons = %d, want 1", report.Singletons)
	}
	cluster := report.Clusters[0]
	if cluster.Title != "The Compass Affair" || cluster.Outline != "judged" {
		t.Errorf("cluster = %+v", cluster)
	}
	if cluster.Coherence <= 0 || cluster.Coherence > 1 {
		t.Errorf("coherence = %v, want in (0,1]", cluster.Coherence)
	}

	story, _ := s.GetFact(ctx, cluster.StoryID)
	if story == nil || story.Kind != store.KindStory {
		t.Fatalf("story fact = %+v", story)
	}
	if !strings.Contains(story.Content, "The Compass Affair") {
		t.Errorf("story content = %q", story.Content)
	}
	if story.Confidence != 30 {
		t.Errorf("story confidence = %d, want mean 30", story.Confidence)
	}

	for _, m := range members {
		got, _ := s.GetFact(ctx, m.ID)
		if got.ParentFactID != story.ID || !got.IsAtomic {
			t.Errorf("member %s not reparented: %+v", m.ID, got)
		}
	}
	gotLoner, _ := s.GetFact(ctx, loner.ID)
	if gotLoner.ParentFactID != "" || gotLoner.Kind != store.KindFact {
		t.Errorf("singleton should stay untouched: %+v", gotLoner)
	}
}

func TestRunFallbackOutlineWhenJudgeFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addFact(t, s, &store.Fact{
		Content:    "Marlowe hid the brass compass in the engine room",
		Confidence: 30,
	})
	addFact(t, s, &store.Fact{
		Content:    "The brass compass vanished from the engine room",
		Confidence: 25,
	})

	j := &stubJudge{fail: true}
	report, err := New(s, j, nil).Run(ctx, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if j.calls != 1 {
		t.Errorf("judge calls = %d, want 1", j.calls)
	}
	if report.StoriesCreated != 1 {
		t.Fatalf("stories = %d, want 1 via fallback", report.StoriesCreated)
	}
	cluster := report.Clusters[0]
	if cluster.Outline != "fallback" {
		t.Errorf("outline source = %q, want fallback", cluster.Outline)
	}
	if cluster.Title != "Reconstructed story (2 facts)" {
		t.Errorf("fallback title = %q", cluster.Title)
	}
}

func TestRunDefersOrphansOverBound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		addFact(t, s, &store.Fact{
			Content:    fmt.Sprintf("stray detail %d about nothing in particular", i),
			Confidence: 20,
		})
	}

	report, err := New(s, nil, nil).Run(ctx, Options{MaxOrphans: 3})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Orphans != 3 || report.Deferred != 2 {
		t.Errorf("orphans = %d deferred = %d, want 3/2", report.Orphans, report.Deferred)
	}
}
