// Package contradict finds and groups facts that oppose each other in
// meaning. Candidate pairs are selected locally by signal similarity; the
// semantic judgment itself is delegated to the judge. Detection only groups
// and flags: no fact is ever deprecated automatically, resolution is a
// separate explicit operation.
package contradict

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marrowlane/loreweave/internal/judge"
	"github.com/marrowlane/loreweave/internal/signal"
	"github.com/marrowlane/loreweave/internal/store"
	"go.uber.org/zap"
)

const (
	// DefaultPairThreshold is the similarity floor for a pair to be worth a
	// judgment call. Lower than dedup territory: contradictions share topic
	// signals without sharing wording.
	DefaultPairThreshold = 0.35

	// baseJudgeDelay spaces sequential judgment calls.
	baseJudgeDelay = 500 * time.Millisecond

	// maxJudgeDelay caps the adaptive backoff.
	maxJudgeDelay = 8 * time.Second

	// outcomeWindow is how many recent judgment outcomes the backoff looks at.
	outcomeWindow = 10
)

// ErrScanInProgress is returned when a scan is requested while another scan
// on the same detector is still running.
var ErrScanInProgress = fmt.Errorf("contradiction scan already in progress")

// Options controls a contradiction scan.
type Options struct {
	PairThreshold float64
	MaxPairs      int // 0 = no bound
	DryRun        bool
}

// Group records one detected contradiction group.
type Group struct {
	GroupID    string   `json:"group_id"`
	FactIDs    []string `json:"fact_ids"`
	Reason     string   `json:"reason"`
	Similarity float64  `json:"similarity"`
	Applied    bool     `json:"applied"`
}

// Report summarizes one scan.
type Report struct {
	DryRun        bool      `json:"dry_run"`
	Scanned       int       `json:"scanned"`
	PairsJudged   int       `json:"pairs_judged"`
	Groups        []Group   `json:"groups"`
	GroupsCreated int       `json:"groups_created"`
	Reaffirmed    int       `json:"reaffirmed"`
	JudgeFailures int       `json:"judge_failures"`
	Failed        int       `json:"failed"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Detector runs contradiction scans over the fact store.
type Detector struct {
	store  store.Store
	judge  judge.Judge
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	last    *Report
}

// New creates a Detector. The judge is required: without it no pair can be
// confirmed, so construction fails instead of silently scanning for nothing.
func New(st store.Store, j judge.Judge, logger *zap.Logger) (*Detector, error) {
	if j == nil {
		return nil, fmt.Errorf("contradiction detector requires a judge")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{store: st, judge: j, logger: logger}, nil
}

// LastReport returns the most recent completed scan report, or nil.
func (d *Detector) LastReport() *Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Scan selects candidate pairs among ACTIVE, unprotected, ungrouped facts,
// judges them sequentially, and marks confirmed pairs with a shared
// contradiction group id. Only one scan runs at a time per detector; a
// second caller gets ErrScanInProgress and can read the cached report once
// the first finishes.
func (d *Detector) Scan(ctx context.Context, opts Options) (*Report, error) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil, ErrScanInProgress
	}
	d.running = true
	d.mu.Unlock()

	report, err := d.scan(ctx, opts)

	d.mu.Lock()
	d.running = false
	if report != nil {
		d.last = report
	}
	d.mu.Unlock()
	return report, err
}

func (d *Detector) scan(ctx context.Context, opts Options) (*Report, error) {
	if opts.PairThreshold <= 0 {
		opts.PairThreshold = DefaultPairThreshold
	}
	report := &Report{DryRun: opts.DryRun}

	facts, err := d.store.ListFacts(ctx, store.ListOpts{
		Status:        store.StatusActive,
		Unprotected:   true,
		Ungrouped:     true,
		MinConfidence: -1,
		MaxConfidence: -1,
	})
	if err != nil {
		return nil, fmt.Errorf("listing scan candidates: %w", err)
	}
	report.Scanned = len(facts)

	type pair struct {
		a, b  int
		score float64
	}
	cache := signal.NewCache()
	var pairs []pair
	for i := 0; i < len(facts); i++ {
		if facts[i].Kind == store.KindStory || facts[i].Kind == store.KindLore {
			continue
		}
		sigI := cache.Get(facts[i].ID, facts[i].Content)
		for j := i + 1; j < len(facts); j++ {
			if facts[j].Kind == store.KindStory || facts[j].Kind == store.KindLore {
				continue
			}
			score := signal.Score(sigI, cache.Get(facts[j].ID, facts[j].Content))
			if score >= opts.PairThreshold {
				pairs = append(pairs, pair{a: i, b: j, score: score})
			}
		}
	}
	if opts.MaxPairs > 0 && len(pairs) > opts.MaxPairs {
		pairs = pairs[:opts.MaxPairs]
	}

	// Judgments run sequentially with adaptive spacing. Facts already
	// grouped mid-scan are skipped: one group per fact per scan.
	grouped := make(map[string]bool)
	backoff := newBackoff()
	for _, p := range pairs {
		a, b := facts[p.a], facts[p.b]
		if grouped[a.ID] || grouped[b.ID] {
			continue
		}
		if err := backoff.wait(ctx); err != nil {
			return report, err
		}

		verdict, err := d.judge.JudgeContradiction(ctx,
			judge.Candidate{ID: a.ID, Content: a.Content, Confidence: a.Confidence},
			judge.Candidate{ID: b.ID, Content: b.Content, Confidence: b.Confidence})
		report.PairsJudged++
		if err != nil {
			backoff.record(false)
			report.JudgeFailures++
			d.logger.Warn("contradiction judgment failed",
				zap.String("fact_a", a.ID), zap.String("fact_b", b.ID), zap.Error(err))
			continue
		}
		backoff.record(true)
		if !verdict.IsContradiction {
			continue
		}

		group := Group{
			GroupID:    uuid.New().String(),
			FactIDs:    []string{a.ID, b.ID},
			Reason:     verdict.Reason,
			Similarity: p.score,
		}
		grouped[a.ID] = true
		grouped[b.ID] = true
		if !opts.DryRun {
			if err := d.store.BulkMarkContradicting(ctx, group.FactIDs, group.GroupID); err != nil {
				d.logger.Warn("marking contradiction group failed",
					zap.String("group_id", group.GroupID), zap.Error(err))
				report.Failed++
				continue
			}
			group.Applied = true
		}
		report.Groups = append(report.Groups, group)
		report.GroupsCreated++
	}

	if err := d.reaffirmGroups(ctx, opts, report); err != nil {
		return nil, err
	}

	report.FinishedAt = time.Now().UTC()
	d.logger.Info("contradiction scan complete",
		zap.Int("scanned", report.Scanned),
		zap.Int("pairs_judged", report.PairsJudged),
		zap.Int("groups_created", report.GroupsCreated),
		zap.Int("reaffirmed", report.Reaffirmed),
		zap.Int("judge_failures", report.JudgeFailures),
		zap.Bool("dry_run", opts.DryRun))
	return report, nil
}

// reaffirmGroups restores each existing contradiction group's
// highest-confidence member to ACTIVE. A resolution or hide sweep can leave a
// group with its strongest assertion deprecated; every scan repairs that.
// Ties go to the oldest member.
func (d *Detector) reaffirmGroups(ctx context.Context, opts Options, report *Report) error {
	grouped, err := d.store.ListFacts(ctx, store.ListOpts{
		Grouped:       true,
		MinConfidence: -1,
		MaxConfidence: -1,
	})
	if err != nil {
		return fmt.Errorf("listing grouped facts: %w", err)
	}

	strongest := make(map[string]*store.Fact)
	for _, f := range grouped {
		cur := strongest[f.ContradictionGroupID]
		if cur == nil || f.Confidence > cur.Confidence {
			strongest[f.ContradictionGroupID] = f
		}
	}
	for _, f := range strongest {
		if f.Status == store.StatusActive || f.IsProtected {
			continue
		}
		if opts.DryRun {
			report.Reaffirmed++
			continue
		}
		if err := d.store.SetStatus(ctx, f.ID, store.StatusActive); err != nil {
			d.logger.Warn("re-affirming group member failed",
				zap.String("fact_id", f.ID),
				zap.String("group_id", f.ContradictionGroupID),
				zap.Error(err))
			report.Failed++
			continue
		}
		report.Reaffirmed++
	}
	return nil
}

// backoff spaces judgment calls, doubling the delay while recent failures
// outnumber recent successes and easing back toward the base on recovery.
type backoff struct {
	delay    time.Duration
	outcomes []bool
}

func newBackoff() *backoff {
	return &backoff{delay: baseJudgeDelay}
}

func (b *backoff) wait(ctx context.Context) error {
	select {
	case <-time.After(b.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *backoff) record(ok bool) {
	b.outcomes = append(b.outcomes, ok)
	if len(b.outcomes) > outcomeWindow {
		b.outcomes = b.outcomes[len(b.outcomes)-outcomeWindow:]
	}
	failures := 0
	for _, o := range b.outcomes {
		if !o {
			failures++
		}
	}
	if failures > len(b.outcomes)-failures {
		b.delay *= 2
		if b.delay > maxJudgeDelay {
			b.delay = maxJudgeDelay
		}
	} else if ok {
		b.delay /= 2
		if b.delay < baseJudgeDelay {
			b.delay = baseJudgeDelay
		}
	}
}
