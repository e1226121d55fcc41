package consolidate

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/marrowlane/loreweave/internal/judge"
	"github.com/marrowlane/loreweave/internal/signal"
	"github.com/marrowlane/loreweave/internal/store"
	"go.uber.org/zap"
)

// Cluster records one reconstructed story: the container fact created, its
// member facts, and how tightly they scored against each other.
type Cluster struct {
	StoryID   string   `json:"story_id,omitempty"`
	Title     string   `json:"title"`
	FactIDs   []string `json:"fact_ids"`
	Coherence float64  `json:"coherence"`
	Outline   string   `json:"outline"` // "judged" or "fallback"
	Applied   bool     `json:"applied"`
}

type edge struct {
	a, b   int
	weight float64
}

// clusterOrphans runs the clustering pass over orphans left unattached:
// similarity graph, connected components, one story container per
// multi-member component.
func (c *Consolidator) clusterOrphans(ctx context.Context, orphans []*store.Fact,
	cache *signal.Cache, opts Options, report *Report) {

	if len(orphans) < 2 {
		report.Singletons += len(orphans)
		return
	}

	adj := make([][]int, len(orphans))
	edges := make([]edge, 0)
	for i := 0; i < len(orphans); i++ {
		sigI := cache.Get(orphans[i].ID, orphans[i].Content)
		for j := i + 1; j < len(orphans); j++ {
			w := signal.Score(sigI, cache.Get(orphans[j].ID, orphans[j].Content))
			if w < opts.EdgeThreshold {
				continue
			}
			adj[i] = append(adj[i], j)
			adj[j] = append(adj[j], i)
			edges = append(edges, edge{a: i, b: j, weight: w})
		}
	}

	components := connectedComponents(adj)

	type scored struct {
		members   []int
		coherence float64
	}
	clusters := make([]scored, 0, len(components))
	for _, comp := range components {
		if len(comp) < 2 {
			report.Singletons++
			continue
		}
		clusters = append(clusters, scored{members: comp, coherence: coherence(comp, edges)})
	}
	// Tightest clusters first; index tiebreak keeps runs reproducible.
	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].coherence != clusters[j].coherence {
			return clusters[i].coherence > clusters[j].coherence
		}
		return clusters[i].members[0] < clusters[j].members[0]
	})

	for _, cl := range clusters {
		members := make([]*store.Fact, len(cl.members))
		for i, idx := range cl.members {
			members[i] = orphans[idx]
		}
		result := c.buildStory(ctx, members, cl.coherence, opts)
		report.Clusters = append(report.Clusters, result)
		if result.Applied {
			report.StoriesCreated++
		} else if !opts.DryRun {
			report.Failed++
		}
	}
}

// buildStory synthesizes one story container over a cluster and reparents
// its members under it.
func (c *Consolidator) buildStory(ctx context.Context, members []*store.Fact,
	coherence float64, opts Options) Cluster {

	candidates := make([]judge.Candidate, len(members))
	ids := make([]string, len(members))
	for i, f := range members {
		candidates[i] = judge.Candidate{ID: f.ID, Content: f.Content, Confidence: f.Confidence}
		ids[i] = f.ID
	}

	outline := judge.FallbackOutline(candidates)
	outlineSource := "fallback"
	if c.judge != nil && !opts.DryRun {
		proposed, err := c.judge.ProposeOutline(ctx, candidates)
		if err != nil {
			c.logger.Warn("outline proposal failed, using fallback",
				zap.Int("members", len(members)), zap.Error(err))
		} else {
			outline = proposed
			outlineSource = "judged"
		}
	}

	result := Cluster{
		Title:     outline.Title,
		FactIDs:   ids,
		Coherence: coherence,
		Outline:   outlineSource,
	}
	if opts.DryRun {
		return result
	}

	story := &store.Fact{
		Content:    outline.Title + "\n\n" + outline.Synopsis,
		Kind:       store.KindStory,
		Confidence: meanConfidence(members),
		Importance: maxImportance(members),
		Source:     "consolidation",
	}
	if err := c.store.AddFact(ctx, story); err != nil {
		c.logger.Warn("story creation failed", zap.Error(err))
		return result
	}
	result.StoryID = story.ID

	for _, ev := range outline.Events {
		storyContext := fmt.Sprintf("%d. %s", ev.Position, ev.Description)
		if err := c.store.SetParent(ctx, ev.FactID, story.ID, storyContext); err != nil {
			c.logger.Warn("reparenting cluster member failed",
				zap.String("fact_id", ev.FactID),
				zap.String("story_id", story.ID), zap.Error(err))
			return result
		}
	}
	result.Applied = true
	return result
}

// connectedComponents returns the components of an adjacency-list graph via
// iterative DFS, each component's members in ascending index order.
func connectedComponents(adj [][]int) [][]int {
	visited := make([]bool, len(adj))
	var components [][]int
	for start := range adj {
		if visited[start] {
			continue
		}
		var comp []int
		stack := []int{start}
		visited[start] = true
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			comp = append(comp, n)
			for _, next := range adj[n] {
				if !visited[next] {
					visited[next] = true
					stack = append(stack, next)
				}
			}
		}
		sort.Ints(comp)
		components = append(components, comp)
	}
	return components
}

// coherence is the mean weight of the graph edges internal to a component.
func coherence(members []int, edges []edge) float64 {
	inComp := make(map[int]bool, len(members))
	for _, m := range members {
		inComp[m] = true
	}
	var sum float64
	var n int
	for _, e := range edges {
		if inComp[e.a] && inComp[e.b] {
			sum += e.weight
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func meanConfidence(facts []*store.Fact) int {
	if len(facts) == 0 {
		return 0
	}
	var sum int
	for _, f := range facts {
		sum += f.Confidence
	}
	return int(math.Round(float64(sum) / float64(len(facts))))
}

func maxImportance(facts []*store.Fact) int {
	max := 0
	for _, f := range facts {
		if f.Importance > max {
			max = f.Importance
		}
	}
	return max
}
