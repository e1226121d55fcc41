// Package judge wraps the external semantic-judgment capability.
//
// The engine only orchestrates: candidate selection and grouping stay local,
// while the conflict judgment itself (opposing meaning, not just similar
// wording) is delegated to an LLM. The capability is treated as unreliable
// by contract: timeouts and malformed output degrade to documented fallbacks
// (no verdict, generated-title outline) and never abort an enclosing batch.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/marrowlane/loreweave/internal/llm"
)

const (
	// judgeTimeout bounds a single judgment call.
	judgeTimeout = 15 * time.Second

	// outlineTimeout bounds a story-outline call; outlines are longer-form.
	outlineTimeout = 30 * time.Second
)

// Candidate is the minimal fact shape presented to the judgment capability.
type Candidate struct {
	ID         string
	Content    string
	Confidence int
}

// Verdict is the structured outcome of one contradiction judgment.
type Verdict struct {
	IsContradiction bool   `json:"is_contradiction"`
	Reason          string `json:"reason"`
}

// OutlineEvent places one fact within a reconstructed story.
type OutlineEvent struct {
	FactID      string `json:"fact_id"`
	Position    int    `json:"position"`
	Description string `json:"description"`
}

// Outline is a proposed title/synopsis/ordered-event structure for a
// reconstructed story.
type Outline struct {
	Title    string         `json:"title"`
	Synopsis string         `json:"synopsis"`
	Events   []OutlineEvent `json:"events"`
}

// Judge is the semantic-judgment contract the engines depend on.
type Judge interface {
	// JudgeContradiction decides whether two assertions oppose each other in
	// meaning. An error means "no judgment available", never a batch failure.
	JudgeContradiction(ctx context.Context, a, b Candidate) (*Verdict, error)

	// ProposeOutline suggests a title, synopsis, and ordered events for a
	// cluster of orphan facts.
	ProposeOutline(ctx context.Context, facts []Candidate) (*Outline, error)
}

// FallbackOutline is the deterministic outline used when the judgment
// capability fails or is absent: a generated title, a synopsis naming the
// fact count, and events in the order the facts were given.
func FallbackOutline(facts []Candidate) *Outline {
	outline := &Outline{
		Title:    fmt.Sprintf("Reconstructed story (%d facts)", len(facts)),
		Synopsis: fmt.Sprintf("Automatically reconstructed from %d related orphan facts.", len(facts)),
	}
	for i, f := range facts {
		outline.Events = append(outline.Events, OutlineEvent{
			FactID:      f.ID,
			Position:    i + 1,
			Description: truncate(f.Content, 80),
		})
	}
	return outline
}

// LLMJudge implements Judge over a completion provider.
type LLMJudge struct {
	provider llm.Provider
}

// NewLLMJudge creates a judge backed by the given provider.
func NewLLMJudge(provider llm.Provider) *LLMJudge {
	return &LLMJudge{provider: provider}
}

const contradictionSystemPrompt = `You are a contradiction judge for a persona knowledge base.

Given two factual assertions about the same persona, decide whether they CONTRADICT each other, i.e. they cannot both be true (opposing meaning), not merely similar wording or overlapping topics.

Return ONLY a JSON object:
{
  "is_contradiction": true or false,
  "reason": "brief explanation"
}`

const outlineSystemPrompt = `You are a story reconstructor for a persona knowledge base.

Given a numbered list of related fact fragments that lost their original narrative, propose a coherent story outline.

Return ONLY a JSON object:
{
  "title": "short story title",
  "synopsis": "one or two sentences",
  "events": [{"fact": <fragment number>, "description": "where this fact fits"}]
}

Every fragment number must appear exactly once in events, ordered by narrative position.`

// JudgeContradiction sends one fact pair to the LLM and parses the verdict.
func (j *LLMJudge) JudgeContradiction(ctx context.Context, a, b Candidate) (*Verdict, error) {
	var sb strings.Builder
	sb.WriteString("ASSERTION 1:\n")
	fmt.Fprintf(&sb, "  %s\n  (confidence %d)\n\n", a.Content, a.Confidence)
	sb.WriteString("ASSERTION 2:\n")
	fmt.Fprintf(&sb, "  %s\n  (confidence %d)\n\n", b.Content, b.Confidence)
	sb.WriteString("Do these contradict each other? Return JSON only.")

	callCtx, cancel := context.WithTimeout(ctx, judgeTimeout)
	defer cancel()

	resp, err := j.provider.Complete(callCtx, sb.String(),
		llm.JudgmentOpts(contradictionSystemPrompt, 200, 0))
	if err != nil {
		return nil, fmt.Errorf("contradiction judgment: %w", err)
	}

	var verdict Verdict
	if err := json.Unmarshal([]byte(stripFences(resp)), &verdict); err != nil {
		return nil, fmt.Errorf("contradiction judgment unparseable: %w (raw: %s)", err, truncate(resp, 200))
	}
	return &verdict, nil
}

// llmOutline is the wire shape of the outline response; fact numbers are
// mapped back to ids locally.
type llmOutline struct {
	Title    string `json:"title"`
	Synopsis string `json:"synopsis"`
	Events   []struct {
		Fact        int    `json:"fact"`
		Description string `json:"description"`
	} `json:"events"`
}

// ProposeOutline asks the LLM for a story outline over the given facts.
func (j *LLMJudge) ProposeOutline(ctx context.Context, facts []Candidate) (*Outline, error) {
	var sb strings.Builder
	sb.WriteString("FRAGMENTS:\n")
	for i, f := range facts {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, f.Content)
	}
	sb.WriteString("\nPropose a story outline. Return JSON only.")

	callCtx, cancel := context.WithTimeout(ctx, outlineTimeout)
	defer cancel()

	resp, err := j.provider.Complete(callCtx, sb.String(),
		llm.JudgmentOpts(outlineSystemPrompt, 800, 0.3))
	if err != nil {
		return nil, fmt.Errorf("outline proposal: %w", err)
	}

	var raw llmOutline
	if err := json.Unmarshal([]byte(stripFences(resp)), &raw); err != nil {
		return nil, fmt.Errorf("outline unparseable: %w (raw: %s)", err, truncate(resp, 200))
	}
	if strings.TrimSpace(raw.Title) == "" {
		return nil, fmt.Errorf("outline missing title")
	}

	outline := &Outline{Title: raw.Title, Synopsis: raw.Synopsis}
	seen := make(map[int]bool, len(raw.Events))
	for i, ev := range raw.Events {
		if ev.Fact < 1 || ev.Fact > len(facts) || seen[ev.Fact] {
			return nil, fmt.Errorf("outline references invalid fragment %d", ev.Fact)
		}
		seen[ev.Fact] = true
		outline.Events = append(outline.Events, OutlineEvent{
			FactID:      facts[ev.Fact-1].ID,
			Position:    i + 1,
			Description: ev.Description,
		})
	}
	if len(outline.Events) != len(facts) {
		return nil, fmt.Errorf("outline covers %d of %d fragments", len(outline.Events), len(facts))
	}
	return outline, nil
}

// stripFences removes markdown code fences some models wrap around JSON.
func stripFences(resp string) string {
	resp = strings.TrimSpace(resp)
	if !strings.HasPrefix(resp, "```") {
		return resp
	}
	lines := strings.Split(resp, "\n")
	var cleaned []string
	inBlock := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inBlock = !inBlock
			continue
		}
		if inBlock {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
