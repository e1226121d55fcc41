package signal

import "math"

// Sub-score weights for the composite similarity. Rare-token overlap carries
// the most signal; entities catch proper-noun agreement; numerics and the
// term-frequency cosine refine the rest.
const (
	weightRareTokens = 0.4
	weightEntities   = 0.3
	weightNumerics   = 0.15
	weightTermFreq   = 0.15
)

// Score combines two signal sets into one composite similarity in [0,1].
// Symmetric: Score(a,b) == Score(b,a).
//
// Sub-scores are weighted over the components populated on at least one side,
// then renormalized by the weight actually in play. This keeps self-similarity
// at exactly 1.0 for any non-empty content (a fact without numbers shouldn't
// score below 1.0 against itself) while two facts with no signals at all still
// score 0.
func Score(a, b *Signals) float64 {
	total := 0.0
	weight := 0.0

	if len(a.RareTokens) > 0 || len(b.RareTokens) > 0 {
		total += weightRareTokens * jaccard(a.RareTokens, b.RareTokens)
		weight += weightRareTokens
	}
	if len(a.Entities) > 0 || len(b.Entities) > 0 {
		total += weightEntities * jaccard(a.Entities, b.Entities)
		weight += weightEntities
	}
	if len(a.Numerics) > 0 || len(b.Numerics) > 0 {
		total += weightNumerics * jaccard(a.Numerics, b.Numerics)
		weight += weightNumerics
	}
	if len(a.TermFreq) > 0 || len(b.TermFreq) > 0 {
		total += weightTermFreq * cosine(a.TermFreq, b.TermFreq)
		weight += weightTermFreq
	}

	if weight == 0 {
		return 0
	}
	return total / weight
}

// jaccard is |A∩B| / |A∪B|. Two empty sets score 0, not 1; otherwise two
// near-empty facts would rate as identical by default.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// cosine is the standard dot-product-over-norms similarity of two term
// frequency vectors; 0 when either vector has zero magnitude.
func cosine(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	dot := 0.0
	for term, fa := range a {
		if fb, ok := b[term]; ok {
			dot += float64(fa) * float64(fb)
		}
	}
	normA := 0.0
	for _, f := range a {
		normA += float64(f) * float64(f)
	}
	normB := 0.0
	for _, f := range b {
		normB += float64(f) * float64(f)
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	// Identical vectors must score exactly 1.0; sqrt rounding would otherwise
	// leave self-similarity a hair under 1. Frequencies are integers, so the
	// sums here are exact and the comparison is safe.
	if dot == normA && dot == normB {
		return 1
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
