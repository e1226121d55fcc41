package signal

import "testing"

func TestScoreSelfSimilarityIsOne(t *testing.T) {
	contents := []string{
		"Marlowe grew up on a canal barge outside Bruges.",
		"Skull Merchant visited Dead Dawg Saloon on June 3, 1999.",
		"plain lowercase words without numbers or names",
	}
	for _, content := range contents {
		sig := Extract(content)
		if got := Score(sig, sig); got != 1.0 {
			t.Errorf("Score(x, x) = %v for %q, want exactly 1.0", got, content)
		}
	}
}

func TestScoreSymmetric(t *testing.T) {
	a := Extract("Marlowe sails barges through Bruges in 1999")
	b := Extract("In 1999 Marlowe navigated a barge near Bruges")
	if Score(a, b) != Score(b, a) {
		t.Errorf("Score not symmetric: %v vs %v", Score(a, b), Score(b, a))
	}
}

func TestScoreEmptyBothZero(t *testing.T) {
	a := Extract("")
	b := Extract("")
	if got := Score(a, b); got != 0 {
		t.Errorf("Score(empty, empty) = %v, want 0", got)
	}
}

func TestScoreDisjointNearZero(t *testing.T) {
	a := Extract("Marlowe repairs diesel engines on weekends")
	b := Extract("quantum cryptography lectures bored everyone yesterday")
	if got := Score(a, b); got > 0.05 {
		t.Errorf("disjoint contents scored %v, want near 0", got)
	}
}

func TestScoreOrderedBySimilarity(t *testing.T) {
	base := Extract("Marlowe grew up on a canal barge outside Bruges")
	near := Extract("Marlowe was raised on a canal barge near Bruges")
	far := Extract("Harbor taxes doubled across Flanders last spring")

	if Score(base, near) <= Score(base, far) {
		t.Errorf("near-duplicate scored %v, unrelated scored %v; expected near > far",
			Score(base, near), Score(base, far))
	}
}

func TestJaccardEmptySets(t *testing.T) {
	if got := jaccard(map[string]struct{}{}, map[string]struct{}{}); got != 0 {
		t.Errorf("jaccard(empty, empty) = %v, want 0", got)
	}
}
