package contradict

import (
	"context"
	"fmt"

	"github.com/marrowlane/loreweave/internal/store"
	"go.uber.org/zap"
)

// Resolution records the outcome of one explicit contradiction resolution.
type Resolution struct {
	GroupID  string `json:"group_id"`
	WinnerID string `json:"winner_id"`
	LoserID  string `json:"loser_id"`
}

// Resolve settles a contradiction in the winner's favor: the winner's
// confidence is raised to 100 and the loser is deprecated. Resolution is
// always explicit; Scan never calls this.
func (d *Detector) Resolve(ctx context.Context, winnerID, loserID string) (*Resolution, error) {
	if winnerID == loserID {
		return nil, fmt.Errorf("winner and loser must differ")
	}

	winner, err := d.store.GetFact(ctx, winnerID)
	if err != nil {
		return nil, fmt.Errorf("loading winner: %w", err)
	}
	if winner == nil {
		return nil, fmt.Errorf("winner fact not found: %s", winnerID)
	}
	loser, err := d.store.GetFact(ctx, loserID)
	if err != nil {
		return nil, fmt.Errorf("loading loser: %w", err)
	}
	if loser == nil {
		return nil, fmt.Errorf("loser fact not found: %s", loserID)
	}
	if loser.IsProtected {
		return nil, fmt.Errorf("cannot deprecate protected fact %s", loserID)
	}
	if winner.ContradictionGroupID == "" || winner.ContradictionGroupID != loser.ContradictionGroupID {
		return nil, fmt.Errorf("facts %s and %s are not in the same contradiction group", winnerID, loserID)
	}

	// Protected winners already carry maximum trust; only unprotected
	// winners need the confidence bump.
	if !winner.IsProtected {
		if err := d.store.SetConfidence(ctx, winnerID, 100); err != nil {
			return nil, fmt.Errorf("raising winner confidence: %w", err)
		}
	}
	if err := d.store.SetStatus(ctx, loserID, store.StatusDeprecated); err != nil {
		return nil, fmt.Errorf("deprecating loser: %w", err)
	}

	d.logger.Info("contradiction resolved",
		zap.String("group_id", winner.ContradictionGroupID),
		zap.String("winner_id", winnerID),
		zap.String("loser_id", loserID))
	return &Resolution{
		GroupID:  winner.ContradictionGroupID,
		WinnerID: winnerID,
		LoserID:  loserID,
	}, nil
}
