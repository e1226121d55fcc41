package store

import (
	"context"
	"fmt"
)

// SourceAggregates returns per-source statistics for every source id with at
// least minFacts attributed facts. Facts without a source id are skipped;
// there is nothing to score.
func (s *SQLiteStore) SourceAggregates(ctx context.Context, minFacts int) ([]SourceAggregate, error) {
	if minFacts <= 0 {
		minFacts = 1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id,
		       COUNT(*),
		       AVG(confidence),
		       SUM(CASE WHEN contradiction_group_id IS NOT NULL THEN 1 ELSE 0 END),
		       SUM(support_count)
		FROM facts
		WHERE source_id != ''
		GROUP BY source_id
		HAVING COUNT(*) >= ?
		ORDER BY source_id`,
		minFacts,
	)
	if err != nil {
		return nil, fmt.Errorf("querying source aggregates: %w", err)
	}
	defer rows.Close()

	var aggs []SourceAggregate
	for rows.Next() {
		var a SourceAggregate
		if err := rows.Scan(&a.SourceID, &a.FactCount, &a.AvgConfidence,
			&a.ContradictingFacts, &a.SupportSum); err != nil {
			return nil, fmt.Errorf("scanning source aggregate: %w", err)
		}
		aggs = append(aggs, a)
	}
	return aggs, rows.Err()
}

// Stats returns observability counts for the knowledge base.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'ACTIVE' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'DEPRECATED' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN is_protected = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN kind = 'STORY' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN is_atomic = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN contradiction_group_id IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM facts`).Scan(
		&st.TotalFacts, &st.ActiveFacts, &st.DeprecatedFacts,
		&st.ProtectedFacts, &st.StoryCount, &st.AtomicCount, &st.GroupedCount)
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	return st, nil
}
