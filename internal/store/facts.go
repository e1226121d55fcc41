package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const factColumns = `id, content, kind, confidence, importance, status, is_protected, is_atomic,
	COALESCE(parent_fact_id, ''), COALESCE(contradiction_group_id, ''), keywords, relationships,
	source, source_id, support_count, retrieval_count, story_context, created_at`

// AddFact inserts a new fact. A missing ID gets a fresh uuid; kind and status
// default to FACT/ACTIVE; confidence is clamped to [0,100].
func (s *SQLiteStore) AddFact(ctx context.Context, f *Fact) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Kind == "" {
		f.Kind = KindFact
	}
	if f.Status == "" {
		f.Status = StatusActive
	}
	f.Confidence = clampConfidence(f.Confidence)
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if f.IsProtected {
		f.Confidence = 100
		f.Status = StatusActive
	}

	keywords, relationships, err := marshalLists(f)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO facts (id, content, kind, confidence, importance, status, is_protected, is_atomic,
			parent_fact_id, contradiction_group_id, keywords, relationships, source, source_id,
			support_count, retrieval_count, story_context, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Content, f.Kind, f.Confidence, f.Importance, f.Status,
		boolToInt(f.IsProtected), boolToInt(f.IsAtomic),
		nullable(f.ParentFactID), nullable(f.ContradictionGroupID),
		keywords, relationships, f.Source, f.SourceID,
		f.SupportCount, f.RetrievalCount, f.StoryContext, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting fact: %w", err)
	}
	return nil
}

// GetFact retrieves a fact by ID. Returns (nil, nil) when absent.
func (s *SQLiteStore) GetFact(ctx context.Context, id string) (*Fact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+factColumns+` FROM facts WHERE id = ?`, id)
	f, err := scanFact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting fact %s: %w", id, err)
	}
	return f, nil
}

// UpdateFact rewrites all mutable columns of an existing fact. Protected
// facts can only be updated to a state that keeps the protection invariant.
func (s *SQLiteStore) UpdateFact(ctx context.Context, f *Fact) error {
	current, err := s.GetFact(ctx, f.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("fact %s not found", f.ID)
	}
	if current.IsProtected && (!f.IsProtected || f.Confidence != 100 || f.Status != StatusActive) {
		return fmt.Errorf("fact %s is protected", f.ID)
	}
	f.Confidence = clampConfidence(f.Confidence)

	keywords, relationships, err := marshalLists(f)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE facts SET content = ?, kind = ?, confidence = ?, importance = ?, status = ?,
			is_protected = ?, is_atomic = ?, parent_fact_id = ?, contradiction_group_id = ?,
			keywords = ?, relationships = ?, source = ?, source_id = ?,
			support_count = ?, retrieval_count = ?, story_context = ?
		 WHERE id = ?`,
		f.Content, f.Kind, f.Confidence, f.Importance, f.Status,
		boolToInt(f.IsProtected), boolToInt(f.IsAtomic),
		nullable(f.ParentFactID), nullable(f.ContradictionGroupID),
		keywords, relationships, f.Source, f.SourceID,
		f.SupportCount, f.RetrievalCount, f.StoryContext, f.ID,
	)
	if err != nil {
		return fmt.Errorf("updating fact %s: %w", f.ID, err)
	}
	return nil
}

// DeleteFact removes a fact permanently. Child atomic facts keep their
// parent reference and remain independently addressable.
func (s *SQLiteStore) DeleteFact(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM facts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting fact %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("fact %s not found", id)
	}
	return nil
}

// ListFacts returns facts matching the given filters.
func (s *SQLiteStore) ListFacts(ctx context.Context, opts ListOpts) ([]*Fact, error) {
	query := `SELECT ` + factColumns + ` FROM facts`
	args := []interface{}{}

	var where []string
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, opts.Status)
	}
	if opts.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, opts.Kind)
	}
	if opts.MinConfidence >= 0 {
		where = append(where, "confidence >= ?")
		args = append(args, opts.MinConfidence)
	}
	if opts.MaxConfidence >= 0 {
		where = append(where, "confidence <= ?")
		args = append(args, opts.MaxConfidence)
	}
	if opts.SourceID != "" {
		where = append(where, "source_id = ?")
		args = append(args, opts.SourceID)
	}
	if opts.Ungrouped {
		where = append(where, "contradiction_group_id IS NULL")
	}
	if opts.Grouped {
		where = append(where, "contradiction_group_id IS NOT NULL")
	}
	if opts.Unprotected {
		where = append(where, "is_protected = 0")
	}

	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if opts.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing facts: %w", err)
	}
	defer rows.Close()

	return scanFacts(rows)
}

// ListActiveByConfidenceRange returns ACTIVE facts with confidence in [min, max].
func (s *SQLiteStore) ListActiveByConfidenceRange(ctx context.Context, min, max int) ([]*Fact, error) {
	return s.ListFacts(ctx, ListOpts{
		Status:        StatusActive,
		MinConfidence: min,
		MaxConfidence: max,
	})
}

// ListBySource returns all facts attributed to the given source id.
func (s *SQLiteStore) ListBySource(ctx context.Context, sourceID string) ([]*Fact, error) {
	return s.ListFacts(ctx, ListOpts{SourceID: sourceID, MinConfidence: -1, MaxConfidence: -1})
}

// SetConfidence updates a fact's confidence. Rejected for protected facts.
func (s *SQLiteStore) SetConfidence(ctx context.Context, id string, confidence int) error {
	confidence = clampConfidence(confidence)
	result, err := s.db.ExecContext(ctx,
		"UPDATE facts SET confidence = ? WHERE id = ? AND is_protected = 0",
		confidence, id,
	)
	if err != nil {
		return fmt.Errorf("setting confidence for fact %s: %w", id, err)
	}
	return s.requireMutated(ctx, result, id)
}

// SetStatus updates a fact's status. Rejected for protected facts.
func (s *SQLiteStore) SetStatus(ctx context.Context, id string, status string) error {
	if status != StatusActive && status != StatusDeprecated {
		return fmt.Errorf("invalid status %q", status)
	}
	result, err := s.db.ExecContext(ctx,
		"UPDATE facts SET status = ? WHERE id = ? AND is_protected = 0",
		status, id,
	)
	if err != nil {
		return fmt.Errorf("setting status for fact %s: %w", id, err)
	}
	return s.requireMutated(ctx, result, id)
}

// Protect marks a fact protected: confidence 100, ACTIVE, support sentinel.
// One-way; protecting an already-protected fact is an error.
func (s *SQLiteStore) Protect(ctx context.Context, id string, supportSentinel int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE facts SET is_protected = 1, confidence = 100, status = ?, support_count = ?
		 WHERE id = ? AND is_protected = 0 AND status = ?`,
		StatusActive, supportSentinel, id, StatusActive,
	)
	if err != nil {
		return fmt.Errorf("protecting fact %s: %w", id, err)
	}
	return s.requireMutated(ctx, result, id)
}

// SetParent attaches a fact to a story container as an atomic child.
func (s *SQLiteStore) SetParent(ctx context.Context, id, parentID, storyContext string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE facts SET parent_fact_id = ?, is_atomic = 1, kind = ?, story_context = ?
		 WHERE id = ?`,
		parentID, KindAtomic, storyContext, id,
	)
	if err != nil {
		return fmt.Errorf("setting parent for fact %s: %w", id, err)
	}
	return s.requireMutated(ctx, result, id)
}

// AddRelationship appends a typed relationship entry if not already present.
func (s *SQLiteStore) AddRelationship(ctx context.Context, id, rel string) error {
	f, err := s.GetFact(ctx, id)
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("fact %s not found", id)
	}
	if f.HasRelationship(rel) {
		return nil
	}
	f.Relationships = append(f.Relationships, rel)
	raw, err := json.Marshal(f.Relationships)
	if err != nil {
		return fmt.Errorf("marshaling relationships: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE facts SET relationships = ? WHERE id = ?", string(raw), id); err != nil {
		return fmt.Errorf("adding relationship to fact %s: %w", id, err)
	}
	return nil
}

// IncrementRetrievalCount bumps the usage counter for one fact.
func (s *SQLiteStore) IncrementRetrievalCount(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE facts SET retrieval_count = retrieval_count + 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("incrementing retrieval count for fact %s: %w", id, err)
	}
	return s.requireMutated(ctx, result, id)
}

// BulkMarkContradicting stamps one contradiction group id across a set of
// facts. Protected facts are never grouped.
func (s *SQLiteStore) BulkMarkContradicting(ctx context.Context, ids []string, groupID string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, groupID)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := fmt.Sprintf(
		"UPDATE facts SET contradiction_group_id = ? WHERE id IN (%s) AND is_protected = 0",
		strings.Join(placeholders, ","),
	)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("marking contradiction group %s: %w", groupID, err)
	}
	return nil
}

// requireMutated converts a zero-rows-affected result into a useful error:
// either the fact doesn't exist, or it is protected.
func (s *SQLiteStore) requireMutated(ctx context.Context, result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}
	f, err := s.GetFact(ctx, id)
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("fact %s not found", id)
	}
	return fmt.Errorf("fact %s is protected", id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFact(row rowScanner) (*Fact, error) {
	f := &Fact{}
	var protected, atomic int
	var keywords, relationships string
	err := row.Scan(&f.ID, &f.Content, &f.Kind, &f.Confidence, &f.Importance, &f.Status,
		&protected, &atomic, &f.ParentFactID, &f.ContradictionGroupID,
		&keywords, &relationships, &f.Source, &f.SourceID,
		&f.SupportCount, &f.RetrievalCount, &f.StoryContext, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	f.IsProtected = protected != 0
	f.IsAtomic = atomic != 0
	if err := json.Unmarshal([]byte(keywords), &f.Keywords); err != nil {
		return nil, fmt.Errorf("unmarshaling keywords for fact %s: %w", f.ID, err)
	}
	if err := json.Unmarshal([]byte(relationships), &f.Relationships); err != nil {
		return nil, fmt.Errorf("unmarshaling relationships for fact %s: %w", f.ID, err)
	}
	f.CreatedAt = f.CreatedAt.UTC()
	return f, nil
}

func scanFacts(rows *sql.Rows) ([]*Fact, error) {
	var facts []*Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning fact row: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

func marshalLists(f *Fact) (keywords, relationships string, err error) {
	kw, err := json.Marshal(emptyIfNil(f.Keywords))
	if err != nil {
		return "", "", fmt.Errorf("marshaling keywords: %w", err)
	}
	rel, err := json.Marshal(emptyIfNil(f.Relationships))
	if err != nil {
		return "", "", fmt.Errorf("marshaling relationships: %w", err)
	}
	return string(kw), string(rel), nil
}

func emptyIfNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nullable(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
