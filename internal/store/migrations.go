package store

import "fmt"

// migrate creates all tables if they don't exist and applies schema
// evolutions. Every step is idempotent so the store can be reopened by any
// version of the binary.
func (s *SQLiteStore) migrate() error {
	if err := s.runBootstrapDDL(); err != nil {
		return err
	}

	// Schema evolution: story_context column arrived after the first cut of
	// the reconstruction pass. ALTER TABLE can't live inside CREATE TABLE IF
	// NOT EXISTS, so check for the column first to stay idempotent.
	if err := s.migrateStoryContextColumn(); err != nil {
		return fmt.Errorf("migrating story_context column: %w", err)
	}

	return nil
}

func (s *SQLiteStore) runBootstrapDDL() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS facts (
			id                     TEXT PRIMARY KEY,
			content                TEXT NOT NULL,
			kind                   TEXT NOT NULL DEFAULT 'FACT',
			confidence             INTEGER NOT NULL DEFAULT 50,
			importance             INTEGER NOT NULL DEFAULT 1,
			status                 TEXT NOT NULL DEFAULT 'ACTIVE',
			is_protected           INTEGER NOT NULL DEFAULT 0,
			is_atomic              INTEGER NOT NULL DEFAULT 0,
			parent_fact_id         TEXT,
			contradiction_group_id TEXT,
			keywords               TEXT NOT NULL DEFAULT '[]',
			relationships          TEXT NOT NULL DEFAULT '[]',
			source                 TEXT NOT NULL DEFAULT '',
			source_id              TEXT NOT NULL DEFAULT '',
			support_count          INTEGER NOT NULL DEFAULT 0,
			retrieval_count        INTEGER NOT NULL DEFAULT 0,
			created_at             TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_facts_status_confidence
			ON facts(status, confidence)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_source_id
			ON facts(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_parent
			ON facts(parent_fact_id)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_group
			ON facts(contradiction_group_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("bootstrap DDL: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) migrateStoryContextColumn() error {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM pragma_table_info('facts') WHERE name='story_context'",
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking story_context column: %w", err)
	}
	if count > 0 {
		return nil
	}
	if _, err := s.db.Exec("ALTER TABLE facts ADD COLUMN story_context TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("adding story_context column: %w", err)
	}
	return nil
}
