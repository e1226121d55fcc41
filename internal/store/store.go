// Package store provides the SQLite storage layer for Loreweave.
//
// All knowledge-base data for one persona profile lives in a single SQLite
// database file: fact records with confidence and provenance, story
// containers, contradiction group labels, and per-source aggregates. The
// consolidation engines never touch SQL directly; they operate through the
// Store interface and write results back through the same interface.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.loreweave/loreweave.db"

// Fact kinds. STORY and LORE are container records; ATOMIC facts are always
// children of a STORY or LORE parent.
const (
	KindFact    = "FACT"
	KindAtomic  = "ATOMIC"
	KindStory   = "STORY"
	KindLore    = "LORE"
	KindContext = "CONTEXT"
)

// Fact statuses. Only ACTIVE facts participate in retrieval and
// consolidation by default. Deprecation is reversible; deletion is not.
const (
	StatusActive     = "ACTIVE"
	StatusDeprecated = "DEPRECATED"
)

// Fact is one persisted assertion record, the base unit of the knowledge base.
type Fact struct {
	ID                   string
	Content              string
	Kind                 string
	Confidence           int // 0-100
	Importance           int
	Status               string
	IsProtected          bool
	IsAtomic             bool
	ParentFactID         string // set only on atomic children
	ContradictionGroupID string // shared by mutually conflicting facts
	Keywords             []string
	Relationships        []string // typed references, e.g. "belongsTo:<id>"
	Source               string
	SourceID             string
	SupportCount         int
	RetrievalCount       int
	StoryContext         string
	CreatedAt            time.Time
}

// HasRelationship reports whether the fact carries the exact relationship entry.
func (f *Fact) HasRelationship(rel string) bool {
	for _, r := range f.Relationships {
		if r == rel {
			return true
		}
	}
	return false
}

// ListOpts controls filtering for ListFacts.
type ListOpts struct {
	Status        string // "" = any
	Kind          string // "" = any
	MinConfidence int    // inclusive; -1 = unbounded
	MaxConfidence int    // inclusive; -1 = unbounded
	SourceID      string
	Ungrouped     bool // only facts with no contradiction group
	Grouped       bool // only facts with a contradiction group
	Unprotected   bool // exclude protected facts
	Limit         int
	Offset        int
}

// SourceAggregate holds the per-source statistics the reliability scorer
// consumes: fact count, mean confidence, contradiction membership, and the
// summed support counts across the source's facts.
type SourceAggregate struct {
	SourceID           string
	FactCount          int
	AvgConfidence      float64
	ContradictingFacts int
	SupportSum         int
}

// Stats holds observability counts about the knowledge base.
type Stats struct {
	TotalFacts      int64
	ActiveFacts     int64
	DeprecatedFacts int64
	ProtectedFacts  int64
	StoryCount      int64
	AtomicCount     int64
	GroupedCount    int64
}

// Config holds configuration for NewStore.
type Config struct {
	DBPath string
}

// Store defines the fact-store contract the consolidation engines depend on.
type Store interface {
	// CRUD
	AddFact(ctx context.Context, f *Fact) error
	GetFact(ctx context.Context, id string) (*Fact, error)
	UpdateFact(ctx context.Context, f *Fact) error
	DeleteFact(ctx context.Context, id string) error

	// Listings
	ListFacts(ctx context.Context, opts ListOpts) ([]*Fact, error)
	ListActiveByConfidenceRange(ctx context.Context, min, max int) ([]*Fact, error)
	ListBySource(ctx context.Context, sourceID string) ([]*Fact, error)

	// Targeted mutations. SetConfidence and SetStatus reject protected facts
	// so no batch pass can violate the protection invariant.
	SetConfidence(ctx context.Context, id string, confidence int) error
	SetStatus(ctx context.Context, id string, status string) error
	Protect(ctx context.Context, id string, supportSentinel int) error
	SetParent(ctx context.Context, id, parentID, storyContext string) error
	AddRelationship(ctx context.Context, id, rel string) error
	IncrementRetrievalCount(ctx context.Context, id string) error
	BulkMarkContradicting(ctx context.Context, ids []string, groupID string) error

	// Aggregates
	SourceAggregates(ctx context.Context, minFacts int) ([]SourceAggregate, error)
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}

// SQLiteStore implements Store on a single SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates a new SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg Config) (Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}

	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, dbPath: cfg.DBPath}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// GetDB exposes the underlying handle for maintenance tooling.
func (s *SQLiteStore) GetDB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
