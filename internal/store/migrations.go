package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "memories: tiered memory records",
		SQL: `
CREATE TABLE memories (
    id             INTEGER PRIMARY KEY,
    memory_id      TEXT NOT NULL,
    content        TEXT NOT NULL,
    summary        TEXT,
    memory_type    TEXT NOT NULL CHECK (memory_type IN ('learning', 'pattern', 'skill', 'correction', 'preference', 'fact')),
    tags           TEXT,

    -- Provenance
    source         TEXT,
    session_id     TEXT,
    project        TEXT,

    -- Quality
    confidence     REAL NOT NULL DEFAULT 0.5,
    usage_count    INTEGER NOT NULL DEFAULT 0,
    usage_success  REAL NOT NULL DEFAULT 0.5,
    decay_score    REAL NOT NULL DEFAULT 1.0,

    -- Lifecycle
    tier           TEXT NOT NULL DEFAULT 'working' CHECK (tier IN ('working', 'short_term', 'long_term')),
    status         TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'archived', 'deleted')),
    moved_from     TEXT,

    version        INTEGER NOT NULL DEFAULT 1,
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL
);

-- A tier move appends a fresh row and soft-deletes the old one; only the
-- live row per memory_id must be unique.
CREATE UNIQUE INDEX idx_memories_live ON memories(memory_id) WHERE status != 'deleted';
CREATE INDEX idx_memories_tier    ON memories(tier, status);
CREATE INDEX idx_memories_created ON memories(created_at);
CREATE INDEX idx_memories_project ON memories(project);
`,
	},
	{
		Version:     2,
		Description: "memories_fts: full-text index over content/summary/tags",
		SQL: `
CREATE VIRTUAL TABLE memories_fts USING fts5(
    content, summary, tags, record_id UNINDEXED,
    tokenize='unicode61 remove_diacritics 2'
);

CREATE TRIGGER memories_fts_insert AFTER INSERT ON memories BEGIN
    INSERT INTO memories_fts (content, summary, tags, record_id)
    VALUES (new.content, new.summary, new.tags, new.id);
END;

CREATE TRIGGER memories_fts_update AFTER UPDATE OF content, summary, tags ON memories BEGIN
    DELETE FROM memories_fts WHERE record_id = old.id;
    INSERT INTO memories_fts (content, summary, tags, record_id)
    VALUES (new.content, new.summary, new.tags, new.id);
END;

CREATE TRIGGER memories_fts_delete AFTER DELETE ON memories BEGIN
    DELETE FROM memories_fts WHERE record_id = old.id;
END;
`,
	},
	{
		Version:     3,
		Description: "memory_vectors: embedding vectors for semantic search",
		SQL: `
CREATE TABLE memory_vectors (
    record_id  INTEGER PRIMARY KEY,
    embedding  BLOB NOT NULL,
    model      TEXT NOT NULL,
    dimensions INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (record_id) REFERENCES memories(id) ON DELETE CASCADE
);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
