package store

import (
	"fmt"
	"time"
)

// CountTier returns the number of active records in a tier.
func (db *DB) CountTier(tier string) (int, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM memories WHERE tier = ? AND status = 'active'
	`, tier).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count tier %s: %w", tier, err)
	}
	return count, nil
}

// ListTier returns all active records in a tier, oldest first.
func (db *DB) ListTier(tier string) ([]MemoryRecord, error) {
	rows, err := db.Query(`
		SELECT `+recordColumns+`
		FROM memories WHERE tier = ? AND status = 'active'
		ORDER BY created_at
	`, tier)
	if err != nil {
		return nil, fmt.Errorf("list tier %s: %w", tier, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// MoveRecord moves a record to another tier: a fresh row is appended in the
// destination with move provenance, then the source row is soft-deleted.
// Both writes happen in one transaction so a record is never lost mid-move.
// The original creation time is preserved — age is measured from when the
// memory was first formed, not from its last promotion.
// Returns the new row id.
func (db *DB) MoveRecord(rowID int64, toTier string) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin move: %w", err)
	}
	defer tx.Rollback()

	src, err := scanRecord(tx.QueryRow(`
		SELECT `+recordColumns+` FROM memories WHERE id = ? AND status = 'active'
	`, rowID))
	if err != nil {
		return 0, fmt.Errorf("move record %d: load source: %w", rowID, err)
	}
	if src.Tier == toTier {
		// Idempotent: a retried move is a no-op.
		return rowID, tx.Commit()
	}

	now := time.Now().UnixMilli()

	// Soft-delete the source first so the partial unique index on live
	// memory_id rows admits the appended copy.
	if _, err := tx.Exec(`
		UPDATE memories SET status = 'deleted', version = version + 1, updated_at = ?
		WHERE id = ?
	`, now, rowID); err != nil {
		return 0, fmt.Errorf("move record %d: retire source: %w", rowID, err)
	}

	tags, err := encodeTags(src.Tags)
	if err != nil {
		return 0, err
	}

	result, err := tx.Exec(`
		INSERT INTO memories (memory_id, content, summary, memory_type, tags, source, session_id, project,
			confidence, usage_count, usage_success, decay_score, tier, status, moved_from, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, 'active', ?, ?, ?, ?)
	`, src.MemoryID, src.Content, src.Summary, src.Type, tags, src.Source, src.SessionID, src.Project,
		src.Confidence, src.UsageCount, src.UsageSuccess, src.DecayScore, toTier,
		src.Tier, src.Version+1, src.CreatedAt, now)
	if err != nil {
		return 0, fmt.Errorf("move record %d: append to %s: %w", rowID, toTier, err)
	}

	newID, _ := result.LastInsertId()

	// Carry the embedding over to the new row.
	if _, err := tx.Exec(`
		INSERT INTO memory_vectors (record_id, embedding, model, dimensions, created_at)
		SELECT ?, embedding, model, dimensions, created_at FROM memory_vectors WHERE record_id = ?
	`, newID, rowID); err != nil {
		return 0, fmt.Errorf("move record %d: carry vector: %w", rowID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit move: %w", err)
	}
	return newID, nil
}

// CompactTier physically removes soft-deleted rows from a tier.
// Vector rows follow via ON DELETE CASCADE, FTS rows via trigger.
func (db *DB) CompactTier(tier string) (int, error) {
	result, err := db.Exec(`
		DELETE FROM memories WHERE tier = ? AND status = 'deleted'
	`, tier)
	if err != nil {
		return 0, fmt.Errorf("compact tier %s: %w", tier, err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// TierCounts returns active record counts for all three tiers.
func (db *DB) TierCounts() (working, shortTerm, longTerm int, err error) {
	rows, err := db.Query(`
		SELECT tier, COUNT(*) FROM memories WHERE status = 'active' GROUP BY tier
	`)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("tier counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tier string
		var count int
		if err := rows.Scan(&tier, &count); err != nil {
			return 0, 0, 0, fmt.Errorf("scan tier count: %w", err)
		}
		switch tier {
		case TierWorking:
			working = count
		case TierShortTerm:
			shortTerm = count
		case TierLongTerm:
			longTerm = count
		}
	}
	return working, shortTerm, longTerm, rows.Err()
}
