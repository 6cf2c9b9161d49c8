package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Memory types.
const (
	TypeLearning   = "learning"
	TypePattern    = "pattern"
	TypeSkill      = "skill"
	TypeCorrection = "correction"
	TypePreference = "preference"
	TypeFact       = "fact"
)

// Lifecycle statuses.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
	StatusDeleted  = "deleted"
)

// Tiers, ordered by increasing permanence.
const (
	TierWorking   = "working"
	TierShortTerm = "short_term"
	TierLongTerm  = "long_term"
)

// usageAlpha is the blend weight for the exponential usage-success update:
// new = alpha*outcome + (1-alpha)*old.
const usageAlpha = 0.3

// MemoryRecord is the atomic unit of stored knowledge.
type MemoryRecord struct {
	RowID        int64    `json:"-"`
	MemoryID     string   `json:"memory_id"`
	Content      string   `json:"content"`
	Summary      string   `json:"summary"`
	Type         string   `json:"type"`
	Tags         []string `json:"tags,omitempty"`
	Source       string   `json:"source,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
	Project      string   `json:"project,omitempty"` // empty = global scope
	Confidence   float64  `json:"confidence"`
	UsageCount   int      `json:"usage_count"`
	UsageSuccess float64  `json:"usage_success"`
	DecayScore   float64  `json:"decay_score"`
	Tier         string   `json:"tier"`
	Status       string   `json:"status"`
	MovedFrom    string   `json:"moved_from,omitempty"`
	Version      int      `json:"version"`
	CreatedAt    int64    `json:"created_at"`
	UpdatedAt    int64    `json:"updated_at"`
}

// AgeDays returns the record's age in days at the given instant, floored at zero.
func (r *MemoryRecord) AgeDays(now time.Time) float64 {
	age := float64(now.UnixMilli()-r.CreatedAt) / (24 * 60 * 60 * 1000)
	if age < 0 {
		return 0
	}
	return age
}

// Filter narrows record queries by metadata.
type Filter struct {
	Status        string // empty = active
	Source        string
	Type          string
	Project       string
	IncludeGlobal bool // with Project set, also match records with no project
}

func (f Filter) status() string {
	if f.Status == "" {
		return StatusActive
	}
	return f.Status
}

// Matches reports whether a record passes the filter. Used for post-hoc
// filtering of vector neighbors, which are looked up by id rather than query.
func (f Filter) Matches(r *MemoryRecord) bool {
	if r.Status != f.status() {
		return false
	}
	if f.Source != "" && r.Source != f.Source {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Project != "" {
		if r.Project != f.Project && !(f.IncludeGlobal && r.Project == "") {
			return false
		}
	}
	return true
}

// whereClause renders the filter as SQL conditions on the given table alias.
func (f Filter) whereClause(alias string) (string, []any) {
	var conds []string
	var args []any

	conds = append(conds, alias+".status = ?")
	args = append(args, f.status())

	if f.Source != "" {
		conds = append(conds, alias+".source = ?")
		args = append(args, f.Source)
	}
	if f.Type != "" {
		conds = append(conds, alias+".memory_type = ?")
		args = append(args, f.Type)
	}
	if f.Project != "" {
		if f.IncludeGlobal {
			conds = append(conds, "("+alias+".project = ? OR "+alias+".project IS NULL OR "+alias+".project = '')")
		} else {
			conds = append(conds, alias+".project = ?")
		}
		args = append(args, f.Project)
	}

	return strings.Join(conds, " AND "), args
}

const recordColumns = `id, memory_id, content, summary, memory_type, tags, source, session_id, project,
	confidence, usage_count, usage_success, decay_score, tier, status, moved_from, version, created_at, updated_at`

// CreateRecord inserts a new memory record into the working tier.
// Assigns a memory_id if the record doesn't carry one.
func (db *DB) CreateRecord(r *MemoryRecord) error {
	now := time.Now().UnixMilli()
	if r.MemoryID == "" {
		r.MemoryID = uuid.NewString()
	}
	if r.Type == "" {
		r.Type = TypeFact
	}
	if r.Tier == "" {
		r.Tier = TierWorking
	}
	if r.Status == "" {
		r.Status = StatusActive
	}
	if r.Confidence == 0 {
		r.Confidence = 0.5
	}
	if r.UsageSuccess == 0 {
		r.UsageSuccess = 0.5
	}
	if r.DecayScore == 0 {
		r.DecayScore = 1.0
	}

	tags, err := encodeTags(r.Tags)
	if err != nil {
		return err
	}

	result, err := db.Exec(`
		INSERT INTO memories (memory_id, content, summary, memory_type, tags, source, session_id, project,
			confidence, usage_count, usage_success, decay_score, tier, status, moved_from, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, NULLIF(?, ''), 1, ?, ?)
	`, r.MemoryID, r.Content, r.Summary, r.Type, tags, r.Source, r.SessionID, r.Project,
		r.Confidence, r.UsageCount, r.UsageSuccess, r.DecayScore, r.Tier, r.Status, r.MovedFrom, now, now)
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}

	id, _ := result.LastInsertId()
	r.RowID = id
	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

// GetRecord returns the live (non-deleted) record for a memory_id, or nil.
func (db *DB) GetRecord(memoryID string) (*MemoryRecord, error) {
	row := db.QueryRow(`
		SELECT `+recordColumns+`
		FROM memories WHERE memory_id = ? AND status != 'deleted'
	`, memoryID)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", memoryID, err)
	}
	return r, nil
}

// GetRecordsByRowIDs returns records for the given internal row ids.
// Rows that no longer exist are simply absent from the result.
func (db *DB) GetRecordsByRowIDs(ids []int64) ([]MemoryRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT %s FROM memories WHERE id IN (%s)
	`, recordColumns, strings.Join(placeholders, ","))

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get records by row ids: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// UpdateRecord rewrites a record's mutable fields, bumping version and updated_at.
func (db *DB) UpdateRecord(r *MemoryRecord) error {
	now := time.Now().UnixMilli()
	tags, err := encodeTags(r.Tags)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		UPDATE memories SET content = ?, summary = ?, memory_type = ?, tags = ?,
			confidence = ?, status = ?, version = version + 1, updated_at = ?
		WHERE id = ?
	`, r.Content, r.Summary, r.Type, tags, r.Confidence, r.Status, now, r.RowID)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	r.Version++
	r.UpdatedAt = now
	return nil
}

// TouchRecord increments usage_count for a retrieved record.
func (db *DB) TouchRecord(rowID int64) error {
	_, err := db.Exec(`
		UPDATE memories SET usage_count = usage_count + 1 WHERE id = ?
	`, rowID)
	if err != nil {
		return fmt.Errorf("touch record: %w", err)
	}
	return nil
}

// RecordUsage folds a usage outcome into the record's running success rate
// as an exponential blend, and increments usage_count.
func (db *DB) RecordUsage(memoryID string, success bool) error {
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	now := time.Now().UnixMilli()

	result, err := db.Exec(`
		UPDATE memories SET
			usage_count = usage_count + 1,
			usage_success = ? * ? + (1.0 - ?) * usage_success,
			updated_at = ?
		WHERE memory_id = ? AND status != 'deleted'
	`, usageAlpha, outcome, usageAlpha, now, memoryID)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("record usage: no live record for %s", memoryID)
	}
	return nil
}

// UpdateDecayScore persists a recomputed decay score for a record.
func (db *DB) UpdateDecayScore(rowID int64, score float64) error {
	_, err := db.Exec(`UPDATE memories SET decay_score = ? WHERE id = ?`, score, rowID)
	if err != nil {
		return fmt.Errorf("update decay score: %w", err)
	}
	return nil
}

// SoftDelete marks a record deleted without removing the row.
func (db *DB) SoftDelete(rowID int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE memories SET status = 'deleted', version = version + 1, updated_at = ?
		WHERE id = ?
	`, now, rowID)
	if err != nil {
		return fmt.Errorf("soft delete record: %w", err)
	}
	return nil
}

// ListActive returns every active record across all tiers.
func (db *DB) ListActive() ([]MemoryRecord, error) {
	rows, err := db.Query(`
		SELECT ` + recordColumns + `
		FROM memories WHERE status = 'active'
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func encodeTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "", nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(data), nil
}

func decodeTags(s string) []string {
	if s == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil
	}
	return tags
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*MemoryRecord, error) {
	var r MemoryRecord
	var summary, tags, source, sessionID, project, movedFrom sql.NullString
	err := row.Scan(&r.RowID, &r.MemoryID, &r.Content, &summary, &r.Type, &tags,
		&source, &sessionID, &project,
		&r.Confidence, &r.UsageCount, &r.UsageSuccess, &r.DecayScore,
		&r.Tier, &r.Status, &movedFrom, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Summary = summary.String
	r.Tags = decodeTags(tags.String)
	r.Source = source.String
	r.SessionID = sessionID.String
	r.Project = project.String
	r.MovedFrom = movedFrom.String
	return &r, nil
}

func scanRecords(rows *sql.Rows) ([]MemoryRecord, error) {
	var records []MemoryRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}
