package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/adaptive-memory/internal/model"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Single writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id               TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL,
		kind             TEXT NOT NULL DEFAULT 'semantic',
		content          TEXT NOT NULL,
		embedding        TEXT,
		importance       REAL NOT NULL DEFAULT 0.5,
		access_count     INTEGER NOT NULL DEFAULT 0,
		created_at       TEXT NOT NULL,
		last_accessed_at TEXT NOT NULL,
		tags             TEXT,
		meta             TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_memories_user_kind ON memories(user_id, kind);
	CREATE INDEX IF NOT EXISTS idx_memories_accessed ON memories(user_id, last_accessed_at DESC);

	CREATE TABLE IF NOT EXISTS preferences (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		category   TEXT NOT NULL,
		text       TEXT NOT NULL,
		strength   REAL NOT NULL,
		confidence REAL NOT NULL,
		examples   TEXT,
		exceptions TEXT,
		source     TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_preferences_user_cat ON preferences(user_id, category);

	CREATE TABLE IF NOT EXISTS rules (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		condition  TEXT NOT NULL,
		action     TEXT NOT NULL,
		strength   REAL NOT NULL,
		exceptions TEXT,
		source     TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rules_user ON rules(user_id);

	CREATE TABLE IF NOT EXISTS feedback_events (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		type       TEXT NOT NULL,
		body       TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_user ON feedback_events(user_id);

	CREATE TABLE IF NOT EXISTS interactions (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		body       TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_interactions_user ON interactions(user_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS learning_updates (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		type        TEXT NOT NULL,
		body        TEXT NOT NULL,
		applied     INTEGER NOT NULL DEFAULT 0,
		error       TEXT,
		recorded_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_updates_user ON learning_updates(user_id, recorded_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- Memories ---

func (s *SQLiteStore) SaveMemory(ctx context.Context, m *model.Memory) error {
	now := time.Now().UTC()
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.LastAccessedAt.IsZero() {
		m.LastAccessedAt = m.CreatedAt
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, user_id, kind, content, embedding, importance, access_count,
		                       created_at, last_accessed_at, tags, meta)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   kind = excluded.kind, content = excluded.content, embedding = excluded.embedding,
		   importance = excluded.importance, access_count = excluded.access_count,
		   last_accessed_at = excluded.last_accessed_at, tags = excluded.tags, meta = excluded.meta`,
		m.ID, m.UserID, string(m.Kind), m.Content, jsonOrNil(m.Embedding), m.Importance, m.AccessCount,
		formatTime(m.CreatedAt), formatTime(m.LastAccessedAt), jsonOrNil(m.Tags), jsonOrNil(m.Meta))
	if err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	return nil
}

const memoryColumns = `id, user_id, kind, content, embedding, importance, access_count,
	created_at, last_accessed_at, tags, meta`

func (s *SQLiteStore) GetMemory(ctx context.Context, id string) (*model.Memory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) ListMemories(ctx context.Context, p ListParams) ([]model.Memory, error) {
	where := []string{"user_id = ?"}
	args := []interface{}{p.UserID}
	if p.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(p.Kind))
	}
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY last_accessed_at DESC, id`
	if p.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, p.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memories []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

func (s *SQLiteStore) UpdateAccess(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`,
		formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update access: %w", err)
	}
	return affectedOne(res, "memory", id)
}

func (s *SQLiteStore) UpdateEmbedding(ctx context.Context, id string, embedding []float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE memories SET embedding = ? WHERE id = ?`, jsonOrNil(embedding), id)
	if err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	return affectedOne(res, "memory", id)
}

func (s *SQLiteStore) DeleteMemory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	return err
}

// --- Preferences ---

func (s *SQLiteStore) SavePreference(ctx context.Context, p *model.Preference) error {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = newID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (id, user_id, category, text, strength, confidence, examples,
		                          exceptions, source, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   category = excluded.category, text = excluded.text, strength = excluded.strength,
		   confidence = excluded.confidence, examples = excluded.examples,
		   exceptions = excluded.exceptions, source = excluded.source, updated_at = excluded.updated_at`,
		p.ID, p.UserID, p.Category, p.Text, p.Strength, p.Confidence, jsonOrNil(p.Examples),
		jsonOrNil(p.Exceptions), string(p.Source), formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save preference: %w", err)
	}
	return nil
}

const preferenceColumns = `id, user_id, category, text, strength, confidence, examples, exceptions,
	source, created_at, updated_at`

func (s *SQLiteStore) GetPreference(ctx context.Context, id string) (*model.Preference, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+preferenceColumns+` FROM preferences WHERE id = ?`, id)
	p, err := scanPreference(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("preference %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) ListPreferences(ctx context.Context, userID, category string) ([]model.Preference, error) {
	query := `SELECT ` + preferenceColumns + ` FROM preferences WHERE user_id = ?`
	args := []interface{}{userID}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY strength DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prefs []model.Preference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, err
		}
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

func (s *SQLiteStore) UpdateStrength(ctx context.Context, id string, strength float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE preferences SET strength = ?, updated_at = ? WHERE id = ?`,
		strength, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update strength: %w", err)
	}
	return affectedOne(res, "preference", id)
}

// --- Rules ---

func (s *SQLiteStore) SaveRule(ctx context.Context, r *model.Rule) error {
	now := time.Now().UTC()
	if r.ID == "" {
		r.ID = newID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rules (id, user_id, condition, action, strength, exceptions, source, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   condition = excluded.condition, action = excluded.action, strength = excluded.strength,
		   exceptions = excluded.exceptions, source = excluded.source, updated_at = excluded.updated_at`,
		r.ID, r.UserID, r.Condition, r.Action, r.Strength, jsonOrNil(r.Exceptions), string(r.Source),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save rule: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRules(ctx context.Context, userID string) ([]model.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, condition, action, strength, exceptions, source, created_at, updated_at
		 FROM rules WHERE user_id = ? ORDER BY strength DESC, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []model.Rule
	for rows.Next() {
		var r model.Rule
		var exceptions sql.NullString
		var source, createdAt, updatedAt string
		if err := rows.Scan(&r.ID, &r.UserID, &r.Condition, &r.Action, &r.Strength,
			&exceptions, &source, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		r.Source = model.RuleSource(source)
		r.CreatedAt = parseTime(createdAt)
		r.UpdatedAt = parseTime(updatedAt)
		if exceptions.Valid {
			json.Unmarshal([]byte(exceptions.String), &r.Exceptions)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// --- Audit log ---

func (s *SQLiteStore) SaveFeedback(ctx context.Context, e *model.FeedbackEvent) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO feedback_events (id, user_id, type, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.UserID, string(e.Type), string(body), formatTime(e.CreatedAt))
	return err
}

func (s *SQLiteStore) SaveInteraction(ctx context.Context, e *model.InteractionEvent) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal interaction: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO interactions (id, user_id, body, created_at) VALUES (?, ?, ?, ?)`,
		e.ID, e.UserID, string(body), formatTime(e.CreatedAt))
	return err
}

func (s *SQLiteStore) RecentInteractions(ctx context.Context, userID string, limit int) ([]model.InteractionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM interactions WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.InteractionEvent
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var e model.InteractionEvent
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			return nil, fmt.Errorf("decode interaction: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) SaveUpdate(ctx context.Context, rec UpdateRecord) error {
	body, err := json.Marshal(rec.Update)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	var errMsg *string
	if rec.Error != "" {
		errMsg = &rec.Error
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO learning_updates (id, user_id, type, body, applied, error, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Update.ID, rec.Update.UserID, string(rec.Update.Type()), string(body), rec.Applied, errMsg,
		formatTime(rec.RecordedAt))
	return err
}

func (s *SQLiteStore) ListUpdates(ctx context.Context, userID string, limit int) ([]UpdateRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT body, applied, error, recorded_at FROM learning_updates
		 WHERE user_id = ? ORDER BY recorded_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []UpdateRecord
	for rows.Next() {
		var body, recordedAt string
		var errMsg sql.NullString
		var rec UpdateRecord
		if err := rows.Scan(&body, &rec.Applied, &errMsg, &recordedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(body), &rec.Update); err != nil {
			return nil, fmt.Errorf("decode update: %w", err)
		}
		rec.Error = errMsg.String
		rec.RecordedAt = parseTime(recordedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) CountAudit(ctx context.Context, userID string) (AuditCounts, error) {
	var c AuditCounts
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM feedback_events WHERE user_id = ?),
		(SELECT COUNT(*) FROM interactions WHERE user_id = ?),
		(SELECT COUNT(*) FROM learning_updates WHERE user_id = ?),
		(SELECT COUNT(*) FROM learning_updates WHERE user_id = ? AND applied = 1)`,
		userID, userID, userID, userID).Scan(&c.FeedbackEvents, &c.Interactions, &c.Updates, &c.AppliedUpdates)
	return c, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row scanner) (model.Memory, error) {
	var m model.Memory
	var kind, createdAt, lastAccessed string
	var embedding, tags, meta sql.NullString

	err := row.Scan(&m.ID, &m.UserID, &kind, &m.Content, &embedding, &m.Importance,
		&m.AccessCount, &createdAt, &lastAccessed, &tags, &meta)
	if err != nil {
		return m, err
	}

	m.Kind = model.Kind(kind)
	m.CreatedAt = parseTime(createdAt)
	m.LastAccessedAt = parseTime(lastAccessed)
	if embedding.Valid {
		json.Unmarshal([]byte(embedding.String), &m.Embedding)
	}
	if tags.Valid {
		json.Unmarshal([]byte(tags.String), &m.Tags)
	}
	if meta.Valid {
		json.Unmarshal([]byte(meta.String), &m.Meta)
	}
	return m, nil
}

func scanPreference(row scanner) (model.Preference, error) {
	var p model.Preference
	var source, createdAt, updatedAt string
	var examples, exceptions sql.NullString

	err := row.Scan(&p.ID, &p.UserID, &p.Category, &p.Text, &p.Strength, &p.Confidence,
		&examples, &exceptions, &source, &createdAt, &updatedAt)
	if err != nil {
		return p, err
	}

	p.Source = model.PreferenceSource(source)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	if examples.Valid {
		json.Unmarshal([]byte(examples.String), &p.Examples)
	}
	if exceptions.Valid {
		json.Unmarshal([]byte(exceptions.String), &p.Exceptions)
	}
	return p, nil
}

// jsonOrNil encodes v, storing NULL for empty slices and maps.
func jsonOrNil(v interface{}) *string {
	switch x := v.(type) {
	case []float64:
		if len(x) == 0 {
			return nil
		}
	case []string:
		if len(x) == 0 {
			return nil
		}
	case map[string]string:
		if len(x) == 0 {
			return nil
		}
	case []model.Exception:
		if len(x) == 0 {
			return nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}

func affectedOne(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}
