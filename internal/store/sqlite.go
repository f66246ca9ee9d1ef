package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const defaultSQLiteDSN = ":memory:"

// SQLite keeps both stores in an in-memory SQLite database. File-backed
// DSNs are rejected: state lives for the process lifetime only.
type SQLite struct {
	db     *sql.DB
	memory *sqliteMemory
	plans  *sqlitePlans
}

func NewSQLite(dsn string) (*SQLite, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = defaultSQLiteDSN
	}
	if !isMemoryDSN(dsn) {
		return nil, fmt.Errorf("sqlite dsn %q is not in-memory (use :memory: or mode=memory)", dsn)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.memory = &sqliteMemory{db: db}
	s.plans = &sqlitePlans{db: db}
	return s, nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

func (s *SQLite) configure() error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *SQLite) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_entries (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL UNIQUE,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			last_accessed INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS plans (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			task_description TEXT NOT NULL,
			steps TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			status TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Memory() MemoryStore { return s.memory }
func (s *SQLite) Plans() PlanStore    { return s.plans }

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type sqliteMemory struct {
	db *sql.DB
}

func (m *sqliteMemory) Put(ctx context.Context, key string, content json.RawMessage, now time.Time) error {
	ts := now.UnixNano()
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO memory_entries (key, content, created_at, last_accessed)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			content = excluded.content,
			last_accessed = MAX(last_accessed, excluded.last_accessed)
	`, key, string(content), ts, ts)
	if err != nil {
		return fmt.Errorf("put memory %q: %w", key, err)
	}
	return nil
}

func (m *sqliteMemory) List(ctx context.Context) ([]MemoryRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT key, content, created_at, last_accessed
		FROM memory_entries
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list memory: %w", err)
	}
	defer rows.Close()

	var out []MemoryRecord
	for rows.Next() {
		var (
			rec              MemoryRecord
			content          string
			created, touched int64
		)
		if err := rows.Scan(&rec.Key, &content, &created, &touched); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		rec.Entry = MemoryEntry{
			Content:      json.RawMessage(content),
			CreatedAt:    time.Unix(0, created).UTC(),
			LastAccessed: time.Unix(0, touched).UTC(),
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (m *sqliteMemory) Len(ctx context.Context) (int, error) {
	return count(ctx, m.db, "memory_entries")
}

func (m *sqliteMemory) Clear(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM memory_entries`); err != nil {
		return fmt.Errorf("clear memory: %w", err)
	}
	return nil
}

type sqlitePlans struct {
	db *sql.DB
}

func (p *sqlitePlans) Insert(ctx context.Context, plan Plan) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO plans (id, task_description, steps, created_at, status)
		VALUES (?, ?, ?, ?, ?)
	`, plan.ID, plan.TaskDescription, string(plan.Steps), plan.CreatedAt.UnixNano(), plan.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePlan
		}
		return fmt.Errorf("insert plan %s: %w", plan.ID, err)
	}
	return nil
}

func (p *sqlitePlans) List(ctx context.Context) ([]Plan, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, task_description, steps, created_at, status
		FROM plans
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var out []Plan
	for rows.Next() {
		var (
			plan    Plan
			steps   string
			created int64
		)
		if err := rows.Scan(&plan.ID, &plan.TaskDescription, &steps, &created, &plan.Status); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plan.Steps = json.RawMessage(steps)
		plan.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, plan)
	}
	return out, rows.Err()
}

func (p *sqlitePlans) Len(ctx context.Context) (int, error) {
	return count(ctx, p.db, "plans")
}

func (p *sqlitePlans) Clear(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM plans`); err != nil {
		return fmt.Errorf("clear plans: %w", err)
	}
	return nil
}

func count(ctx context.Context, db *sql.DB, table string) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
