package mission

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

	"github.com/mattn/go-sqlite3"

	"github.com/mbhatt1/hive-sub000/internal/types"
	"github.com/mbhatt1/hive-sub000/internal/workflow"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS missions (
    id             TEXT PRIMARY KEY,
    scan_type      TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL,
    context        TEXT NOT NULL DEFAULT '{}',
    error          TEXT NOT NULL DEFAULT '',
    findings_count INTEGER NOT NULL DEFAULT 0,
    created_at     TIMESTAMP NOT NULL,
    updated_at     TIMESTAMP NOT NULL,
    completed_at   TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_missions_status ON missions(status);
CREATE INDEX IF NOT EXISTS idx_missions_created ON missions(created_at DESC);
`

const missionColumns = `id, scan_type, status, context, error, findings_count, created_at, updated_at, completed_at`

// SQLiteStore persists missions in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLiteStore opens (or creates) the database at path with WAL enabled
// and applies the schema.
func OpenSQLiteStore(path string, busyTimeout time.Duration) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, types.WrapError(types.STORE_OPEN_FAILED, "failed to create database directory", err)
		}
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=%d", path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, types.WrapError(types.STORE_OPEN_FAILED, "failed to open database", err)
	}
	// A single writer keeps read-modify-write updates serialized.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, types.WrapError(types.STORE_OPEN_FAILED, "failed to ping database", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, types.WrapError(types.STORE_OPEN_FAILED, "failed to apply schema", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Create implements Store.
func (s *SQLiteStore) Create(ctx context.Context, m *Mission) error {
	if m == nil {
		return fmt.Errorf("mission cannot be nil")
	}
	contextJSON, err := json.Marshal(m.Context)
	if err != nil {
		return types.WrapError(types.STORE_WRITE_FAILED, "failed to encode mission context", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO missions (`+missionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.ScanType, string(m.Status), string(contextJSON), m.Error, m.FindingsCount,
		m.CreatedAt, m.UpdatedAt, nullableTime(m.CompletedAt),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("%w: %s", ErrMissionExists, m.ID)
		}
		return types.WrapError(types.STORE_WRITE_FAILED, "failed to insert mission", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id types.ID) (*Mission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+missionColumns+` FROM missions WHERE id = ?`, id.String())
	m, err := scanMission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, types.WrapError(types.STORE_QUERY_FAILED, "failed to load mission", err)
	}
	return m, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, id types.ID, status Status, delta Delta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.WrapError(types.STORE_WRITE_FAILED, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+missionColumns+` FROM missions WHERE id = ?`, id.String())
	m, err := scanMission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return types.WrapError(types.STORE_QUERY_FAILED, "failed to load mission", err)
	}

	if err := m.Apply(status, delta, time.Now().UTC()); err != nil {
		return err
	}

	contextJSON, err := json.Marshal(m.Context)
	if err != nil {
		return types.WrapError(types.STORE_WRITE_FAILED, "failed to encode mission context", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE missions SET status = ?, context = ?, error = ?, findings_count = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
		string(m.Status), string(contextJSON), m.Error, m.FindingsCount, m.UpdatedAt, nullableTime(m.CompletedAt), id.String(),
	)
	if err != nil {
		return types.WrapError(types.STORE_WRITE_FAILED, "failed to update mission", err)
	}
	return tx.Commit()
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*Mission, error) {
	var (
		query strings.Builder
		args  []any
	)
	query.WriteString(`SELECT ` + missionColumns + ` FROM missions`)
	if filter.Status != "" {
		query.WriteString(` WHERE status = ?`)
		args = append(args, string(filter.Status))
	}
	query.WriteString(` ORDER BY created_at DESC, id ASC`)
	if filter.Limit > 0 {
		query.WriteString(` LIMIT ?`)
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, types.WrapError(types.STORE_QUERY_FAILED, "failed to list missions", err)
	}
	defer rows.Close()

	var out []*Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, types.WrapError(types.STORE_QUERY_FAILED, "failed to scan mission", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapError(types.STORE_QUERY_FAILED, "failed to iterate missions", err)
	}
	return out, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanMission(scanner interface{ Scan(dest ...any) error }) (*Mission, error) {
	var (
		m           Mission
		id          string
		status      string
		contextJSON string
		completedAt sql.NullTime
	)
	if err := scanner.Scan(&id, &m.ScanType, &status, &contextJSON, &m.Error, &m.FindingsCount,
		&m.CreatedAt, &m.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	m.ID = types.ID(id)
	m.Status = Status(status)

	var raw map[string]any
	if err := json.Unmarshal([]byte(contextJSON), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode mission context: %w", err)
	}
	m.Context = workflow.NewDocument(raw)

	if completedAt.Valid {
		t := completedAt.Time
		m.CompletedAt = &t
	}
	return &m, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
