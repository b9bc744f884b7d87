package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"pumprelay/relay-server/internal/model"

	_ "modernc.org/sqlite"
)

// timestampLayout is fixed-width so that TEXT comparison orders correctly.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteBackend stores entries in a local SQLite database.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite initializes the database connection, creating directories as
// needed, and ensures the schema exists.
func OpenSQLite(ctx context.Context, path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &SQLiteBackend{db: db}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteBackend) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS duty_cycle_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			mac TEXT NOT NULL,
			on_time TEXT NOT NULL,
			off_time TEXT NOT NULL,
			duration TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_duty_cycle_logs_created_at ON duty_cycle_logs(created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteBackend) Available() bool {
	return s.db != nil
}

func (s *SQLiteBackend) Close(context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteBackend) Create(ctx context.Context, e model.LogEntry) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO duty_cycle_logs (mac, on_time, off_time, duration, created_at) VALUES (?, ?, ?, ?, ?);`,
		e.MAC,
		e.OnTime,
		e.OffTime,
		e.Duration,
		e.Timestamp.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("insert duty cycle log: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Find(ctx context.Context, r model.DateRange, limit int) ([]model.LogEntry, error) {
	where, args := rangeClause(r)
	query := `SELECT id, mac, on_time, off_time, duration, created_at FROM duty_cycle_logs` + where +
		` ORDER BY created_at DESC, id DESC LIMIT ?;`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query duty cycle logs: %w", err)
	}
	defer rows.Close()

	entries := make([]model.LogEntry, 0, limit)
	for rows.Next() {
		var (
			id           int64
			e            model.LogEntry
			createdAtStr string
		)
		if err := rows.Scan(&id, &e.MAC, &e.OnTime, &e.OffTime, &e.Duration, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan duty cycle log: %w", err)
		}
		createdAt, err := time.Parse(timestampLayout, createdAtStr)
		if err != nil {
			createdAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		}
		e.ID = strconv.FormatInt(id, 10)
		e.Timestamp = createdAt
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate duty cycle logs: %w", err)
	}
	return entries, nil
}

func (s *SQLiteBackend) DeleteMany(ctx context.Context, r model.DateRange) (int64, error) {
	where, args := rangeClause(r)
	res, err := s.db.ExecContext(ctx, `DELETE FROM duty_cycle_logs`+where+`;`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete duty cycle logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete duty cycle logs: rows affected: %w", err)
	}
	return n, nil
}

func rangeClause(r model.DateRange) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if r.Start != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, r.Start.UTC().Format(timestampLayout))
	}
	if r.End != nil {
		conds = append(conds, "created_at < ?")
		args = append(args, r.End.UTC().Format(timestampLayout))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
