// Package audit records every control command in a local SQLite table.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	busyTimeoutMS   = 5000
	pingTimeout     = 5 * time.Second
	defaultPageSize = 50
	maxPageSize     = 200

	// timeLayout is fixed width so created_at sorts and compares as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

const schema = `
CREATE TABLE IF NOT EXISTS commands (
	id          TEXT PRIMARY KEY,
	mac         TEXT NOT NULL,
	fields      TEXT NOT NULL,
	result      TEXT NOT NULL,
	error       TEXT,
	attempts    INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_commands_created_at ON commands(created_at);
`

// Entry is one row of the command log.
type Entry struct {
	ID         string         `json:"id"`
	MAC        string         `json:"mac"`
	Fields     map[string]any `json:"fields"`
	Result     string         `json:"result"`
	Error      string         `json:"error,omitempty"`
	Attempts   int            `json:"attempts"`
	DurationMS int64          `json:"duration_ms"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Log is a SQLite-backed command log.
type Log struct {
	db *sql.DB
}

// Open creates the database file (0600) and schema if needed.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL", path, busyTimeoutMS)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("verifying audit database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}
	_ = os.Chmod(path, 0o600)

	return &Log{db: db}, nil
}

func (l *Log) Close() error {
	return l.db.Close()
}

// Record inserts e, filling ID and CreatedAt when empty.
func (l *Log) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generating command id: %w", err)
		}
		e.ID = "cmd-" + id.String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Errorf("marshalling command fields: %w", err)
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO commands (id, mac, fields, result, error, attempts, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.MAC, string(fields), e.Result, nullableString(e.Error),
		e.Attempts, e.DurationMS, e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting command: %w", err)
	}
	return nil
}

// Recent returns the newest entries first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, mac, fields, result, error, attempts, duration_ms, created_at
		 FROM commands ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			fields    string
			errText   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.MAC, &fields, &e.Result, &errText, &e.Attempts, &e.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		if err := json.Unmarshal([]byte(fields), &e.Fields); err != nil {
			return nil, fmt.Errorf("decoding command fields: %w", err)
		}
		e.Error = errText.String
		if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries created before cutoff and returns how many went.
func (l *Log) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM commands WHERE created_at < ?`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("pruning commands: %w", err)
	}
	return res.RowsAffected()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
