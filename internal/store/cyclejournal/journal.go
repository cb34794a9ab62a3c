// Package cyclejournal keeps an append-only audit log of capture cycles:
// one row per tick with its outcome, error and timing. It backs the
// status history shown on the dashboard and survives process restarts.
package cyclejournal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Outcome classifies one capture cycle.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

// Entry is one journaled cycle.
type Entry struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Pair       string    `json:"pair"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	Predicted  bool      `json:"predicted"`
	Verified   bool      `json:"verified"`
}

// Journal is a small append-only log on raw database/sql + sqlite.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates or opens the journal database at path.
func Open(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("cycle journal: path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path))
	if err != nil {
		return nil, err
	}
	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	_, err := j.db.Exec(`CREATE TABLE IF NOT EXISTS capture_cycles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		pair TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		predicted INTEGER NOT NULL DEFAULT 0,
		verified INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_cycles_session ON capture_cycles(session_id, started_at);`)
	return err
}

// Append writes one entry; journal failures must never fail a cycle, so the
// caller is expected to log and move on.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO capture_cycles (session_id, pair, started_at, duration_ms, outcome, error, predicted, verified)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Pair, e.StartedAt.UnixMilli(), e.DurationMS, string(e.Outcome), e.Error,
		boolToInt(e.Predicted), boolToInt(e.Verified))
	return err
}

// Recent returns up to limit most recent entries for a session, newest first.
func (j *Journal) Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, session_id, pair, started_at, duration_ms, outcome, error, predicted, verified
		 FROM capture_cycles WHERE session_id = ? ORDER BY started_at DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var startedMS int64
		var predicted, verified int
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Pair, &startedMS, &e.DurationMS, &e.Outcome, &e.Error, &predicted, &verified); err != nil {
			return nil, err
		}
		e.StartedAt = time.UnixMilli(startedMS).UTC()
		e.Predicted = predicted != 0
		e.Verified = verified != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
