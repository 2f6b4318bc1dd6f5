package alert

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "qtrader/pkg/errors"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS alerts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	rule       TEXT NOT NULL,
	level      TEXT NOT NULL,
	title      TEXT NOT NULL,
	message    TEXT NOT NULL,
	account_id TEXT NOT NULL DEFAULT '',
	symbol     TEXT NOT NULL DEFAULT '',
	fields     TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts (created_at DESC);
`

// Journal is an AlertChannel that persists every alert to SQLite so the
// history survives restarts and can be served to dashboard clients.
type Journal struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(journalSchema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Journal{db: db}, nil
}

func (j *Journal) Name() string {
	return "journal"
}

// Send appends one alert row. Implements AlertChannel.
func (j *Journal) Send(ctx context.Context, alert AlertPayload) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return apperrors.ErrJournalClosed
	}

	fields, err := json.Marshal(alert.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal alert fields: %w", err)
	}

	query := `INSERT INTO alerts (rule, level, title, message, account_id, symbol, fields, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = j.db.ExecContext(ctx, query,
		alert.Rule, string(alert.Level), alert.Title, alert.Message,
		alert.AccountID, alert.Symbol, string(fields), alert.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to write alert to db: %w", err)
	}
	return nil
}

// Recent returns the newest n alerts, newest first
func (j *Journal) Recent(ctx context.Context, n int) ([]AlertPayload, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, apperrors.ErrJournalClosed
	}

	query := `SELECT rule, level, title, message, account_id, symbol, fields, created_at
	          FROM alerts ORDER BY created_at DESC LIMIT ?`
	rows, err := j.db.QueryContext(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("failed to read alerts from db: %w", err)
	}
	defer rows.Close()

	var alerts []AlertPayload
	for rows.Next() {
		var a AlertPayload
		var level, fields string
		var createdAt int64
		if err := rows.Scan(&a.Rule, &level, &a.Title, &a.Message, &a.AccountID, &a.Symbol, &fields, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		a.Level = AlertLevel(level)
		a.Timestamp = time.Unix(0, createdAt)
		if err := json.Unmarshal([]byte(fields), &a.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal alert fields: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}
