package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// HistoryStore mirrors conversation messages and step outcomes into SQLite.
type HistoryStore struct {
	DB *sql.DB
}

func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Create tables if not exist
	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			role TEXT,
			content TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			plan_id TEXT,
			step_id TEXT,
			handler TEXT,
			goal TEXT,
			status TEXT,
			status_update TEXT,
			content TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, q := range queries {
		if _, err = db.Exec(q); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &HistoryStore{DB: db}, nil
}

func (h *HistoryStore) Close() error {
	return h.DB.Close()
}

func (h *HistoryStore) AddMessage(sessionID string, role string, content string) error {
	query := `INSERT INTO messages (session_id, role, content) VALUES (?, ?, ?)`
	_, err := h.DB.Exec(query, sessionID, role, content)
	return err
}

// GetHistory returns the last limit messages of a session in chronological order.
func (h *HistoryStore) GetHistory(sessionID string, limit int) ([]Message, error) {
	query := `SELECT role, content FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := h.DB.Query(query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, err
		}
		history = append(history, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	return history, nil
}

func (h *HistoryStore) AddStep(rec StepRecord) error {
	query := `INSERT INTO steps (session_id, plan_id, step_id, handler, goal, status, status_update, content)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := h.DB.Exec(query, rec.SessionID, rec.PlanID, rec.StepID, rec.Handler, rec.Goal,
		rec.Status, rec.StatusUpdate, rec.Content)
	return err
}

// RecentSteps returns the newest step records across all sessions, newest first.
func (h *HistoryStore) RecentSteps(limit int) ([]StepRecord, error) {
	query := `SELECT session_id, plan_id, step_id, handler, goal, status, status_update, content, timestamp
		FROM steps ORDER BY id DESC LIMIT ?`
	rows, err := h.DB.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []StepRecord
	for rows.Next() {
		var r StepRecord
		var ts string
		if err := rows.Scan(&r.SessionID, &r.PlanID, &r.StepID, &r.Handler, &r.Goal,
			&r.Status, &r.StatusUpdate, &r.Content, &ts); err != nil {
			return nil, err
		}
		r.Timestamp = parseTimestamp(ts)
		records = append(records, r)
	}
	return records, rows.Err()
}

// parseTimestamp accepts both the SQLite CURRENT_TIMESTAMP layout and the
// RFC 3339 form the driver produces when it converts DATETIME columns itself.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
