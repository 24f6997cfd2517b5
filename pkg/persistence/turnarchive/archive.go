// Package turnarchive keeps a write-only SQLite record of committed turns for
// later inspection. Sessions are never restored from it.
package turnarchive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/go-go-golems/dialogd/pkg/dialogevents"
)

// Record is one archived turn.
type Record struct {
	SessionID   string `json:"session_id"`
	TurnID      string `json:"turn_id"`
	Role        string `json:"role"`
	Content     string `json:"content"`
	Length      int    `json:"length"`
	CreatedAtMs int64  `json:"created_at_ms"`
	Retracted   bool   `json:"retracted"`
}

// Query filters archived turns. SessionID is required.
type Query struct {
	SessionID string
	SinceMs   int64
	Limit     int
}

type Archive struct {
	db *sql.DB
}

func DSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("turn archive: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

func Open(dsn string) (*Archive, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("turn archive: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *Archive) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT NOT NULL,
			turn_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			length INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL,
			retracted INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (session_id, turn_id)
		);`,
		`CREATE INDEX IF NOT EXISTS turns_by_session ON turns(session_id, created_at_ms);`,
	}
	for _, st := range stmts {
		if _, err := a.db.Exec(st); err != nil {
			return errors.Wrap(err, "turn archive: migrate")
		}
	}
	return nil
}

func (a *Archive) Save(ctx context.Context, r Record) error {
	if a == nil || a.db == nil {
		return errors.New("turn archive: db is nil")
	}
	if strings.TrimSpace(r.SessionID) == "" || strings.TrimSpace(r.TurnID) == "" {
		return errors.New("turn archive: session id and turn id are required")
	}
	if r.CreatedAtMs == 0 {
		r.CreatedAtMs = time.Now().UnixMilli()
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO turns(session_id, turn_id, role, content, length, created_at_ms)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, turn_id) DO UPDATE SET
			role = excluded.role,
			content = excluded.content,
			length = excluded.length
	`, r.SessionID, r.TurnID, r.Role, r.Content, r.Length, r.CreatedAtMs)
	return errors.Wrap(err, "turn archive: save")
}

// MarkRetracted flags a user turn that was discarded after an interrupted stream.
func (a *Archive) MarkRetracted(ctx context.Context, sessionID, turnID string) error {
	if a == nil || a.db == nil {
		return errors.New("turn archive: db is nil")
	}
	_, err := a.db.ExecContext(ctx, `UPDATE turns SET retracted = 1 WHERE session_id = ? AND turn_id = ?`, sessionID, turnID)
	return errors.Wrap(err, "turn archive: mark retracted")
}

// List returns a session's turns oldest first.
func (a *Archive) List(ctx context.Context, q Query) ([]Record, error) {
	if a == nil || a.db == nil {
		return nil, errors.New("turn archive: db is nil")
	}
	if strings.TrimSpace(q.SessionID) == "" {
		return nil, errors.New("turn archive: session id required")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT session_id, turn_id, role, content, length, created_at_ms, retracted
		FROM turns
		WHERE session_id = ? AND created_at_ms >= ?
		ORDER BY created_at_ms ASC, rowid ASC
		LIMIT ?
	`, q.SessionID, q.SinceMs, limit)
	if err != nil {
		return nil, errors.Wrap(err, "turn archive: list")
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.SessionID, &r.TurnID, &r.Role, &r.Content, &r.Length, &r.CreatedAtMs, &r.Retracted); err != nil {
			return nil, errors.Wrap(err, "turn archive: scan")
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "turn archive: rows")
}

// HandleEvent archives committed turns and flags retracted ones. It plugs
// into dialogevents.Consume.
func (a *Archive) HandleEvent(ctx context.Context, ev dialogevents.Event) error {
	switch ev.Type {
	case dialogevents.TypeTurnCommitted:
		return a.Save(ctx, Record{
			SessionID:   ev.SessionID,
			TurnID:      ev.TurnID,
			Role:        ev.Role,
			Content:     ev.Content,
			Length:      ev.Length,
			CreatedAtMs: ev.At.UnixMilli(),
		})
	case dialogevents.TypeTurnRetracted:
		return a.MarkRetracted(ctx, ev.SessionID, ev.TurnID)
	default:
		return nil
	}
}
