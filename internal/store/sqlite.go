package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/coworklabs/cowork/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id           TEXT PRIMARY KEY,
	title                TEXT NOT NULL DEFAULT '',
	title_source         TEXT NOT NULL DEFAULT '',
	title_model          TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT 'open',
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL,
	provider             TEXT NOT NULL DEFAULT '',
	model                TEXT NOT NULL DEFAULT '',
	working_directory    TEXT NOT NULL DEFAULT '',
	output_directory     TEXT NOT NULL DEFAULT '',
	uploads_directory    TEXT NOT NULL DEFAULT '',
	enable_mcp           INTEGER NOT NULL DEFAULT 0,
	system_prompt        TEXT NOT NULL DEFAULT '',
	has_pending_ask      INTEGER NOT NULL DEFAULT 0,
	has_pending_approval INTEGER NOT NULL DEFAULT 0,
	message_count        INTEGER NOT NULL DEFAULT 0,
	last_event_seq       INTEGER NOT NULL DEFAULT 0,
	messages_json        TEXT NOT NULL DEFAULT '[]',
	todos_json           TEXT NOT NULL DEFAULT '[]',
	harness_context_json TEXT NOT NULL DEFAULT 'null'
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);
`

// SQLite persists sessions in a single-file database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// database/sql connection pooling breaks single-writer assumptions on
	// file-backed sqlite.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sessions table: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Save(ctx context.Context, rec *models.SessionRecord) error {
	messages := rec.MessagesJSON
	if len(messages) == 0 {
		messages = []byte("[]")
	}
	todos := rec.TodosJSON
	if len(todos) == 0 {
		todos = []byte("[]")
	}
	harness := rec.HarnessContextJSON
	if len(harness) == 0 {
		harness = []byte("null")
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (
	session_id, title, title_source, title_model, status, created_at, updated_at,
	provider, model, working_directory, output_directory, uploads_directory,
	enable_mcp, system_prompt, has_pending_ask, has_pending_approval,
	message_count, last_event_seq, messages_json, todos_json, harness_context_json
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
	title = excluded.title,
	title_source = excluded.title_source,
	title_model = excluded.title_model,
	status = excluded.status,
	updated_at = excluded.updated_at,
	provider = excluded.provider,
	model = excluded.model,
	working_directory = excluded.working_directory,
	output_directory = excluded.output_directory,
	uploads_directory = excluded.uploads_directory,
	enable_mcp = excluded.enable_mcp,
	system_prompt = excluded.system_prompt,
	has_pending_ask = excluded.has_pending_ask,
	has_pending_approval = excluded.has_pending_approval,
	message_count = excluded.message_count,
	last_event_seq = excluded.last_event_seq,
	messages_json = excluded.messages_json,
	todos_json = excluded.todos_json,
	harness_context_json = excluded.harness_context_json`,
		rec.SessionID, rec.Title, rec.TitleSource, rec.TitleModel, string(rec.Status),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
		rec.Provider, rec.Model, rec.WorkingDirectory, rec.OutputDirectory, rec.UploadsDirectory,
		rec.EnableMCP, rec.SystemPrompt, rec.HasPendingAsk, rec.HasPendingApproval,
		rec.MessageCount, rec.LastEventSeq, string(messages), string(todos), string(harness))
	if err != nil {
		return fmt.Errorf("save session %s: %w", rec.SessionID, err)
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context, id string) (*models.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT session_id, title, title_source, title_model, status, created_at, updated_at,
	provider, model, working_directory, output_directory, uploads_directory,
	enable_mcp, system_prompt, has_pending_ask, has_pending_approval,
	message_count, last_event_seq, messages_json, todos_json, harness_context_json
FROM sessions WHERE session_id = ?`, id)

	var rec models.SessionRecord
	var status, createdAt, updatedAt, messages, todos, harness string
	err := row.Scan(&rec.SessionID, &rec.Title, &rec.TitleSource, &rec.TitleModel, &status,
		&createdAt, &updatedAt, &rec.Provider, &rec.Model, &rec.WorkingDirectory,
		&rec.OutputDirectory, &rec.UploadsDirectory, &rec.EnableMCP, &rec.SystemPrompt,
		&rec.HasPendingAsk, &rec.HasPendingApproval, &rec.MessageCount, &rec.LastEventSeq,
		&messages, &todos, &harness)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	rec.Status = models.SessionStatus(status)
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("load session %s: bad created_at: %w", id, err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("load session %s: bad updated_at: %w", id, err)
	}
	rec.MessagesJSON = []byte(messages)
	rec.TodosJSON = []byte(todos)
	if harness != "null" {
		rec.HarnessContextJSON = []byte(harness)
	}
	return &rec, nil
}

func (s *SQLite) List(ctx context.Context) ([]models.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, title, status, provider, model, message_count, created_at, updated_at
FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []models.SessionSummary
	for rows.Next() {
		var s models.SessionSummary
		var status, createdAt, updatedAt string
		if err := rows.Scan(&s.SessionID, &s.Title, &status, &s.Provider, &s.Model,
			&s.MessageCount, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		s.Status = models.SessionStatus(status)
		if s.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("list sessions: bad created_at: %w", err)
		}
		if s.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("list sessions: bad updated_at: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}
