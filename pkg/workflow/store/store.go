// Package store persists named workflows and closed-session audit records
// in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/optiflow-ai/voice-core/pkg/workflow"
)

// ErrNotFound is returned when no workflow exists under the requested name.
var ErrNotFound = errors.New("workflow not found")

// Store is a SQLite-backed workflow catalog and session audit log. It
// satisfies workflow.Catalog.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// SessionAudit is the retained record of a closed session.
type SessionAudit struct {
	SessionID     string
	RoomID        string
	ParticipantID string
	Reason        string
	OpenedAt      time.Time
	ClosedAt      time.Time
}

// Open creates the store at path, creating parent directories and the
// schema as needed.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("workflow store initialized", "path", path)
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS workflows (
			owner TEXT NOT NULL,
			name TEXT NOT NULL,
			graph TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (owner, name)
		);

		CREATE TABLE IF NOT EXISTS session_audits (
			session_id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			participant_id TEXT,
			reason TEXT NOT NULL,
			opened_at DATETIME NOT NULL,
			closed_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_session_audits_room
			ON session_audits(room_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// SaveWorkflow upserts a named workflow graph for the owner.
func (s *Store) SaveWorkflow(ctx context.Context, owner, name string, g workflow.Graph) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encoding graph: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (owner, name, graph, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (owner, name) DO UPDATE SET graph = excluded.graph, updated_at = excluded.updated_at
	`, owner, name, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving workflow: %w", err)
	}
	return nil
}

// LoadWorkflow fetches a named workflow graph. Returns ErrNotFound when the
// owner has no workflow under that name.
func (s *Store) LoadWorkflow(ctx context.Context, owner, name string) (workflow.Graph, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT graph FROM workflows WHERE owner = ? AND name = ?`, owner, name,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Graph{}, ErrNotFound
	}
	if err != nil {
		return workflow.Graph{}, fmt.Errorf("loading workflow: %w", err)
	}

	var g workflow.Graph
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return workflow.Graph{}, fmt.Errorf("decoding graph: %w", err)
	}
	return g, nil
}

// ListWorkflows returns the owner's workflow names, newest first.
func (s *Store) ListWorkflows(ctx context.Context, owner string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM workflows WHERE owner = ? ORDER BY updated_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning workflow name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// RecordSessionAudit retains the audit row for a closed session.
func (s *Store) RecordSessionAudit(ctx context.Context, audit SessionAudit) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_audits (session_id, room_id, participant_id, reason, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET reason = excluded.reason, closed_at = excluded.closed_at
	`, audit.SessionID, audit.RoomID, audit.ParticipantID, audit.Reason,
		audit.OpenedAt.UTC(), audit.ClosedAt.UTC())
	if err != nil {
		return fmt.Errorf("recording session audit: %w", err)
	}
	return nil
}

// SessionAuditsForRoom returns retained audits for a room, newest first.
func (s *Store) SessionAuditsForRoom(ctx context.Context, roomID string) ([]SessionAudit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, room_id, participant_id, reason, opened_at, closed_at
		FROM session_audits WHERE room_id = ? ORDER BY closed_at DESC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("listing session audits: %w", err)
	}
	defer rows.Close()

	var audits []SessionAudit
	for rows.Next() {
		var a SessionAudit
		var participant sql.NullString
		if err := rows.Scan(&a.SessionID, &a.RoomID, &participant, &a.Reason, &a.OpenedAt, &a.ClosedAt); err != nil {
			return nil, fmt.Errorf("scanning session audit: %w", err)
		}
		a.ParticipantID = participant.String
		audits = append(audits, a)
	}
	return audits, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
