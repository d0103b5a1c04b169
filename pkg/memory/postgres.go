package memory

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PGStore is the Postgres-backed Store shared across gateway instances.
type PGStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenPG connects to Postgres, runs pending migrations, and returns the
// store.
func OpenPG(ctx context.Context, dsn string, logger *slog.Logger) (*PGStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "memory")

	if err := migrate(dsn); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to memory store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging memory store: %w", err)
	}

	logger.Info("memory store initialized")
	return &PGStore{pool: pool, logger: logger}, nil
}

func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("opening migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running memory migrations: %w", err)
	}
	return nil
}

// Add appends one entry to the scope's partition.
func (s *PGStore) Add(ctx context.Context, scope Scope, messages []Message, metadata map[string]string) error {
	if len(messages) == 0 {
		return fmt.Errorf("no messages to remember")
	}
	rawMessages, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encoding messages: %w", err)
	}
	rawMetadata, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO memories (id, scope_key, messages, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), scope.Key(), rawMessages, rawMetadata, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("adding memory: %w", err)
	}
	return nil
}

// GetAll returns the scope's entries, newest first.
func (s *PGStore) GetAll(ctx context.Context, scope Scope) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, messages, metadata, created_at
		FROM memories WHERE scope_key = $1 ORDER BY created_at DESC
	`, scope.Key())
	if err != nil {
		return nil, fmt.Errorf("listing memories: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Search returns entries whose messages contain the query, case-insensitive.
func (s *PGStore) Search(ctx context.Context, scope Scope, query string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, messages, metadata, created_at
		FROM memories
		WHERE scope_key = $1 AND messages::text ILIKE '%' || $2 || '%'
		ORDER BY created_at DESC
	`, scope.Key(), query)
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

type pgRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEntries(rows pgRows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var (
			e           Entry
			rawMessages []byte
			rawMetadata []byte
		)
		if err := rows.Scan(&e.ID, &rawMessages, &rawMetadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		if err := json.Unmarshal(rawMessages, &e.Messages); err != nil {
			return nil, fmt.Errorf("decoding messages: %w", err)
		}
		if len(rawMetadata) > 0 {
			if err := json.Unmarshal(rawMetadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decoding metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (s *PGStore) Close() {
	s.pool.Close()
}
