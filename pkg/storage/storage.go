// Package storage persists the background context's state tree in sqlite,
// one row per top-level key.
package storage

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is the durable state store.
type Store struct {
	db  *sqlx.DB
	log *slog.Logger
}

type row struct {
	Path      string    `db:"path"`
	Value     string    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Open opens (creating if needed) the sqlite database at path and applies
// pending migrations.
func Open(path string, log *slog.Logger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("storage path is required")
	}
	if log == nil {
		log = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	if err := runMigrations(path); err != nil {
		return nil, fmt.Errorf("migrate storage: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite
	db.SetConnMaxLifetime(0)

	return &Store{db: db, log: log.With("component", "storage", "path", path)}, nil
}

func runMigrations(path string) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, "sqlite3://"+path)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Load returns every persisted top-level key.
func (s *Store) Load(ctx context.Context) (map[string]any, error) {
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, `SELECT path, value, updated_at FROM state ORDER BY path`); err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	state := make(map[string]any, len(rows))
	for _, r := range rows {
		var value any
		if err := json.Unmarshal([]byte(r.Value), &value); err != nil {
			s.log.Warn("Skipping unreadable state row", "key", r.Path, "error", err)
			continue
		}
		state[r.Path] = value
	}

	return state, nil
}

// Save upserts the given top-level keys in one transaction.
func (s *Store) Save(ctx context.Context, entries map[string]any) error {
	if len(entries) == 0 {
		return nil
	}

	now := time.Now().UTC().Truncate(time.Second)
	rows := make([]row, 0, len(entries))
	for key, value := range entries {
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode state %q: %w", key, err)
		}
		rows = append(rows, row{Path: key, Value: string(encoded), UpdatedAt: now})
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin state save: %w", err)
	}
	for _, r := range rows {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO state (path, value, updated_at) VALUES (:path, :value, :updated_at)
			ON CONFLICT(path) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, r); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("save state %q: %w", r.Path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit state save: %w", err)
	}

	s.log.Debug("State saved", "keys", len(rows))
	return nil
}

// Delete removes top-level keys. Unknown keys are ignored.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`DELETE FROM state WHERE path IN (?)`, keys)
	if err != nil {
		return fmt.Errorf("build state delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}

	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
