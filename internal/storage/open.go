package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	logx "codealert/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// DB owns the SQLite handle and hands out the Catalog/Registry facets.
type DB struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the database, applying migrations, and returns the handle.
func Open(cfg Config, log logx.Logger) (*DB, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage: sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	path := cfg.Path
	if dir := filepath.Dir(path); dir != "" && dir != "." && !strings.HasPrefix(path, ":") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	d := &DB{db: db, log: log}
	if err := d.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return d, nil
}

func (d *DB) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx, string(b))
	return err
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Catalog returns the code catalog facet.
func (d *DB) Catalog() *Catalog {
	return &Catalog{db: d.db, log: d.log.With(logx.String("comp", "catalog"))}
}

// Registry returns the subscriber registry facet.
func (d *DB) Registry() *Registry {
	return &Registry{db: d.db, log: d.log.With(logx.String("comp", "registry"))}
}
