// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/proninyaroslav/libretorrent/internal/dbinterface"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	defaultBusyTimeoutMillis = 5000
	memoryPath               = ":memory:"
)

type DB struct {
	conn *sql.DB
}

var _ dbinterface.Querier = (*DB)(nil)

// New opens (or creates) the sqlite database at path and applies pending migrations.
func New(path string) (*DB, error) {
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}

	dsn := buildDSN(path)

	var conn *sql.DB
	err := retry.Do(
		func() error {
			c, err := sql.Open("sqlite", dsn)
			if err != nil {
				return err
			}
			if err := c.Ping(); err != nil {
				c.Close()
				return err
			}
			conn = c
			return nil
		},
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Uint("attempt", n+1).Str("path", path).Msg("Retrying database open")
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "open database %s", path)
	}

	if path == memoryPath {
		// every new connection to :memory: is a separate database
		conn.SetMaxOpenConns(1)
	}

	db := &DB{conn: conn}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	log.Debug().Str("path", path).Msg("Database ready")

	return db, nil
}

func buildDSN(path string) string {
	pragmas := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", defaultBusyTimeoutMillis),
		"_pragma=foreign_keys(1)",
	}
	if path != memoryPath {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	return "file:" + path + "?" + strings.Join(pragmas, "&")
}

func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.conn.ExecContext(ctx, query, args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, query, args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn.QueryRowContext(ctx, query, args...)
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (dbinterface.TxQuerier, error) {
	tx, err := db.conn.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			filename   TEXT NOT NULL UNIQUE,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return errors.Wrap(err, "create migrations table")
	}

	files, err := migrationFiles()
	if err != nil {
		return err
	}

	applied := make(map[string]struct{})
	rows, err := db.conn.QueryContext(ctx, "SELECT filename FROM migrations")
	if err != nil {
		return errors.Wrap(err, "list applied migrations")
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return errors.Wrap(err, "scan migration row")
		}
		applied[name] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "iterate migrations")
	}

	for _, name := range files {
		if _, ok := applied[name]; ok {
			continue
		}
		if err := db.applyMigration(ctx, name); err != nil {
			return err
		}
		log.Debug().Str("migration", name).Msg("Applied database migration")
	}

	return nil
}

func (db *DB) applyMigration(ctx context.Context, name string) error {
	content, err := migrationsFS.ReadFile("migrations/" + name)
	if err != nil {
		return errors.Wrapf(err, "read migration %s", name)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin migration transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return errors.Wrapf(err, "apply migration %s", name)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO migrations (filename) VALUES (?)", name); err != nil {
		return errors.Wrapf(err, "record migration %s", name)
	}

	return tx.Commit()
}

func migrationFiles() ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, errors.Wrap(err, "read embedded migrations")
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	return files, nil
}
