// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFilesAreNumbered(t *testing.T) {
	files, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, files)

	pattern := regexp.MustCompile(`^\d{3}_[a-z0-9_]+\.sql$`)
	seen := make(map[string]struct{})
	for _, name := range files {
		assert.Regexp(t, pattern, name)
		prefix := name[:3]
		_, dup := seen[prefix]
		assert.False(t, dup, "duplicate migration number %s", prefix)
		seen[prefix] = struct{}{}
	}
}

func TestNewAppliesMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "libretorrent.db")

	db, err := New(path)
	require.NoError(t, err)

	files, err := migrationFiles()
	require.NoError(t, err)

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM migrations").Scan(&count))
	assert.Equal(t, len(files), count)
	require.NoError(t, db.Close())

	db, err = New(path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM migrations").Scan(&count))
	assert.Equal(t, len(files), count)
}

func TestConnectionPragmas(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "pragmas.db"))
	require.NoError(t, err)
	defer db.Close()

	var journal string
	require.NoError(t, db.Conn().QueryRow("PRAGMA journal_mode").Scan(&journal))
	assert.Equal(t, "wal", journal)

	var foreignKeys int
	require.NoError(t, db.Conn().QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys)

	var busyTimeout int
	require.NoError(t, db.Conn().QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, defaultBusyTimeoutMillis, busyTimeout)
}

func TestSchemaTables(t *testing.T) {
	db, err := New(":memory:")
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"preferences", "tags", "torrent_tags", "engine_torrents"} {
		t.Run(table, func(t *testing.T) {
			var name string
			err := db.QueryRowContext(context.Background(),
				"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
			require.NoError(t, err)
			assert.Equal(t, table, name)
		})
	}
}

func TestBeginTxRollback(t *testing.T) {
	db, err := New(":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	_, err = tx.ExecContext(ctx, "INSERT INTO preferences (key, value) VALUES (?, ?)", "k", "v")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM preferences").Scan(&count))
	assert.Zero(t, count)
}
