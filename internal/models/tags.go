// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/proninyaroslav/libretorrent/internal/dbinterface"
)

var (
	ErrTagNotFound = errors.New("tag not found")
	ErrTagExists   = errors.New("tag already exists")
)

type TagStore struct {
	db dbinterface.Querier
}

func NewTagStore(db dbinterface.Querier) *TagStore {
	return &TagStore{db: db}
}

func (s *TagStore) List(ctx context.Context) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, color, created_at
		FROM tags
		ORDER BY name COLLATE NOCASE ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := []Tag{}
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Color, &t.CreatedAt); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return tags, nil
}

func (s *TagStore) Get(ctx context.Context, id int) (*Tag, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, color, created_at
		FROM tags
		WHERE id = ?
	`, id)

	var t Tag
	if err := row.Scan(&t.ID, &t.Name, &t.Color, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTagNotFound
		}
		return nil, err
	}

	return &t, nil
}

func (s *TagStore) Create(ctx context.Context, name string, color int) (*Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("tag name is empty")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (name, color)
		VALUES (?, ?)
	`, name, color)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrTagExists
		}
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, int(id))
}

func (s *TagStore) Delete(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id)
	if err != nil {
		return err
	}

	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrTagNotFound
	}

	return nil
}

// SetTorrentTags replaces the tag set of a torrent.
func (s *TagStore) SetTorrentTags(ctx context.Context, torrentID string, tagIDs []int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM torrent_tags WHERE torrent_id = ?`, torrentID); err != nil {
		return err
	}

	for _, tagID := range tagIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO torrent_tags (torrent_id, tag_id)
			VALUES (?, ?)
		`, torrentID, tagID); err != nil {
			if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
				return fmt.Errorf("tag %d: %w", tagID, ErrTagNotFound)
			}
			return err
		}
	}

	return tx.Commit()
}

// TagsForTorrents returns the tags of every listed torrent that has any.
func (s *TagStore) TagsForTorrents(ctx context.Context, torrentIDs []string) (map[string][]Tag, error) {
	result := make(map[string][]Tag)

	for _, chunk := range dbinterface.Chunk(torrentIDs) {
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		query := fmt.Sprintf(`
			SELECT tt.torrent_id, t.id, t.name, t.color, t.created_at
			FROM torrent_tags tt
			JOIN tags t ON t.id = tt.tag_id
			WHERE tt.torrent_id IN (%s)
			ORDER BY tt.torrent_id, t.name COLLATE NOCASE
		`, dbinterface.Placeholders(len(chunk)))

		if err := s.scanTorrentTags(ctx, query, args, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (s *TagStore) scanTorrentTags(ctx context.Context, query string, args []any, into map[string][]Tag) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var torrentID string
		var t Tag
		if err := rows.Scan(&torrentID, &t.ID, &t.Name, &t.Color, &t.CreatedAt); err != nil {
			return err
		}
		into[torrentID] = append(into[torrentID], t)
	}

	return rows.Err()
}

// RemoveTorrents drops tag assignments of deleted torrents.
func (s *TagStore) RemoveTorrents(ctx context.Context, torrentIDs []string) error {
	for _, chunk := range dbinterface.Chunk(torrentIDs) {
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		query := fmt.Sprintf(`DELETE FROM torrent_tags WHERE torrent_id IN (%s)`, dbinterface.Placeholders(len(chunk)))
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
