// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"time"

	"github.com/proninyaroslav/libretorrent/internal/dbinterface"
)

// EngineTorrent is the restore record kept for torrents owned by the embedded engine.
type EngineTorrent struct {
	ID      string    `json:"id"`
	Source  string    `json:"source"`
	AddedAt time.Time `json:"addedAt"`
	Paused  bool      `json:"paused"`
}

type EngineTorrentStore struct {
	db dbinterface.Querier
}

func NewEngineTorrentStore(db dbinterface.Querier) *EngineTorrentStore {
	return &EngineTorrentStore{db: db}
}

func (s *EngineTorrentStore) List(ctx context.Context) ([]EngineTorrent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, added_at, paused
		FROM engine_torrents
		ORDER BY added_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var torrents []EngineTorrent
	for rows.Next() {
		var t EngineTorrent
		var addedAt int64
		if err := rows.Scan(&t.ID, &t.Source, &addedAt, &t.Paused); err != nil {
			return nil, err
		}
		t.AddedAt = time.UnixMilli(addedAt)
		torrents = append(torrents, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return torrents, nil
}

// Upsert records a torrent. The original added_at is kept on conflict.
func (s *EngineTorrentStore) Upsert(ctx context.Context, t EngineTorrent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engine_torrents (id, source, added_at, paused, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			paused = excluded.paused,
			updated_at = CURRENT_TIMESTAMP
	`, t.ID, t.Source, t.AddedAt.UnixMilli(), t.Paused)
	return err
}

func (s *EngineTorrentStore) SetPaused(ctx context.Context, ids []string, paused bool) error {
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE engine_torrents
			SET paused = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, paused, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *EngineTorrentStore) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM engine_torrents WHERE id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}
