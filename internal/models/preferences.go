// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/proninyaroslav/libretorrent/internal/dbinterface"
)

var ErrPreferenceNotFound = errors.New("preference not found")

type Preference struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PreferenceStore is a plain key-value table. Values are opaque strings, usually JSON.
type PreferenceStore struct {
	db dbinterface.Querier
}

func NewPreferenceStore(db dbinterface.Querier) *PreferenceStore {
	return &PreferenceStore{db: db}
}

func (s *PreferenceStore) Get(ctx context.Context, key string) (*Preference, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, value, updated_at
		FROM preferences
		WHERE key = ?
	`, key)

	var p Preference
	if err := row.Scan(&p.Key, &p.Value, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPreferenceNotFound
		}
		return nil, err
	}

	return &p, nil
}

func (s *PreferenceStore) List(ctx context.Context) ([]*Preference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, updated_at
		FROM preferences
		ORDER BY key ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prefs []*Preference
	for rows.Next() {
		var p Preference
		if err := rows.Scan(&p.Key, &p.Value, &p.UpdatedAt); err != nil {
			return nil, err
		}
		prefs = append(prefs, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return prefs, nil
}

func (s *PreferenceStore) Set(ctx context.Context, key, value string) error {
	return upsertPreference(ctx, s.db, key, value)
}

// SetMany writes all entries in one transaction.
func (s *PreferenceStore) SetMany(ctx context.Context, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for key, value := range values {
		if err := upsertPreference(ctx, tx, key, value); err != nil {
			return fmt.Errorf("set preference %s: %w", key, err)
		}
	}

	return tx.Commit()
}

func (s *PreferenceStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM preferences WHERE key = ?`, key)
	if err != nil {
		return err
	}

	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrPreferenceNotFound
	}

	return nil
}

// GetJSON decodes the stored value into dst.
func (s *PreferenceStore) GetJSON(ctx context.Context, key string, dst any) error {
	p, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(p.Value), dst)
}

func (s *PreferenceStore) SetJSON(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, string(data))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertPreference(ctx context.Context, db execer, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}
