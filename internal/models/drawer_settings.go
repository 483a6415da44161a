// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	PrefKeyStatusFilter    = "pref_key_drawer_status_selected_items"
	PrefKeyDateAddedFilter = "pref_key_drawer_date_added_selected_items"
	PrefKeySortColumn      = "pref_key_drawer_sorting_selected_item"
	PrefKeySortDirection   = "pref_key_drawer_sorting_direction"
	PrefKeyTagFilter       = "pref_key_drawer_tags_selected_items"
	PrefKeySearchQuery     = "pref_key_search_query"
)

const (
	DefaultSortColumn    = "date_added"
	DefaultSortDirection = "desc"
)

// Tag filter kinds as persisted.
const (
	TagFilterAll    = "all"
	TagFilterNoTags = "no_tags"
	TagFilterItem   = "item"
)

type TagFilterSetting struct {
	Type  string `json:"type"`
	TagID int    `json:"id,omitempty"`
}

func (t TagFilterSetting) valid() bool {
	switch t.Type {
	case TagFilterAll, TagFilterNoTags:
		return true
	case TagFilterItem:
		return t.TagID > 0
	default:
		return false
	}
}

// DrawerSettings is the persisted list criteria.
type DrawerSettings struct {
	StatusFilters    []string         `json:"statusFilters"`
	DateAddedFilters []string         `json:"dateAddedFilters"`
	SortColumn       string           `json:"sortColumn"`
	SortDirection    string           `json:"sortDirection"`
	TagFilter        TagFilterSetting `json:"tagFilter"`
	SearchQuery      string           `json:"searchQuery"`
}

func DefaultDrawerSettings() DrawerSettings {
	return DrawerSettings{
		StatusFilters:    []string{},
		DateAddedFilters: []string{},
		SortColumn:       DefaultSortColumn,
		SortDirection:    DefaultSortDirection,
		TagFilter:        TagFilterSetting{Type: TagFilterAll},
	}
}

type DrawerSettingsStore struct {
	prefs *PreferenceStore
}

func NewDrawerSettingsStore(prefs *PreferenceStore) *DrawerSettingsStore {
	return &DrawerSettingsStore{prefs: prefs}
}

// Load reads every drawer key. Missing or malformed values fall back to their
// defaults; only storage failures are returned.
func (s *DrawerSettingsStore) Load(ctx context.Context) (DrawerSettings, error) {
	settings := DefaultDrawerSettings()

	var statuses []string
	if ok, err := s.decode(ctx, PrefKeyStatusFilter, &statuses); err != nil {
		return settings, err
	} else if ok {
		settings.StatusFilters = normalizeNames(statuses)
	}

	var dates []string
	if ok, err := s.decode(ctx, PrefKeyDateAddedFilter, &dates); err != nil {
		return settings, err
	} else if ok {
		settings.DateAddedFilters = normalizeNames(dates)
	}

	var column string
	if ok, err := s.decode(ctx, PrefKeySortColumn, &column); err != nil {
		return settings, err
	} else if ok && strings.TrimSpace(column) != "" {
		settings.SortColumn = strings.ToLower(strings.TrimSpace(column))
	}

	var direction string
	if ok, err := s.decode(ctx, PrefKeySortDirection, &direction); err != nil {
		return settings, err
	} else if ok && strings.TrimSpace(direction) != "" {
		settings.SortDirection = strings.ToLower(strings.TrimSpace(direction))
	}

	var tag TagFilterSetting
	if ok, err := s.decode(ctx, PrefKeyTagFilter, &tag); err != nil {
		return settings, err
	} else if ok {
		if tag.valid() {
			settings.TagFilter = tag
		} else {
			log.Warn().Str("key", PrefKeyTagFilter).Str("type", tag.Type).Msg("Invalid tag filter preference, using default")
		}
	}

	var query string
	if ok, err := s.decode(ctx, PrefKeySearchQuery, &query); err != nil {
		return settings, err
	} else if ok {
		settings.SearchQuery = query
	}

	return settings, nil
}

func (s *DrawerSettingsStore) Save(ctx context.Context, settings DrawerSettings) error {
	values := make(map[string]string, 6)

	entries := []struct {
		key   string
		value any
	}{
		{PrefKeyStatusFilter, nonNil(settings.StatusFilters)},
		{PrefKeyDateAddedFilter, nonNil(settings.DateAddedFilters)},
		{PrefKeySortColumn, settings.SortColumn},
		{PrefKeySortDirection, settings.SortDirection},
		{PrefKeyTagFilter, settings.TagFilter},
		{PrefKeySearchQuery, settings.SearchQuery},
	}
	for _, e := range entries {
		data, err := json.Marshal(e.value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", e.key, err)
		}
		values[e.key] = string(data)
	}

	return s.prefs.SetMany(ctx, values)
}

// decode reports whether key held a well-formed value.
func (s *DrawerSettingsStore) decode(ctx context.Context, key string, dst any) (bool, error) {
	p, err := s.prefs.Get(ctx, key)
	if errors.Is(err, ErrPreferenceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load preference %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(p.Value), dst); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Malformed drawer preference, using default")
		return false, nil
	}

	return true, nil
}

func normalizeNames(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
