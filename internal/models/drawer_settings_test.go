// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrawerSettingsLoadDefaults(t *testing.T) {
	store := NewDrawerSettingsStore(NewPreferenceStore(newTestDB(t)))

	settings, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultDrawerSettings(), settings)
	assert.Equal(t, "date_added", settings.SortColumn)
	assert.Equal(t, "desc", settings.SortDirection)
	assert.Equal(t, TagFilterAll, settings.TagFilter.Type)
}

func TestDrawerSettingsMalformedValuesFailSoft(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		value  string
		verify func(t *testing.T, s DrawerSettings)
	}{
		{
			name:  "status not a list",
			key:   PrefKeyStatusFilter,
			value: `{"oops":`,
			verify: func(t *testing.T, s DrawerSettings) {
				assert.Empty(t, s.StatusFilters)
			},
		},
		{
			name:  "sort column wrong type",
			key:   PrefKeySortColumn,
			value: `123`,
			verify: func(t *testing.T, s DrawerSettings) {
				assert.Equal(t, DefaultSortColumn, s.SortColumn)
			},
		},
		{
			name:  "tag filter unknown type",
			key:   PrefKeyTagFilter,
			value: `{"type":"everything"}`,
			verify: func(t *testing.T, s DrawerSettings) {
				assert.Equal(t, TagFilterSetting{Type: TagFilterAll}, s.TagFilter)
			},
		},
		{
			name:  "tag item without id",
			key:   PrefKeyTagFilter,
			value: `{"type":"item"}`,
			verify: func(t *testing.T, s DrawerSettings) {
				assert.Equal(t, TagFilterAll, s.TagFilter.Type)
			},
		},
		{
			name:  "direction garbage",
			key:   PrefKeySortDirection,
			value: `not json`,
			verify: func(t *testing.T, s DrawerSettings) {
				assert.Equal(t, DefaultSortDirection, s.SortDirection)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			prefs := NewPreferenceStore(newTestDB(t))
			require.NoError(t, prefs.Set(ctx, tt.key, tt.value))

			settings, err := NewDrawerSettingsStore(prefs).Load(ctx)
			require.NoError(t, err)
			tt.verify(t, settings)
		})
	}
}

func TestDrawerSettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewDrawerSettingsStore(NewPreferenceStore(newTestDB(t)))

	in := DrawerSettings{
		StatusFilters:    []string{"Downloading", "error", "downloading"},
		DateAddedFilters: []string{"week"},
		SortColumn:       "progress",
		SortDirection:    "asc",
		TagFilter:        TagFilterSetting{Type: TagFilterItem, TagID: 7},
		SearchQuery:      "ubuntu",
	}
	require.NoError(t, store.Save(ctx, in))

	out, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"downloading", "error"}, out.StatusFilters)
	assert.Equal(t, []string{"week"}, out.DateAddedFilters)
	assert.Equal(t, "progress", out.SortColumn)
	assert.Equal(t, "asc", out.SortDirection)
	assert.Equal(t, TagFilterSetting{Type: TagFilterItem, TagID: 7}, out.TagFilter)
	assert.Equal(t, "ubuntu", out.SearchQuery)
}
