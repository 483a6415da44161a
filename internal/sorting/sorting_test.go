// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package sorting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/proninyaroslav/libretorrent/internal/models"
)

func ids(list []models.TorrentInfo) []string {
	out := make([]string, 0, len(list))
	for _, t := range list {
		out = append(out, t.ID)
	}
	return out
}

func TestProgressDescendingScenario(t *testing.T) {
	list := []models.TorrentInfo{
		{ID: "a", State: models.StateDownloading, Progress: 40},
		{ID: "b", State: models.StateSeeding, Progress: 100},
	}

	sorted := Sort(list, Spec{Column: ColumnProgress, Direction: Desc})
	assert.Equal(t, []string{"b", "a"}, ids(sorted))
	assert.Equal(t, []string{"a", "b"}, ids(list), "input must not be reordered")
}

func TestParseColumn(t *testing.T) {
	tests := []struct {
		input    string
		expected Column
	}{
		{"name", ColumnName},
		{"ETA", ColumnETA},
		{"dateAdded", ColumnDateAdded},
		{"date_added", ColumnDateAdded},
		{"download-speed", ColumnDownloadSpeed},
		{"leechers", ColumnLeechers},
		{"", ColumnNone},
		{"ratio", ColumnNone},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseColumn(tt.input))
		})
	}
}

func TestParseDirection(t *testing.T) {
	assert.Equal(t, Desc, ParseDirection("DESC"))
	assert.Equal(t, Desc, ParseDirection("descending"))
	assert.Equal(t, Asc, ParseDirection("asc"))
	assert.Equal(t, Asc, ParseDirection("sideways"))
	assert.Equal(t, Asc, ParseDirection(""))
}

func TestColumns(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	list := []models.TorrentInfo{
		{ID: "a", Name: "beta", State: models.StateSeeding, Progress: 100, TotalBytes: 300, ETA: 0, TotalPeers: 5, TotalSeeds: 5, DownloadSpeed: 0, UploadSpeed: 30, DateAdded: base.Add(2 * time.Hour)},
		{ID: "b", Name: "Alpha", State: models.StateDownloading, Progress: 20, TotalBytes: 100, ETA: 600, TotalPeers: 9, TotalSeeds: 2, DownloadSpeed: 500, UploadSpeed: 10, DateAdded: base},
		{ID: "c", Name: "gamma", State: models.StatePaused, Progress: 60, TotalBytes: 200, ETA: -1, TotalPeers: 1, TotalSeeds: 0, DownloadSpeed: 100, UploadSpeed: 20, DateAdded: base.Add(time.Hour)},
	}

	tests := []struct {
		column Column
		asc    []string
		desc   []string
	}{
		{ColumnName, []string{"b", "a", "c"}, []string{"c", "a", "b"}},
		{ColumnStatus, []string{"b", "a", "c"}, []string{"c", "a", "b"}},
		{ColumnProgress, []string{"b", "c", "a"}, []string{"a", "c", "b"}},
		{ColumnDateAdded, []string{"b", "c", "a"}, []string{"a", "c", "b"}},
		{ColumnSize, []string{"b", "c", "a"}, []string{"a", "c", "b"}},
		{ColumnETA, []string{"a", "b", "c"}, []string{"b", "a", "c"}},
		{ColumnPeers, []string{"c", "a", "b"}, []string{"b", "a", "c"}},
		{ColumnLeechers, []string{"a", "c", "b"}, []string{"b", "c", "a"}},
		{ColumnDownloadSpeed, []string{"a", "c", "b"}, []string{"b", "c", "a"}},
		{ColumnUploadSpeed, []string{"b", "c", "a"}, []string{"a", "c", "b"}},
		{ColumnNone, []string{"a", "b", "c"}, []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.column), func(t *testing.T) {
			assert.Equal(t, tt.asc, ids(Sort(list, Spec{Column: tt.column, Direction: Asc})))
			assert.Equal(t, tt.desc, ids(Sort(list, Spec{Column: tt.column, Direction: Desc})))
		})
	}
}

func TestSortIsStable(t *testing.T) {
	list := []models.TorrentInfo{
		{ID: "1", Progress: 50},
		{ID: "2", Progress: 10},
		{ID: "3", Progress: 50},
		{ID: "4", Progress: 10},
		{ID: "5", Progress: 50},
	}

	assert.Equal(t, []string{"2", "4", "1", "3", "5"}, ids(Sort(list, Spec{Column: ColumnProgress, Direction: Asc})))
	assert.Equal(t, []string{"1", "3", "5", "2", "4"}, ids(Sort(list, Spec{Column: ColumnProgress, Direction: Desc})))
}

func TestSortIsOrderedPermutationAndIdempotent(t *testing.T) {
	list := make([]models.TorrentInfo, 0, 40)
	for i := range 40 {
		list = append(list, models.TorrentInfo{
			ID:         string(rune('A' + i)),
			Progress:   (i * 37) % 101,
			TotalBytes: int64((i * 13) % 7),
			ETA:        int64((i*11)%9) - 1,
		})
	}

	for _, column := range Columns {
		for _, dir := range []Direction{Asc, Desc} {
			spec := Spec{Column: column, Direction: dir}
			sorted := Sort(list, spec)

			assert.ElementsMatch(t, ids(list), ids(sorted))
			for i := 1; i < len(sorted); i++ {
				assert.LessOrEqual(t, Compare(sorted[i-1], sorted[i], spec), 0, "%s %s out of order at %d", column, dir, i)
			}
			assert.Equal(t, ids(sorted), ids(Sort(sorted, spec)))
		}
	}
}

func TestErroredTorrentsSortAsError(t *testing.T) {
	list := []models.TorrentInfo{
		{ID: "err", State: models.StateDownloading, Error: "tracker"},
		{ID: "ok", State: models.StatePaused},
	}
	assert.Equal(t, []string{"ok", "err"}, ids(Sort(list, Spec{Column: ColumnStatus, Direction: Asc})))
}
