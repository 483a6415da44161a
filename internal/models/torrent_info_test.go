// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStateCode(t *testing.T) {
	tests := []struct {
		input    string
		expected StateCode
	}{
		{"downloading", StateDownloading},
		{"SEEDING", StateSeeding},
		{" downloading_metadata ", StateDownloadingMetadata},
		{"allocating", StateAllocating},
		{"bogus", StateUnknown},
		{"", StateUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseStateCode(tt.input))
		})
	}
}

func TestStateCodeJSON(t *testing.T) {
	data, err := json.Marshal(StateDownloadingMetadata)
	require.NoError(t, err)
	assert.JSONEq(t, `"downloading_metadata"`, string(data))

	var code StateCode
	require.NoError(t, json.Unmarshal([]byte(`"paused"`), &code))
	assert.Equal(t, StatePaused, code)

	require.NoError(t, json.Unmarshal([]byte(`2`), &code))
	assert.Equal(t, StateDownloading, code)

	require.NoError(t, json.Unmarshal([]byte(`42`), &code))
	assert.Equal(t, StateUnknown, code)

	assert.Equal(t, "unknown", StateCode(99).String())
}

func TestTorrentInfoEqual(t *testing.T) {
	added := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	base := TorrentInfo{
		ID:        "a",
		Name:      "ubuntu.iso",
		State:     StateDownloading,
		Progress:  40,
		DateAdded: added,
		Tags:      []Tag{{ID: 1, Name: "linux"}},
	}

	tests := []struct {
		name   string
		mutate func(ti *TorrentInfo)
		equal  bool
	}{
		{name: "identical", mutate: func(ti *TorrentInfo) {}, equal: true},
		{name: "same instant other zone", mutate: func(ti *TorrentInfo) { ti.DateAdded = added.In(time.FixedZone("x", 3600)) }, equal: true},
		{name: "progress", mutate: func(ti *TorrentInfo) { ti.Progress = 41 }, equal: false},
		{name: "error", mutate: func(ti *TorrentInfo) { ti.Error = "disk full" }, equal: false},
		{name: "tags", mutate: func(ti *TorrentInfo) { ti.Tags = nil }, equal: false},
		{name: "tag rename", mutate: func(ti *TorrentInfo) { ti.Tags = []Tag{{ID: 1, Name: "distro"}} }, equal: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base.Clone()
			tt.mutate(&other)
			assert.Equal(t, tt.equal, base.Equal(other))
		})
	}
}

func TestTorrentInfoDerived(t *testing.T) {
	ti := TorrentInfo{TotalPeers: 10, TotalSeeds: 4, ReceivedBytes: 200, UploadedBytes: 100, Tags: []Tag{{ID: 3, Name: "x"}}}
	assert.Equal(t, 6, ti.Leechers())
	assert.InDelta(t, 0.5, ti.Ratio(), 1e-9)
	assert.True(t, ti.HasTag(3))
	assert.False(t, ti.HasTag(4))
	assert.Equal(t, []string{"x"}, ti.TagNames())

	assert.Zero(t, TorrentInfo{TotalPeers: 1, TotalSeeds: 5}.Leechers())
	assert.Zero(t, TorrentInfo{}.Ratio())
}

func TestTorrentInfoCloneDetachesTags(t *testing.T) {
	ti := TorrentInfo{ID: "a", Tags: []Tag{{ID: 1}}}
	clone := ti.Clone()
	clone.Tags[0].ID = 2
	assert.Equal(t, 1, ti.Tags[0].ID)
}
