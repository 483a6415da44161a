// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package anacrolix

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/proninyaroslav/libretorrent/internal/models"
)

func TestResolveState(t *testing.T) {
	tests := []struct {
		name     string
		ready    bool
		paused   bool
		checking bool
		received int64
		total    int64
		expected models.StateCode
	}{
		{name: "waiting for metadata", expected: models.StateDownloadingMetadata},
		{name: "paused before metadata", paused: true, expected: models.StatePaused},
		{name: "downloading", ready: true, received: 10, total: 100, expected: models.StateDownloading},
		{name: "complete", ready: true, received: 100, total: 100, expected: models.StateSeeding},
		{name: "paused when complete", ready: true, paused: true, received: 100, total: 100, expected: models.StatePaused},
		{name: "checking wins", ready: true, paused: true, checking: true, received: 5, total: 100, expected: models.StateChecking},
		{name: "empty torrent", ready: true, expected: models.StateDownloading},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, resolveState(tt.ready, tt.paused, tt.checking, tt.received, tt.total))
		})
	}
}

func TestProgressPercent(t *testing.T) {
	assert.Equal(t, 0, progressPercent(0, 0))
	assert.Equal(t, 0, progressPercent(10, 0))
	assert.Equal(t, 33, progressPercent(1, 3))
	assert.Equal(t, 99, progressPercent(999, 1000))
	assert.Equal(t, 100, progressPercent(1000, 1000))
	assert.Equal(t, 100, progressPercent(2000, 1000))
}

func TestEstimateETA(t *testing.T) {
	assert.Equal(t, int64(0), estimateETA(0, 0))
	assert.Equal(t, int64(-1), estimateETA(100, 0))
	assert.Equal(t, int64(4), estimateETA(100, 30))
	assert.Equal(t, int64(1), estimateETA(100, 100))
}

func TestSourceKind(t *testing.T) {
	assert.Equal(t, kindMagnet, sourceKind("magnet:?xt=urn:btih:abc"))
	assert.Equal(t, kindMagnet, sourceKind("  MAGNET:?xt=urn:btih:abc"))
	assert.Equal(t, kindURL, sourceKind("https://example.com/a.torrent"))
	assert.Equal(t, kindURL, sourceKind("http://example.com/a.torrent"))
	assert.Equal(t, kindFile, sourceKind("/srv/a.torrent"))
}

func TestSampleSpeed(t *testing.T) {
	b := New(Config{}, nil)
	start := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

	down, up := b.sampleSpeed("a", 1000, 500, start)
	assert.Zero(t, down)
	assert.Zero(t, up)

	down, up = b.sampleSpeed("a", 3000, 1500, start.Add(2*time.Second))
	assert.Equal(t, int64(1000), down)
	assert.Equal(t, int64(500), up)

	// counters reset after a restart must not go negative
	down, up = b.sampleSpeed("a", 0, 0, start.Add(3*time.Second))
	assert.Zero(t, down)
	assert.Zero(t, up)

	down, _ = b.sampleSpeed("a", 100, 0, start.Add(3*time.Second))
	assert.Zero(t, down)
}
