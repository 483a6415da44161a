// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reannounce

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proninyaroslav/libretorrent/internal/engine"
	"github.com/proninyaroslav/libretorrent/internal/models"
)

type fakeSource struct {
	mu       sync.Mutex
	torrents []models.TorrentInfo
}

func (f *fakeSource) Snapshot() []models.TorrentInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.TorrentInfo(nil), f.torrents...)
}

func (f *fakeSource) set(torrents ...models.TorrentInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.torrents = torrents
}

type fakeEngine struct {
	mu         sync.Mutex
	running    bool
	caps       engine.Capabilities
	err        error
	reannounce [][]string
}

func (f *fakeEngine) Running() bool { return f.running }
func (f *fakeEngine) Capabilities() engine.Capabilities { return f.caps }

func (f *fakeEngine) Reannounce(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reannounce = append(f.reannounce, ids)
	return f.err
}

func (f *fakeEngine) calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.reannounce...)
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func stalled(id string) models.TorrentInfo {
	return models.TorrentInfo{ID: id, Name: "name-" + id, State: models.StateDownloading}
}

func newTestService(t *testing.T, source *fakeSource, eng *fakeEngine) (*Service, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewService(Config{StallAfter: time.Minute, DebounceWindow: 2 * time.Minute, HistorySize: 3}, source, eng)
	svc.now = clock.Now
	svc.spawn = func(fn func()) { fn() }
	svc.setBaseContext(context.Background())
	return svc, clock
}

func TestIsStalled(t *testing.T) {
	tests := []struct {
		name     string
		info     models.TorrentInfo
		expected bool
	}{
		{name: "downloading_without_peers", info: stalled("a"), expected: true},
		{name: "fetching_metadata", info: models.TorrentInfo{State: models.StateDownloadingMetadata}, expected: true},
		{name: "has_peers", info: models.TorrentInfo{State: models.StateDownloading, Peers: 2}, expected: false},
		{name: "receiving_data", info: models.TorrentInfo{State: models.StateDownloading, DownloadSpeed: 10}, expected: false},
		{name: "errored", info: models.TorrentInfo{State: models.StateDownloading, Error: "disk full"}, expected: false},
		{name: "paused", info: models.TorrentInfo{State: models.StatePaused}, expected: false},
		{name: "seeding", info: models.TorrentInfo{State: models.StateSeeding}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isStalled(tt.info))
		})
	}
}

func TestScanReannouncesAfterStallWindow(t *testing.T) {
	source := &fakeSource{}
	source.set(stalled("a"), models.TorrentInfo{ID: "b", State: models.StateSeeding})
	eng := &fakeEngine{running: true, caps: engine.Capabilities{Reannounce: true}}
	svc, clock := newTestService(t, source, eng)
	ctx := context.Background()

	svc.scan(ctx)
	assert.Empty(t, eng.calls())

	monitored := svc.GetMonitoredTorrents()
	require.Len(t, monitored, 1)
	assert.Equal(t, "a", monitored[0].TorrentID)
	assert.Equal(t, MonitoredTorrentStateWatching, monitored[0].State)

	clock.Advance(time.Minute)
	svc.scan(ctx)
	assert.Equal(t, [][]string{{"a"}}, eng.calls())

	activity := svc.GetActivity(0)
	require.Len(t, activity, 1)
	assert.Equal(t, ActivityOutcomeSucceeded, activity[0].Outcome)
	assert.Equal(t, "name-a", activity[0].TorrentName)

	monitored = svc.GetMonitoredTorrents()
	require.Len(t, monitored, 1)
	assert.Equal(t, MonitoredTorrentStateCooldown, monitored[0].State)
	assert.Equal(t, int64(60), monitored[0].StalledSeconds)
}

func TestScanRespectsDebounceWindow(t *testing.T) {
	source := &fakeSource{}
	source.set(stalled("a"))
	eng := &fakeEngine{running: true, caps: engine.Capabilities{Reannounce: true}}
	svc, clock := newTestService(t, source, eng)
	ctx := context.Background()

	svc.scan(ctx)
	clock.Advance(time.Minute)
	svc.scan(ctx)
	clock.Advance(time.Minute)
	svc.scan(ctx)
	assert.Len(t, eng.calls(), 1)

	clock.Advance(time.Minute)
	svc.scan(ctx)
	assert.Len(t, eng.calls(), 2)
}

func TestScanForgetsRecoveredTorrents(t *testing.T) {
	source := &fakeSource{}
	source.set(stalled("a"))
	eng := &fakeEngine{running: true, caps: engine.Capabilities{Reannounce: true}}
	svc, clock := newTestService(t, source, eng)
	ctx := context.Background()

	svc.scan(ctx)
	recovered := stalled("a")
	recovered.Peers = 3
	source.set(recovered)
	clock.Advance(30 * time.Second)
	svc.scan(ctx)
	assert.Empty(t, svc.GetMonitoredTorrents())

	source.set(stalled("a"))
	clock.Advance(30 * time.Second)
	svc.scan(ctx)
	assert.Empty(t, eng.calls())
}

func TestScanSkipsUnsupportedEngine(t *testing.T) {
	tests := []struct {
		name string
		eng  *fakeEngine
	}{
		{name: "not_running", eng: &fakeEngine{caps: engine.Capabilities{Reannounce: true}}},
		{name: "no_reannounce", eng: &fakeEngine{running: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &fakeSource{}
			source.set(stalled("a"))
			svc, clock := newTestService(t, source, tt.eng)

			svc.scan(context.Background())
			clock.Advance(time.Hour)
			svc.scan(context.Background())

			assert.Empty(t, tt.eng.calls())
			assert.Empty(t, svc.GetMonitoredTorrents())
		})
	}
}

func TestFailedReannounceIsRecorded(t *testing.T) {
	source := &fakeSource{}
	source.set(stalled("a"))
	eng := &fakeEngine{running: true, caps: engine.Capabilities{Reannounce: true}, err: errors.New("tracker offline")}
	svc, clock := newTestService(t, source, eng)

	svc.scan(context.Background())
	clock.Advance(time.Minute)
	svc.scan(context.Background())

	activity := svc.GetActivity(0)
	require.Len(t, activity, 1)
	assert.Equal(t, ActivityOutcomeFailed, activity[0].Outcome)
	assert.Contains(t, activity[0].Reason, "tracker offline")
}

func TestEnqueueBeforeStartIsSkipped(t *testing.T) {
	svc := NewService(Config{}, &fakeSource{}, &fakeEngine{})

	assert.False(t, svc.enqueue("a", "A"))
	activity := svc.GetActivity(0)
	require.Len(t, activity, 1)
	assert.Equal(t, ActivityOutcomeSkipped, activity[0].Outcome)
}

func TestActivityHistoryIsCapped(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{}, &fakeEngine{})

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		svc.recordActivity(id, id, ActivityOutcomeSucceeded, " ok ")
	}

	all := svc.GetActivity(0)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].TorrentID)
	assert.Equal(t, "ok", all[0].Reason)

	latest := svc.GetActivity(1)
	require.Len(t, latest, 1)
	assert.Equal(t, "e", latest[0].TorrentID)
}

func TestNilServiceIsSafe(t *testing.T) {
	var svc *Service
	assert.Nil(t, svc.GetActivity(10))
	assert.Nil(t, svc.GetMonitoredTorrents())
	svc.Start(context.Background())
}
