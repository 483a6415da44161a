// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package anacrolix

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proninyaroslav/libretorrent/internal/database"
	"github.com/proninyaroslav/libretorrent/internal/engine"
	"github.com/proninyaroslav/libretorrent/internal/models"
)

const (
	testHash   = "0123456789abcdef0123456789abcdef01234567"
	testMagnet = "magnet:?xt=urn:btih:" + testHash + "&dn=ubuntu.iso"
)

type eventLog struct {
	mu     sync.Mutex
	events []engine.Event
}

func (l *eventLog) add(e engine.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofType(typ engine.EventType) []engine.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []engine.Event
	for _, e := range l.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func newTestBackend(t *testing.T, cfg Config, store *models.EngineTorrentStore) (*Backend, *eventLog) {
	t.Helper()
	if testing.Short() {
		t.Skip("starts an embedded torrent client")
	}

	cfg.DownloadDir = t.TempDir()
	cfg.NoDHT = true
	cfg.DisableTrackers = true
	cfg.NoPortForwarding = true

	b := New(cfg, store)
	events := &eventLog{}
	b.SetEventHandler(events.add)
	return b, events
}

func TestBackendLifecycle(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t, Config{}, nil)

	_, err := b.Snapshot(ctx)
	require.ErrorIs(t, err, engine.ErrNotRunning)

	require.NoError(t, b.Open(ctx))
	require.ErrorIs(t, b.Open(ctx), engine.ErrAlreadyRunning)

	id, err := b.Add(ctx, testMagnet, engine.AddOptions{})
	require.NoError(t, err)
	assert.Equal(t, testHash, id)

	// adding the same torrent again is a no-op
	again, err := b.Add(ctx, testMagnet, engine.AddOptions{})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	infos, err := b.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, testHash, infos[0].ID)
	assert.Equal(t, "ubuntu.iso", infos[0].Name)
	assert.Equal(t, models.StateDownloadingMetadata, infos[0].State)
	assert.Equal(t, int64(-1), infos[0].ETA)

	require.NoError(t, b.Pause(ctx, []string{id}))
	infos, err = b.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatePaused, infos[0].State)

	require.NoError(t, b.Resume(ctx, []string{id}))
	infos, err = b.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StateDownloadingMetadata, infos[0].State)

	require.ErrorIs(t, b.Pause(ctx, []string{"missing"}), engine.ErrTorrentNotFound)
	require.ErrorIs(t, b.Reannounce(ctx, []string{id}), engine.ErrUnsupported)

	require.NoError(t, b.Remove(ctx, []string{id}, false))
	infos, err = b.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}

func TestBackendRejectsCustomSavePath(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t, Config{}, nil)
	require.NoError(t, b.Open(ctx))
	defer b.Close()

	_, err := b.Add(ctx, testMagnet, engine.AddOptions{SavePath: t.TempDir()})
	require.ErrorIs(t, err, engine.ErrUnsupported)
}

func TestBackendIPFilter(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		success   bool
		ruleCount int
	}{
		{
			name:      "valid",
			content:   "first:10.0.0.0-10.0.0.255\nsecond:192.168.1.1-192.168.1.20\n",
			success:   true,
			ruleCount: 2,
		},
		{
			name:    "malformed",
			content: "not a range\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "blocklist.p2p")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			b, events := newTestBackend(t, Config{IPFilterPath: path}, nil)
			require.NoError(t, b.Open(context.Background()))
			defer b.Close()

			parsed := events.ofType(engine.EventIPFilterParsed)
			require.Len(t, parsed, 1)
			assert.Equal(t, tt.success, parsed[0].Success)
			assert.Equal(t, tt.ruleCount, parsed[0].RuleCount)
			if !tt.success {
				assert.NotEmpty(t, parsed[0].Error)
			}
		})
	}
}

func TestBackendRestoresSession(t *testing.T) {
	ctx := context.Background()

	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := models.NewEngineTorrentStore(db)

	addedAt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, store.Upsert(ctx, models.EngineTorrent{ID: testHash, Source: testMagnet, AddedAt: addedAt, Paused: true}))
	require.NoError(t, store.Upsert(ctx, models.EngineTorrent{ID: "broken", Source: "/does/not/exist.torrent", AddedAt: addedAt}))

	b, events := newTestBackend(t, Config{}, store)
	require.NoError(t, b.Open(ctx))
	defer b.Close()

	infos, err := b.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, testHash, infos[0].ID)
	assert.Equal(t, models.StatePaused, infos[0].State)
	assert.True(t, infos[0].DateAdded.Equal(addedAt))

	failed := events.ofType(engine.EventRestoreSession)
	require.Len(t, failed, 1)
	assert.Equal(t, "broken", failed[0].TorrentID)
	assert.NotEmpty(t, failed[0].Error)

	// removal forgets the restore record
	require.NoError(t, b.Remove(ctx, []string{testHash}, false))
	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "broken", records[0].ID)
}

func TestBackendReportsMetadataTimeout(t *testing.T) {
	ctx := context.Background()
	b, events := newTestBackend(t, Config{MetadataTimeout: 20 * time.Millisecond}, nil)
	require.NoError(t, b.Open(ctx))
	defer b.Close()

	_, err := b.Add(ctx, testMagnet, engine.AddOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(events.ofType(engine.EventMetadataLoaded)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	e := events.ofType(engine.EventMetadataLoaded)[0]
	assert.Equal(t, testHash, e.TorrentID)
	assert.False(t, e.Success)
	assert.NotEmpty(t, e.Error)
}
