// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proninyaroslav/libretorrent/internal/engine"
	"github.com/proninyaroslav/libretorrent/internal/engine/enginetest"
	"github.com/proninyaroslav/libretorrent/internal/models"
)

const waitTimeout = 2 * time.Second

type fakeTags struct {
	mu       sync.Mutex
	assigned map[string][]models.Tag
	removed  []string
	err      error
}

func (f *fakeTags) TagsForTorrents(_ context.Context, ids []string) (map[string][]models.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string][]models.Tag)
	for _, id := range ids {
		if tags, ok := f.assigned[id]; ok {
			out[id] = tags
		}
	}
	return out, nil
}

func (f *fakeTags) RemoveTorrents(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, ids...)
	return nil
}

func (f *fakeTags) set(id string, tags ...models.Tag) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assigned[id] = tags
}

func (f *fakeTags) removedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(waitTimeout):
		require.FailNow(t, "timed out waiting for value")
	}
	var zero T
	return zero
}

func assertQuiet[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		assert.Failf(t, "unexpected value", "%v", v)
	case <-time.After(100 * time.Millisecond):
	}
}

type fixture struct {
	backend  *enginetest.Backend
	service  *engine.Service
	provider *Provider
	tags     *fakeTags
}

func newFixture(t *testing.T, torrents ...models.TorrentInfo) *fixture {
	t.Helper()

	backend := enginetest.New(torrents...)
	svc := engine.NewService(backend, engine.WithPollInterval(time.Hour), engine.WithResyncDelay(time.Hour))
	require.NoError(t, svc.Start(context.Background()))

	tags := &fakeTags{assigned: make(map[string][]models.Tag)}
	p := New(svc, tags)
	p.Start(context.Background())

	t.Cleanup(func() {
		p.Stop()
		_ = svc.Stop()
	})
	return &fixture{backend: backend, service: svc, provider: p, tags: tags}
}

func TestListSubscriptionSuppressesUnchangedSnapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t,
		models.TorrentInfo{ID: "a", Name: "A", State: models.StateDownloading, Progress: 10},
		models.TorrentInfo{ID: "b", Name: "B", State: models.StateSeeding, Progress: 100},
	)

	lists := f.provider.SubscribeList(ctx)
	initial := receive(t, lists)
	require.Len(t, initial, 2)
	assert.Equal(t, "a", initial[0].ID)

	// a poll with identical snapshots publishes nothing
	require.NoError(t, f.service.Refresh(ctx))
	assertQuiet(t, lists)

	f.backend.Update("a", func(info *models.TorrentInfo) { info.Progress = 20 })
	require.NoError(t, f.service.Refresh(ctx))

	updated := receive(t, lists)
	require.Len(t, updated, 2)
	assert.Equal(t, 20, updated[0].Progress)
}

func TestDeletedStreamAndTagCleanup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t,
		models.TorrentInfo{ID: "a", State: models.StateDownloading},
		models.TorrentInfo{ID: "b", State: models.StateDownloading},
	)

	lists := f.provider.SubscribeList(ctx)
	deleted := f.provider.SubscribeDeleted(ctx)
	receive(t, lists)

	f.backend.Delete("a")
	require.NoError(t, f.service.Refresh(ctx))

	assert.Equal(t, []string{"a"}, receive(t, deleted))
	list := receive(t, lists)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].ID)
	assert.Equal(t, []string{"a"}, f.tags.removedIDs())

	_, ok := f.provider.Get("a")
	assert.False(t, ok)
}

func TestTagsAreAttached(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, models.TorrentInfo{ID: "a", State: models.StateDownloading})
	lists := f.provider.SubscribeList(ctx)
	assert.Empty(t, receive(t, lists)[0].Tags)

	f.tags.set("a", models.Tag{ID: 1, Name: "linux"})
	f.provider.Refresh()

	list := receive(t, lists)
	require.Len(t, list[0].Tags, 1)
	assert.Equal(t, "linux", list[0].Tags[0].Name)
}

func TestTagFailureIsSoft(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, models.TorrentInfo{ID: "a", State: models.StateDownloading})
	lists := f.provider.SubscribeList(ctx)
	receive(t, lists)

	f.tags.set("a", models.Tag{ID: 1, Name: "linux"})
	f.provider.Refresh()
	require.Len(t, receive(t, lists)[0].Tags, 1)

	f.tags.mu.Lock()
	f.tags.err = errors.New("database is locked")
	f.tags.mu.Unlock()

	// nothing changed, so nothing is republished
	f.provider.Refresh()
	assertQuiet(t, lists)

	info, ok := f.provider.Get("a")
	require.True(t, ok)
	require.Len(t, info.Tags, 1)
	assert.Equal(t, "linux", info.Tags[0].Name)

	// a real change still carries the last known tags
	f.backend.Update("a", func(info *models.TorrentInfo) { info.Progress = 30 })
	require.NoError(t, f.service.Refresh(ctx))

	list := receive(t, lists)
	require.Len(t, list, 1)
	assert.Equal(t, 30, list[0].Progress)
	require.Len(t, list[0].Tags, 1)
	assert.Equal(t, "linux", list[0].Tags[0].Name)
}

func TestEngineErrorReachesSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, models.TorrentInfo{ID: "a", State: models.StateDownloading})
	lists := f.provider.SubscribeList(ctx)
	receive(t, lists)

	f.backend.Emit(engine.Event{Type: engine.EventError, TorrentID: "a", Error: "disk full"})

	list := receive(t, lists)
	assert.Equal(t, "disk full", list[0].Error)
}

func TestSessionStopClearsList(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, models.TorrentInfo{ID: "a", State: models.StateDownloading})
	lists := f.provider.SubscribeList(ctx)
	deleted := f.provider.SubscribeDeleted(ctx)
	session := f.provider.SubscribeSession(ctx)
	receive(t, lists)

	f.backend.Emit(engine.Event{Type: engine.EventNATError, Error: "port closed"})
	assert.Equal(t, engine.EventNATError, receive(t, session).Type)

	require.NoError(t, f.service.Stop())

	assert.Equal(t, engine.EventSessionStopped, receive(t, session).Type)
	assert.Equal(t, []string{"a"}, receive(t, deleted))
	assert.Empty(t, receive(t, lists))
}

func TestSubscribeInfo(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t,
		models.TorrentInfo{ID: "a", State: models.StateDownloading},
		models.TorrentInfo{ID: "b", State: models.StateDownloading},
	)
	lists := f.provider.SubscribeList(ctx)
	receive(t, lists)

	infos := f.provider.SubscribeInfo(ctx, "a")
	assert.Equal(t, "a", receive(t, infos).ID)

	f.backend.Update("b", func(info *models.TorrentInfo) { info.Progress = 50 })
	require.NoError(t, f.service.Refresh(ctx))
	receive(t, lists)
	assertQuiet(t, infos)

	f.backend.Update("a", func(info *models.TorrentInfo) { info.Progress = 70 })
	require.NoError(t, f.service.Refresh(ctx))
	assert.Equal(t, 70, receive(t, infos).Progress)
}

func TestCancelledSubscriptionCloses(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	lists := f.provider.SubscribeList(ctx)
	cancel()

	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-lists:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, waitTimeout, 10*time.Millisecond)
}

func TestSendLatestKeepsNewest(t *testing.T) {
	ch := make(chan int, 1)
	sendLatest(ch, 1)
	sendLatest(ch, 2)
	sendLatest(ch, 3)
	assert.Equal(t, 3, <-ch)
	assert.Empty(t, ch)
}
