// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package enginetest provides an in-memory engine.Backend for tests.
package enginetest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/proninyaroslav/libretorrent/internal/engine"
	"github.com/proninyaroslav/libretorrent/internal/models"
)

const magnetPrefix = "magnet:?xt=urn:btih:"

type Backend struct {
	mu        sync.Mutex
	torrents  []models.TorrentInfo
	handler   func(engine.Event)
	calls     []string
	snapshots int
	opened    bool

	OpenErr     error
	SnapshotErr error
	MutationErr error
}

func New(torrents ...models.TorrentInfo) *Backend {
	return &Backend{torrents: slices.Clone(torrents)}
}

func (b *Backend) Name() string { return "memory" }

func (b *Backend) Open(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "open")
	if b.OpenErr != nil {
		return b.OpenErr
	}
	b.opened = true
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "close")
	b.opened = false
	return nil
}

func (b *Backend) Snapshot(context.Context) ([]models.TorrentInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots++
	if b.SnapshotErr != nil {
		return nil, b.SnapshotErr
	}
	out := make([]models.TorrentInfo, 0, len(b.torrents))
	for _, t := range b.torrents {
		out = append(out, t.Clone())
	}
	return out, nil
}

func (b *Backend) Add(_ context.Context, source string, opts engine.AddOptions) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "add")
	if b.MutationErr != nil {
		return "", b.MutationErr
	}

	id := strings.ToLower(source)
	if strings.HasPrefix(id, magnetPrefix) {
		id = id[len(magnetPrefix):]
		if i := strings.IndexByte(id, '&'); i >= 0 {
			id = id[:i]
		}
	}

	state := models.StateDownloading
	if opts.Paused {
		state = models.StatePaused
	}
	b.torrents = append(b.torrents, models.TorrentInfo{
		ID:                 id,
		Name:               id,
		State:              state,
		ETA:                -1,
		DateAdded:          time.Now(),
		SequentialDownload: opts.Sequential,
	})
	return id, nil
}

func (b *Backend) Pause(_ context.Context, ids []string) error {
	return b.update("pause", ids, func(t *models.TorrentInfo) { t.State = models.StatePaused })
}

func (b *Backend) Resume(_ context.Context, ids []string) error {
	return b.update("resume", ids, func(t *models.TorrentInfo) {
		if t.Progress >= 100 {
			t.State = models.StateSeeding
		} else {
			t.State = models.StateDownloading
		}
	})
}

func (b *Backend) Recheck(_ context.Context, ids []string) error {
	return b.update("recheck", ids, func(t *models.TorrentInfo) { t.State = models.StateChecking })
}

func (b *Backend) Reannounce(_ context.Context, ids []string) error {
	return b.update("reannounce", ids, func(*models.TorrentInfo) {})
}

func (b *Backend) Remove(_ context.Context, ids []string, withFiles bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, fmt.Sprintf("remove:%t", withFiles))
	if b.MutationErr != nil {
		return b.MutationErr
	}
	b.torrents = slices.DeleteFunc(b.torrents, func(t models.TorrentInfo) bool {
		return slices.Contains(ids, t.ID)
	})
	return nil
}

func (b *Backend) SetEventHandler(fn func(engine.Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = fn
}

// Emit delivers e as if the engine had reported it.
func (b *Backend) Emit(e engine.Event) {
	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()
	if handler != nil {
		handler(e)
	}
}

// Put inserts or replaces torrents by id.
func (b *Backend) Put(infos ...models.TorrentInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, info := range infos {
		if i := slices.IndexFunc(b.torrents, func(t models.TorrentInfo) bool { return t.ID == info.ID }); i >= 0 {
			b.torrents[i] = info
		} else {
			b.torrents = append(b.torrents, info)
		}
	}
}

// Update applies fn to the torrent with id, if present.
func (b *Backend) Update(id string, fn func(*models.TorrentInfo)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.torrents {
		if b.torrents[i].ID == id {
			fn(&b.torrents[i])
		}
	}
}

func (b *Backend) Delete(ids ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.torrents = slices.DeleteFunc(b.torrents, func(t models.TorrentInfo) bool {
		return slices.Contains(ids, t.ID)
	})
}

func (b *Backend) SnapshotCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshots
}

func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.calls)
}

func (b *Backend) Opened() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}

func (b *Backend) update(call string, ids []string, fn func(*models.TorrentInfo)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
	if b.MutationErr != nil {
		return b.MutationErr
	}
	for i := range b.torrents {
		if slices.Contains(ids, b.torrents[i].ID) {
			fn(&b.torrents[i])
		}
	}
	return nil
}

// Recorder collects events for assertions.
type Recorder struct {
	mu     sync.Mutex
	events []engine.Event
}

func (r *Recorder) OnEvent(e engine.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []engine.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Types returns the recorded event types, skipping stats events.
func (r *Recorder) Types() []engine.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var types []engine.EventType
	for _, e := range r.events {
		if e.Type != engine.EventStats {
			types = append(types, e.Type)
		}
	}
	return types
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
