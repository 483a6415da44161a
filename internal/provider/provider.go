// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package provider turns engine events into deduplicated snapshot streams.
package provider

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/proninyaroslav/libretorrent/internal/engine"
	"github.com/proninyaroslav/libretorrent/internal/models"
	"github.com/proninyaroslav/libretorrent/internal/statecache"
)

const (
	eventBuffer   = 256
	deletedBuffer = 64
	sessionBuffer = 16
	tagTimeout    = 5 * time.Second
)

// Source is the engine side of the provider.
type Source interface {
	Torrents() []models.TorrentInfo
	Register(engine.Listener) (unregister func())
}

// TagSource attaches local tags to snapshots and forgets tags of removed torrents.
type TagSource interface {
	TagsForTorrents(ctx context.Context, torrentIDs []string) (map[string][]models.Tag, error)
	RemoveTorrents(ctx context.Context, torrentIDs []string) error
}

// Provider listens to the engine, keeps the state cache and fans updates out
// to subscribers. All cache writes happen on one dispatcher goroutine so
// events for a torrent are applied in the order the engine produced them.
type Provider struct {
	source Source
	tags   TagSource
	cache  *statecache.Cache
	logger zerolog.Logger

	events  chan engine.Event
	refresh chan struct{}

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	unregister  func()
	wg          sync.WaitGroup

	subMu       sync.Mutex
	nextSubID   int
	listSubs    map[int]chan []models.TorrentInfo
	deletedSubs map[int]chan []string
	sessionSubs map[int]chan engine.Event
	infoSubs    map[int]*infoSubscription
	latest      []models.TorrentInfo
	published   bool
}

type infoSubscription struct {
	id string
	ch chan models.TorrentInfo
}

// New creates a provider. tags may be nil.
func New(source Source, tags TagSource) *Provider {
	return &Provider{
		source:      source,
		tags:        tags,
		cache:       statecache.New(),
		logger:      log.With().Str("module", "provider").Logger(),
		events:      make(chan engine.Event, eventBuffer),
		refresh:     make(chan struct{}, 1),
		listSubs:    make(map[int]chan []models.TorrentInfo),
		deletedSubs: make(map[int]chan []string),
		sessionSubs: make(map[int]chan engine.Event),
		infoSubs:    make(map[int]*infoSubscription),
	}
}

// Start registers with the engine and begins dispatching.
func (p *Provider) Start(ctx context.Context) {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.unregister = p.source.Register(engine.ListenerFunc(func(e engine.Event) {
		select {
		case p.events <- e:
		case <-runCtx.Done():
		}
	}))

	p.wg.Add(1)
	go p.run(runCtx)

	p.Refresh()
}

// Stop unregisters from the engine, stops the dispatcher and closes every
// subscriber channel.
func (p *Provider) Stop() {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.cancel == nil {
		return
	}

	p.unregister()
	p.cancel()
	p.wg.Wait()
	p.cancel = nil

	p.subMu.Lock()
	for id, ch := range p.listSubs {
		close(ch)
		delete(p.listSubs, id)
	}
	for id, ch := range p.deletedSubs {
		close(ch)
		delete(p.deletedSubs, id)
	}
	for id, ch := range p.sessionSubs {
		close(ch)
		delete(p.sessionSubs, id)
	}
	for id, sub := range p.infoSubs {
		close(sub.ch)
		delete(p.infoSubs, id)
	}
	p.subMu.Unlock()
}

// Refresh asks the dispatcher to re-read the engine outside of an event,
// for example after local tags changed.
func (p *Provider) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Snapshot returns the last published list.
func (p *Provider) Snapshot() []models.TorrentInfo {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	return cloneList(p.latest)
}

func (p *Provider) Get(id string) (models.TorrentInfo, bool) {
	return p.cache.Get(id)
}

func (p *Provider) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.refresh:
			p.sync(ctx)
		case e := <-p.events:
			dirty := p.handle(ctx, e)
			// drain what is already queued and sync once
			for drained := false; !drained; {
				select {
				case e := <-p.events:
					dirty = p.handle(ctx, e) || dirty
				default:
					drained = true
				}
			}
			if dirty {
				p.sync(ctx)
			}
		}
	}
}

// handle applies one event and reports whether the list must be re-read.
func (p *Provider) handle(ctx context.Context, e engine.Event) bool {
	switch e.Type {
	case engine.EventRemoved:
		if p.cache.Remove(e.TorrentID) {
			p.publishDeleted(ctx, []string{e.TorrentID})
		}
		return true
	case engine.EventSessionStopped:
		p.publishSession(e)
		ids := p.cache.IDs()
		p.cache.Clear()
		if len(ids) > 0 {
			p.publishDeleted(ctx, ids)
		}
		p.publishList(nil, nil)
		return false
	case engine.EventSessionStarted:
		p.publishSession(e)
		return true
	case engine.EventStats, engine.EventStateChanged, engine.EventPaused, engine.EventResumed,
		engine.EventError, engine.EventRestoreSession, engine.EventAdded, engine.EventLoaded,
		engine.EventFinished, engine.EventMetadataLoaded, engine.EventMoved:
		if e.Type == engine.EventRestoreSession {
			p.publishSession(e)
		}
		return true
	default:
		if e.Type.IsSession() {
			p.publishSession(e)
		}
		return false
	}
}

// sync reads the engine, puts every snapshot through the cache and publishes
// the list when anything changed.
func (p *Provider) sync(ctx context.Context) {
	infos := p.source.Torrents()
	ids := lo.Map(infos, func(info models.TorrentInfo, _ int) string { return info.ID })

	if p.tags != nil && len(ids) > 0 {
		tagCtx, cancel := context.WithTimeout(ctx, tagTimeout)
		assigned, err := p.tags.TagsForTorrents(tagCtx, ids)
		cancel()
		if err != nil {
			// keep the last known tags until the store answers again
			p.logger.Warn().Err(err).Msg("Failed to load torrent tags")
			for i := range infos {
				if cached, ok := p.cache.Get(infos[i].ID); ok {
					infos[i].Tags = cached.Tags
				}
			}
		} else {
			for i := range infos {
				infos[i].Tags = assigned[infos[i].ID]
			}
		}
	}

	stale := lo.Without(p.cache.IDs(), ids...)
	if len(stale) > 0 {
		p.cache.RemoveAll(stale...)
		p.publishDeleted(ctx, stale)
	}

	changed := p.cache.PutAll(infos)

	p.subMu.Lock()
	first := !p.published
	p.subMu.Unlock()

	if len(changed) == 0 && len(stale) == 0 && !first {
		return
	}

	p.logger.Trace().Int("changed", len(changed)).Int("removed", len(stale)).Int("total", len(infos)).Msg("Torrent list updated")
	p.publishList(infos, changed)
}

func (p *Provider) publishList(infos, changed []models.TorrentInfo) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	p.latest = cloneList(infos)
	p.published = true

	for _, ch := range p.listSubs {
		sendLatest(ch, cloneList(infos))
	}

	for _, info := range changed {
		for _, sub := range p.infoSubs {
			if sub.id == info.ID {
				sendLatest(sub.ch, info.Clone())
			}
		}
	}
}

func (p *Provider) publishDeleted(ctx context.Context, ids []string) {
	if p.tags != nil {
		tagCtx, cancel := context.WithTimeout(ctx, tagTimeout)
		if err := p.tags.RemoveTorrents(tagCtx, ids); err != nil {
			p.logger.Warn().Err(err).Strs("ids", ids).Msg("Failed to remove tags of deleted torrents")
		}
		cancel()
	}

	p.subMu.Lock()
	defer p.subMu.Unlock()

	for _, ch := range p.deletedSubs {
		select {
		case ch <- append([]string(nil), ids...):
		default:
			p.logger.Warn().Int("count", len(ids)).Msg("Deleted subscriber is full, dropping update")
		}
	}
}

func (p *Provider) publishSession(e engine.Event) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	for _, ch := range p.sessionSubs {
		select {
		case ch <- e:
		default:
			p.logger.Warn().Str("event", string(e.Type)).Msg("Session subscriber is full, dropping event")
		}
	}
}

// sendLatest replaces any undelivered value. Callers hold subMu, so the
// dispatcher is the only writer.
func sendLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func cloneList(infos []models.TorrentInfo) []models.TorrentInfo {
	out := make([]models.TorrentInfo, 0, len(infos))
	for i := range infos {
		out = append(out, infos[i].Clone())
	}
	return out
}
