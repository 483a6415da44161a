// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package provider

import (
	"context"

	"github.com/proninyaroslav/libretorrent/internal/engine"
	"github.com/proninyaroslav/libretorrent/internal/models"
)

// SubscribeList streams the full snapshot list. Only the newest undelivered
// list is kept. The last published list is delivered immediately.
// The channel closes when ctx is done or the provider stops.
func (p *Provider) SubscribeList(ctx context.Context) <-chan []models.TorrentInfo {
	ch := make(chan []models.TorrentInfo, 1)

	p.subMu.Lock()
	id := p.addSubLocked()
	p.listSubs[id] = ch
	if p.published {
		ch <- cloneList(p.latest)
	}
	p.subMu.Unlock()

	p.closeOnDone(ctx, func() {
		if c, ok := p.listSubs[id]; ok {
			delete(p.listSubs, id)
			close(c)
		}
	})
	return ch
}

// SubscribeDeleted streams batches of removed torrent ids.
func (p *Provider) SubscribeDeleted(ctx context.Context) <-chan []string {
	ch := make(chan []string, deletedBuffer)

	p.subMu.Lock()
	id := p.addSubLocked()
	p.deletedSubs[id] = ch
	p.subMu.Unlock()

	p.closeOnDone(ctx, func() {
		if c, ok := p.deletedSubs[id]; ok {
			delete(p.deletedSubs, id)
			close(c)
		}
	})
	return ch
}

// SubscribeSession streams session-level events such as NAT and IP filter reports.
func (p *Provider) SubscribeSession(ctx context.Context) <-chan engine.Event {
	ch := make(chan engine.Event, sessionBuffer)

	p.subMu.Lock()
	id := p.addSubLocked()
	p.sessionSubs[id] = ch
	p.subMu.Unlock()

	p.closeOnDone(ctx, func() {
		if c, ok := p.sessionSubs[id]; ok {
			delete(p.sessionSubs, id)
			close(c)
		}
	})
	return ch
}

// SubscribeInfo streams changes of a single torrent, starting with its cached state.
func (p *Provider) SubscribeInfo(ctx context.Context, torrentID string) <-chan models.TorrentInfo {
	ch := make(chan models.TorrentInfo, 1)

	p.subMu.Lock()
	id := p.addSubLocked()
	p.infoSubs[id] = &infoSubscription{id: torrentID, ch: ch}
	if info, ok := p.cache.Get(torrentID); ok {
		ch <- info
	}
	p.subMu.Unlock()

	p.closeOnDone(ctx, func() {
		if sub, ok := p.infoSubs[id]; ok {
			delete(p.infoSubs, id)
			close(sub.ch)
		}
	})
	return ch
}

func (p *Provider) addSubLocked() int {
	p.nextSubID++
	return p.nextSubID
}

func (p *Provider) closeOnDone(ctx context.Context, remove func()) {
	go func() {
		<-ctx.Done()
		p.subMu.Lock()
		defer p.subMu.Unlock()
		remove()
	}()
}
