// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package statecache remembers the last propagated snapshot per torrent so that
// value-identical updates are not broadcast again.
package statecache

import (
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/proninyaroslav/libretorrent/internal/models"
)

type Cache struct {
	entries *xsync.MapOf[string, models.TorrentInfo]
}

func New() *Cache {
	return &Cache{entries: xsync.NewMapOf[string, models.TorrentInfo]()}
}

// Put stores info and reports whether it differs from the cached entry.
// A false result means the caller must not propagate the update.
func (c *Cache) Put(info models.TorrentInfo) bool {
	changed := false
	c.entries.Compute(info.ID, func(old models.TorrentInfo, loaded bool) (models.TorrentInfo, bool) {
		if loaded && old.Equal(info) {
			return old, false
		}
		changed = true
		return info.Clone(), false
	})
	return changed
}

// PutAll stores every entry and returns the ones that changed, in input order.
func (c *Cache) PutAll(infos []models.TorrentInfo) []models.TorrentInfo {
	var changed []models.TorrentInfo
	for _, info := range infos {
		if c.Put(info) {
			changed = append(changed, info)
		}
	}
	return changed
}

// Remove evicts id and reports whether it was present.
func (c *Cache) Remove(id string) bool {
	_, ok := c.entries.LoadAndDelete(id)
	return ok
}

func (c *Cache) RemoveAll(ids ...string) int {
	removed := 0
	for _, id := range ids {
		if c.Remove(id) {
			removed++
		}
	}
	return removed
}

func (c *Cache) Get(id string) (models.TorrentInfo, bool) {
	info, ok := c.entries.Load(id)
	if !ok {
		return models.TorrentInfo{}, false
	}
	return info.Clone(), true
}

// GetAll returns every cached snapshot ordered by id.
func (c *Cache) GetAll() []models.TorrentInfo {
	all := make([]models.TorrentInfo, 0, c.entries.Size())
	c.entries.Range(func(_ string, info models.TorrentInfo) bool {
		all = append(all, info.Clone())
		return true
	})
	slices.SortFunc(all, func(a, b models.TorrentInfo) int {
		return strings.Compare(a.ID, b.ID)
	})
	return all
}

// IDs returns the cached ids in no particular order.
func (c *Cache) IDs() []string {
	ids := make([]string, 0, c.entries.Size())
	c.entries.Range(func(id string, _ models.TorrentInfo) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

func (c *Cache) Contains(id string) bool {
	_, ok := c.entries.Load(id)
	return ok
}

// ContainsState reports whether an equal snapshot is cached.
func (c *Cache) ContainsState(info models.TorrentInfo) bool {
	cached, ok := c.entries.Load(info.ID)
	return ok && cached.Equal(info)
}

func (c *Cache) ContainsAll(infos []models.TorrentInfo) bool {
	for _, info := range infos {
		if !c.ContainsState(info) {
			return false
		}
	}
	return true
}

func (c *Cache) Clear() {
	c.entries.Clear()
}

func (c *Cache) Len() int {
	return c.entries.Size()
}

// Fingerprint is an order-independent signature of a snapshot set. XOR keeps it
// commutative; the count is mixed in so that duplicate pairs do not cancel to zero.
func Fingerprint(infos []models.TorrentInfo) uint64 {
	var sig uint64
	for i := range infos {
		sig ^= entryHash(&infos[i])
	}
	return sig ^ uint64(len(infos))*0x9e3779b97f4a7c15
}

func entryHash(info *models.TorrentInfo) uint64 {
	d := xxhash.New()
	buf := make([]byte, 0, 128)

	buf = append(buf, info.ID...)
	buf = append(buf, 0)
	buf = append(buf, info.Name...)
	buf = append(buf, 0)
	for _, n := range []int64{
		int64(info.State),
		int64(info.Progress),
		info.ReceivedBytes,
		info.UploadedBytes,
		info.TotalBytes,
		info.DownloadSpeed,
		info.UploadSpeed,
		info.ETA,
		int64(info.Peers),
		int64(info.TotalPeers),
		int64(info.TotalSeeds),
		info.DateAdded.UnixMilli(),
	} {
		buf = strconv.AppendInt(buf, n, 36)
		buf = append(buf, ',')
	}
	buf = append(buf, info.Error...)
	buf = append(buf, 0)
	buf = strconv.AppendBool(buf, info.SequentialDownload)
	for _, tag := range info.Tags {
		buf = append(buf, 0)
		buf = strconv.AppendInt(buf, int64(tag.ID), 36)
		buf = append(buf, 0)
		buf = append(buf, tag.Name...)
		buf = append(buf, 0)
		buf = strconv.AppendInt(buf, int64(tag.Color), 36)
	}

	_, _ = d.Write(buf)
	return d.Sum64()
}
