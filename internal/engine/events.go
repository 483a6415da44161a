// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"time"

	"github.com/proninyaroslav/libretorrent/internal/models"
)

type EventType string

// Per-torrent events.
const (
	EventAdded          EventType = "added"
	EventLoaded         EventType = "loaded"
	EventStateChanged   EventType = "state_changed"
	EventPaused         EventType = "paused"
	EventResumed        EventType = "resumed"
	EventError          EventType = "error"
	EventFinished       EventType = "finished"
	EventMoving         EventType = "moving"
	EventMoved          EventType = "moved"
	EventMetadataLoaded EventType = "metadata_loaded"
	EventRemoved        EventType = "removed"
	EventRestoreSession EventType = "restore_session_error"
)

// Session events.
const (
	EventSessionStarted EventType = "session_started"
	EventSessionStopped EventType = "session_stopped"
	EventSessionError   EventType = "session_error"
	EventNATError       EventType = "nat_error"
	EventIPFilterParsed EventType = "ip_filter_parsed"
	EventStats          EventType = "stats"
)

func (t EventType) IsSession() bool {
	switch t {
	case EventSessionStarted, EventSessionStopped, EventSessionError, EventNATError, EventIPFilterParsed, EventStats:
		return true
	default:
		return false
	}
}

// Event is one notification from the engine. Only the fields relevant to Type are set.
type Event struct {
	Type      EventType           `json:"type"`
	TorrentID string              `json:"torrentId,omitempty"`
	Info      *models.TorrentInfo `json:"info,omitempty"`
	PrevState models.StateCode    `json:"prevState,omitempty"`
	State     models.StateCode    `json:"state,omitempty"`
	Error     string              `json:"error,omitempty"`
	Success   bool                `json:"success,omitempty"`
	RuleCount int                 `json:"ruleCount,omitempty"`
	Stats     *SessionStats       `json:"stats,omitempty"`
	Time      time.Time           `json:"time"`
}

type SessionStats struct {
	DownloadSpeed   int64 `json:"downloadSpeed"`
	UploadSpeed     int64 `json:"uploadSpeed"`
	TotalDownloaded int64 `json:"totalDownloaded"`
	TotalUploaded   int64 `json:"totalUploaded"`
	Torrents        int   `json:"torrents"`
	Peers           int   `json:"peers"`
	DHTNodes        int   `json:"dhtNodes"`
}

// aggregateStats sums per-torrent figures. Backends that know better implement StatsReporter.
func aggregateStats(infos []models.TorrentInfo) SessionStats {
	stats := SessionStats{Torrents: len(infos)}
	for i := range infos {
		stats.DownloadSpeed += infos[i].DownloadSpeed
		stats.UploadSpeed += infos[i].UploadSpeed
		stats.TotalDownloaded += infos[i].ReceivedBytes
		stats.TotalUploaded += infos[i].UploadedBytes
		stats.Peers += infos[i].Peers
	}
	return stats
}
