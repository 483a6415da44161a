// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"context"
	"errors"

	"github.com/proninyaroslav/libretorrent/internal/models"
)

var (
	ErrNotRunning      = errors.New("engine is not running")
	ErrAlreadyRunning  = errors.New("engine is already running")
	ErrUnsupported     = errors.New("operation not supported by engine")
	ErrTorrentNotFound = errors.New("torrent not found")
)

type AddOptions struct {
	Paused     bool   `json:"paused"`
	Sequential bool   `json:"sequential"`
	SavePath   string `json:"savePath,omitempty"`
}

// Backend is a torrent engine implementation. Ids are lower-case hex info hashes.
type Backend interface {
	Name() string
	Open(ctx context.Context) error
	Close() error
	Snapshot(ctx context.Context) ([]models.TorrentInfo, error)
	Add(ctx context.Context, source string, opts AddOptions) (string, error)
	Pause(ctx context.Context, ids []string) error
	Resume(ctx context.Context, ids []string) error
	Remove(ctx context.Context, ids []string, withFiles bool) error
	Recheck(ctx context.Context, ids []string) error
	Reannounce(ctx context.Context, ids []string) error
}

// EventSource is implemented by backends that report events the poll diff cannot see.
type EventSource interface {
	SetEventHandler(func(Event))
}

// StatsReporter is implemented by backends with session-wide counters.
type StatsReporter interface {
	SessionStats(ctx context.Context) (SessionStats, error)
}

// Capabilities describes optional operations a backend supports.
type Capabilities struct {
	Reannounce     bool   `json:"reannounce"`
	CustomSavePath bool   `json:"customSavePath"`
	Version        string `json:"version,omitempty"`
}

// CapabilityReporter is implemented by backends that lack some operations.
type CapabilityReporter interface {
	Capabilities() Capabilities
}
