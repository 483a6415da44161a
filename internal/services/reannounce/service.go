// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reannounce

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/proninyaroslav/libretorrent/internal/engine"
	"github.com/proninyaroslav/libretorrent/internal/models"
)

// Config controls the background scan cadence and debounce behavior.
type Config struct {
	ScanInterval   time.Duration
	DebounceWindow time.Duration
	// StallAfter is how long a download must stay without peers before it is reannounced.
	StallAfter  time.Duration
	HistorySize int
}

type Source interface {
	Snapshot() []models.TorrentInfo
}

type Engine interface {
	Running() bool
	Capabilities() engine.Capabilities
	Reannounce(ctx context.Context, ids []string) error
}

// Service watches for stalled downloads and reannounces them conservatively.
type Service struct {
	cfg     Config
	source  Source
	engine  Engine
	logger  zerolog.Logger
	now     func() time.Time
	runJob  func(context.Context, string, string)
	spawn   func(func())
	baseCtx context.Context
	ctxMu   sync.RWMutex

	jobsMu       sync.Mutex
	jobs         map[string]*reannounceJob
	stalledSince map[string]time.Time

	historyMu  sync.RWMutex
	history    []ActivityEvent
	historyCap int
}

type reannounceJob struct {
	lastRequested time.Time
	isRunning     bool
	lastCompleted time.Time
}

// ActivityOutcome describes a high-level outcome for a reannounce attempt.
type ActivityOutcome string

const (
	ActivityOutcomeSkipped   ActivityOutcome = "skipped"
	ActivityOutcomeFailed    ActivityOutcome = "failed"
	ActivityOutcomeSucceeded ActivityOutcome = "succeeded"
)

// ActivityEvent records a single reannounce attempt outcome.
type ActivityEvent struct {
	TorrentID   string          `json:"torrentId"`
	TorrentName string          `json:"torrentName"`
	Outcome     ActivityOutcome `json:"outcome"`
	Reason      string          `json:"reason"`
	Timestamp   time.Time       `json:"timestamp"`
}

const defaultHistorySize = 50

type MonitoredTorrentState string

const (
	MonitoredTorrentStateWatching     MonitoredTorrentState = "watching"
	MonitoredTorrentStateReannouncing MonitoredTorrentState = "reannouncing"
	MonitoredTorrentStateCooldown     MonitoredTorrentState = "cooldown"
)

// MonitoredTorrent is a download that currently looks stalled.
type MonitoredTorrent struct {
	TorrentID      string                `json:"torrentId"`
	TorrentName    string                `json:"torrentName"`
	StalledSeconds int64                 `json:"stalledSeconds"`
	State          MonitoredTorrentState `json:"state"`
}

func DefaultConfig() Config {
	return Config{
		ScanInterval:   7 * time.Second,
		DebounceWindow: 2 * time.Minute,
		StallAfter:     5 * time.Minute,
		HistorySize:    defaultHistorySize,
	}
}

func NewService(cfg Config, source Source, eng Engine) *Service {
	defaults := DefaultConfig()
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = defaults.ScanInterval
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = defaults.DebounceWindow
	}
	if cfg.StallAfter <= 0 {
		cfg.StallAfter = defaults.StallAfter
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaults.HistorySize
	}
	svc := &Service{
		cfg:          cfg,
		source:       source,
		engine:       eng,
		logger:       log.With().Str("module", "reannounce").Logger(),
		jobs:         make(map[string]*reannounceJob),
		stalledSince: make(map[string]time.Time),
		historyCap:   cfg.HistorySize,
	}
	svc.now = time.Now
	svc.runJob = svc.executeJob
	svc.spawn = func(fn func()) { go fn() }
	return svc
}

// Start launches the background monitoring loop.
func (s *Service) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.setBaseContext(ctx)
	go func() {
		s.scan(ctx)
		s.loop(ctx)
	}()
}

func (s *Service) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

// scan tracks how long each download has been stalled and enqueues the ones
// past StallAfter. Nothing happens while the engine cannot reannounce.
func (s *Service) scan(ctx context.Context) {
	if s == nil || s.source == nil || s.engine == nil {
		return
	}
	if !s.engine.Running() || !s.engine.Capabilities().Reannounce {
		return
	}

	now := s.currentTime()
	var due []models.TorrentInfo

	s.jobsMu.Lock()
	seen := make(map[string]struct{})
	for _, info := range s.source.Snapshot() {
		if !isStalled(info) {
			continue
		}
		seen[info.ID] = struct{}{}
		since, ok := s.stalledSince[info.ID]
		if !ok {
			s.stalledSince[info.ID] = now
			continue
		}
		if now.Sub(since) >= s.cfg.StallAfter {
			due = append(due, info)
		}
	}
	for id := range s.stalledSince {
		if _, ok := seen[id]; !ok {
			delete(s.stalledSince, id)
		}
	}
	s.jobsMu.Unlock()

	for _, info := range due {
		if ctx.Err() != nil {
			return
		}
		s.enqueue(info.ID, info.Name)
	}
}

// isStalled reports downloads that are neither erroring nor receiving data from any peer.
func isStalled(info models.TorrentInfo) bool {
	if info.Error != "" {
		return false
	}
	switch info.State {
	case models.StateDownloading, models.StateDownloadingMetadata:
	default:
		return false
	}
	return info.Peers == 0 && info.DownloadSpeed == 0
}

// GetMonitoredTorrents returns the downloads that currently look stalled.
func (s *Service) GetMonitoredTorrents() []MonitoredTorrent {
	if s == nil || s.source == nil {
		return nil
	}

	names := make(map[string]string)
	for _, info := range s.source.Snapshot() {
		names[info.ID] = info.Name
	}

	now := s.currentTime()

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	out := make([]MonitoredTorrent, 0, len(s.stalledSince))
	for id, since := range s.stalledSince {
		name, ok := names[id]
		if !ok {
			continue
		}
		state := MonitoredTorrentStateWatching
		if job, exists := s.jobs[id]; exists {
			switch {
			case job.isRunning:
				state = MonitoredTorrentStateReannouncing
			case !job.lastCompleted.IsZero() && now.Sub(job.lastCompleted) < s.cfg.DebounceWindow:
				state = MonitoredTorrentStateCooldown
			}
		}
		out = append(out, MonitoredTorrent{
			TorrentID:      id,
			TorrentName:    name,
			StalledSeconds: int64(now.Sub(since) / time.Second),
			State:          state,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StalledSeconds == out[j].StalledSeconds {
			return out[i].TorrentID < out[j].TorrentID
		}
		return out[i].StalledSeconds > out[j].StalledSeconds
	})
	return out
}

func (s *Service) enqueue(id string, torrentName string) bool {
	if id == "" {
		return false
	}

	baseCtx := s.baseContext()
	if baseCtx == nil {
		s.recordActivity(id, torrentName, ActivityOutcomeSkipped, "service not started")
		return false
	}

	s.jobsMu.Lock()
	job, exists := s.jobs[id]
	if !exists {
		job = &reannounceJob{}
		s.jobs[id] = job
	}
	now := s.currentTime()
	job.lastRequested = now
	if job.isRunning {
		s.jobsMu.Unlock()
		return true
	}
	if !job.lastCompleted.IsZero() && now.Sub(job.lastCompleted) < s.cfg.DebounceWindow {
		s.jobsMu.Unlock()
		return true
	}
	job.isRunning = true
	s.jobsMu.Unlock()

	runner := s.runJob
	if runner == nil {
		runner = s.executeJob
	}
	spawn := s.spawn
	if spawn == nil {
		spawn = func(fn func()) { go fn() }
	}
	spawn(func() {
		runner(baseCtx, id, torrentName)
	})
	return true
}

func (s *Service) executeJob(parentCtx context.Context, id string, torrentName string) {
	defer s.finishJob(id)
	ctx, cancel := context.WithTimeout(parentCtx, time.Minute)
	defer cancel()

	if err := s.engine.Reannounce(ctx, []string{id}); err != nil {
		s.logger.Debug().Err(err).Str("torrent", id).Msg("reannounce failed")
		s.recordActivity(id, torrentName, ActivityOutcomeFailed, fmt.Sprintf("reannounce failed: %v", err))
		return
	}
	s.logger.Debug().Str("torrent", id).Str("name", torrentName).Msg("reannounced stalled torrent")
	s.recordActivity(id, torrentName, ActivityOutcomeSucceeded, "reannounce requested")
}

func (s *Service) finishJob(id string) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return
	}
	job.isRunning = false
	now := s.currentTime()
	job.lastCompleted = now
	if _, stalled := s.stalledSince[id]; !stalled && now.Sub(job.lastRequested) > s.cfg.DebounceWindow {
		delete(s.jobs, id)
	}
}

func (s *Service) setBaseContext(ctx context.Context) {
	s.ctxMu.Lock()
	defer s.ctxMu.Unlock()
	s.baseCtx = ctx
}

func (s *Service) baseContext() context.Context {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	return s.baseCtx
}

func (s *Service) recordActivity(id string, torrentName string, outcome ActivityOutcome, reason string) {
	if s == nil {
		return
	}
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	limit := s.historyCap
	if limit <= 0 {
		limit = defaultHistorySize
	}
	s.history = append(s.history, ActivityEvent{
		TorrentID:   id,
		TorrentName: torrentName,
		Outcome:     outcome,
		Reason:      strings.TrimSpace(reason),
		Timestamp:   s.currentTime(),
	})
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
}

// GetActivity returns the most recent activity events, newest last.
func (s *Service) GetActivity(limit int) []ActivityEvent {
	if s == nil {
		return nil
	}
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	events := s.history
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]ActivityEvent, len(events))
	copy(out, events)
	return out
}

func (s *Service) currentTime() time.Time {
	if s != nil && s.now != nil {
		return s.now()
	}
	return time.Now()
}
