// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/proninyaroslav/libretorrent/internal/models"
)

const (
	defaultPollInterval = time.Second
	defaultResyncDelay  = 200 * time.Millisecond
	resyncTimeout       = 30 * time.Second
)

type Status struct {
	Running   bool      `json:"running"`
	Backend   string    `json:"backend"`
	StartedAt time.Time `json:"startedAt,omitzero"`
	Torrents  int       `json:"torrents"`
}

// Service owns a Backend for the lifetime of one session. It polls the backend,
// turns snapshot differences into events and forwards mutations.
type Service struct {
	backend   Backend
	listeners Listeners
	logger    zerolog.Logger
	now       func() time.Time

	pollInterval time.Duration
	resyncDelay  time.Duration

	startStopMu sync.Mutex
	running     atomic.Bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	startedAt   atomic.Int64

	// serializes refreshes so events for one torrent stay in order
	pollMu sync.Mutex

	stateMu  sync.RWMutex
	torrents map[string]models.TorrentInfo
	order    []string
	errors   map[string]string
	stats    SessionStats

	resyncMu    sync.Mutex
	resyncTimer *time.Timer
}

type ServiceOption func(*Service)

func WithPollInterval(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func WithResyncDelay(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.resyncDelay = d
		}
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(backend Backend, opts ...ServiceOption) *Service {
	s := &Service{
		backend:      backend,
		now:          time.Now,
		pollInterval: defaultPollInterval,
		resyncDelay:  defaultResyncDelay,
		torrents:     make(map[string]models.TorrentInfo),
		errors:       make(map[string]string),
		logger:       log.With().Str("module", "engine").Str("backend", backend.Name()).Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if src, ok := backend.(EventSource); ok {
		src.SetEventHandler(s.handleBackendEvent)
	}

	return s
}

func (s *Service) Register(listener Listener) (unregister func()) {
	return s.listeners.Register(listener)
}

func (s *Service) Running() bool {
	return s.running.Load()
}

func (s *Service) Status() Status {
	var startedAt time.Time
	if ns := s.startedAt.Load(); ns != 0 {
		startedAt = time.Unix(0, ns)
	}

	s.stateMu.RLock()
	count := len(s.order)
	s.stateMu.RUnlock()

	return Status{
		Running:   s.running.Load(),
		Backend:   s.backend.Name(),
		StartedAt: startedAt,
		Torrents:  count,
	}
}

// Start opens the backend, loads the current torrents and starts polling.
func (s *Service) Start(ctx context.Context) error {
	s.startStopMu.Lock()
	defer s.startStopMu.Unlock()

	if s.running.Load() {
		return ErrAlreadyRunning
	}

	if err := s.backend.Open(ctx); err != nil {
		s.dispatch(Event{Type: EventSessionError, Error: err.Error()})
		return errors.Wrapf(err, "open %s engine", s.backend.Name())
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.startedAt.Store(s.now().UnixNano())
	s.running.Store(true)

	s.logger.Info().Dur("pollInterval", s.pollInterval).Msg("Engine session started")
	s.dispatch(Event{Type: EventSessionStarted})

	if err := s.refresh(runCtx, true); err != nil {
		s.logger.Warn().Err(err).Msg("Initial engine snapshot failed")
	}

	s.wg.Add(1)
	go s.loop(runCtx)

	return nil
}

// Stop halts polling and closes the backend. Cached torrents are dropped.
func (s *Service) Stop() error {
	s.startStopMu.Lock()
	defer s.startStopMu.Unlock()

	if !s.running.Load() {
		return ErrNotRunning
	}

	s.cancel()
	s.wg.Wait()
	s.stopResync()

	s.pollMu.Lock()
	s.running.Store(false)
	s.pollMu.Unlock()

	err := s.backend.Close()

	s.stateMu.Lock()
	s.torrents = make(map[string]models.TorrentInfo)
	s.order = nil
	s.errors = make(map[string]string)
	s.stats = SessionStats{}
	s.stateMu.Unlock()
	s.startedAt.Store(0)

	s.logger.Info().Msg("Engine session stopped")
	s.dispatch(Event{Type: EventSessionStopped})

	if err != nil {
		return errors.Wrapf(err, "close %s engine", s.backend.Name())
	}
	return nil
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.refresh(ctx, false); err != nil && ctx.Err() == nil {
				s.logger.Debug().Err(err).Msg("Engine poll failed")
			}
		}
	}
}

// Refresh polls the backend once outside the regular schedule.
func (s *Service) Refresh(ctx context.Context) error {
	return s.refresh(ctx, false)
}

func (s *Service) refresh(ctx context.Context, initial bool) error {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	if !s.running.Load() {
		return ErrNotRunning
	}

	var snapshot []models.TorrentInfo
	var reported *SessionStats

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		infos, err := s.backend.Snapshot(gctx)
		if err != nil {
			return err
		}
		snapshot = infos
		return nil
	})
	if reporter, ok := s.backend.(StatsReporter); ok {
		g.Go(func() error {
			stats, err := reporter.SessionStats(gctx)
			if err != nil {
				s.logger.Debug().Err(err).Msg("Session stats unavailable")
				return nil
			}
			reported = &stats
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() == nil {
			s.dispatch(Event{Type: EventSessionError, Error: err.Error()})
		}
		return errors.Wrap(err, "snapshot engine")
	}

	events, current := s.apply(snapshot, initial)

	stats := aggregateStats(current)
	if reported != nil {
		stats = *reported
		stats.Torrents = len(current)
	}
	s.stateMu.Lock()
	s.stats = stats
	s.stateMu.Unlock()

	for _, e := range events {
		s.dispatch(e)
	}
	s.dispatch(Event{Type: EventStats, Stats: &stats})

	return nil
}

// apply swaps in the new snapshot and returns the events describing the change.
func (s *Service) apply(snapshot []models.TorrentInfo, initial bool) ([]Event, []models.TorrentInfo) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	next := make(map[string]models.TorrentInfo, len(snapshot))
	order := make([]string, 0, len(snapshot))
	current := make([]models.TorrentInfo, 0, len(snapshot))
	var events []Event

	for _, info := range snapshot {
		info.ID = normalizeID(info.ID)
		if info.ID == "" {
			continue
		}
		if _, dup := next[info.ID]; dup {
			continue
		}
		if reported, ok := s.errors[info.ID]; ok && info.Error == "" {
			info.Error = reported
		}

		next[info.ID] = info
		order = append(order, info.ID)
		current = append(current, info)

		prev, existed := s.torrents[info.ID]
		if !existed {
			typ := EventAdded
			if initial {
				typ = EventLoaded
			}
			events = append(events, torrentEvent(typ, info))
			if info.Error != "" {
				e := torrentEvent(EventError, info)
				e.Error = info.Error
				events = append(events, e)
			}
			continue
		}

		events = append(events, diffTorrent(prev, info)...)
	}

	for _, id := range s.order {
		if _, ok := next[id]; ok {
			continue
		}
		events = append(events, torrentEvent(EventRemoved, s.torrents[id]))
		delete(s.errors, id)
	}

	s.torrents = next
	s.order = order

	return events, current
}

func diffTorrent(prev, cur models.TorrentInfo) []Event {
	var events []Event

	if prev.State != cur.State {
		e := torrentEvent(EventStateChanged, cur)
		e.PrevState = prev.State
		events = append(events, e)

		switch {
		case isPaused(cur.State) && !isPaused(prev.State):
			events = append(events, torrentEvent(EventPaused, cur))
		case isPaused(prev.State) && !isPaused(cur.State):
			events = append(events, torrentEvent(EventResumed, cur))
		}

		if prev.State == models.StateDownloadingMetadata {
			e := torrentEvent(EventMetadataLoaded, cur)
			e.Success = true
			events = append(events, e)
		}
	}

	if prev.Progress < 100 && cur.Progress >= 100 && cur.TotalBytes > 0 {
		events = append(events, torrentEvent(EventFinished, cur))
	}

	if cur.Error != "" && cur.Error != prev.Error {
		e := torrentEvent(EventError, cur)
		e.Error = cur.Error
		events = append(events, e)
	}

	return events
}

func torrentEvent(typ EventType, info models.TorrentInfo) Event {
	clone := info.Clone()
	return Event{Type: typ, TorrentID: info.ID, Info: &clone, State: info.State}
}

func isPaused(state models.StateCode) bool {
	return state == models.StatePaused || state == models.StateStopped
}

// handleBackendEvent records errors reported out of band and forwards the event.
func (s *Service) handleBackendEvent(e Event) {
	e.TorrentID = normalizeID(e.TorrentID)

	if e.TorrentID != "" && e.Error != "" {
		switch e.Type {
		case EventError, EventRestoreSession, EventMetadataLoaded:
			s.stateMu.Lock()
			s.errors[e.TorrentID] = e.Error
			if info, ok := s.torrents[e.TorrentID]; ok {
				info.Error = e.Error
				s.torrents[e.TorrentID] = info
				clone := info.Clone()
				e.Info = &clone
			}
			s.stateMu.Unlock()
		}
	}

	s.dispatch(e)
}

func (s *Service) dispatch(e Event) {
	if e.Time.IsZero() {
		e.Time = s.now()
	}
	s.listeners.Dispatch(e)
}

// Torrents returns the latest snapshot of every torrent in backend order.
func (s *Service) Torrents() []models.TorrentInfo {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	out := make([]models.TorrentInfo, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.torrents[id].Clone())
	}
	return out
}

func (s *Service) Torrent(id string) (models.TorrentInfo, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	info, ok := s.torrents[normalizeID(id)]
	if !ok {
		return models.TorrentInfo{}, false
	}
	return info.Clone(), true
}

func (s *Service) IDs() []string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return slices.Clone(s.order)
}

// Capabilities assumes full support unless the backend says otherwise.
func (s *Service) Capabilities() Capabilities {
	if r, ok := s.backend.(CapabilityReporter); ok {
		return r.Capabilities()
	}
	return Capabilities{Reannounce: true, CustomSavePath: true}
}

func (s *Service) Stats() SessionStats {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.stats
}

func (s *Service) Add(ctx context.Context, source string, opts AddOptions) (string, error) {
	if !s.running.Load() {
		return "", ErrNotRunning
	}

	source = strings.TrimSpace(source)
	if source == "" {
		return "", errors.New("torrent source is empty")
	}

	id, err := s.backend.Add(ctx, source, opts)
	if err != nil {
		return "", errors.Wrap(err, "add torrent")
	}

	s.logger.Debug().Str("torrent", id).Msg("Torrent added")
	s.scheduleResync("add")
	return normalizeID(id), nil
}

func (s *Service) Pause(ctx context.Context, ids []string) error {
	return s.mutate(ctx, "pause", ids, s.backend.Pause)
}

// Resume also clears errors reported for the torrents.
func (s *Service) Resume(ctx context.Context, ids []string) error {
	return s.mutate(ctx, "resume", ids, func(ctx context.Context, ids []string) error {
		if err := s.backend.Resume(ctx, ids); err != nil {
			return err
		}
		s.clearErrors(ids)
		return nil
	})
}

func (s *Service) Remove(ctx context.Context, ids []string, withFiles bool) error {
	return s.mutate(ctx, "remove", ids, func(ctx context.Context, ids []string) error {
		return s.backend.Remove(ctx, ids, withFiles)
	})
}

func (s *Service) Recheck(ctx context.Context, ids []string) error {
	return s.mutate(ctx, "recheck", ids, func(ctx context.Context, ids []string) error {
		if err := s.backend.Recheck(ctx, ids); err != nil {
			return err
		}
		s.clearErrors(ids)
		return nil
	})
}

func (s *Service) Reannounce(ctx context.Context, ids []string) error {
	return s.mutate(ctx, "reannounce", ids, s.backend.Reannounce)
}

func (s *Service) PauseAll(ctx context.Context) error {
	ids := s.IDs()
	if len(ids) == 0 {
		return nil
	}
	return s.Pause(ctx, ids)
}

func (s *Service) ResumeAll(ctx context.Context) error {
	ids := s.IDs()
	if len(ids) == 0 {
		return nil
	}
	return s.Resume(ctx, ids)
}

func (s *Service) mutate(ctx context.Context, operation string, ids []string, fn func(context.Context, []string) error) error {
	if !s.running.Load() {
		return ErrNotRunning
	}

	ids, err := s.resolveIDs(ids)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	if err := fn(ctx, ids); err != nil {
		return errors.Wrapf(err, "%s torrents", operation)
	}

	s.logger.Debug().Str("operation", operation).Int("count", len(ids)).Msg("Engine mutation applied")
	s.scheduleResync(operation)
	return nil
}

// resolveIDs normalizes and de-duplicates ids and checks they are known.
func (s *Service) resolveIDs(ids []string) ([]string, error) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	var missing []string
	for _, id := range ids {
		id = normalizeID(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := s.torrents[id]; !ok {
			missing = append(missing, id)
			continue
		}
		out = append(out, id)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrTorrentNotFound, strings.Join(missing, ", "))
	}
	return out, nil
}

func (s *Service) clearErrors(ids []string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	for _, id := range ids {
		delete(s.errors, id)
	}
}

// scheduleResync polls shortly after a mutation. Bursts collapse into one poll.
func (s *Service) scheduleResync(operation string) {
	s.resyncMu.Lock()
	defer s.resyncMu.Unlock()

	if s.resyncTimer != nil {
		s.resyncTimer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(s.resyncDelay, func() {
		s.runResync(operation, timer)
	})
	s.resyncTimer = timer
}

func (s *Service) runResync(operation string, timer *time.Timer) {
	defer s.clearResyncTimer(timer)

	ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
	defer cancel()

	if err := s.refresh(ctx, false); err != nil && !errors.Is(err, ErrNotRunning) {
		s.logger.Warn().Err(err).Str("operation", operation).Msg("Failed to sync after modification")
	}
}

func (s *Service) clearResyncTimer(timer *time.Timer) {
	s.resyncMu.Lock()
	defer s.resyncMu.Unlock()

	if s.resyncTimer == timer {
		s.resyncTimer = nil
	}
}

func (s *Service) stopResync() {
	s.resyncMu.Lock()
	defer s.resyncMu.Unlock()

	if s.resyncTimer != nil {
		s.resyncTimer.Stop()
		s.resyncTimer = nil
	}
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
