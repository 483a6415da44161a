// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package torrentlist keeps the visible torrent list: the provider's snapshots
// filtered and sorted by the current criteria, plus the user's selection.
package torrentlist

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/proninyaroslav/libretorrent/internal/filter"
	"github.com/proninyaroslav/libretorrent/internal/models"
	"github.com/proninyaroslav/libretorrent/internal/selection"
	"github.com/proninyaroslav/libretorrent/internal/sorting"
)

const (
	defaultDebounce = 500 * time.Millisecond
	settingsTimeout = 5 * time.Second
)

// Source streams snapshots and deleted ids, usually a *provider.Provider.
type Source interface {
	SubscribeList(ctx context.Context) <-chan []models.TorrentInfo
	SubscribeDeleted(ctx context.Context) <-chan []string
}

type SettingsStore interface {
	Load(ctx context.Context) (models.DrawerSettings, error)
	Save(ctx context.Context, settings models.DrawerSettings) error
}

// View is one recomputed list.
type View struct {
	Torrents []models.TorrentInfo `json:"torrents"`
	Total    int                  `json:"total"`
	Criteria Criteria             `json:"criteria"`
}

type Option func(*Pipeline)

// WithDebounce sets how long forced recomputes are coalesced.
func WithDebounce(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.debounce = d
		}
	}
}

func WithEvaluator(e *filter.Evaluator) Option {
	return func(p *Pipeline) {
		if e != nil {
			p.evaluator = e
		}
	}
}

func WithSettings(store SettingsStore) Option {
	return func(p *Pipeline) { p.settings = store }
}

func WithEngine(e Engine) Option {
	return func(p *Pipeline) { p.engine = e }
}

type Pipeline struct {
	source    Source
	settings  SettingsStore
	engine    Engine
	evaluator *filter.Evaluator
	selection *selection.Tracker
	debounce  time.Duration
	logger    zerolog.Logger

	forced chan struct{}
	search chan struct{}

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	mu       sync.RWMutex
	criteria Criteria
	all      []models.TorrentInfo
	view     View

	timerMu sync.Mutex
	timer   *time.Timer

	subMu  sync.Mutex
	nextID int
	subs   map[int]chan View

	recomputes atomic.Int64
}

func New(source Source, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:    source,
		evaluator: filter.NewEvaluator(),
		selection: selection.New(),
		debounce:  defaultDebounce,
		logger:    log.With().Str("module", "torrentlist").Logger(),
		forced:    make(chan struct{}, 1),
		search:    make(chan struct{}, 1),
		criteria:  DefaultCriteria(),
		subs:      make(map[int]chan View),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.view = View{Torrents: []models.TorrentInfo{}, Criteria: p.criteria.clone()}
	return p
}

func (p *Pipeline) Selection() *selection.Tracker {
	return p.selection
}

// Evaluator is shared with callers that validate or evaluate ad-hoc filters.
func (p *Pipeline) Evaluator() *filter.Evaluator {
	return p.evaluator
}

// Start loads the persisted criteria and follows the source until Stop.
func (p *Pipeline) Start(ctx context.Context) {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.cancel != nil {
		return
	}

	p.loadSettings(ctx)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel

	lists := p.source.SubscribeList(runCtx)
	deleted := p.source.SubscribeDeleted(runCtx)

	p.wg.Add(1)
	go p.run(runCtx, lists, deleted)
}

func (p *Pipeline) Stop() {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.cancel == nil {
		return
	}

	p.cancel()
	p.wg.Wait()
	p.cancel = nil
	p.stopTimer()

	p.subMu.Lock()
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
	p.subMu.Unlock()
}

func (p *Pipeline) loadSettings(ctx context.Context) {
	if p.settings == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, settingsTimeout)
	defer cancel()

	settings, err := p.settings.Load(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to load list settings, using defaults")
		return
	}

	p.mu.Lock()
	p.criteria = CriteriaFromSettings(settings)
	p.mu.Unlock()
}

func (p *Pipeline) run(ctx context.Context, lists <-chan []models.TorrentInfo, deleted <-chan []string) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case infos, ok := <-lists:
			if !ok {
				lists = nil
				continue
			}
			p.mu.Lock()
			p.all = infos
			p.mu.Unlock()
			p.selection.Retain(lo.Map(infos, func(info models.TorrentInfo, _ int) string { return info.ID }))
			p.recompute()
		case ids, ok := <-deleted:
			if !ok {
				deleted = nil
				continue
			}
			p.selection.Remove(ids...)
		case <-p.forced:
			p.recompute()
		case <-p.search:
			p.recompute()
		}
	}
}

// recompute rebuilds the visible list from the latest snapshots and criteria.
func (p *Pipeline) recompute() {
	p.mu.Lock()
	criteria := p.criteria.clone()
	visible := sorting.Sort(p.evaluator.Apply(criteria.Filter(), p.all), criteria.Sort)
	view := View{Torrents: visible, Total: len(p.all), Criteria: criteria}
	p.view = view
	p.mu.Unlock()

	p.recomputes.Add(1)
	p.publish(view)
}

// View returns the last computed list.
func (p *Pipeline) View() View {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v := p.view
	v.Torrents = slices.Clone(v.Torrents)
	v.Criteria = v.Criteria.clone()
	return v
}

// Query evaluates criteria against the current snapshots without changing the pipeline.
func (p *Pipeline) Query(criteria Criteria) View {
	p.mu.RLock()
	all := p.all
	p.mu.RUnlock()

	return View{
		Torrents: sorting.Sort(p.evaluator.Apply(criteria.Filter(), all), criteria.Sort),
		Total:    len(all),
		Criteria: criteria.clone(),
	}
}

// VisibleIDs is the visible order, used for range selection.
func (p *Pipeline) VisibleIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return lo.Map(p.view.Torrents, func(info models.TorrentInfo, _ int) string { return info.ID })
}

func (p *Pipeline) Criteria() Criteria {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.criteria.clone()
}

func (p *Pipeline) SetStatusFilter(statuses []filter.Status, force bool) {
	p.update(func(c *Criteria) { c.Statuses = lo.Uniq(statuses) }, force)
}

func (p *Pipeline) SetDateAddedFilter(ranges []filter.DateRange, force bool) {
	p.update(func(c *Criteria) { c.DateRanges = lo.Uniq(ranges) }, force)
}

func (p *Pipeline) SetTagFilter(tag models.TagFilterSetting, force bool) {
	p.update(func(c *Criteria) { c.Tag = tag }, force)
}

func (p *Pipeline) SetExprFilter(expression string, force bool) {
	p.update(func(c *Criteria) { c.Expr = expression }, force)
}

// SetSort only forces a recompute when a column is chosen.
func (p *Pipeline) SetSort(spec sorting.Spec, force bool) {
	p.update(func(c *Criteria) { c.Sort = spec }, force && spec.Column != sorting.ColumnNone)
}

// SetCriteria replaces every criterion at once.
func (p *Pipeline) SetCriteria(criteria Criteria, force bool) {
	p.UpdateCriteria(func(c *Criteria) { *c = criteria.clone() }, force)
}

// SetSearchQuery recomputes right away, bypassing the debounce.
func (p *Pipeline) SetSearchQuery(query string) {
	p.update(func(c *Criteria) { c.Search = query }, false)
	signal(p.search)
}

// UpdateCriteria edits the current criteria in place under the pipeline lock,
// so concurrent setters are never overwritten with stale values. A change
// that only resets the sort column to none does not force a recompute.
func (p *Pipeline) UpdateCriteria(fn func(*Criteria), force bool) {
	p.apply(func(c *Criteria) bool {
		before := c.clone()
		fn(c)
		if c.Sort.Column == sorting.ColumnNone && sameFilters(before, *c) {
			return false
		}
		return force
	})
}

func sameFilters(a, b Criteria) bool {
	return slices.Equal(a.Statuses, b.Statuses) &&
		slices.Equal(a.DateRanges, b.DateRanges) &&
		a.Tag == b.Tag &&
		a.Search == b.Search &&
		a.Expr == b.Expr
}

func (p *Pipeline) update(fn func(*Criteria), force bool) {
	p.apply(func(c *Criteria) bool {
		fn(c)
		return force
	})
}

// apply runs fn under the lock; fn reports whether to force a recompute.
func (p *Pipeline) apply(fn func(*Criteria) bool) {
	p.mu.Lock()
	force := fn(&p.criteria)
	if p.criteria.Statuses == nil {
		p.criteria.Statuses = []filter.Status{}
	}
	if p.criteria.DateRanges == nil {
		p.criteria.DateRanges = []filter.DateRange{}
	}
	criteria := p.criteria.clone()
	p.mu.Unlock()

	p.saveSettings(criteria)

	if force {
		p.scheduleRecompute()
	}
}

func (p *Pipeline) saveSettings(criteria Criteria) {
	if p.settings == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), settingsTimeout)
	defer cancel()

	if err := p.settings.Save(ctx, criteria.Settings()); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to persist list settings")
	}
}

// scheduleRecompute restarts the debounce timer. Bursts collapse into one recompute.
func (p *Pipeline) scheduleRecompute() {
	p.timerMu.Lock()
	defer p.timerMu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(p.debounce, func() {
		p.clearTimer(timer)
		signal(p.forced)
	})
	p.timer = timer
}

func (p *Pipeline) clearTimer(timer *time.Timer) {
	p.timerMu.Lock()
	defer p.timerMu.Unlock()

	if p.timer == timer {
		p.timer = nil
	}
}

func (p *Pipeline) stopTimer() {
	p.timerMu.Lock()
	defer p.timerMu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Subscribe delivers every recomputed view, newest first when the reader lags.
// The current view is sent right away.
func (p *Pipeline) Subscribe(ctx context.Context) <-chan View {
	ch := make(chan View, 1)
	ch <- p.View()

	p.subMu.Lock()
	p.nextID++
	id := p.nextID
	p.subs[id] = ch
	p.subMu.Unlock()

	go func() {
		<-ctx.Done()
		p.subMu.Lock()
		defer p.subMu.Unlock()
		if c, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(c)
		}
	}()

	return ch
}

func (p *Pipeline) publish(v View) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	for _, ch := range p.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
