// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filter

import (
	"fmt"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/expr-lang/expr/vm"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/proninyaroslav/libretorrent/internal/models"
)

var ErrUnknownKind = errors.New("unknown filter kind")

type Evaluator struct {
	now       func() time.Time
	location  *time.Location
	weekStart time.Weekday
	exprCache *ttlcache.Cache[string, *vm.Program]
	logger    zerolog.Logger
}

type Option func(*Evaluator)

func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

func WithLocation(loc *time.Location) Option {
	return func(e *Evaluator) {
		if loc != nil {
			e.location = loc
		}
	}
}

func WithWeekStart(day time.Weekday) Option {
	return func(e *Evaluator) { e.weekStart = day }
}

func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		now:       time.Now,
		location:  time.Local,
		weekStart: time.Monday,
		exprCache: ttlcache.New(ttlcache.Options[string, *vm.Program]{}.SetDefaultTTL(5 * time.Minute)),
		logger:    log.With().Str("module", "filter").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// evalContext is built once per Apply so that every torrent sees the same clock
// and search queries are normalized once.
type evalContext struct {
	ref      time.Time
	searches map[string]*searchQuery
	exprs    map[string]compiledExpr
}

func (e *Evaluator) newContext() *evalContext {
	return &evalContext{
		ref:      e.now().In(e.location),
		searches: make(map[string]*searchQuery),
		exprs:    make(map[string]compiledExpr),
	}
}

// Match reports whether info satisfies f. Evaluation errors count as no match.
func (e *Evaluator) Match(f Filter, info models.TorrentInfo) bool {
	ok, err := e.eval(e.newContext(), f, &info)
	if err != nil {
		e.logger.Debug().Err(err).Str("torrent", info.ID).Msg("Filter evaluation failed")
		return false
	}
	return ok
}

// Apply returns the elements of list that satisfy f, in input order.
func (e *Evaluator) Apply(f Filter, list []models.TorrentInfo) []models.TorrentInfo {
	ctx := e.newContext()
	filtered := make([]models.TorrentInfo, 0, len(list))

	var failures int
	var lastErr error
	for i := range list {
		ok, err := e.eval(ctx, f, &list[i])
		if err != nil {
			failures++
			lastErr = err
			continue
		}
		if ok {
			filtered = append(filtered, list[i])
		}
	}

	if failures > 0 {
		e.logger.Debug().Err(lastErr).Int("failures", failures).Msg("Filter evaluation failed for some torrents")
	}

	return filtered
}

// Validate checks a tree without evaluating it against a torrent.
func (e *Evaluator) Validate(f Filter) error {
	switch f.Kind {
	case KindAll, KindNoTags, KindSearch:
		return nil
	case KindStatus:
		if _, ok := ParseStatus(string(f.Status)); !ok {
			return fmt.Errorf("unknown status %q", f.Status)
		}
		return nil
	case KindDateAdded:
		if _, ok := ParseDateRange(string(f.DateRange)); !ok {
			return fmt.Errorf("unknown date range %q", f.DateRange)
		}
		return nil
	case KindTag:
		if f.TagID <= 0 {
			return fmt.Errorf("invalid tag id %d", f.TagID)
		}
		return nil
	case KindExpr:
		_, err := e.program(nil, f.Expr)
		return err
	case KindAnd, KindOr:
		for _, child := range f.Children {
			if err := e.Validate(child); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.Wrapf(ErrUnknownKind, "%q", f.Kind)
	}
}

func (e *Evaluator) eval(ctx *evalContext, f Filter, info *models.TorrentInfo) (bool, error) {
	switch f.Kind {
	case KindAll:
		return true, nil

	case KindStatus:
		return matchStatus(f.Status, info)

	case KindDateAdded:
		return e.matchDateAdded(ctx.ref, f.DateRange, info)

	case KindTag:
		return info.HasTag(f.TagID), nil

	case KindNoTags:
		return len(info.Tags) == 0, nil

	case KindSearch:
		q, ok := ctx.searches[f.Query]
		if !ok {
			q = newSearchQuery(f.Query)
			ctx.searches[f.Query] = q
		}
		return q.match(info)

	case KindExpr:
		return e.matchExpr(ctx, f.Expr, info)

	case KindAnd:
		for _, child := range f.Children {
			ok, err := e.eval(ctx, child, info)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case KindOr:
		// an empty category selects everything
		if len(f.Children) == 0 {
			return true, nil
		}
		var firstErr error
		for _, child := range f.Children {
			ok, err := e.eval(ctx, child, info)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if ok {
				return true, nil
			}
		}
		if firstErr != nil {
			e.logger.Trace().Err(firstErr).Str("torrent", info.ID).Msg("Filter branch failed")
		}
		return false, nil

	default:
		return false, errors.Wrapf(ErrUnknownKind, "%q", f.Kind)
	}
}

func matchStatus(status Status, info *models.TorrentInfo) (bool, error) {
	switch status {
	case StatusDownloading:
		return info.State == models.StateDownloading, nil
	case StatusDownloaded:
		return info.State == models.StateSeeding ||
			(info.TotalBytes > 0 && info.ReceivedBytes >= info.TotalBytes), nil
	case StatusDownloadingMetadata:
		return info.State == models.StateDownloadingMetadata, nil
	case StatusError:
		return info.Error != "" || info.State == models.StateError, nil
	case StatusPaused:
		return info.State == models.StatePaused || info.State == models.StateStopped, nil
	case StatusSeeding:
		return info.State == models.StateSeeding, nil
	case StatusChecking:
		return info.State == models.StateChecking || info.State == models.StateAllocating, nil
	default:
		return false, fmt.Errorf("unknown status %q", status)
	}
}

func (e *Evaluator) matchDateAdded(ref time.Time, r DateRange, info *models.TorrentInfo) (bool, error) {
	start, end, err := e.dateBounds(ref, r)
	if err != nil {
		return false, err
	}
	if info.DateAdded.IsZero() {
		return false, nil
	}
	added := info.DateAdded.In(e.location)
	return !added.Before(start) && !added.After(end), nil
}

// dateBounds returns the inclusive [start, end] of r around ref.
func (e *Evaluator) dateBounds(ref time.Time, r DateRange) (time.Time, time.Time, error) {
	loc := e.location
	y, m, d := ref.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)

	var start, next time.Time
	switch r {
	case DateAddedToday:
		start, next = today, today.AddDate(0, 0, 1)
	case DateAddedYesterday:
		start, next = today.AddDate(0, 0, -1), today
	case DateAddedWeek:
		offset := (int(today.Weekday()) - int(e.weekStart) + 7) % 7
		start = today.AddDate(0, 0, -offset)
		next = start.AddDate(0, 0, 7)
	case DateAddedMonth:
		start = time.Date(y, m, 1, 0, 0, 0, 0, loc)
		next = start.AddDate(0, 1, 0)
	case DateAddedYear:
		start = time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		next = start.AddDate(1, 0, 0)
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown date range %q", r)
	}

	return start, next.Add(-time.Nanosecond), nil
}
