// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrentlist

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/proninyaroslav/libretorrent/internal/models"
)

// Engine is the subset of *engine.Service the list forwards actions to.
type Engine interface {
	Pause(ctx context.Context, ids []string) error
	Resume(ctx context.Context, ids []string) error
	Remove(ctx context.Context, ids []string, withFiles bool) error
	Recheck(ctx context.Context, ids []string) error
	Reannounce(ctx context.Context, ids []string) error
	PauseAll(ctx context.Context) error
	ResumeAll(ctx context.Context) error
}

type Action string

const (
	ActionPauseResume Action = "pauseResume"
	ActionPause       Action = "pause"
	ActionResume      Action = "resume"
	ActionDelete      Action = "delete"
	ActionRecheck     Action = "recheck"
	ActionReannounce  Action = "reannounce"
	ActionPauseAll    Action = "pauseAll"
	ActionResumeAll   Action = "resumeAll"
)

var (
	ErrNoEngine      = errors.New("no engine attached")
	ErrUnknownAction = errors.New("unknown bulk action")
	ErrNoTorrents    = errors.New("no torrents selected")
)

// BulkRequest targets IDs, or the current selection when IDs is empty.
type BulkRequest struct {
	Action    Action   `json:"action"`
	IDs       []string `json:"ids"`
	WithFiles bool     `json:"withFiles"`
}

func (p *Pipeline) Bulk(ctx context.Context, req BulkRequest) error {
	if p.engine == nil {
		return ErrNoEngine
	}

	switch req.Action {
	case ActionPauseAll:
		return p.engine.PauseAll(ctx)
	case ActionResumeAll:
		return p.engine.ResumeAll(ctx)
	}

	ids := lo.Uniq(req.IDs)
	if len(ids) == 0 {
		ids = p.selection.Selection()
	}
	if len(ids) == 0 {
		return ErrNoTorrents
	}

	switch req.Action {
	case ActionPauseResume:
		return p.pauseResume(ctx, ids)
	case ActionPause:
		return p.engine.Pause(ctx, ids)
	case ActionResume:
		return p.engine.Resume(ctx, ids)
	case ActionDelete:
		if err := p.engine.Remove(ctx, ids, req.WithFiles); err != nil {
			return err
		}
		p.selection.Remove(ids...)
		return nil
	case ActionRecheck:
		return p.engine.Recheck(ctx, ids)
	case ActionReannounce:
		return p.engine.Reannounce(ctx, ids)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
}

// pauseResume resumes the paused torrents and pauses the rest.
func (p *Pipeline) pauseResume(ctx context.Context, ids []string) error {
	p.mu.RLock()
	paused := make(map[string]bool, len(p.all))
	for _, info := range p.all {
		paused[info.ID] = info.State == models.StatePaused || info.State == models.StateStopped
	}
	p.mu.RUnlock()

	var toPause, toResume []string
	for _, id := range ids {
		if paused[id] {
			toResume = append(toResume, id)
		} else {
			toPause = append(toPause, id)
		}
	}

	if len(toPause) > 0 {
		if err := p.engine.Pause(ctx, toPause); err != nil {
			return err
		}
	}
	if len(toResume) > 0 {
		if err := p.engine.Resume(ctx, toResume); err != nil {
			return err
		}
	}
	return nil
}
