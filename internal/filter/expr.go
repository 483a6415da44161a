// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filter

import (
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/pkg/errors"

	"github.com/proninyaroslav/libretorrent/internal/models"
)

// ExprEnv is the environment visible to expression filters.
type ExprEnv struct {
	ID            string
	Name          string
	State         string
	Progress      int
	Size          int64
	Downloaded    int64
	Uploaded      int64
	DownloadSpeed int64
	UploadSpeed   int64
	ETA           int64
	Peers         int
	TotalPeers    int
	Seeds         int
	Leechers      int
	Ratio         float64
	Tags          []string
	Error         string
	HasError      bool
	Sequential    bool
	AddedOn       int64
	AgeHours      float64
}

func newExprEnv(info *models.TorrentInfo, ref time.Time) ExprEnv {
	env := ExprEnv{
		ID:            info.ID,
		Name:          info.Name,
		State:         info.State.String(),
		Progress:      info.Progress,
		Size:          info.TotalBytes,
		Downloaded:    info.ReceivedBytes,
		Uploaded:      info.UploadedBytes,
		DownloadSpeed: info.DownloadSpeed,
		UploadSpeed:   info.UploadSpeed,
		ETA:           info.ETA,
		Peers:         info.Peers,
		TotalPeers:    info.TotalPeers,
		Seeds:         info.TotalSeeds,
		Leechers:      info.Leechers(),
		Ratio:         info.Ratio(),
		Tags:          info.TagNames(),
		Error:         info.Error,
		HasError:      info.Error != "",
		Sequential:    info.SequentialDownload,
	}
	if !info.DateAdded.IsZero() {
		env.AddedOn = info.DateAdded.Unix()
		env.AgeHours = ref.Sub(info.DateAdded).Hours()
	}
	return env
}

type compiledExpr struct {
	program *vm.Program
	err     error
}

// program returns the compiled expression, from the shared cache when possible.
// ctx may be nil.
func (e *Evaluator) program(ctx *evalContext, expression string) (*vm.Program, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, errors.New("empty expression")
	}

	if ctx != nil {
		if c, ok := ctx.exprs[expression]; ok {
			return c.program, c.err
		}
	}

	if p, ok := e.exprCache.Get(expression); ok {
		e.logger.Trace().Str("expr", expression).Msg("Using cached expression")
		if ctx != nil {
			ctx.exprs[expression] = compiledExpr{program: p}
		}
		return p, nil
	}

	p, err := expr.Compile(expression, expr.Env(ExprEnv{}), expr.AsBool())
	if err != nil {
		err = errors.Wrap(err, "compile expression")
		e.logger.Error().Err(err).Str("expr", expression).Msg("Failed to compile expression")
	} else if ok := e.exprCache.Set(expression, p, 5*time.Minute); !ok {
		e.logger.Warn().Str("expr", expression).Msg("Failed to cache expression")
	}

	if ctx != nil {
		ctx.exprs[expression] = compiledExpr{program: p, err: err}
	}
	return p, err
}

func (e *Evaluator) matchExpr(ctx *evalContext, expression string, info *models.TorrentInfo) (bool, error) {
	p, err := e.program(ctx, expression)
	if err != nil {
		return false, err
	}

	result, err := expr.Run(p, newExprEnv(info, ctx.ref))
	if err != nil {
		return false, errors.Wrap(err, "evaluate expression")
	}

	matched, ok := result.(bool)
	if !ok {
		return false, errors.New("expression result is not a boolean")
	}
	return matched, nil
}

// CachedExpression reports whether expression has a compiled program cached.
func (e *Evaluator) CachedExpression(expression string) bool {
	_, ok := e.exprCache.Get(strings.TrimSpace(expression))
	return ok
}
