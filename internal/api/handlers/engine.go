// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/proninyaroslav/libretorrent/internal/engine"
)

type EngineHandler struct {
	engine *engine.Service
}

func NewEngineHandler(svc *engine.Service) *EngineHandler {
	return &EngineHandler{engine: svc}
}

func (h *EngineHandler) Status(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, NewEngineStatusResponse(h.engine))
}

func (h *EngineHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Start(r.Context()); err != nil {
		respondEngineError(w, err, "start engine")
		return
	}

	log.Info().Msg("Engine started via API")
	RespondJSON(w, http.StatusOK, NewEngineStatusResponse(h.engine))
}

func (h *EngineHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Stop(); err != nil {
		if errors.Is(err, engine.ErrNotRunning) {
			RespondError(w, http.StatusConflict, "Engine is not running")
			return
		}
		respondEngineError(w, err, "stop engine")
		return
	}

	log.Info().Msg("Engine stopped via API")
	RespondJSON(w, http.StatusOK, NewEngineStatusResponse(h.engine))
}
