// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
)

// EngineStatus is satisfied by *engine.Service.
type EngineStatus interface {
	Running() bool
}

type HealthHandler struct {
	engine EngineStatus
}

func NewHealthHandler(engine EngineStatus) *HealthHandler {
	return &HealthHandler{engine: engine}
}

func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady reports 503 until the engine session is up.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil || !h.engine.Running() {
		RespondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "engine not running"})
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}
