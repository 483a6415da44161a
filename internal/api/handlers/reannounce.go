// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"strconv"

	"github.com/proninyaroslav/libretorrent/internal/services/reannounce"
)

type ReannounceHandler struct {
	service *reannounce.Service
}

func NewReannounceHandler(service *reannounce.Service) *ReannounceHandler {
	return &ReannounceHandler{service: service}
}

// GetActivity returns recent reannounce attempts, newest last.
func (h *ReannounceHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		RespondJSON(w, http.StatusOK, []reannounce.ActivityEvent{})
		return
	}

	limit := 0
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	events := h.service.GetActivity(limit)
	if events == nil {
		events = []reannounce.ActivityEvent{}
	}
	RespondJSON(w, http.StatusOK, events)
}

// GetCandidates returns downloads that currently look stalled.
func (h *ReannounceHandler) GetCandidates(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		RespondJSON(w, http.StatusOK, []reannounce.MonitoredTorrent{})
		return
	}
	candidates := h.service.GetMonitoredTorrents()
	if candidates == nil {
		candidates = []reannounce.MonitoredTorrent{}
	}
	RespondJSON(w, http.StatusOK, candidates)
}
