// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/samber/lo"

	"github.com/proninyaroslav/libretorrent/internal/provider"
	"github.com/proninyaroslav/libretorrent/internal/torrentlist"
)

type SelectionHandler struct {
	list     *torrentlist.Pipeline
	provider *provider.Provider
}

func NewSelectionHandler(list *torrentlist.Pipeline, p *provider.Provider) *SelectionHandler {
	return &SelectionHandler{list: list, provider: p}
}

func (h *SelectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.list.Selection().State())
}

func (h *SelectionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.list.Selection().Clear()
	RespondJSON(w, http.StatusOK, h.list.Selection().State())
}

type ToggleRequest struct {
	ID string `json:"id"`
}

func (h *SelectionHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := strings.ToLower(strings.TrimSpace(req.ID))
	if _, ok := h.provider.Get(id); !ok {
		RespondError(w, http.StatusNotFound, "Torrent not found")
		return
	}

	h.list.Selection().Toggle(id)
	RespondJSON(w, http.StatusOK, h.list.Selection().State())
}

type RangeRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Range selects everything between two visible torrents, both included.
func (h *SelectionHandler) Range(w http.ResponseWriter, r *http.Request) {
	var req RangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	from := strings.ToLower(strings.TrimSpace(req.From))
	to := strings.ToLower(strings.TrimSpace(req.To))

	order := h.list.VisibleIDs()
	if !lo.Contains(order, from) || !lo.Contains(order, to) {
		RespondError(w, http.StatusBadRequest, "Range bounds must be visible torrents")
		return
	}

	h.list.Selection().SelectRange(order, from, to)
	RespondJSON(w, http.StatusOK, h.list.Selection().State())
}

type SelectRequest struct {
	IDs      []string `json:"ids"`
	Deselect bool     `json:"deselect"`
}

// Select adds known ids to the selection, or drops them when Deselect is set.
func (h *SelectionHandler) Select(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ids := lo.FilterMap(req.IDs, func(id string, _ int) (string, bool) {
		id = strings.ToLower(strings.TrimSpace(id))
		_, ok := h.provider.Get(id)
		return id, ok
	})

	if req.Deselect {
		h.list.Selection().Deselect(ids...)
	} else {
		h.list.Selection().Select(ids...)
	}
	RespondJSON(w, http.StatusOK, h.list.Selection().State())
}
