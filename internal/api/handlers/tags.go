// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/proninyaroslav/libretorrent/internal/models"
)

// Refresher re-reads tags into the torrent snapshots.
type Refresher interface {
	Refresh()
}

type TagsHandler struct {
	store     *models.TagStore
	refresher Refresher
}

func NewTagsHandler(store *models.TagStore, refresher Refresher) *TagsHandler {
	return &TagsHandler{store: store, refresher: refresher}
}

type TagPayload struct {
	Name  string `json:"name"`
	Color int    `json:"color"`
}

func (h *TagsHandler) List(w http.ResponseWriter, r *http.Request) {
	tags, err := h.store.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list tags")
		RespondError(w, http.StatusInternalServerError, "Failed to load tags")
		return
	}

	RespondJSON(w, http.StatusOK, tags)
}

func (h *TagsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload TagPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if strings.TrimSpace(payload.Name) == "" {
		RespondError(w, http.StatusBadRequest, "Tag name is required")
		return
	}

	tag, err := h.store.Create(r.Context(), payload.Name, payload.Color)
	if err != nil {
		if errors.Is(err, models.ErrTagExists) {
			RespondError(w, http.StatusConflict, "Tag already exists")
			return
		}
		log.Error().Err(err).Msg("failed to create tag")
		RespondError(w, http.StatusInternalServerError, "Failed to create tag")
		return
	}

	RespondJSON(w, http.StatusCreated, tag)
}

func (h *TagsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.Atoi(idStr)
	if err != nil || id <= 0 {
		RespondError(w, http.StatusBadRequest, "Invalid tag ID")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrTagNotFound) {
			RespondError(w, http.StatusNotFound, "Tag not found")
			return
		}
		log.Error().Err(err).Int("id", id).Msg("failed to delete tag")
		RespondError(w, http.StatusInternalServerError, "Failed to delete tag")
		return
	}

	if h.refresher != nil {
		h.refresher.Refresh()
	}
	w.WriteHeader(http.StatusNoContent)
}
