// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/proninyaroslav/libretorrent/internal/models"
)

const maxPreferenceKeyLength = 128

type PreferencesHandler struct {
	store *models.PreferenceStore
}

func NewPreferencesHandler(store *models.PreferenceStore) *PreferencesHandler {
	return &PreferencesHandler{store: store}
}

type PreferencePayload struct {
	Value string `json:"value"`
}

func preferenceKey(r *http.Request) (string, bool) {
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	return key, key != "" && len(key) <= maxPreferenceKeyLength
}

func (h *PreferencesHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, ok := preferenceKey(r)
	if !ok {
		RespondError(w, http.StatusBadRequest, "Invalid preference key")
		return
	}

	pref, err := h.store.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, models.ErrPreferenceNotFound) {
			RespondError(w, http.StatusNotFound, "Preference not found")
			return
		}
		log.Error().Err(err).Str("key", key).Msg("failed to get preference")
		RespondError(w, http.StatusInternalServerError, "Failed to load preference")
		return
	}

	RespondJSON(w, http.StatusOK, pref)
}

func (h *PreferencesHandler) Update(w http.ResponseWriter, r *http.Request) {
	key, ok := preferenceKey(r)
	if !ok {
		RespondError(w, http.StatusBadRequest, "Invalid preference key")
		return
	}

	var payload PreferencePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Warn().Err(err).Msg("failed to decode preference request")
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.store.Set(r.Context(), key, payload.Value); err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to update preference")
		RespondError(w, http.StatusInternalServerError, "Failed to update preference")
		return
	}

	pref, err := h.store.Get(r.Context(), key)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to reload preference")
		RespondError(w, http.StatusInternalServerError, "Failed to load preference")
		return
	}

	RespondJSON(w, http.StatusOK, pref)
}
