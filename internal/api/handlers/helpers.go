// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/proninyaroslav/libretorrent/internal/engine"
	"github.com/proninyaroslav/libretorrent/internal/torrentlist"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message})
}

// respondEngineError maps engine and list errors to status codes.
func respondEngineError(w http.ResponseWriter, err error, operation string) {
	switch {
	case errors.Is(err, engine.ErrNotRunning), errors.Is(err, torrentlist.ErrNoEngine):
		RespondError(w, http.StatusServiceUnavailable, "Engine is not running")
	case errors.Is(err, engine.ErrAlreadyRunning):
		RespondError(w, http.StatusConflict, "Engine is already running")
	case errors.Is(err, engine.ErrTorrentNotFound):
		RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrUnsupported):
		RespondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, torrentlist.ErrUnknownAction), errors.Is(err, torrentlist.ErrNoTorrents):
		RespondError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Str("operation", operation).Msg("Engine operation failed")
		RespondError(w, http.StatusInternalServerError, "Failed to "+operation)
	}
}
