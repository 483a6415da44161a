// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/proninyaroslav/libretorrent/internal/filter"
	"github.com/proninyaroslav/libretorrent/internal/models"
	"github.com/proninyaroslav/libretorrent/internal/sorting"
	"github.com/proninyaroslav/libretorrent/internal/torrentlist"
)

type ListHandler struct {
	list      *torrentlist.Pipeline
	evaluator *filter.Evaluator
}

func NewListHandler(list *torrentlist.Pipeline) *ListHandler {
	return &ListHandler{list: list, evaluator: list.Evaluator()}
}

// CriteriaPayload updates only the fields that are present. Force schedules a
// debounced recompute instead of waiting for the next snapshot.
type CriteriaPayload struct {
	Statuses   *[]string                `json:"statuses"`
	DateRanges *[]string                `json:"dateRanges"`
	Tag        *models.TagFilterSetting `json:"tag"`
	Expr       *string                  `json:"expr"`
	Sort       *struct {
		Column    string `json:"column"`
		Direction string `json:"direction"`
	} `json:"sort"`
	Force bool `json:"force"`
}

func (h *ListHandler) GetCriteria(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.list.Criteria())
}

func (h *ListHandler) UpdateCriteria(w http.ResponseWriter, r *http.Request) {
	var payload CriteriaPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Warn().Err(err).Msg("failed to decode list criteria request")
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	var edits []func(*torrentlist.Criteria)

	if payload.Statuses != nil {
		statuses, invalid := filter.ParseStatuses(*payload.Statuses)
		if len(invalid) > 0 {
			RespondError(w, http.StatusBadRequest, "Unknown status: "+strings.Join(invalid, ", "))
			return
		}
		edits = append(edits, func(c *torrentlist.Criteria) { c.Statuses = statuses })
	}

	if payload.DateRanges != nil {
		ranges, invalid := filter.ParseDateRanges(*payload.DateRanges)
		if len(invalid) > 0 {
			RespondError(w, http.StatusBadRequest, "Unknown date range: "+strings.Join(invalid, ", "))
			return
		}
		edits = append(edits, func(c *torrentlist.Criteria) { c.DateRanges = ranges })
	}

	if payload.Tag != nil {
		tag, err := parseTagSetting(*payload.Tag)
		if err != nil {
			RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		edits = append(edits, func(c *torrentlist.Criteria) { c.Tag = tag })
	}

	if payload.Expr != nil {
		expr := strings.TrimSpace(*payload.Expr)
		if expr != "" {
			if err := h.evaluator.Validate(filter.Expr(expr)); err != nil {
				RespondError(w, http.StatusBadRequest, "Invalid filter expression")
				return
			}
		}
		edits = append(edits, func(c *torrentlist.Criteria) { c.Expr = expr })
	}

	if payload.Sort != nil {
		spec := sorting.ParseSpec(payload.Sort.Column, payload.Sort.Direction)
		edits = append(edits, func(c *torrentlist.Criteria) { c.Sort = spec })
	}

	h.list.UpdateCriteria(func(c *torrentlist.Criteria) {
		for _, edit := range edits {
			edit(c)
		}
	}, payload.Force)
	RespondJSON(w, http.StatusOK, h.list.Criteria())
}

func parseTagSetting(tag models.TagFilterSetting) (models.TagFilterSetting, error) {
	if tag.Type == models.TagFilterItem {
		if tag.TagID <= 0 {
			return tag, errInvalidTagFilter
		}
		return tag, nil
	}
	return parseTagFilter(tag.Type)
}

type SearchPayload struct {
	Query string `json:"query"`
}

// UpdateSearch applies the query right away.
func (h *ListHandler) UpdateSearch(w http.ResponseWriter, r *http.Request) {
	var payload SearchPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	h.list.SetSearchQuery(payload.Query)
	RespondJSON(w, http.StatusOK, h.list.Criteria())
}
