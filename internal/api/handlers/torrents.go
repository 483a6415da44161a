// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/proninyaroslav/libretorrent/internal/engine"
	"github.com/proninyaroslav/libretorrent/internal/filter"
	"github.com/proninyaroslav/libretorrent/internal/models"
	"github.com/proninyaroslav/libretorrent/internal/provider"
	"github.com/proninyaroslav/libretorrent/internal/sorting"
	"github.com/proninyaroslav/libretorrent/internal/statecache"
	"github.com/proninyaroslav/libretorrent/internal/torrentlist"
)

const addTorrentMaxFormMemory int64 = 32 << 20 // 32 MiB cap for .torrent uploads

var errInvalidTagFilter = errors.New("invalid tag filter")

// torrentAdder is the part of the engine used by AddTorrent (swapped in tests)
type torrentAdder interface {
	Add(ctx context.Context, source string, opts engine.AddOptions) (string, error)
}

type TorrentsHandler struct {
	engine    *engine.Service
	provider  *provider.Provider
	list      *torrentlist.Pipeline
	tags      *models.TagStore
	evaluator *filter.Evaluator

	torrentAdder torrentAdder
}

func NewTorrentsHandler(svc *engine.Service, p *provider.Provider, list *torrentlist.Pipeline, tags *models.TagStore) *TorrentsHandler {
	h := &TorrentsHandler{
		engine:   svc,
		provider: p,
		list:     list,
		tags:     tags,
	}
	if list != nil {
		h.evaluator = list.Evaluator()
	} else {
		h.evaluator = filter.NewEvaluator()
	}
	if svc != nil {
		h.torrentAdder = svc
	}
	return h
}

// truncateExpr truncates long filter expressions for cleaner logging
func truncateExpr(expr string, maxLen int) string {
	if len(expr) <= maxLen {
		return expr
	}
	return expr[:maxLen-3] + "..."
}

// ListTorrents returns the visible list. Any filter or sort query parameter
// evaluates an ad-hoc view on top of the current criteria without changing it.
func (h *TorrentsHandler) ListTorrents(w http.ResponseWriter, r *http.Request) {
	var view torrentlist.View

	query := r.URL.Query()
	if hasListQuery(query) {
		criteria, err := criteriaFromQuery(h.list.Criteria(), query)
		if err != nil {
			RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if criteria.Expr != "" {
			if err := h.evaluator.Validate(filter.Expr(criteria.Expr)); err != nil {
				log.Debug().Err(err).Str("expr", truncateExpr(criteria.Expr, 80)).Msg("Rejected filter expression")
				RespondError(w, http.StatusBadRequest, "Invalid filter expression")
				return
			}
		}
		view = h.list.Query(criteria)
	} else {
		view = h.list.View()
	}

	etag := viewETag(view)
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	RespondJSON(w, http.StatusOK, view)
}

var listQueryKeys = []string{"status", "date", "tag", "q", "expr", "sort", "dir"}

func hasListQuery(values map[string][]string) bool {
	return lo.SomeBy(listQueryKeys, func(key string) bool {
		_, ok := values[key]
		return ok
	})
}

func splitValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func criteriaFromQuery(base torrentlist.Criteria, query map[string][]string) (torrentlist.Criteria, error) {
	c := base

	if values, ok := query["status"]; ok {
		statuses, invalid := filter.ParseStatuses(splitValues(values))
		if len(invalid) > 0 {
			return c, fmt.Errorf("unknown status: %s", strings.Join(invalid, ", "))
		}
		c.Statuses = statuses
	}

	if values, ok := query["date"]; ok {
		ranges, invalid := filter.ParseDateRanges(splitValues(values))
		if len(invalid) > 0 {
			return c, fmt.Errorf("unknown date range: %s", strings.Join(invalid, ", "))
		}
		c.DateRanges = ranges
	}

	if values, ok := query["tag"]; ok && len(values) > 0 {
		tag, err := parseTagFilter(values[0])
		if err != nil {
			return c, err
		}
		c.Tag = tag
	}

	if values, ok := query["q"]; ok && len(values) > 0 {
		c.Search = values[0]
	}
	if values, ok := query["expr"]; ok && len(values) > 0 {
		c.Expr = strings.TrimSpace(values[0])
	}
	if values, ok := query["sort"]; ok && len(values) > 0 {
		c.Sort.Column = sorting.ParseColumn(values[0])
	}
	if values, ok := query["dir"]; ok && len(values) > 0 {
		c.Sort.Direction = sorting.ParseDirection(values[0])
	}

	return c, nil
}

func parseTagFilter(value string) (models.TagFilterSetting, error) {
	switch value = strings.ToLower(strings.TrimSpace(value)); value {
	case "", models.TagFilterAll:
		return models.TagFilterSetting{Type: models.TagFilterAll}, nil
	case models.TagFilterNoTags:
		return models.TagFilterSetting{Type: models.TagFilterNoTags}, nil
	}

	id, err := strconv.Atoi(value)
	if err != nil || id <= 0 {
		return models.TagFilterSetting{}, fmt.Errorf("%w %q", errInvalidTagFilter, value)
	}
	return models.TagFilterSetting{Type: models.TagFilterItem, TagID: id}, nil
}

// viewETag changes whenever the visible torrents, their order or the criteria change.
func viewETag(view torrentlist.View) string {
	d := xxhash.New()
	for _, info := range view.Torrents {
		_, _ = d.WriteString(info.ID)
		_, _ = d.WriteString("\x00")
	}
	if data, err := json.Marshal(view.Criteria); err == nil {
		_, _ = d.Write(data)
	}
	return fmt.Sprintf(`"%x-%x-%d"`, statecache.Fingerprint(view.Torrents), d.Sum64(), view.Total)
}

func (h *TorrentsHandler) GetTorrent(w http.ResponseWriter, r *http.Request) {
	id := strings.ToLower(chi.URLParam(r, "id"))

	info, ok := h.provider.Get(id)
	if !ok {
		RespondError(w, http.StatusNotFound, "Torrent not found")
		return
	}

	RespondJSON(w, http.StatusOK, info)
}

type AddTorrentRequest struct {
	Sources    []string `json:"sources"`
	Paused     bool     `json:"paused"`
	Sequential bool     `json:"sequential"`
	SavePath   string   `json:"savePath,omitempty"`
}

type AddTorrentResponse struct {
	IDs    []string `json:"ids"`
	Failed []string `json:"failed,omitempty"`
}

// AddTorrent accepts a JSON body with magnet links or URLs, or a multipart
// form with one or more .torrent files in the "torrent" field.
func (h *TorrentsHandler) AddTorrent(w http.ResponseWriter, r *http.Request) {
	if h.torrentAdder == nil {
		RespondError(w, http.StatusServiceUnavailable, "Engine is not running")
		return
	}

	var (
		req     AddTorrentRequest
		cleanup func()
		err     error
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		req, cleanup, err = parseAddForm(r)
		if cleanup != nil {
			defer cleanup()
		}
	} else {
		err = json.NewDecoder(r.Body).Decode(&req)
	}
	if err != nil {
		log.Debug().Err(err).Msg("Invalid add torrent request")
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sources := lo.FilterMap(req.Sources, func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	})
	if len(sources) == 0 {
		RespondError(w, http.StatusBadRequest, "No torrent sources provided")
		return
	}

	opts := engine.AddOptions{Paused: req.Paused, Sequential: req.Sequential, SavePath: strings.TrimSpace(req.SavePath)}

	resp := AddTorrentResponse{IDs: []string{}}
	var lastErr error
	for _, source := range sources {
		id, err := h.torrentAdder.Add(r.Context(), source, opts)
		if err != nil {
			lastErr = err
			resp.Failed = append(resp.Failed, displaySource(source))
			log.Warn().Err(err).Str("source", displaySource(source)).Msg("Failed to add torrent")
			continue
		}
		resp.IDs = append(resp.IDs, id)
	}

	if len(resp.IDs) == 0 {
		respondEngineError(w, lastErr, "add torrent")
		return
	}

	RespondJSON(w, http.StatusCreated, resp)
}

// displaySource hides temporary upload paths and long magnet parameters in logs.
func displaySource(source string) string {
	if strings.HasPrefix(source, os.TempDir()) {
		return "upload"
	}
	if i := strings.Index(source, "&"); strings.HasPrefix(source, "magnet:") && i > 0 {
		return source[:i]
	}
	return source
}

func parseAddForm(r *http.Request) (AddTorrentRequest, func(), error) {
	var req AddTorrentRequest

	if err := r.ParseMultipartForm(addTorrentMaxFormMemory); err != nil {
		return req, nil, err
	}

	req.Paused = r.FormValue("paused") == "true"
	req.Sequential = r.FormValue("sequential") == "true"
	req.SavePath = r.FormValue("savePath")
	if urls := r.FormValue("urls"); urls != "" {
		req.Sources = append(req.Sources, strings.Split(urls, "\n")...)
	}

	var tempFiles []string
	cleanup := func() {
		for _, path := range tempFiles {
			_ = os.Remove(path)
		}
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}

	for _, fh := range r.MultipartForm.File["torrent"] {
		path, err := saveUpload(fh)
		if err != nil {
			return req, cleanup, err
		}
		tempFiles = append(tempFiles, path)
		req.Sources = append(req.Sources, path)
	}

	return req, cleanup, nil
}

func saveUpload(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "libretorrent-*.torrent")
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

func (h *TorrentsHandler) BulkAction(w http.ResponseWriter, r *http.Request) {
	var req torrentlist.BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.list.Bulk(r.Context(), req); err != nil {
		respondEngineError(w, err, string(req.Action))
		return
	}

	log.Debug().Str("action", string(req.Action)).Int("count", len(req.IDs)).Msg("Bulk action applied")
	RespondJSON(w, http.StatusOK, map[string]string{"message": "Bulk action completed"})
}

type SetTagsRequest struct {
	TagIDs []int `json:"tagIds"`
}

func (h *TorrentsHandler) SetTorrentTags(w http.ResponseWriter, r *http.Request) {
	id := strings.ToLower(chi.URLParam(r, "id"))
	if _, ok := h.provider.Get(id); !ok {
		RespondError(w, http.StatusNotFound, "Torrent not found")
		return
	}

	var req SetTagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.tags.SetTorrentTags(r.Context(), id, lo.Uniq(req.TagIDs)); err != nil {
		if errors.Is(err, models.ErrTagNotFound) {
			RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		log.Error().Err(err).Str("torrent", id).Msg("Failed to set torrent tags")
		RespondError(w, http.StatusInternalServerError, "Failed to set torrent tags")
		return
	}

	h.provider.Refresh()
	w.WriteHeader(http.StatusNoContent)
}
