// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrentlist

import (
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/proninyaroslav/libretorrent/internal/filter"
	"github.com/proninyaroslav/libretorrent/internal/models"
	"github.com/proninyaroslav/libretorrent/internal/sorting"
)

// Criteria is everything that decides which torrents are visible and in which order.
type Criteria struct {
	Statuses   []filter.Status         `json:"statuses"`
	DateRanges []filter.DateRange      `json:"dateRanges"`
	Tag        models.TagFilterSetting `json:"tag"`
	Search     string                  `json:"search"`
	Expr       string                  `json:"expr,omitempty"`
	Sort       sorting.Spec            `json:"sort"`
}

func DefaultCriteria() Criteria {
	return Criteria{
		Statuses:   []filter.Status{},
		DateRanges: []filter.DateRange{},
		Tag:        models.TagFilterSetting{Type: models.TagFilterAll},
		Sort:       sorting.DefaultSpec(),
	}
}

// Filter builds the predicate tree. Each category is an OR of its entries and
// the categories are ANDed together.
func (c Criteria) Filter() filter.Filter {
	parts := []filter.Filter{
		filter.AnyStatus(c.Statuses...),
		filter.AnyDateAdded(c.DateRanges...),
	}

	switch c.Tag.Type {
	case models.TagFilterNoTags:
		parts = append(parts, filter.NoTags())
	case models.TagFilterItem:
		parts = append(parts, filter.ByTag(c.Tag.TagID))
	}

	if q := strings.TrimSpace(c.Search); q != "" {
		parts = append(parts, filter.Search(q))
	}
	if e := strings.TrimSpace(c.Expr); e != "" {
		parts = append(parts, filter.Expr(e))
	}

	return filter.And(parts...)
}

func (c Criteria) clone() Criteria {
	c.Statuses = slices.Clone(c.Statuses)
	c.DateRanges = slices.Clone(c.DateRanges)
	return c
}

// CriteriaFromSettings converts persisted drawer settings. Unknown names are dropped.
func CriteriaFromSettings(s models.DrawerSettings) Criteria {
	c := DefaultCriteria()

	statuses, invalid := filter.ParseStatuses(s.StatusFilters)
	if len(invalid) > 0 {
		log.Warn().Strs("values", invalid).Msg("Ignoring unknown status filters")
	}
	if statuses != nil {
		c.Statuses = statuses
	}

	ranges, invalid := filter.ParseDateRanges(s.DateAddedFilters)
	if len(invalid) > 0 {
		log.Warn().Strs("values", invalid).Msg("Ignoring unknown date added filters")
	}
	if ranges != nil {
		c.DateRanges = ranges
	}

	if s.TagFilter.Type != "" {
		c.Tag = s.TagFilter
	}
	c.Search = s.SearchQuery
	c.Sort = sorting.ParseSpec(s.SortColumn, s.SortDirection)

	return c
}

func (c Criteria) Settings() models.DrawerSettings {
	s := models.DefaultDrawerSettings()
	for _, st := range c.Statuses {
		s.StatusFilters = append(s.StatusFilters, string(st))
	}
	for _, r := range c.DateRanges {
		s.DateAddedFilters = append(s.DateAddedFilters, string(r))
	}
	s.TagFilter = c.Tag
	s.SearchQuery = c.Search
	s.SortColumn = string(c.Sort.Column)
	s.SortDirection = string(c.Sort.Direction)
	return s
}
