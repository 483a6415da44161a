// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package filter holds the torrent list predicates. A Filter is a tagged union;
// Evaluator.Match is the only place that interprets it.
package filter

import (
	"strings"
)

type Kind string

const (
	KindAll       Kind = "all"
	KindStatus    Kind = "status"
	KindDateAdded Kind = "date_added"
	KindTag       Kind = "tag"
	KindNoTags    Kind = "no_tags"
	KindSearch    Kind = "search"
	KindExpr      Kind = "expr"
	KindAnd       Kind = "and"
	KindOr        Kind = "or"
)

type Status string

const (
	StatusDownloading         Status = "downloading"
	StatusDownloaded          Status = "downloaded"
	StatusDownloadingMetadata Status = "downloading_metadata"
	StatusError               Status = "error"
	StatusPaused              Status = "paused"
	StatusSeeding             Status = "seeding"
	StatusChecking            Status = "checking"
)

var Statuses = []Status{
	StatusDownloading,
	StatusDownloaded,
	StatusDownloadingMetadata,
	StatusError,
	StatusPaused,
	StatusSeeding,
	StatusChecking,
}

type DateRange string

const (
	DateAddedToday     DateRange = "today"
	DateAddedYesterday DateRange = "yesterday"
	DateAddedWeek      DateRange = "week"
	DateAddedMonth     DateRange = "month"
	DateAddedYear      DateRange = "year"
)

var DateRanges = []DateRange{
	DateAddedToday,
	DateAddedYesterday,
	DateAddedWeek,
	DateAddedMonth,
	DateAddedYear,
}

// Filter is one node of a predicate tree. Only the fields of its Kind are read.
type Filter struct {
	Kind      Kind      `json:"kind"`
	Status    Status    `json:"status,omitempty"`
	DateRange DateRange `json:"dateRange,omitempty"`
	TagID     int       `json:"tagId,omitempty"`
	Query     string    `json:"query,omitempty"`
	Expr      string    `json:"expr,omitempty"`
	Children  []Filter  `json:"children,omitempty"`
}

func All() Filter { return Filter{Kind: KindAll} }

func ByStatus(s Status) Filter { return Filter{Kind: KindStatus, Status: s} }

func ByDateAdded(r DateRange) Filter { return Filter{Kind: KindDateAdded, DateRange: r} }

func ByTag(id int) Filter { return Filter{Kind: KindTag, TagID: id} }

func NoTags() Filter { return Filter{Kind: KindNoTags} }

func Search(query string) Filter { return Filter{Kind: KindSearch, Query: query} }

func Expr(expression string) Filter { return Filter{Kind: KindExpr, Expr: expression} }

func And(children ...Filter) Filter { return Filter{Kind: KindAnd, Children: children} }

func Or(children ...Filter) Filter { return Filter{Kind: KindOr, Children: children} }

// AnyStatus ORs the given categories. No categories matches everything.
func AnyStatus(statuses ...Status) Filter {
	children := make([]Filter, 0, len(statuses))
	for _, s := range statuses {
		children = append(children, ByStatus(s))
	}
	return Or(children...)
}

// AnyDateAdded ORs the given ranges. No ranges matches everything.
func AnyDateAdded(ranges ...DateRange) Filter {
	children := make([]Filter, 0, len(ranges))
	for _, r := range ranges {
		children = append(children, ByDateAdded(r))
	}
	return Or(children...)
}

func ParseStatus(value string) (Status, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, s := range Statuses {
		if string(s) == value {
			return s, true
		}
	}
	return "", false
}

func ParseDateRange(value string) (DateRange, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, r := range DateRanges {
		if string(r) == value {
			return r, true
		}
	}
	return "", false
}

// ParseStatuses keeps the known names and returns the rejected ones separately.
func ParseStatuses(values []string) ([]Status, []string) {
	var statuses []Status
	var invalid []string
	for _, v := range values {
		if s, ok := ParseStatus(v); ok {
			statuses = append(statuses, s)
		} else {
			invalid = append(invalid, v)
		}
	}
	return statuses, invalid
}

func ParseDateRanges(values []string) ([]DateRange, []string) {
	var ranges []DateRange
	var invalid []string
	for _, v := range values {
		if r, ok := ParseDateRange(v); ok {
			ranges = append(ranges, r)
		} else {
			invalid = append(invalid, v)
		}
	}
	return ranges, invalid
}
