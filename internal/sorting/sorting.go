// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package sorting

import (
	"cmp"
	"slices"
	"strings"

	"github.com/proninyaroslav/libretorrent/internal/models"
)

type Column string

const (
	ColumnNone          Column = "none"
	ColumnName          Column = "name"
	ColumnStatus        Column = "status"
	ColumnProgress      Column = "progress"
	ColumnDateAdded     Column = "date_added"
	ColumnSize          Column = "size"
	ColumnETA           Column = "eta"
	ColumnPeers         Column = "peers"
	ColumnLeechers      Column = "leechers"
	ColumnDownloadSpeed Column = "download_speed"
	ColumnUploadSpeed   Column = "upload_speed"
)

var Columns = []Column{
	ColumnNone,
	ColumnName,
	ColumnStatus,
	ColumnProgress,
	ColumnDateAdded,
	ColumnSize,
	ColumnETA,
	ColumnPeers,
	ColumnLeechers,
	ColumnDownloadSpeed,
	ColumnUploadSpeed,
}

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

type Spec struct {
	Column    Column    `json:"column"`
	Direction Direction `json:"direction"`
}

func DefaultSpec() Spec {
	return Spec{Column: ColumnDateAdded, Direction: Desc}
}

// ParseColumn is case-insensitive and accepts camelCase names. Unknown values yield ColumnNone.
func ParseColumn(value string) Column {
	key := strings.ToLower(strings.TrimSpace(value))
	key = strings.ReplaceAll(key, "-", "_")
	for _, c := range Columns {
		if string(c) == key || strings.ReplaceAll(string(c), "_", "") == key {
			return c
		}
	}
	return ColumnNone
}

// ParseDirection yields Asc for anything that is not a descending spelling.
func ParseDirection(value string) Direction {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "desc", "descending":
		return Desc
	default:
		return Asc
	}
}

func ParseSpec(column, direction string) Spec {
	return Spec{Column: ParseColumn(column), Direction: ParseDirection(direction)}
}

// Sort returns a stably sorted copy of list. ColumnNone keeps input order.
func Sort(list []models.TorrentInfo, spec Spec) []models.TorrentInfo {
	sorted := slices.Clone(list)
	if spec.Column == ColumnNone || spec.Column == "" || len(sorted) < 2 {
		return sorted
	}

	slices.SortStableFunc(sorted, func(a, b models.TorrentInfo) int {
		return Compare(a, b, spec)
	})
	return sorted
}

// Compare orders a and b under spec. Unknown ETAs go last in either direction.
func Compare(a, b models.TorrentInfo, spec Spec) int {
	desc := spec.Direction == Desc

	if spec.Column == ColumnETA {
		aUnknown, bUnknown := a.ETA < 0, b.ETA < 0
		switch {
		case aUnknown && bUnknown:
			return 0
		case aUnknown:
			return 1
		case bUnknown:
			return -1
		}
	}

	c := compareColumn(a, b, spec.Column)
	if desc {
		return -c
	}
	return c
}

func compareColumn(a, b models.TorrentInfo, column Column) int {
	switch column {
	case ColumnName:
		c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		if c == 0 {
			c = strings.Compare(a.Name, b.Name)
		}
		return c
	case ColumnStatus:
		return cmp.Compare(statusPriority(a), statusPriority(b))
	case ColumnProgress:
		return cmp.Compare(a.Progress, b.Progress)
	case ColumnDateAdded:
		return a.DateAdded.Compare(b.DateAdded)
	case ColumnSize:
		return cmp.Compare(a.TotalBytes, b.TotalBytes)
	case ColumnETA:
		return cmp.Compare(a.ETA, b.ETA)
	case ColumnPeers:
		return cmp.Compare(a.TotalPeers, b.TotalPeers)
	case ColumnLeechers:
		return cmp.Compare(a.Leechers(), b.Leechers())
	case ColumnDownloadSpeed:
		return cmp.Compare(a.DownloadSpeed, b.DownloadSpeed)
	case ColumnUploadSpeed:
		return cmp.Compare(a.UploadSpeed, b.UploadSpeed)
	default:
		return 0
	}
}

var statusSortOrder = map[models.StateCode]int{
	models.StateDownloading:         0,
	models.StateDownloadingMetadata: 1,
	models.StateChecking:            2,
	models.StateAllocating:          3,
	models.StateSeeding:             4,
	models.StateFinished:            5,
	models.StatePaused:              6,
	models.StateStopped:             7,
	models.StateError:               8,
}

// errored torrents sort with StateError whatever their state code says
func statusPriority(info models.TorrentInfo) int {
	if info.Error != "" {
		return statusSortOrder[models.StateError]
	}
	if p, ok := statusSortOrder[info.State]; ok {
		return p
	}
	return 1000
}
