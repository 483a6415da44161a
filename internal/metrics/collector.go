// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/proninyaroslav/libretorrent/internal/models"
)

// TorrentCollector reads the snapshot list on every scrape.
type TorrentCollector struct {
	source SnapshotSource

	torrentsByState *prometheus.Desc
	torrentErrors   *prometheus.Desc
	totalSize       *prometheus.Desc
}

func NewTorrentCollector(source SnapshotSource) *TorrentCollector {
	return &TorrentCollector{
		source: source,
		torrentsByState: prometheus.NewDesc(
			namespace+"_torrents",
			"Torrents by state.",
			[]string{"state"},
			nil,
		),
		torrentErrors: prometheus.NewDesc(
			namespace+"_torrents_errored",
			"Torrents reporting an error.",
			nil,
			nil,
		),
		totalSize: prometheus.NewDesc(
			namespace+"_torrents_size_bytes",
			"Combined size of all torrents.",
			nil,
			nil,
		),
	}
}

func (c *TorrentCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.torrentsByState
	ch <- c.torrentErrors
	ch <- c.totalSize
}

func (c *TorrentCollector) Collect(ch chan<- prometheus.Metric) {
	infos := c.source.Snapshot()

	counts := make(map[string]int)
	for state := models.StateUnknown; state <= models.StateAllocating; state++ {
		counts[state.String()] = 0
	}

	var errored int
	var size int64
	for _, info := range infos {
		counts[info.State.String()]++
		if info.Error != "" {
			errored++
		}
		size += info.TotalBytes
	}

	for state, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.torrentsByState, prometheus.GaugeValue, float64(n), state)
	}
	ch <- prometheus.MustNewConstMetric(c.torrentErrors, prometheus.GaugeValue, float64(errored))
	ch <- prometheus.MustNewConstMetric(c.totalSize, prometheus.GaugeValue, float64(size))
}
