// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "time"

// EngineKind selects the torrent engine backend.
type EngineKind string

const (
	EngineAnacrolix   EngineKind = "anacrolix"
	EngineQBittorrent EngineKind = "qbittorrent"
)

type Config struct {
	Version       string
	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	BaseURL       string `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir       string `toml:"dataDir" mapstructure:"dataDir"`
	PprofEnabled  bool   `toml:"pprofEnabled" mapstructure:"pprofEnabled"`

	Engine             EngineKind    `toml:"engine" mapstructure:"engine"`
	EngineDownloadDir  string        `toml:"engineDownloadDir" mapstructure:"engineDownloadDir"`
	EnginePollInterval time.Duration `toml:"enginePollInterval" mapstructure:"enginePollInterval"`
	EngineListenPort   int           `toml:"engineListenPort" mapstructure:"engineListenPort"`
	EngineIPFilterPath string        `toml:"engineIpFilterPath" mapstructure:"engineIpFilterPath"`

	QBittorrentHost     string        `toml:"qbittorrentHost" mapstructure:"qbittorrentHost"`
	QBittorrentUsername string        `toml:"qbittorrentUsername" mapstructure:"qbittorrentUsername"`
	QBittorrentPassword string        `toml:"qbittorrentPassword" mapstructure:"qbittorrentPassword"`
	QBittorrentTimeout  time.Duration `toml:"qbittorrentTimeout" mapstructure:"qbittorrentTimeout"`

	// ListDebounce coalesces forced list recomputes.
	ListDebounce   time.Duration `toml:"listDebounce" mapstructure:"listDebounce"`
	FirstDayOfWeek string        `toml:"firstDayOfWeek" mapstructure:"firstDayOfWeek"`

	MetricsEnabled        bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost           string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort           int    `toml:"metricsPort" mapstructure:"metricsPort"`
	MetricsBasicAuthUsers string `toml:"metricsBasicAuthUsers" mapstructure:"metricsBasicAuthUsers"`
}
