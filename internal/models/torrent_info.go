// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// StateCode is the coarse lifecycle state of a torrent.
type StateCode int

const (
	StateUnknown             StateCode = -1
	StateError               StateCode = 0
	StateSeeding             StateCode = 1
	StateDownloading         StateCode = 2
	StatePaused              StateCode = 3
	StateStopped             StateCode = 4
	StateChecking            StateCode = 5
	StateDownloadingMetadata StateCode = 6
	StateFinished            StateCode = 7
	StateAllocating          StateCode = 8
)

var stateNames = map[StateCode]string{
	StateUnknown:             "unknown",
	StateError:               "error",
	StateSeeding:             "seeding",
	StateDownloading:         "downloading",
	StatePaused:              "paused",
	StateStopped:             "stopped",
	StateChecking:            "checking",
	StateDownloadingMetadata: "downloading_metadata",
	StateFinished:            "finished",
	StateAllocating:          "allocating",
}

func (s StateCode) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return stateNames[StateUnknown]
}

// ParseStateCode accepts the snake name (any case). Anything else is StateUnknown.
func ParseStateCode(value string) StateCode {
	value = strings.ToLower(strings.TrimSpace(value))
	for code, name := range stateNames {
		if name == value {
			return code
		}
	}
	return StateUnknown
}

func (s StateCode) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *StateCode) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*s = ParseStateCode(name)
		return nil
	}

	var code int
	if err := json.Unmarshal(data, &code); err != nil {
		return err
	}
	if _, ok := stateNames[StateCode(code)]; ok {
		*s = StateCode(code)
	} else {
		*s = StateUnknown
	}
	return nil
}

type Tag struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Color     int       `json:"color"`
	CreatedAt time.Time `json:"createdAt"`
}

// TorrentInfo is one snapshot of a torrent as reported by the engine.
type TorrentInfo struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	State              StateCode `json:"state"`
	Progress           int       `json:"progress"`
	ReceivedBytes      int64     `json:"receivedBytes"`
	UploadedBytes      int64     `json:"uploadedBytes"`
	TotalBytes         int64     `json:"totalBytes"`
	DownloadSpeed      int64     `json:"downloadSpeed"`
	UploadSpeed        int64     `json:"uploadSpeed"`
	ETA                int64     `json:"eta"`
	Peers              int       `json:"peers"`
	TotalPeers         int       `json:"totalPeers"`
	TotalSeeds         int       `json:"totalSeeds"`
	DateAdded          time.Time `json:"dateAdded"`
	Error              string    `json:"error,omitempty"`
	SequentialDownload bool      `json:"sequentialDownload"`
	Tags               []Tag     `json:"tags"`
}

// Leechers is the number of known non-seeding peers.
func (t TorrentInfo) Leechers() int {
	return max(t.TotalPeers-t.TotalSeeds, 0)
}

// Ratio of uploaded to received bytes, 0 when nothing was received.
func (t TorrentInfo) Ratio() float64 {
	if t.ReceivedBytes <= 0 {
		return 0
	}
	return float64(t.UploadedBytes) / float64(t.ReceivedBytes)
}

func (t TorrentInfo) HasTag(id int) bool {
	return slices.ContainsFunc(t.Tags, func(tag Tag) bool { return tag.ID == id })
}

func (t TorrentInfo) TagNames() []string {
	names := make([]string, 0, len(t.Tags))
	for _, tag := range t.Tags {
		names = append(names, tag.Name)
	}
	return names
}

// Equal compares two snapshots by value. Tag order is significant.
func (t TorrentInfo) Equal(other TorrentInfo) bool {
	if t.ID != other.ID ||
		t.Name != other.Name ||
		t.State != other.State ||
		t.Progress != other.Progress ||
		t.ReceivedBytes != other.ReceivedBytes ||
		t.UploadedBytes != other.UploadedBytes ||
		t.TotalBytes != other.TotalBytes ||
		t.DownloadSpeed != other.DownloadSpeed ||
		t.UploadSpeed != other.UploadSpeed ||
		t.ETA != other.ETA ||
		t.Peers != other.Peers ||
		t.TotalPeers != other.TotalPeers ||
		t.TotalSeeds != other.TotalSeeds ||
		!t.DateAdded.Equal(other.DateAdded) ||
		t.Error != other.Error ||
		t.SequentialDownload != other.SequentialDownload {
		return false
	}

	return slices.EqualFunc(t.Tags, other.Tags, func(a, b Tag) bool {
		return a.ID == b.ID && a.Name == b.Name && a.Color == b.Color
	})
}

// Clone returns a copy that shares no slices with t.
func (t TorrentInfo) Clone() TorrentInfo {
	if t.Tags != nil {
		t.Tags = slices.Clone(t.Tags)
	}
	return t
}
