// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import (
	"encoding/json"
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	Commit    = ""
	Date      = ""
	UserAgent = ""
)

func init() {
	UserAgent = fmt.Sprintf("libretorrent/%s (%s %s)", Version, runtime.GOOS, runtime.GOARCH)
}

type buildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

func String() string {
	return fmt.Sprintf("Version: %v\nCommit: %v\nBuild date: %s\n", Version, Commit, Date)
}

func JSON() ([]byte, error) {
	return json.Marshal(buildInfo{
		Version: Version,
		Commit:  Commit,
		Date:    Date,
	})
}
