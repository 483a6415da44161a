// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package anacrolix

import (
	"math"
	"strings"

	"github.com/proninyaroslav/libretorrent/internal/models"
)

type sourceType int

const (
	kindFile sourceType = iota
	kindMagnet
	kindURL
)

func sourceKind(source string) sourceType {
	lower := strings.ToLower(strings.TrimSpace(source))
	switch {
	case strings.HasPrefix(lower, magnetScheme):
		return kindMagnet
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return kindURL
	default:
		return kindFile
	}
}

func resolveState(ready, paused, checking bool, received, total int64) models.StateCode {
	complete := ready && total > 0 && received >= total
	switch {
	case checking:
		return models.StateChecking
	case paused:
		return models.StatePaused
	case !ready:
		return models.StateDownloadingMetadata
	case complete:
		return models.StateSeeding
	default:
		return models.StateDownloading
	}
}

func progressPercent(received, total int64) int {
	if total <= 0 || received <= 0 {
		return 0
	}
	if received >= total {
		return 100
	}
	return int(float64(received) * 100 / float64(total))
}

// estimateETA returns the seconds left at the current rate, or -1 when unknown.
func estimateETA(remaining, speed int64) int64 {
	if remaining <= 0 {
		return 0
	}
	if speed <= 0 {
		return -1
	}
	return int64(math.Ceil(float64(remaining) / float64(speed)))
}
