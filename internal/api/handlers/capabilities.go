// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"github.com/proninyaroslav/libretorrent/internal/engine"
)

// EngineStatusResponse describes the engine session and what it supports.
type EngineStatusResponse struct {
	engine.Status
	Stats                    engine.SessionStats `json:"stats"`
	SupportsReannounce       bool                `json:"supportsReannounce"`
	SupportsCustomSavePath   bool                `json:"supportsCustomSavePath"`
	WebAPIVersion            string              `json:"webAPIVersion,omitempty"`
	SupportsExpressionFilter bool                `json:"supportsExpressionFilter"`
}

func NewEngineStatusResponse(svc *engine.Service) EngineStatusResponse {
	caps := svc.Capabilities()
	return EngineStatusResponse{
		Status:                   svc.Status(),
		Stats:                    svc.Stats(),
		SupportsReannounce:       caps.Reannounce,
		SupportsCustomSavePath:   caps.CustomSavePath,
		WebAPIVersion:            caps.Version,
		SupportsExpressionFilter: true,
	}
}
