// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes engine, torrent list and HTTP figures to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/proninyaroslav/libretorrent/internal/engine"
	"github.com/proninyaroslav/libretorrent/internal/models"
)

const namespace = "libretorrent"

// SnapshotSource returns the current torrent snapshots, usually the provider.
type SnapshotSource interface {
	Snapshot() []models.TorrentInfo
}

// Manager owns the registry and implements engine.Listener.
type Manager struct {
	registry *prometheus.Registry

	eventsTotal     *prometheus.CounterVec
	sessionUp       prometheus.Gauge
	sessionErrors   *prometheus.CounterVec
	downloadSpeed   prometheus.Gauge
	uploadSpeed     prometheus.Gauge
	totalDownloaded prometheus.Gauge
	totalUploaded   prometheus.Gauge
	peers           prometheus.Gauge
	dhtNodes        prometheus.Gauge
	ipFilterRules   prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func NewManager(source SnapshotSource) *Manager {
	m := &Manager{
		registry: prometheus.NewRegistry(),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "events_total",
			Help:      "Engine events by type.",
		}, []string{"type"}),
		sessionUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "session_up",
			Help:      "Whether the engine session is running.",
		}),
		sessionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "session_errors_total",
			Help:      "Session level errors by type.",
		}, []string{"type"}),
		downloadSpeed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "download_speed_bytes",
			Help:      "Current aggregate download speed in bytes per second.",
		}),
		uploadSpeed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "upload_speed_bytes",
			Help:      "Current aggregate upload speed in bytes per second.",
		}),
		totalDownloaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "downloaded_bytes",
			Help:      "Bytes downloaded in this session.",
		}),
		totalUploaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "uploaded_bytes",
			Help:      "Bytes uploaded in this session.",
		}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "peers_connected",
			Help:      "Peers connected across all torrents.",
		}),
		dhtNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "dht_nodes",
			Help:      "DHT nodes known to the engine.",
		}),
		ipFilterRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "ip_filter_rules",
			Help:      "Rules loaded from the IP filter.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.eventsTotal,
		m.sessionUp,
		m.sessionErrors,
		m.downloadSpeed,
		m.uploadSpeed,
		m.totalDownloaded,
		m.totalUploaded,
		m.peers,
		m.dhtNodes,
		m.ipFilterRules,
		m.httpRequests,
		m.httpDuration,
	)

	if source != nil {
		m.registry.MustRegister(NewTorrentCollector(source))
	}

	return m
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

func (m *Manager) OnEvent(e engine.Event) {
	m.eventsTotal.WithLabelValues(string(e.Type)).Inc()

	switch e.Type {
	case engine.EventSessionStarted:
		m.sessionUp.Set(1)
	case engine.EventSessionStopped:
		m.sessionUp.Set(0)
		m.downloadSpeed.Set(0)
		m.uploadSpeed.Set(0)
		m.peers.Set(0)
	case engine.EventSessionError, engine.EventNATError, engine.EventRestoreSession:
		m.sessionErrors.WithLabelValues(string(e.Type)).Inc()
	case engine.EventIPFilterParsed:
		if e.Success {
			m.ipFilterRules.Set(float64(e.RuleCount))
		}
	case engine.EventStats:
		if e.Stats == nil {
			return
		}
		m.downloadSpeed.Set(float64(e.Stats.DownloadSpeed))
		m.uploadSpeed.Set(float64(e.Stats.UploadSpeed))
		m.totalDownloaded.Set(float64(e.Stats.TotalDownloaded))
		m.totalUploaded.Set(float64(e.Stats.TotalUploaded))
		m.peers.Set(float64(e.Stats.Peers))
		m.dhtNodes.Set(float64(e.Stats.DHTNodes))
	}
}

// Middleware records request counts and latency per chi route pattern.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
