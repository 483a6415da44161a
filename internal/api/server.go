// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/proninyaroslav/libretorrent/internal/api/handlers"
	"github.com/proninyaroslav/libretorrent/internal/api/middleware"
	"github.com/proninyaroslav/libretorrent/internal/config"
	"github.com/proninyaroslav/libretorrent/internal/engine"
	"github.com/proninyaroslav/libretorrent/internal/metrics"
	"github.com/proninyaroslav/libretorrent/internal/models"
	"github.com/proninyaroslav/libretorrent/internal/provider"
	"github.com/proninyaroslav/libretorrent/internal/services/reannounce"
	"github.com/proninyaroslav/libretorrent/internal/torrentlist"
)

const (
	apiRateLimit = 50
	apiRateBurst = 100
)

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string
	hub     *Hub

	engine          *engine.Service
	provider        *provider.Provider
	list            *torrentlist.Pipeline
	tagStore        *models.TagStore
	preferenceStore *models.PreferenceStore
	reannounce      *reannounce.Service
	metrics         *metrics.Manager
}

type Dependencies struct {
	Config          *config.AppConfig
	Version         string
	Engine          *engine.Service
	Provider        *provider.Provider
	List            *torrentlist.Pipeline
	TagStore        *models.TagStore
	PreferenceStore *models.PreferenceStore
	// Reannounce and Metrics are optional.
	Reannounce      *reannounce.Service
	Metrics         *metrics.Manager
}

func NewServer(deps *Dependencies) *Server {
	logger := log.Logger.With().Str("module", "api").Logger()

	s := Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      120 * time.Second,
			IdleTimeout:       180 * time.Second,
		},
		logger:          logger,
		config:          deps.Config,
		version:         deps.Version,
		hub:             NewHub(logger),
		engine:          deps.Engine,
		provider:        deps.Provider,
		list:            deps.List,
		tagStore:        deps.TagStore,
		preferenceStore: deps.PreferenceStore,
		reannounce:      deps.Reannounce,
		metrics:         deps.Metrics,
	}

	return &s
}

// Hub returns the WebSocket hub. Feed it with FollowUpdates.
func (s *Server) Hub() *Hub {
	return s.hub
}

// FollowUpdates starts pushing list, deletion, session and selection changes
// to WebSocket clients until ctx is done.
func (s *Server) FollowUpdates(ctx context.Context) {
	s.hub.Follow(ctx, s.list, s.provider)
}

func (s *Server) ListenAndServe() error {
	return s.open(nil)
}

// ListenAndServeReady behaves like ListenAndServe but signals once the listener is active.
func (s *Server) ListenAndServeReady(ready chan<- struct{}) error {
	return s.open(ready)
}

func (s *Server) open(ready chan<- struct{}) error {
	addr := fmt.Sprintf("%s:%d", s.config.Config.Host, s.config.Config.Port)

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, ready)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msgf("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol string, ready chan<- struct{}) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	host := listener.Addr().String()
	// Replace 0.0.0.0 or :: with localhost for clickable links
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}
	clickableURL := fmt.Sprintf("http://%s%s", host, s.config.Config.BaseURL)

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Str("base_url", s.config.Config.BaseURL).
		Msgf("Starting API server - Open: %s", clickableURL)

	handler, err := s.Handler()
	if err != nil {
		listener.Close()
		return fmt.Errorf("build API router: %w", err)
	}

	s.server.Handler = handler

	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() (*chi.Mux, error) {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID) // Must be before logger to capture request ID
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	// HTTP compression - handles gzip, brotli, zstd, deflate automatically
	compressor, err := httpcompression.DefaultAdapter(
		httpcompression.MinSize(1024),
		httpcompression.GzipCompressionLevel(2),
		httpcompression.Prefer(httpcompression.PreferServer),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	corsMiddleware := cors.New(cors.Options{
		AllowCredentials: true,
		AllowedMethods:   []string{"HEAD", "OPTIONS", "GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-None-Match"},
		ExposedHeaders:   []string{"ETag"},
		AllowOriginFunc:  func(origin string) bool { return true },
		MaxAge:           300,
		Debug:            false,
	})
	r.Use(corsMiddleware.Handler)

	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}

	healthHandler := handlers.NewHealthHandler(s.engine)
	engineHandler := handlers.NewEngineHandler(s.engine)
	torrentsHandler := handlers.NewTorrentsHandler(s.engine, s.provider, s.list, s.tagStore)
	listHandler := handlers.NewListHandler(s.list)
	selectionHandler := handlers.NewSelectionHandler(s.list, s.provider)
	tagsHandler := handlers.NewTagsHandler(s.tagStore, s.provider)
	preferencesHandler := handlers.NewPreferencesHandler(s.preferenceStore)
	reannounceHandler := handlers.NewReannounceHandler(s.reannounce)

	apiRouter := chi.NewRouter()

	apiRouter.Group(func(r chi.Router) {
		r.Use(middleware.Logger(s.logger))
		r.Use(middleware.RateLimit(apiRateLimit, apiRateBurst))

		r.Get("/openapi.yaml", serveOpenAPISpec)
		r.Get("/ws", s.hub.ServeWS(s.initialMessages))

		r.Route("/engine", func(r chi.Router) {
			r.Get("/status", engineHandler.Status)
			r.Post("/start", engineHandler.Start)
			r.Post("/stop", engineHandler.Stop)
		})

		r.Route("/torrents", func(r chi.Router) {
			r.Get("/", torrentsHandler.ListTorrents)
			r.Post("/", torrentsHandler.AddTorrent)
			r.Post("/bulk-action", torrentsHandler.BulkAction)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", torrentsHandler.GetTorrent)
				r.Put("/tags", torrentsHandler.SetTorrentTags)
			})
		})

		r.Route("/list", func(r chi.Router) {
			r.Get("/criteria", listHandler.GetCriteria)
			r.Put("/criteria", listHandler.UpdateCriteria)
			r.Put("/search", listHandler.UpdateSearch)
		})

		r.Route("/selection", func(r chi.Router) {
			r.Get("/", selectionHandler.Get)
			r.Delete("/", selectionHandler.Clear)
			r.Post("/toggle", selectionHandler.Toggle)
			r.Post("/range", selectionHandler.Range)
			r.Post("/select", selectionHandler.Select)
		})

		r.Route("/tags", func(r chi.Router) {
			r.Get("/", tagsHandler.List)
			r.Post("/", tagsHandler.Create)
			r.Delete("/{id}", tagsHandler.Delete)
		})

		r.Get("/reannounce/activity", reannounceHandler.GetActivity)
		r.Get("/reannounce/candidates", reannounceHandler.GetCandidates)

		r.Get("/preferences/{key}", preferencesHandler.Get)
		r.Put("/preferences/{key}", preferencesHandler.Update)
	})

	baseURL := s.config.Config.BaseURL
	if baseURL == "" {
		baseURL = "/"
	}

	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/healthz/readiness", healthHandler.HandleReady)
	r.Get("/healthz/liveness", healthHandler.HandleLiveness)

	r.Mount(baseURL+"api", apiRouter)

	if baseURL != "/" {
		r.Get("/", func(w http.ResponseWriter, request *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("Must use baseUrl: " + s.config.Config.BaseURL + " instead of /"))
		})
	}

	return r, nil
}

func (s *Server) initialMessages() []wsMessage {
	return []wsMessage{
		{Type: MessageTorrents, Data: s.list.View()},
		{Type: MessageSelection, Data: s.list.Selection().State()},
	}
}
