// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type Server struct {
	server  *http.Server
	manager *Manager
}

func NewServer(manager *Manager, host string, port int, basicAuthUsers map[string]string) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	if len(basicAuthUsers) > 0 {
		router.Use(middleware.BasicAuth("metrics", basicAuthUsers))
	}

	router.Get("/metrics", manager.Handler().ServeHTTP)

	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		manager: manager,
	}
}

func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Start blocks until the server is closed.
func (s *Server) Start() error {
	log.Info().Str("address", s.server.Addr).Msg("Starting Prometheus metrics server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	return s.server.Close()
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
