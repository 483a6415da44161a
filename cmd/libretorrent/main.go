// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/proninyaroslav/libretorrent/internal/api"
	"github.com/proninyaroslav/libretorrent/internal/buildinfo"
	"github.com/proninyaroslav/libretorrent/internal/config"
	"github.com/proninyaroslav/libretorrent/internal/database"
	"github.com/proninyaroslav/libretorrent/internal/domain"
	"github.com/proninyaroslav/libretorrent/internal/engine"
	"github.com/proninyaroslav/libretorrent/internal/engine/anacrolix"
	"github.com/proninyaroslav/libretorrent/internal/filter"
	"github.com/proninyaroslav/libretorrent/internal/metrics"
	"github.com/proninyaroslav/libretorrent/internal/models"
	"github.com/proninyaroslav/libretorrent/internal/provider"
	"github.com/proninyaroslav/libretorrent/internal/qbittorrent"
	"github.com/proninyaroslav/libretorrent/internal/services/reannounce"
	"github.com/proninyaroslav/libretorrent/internal/torrentlist"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "libretorrent",
		Short: "Headless torrent client with a filterable torrent list",
		Long: `libretorrent - runs a torrent engine (embedded or a remote qBittorrent)
and serves a filtered, sorted and selectable torrent list over HTTP and WebSocket.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand())
	rootCmd.AddCommand(RunGenerateConfigCommand())
	rootCmd.AddCommand(RunListCommand())
	rootCmd.AddCommand(RunAddCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
		pprofFlag bool
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the engine and the API server",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/libretorrent/ or %APPDATA%\\libretorrent\\). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for database and downloads (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")
	command.Flags().BoolVar(&pprofFlag, "pprof", false, "enable pprof server on :6060")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		app := NewApplication(configDir, dataDir, logPath, pprofFlag)
		return app.runServer()
	}

	return command
}

func RunVersionCommand() *cobra.Command {
	var asJSON bool

	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version of libretorrent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !asJSON {
				cmd.Print(buildinfo.String())
				return nil
			}
			data, err := buildinfo.JSON()
			if err != nil {
				return err
			}
			cmd.Println(string(data))
			return nil
		},
	}

	command.Flags().BoolVar(&asJSON, "json", false, "print build information as JSON")

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/libretorrent/config.toml
- Windows: %APPDATA%\libretorrent\config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := resolveConfigFile(configDir)

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

func resolveConfigFile(configDir string) string {
	switch {
	case configDir == "":
		return filepath.Join(config.GetDefaultConfigDir(), "config.toml")
	case strings.HasSuffix(strings.ToLower(configDir), ".toml"):
		return configDir
	}
	if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
		return configDir
	}
	return filepath.Join(configDir, "config.toml")
}

type Application struct {
	configDir string
	dataDir   string
	logPath   string
	pprofFlag bool
}

func NewApplication(configDir, dataDir, logPath string, pprofFlag bool) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
		pprofFlag: pprofFlag,
	}
}

func newBackend(cfg *config.AppConfig, db *database.DB) engine.Backend {
	switch cfg.Config.Engine {
	case domain.EngineQBittorrent:
		return qbittorrent.NewBackend(qbittorrent.Config{
			Host:     cfg.Config.QBittorrentHost,
			Username: cfg.Config.QBittorrentUsername,
			Password: cfg.Config.QBittorrentPassword,
			Timeout:  cfg.Config.QBittorrentTimeout,
		})
	default:
		return anacrolix.New(anacrolix.Config{
			DownloadDir:  cfg.GetDownloadDir(),
			ListenPort:   cfg.Config.EngineListenPort,
			IPFilterPath: cfg.Config.EngineIPFilterPath,
		}, models.NewEngineTorrentStore(db))
	}
}

func (app *Application) runServer() error {
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		return errors.Wrap(err, "failed to initialize configuration")
	}

	// Override with CLI flags if provided
	if app.dataDir != "" {
		os.Setenv("LIBRETORRENT__DATA_DIR", app.dataDir)
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("LIBRETORRENT__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}
	if app.pprofFlag {
		cfg.Config.PprofEnabled = true
	}

	cfg.ApplyLogConfig()

	log.Info().Str("version", buildinfo.Version).Str("engine", string(cfg.Config.Engine)).Msg("Starting libretorrent")

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return errors.Wrap(err, "failed to initialize database")
	}
	defer db.Close()

	tagStore := models.NewTagStore(db)
	preferenceStore := models.NewPreferenceStore(db)

	svc := engine.NewService(newBackend(cfg, db), engine.WithPollInterval(cfg.Config.EnginePollInterval))

	torrentProvider := provider.New(svc, tagStore)
	list := torrentlist.New(torrentProvider,
		torrentlist.WithSettings(models.NewDrawerSettingsStore(preferenceStore)),
		torrentlist.WithEngine(svc),
		torrentlist.WithDebounce(cfg.Config.ListDebounce),
		torrentlist.WithEvaluator(filter.NewEvaluator(filter.WithWeekStart(cfg.WeekStart()))),
	)

	var metricsManager *metrics.Manager
	if cfg.Config.MetricsEnabled {
		metricsManager = metrics.NewManager(torrentProvider)
		unregister := svc.Register(metricsManager)
		defer unregister()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	torrentProvider.Start(ctx)
	defer torrentProvider.Stop()
	list.Start(ctx)
	defer list.Stop()

	if err := svc.Start(ctx); err != nil {
		// The API can start the engine later; keep serving.
		log.Error().Err(err).Msg("Failed to start torrent engine")
	}

	reannounceService := reannounce.NewService(reannounce.DefaultConfig(), torrentProvider, svc)
	reannounceService.Start(ctx)

	httpServer := api.NewServer(&api.Dependencies{
		Config:          cfg,
		Version:         buildinfo.Version,
		Engine:          svc,
		Provider:        torrentProvider,
		List:            list,
		TagStore:        tagStore,
		PreferenceStore: preferenceStore,
		Reannounce:      reannounceService,
		Metrics:         metricsManager,
	})
	httpServer.FollowUpdates(ctx)

	var metricsServer *metrics.Server
	if metricsManager != nil {
		metricsServer = metrics.NewServer(
			metricsManager,
			cfg.Config.MetricsHost,
			cfg.Config.MetricsPort,
			config.ParseBasicAuthUsers(cfg.Config.MetricsBasicAuthUsers),
		)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			return errors.Wrap(metricsServer.Start(), "metrics server")
		})
	}

	if cfg.Config.PprofEnabled {
		go func() {
			log.Info().Msg("Starting pprof server on :6060")
			if err := http.ListenAndServe(":6060", nil); err != nil {
				log.Error().Err(err).Msg("Profiling server failed")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down server", sig.String())
	case <-gctx.Done():
		log.Error().Err(context.Cause(gctx)).Msg("got unexpected error from server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			log.Error().Err(err).Msg("got error stopping metrics server")
		}
	}

	cancel()
	if err := svc.Stop(); err != nil && !errors.Is(err, engine.ErrNotRunning) {
		log.Error().Err(err).Msg("got error stopping torrent engine")
	}

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().Msg("Server stopped")
	return nil
}
