// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrUnsupportedWebAPI = errors.New("unsupported qBittorrent WebAPI version")

var (
	minWebAPIVersion     = semver.MustParse("2.2.0")
	reannounceMinVersion = semver.MustParse("2.0.2")
)

const (
	defaultLoginAttempts   = 3
	defaultLoginRetryDelay = 500 * time.Millisecond
	minHealthCheckInterval = 20 * time.Second
)

type Config struct {
	Host          string
	Username      string
	Password      string
	BasicUser     string
	BasicPass     string
	TLSSkipVerify bool
	Timeout       time.Duration
}

// Client wraps a WebAPI connection with capability flags derived from the
// server's WebAPI version.
type Client struct {
	*qbt.Client

	logger zerolog.Logger

	loginAttempts   uint
	loginRetryDelay time.Duration

	mu                 sync.RWMutex
	webAPIVersion      string
	supportsReannounce bool

	healthMu        sync.RWMutex
	isHealthy       bool
	lastHealthCheck time.Time
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	qbtClient := qbt.NewClient(qbt.Config{
		Host:          cfg.Host,
		Username:      cfg.Username,
		Password:      cfg.Password,
		BasicUser:     cfg.BasicUser,
		BasicPass:     cfg.BasicPass,
		TLSSkipVerify: cfg.TLSSkipVerify,
		Timeout:       int(timeout.Seconds()),
	})

	return &Client{
		Client:          qbtClient,
		logger:          log.With().Str("module", "qbittorrent").Str("host", cfg.Host).Logger(),
		loginAttempts:   defaultLoginAttempts,
		loginRetryDelay: defaultLoginRetryDelay,
	}
}

// Connect logs in and loads the server capabilities.
func (c *Client) Connect(ctx context.Context) error {
	err := retry.Do(
		func() error { return c.LoginCtx(ctx) },
		retry.Context(ctx),
		retry.Attempts(c.loginAttempts),
		retry.Delay(c.loginRetryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug().Err(err).Uint("attempt", n+1).Msg("qBittorrent login failed, retrying")
		}),
	)
	if err != nil {
		c.updateHealthStatus(false)
		return fmt.Errorf("failed to connect to qBittorrent instance: %w", err)
	}

	if err := c.RefreshCapabilities(ctx); err != nil {
		c.updateHealthStatus(false)
		return err
	}

	c.updateHealthStatus(true)
	c.logger.Debug().
		Str("webAPIVersion", c.WebAPIVersion()).
		Bool("supportsReannounce", c.SupportsReannounce()).
		Msg("qBittorrent client connected")
	return nil
}

// RefreshCapabilities fetches the WebAPI version and recalculates feature flags.
func (c *Client) RefreshCapabilities(ctx context.Context) error {
	version, err := c.GetWebAPIVersionCtx(ctx)
	if err != nil {
		return errors.Wrap(err, "get WebAPI version")
	}

	version = strings.TrimSpace(version)
	if version == "" {
		return fmt.Errorf("web API version is empty")
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return errors.Wrapf(err, "parse WebAPI version %q", version)
	}
	if v.LessThan(minWebAPIVersion) {
		return fmt.Errorf("%w: %s (need %s or newer)", ErrUnsupportedWebAPI, version, minWebAPIVersion)
	}

	c.mu.Lock()
	c.webAPIVersion = version
	c.supportsReannounce = !v.LessThan(reannounceMinVersion)
	c.mu.Unlock()

	return nil
}

// HealthCheck re-validates the connection unless it was confirmed recently.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.IsHealthy() && time.Since(c.LastHealthCheck()) < minHealthCheckInterval {
		return nil
	}

	if err := c.RefreshCapabilities(ctx); err != nil {
		c.updateHealthStatus(false)
		return errors.Wrap(err, "health check failed")
	}

	c.updateHealthStatus(true)
	return nil
}

func (c *Client) WebAPIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.webAPIVersion
}

func (c *Client) SupportsReannounce() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsReannounce
}

func (c *Client) updateHealthStatus(healthy bool) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	if c.isHealthy != healthy && !c.lastHealthCheck.IsZero() {
		if healthy {
			c.logger.Info().Msg("qBittorrent connection restored")
		} else {
			c.logger.Warn().Msg("qBittorrent connection lost")
		}
	}
	c.isHealthy = healthy
	c.lastHealthCheck = time.Now()
}

func (c *Client) IsHealthy() bool {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	return c.isHealthy
}

func (c *Client) LastHealthCheck() time.Time {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	return c.lastHealthCheck
}
