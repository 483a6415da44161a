// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/proninyaroslav/libretorrent/internal/domain"
)

var envPrefix = "LIBRETORRENT__"

const (
	appDirName     = "libretorrent"
	databaseName   = "libretorrent.db"
	downloadsDir   = "downloads"
	defaultPort    = 7480
	defaultMetrics = 9480

	defaultListenPort = 42069
)

type AppConfig struct {
	Config  *domain.Config
	viper   *viper.Viper
	dataDir string
	version string

	listenersMu sync.RWMutex
	listeners   []func(*domain.Config)
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	c.loadFromEnv()

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.Config.Version = c.version
	c.normalize()

	c.resolveDataDir()

	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	host := "localhost"
	if detectContainer() {
		host = "0.0.0.0"
	}

	c.viper.SetDefault("host", host)
	c.viper.SetDefault("port", defaultPort)
	c.viper.SetDefault("baseUrl", "/")
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("dataDir", "") // empty means next to config file
	c.viper.SetDefault("pprofEnabled", false)

	c.viper.SetDefault("engine", string(domain.EngineAnacrolix))
	c.viper.SetDefault("engineDownloadDir", "")
	c.viper.SetDefault("enginePollInterval", "1s")
	c.viper.SetDefault("engineListenPort", defaultListenPort)
	c.viper.SetDefault("engineIpFilterPath", "")

	c.viper.SetDefault("qbittorrentHost", "http://localhost:8080")
	c.viper.SetDefault("qbittorrentUsername", "")
	c.viper.SetDefault("qbittorrentPassword", "")
	c.viper.SetDefault("qbittorrentTimeout", "30s")

	c.viper.SetDefault("listDebounce", "500ms")
	c.viper.SetDefault("firstDayOfWeek", "monday")

	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("metricsHost", "127.0.0.1")
	c.viper.SetDefault("metricsPort", defaultMetrics)
	c.viper.SetDefault("metricsBasicAuthUsers", "")
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		configPath := c.resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		if err := c.viper.ReadInConfig(); err != nil {
			// SetConfigFile reports a missing file as a plain fs error, not ConfigFileNotFoundError
			if isConfigNotFound(err) {
				if err := c.writeDefaultConfig(configPath); err != nil {
					return err
				}
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
		return nil
	}

	c.viper.SetConfigName("config")
	c.viper.AddConfigPath(".")
	c.viper.AddConfigPath(GetDefaultConfigDir())

	if err := c.viper.ReadInConfig(); err != nil {
		if !isConfigNotFound(err) {
			return fmt.Errorf("failed to read config: %w", err)
		}

		defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
		if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
			return err
		}
		c.viper.SetConfigFile(defaultConfigPath)
		if err := c.viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read newly created config: %w", err)
		}
		c.dataDir = filepath.Dir(defaultConfigPath)
	}

	return nil
}

func isConfigNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return os.IsNotExist(err)
}

func (c *AppConfig) loadFromEnv() {
	// Explicit binds only. AutomaticEnv picks up unrelated container variables.
	c.viper.BindEnv("host", envPrefix+"HOST")
	c.viper.BindEnv("port", envPrefix+"PORT")
	c.viper.BindEnv("baseUrl", envPrefix+"BASE_URL")
	c.viper.BindEnv("logLevel", envPrefix+"LOG_LEVEL")
	c.viper.BindEnv("logPath", envPrefix+"LOG_PATH")
	c.viper.BindEnv("logMaxSize", envPrefix+"LOG_MAX_SIZE")
	c.viper.BindEnv("logMaxBackups", envPrefix+"LOG_MAX_BACKUPS")
	c.viper.BindEnv("dataDir", envPrefix+"DATA_DIR")
	c.viper.BindEnv("pprofEnabled", envPrefix+"PPROF_ENABLED")

	c.viper.BindEnv("engine", envPrefix+"ENGINE")
	c.viper.BindEnv("engineDownloadDir", envPrefix+"ENGINE_DOWNLOAD_DIR")
	c.viper.BindEnv("enginePollInterval", envPrefix+"ENGINE_POLL_INTERVAL")
	c.viper.BindEnv("engineListenPort", envPrefix+"ENGINE_LISTEN_PORT")
	c.viper.BindEnv("engineIpFilterPath", envPrefix+"ENGINE_IP_FILTER_PATH")

	c.viper.BindEnv("qbittorrentHost", envPrefix+"QBITTORRENT_HOST")
	c.viper.BindEnv("qbittorrentUsername", envPrefix+"QBITTORRENT_USERNAME")
	c.bindOrReadFromFile("qbittorrentPassword", envPrefix+"QBITTORRENT_PASSWORD")
	c.viper.BindEnv("qbittorrentTimeout", envPrefix+"QBITTORRENT_TIMEOUT")

	c.viper.BindEnv("listDebounce", envPrefix+"LIST_DEBOUNCE")
	c.viper.BindEnv("firstDayOfWeek", envPrefix+"FIRST_DAY_OF_WEEK")

	c.viper.BindEnv("metricsEnabled", envPrefix+"METRICS_ENABLED")
	c.viper.BindEnv("metricsHost", envPrefix+"METRICS_HOST")
	c.viper.BindEnv("metricsPort", envPrefix+"METRICS_PORT")
	c.viper.BindEnv("metricsBasicAuthUsers", envPrefix+"METRICS_BASIC_AUTH_USERS")
}

// bindOrReadFromFile reads the value from the file named by <envVar>_FILE when set,
// otherwise binds envVar directly.
func (c *AppConfig) bindOrReadFromFile(viperVar string, envVar string) {
	envVarFile := envVar + "_FILE"
	if filePath := os.Getenv(envVarFile); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", filePath).Msg("Could not read " + envVarFile)
		}
		c.viper.Set(viperVar, strings.TrimSpace(string(content)))
		return
	}
	c.viper.BindEnv(viperVar, envVar)
}

func (c *AppConfig) normalize() {
	switch domain.EngineKind(strings.ToLower(strings.TrimSpace(string(c.Config.Engine)))) {
	case domain.EngineQBittorrent:
		c.Config.Engine = domain.EngineQBittorrent
	case domain.EngineAnacrolix:
		c.Config.Engine = domain.EngineAnacrolix
	default:
		log.Warn().Str("engine", string(c.Config.Engine)).Msg("Unknown engine, falling back to anacrolix")
		c.Config.Engine = domain.EngineAnacrolix
	}

	if c.Config.EnginePollInterval <= 0 {
		c.Config.EnginePollInterval = time.Second
	}
	if c.Config.EngineListenPort < 0 || c.Config.EngineListenPort > 65535 {
		log.Warn().Int("port", c.Config.EngineListenPort).Msg("Invalid engine listen port, using default")
		c.Config.EngineListenPort = defaultListenPort
	}
	if c.Config.ListDebounce <= 0 {
		c.Config.ListDebounce = 500 * time.Millisecond
	}
	if c.Config.QBittorrentTimeout <= 0 {
		c.Config.QBittorrentTimeout = 30 * time.Second
	}
}

func (c *AppConfig) watchConfig() {
	c.viper.WatchConfig()
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)

		if err := c.viper.Unmarshal(c.Config); err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}

		c.applyDynamicChanges()
	})
}

func (c *AppConfig) applyDynamicChanges() {
	c.Config.Version = c.version
	c.normalize()
	c.ApplyLogConfig()

	c.notifyListeners()
}

// RegisterReloadListener registers a callback that's invoked when the configuration file is reloaded.
func (c *AppConfig) RegisterReloadListener(fn func(*domain.Config)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *AppConfig) notifyListeners() {
	c.listenersMu.RLock()
	listeners := append([]func(*domain.Config){}, c.listeners...)
	c.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	copied := *c.Config
	for _, listener := range listeners {
		listener(&copied)
	}
}

const configTemplate = `# config.toml - Auto-generated on first run

# Hostname / IP
# Default: "localhost" (or "0.0.0.0" in containers)
host = "{{ .host }}"

# Port
# Default: {{ .port }}
port = {{ .port }}

# Base URL
# Set custom baseUrl eg /libretorrent/ to serve in subdirectory.
#baseUrl = "/libretorrent/"

# Log file path
# If not defined, logs to stdout
#logPath = "log/libretorrent.log"

# Maximum log file size in megabytes before rotation
#logMaxSize = {{ .logMaxSize }}

# Number of rotated log files to retain (0 keeps all)
#logMaxBackups = {{ .logMaxBackups }}

# Log level
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Data directory (default: next to config file)
# Database file (libretorrent.db) will be created inside this directory
#dataDir = "/var/db/libretorrent"

# Torrent engine backend
# Options: "anacrolix" (embedded), "qbittorrent" (remote WebUI)
engine = "{{ .engine }}"

# Download directory for the embedded engine (default: <dataDir>/downloads)
#engineDownloadDir = "/srv/downloads"

# How often engine state is polled
#enginePollInterval = "{{ .enginePollInterval }}"

# Peer listen port for the embedded engine (0 picks a random port)
#engineListenPort = {{ .engineListenPort }}

# P2P-format IP blocklist loaded by the embedded engine
#engineIpFilterPath = "/srv/blocklist.p2p"

# qBittorrent WebUI connection (engine = "qbittorrent")
#qbittorrentHost = "{{ .qbittorrentHost }}"
#qbittorrentUsername = ""
#qbittorrentPassword = ""
#qbittorrentTimeout = "30s"

# Delay used to coalesce bursts of filter/sort changes
#listDebounce = "{{ .listDebounce }}"

# First day of the week for the "this week" date filter
#firstDayOfWeek = "{{ .firstDayOfWeek }}"

# Prometheus Metrics
#metricsEnabled = false
#metricsHost = "127.0.0.1"
#metricsPort = {{ .metricsPort }}

# Basic authentication for metrics endpoint
# Format: "username:password" or "user1:pass1,user2:pass2"
#metricsBasicAuthUsers = ""
`

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	log.Debug().Msgf("Created config directory: %s", dir)

	data := map[string]any{
		"host":               c.viper.GetString("host"),
		"port":               c.viper.GetInt("port"),
		"logLevel":           c.viper.GetString("logLevel"),
		"logMaxSize":         c.viper.GetInt("logMaxSize"),
		"logMaxBackups":      c.viper.GetInt("logMaxBackups"),
		"engine":             c.viper.GetString("engine"),
		"enginePollInterval": c.viper.GetString("enginePollInterval"),
		"engineListenPort":   c.viper.GetInt("engineListenPort"),
		"qbittorrentHost":    c.viper.GetString("qbittorrentHost"),
		"listDebounce":       c.viper.GetString("listDebounce"),
		"firstDayOfWeek":     c.viper.GetString("firstDayOfWeek"),
		"metricsPort":        c.viper.GetInt("metricsPort"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, appDirName)
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appDirName)
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", appDirName)
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", appDirName)
	}
}

func detectContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if _, err := os.Stat("/dev/.lxc-boot-id"); err == nil {
		return true
	}
	return os.Getpid() == 1
}

func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	setLogLevel(c.Config.LogLevel)

	writer := c.baseLogWriter()

	if c.Config.LogPath != "" {
		multiWriter, err := setupLogFile(c.Config.LogPath, writer, c.Config.LogMaxSize, c.Config.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}
	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if !isDevBuild(version) {
		return os.Stderr
	}

	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
	writer.FormatMessage = func(i any) string {
		if i == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(i))
	}
	return writer
}

func (c *AppConfig) baseLogWriter() io.Writer {
	return baseLogWriter(c.version)
}

// InitDefaultLogger configures zerolog before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(baseLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

// resolveConfigPath accepts either a .toml file path or a directory.
func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	return filepath.Join(configDirOrPath, "config.toml")
}

func (c *AppConfig) resolveDataDir() {
	switch {
	case c.Config.DataDir != "":
		c.dataDir = c.Config.DataDir
	case c.viper.ConfigFileUsed() != "":
		c.dataDir = filepath.Dir(c.viper.ConfigFileUsed())
	case c.dataDir != "":
	default:
		c.dataDir = "."
	}
}

func (c *AppConfig) GetDatabasePath() string {
	return filepath.Join(c.dataDir, databaseName)
}

func (c *AppConfig) GetDataDir() string {
	return c.dataDir
}

// SetDataDir sets the data directory (used by CLI flags)
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

// GetDownloadDir returns where the embedded engine stores payload data.
func (c *AppConfig) GetDownloadDir() string {
	if c.Config.EngineDownloadDir != "" {
		return c.Config.EngineDownloadDir
	}
	return filepath.Join(c.dataDir, downloadsDir)
}

// WeekStart parses firstDayOfWeek. Unknown names fall back to Monday.
func (c *AppConfig) WeekStart() time.Weekday {
	name := strings.ToLower(strings.TrimSpace(c.Config.FirstDayOfWeek))
	for day := time.Sunday; day <= time.Saturday; day++ {
		if strings.ToLower(day.String()) == name {
			return day
		}
	}
	return time.Monday
}

func (c *AppConfig) GetConfigDir() string {
	if c.viper.ConfigFileUsed() != "" {
		return filepath.Dir(c.viper.ConfigFileUsed())
	}
	return GetDefaultConfigDir()
}

// ParseBasicAuthUsers splits "user:pass,user2:pass2" into a map. Malformed pairs are skipped.
func ParseBasicAuthUsers(raw string) map[string]string {
	users := make(map[string]string)
	for pair := range strings.SplitSeq(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		user, pass, ok := strings.Cut(pair, ":")
		if !ok || user == "" || pass == "" {
			log.Warn().Str("entry", pair).Msg("Ignoring malformed metrics basic auth entry")
			continue
		}
		users[user] = pass
	}
	return users
}

func WriteDefaultConfig(path string) error {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults()

	return c.writeDefaultConfig(path)
}
