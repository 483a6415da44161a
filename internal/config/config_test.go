// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proninyaroslav/libretorrent/internal/domain"
)

func TestDatabasePathResolution(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, tmpDir string) (configPath string, envDataDir string, expectedDBPath string)
	}{
		{
			name: "default_next_to_config",
			prepare: func(t *testing.T, tmpDir string) (string, string, string) {
				configPath := filepath.Join(tmpDir, "config.toml")
				content := "host = \"localhost\"\nport = 8080\n"
				require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
				return configPath, "", filepath.Join(tmpDir, databaseName)
			},
		},
		{
			name: "explicit_data_dir_in_config",
			prepare: func(t *testing.T, tmpDir string) (string, string, string) {
				configPath := filepath.Join(tmpDir, "config.toml")
				dataDir := filepath.Join(tmpDir, "data")
				require.NoError(t, os.MkdirAll(dataDir, 0o755))
				content := fmt.Sprintf("host = \"localhost\"\nport = 8080\ndataDir = %q\n", dataDir)
				require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
				return configPath, "", filepath.Join(dataDir, databaseName)
			},
		},
		{
			name: "env_var_override",
			prepare: func(t *testing.T, tmpDir string) (string, string, string) {
				configPath := filepath.Join(tmpDir, "config.toml")
				configDataDir := filepath.Join(tmpDir, "config-data")
				envDataDir := filepath.Join(tmpDir, "env-data")
				require.NoError(t, os.MkdirAll(configDataDir, 0o755))
				require.NoError(t, os.MkdirAll(envDataDir, 0o755))
				content := fmt.Sprintf("host = \"localhost\"\nport = 8080\ndataDir = %q\n", configDataDir)
				require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
				return configPath, envDataDir, filepath.Join(envDataDir, databaseName)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath, envValue, expectedDBPath := tt.prepare(t, tmpDir)
			if envValue != "" {
				t.Setenv(envPrefix+"DATA_DIR", envValue)
			}

			cfg, err := New(configPath)
			require.NoError(t, err)

			assert.Equal(t, filepath.Clean(expectedDBPath), filepath.Clean(cfg.GetDatabasePath()))
		})
	}
}

func TestConfigDirResolution(t *testing.T) {
	tests := []struct {
		name           string
		input          string
		setupFile      bool
		fileIsDir      bool
		expectedSuffix string
	}{
		{
			name:           "toml_file_extension",
			input:          "/path/to/custom.toml",
			expectedSuffix: "custom.toml",
		},
		{
			name:           "TOML_file_extension_uppercase",
			input:          "/path/to/CONFIG.TOML",
			expectedSuffix: "CONFIG.TOML",
		},
		{
			name:           "directory_path",
			input:          "/path/to/config",
			expectedSuffix: "config.toml",
		},
		{
			name:           "existing_file_without_toml",
			input:          "/path/to/configfile",
			setupFile:      true,
			expectedSuffix: "configfile",
		},
		{
			name:           "existing_directory",
			input:          "/path/to/configdir",
			setupFile:      true,
			fileIsDir:      true,
			expectedSuffix: "config.toml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			inputPath := filepath.Join(tmpDir, filepath.Base(tt.input))

			if tt.setupFile {
				if tt.fileIsDir {
					require.NoError(t, os.MkdirAll(inputPath, 0o755))
				} else {
					require.NoError(t, os.WriteFile(inputPath, []byte("test"), 0o644))
				}
			}

			c := &AppConfig{}
			result := c.resolveConfigPath(inputPath)
			assert.True(t, strings.HasSuffix(result, tt.expectedSuffix),
				"Expected result %s to end with %s", result, tt.expectedSuffix)
		})
	}
}

func TestNewWritesDefaultConfigWhenMissing(t *testing.T) {
	configDir := filepath.Join(t.TempDir(), "fresh")

	cfg, err := New(configDir)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(configDir, "config.toml"))
	require.NoError(t, err)

	assert.Equal(t, defaultPort, cfg.Config.Port)
	assert.Equal(t, domain.EngineAnacrolix, cfg.Config.Engine)
	assert.Equal(t, 500*time.Millisecond, cfg.Config.ListDebounce)
	assert.Equal(t, time.Second, cfg.Config.EnginePollInterval)
	assert.Equal(t, defaultListenPort, cfg.Config.EngineListenPort)
	assert.Empty(t, cfg.Config.EngineIPFilterPath)
	assert.Equal(t, filepath.Join(configDir, downloadsDir), cfg.GetDownloadDir())
}

func TestNewParsesEngineSettings(t *testing.T) {
	tests := []struct {
		name           string
		content        string
		expectedEngine domain.EngineKind
		expectedPoll   time.Duration
		expectedDelay  time.Duration
	}{
		{
			name:           "qbittorrent_backend",
			content:        "engine = \"qBittorrent\"\nenginePollInterval = \"3s\"\nlistDebounce = \"250ms\"\n",
			expectedEngine: domain.EngineQBittorrent,
			expectedPoll:   3 * time.Second,
			expectedDelay:  250 * time.Millisecond,
		},
		{
			name:           "unknown_backend_falls_back",
			content:        "engine = \"transmission\"\nengineListenPort = 70000\n",
			expectedEngine: domain.EngineAnacrolix,
			expectedPoll:   time.Second,
			expectedDelay:  500 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(configPath, []byte(tt.content), 0o644))

			cfg, err := New(configPath)
			require.NoError(t, err)

			assert.Equal(t, tt.expectedEngine, cfg.Config.Engine)
			assert.Equal(t, tt.expectedPoll, cfg.Config.EnginePollInterval)
			assert.Equal(t, tt.expectedDelay, cfg.Config.ListDebounce)
			assert.Equal(t, defaultListenPort, cfg.Config.EngineListenPort)
		})
	}
}

func TestBindOrReadFromFile(t *testing.T) {
	tmpKeyFile := func(t *testing.T, tmpDir string) string {
		path := filepath.Join(tmpDir, "password.txt")
		require.NoError(t, os.WriteFile(path, []byte("secret-from-file\n"), 0o644))
		return path
	}

	noKeyFile := func(t *testing.T, tmpDir string) string {
		return ""
	}

	tests := []struct {
		name            string
		envVarValue     string
		envVarFileValue func(t *testing.T, tmpDir string) string
		expectedValue   string
	}{
		{
			name:            "only_file_env_var",
			envVarFileValue: tmpKeyFile,
			expectedValue:   "secret-from-file",
		},
		{
			name:            "only_plain_env_var",
			envVarValue:     "secret-from-env",
			envVarFileValue: noKeyFile,
			expectedValue:   "secret-from-env",
		},
		{
			name:            "file_wins_over_plain",
			envVarValue:     "secret-from-env",
			envVarFileValue: tmpKeyFile,
			expectedValue:   "secret-from-file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envVar := envPrefix + "QBITTORRENT_PASSWORD"

			if tt.envVarValue != "" {
				t.Setenv(envVar, tt.envVarValue)
			}

			if path := tt.envVarFileValue(t, t.TempDir()); path != "" {
				t.Setenv(envVar+"_FILE", path)
			}

			configPath := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(configPath, []byte("host = \"localhost\"\n"), 0o644))

			cfg, err := New(configPath)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedValue, cfg.Config.QBittorrentPassword)
		})
	}
}

func TestParseBasicAuthUsers(t *testing.T) {
	users := ParseBasicAuthUsers("prom:pass1, bad ,:nouser,ops:pass2,")
	assert.Equal(t, map[string]string{"prom": "pass1", "ops": "pass2"}, users)
	assert.Empty(t, ParseBasicAuthUsers(""))
}

func TestWeekStart(t *testing.T) {
	tests := []struct {
		value    string
		expected time.Weekday
	}{
		{value: "monday", expected: time.Monday},
		{value: " Sunday ", expected: time.Sunday},
		{value: "SATURDAY", expected: time.Saturday},
		{value: "someday", expected: time.Monday},
		{value: "", expected: time.Monday},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			c := &AppConfig{Config: &domain.Config{FirstDayOfWeek: tt.value}}
			assert.Equal(t, tt.expected, c.WeekStart())
		})
	}
}

func TestSetLogLevelFallsBackToInfo(t *testing.T) {
	tests := []struct {
		name  string
		level string
	}{
		{name: "garbage", level: "loud"},
		{name: "empty", level: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setLogLevel(tt.level)
			assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
		})
	}
}
