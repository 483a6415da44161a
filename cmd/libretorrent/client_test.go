// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proninyaroslav/libretorrent/internal/api/handlers"
	"github.com/proninyaroslav/libretorrent/internal/models"
	"github.com/proninyaroslav/libretorrent/internal/torrentlist"
)

func sampleView() torrentlist.View {
	return torrentlist.View{
		Torrents: []models.TorrentInfo{
			{
				ID:            "0123456789abcdef",
				Name:          "Debian netinst",
				State:         models.StateDownloading,
				Progress:      42,
				TotalBytes:    1 << 30,
				DownloadSpeed: 2 << 20,
				Peers:         7,
				DateAdded:     time.Now().Add(-time.Hour),
			},
			{ID: "b", Name: "Broken", State: models.StatePaused, Error: "files are missing"},
		},
		Total: 5,
	}
}

func TestPrintView(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		contains []string
		wantErr  bool
	}{
		{name: "table", output: "table", contains: []string{"01234567", "Debian netinst", "downloading", "42%", "1.0 GiB", "2.0 MiB/s", "error", "2 of 5 torrents shown"}},
		{name: "json", output: "json", contains: []string{`"name": "Debian netinst"`, `"state": "downloading"`}},
		{name: "yaml", output: "YAML", contains: []string{"name: Debian netinst", "total: 5"}},
		{name: "unknown", output: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := printView(&buf, sampleView(), tt.output)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, buf.String(), s)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "Debian", truncate("Debian", 0))
	assert.Equal(t, "Debian", truncate("Debian", 6))
	assert.Equal(t, "Deb…", truncate("Debian", 4))
	assert.Equal(t, "Пр…", truncate("Привет", 3))
}

func TestListCommand(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/torrents", r.URL.Path)
		gotQuery = r.URL.RawQuery
		handlers.RespondJSON(w, http.StatusOK, sampleView())
	}))
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	cmd := RunListCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--server", srv.URL, "--filter", "status=paused", "-o", "json"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "status=paused", gotQuery)

	var view torrentlist.View
	require.NoError(t, json.Unmarshal(out.Bytes(), &view))
	assert.Len(t, view.Torrents, 2)
}

func TestListCommandReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlers.RespondError(w, http.StatusBadRequest, "Invalid filter expression")
	}))
	t.Cleanup(srv.Close)

	cmd := RunListCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--server", srv.URL, "--filter", "expr=Progress >"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid filter expression")
}

func TestAddCommand(t *testing.T) {
	tests := []struct {
		name      string
		files     bool
		multipart bool
	}{
		{name: "magnet_as_json"},
		{name: "file_as_multipart", files: true, multipart: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sources []string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.multipart {
					assert.NoError(t, r.ParseMultipartForm(1<<20))
					assert.Len(t, r.MultipartForm.File["torrent"], 1)
					assert.Equal(t, "true", r.FormValue("paused"))
					sources = strings.Split(r.FormValue("urls"), "\n")
				} else {
					var req handlers.AddTorrentRequest
					assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
					assert.True(t, req.Paused)
					sources = req.Sources
				}
				handlers.RespondJSON(w, http.StatusCreated, handlers.AddTorrentResponse{IDs: []string{"abc"}})
			}))
			t.Cleanup(srv.Close)

			args := []string{"--server", srv.URL, "--paused", "magnet:?xt=urn:btih:abc"}
			if tt.files {
				path := filepath.Join(t.TempDir(), "debian.torrent")
				require.NoError(t, os.WriteFile(path, []byte("d4:infod4:name6:debianee"), 0o644))
				args = append(args, path)
			}

			var out bytes.Buffer
			cmd := RunAddCommand()
			cmd.SetOut(&out)
			cmd.SetArgs(args)
			require.NoError(t, cmd.Execute())

			assert.Equal(t, []string{"magnet:?xt=urn:btih:abc"}, sources)
			assert.Equal(t, "abc\n", out.String())
		})
	}
}
