// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/proninyaroslav/libretorrent/internal/api/handlers"
	"github.com/proninyaroslav/libretorrent/internal/models"
	"github.com/proninyaroslav/libretorrent/internal/torrentlist"
)

const (
	defaultServerURL = "http://localhost:7480"
	minNameWidth     = 16
)

func newAPIClient(server string) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimSuffix(server, "/")).
		SetTimeout(15*time.Second).
		SetHeader("Accept", "application/json")
}

func apiError(resp *resty.Response) error {
	var body handlers.ErrorResponse
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status(), body.Error)
	}
	return errors.New(resp.Status())
}

func RunListCommand() *cobra.Command {
	var (
		server string
		output string
		query  map[string]string
	)

	command := &cobra.Command{
		Use:   "list",
		Short: "Print the torrent list of a running server",
		Long: `Print the torrent list of a running server.

Filters are evaluated by the server without changing the stored list criteria:
  libretorrent list --filter status=downloading,paused --filter sort=name`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var view torrentlist.View
			resp, err := newAPIClient(server).R().
				SetContext(cmd.Context()).
				SetQueryParams(query).
				SetResult(&view).
				Get("/api/torrents")
			if err != nil {
				return errors.Wrap(err, "request torrent list")
			}
			if resp.IsError() {
				return apiError(resp)
			}

			return printView(cmd.OutOrStdout(), view, output)
		},
	}

	command.Flags().StringVar(&server, "server", defaultServerURL, "libretorrent server URL")
	command.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
	command.Flags().StringToStringVar(&query, "filter", nil, "list query parameters (status, date, tag, q, expr, sort, dir)")

	return command
}

func RunAddCommand() *cobra.Command {
	var (
		server     string
		paused     bool
		sequential bool
		savePath   string
	)

	command := &cobra.Command{
		Use:   "add <magnet|url|file.torrent>...",
		Short: "Add torrents to a running server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(server)

			var result handlers.AddTorrentResponse
			req := client.R().SetContext(cmd.Context()).SetResult(&result)

			var remote []string
			files := 0
			for _, arg := range args {
				if strings.HasSuffix(strings.ToLower(arg), ".torrent") && !strings.Contains(arg, "://") {
					req.SetFile("torrent", arg)
					files++
					continue
				}
				remote = append(remote, arg)
			}

			var (
				resp *resty.Response
				err  error
			)
			if files > 0 {
				resp, err = req.SetFormData(map[string]string{
					"urls":       strings.Join(remote, "\n"),
					"paused":     fmt.Sprint(paused),
					"sequential": fmt.Sprint(sequential),
					"savePath":   savePath,
				}).Post("/api/torrents")
			} else {
				resp, err = req.SetBody(handlers.AddTorrentRequest{
					Sources:    remote,
					Paused:     paused,
					Sequential: sequential,
					SavePath:   savePath,
				}).Post("/api/torrents")
			}
			if err != nil {
				return errors.Wrap(err, "add torrents")
			}
			if resp.IsError() {
				return apiError(resp)
			}

			for _, id := range result.IDs {
				cmd.Println(id)
			}
			for _, failed := range result.Failed {
				cmd.PrintErrf("failed: %s\n", failed)
			}
			return nil
		},
	}

	command.Flags().StringVar(&server, "server", defaultServerURL, "libretorrent server URL")
	command.Flags().BoolVar(&paused, "paused", false, "add torrents paused")
	command.Flags().BoolVar(&sequential, "sequential", false, "download pieces in order")
	command.Flags().StringVar(&savePath, "save-path", "", "download directory, if the engine supports it")

	return command
}

func printView(w io.Writer, view torrentlist.View, output string) error {
	switch strings.ToLower(output) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(view)
	case "table", "":
		printTable(w, view, nameWidth())
		return nil
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

// nameWidth leaves room for the fixed columns when stdout is a terminal.
func nameWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	width, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return max(width-90, minNameWidth)
}

func printTable(w io.Writer, view torrentlist.View, maxName int) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATE\tPROGRESS\tSIZE\tDOWN\tUP\tPEERS\tADDED")

	for _, info := range view.Torrents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%s\t%s\t%s\t%d\t%s\n",
			shortID(info.ID),
			truncate(info.Name, maxName),
			stateLabel(info),
			info.Progress,
			humanize.IBytes(uint64(max(info.TotalBytes, 0))),
			speed(info.DownloadSpeed),
			speed(info.UploadSpeed),
			info.Peers,
			humanize.Time(info.DateAdded),
		)
	}
	tw.Flush()

	fmt.Fprintf(w, "\n%s of %s torrents shown\n", humanize.Comma(int64(len(view.Torrents))), humanize.Comma(int64(view.Total)))
}

func stateLabel(info models.TorrentInfo) string {
	if info.Error != "" {
		return "error"
	}
	return info.State.String()
}

func speed(bytesPerSecond int64) string {
	if bytesPerSecond <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(bytesPerSecond)) + "/s"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if n <= 0 || len([]rune(s)) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
