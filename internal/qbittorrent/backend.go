// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/proninyaroslav/libretorrent/internal/engine"
	"github.com/proninyaroslav/libretorrent/internal/models"
)

// qBittorrent reports this ETA for torrents that will never finish.
const infinityETA int64 = 8640000

const (
	errMissingFiles = "files are missing"
	errTorrent      = "torrent reported an error"

	connectionFirewalled   = "firewalled"
	connectionDisconnected = "disconnected"
)

var (
	_ engine.Backend            = (*Backend)(nil)
	_ engine.EventSource        = (*Backend)(nil)
	_ engine.StatsReporter      = (*Backend)(nil)
	_ engine.CapabilityReporter = (*Backend)(nil)
)

// Backend drives a remote qBittorrent instance through its WebAPI.
type Backend struct {
	cfg    Config
	http   *resty.Client
	logger zerolog.Logger

	mu     sync.RWMutex
	client *Client

	handlerMu sync.RWMutex
	handler   func(engine.Event)

	trackMu    sync.Mutex
	moving     map[string]bool
	connection string

	// overridable in tests
	newClient func(Config) *Client
}

func NewBackend(cfg Config) *Backend {
	return &Backend{
		cfg:       cfg,
		http:      resty.New().SetTimeout(30 * time.Second).SetRetryCount(2),
		logger:    log.With().Str("module", "engine").Str("backend", "qbittorrent").Logger(),
		moving:    make(map[string]bool),
		newClient: NewClient,
	}
}

func (b *Backend) Name() string { return "qbittorrent" }

// Capabilities reflects the WebAPI version of the connected instance.
func (b *Backend) Capabilities() engine.Capabilities {
	caps := engine.Capabilities{CustomSavePath: true}

	b.mu.RLock()
	client := b.client
	b.mu.RUnlock()

	if client != nil {
		caps.Reannounce = client.SupportsReannounce()
		caps.Version = client.WebAPIVersion()
	}
	return caps
}

func (b *Backend) SetEventHandler(fn func(engine.Event)) {
	b.handlerMu.Lock()
	defer b.handlerMu.Unlock()
	b.handler = fn
}

func (b *Backend) emit(e engine.Event) {
	b.handlerMu.RLock()
	handler := b.handler
	b.handlerMu.RUnlock()
	if handler != nil {
		handler(e)
	}
}

func (b *Backend) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		return engine.ErrAlreadyRunning
	}

	client := b.newClient(b.cfg)
	if err := client.Connect(ctx); err != nil {
		return err
	}

	b.client = client
	b.trackMu.Lock()
	b.moving = make(map[string]bool)
	b.connection = ""
	b.trackMu.Unlock()

	b.logger.Info().Str("webAPIVersion", client.WebAPIVersion()).Msg("Connected to qBittorrent")
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.client = nil
	return nil
}

func (b *Backend) getClient() (*Client, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.client == nil {
		return nil, engine.ErrNotRunning
	}
	return b.client, nil
}

func (b *Backend) Snapshot(ctx context.Context) ([]models.TorrentInfo, error) {
	client, err := b.getClient()
	if err != nil {
		return nil, err
	}

	torrents, err := client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
	if err != nil {
		client.updateHealthStatus(false)
		return nil, errors.Wrap(err, "list torrents")
	}
	client.updateHealthStatus(true)

	infos := make([]models.TorrentInfo, 0, len(torrents))
	for i := range torrents {
		infos = append(infos, convertTorrent(&torrents[i]))
	}

	b.trackMoves(torrents)
	return infos, nil
}

// trackMoves reports storage moves, which the state diff cannot see because
// moving is not a state of its own.
func (b *Backend) trackMoves(torrents []qbt.Torrent) {
	var events []engine.Event

	b.trackMu.Lock()
	seen := make(map[string]struct{}, len(torrents))
	for i := range torrents {
		id := strings.ToLower(torrents[i].Hash)
		seen[id] = struct{}{}

		isMoving := torrents[i].State == qbt.TorrentStateMoving
		switch {
		case isMoving && !b.moving[id]:
			b.moving[id] = true
			events = append(events, engine.Event{Type: engine.EventMoving, TorrentID: id})
		case !isMoving && b.moving[id]:
			delete(b.moving, id)
			events = append(events, engine.Event{Type: engine.EventMoved, TorrentID: id, Success: true})
		}
	}
	for id := range b.moving {
		if _, ok := seen[id]; !ok {
			delete(b.moving, id)
		}
	}
	b.trackMu.Unlock()

	for _, e := range events {
		b.emit(e)
	}
}

func (b *Backend) SessionStats(ctx context.Context) (engine.SessionStats, error) {
	client, err := b.getClient()
	if err != nil {
		return engine.SessionStats{}, err
	}

	info, err := client.GetTransferInfoCtx(ctx)
	if err != nil {
		return engine.SessionStats{}, errors.Wrap(err, "get transfer info")
	}

	b.trackConnection(string(info.ConnectionStatus))

	return engine.SessionStats{
		DownloadSpeed:   info.DlInfoSpeed,
		UploadSpeed:     info.UpInfoSpeed,
		TotalDownloaded: info.DlInfoData,
		TotalUploaded:   info.UpInfoData,
		DHTNodes:        int(info.DHTNodes),
	}, nil
}

// trackConnection reports reachability problems once per transition.
func (b *Backend) trackConnection(status string) {
	b.trackMu.Lock()
	previous := b.connection
	b.connection = status
	b.trackMu.Unlock()

	if status == previous {
		return
	}

	switch status {
	case connectionFirewalled:
		b.emit(engine.Event{Type: engine.EventNATError, Error: "qBittorrent is firewalled, incoming connections are blocked"})
	case connectionDisconnected:
		b.emit(engine.Event{Type: engine.EventSessionError, Error: "qBittorrent has no network connection"})
	}
}

func (b *Backend) Add(ctx context.Context, source string, opts engine.AddOptions) (string, error) {
	client, err := b.getClient()
	if err != nil {
		return "", err
	}

	options := addOptions(opts)

	if strings.HasPrefix(strings.ToLower(source), "magnet:") {
		m, err := metainfo.ParseMagnetUri(source)
		if err != nil {
			return "", errors.Wrap(err, "parse magnet link")
		}
		if err := client.AddTorrentFromUrlCtx(ctx, source, options); err != nil {
			return "", errors.Wrap(err, "add magnet")
		}
		return m.InfoHash.HexString(), nil
	}

	data, err := b.readTorrentFile(ctx, source)
	if err != nil {
		return "", err
	}

	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return "", errors.Wrap(err, "parse torrent file")
	}

	if err := client.AddTorrentFromMemoryCtx(ctx, data, options); err != nil {
		return "", errors.Wrap(err, "add torrent file")
	}
	return mi.HashInfoBytes().HexString(), nil
}

func (b *Backend) readTorrentFile(ctx context.Context, source string) ([]byte, error) {
	lower := strings.ToLower(source)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, errors.Wrap(err, "read torrent file")
		}
		return data, nil
	}

	resp, err := b.http.R().SetContext(ctx).Get(source)
	if err != nil {
		return nil, errors.Wrap(err, "download torrent file")
	}
	if resp.IsError() {
		return nil, fmt.Errorf("download torrent file: unexpected status %d", resp.StatusCode())
	}
	return resp.Body(), nil
}

func addOptions(opts engine.AddOptions) map[string]string {
	options := map[string]string{}
	if opts.Paused {
		// qBittorrent 5 renamed paused to stopped
		options["paused"] = "true"
		options["stopped"] = "true"
	}
	if opts.Sequential {
		options["sequentialDownload"] = "true"
	}
	if opts.SavePath != "" {
		options["savepath"] = opts.SavePath
	}
	return options
}

func (b *Backend) Pause(ctx context.Context, ids []string) error {
	client, err := b.getClient()
	if err != nil {
		return err
	}
	return client.PauseCtx(ctx, ids)
}

func (b *Backend) Resume(ctx context.Context, ids []string) error {
	client, err := b.getClient()
	if err != nil {
		return err
	}
	return client.ResumeCtx(ctx, ids)
}

func (b *Backend) Remove(ctx context.Context, ids []string, withFiles bool) error {
	client, err := b.getClient()
	if err != nil {
		return err
	}
	return client.DeleteTorrentsCtx(ctx, ids, withFiles)
}

func (b *Backend) Recheck(ctx context.Context, ids []string) error {
	client, err := b.getClient()
	if err != nil {
		return err
	}
	return client.RecheckCtx(ctx, ids)
}

func (b *Backend) Reannounce(ctx context.Context, ids []string) error {
	client, err := b.getClient()
	if err != nil {
		return err
	}
	if !client.SupportsReannounce() {
		return errors.Wrapf(engine.ErrUnsupported, "reannounce requires WebAPI %s", reannounceMinVersion)
	}
	return client.ReAnnounceTorrentsCtx(ctx, ids)
}

func convertTorrent(t *qbt.Torrent) models.TorrentInfo {
	state, errText := mapState(t.State, t.Progress)

	eta := t.ETA
	if eta >= infinityETA || eta < 0 {
		eta = -1
	}

	received := max(t.Size-t.AmountLeft, 0)

	return models.TorrentInfo{
		ID:                 strings.ToLower(t.Hash),
		Name:               t.Name,
		State:              state,
		Progress:           int(t.Progress * 100),
		ReceivedBytes:      received,
		UploadedBytes:      t.Uploaded,
		TotalBytes:         t.Size,
		DownloadSpeed:      t.DlSpeed,
		UploadSpeed:        t.UpSpeed,
		ETA:                eta,
		Peers:              int(t.NumSeeds + t.NumLeechs),
		TotalPeers:         int(t.NumComplete + t.NumIncomplete),
		TotalSeeds:         int(t.NumComplete),
		DateAdded:          time.Unix(t.AddedOn, 0),
		Error:              errText,
		SequentialDownload: t.SequentialDownload,
	}
}

// mapState folds qBittorrent's fine-grained states into StateCode. The second
// value is the error text for error states.
func mapState(state qbt.TorrentState, progress float64) (models.StateCode, string) {
	switch state {
	case qbt.TorrentStateError:
		return models.StateError, errTorrent
	case qbt.TorrentStateMissingFiles:
		return models.StateError, errMissingFiles
	case qbt.TorrentStateUploading, qbt.TorrentStateStalledUp, qbt.TorrentStateQueuedUp, qbt.TorrentStateForcedUp:
		return models.StateSeeding, ""
	case qbt.TorrentStateDownloading, qbt.TorrentStateStalledDl, qbt.TorrentStateQueuedDl, qbt.TorrentStateForcedDl:
		return models.StateDownloading, ""
	case qbt.TorrentStatePausedDl, qbt.TorrentStatePausedUp:
		return models.StatePaused, ""
	case qbt.TorrentStateStoppedDl, qbt.TorrentStateStoppedUp:
		return models.StateStopped, ""
	case qbt.TorrentStateCheckingDl, qbt.TorrentStateCheckingUp, qbt.TorrentStateCheckingResumeData:
		return models.StateChecking, ""
	case qbt.TorrentStateMetaDl:
		return models.StateDownloadingMetadata, ""
	case qbt.TorrentStateAllocating:
		return models.StateAllocating, ""
	case qbt.TorrentStateMoving:
		if progress >= 1 {
			return models.StateSeeding, ""
		}
		return models.StateDownloading, ""
	default:
		return models.StateUnknown, ""
	}
}
