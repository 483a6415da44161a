// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package anacrolix runs torrents in-process on top of github.com/anacrolix/torrent.
package anacrolix

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/iplist"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/proninyaroslav/libretorrent/internal/engine"
	"github.com/proninyaroslav/libretorrent/internal/models"
)

const (
	// restored when a paused torrent is resumed
	defaultMaxConns = 35

	addTimeout          = 10 * time.Second
	fetchTimeout        = 30 * time.Second
	metadataWaitTimeout = 10 * time.Minute

	magnetScheme   = "magnet:"
	torrentFileDir = ".torrents"
)

var (
	_ engine.Backend            = (*Backend)(nil)
	_ engine.EventSource        = (*Backend)(nil)
	_ engine.CapabilityReporter = (*Backend)(nil)
)

type Config struct {
	DownloadDir  string
	ListenPort   int
	IPFilterPath string

	NoDHT            bool
	DisableTrackers  bool
	NoPortForwarding bool

	// MetadataTimeout bounds the wait for magnet metadata. Zero uses the default.
	MetadataTimeout time.Duration
}

type entry struct {
	t          *torrent.Torrent
	source     string
	addedAt    time.Time
	paused     bool
	sequential bool
	checking   atomic.Bool
}

type speedSample struct {
	at           time.Time
	bytesRead    int64
	bytesWritten int64
}

// Backend is an engine.Backend backed by an embedded anacrolix client.
type Backend struct {
	cfg    Config
	store  *models.EngineTorrentStore
	http   *resty.Client
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	client   *torrent.Client
	torrents map[string]*entry
	closed   chan struct{}

	handlerMu sync.RWMutex
	handler   func(engine.Event)

	speedMu sync.Mutex
	speeds  map[string]speedSample
}

// New creates a backend. store may be nil, in which case torrents are not
// restored across sessions.
func New(cfg Config, store *models.EngineTorrentStore) *Backend {
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = metadataWaitTimeout
	}

	return &Backend{
		cfg:      cfg,
		store:    store,
		http:     resty.New().SetTimeout(fetchTimeout).SetRetryCount(2),
		logger:   log.With().Str("module", "engine").Str("backend", "anacrolix").Logger(),
		now:      time.Now,
		torrents: make(map[string]*entry),
		speeds:   make(map[string]speedSample),
	}
}

func (b *Backend) Name() string { return "anacrolix" }

func (b *Backend) Capabilities() engine.Capabilities {
	return engine.Capabilities{Version: "anacrolix/torrent"}
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
	if b.client != nil {
		b.mu.Unlock()
		return engine.ErrAlreadyRunning
	}

	if b.cfg.DownloadDir != "" {
		if err := os.MkdirAll(b.cfg.DownloadDir, 0o755); err != nil {
			b.mu.Unlock()
			return errors.Wrap(err, "create download directory")
		}
	}

	clientConfig := torrent.NewDefaultClientConfig()
	if b.cfg.DownloadDir != "" {
		clientConfig.DataDir = b.cfg.DownloadDir
	}
	clientConfig.ListenPort = b.cfg.ListenPort
	clientConfig.NoDHT = b.cfg.NoDHT
	clientConfig.DisableTrackers = b.cfg.DisableTrackers
	clientConfig.NoDefaultPortForwarding = b.cfg.NoPortForwarding
	clientConfig.Seed = true

	var pending []engine.Event
	if b.cfg.IPFilterPath != "" {
		list, err := loadIPFilter(b.cfg.IPFilterPath)
		if err != nil {
			b.logger.Warn().Err(err).Str("path", b.cfg.IPFilterPath).Msg("Failed to parse IP filter")
			pending = append(pending, engine.Event{Type: engine.EventIPFilterParsed, Error: err.Error()})
		} else {
			clientConfig.IPBlocklist = list
			b.logger.Info().Int("ranges", list.NumRanges()).Msg("IP filter loaded")
			pending = append(pending, engine.Event{Type: engine.EventIPFilterParsed, Success: true, RuleCount: list.NumRanges()})
		}
	}

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		b.mu.Unlock()
		return errors.Wrap(err, "create torrent client")
	}
	if len(client.ListenAddrs()) == 0 {
		pending = append(pending, engine.Event{Type: engine.EventNATError, Error: "engine is not listening for incoming peers"})
	}

	b.client = client
	b.closed = make(chan struct{})
	b.torrents = make(map[string]*entry)
	b.mu.Unlock()

	for _, e := range pending {
		b.emit(e)
	}

	b.restore(ctx)
	return nil
}

func loadIPFilter(path string) (*iplist.IPList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return iplist.NewFromReader(f)
}

// restore re-adds the torrents recorded by a previous session.
func (b *Backend) restore(ctx context.Context) {
	if b.store == nil {
		return
	}

	records, err := b.store.List(ctx)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to list saved torrents")
		b.emit(engine.Event{Type: engine.EventSessionError, Error: err.Error()})
		return
	}

	restored := 0
	for _, rec := range records {
		t, _, err := b.addSource(ctx, rec.Source)
		if err != nil {
			b.logger.Warn().Err(err).Str("torrent", rec.ID).Msg("Failed to restore torrent")
			b.emit(engine.Event{Type: engine.EventRestoreSession, TorrentID: rec.ID, Error: err.Error()})
			continue
		}
		b.track(t, rec.Source, rec.AddedAt, rec.Paused, false)
		restored++
	}

	if restored > 0 {
		b.logger.Info().Int("count", restored).Msg("Restored torrents")
	}
}

func (b *Backend) Close() error {
	b.mu.Lock()
	client := b.client
	b.client = nil
	b.torrents = make(map[string]*entry)
	if b.closed != nil {
		close(b.closed)
		b.closed = nil
	}
	b.mu.Unlock()

	b.speedMu.Lock()
	b.speeds = make(map[string]speedSample)
	b.speedMu.Unlock()

	if client == nil {
		return nil
	}
	if errs := client.Close(); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (b *Backend) Snapshot(context.Context) ([]models.TorrentInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.client == nil {
		return nil, engine.ErrNotRunning
	}

	now := b.now()
	infos := make([]models.TorrentInfo, 0, len(b.torrents))
	for id, e := range b.torrents {
		infos = append(infos, b.torrentInfo(id, e, now))
	}
	slices.SortStableFunc(infos, func(a, c models.TorrentInfo) int {
		if n := a.DateAdded.Compare(c.DateAdded); n != 0 {
			return n
		}
		return strings.Compare(a.ID, c.ID)
	})
	return infos, nil
}

func (b *Backend) torrentInfo(id string, e *entry, now time.Time) models.TorrentInfo {
	t := e.t
	stats := t.Stats()
	ready := infoReady(t)

	info := models.TorrentInfo{
		ID:                 id,
		Name:               t.Name(),
		DateAdded:          e.addedAt,
		SequentialDownload: e.sequential,
		Peers:              stats.ActivePeers,
		TotalPeers:         stats.TotalPeers,
		TotalSeeds:         stats.ConnectedSeeders,
		UploadedBytes:      stats.BytesWrittenData.Int64(),
		ETA:                -1,
	}
	if info.Name == "" {
		info.Name = id
	}
	if ready {
		info.TotalBytes = t.Length()
		info.ReceivedBytes = t.BytesCompleted()
	}
	info.Progress = progressPercent(info.ReceivedBytes, info.TotalBytes)
	info.State = resolveState(ready, e.paused, e.checking.Load(), info.ReceivedBytes, info.TotalBytes)

	download, upload := b.sampleSpeed(id, stats.BytesReadUsefulData.Int64(), stats.BytesWrittenData.Int64(), now)
	if !e.paused {
		info.DownloadSpeed = download
		info.UploadSpeed = upload
		if ready {
			info.ETA = estimateETA(info.TotalBytes-info.ReceivedBytes, download)
		}
	}
	return info
}

func (b *Backend) Add(ctx context.Context, source string, opts engine.AddOptions) (string, error) {
	if !b.running() {
		return "", engine.ErrNotRunning
	}
	if opts.SavePath != "" && filepath.Clean(opts.SavePath) != filepath.Clean(b.cfg.DownloadDir) {
		return "", errors.Wrap(engine.ErrUnsupported, "custom save path")
	}

	t, persisted, err := b.addSource(ctx, source)
	if err != nil {
		return "", err
	}

	id := t.InfoHash().HexString()
	addedAt := b.now()
	if !b.track(t, persisted, addedAt, opts.Paused, opts.Sequential) {
		b.logger.Debug().Str("torrent", id).Msg("Torrent already added")
		return id, nil
	}

	if b.store != nil {
		if err := b.store.Upsert(ctx, models.EngineTorrent{ID: id, Source: persisted, AddedAt: addedAt, Paused: opts.Paused}); err != nil {
			b.logger.Warn().Err(err).Str("torrent", id).Msg("Failed to save torrent")
		}
	}
	return id, nil
}

// track registers t and starts it. Returns false when the torrent is already known.
func (b *Backend) track(t *torrent.Torrent, source string, addedAt time.Time, paused, sequential bool) bool {
	id := t.InfoHash().HexString()

	b.mu.Lock()
	if _, exists := b.torrents[id]; exists {
		b.mu.Unlock()
		return false
	}
	e := &entry{t: t, source: source, addedAt: addedAt, paused: paused, sequential: sequential}
	b.torrents[id] = e
	closed := b.closed
	b.mu.Unlock()

	if paused {
		hardPause(t)
	} else {
		resume(t)
	}

	if !infoReady(t) {
		go b.waitForInfo(id, t, closed)
	}
	return true
}

// waitForInfo starts the download once metadata arrives, or reports a failed
// metadata fetch after the configured timeout.
func (b *Backend) waitForInfo(id string, t *torrent.Torrent, closed <-chan struct{}) {
	timer := time.NewTimer(b.cfg.MetadataTimeout)
	defer timer.Stop()

	select {
	case <-t.GotInfo():
	case <-closed:
		return
	case <-timer.C:
		b.emit(engine.Event{Type: engine.EventMetadataLoaded, TorrentID: id, Error: "timed out waiting for metadata"})
		return
	}

	b.mu.RLock()
	e, ok := b.torrents[id]
	paused := ok && e.paused
	b.mu.RUnlock()

	if ok && !paused {
		t.DownloadAll()
	}
}

func (b *Backend) addSource(ctx context.Context, source string) (*torrent.Torrent, string, error) {
	b.mu.RLock()
	client := b.client
	b.mu.RUnlock()
	if client == nil {
		return nil, "", engine.ErrNotRunning
	}

	switch sourceKind(source) {
	case kindMagnet:
		t, err := addWithTimeout(ctx, func() (*torrent.Torrent, error) { return client.AddMagnet(source) })
		if err != nil {
			return nil, "", errors.Wrap(err, "add magnet")
		}
		return t, source, nil
	case kindURL:
		resp, err := b.http.R().SetContext(ctx).Get(source)
		if err != nil {
			return nil, "", errors.Wrap(err, "download torrent file")
		}
		if resp.IsError() {
			return nil, "", fmt.Errorf("download torrent file: unexpected status %d", resp.StatusCode())
		}
		mi, err := metainfo.Load(bytes.NewReader(resp.Body()))
		if err != nil {
			return nil, "", errors.Wrap(err, "parse torrent file")
		}
		return b.addMetaInfo(ctx, client, mi)
	default:
		mi, err := metainfo.LoadFromFile(source)
		if err != nil {
			return nil, "", errors.Wrap(err, "load torrent file")
		}
		return b.addMetaInfo(ctx, client, mi)
	}
}

// addMetaInfo adds mi and keeps a copy of the torrent file so the session can be restored.
func (b *Backend) addMetaInfo(ctx context.Context, client *torrent.Client, mi *metainfo.MetaInfo) (*torrent.Torrent, string, error) {
	t, err := addWithTimeout(ctx, func() (*torrent.Torrent, error) { return client.AddTorrent(mi) })
	if err != nil {
		return nil, "", errors.Wrap(err, "add torrent")
	}

	dir := filepath.Join(b.cfg.DownloadDir, torrentFileDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return t, "", errors.Wrap(err, "create torrent file directory")
	}

	path := filepath.Join(dir, t.InfoHash().HexString()+".torrent")
	f, err := os.Create(path)
	if err != nil {
		return t, "", errors.Wrap(err, "save torrent file")
	}
	defer f.Close()

	if err := mi.Write(f); err != nil {
		return t, "", errors.Wrap(err, "save torrent file")
	}
	return t, path, nil
}

// addWithTimeout guards against the client blocking on its internal lock.
// A torrent that completes after the deadline is dropped.
func addWithTimeout(ctx context.Context, add func() (*torrent.Torrent, error)) (*torrent.Torrent, error) {
	type result struct {
		t   *torrent.Torrent
		err error
	}
	ch := make(chan result, 1)
	go func() {
		t, err := add()
		ch <- result{t, err}
	}()

	drop := func() {
		if res := <-ch; res.t != nil {
			res.t.Drop()
		}
	}

	select {
	case res := <-ch:
		return res.t, res.err
	case <-time.After(addTimeout):
		go drop()
		return nil, errors.New("torrent client busy, try again later")
	case <-ctx.Done():
		go drop()
		return nil, ctx.Err()
	}
}

func (b *Backend) Pause(ctx context.Context, ids []string) error {
	entries, err := b.lookup(ids)
	if err != nil {
		return err
	}

	b.mu.Lock()
	for _, e := range entries {
		e.paused = true
		hardPause(e.t)
	}
	b.mu.Unlock()

	b.persistPaused(ctx, ids, true)
	return nil
}

func (b *Backend) Resume(ctx context.Context, ids []string) error {
	entries, err := b.lookup(ids)
	if err != nil {
		return err
	}

	b.mu.Lock()
	for _, e := range entries {
		e.paused = false
		resume(e.t)
	}
	b.mu.Unlock()

	b.persistPaused(ctx, ids, false)
	return nil
}

func (b *Backend) persistPaused(ctx context.Context, ids []string, paused bool) {
	if b.store == nil {
		return
	}
	if err := b.store.SetPaused(ctx, ids, paused); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to save paused state")
	}
}

func (b *Backend) Remove(ctx context.Context, ids []string, withFiles bool) error {
	entries, err := b.lookup(ids)
	if err != nil {
		return err
	}

	b.mu.Lock()
	for _, id := range ids {
		delete(b.torrents, id)
	}
	b.mu.Unlock()

	b.speedMu.Lock()
	for _, id := range ids {
		delete(b.speeds, id)
	}
	b.speedMu.Unlock()

	for i, e := range entries {
		name := e.t.Name()
		ready := infoReady(e.t)
		e.t.Drop()

		if sourceKind(e.source) == kindFile && filepath.Dir(e.source) == filepath.Join(b.cfg.DownloadDir, torrentFileDir) {
			_ = os.Remove(e.source)
		}
		if withFiles && ready && name != "" {
			if err := os.RemoveAll(filepath.Join(b.cfg.DownloadDir, name)); err != nil {
				b.logger.Warn().Err(err).Str("torrent", ids[i]).Msg("Failed to delete torrent files")
			}
		}
	}

	if b.store != nil {
		if err := b.store.Delete(ctx, ids); err != nil {
			b.logger.Warn().Err(err).Msg("Failed to forget removed torrents")
		}
	}
	return nil
}

// Recheck verifies on-disk data in the background. The torrent reports the
// checking state until verification finishes.
func (b *Backend) Recheck(_ context.Context, ids []string) error {
	entries, err := b.lookup(ids)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if !infoReady(e.t) || !e.checking.CompareAndSwap(false, true) {
			continue
		}
		go func(e *entry) {
			defer e.checking.Store(false)
			e.t.VerifyData()
		}(e)
	}
	return nil
}

func (b *Backend) Reannounce(context.Context, []string) error {
	return errors.Wrap(engine.ErrUnsupported, "reannounce")
}

func (b *Backend) lookup(ids []string) ([]*entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.client == nil {
		return nil, engine.ErrNotRunning
	}

	entries := make([]*entry, 0, len(ids))
	for _, id := range ids {
		e, ok := b.torrents[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", engine.ErrTorrentNotFound, id)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (b *Backend) running() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client != nil
}

// sampleSpeed derives transfer rates from the byte counters seen on the previous poll.
func (b *Backend) sampleSpeed(id string, read, written int64, now time.Time) (int64, int64) {
	b.speedMu.Lock()
	defer b.speedMu.Unlock()

	prev, ok := b.speeds[id]
	b.speeds[id] = speedSample{at: now, bytesRead: read, bytesWritten: written}

	if !ok || prev.at.IsZero() {
		return 0, 0
	}

	dt := now.Sub(prev.at).Seconds()
	if dt <= 0 {
		return 0, 0
	}

	deltaRead := max(read-prev.bytesRead, 0)
	deltaWritten := max(written-prev.bytesWritten, 0)
	return int64(float64(deltaRead) / dt), int64(float64(deltaWritten) / dt)
}

// hardPause stops all network activity for t and disconnects its peers.
func hardPause(t *torrent.Torrent) {
	t.DisallowDataDownload()
	t.DisallowDataUpload()
	t.SetMaxEstablishedConns(0)
}

func resume(t *torrent.Torrent) {
	t.SetMaxEstablishedConns(defaultMaxConns)
	t.AllowDataUpload()
	t.AllowDataDownload()
	if infoReady(t) {
		t.DownloadAll()
	}
}

func infoReady(t *torrent.Torrent) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}
