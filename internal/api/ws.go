// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/proninyaroslav/libretorrent/internal/engine"
	"github.com/proninyaroslav/libretorrent/internal/provider"
	"github.com/proninyaroslav/libretorrent/internal/selection"
	"github.com/proninyaroslav/libretorrent/internal/torrentlist"
)

const (
	wsSendBuffer   = 16
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadLimit    = 512
)

// WebSocket message types.
const (
	MessageTorrents  = "torrents"
	MessageDeleted   = "deleted"
	MessageSession   = "session"
	MessageSelection = "selection"
)

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans list, deletion, session and selection updates out to WebSocket clients.
type Hub struct {
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger: logger.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// Follow subscribes to the list and provider streams and forwards them in the
// background until ctx is done.
func (h *Hub) Follow(ctx context.Context, list *torrentlist.Pipeline, p *provider.Provider) {
	views := list.Subscribe(ctx)
	deleted := p.SubscribeDeleted(ctx)
	sessions := p.SubscribeSession(ctx)

	unregister := list.Selection().OnChange(func(state selection.State) {
		h.Broadcast(MessageSelection, state)
	})

	go func() {
		defer unregister()
		h.forward(ctx, views, deleted, sessions)
	}()
}

func (h *Hub) forward(ctx context.Context, views <-chan torrentlist.View, deleted <-chan []string, sessions <-chan engine.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case view, ok := <-views:
			if !ok {
				return
			}
			h.Broadcast(MessageTorrents, view)
		case ids, ok := <-deleted:
			if !ok {
				return
			}
			h.Broadcast(MessageDeleted, ids)
		case e, ok := <-sessions:
			if !ok {
				return
			}
			h.Broadcast(MessageSession, e)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast drops clients whose send buffer is full.
func (h *Hub) Broadcast(msgType string, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.clients) == 0 {
		return
	}

	payload, err := json.Marshal(wsMessage{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error().Err(err).Str("type", msgType).Msg("Failed to marshal websocket message")
		return
	}

	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			h.logger.Debug().Msg("Dropping slow websocket client")
			h.removeLocked(client)
		}
	}
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for client := range h.clients {
		_ = client.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(2*time.Second),
		)
		h.removeLocked(client)
	}
}

func (h *Hub) removeLocked(client *wsClient) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) unregister(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client)
}

// ServeWS upgrades the connection and sends the current state first.
func (h *Hub) ServeWS(initial func() []wsMessage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Debug().Err(err).Msg("WebSocket upgrade failed")
			return
		}

		client := &wsClient{hub: h, conn: conn, send: make(chan []byte, wsSendBuffer)}

		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			_ = conn.Close()
			return
		}
		for _, msg := range initial() {
			if payload, err := json.Marshal(msg); err == nil {
				client.send <- payload
			}
		}
		h.clients[client] = struct{}{}
		count := len(h.clients)
		h.mu.Unlock()

		h.logger.Debug().Int("clients", count).Msg("WebSocket client connected")

		go client.writePump()
		go client.readPump()
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only handles control frames; clients do not send data.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
