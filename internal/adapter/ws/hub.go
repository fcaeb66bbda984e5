// Package ws implements the WebSocket adapter for real-time client communication.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/TaskForge/internal/port/broadcast"
	"github.com/Strob0t/TaskForge/internal/port/eventfeed"
)

const writeTimeout = 5 * time.Second

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn wraps a single WebSocket connection.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
}

// Hub manages all active WebSocket connections and broadcasts messages.
type Hub struct {
	origins   []string
	snapshots eventfeed.Snapshotter

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

var _ broadcast.Broadcaster = (*Hub)(nil)

// NewHub creates a hub. A non-empty corsOrigin restricts accepted origins;
// snapshots (may be nil) supplies the download list sent to new clients.
func NewHub(corsOrigin string, snapshots eventfeed.Snapshotter) *Hub {
	var origins []string
	if corsOrigin != "" && corsOrigin != "*" {
		origins = []string{corsOrigin}
	}
	return &Hub{
		origins:   origins,
		snapshots: snapshots,
		conns:     make(map[*conn]struct{}),
	}
}

// HandleWS upgrades the request to a WebSocket and registers the connection.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: len(h.origins) == 0,
		OriginPatterns:     h.origins,
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &conn{ws: ws, cancel: cancel}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr)
	h.sendSnapshot(ctx, c)

	// Read loop (to detect disconnects and consume pings)
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// sendSnapshot writes the last known download list to a new client.
func (h *Hub) sendSnapshot(ctx context.Context, c *conn) {
	if h.snapshots == nil {
		return
	}
	data, ok := h.snapshots.Last(ctx, eventfeed.ChannelDownloadList)
	if !ok || data == nil {
		return
	}
	msg, err := json.Marshal(Message{Type: EventDownloadList, Payload: data})
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.ws.Write(wctx, websocket.MessageText, msg); err != nil {
		slog.Debug("websocket snapshot write failed", "error", err)
	}
}

// RelayDownloads forwards every download list published on feed to all
// clients as a download.list event.
func (h *Hub) RelayDownloads(feed eventfeed.Feed) (unsubscribe func(), err error) {
	unsubscribe, err = feed.Subscribe(eventfeed.ChannelDownloadList, func(data []byte) {
		if data == nil {
			data = []byte("[]")
		}
		h.Broadcast(context.Background(), Message{Type: EventDownloadList, Payload: data})
	})
	if err != nil {
		return nil, fmt.Errorf("relay downloads: %w", err)
	}
	return unsubscribe, nil
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("websocket write failed", "error", err)
			go h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		h.remove(c)
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected")
	}
}
