package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joshp123/gohome-flair/internal/logging"
	"github.com/joshp123/gohome-flair/internal/thermostat"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
	wsSendBuffer = 32
)

// Hub broadcasts state updates to websocket clients. Slow clients that fill
// their buffer are dropped.
type Hub struct {
	log      *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	send chan []byte
}

type wsMessage struct {
	Type string                   `json:"type"`
	Data []thermostat.StateUpdate `json:"data"`
}

func NewHub(log *logging.Logger) *Hub {
	if log == nil {
		log = logging.Nop()
	}
	return &Hub{
		log:      log.Named("ws"),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
		clients:  make(map[*wsClient]struct{}),
	}
}

// Publish implements thermostat.Publisher.
func (h *Hub) Publish(_ context.Context, u thermostat.StateUpdate) {
	data, err := json.Marshal(wsMessage{Type: "state", Data: []thermostat.StateUpdate{u}})
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Serve upgrades the request and streams updates until the client goes
// away. The client is registered and its snapshot queued under the hub lock,
// so every update published after the snapshot was taken reaches it.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, states func() []thermostat.StateUpdate) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debugw("websocket upgrade failed", "err", err)
		return
	}

	c := &wsClient{send: make(chan []byte, wsSendBuffer)}
	h.mu.Lock()
	snapshot, err := json.Marshal(wsMessage{Type: "snapshot", Data: states()})
	if err != nil {
		h.mu.Unlock()
		conn.Close()
		return
	}
	c.send <- snapshot
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(conn, c)
	h.readLoop(conn)

	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// readLoop discards client frames; it exists to process pongs and notice closes.
func (h *Hub) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
