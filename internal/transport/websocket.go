// Copyright 2025 Joseph Cumines
//
// Websocket fan-out for the tracker's event stream. SSE covers browsers and
// curl; the websocket endpoint serves clients that want a bidirectional
// socket (the only inbound frames honored are pings and close).

package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// wsWriteTimeout bounds a single frame write to a client.
	wsWriteTimeout = 10 * time.Second
	// wsClientBuffer is the per-client outbound frame buffer; a client that
	// falls further behind than this loses frames.
	wsClientBuffer = 64
)

// wsFrame is the JSON payload sent per event.
type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wsClient struct {
	id   string
	send chan []byte
}

// WSHub upgrades /ws requests and fans event frames out to every connected
// socket.
type WSHub struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[string]*wsClient
	closed   bool
}

// NewWSHub constructs a hub allowing the given origin ("*" for any).
func NewWSHub(corsOrigin string) *WSHub {
	h := &WSHub{clients: make(map[string]*wsClient)}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if corsOrigin == "*" || corsOrigin == "" {
				return true
			}
			return r.Header.Get("Origin") == corsOrigin
		},
	}
	return h
}

// HandleUpgrade is the /ws endpoint.
func (h *WSHub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		Logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{id: uuid.NewString(), send: make(chan []byte, wsClientBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client.id] = client
	h.mu.Unlock()
	Logger.Debug().Str("client", client.id).Msg("websocket client connected")

	// Reader: discard inbound frames, notice the close.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.remove(client.id)
				return
			}
		}
	}()

	// Writer: drain the send buffer until the client is removed.
	go func() {
		defer conn.Close()
		for frame := range client.send {
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.remove(client.id)
				return
			}
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutdown"))
	}()
}

func (h *WSHub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(client.send)
	}
}

// Broadcast sends one event frame to every connected client, dropping it
// for clients whose buffer is full.
func (h *WSHub) Broadcast(event string, data []byte) {
	frame, err := json.Marshal(wsFrame{Event: event, Data: json.RawMessage(data)})
	if err != nil {
		Logger.Error().Err(err).Msg("marshaling websocket frame")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, client := range h.clients {
		select {
		case client.send <- frame:
		default:
			Logger.Warn().Str("client", client.id).Msg("dropping websocket frame: client buffer full")
		}
	}
}

// Count returns the number of connected websocket clients.
func (h *WSHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects future connections.
func (h *WSHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, client := range h.clients {
		delete(h.clients, id)
		close(client.send)
	}
}
