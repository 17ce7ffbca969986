package events

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sublarr/models"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsSendBuffer = 64
)

// WSHub forwards bus events to connected WebSocket clients. Clients must
// authenticate with the API key in their first frame before receiving events.
type WSHub struct {
	apiKey   func() string
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewWSHub creates the hub and subscribes it to every bus event.
func NewWSHub(bus *Bus, apiKey func() string) *WSHub {
	h := &WSHub{
		apiKey:  apiKey,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	bus.Subscribe(Wildcard, h.forward)
	return h
}

// forward serializes the event and fans it out. A client with a full send
// buffer is dropped rather than blocking the publisher.
func (h *WSHub) forward(event models.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("[ws] marshal event %s: %v", event.Type, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			go h.drop(c)
		}
	}
}

func (h *WSHub) drop(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type wsAuthFrame struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// ServeHTTP upgrades the connection, performs the auth handshake and starts
// the read/write pumps.
func (h *WSHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}

	if key := h.apiKey(); key != "" {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		var frame wsAuthFrame
		if err := conn.ReadJSON(&frame); err != nil ||
			frame.Type != "auth" ||
			subtle.ConstantTimeCompare([]byte(frame.Key), []byte(key)) != 1 {
			_ = conn.WriteJSON(map[string]string{"type": "error", "error": "unauthorized"})
			_ = conn.Close()
			return
		}
	}
	_ = conn.WriteJSON(map[string]string{"type": "hello"})

	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *WSHub) readPump(c *wsClient) {
	defer h.drop(c)
	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
