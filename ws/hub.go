// Package ws is the operator event feed: a broadcast-only websocket hub
// that fans dispatch and routing events out to connected dashboards.
package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Event is one feed entry.
type Event struct {
	Event string    `json:"event"`
	At    time.Time `json:"at"`
	Data  any       `json:"data,omitempty"`
}

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			slog.Info("event feed client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.done)
				close(client.send)
			}
			h.mu.Unlock()
			slog.Info("event feed client disconnected")

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				client.enqueue(message)
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Publish broadcasts one event to every connected client. Non-blocking:
// if the hub's buffer is full the event is dropped rather than stalling
// a dispatch path.
func (h *Hub) Publish(event string, data any) {
	e := Event{Event: event, At: time.Now().UTC(), Data: data}
	payload, err := json.Marshal(e)
	if err != nil {
		slog.Error("event feed marshal failed", "event", event, "err", err)
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		slog.Warn("event feed buffer full, dropping event", "event", event)
	}
}
