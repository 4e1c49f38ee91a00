package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/screenmask/internal/logger"
	"github.com/bryanchriswhite/screenmask/internal/output"
)

const (
	clientBuffer = 16
	writeWait    = 2 * time.Second
)

// Hub fans emitter messages out to websocket clients. It is registered as
// an output.Sink.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	dropped uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // the server only listens on loopback
			},
		},
		clients: make(map[chan []byte]struct{}),
	}
}

// Deliver encodes msg once and queues it for every client. Clients whose
// queue is full miss the message.
func (h *Hub) Deliver(msg output.Message) {
	if msg.Event == output.EventFrame {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		logger.WithComponent("hub").Warn().
			Err(err).
			Str("event", msg.Event).
			Msg("Failed to encode event")
		return
	}

	h.mu.RLock()
	var dropped uint64
	for ch := range h.clients {
		select {
		case ch <- data:
		default:
			dropped++
		}
	}
	h.mu.RUnlock()

	if dropped > 0 {
		h.mu.Lock()
		h.dropped += dropped
		h.mu.Unlock()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many messages slow clients missed.
func (h *Hub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// ServeHTTP upgrades the request and streams events until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("hub")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ch := make(chan []byte, clientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	log.Info().Int("clients", count).Msg("Event client connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients, ch)
		count := len(h.clients)
		h.mu.Unlock()
		log.Info().Int("clients", count).Msg("Event client disconnected")
	}()

	// The reader only exists to notice the close frame.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case data := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		}
	}
}
