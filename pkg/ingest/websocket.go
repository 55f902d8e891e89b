package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/vlad-oles/gears/pkg/config"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Allow same-origin requests, or requests with no Origin header
		// (direct connections from non-browser clients).
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// StatsHub manages WebSocket connections for live streaming of freshly
// finalized statistics.
type StatsHub struct {
	// Registered clients
	clients map[*websocket.Conn]bool

	// Register requests from clients
	register chan *websocket.Conn

	// Unregister requests from clients
	unregister chan *websocket.Conn

	// Broadcast channel for finalized-stat updates
	broadcast chan []byte

	mu sync.RWMutex
}

// NewStatsHub creates a new WebSocket hub.
func NewStatsHub() *StatsHub {
	return &StatsHub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn, config.WSChannelBuffer),
		unregister: make(chan *websocket.Conn, config.WSChannelBuffer),
		broadcast:  make(chan []byte, config.WSBroadcastBuffer),
	}
}

// Run starts the hub's main loop.
func (h *StatsHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
			}
			h.mu.Unlock()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Infof("WebSocket client connected (total: %d)", count)
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Infof("WebSocket client disconnected (total: %d)", count)
		case message := <-h.broadcast:
			h.mu.RLock()
			// Collect failed connections to unregister after releasing the lock
			var failed []*websocket.Conn
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					log.Warnf("WebSocket write error: %v", err)
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()

			for _, conn := range failed {
				h.unregister <- conn
			}
		}
	}
}

// Broadcast sends a message to all connected clients.
func (h *StatsHub) Broadcast(data interface{}) error {
	message, err := json.Marshal(data)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message:
		return nil
	default:
		// Channel full, drop message to prevent blocking
		log.Warn("Broadcast channel full, dropping message")
		return nil
	}
}

// HasClients returns true if there are any connected WebSocket clients.
func (h *StatsHub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// HandleWebSocket handles WebSocket upgrade requests.
func (h *Handler) HandleWebSocket(hub *StatsHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warnf("WebSocket upgrade failed: %v", err)
			return
		}

		hub.register <- conn

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Ping sender keeps the connection alive.
		go func() {
			ticker := time.NewTicker(config.WSPingInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						return
					}
				}
			}
		}()

		defer func() {
			cancel()
			hub.unregister <- conn
		}()

		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
			return nil
		})

		// Read loop handles control frames and detects connection close.
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Warnf("WebSocket error: %v", err)
				}
				break
			}
		}
	}
}
