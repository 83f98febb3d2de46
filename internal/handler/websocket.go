package handler

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"tileboard/internal/bus"
	"tileboard/internal/model"
	"tileboard/internal/tile"
)

// createUpgrader creates a WebSocket upgrader with the given allowed origins
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowedMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowedMap[origin] = true
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return allowedMap[origin]
		},
	}
}

// wsClient is one live viewer: its connection, room, and the tile keys
// it subscribed to. An empty tile set means broadcast mode.
type wsClient struct {
	conn   *websocket.Conn
	roomID string

	mu    sync.Mutex // guards writes to conn and the tiles set
	tiles map[string]bool
}

func (c *wsClient) send(event model.StrokeEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(event)
}

func (c *wsClient) setTiles(keys []string, subscribe bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if subscribe {
			c.tiles[k] = true
		} else {
			delete(c.tiles, k)
		}
	}
}

// wantsTiles reports whether the client should see an event touching
// the given tile keys: it is in broadcast mode, the event has no
// geometry, or the tile sets intersect.
func (c *wsClient) wantsTiles(keys []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tiles) == 0 || len(keys) == 0 {
		return true
	}
	for _, k := range keys {
		if c.tiles[k] {
			return true
		}
	}
	return false
}

// Hub is the fan-out registry: an explicit per-connection client set,
// fed by the event bus. No global state.
type Hub struct {
	TileSize int

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewHub creates an empty registry.
func NewHub(tileSize int) *Hub {
	return &Hub{TileSize: tileSize, clients: make(map[*wsClient]struct{})}
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *wsClient) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	return len(h.clients)
}

func (h *Hub) remove(c *wsClient) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	return len(h.clients)
}

// tileKeysFor lists the "x,y" keys of tiles the event's actual point
// geometry touches (finer than the stroke bbox).
func (h *Hub) tileKeysFor(event model.StrokeEvent) []string {
	if event.Stroke == nil {
		return nil
	}
	seen := make(map[string]bool)
	var keys []string
	for _, p := range event.Stroke.Points {
		tx, ty := tile.Coords(p[0], p[1], h.TileSize)
		k := fmt.Sprintf("%d,%d", tx, ty)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

// Run consumes the bus subscription until it closes, delivering each
// event to the room's interested viewers. Run in a goroutine.
func (h *Hub) Run(sub *bus.Subscription) {
	for event := range sub.C {
		keys := h.tileKeysFor(event)

		// Snapshot the client set so a concurrent disconnect does not
		// race the iteration.
		h.mu.RLock()
		conns := make([]*wsClient, 0, len(h.clients))
		for c := range h.clients {
			conns = append(conns, c)
		}
		h.mu.RUnlock()

		notified := 0
		for _, c := range conns {
			if c.roomID != event.RoomID || !c.wantsTiles(keys) {
				continue
			}
			if err := c.send(event); err != nil {
				c.conn.Close()
				h.remove(c)
				continue
			}
			notified++
		}
		log.WithFields(log.Fields{"type": event.Type, "room": event.RoomID, "tiles": len(keys), "notified": notified}).
			Debug("[WS] event fanned out")
	}
}

// subscribeMessage is what clients send over the socket.
type subscribeMessage struct {
	Type  string   `json:"type"`
	Tiles []string `json:"tiles"` // "tileX,tileY" keys
}

// HandleWebSocket handles GET /ws
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := createUpgrader(h.Config.AllowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("err", err).Info("[WS] upgrade failed")
		return
	}
	defer conn.Close()

	roomID := r.URL.Query().Get("roomId")
	if roomID == "" {
		roomID = model.DefaultRoomID
	}

	client := &wsClient{conn: conn, roomID: roomID, tiles: make(map[string]bool)}
	total := h.Hub.add(client)
	log.WithFields(log.Fields{"room": roomID, "clients": total}).Info("[WS] client connected")

	for {
		var msg subscribeMessage
		if err := conn.ReadJSON(&msg); err != nil {
			remaining := h.Hub.remove(client)
			log.WithFields(log.Fields{"room": roomID, "clients": remaining}).Info("[WS] client disconnected")
			break
		}

		switch msg.Type {
		case "subscribe":
			client.setTiles(msg.Tiles, true)
		case "unsubscribe":
			client.setTiles(msg.Tiles, false)
		}
	}
}
