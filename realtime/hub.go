package realtime

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

const MessageTypeResultsUpdated = "RESULTS_UPDATED"

// Message is the envelope pushed to every viewer subscribed to a game room.
type Message struct {
	Type    string      `json:"type"`
	GameID  int         `json:"game_id"`
	Payload interface{} `json:"payload"`
}

// ResultsUpdatedPayload tells connected clients to refetch or fast-forward to
// the new head version.
type ResultsUpdatedPayload struct {
	HeadVersion int       `json:"head_version"`
	ServerTime  time.Time `json:"server_time"`
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	room string

	mu     sync.Mutex
	closed bool
}

// Hub keeps one room per game and fans committed results updates out to the
// room's viewers. It never blocks on a slow client: full send buffers drop.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	rooms      map[string]map[*Client]bool
	mu         sync.RWMutex
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		rooms:      make(map[string]map[*Client]bool),
		logger:     logger,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.rooms[client.room]; !ok {
				h.rooms[client.room] = make(map[*Client]bool)
			}
			h.rooms[client.room][client] = true
			h.logger.Info("viewer joined room",
				slog.String("room", client.room),
				slog.Int("viewers", len(h.rooms[client.room])))
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.rooms[client.room]; ok {
				if _, known := clients[client]; known {
					client.close()
					delete(clients, client)
					if len(clients) == 0 {
						delete(h.rooms, client.room)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

func roomForGame(gameID int) string {
	return "game:" + strconv.Itoa(gameID)
}

// BroadcastResultsUpdated notifies every viewer of the game that a batch has
// committed. Called strictly after the transaction commits.
func (h *Hub) BroadcastResultsUpdated(gameID int, payload ResultsUpdatedPayload) {
	message, err := json.Marshal(Message{
		Type:    MessageTypeResultsUpdated,
		GameID:  gameID,
		Payload: payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal results update", slog.Any("error", err))
		return
	}

	room := roomForGame(gameID)
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[room] {
		client.mu.Lock()
		if !client.closed {
			select {
			case client.send <- message:
			default:
				// Slow consumer: drop rather than hold the lock.
			}
		}
		client.mu.Unlock()
	}
}

// Subscribe attaches an upgraded connection to the game's room and starts its
// read/write pumps.
func (h *Hub) Subscribe(gameID int, conn *websocket.Conn) {
	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 16),
		room: roomForGame(gameID),
	}
	h.register <- client
	go client.writePump()
	go client.readPump()
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.send)
		c.closed = true
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// Viewers are read-only; inbound frames only keep the connection alive.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("viewer connection closed unexpectedly",
					slog.String("room", c.room),
					slog.Any("error", err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
