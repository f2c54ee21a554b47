package gateway

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	errSendBufferFull   = errors.New("send buffer full")
	errConnectionClosed = errors.New("connection closed")
)

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  16 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
	}
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan []byte
	ConnectedAt time.Time

	sendMu sync.Mutex
	closed bool

	// Room binding. Guarded by the gateway's dispatch lock.
	roomID string
	userID string
}

func newConnection(conn *websocket.Conn, sendBuffer int) *Connection {
	return &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, sendBuffer),
		ConnectedAt: time.Now(),
	}
}

// enqueue queues data for the write pump without blocking
func (c *Connection) enqueue(data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return errConnectionClosed
	}
	select {
	case c.Send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close closes the send queue and the socket. Safe to call more than once.
func (c *Connection) Close() {
	c.sendMu.Lock()
	if c.closed {
		c.sendMu.Unlock()
		return
	}
	c.closed = true
	close(c.Send)
	c.sendMu.Unlock()

	if c.Conn != nil {
		c.Conn.Close()
	}
}

// ConnectionManager tracks open connections and which room each one is
// subscribed to
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[*Connection]struct{}
	rooms       map[string]map[*Connection]struct{}
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[*Connection]struct{}),
		rooms:       make(map[string]map[*Connection]struct{}),
	}
}

func (cm *ConnectionManager) register(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn] = struct{}{}

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregister(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	delete(cm.connections, conn)
}

func (cm *ConnectionManager) subscribe(roomID string, conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.rooms[roomID] == nil {
		cm.rooms[roomID] = make(map[*Connection]struct{})
	}
	cm.rooms[roomID][conn] = struct{}{}

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_id", roomID).
		Int("room_connections", len(cm.rooms[roomID])).
		Msg("connection subscribed")
}

func (cm *ConnectionManager) unsubscribe(roomID string, conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if connections, exists := cm.rooms[roomID]; exists {
		delete(connections, conn)

		// Clean up empty room pools
		if len(connections) == 0 {
			delete(cm.rooms, roomID)
		}
	}
}

// subscribers returns the room's connections, minus exclude
func (cm *ConnectionManager) subscribers(roomID string, exclude *Connection) []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	targets := make([]*Connection, 0, len(cm.rooms[roomID]))
	for conn := range cm.rooms[roomID] {
		if conn == exclude {
			continue
		}
		targets = append(targets, conn)
	}
	return targets
}

// Broadcast sends data to every subscriber of the room except exclude.
// Subscribers whose send buffer is full are disconnected.
func (cm *ConnectionManager) Broadcast(roomID string, data []byte, exclude *Connection) int {
	targets := cm.subscribers(roomID, exclude)

	sent := 0
	for _, conn := range targets {
		if cm.send(conn, data) {
			sent++
		}
	}
	return sent
}

// send delivers data to a single connection
func (cm *ConnectionManager) send(conn *Connection, data []byte) bool {
	err := conn.enqueue(data)
	switch {
	case err == nil:
		return true
	case errors.Is(err, errSendBufferFull):
		// Connection is slow/dead, close it
		log.Warn().
			Str("connection_id", conn.ID).
			Str("user_id", conn.userID).
			Msg("connection send buffer full, closing connection")
		conn.Close()
	}
	return false
}

// CloseAll closes every open connection
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	connections := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		connections = append(connections, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range connections {
		conn.Close()
	}
}

// ConnectionStats is a point-in-time view of the connection pools
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	SubscribedRooms  int            `json:"subscribed_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

// Stats returns statistics about active connections
func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	roomCounts := make(map[string]int, len(cm.rooms))
	for roomID, connections := range cm.rooms {
		roomCounts[roomID] = len(connections)
	}

	return ConnectionStats{
		TotalConnections: len(cm.connections),
		SubscribedRooms:  len(cm.rooms),
		RoomConnections:  roomCounts,
	}
}

// originChecker accepts requests whose Origin is in allowed. "*" allows
// any origin, and requests without an Origin header are accepted.
func originChecker(allowed []string) func(r *http.Request) bool {
	normalized := make(map[string]struct{}, len(allowed))
	allowAll := false
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.ToLower(strings.TrimSpace(origin)), "/")
		if origin == "*" {
			allowAll = true
		}
		normalized[origin] = struct{}{}
	}

	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		_, ok := normalized[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump(config ConnectionConfig) {
	ticker := time.NewTicker(config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection. Every
// frame is passed to handle; when the socket fails, onClose runs once.
func (c *Connection) readPump(config ConnectionConfig, handle func([]byte), onClose func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("connection_id", c.ID).
				Msg("recovered from panic while handling message")
		}
		onClose()
		c.Close()
	}()

	c.Conn.SetReadLimit(config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		handle(message)
		c.Conn.SetReadDeadline(time.Now().Add(config.ReadTimeout))
	}
}
