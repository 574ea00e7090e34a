// Package gateway terminates the game WebSocket connections. A client
// connects to /<GAMECODE>, authenticates with its first frame, and from
// then on every frame is forwarded to the room actor.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ludo-live/internal/auth"
	"ludo-live/internal/protocol"
	"ludo-live/internal/registry"
	"ludo-live/internal/room"
)

const (
	authTimeout    = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 16384
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: Restrict in production
	},
}

// Gateway manages game WebSocket connections.
type Gateway struct {
	mu          sync.RWMutex
	connections map[string]*Connection

	auth     auth.Service
	registry *registry.Registry
}

// Connection is one client socket. It implements room.Sink.
type Connection struct {
	ID     string
	UserID uint64
	Name   string

	conn      *websocket.Conn
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	gateway *Gateway
	room    *room.Room
	joined  bool
}

func New(authService auth.Service, reg *registry.Registry) *Gateway {
	return &Gateway{
		connections: make(map[string]*Connection),
		auth:        authService,
		registry:    reg,
	}
}

// HandleWebSocket upgrades a /<GAMECODE> request. Codes are
// case-insensitive on the wire and uppercased internally.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.Trim(r.URL.Path, "/"))
	if code == "" || strings.Contains(code, "/") {
		http.NotFound(w, r)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Gateway] Upgrade error: %v", err)
		return
	}

	c := &Connection{
		ID:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		closed:  make(chan struct{}),
		gateway: g,
	}

	g.mu.Lock()
	g.connections[c.ID] = c
	total := len(g.connections)
	g.mu.Unlock()
	log.Printf("[Gateway] Client connected: %s -> room %s, total: %d", c.ID, code, total)

	go c.writePump()
	go c.readPump(code)
}

// Send queues an outbound frame. It reports false once the connection
// is gone so the room can drop the sink.
func (c *Connection) Send(data []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- data:
	default:
		// Slow consumer: drop the frame, the next snapshot supersedes it.
	}
	return true
}

func (c *Connection) readPump(code string) {
	defer func() {
		c.shutdown()
		if c.joined && c.room != nil {
			c.room.ConnLost(c.UserID, c)
		}
		c.gateway.removeConnection(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	// The first frame must be AUTH; give it a short deadline.
	c.conn.SetReadDeadline(time.Now().Add(authTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[Gateway] Read error on %s: %v", c.ID, err)
			}
			return
		}

		var frame protocol.Inbound
		if err := json.Unmarshal(message, &frame); err != nil {
			log.Printf("[Gateway] Bad frame from %s: %v", c.ID, err)
			continue
		}

		if !c.joined {
			if frame.Action != protocol.ActionAuth {
				// Unauthenticated clients may only authenticate; drop
				// anything else and leave the auth deadline running.
				log.Printf("[Gateway] Dropping pre-auth %q frame from %s", frame.Action, c.ID)
				continue
			}
			if !c.handleAuth(code, frame) {
				return
			}
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
			continue
		}

		if frame.Action == protocol.ActionAuth {
			continue // Already authenticated.
		}
		if err := c.room.Action(c.UserID, frame.Action, frame.Payload); err != nil {
			// The room went away under us.
			c.closeWith(protocol.CloseServerError, "room closed")
			return
		}
	}
}

// handleAuth validates an AUTH frame and attaches the connection to
// its room. It reports false when the connection must terminate.
func (c *Connection) handleAuth(code string, frame protocol.Inbound) bool {
	var payload protocol.AuthPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		c.failAuth("invalid auth payload")
		return false
	}

	userID, username, ok := c.gateway.auth.ResolveSession(payload.Token)
	if !ok {
		c.failAuth("invalid session token")
		return false
	}
	c.UserID = userID
	c.Name = username

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rm, err := c.gateway.registry.Resolve(ctx, code)
	if err != nil {
		log.Printf("[Gateway] Resolve room %s failed for %s: %v", code, c.ID, err)
		if data := protocol.Error("room unavailable"); data != nil {
			c.Send(data)
		}
		c.closeWith(protocol.CloseServerError, "room unavailable")
		return false
	}

	if err := rm.Join(userID, username, c); err != nil {
		log.Printf("[Gateway] Join room %s rejected for user %d: %v", code, userID, err)
		if data := protocol.Error(err.Error()); data != nil {
			c.Send(data)
		}
		c.closeWith(protocol.CloseServerError, err.Error())
		return false
	}

	c.room = rm
	c.joined = true
	log.Printf("[Gateway] User %d (%s) authenticated into room %s", userID, username, code)
	return true
}

func (c *Connection) failAuth(reason string) {
	if data := protocol.AuthFailure(reason); data != nil {
		c.Send(data)
	}
	c.closeWith(protocol.CloseAuthFailure, reason)
}

// closeWith sends a close frame with the given code, then tears down.
func (c *Connection) closeWith(code int, reason string) {
	deadline := time.Now().Add(writeWait)
	message := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, message, deadline)
	c.shutdown()
}

func (c *Connection) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (g *Gateway) removeConnection(c *Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.connections, c.ID)
	log.Printf("[Gateway] Client disconnected: %s, total: %d", c.ID, len(g.connections))
}
