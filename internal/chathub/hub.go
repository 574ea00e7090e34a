// Package chathub runs the site-wide chat channels (group and support),
// which live outside any game room. Messages fan out to every subscriber
// of the same channel and are persisted best-effort.
package chathub

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
	"ludo-live/internal/store"
	"ludo-live/ludo"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
	maxMsgSize = 8192
	historyCap = 50
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  2048,
	WriteBufferSize: 2048,
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: Restrict in production
	},
}

// Hub is one named chat channel.
type Hub struct {
	Name string

	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	history []ludo.ChatEntry

	auth  auth.Service
	store store.Service
}

type subscriber struct {
	userID uint64
	name   string
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

type chatFrame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func New(name string, authService auth.Service, storeService store.Service) *Hub {
	return &Hub{
		Name:  name,
		subs:  make(map[*subscriber]struct{}),
		auth:  authService,
		store: storeService,
	}
}

// HandleWebSocket upgrades a chat connection. The session token rides
// the query string; unauthenticated sockets are closed immediately.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	userID, username, ok := h.auth.ResolveSession(token)
	if !ok {
		http.Error(w, "invalid session token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Chat %s] Upgrade error: %v", h.Name, err)
		return
	}

	sub := &subscriber{
		userID: userID,
		name:   username,
		send:   make(chan []byte, 32),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	backlog := make([]ludo.ChatEntry, len(h.history))
	copy(backlog, h.history)
	h.mu.Unlock()
	log.Printf("[Chat %s] User %d (%s) joined", h.Name, userID, username)

	go h.writePump(conn, sub)
	go h.readPump(conn, sub)

	// Replay recent history so a fresh client has context. The pumps are
	// already running, so a backlog larger than the send buffer drains
	// instead of wedging this handler.
	for _, entry := range backlog {
		data := h.encode(entry)
		if data == nil {
			continue
		}
		select {
		case sub.send <- data:
		case <-sub.done:
			return
		}
	}
}

func (h *Hub) readPump(conn *websocket.Conn, sub *subscriber) {
	defer func() {
		sub.close()
		_ = conn.Close()
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
		log.Printf("[Chat %s] User %d left", h.Name, sub.userID)
	}()

	conn.SetReadLimit(maxMsgSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var inbound protocol.Inbound
		if err := json.Unmarshal(message, &inbound); err != nil {
			continue
		}
		if inbound.Action != protocol.ActionSendChat {
			continue
		}
		var payload protocol.ChatPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			continue
		}
		text := strings.TrimSpace(payload.Text)
		if text == "" {
			continue
		}

		h.Publish(ludo.ChatEntry{
			ID:     uuid.NewString(),
			UserID: sub.userID,
			Name:   sub.name,
			Text:   text,
			SentAt: time.Now().UTC(),
		})
	}
}

// Publish records an entry and fans it out to every subscriber.
func (h *Hub) Publish(entry ludo.ChatEntry) {
	data := h.encode(entry)

	h.mu.Lock()
	h.history = append(h.history, entry)
	if len(h.history) > historyCap {
		h.history = h.history[len(h.history)-historyCap:]
	}
	for sub := range h.subs {
		select {
		case sub.send <- data:
		default:
			// Slow consumer: skip, history replay covers them on reconnect.
		}
	}
	h.mu.Unlock()

	svc, channel := h.store, h.Name
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svc.AppendChat(ctx, "chat:"+channel, "", entry); err != nil {
			log.Printf("[Chat %s] persist failed: %v", channel, err)
		}
	}()
}

// History returns a copy of the retained entries, newest last.
func (h *Hub) History() []ludo.ChatEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ludo.ChatEntry, len(h.history))
	copy(out, h.history)
	return out
}

func (h *Hub) encode(entry ludo.ChatEntry) []byte {
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil
	}
	data, err := json.Marshal(chatFrame{
		Type:    "CHAT_MESSAGE",
		Channel: h.Name,
		Payload: payload,
	})
	if err != nil {
		return nil
	}
	return data
}

func (h *Hub) writePump(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.close()
		_ = conn.Close()
	}()

	for {
		select {
		case message := <-sub.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.done:
			return
		}
	}
}
