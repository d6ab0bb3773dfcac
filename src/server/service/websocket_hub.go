package service

import (
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/apimgr/pharmacy/src/server/model"
	"github.com/gorilla/websocket"
)

// EventType identifies the kind of change carried by a NotificationEvent
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// NotificationEvent is the realtime change payload for one notification
// row. Delivery is at-least-once; handlers must be idempotent.
type NotificationEvent struct {
	Event    EventType            `json:"event"`
	Row      *models.Notification `json:"row"`
	Previous *models.Notification `json:"previous,omitempty"`
}

// EventHandler receives notification change events for one subscriber
type EventHandler func(NotificationEvent)

// WebSocketMessage represents a message sent over WebSocket
type WebSocketMessage struct {
	// "notification", "ping", "pong"
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// subscription is one (user, client) handler registration. Events flow
// through a buffered channel and a dedicated delivery goroutine so a slow
// handler never blocks the publish path.
type subscription struct {
	userID   int
	clientID string
	handler  EventHandler
	events   chan NotificationEvent
	done     chan struct{}
	closeOne sync.Once
}

func (s *subscription) close() {
	s.closeOne.Do(func() { close(s.done) })
}

func (s *subscription) run() {
	for {
		select {
		case ev := <-s.events:
			s.deliver(ev)
		case <-s.done:
			return
		}
	}
}

// deliver invokes the handler, isolating panics from the hub and from
// other subscribers
func (s *subscription) deliver(ev NotificationEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("⚠️  Notification handler panic (user %d, client %s): %v", s.userID, s.clientID, r)
		}
	}()
	s.handler(ev)
}

// WebSocketClient represents a connected WebSocket client
type WebSocketClient struct {
	// "user-{userID}-{connID}"
	ID       string
	UserID   int
	Conn     *websocket.Conn
	Hub      *WebSocketHub
	Send     chan []byte
	LastPing time.Time
}

// NewWebSocketClient wraps an upgraded connection for the hub
func NewWebSocketClient(hub *WebSocketHub, conn *websocket.Conn, userID int, connID string) *WebSocketClient {
	return &WebSocketClient{
		ID:       "user-" + strconv.Itoa(userID) + "-" + connID,
		UserID:   userID,
		Conn:     conn,
		Hub:      hub,
		Send:     make(chan []byte, 64),
		LastPing: time.Now(),
	}
}

// WebSocketHub is the realtime bus: it fans notification change events
// out to in-process subscribers and connected WebSocket clients.
type WebSocketHub struct {
	mu sync.RWMutex
	// userID -> clientID -> subscription
	subs    map[int]map[string]*subscription
	clients map[string]*WebSocketClient

	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	done       chan struct{}
	stopOnce   sync.Once
}

// NewWebSocketHub creates a new hub
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		subs:       make(map[int]map[string]*subscription),
		clients:    make(map[string]*WebSocketClient),
		register:   make(chan *WebSocketClient, 10),
		unregister: make(chan *WebSocketClient, 10),
		done:       make(chan struct{}),
	}
}

// Run starts the hub loop (run in goroutine)
func (h *WebSocketHub) Run() {
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	cleanupTicker := time.NewTicker(5 * time.Minute)
	defer cleanupTicker.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client registered: %s (total: %d)", client.ID, total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.Send)
			}
			h.mu.Unlock()

		case <-pingTicker.C:
			h.pingClients()

		case <-cleanupTicker.C:
			h.cleanupStaleConnections()

		case <-h.done:
			log.Println("WebSocket hub shutting down")
			return
		}
	}
}

// Stop stops the hub and closes all connections and subscriptions
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, client := range h.clients {
		client.Conn.Close()
	}
	for _, clientSubs := range h.subs {
		for _, sub := range clientSubs {
			sub.close()
		}
	}
	h.subs = make(map[int]map[string]*subscription)
}

// Subscribe registers handler for all change events on userID's
// notifications and returns the unsubscribe closure. A client instance
// holds at most one subscription: subscribing again with the same
// clientID closes the previous one.
func (h *WebSocketHub) Subscribe(userID int, clientID string, handler EventHandler) func() {
	sub := &subscription{
		userID:   userID,
		clientID: clientID,
		handler:  handler,
		events:   make(chan NotificationEvent, 64),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[string]*subscription)
	}
	if prev, ok := h.subs[userID][clientID]; ok {
		prev.close()
	}
	h.subs[userID][clientID] = sub
	h.mu.Unlock()

	go sub.run()

	return func() {
		h.mu.Lock()
		if cur, ok := h.subs[userID][clientID]; ok && cur == sub {
			delete(h.subs[userID], clientID)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
		}
		h.mu.Unlock()
		sub.close()
	}
}

// Publish fans an event out to every subscriber and connected WebSocket
// client of the row's user. Publishing never blocks: a subscriber whose
// buffer is full misses the event and reconciles on its next refresh.
func (h *WebSocketHub) Publish(ev NotificationEvent) {
	if ev.Row == nil {
		return
	}
	userID := ev.Row.UserID

	h.mu.RLock()
	subs := make([]*subscription, 0, len(h.subs[userID]))
	for _, sub := range h.subs[userID] {
		subs = append(subs, sub)
	}
	clients := make([]*WebSocketClient, 0, 2)
	for _, client := range h.clients {
		if client.UserID == userID {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.events <- ev:
		default:
		}
	}

	if len(clients) > 0 {
		message := &WebSocketMessage{Type: "notification", Data: ev}
		data, err := json.Marshal(message)
		if err != nil {
			log.Printf("Error marshaling WebSocket message: %v", err)
			return
		}
		for _, client := range clients {
			h.sendToClient(client, data)
		}
	}
}

// RegisterClient registers a new WebSocket client
func (h *WebSocketHub) RegisterClient(client *WebSocketClient) {
	h.register <- client
}

// UnregisterClient unregisters a WebSocket client
func (h *WebSocketHub) UnregisterClient(client *WebSocketClient) {
	h.unregister <- client
}

// IsUserConnected checks if a user has at least one WebSocket connection
func (h *WebSocketHub) IsUserConnected(userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if client.UserID == userID {
			return true
		}
	}
	return false
}

// SubscriberCount returns the number of active subscriptions for a user
func (h *WebSocketHub) SubscriberCount(userID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// ConnectedCount returns the number of connected WebSocket clients
func (h *WebSocketHub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// sendToClient sends a frame to a specific client
func (h *WebSocketHub) sendToClient(client *WebSocketClient, data []byte) {
	select {
	case client.Send <- data:
		// Frame queued
	default:
		// Client send buffer is full, close connection
		h.UnregisterClient(client)
		client.Conn.Close()
	}
}

// pingClients sends ping messages to all clients
func (h *WebSocketHub) pingClients() {
	h.mu.RLock()
	clients := make([]*WebSocketClient, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	ping := &WebSocketMessage{
		Type: "ping",
		Data: map[string]interface{}{"timestamp": time.Now().Unix()},
	}
	data, err := json.Marshal(ping)
	if err != nil {
		return
	}

	for _, client := range clients {
		h.sendToClient(client, data)
	}
}

// cleanupStaleConnections removes clients that haven't responded to pings
func (h *WebSocketHub) cleanupStaleConnections() {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	for id, client := range h.clients {
		// No ping response in 2 minutes means stale
		if now.Sub(client.LastPing) > 2*time.Minute {
			delete(h.clients, id)
			close(client.Send)
			client.Conn.Close()
			log.Printf("Removed stale WebSocket connection: %s", id)
		}
	}
}

// ReadPump handles reading messages from the WebSocket connection
func (c *WebSocketClient) ReadPump() {
	defer func() {
		c.Hub.UnregisterClient(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var wsMessage WebSocketMessage
		if err := json.Unmarshal(message, &wsMessage); err == nil {
			if wsMessage.Type == "pong" {
				c.LastPing = time.Now()
			}
		}
	}
}

// WritePump handles writing messages to the WebSocket connection
func (c *WebSocketClient) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Coalesce queued messages
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
