package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 32 * 1024
	sendBuffer     = 64
)

// socketEvent is the frame every socket message rides in, both directions.
// Requests that expect a reply carry an id; the reply reuses the event name
// and echoes the id back with either data or error set.
type socketEvent struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// hostScope names the broadcast scope only a room's host connections sit
// in; the bare token is the scope every participant sits in.
func hostScope(roomToken string) string {
	return roomToken + ":host"
}

// Hub tracks who is connected (presence, by user) and who listens where
// (scopes, by name). It routes frames; it holds no room or media state.
type Hub struct {
	logger *log.Logger

	mu       sync.Mutex
	presence map[string]map[*Client]bool
	scopes   map[string]map[*Client]bool
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		logger:   logger,
		presence: make(map[string]map[*Client]bool),
		scopes:   make(map[string]map[*Client]bool),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.presence[c.userID] == nil {
		h.presence[c.userID] = make(map[*Client]bool)
	}
	h.presence[c.userID][c] = true
}

// Unregister drops the client from presence and from every scope it
// subscribed to. The user's presence entry disappears with its last
// connection.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns := h.presence[c.userID]; conns != nil {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.presence, c.userID)
		}
	}

	for scope := range c.scopes {
		h.dropFromScopeLocked(scope, c)
	}
}

func (h *Hub) Subscribe(c *Client, scope string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.scopes[scope] == nil {
		h.scopes[scope] = make(map[*Client]bool)
	}
	h.scopes[scope][c] = true
	c.scopes[scope] = true
}

func (h *Hub) Unsubscribe(c *Client, scope string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropFromScopeLocked(scope, c)
}

func (h *Hub) dropFromScopeLocked(scope string, c *Client) {
	delete(c.scopes, scope)
	if clients := h.scopes[scope]; clients != nil {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.scopes, scope)
		}
	}
}

func (h *Hub) InScope(c *Client, scope string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return c.scopes[scope]
}

// Broadcast fans an event out to every connection in a scope, minus an
// optional sender.
func (h *Hub) Broadcast(scope, event string, payload any, except *Client) {
	frame, err := marshalFrame(event, payload)
	if err != nil {
		h.logger.Printf("ws: marshaling %s broadcast: %v", event, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.scopes[scope] {
		if c == except {
			continue
		}
		c.trySend(frame)
	}
}

// SendToUser delivers an event to every connection a user has, in or out
// of any room.
func (h *Hub) SendToUser(userID, event string, payload any) {
	frame, err := marshalFrame(event, payload)
	if err != nil {
		h.logger.Printf("ws: marshaling %s event: %v", event, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.presence[userID] {
		c.trySend(frame)
	}
}

func marshalFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(socketEvent{Event: event, Data: data})
}

// Client is one websocket connection. Its id keys all media state in the
// coordinator, so one user on two devices holds two independent sets.
type Client struct {
	id     string
	userID string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	scopes map[string]bool
}

// trySend queues a frame without blocking; a connection too slow to drain
// its buffer loses frames rather than stalling the caller.
func (c *Client) trySend(frame []byte) {
	select {
	case c.send <- frame:
	default:
		c.hub.logger.Printf("ws: send buffer full, dropping frame for connection %s", c.id)
	}
}

// Notify implements the media coordinator's callback. It must not block:
// the coordinator invokes it while holding its lock.
func (c *Client) Notify(event string, payload any) {
	frame, err := marshalFrame(event, payload)
	if err != nil {
		c.hub.logger.Printf("ws: marshaling %s event: %v", event, err)
		return
	}
	c.trySend(frame)
}

func (c *Client) reply(event, id string, payload any) {
	var data json.RawMessage
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			c.replyError(event, id, "internal error")
			c.hub.logger.Printf("ws: marshaling %s reply: %v", event, err)
			return
		}
	}

	frame, err := json.Marshal(socketEvent{Event: event, ID: id, Data: data})
	if err != nil {
		c.hub.logger.Printf("ws: marshaling %s reply: %v", event, err)
		return
	}
	c.trySend(frame)
}

func (c *Client) replyError(event, id, message string) {
	frame, err := json.Marshal(socketEvent{Event: event, ID: id, Error: message})
	if err != nil {
		c.hub.logger.Printf("ws: marshaling %s error reply: %v", event, err)
		return
	}
	c.trySend(frame)
}

func (c *Client) readPump(app *application) {
	defer func() {
		app.disconnectClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Printf("ws: reading from connection %s: %v", c.id, err)
			}
			return
		}

		var event socketEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			c.replyError("socket-error", "", "malformed event")
			continue
		}
		app.handleSocketEvent(c, event)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// disconnectClient runs the ordered teardown for a dropped connection:
// media first, then presence and scopes. The attendance row is left open
// on purpose; only an explicit leave closes it.
func (app *application) disconnectClient(c *Client) {
	app.sfu.Disconnect(c.id)
	app.hub.Unregister(c)
	close(c.send)
}

// wsHandler upgrades the connection and authenticates it from the ?token=
// query parameter, since browsers cannot set headers on a websocket dial.
// Failures are reported in-band with a socket-error frame before closing.
func (app *application) wsHandler(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		app.logError(r, err)
		return
	}

	user, _, err := app.authenticate(r, r.URL.Query().Get("token"))
	if err != nil {
		frame, _ := json.Marshal(socketEvent{
			Event: "socket-error",
			Data:  json.RawMessage(`{"message":"Unauthorized","reason":"SESSION_TERMINATE"}`),
		})
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, frame)
		conn.Close()
		return
	}

	client := &Client{
		id:     uuid.NewString(),
		userID: user.ID,
		hub:    app.hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		scopes: make(map[string]bool),
	}
	app.hub.Register(client)

	go client.writePump()
	go client.readPump(app)
}
