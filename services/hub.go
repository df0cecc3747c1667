package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
	handleTimeout  = 10 * time.Second
)

// MessageHandler receives what clients send and learns when they leave.
type MessageHandler interface {
	HandleMessage(ctx context.Context, connID string, msg IncomingMessage)
	HandleDisconnect(ctx context.Context, connID string)
}

type Hub struct {
	clients    map[string]*Client
	rooms      map[string]map[string]*Client
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mutex      sync.RWMutex
	handler    MessageHandler
	logger     *slog.Logger
}

type Client struct {
	hub      *Hub
	id       string
	socket   *websocket.Conn
	send     chan []byte
	roomCode string
}

// Message is the outbound envelope.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// IncomingMessage keeps the payload raw until the handler knows its shape.
type IncomingMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// SetHandler wires the consumer of inbound messages. It must be called before
// Run.
func (h *Hub) SetHandler(handler MessageHandler) {
	h.handler = handler
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				close(client.send)
			}
			h.rooms = make(map[string]map[string]*Client)
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mutex.Unlock()
			// Pumps start only once the client can be addressed.
			go client.writePump()
			go client.readPump()
			h.logger.Debug("client registered", "conn", client.id, "clients", total)

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Debug("client unregistered", "conn", client.id)
			if h.handler != nil {
				go func(id string) {
					ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
					defer cancel()
					h.handler.HandleDisconnect(ctx, id)
				}(client.id)
			}
		}
	}
}

// remove forgets client and closes its send channel once.
func (h *Hub) remove(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[client.id]; !ok {
		return
	}
	delete(h.clients, client.id)
	if members, ok := h.rooms[client.roomCode]; ok {
		delete(members, client.id)
		if len(members) == 0 {
			delete(h.rooms, client.roomCode)
		}
	}
	close(client.send)
}

func (h *Hub) Subscribe(connID, roomCode string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	client, ok := h.clients[connID]
	if !ok {
		return
	}
	if client.roomCode == roomCode {
		return
	}
	if members, ok := h.rooms[client.roomCode]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, client.roomCode)
		}
	}
	if _, ok := h.rooms[roomCode]; !ok {
		h.rooms[roomCode] = make(map[string]*Client)
	}
	h.rooms[roomCode][connID] = client
	client.roomCode = roomCode
}

// CloseRoom detaches every subscriber of roomCode.
func (h *Hub) CloseRoom(roomCode string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for _, client := range h.rooms[roomCode] {
		client.roomCode = ""
	}
	delete(h.rooms, roomCode)
}

func encode(messageType string, payload interface{}) ([]byte, error) {
	return json.Marshal(Message{Type: messageType, Payload: payload})
}

// Publish sends to every subscriber of roomCode. Subscribers whose buffer is
// full are dropped; the rest still receive the event.
func (h *Hub) Publish(roomCode, messageType string, payload interface{}) {
	data, err := encode(messageType, payload)
	if err != nil {
		h.logger.Error("marshal event", "type", messageType, "err", err)
		return
	}

	var dead []*Client
	h.mutex.RLock()
	for _, client := range h.rooms[roomCode] {
		select {
		case client.send <- data:
		default:
			dead = append(dead, client)
		}
	}
	sent := len(h.rooms[roomCode]) - len(dead)
	h.mutex.RUnlock()

	for _, client := range dead {
		h.logger.Warn("send buffer full, dropping client", "conn", client.id, "room", roomCode)
		h.remove(client)
	}
	h.logger.Debug("broadcast", "type", messageType, "room", roomCode, "recipients", sent)
}

func (h *Hub) PublishToCaller(connID, messageType string, payload interface{}) {
	data, err := encode(messageType, payload)
	if err != nil {
		h.logger.Error("marshal event", "type", messageType, "err", err)
		return
	}

	full := false
	h.mutex.RLock()
	client, ok := h.clients[connID]
	if ok {
		select {
		case client.send <- data:
		default:
			full = true
		}
	}
	h.mutex.RUnlock()

	if full {
		h.logger.Warn("send buffer full, dropping client", "conn", connID)
		h.remove(client)
	}
}

// RoomSize counts the connections subscribed to roomCode.
func (h *Hub) RoomSize(roomCode string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[roomCode])
}

// RegisterClient takes ownership of conn and starts its pumps.
func (h *Hub) RegisterClient(conn *websocket.Conn) *Client {
	client := &Client{
		hub:    h,
		id:     uuid.NewString(),
		socket: conn,
		send:   make(chan []byte, sendBuffer),
	}

	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
		conn.Close()
	}
	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.socket.Close()
	}()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error", "conn", c.id, "err", err)
			}
			break
		}

		var msg IncomingMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Debug("unreadable message", "conn", c.id, "err", err)
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.socket.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}

			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg IncomingMessage) {
	if msg.Type == "ping" {
		c.hub.PublishToCaller(c.id, EventPong, "pong")
		return
	}
	if c.hub.handler == nil {
		c.hub.logger.Warn("no handler for message", "type", msg.Type, "conn", c.id)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	c.hub.handler.HandleMessage(ctx, c.id, msg)
}
