package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"FreshnessTracker/internal/domain"
	"FreshnessTracker/internal/ports"
)

// ErrHubClosed is returned by Publish after Run has returned.
var ErrHubClosed = errors.New("websocket hub closed")

// Message types exchanged over the socket.
const (
	TypeWelcome         = "welcome"
	TypePing            = "ping"
	TypePong            = "pong"
	TypeCurrentReadings = "current_readings"
	TypeGetReadings     = "get_current_readings"
	TypeJoin            = "join"
	TypeLeave           = "leave"
	TypeRoomJoined      = "room_joined"
	TypeError           = "error"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Envelope is the JSON frame for every message in both directions.
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type inbound struct {
	Type    string `json:"type"`
	Phase   string `json:"phase"`
	PatchID *int   `json:"patch_id"`
	Room    string `json:"room"`
}

// SampleSource answers get_current_readings requests.
type SampleSource interface {
	Sample(stage domain.Stage, patch domain.PatchID, at time.Time) (domain.Sample, error)
}

type outbound struct {
	stage domain.Stage
	data  []byte
}

type direct struct {
	client *client
	data   []byte
}

// Hub keeps the set of connected subscribers and fans sensor updates out to them.
// All writes to a client's send buffer happen on the Run goroutine.
type Hub struct {
	samples  SampleSource
	logger   *slog.Logger
	now      func() time.Time
	upgrader websocket.Upgrader

	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan outbound
	direct     chan direct
	done       chan struct{}

	mu        sync.Mutex
	connected int
}

var _ ports.Broadcaster = (*Hub)(nil)

// NewHub builds a hub; samples may be nil, in which case reading requests are answered with an error.
func NewHub(samples SampleSource, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		samples: samples,
		logger:  logger,
		now:     time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan outbound, sendBuffer),
		direct:     make(chan direct, sendBuffer),
		done:       make(chan struct{}),
	}
}

// Run owns the client registry until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for c := range h.clients {
			h.drop(c)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.setConnected(len(h.clients))
			h.logger.Info("subscriber connected", "client_id", c.id, "subscribers", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Info("subscriber disconnected", "client_id", c.id, "subscribers", len(h.clients))
			}

		case msg := <-h.direct:
			if _, ok := h.clients[msg.client]; ok {
				h.deliver(msg.client, msg.data)
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				if c.wants(msg.stage) {
					h.deliver(c, msg.data)
				}
			}
		}
	}
}

// Publish queues a sensor update for every subscriber interested in its stage.
func (h *Hub) Publish(ctx context.Context, topic string, payload domain.Payload) error {
	data, err := json.Marshal(Envelope{Type: topic, Data: payload})
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}

	msg := outbound{stage: payload.Stage, data: data}
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	// queue whenever there is room, even past the caller's deadline
	select {
	case h.broadcast <- msg:
		return nil
	default:
	}

	select {
	case h.broadcast <- msg:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribers reports how many clients are currently registered.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		id:    uuid.NewString(),
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		rooms: make(map[domain.Stage]struct{}),
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()

	h.reply(c, TypeWelcome, map[string]string{
		"message":   "Connected to IoT Sensor Simulator",
		"client_id": c.id,
	})
}

func (h *Hub) reply(c *client, kind string, data interface{}) {
	raw, err := json.Marshal(Envelope{Type: kind, Data: data})
	if err != nil {
		h.logger.Error("encode reply failed", "type", kind, "error", err)
		return
	}
	select {
	case h.direct <- direct{client: c, data: raw}:
	case <-h.done:
	}
}

func (h *Hub) deliver(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Warn("dropping slow subscriber", "client_id", c.id)
		h.drop(c)
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.setConnected(len(h.clients))
}

func (h *Hub) setConnected(n int) {
	h.mu.Lock()
	h.connected = n
	h.mu.Unlock()
}

func (h *Hub) handle(c *client, raw []byte) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.reply(c, TypeError, map[string]string{"error": "malformed message"})
		return
	}

	switch msg.Type {
	case TypePing:
		h.reply(c, TypePong, map[string]string{"server_time": h.now().Format(time.RFC3339Nano)})

	case TypeGetReadings:
		h.currentReadings(c, msg)

	case TypeJoin, TypeLeave:
		stage, err := domain.ParseStage(msg.Room)
		if err != nil {
			h.reply(c, TypeError, map[string]string{"error": err.Error()})
			return
		}
		if msg.Type == TypeJoin {
			c.join(stage)
			h.reply(c, TypeRoomJoined, map[string]string{"room": string(stage)})
		} else {
			c.leave(stage)
		}

	default:
		h.reply(c, TypeError, map[string]string{"error": fmt.Sprintf("unknown message type %q", msg.Type)})
	}
}

func (h *Hub) currentReadings(c *client, msg inbound) {
	if h.samples == nil {
		h.reply(c, TypeError, map[string]string{"error": "readings unavailable"})
		return
	}

	stage := domain.StageOrigin
	if msg.Phase != "" {
		parsed, err := domain.ParseStage(msg.Phase)
		if err != nil {
			h.reply(c, TypeError, map[string]string{"error": err.Error()})
			return
		}
		stage = parsed
	}
	patch := domain.PatchID(1)
	if msg.PatchID != nil {
		patch = domain.PatchID(*msg.PatchID)
	}

	sample, err := h.samples.Sample(stage, patch, h.now())
	if err != nil {
		h.reply(c, TypeError, map[string]string{"error": err.Error()})
		return
	}
	h.reply(c, TypeCurrentReadings, sample.Payload())
}

type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu    sync.Mutex
	rooms map[domain.Stage]struct{}
}

// wants reports whether the client subscribed to the stage; no rooms means everything.
func (c *client) wants(stage domain.Stage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.rooms) == 0 {
		return true
	}
	_, ok := c.rooms[stage]
	return ok
}

func (c *client) join(stage domain.Stage) {
	c.mu.Lock()
	c.rooms[stage] = struct{}{}
	c.mu.Unlock()
}

func (c *client) leave(stage domain.Stage) {
	c.mu.Lock()
	delete(c.rooms, stage)
	c.mu.Unlock()
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("subscriber read failed", "client_id", c.id, "error", err)
			}
			return
		}
		c.hub.handle(c, raw)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
