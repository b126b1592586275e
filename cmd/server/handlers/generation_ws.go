package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/archipelago-lobby/lobby/internal/realtime"
)

var generationUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict to configured origins once a room's web UI origin
		// is known; development mode allows all.
		return true
	},
}

// generationClient is one WebSocket connection subscribed to a single
// room's generation-status events.
type generationClient struct {
	conn   *websocket.Conn
	roomID string
}

// GenerationStatusHub serves GET /room/{id}/generation/status: it
// subscribes to the shared EventBus and fans room-scoped events out to the
// WebSocket clients watching that room.
type GenerationStatusHub struct {
	clients map[*generationClient]bool
	mu      sync.RWMutex

	register   chan *generationClient
	unregister chan *generationClient

	logger   *slog.Logger
	eventBus *realtime.DefaultEventBus
}

// NewGenerationStatusHub creates a hub and subscribes it to eventBus.
func NewGenerationStatusHub(eventBus *realtime.DefaultEventBus, logger *slog.Logger) *GenerationStatusHub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &GenerationStatusHub{
		clients:    make(map[*generationClient]bool),
		register:   make(chan *generationClient),
		unregister: make(chan *generationClient),
		logger:     logger.With("component", "generation_status_hub"),
		eventBus:   eventBus,
	}
	if eventBus != nil {
		sub := newRoomBroadcastSubscriber(h, h.logger)
		if err := eventBus.Subscribe(sub); err != nil {
			h.logger.Error("failed to subscribe generation status hub to event bus", "error", err)
		}
	}
	return h
}

// Run processes register/unregister requests until ctx is cancelled.
func (h *GenerationStatusHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.conn.Close()
			}
			h.mu.Unlock()
		}
	}
}

// broadcastToRoom sends event to every client watching event.RoomID.
func (h *GenerationStatusHub) broadcastToRoom(event realtime.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.roomID != event.RoomID {
			continue
		}
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteJSON(event); err != nil {
			h.logger.Warn("failed to write generation status event", "error", err, "room_id", event.RoomID)
			go func(c *generationClient) { h.unregister <- c }(c)
		}
	}
}

func (h *GenerationStatusHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
	}
	h.clients = make(map[*generationClient]bool)
}

// ServeRoomStatus upgrades the connection and registers it for the room
// named by the request's {id} path parameter until the client
// disconnects.
func (h *GenerationStatusHub) ServeRoomStatus(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]
	conn, err := generationUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err, "room_id", roomID)
		return
	}
	client := &generationClient{conn: conn, roomID: roomID}
	h.register <- client
	go h.readPump(client)
}

// readPump keeps the connection alive via ping/pong and detects client
// disconnects; the client never sends application data on this endpoint.
func (h *GenerationStatusHub) readPump(c *generationClient) {
	defer func() { h.unregister <- c }()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// roomBroadcastSubscriber adapts GenerationStatusHub to realtime.EventSubscriber.
type roomBroadcastSubscriber struct {
	hub    *GenerationStatusHub
	logger *slog.Logger
	id     string
	ctx    context.Context
}

func newRoomBroadcastSubscriber(hub *GenerationStatusHub, logger *slog.Logger) *roomBroadcastSubscriber {
	return &roomBroadcastSubscriber{hub: hub, logger: logger, id: "generation-status-hub", ctx: context.Background()}
}

func (s *roomBroadcastSubscriber) ID() string                 { return s.id }
func (s *roomBroadcastSubscriber) Context() context.Context   { return s.ctx }
func (s *roomBroadcastSubscriber) Close() error                { return nil }
func (s *roomBroadcastSubscriber) Send(event realtime.Event) error {
	s.hub.broadcastToRoom(event)
	return nil
}
