package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-avr/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-avr/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-avr/internal/receiver"
)

// Message types exchanged over /ws.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// ChannelStateChanged carries every published receiver state.
const ChannelStateChanged = "receiver.state_changed"

// triggerSnapshot marks events replayed from the current views on subscribe.
const triggerSnapshot = "snapshot"

const wsSendBufferSize = 64

// WSMessage is the envelope for every frame sent to a client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsRequest is a frame received from a client. The payload is decoded
// per message type.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload selects channels and, optionally, receivers.
// An empty Receivers list means every receiver. Snapshot asks for the
// current view of each matching receiver straight after subscribing.
type WSSubscribePayload struct {
	Channels  []string `json:"channels"`
	Receivers []string `json:"receivers,omitempty"`
	Snapshot  bool     `json:"snapshot,omitempty"`
}

// StateEvent is the payload of a receiver.state_changed event.
type StateEvent struct {
	ReceiverID string         `json:"receiver_id"`
	Trigger    string         `json:"trigger"`
	Changed    bool           `json:"changed"`
	State      receiver.State `json:"state"`
	SourceName string         `json:"source_name,omitempty"`
	At         time.Time      `json:"at"`
}

func newStateEvent(u receiver.Update) StateEvent {
	return StateEvent{
		ReceiverID: u.ReceiverID,
		Trigger:    string(u.Trigger),
		Changed:    u.Changed,
		State:      u.State,
		SourceName: u.SourceName,
		At:         u.At.UTC(),
	}
}

// SnapshotFunc returns the current view of every receiver that has one.
type SnapshotFunc func() []StateEvent

// Hub fans receiver events out to subscribed WebSocket clients.
type Hub struct {
	cfg      config.WebSocketConfig
	logger   *logging.Logger
	snapshot SnapshotFunc

	mu      sync.RWMutex
	clients map[*WSClient]struct{}

	dropped atomic.Uint64
}

// WSClient is one connected WebSocket peer.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu        sync.RWMutex
	channels  map[string]struct{}
	receivers map[string]struct{} // empty: all receivers
}

func newWSClient(hub *Hub, conn *websocket.Conn) *WSClient {
	return &WSClient{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, wsSendBufferSize),
		channels:  make(map[string]struct{}),
		receivers: make(map[string]struct{}),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// NewHub creates a hub. snapshot may be nil, in which case subscribe
// requests asking for a snapshot get none.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, snapshot SnapshotFunc) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		snapshot: snapshot,
		clients:  make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
		delete(h.clients, c)
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client. Only the call that actually removes it
// closes the send channel.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		close(c.send)
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// Broadcast sends payload to clients subscribed to channel whose receiver
// filter admits receiverID.
func (h *Hub) Broadcast(channel, receiverID string, payload any) {
	data, err := encodeEvent(channel, payload)
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.wants(channel, receiverID) {
			c.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were discarded because a client's
// buffer was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func encodeEvent(channel string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

// snapshotEvents builds state events from the receivers' current views.
func (s *Server) snapshotEvents() []StateEvent {
	var events []StateEvent
	for _, d := range s.receivers.Devices() {
		state, at, ok := d.View()
		if !ok {
			continue
		}
		name, _ := d.Sources.Name(state.Source) //nolint:errcheck // Unknown index leaves the name empty
		events = append(events, StateEvent{
			ReceiverID: d.ID,
			Trigger:    triggerSnapshot,
			State:      state,
			SourceName: name,
			At:         at.UTC(),
		})
	}
	return events
}

// handleWebSocket upgrades the connection. Clients receive nothing until
// they subscribe.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newWSClient(s.hub, conn)
	s.hub.Register(c)

	go c.writePump()
	go c.readPump()
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	cfg := c.hub.cfg
	deadline := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(deadline)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // Best-effort; a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Application-level traffic counts as liveness too.
		extend() //nolint:errcheck // Best-effort deadline reset
		c.handle(data)
	}
}

func (c *WSClient) writePump() {
	cfg := c.hub.cfg
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // Write error is checked below
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // Closing anyway
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // Ping error is checked below
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handle(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply("", WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch req.Type {
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if len(req.Payload) > 0 {
			if err := json.Unmarshal(req.Payload, &sub); err != nil {
				c.reply(req.ID, WSTypeError, errorPayload("invalid "+req.Type+" payload"))
				return
			}
		}
		if len(sub.Channels) == 0 {
			c.reply(req.ID, WSTypeError, errorPayload("at least one channel is required"))
			return
		}
		if req.Type == WSTypeSubscribe {
			c.subscribe(req.ID, sub)
		} else {
			c.unsubscribe(req.ID, sub)
		}
	default:
		c.reply(req.ID, WSTypeError, errorPayload("unknown message type: "+req.Type))
	}
}

func (c *WSClient) subscribe(id string, sub WSSubscribePayload) {
	c.mu.Lock()
	for _, ch := range sub.Channels {
		c.channels[ch] = struct{}{}
	}
	for _, r := range sub.Receivers {
		c.receivers[r] = struct{}{}
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client subscribed", "channels", sub.Channels, "receivers", sub.Receivers)
	c.reply(id, WSTypeResponse, map[string]any{
		"subscribed": sub.Channels,
		"receivers":  sub.Receivers,
	})

	if !sub.Snapshot || c.hub.snapshot == nil || !c.wantsChannel(ChannelStateChanged) {
		return
	}
	for _, ev := range c.hub.snapshot() {
		if !c.wants(ChannelStateChanged, ev.ReceiverID) {
			continue
		}
		if data, err := encodeEvent(ChannelStateChanged, ev); err == nil {
			c.trySend(data)
		}
	}
}

// unsubscribe drops channels. The receiver filter is left as is.
func (c *WSClient) unsubscribe(id string, sub WSSubscribePayload) {
	c.mu.Lock()
	for _, ch := range sub.Channels {
		delete(c.channels, ch)
	}
	c.mu.Unlock()

	c.reply(id, WSTypeResponse, map[string]any{"unsubscribed": sub.Channels})
}

func (c *WSClient) wantsChannel(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

func (c *WSClient) wants(channel, receiverID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.channels[channel]; !ok {
		return false
	}
	if len(c.receivers) == 0 {
		return true
	}
	_, ok := c.receivers[receiverID]
	return ok
}

// trySend queues data without blocking. A full buffer drops the frame;
// a channel closed by a concurrent Unregister is absorbed.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on closed channel during disconnect
	}()

	select {
	case c.send <- data:
	default:
		c.hub.dropped.Add(1)
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func errorPayload(msg string) map[string]string {
	return map[string]string{"message": msg}
}
