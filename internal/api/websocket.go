package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iotzoo/iotzoo-core/internal/device"
	"github.com/iotzoo/iotzoo-core/internal/infrastructure/config"
	"github.com/iotzoo/iotzoo-core/internal/infrastructure/logging"
	"github.com/iotzoo/iotzoo-core/internal/reconcile"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// ClientMessage is a request from a WebSocket client.
type ClientMessage struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// Channels are event kinds, e.g. "push.completed".
	Channels []reconcile.EventKind `json:"channels,omitempty"`

	// MACs narrows the subscription to these boards. Empty means every board.
	MACs []string `json:"macs,omitempty"`
}

// ServerMessage is sent to a WebSocket client.
type ServerMessage struct {
	Type         string           `json:"type"`
	ID           string           `json:"id,omitempty"`
	Time         time.Time        `json:"time"`
	Event        *reconcile.Event `json:"event,omitempty"`
	Subscription *Subscription    `json:"subscription,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// Subscription is the filter of a client after subscribe or unsubscribe.
// Unknown lists rejected channel names and malformed MACs.
type Subscription struct {
	Channels []reconcile.EventKind `json:"channels"`
	MACs     []string              `json:"macs,omitempty"`
	Unknown  []string              `json:"unknown,omitempty"`
}

// knownChannels are the channels a client may subscribe to.
var knownChannels = func() map[reconcile.EventKind]struct{} {
	m := make(map[reconcile.EventKind]struct{})
	for _, kind := range reconcile.EventKinds() {
		m[kind] = struct{}{}
	}
	return m
}()

// splitChannels separates known channel names from unknown ones.
func splitChannels(channels []reconcile.EventKind) (known []reconcile.EventKind, unknown []string) {
	for _, ch := range channels {
		if _, ok := knownChannels[ch]; ok {
			known = append(known, ch)
		} else {
			unknown = append(unknown, string(ch))
		}
	}
	return known, unknown
}

// eventFilter decides which engine events a client receives.
type eventFilter struct {
	kinds map[reconcile.EventKind]struct{}
	macs  map[string]struct{}
}

func newEventFilter() eventFilter {
	return eventFilter{
		kinds: make(map[reconcile.EventKind]struct{}),
		macs:  make(map[string]struct{}),
	}
}

// matches reports whether e passes the filter. Transport events carry no MAC
// and reach every client subscribed to their kind.
func (f eventFilter) matches(e reconcile.Event) bool {
	if _, ok := f.kinds[e.Kind]; !ok {
		return false
	}
	if len(f.macs) == 0 || e.MAC == "" {
		return true
	}
	_, ok := f.macs[e.MAC]
	return ok
}

func (f eventFilter) subscription() *Subscription {
	sub := &Subscription{Channels: make([]reconcile.EventKind, 0, len(f.kinds))}
	for _, kind := range reconcile.EventKinds() {
		if _, ok := f.kinds[kind]; ok {
			sub.Channels = append(sub.Channels, kind)
		}
	}
	for mac := range f.macs {
		sub.MACs = append(sub.MACs, mac)
	}
	slices.Sort(sub.MACs)
	return sub
}

// Hub fans engine events out to WebSocket clients.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	filter eventFilter
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origins are checked by the CORS middleware.
		return true
	},
}

// NewHub creates a hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// remove drops c. Only the caller that removes c from the map closes its
// send channel.
func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(c.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Publish sends e to every client whose filter matches. The event is encoded
// once; slow clients with a full buffer miss it.
func (h *Hub) Publish(e reconcile.Event) {
	data, err := json.Marshal(ServerMessage{Type: WSTypeEvent, Time: e.Time, Event: &e})
	if err != nil {
		h.logger.Error("encoding websocket event", "kind", e.Kind, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		if c.wants(e) {
			c.trySend(data)
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("event relayed", "kind", e.Kind, "mac", e.MAC, "recipients", sent)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
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

// handleWebSocket upgrades the request and serves engine events to the client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, wsSendBufferSize),
		filter: newEventFilter(),
	}
	s.hub.add(c)

	go c.writePump(s.wsCfg)
	go c.readPump(s.wsCfg)
}

func (c *wsClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	deadline := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	c.conn.SetReadDeadline(time.Now().Add(deadline)) //nolint:errcheck // a failed deadline surfaces on read
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Application messages count as liveness too; browsers may not answer pings.
		c.conn.SetReadDeadline(time.Now().Add(deadline)) //nolint:errcheck // as above
		c.handleMessage(data)
	}
}

func (c *wsClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write fails instead
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write fails instead
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) handleMessage(data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(ServerMessage{Type: WSTypeError, Error: "invalid JSON message"})
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.reply(ServerMessage{Type: WSTypeResponse, ID: msg.ID, Subscription: c.subscribe(msg)})
	case WSTypeUnsubscribe:
		c.reply(ServerMessage{Type: WSTypeResponse, ID: msg.ID, Subscription: c.unsubscribe(msg)})
	case WSTypePing:
		c.reply(ServerMessage{Type: WSTypePong, ID: msg.ID})
	default:
		c.reply(ServerMessage{Type: WSTypeError, ID: msg.ID, Error: "unknown message type: " + msg.Type})
	}
}

// subscribe adds the known channels and well-formed MACs of msg to the filter.
func (c *wsClient) subscribe(msg ClientMessage) *Subscription {
	known, unknown := splitChannels(msg.Channels)
	macs, bad := normalizeMACs(msg.MACs)

	c.mu.Lock()
	for _, kind := range known {
		c.filter.kinds[kind] = struct{}{}
	}
	for _, mac := range macs {
		c.filter.macs[mac] = struct{}{}
	}
	sub := c.filter.subscription()
	c.mu.Unlock()

	sub.Unknown = append(unknown, bad...)
	c.hub.logger.Debug("websocket client subscribed", "channels", known, "macs", macs)
	return sub
}

// unsubscribe removes the channels and MACs of msg from the filter.
// Dropping the last MAC widens the filter back to every board.
func (c *wsClient) unsubscribe(msg ClientMessage) *Subscription {
	macs, bad := normalizeMACs(msg.MACs)

	c.mu.Lock()
	for _, kind := range msg.Channels {
		delete(c.filter.kinds, kind)
	}
	for _, mac := range macs {
		delete(c.filter.macs, mac)
	}
	sub := c.filter.subscription()
	c.mu.Unlock()

	sub.Unknown = bad
	return sub
}

func normalizeMACs(in []string) (macs, bad []string) {
	for _, raw := range in {
		mac, err := device.NormalizeMAC(raw)
		if err != nil {
			bad = append(bad, raw)
			continue
		}
		macs = append(macs, mac)
	}
	return macs, bad
}

func (c *wsClient) wants(e reconcile.Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter.matches(e)
}

// trySend queues data without blocking. A closed channel (client gone during
// a publish) or a full buffer drops the message.
func (c *wsClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on closed channel
	}()
	select {
	case c.send <- data:
	default:
	}
}

func (c *wsClient) reply(msg ServerMessage) {
	msg.Time = time.Now().UTC()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}
