// Package hub fans out tracking events to websocket subscribers grouped by topic.
//
// A topic is a trip id or, for out-of-band notifications, a user topic built with
// domain.UserTopic. The hub owns the connection registry and every topic set;
// nothing outside this package mutates them.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/thebowwman/fleetcast/internals/domain"
)

type Options struct {
	HeartbeatInterval time.Duration
	SendBuffer        int
	WriteTimeout      time.Duration
	ReadLimit         int64
	OriginPatterns    []string
}

func DefaultOptions() Options {
	return Options{
		HeartbeatInterval: 30 * time.Second,
		SendBuffer:        64,
		WriteTimeout:      5 * time.Second,
		ReadLimit:         1 << 20,
	}
}

type Stats struct {
	Connections int   `json:"connections"`
	Topics      int   `json:"topics"`
	Sent        int64 `json:"sent"`
	Dropped     int64 `json:"dropped"`
}

type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*Client
	topics map[string]map[*Client]struct{}

	opts Options
	log  *slog.Logger
	now  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	hbMu      sync.Mutex
	hbRunning bool

	sent    atomic.Int64
	dropped atomic.Int64
}

func New(opts Options, log *slog.Logger) *Hub {
	def := DefaultOptions()
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = def.HeartbeatInterval
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = def.ReadLimit
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		conns:  make(map[string]*Client),
		topics: make(map[string]map[*Client]struct{}),
		opts:   opts,
		log:    log.With("component", "hub"),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ServeWS upgrades the request and serves the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	accept := &websocket.AcceptOptions{OriginPatterns: h.opts.OriginPatterns}
	if len(h.opts.OriginPatterns) == 0 {
		accept.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, accept)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "action", "ws_upgrade_failed", "error", err)
		return
	}
	conn.SetReadLimit(h.opts.ReadLimit)

	c := newClient(h, conn)
	if !h.register(c) {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	h.ensureHeartbeat()

	go c.writePump()
	c.readLoop()

	h.terminate(c, websocket.StatusNormalClosure, "bye")
}

// Run keeps the heartbeat going until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) error {
	h.ensureHeartbeat()
	select {
	case <-ctx.Done():
	case <-h.ctx.Done():
	}
	h.Close()
	return nil
}

// Close terminates all connections and stops the heartbeat. The hub accepts nothing afterwards.
func (h *Hub) Close() {
	h.cancel()
	for _, c := range h.snapshot() {
		h.terminate(c, websocket.StatusGoingAway, "server shutdown")
	}
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx.Err() != nil {
		return false
	}
	h.conns[c.ID] = c
	h.log.Debug("client registered", "action", "client_registered", "client_id", c.ID)
	return true
}

// unregister removes c from the registry and from every topic it joined.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c.ID)
	for topic := range c.topics {
		h.leave(c, topic)
	}
}

// leave must be called with h.mu held.
func (h *Hub) leave(c *Client, topic string) {
	delete(c.topics, topic)
	set, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.topics, topic)
	}
}

// Subscribe adds c to topic. It is idempotent and refuses closed connections.
func (h *Hub) Subscribe(c *Client, topic string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.ID]; !ok {
		return false
	}
	set, ok := h.topics[topic]
	if !ok {
		set = make(map[*Client]struct{})
		h.topics[topic] = set
	}
	set[c] = struct{}{}
	c.topics[topic] = struct{}{}
	return true
}

func (h *Hub) Unsubscribe(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := c.topics[topic]; ok {
		h.leave(c, topic)
	}
}

// Broadcast stamps ev with the server time and queues it for every subscriber of topic.
// It never blocks on a slow consumer and returns the number of connections queued to.
func (h *Hub) Broadcast(topic string, ev domain.Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set := h.topics[topic]
	if len(set) == 0 {
		return 0
	}

	ev.Stamp(h.now().UTC())
	b, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("encode broadcast", "action", "broadcast_encode_failed", "topic", topic, "error", err)
		return 0
	}

	n := 0
	for c := range set {
		if c.enqueue(b) {
			n++
		}
	}
	return n
}

// Notify publishes an out-of-band notification to the user's topic.
func (h *Hub) Notify(userID string, n *domain.Notification) int {
	n.Type = domain.TypeNotification
	n.UserID = userID
	return h.Broadcast(domain.UserTopic(userID), n)
}

func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		Connections: len(h.conns),
		Topics:      len(h.topics),
		Sent:        h.sent.Load(),
		Dropped:     h.dropped.Load(),
	}
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

// terminate cleans up c unconditionally, then closes the socket.
func (h *Hub) terminate(c *Client, code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		h.unregister(c)
		h.log.Debug("client closed", "action", "client_unregistered", "client_id", c.ID, "reason", reason)
		if code == websocket.StatusNormalClosure {
			_ = c.conn.Close(code, reason)
			return
		}
		_ = c.conn.CloseNow()
	})
}

func (h *Hub) ensureHeartbeat() {
	h.hbMu.Lock()
	defer h.hbMu.Unlock()
	if h.hbRunning || h.ctx.Err() != nil {
		return
	}
	h.hbRunning = true
	go h.heartbeat()
}

// heartbeat reaps connections that did not answer the previous ping, then pings the rest.
func (h *Hub) heartbeat() {
	t := time.NewTicker(h.opts.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-t.C:
			h.sweep()
		}
	}
}

func (h *Hub) sweep() {
	for _, c := range h.snapshot() {
		if !c.alive.Load() {
			h.log.Info("heartbeat timeout", "action", "connection_terminated", "client_id", c.ID)
			h.terminate(c, websocket.StatusPolicyViolation, "heartbeat timeout")
			continue
		}
		c.alive.Store(false)
		go c.ping()
	}
}

type Client struct {
	ID   string
	conn *websocket.Conn
	hub  *Hub
	send chan []byte
	done chan struct{}

	alive     atomic.Bool
	closeOnce sync.Once

	// guarded by hub.mu
	topics map[string]struct{}
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		ID:     uuid.NewString(),
		conn:   conn,
		hub:    h,
		send:   make(chan []byte, h.opts.SendBuffer),
		done:   make(chan struct{}),
		topics: make(map[string]struct{}),
	}
	c.alive.Store(true)
	return c
}

// enqueue never blocks: when the buffer is full the oldest queued frame is dropped.
func (c *Client) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	for {
		select {
		case c.send <- b:
			return true
		default:
		}
		select {
		case <-c.send:
			c.hub.dropped.Add(1)
		default:
		}
	}
}

func (c *Client) reply(f domain.Frame) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.enqueue(b)
}

func (c *Client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case b := <-c.send:
			ctx, cancel := context.WithTimeout(c.hub.ctx, c.hub.opts.WriteTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				c.hub.log.Debug("write failed", "action", "ws_write_failed", "client_id", c.ID, "error", err)
				c.hub.terminate(c, websocket.StatusInternalError, "write failed")
				return
			}
			c.hub.sent.Add(1)
		}
	}
}

// ping sets alive again once the peer answers. The websocket library handles the pong frame.
func (c *Client) ping() {
	ctx, cancel := context.WithTimeout(c.hub.ctx, c.hub.opts.HeartbeatInterval)
	defer cancel()
	if err := c.conn.Ping(ctx); err == nil {
		c.alive.Store(true)
	}
}

func (c *Client) readLoop() {
	for {
		mt, data, err := c.conn.Read(c.hub.ctx)
		if err != nil {
			return
		}
		if mt != websocket.MessageText {
			c.reply(domain.Frame{Type: domain.TypeError, Message: "Text frames only"})
			continue
		}
		c.hub.dispatch(c, data)
	}
}
