package bus

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fieldwire/modbus-gateway/internal/model"
)

const (
	// clientSendBuffer bounds each subscriber's outgoing queue; a full
	// queue drops the message rather than blocking the publisher.
	clientSendBuffer = 256
	pingInterval     = 30 * time.Second
)

// client is one WebSocket subscriber.
type client struct {
	id   string
	conn *websocket.Conn
	send chan Message
	hub  *Hub
}

// Hub maintains the set of subscribed clients and fans published samples out
// to all of them.
type Hub struct {
	clients    map[string]*client
	broadcast  chan Message
	register   chan *client
	unregister chan *client

	latest *sampleCache
	log    *zap.SugaredLogger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	mu sync.RWMutex
}

// NewHub builds a hub. latestTTL bounds how long a device's last sample is
// replayed to newly connected clients; <=0 uses the cache default.
func NewHub(latestTTL time.Duration, log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{
		clients:    make(map[string]*client),
		broadcast:  make(chan Message, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		latest:     newSampleCache(latestTTL),
		log:        log,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Run is the hub's main loop; call it on its own goroutine.
func (h *Hub) Run() {
	defer close(h.doneCh)
	for {
		select {
		case c := <-h.register:
			h.registerClient(c)
		case c := <-h.unregister:
			h.unregisterClient(c)
		case msg := <-h.broadcast:
			h.broadcastMessage(msg)
		case <-h.stopCh:
			h.closeAll()
			return
		}
	}
}

// Stop shuts the hub down and disconnects all clients.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	<-h.doneCh
}

// Publish implements Bus. Non-blocking: if the hub's broadcast queue is full
// the sample is dropped for live subscribers but still recorded as the
// device's latest.
func (h *Hub) Publish(deviceName string, sample model.Sample) {
	msg := toMessage(deviceName, sample)
	h.latest.set(deviceName, msg)
	select {
	case h.broadcast <- msg:
	default:
		h.log.Debugw("bus broadcast queue full, dropping sample", "device", deviceName)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) registerClient(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	// Replay each device's most recent sample so a new subscriber has a
	// full picture before the next poll cycle lands.
	for _, msg := range h.latest.all() {
		select {
		case c.send <- msg:
		default:
		}
	}
	h.log.Debugw("ws client subscribed", "client", c.id)
}

func (h *Hub) unregisterClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
}

func (h *Hub) broadcastMessage(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// Slow consumer, drop.
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}

// HandleWebSocket is the fiber websocket handler for /ws/live. It blocks for
// the lifetime of the connection.
func (h *Hub) HandleWebSocket(conn *websocket.Conn) {
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan Message, clientSendBuffer),
		hub:  h,
	}

	select {
	case h.register <- c:
	case <-h.stopCh:
		conn.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

// readPump drains inbound frames until the peer disconnects. Subscribers are
// read-only; inbound payloads are ignored.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopCh:
		}
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
