package game

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"
)

const (
	hubBufferSize    = 256
	clientBufferSize = 32
	writeTimeout     = 10 * time.Second
)

// Conn is the part of a websocket connection the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one registered connection. Pushed messages go through its own
// queue and writer goroutine, so a slow socket only delays itself.
type Client struct {
	conn    Conn
	account string
	mu      sync.Mutex

	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

// Send writes one JSON message to the client.
func (c *Client) Send(message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *Client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// enqueue hands data to the client's writer without blocking.
func (c *Client) enqueue(data []byte) bool {
	select {
	case c.queue <- data:
		return true
	default:
		return false
	}
}

func (c *Client) writeLoop(log *zap.Logger) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.queue:
			if err := c.write(data); err != nil {
				log.Debug("write failed", zap.String("account", c.account), zap.Error(err))
			}
		}
	}
}

func (c *Client) stop() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

type envelope struct {
	account string
	message any
}

// Hub pushes round events to every websocket an account has open.
type Hub struct {
	clients map[string]map[*Client]struct{}
	publish chan envelope
	mu      sync.RWMutex
	log     *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		publish: make(chan envelope, hubBufferSize),
		log:     log.Named("hub"),
	}
}

// Run delivers published messages until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case env := <-h.publish:
			data, err := json.Marshal(env.message)
			if err != nil {
				h.log.Warn("marshal message", zap.Error(err))
				continue
			}
			for _, c := range h.accountClients(env.account) {
				if !c.enqueue(data) {
					h.log.Warn("client queue full, dropping message", zap.String("account", c.account))
				}
			}
		}
	}
}

// Publish queues message for the account's connections. It never blocks;
// when the queue is full the message is dropped.
func (h *Hub) Publish(account string, message any) {
	select {
	case h.publish <- envelope{account: account, message: message}:
	default:
		h.log.Warn("publish queue full, dropping message", zap.String("account", account))
	}
}

func (h *Hub) Register(conn Conn, account string) *Client {
	c := &Client{
		conn:    conn,
		account: account,
		queue:   make(chan []byte, clientBufferSize),
		done:    make(chan struct{}),
	}
	go c.writeLoop(h.log)

	h.mu.Lock()
	set, ok := h.clients[account]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[account] = set
	}
	set[c] = struct{}{}
	total := h.countLocked()
	h.mu.Unlock()

	h.log.Info("client connected", zap.String("account", account), zap.Int("total", total))
	return c
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.account]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := set[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.account)
	}
	total := h.countLocked()
	h.mu.Unlock()

	c.stop()
	h.log.Info("client disconnected", zap.String("account", c.account), zap.Int("total", total))
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.countLocked()
}

func (h *Hub) countLocked() int {
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

func (h *Hub) accountClients(account string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.clients[account]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for account, set := range h.clients {
		for c := range set {
			c.stop()
		}
		delete(h.clients, account)
	}
}
