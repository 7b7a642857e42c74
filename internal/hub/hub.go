package hub

import (
	"sync"
	"time"
)

const defaultSendBuffer = 16

// Client is one connected display socket. Writes go through Send; done is
// closed exactly once when the client is unregistered.
type Client struct {
	ID   string
	Send chan []byte
	done chan struct{}
}

// Done reports client removal to the session writer goroutine.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Hub fans events out to every registered client. A client that cannot
// drain its buffer within the send timeout is dropped so one stalled
// display cannot stall the broadcast loop.
type Hub struct {
	mu          sync.RWMutex
	clients     map[string]*Client
	sendTimeout time.Duration
}

func New(sendTimeout time.Duration) *Hub {
	if sendTimeout <= 0 {
		sendTimeout = time.Second
	}
	return &Hub{
		clients:     make(map[string]*Client),
		sendTimeout: sendTimeout,
	}
}

// Register adds a client and queues the welcome payload on it. The welcome
// always fits because the buffer is fresh.
func (h *Hub) Register(id string, welcome []byte) *Client {
	client := &Client{
		ID:   id,
		Send: make(chan []byte, defaultSendBuffer),
		done: make(chan struct{}),
	}
	if welcome != nil {
		client.Send <- welcome
	}

	h.mu.Lock()
	h.clients[id] = client
	h.mu.Unlock()
	return client
}

// Unregister removes a client. Safe to call more than once; only the call
// that actually removes the client closes done.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	client, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mu.Unlock()

	if ok {
		close(client.done)
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers the payload to every client. Fast clients get it via a
// non-blocking send; a client whose buffer stays full past the send timeout
// is unregistered.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	var timer *time.Timer
	for _, client := range clients {
		select {
		case client.Send <- payload:
			continue
		default:
		}

		if timer == nil {
			timer = time.NewTimer(h.sendTimeout)
		} else {
			timer.Reset(h.sendTimeout)
		}
		select {
		case client.Send <- payload:
			if !timer.Stop() {
				<-timer.C
			}
		case <-client.done:
			if !timer.Stop() {
				<-timer.C
			}
		case <-timer.C:
			h.Unregister(client.ID)
		}
	}
}
