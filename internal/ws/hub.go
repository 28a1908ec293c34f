// Package ws maintains live WebSocket sessions and fans sync events out to
// them. The hub is the local event.Publisher; a relay can wrap it to reach
// users connected to other instances.
package ws

import (
	"context"
	"sync"

	"github.com/dialogs/internal/event"
	"github.com/dialogs/internal/logger"
	"github.com/dialogs/internal/metrics"
)

// Hub tracks one live client per user. Registering a second connection for
// the same user supersedes the first: the old one is closed and replaced.
// Delivery is at-most-once; events for offline users are dropped.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	maxConns int

	mailbox MailboxService
	convs   ConversationService

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]*Client),
		maxConns:   maxConns,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

// Bind wires the services the hub dispatches incoming frames to. Called
// once at startup, after the services were built with the hub (or a relay
// around it) as their publisher.
func (h *Hub) Bind(mailbox MailboxService, convs ConversationService) {
	h.mailbox = mailbox
	h.convs = convs
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if len(h.clients) >= h.maxConns {
		if _, reconnect := h.clients[c.userID]; !reconnect {
			h.mu.Unlock()
			logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
			c.Close()
			return
		}
	}
	prev := h.clients[c.userID]
	h.clients[c.userID] = c
	h.mu.Unlock()

	if prev != nil {
		// Reconnect supersedes: drop the stale session.
		prev.Close()
	} else {
		metrics.WSConnections.Inc()
	}
	logger.Debugf("ws connected user=%s", c.userID)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	current, ok := h.clients[c.userID]
	if ok && current == c {
		delete(h.clients, c.userID)
	} else {
		ok = false
	}
	h.mu.Unlock()

	if ok {
		metrics.WSConnections.Dec()
		logger.Debugf("ws disconnected user=%s", c.userID)
	}
	c.Close()
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	// Close outside the lock: Close touches the network.
	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
	metrics.WSConnections.Set(0)
}

// Publish implements event.Publisher for users connected to this instance.
// A full send buffer drops the event rather than blocking the caller.
func (h *Hub) Publish(userID string, ev event.Envelope) {
	h.mu.RLock()
	c, ok := h.clients[userID]
	h.mu.RUnlock()
	if !ok {
		metrics.EventsDropped.Inc()
		return
	}

	select {
	case <-c.done:
		metrics.EventsDropped.Inc()
	case c.send <- ev:
		metrics.EventsDelivered.Inc()
	default:
		metrics.EventsDropped.Inc()
		logger.Errorf("ws send buffer full user=%s, dropping %s", userID, ev.Type)
	}
}
