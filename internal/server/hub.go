// Package server coordinates client registration, message fan-out, and
// connection cleanup for the chat relay via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Hub is the connection registry: it owns the set of live clients and is
// the only component allowed to mutate it. Membership changes and fan-out
// requests arrive over channels so the set is never touched from more than
// one goroutine at a time; reads during delivery take a snapshot under a
// read lock. The hub is injected into the relay and the WebSocket handler,
// never shared as package state.
type Hub struct {
	log        *slog.Logger
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a hub ready to manage connections. Run must be started in
// its own goroutine before clients are registered.
func NewHub(log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		log:        log,
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Register hands a new client to the hub. The hub launches the client's
// read and write pumps once the membership entry exists.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub. Safe to call more than once;
// only the first call closes the client's send channel.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Broadcast delivers a payload to every currently-open connection,
// including the one it originated from. Delivery order across distinct
// connections is unspecified; a single connection observes broadcasts in
// the order they were issued.
func (h *Hub) Broadcast(payload []byte) {
	select {
	case h.broadcast <- payload:
	case <-h.ctx.Done():
	}
}

// SendDirect queues a payload for one client only. It reports whether the
// payload was accepted; a false return means the client is gone or its
// send buffer is full, and the caller is expected to log and move on.
func (h *Hub) SendDirect(client *Client, payload []byte) bool {
	return h.trySend(client, payload)
}

// ClientCount reports the current number of registered connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Run is the hub's event loop. It processes registrations,
// unregistrations, and fan-out requests until Shutdown cancels it.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("nil client registration skipped")
				continue
			}
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case payload := <-h.broadcast:
			h.fanOut(payload)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	client.state = stateOpen
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mutex.Unlock()

	h.log.Info("client registered", "addr", client.addr, "session", client.id, "clients", count)

	if client.conn == nil {
		return
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	client.state = stateClosed
	count := len(h.clients)
	h.mutex.Unlock()

	// Close the send channel after releasing the lock so a concurrent
	// trySend never writes to a closed channel while holding it.
	close(client.send)
	h.log.Info("client unregistered", "addr", client.addr, "session", client.id, "clients", count)
}

// fanOut delivers one payload to a snapshot of the membership. A failed
// send marks that client for removal but never aborts delivery to the
// remaining recipients.
func (h *Hub) fanOut(payload []byte) {
	clients := h.snapshot()

	var failed []*Client
	for _, client := range clients {
		if !h.trySend(client, payload) {
			failed = append(failed, client)
		}
	}

	h.dropFailed(failed)
}

func (h *Hub) snapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// trySend queues a payload on one client without blocking. The read lock
// is held across the membership check and the channel send so the channel
// cannot be closed in between.
func (h *Hub) trySend(client *Client, payload []byte) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, ok := h.clients[client]; !ok || client.state != stateOpen {
		return false
	}

	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

func (h *Hub) dropFailed(failed []*Client) {
	if len(failed) == 0 {
		return
	}

	h.mutex.Lock()
	var channels []chan []byte
	for _, client := range failed {
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			client.state = stateClosed
			channels = append(channels, client.send)
			h.log.Warn("client dropped, send buffer full", "addr", client.addr, "session", client.id)
		}
	}
	h.mutex.Unlock()

	for _, ch := range channels {
		close(ch)
	}
}

func (h *Hub) closeAllClients() {
	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		client.state = stateClosing
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.log.Error("closing client connection", "addr", client.addr, "error", err)
		}
	}

	h.log.Info("closed client connections", "count", len(clients))
}

// Shutdown cancels the event loop, closes every connection, and waits for
// the pump goroutines to finish or for the timeout to pass.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.log.Info("hub shutdown complete")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timed out")
		return context.DeadlineExceeded
	}
}
