// Package server tracks live WebSocket clients so they can be closed and
// awaited on shutdown via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Hub keeps the set of connected clients and the goroutines serving them.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	closing bool
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// serve registers client and runs it until it disconnects. It reports
// false when the hub is shutting down and the client was not started.
func (h *Hub) serve(client *Client) bool {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return false
	}
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.wg.Add(1)
	h.mu.Unlock()

	h.logger.Debug("client registered", "addr", client.addr, "clients", total)

	go func() {
		defer h.wg.Done()
		defer h.unregister(client)
		client.run()
	}()
	return true
}

// spawn runs fn as a tracked goroutine.
func (h *Hub) spawn(fn func()) {
	h.mu.Lock()
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		fn()
	}()
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("client unregistered", "addr", client.addr, "clients", total)
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown closes every client with a going-away status and waits for their
// goroutines, up to timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.mu.Lock()
	h.closing = true
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	h.logger.Info("closing client connections", "clients", len(clients))
	for _, client := range clients {
		client.closeWith(closeShutdown)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
