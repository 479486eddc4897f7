package monitor

import (
	"context"
	"net"
	"sync"

	"github.com/r-smith/sshlure/internal/console"
	"github.com/r-smith/sshlure/internal/metrics"
	"golang.org/x/net/websocket"
)

const (
	// maxRecentMessages is the maximum number of recent records replayed to
	// newly connected clients.
	maxRecentMessages = 100

	// clientBuffer is how many messages may queue for one client before
	// further messages to it are dropped.
	clientBuffer = 32

	// endOfReplay marks the end of the replayed records.
	endOfReplay = "---end---"
)

// wsClient represents a single WebSocket client with a dedicated channel.
type wsClient struct {
	conn *websocket.Conn
	send chan string
	done chan struct{}
}

// Hub fans attack records out to connected WebSocket clients and keeps the
// most recent records for clients that connect later.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	recent  []string
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*wsClient]struct{}),
		recent:  make([]string, 0, maxRecentMessages+1),
	}
}

// Run receives record log lines from src and sends them to all connected
// clients until ctx is done or src is closed. Slow clients miss messages
// rather than holding up the others.
func (h *Hub) Run(ctx context.Context, src <-chan []byte) {
	var clientsBuf []*wsClient

	for {
		var msg []byte
		select {
		case <-ctx.Done():
			return
		case b, ok := <-src:
			if !ok {
				return
			}
			msg = b
		}
		m := string(msg)

		h.mu.Lock()
		h.recent = append(h.recent, m)
		if len(h.recent) > maxRecentMessages {
			h.recent = h.recent[1:]
		}

		// Reuse the buffer's capacity between messages.
		clientsBuf = clientsBuf[:0]
		for c := range h.clients {
			clientsBuf = append(clientsBuf, c)
		}
		h.mu.Unlock()

		for _, c := range clientsBuf {
			select {
			case c.send <- m:
			default:
			}
		}
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// recentCount returns the number of records held for replay.
func (h *Hub) recentCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.recent)
}

// handleWebSocket registers a client, replays recent records, and keeps the
// connection open until the client disconnects.
func (h *Hub) handleWebSocket(ws *websocket.Conn) {
	host, _, _ := net.SplitHostPort(ws.Request().RemoteAddr)

	client := &wsClient{
		conn: ws,
		send: make(chan string, clientBuffer),
		done: make(chan struct{}),
	}

	// Register client and copy current message cache. The replay is queued
	// before any broadcast can reach the client.
	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	recent := append([]string(nil), h.recent...)
	h.mu.Unlock()
	metrics.LiveClients.Inc()
	console.Info(console.Mon, "%s established websocket connection (total: %d)", host, count)

	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		count := len(h.clients)
		h.mu.Unlock()
		close(client.done)
		metrics.LiveClients.Dec()
		_ = ws.Close()
		console.Info(console.Mon, "%s closed websocket connection (total: %d)", host, count)
	}()

	go func() {
		for _, msg := range recent {
			if err := websocket.Message.Send(ws, msg); err != nil {
				return
			}
		}
		if err := websocket.Message.Send(ws, endOfReplay); err != nil {
			return
		}
		for {
			select {
			case msg := <-client.send:
				if err := websocket.Message.Send(ws, msg); err != nil {
					return
				}
			case <-ws.Request().Context().Done():
				// Server shutdown. Unblock the receive loop below.
				_ = ws.Close()
				return
			case <-client.done:
				return
			}
		}
	}()

	// Block until the client disconnects.
	var message string
	for {
		if err := websocket.Message.Receive(ws, &message); err != nil {
			break
		}
	}
}
