// Package stream fans session progress out to external presentation layers
// over websockets, plus a JSON snapshot endpoint for pull-based consumers.
// The core pipeline never imports this package; the process wiring bridges
// the coordinator's event channel into a Broadcaster.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/jumplab/pkg/logger"
)

// Write deadline for slow websocket clients.
const writeTimeout = 2 * time.Second

// Broadcaster delivers each published event to every connected websocket
// client and keeps the latest event for the snapshot endpoint. Slow or gone
// clients are dropped, never waited on.
type Broadcaster struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
	last    []byte

	logger logger.Logger
}

// NewBroadcaster creates a broadcaster with no connected clients.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Progress events are not sensitive; all origins may watch.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
		logger:  logger.Get().Named("stream"),
	}
}

// Publish marshals the event and pushes it to every connected client.
func (b *Broadcaster) Publish(ctx context.Context, event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error(ctx, "progress event marshal failed", logger.Error(err))
		return
	}

	b.mu.Lock()
	b.last = payload
	for conn := range b.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			b.logger.Debug(ctx, "dropping websocket client", logger.Error(err))
			_ = conn.Close()
			delete(b.clients, conn)
		}
	}
	b.mu.Unlock()
}

// Handler upgrades the request and registers the client. The latest event,
// if any, is replayed immediately so late joiners see current state.
func (b *Broadcaster) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			b.logger.Warn(r.Context(), "websocket upgrade failed", logger.Error(err))
			return
		}

		b.mu.Lock()
		b.clients[conn] = true
		last := b.last
		b.mu.Unlock()

		if last != nil {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = conn.WriteMessage(websocket.TextMessage, last)
		}

		// Reader loop exists only to notice the client going away.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					b.mu.Lock()
					delete(b.clients, conn)
					b.mu.Unlock()
					_ = conn.Close()
					return
				}
			}
		}()
	}
}

// SnapshotHandler serves the latest published event as JSON.
func (b *Broadcaster) SnapshotHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.RLock()
		last := b.last
		b.mu.RUnlock()

		if last == nil {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(last)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every client.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.clients {
		_ = conn.Close()
		delete(b.clients, conn)
	}
}
