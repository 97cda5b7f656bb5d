// internal/handler/websocket_types.go
package handler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a WebSocket client
type Client struct {
	ID          string          `json:"id"`
	Connection  *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	UserAgent   string          `json:"user_agent"`
	RemoteAddr  string          `json:"remote_addr"`
	ConnectedAt time.Time       `json:"connected_at"`

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id string, conn *websocket.Conn, userAgent, remoteAddr string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:          id,
		Connection:  conn,
		Send:        make(chan []byte, 256),
		UserAgent:   userAgent,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// close stops the client's runs and its write pump. Send is never closed so
// late senders cannot panic.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)
	})
}

// WebSocketMessage represents an outbound WebSocket message
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// inboundMessage is a client command. Data is decoded per type.
type inboundMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// execPayload is the data of an "exec" command.
type execPayload struct {
	Code string `json:"code"`
}

// ConnectionManager manages WebSocket connections
type ConnectionManager struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	mutex      sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	manager := &ConnectionManager{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
	}

	go manager.run()
	return manager
}

// run starts the connection manager
func (cm *ConnectionManager) run() {
	for {
		select {
		case client := <-cm.register:
			cm.mutex.Lock()
			cm.clients[client.ID] = client
			cm.mutex.Unlock()

		case client := <-cm.unregister:
			cm.mutex.Lock()
			if _, ok := cm.clients[client.ID]; ok {
				delete(cm.clients, client.ID)
				client.close()
			}
			cm.mutex.Unlock()

		case <-cm.quit:
			cm.mutex.Lock()
			for id, client := range cm.clients {
				client.close()
				delete(cm.clients, id)
			}
			cm.mutex.Unlock()
			return
		}
	}
}

// Register registers a new client
func (cm *ConnectionManager) Register(client *Client) {
	select {
	case cm.register <- client:
	case <-cm.quit:
		client.close()
	}
}

// Unregister unregisters a client
func (cm *ConnectionManager) Unregister(client *Client) {
	select {
	case cm.unregister <- client:
	case <-cm.quit:
		client.close()
	}
}

// Close disconnects every client and stops the manager.
func (cm *ConnectionManager) Close() {
	select {
	case <-cm.quit:
	default:
		close(cm.quit)
	}
}

// GetStats returns connection statistics
func (cm *ConnectionManager) GetStats() *ConnectionStats {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	stats := &ConnectionStats{
		TotalConnections: len(cm.clients),
		Clients:          make([]*Client, 0, len(cm.clients)),
	}
	for _, client := range cm.clients {
		stats.Clients = append(stats.Clients, client)
	}
	return stats
}

// ConnectionStats represents connection statistics
type ConnectionStats struct {
	TotalConnections int       `json:"total_connections"`
	Clients          []*Client `json:"clients"`
}
