package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"gridwatch/internal/logger"
)

const (
	writeWait       = 2 * time.Second
	broadcastBuffer = 16
)

type client struct {
	id   string
	conn *websocket.Conn
}

// HubService fans status messages out to connected viewers.
type HubService struct {
	clients    map[string]*websocket.Conn
	broadcast  chan []byte
	register   chan client
	unregister chan string
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logger.Logger
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[string]*websocket.Conn),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan client),
		unregister: make(chan string),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves register, unregister and broadcast requests until ctx ends,
// then closes every client connection.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.done)
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c.id] = c.conn
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Client %s connected. Total: %d", c.id, total)

		case id := <-h.unregister:
			h.remove(id)

		case message := <-h.broadcast:
			for id, conn := range h.GetClients() {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Error("Error sending message to client %s: %v", id, err)
					h.remove(id)
				}
			}
		}
	}
}

func (h *HubService) remove(id string) {
	h.mutex.Lock()
	conn, ok := h.clients[id]
	delete(h.clients, id)
	total := len(h.clients)
	h.mutex.Unlock()

	if ok {
		conn.Close()
		h.logger.Info("Client %s disconnected. Total: %d", id, total)
	}
}

func (h *HubService) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for id, conn := range h.clients {
		conn.Close()
		delete(h.clients, id)
	}
}

// Register adds conn to the hub and returns its client id. Once the hub has
// stopped the connection is closed right away.
func (h *HubService) Register(conn *websocket.Conn) string {
	id := uuid.NewString()
	select {
	case h.register <- client{id: id, conn: conn}:
	case <-h.done:
		conn.Close()
	}
	return id
}

func (h *HubService) Unregister(id string) {
	select {
	case h.unregister <- id:
	case <-h.done:
	}
}

// Broadcast queues message for every client. When the queue is full the
// message is dropped; viewers only care about the newest status.
func (h *HubService) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warning("Broadcast queue full, dropping status update")
	}
}

func (h *HubService) GetClients() map[string]*websocket.Conn {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make(map[string]*websocket.Conn, len(h.clients))
	for k, v := range h.clients {
		clients[k] = v
	}
	return clients
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
