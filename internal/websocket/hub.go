package websocket

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"social-sync/internal/utils"
)

// MessageToSend defines the structure for sending a message to a specific user.
type MessageToSend struct {
	TargetUserID string
	Payload      []byte
}

// Hub maintains the set of active clients and delivers feed snapshots to
// every connection of a user.
type Hub struct {
	// Registered clients. Maps user ID to a set of active client connections.
	Clients map[string]map[*Client]bool

	// Channel for sending messages to specific users.
	SendDirect chan *MessageToSend

	// Register requests from the clients.
	Register chan *Client

	// Unregister requests from clients.
	Unregister chan *Client

	// Mutex to protect concurrent access to the clients map.
	mu sync.RWMutex

	// Closed when Run returns.
	done chan struct{}

	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		SendDirect: make(chan *MessageToSend, 64),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Clients:    make(map[string]map[*Client]bool),
		done:       make(chan struct{}),
		logger:     utils.OrNop(logger),
	}
}

// Run starts the hub's processing loop. It returns when ctx is done, closing
// every client's send channel.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("websocket hub started")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for uid, userClients := range h.Clients {
				for client := range userClients {
					close(client.Send)
				}
				delete(h.Clients, uid)
			}
			h.mu.Unlock()
			h.logger.Info("websocket hub stopped")
			return

		case client := <-h.Register:
			h.mu.Lock()
			if _, ok := h.Clients[client.UserID]; !ok {
				h.Clients[client.UserID] = make(map[*Client]bool)
			}
			h.Clients[client.UserID][client] = true
			h.logger.Debug("websocket client registered",
				zap.String("uid", client.UserID), zap.Int("connections", len(h.Clients[client.UserID])))
			h.mu.Unlock()

		case client := <-h.Unregister:
			h.mu.Lock()
			if userClients, ok := h.Clients[client.UserID]; ok {
				if _, clientOk := userClients[client]; clientOk {
					delete(userClients, client)
					close(client.Send)
					if len(userClients) == 0 {
						delete(h.Clients, client.UserID)
					}
					h.logger.Debug("websocket client unregistered",
						zap.String("uid", client.UserID), zap.Int("connections", len(userClients)))
				}
			}
			h.mu.Unlock()

		case directMessage := <-h.SendDirect:
			h.mu.RLock()
			for client := range h.Clients[directMessage.TargetUserID] {
				select {
				case client.Send <- directMessage.Payload:
				default:
					h.logger.Warn("send buffer full, snapshot dropped", zap.String("uid", client.UserID))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Connections reports how many live connections uid has.
func (h *Hub) Connections(uid string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.Clients[uid])
}

// SendDirectMessage queues payload for every connection of targetUserID.
func (h *Hub) SendDirectMessage(targetUserID string, payload []byte) {
	message := &MessageToSend{
		TargetUserID: targetUserID,
		Payload:      payload,
	}
	select {
	case h.SendDirect <- message:
	case <-h.done:
	case <-time.After(1 * time.Second):
		h.logger.Warn("timeout queuing message in hub", zap.String("uid", targetUserID))
	}
}

func (h *Hub) register(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}
