package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"plantwatch-backend/internal/monitor"
)

type message struct {
	plantID string
	data    []byte
}

// Hub keeps the websocket clients of each plant and broadcasts engine events
// to the clients of the event's plant.
type Hub struct {
	clients    map[string]map[*Client]bool
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zap.Logger
}

var _ monitor.Publisher = (*Hub)(nil)

var ErrHubBusy = errors.New("stream hub broadcast queue is full")

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for plantID, set := range h.clients {
				for client := range set {
					close(client.Send)
				}
				delete(h.clients, plantID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[client.PlantID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[client.PlantID] = set
			}
			set[client] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client registered", zap.String("plant_id", client.PlantID))

		case client := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.clients[client.PlantID]; ok && set[client] {
				delete(set, client)
				close(client.Send)
				if len(set) == 0 {
					delete(h.clients, client.PlantID)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("websocket client unregistered", zap.String("plant_id", client.PlantID))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.plantID] {
				select {
				case client.Send <- msg.data:
				default:
					// slow consumer
					delete(h.clients[msg.plantID], client)
					close(client.Send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues evt for the plant's clients without waiting for delivery.
func (h *Hub) Publish(ctx context.Context, evt monitor.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- message{plantID: evt.PlantID, data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrHubBusy
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) ClientCount(plantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[plantID])
}
