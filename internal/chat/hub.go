package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"tradiehub/internal/logger"
	"tradiehub/internal/participant"
)

// EventsChannel carries appended messages between server instances.
const EventsChannel = "chat:events"

const EventMessage = "message"

// Hub keeps the websocket clients of this instance, grouped by participant,
// and forwards every appended message to the clients of its sender and
// receiver. With a Redis client, messages travel over pub/sub so that all
// instances see them; without one, delivery stays in-process.
type Hub struct {
	clients    map[participant.Participant]map[*Client]bool
	broadcast  chan []byte  // From Redis (or local publish) -> Clients
	Register   chan *Client // New client joins
	Unregister chan *Client // Client leaves
	redis      *redis.Client
	done       chan struct{}
}

func NewHub(redisClient *redis.Client) *Hub {
	return &Hub{
		clients:    make(map[participant.Participant]map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		redis:      redisClient,
		done:       make(chan struct{}),
	}
}

var _ Publisher = (*Hub)(nil)

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, set := range h.clients {
				for client := range set {
					close(client.Send)
				}
			}
			h.clients = nil
			return

		case client := <-h.Register:
			set, ok := h.clients[client.Participant]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[client.Participant] = set
			}
			set[client] = true

		case client := <-h.Unregister:
			h.remove(client)

		case payload := <-h.broadcast:
			h.deliver(payload)
		}
	}
}

func (h *Hub) remove(client *Client) {
	set, ok := h.clients[client.Participant]
	if !ok || !set[client] {
		return
	}
	delete(set, client)
	close(client.Send)
	if len(set) == 0 {
		delete(h.clients, client.Participant)
	}
}

func (h *Hub) deliver(payload []byte) {
	var ev MessageEvent
	if err := json.Unmarshal(payload, &ev); err != nil || ev.Message == nil {
		logger.Warn("dropping malformed chat event", "event", "hub_bad_payload", "error", err)
		return
	}
	for _, p := range []participant.Participant{ev.Message.Sender, ev.Message.Receiver} {
		for client := range h.clients[p] {
			select {
			case client.Send <- payload:
			default:
				// Slow consumer; it reconnects and reloads history.
				h.remove(client)
			}
		}
	}
}

// PublishMessage announces an appended message to every instance.
func (h *Hub) PublishMessage(ctx context.Context, m *Message) error {
	payload, err := json.Marshal(MessageEvent{Type: EventMessage, Message: m})
	if err != nil {
		return fmt.Errorf("encode chat event: %w", err)
	}
	if h.redis == nil {
		select {
		case h.broadcast <- payload:
			return nil
		case <-h.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return h.redis.Publish(ctx, EventsChannel, payload).Err()
}

// SubscribeToRedis listens for messages published by any instance.
func (h *Hub) SubscribeToRedis(ctx context.Context) {
	if h.redis == nil {
		return
	}
	pubsub := h.redis.Subscribe(ctx, EventsChannel)
	defer pubsub.Close()
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case h.broadcast <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}
}

// leave unregisters a client unless the hub has already stopped.
func (h *Hub) leave(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}
