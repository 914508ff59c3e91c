package websocket

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/sandy-echo/echo-backend/internal/notify"
)

// Hub maintains the set of active clients and fans events out to clients
// subscribed to topics. Topic membership is an explicit process-local mapping
// from topic key to the set of connection handles, updated on subscribe and
// disconnect.
type Hub struct {
	// topics maps a topic key to the set of subscribed clients
	topics map[string]map[*Client]bool

	// subscribe requests from clients (register_sender / join_thread actions)
	subscribe chan *subscription

	// unregister requests from disconnecting clients
	unregister chan *Client

	// broadcast carries marshaled events to deliver to a topic
	broadcast chan *topicEvent

	// mutex for thread-safe topic operations
	mu sync.RWMutex
}

// Compile-time check: the hub is the realtime Publisher
var _ notify.Publisher = (*Hub)(nil)

type subscription struct {
	client *Client
	topic  string
}

// topicEvent is a marshaled event bound for every subscriber of a topic
type topicEvent struct {
	Topic string
	Data  []byte
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		topics:     make(map[string]map[*Client]bool),
		subscribe:  make(chan *subscription),
		unregister: make(chan *Client),
		broadcast:  make(chan *topicEvent, 64),
	}
}

// Run starts the hub's main event loop
// This should be called in a goroutine: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.subscribe:
			h.subscribeClient(sub.client, sub.topic)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case evt := <-h.broadcast:
			h.deliver(evt)
		}
	}
}

// Publish marshals the event and queues it for fan-out to the topic's
// current subscribers. It never blocks the caller: if the hub is saturated
// the event is dropped, which stays within the best-effort delivery contract.
func (h *Hub) Publish(topic string, event notify.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[WebSocket] Failed to marshal %s event: %v", event.Type, err)
		return
	}

	select {
	case h.broadcast <- &topicEvent{Topic: topic, Data: data}:
	default:
		log.Printf("[WebSocket] Broadcast queue full, dropping %s for topic %s", event.Type, topic)
	}
}

// subscribeClient adds a client to a topic
func (h *Hub) subscribeClient(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.closed {
		return
	}

	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Client]bool)
	}
	h.topics[topic][client] = true
	client.topics[topic] = true

	log.Printf("[WebSocket] Client %s subscribed to %s (total: %d)",
		client.SessionID, topic, len(h.topics[topic]))
}

// unregisterClient removes a client from every topic it subscribed to
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.closed {
		return
	}
	client.closed = true
	close(client.send)

	for topic := range client.topics {
		if clients, ok := h.topics[topic]; ok {
			delete(clients, client)

			// Clean up empty topics
			if len(clients) == 0 {
				delete(h.topics, topic)
			}
		}
	}

	log.Printf("[WebSocket] Client %s disconnected (left %d topics)",
		client.SessionID, len(client.topics))
}

// deliver sends a marshaled event to all clients subscribed to the topic.
// Events queued for the same topic reach every subscriber in publish order;
// a client whose buffer is full is dropped rather than allowed to stall the
// rest of the topic.
func (h *Hub) deliver(evt *topicEvent) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.topics[evt.Topic]))
	for client := range h.topics[evt.Topic] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		h.mu.RLock()
		closed := client.closed
		h.mu.RUnlock()
		if closed {
			continue
		}

		select {
		case client.send <- evt.Data:
		default:
			// Client's buffer is full, remove them
			h.unregisterClient(client)
		}
	}
}

// TopicSubscriberCount returns the number of connected clients on a topic
func (h *Hub) TopicSubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
