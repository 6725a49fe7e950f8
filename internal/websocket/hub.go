package websocket

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/isdelr/winepair-be/internal/models"
)

// GlobalTopic receives every event.
const GlobalTopic = "global"

const publishBuffer = 256

type publication struct {
	topics  []string
	message []byte
}

type reply struct {
	client  *Client
	message []byte
}

type subscription struct {
	client *Client
	topic  string
	add    bool
}

// Hub maintains the set of active clients and routes event messages to their topics.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// A map of topics to the set of clients subscribed to it.
	subscriptions map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription
	replies    chan reply
	publish    chan publication
	done       chan struct{}
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		subscribe:     make(chan subscription),
		replies:       make(chan reply),
		publish:       make(chan publication, publishBuffer),
		done:          make(chan struct{}),
	}
}

// Run processes hub requests until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
			h.addSubscription(client, client.topic)
			log.Info().Int("total_clients", len(h.clients)).Str("topic", client.topic).Msg("Client connected")
		case client := <-h.unregister:
			if h.clients[client] {
				h.drop(client)
				log.Info().Int("total_clients", len(h.clients)).Msg("Client disconnected")
			}
		case sub := <-h.subscribe:
			if !h.clients[sub.client] {
				continue
			}
			if sub.add {
				h.addSubscription(sub.client, sub.topic)
			} else {
				h.removeSubscription(sub.client, sub.topic)
			}
			h.send(sub.client, NewSubscribedMessage(h.topicsOf(sub.client)))
		case r := <-h.replies:
			if h.clients[r.client] {
				h.send(r.client, r.message)
			}
		case pub := <-h.publish:
			recipients := make(map[*Client]bool)
			for _, topic := range pub.topics {
				for client := range h.subscriptions[topic] {
					recipients[client] = true
				}
			}
			for client := range recipients {
				h.send(client, pub.message)
			}
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribe adds a topic to a client.
func (h *Hub) Subscribe(client *Client, topic string) {
	h.changeSubscription(subscription{client: client, topic: topic, add: true})
}

// Unsubscribe removes a topic from a client.
func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.changeSubscription(subscription{client: client, topic: topic})
}

func (h *Hub) changeSubscription(sub subscription) {
	select {
	case h.subscribe <- sub:
	case <-h.done:
	}
}

// Reply sends a message to a single client.
func (h *Hub) Reply(client *Client, message []byte) {
	select {
	case h.replies <- reply{client: client, message: message}:
	case <-h.done:
	}
}

// BroadcastEvent delivers an event to the global topic and to its collection topic.
func (h *Hub) BroadcastEvent(event models.Event) {
	message, err := NewEventMessage(event)
	if err != nil {
		log.Error().Err(err).Str("event", event.Type).Msg("Failed to encode event for websocket clients")
		return
	}

	topics := []string{GlobalTopic}
	if event.Collection != nil && *event.Collection != "" {
		topics = append(topics, *event.Collection)
	}

	select {
	case h.publish <- publication{topics: topics, message: message}:
	case <-h.done:
	default:
		log.Warn().Str("event", event.Type).Msg("Websocket hub is busy, dropping event")
	}
}

// send queues a message for a client, dropping the client when it cannot keep up.
func (h *Hub) send(client *Client, message []byte) {
	select {
	case client.Send <- message:
	default:
		log.Warn().Msg("Websocket client too slow, disconnecting")
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	close(client.Send)
	for topic, subs := range h.subscriptions {
		if subs[client] {
			h.removeSubscription(client, topic)
		}
	}
}

func (h *Hub) addSubscription(client *Client, topic string) {
	if h.subscriptions[topic] == nil {
		h.subscriptions[topic] = make(map[*Client]bool)
	}
	h.subscriptions[topic][client] = true
}

func (h *Hub) removeSubscription(client *Client, topic string) {
	subs, ok := h.subscriptions[topic]
	if !ok {
		return
	}
	delete(subs, client)
	if len(subs) == 0 {
		delete(h.subscriptions, topic)
	}
}

func (h *Hub) topicsOf(client *Client) []string {
	topics := []string{}
	for topic, subs := range h.subscriptions {
		if subs[client] {
			topics = append(topics, topic)
		}
	}
	sort.Strings(topics)
	return topics
}
