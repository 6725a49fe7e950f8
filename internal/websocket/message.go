package websocket

import (
	"github.com/goccy/go-json"

	"github.com/isdelr/winepair-be/internal/models"
)

// Actions exchanged with clients.
const (
	ActionEvent       = "event"
	ActionError       = "error"
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionSubscribed  = "subscribed"
)

// Message defines the structure for outgoing websocket messages.
type Message struct {
	Action  string      `json:"action"`
	Payload interface{} `json:"payload"`
}

// IncomingMessage is a message sent by a client.
type IncomingMessage struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// SubscriptionPayload selects the collection topic of a subscribe or unsubscribe action.
type SubscriptionPayload struct {
	Collection string `json:"collection"`
}

// NewEventMessage wraps an event for delivery.
func NewEventMessage(event models.Event) ([]byte, error) {
	return json.Marshal(Message{Action: ActionEvent, Payload: event})
}

// NewErrorMessage builds an error reply.
func NewErrorMessage(text string) []byte {
	data, _ := json.Marshal(Message{Action: ActionError, Payload: map[string]string{"error": text}})
	return data
}

// NewSubscribedMessage confirms the current topics of a client.
func NewSubscribedMessage(topics []string) []byte {
	data, _ := json.Marshal(Message{Action: ActionSubscribed, Payload: map[string][]string{"topics": topics}})
	return data
}
