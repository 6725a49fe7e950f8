package websocket

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	topic string

	// Buffered channel of outbound messages.
	Send chan []byte
}

// NewClient creates a client subscribed to topic, or to the global topic when topic is empty.
func NewClient(hub *Hub, conn *websocket.Conn, topic string) *Client {
	if topic == "" {
		topic = GlobalTopic
	}
	return &Client{
		hub:   hub,
		conn:  conn,
		topic: topic,
		Send:  make(chan []byte, sendBuffer),
	}
}

// ReadPump handles subscription requests from the client until the connection closes.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Websocket read error")
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg IncomingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(NewErrorMessage("malformed message"))
		return
	}

	switch msg.Action {
	case ActionSubscribe, ActionUnsubscribe:
		var payload SubscriptionPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Collection == "" {
			c.reply(NewErrorMessage("payload must name a collection"))
			return
		}
		if msg.Action == ActionSubscribe {
			c.hub.Subscribe(c, payload.Collection)
		} else {
			c.hub.Unsubscribe(c, payload.Collection)
		}
	default:
		c.reply(NewErrorMessage("unknown action: " + msg.Action))
	}
}

func (c *Client) reply(message []byte) {
	c.hub.Reply(c, message)
}

// WritePump forwards queued messages to the connection and keeps it alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
