package websocket

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sandy-echo/echo-backend/internal/notify"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer; clients only send small
	// subscription actions
	maxMessageSize = 4 * 1024
)

// clientAction is the message format clients send to subscribe to topics.
// register_sender joins the owner topic, join_thread joins a thread topic.
type clientAction struct {
	Action   string `json:"action"`
	SenderID string `json:"senderId,omitempty"`
	ThreadID string `json:"threadId,omitempty"`
}

// Client represents a single WebSocket connection
type Client struct {
	hub *Hub

	// WebSocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	// Topics this client has subscribed to; owned by the hub loop
	topics map[string]bool

	// closed is set once by the hub when the client unregisters
	closed bool

	// SessionID identifies this connection in logs
	SessionID string
}

// NewClient creates a new Client instance
func NewClient(hub *Hub, conn *websocket.Conn, sessionID string) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, 256),
		topics:    make(map[string]bool),
		SessionID: sessionID,
	}
}

// ReadPump pumps subscription actions from the WebSocket connection to the hub
// This runs in its own goroutine per client
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WebSocket] Read error from %s: %v", c.SessionID, err)
			}
			break
		}

		var action clientAction
		if err := json.Unmarshal(message, &action); err != nil {
			log.Printf("[WebSocket] Bad action from %s: %v", c.SessionID, err)
			continue
		}

		switch action.Action {
		case "register_sender":
			if action.SenderID != "" {
				c.hub.subscribe <- &subscription{client: c, topic: notify.OwnerTopic(action.SenderID)}
			}
		case "join_thread":
			if action.ThreadID != "" {
				c.hub.subscribe <- &subscription{client: c, topic: notify.ThreadTopic(action.ThreadID)}
			}
		default:
			log.Printf("[WebSocket] Unknown action %q from %s", action.Action, c.SessionID)
		}
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
// This runs in its own goroutine per client
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Send each event as a separate WebSocket frame so clients can
			// parse them independently
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Flush any queued events as separate frames
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
