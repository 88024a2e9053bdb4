package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"tradiehub/internal/logger"
	"tradiehub/internal/participant"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 16 * 1024           // Maximum frame size allowed from peer.
	sendTimeout    = 10 * time.Second
)

// SendFunc posts a message typed by the connected participant.
type SendFunc func(ctx context.Context, msg *WSMessage) (*SendMessageResponse, error)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	Hub         *Hub
	Conn        *websocket.Conn
	Send        chan []byte
	Participant participant.Participant
	send        SendFunc
	replies     chan []byte // acknowledgements for this client only; never closed
}

type clientFrame struct {
	Type      string `json:"type"`
	ThreadID  string `json:"thread_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func NewClient(hub *Hub, conn *websocket.Conn, p participant.Participant, send SendFunc) *Client {
	return &Client{
		Hub:         hub,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Participant: p,
		send:        send,
		replies:     make(chan []byte, 16),
	}
}

// ReadPump reads frames from the connection and posts them as messages.
// Results come back to this client only; the message itself arrives
// through the hub like any other.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.leave(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket closed unexpectedly", "participant", c.Participant.String(), "error", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(clientFrame{Type: "error", Error: "invalid message frame"})
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		res, err := c.send(ctx, &msg)
		cancel()
		if err != nil {
			c.reply(clientFrame{Type: "error", Error: err.Error()})
			continue
		}
		c.reply(clientFrame{Type: "sent", ThreadID: res.ThreadID, MessageID: res.MessageID})
	}
}

// reply queues a frame for this client without blocking the read loop.
func (c *Client) reply(f clientFrame) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	select {
	case c.replies <- b:
	default:
	}
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The Hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Flush anything already queued in the same frame.
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case reply := <-c.replies:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
