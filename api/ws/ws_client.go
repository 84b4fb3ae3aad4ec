package ws

import (
	"context"
	"log"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/inkdeck/inkdeck/service"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1024 * 256

	// Rate limiting: 20 messages per second with a burst of 30
	messagesPerSecond = 20
	burstLimit        = 30
)

func NewClient(hub *Hub, conn *websocket.Conn, identity *service.Identity) (*Client, error) {
	connectionId, err := uuid.NewV4()
	if err != nil {
		// Without a unique id the client would collide in the registry
		return nil, err
	}

	return &Client{
		hub:          hub,
		conn:         conn,
		connectionId: connectionId.String(),
		identity:     identity,
		Send:         make(chan []byte, 128),
		limiter:      rate.NewLimiter(rate.Limit(messagesPerSecond), burstLimit),
	}, nil
}

// Client is a middleman between the websocket connection and the hub.
// identity is nil until the first join in trusted-identity mode; in
// token mode it is fixed at upgrade time. Only the hub goroutine touches
// it after construction.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	connectionId string
	identity     *service.Identity
	Send         chan []byte // Buffered channel of outbound messages.
	limiter      *rate.Limiter
}

// ConnectionId is the transport-scoped id ("socketId" on the wire). A
// reconnecting user keeps its userId but always gets a new connection id.
func (c *Client) ConnectionId() string {
	return c.connectionId
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.CloseCh <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WS close error: %v", err)
			}
			break
		}

		if !c.limiter.Allow() {
			log.Printf("Closing connection %s: message rate limit exceeded", c.connectionId)
			break
		}

		c.hub.InboundCh <- inboundFrame{client: c, data: messageBytes}
	}
}

func (c *Client) WritePump(shutdownCtx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WS send error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-shutdownCtx.Done():
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Sync service shutting down"),
			)
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
