package collaboration

import (
	"context"
	"log"
	"time"

	"canvas-relay/internal/middleware"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

/*
PER-CONNECTION ACTOR

Each WebSocket is served by two goroutines:
  - ReadPump reads one frame at a time and hands it to the dispatcher, so a
    sender's frames are processed in the order they arrived.
  - WritePump drains the connection's outbox and owns every write.

Nothing else touches the socket. Other connections only ever push frames
onto the outbox, which never blocks.
*/

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxFloodViolations = 1000
)

// ClientConfig bounds the resources of one connection
type ClientConfig struct {
	SendQueueSize     int
	PresenceQueueSize int
	MessagesPerSecond int
	MessageBurst      int
	ReadLimit         int64
}

// Client is the actor behind one WebSocket connection
type Client struct {
	id         string
	conn       *websocket.Conn
	outbox     *Outbox
	gateway    *Gateway
	dispatcher *Dispatcher
	limiter    *rate.Limiter
	readLimit  int64
}

func NewClient(id string, conn *websocket.Conn, gateway *Gateway, dispatcher *Dispatcher, cfg ClientConfig) *Client {
	limit := rate.Inf
	if cfg.MessagesPerSecond > 0 {
		limit = rate.Limit(cfg.MessagesPerSecond)
	}
	burst := cfg.MessageBurst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		id:         id,
		conn:       conn,
		outbox:     NewOutbox(cfg.SendQueueSize, cfg.PresenceQueueSize),
		gateway:    gateway,
		dispatcher: dispatcher,
		limiter:    rate.NewLimiter(limit, burst),
		readLimit:  cfg.ReadLimit,
	}
}

func (c *Client) ID() string {
	return c.id
}

// Deliver queues a frame for the write pump
func (c *Client) Deliver(f Frame) error {
	return c.outbox.Push(f)
}

// Len returns the number of frames waiting for the write pump
func (c *Client) Len() int {
	return c.outbox.Len()
}

// Dropped returns how many cursor frames this connection shed
func (c *Client) Dropped() uint64 {
	return c.outbox.Dropped()
}

// Close stops the write pump; queued frames are discarded
func (c *Client) Close() {
	c.outbox.Close()
}

// ReadPump reads frames until the socket fails, then disconnects the client
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.gateway.Disconnect(ctx, c.id)
		c.conn.Close()
	}()

	if c.readLimit > 0 {
		c.conn.SetReadLimit(c.readLimit)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.gateway.Touch(c.id)
		return nil
	})

	violations := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error on connection %s: %v", c.id, err)
			}
			return
		}

		c.gateway.Touch(c.id)

		if !c.limiter.Allow() {
			violations++
			if violations%100 == 1 {
				log.Printf("⚠️  Rate limit exceeded for connection %s (warning #%d)", c.id, violations)
			}
			if violations > maxFloodViolations {
				log.Printf("🛑 Disconnecting connection %s for excessive rate limit violations", c.id)
				return
			}
			continue
		}

		msgCtx, span := middleware.StartSpan(ctx, "WebSocket.ProcessMessage",
			attribute.String("connection.id", c.id),
			attribute.Int("message.size", len(message)),
		)
		c.dispatcher.Dispatch(msgCtx, c.id, message)
		span.End()
	}
}

// WritePump writes queued frames and keepalive pings until the outbox closes
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.outbox.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-c.outbox.Ready():
			for _, f := range c.outbox.Drain() {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, f.Data); err != nil {
					log.Printf("⚠️  Write to connection %s failed: %v", c.id, err)
					go c.gateway.Disconnect(context.Background(), c.id)
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				go c.gateway.Disconnect(context.Background(), c.id)
				return
			}
		}
	}
}
