package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/board-sync/internal/database"
	"github.com/npezzotti/board-sync/internal/stats"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	closeTimeout   = 5 * time.Second
)

// presenceCloser is the per-connection presence handle.
type presenceCloser interface {
	Close(ctx context.Context) error
}

type Client struct {
	conn     *websocket.Conn
	server   *SyncServer
	log      *log.Logger
	stats    stats.StatsProvider
	userId   string
	send     chan *ServerMessage
	subs     *SubscriptionCache
	presence presenceCloser
	ctx      context.Context
	cancel   context.CancelFunc
	pending  sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(userId string, conn *websocket.Conn, ss *SyncServer, l *log.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		conn:   conn,
		server: ss,
		log:    l,
		stats:  ss.stats,
		userId: userId,
		send:   make(chan *ServerMessage, 256),
		subs:   NewSubscriptionCache(),
		ctx:    ctx,
		cancel: cancel,
		stop:   make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(""))
			continue
		}

		c.dispatch(&msg)
	}
}

// dispatch runs every request on its own goroutine so a slow collection
// never holds up the read loop. Unsubscribes run inline.
func (c *Client) dispatch(msg *ClientMessage) {
	switch msg.Type {
	case TypePost, TypeGet, TypeDel:
		c.pending.Add(1)
		go func() {
			defer c.pending.Done()
			c.queueMessage(c.server.router.Handle(c.ctx, c.userId, msg))
		}()
	case TypeSub:
		c.pending.Add(1)
		go func() {
			defer c.pending.Done()
			c.subscribe(msg)
		}()
	case TypeUnsub:
		c.unsubscribe(msg)
	default:
		c.queueMessage(ErrInvalidMessage(msg.MsgId))
	}
}

func (c *Client) subscribe(msg *ClientMessage) {
	sub, resp := c.server.router.Subscribe(c.ctx, c.userId, msg)
	if sub != nil {
		c.cacheSubscription(msg.MsgId, sub)
	}
	c.queueMessage(resp)
}

func (c *Client) cacheSubscription(msgId string, sub database.Subscription) {
	prev, ok := c.subs.Add(msgId, sub)
	if !ok {
		return
	}
	if prev != nil {
		prev.Close()
	} else if c.stats != nil {
		c.stats.Incr(stats.ActiveSubscriptions)
	}

	go c.forward(msgId, sub)
}

// forward relays events until the subscription closes or is removed from
// the cache.
func (c *Client) forward(msgId string, sub database.Subscription) {
	for ev := range sub.Events() {
		active := c.subs.WithActive(msgId, sub, func() {
			c.queueMessage(NewEvent(msgId, ev))
		})
		if !active {
			return
		}
	}
}

func (c *Client) unsubscribe(msg *ClientMessage) {
	body, err := msg.requestBody()
	if err != nil || body.SubId == "" {
		c.queueMessage(ErrFailed(msg, MsgBadRequest))
		return
	}

	if c.subs.Delete(body.SubId) && c.stats != nil {
		c.stats.Decr(stats.ActiveSubscriptions)
	}

	c.queueMessage(NoErrOK(msg, nil))
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// cleanup releases everything the connection holds: in-flight requests are
// cancelled, every subscription is closed and the presence socket is
// removed before the client deregisters.
func (c *Client) cleanup() {
	c.cancel()
	c.pending.Wait()

	if n := c.subs.Clear(); n > 0 && c.stats != nil {
		for range n {
			c.stats.Decr(stats.ActiveSubscriptions)
		}
	}

	if c.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := c.presence.Close(ctx); err != nil {
			c.log.Printf("close presence for user %q: %v", c.userId, err)
		}
		cancel()
	}

	c.server.deregister(c)
	c.stopClient()
}
