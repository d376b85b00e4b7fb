package signal

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sfucore/internal/core/domain"
)

// client is one websocket connection. Only writePump writes to conn.
type client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	limiter *rate.Limiter
	logger  *zap.SugaredLogger

	closeOnce sync.Once

	mu     sync.Mutex
	caller *domain.Caller
}

func newClient(id string, conn *websocket.Conn, buffer int, limiter *rate.Limiter, logger *zap.SugaredLogger) *client {
	return &client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
		limiter: limiter,
		logger:  logger,
	}
}

func (c *client) setCaller(caller domain.Caller) (domain.Caller, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.caller
	c.caller = &caller
	if prev == nil {
		return domain.Caller{}, false
	}
	return *prev, true
}

func (c *client) clearCaller() (domain.Caller, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.caller
	c.caller = nil
	if prev == nil {
		return domain.Caller{}, false
	}
	return *prev, true
}

func (c *client) bound() (domain.Caller, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.caller == nil {
		return domain.Caller{}, false
	}
	return *c.caller, true
}

// enqueue hands data to the write pump. A client that cannot keep up is
// disconnected rather than blocking the sender.
func (c *client) enqueue(data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.logger.Warnw("send buffer full, dropping connection", "conn_id", c.id)
		c.close()
	}
}

func (c *client) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *client) writePump(pingInterval, writeTimeout time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debugw("write failed", "conn_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debugw("error sending ping", "conn_id", c.id, "error", err)
				return
			}
		case <-c.done:
			return
		}
	}
}
