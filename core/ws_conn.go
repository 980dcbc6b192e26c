package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a single authenticated websocket connection. The identity resolved
// at handshake time is stamped on every event the connection produces.
type Conn struct {
	conn             *websocket.Conn
	context          context.Context
	identity         Identity
	id               int
	writeStream      chan *Event
	readStream       chan *Event
	notifyDisconnect func()
	ticker           *time.Ticker
	logger           *slog.Logger

	mu     sync.Mutex
	closed bool
}

func (c *Conn) ID() int {
	return c.id
}

func (c *Conn) Identity() Identity {
	return c.identity
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.writeStream)
}

// send queues an event for the connection. Delivery is fire-and-forget: a
// closed connection or a full write buffer drops the event, since a peer that
// slow is about to be disconnected anyway.
func (c *Conn) send(e *Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.writeStream <- e:
		return true
	default:
		return false
	}
}

func (c *Conn) readLoop() {
	defer func() {
		c.notifyDisconnect()
		c.conn.Close()
		c.logger.Debug("read loop stopped")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		format, r, err := c.conn.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug(fmt.Sprintf("expected close: %v", err))
				return
			}
			if websocket.IsUnexpectedCloseError(err) {
				c.logger.Error(fmt.Sprintf("unexpected close: %v", err))
				return
			}
			c.logger.Error(fmt.Sprintf("NextReader: %v", err))
			return
		}

		if format != websocket.TextMessage {
			c.logger.Error(fmt.Sprintf("unexpected message format: %v", format))
			continue
		}

		var event Event
		if err := DecodeEvent(r, &event); err != nil {
			c.logger.Error(err.Error())
			continue
		}
		event.ConnID = c.id
		event.Sender = c.identity

		c.logger.Debug(event.String())

		c.readStream <- &event
	}
}

func (c *Conn) writeLoop() {
	var err error
	defer func() {
		c.ticker.Stop()
		if err != nil {
			c.conn.Close()
		}
		c.logger.Debug("write loop stopped")
	}()

	for {
		select {
		case e, ok := <-c.writeStream:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			w, werr := c.conn.NextWriter(websocket.TextMessage)
			if werr != nil {
				err = werr
				c.logger.Error(fmt.Sprintf("getting next writer: %v", werr))
				return
			}
			if err := EncodeEvent(w, e); err != nil {
				c.logger.Error(err.Error())
			}
			w.Close()
		case <-c.context.Done():
			return
		case <-c.ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err = c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error(fmt.Sprintf("writing ping: %v", err))
				return
			}
		}
	}
}
