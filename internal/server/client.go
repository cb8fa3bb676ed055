// Package server manages individual WebSocket clients, handling read/write
// pumps, throttling, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// connState tracks connection liveness. Transitions are guarded by the
// hub's mutex: open on registration, closing during shutdown, closed once
// the hub removes the entry.
type connState int

const (
	stateOpen connState = iota
	stateClosing
	stateClosed
)

const (
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	pingInterval  = 54 * time.Second
	sendBuffer    = 256
)

// Client is one accepted connection. The origin address is resolved once
// at accept time and never changes; it is the value recorded as the sender
// address for every post on this connection.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	relay          *Relay
	addr           string
	id             string
	state          connState
	maxMessageSize int64
	throttle       *throttle
	log            *slog.Logger
}

// NewClient wires a WebSocket connection into the hub and relay. The send
// channel is buffered so the relay never blocks on a slow reader; a full
// buffer drops the connection instead.
func NewClient(conn *websocket.Conn, hub *Hub, relay *Relay, addr string, cfg Config, log *slog.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:           conn,
		send:           make(chan []byte, sendBuffer),
		hub:            hub,
		relay:          relay,
		addr:           addr,
		id:             uuid.NewString(),
		state:          stateOpen,
		maxMessageSize: cfg.MaxMessageSize,
		throttle:       newThrottle(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		log:            log,
	}
}

// Addr returns the resolved origin address for the connection.
func (c *Client) Addr() string {
	return c.addr
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		c.log.Error("setting initial read deadline", "addr", c.addr, "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			c.log.Error("setting read deadline in pong handler", "addr", c.addr, "error", err)
		}
		return nil
	})
}

// handleReadError logs the reason the read loop is stopping.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("frame exceeded maximum size", "addr", c.addr, "max", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("client disconnected", "addr", c.addr, "session", c.id)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("client connection closed", "addr", c.addr, "session", c.id)
	default:
		c.log.Warn("websocket read error", "addr", c.addr, "error", err)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Error("closing connection in read pump", "addr", c.addr, "error", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.throttle.allow() {
			c.log.Warn("rate limit exceeded, frame discarded", "addr", c.addr)
			continue
		}

		c.relay.HandleFrame(c, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Error("closing connection in write pump", "addr", c.addr, "error", err)
		}
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !c.writeFrame(payload, ok) {
				return
			}
		case <-ticker.C:
			if !c.writeKeepalive() {
				return
			}
		}
	}
}

// writeFrame flushes one queued payload, draining any further payloads
// already buffered so a burst costs a single writer. Returns false when
// the pump should stop.
func (c *Client) writeFrame(payload []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		c.log.Error("setting write deadline", "addr", c.addr, "error", err)
		return false
	}

	if !ok {
		// Hub closed the send channel.
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			c.log.Error("writing close message", "addr", c.addr, "error", err)
		}
		return false
	}

	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.log.Error("creating frame writer", "addr", c.addr, "error", err)
		return false
	}
	if _, err := w.Write(payload); err != nil {
		c.log.Error("writing frame", "addr", c.addr, "error", err)
		return false
	}

	queued := len(c.send)
	for i := 0; i < queued; i++ {
		if _, err := w.Write([]byte{'\n'}); err != nil {
			c.log.Error("writing frame separator", "addr", c.addr, "error", err)
			return false
		}
		if _, err := w.Write(<-c.send); err != nil {
			c.log.Error("writing queued frame", "addr", c.addr, "error", err)
			return false
		}
	}

	if err := w.Close(); err != nil {
		c.log.Error("closing frame writer", "addr", c.addr, "error", err)
		return false
	}
	return true
}

// writeKeepalive sends a transport-level ping so idle connections survive
// the read deadline. Returns false when the pump should stop.
func (c *Client) writeKeepalive() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		c.log.Error("setting keepalive write deadline", "addr", c.addr, "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Error("writing keepalive ping", "addr", c.addr, "error", err)
		}
		return false
	}
	return true
}

// isExpectedCloseError reports whether an error is routine during
// connection teardown and not worth logging at error level.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}
