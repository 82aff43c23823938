// Package server manages individual WebSocket clients, handling the
// authentication handshake, read/write pumps, rate limiting, and lifecycle
// control for each connection.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/duochat/internal/protocol"
	"github.com/Tyrowin/duochat/internal/session"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one WebSocket connection to a room. It implements
// session.Conn so the relay engine can deliver messages to it.
type Client struct {
	conn    *websocket.Conn
	server  *Server
	handle  string
	addr    string
	limiter *tokenBucket
	logger  *slog.Logger

	// send queues batches of encoded frames; a backlog flush is one batch.
	mu     sync.Mutex
	send   chan [][]byte
	closed bool
	frame  closeFrame

	username  string
	sessionID string
}

func newClient(conn *websocket.Conn, s *Server, handle, addr string) *Client {
	if conn != nil {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}
	return &Client{
		conn:    conn,
		server:  s,
		handle:  handle,
		addr:    addr,
		limiter: newTokenBucket(s.cfg.RateLimit),
		logger:  s.logger.With("addr", addr),
		send:    make(chan [][]byte, s.cfg.SendBuffer),
		frame:   closeNormal,
	}
}

// Send implements session.Conn. It never blocks: a full queue is reported
// as a delivery failure.
func (c *Client) Send(msg session.Message) error {
	payload, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	return c.enqueue([][]byte{payload})
}

// SendBacklog implements session.Conn. The whole backlog occupies a single
// queue slot, so its length is not limited by the send buffer.
func (c *Client) SendBacklog(msgs []session.Message) error {
	batch := make([][]byte, 0, len(msgs))
	for _, msg := range msgs {
		payload, err := encodeMessage(msg)
		if err != nil {
			return err
		}
		batch = append(batch, payload)
	}
	return c.enqueue(batch)
}

func encodeMessage(msg session.Message) ([]byte, error) {
	payload, err := protocol.EncodeDelivery(protocol.Delivery{
		Username:  msg.Username,
		Text:      msg.Text,
		Timestamp: msg.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrDeliveryFailed, err)
	}
	return payload, nil
}

func (c *Client) enqueue(batch [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return session.ErrClosed
	}
	select {
	case c.send <- batch:
		return nil
	default:
		return fmt.Errorf("%w: send buffer full", session.ErrDeliveryFailed)
	}
}

// Close implements session.Conn.
func (c *Client) Close() error {
	c.closeWith(closeNormal)
	return nil
}

// closeWith stops the write pump, which sends frame and closes the socket.
// Only the first call has an effect.
func (c *Client) closeWith(frame closeFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.frame = frame
	close(c.send)
}

// run drives the connection from handshake to disconnect.
func (c *Client) run() {
	c.server.hub.spawn(c.writePump)

	auth, err := c.authenticate()
	if err != nil {
		c.logger.Warn("websocket handshake rejected", "room", c.handle, "error", err)
		c.closeWith(handshakeClose(err))
		return
	}

	sess, err := c.server.engine.Join(c.handle, c, auth.Username)
	if err != nil {
		c.logger.Warn("join failed", "room", c.handle, "username", auth.Username, "error", err)
		c.closeWith(handshakeClose(err))
		return
	}
	c.username = auth.Username
	c.sessionID = sess.ID
	c.logger.Info("user connected", "room", c.handle, "username", c.username, "session", c.sessionID)

	c.readPump()
}

// authenticate reads the handshake frame and checks it against the room.
func (c *Client) authenticate() (protocol.Auth, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.server.cfg.AuthTimeout)); err != nil {
		return protocol.Auth{}, err
	}

	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return protocol.Auth{}, fmt.Errorf("%w: %v", errAuthRequired, err)
	}

	auth, err := protocol.DecodeAuth(raw)
	if err != nil {
		return protocol.Auth{}, err
	}
	if err := c.server.engine.Authenticate(c.handle, auth.Password); err != nil {
		return protocol.Auth{}, err
	}
	return auth, nil
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("set read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *Client) readPump() {
	defer func() {
		c.server.engine.Leave(c.handle, c.sessionID)
		c.closeWith(closeNormal)
		c.logger.Info("user disconnected", "room", c.handle, "username", c.username)
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.limiter.allow() {
			c.logger.Warn("rate limit exceeded; discarding frame",
				"burst", c.server.cfg.RateLimit.Burst, "interval", c.server.cfg.RateLimit.RefillInterval)
			continue
		}

		c.handleFrame(raw)
	}
}

// handleFrame routes one in-session frame. Frames that are not chat
// messages are ignored.
func (c *Client) handleFrame(raw []byte) {
	frame, err := protocol.Decode(raw)
	if err != nil {
		c.logger.Debug("ignoring malformed frame", "error", err)
		return
	}

	switch msg := frame.(type) {
	case protocol.Chat:
		report, err := c.server.engine.Broadcast(c.handle, c.username, msg.Text)
		if err != nil {
			c.logger.Warn("broadcast failed", "room", c.handle, "error", err)
			return
		}
		if len(report.Failed) > 0 {
			c.logger.Warn("broadcast dropped sessions", "room", c.handle, "failed", len(report.Failed))
		}
	case protocol.Unknown:
		c.logger.Debug("ignoring frame", "type", msg.Type)
	}
}

// logReadError logs read failures at a level matching how expected they are.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("frame exceeded maximum size", "limit", c.server.cfg.MaxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.logger.Debug("client closed connection", "error", err)
	case isExpectedCloseError(err):
		c.logger.Debug("connection closed", "error", err)
	default:
		c.logger.Warn("websocket read error", "error", err)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Debug("close connection", "error", err)
		}
	}()

	for {
		select {
		case batch, ok := <-c.send:
			if !ok {
				c.writeClose()
				return
			}
			for _, payload := range batch {
				if !c.write(websocket.TextMessage, payload) {
					return
				}
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) write(messageType int, payload []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.server.cfg.SendTimeout)); err != nil {
		c.logger.Warn("set write deadline", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(messageType, payload); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("websocket write error", "error", err)
		}
		return false
	}
	return true
}

func (c *Client) writeClose() {
	c.mu.Lock()
	frame := c.frame
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(frame.code, frame.reason)
	deadline := time.Now().Add(c.server.cfg.SendTimeout)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("write close frame", "error", err)
	}
}
