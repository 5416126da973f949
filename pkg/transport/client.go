package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mahaj/dm-relay/pkg/model"
	"github.com/mahaj/dm-relay/pkg/router"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Largest frame that is decoded: a full-length message whose every rune
	// is JSON-escaped as a surrogate pair (12 bytes), plus the envelope.
	maxFrameSize = model.MaxContentLength*12 + 4<<10

	// Larger frames are drained and rejected; beyond this the connection is
	// closed with 1009.
	maxReadLimit = 1 << 20

	// Outbound frames buffered per connection before pushes are dropped.
	sendBuffer = 256
)

var (
	ErrClosed       = errors.New("connection closed")
	ErrSlowConsumer = errors.New("outbound buffer full")
)

// Client is a middleman between the websocket connection and the router.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan model.Envelope
	done    chan struct{}
	once    sync.Once
	session *router.Session
	server  *Server
	log     zerolog.Logger
}

func (c *Client) ID() string {
	return c.id
}

// Deliver queues msg for the write pump without blocking.
func (c *Client) Deliver(msg model.Message) error {
	return c.emit(model.Envelope{Type: model.TypeMessage, Message: &msg})
}

func (c *Client) emit(env model.Envelope) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSlowConsumer
	}
}

func (c *Client) emitError(ref string, err error) {
	env := model.Envelope{Type: model.TypeError, Ref: ref, Code: codeFor(err), Error: err.Error()}
	if err := c.emit(env); err != nil {
		c.log.Warn().Err(err).Str("code", string(env.Code)).Msg("Error frame dropped")
	}
}

// Close stops both pumps; the write pump sends a close frame and releases the
// connection. It is safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// readPump pumps frames from the websocket connection to the router. Frames
// are handled one at a time, which keeps a sender's messages in order.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.session.Close()
		c.server.forget(c)
		c.Close()
		c.log.Info().Msg("Client disconnected")
	}()
	c.conn.SetReadLimit(maxReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		data, err := c.readFrame()
		if errors.Is(err, errFrameTooLarge) {
			c.emitError("", err)
			continue
		}
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("Unexpected close error")
			}
			return
		}

		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.emitError("", errBadFrame)
			continue
		}
		c.handle(ctx, env)
	}
}

// readFrame returns the next data frame. A frame over maxFrameSize is read to
// its end and discarded, leaving the connection usable.
func (c *Client) readFrame() ([]byte, error) {
	_, r, err := c.conn.NextReader()
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(r, maxFrameSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) <= maxFrameSize {
		return data, nil
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, err
	}
	c.log.Info().Msg("Oversized frame rejected")
	return nil, errFrameTooLarge
}

func (c *Client) handle(ctx context.Context, env model.Envelope) {
	switch env.Type {
	case model.TypeAuthenticate:
		c.authenticate(env.Token, env.Ref)

	case model.TypeSend:
		sendCtx, cancel := context.WithTimeout(ctx, c.server.sendTimeout)
		defer cancel()
		_, err := c.session.Send(sendCtx, env.RecipientID, env.Content)
		switch {
		case errors.Is(err, router.ErrEchoUndelivered):
			// the peer stopped reading; an error frame would be dropped the
			// same way. Hang up so it reconnects and refetches history.
			c.log.Warn().Err(err).Msg("Evicting slow client")
			c.Close()
		case err != nil:
			c.emitError(env.Ref, err)
		}

	default:
		c.emitError(env.Ref, errBadFrame)
	}
}

func (c *Client) authenticate(token, ref string) {
	userID, err := c.server.verify(token)
	if err != nil {
		c.log.Info().Err(err).Msg("Authentication rejected")
		c.emitError(ref, fmt.Errorf("%w: %w", router.ErrUnauthenticated, err))
		return
	}
	if err := c.session.Authenticate(userID); err != nil {
		c.emitError(ref, err)
		return
	}
	if err := c.emit(model.Envelope{Type: model.TypeAuthenticated, UserID: userID, Ref: ref}); err != nil {
		c.log.Warn().Err(err).Msg("Authentication confirmation dropped")
	}
}

// writePump pumps frames from the send buffer to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.conn.Close()
	}()
	for {
		select {
		case env := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.log.Debug().Err(err).Msg("Write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
