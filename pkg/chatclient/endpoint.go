package chatclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mahaj/dm-relay/pkg/model"
)

const writeWait = 10 * time.Second

var ErrEndpointClosed = errors.New("endpoint closed")

// Endpoint is the client half of the websocket transport. Every frame the
// server sends is forwarded, in order, on Incoming.
type Endpoint struct {
	conn     *websocket.Conn
	incoming chan model.Envelope

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// Dial connects to a gateway websocket URL. A non-empty token authenticates
// during the upgrade; otherwise call Authenticate.
func Dial(ctx context.Context, url, token string) (*Endpoint, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	e := &Endpoint{
		conn:     conn,
		incoming: make(chan model.Envelope, 64),
		done:     make(chan struct{}),
	}
	go e.readLoop()
	return e, nil
}

func (e *Endpoint) readLoop() {
	defer close(e.incoming)
	for {
		var env model.Envelope
		if err := e.conn.ReadJSON(&env); err != nil {
			return
		}
		select {
		case e.incoming <- env:
		case <-e.done:
			return
		}
	}
}

// Incoming is closed once the connection ends.
func (e *Endpoint) Incoming() <-chan model.Envelope {
	return e.incoming
}

func (e *Endpoint) Authenticate(token string) error {
	return e.write(model.Envelope{Type: model.TypeAuthenticate, Token: token})
}

// Send submits a message and returns the ref that any error frame for it
// will carry.
func (e *Endpoint) Send(recipientID, content string) (string, error) {
	ref := uuid.NewString()
	return ref, e.write(model.Envelope{Type: model.TypeSend, RecipientID: recipientID, Content: content, Ref: ref})
}

func (e *Endpoint) write(env model.Envelope) error {
	select {
	case <-e.done:
		return ErrEndpointClosed
	default:
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	_ = e.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return e.conn.WriteJSON(env)
}

// Close sends a close frame and tears the connection down.
func (e *Endpoint) Close() error {
	var err error
	e.once.Do(func() {
		close(e.done)
		e.writeMu.Lock()
		_ = e.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		e.writeMu.Unlock()
		err = e.conn.Close()
	})
	return err
}
