package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 5 * time.Second
	sendBufferSize = 256
)

// Session is one live transport connection owned by a single user.
type Session interface {
	ID() string
	UserID() string
	// Send queues an event without blocking on delivery.
	Send(event string, payload any) error
	Close() error
}

// Conn is a websocket-backed Session. All writes go through one goroutine
// so frames for a user keep the order they were queued in.
type Conn struct {
	id     string
	userID string
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

// NewConn wraps an upgraded websocket and starts its writer.
func NewConn(userID string, ws *websocket.Conn) *Conn {
	c := &Conn{
		id:     uuid.NewString(),
		userID: userID,
		conn:   ws,
		sendCh: make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.userID }

// Socket exposes the underlying websocket for the read loop.
func (c *Conn) Socket() *websocket.Conn { return c.conn }

func (c *Conn) Send(event string, payload any) error {
	data, err := json.Marshal(Envelope{Type: event, Data: payload, Timestamp: time.Now().Unix()})
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case <-c.done:
		return ErrSessionClosed
	default:
	}

	select {
	case c.sendCh <- data:
		return nil
	case <-c.done:
		return ErrSessionClosed
	default:
		return ErrSlowConsumer
	}
}

// Ping writes a control frame; gorilla allows it concurrently with the writer.
func (c *Conn) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *Conn) writeLoop() {
	for {
		select {
		case data := <-c.sendCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close stops the writer and closes the socket once.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Done is closed when the session shuts down.
func (c *Conn) Done() <-chan struct{} { return c.done }
