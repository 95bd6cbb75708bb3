package session

import (
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/gorilla/websocket"
)

var errClosed = errors.New("use of closed connection")

// pipeConn is an in-memory Conn. Frames written by the server arrive on out,
// frames sent by the test are read from in.
type pipeConn struct {
	in  chan []byte
	out chan []byte

	once   sync.Once
	closed chan struct{}

	mu        sync.Mutex
	closeSent bool
	pings     int
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (c *pipeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errClosed
	}
}

func (c *pipeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return errClosed
	default:
	}
	switch messageType {
	case websocket.TextMessage:
		c.out <- append([]byte(nil), data...)
	case websocket.CloseMessage:
		c.mu.Lock()
		c.closeSent = true
		c.mu.Unlock()
	case websocket.PingMessage:
		c.mu.Lock()
		c.pings++
		c.mu.Unlock()
	}
	return nil
}

func (c *pipeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *pipeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *pipeConn) SetReadLimit(int64)               {}
func (c *pipeConn) SetPongHandler(func(string) error) {}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
