// Package stompws carries a STOMP byte stream over websocket text messages.
package stompws

import (
	"io"
	"sync"
)

// textMessage matches the websocket opcode constant in both gorilla and
// fasthttp websocket packages.
const textMessage = 1

// MessageConn is the subset of a websocket connection the adapter needs.
type MessageConn interface {
	NextReader() (messageType int, r io.Reader, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Conn adapts a MessageConn to io.ReadWriteCloser. Reads span message
// boundaries; each Write becomes one text message.
type Conn struct {
	ws     MessageConn
	rmu    sync.Mutex
	wmu    sync.Mutex
	cur    io.Reader
	once   sync.Once
	closed error
}

func New(ws MessageConn) *Conn {
	return &Conn{ws: ws}
}

func (c *Conn) Read(p []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	for {
		if c.cur == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			c.cur = r
		}
		n, err := c.cur.Read(p)
		if err == io.EOF {
			c.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *Conn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.WriteMessage(textMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the websocket once; later calls return the first result.
func (c *Conn) Close() error {
	c.once.Do(func() {
		c.closed = c.ws.Close()
	})
	return c.closed
}
