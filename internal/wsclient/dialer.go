package wsclient

import (
	"context"

	"github.com/gorilla/websocket"
)

// Conn is one established stream connection.
type Conn interface {
	// ReadMessage blocks until the next message or a connection error.
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer establishes stream connections. Tests substitute scripted dialers.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// GorillaDialer dials real WebSocket connections.
type GorillaDialer struct{}

func (d *GorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &gorillaConn{conn: conn}, nil
}

type gorillaConn struct {
	conn *websocket.Conn
}

func (c *gorillaConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *gorillaConn) Close() error {
	return c.conn.Close()
}
