package wsbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/bft-labs/lockstep/internal/domain"
)

// Client is the service side of the bus. A Go service replayed as a
// subprocess dials the URL exported in its environment.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Dial connects to url and sends the hello frame.
func Dial(ctx context.Context, url, service string, subscribe []string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsbus: dial %s: %w", url, err)
	}

	c := &Client{conn: conn}
	if err := c.write(Frame{Type: FrameHello, Service: service, Subscribe: subscribe}); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// Receive blocks for the next published input.
func (c *Client) Receive() (domain.Message, error) {
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return domain.Message{}, err
		}
		if f.Type == FrameMsg && f.Message != nil {
			return *f.Message, nil
		}
	}
}

// Send publishes msg as a service output.
func (c *Client) Send(msg domain.Message) error {
	return c.write(Frame{Type: FrameMsg, Message: &msg})
}

func (c *Client) write(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(f)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
