package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/jason-s-yu/kampai/internal/models"
	"github.com/jason-s-yu/kampai/internal/protocol"
	"github.com/sirupsen/logrus"
)

// MessageFunc is called on the client's read goroutine for each decoded frame.
type MessageFunc func(msg protocol.Message)

// Client is a player's single connection to the host. There is no reconnection: once
// Done is closed the client has left the session.
type Client struct {
	Self models.PlayerInfo

	conn   net.Conn
	writer *protocol.Writer
	done   chan struct{}

	mu  sync.Mutex
	err error

	closeOnce sync.Once
	log       *logrus.Entry
}

// Dial connects to the host at addr, sends the Connect frame and starts reading.
func Dial(ctx context.Context, addr string, self models.PlayerInfo, onMessage MessageFunc, log *logrus.Entry) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial host %s: %w", addr, err)
	}

	c := &Client{
		Self:   self,
		conn:   conn,
		writer: protocol.NewWriter(conn),
		done:   make(chan struct{}),
		log:    log.WithFields(logrus.Fields{"component": "network", "host": addr}),
	}
	if err := c.writer.Write(protocol.Connect{Player: self}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send connect: %w", err)
	}
	go c.readLoop(onMessage)
	return c, nil
}

func (c *Client) readLoop(onMessage MessageFunc) {
	reader := protocol.NewReader(c.conn)
	var fatal error
	for {
		msg, err := reader.Read()
		if err != nil {
			if protocol.IsProtocolError(err) {
				c.log.WithError(err).Warn("Dropping bad frame")
				continue
			}
			fatal = err
			break
		}
		if d, ok := msg.(protocol.Disconnect); ok && d.PlayerID == c.Self.ID {
			c.log.WithField("reason", d.Reason).Warn("Host disconnected us")
			fatal = fmt.Errorf("disconnected by host: %s", d.Reason)
			onMessage(msg)
			break
		}
		onMessage(msg)
	}
	if errors.Is(fatal, io.EOF) {
		fatal = errors.New("host closed the connection")
	}
	c.shutdown(fatal)
}

// Send writes one frame to the host.
func (c *Client) Send(msg protocol.Message) error {
	select {
	case <-c.done:
		return c.Err()
	default:
	}
	if err := c.writer.Write(msg); err != nil {
		c.shutdown(err)
		return err
	}
	return nil
}

// Done is closed when the connection to the host is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close leaves the session.
func (c *Client) Close() error {
	c.shutdown(net.ErrClosed)
	return nil
}

func (c *Client) shutdown(reason error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = reason
		c.mu.Unlock()
		_ = c.conn.Close()
		close(c.done)
		c.log.WithError(reason).Info("Connection to host closed")
	})
}
