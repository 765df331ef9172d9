package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"clicktodial/pkg/app"
	"clicktodial/pkg/bus"

	"github.com/gorilla/websocket"
)

const dialTimeout = 10 * time.Second

// Client is the peer side of the transport. It implements bus.Remote for a
// tab, popup or webview context.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the hub at url and announces hello.
func Dial(ctx context.Context, url string, hello Hello, log *slog.Logger) (*Client, error) {
	if url == "" {
		return nil, errors.New("hub url is required")
	}
	if hello.Context == "" {
		return nil, errors.New("context id is required")
	}
	if log == nil {
		log = slog.Default()
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}
	conn.SetReadLimit(maxFrameSize)

	c := &Client{
		conn: conn,
		log:  log.With("component", "transport.client", "context_id", hello.Context),
		done: make(chan struct{}),
	}
	if err := c.write(frame{Type: frameHello, Hello: &hello}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}

	c.log.Debug("Connected to hub", "url", url)
	return c, nil
}

// DialApp connects a's context to the hub and installs the client as its
// remote.
func DialApp(ctx context.Context, url string, a *app.App, hello Hello, log *slog.Logger) (*Client, error) {
	hello.Context = a.ID()
	hello.Kind = a.Kind().String()

	c, err := Dial(ctx, url, hello, log)
	if err != nil {
		return nil, err
	}

	a.SetRemote(c)
	return c, nil
}

// Send writes an event to the hub.
func (c *Client) Send(event bus.Event) error {
	return c.write(frame{Type: frameEvent, Event: &event})
}

func (c *Client) write(out frame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(out); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Run reads events from the hub and passes them to deliver until ctx ends or
// the connection drops.
func (c *Client) Run(ctx context.Context, deliver func(bus.Event)) error {
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.done:
		}
	}()

	for {
		var in frame
		if err := c.conn.ReadJSON(&in); err != nil {
			if ctx.Err() != nil || c.isClosed() {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrClosed
			}
			return fmt.Errorf("read hub frame: %w", err)
		}
		if in.Type != frameEvent || in.Event == nil {
			continue
		}

		deliver(*in.Event)
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close sends a close frame and drops the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		close(c.done)
		err = c.conn.Close()
	})
	return err
}
