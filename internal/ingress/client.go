package ingress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrClientClosed = errors.New("event client closed")

// Client is the satellite side of the event stream. Send is safe for
// concurrent use; messages are answered in the order they were sent.
type Client struct {
	logger *slog.Logger
	conn   *websocket.Conn

	mu     sync.Mutex // serializes one request/reply round trip
	stop   chan struct{}
	closed sync.Once
}

type ClientConfig struct {
	Logger *slog.Logger
	// URL of the controller, e.g. ws://ctrl:3370. The /events path is added.
	URL              string
	Node             string
	HandshakeTimeout time.Duration
}

// Dial connects a satellite to the controller.
func Dial(ctx context.Context, config ClientConfig) (*Client, error) {
	if config.Node == "" {
		return nil, fmt.Errorf("node cannot be empty")
	}
	wsURL, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid controller url %q: %w", config.URL, err)
	}
	switch wsURL.Scheme {
	case "http":
		wsURL.Scheme = "ws"
	case "https":
		wsURL.Scheme = "wss"
	}
	wsURL.Path = "/events"
	query := wsURL.Query()
	query.Set("node", config.Node)
	wsURL.RawQuery = query.Encode()

	timeout := config.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	logger := config.Logger.WithGroup("event-client").With("node", config.Node)
	conn, resp, err := dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		if resp != nil {
			logger.Error("websocket dial error with response", "url", wsURL.String(), "status", resp.Status, "error", err)
			return nil, fmt.Errorf("failed to dial websocket %s (status: %s): %w", wsURL.String(), resp.Status, err)
		}
		logger.Error("websocket dial error", "url", wsURL.String(), "error", err)
		return nil, fmt.Errorf("failed to dial websocket %s: %w", wsURL.String(), err)
	}

	c := &Client{
		logger: logger,
		conn:   conn,
		stop:   make(chan struct{}),
	}
	go c.pingLoop()
	logger.Info("connected to controller event stream", "url", wsURL.String())
	return c, nil
}

// Send delivers one message and waits for its reply. A reply with OK false
// is returned as is, the error is reserved for transport failures.
func (c *Client) Send(ctx context.Context, msg Message) (Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.stop:
		return Reply{}, ErrClientClosed
	default:
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(pongWait)
	}
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(msg); err != nil {
		return Reply{}, fmt.Errorf("sending %s event: %w", msg.Event, err)
	}
	c.conn.SetReadDeadline(deadline)
	var reply Reply
	if err := c.conn.ReadJSON(&reply); err != nil {
		return Reply{}, fmt.Errorf("reading reply to %s event: %w", msg.Event, err)
	}
	return reply, nil
}

// Close ends the stream. The controller closes every stream left open.
func (c *Client) Close() error {
	var err error
	c.closed.Do(func() {
		close(c.stop)
		c.mu.Lock()
		defer c.mu.Unlock()
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if werr := c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); werr != nil {
			c.logger.Debug("error sending close message", "error", werr)
		}
		err = c.conn.Close()
	})
	return err
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// WriteControl may run concurrently with Send's writes
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("error sending ping", "error", err)
				return
			}
		case <-c.stop:
			return
		}
	}
}
