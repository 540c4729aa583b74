// Package client is a Go client for the chat server: it fetches history over
// REST and then follows the room over the WebSocket channel.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-chat/backend/internal/event"
	"github.com/aura-chat/backend/internal/history"
)

var (
	// ErrUsernameRequired is returned when the server rejects a blank name.
	ErrUsernameRequired = errors.New("username required")
	// ErrUsernameTaken is returned when another participant holds the name.
	ErrUsernameTaken = errors.New("username already in use")
	// ErrClosed is returned by Send after Leave.
	ErrClosed = errors.New("client closed")
)

const (
	writeWait = 10 * time.Second
	// leaveWait bounds how long Leave waits for the server's close frame.
	leaveWait = 2 * time.Second
)

// Options configures a Client. Zero values use http.DefaultClient,
// websocket.DefaultDialer and a no-op logger.
type Options struct {
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *zap.Logger
}

// FetchHistory reads GET /history. The returned cursor is the value to pass
// as after when connecting.
func FetchHistory(ctx context.Context, baseURL string, opts Options) ([]event.Event, int, error) {
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/history", nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("fetch history: status %d", resp.StatusCode)
	}

	var events []event.Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, 0, fmt.Errorf("decode history: %w", err)
	}
	cursor := len(events)
	if v := resp.Header.Get(history.HeaderLength); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cursor = n
		}
	}
	return events, cursor, nil
}

// Client is one live connection to the room.
type Client struct {
	username string
	conn     *websocket.Conn
	logger   *zap.Logger

	events chan event.Event
	err    error

	writeMu   sync.Mutex
	closed    bool
	closeOnce sync.Once
	quit      chan struct{}
	readDone  chan struct{}
}

// Dial joins the room as username. A cursor of zero or more replays history
// from that index; a negative cursor replays nothing.
func Dial(ctx context.Context, baseURL, username string, cursor int, opts Options) (*Client, error) {
	u, err := socketURL(baseURL, username, cursor)
	if err != nil {
		return nil, err
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, resp, err := dialer.DialContext(ctx, u, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusBadRequest:
				return nil, ErrUsernameRequired
			case http.StatusConflict:
				return nil, fmt.Errorf("%w: %q", ErrUsernameTaken, username)
			}
		}
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}

	c := &Client{
		username: strings.TrimSpace(username),
		conn:     conn,
		logger:   logger,
		events:   make(chan event.Event, 64),
		quit:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func socketURL(baseURL, username string, cursor int) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := url.Values{}
	q.Set("username", username)
	if cursor >= 0 {
		q.Set("after", strconv.Itoa(cursor))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Username returns the participant name this client joined as.
func (c *Client) Username() string { return c.username }

// Events delivers incoming events in server order. It is closed when the
// connection ends; Err then reports why.
func (c *Client) Events() <-chan event.Event { return c.events }

// Err returns the reason the event stream ended, or nil after a normal close.
// It is only meaningful once Events is closed.
func (c *Client) Err() error {
	<-c.readDone
	return c.err
}

func (c *Client) readLoop() {
	defer func() {
		close(c.events)
		close(c.readDone)
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.err = err
			}
			return
		}
		e, err := event.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed event", zap.Error(err))
			continue
		}
		select {
		case c.events <- e:
		case <-c.quit:
			return
		}
	}
}

// Send publishes body. Empty and whitespace-only bodies are dropped.
func (c *Client) Send(body string) error {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	return c.write(event.Message(c.username, body))
}

func (c *Client) write(e event.Event) error {
	data, err := event.Encode(e)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return ErrClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Leave announces the departure on a best-effort basis, closes the channel
// and waits briefly for the server to finish. Later calls are no-ops.
func (c *Client) Leave() error {
	var err error
	c.closeOnce.Do(func() {
		if werr := c.write(event.Disconnected(c.username)); werr != nil {
			c.logger.Debug("disconnect frame not sent", zap.Error(werr))
		}
		c.writeMu.Lock()
		c.closed = true
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.writeMu.Unlock()
		close(c.quit)

		select {
		case <-c.readDone:
		case <-time.After(leaveWait):
		}
		err = c.conn.Close()
	})
	return err
}
