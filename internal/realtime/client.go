package realtime

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-chat/backend/internal/event"
	"github.com/aura-chat/backend/pkg/response"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	// WriteWait bounds a single frame write.
	WriteWait     = 10 * time.Second
	MaxFrameBytes = 64 * 1024
)

// SocketOptions configures the WebSocket transport. Zero values use the
// package defaults.
type SocketOptions struct {
	PingInterval  time.Duration
	PongWait      time.Duration
	WriteWait     time.Duration
	MaxFrameBytes int64
	// AllowedOrigins lists browser origins accepted for the upgrade. Empty
	// or "*" accepts any origin.
	AllowedOrigins []string
}

func (o SocketOptions) withDefaults() SocketOptions {
	if o.PingInterval <= 0 {
		o.PingInterval = PingInterval
	}
	if o.PongWait <= 0 {
		o.PongWait = PongWait
	}
	if o.WriteWait <= 0 {
		o.WriteWait = WriteWait
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = MaxFrameBytes
	}
	return o
}

// Client binds one WebSocket connection to a hub session.
type Client struct {
	session *Session
	hub     *Hub
	conn    *websocket.Conn
	opts    SocketOptions
	logger  *zap.Logger
}

// ServeWs handles GET /ws?username=NAME[&after=N]: it reserves the name,
// upgrades, replays history from index N and then runs the client loop.
func ServeWs(hub *Hub, opts SocketOptions, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(opts.AllowedOrigins),
	}

	return func(c *gin.Context) {
		from := -1
		if v := c.Query("after"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				response.BadRequest(c, "after must be a non-negative integer")
				return
			}
			from = n
		}

		session, err := hub.Join(c.Query("username"))
		switch {
		case errors.Is(err, ErrParticipantRequired):
			response.BadRequest(c, "username required")
			return
		case errors.Is(err, ErrParticipantTaken):
			response.Conflict(c, "username already in use")
			return
		case err != nil:
			response.Internal(c, "join failed")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			hub.Leave(session)
			return
		}

		log := logger.With(zap.String("session_id", session.ID()), zap.String("participant", session.Participant()))
		if _, err := hub.Open(c.Request.Context(), session, from); err != nil {
			log.Error("join failed", zap.Error(err))
			msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "history unavailable")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(opts.WriteWait))
			_ = conn.Close()
			return
		}

		client := &Client{
			session: session,
			hub:     hub,
			conn:    conn,
			opts:    opts,
			logger:  log,
		}
		go client.writePump()
		client.readPump(c.Request.Context())
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimSpace(o); o != "" {
			set[o] = true
		}
	}
	return func(r *http.Request) bool {
		if len(set) == 0 || set["*"] {
			return true
		}
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// readPump leaves the hub on exit; writePump then sends the close frame and
// closes the socket.
func (c *Client) readPump(ctx context.Context) {
	defer c.hub.Leave(c.session)

	c.conn.SetReadLimit(c.opts.MaxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.logger.Info("websocket read ended", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))

		if kind != websocket.TextMessage {
			c.logger.Warn("dropping non-text frame", zap.Int("type", kind))
			continue
		}
		e, err := event.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}

		switch e.Kind {
		case event.KindMessage:
			if e.Participant != c.session.Participant() {
				c.logger.Debug("rewriting sender", zap.String("claimed", e.Participant))
			}
			if err := c.session.Send(ctx, e.Body); err != nil {
				if errors.Is(err, ErrSessionClosed) {
					return
				}
				c.logger.Warn("message not published", zap.Error(err))
			}
		case event.KindDisconnected:
			return
		case event.KindConnected:
			// Presence is announced by the hub on join.
		}
	}
}

// writePump is the only writer of data frames. It drains the session in
// delivery order and, once the session is closed, sends the close frame.
func (c *Client) writePump() {
	stop := make(chan struct{})
	defer func() {
		close(stop)
		_ = c.conn.Close()
	}()
	go c.pingLoop(stop)

	for {
		e, err := c.session.Next(context.Background())
		if err != nil {
			reason := c.session.reason
			msg := websocket.FormatCloseMessage(closeCode(reason), reason)
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
			return
		}
		if err := c.write(e); err != nil {
			c.logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

func (c *Client) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-c.session.Done():
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(e event.Event) error {
	data, err := event.Encode(e)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func closeCode(reason string) int {
	switch reason {
	case reasonSlowConsumer:
		return websocket.ClosePolicyViolation
	case reasonShutdown:
		return websocket.CloseGoingAway
	}
	return websocket.CloseNormalClosure
}
