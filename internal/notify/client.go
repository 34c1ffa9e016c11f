package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pitabwire/surety/internal/observability"
	"github.com/pitabwire/surety/model"
)

// DefaultConnectTimeout bounds the socket handshake.
const DefaultConnectTimeout = 10 * time.Second

// ClientConfig configures the upstream notification socket.
type ClientConfig struct {
	URL            string
	ConnectTimeout time.Duration
}

// Client is a socket client subscribed to the admin notification room.
// It does not reconnect on its own; callers decide when to Connect again.
type Client struct {
	cfg      ClientConfig
	creds    Credentials
	dialer   *websocket.Dialer
	logger   *zap.Logger
	registry *Registry
	now      func() time.Time

	connected atomic.Bool

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient creates a disconnected client.
func NewClient(cfg ClientConfig, creds Credentials, logger *zap.Logger) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:      cfg,
		creds:    creds,
		dialer:   &websocket.Dialer{Proxy: http.ProxyFromEnvironment},
		logger:   logger,
		registry: NewRegistry(),
		now:      time.Now,
	}
}

// Connect dials the socket with the stored bearer token and joins the admin
// room. Calling Connect while connected is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.connected.Load() {
		return nil
	}

	token, err := c.creds.Token(ctx)
	if err != nil {
		c.logger.Warn("notification socket not connected", zap.Error(err))
		return err
	}
	actor, err := c.creds.Actor(ctx)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := c.dialer.DialContext(dialCtx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.logger.Warn("notification socket connect failed",
			zap.String("url", c.cfg.URL),
			zap.Error(err),
		)
		return fmt.Errorf("dial notification socket: %w", err)
	}

	join, err := json.Marshal(JoinRoom{AdminID: actor.ID, Role: actor.Role})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("marshal join message: %w", err)
	}
	if err := conn.WriteJSON(Frame{Event: EventJoinAdminRoom, Data: join}); err != nil {
		_ = conn.Close()
		c.logger.Warn("join admin room failed", zap.Error(err))
		return fmt.Errorf("join admin room: %w", err)
	}

	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.connected.Store(true)
	c.logger.Info("notification socket connected", zap.String("admin_id", actor.ID))

	go c.readLoop(conn)
	return nil
}

// Disconnect closes the socket and drops every listener. It is a no-op when
// the client was never connected or already disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}

	c.connected.Store(false)
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = conn.Close()
	c.registry.Clear()
	c.logger.Info("notification socket disconnected")
}

// Connected reports whether the socket is currently open.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// On registers fn for notifications of kind.
func (c *Client) On(kind model.NotificationKind, fn Listener) (unsubscribe func()) {
	return c.registry.On(kind, fn)
}

func (c *Client) current(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == conn
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.current(conn) {
				c.connected.Store(false)
				c.logger.Warn("notification socket closed", zap.Error(err))
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Debug("ignoring malformed frame", zap.Error(err))
		return
	}

	if f.Event == EventJoinedAdminRoom {
		c.logger.Info("joined admin room", zap.ByteString("data", f.Data))
		return
	}

	kind, ok := KindForEvent(f.Event)
	if !ok {
		c.logger.Debug("ignoring unknown event", zap.String("event", f.Event))
		return
	}

	p, err := DecodePayload(kind, f.Data)
	if err != nil {
		c.logger.Warn("dropping undecodable event", zap.String("event", f.Event), zap.Error(err))
		return
	}

	n := Describe(p, c.now())
	_, span := observability.StartNotificationSpan(context.Background(), string(kind), n.ID)
	c.registry.Emit(kind, n, p)
	span.End()
}
