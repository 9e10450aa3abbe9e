package hub

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/event"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// tuning parameters
	writeWait         = 10 * time.Second    // time allowed to write a message to the peer
	pongWait          = 30 * time.Second    // liveness probe interval; a device silent for one interval is evicted
	pingInterval      = (pongWait * 9) / 10 // send pings to the peer with this period
	maxMessageSize    = int64(64 * 1024)    // max inbound frame size (64KB)
	sendBufSize       = 256                 // per-connection outbound buffer size
	sendTimeout       = 2 * time.Second     // timeout for enqueuing outbound events
	registerTimeout   = 5 * time.Second     // timeout for device registration
	unregisterTimeout = 5 * time.Second     // timeout for device unregistration
)

// Transport is the subset of *websocket.Conn the client needs. Kept as an
// interface so liveness and fan-out behavior are testable without sockets.
type Transport interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Client is one authenticated device connection. At most one live Client
// exists per device ID at any instant; the registry enforces that.
type Client struct {
	deviceID  string
	accountID string
	conn      Transport
	hub       *Hub
	egress    chan event.Envelope
	logger    *zap.Logger

	cancel         context.CancelFunc
	ctx            context.Context
	once           sync.Once
	connClosed     chan struct{}
	connClosedOnce sync.Once
	closed         bool
	closedMu       sync.RWMutex

	// set when the read deadline expired, meaning the device missed its
	// liveness probe window
	heartbeatMiss bool
}

func newClient(deviceID, accountID string, conn Transport, h *Hub) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		deviceID:   deviceID,
		accountID:  accountID,
		conn:       conn,
		hub:        h,
		egress:     make(chan event.Envelope, sendBufSize),
		logger:     h.logger,
		cancel:     cancel,
		ctx:        ctx,
		connClosed: make(chan struct{}),
	}
}

// DeviceID returns the device identifier this connection is bound to.
func (c *Client) DeviceID() string { return c.deviceID }

// AccountID returns the owning account.
func (c *Client) AccountID() string { return c.accountID }

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-time.After(unregisterTimeout):
			c.logger.Warn("failed to unregister device: timeout",
				zap.String("device_id", c.deviceID))
		}
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(c.pongHandler)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			var env event.Envelope
			if err := c.conn.ReadJSON(&env); err != nil {
				if websocket.IsCloseError(err,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway,
					websocket.CloseAbnormalClosure,
				) {
					c.logger.Debug("device disconnected",
						zap.String("device_id", c.deviceID))
					return
				}

				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					// missed liveness probe: this is the sole detector of
					// silently-dead connections
					c.heartbeatMiss = true
					c.hub.metrics.HeartbeatEvictions.Inc()
					c.logger.Info("device missed liveness probe, evicting",
						zap.String("device_id", c.deviceID),
						zap.String("account_id", c.accountID))
					return
				}

				c.logger.Debug("read error, closing device connection",
					zap.String("device_id", c.deviceID),
					zap.Error(err))
				return
			}

			c.hub.handleInbound(c, env)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)

	defer func() {
		ticker.Stop()
		c.close()
		_ = c.conn.Close()
		c.connClosedOnce.Do(func() {
			close(c.connClosed)
		})
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
			return
		case env := <-c.egress:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				// write failure is an implicit disconnect; the read pump's
				// deferred unregister runs the presence cascade
				c.logger.Warn("transport write failed",
					zap.String("device_id", c.deviceID),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("liveness probe write failed",
					zap.String("device_id", c.deviceID),
					zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) pongHandler(string) error {
	return c.conn.SetReadDeadline(time.Now().Add(pongWait))
}

// enqueue attempts to hand an event to this device's write pump. Returns
// false if the device is closed or its buffer stayed full past the send
// timeout; callers treat false as a dropped send, never an error.
func (c *Client) enqueue(env event.Envelope) bool {
	if c.isClosed() {
		return false
	}

	select {
	case <-c.ctx.Done():
		return false
	case c.egress <- env:
		return true
	case <-time.After(sendTimeout):
		return false
	}
}

// close tears the client down. The egress channel is never closed; the
// write pump exits on context cancellation and unsent envelopes are
// dropped with the client, so a racing enqueue can never hit a closed
// channel.
func (c *Client) close() {
	c.once.Do(func() {
		c.closedMu.Lock()
		c.closed = true
		c.closedMu.Unlock()

		c.cancel()

		// Wait for the write pump to close the transport, or force it.
		go func() {
			select {
			case <-c.connClosed:
			case <-time.After(5 * time.Second):
				_ = c.conn.Close()
			}
		}()
	})
}

func (c *Client) isClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}
