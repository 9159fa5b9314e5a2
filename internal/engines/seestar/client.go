// Package seestar implements the telescope engine for the ZWO Seestar S50:
// a persistent TCP session speaking the device's line-delimited JSON
// protocol, a background event loop that keeps the session alive, and the
// slew/imaging operations built on top of it.
package seestar

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/unklstewy/seestar-bridge/internal/astro"
	"github.com/unklstewy/seestar-bridge/internal/models"
	"github.com/unklstewy/seestar-bridge/pkg/protocol"
	"go.uber.org/zap"
)

// Config carries the connection and timing parameters for a telescope
// session. Zero values are replaced by the defaults below.
type Config struct {
	Host    string
	Port    int // TCP command port, default 4700
	UDPPort int // UDP discovery port, default 4720

	// DisableDiscovery skips the UDP wake-up datagram. Useful when the
	// device address is known and the extra round trip is unwanted.
	DisableDiscovery bool

	ConnectTimeout   time.Duration // initial TCP dial
	ReconnectTimeout time.Duration // re-dial from the event loop
	SendTimeout      time.Duration // per-command write deadline
	ReceiveTimeout   time.Duration // bounded read in the event loop

	HeartbeatInterval time.Duration // how often staleness is checked
	StaleAfter        time.Duration // silence threshold before probing

	ReconnectDelay       time.Duration // initial backoff between attempts
	MaxReconnectDelay    time.Duration // backoff ceiling
	BackoffFactor        float64
	MaxReconnectFailures int // consecutive failures before giving up

	GotoPollInterval   time.Duration // operation state poll cadence
	GotoTimeout        time.Duration // slew wait ceiling
	CoordProbeInterval time.Duration // coordinate re-probe while slewing
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 4700
	}
	if c.UDPPort == 0 {
		c.UDPPort = 4720
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.ReconnectTimeout == 0 {
		c.ReconnectTimeout = 15 * time.Second
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.ReceiveTimeout == 0 {
		c.ReceiveTimeout = 5 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = 120 * time.Second
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.BackoffFactor == 0 {
		c.BackoffFactor = 1.5
	}
	if c.MaxReconnectFailures == 0 {
		c.MaxReconnectFailures = 10
	}
	if c.GotoPollInterval == 0 {
		c.GotoPollInterval = 2 * time.Second
	}
	if c.GotoTimeout == 0 {
		c.GotoTimeout = 120 * time.Second
	}
	if c.CoordProbeInterval == 0 {
		c.CoordProbeInterval = 10 * time.Second
	}
}

// DialFunc dials the device. Tests substitute an in-memory pipe.
type DialFunc func(ctx context.Context, network, addr string, timeout time.Duration) (net.Conn, error)

func defaultDial(ctx context.Context, network, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{
		Timeout: timeout,
		// The Seestar drops idle sessions silently; OS-level keepalive
		// surfaces dead peers faster than the application heartbeat. Not
		// every platform honors the full config, so failures are tolerated.
		KeepAliveConfig: net.KeepAliveConfig{
			Enable:   true,
			Idle:     30 * time.Second,
			Interval: 10 * time.Second,
			Count:    3,
		},
	}
	return d.DialContext(ctx, network, addr)
}

// Client is a telescope session. All exported methods are safe for
// concurrent use; the wire protocol itself is fire-and-forget, with
// responses and events consumed by the background loop.
type Client struct {
	cfg     Config
	logger  *zap.Logger
	encoder *protocol.Encoder
	ops     *operationTracker
	gate    *astro.Gate
	dial    DialFunc

	// connectMu serializes Connect end to end; c.mu only guards fields and
	// is never held across a dial.
	connectMu sync.Mutex

	mu            sync.Mutex
	conn          net.Conn
	connected     bool
	lastHeartbeat time.Time
	watching      bool
	stopCh        chan struct{}
	loopDone      chan struct{}

	currentTarget string
	status        models.TelescopeStatus
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDialer overrides how the TCP session is established.
func WithDialer(d DialFunc) ClientOption {
	return func(c *Client) { c.dial = d }
}

// NewClient creates a telescope client. The gate may be nil, in which case
// goto requests skip the visibility check entirely.
func NewClient(cfg Config, gate *astro.Gate, logger *zap.Logger, opts ...ClientOption) *Client {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("component", "seestar"))

	c := &Client{
		cfg:     cfg,
		logger:  log,
		encoder: protocol.NewEncoder(),
		ops:     newOperationTracker(log),
		gate:    gate,
		dial:    defaultDial,
		status:  models.StatusDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes the session: a best-effort UDP discovery ping, the TCP
// dial, the background event loop, and two probe commands that confirm the
// device is answering. The returned TelescopeInfo is largely static since
// the protocol exposes no identity query.
func (c *Client) Connect(ctx context.Context) (*models.TelescopeInfo, error) {
	// One session per device: a second concurrent Connect waits here and
	// then sees the connected flag instead of dialing and stacking a
	// second event loop.
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return c.info(), nil
	}
	c.mu.Unlock()

	c.logger.Info("Connecting to telescope",
		zap.String("host", c.cfg.Host),
		zap.Int("port", c.cfg.Port))

	if !c.cfg.DisableDiscovery {
		c.sendDiscovery()
	}

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	conn, err := c.dial(ctx, "tcp", addr, c.cfg.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telescope at %s: %w", addr, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastHeartbeat = time.Now()
	c.status = models.StatusConnected
	c.watching = true
	c.stopCh = make(chan struct{})
	c.loopDone = make(chan struct{})
	stopCh, loopDone := c.stopCh, c.loopDone
	c.mu.Unlock()

	go c.run(stopCh, loopDone)

	// Probe the device so a listener that accepts but never answers is
	// caught here rather than on the first real command.
	if err := c.send("test_connection", nil); err != nil {
		c.Disconnect()
		return nil, fmt.Errorf("connection probe failed: %w", err)
	}
	if err := c.send("scope_get_equ_coord", nil); err != nil {
		c.Disconnect()
		return nil, fmt.Errorf("coordinate probe failed: %w", err)
	}

	c.logger.Info("Connected to telescope", zap.String("addr", addr))
	return c.info(), nil
}

// Disconnect tears down the session and stops the event loop. Safe to call
// repeatedly and on a never-connected client.
func (c *Client) Disconnect() {
	c.mu.Lock()
	watching := c.watching
	c.watching = false
	stopCh, loopDone := c.stopCh, c.loopDone
	c.mu.Unlock()

	if watching {
		close(stopCh)
		select {
		case <-loopDone:
		case <-time.After(3 * time.Second):
			c.logger.Warn("Event loop did not stop in time")
		}
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	wasConnected := c.connected
	c.connected = false
	c.status = models.StatusDisconnected
	c.currentTarget = ""
	c.mu.Unlock()

	c.ops.reset()
	if wasConnected {
		c.logger.Info("Disconnected from telescope")
	}
}

// IsConnected reports whether the session currently has a live socket.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// send encodes and writes one command. The protocol is fire-and-forget:
// success means the bytes left the socket, not that the device accepted the
// command. Any write failure flips the session to disconnected so the event
// loop starts recovery.
func (c *Client) send(method string, params interface{}) error {
	payload, id, err := c.encoder.Encode(method, params)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", method, err)
	}

	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.SendTimeout))
	if _, err := conn.Write(payload); err != nil {
		c.markDisconnected()
		return &TransportError{Op: method, Err: err}
	}

	c.logger.Debug("Sent command", zap.String("method", method), zap.Int64("id", id))
	return nil
}

// receive performs one bounded read. Returns whatever bytes arrived; framing
// is the decoder's job.
func (c *Client) receive() ([]byte, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReceiveTimeout))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if n > 0 {
		return buf[:n], err
	}
	return nil, err
}

// markDisconnected flips the session state without stopping the loop; the
// loop notices and begins reconnecting.
func (c *Client) markDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.connected {
		c.connected = false
		c.status = models.StatusDisconnected
		c.logger.Warn("Connection lost")
	}
}

// reconnect re-dials from the event loop. Uses a shorter timeout than the
// initial connect so a dead device does not stall the loop for long.
func (c *Client) reconnect() bool {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	conn, err := c.dial(context.Background(), "tcp", addr, c.cfg.ReconnectTimeout)
	if err != nil {
		c.logger.Warn("Reconnect attempt failed", zap.Error(err))
		return false
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastHeartbeat = time.Now()
	c.status = models.StatusConnected
	c.mu.Unlock()

	if err := c.send("test_connection", nil); err != nil {
		c.logger.Warn("Reconnect probe failed", zap.Error(err))
		c.markDisconnected()
		return false
	}

	c.logger.Info("Reconnected to telescope", zap.String("addr", addr))
	return true
}

// sendDiscovery fires the UDP discovery datagram the vendor app uses to wake
// the device's command listener. Strictly best-effort.
func (c *Client) sendDiscovery() {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.UDPPort))
	conn, err := net.DialTimeout("udp", addr, 2*time.Second)
	if err != nil {
		c.logger.Debug("UDP discovery dial failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	payload := []byte(`{"id":1,"method":"scan_iscope","params":""}` + protocol.Delimiter)
	if _, err := conn.Write(payload); err != nil {
		c.logger.Debug("UDP discovery send failed", zap.Error(err))
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1024)
	if n, err := conn.Read(buf); err == nil && n > 0 {
		c.logger.Debug("UDP discovery reply", zap.ByteString("reply", buf[:n]))
	}
}

func (c *Client) touchHeartbeat() {
	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()
}

func (c *Client) heartbeatAge() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastHeartbeat)
}

// info builds the device description. The protocol has no identity query;
// the model name is the one thing a Seestar S50 session guarantees.
func (c *Client) info() *models.TelescopeInfo {
	return &models.TelescopeInfo{
		DeviceName:      "Seestar S50",
		FirmwareVersion: "unknown",
		HardwareVersion: "unknown",
		SerialNumber:    "unknown",
		MountType:       "Alt-Az",
	}
}
