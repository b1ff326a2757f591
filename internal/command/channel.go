package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/sumobot/internal/monitoring"
	"github.com/banshee-data/sumobot/internal/robot"
	"github.com/banshee-data/sumobot/internal/timeutil"
	"github.com/banshee-data/sumobot/internal/websocket"
)

const (
	// DefaultRecvTimeout bounds each receive so shutdown is noticed.
	DefaultRecvTimeout = time.Second
	// DefaultMaxReconnects is the number of re-handshakes attempted after
	// the transport is lost.
	DefaultMaxReconnects = 3
	// DefaultBackoff is the delay before the first re-handshake. It doubles
	// on each further attempt.
	DefaultBackoff = 500 * time.Millisecond
	// DefaultRestartDelay is the pause Supervise takes between runs.
	DefaultRestartDelay = 5 * time.Second
)

// ErrTransportLost is returned by Run when the connection could not be
// re-established.
var ErrTransportLost = errors.New("transport lost")

// errPeerGone reports that the relay has no browser on the other end.
var errPeerGone = errors.New("relay reported peer gone")

// DefaultURI is the relay endpoint for robot id on server.
func DefaultURI(server, id string) string {
	return fmt.Sprintf("ws://%s/p2p/sumo-%s/browser/", server, id)
}

// Conn is the subset of *websocket.Conn the channel uses.
type Conn interface {
	Recv(timeout time.Duration) (websocket.Message, error)
	SendText(s string) error
	Close(code websocket.CloseCode, reason string) error
}

// DialFunc opens a connection.
type DialFunc func(ctx context.Context) (Conn, error)

// WebSocketDialer returns a DialFunc for uri.
func WebSocketDialer(uri string, opts websocket.Options) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		conn, err := websocket.Dial(ctx, uri, opts)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// ChannelConfig configures a Channel.
type ChannelConfig struct {
	Dial       DialFunc
	Dispatcher *Dispatcher
	Robot      *robot.Robot
	Clock      timeutil.Clock

	RecvTimeout   time.Duration
	MaxReconnects int
	Backoff       time.Duration
	RestartDelay  time.Duration

	Logf func(format string, args ...interface{})
}

// Channel is the command receive loop.
type Channel struct {
	dial          DialFunc
	dispatcher    *Dispatcher
	robot         *robot.Robot
	clock         timeutil.Clock
	recvTimeout   time.Duration
	maxReconnects int
	backoff       time.Duration
	restartDelay  time.Duration
	logf          func(format string, args ...interface{})
}

// NewChannel creates a Channel, applying defaults to unset fields.
func NewChannel(cfg ChannelConfig) *Channel {
	c := &Channel{
		dial:          cfg.Dial,
		dispatcher:    cfg.Dispatcher,
		robot:         cfg.Robot,
		clock:         cfg.Clock,
		recvTimeout:   cfg.RecvTimeout,
		maxReconnects: cfg.MaxReconnects,
		backoff:       cfg.Backoff,
		restartDelay:  cfg.RestartDelay,
		logf:          monitoring.Or(cfg.Logf),
	}
	if c.clock == nil {
		c.clock = timeutil.RealClock{}
	}
	if c.recvTimeout <= 0 {
		c.recvTimeout = DefaultRecvTimeout
	}
	if c.maxReconnects <= 0 {
		c.maxReconnects = DefaultMaxReconnects
	}
	if c.backoff <= 0 {
		c.backoff = DefaultBackoff
	}
	if c.restartDelay <= 0 {
		c.restartDelay = DefaultRestartDelay
	}
	return c
}

// Run connects and serves commands until ctx is done, which returns nil.
// When the transport fails the robot is stopped and up to MaxReconnects
// re-handshakes are attempted; if none succeeds Run returns
// ErrTransportLost.
func (c *Channel) Run(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrTransportLost, err)
	}

	for {
		session := uuid.NewString()
		c.logf("command: session %s connected", session)
		c.setStatus(true)

		err := c.serve(ctx, conn)
		c.setStatus(false)
		if ctx.Err() != nil {
			_ = conn.Close(websocket.CloseGoingAway, "shutting down")
			c.logf("command: session %s closed", session)
			return nil
		}

		c.logf("command: session %s lost: %v", session, err)
		c.failSafe()
		_ = conn.Close(websocket.CloseProtocolError, "")

		conn, err = c.reconnect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Supervise runs Run repeatedly, pausing RestartDelay between runs, until
// ctx is done.
func (c *Channel) Supervise(ctx context.Context) error {
	for {
		err := c.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.logf("command: channel stopped: %v; restarting in %v", err, c.restartDelay)
		select {
		case <-ctx.Done():
			return nil
		case <-c.clock.After(c.restartDelay):
		}
	}
}

// serve receives and answers commands until the transport fails or ctx is
// done.
func (c *Channel) serve(ctx context.Context, conn Conn) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close(websocket.CloseGoingAway, "shutting down")
	})
	defer stop()

	for {
		msg, err := conn.Recv(c.recvTimeout)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, websocket.ErrTimeout) {
			continue
		}
		if err != nil {
			return err
		}

		payload := bytes.TrimSpace(msg.Payload)
		if len(payload) == 0 {
			continue
		}
		if isGone(payload) {
			return errPeerGone
		}
		reply := c.dispatcher.HandleJSON(payload)
		if err := conn.SendText(string(reply)); err != nil {
			return fmt.Errorf("send reply: %w", err)
		}
	}
}

func (c *Channel) reconnect(ctx context.Context) (Conn, error) {
	delay := c.backoff
	var lastErr error
	for attempt := 1; attempt <= c.maxReconnects; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.clock.After(delay):
		}
		conn, err := c.dial(ctx)
		if err == nil {
			c.logf("command: reconnected after %d attempt(s)", attempt)
			return conn, nil
		}
		lastErr = err
		c.logf("command: reconnect attempt %d/%d failed: %v", attempt, c.maxReconnects, err)
		delay *= 2
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrTransportLost, c.maxReconnects, lastErr)
}

// failSafe stops the robot when the operator can no longer reach it.
func (c *Channel) failSafe() {
	if err := c.robot.Stop(); err != nil {
		c.logf("command: fail-safe stop failed: %v", err)
	}
}

func (c *Channel) setStatus(on bool) {
	if err := c.robot.HAL.SetStatusLED(on); err != nil {
		c.logf("command: status LED: %v", err)
	}
}

func isGone(payload []byte) bool {
	return bytes.Equal(payload, []byte("Gone")) || bytes.HasSuffix(payload, []byte(" Gone"))
}
