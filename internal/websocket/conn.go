package websocket

import (
	"bufio"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

var (
	// ErrTimeout means no frame started before the receive deadline. The
	// connection is still usable.
	ErrTimeout = errors.New("websocket receive timeout")
	// ErrClosed means the connection has been closed by either side.
	ErrClosed = errors.New("websocket connection closed")
)

// DefaultFrameTimeout bounds how long the rest of a frame may take once its
// first byte has arrived.
const DefaultFrameTimeout = 2 * time.Second

// Message is a complete data frame.
type Message struct {
	Opcode  Opcode
	Payload []byte
}

// Text returns the payload as a string.
func (m Message) Text() string {
	return string(m.Payload)
}

// Conn is a client WebSocket connection. Recv and the Send methods may be
// used from different goroutines; each is serialised with itself.
type Conn struct {
	nc           net.Conn
	br           *bufio.Reader
	maxPayload   int64
	frameTimeout time.Duration

	readMu  sync.Mutex
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	mu        sync.Mutex
	closed    bool
}

// NewClientConn wraps a connection on which the opening handshake has
// already completed. br may hold bytes read past the handshake; nil creates a
// fresh reader.
func NewClientConn(nc net.Conn, br *bufio.Reader, opts Options) *Conn {
	if br == nil {
		br = bufio.NewReader(nc)
	}
	c := &Conn{
		nc:           nc,
		br:           br,
		maxPayload:   opts.MaxPayload,
		frameTimeout: opts.FrameTimeout,
	}
	if c.maxPayload <= 0 {
		c.maxPayload = DefaultMaxPayload
	}
	if c.frameTimeout <= 0 {
		c.frameTimeout = DefaultFrameTimeout
	}
	return c
}

// Recv waits up to timeout for the next data message. PING frames are
// answered and PONG frames dropped while waiting. A CLOSE frame is
// acknowledged and returned as a *CloseError. Fragmented messages yield
// ErrNotImplemented.
func (c *Conn) Recv(timeout time.Duration) (Message, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		if c.isClosed() {
			return Message{}, ErrClosed
		}

		if err := c.nc.SetReadDeadline(deadline); err != nil {
			return Message{}, err
		}
		if _, err := c.br.Peek(1); err != nil {
			if isTimeout(err) {
				return Message{}, ErrTimeout
			}
			if errors.Is(err, io.EOF) {
				c.shutdown()
				return Message{}, fmt.Errorf("%w: %w", ErrClosed, io.EOF)
			}
			return Message{}, err
		}

		// The frame has started; the remainder gets its own budget.
		if err := c.nc.SetReadDeadline(time.Now().Add(c.frameTimeout)); err != nil {
			return Message{}, err
		}
		f, err := ReadFrame(c.br, c.maxPayload)
		if err != nil {
			if isTimeout(err) {
				err = fmt.Errorf("%w: stalled inside a frame: %w", ErrProtocol, err)
			}
			return Message{}, err
		}

		switch f.Opcode {
		case OpPing:
			if err := c.writeFrame(OpPong, f.Payload); err != nil {
				return Message{}, err
			}
			continue
		case OpPong:
			continue
		case OpClose:
			code, reason, perr := ParseClosePayload(f.Payload)
			if perr != nil {
				code = CloseProtocolError
			}
			reply := code
			if reply == CloseNoStatus {
				reply = CloseOK
			}
			// Best effort: the peer may already have gone.
			_ = c.writeFrame(OpClose, ClosePayload(reply, ""))
			c.shutdown()
			return Message{}, &CloseError{Code: code, Reason: reason}
		case OpContinuation:
			return Message{}, fmt.Errorf("%w: continuation frame", ErrNotImplemented)
		}
		if !f.Fin {
			return Message{}, fmt.Errorf("%w: fragmented %s message", ErrNotImplemented, f.Opcode)
		}
		return Message{Opcode: f.Opcode, Payload: f.Payload}, nil
	}
}

// SendText sends a TEXT message.
func (c *Conn) SendText(s string) error {
	return c.writeFrame(OpText, []byte(s))
}

// SendBinary sends a BINARY message.
func (c *Conn) SendBinary(b []byte) error {
	return c.writeFrame(OpBinary, b)
}

// Ping sends a PING control frame.
func (c *Conn) Ping(payload []byte) error {
	if len(payload) > MaxControlPayload {
		return fmt.Errorf("%w: ping payload of %d bytes", ErrTooBig, len(payload))
	}
	return c.writeFrame(OpPing, payload)
}

// writeFrame sends a single final frame masked with a fresh key, as every
// client frame must be.
func (c *Conn) writeFrame(op Opcode, payload []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	f := Frame{Fin: true, Opcode: op, Masked: true, Payload: payload}
	if _, err := rand.Read(f.MaskKey[:]); err != nil {
		return fmt.Errorf("generating mask key: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.nc.SetWriteDeadline(time.Now().Add(c.frameTimeout)); err != nil {
		return err
	}
	return WriteFrame(c.nc, f)
}

// Close sends a CLOSE frame with the given code and closes the connection.
// Calling Close more than once is harmless.
func (c *Conn) Close(code CloseCode, reason string) error {
	if !c.isClosed() {
		_ = c.writeFrame(OpClose, ClosePayload(code, reason))
	}
	c.shutdown()
	return c.closeErr
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.closeErr = c.nc.Close()
	})
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// RemoteAddr returns the server address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
