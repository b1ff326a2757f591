package websocket

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

// ErrBadHandshake means the server did not accept the upgrade.
var ErrBadHandshake = errors.New("websocket bad handshake")

// DefaultHandshakeTimeout bounds connect plus upgrade when the context has
// no deadline.
const DefaultHandshakeTimeout = 10 * time.Second

const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Options tunes a client connection.
type Options struct {
	// Origin overrides the Origin header, which defaults to http://host:port.
	Origin string
	// Header carries extra request headers.
	Header http.Header
	// HandshakeTimeout applies when ctx has no deadline.
	HandshakeTimeout time.Duration
	// MaxPayload bounds received frames; see DefaultMaxPayload.
	MaxPayload int64
	// FrameTimeout bounds the time to finish a frame once started; see
	// DefaultFrameTimeout.
	FrameTimeout time.Duration
}

// Endpoint is a parsed ws:// URI.
type Endpoint struct {
	Host string
	Port string
	Path string
}

// Addr returns host:port.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, e.Port)
}

// ParseURI parses ws://host[:port][/path[?query]]. The port defaults to 80
// and the path to "/".
func ParseURI(uri string) (Endpoint, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid websocket URI %q: %w", uri, err)
	}
	if u.Scheme != "ws" {
		return Endpoint{}, fmt.Errorf("invalid websocket URI %q: scheme must be ws", uri)
	}
	if u.Hostname() == "" {
		return Endpoint{}, fmt.Errorf("invalid websocket URI %q: missing host", uri)
	}
	e := Endpoint{Host: u.Hostname(), Port: u.Port(), Path: u.RequestURI()}
	if e.Port == "" {
		e.Port = "80"
	}
	if e.Path == "" {
		e.Path = "/"
	}
	return e, nil
}

// Dial connects to a ws:// URI and performs the opening handshake.
func Dial(ctx context.Context, uri string, opts Options) (*Conn, error) {
	ep, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		timeout := opts.HandshakeTimeout
		if timeout <= 0 {
			timeout = DefaultHandshakeTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", ep.Addr(), err)
	}

	br, err := handshake(ctx, nc, ep, opts)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return NewClientConn(nc, br, opts), nil
}

func handshake(ctx context.Context, nc net.Conn, ep Endpoint, opts Options) (*bufio.Reader, error) {
	deadline, _ := ctx.Deadline()
	if err := nc.SetDeadline(deadline); err != nil {
		return nil, err
	}
	// Unblock the exchange below if ctx is cancelled before the deadline.
	stop := context.AfterFunc(ctx, func() { nc.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return nil, fmt.Errorf("generating handshake key: %w", err)
	}
	key := base64.StdEncoding.EncodeToString(raw[:])

	origin := opts.Origin
	if origin == "" {
		origin = "http://" + ep.Addr()
	}

	var req strings.Builder
	fmt.Fprintf(&req, "GET %s HTTP/1.1\r\n", ep.Path)
	fmt.Fprintf(&req, "Host: %s\r\n", ep.Addr())
	req.WriteString("Upgrade: websocket\r\n")
	req.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&req, "Origin: %s\r\n", origin)
	fmt.Fprintf(&req, "Sec-WebSocket-Key: %s\r\n", key)
	req.WriteString("Sec-WebSocket-Version: 13\r\n")
	for name, values := range opts.Header {
		for _, v := range values {
			fmt.Fprintf(&req, "%s: %s\r\n", name, v)
		}
	}
	req.WriteString("\r\n")
	if _, err := nc.Write([]byte(req.String())); err != nil {
		return nil, fmt.Errorf("sending handshake: %w", err)
	}

	br := bufio.NewReader(nc)
	tp := textproto.NewReader(br)
	status, err := tp.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("%w: reading status line: %w", ErrBadHandshake, err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 101 ") && status != "HTTP/1.1 101" {
		return nil, fmt.Errorf("%w: unexpected status %q", ErrBadHandshake, status)
	}
	hdr, err := tp.ReadMIMEHeader()
	if err != nil {
		return nil, fmt.Errorf("%w: reading headers: %w", ErrBadHandshake, err)
	}
	if got, want := hdr.Get("Sec-WebSocket-Accept"), AcceptKey(key); got != want {
		return nil, fmt.Errorf("%w: Sec-WebSocket-Accept %q, want %q", ErrBadHandshake, got, want)
	}

	if !stop() {
		return nil, fmt.Errorf("%w: %w", ErrBadHandshake, ctx.Err())
	}
	if err := nc.SetDeadline(time.Time{}); err != nil {
		return nil, err
	}
	return br, nil
}

// AcceptKey computes the Sec-WebSocket-Accept value for a handshake key.
func AcceptKey(key string) string {
	h := sha1.Sum([]byte(key + acceptGUID))
	return base64.StdEncoding.EncodeToString(h[:])
}
