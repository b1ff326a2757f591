// Package websocket is a small RFC 6455 client: frame codec, opening
// handshake and a connection that answers control frames. Fragmented
// messages and extensions are not supported.
package websocket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Opcode is the frame type.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "CONT"
	case OpText:
		return "TEXT"
	case OpBinary:
		return "BINARY"
	case OpClose:
		return "CLOSE"
	case OpPing:
		return "PING"
	case OpPong:
		return "PONG"
	default:
		return fmt.Sprintf("opcode(%#x)", byte(o))
	}
}

// IsControl reports whether o is a control opcode.
func (o Opcode) IsControl() bool {
	return o&0x8 != 0
}

func (o Opcode) valid() bool {
	switch o {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	}
	return false
}

const (
	finBit  = 0x80
	rsvBits = 0x70
	maskBit = 0x80

	// MaxControlPayload is the largest payload a control frame may carry.
	MaxControlPayload = 125
	// DefaultMaxPayload bounds the payload of a received frame.
	DefaultMaxPayload = 1 << 20
)

var (
	ErrProtocol       = errors.New("websocket protocol error")
	ErrTooBig         = errors.New("websocket frame too big")
	ErrNotImplemented = errors.New("websocket feature not implemented")
)

// Frame is a single WebSocket frame. Payload is always unmasked.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	MaskKey [4]byte
	Payload []byte
}

// ReadFrame reads one frame from r, unmasking the payload. A clean end of
// stream before the first byte is returned as io.EOF; a frame cut short is
// ErrProtocol. Other read errors are returned wrapped so callers can inspect
// them. maxPayload <= 0 selects DefaultMaxPayload.
func ReadFrame(r io.Reader, maxPayload int64) (Frame, error) {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	var f Frame

	var hdr [8]byte
	if n, err := io.ReadFull(r, hdr[:2]); err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return f, io.EOF
		}
		return f, readError("header", err)
	}
	b0, b1 := hdr[0], hdr[1]
	if b0&rsvBits != 0 {
		return f, fmt.Errorf("%w: reserved bits set (%#x)", ErrProtocol, b0&rsvBits)
	}
	f.Fin = b0&finBit != 0
	f.Opcode = Opcode(b0 & 0x0F)
	if !f.Opcode.valid() {
		return f, fmt.Errorf("%w: unknown %s", ErrProtocol, f.Opcode)
	}
	f.Masked = b1&maskBit != 0

	length := uint64(b1 & 0x7F)
	switch length {
	case 126:
		if _, err := io.ReadFull(r, hdr[:2]); err != nil {
			return f, readError("16-bit length", err)
		}
		length = uint64(binary.BigEndian.Uint16(hdr[:2]))
	case 127:
		if _, err := io.ReadFull(r, hdr[:8]); err != nil {
			return f, readError("64-bit length", err)
		}
		length = binary.BigEndian.Uint64(hdr[:8])
		if length&(1<<63) != 0 {
			return f, fmt.Errorf("%w: 64-bit length has the high bit set", ErrProtocol)
		}
	}

	if f.Opcode.IsControl() {
		if length > MaxControlPayload {
			return f, fmt.Errorf("%w: %s payload of %d bytes", ErrProtocol, f.Opcode, length)
		}
		if !f.Fin {
			return f, fmt.Errorf("%w: fragmented %s", ErrProtocol, f.Opcode)
		}
	}
	if length > uint64(maxPayload) {
		return f, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooBig, length, maxPayload)
	}

	if f.Masked {
		if _, err := io.ReadFull(r, f.MaskKey[:]); err != nil {
			return f, readError("mask key", err)
		}
	}

	f.Payload = make([]byte, length)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return f, readError("payload", err)
	}
	if f.Masked {
		maskBytes(f.MaskKey, f.Payload)
	}
	return f, nil
}

func readError(part string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated %s", ErrProtocol, part)
	}
	return fmt.Errorf("reading frame %s: %w", part, err)
}

// AppendFrame appends the wire encoding of f to dst. The payload is masked
// with f.MaskKey when f.Masked is set; f.Payload itself is not modified.
func AppendFrame(dst []byte, f Frame) []byte {
	b0 := byte(f.Opcode) & 0x0F
	if f.Fin {
		b0 |= finBit
	}
	var b1 byte
	if f.Masked {
		b1 = maskBit
	}

	n := len(f.Payload)
	switch {
	case n <= MaxControlPayload:
		dst = append(dst, b0, b1|byte(n))
	case n <= 0xFFFF:
		dst = append(dst, b0, b1|126)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, b0, b1|127)
		dst = binary.BigEndian.AppendUint64(dst, uint64(n))
	}

	if !f.Masked {
		return append(dst, f.Payload...)
	}
	dst = append(dst, f.MaskKey[:]...)
	start := len(dst)
	dst = append(dst, f.Payload...)
	maskBytes(f.MaskKey, dst[start:])
	return dst
}

// WriteFrame writes f to w in a single Write call.
func WriteFrame(w io.Writer, f Frame) error {
	_, err := w.Write(AppendFrame(nil, f))
	return err
}

func maskBytes(key [4]byte, b []byte) {
	for i := range b {
		b[i] ^= key[i&3]
	}
}
