package websocket

import (
	"encoding/binary"
	"fmt"
)

// CloseCode is the status code carried by a CLOSE frame.
type CloseCode uint16

const (
	CloseOK               CloseCode = 1000
	CloseGoingAway        CloseCode = 1001
	CloseProtocolError    CloseCode = 1002
	CloseDataNotSupported CloseCode = 1003
	CloseNoStatus         CloseCode = 1005
	CloseBadData          CloseCode = 1007
	ClosePolicyViolation  CloseCode = 1008
	CloseTooBig           CloseCode = 1009
	CloseMissingExtension CloseCode = 1010
	CloseBadCondition     CloseCode = 1011
)

var closeCodeNames = map[CloseCode]string{
	CloseOK:               "ok",
	CloseGoingAway:        "going away",
	CloseProtocolError:    "protocol error",
	CloseDataNotSupported: "data not supported",
	CloseNoStatus:         "no status",
	CloseBadData:          "bad data",
	ClosePolicyViolation:  "policy violation",
	CloseTooBig:           "too big",
	CloseMissingExtension: "missing extension",
	CloseBadCondition:     "bad condition",
}

func (c CloseCode) String() string {
	if name, ok := closeCodeNames[c]; ok {
		return fmt.Sprintf("%d (%s)", uint16(c), name)
	}
	return fmt.Sprintf("%d", uint16(c))
}

// ClosePayload encodes a CLOSE frame payload.
func ClosePayload(code CloseCode, reason string) []byte {
	b := binary.BigEndian.AppendUint16(nil, uint16(code))
	b = append(b, reason...)
	if len(b) > MaxControlPayload {
		b = b[:MaxControlPayload]
	}
	return b
}

// ParseClosePayload decodes a CLOSE frame payload. An empty payload means
// no status was given.
func ParseClosePayload(p []byte) (CloseCode, string, error) {
	switch len(p) {
	case 0:
		return CloseNoStatus, "", nil
	case 1:
		return 0, "", fmt.Errorf("%w: 1 byte close payload", ErrProtocol)
	}
	return CloseCode(binary.BigEndian.Uint16(p)), string(p[2:]), nil
}

// CloseError is returned by Recv when the peer closed the connection.
type CloseError struct {
	Code   CloseCode
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("websocket closed by peer: %s", e.Code)
	}
	return fmt.Sprintf("websocket closed by peer: %s: %s", e.Code, e.Reason)
}

// Unwrap makes errors.Is(err, ErrClosed) hold.
func (e *CloseError) Unwrap() error { return ErrClosed }
