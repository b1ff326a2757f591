// Package bridge implements hal.Hardware over the serial line to the I/O
// co-processor.
//
// Requests are single lines; the board answers reads with a line starting
// with the same mnemonic and pin, and reports failures with an ERR line.
//
//	AR <pin>                      -> AR <pin> <value>
//	DW <pin> <0|1>
//	PW <pin> <duty>
//	PE <trig> <echo> <timeout_us> -> PE <echo> <micros>
package bridge

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/sumobot/internal/hal"
	"github.com/banshee-data/sumobot/internal/serialmux"
)

// DefaultTimeout bounds the wait for a reply, on top of the measurement time
// of pulse requests.
const DefaultTimeout = 100 * time.Millisecond

var (
	ErrTimeout  = errors.New("co-processor did not reply")
	ErrClosed   = errors.New("serial mux closed")
	ErrBadReply = errors.New("malformed co-processor reply")
)

// DeviceError is an ERR line sent by the co-processor.
type DeviceError struct {
	Request string
	Message string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("co-processor rejected %q: %s", e.Request, e.Message)
}

// Mux is the part of serialmux.SerialMuxInterface the bridge uses.
type Mux interface {
	Subscribe() (string, chan string)
	Unsubscribe(string)
	SendCommand(string) error
}

var _ Mux = (serialmux.SerialMuxInterface)(nil)

// Hardware talks to the co-processor through a serial mux. Requests are
// serialised; only one is outstanding at a time.
type Hardware struct {
	mux     Mux
	timeout time.Duration
	mu      sync.Mutex
}

var _ hal.Hardware = (*Hardware)(nil)

// New creates a Hardware with DefaultTimeout.
func New(mux Mux) *Hardware {
	return &Hardware{mux: mux, timeout: DefaultTimeout}
}

// SetTimeout changes the reply timeout.
func (h *Hardware) SetTimeout(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timeout = d
}

func (h *Hardware) AnalogRead(pin hal.Pin) (int, error) {
	args, err := h.request(fmt.Sprintf("AR %d", pin), fmt.Sprintf("AR %d", pin), 0)
	if err != nil {
		return 0, err
	}
	return atoi(args, 0)
}

func (h *Hardware) DigitalWrite(pin hal.Pin, high bool) error {
	level := 0
	if high {
		level = 1
	}
	return h.send(fmt.Sprintf("DW %d %d", pin, level))
}

func (h *Hardware) PWMWrite(pin hal.Pin, duty int) error {
	return h.send(fmt.Sprintf("PW %d %d", pin, duty))
}

func (h *Hardware) PulseEcho(trigger, echo hal.Pin, timeout time.Duration) (time.Duration, error) {
	req := fmt.Sprintf("PE %d %d %d", trigger, echo, timeout.Microseconds())
	args, err := h.request(req, fmt.Sprintf("PE %d", echo), timeout)
	if err != nil {
		return 0, err
	}
	us, err := atoi(args, 0)
	if err != nil {
		return 0, err
	}
	return time.Duration(us) * time.Microsecond, nil
}

func (h *Hardware) send(line string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.mux.SendCommand(line); err != nil {
		return fmt.Errorf("%s: %w", line, err)
	}
	return nil
}

// request sends line and waits for a reply whose leading fields equal
// prefix, returning the remaining fields.
func (h *Hardware) request(line, prefix string, extra time.Duration) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id, replies := h.mux.Subscribe()
	defer h.mux.Unsubscribe(id)

	if err := h.mux.SendCommand(line); err != nil {
		return nil, fmt.Errorf("%s: %w", line, err)
	}

	want := strings.Fields(prefix)
	timer := time.NewTimer(h.timeout + extra)
	defer timer.Stop()
	for {
		select {
		case reply, ok := <-replies:
			if !ok {
				return nil, ErrClosed
			}
			op, args := serialmux.Fields(reply)
			if op == "ERR" {
				return nil, &DeviceError{Request: line, Message: strings.Join(args, " ")}
			}
			fields := append([]string{op}, args...)
			if matches(fields, want) {
				return fields[len(want):], nil
			}
		case <-timer.C:
			return nil, fmt.Errorf("%s: %w", line, ErrTimeout)
		}
	}
}

func matches(fields, prefix []string) bool {
	if len(fields) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if fields[i] != p {
			return false
		}
	}
	return true
}

func atoi(args []string, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("%w: missing value", ErrBadReply)
	}
	v, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadReply, err)
	}
	return v, nil
}
