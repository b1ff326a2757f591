// Package serialmux multiplexes the serial line to the I/O co-processor:
// every line the board sends is fanned out to subscribers, and commands from
// any goroutine are written one at a time.
package serialmux

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// ResetCommand asks the co-processor to stop all outputs and forget any
// pending request.
const ResetCommand = "RST"

// SerialMuxInterface is implemented by SerialMux and DisabledSerialMux.
type SerialMuxInterface interface {
	// Subscribe returns a channel of lines read from the port and the id
	// to unsubscribe it with.
	Subscribe() (string, chan string)
	Unsubscribe(string)
	// SendCommand writes one command line.
	SendCommand(string) error
	// Monitor reads lines until ctx is done, the port fails or the mux
	// closes.
	Monitor(context.Context) error
	// Close releases every subscriber and closes the port.
	Close() error
	// Initialise puts the co-processor into a known state.
	Initialise() error
	Stats() Stats
	// AttachAdminRoutes attaches debugging endpoints to the /debug/ mux.
	AttachAdminRoutes(*http.ServeMux)
}

// SerialMux shares one serial port between many readers.
type SerialMux[T SerialPorter] struct {
	port  T
	subs  *fanout
	write sync.Mutex
}

// NewSerialMux creates a SerialMux on an open port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{port: port, subs: newFanout()}
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	return s.subs.add(subscriberBuffer)
}

func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subs.remove(id)
}

// Initialise resets the co-processor so that servos are off and no request
// is outstanding.
func (s *SerialMux[T]) Initialise() error {
	if err := s.SendCommand(ResetCommand); err != nil {
		return errors.Join(errors.New("failed to reset co-processor"), err)
	}
	return nil
}

// SendCommand writes command followed by a newline.
func (s *SerialMux[T]) SendCommand(command string) error {
	line := strings.TrimRight(command, "\r\n") + "\n"

	s.write.Lock()
	defer s.write.Unlock()
	n, err := s.port.Write([]byte(line))
	if err != nil {
		return err
	}
	if n != len(line) {
		return ErrWriteFailed
	}
	s.subs.countCommand()
	return nil
}

// Monitor fans out lines read from the port. It returns nil when the mux is
// closed, ctx.Err() when ctx is done and the read error otherwise.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	// Scan blocks in Read, so it runs apart from the select below.
	go func() {
		defer close(lines)
		scan := bufio.NewScanner(s.port)
		for scan.Scan() {
			select {
			case lines <- strings.TrimRight(scan.Text(), "\r"):
			case <-ctx.Done():
				return
			}
		}
		readErr <- scan.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if s.subs.isClosed() {
					return nil
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				return <-readErr
			}
			if !s.subs.publish(line) {
				return nil
			}
		}
	}
}

// Close releases subscribers and closes the port. Closing twice is a no-op.
func (s *SerialMux[T]) Close() error {
	if !s.subs.close() {
		return nil
	}
	return s.port.Close()
}

// Stats returns traffic counters.
func (s *SerialMux[T]) Stats() Stats {
	return s.subs.snapshot()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, s)
}
