package serialmux

import (
	"context"
	"strings"
)

// LogEvents logs every line from the co-processor that is not a reply to a
// request, until ctx is done or the mux closes.
func LogEvents(ctx context.Context, mux SerialMuxInterface, logf func(format string, args ...interface{})) {
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			HandleEvent(line, logf)
		}
	}
}

// HandleEvent logs a single unsolicited line.
func HandleEvent(line string, logf func(format string, args ...interface{})) {
	switch ClassifyLine(line) {
	case LineTypeReply:
	case LineTypeError:
		logf("serial: co-processor error: %s", strings.TrimSpace(strings.TrimPrefix(line, "ERR")))
	case LineTypeLog:
		logf("serial: %s", strings.TrimSpace(strings.TrimPrefix(line, "LOG")))
	default:
		logf("serial: unknown line: %q", line)
	}
}
