package serialmux

import (
	"sync"

	"github.com/google/uuid"
)

// subscriberBuffer is the number of lines queued per subscriber before new
// lines are dropped for it.
const subscriberBuffer = 16

// Stats counts traffic through a mux.
type Stats struct {
	LinesRead   uint64 `json:"lines_read"`
	Dropped     uint64 `json:"dropped"`
	Commands    uint64 `json:"commands"`
	Subscribers int    `json:"subscribers"`
}

// fanout is a set of subscriber channels. Once closed, new subscribers get a
// closed channel so readers never block on a mux that is shutting down.
type fanout struct {
	mu     sync.Mutex
	subs   map[string]chan string
	closed bool
	stats  Stats
}

func newFanout() *fanout {
	return &fanout{subs: make(map[string]chan string)}
}

func (f *fanout) add(buffer int) (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, buffer)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return id, ch
	}
	f.subs[id] = ch
	return id, ch
}

func (f *fanout) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		close(ch)
		delete(f.subs, id)
	}
}

// publish delivers line to every subscriber without blocking. It reports
// false once the set is closed.
func (f *fanout) publish(line string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.stats.LinesRead++
	for _, ch := range f.subs {
		select {
		case ch <- line:
		default:
			f.stats.Dropped++
		}
	}
	return true
}

func (f *fanout) countCommand() {
	f.mu.Lock()
	f.stats.Commands++
	f.mu.Unlock()
}

func (f *fanout) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// close releases every subscriber. It reports false if already closed.
func (f *fanout) close() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.closed = true
	for id, ch := range f.subs {
		close(ch)
		delete(f.subs, id)
	}
	return true
}

func (f *fanout) snapshot() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.stats
	s.Subscribers = len(f.subs)
	return s
}
