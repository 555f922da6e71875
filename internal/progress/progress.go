// Package progress carries conversion progress events from a running job to
// any number of subscribers without ever blocking the job.
package progress

import (
	"sync"
	"sync/atomic"
)

// Phases with a fixed meaning. Other phases are free-form text.
const (
	PhaseCompressing = "Compressing output"
	PhaseCompressed  = "Compression complete"
	PhaseFinished    = "Finished"
)

// Event is one progress update.
type Event struct {
	Phase   string  `json:"phase"`
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
	Format  string  `json:"format,omitempty"`
	File    string  `json:"file,omitempty"`
}

// NewEvent builds an Event with Percent derived from current and total,
// clamped to [0, 100]. A zero total gives 0%.
func NewEvent(phase string, current, total int) Event {
	return Event{Phase: phase, Current: current, Total: total, Percent: Percent(current, total)}
}

// WithFormat returns a copy of e tagged with a format.
func (e Event) WithFormat(format string) Event {
	e.Format = format
	return e
}

// WithFile returns a copy of e tagged with an output file.
func (e Event) WithFile(file string) Event {
	e.File = file
	return e
}

// Percent returns current/total as a percentage in [0, 100].
func Percent(current, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(current) / float64(total) * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// Hub fans events from one producer out to subscribers. Publish never blocks:
// when the hub or a subscriber falls behind, events are dropped.
type Hub struct {
	in      chan Event
	done    chan struct{}
	stopped chan struct{}

	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int

	closeOnce sync.Once
	dropped   atomic.Int64
}

// NewHub starts a hub whose queues hold buffer events each.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	h := &Hub{
		in:      make(chan Event, buffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		subs:    make(map[int]chan Event),
		buffer:  buffer,
	}
	go h.run()
	return h
}

// Publish queues an event for delivery. It reports whether the event was queued.
func (h *Hub) Publish(e Event) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.in <- e:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

// Subscribe returns a channel receiving every event published after the call,
// and a function that removes the subscription. The channel is closed by the
// unsubscribe function or when the hub closes.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, h.buffer)
	select {
	case <-h.done:
		close(ch)
		return ch, func() {}
	default:
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Dropped returns the number of events discarded because a queue was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Close stops the hub after delivering queued events and closes every
// subscriber channel.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		<-h.stopped

		h.mu.Lock()
		defer h.mu.Unlock()
		for id, c := range h.subs {
			delete(h.subs, id)
			close(c)
		}
	})
}

func (h *Hub) run() {
	defer close(h.stopped)
	for {
		select {
		case e := <-h.in:
			h.deliver(e)
		case <-h.done:
			for {
				select {
				case e := <-h.in:
					h.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (h *Hub) deliver(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.subs {
		select {
		case c <- e:
		default:
			h.dropped.Add(1)
		}
	}
}
