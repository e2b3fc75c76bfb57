package install

import "time"

const (
	eventBuffer = 64
	closeGrace  = 500 * time.Millisecond
)

// notifier decouples progress delivery from execution: events go through a
// buffered channel consumed by one goroutine, and publishing never blocks.
// When the consumer stalls past the buffer, events drop.
type notifier struct {
	events chan Event
	done   chan struct{}
}

func newNotifier(fn func(Event)) *notifier {
	n := &notifier{done: make(chan struct{})}
	if fn == nil {
		close(n.done)
		return n
	}
	n.events = make(chan Event, eventBuffer)
	go func() {
		defer close(n.done)
		for e := range n.events {
			fn(e)
		}
	}()
	return n
}

func (n *notifier) publish(e Event) {
	if n.events == nil {
		return
	}
	select {
	case n.events <- e:
	default:
	}
}

// close stops accepting events and waits briefly for the buffered ones to
// deliver. A consumer stalled past the grace period is abandoned.
func (n *notifier) close() {
	if n.events != nil {
		close(n.events)
	}
	select {
	case <-n.done:
	case <-time.After(closeGrace):
	}
}
