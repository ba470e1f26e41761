package task

import "sync/atomic"

// Waker is the signal-coalescing notifier shared by every future a worker
// polls. However many wake calls race against one generation, at most one
// signal lands on the channel; the worker consumes it, installs a fresh
// generation and polls once.
type Waker struct {
	ch   chan struct{}
	sent *atomic.Bool
}

// newWakerChan allocates the channel backing every waker generation of one
// worker. Capacity 1: a pending signal plus the coalescing guard means a
// second slot could never be filled.
func newWakerChan() chan struct{} {
	return make(chan struct{}, 1)
}

// newWaker arms a fresh generation over the worker's channel.
func newWaker(ch chan struct{}) *Waker {
	return &Waker{ch: ch, sent: new(atomic.Bool)}
}

// Wake requests a re-poll. The first call of a generation enqueues the
// signal; the rest are silent. Safe from any goroutine; never blocks.
func (w *Waker) Wake() {
	if w.sent.CompareAndSwap(false, true) {
		select {
		case w.ch <- struct{}{}:
		default:
			// A previous generation's signal is still unconsumed; the worker
			// will poll anyway.
		}
	}
}
