package pipe

import "sync/atomic"

// Listener serializes callback dispatch for a connection so a
// callback that itself triggers another read completion (re-entrant
// delivery) is queued rather than invoked recursively, matching
// as_pipe_read_start's pipe_cb_calling guard.
type Listener struct {
	calling atomic.Bool
	pending chan func()
}

// NewListener creates a listener with a modestly sized pending queue;
// callers that need more headroom should size it to their expected
// pipeline depth.
func NewListener(queueDepth int) *Listener {
	if queueDepth < 1 {
		queueDepth = 1
	}
	return &Listener{pending: make(chan func(), queueDepth)}
}

// Dispatch runs fn now if no callback is already executing on this
// listener, otherwise it queues fn to run once the current callback
// (and any it enqueued) has drained.
func (l *Listener) Dispatch(fn func()) {
	if !l.calling.CompareAndSwap(false, true) {
		l.pending <- fn
		return
	}
	fn()
	for {
		select {
		case next := <-l.pending:
			next()
			continue
		default:
		}
		l.calling.Store(false)
		// A concurrent Dispatch may have queued work in the instant
		// between the drain check and clearing calling; reclaim the
		// slot and keep draining if so.
		select {
		case next := <-l.pending:
			if l.calling.CompareAndSwap(false, true) {
				next()
				continue
			}
			next()
		default:
			return
		}
	}
}
