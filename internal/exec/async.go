package exec

import (
	"sync"
	"sync/atomic"
)

// AsyncExecutor tracks one batch_read_async operation's fan-out across
// per-node commands: max (total commands), queued (set to the command
// count at creation and not decremented afterwards), count (completed),
// and a valid flag the first failing command clears (spec.md §4.D).
// The valid flag is only read for diagnostics; response parsers do not
// consult it and keep writing records into their slots.
type AsyncExecutor struct {
	mu      sync.Mutex
	max     int
	queued  int
	count   int
	err     error
	valid   atomic.Bool
	onDone  func(error)
	doneRun atomic.Bool
}

// NewAsyncExecutor starts tracking n commands; onDone fires exactly
// once, when the nth completion is recorded.
func NewAsyncExecutor(n int, onDone func(error)) *AsyncExecutor {
	e := &AsyncExecutor{max: n, queued: n, onDone: onDone}
	e.valid.Store(true)
	return e
}

// Valid reports whether no command has reported an error yet.
func (e *AsyncExecutor) Valid() bool { return e.valid.Load() }

// CommandDone records one command's completion. The first non-nil err
// flips valid to false and is the error the operation ultimately
// reports; later errors are dropped, per spec.md §7's "only the first
// error in a parallel fan-out is reported."
func (e *AsyncExecutor) CommandDone(err error) {
	e.mu.Lock()
	e.count++
	n := e.count
	max := e.max
	if err != nil && e.valid.CompareAndSwap(true, false) {
		e.err = err
	}
	finalErr := e.err
	e.mu.Unlock()

	if n >= max && e.doneRun.CompareAndSwap(false, true) {
		e.onDone(finalErr)
	}
}

// Counts returns a snapshot of (max, queued, count) for diagnostics.
func (e *AsyncExecutor) Counts() (max, queued, count int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.max, e.queued, e.count
}
