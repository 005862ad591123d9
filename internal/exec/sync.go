package exec

import "sync/atomic"

// SyncTask is one node's unit of work on the synchronous path.
type SyncTask struct {
	Command *Command
	Run     func(*Command) error
}

// ExecuteSync drives tasks per spec.md §4.D's synchronous mode.
//
// When concurrent is true and more than one task is given, each task
// is submitted to pool and the caller waits for every submitted task's
// completion, keeping only the first error (atomic "first error wins",
// spec.md §9's compare-and-swap design note). A task that fails to
// enqueue shrinks the expected-completion count to the number actually
// submitted, matching as_batch_keys_execute's "Reset node count to
// threads that were run."
//
// Otherwise tasks run sequentially on the caller's goroutine and stop
// at the first error.
func ExecuteSync(tasks []SyncTask, pool *WorkerPool, concurrent bool) *Status {
	if concurrent && pool != nil && len(tasks) > 1 {
		return executeConcurrent(tasks, pool)
	}
	return executeSequential(tasks)
}

func executeSequential(tasks []SyncTask) *Status {
	for _, t := range tasks {
		if err := t.Run(t.Command); err != nil {
			return AsStatus(err, StatusClientAbort)
		}
	}
	return nil
}

func executeConcurrent(tasks []SyncTask, pool *WorkerPool) *Status {
	var errSet atomic.Bool
	var first atomic.Pointer[Status]
	completions := make(chan struct{}, len(tasks))

	submitted := 0
	for _, t := range tasks {
		t := t
		ok := pool.TrySubmit(func() {
			if err := t.Run(t.Command); err != nil {
				if errSet.CompareAndSwap(false, true) {
					first.Store(AsStatus(err, StatusClientAbort))
				}
			}
			completions <- struct{}{}
		})
		if !ok {
			if errSet.CompareAndSwap(false, true) {
				first.Store(NewStatus(StatusClientAbort, "failed to enqueue batch worker", nil))
			}
			break
		}
		submitted++
	}

	for i := 0; i < submitted; i++ {
		<-completions
	}

	return first.Load()
}
